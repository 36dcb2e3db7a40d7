package store

import (
	"context"
)

// PK represents a primary key: attribute name to string value.
type PK map[string]string

// Record is a stored item as a mapping from attribute name to value.
// Values are strings, numbers, booleans, nil, []any or nested map[string]any.
type Record = map[string]any

// ReturnValues selects the attribute snapshot returned by an update.
type ReturnValues string

const (
	ReturnNone       ReturnValues = ""
	ReturnAllOld     ReturnValues = "ALL_OLD"
	ReturnAllNew     ReturnValues = "ALL_NEW"
	ReturnUpdatedOld ReturnValues = "UPDATED_OLD"
	ReturnUpdatedNew ReturnValues = "UPDATED_NEW"
)

func (r ReturnValues) valid() bool {
	switch r {
	case ReturnNone, ReturnAllOld, ReturnAllNew, ReturnUpdatedOld, ReturnUpdatedNew:
		return true
	}
	return false
}

// PutCondition guards a PutItem.
type PutCondition struct {
	// IfNotExists is an attribute that must be absent on the stored item
	// (i.e. the item must not exist) for the put to succeed.
	IfNotExists string

	// Expect holds attribute values the stored item must carry for the put
	// to succeed. An absent item fails an Expect condition.
	Expect Record
}

// Update describes a partial update applied by a Backend.
type Update struct {
	// Set assigns attributes unconditionally.
	Set Record

	// SetIfMissing assigns attributes only when the stored item lacks them.
	SetIfMissing Record

	// RequireExists makes the update fail with ErrConditionFailed if the item does not exist.
	RequireExists bool

	// ReturnValues selects the snapshot returned in UpdateResult.
	ReturnValues ReturnValues
}

// UpdateResult is returned by Backend.UpdateItem.
type UpdateResult struct {
	// Attributes is the snapshot selected by Update.ReturnValues (nil for ReturnNone).
	Attributes Record
}

// Filter selects items whose Attribute equals any of Values.
type Filter struct {
	Attribute string
	Values    []any
}

// Where builds a filter matching items whose attribute equals any of values.
// A single value (e.g. a string or bool) is the common shorthand.
func Where(attribute string, values ...any) *Filter {
	return &Filter{Attribute: attribute, Values: values}
}

// Matches reports whether rec satisfies the filter. A nil filter matches everything.
func (f *Filter) Matches(rec Record) bool {
	if f == nil {
		return true
	}
	got, ok := rec[f.Attribute]
	if !ok {
		return false
	}
	for _, want := range f.Values {
		if ValuesEqual(got, want) {
			return true
		}
	}
	return false
}

// Query selects items by equality on a partition attribute of the base table or an index.
type Query struct {
	Index     string
	Attribute string
	Value     any
	Filter    *Filter
}

// Backend is the persistent key-value store consumed by Store.
//
// Implementations must evaluate PutCondition and Update.RequireExists
// atomically with the write and wrap ErrConditionFailed when a condition
// does not hold. GetItem returns a nil record without error for absent keys.
// DeleteItem of an absent key is not an error.
type Backend interface {
	GetItem(ctx context.Context, table string, key PK) (Record, error)
	PutItem(ctx context.Context, table string, key PK, rec Record, cond *PutCondition) error
	UpdateItem(ctx context.Context, table string, key PK, update Update) (*UpdateResult, error)
	DeleteItem(ctx context.Context, table string, key PK) error
	Scan(ctx context.Context, table string, filter *Filter) ([]Record, error)
	Query(ctx context.Context, table string, query Query) ([]Record, error)
}

// TableWaiter is implemented by backends that can wait for a table to become available.
type TableWaiter interface {
	WaitForTable(ctx context.Context, table string) error
}
