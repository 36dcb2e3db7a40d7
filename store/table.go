package store

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// DefaultPartitionKey is the partition key attribute used when a Table does not name one.
const DefaultPartitionKey = "id"

var validate = validator.New(validator.WithRequiredStructEnabled())

// Table describes a key-value table. It is pure configuration and owns no items.
type Table struct {
	// Name is the logical table name, namespaced by the Store unless Verbatim is set.
	Name string `validate:"required"`

	// PartitionKey is the partition key attribute name. Default: "id"
	PartitionKey string

	// SortKey is the optional sort key attribute name.
	SortKey string `validate:"omitempty,nefield=PartitionKey"`

	// Verbatim uses Name as the physical table name without namespacing.
	Verbatim bool
}

// Key addresses a single item. Sort must be set iff the table declares a sort key.
type Key struct {
	Partition string
	Sort      string
}

func (k Key) String() string {
	if k.Sort == "" {
		return k.Partition
	}
	return k.Partition + "/" + k.Sort
}

// partitionKey returns the partition key attribute name, applying the default.
func (t Table) partitionKey() string {
	if t.PartitionKey == "" {
		return DefaultPartitionKey
	}
	return t.PartitionKey
}

// Validate checks the table descriptor.
func (t Table) Validate() error {
	t.PartitionKey = t.partitionKey()
	if err := validate.Struct(t); err != nil {
		return fmt.Errorf("%w: table %q: %v", ErrInvalid, t.Name, err)
	}
	return nil
}

// PK builds the primary key attributes for key.
func (t Table) PK(key Key) PK {
	pk := PK{t.partitionKey(): key.Partition}
	if t.SortKey != "" {
		pk[t.SortKey] = key.Sort
	}
	return pk
}

// checkKey validates key against the table's key schema.
func (t Table) checkKey(op string, key Key) error {
	if key.Partition == "" {
		return validationError(op, "partition key %q is required", t.partitionKey())
	}
	if t.SortKey != "" && key.Sort == "" {
		return validationError(op, "sort key %q is required for table %s", t.SortKey, t.Name)
	}
	if t.SortKey == "" && key.Sort != "" {
		return validationError(op, "table %s does not declare a sort key", t.Name)
	}
	return nil
}

// isKeyAttribute reports whether name is one of the table's key attributes.
func (t Table) isKeyAttribute(name string) bool {
	return name == t.partitionKey() || (t.SortKey != "" && name == t.SortKey)
}

// KeyOf extracts the key of a stored record.
func (t Table) KeyOf(rec Record) (Key, bool) {
	partition, ok := rec[t.partitionKey()].(string)
	if !ok {
		return Key{}, false
	}
	key := Key{Partition: partition}
	if t.SortKey != "" {
		sort, ok := rec[t.SortKey].(string)
		if !ok {
			return Key{}, false
		}
		key.Sort = sort
	}
	return key, true
}
