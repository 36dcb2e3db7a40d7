// Package memstore provides an in-memory store.Backend.
//
// Records are normalised through the DynamoDB attribute value codec on every
// write, so values read back have the same Go types a DynamoDB backend would
// return (numbers as float64, lists as []any, maps as map[string]any).
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"

	"github.com/jacentio/itemstore/store"
)

// Backend is a goroutine-safe in-memory store.Backend.
type Backend struct {
	mu     sync.RWMutex
	tables map[string]map[string]store.Record
	fail   map[string]error
}

var _ store.Backend = (*Backend)(nil)

// New creates an empty Backend.
func New() *Backend {
	return &Backend{
		tables: make(map[string]map[string]store.Record),
		fail:   make(map[string]error),
	}
}

// FailOn makes every subsequent call of operation (e.g. "DeleteItem") return
// err. A nil err clears the injected failure.
func (b *Backend) FailOn(operation string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err == nil {
		delete(b.fail, operation)
		return
	}
	b.fail[operation] = err
}

// Len returns the number of items stored in table.
func (b *Backend) Len(table string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.tables[table])
}

// GetItem returns a copy of the stored record, or nil when absent.
func (b *Backend) GetItem(ctx context.Context, table string, key store.PK) (store.Record, error) {
	if err := b.check(ctx, "GetItem"); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	rec, ok := b.tables[table][keyID(key)]
	if !ok {
		return nil, nil
	}
	return clone(rec), nil
}

// PutItem stores rec under key, evaluating cond atomically with the write.
func (b *Backend) PutItem(ctx context.Context, table string, key store.PK, rec store.Record, cond *store.PutCondition) error {
	if err := b.check(ctx, "PutItem"); err != nil {
		return err
	}
	normalised, err := normalise(rec)
	if err != nil {
		return err
	}
	for attr, value := range key {
		normalised[attr] = value
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	items := b.table(table)
	id := keyID(key)
	if !holds(items[id], cond) {
		return fmt.Errorf("memstore: put %s: %w", id, store.ErrConditionFailed)
	}
	items[id] = normalised
	return nil
}

// UpdateItem applies a partial update, creating the item unless
// update.RequireExists is set.
func (b *Backend) UpdateItem(ctx context.Context, table string, key store.PK, update store.Update) (*store.UpdateResult, error) {
	if err := b.check(ctx, "UpdateItem"); err != nil {
		return nil, err
	}
	set, err := normalise(update.Set)
	if err != nil {
		return nil, err
	}
	setIfMissing, err := normalise(update.SetIfMissing)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	items := b.table(table)
	id := keyID(key)
	old, exists := items[id]
	if !exists && update.RequireExists {
		return nil, fmt.Errorf("memstore: update %s: %w", id, store.ErrConditionFailed)
	}

	updated := make(store.Record, len(old)+len(set)+len(setIfMissing))
	for k, v := range old {
		updated[k] = v
	}
	for attr, value := range key {
		updated[attr] = value
	}
	changed := make(map[string]bool, len(set)+len(setIfMissing))
	for k, v := range set {
		updated[k] = v
		changed[k] = true
	}
	for k, v := range setIfMissing {
		if _, ok := updated[k]; !ok {
			updated[k] = v
		}
		changed[k] = true
	}
	items[id] = updated

	result := &store.UpdateResult{}
	switch update.ReturnValues {
	case store.ReturnAllOld:
		if exists {
			result.Attributes = clone(old)
		}
	case store.ReturnAllNew:
		result.Attributes = clone(updated)
	case store.ReturnUpdatedOld:
		if exists {
			result.Attributes = project(old, changed)
		}
	case store.ReturnUpdatedNew:
		result.Attributes = project(updated, changed)
	}
	return result, nil
}

// DeleteItem removes the item if present.
func (b *Backend) DeleteItem(ctx context.Context, table string, key store.PK) error {
	if err := b.check(ctx, "DeleteItem"); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.tables[table], keyID(key))
	return nil
}

// Scan returns copies of every record matching filter, in key order.
func (b *Backend) Scan(ctx context.Context, table string, filter *store.Filter) ([]store.Record, error) {
	if err := b.check(ctx, "Scan"); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.collect(table, func(rec store.Record) bool {
		return filter.Matches(rec)
	}), nil
}

// Query returns copies of every record whose query.Attribute equals query.Value.
// Indexes are emulated by matching the attribute on the base records.
func (b *Backend) Query(ctx context.Context, table string, query store.Query) ([]store.Record, error) {
	if err := b.check(ctx, "Query"); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.collect(table, func(rec store.Record) bool {
		got, ok := rec[query.Attribute]
		return ok && store.ValuesEqual(got, query.Value) && query.Filter.Matches(rec)
	}), nil
}

func (b *Backend) check(ctx context.Context, operation string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.fail[operation]
}

func (b *Backend) table(name string) map[string]store.Record {
	items, ok := b.tables[name]
	if !ok {
		items = make(map[string]store.Record)
		b.tables[name] = items
	}
	return items
}

func (b *Backend) collect(table string, match func(store.Record) bool) []store.Record {
	items := b.tables[table]
	ids := make([]string, 0, len(items))
	for id := range items {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var recs []store.Record
	for _, id := range ids {
		if rec := items[id]; match(rec) {
			recs = append(recs, clone(rec))
		}
	}
	return recs
}

// holds evaluates a put condition against the stored record, nil when absent.
func holds(existing store.Record, cond *store.PutCondition) bool {
	if cond == nil {
		return true
	}
	if cond.IfNotExists != "" {
		if _, has := existing[cond.IfNotExists]; has {
			return false
		}
	}
	for attr, want := range cond.Expect {
		got, has := existing[attr]
		if !has || !store.ValuesEqual(got, want) {
			return false
		}
	}
	return true
}

// keyID renders a primary key as a stable map key.
func keyID(key store.PK) string {
	attrs := make([]string, 0, len(key))
	for attr := range key {
		attrs = append(attrs, attr)
	}
	sort.Strings(attrs)

	var sb strings.Builder
	for i, attr := range attrs {
		if i > 0 {
			sb.WriteByte(0)
		}
		sb.WriteString(attr)
		sb.WriteByte('=')
		sb.WriteString(key[attr])
	}
	return sb.String()
}

// normalise round-trips rec through the attribute value codec.
func normalise(rec store.Record) (store.Record, error) {
	if len(rec) == 0 {
		return store.Record{}, nil
	}
	av, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal item: %v", store.ErrInvalid, err)
	}
	out := store.Record{}
	if err := attributevalue.UnmarshalMap(av, &out); err != nil {
		return nil, fmt.Errorf("%w: unmarshal item: %v", store.ErrInvalid, err)
	}
	return out, nil
}

func clone(rec store.Record) store.Record {
	out := make(store.Record, len(rec))
	for k, v := range rec {
		out[k] = store.CloneValue(v)
	}
	return out
}

func project(rec store.Record, names map[string]bool) store.Record {
	out := make(store.Record, len(names))
	for name := range names {
		if v, ok := rec[name]; ok {
			out[name] = store.CloneValue(v)
		}
	}
	return out
}
