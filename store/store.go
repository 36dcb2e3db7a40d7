package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/aws/smithy-go"
	"go.uber.org/zap"

	"github.com/jacentio/itemstore/logging"
)

// Store provides keyed item operations over namespaced tables.
//
// A Store holds no mutable state besides its configuration; it is safe for
// concurrent use when its Backend is. It never retries: retry policy belongs
// to the caller.
type Store struct {
	backend Backend
	config  Config
	logger  *zap.Logger
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for operation events.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source used for created and modified.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates a new Store instance.
func New(backend Backend, config Config, opts ...Option) *Store {
	config.validate()
	s := &Store{
		backend: backend,
		config:  config,
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the store configuration.
func (s *Store) Config() Config {
	return s.config
}

// Backend returns the underlying backend.
func (s *Store) Backend() Backend {
	return s.backend
}

// TableName returns the physical table name for t.
func (s *Store) TableName(t Table) string {
	return s.config.TableName(t)
}

// PutInput describes an item write.
type PutInput struct {
	Key Key

	// Type tags the item's logical kind. Default: "ddb_item"
	Type string

	// Details is the caller-defined payload; it must be JSON-serialisable.
	Details map[string]any

	// Attributes are extra top-level attributes (e.g. "country_code").
	Attributes map[string]any

	// UpdateAllowed permits overwriting an existing item. When false the
	// write fails with a conflict if the key already exists.
	UpdateAllowed bool
}

// UpdateInput describes a partial update.
type UpdateInput struct {
	// Values maps attribute names to new values. A "modified" entry is used
	// as the modification timestamp instead of being stored verbatim.
	Values map[string]any

	// Modified overrides the modification timestamp. Default: now
	Modified time.Time

	// ReturnValues selects the snapshot returned by Update.
	ReturnValues ReturnValues
}

// Get retrieves an item by key. A missing item yields (nil, nil).
func (s *Store) Get(ctx context.Context, table Table, key Key) (*Item, error) {
	const op = "get"
	name, err := s.prepare(op, table, key)
	if err != nil {
		return nil, err
	}

	s.logger.Info("dynamodb get",
		zap.String("table_name", name),
		zap.String("key", key.String()),
		logging.Field(ctx),
	)

	rec, err := s.backend.GetItem(ctx, name, table.PK(key))
	if err != nil {
		return nil, s.failure(ctx, op, name, &key, "", err)
	}
	if rec == nil {
		return nil, nil
	}
	return ItemFromRecord(table, rec), nil
}

// GetRequired is like Get but reports a missing item as a not-found error.
func (s *Store) GetRequired(ctx context.Context, table Table, key Key) (*Item, error) {
	item, err := s.Get(ctx, table, key)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, &Error{
			Kind:    KindNotFound,
			Op:      "get",
			Message: "item not found",
			Details: s.details(ctx, "get", s.TableName(table), &key, ""),
		}
	}
	return item, nil
}

// Put writes an item. created is set on the first write only; modified on every write.
//
// Without UpdateAllowed the write is a single conditional put that fails
// atomically when the key exists. With UpdateAllowed the item is replaced in
// full: attributes of the previous version that are not supplied again are
// dropped, and its created value is carried over. The replacement is guarded
// by that created value, so a concurrent rewrite between the read and the
// write surfaces as a store failure; Put never retries.
func (s *Store) Put(ctx context.Context, table Table, in PutInput) error {
	_, err := s.Save(ctx, table, in)
	return err
}

// Save is Put that also reports whether the write created the item rather
// than replacing an existing one.
func (s *Store) Save(ctx context.Context, table Table, in PutInput) (created bool, err error) {
	const op = "put"
	name, err := s.prepare(op, table, in.Key)
	if err != nil {
		return false, err
	}
	if in.Type == "" {
		in.Type = DefaultItemType
	}
	if in.Details == nil {
		in.Details = map[string]any{}
	}
	if err := s.checkAttributes(op, table, in.Attributes, false); err != nil {
		return false, err
	}
	if err := checkSerialisable(op, AttrDetails, in.Details); err != nil {
		return false, err
	}

	now := FormatTimestamp(s.now())
	pk := table.PK(in.Key)
	rec := mergeRecords(in.Attributes, Record{
		AttrType:     in.Type,
		AttrDetails:  in.Details,
		AttrCreated:  now,
		AttrModified: now,
	})
	for attr, value := range pk {
		rec[attr] = value
	}

	s.logger.Info("dynamodb put",
		zap.String("table_name", name),
		zap.String("key", in.Key.String()),
		zap.String("item_type", in.Type),
		zap.Bool("update_allowed", in.UpdateAllowed),
		logging.Field(ctx),
	)

	cond := &PutCondition{IfNotExists: table.partitionKey()}
	created = true
	if in.UpdateAllowed {
		cond, created, err = s.replaceCondition(ctx, name, table, pk, rec)
		if err != nil {
			return false, s.failure(ctx, op, name, &in.Key, in.Type, err)
		}
	}

	err = s.backend.PutItem(ctx, name, pk, rec, cond)
	if errors.Is(err, ErrConditionFailed) && !in.UpdateAllowed {
		return false, &Error{
			Kind:    KindConflict,
			Op:      op,
			Message: "item already exists",
			Code:    errorCode(err),
			Details: s.details(ctx, op, name, &in.Key, in.Type, errorCode(err)),
			Err:     err,
		}
	}
	if err != nil {
		return false, s.failure(ctx, op, name, &in.Key, in.Type, err)
	}
	return created, nil
}

// replaceCondition reads the stored item, carries its created value into rec
// and returns the guard for replacing it. absent reports that no item exists.
func (s *Store) replaceCondition(ctx context.Context, name string, table Table, pk PK, rec Record) (cond *PutCondition, absent bool, err error) {
	existing, err := s.backend.GetItem(ctx, name, pk)
	if err != nil {
		return nil, false, err
	}
	if existing == nil {
		return &PutCondition{IfNotExists: table.partitionKey()}, true, nil
	}
	created, ok := existing[AttrCreated]
	if !ok {
		// Written outside the store; keep the new created, require the item still exists.
		pkName := table.partitionKey()
		return &PutCondition{Expect: Record{pkName: pk[pkName]}}, false, nil
	}
	rec[AttrCreated] = created
	return &PutCondition{Expect: Record{AttrCreated: created}}, false, nil
}

// BatchPut writes items unconditionally, defaulting their type to itemType.
// It stops at the first failure; earlier items remain written.
func (s *Store) BatchPut(ctx context.Context, table Table, itemType string, items []PutInput) error {
	for _, in := range items {
		if in.Type == "" {
			in.Type = itemType
		}
		in.UpdateAllowed = true
		if err := s.Put(ctx, table, in); err != nil {
			return err
		}
	}
	return nil
}

// Update replaces only the named attributes of an existing item and refreshes modified.
// Key attributes and created cannot be updated. Updating a missing item is a not-found error.
func (s *Store) Update(ctx context.Context, table Table, key Key, in UpdateInput) (*UpdateResult, error) {
	const op = "update"
	name, err := s.prepare(op, table, key)
	if err != nil {
		return nil, err
	}

	if !in.ReturnValues.valid() {
		return nil, validationError(op, "unsupported return values %q", string(in.ReturnValues))
	}

	values := make(Record, len(in.Values))
	for k, v := range in.Values {
		values[k] = v
	}

	fallback := s.now()
	if !in.Modified.IsZero() {
		fallback = in.Modified
	}
	modified, ok := timestampValue(values[AttrModified], fallback)
	if !ok {
		return nil, validationError(op, "modified must be a time.Time or RFC3339 timestamp")
	}
	delete(values, AttrModified)

	if err := s.checkAttributes(op, table, values, true); err != nil {
		return nil, err
	}
	values[AttrModified] = modified

	s.logger.Info("dynamodb update",
		zap.String("table_name", name),
		zap.String("key", key.String()),
		zap.Strings("attributes", sortedNames(values)),
		logging.Field(ctx),
	)

	result, err := s.backend.UpdateItem(ctx, name, table.PK(key), Update{
		Set:           values,
		RequireExists: true,
		ReturnValues:  in.ReturnValues,
	})
	if errors.Is(err, ErrConditionFailed) {
		return nil, &Error{
			Kind:    KindNotFound,
			Op:      op,
			Message: "item not found",
			Code:    errorCode(err),
			Details: s.details(ctx, op, name, &key, "", errorCode(err)),
			Err:     err,
		}
	}
	if err != nil {
		return nil, s.failure(ctx, op, name, &key, "", err)
	}
	if result == nil {
		result = &UpdateResult{}
	}
	return result, nil
}

// Scan returns every item matching filter, or every item when filter is nil.
// Ordering is not guaranteed. This reads the whole table.
func (s *Store) Scan(ctx context.Context, table Table, filter *Filter) ([]*Item, error) {
	const op = "scan"
	name, err := s.prepareTable(op, table)
	if err != nil {
		return nil, err
	}
	if err := checkFilter(op, filter); err != nil {
		return nil, err
	}

	fields := []zap.Field{zap.String("table_name", name), logging.Field(ctx)}
	if filter != nil {
		fields = append(fields,
			zap.String("filter_attr_name", filter.Attribute),
			zap.Any("filter_attr_values", filter.Values),
		)
	}
	s.logger.Info("dynamodb scan", fields...)

	recs, err := s.backend.Scan(ctx, name, filter)
	if err != nil {
		return nil, s.failure(ctx, op, name, nil, "", err)
	}

	s.logger.Info("dynamodb scan result",
		zap.Int("count", len(recs)),
		logging.Field(ctx),
	)
	return s.items(table, recs), nil
}

// Query returns the items whose partition attribute (of the table or of
// query.Index) equals query.Value, optionally narrowed by query.Filter.
func (s *Store) Query(ctx context.Context, table Table, query Query) ([]*Item, error) {
	const op = "query"
	name, err := s.prepareTable(op, table)
	if err != nil {
		return nil, err
	}
	if query.Attribute == "" {
		query.Attribute = table.partitionKey()
	}
	if query.Value == nil {
		return nil, validationError(op, "query value for %q is required", query.Attribute)
	}
	if err := checkFilter(op, query.Filter); err != nil {
		return nil, err
	}

	s.logger.Info("dynamodb query",
		zap.String("table_name", name),
		zap.String("index_name", query.Index),
		zap.String("attribute", query.Attribute),
		logging.Field(ctx),
	)

	recs, err := s.backend.Query(ctx, name, query)
	if err != nil {
		return nil, s.failure(ctx, op, name, nil, "", err)
	}
	return s.items(table, recs), nil
}

// Delete removes one item. Deleting a missing key is not an error.
func (s *Store) Delete(ctx context.Context, table Table, key Key) error {
	const op = "delete"
	name, err := s.prepare(op, table, key)
	if err != nil {
		return err
	}

	s.logger.Info("dynamodb delete",
		zap.String("table_name", name),
		zap.String("key", key.String()),
		logging.Field(ctx),
	)

	if err := s.backend.DeleteItem(ctx, name, table.PK(key)); err != nil {
		return s.failure(ctx, op, name, &key, "", err)
	}
	return nil
}

// DeleteAll scans the table and deletes every item it finds, returning the
// number deleted.
//
// DeleteAll is NOT atomic: items are deleted one by one and a failure part
// way through leaves the table partially emptied. The error then reports how
// many items had been deleted. It is intended for test fixture cleanup, not
// for production bulk deletes.
func (s *Store) DeleteAll(ctx context.Context, table Table) (int, error) {
	const op = "delete_all"
	name, err := s.prepareTable(op, table)
	if err != nil {
		return 0, err
	}

	recs, err := s.backend.Scan(ctx, name, nil)
	if err != nil {
		return 0, s.failure(ctx, op, name, nil, "", err)
	}

	deleted := 0
	for _, rec := range recs {
		key, ok := table.KeyOf(rec)
		if !ok {
			return deleted, &Error{
				Kind:    KindValidation,
				Op:      op,
				Message: "scanned item does not match the table key schema",
				Details: mergeRecords(s.details(ctx, op, name, nil, ""), Record{"deleted": deleted}),
			}
		}

		s.logger.Info("dynamodb delete_all",
			zap.String("table_name", name),
			zap.String("key", key.String()),
			logging.Field(ctx),
		)

		if err := s.backend.DeleteItem(ctx, name, table.PK(key)); err != nil {
			e := s.failure(ctx, op, name, &key, "", err)
			e.Details["deleted"] = deleted
			return deleted, e
		}
		deleted++
	}
	return deleted, nil
}

// WaitForTable blocks until the table is available when the backend
// supports waiting; otherwise it returns immediately.
func (s *Store) WaitForTable(ctx context.Context, table Table) error {
	const op = "wait"
	name, err := s.prepareTable(op, table)
	if err != nil {
		return err
	}
	w, ok := s.backend.(TableWaiter)
	if !ok {
		return nil
	}
	if err := w.WaitForTable(ctx, name); err != nil {
		return s.failure(ctx, op, name, nil, "", err)
	}
	return nil
}

// prepareTable validates the table descriptor and returns its physical name.
func (s *Store) prepareTable(op string, table Table) (string, error) {
	if err := table.Validate(); err != nil {
		return "", &Error{
			Kind:    KindValidation,
			Op:      op,
			Message: err.Error(),
			Details: map[string]any{"operation": op, "table_name": table.Name},
			Err:     err,
		}
	}
	name := s.TableName(table)
	s.logger.Debug("Table full name", zap.String("table_full_name", name))
	return name, nil
}

// prepare validates the table descriptor and key.
func (s *Store) prepare(op string, table Table, key Key) (string, error) {
	name, err := s.prepareTable(op, table)
	if err != nil {
		return "", err
	}
	if err := table.checkKey(op, key); err != nil {
		return "", err
	}
	return name, nil
}

// checkAttributes rejects attribute names the caller may not write.
func (s *Store) checkAttributes(op string, table Table, attrs map[string]any, allowManagedContent bool) error {
	for name := range attrs {
		switch {
		case name == "":
			return validationError(op, "attribute names must not be empty")
		case table.isKeyAttribute(name):
			return validationError(op, "key attribute %q cannot be written as content", name)
		case name == AttrCreated:
			return validationError(op, "attribute %q is managed by the store", name)
		case !allowManagedContent && isManagedAttribute(name):
			return validationError(op, "attribute %q is managed by the store", name)
		}
	}
	for name, value := range attrs {
		if err := checkSerialisable(op, name, value); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) items(table Table, recs []Record) []*Item {
	items := make([]*Item, 0, len(recs))
	for _, rec := range recs {
		items = append(items, ItemFromRecord(table, rec))
	}
	return items
}

// failure wraps a backend error as a store failure carrying diagnostic context.
func (s *Store) failure(ctx context.Context, op, table string, key *Key, itemType string, err error) *Error {
	code := errorCode(err)
	kind := KindStoreFailure
	if errors.Is(err, ErrInvalid) {
		kind = KindValidation
	}
	s.logger.Error("dynamodb error",
		zap.String("operation", op),
		zap.String("table_name", table),
		zap.String("error_code", code),
		zap.Error(err),
		logging.Field(ctx),
	)
	return &Error{
		Kind:    kind,
		Op:      op,
		Message: "Dynamodb raised an error",
		Code:    code,
		Details: s.details(ctx, op, table, key, itemType, code),
		Err:     err,
	}
}

func (s *Store) details(ctx context.Context, op, table string, key *Key, itemType string, code ...string) map[string]any {
	d := map[string]any{
		"operation":  op,
		"table_name": table,
	}
	if key != nil {
		d["key"] = key.Partition
		if key.Sort != "" {
			d["sort_key"] = key.Sort
		}
	}
	if itemType != "" {
		d["item_type"] = itemType
	}
	if len(code) > 0 && code[0] != "" {
		d["error_code"] = code[0]
	}
	if id := logging.CorrelationID(ctx); id != "" {
		d["correlation_id"] = id
	}
	return d
}

// errorCode extracts the store's machine-readable error code from err.
func errorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	if errors.Is(err, ErrConditionFailed) {
		return ConditionalCheckFailedCode
	}
	return ""
}

func checkFilter(op string, filter *Filter) error {
	if filter == nil {
		return nil
	}
	if filter.Attribute == "" {
		return validationError(op, "filter attribute name is required")
	}
	if len(filter.Values) == 0 {
		return validationError(op, "filter on %q needs at least one value", filter.Attribute)
	}
	return nil
}

func checkSerialisable(op, name string, value any) error {
	if _, err := json.Marshal(value); err != nil {
		e := validationError(op, "attribute %q is not JSON-serialisable", name)
		e.Err = err
		return e
	}
	return nil
}
