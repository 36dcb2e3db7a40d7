// Package store provides a namespaced key-value item store on DynamoDB.
//
// Every item carries a small managed envelope next to its key:
//
//   - type: the logical kind of the item (default "ddb_item")
//   - details: a caller-defined JSON-serialisable mapping
//   - created: set once, on the first successful write
//   - modified: refreshed on every successful write
//
// Callers may also store extra top-level attributes. Those are indexable and
// usable in scan filters.
//
// # Tables
//
// A [Table] is pure configuration. Its physical name is
// "<stack>-<environment>-<name>", e.g. "thiscovery-core-prod-users", unless
// Verbatim is set:
//
//	users := store.Table{Name: "users"}
//	s := store.New(store.NewDynamoBackend(client), store.DefaultConfig("/prod/"))
//
// # Writes
//
// [Store.Put] without UpdateAllowed is an atomic conditional create: it fails
// with a conflict when the key exists and leaves the stored item unchanged.
// With UpdateAllowed it replaces the whole item, keeping its created value.
// [Store.Update] changes only the named attributes of an existing item. Names
// that are DynamoDB reserved words (such as "status") are always aliased.
//
// # Errors
//
// Every operation returns an [*Error] whose Kind is one of:
//
//   - [KindConflict] - conditional create found an existing key ([ErrAlreadyExists])
//   - [KindNotFound] - a required item is missing ([ErrNotFound])
//   - [KindValidation] - caller input was rejected ([ErrInvalid])
//   - [KindStoreFailure] - anything else ([ErrStoreFailed])
//
// The store never retries.
package store
