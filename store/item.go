package store

import (
	"time"
)

// Managed attribute names written by the Store on every item.
const (
	AttrType     = "type"
	AttrDetails  = "details"
	AttrCreated  = "created"
	AttrModified = "modified"
)

// DefaultItemType is the type tag used when a caller does not supply one.
const DefaultItemType = "ddb_item"

// Item is a stored entry with its managed fields decoded.
type Item struct {
	// Key is the item's address within its table.
	Key Key

	// Type is the logical kind of the item.
	Type string

	// Details is the caller-defined payload.
	Details map[string]any

	// Created is set once, on the first successful write.
	Created time.Time

	// Modified is set on every successful write.
	Modified time.Time

	// Attributes holds every other top-level attribute (e.g. "country_code").
	Attributes map[string]any

	// Raw is the full attribute mapping as stored.
	Raw Record
}

// ItemFromRecord decodes a stored record using the table's key schema.
func ItemFromRecord(table Table, rec Record) *Item {
	item := &Item{
		Raw:        rec,
		Attributes: make(map[string]any),
	}
	item.Key, _ = table.KeyOf(rec)

	for name, value := range rec {
		switch {
		case table.isKeyAttribute(name):
		case name == AttrType:
			item.Type, _ = value.(string)
		case name == AttrDetails:
			item.Details, _ = value.(map[string]any)
		case name == AttrCreated:
			item.Created = parseTimestamp(value)
		case name == AttrModified:
			item.Modified = parseTimestamp(value)
		default:
			item.Attributes[name] = value
		}
	}
	return item
}

// Map returns the full attribute mapping of the item as stored.
func (i *Item) Map() map[string]any {
	if i.Raw == nil {
		return nil
	}
	return cloneRecord(i.Raw)
}

// isManagedAttribute reports whether name is written by the Store itself.
func isManagedAttribute(name string) bool {
	switch name {
	case AttrType, AttrDetails, AttrCreated, AttrModified:
		return true
	}
	return false
}
