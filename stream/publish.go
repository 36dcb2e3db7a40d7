package stream

import (
	"context"
	"strings"

	"github.com/jacentio/itemstore/eventbus"
	"github.com/jacentio/itemstore/logging"
	"github.com/jacentio/itemstore/store"
)

// Publisher sends events to an event bus.
type Publisher interface {
	Publish(ctx context.Context, events ...eventbus.Event) error
}

// DetailType returns the event detail-type for a stream event name,
// e.g. "item_insert".
func DetailType(eventName string) string {
	return "item_" + strings.ToLower(eventName)
}

// ChangeEvent builds the platform event describing change.
func ChangeEvent(change Change, source string) eventbus.Event {
	detail := map[string]any{
		"event_id":   change.EventID,
		"table_name": change.TableName,
		"key":        change.Key.Partition,
	}
	if change.Key.Sort != "" {
		detail["sort_key"] = change.Key.Sort
	}
	if item := change.Item(); item != nil {
		detail["item_type"] = item.Type
	}
	if change.Old != nil {
		detail["old_image"] = imageDetail(change.Old)
	}
	if change.New != nil {
		detail["new_image"] = imageDetail(change.New)
	}
	return eventbus.Event{
		DetailType: DetailType(change.EventName),
		Detail:     detail,
		Source:     source,
	}
}

// PublishChanges returns a ProcessFunc that forwards every change as an event.
// When itemTypes is non-empty only items of those types are published.
func PublishChanges(p Publisher, source string, itemTypes ...string) ProcessFunc {
	allowed := make(map[string]bool, len(itemTypes))
	for _, t := range itemTypes {
		allowed[t] = true
	}
	return func(ctx context.Context, change Change) error {
		if len(allowed) > 0 {
			item := change.Item()
			if item == nil || !allowed[item.Type] {
				return nil
			}
		}
		event := ChangeEvent(change, source)
		if id := logging.CorrelationID(ctx); id != "" {
			event.Detail["correlation_id"] = id
		}
		return p.Publish(ctx, event)
	}
}

func imageDetail(item *store.Item) map[string]any {
	m := item.Map()
	if m == nil {
		return map[string]any{}
	}
	return m
}
