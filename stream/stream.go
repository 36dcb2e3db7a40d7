// Package stream provides a DynamoDB Streams handler for item change events.
package stream

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"go.uber.org/zap"

	"github.com/jacentio/itemstore/logging"
	"github.com/jacentio/itemstore/store"
)

// Stream event names.
const (
	EventInsert = "INSERT"
	EventModify = "MODIFY"
	EventRemove = "REMOVE"
)

// Change is a decoded stream record for one item.
type Change struct {
	EventID   string
	EventName string

	// Table is the registered descriptor of the source table.
	Table store.Table

	// TableName is the physical name of the source table.
	TableName string

	Key store.Key

	// Old is nil for inserts and for streams without old images.
	Old *store.Item

	// New is nil for removals and for streams without new images.
	New *store.Item
}

// Item returns the most recent image of the changed item.
func (c Change) Item() *store.Item {
	if c.New != nil {
		return c.New
	}
	return c.Old
}

// ProcessFunc handles one change.
type ProcessFunc func(ctx context.Context, change Change) error

// Handler processes DynamoDB stream events for registered tables.
type Handler struct {
	registry *store.Registry
	process  ProcessFunc
	logger   *zap.Logger
}

// NewHandler creates a new stream handler.
func NewHandler(registry *store.Registry, process ProcessFunc, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		registry: registry,
		process:  process,
		logger:   logger,
	}
}

// Handle processes a batch of stream records in order.
// This function is designed to be used as an AWS Lambda handler.
func (h *Handler) Handle(ctx context.Context, event events.DynamoDBEvent) error {
	ctx, _ = logging.EnsureCorrelationID(ctx)
	for _, record := range event.Records {
		if err := h.processRecord(ctx, record); err != nil {
			h.logger.Error("failed to process record",
				zap.String("event_id", record.EventID),
				zap.Error(err),
				logging.Field(ctx),
			)
			return err // Will retry, eventually DLQ
		}
	}
	return nil
}

func (h *Handler) processRecord(ctx context.Context, record events.DynamoDBEventRecord) error {
	tableName := TableNameFromARN(record.EventSourceArn)
	table, ok := h.registry.Lookup(tableName)
	if !ok {
		h.logger.Debug("skipping record from unregistered table",
			zap.String("table_name", tableName),
			zap.String("event_id", record.EventID),
		)
		return nil
	}

	change, err := Decode(table, record)
	if err != nil {
		return err
	}
	change.TableName = tableName

	h.logger.Info("processing item change",
		zap.String("event_id", change.EventID),
		zap.String("event_name", change.EventName),
		zap.String("table_name", tableName),
		zap.String("key", change.Key.String()),
		logging.Field(ctx),
	)

	if h.process == nil {
		return nil
	}
	return h.process(ctx, change)
}

// Decode converts a stream record into a Change using the table's key schema.
func Decode(table store.Table, record events.DynamoDBEventRecord) (Change, error) {
	change := Change{
		EventID:   record.EventID,
		EventName: record.EventName,
		Table:     table,
	}

	keys, err := DecodeImage(record.Change.Keys)
	if err != nil {
		return Change{}, fmt.Errorf("decode keys of %s: %w", record.EventID, err)
	}
	key, ok := table.KeyOf(keys)
	if !ok {
		return Change{}, fmt.Errorf("record %s does not match the key schema of table %s", record.EventID, table.Name)
	}
	change.Key = key

	if len(record.Change.OldImage) > 0 {
		old, err := DecodeImage(record.Change.OldImage)
		if err != nil {
			return Change{}, fmt.Errorf("decode old image of %s: %w", record.EventID, err)
		}
		change.Old = store.ItemFromRecord(table, old)
	}
	if len(record.Change.NewImage) > 0 {
		img, err := DecodeImage(record.Change.NewImage)
		if err != nil {
			return Change{}, fmt.Errorf("decode new image of %s: %w", record.EventID, err)
		}
		change.New = store.ItemFromRecord(table, img)
	}
	return change, nil
}

// DecodeImage converts a stream image into a store record with the same
// value types a Backend returns.
func DecodeImage(image map[string]events.DynamoDBAttributeValue) (store.Record, error) {
	av := make(map[string]types.AttributeValue, len(image))
	for name, v := range image {
		converted, err := toAttributeValue(v)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", name, err)
		}
		av[name] = converted
	}
	rec := store.Record{}
	if err := attributevalue.UnmarshalMap(av, &rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// TableNameFromARN extracts the table name from a stream or table ARN
// (arn:aws:dynamodb:<region>:<account>:table/<name>/stream/<label>).
func TableNameFromARN(arn string) string {
	_, rest, ok := strings.Cut(arn, ":table/")
	if !ok {
		return ""
	}
	name, _, _ := strings.Cut(rest, "/")
	return name
}

// toAttributeValue converts a Lambda stream attribute to its SDK form.
func toAttributeValue(v events.DynamoDBAttributeValue) (types.AttributeValue, error) {
	switch v.DataType() {
	case events.DataTypeString:
		return &types.AttributeValueMemberS{Value: v.String()}, nil
	case events.DataTypeNumber:
		return &types.AttributeValueMemberN{Value: v.Number()}, nil
	case events.DataTypeBinary:
		return &types.AttributeValueMemberB{Value: v.Binary()}, nil
	case events.DataTypeBoolean:
		return &types.AttributeValueMemberBOOL{Value: v.Boolean()}, nil
	case events.DataTypeNull:
		return &types.AttributeValueMemberNULL{Value: true}, nil
	case events.DataTypeStringSet:
		return &types.AttributeValueMemberSS{Value: v.StringSet()}, nil
	case events.DataTypeNumberSet:
		return &types.AttributeValueMemberNS{Value: v.NumberSet()}, nil
	case events.DataTypeBinarySet:
		return &types.AttributeValueMemberBS{Value: v.BinarySet()}, nil
	case events.DataTypeList:
		list := v.List()
		out := make([]types.AttributeValue, 0, len(list))
		for _, item := range list {
			converted, err := toAttributeValue(item)
			if err != nil {
				return nil, err
			}
			out = append(out, converted)
		}
		return &types.AttributeValueMemberL{Value: out}, nil
	case events.DataTypeMap:
		m := v.Map()
		out := make(map[string]types.AttributeValue, len(m))
		for name, item := range m {
			converted, err := toAttributeValue(item)
			if err != nil {
				return nil, err
			}
			out[name] = converted
		}
		return &types.AttributeValueMemberM{Value: out}, nil
	}
	return nil, fmt.Errorf("unsupported stream data type %v", v.DataType())
}
