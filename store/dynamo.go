package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DefaultTableWait bounds WaitForTable on the DynamoDB backend.
const DefaultTableWait = 5 * time.Minute

// DynamoDBAPI is the subset of the DynamoDB client used by DynamoBackend.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// DynamoBackend implements Backend on Amazon DynamoDB.
//
// Every attribute name in condition, update and filter expressions is routed
// through an expression alias (#0, #1, ...), so names that collide with
// DynamoDB reserved words such as "status" are always valid.
type DynamoBackend struct {
	client  DynamoDBAPI
	maxWait time.Duration
}

// NewDynamoBackend creates a backend over client.
func NewDynamoBackend(client DynamoDBAPI) *DynamoBackend {
	return &DynamoBackend{
		client:  client,
		maxWait: DefaultTableWait,
	}
}

// WithMaxWait sets the upper bound used by WaitForTable.
func (b *DynamoBackend) WithMaxWait(d time.Duration) *DynamoBackend {
	if d > 0 {
		b.maxWait = d
	}
	return b
}

// GetItem performs a strongly consistent read of one item.
func (b *DynamoBackend) GetItem(ctx context.Context, table string, key PK) (Record, error) {
	result, err := b.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(table),
		Key:            marshalKey(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, err
	}
	if result.Item == nil {
		return nil, nil
	}
	return unmarshalRecord(result.Item)
}

// PutItem writes a full item, optionally guarded by cond.
func (b *DynamoBackend) PutItem(ctx context.Context, table string, key PK, rec Record, cond *PutCondition) error {
	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("%w: marshal item: %v", ErrInvalid, err)
	}
	for attr, value := range key {
		item[attr] = &types.AttributeValueMemberS{Value: value}
	}

	input := &dynamodb.PutItemInput{
		TableName: aws.String(table),
		Item:      item,
	}

	if condition, ok := putCondition(cond); ok {
		expr, err := expression.NewBuilder().WithCondition(condition).Build()
		if err != nil {
			return fmt.Errorf("build condition: %w", err)
		}
		input.ConditionExpression = expr.Condition()
		input.ExpressionAttributeNames = expr.Names()
		input.ExpressionAttributeValues = expr.Values()
	}

	_, err = b.client.PutItem(ctx, input)
	return mapConditionError(err)
}

// UpdateItem applies a partial update in a single UpdateItem call.
func (b *DynamoBackend) UpdateItem(ctx context.Context, table string, key PK, update Update) (*UpdateResult, error) {
	var ub expression.UpdateBuilder
	for _, name := range sortedNames(update.Set) {
		ub = ub.Set(expression.NameNoDotSplit(name), expression.Value(update.Set[name]))
	}
	for _, name := range sortedNames(update.SetIfMissing) {
		ub = ub.Set(expression.NameNoDotSplit(name),
			expression.IfNotExists(expression.NameNoDotSplit(name), expression.Value(update.SetIfMissing[name])))
	}

	builder := expression.NewBuilder().WithUpdate(ub)
	if update.RequireExists && len(key) > 0 {
		attrs := sortedNames(toRecord(key))
		builder = builder.WithCondition(expression.NameNoDotSplit(attrs[0]).AttributeExists())
	}
	expr, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("build update: %w", err)
	}

	input := &dynamodb.UpdateItemInput{
		TableName:                 aws.String(table),
		Key:                       marshalKey(key),
		UpdateExpression:          expr.Update(),
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}
	if update.ReturnValues != ReturnNone {
		input.ReturnValues = types.ReturnValue(update.ReturnValues)
	}

	out, err := b.client.UpdateItem(ctx, input)
	if err != nil {
		return nil, mapConditionError(err)
	}

	result := &UpdateResult{}
	if len(out.Attributes) > 0 {
		result.Attributes, err = unmarshalRecord(out.Attributes)
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

// DeleteItem removes one item; absent keys are not an error.
func (b *DynamoBackend) DeleteItem(ctx context.Context, table string, key PK) error {
	_, err := b.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(table),
		Key:       marshalKey(key),
	})
	return err
}

// Scan reads the whole table, following every page.
func (b *DynamoBackend) Scan(ctx context.Context, table string, filter *Filter) ([]Record, error) {
	input := &dynamodb.ScanInput{
		TableName:      aws.String(table),
		ConsistentRead: aws.Bool(true),
	}
	if filter != nil {
		expr, err := expression.NewBuilder().WithFilter(filterCondition(filter)).Build()
		if err != nil {
			return nil, fmt.Errorf("build filter: %w", err)
		}
		input.FilterExpression = expr.Filter()
		input.ExpressionAttributeNames = expr.Names()
		input.ExpressionAttributeValues = expr.Values()
	}

	var recs []Record
	paginator := dynamodb.NewScanPaginator(b.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range page.Items {
			rec, err := unmarshalRecord(raw)
			if err != nil {
				return nil, err
			}
			recs = append(recs, rec)
		}
	}
	return recs, nil
}

// Query reads every item of one partition of the table or of an index.
func (b *DynamoBackend) Query(ctx context.Context, table string, query Query) ([]Record, error) {
	builder := expression.NewBuilder().
		WithKeyCondition(expression.Key(query.Attribute).Equal(expression.Value(query.Value)))
	if query.Filter != nil {
		builder = builder.WithFilter(filterCondition(query.Filter))
	}
	expr, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(table),
		KeyConditionExpression:    expr.KeyCondition(),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}
	if query.Index != "" {
		input.IndexName = aws.String(query.Index)
	} else {
		input.ConsistentRead = aws.Bool(true)
	}

	var recs []Record
	paginator := dynamodb.NewQueryPaginator(b.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range page.Items {
			rec, err := unmarshalRecord(raw)
			if err != nil {
				return nil, err
			}
			recs = append(recs, rec)
		}
	}
	return recs, nil
}

// WaitForTable waits until the table exists and is active.
func (b *DynamoBackend) WaitForTable(ctx context.Context, table string) error {
	waiter := dynamodb.NewTableExistsWaiter(b.client)
	return waiter.Wait(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(table),
	}, b.maxWait)
}

// putCondition builds the guard of a put. The partition key alone suffices
// for IfNotExists: a put targets one full key.
func putCondition(cond *PutCondition) (expression.ConditionBuilder, bool) {
	if cond == nil {
		return expression.ConditionBuilder{}, false
	}
	var conds []expression.ConditionBuilder
	if cond.IfNotExists != "" {
		conds = append(conds, expression.NameNoDotSplit(cond.IfNotExists).AttributeNotExists())
	}
	for _, name := range sortedNames(cond.Expect) {
		conds = append(conds, expression.NameNoDotSplit(name).Equal(expression.Value(cond.Expect[name])))
	}
	switch len(conds) {
	case 0:
		return expression.ConditionBuilder{}, false
	case 1:
		return conds[0], true
	}
	return expression.And(conds[0], conds[1], conds[2:]...), true
}

// filterCondition builds "attr = v1 OR attr = v2 ..." for a filter.
func filterCondition(filter *Filter) expression.ConditionBuilder {
	conds := make([]expression.ConditionBuilder, 0, len(filter.Values))
	for _, v := range filter.Values {
		conds = append(conds, expression.NameNoDotSplit(filter.Attribute).Equal(expression.Value(v)))
	}
	if len(conds) == 1 {
		return conds[0]
	}
	return expression.Or(conds[0], conds[1], conds[2:]...)
}

// mapConditionError marks failed write conditions with ErrConditionFailed,
// keeping the DynamoDB error in the chain for its error code.
func mapConditionError(err error) error {
	if err == nil {
		return nil
	}
	var condErr *types.ConditionalCheckFailedException
	if errors.As(err, &condErr) {
		return fmt.Errorf("%w: %w", ErrConditionFailed, err)
	}
	return err
}

func marshalKey(key PK) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(key))
	for attr, value := range key {
		out[attr] = &types.AttributeValueMemberS{Value: value}
	}
	return out
}

func unmarshalRecord(item map[string]types.AttributeValue) (Record, error) {
	var rec Record
	if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal item: %w", err)
	}
	return rec, nil
}

func toRecord(key PK) Record {
	rec := make(Record, len(key))
	for k, v := range key {
		rec[k] = v
	}
	return rec
}
