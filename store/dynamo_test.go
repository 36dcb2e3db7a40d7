package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacentio/itemstore/store"
)

// fakeDynamo records every request and replays canned responses.
type fakeDynamo struct {
	getIn  []*dynamodb.GetItemInput
	getOut *dynamodb.GetItemOutput

	putIn  []*dynamodb.PutItemInput
	putErr error

	updateIn  []*dynamodb.UpdateItemInput
	updateOut *dynamodb.UpdateItemOutput
	updateErr error

	deleteIn []*dynamodb.DeleteItemInput

	scanIn    []*dynamodb.ScanInput
	scanPages []*dynamodb.ScanOutput

	queryIn    []*dynamodb.QueryInput
	queryPages []*dynamodb.QueryOutput

	describeOut *dynamodb.DescribeTableOutput
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.getIn = append(f.getIn, in)
	if f.getOut == nil {
		return &dynamodb.GetItemOutput{}, nil
	}
	return f.getOut, nil
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.putIn = append(f.putIn, in)
	if f.putErr != nil {
		return nil, f.putErr
	}
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) UpdateItem(_ context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.updateIn = append(f.updateIn, in)
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	if f.updateOut == nil {
		return &dynamodb.UpdateItemOutput{}, nil
	}
	return f.updateOut, nil
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.deleteIn = append(f.deleteIn, in)
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeDynamo) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.scanIn = append(f.scanIn, in)
	if len(f.scanIn) > len(f.scanPages) {
		return &dynamodb.ScanOutput{}, nil
	}
	return f.scanPages[len(f.scanIn)-1], nil
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.queryIn = append(f.queryIn, in)
	if len(f.queryIn) > len(f.queryPages) {
		return &dynamodb.QueryOutput{}, nil
	}
	return f.queryPages[len(f.queryIn)-1], nil
}

func (f *fakeDynamo) DescribeTable(_ context.Context, _ *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	if f.describeOut == nil {
		return nil, &types.ResourceNotFoundException{Message: aws.String("not found")}
	}
	return f.describeOut, nil
}

func str(v string) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: v}
}

func nameValues(names map[string]string) []string {
	out := make([]string, 0, len(names))
	for _, v := range names {
		out = append(out, v)
	}
	return out
}

func TestDynamoBackend_GetItem(t *testing.T) {
	ctx := context.Background()
	fake := &fakeDynamo{}
	b := store.NewDynamoBackend(fake)

	rec, err := b.GetItem(ctx, "t", store.PK{"id": "u1"})
	require.NoError(t, err)
	assert.Nil(t, rec)

	fake.getOut = &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
		"id":      str("u1"),
		"details": &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{"n": &types.AttributeValueMemberN{Value: "3"}}},
	}}
	rec, err = b.GetItem(ctx, "t", store.PK{"id": "u1"})
	require.NoError(t, err)
	assert.Equal(t, store.Record{"id": "u1", "details": map[string]any{"n": float64(3)}}, rec)

	in := fake.getIn[1]
	assert.Equal(t, "t", aws.ToString(in.TableName))
	assert.True(t, aws.ToBool(in.ConsistentRead))
	assert.Equal(t, str("u1"), in.Key["id"])
}

func TestDynamoBackend_PutItem_Conditional(t *testing.T) {
	fake := &fakeDynamo{}
	b := store.NewDynamoBackend(fake)

	err := b.PutItem(context.Background(), "t", store.PK{"id": "u1"},
		store.Record{"type": "user", "details": map[string]any{}},
		&store.PutCondition{IfNotExists: "id"})
	require.NoError(t, err)

	require.Len(t, fake.putIn, 1)
	in := fake.putIn[0]
	assert.Equal(t, str("u1"), in.Item["id"])
	assert.Equal(t, str("user"), in.Item["type"])
	assert.Contains(t, aws.ToString(in.ConditionExpression), "attribute_not_exists")
	assert.Contains(t, nameValues(in.ExpressionAttributeNames), "id")
}

func TestDynamoBackend_PutItem_Expect(t *testing.T) {
	fake := &fakeDynamo{}
	b := store.NewDynamoBackend(fake)

	err := b.PutItem(context.Background(), "t", store.PK{"id": "u1"},
		store.Record{"created": "c1"},
		&store.PutCondition{Expect: store.Record{"created": "c1", "status": "new"}})
	require.NoError(t, err)

	in := fake.putIn[0]
	cond := aws.ToString(in.ConditionExpression)
	assert.Contains(t, cond, "AND")
	assert.NotContains(t, cond, "status")
	assert.ElementsMatch(t, []string{"created", "status"}, nameValues(in.ExpressionAttributeNames))
	assert.Len(t, in.ExpressionAttributeValues, 2)
}

func TestDynamoBackend_PutItem_Unconditional(t *testing.T) {
	fake := &fakeDynamo{}
	b := store.NewDynamoBackend(fake)

	require.NoError(t, b.PutItem(context.Background(), "t", store.PK{"id": "u1"}, store.Record{}, nil))
	assert.Nil(t, fake.putIn[0].ConditionExpression)
}

func TestDynamoBackend_PutItem_ConditionFailed(t *testing.T) {
	fake := &fakeDynamo{putErr: &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}}
	b := store.NewDynamoBackend(fake)

	err := b.PutItem(context.Background(), "t", store.PK{"id": "u1"}, store.Record{}, &store.PutCondition{IfNotExists: "id"})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrConditionFailed)

	var condErr *types.ConditionalCheckFailedException
	assert.ErrorAs(t, err, &condErr)
}

func TestDynamoBackend_UpdateItem_AliasesReservedWords(t *testing.T) {
	fake := &fakeDynamo{updateOut: &dynamodb.UpdateItemOutput{
		Attributes: map[string]types.AttributeValue{"status": str("active")},
	}}
	b := store.NewDynamoBackend(fake)

	result, err := b.UpdateItem(context.Background(), "t", store.PK{"id": "u1"}, store.Update{
		Set:           store.Record{"status": "active", "modified": "2024-03-01T09:30:00Z"},
		SetIfMissing:  store.Record{"created": "2024-03-01T09:30:00Z"},
		RequireExists: true,
		ReturnValues:  store.ReturnAllNew,
	})
	require.NoError(t, err)
	assert.Equal(t, store.Record{"status": "active"}, result.Attributes)

	in := fake.updateIn[0]
	update := aws.ToString(in.UpdateExpression)
	assert.Contains(t, update, "SET")
	assert.Contains(t, update, "if_not_exists")
	assert.NotContains(t, update, "status")
	assert.Contains(t, aws.ToString(in.ConditionExpression), "attribute_exists")
	assert.ElementsMatch(t, []string{"created", "id", "modified", "status"}, nameValues(in.ExpressionAttributeNames))
	assert.Equal(t, types.ReturnValueAllNew, in.ReturnValues)
	assert.Equal(t, str("u1"), in.Key["id"])
}

func TestDynamoBackend_UpdateItem_Upsert(t *testing.T) {
	fake := &fakeDynamo{}
	b := store.NewDynamoBackend(fake)

	result, err := b.UpdateItem(context.Background(), "t", store.PK{"id": "u1"}, store.Update{
		Set: store.Record{"type": "user"},
	})
	require.NoError(t, err)
	assert.Nil(t, result.Attributes)

	in := fake.updateIn[0]
	assert.Nil(t, in.ConditionExpression)
	assert.Empty(t, in.ReturnValues)
}

func TestDynamoBackend_Scan_Paginates(t *testing.T) {
	fake := &fakeDynamo{scanPages: []*dynamodb.ScanOutput{
		{
			Items:            []map[string]types.AttributeValue{{"id": str("a"), "status": str("new")}},
			LastEvaluatedKey: map[string]types.AttributeValue{"id": str("a")},
		},
		{
			Items: []map[string]types.AttributeValue{{"id": str("b"), "status": str("done")}},
		},
	}}
	b := store.NewDynamoBackend(fake)

	recs, err := b.Scan(context.Background(), "t", store.Where("status", "new", "done"))
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "a", recs[0]["id"])
	assert.Equal(t, "b", recs[1]["id"])

	require.Len(t, fake.scanIn, 2)
	first := fake.scanIn[0]
	assert.True(t, aws.ToBool(first.ConsistentRead))
	assert.Contains(t, aws.ToString(first.FilterExpression), "OR")
	assert.Len(t, first.ExpressionAttributeValues, 2)
	assert.Equal(t, []string{"status"}, nameValues(first.ExpressionAttributeNames))
	assert.Equal(t, str("a"), fake.scanIn[1].ExclusiveStartKey["id"])
}

func TestDynamoBackend_Scan_NoFilter(t *testing.T) {
	fake := &fakeDynamo{}
	b := store.NewDynamoBackend(fake)

	recs, err := b.Scan(context.Background(), "t", nil)
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.Nil(t, fake.scanIn[0].FilterExpression)
}

func TestDynamoBackend_Query(t *testing.T) {
	fake := &fakeDynamo{queryPages: []*dynamodb.QueryOutput{
		{Items: []map[string]types.AttributeValue{{"user_id": str("u1"), "survey_id": str("s1")}}},
	}}
	b := store.NewDynamoBackend(fake)

	recs, err := b.Query(context.Background(), "t", store.Query{Attribute: "user_id", Value: "u1"})
	require.NoError(t, err)
	require.Len(t, recs, 1)

	in := fake.queryIn[0]
	assert.NotEmpty(t, aws.ToString(in.KeyConditionExpression))
	assert.True(t, aws.ToBool(in.ConsistentRead))
	assert.Nil(t, in.IndexName)
}

func TestDynamoBackend_Query_Index(t *testing.T) {
	fake := &fakeDynamo{}
	b := store.NewDynamoBackend(fake)

	_, err := b.Query(context.Background(), "t", store.Query{
		Index:     "by-country",
		Attribute: "country_code",
		Value:     "GB",
		Filter:    store.Where("status", "active"),
	})
	require.NoError(t, err)

	in := fake.queryIn[0]
	assert.Equal(t, "by-country", aws.ToString(in.IndexName))
	assert.Nil(t, in.ConsistentRead)
	assert.NotEmpty(t, aws.ToString(in.FilterExpression))
	assert.ElementsMatch(t, []string{"country_code", "status"}, nameValues(in.ExpressionAttributeNames))
}

func TestDynamoBackend_DeleteItem(t *testing.T) {
	fake := &fakeDynamo{}
	b := store.NewDynamoBackend(fake)

	require.NoError(t, b.DeleteItem(context.Background(), "t", store.PK{"user_id": "u1", "survey_id": "s1"}))
	assert.Equal(t, map[string]types.AttributeValue{"user_id": str("u1"), "survey_id": str("s1")}, fake.deleteIn[0].Key)
}

func TestDynamoBackend_WaitForTable(t *testing.T) {
	fake := &fakeDynamo{describeOut: &dynamodb.DescribeTableOutput{
		Table: &types.TableDescription{TableStatus: types.TableStatusActive},
	}}
	b := store.NewDynamoBackend(fake).WithMaxWait(time.Second)

	s := store.New(b, store.DefaultConfig("/test/"))
	assert.NoError(t, s.WaitForTable(context.Background(), users))
}

func TestStore_OnDynamo_Conflict(t *testing.T) {
	fake := &fakeDynamo{putErr: &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}}
	s := store.New(store.NewDynamoBackend(fake), store.DefaultConfig("/test/"))

	err := s.Put(context.Background(), users, store.PutInput{Key: key("test01"), Type: "test data"})
	require.Error(t, err)
	assert.True(t, store.IsConflict(err))
	assert.Equal(t, "ConditionalCheckFailedException", store.AsError(err).Code)
	assert.Equal(t, "thiscovery-core-test-users", aws.ToString(fake.putIn[0].TableName))
}

func TestStore_OnDynamo_ReplaceCarriesCreated(t *testing.T) {
	fake := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
		"id":           str("u1"),
		"created":      str("2024-03-01T09:30:00.000000Z"),
		"country_code": str("GB"),
	}}}
	s := store.New(store.NewDynamoBackend(fake), store.DefaultConfig("/test/"))

	err := s.Put(context.Background(), users, store.PutInput{Key: key("u1"), Type: "user", UpdateAllowed: true})
	require.NoError(t, err)

	require.Empty(t, fake.updateIn)
	require.Len(t, fake.putIn, 1)
	in := fake.putIn[0]
	assert.Equal(t, str("2024-03-01T09:30:00.000000Z"), in.Item["created"])
	assert.NotContains(t, in.Item, "country_code")
	assert.Contains(t, aws.ToString(in.ConditionExpression), "=")
	assert.Equal(t, []string{"created"}, nameValues(in.ExpressionAttributeNames))
	assert.Contains(t, in.ExpressionAttributeValues, ":0")
	assert.Equal(t, str("2024-03-01T09:30:00.000000Z"), in.ExpressionAttributeValues[":0"])
}

func TestStore_OnDynamo_ReplaceLostRace(t *testing.T) {
	fake := &fakeDynamo{
		getOut: &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
			"id":      str("u1"),
			"created": str("2024-03-01T09:30:00.000000Z"),
		}},
		putErr: &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")},
	}
	s := store.New(store.NewDynamoBackend(fake), store.DefaultConfig("/test/"))

	err := s.Put(context.Background(), users, store.PutInput{Key: key("u1"), UpdateAllowed: true})
	require.Error(t, err)
	assert.False(t, store.IsConflict(err))
	assert.True(t, errors.Is(err, store.ErrStoreFailed))
	assert.Equal(t, "ConditionalCheckFailedException", store.AsError(err).Code)
	assert.Len(t, fake.putIn, 1, "no retry")
}

func TestStore_OnDynamo_UpdateMissing(t *testing.T) {
	fake := &fakeDynamo{updateErr: &types.ConditionalCheckFailedException{Message: aws.String("The conditional request failed")}}
	s := store.New(store.NewDynamoBackend(fake), store.DefaultConfig("/test/"))

	_, err := s.Update(context.Background(), users, key("ghost"), store.UpdateInput{
		Values: map[string]any{"status": "active"},
	})
	require.Error(t, err)
	assert.True(t, store.IsNotFound(err))
}

func TestStore_OnDynamo_ServiceError(t *testing.T) {
	fake := &fakeDynamo{putErr: &types.ProvisionedThroughputExceededException{Message: aws.String("slow down")}}
	s := store.New(store.NewDynamoBackend(fake), store.DefaultConfig("/test/"))

	err := s.Put(context.Background(), users, store.PutInput{Key: key("u1"), UpdateAllowed: true})
	require.Error(t, err)
	assert.True(t, errors.Is(err, store.ErrStoreFailed))
	assert.Equal(t, "ProvisionedThroughputExceededException", store.AsError(err).Code)
}
