package eventbus_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/jacentio/itemstore/eventbus"
)

type fakeEventBridge struct {
	inputs []*eventbridge.PutEventsInput
	out    *eventbridge.PutEventsOutput
	err    error
}

func (f *fakeEventBridge) PutEvents(_ context.Context, in *eventbridge.PutEventsInput, _ ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error) {
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}
	if f.out != nil {
		return f.out, nil
	}
	return &eventbridge.PutEventsOutput{}, nil
}

func TestNewEvent_Validation(t *testing.T) {
	_, err := eventbus.NewEvent("", map[string]any{})
	assert.ErrorIs(t, err, eventbus.ErrInvalidEvent)
	assert.Contains(t, err.Error(), "detail-type")

	_, err = eventbus.NewEvent("user_login", nil)
	assert.ErrorIs(t, err, eventbus.ErrInvalidEvent)
	assert.Contains(t, err.Error(), "detail data")

	e, err := eventbus.NewEvent("user_login", map[string]any{"user_id": "u1"})
	require.NoError(t, err)
	assert.Equal(t, "user_login", e.DetailType)
}

func TestPublish_Entry(t *testing.T) {
	fake := &fakeEventBridge{}
	p := eventbus.NewPublisher(fake, "", zaptest.NewLogger(t))
	at := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

	err := p.Publish(context.Background(), eventbus.Event{
		DetailType: "user_login",
		Detail:     map[string]any{"user_id": "u1"},
		Time:       at,
	})
	require.NoError(t, err)

	require.Len(t, fake.inputs, 1)
	require.Len(t, fake.inputs[0].Entries, 1)
	entry := fake.inputs[0].Entries[0]
	assert.Equal(t, eventbus.DefaultBusName, aws.ToString(entry.EventBusName))
	assert.Equal(t, eventbus.DefaultSource, aws.ToString(entry.Source))
	assert.Equal(t, "user_login", aws.ToString(entry.DetailType))
	assert.True(t, at.Equal(aws.ToTime(entry.Time)))

	var detail map[string]any
	require.NoError(t, json.Unmarshal([]byte(aws.ToString(entry.Detail)), &detail))
	assert.Equal(t, map[string]any{"user_id": "u1"}, detail)
}

func TestPublish_Batches(t *testing.T) {
	fake := &fakeEventBridge{}
	p := eventbus.NewPublisher(fake, "custom-bus", nil)

	events := make([]eventbus.Event, 23)
	for i := range events {
		events[i] = eventbus.Event{DetailType: "tick", Detail: map[string]any{"n": i}, Source: "tests"}
	}
	require.NoError(t, p.Publish(context.Background(), events...))

	require.Len(t, fake.inputs, 3)
	assert.Len(t, fake.inputs[0].Entries, 10)
	assert.Len(t, fake.inputs[1].Entries, 10)
	assert.Len(t, fake.inputs[2].Entries, 3)
	assert.Equal(t, "custom-bus", aws.ToString(fake.inputs[2].Entries[0].EventBusName))
	assert.Equal(t, "tests", aws.ToString(fake.inputs[2].Entries[0].Source))
	assert.Equal(t, "custom-bus", p.BusName())
}

func TestPublish_Empty(t *testing.T) {
	fake := &fakeEventBridge{}
	require.NoError(t, eventbus.NewPublisher(fake, "", nil).Publish(context.Background()))
	assert.Empty(t, fake.inputs)
}

func TestPublish_FailedEntries(t *testing.T) {
	fake := &fakeEventBridge{out: &eventbridge.PutEventsOutput{
		FailedEntryCount: 1,
		Entries: []types.PutEventsResultEntry{
			{EventId: aws.String("e1")},
			{ErrorCode: aws.String("InternalFailure"), ErrorMessage: aws.String("try again")},
		},
	}}
	p := eventbus.NewPublisher(fake, "", zaptest.NewLogger(t))

	err := p.Publish(context.Background(),
		eventbus.Event{DetailType: "a", Detail: map[string]any{}},
		eventbus.Event{DetailType: "b", Detail: map[string]any{}},
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 events failed")
}

func TestPublish_ClientError(t *testing.T) {
	boom := errors.New("access denied")
	p := eventbus.NewPublisher(&fakeEventBridge{err: boom}, "", nil)

	err := p.Publish(context.Background(), eventbus.Event{DetailType: "a", Detail: map[string]any{}})
	assert.ErrorIs(t, err, boom)
}

func TestPublish_InvalidEventSendsNothing(t *testing.T) {
	fake := &fakeEventBridge{}
	p := eventbus.NewPublisher(fake, "", nil)

	err := p.Publish(context.Background(),
		eventbus.Event{DetailType: "ok", Detail: map[string]any{}},
		eventbus.Event{DetailType: "bad", Detail: map[string]any{"ch": make(chan int)}},
	)
	assert.ErrorIs(t, err, eventbus.ErrInvalidEvent)
	assert.Empty(t, fake.inputs)
}

func ExamplePublisher_Publish() {
	event, err := eventbus.NewEvent("user_login", map[string]any{"user_id": "u1"})
	if err != nil {
		fmt.Println(err)
		return
	}
	p := eventbus.NewPublisher(&fakeEventBridge{}, "", nil)
	fmt.Println(p.Publish(context.Background(), event))
	// Output: <nil>
}
