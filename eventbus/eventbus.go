// Package eventbus publishes platform events to Amazon EventBridge.
package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge/types"
	"go.uber.org/zap"
)

const (
	// DefaultBusName is the event bus used when none is configured.
	DefaultBusName = "thiscovery-event-bus"

	// DefaultSource is the event source used when an Event does not set one.
	DefaultSource = "thiscovery"

	// EventBridge accepts at most 10 entries per PutEvents call.
	batchSize = 10
)

// ErrInvalidEvent is returned for events missing a detail-type or detail.
var ErrInvalidEvent = errors.New("eventbus: invalid event")

// Event is a platform event. DetailType and Detail are mandatory.
type Event struct {
	DetailType string
	Detail     map[string]any
	Source     string
	Time       time.Time
}

// NewEvent creates an event, rejecting a missing detail-type or detail.
func NewEvent(detailType string, detail map[string]any) (Event, error) {
	e := Event{DetailType: detailType, Detail: detail}
	if err := e.Validate(); err != nil {
		return Event{}, err
	}
	return e, nil
}

// Validate checks the mandatory fields.
func (e Event) Validate() error {
	if e.DetailType == "" {
		return fmt.Errorf("%w: mandatory detail-type data not provided", ErrInvalidEvent)
	}
	if e.Detail == nil {
		return fmt.Errorf("%w: mandatory detail data not provided", ErrInvalidEvent)
	}
	return nil
}

// API is the subset of the EventBridge client used by Publisher.
type API interface {
	PutEvents(ctx context.Context, params *eventbridge.PutEventsInput, optFns ...func(*eventbridge.Options)) (*eventbridge.PutEventsOutput, error)
}

// Publisher sends events to one event bus.
type Publisher struct {
	client  API
	busName string
	logger  *zap.Logger
	now     func() time.Time
}

// NewPublisher creates a publisher. An empty busName selects DefaultBusName.
func NewPublisher(client API, busName string, logger *zap.Logger) *Publisher {
	if busName == "" {
		busName = DefaultBusName
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		client:  client,
		busName: busName,
		logger:  logger,
		now:     time.Now,
	}
}

// BusName returns the target event bus.
func (p *Publisher) BusName() string {
	return p.busName
}

// Publish sends events in batches. It stops at the first failed batch.
func (p *Publisher) Publish(ctx context.Context, events ...Event) error {
	for i := 0; i < len(events); i += batchSize {
		end := min(i+batchSize, len(events))
		if err := p.publishBatch(ctx, events[i:end]); err != nil {
			return err
		}
	}
	return nil
}

func (p *Publisher) publishBatch(ctx context.Context, events []Event) error {
	entries := make([]types.PutEventsRequestEntry, 0, len(events))
	for _, e := range events {
		entry, err := p.entry(e)
		if err != nil {
			return err
		}
		entries = append(entries, entry)
	}

	p.logger.Debug("Putting events",
		zap.String("event_bus", p.busName),
		zap.Int("count", len(entries)),
	)

	out, err := p.client.PutEvents(ctx, &eventbridge.PutEventsInput{Entries: entries})
	if err != nil {
		return fmt.Errorf("put events: %w", err)
	}

	if out.FailedEntryCount > 0 {
		for i, entry := range out.Entries {
			if entry.ErrorCode != nil {
				p.logger.Error("Failed to publish event",
					zap.String("detail_type", events[i].DetailType),
					zap.String("error_code", aws.ToString(entry.ErrorCode)),
					zap.String("error_message", aws.ToString(entry.ErrorMessage)),
				)
			}
		}
		return fmt.Errorf("eventbus: %d events failed to publish", out.FailedEntryCount)
	}
	return nil
}

func (p *Publisher) entry(e Event) (types.PutEventsRequestEntry, error) {
	if err := e.Validate(); err != nil {
		return types.PutEventsRequestEntry{}, err
	}
	detail, err := json.Marshal(e.Detail)
	if err != nil {
		return types.PutEventsRequestEntry{}, fmt.Errorf("%w: detail is not JSON-serialisable: %v", ErrInvalidEvent, err)
	}
	source := e.Source
	if source == "" {
		source = DefaultSource
	}
	at := e.Time
	if at.IsZero() {
		at = p.now()
	}
	return types.PutEventsRequestEntry{
		EventBusName: aws.String(p.busName),
		Source:       aws.String(source),
		DetailType:   aws.String(e.DetailType),
		Detail:       aws.String(string(detail)),
		Time:         aws.Time(at),
		Resources:    []string{},
	}, nil
}
