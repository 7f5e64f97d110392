// Package journal defines the append-only event log written alongside every
// catalog and circulation mutation.
package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Aggregate types.
const (
	AggregateCopy  = "book_copy"
	AggregateIssue = "issue_record"
)

// Event types.
const (
	CopyAdded         = "CopyAdded"
	CopyImported      = "CopyImported"
	CopyStatusChanged = "CopyStatusChanged"
	BookIssued        = "BookIssued"
	BookReturned      = "BookReturned"
)

// Event is one journal entry. ID is assigned by the store on append and is
// strictly increasing.
type Event struct {
	ID            int64               `json:"id" db:"id"`
	AggregateID   uuid.UUID           `json:"aggregate_id" db:"aggregate_id"`
	AggregateType string              `json:"aggregate_type" db:"aggregate_type"`
	EventType     string              `json:"event_type" db:"event_type"`
	EventData     jsoniter.RawMessage `json:"event_data" db:"event_data"`
	CreatedAt     time.Time           `json:"created_at" db:"created_at"`
}

// NewEvent builds an event with data encoded as JSON.
func NewEvent(aggregateID uuid.UUID, aggregateType, eventType string, data any, at time.Time) (Event, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("failed to marshal %s event data: %w", eventType, err)
	}

	return Event{
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		EventData:     payload,
		CreatedAt:     at.UTC(),
	}, nil
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.EventData, v)
}

// Appender appends events as part of an enclosing transaction.
type Appender interface {
	AppendEvent(ctx context.Context, event Event) error
}

// Reader provides a cursor-based event stream for projections and tooling.
type Reader interface {
	StreamEvents(ctx context.Context, fromID int64, batchSize int) ([]Event, error)
}
