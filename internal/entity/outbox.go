package entity

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// OutboxEvent is an append-only fact row. There is deliberately no status
// column: publication belongs to the CDC relay, the row itself is the proof
// that the fact happened.
type OutboxEvent struct {
	ID            uuid.UUID       `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	CreatedAt     time.Time       `json:"created_at"`
}

const (
	AggregateJobSummary   = "job_summary"
	EventSummaryCompleted = "summary.completed"
)

// ProcessedEvent marks that a consumer group already acted on an event.
// Existence of the row is the whole contract.
type ProcessedEvent struct {
	EventID       uuid.UUID `json:"event_id"`
	ConsumerGroup string    `json:"consumer_group"`
	ProcessedAt   time.Time `json:"processed_at"`
}
