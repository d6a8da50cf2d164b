package entity

import (
	"time"

	"github.com/google/uuid"
)

type FailedEventStatus string

const (
	FailedEventFailed      FailedEventStatus = "FAILED"
	FailedEventReprocessed FailedEventStatus = "REPROCESSED"
	FailedEventIgnored     FailedEventStatus = "IGNORED"
)

// Caps applied before a FailedEvent row is written. A poison payload must
// never be able to blow up the failure table itself.
const (
	FailedEventValueCap = 4096
	FailedEventErrorCap = 1024
	FailedEventStackCap = 8192
)

// FailedEvent is a dead-lettered stream message with enough diagnostic
// context to reprocess it later. Only the Reprocessor (or an operator)
// mutates it, and never to deletion.
type FailedEvent struct {
	ID            uuid.UUID         `json:"id"`
	Stream        string            `json:"stream"`
	MessageID     string            `json:"message_id"`
	Key           string            `json:"key"`
	Value         string            `json:"value"`
	ConsumerGroup string            `json:"consumer_group"`
	ErrorType     string            `json:"error_type"`
	ErrorMessage  string            `json:"error_message"`
	Stack         string            `json:"stack,omitempty"`
	RetryCount    int               `json:"retry_count"`
	Status        FailedEventStatus `json:"status"`
	IgnoreReason  *string           `json:"ignore_reason,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// Truncate clips a diagnostic string to max bytes.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
