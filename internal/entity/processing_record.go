package entity

import (
	"time"

	"github.com/google/uuid"
)

type SourceType string

const (
	SourceText SourceType = "TEXT"
	SourceOCR  SourceType = "OCR"
	SourceURL  SourceType = "URL"
)

type ProcessingStatus string

const (
	StatusReceived    ProcessingStatus = "RECEIVED"
	StatusSummarizing ProcessingStatus = "SUMMARIZING"
	StatusCompleted   ProcessingStatus = "COMPLETED"
	StatusFailed      ProcessingStatus = "FAILED"
	StatusDuplicate   ProcessingStatus = "DUPLICATE"
)

// IsTerminal reports whether the status is one of the absorbing states.
func (s ProcessingStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusDuplicate
}

// Error codes written onto a record when it goes FAILED.
const (
	ErrCodeValidation        = "VALIDATION"
	ErrCodeLLMTransport      = "LLM_TRANSPORT"
	ErrCodeLLMParse          = "LLM_PARSE"
	ErrCodePersist           = "PERSIST"
	ErrCodeRecoveryExhausted = "RECOVERY_EXHAUSTED"
)

// ProcessingRecord is one submission attempt. Its ID doubles as the
// correlation id carried on every stream message and log line.
type ProcessingRecord struct {
	ID              uuid.UUID        `json:"id"`
	SourceType      SourceType       `json:"source_type"`
	SourceURL       *string          `json:"source_url,omitempty"`
	ContentHash     string           `json:"content_hash"`
	Simhash         uint64           `json:"simhash"`
	Status          ProcessingStatus `json:"status"`
	SnapshotID      *uuid.UUID       `json:"snapshot_id,omitempty"`
	SummaryID       *uuid.UUID       `json:"summary_id,omitempty"`
	LLMResult       []byte           `json:"-"` // cached raw StructuredResult, read by stuck recovery
	DuplicateReason *string          `json:"duplicate_reason,omitempty"`
	ErrorCode       *string          `json:"error_code,omitempty"`
	ErrorMsg        *string          `json:"error_message,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}
