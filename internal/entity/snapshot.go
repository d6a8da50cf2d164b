package entity

import (
	"time"

	"github.com/google/uuid"
)

// JdSnapshot is the immutable accepted JD body. Exactly one row exists per
// canonical submission; reprocessed attempts reuse the snapshot id.
type JdSnapshot struct {
	ID            uuid.UUID  `json:"id"`
	CanonicalText string     `json:"canonical_text"`
	ContentHash   string     `json:"content_hash"`
	Simhash       uint64     `json:"simhash"`
	BrandHint     string     `json:"brand_hint"`
	PositionHint  string     `json:"position_hint"`
	PeriodFrom    *time.Time `json:"period_from,omitempty"`
	PeriodTo      *time.Time `json:"period_to,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// SnapshotMatch is what the intake policy sees when a fingerprint hits an
// existing snapshot: the snapshot plus the fate of its last attempt.
type SnapshotMatch struct {
	Snapshot     JdSnapshot
	LatestStatus ProcessingStatus
	HasSummary   bool
}
