package entity

import (
	"time"

	"github.com/google/uuid"
)

// StructuredResult is the parsed LLM output. Everything except the narrative
// summary fields is optional; absent fields stay empty, never guessed.
type StructuredResult struct {
	BrandName        string   `json:"brand_name,omitempty"`
	PositionName     string   `json:"position_name,omitempty"`
	CareerType       string   `json:"career_type,omitempty"`
	Summary          string   `json:"summary"`
	Insight          string   `json:"insight"`
	Responsibilities []string `json:"responsibilities,omitempty"`
	Qualifications   []string `json:"qualifications,omitempty"`
	Preferred        []string `json:"preferred,omitempty"`
	TechStack        []string `json:"tech_stack,omitempty"`
}

// JobSummary is the published result: structured LLM output resolved against
// the brand/position taxonomy, denormalized for search.
type JobSummary struct {
	ID              uuid.UUID        `json:"id"`
	SnapshotID      uuid.UUID        `json:"snapshot_id"`
	BrandID         int64            `json:"brand_id"`
	BrandName       string           `json:"brand_name"`
	PositionID      int64            `json:"position_id"`
	PositionName    string           `json:"position_name"`
	BrandPositionID int64            `json:"brand_position_id"`
	CategoryID      *int64           `json:"category_id,omitempty"`
	Result          StructuredResult `json:"result"`
	Active          bool             `json:"active"`
	CreatedAt       time.Time        `json:"created_at"`
}

type Brand struct {
	ID             int64
	Name           string
	NormalizedName string
}

type Position struct {
	ID         int64
	Name       string
	CategoryID *int64
}

type BrandPosition struct {
	ID         int64
	BrandID    int64
	PositionID int64
}
