// Package intake decides what a submission is (fresh, duplicate, retry of a
// failed attempt) and turns accepted ones into processing records plus a
// stream message. Duplicate is a first-class outcome here, never an error.
package intake

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"jd-summary-service/internal/canonical"
	"jd-summary-service/internal/entity"
	"jd-summary-service/internal/repository/postgresql"
)

type Kind string

const (
	KindNotDuplicate  Kind = "NOT_DUPLICATE"
	KindDuplicate     Kind = "DUPLICATE"
	KindReprocessable Kind = "REPROCESSABLE"
)

type Reason string

const (
	ReasonURLDuplicate     Reason = "URL_DUPLICATE"
	ReasonContentDuplicate Reason = "CONTENT_DUPLICATE"
	ReasonNearDuplicate    Reason = "NEAR_DUPLICATE"
)

// Decision is the policy's closed result value. SnapshotID is set when an
// existing snapshot must be reused (reprocessing, or a stale failed snapshot
// whose content-hash row already exists).
type Decision struct {
	Kind       Kind
	Reason     Reason
	SnapshotID *uuid.UUID
}

// SnapshotIndex is the read side the policy needs.
type SnapshotIndex interface {
	ActiveSummaryExistsForURL(ctx context.Context, url string) (bool, error)
	FindByContentHash(ctx context.Context, hash string) (*entity.SnapshotMatch, error)
	RecentFingerprints(ctx context.Context, limit int) ([]entity.JdSnapshot, error)
}

type PolicyConfig struct {
	// MaxSimhashDistance is the near-duplicate hamming threshold; 0 disables
	// near-duplicate detection entirely.
	MaxSimhashDistance uint8
	// ReprocessWindow bounds how stale a failed snapshot may be and still be
	// treated as a retry of the same posting.
	ReprocessWindow time.Duration
	// CandidateWindow caps how many recent fingerprints the near-dup scan reads.
	CandidateWindow int
}

func (c PolicyConfig) withDefaults() PolicyConfig {
	if c.ReprocessWindow <= 0 {
		c.ReprocessWindow = 72 * time.Hour
	}
	if c.CandidateWindow <= 0 {
		c.CandidateWindow = 512
	}
	return c
}

type Policy struct {
	snapshots SnapshotIndex
	cfg       PolicyConfig
}

func NewPolicy(snapshots SnapshotIndex, cfg PolicyConfig) *Policy {
	return &Policy{snapshots: snapshots, cfg: cfg.withDefaults()}
}

// Submission is the already-fingerprinted input to classification.
type Submission struct {
	SourceType   entity.SourceType
	SourceURL    string
	ContentHash  string
	Simhash      uint64
	BrandHint    string
	PositionHint string
}

// Classify evaluates the decision rules in fixed order.
func (p *Policy) Classify(ctx context.Context, sub Submission) (Decision, error) {
	// 1. URL already summarized
	if sub.SourceType == entity.SourceURL && sub.SourceURL != "" {
		exists, err := p.snapshots.ActiveSummaryExistsForURL(ctx, sub.SourceURL)
		if err != nil {
			return Decision{}, err
		}
		if exists {
			return Decision{Kind: KindDuplicate, Reason: ReasonURLDuplicate}, nil
		}
	}

	// 2/3. exact content match
	match, err := p.snapshots.FindByContentHash(ctx, sub.ContentHash)
	if err != nil && !errors.Is(err, postgresql.ErrNotFound) {
		return Decision{}, err
	}
	if match != nil {
		return p.classifyExactMatch(match), nil
	}

	// 4. near-duplicate scan
	if p.cfg.MaxSimhashDistance > 0 {
		dup, err := p.nearDuplicate(ctx, sub)
		if err != nil {
			return Decision{}, err
		}
		if dup {
			return Decision{Kind: KindDuplicate, Reason: ReasonNearDuplicate}, nil
		}
	}

	// 5. fresh posting
	return Decision{Kind: KindNotDuplicate}, nil
}

func (p *Policy) classifyExactMatch(match *entity.SnapshotMatch) Decision {
	id := match.Snapshot.ID

	if match.HasSummary || match.LatestStatus == entity.StatusCompleted {
		return Decision{Kind: KindDuplicate, Reason: ReasonContentDuplicate}
	}

	switch match.LatestStatus {
	case entity.StatusReceived, entity.StatusSummarizing:
		// same content is already in flight; a second attempt would only race
		// the atomic commit and lose
		return Decision{Kind: KindDuplicate, Reason: ReasonContentDuplicate}
	}

	// prior attempt failed; inside the window it's a retry of that attempt,
	// outside it's a fresh posting that happens to reuse the immutable snapshot
	if time.Since(match.Snapshot.CreatedAt) <= p.cfg.ReprocessWindow {
		return Decision{Kind: KindReprocessable, SnapshotID: &id}
	}
	return Decision{Kind: KindNotDuplicate, SnapshotID: &id}
}

func (p *Policy) nearDuplicate(ctx context.Context, sub Submission) (bool, error) {
	if sub.BrandHint == "" {
		return false, nil // without a brand to corroborate, distance alone is too aggressive
	}

	candidates, err := p.snapshots.RecentFingerprints(ctx, p.cfg.CandidateWindow)
	if err != nil {
		return false, err
	}
	for _, c := range candidates {
		if c.ContentHash == sub.ContentHash {
			continue
		}
		if canonical.Distance(c.Simhash, sub.Simhash) > p.cfg.MaxSimhashDistance {
			continue
		}
		if !hintsMatch(c.BrandHint, sub.BrandHint) {
			continue
		}
		// when both sides carry a position hint it must corroborate too;
		// the same brand posting two near-identical roles is not a duplicate
		if c.PositionHint != "" && sub.PositionHint != "" && !hintsMatch(c.PositionHint, sub.PositionHint) {
			continue
		}
		return true, nil
	}
	return false, nil
}

func hintsMatch(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
