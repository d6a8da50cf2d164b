package intake

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"jd-summary-service/internal/canonical"
	"jd-summary-service/internal/entity"
	"jd-summary-service/internal/metrics"
	"jd-summary-service/internal/stream"
)

// MinCanonicalLen is the shortest canonical text worth an LLM call; anything
// below it fails validation outright.
const MinCanonicalLen = 30

type RecordStore interface {
	Create(ctx context.Context, rec *entity.ProcessingRecord) error
	GetByID(ctx context.Context, id uuid.UUID) (*entity.ProcessingRecord, error)
	MarkFailed(ctx context.Context, id uuid.UUID, code, msg string) error
}

type SnapshotStore interface {
	SnapshotIndex
	Create(ctx context.Context, snap *entity.JdSnapshot) error
}

type Publisher interface {
	PublishSubmission(ctx context.Context, sub stream.Submission) (string, error)
}

type Service struct {
	records   RecordStore
	snapshots SnapshotStore
	policy    *Policy
	pub       Publisher
}

func NewService(records RecordStore, snapshots SnapshotStore, policy *Policy, pub Publisher) *Service {
	return &Service{records: records, snapshots: snapshots, policy: policy, pub: pub}
}

type SubmitRequest struct {
	SourceType   entity.SourceType
	SourceURL    string
	RawText      string
	BrandHint    string
	PositionHint string
	Skills       []string
	PeriodFrom   *time.Time
	PeriodTo     *time.Time
}

type SubmitResult struct {
	RecordID uuid.UUID
	Status   entity.ProcessingStatus
	Decision Decision
}

// Submit canonicalizes and classifies one submission, persists the record
// (and snapshot, when fresh), and enqueues accepted work. Duplicates and
// validation failures terminate immediately without LLM spend.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	recordID := uuid.New()
	canon := canonical.Canonicalize(req.RawText)
	hash, sim := canonical.Fingerprint(canon)

	var srcURL *string
	if req.SourceURL != "" {
		srcURL = &req.SourceURL
	}

	if len(canon) < MinCanonicalLen {
		code := entity.ErrCodeValidation
		msg := "canonical text too short"
		rec := &entity.ProcessingRecord{
			ID:          recordID,
			SourceType:  req.SourceType,
			SourceURL:   srcURL,
			ContentHash: hash,
			Simhash:     sim,
			Status:      entity.StatusFailed,
			ErrorCode:   &code,
			ErrorMsg:    &msg,
		}
		if err := s.records.Create(ctx, rec); err != nil {
			return SubmitResult{}, err
		}
		metrics.RecordsTerminal.WithLabelValues(string(entity.StatusFailed)).Inc()
		log.Printf("[intake] processing_id=%s status=FAILED error_code=%s", recordID, code)
		return SubmitResult{RecordID: recordID, Status: entity.StatusFailed}, nil
	}

	decision, err := s.policy.Classify(ctx, Submission{
		SourceType:   req.SourceType,
		SourceURL:    req.SourceURL,
		ContentHash:  hash,
		Simhash:      sim,
		BrandHint:    req.BrandHint,
		PositionHint: req.PositionHint,
	})
	if err != nil {
		return SubmitResult{}, err
	}
	metrics.IntakeDecisions.WithLabelValues(string(decision.Kind), string(decision.Reason)).Inc()

	if decision.Kind == KindDuplicate {
		reason := string(decision.Reason)
		rec := &entity.ProcessingRecord{
			ID:              recordID,
			SourceType:      req.SourceType,
			SourceURL:       srcURL,
			ContentHash:     hash,
			Simhash:         sim,
			Status:          entity.StatusDuplicate,
			DuplicateReason: &reason,
		}
		if err := s.records.Create(ctx, rec); err != nil {
			return SubmitResult{}, err
		}
		metrics.RecordsTerminal.WithLabelValues(string(entity.StatusDuplicate)).Inc()
		log.Printf("[intake] processing_id=%s status=DUPLICATE reason=%s", recordID, reason)
		return SubmitResult{RecordID: recordID, Status: entity.StatusDuplicate, Decision: decision}, nil
	}

	snapshotID, err := s.resolveSnapshot(ctx, decision, canon, hash, sim, req)
	if err != nil {
		return SubmitResult{}, err
	}

	rec := &entity.ProcessingRecord{
		ID:          recordID,
		SourceType:  req.SourceType,
		SourceURL:   srcURL,
		ContentHash: hash,
		Simhash:     sim,
		Status:      entity.StatusReceived,
		SnapshotID:  &snapshotID,
	}
	if err := s.records.Create(ctx, rec); err != nil {
		return SubmitResult{}, err
	}

	sub := stream.Submission{
		CorrelationID: recordID,
		Timestamp:     time.Now().UTC(),
		BrandHint:     req.BrandHint,
		PositionHint:  req.PositionHint,
		RecordID:      recordID,
		SnapshotID:    snapshotID,
		SourceType:    req.SourceType,
		SourceURL:     req.SourceURL,
		ContentHash:   hash,
		Simhash:       sim,
		Canonical:     canon,
		Skills:        req.Skills,
	}
	if req.PeriodFrom != nil {
		sub.PeriodFrom = req.PeriodFrom.UTC().Format(time.RFC3339)
	}
	if req.PeriodTo != nil {
		sub.PeriodTo = req.PeriodTo.UTC().Format(time.RFC3339)
	}

	if _, err := s.pub.PublishSubmission(ctx, sub); err != nil {
		// record must not sit in RECEIVED forever; FAILED makes the retry
		// classify as reprocessable
		_ = s.records.MarkFailed(ctx, recordID, entity.ErrCodePersist, "enqueue failed: "+err.Error())
		return SubmitResult{}, err
	}

	log.Printf("[intake] processing_id=%s status=RECEIVED decision=%s snapshot_id=%s",
		recordID, decision.Kind, snapshotID)
	return SubmitResult{RecordID: recordID, Status: entity.StatusReceived, Decision: decision}, nil
}

func (s *Service) resolveSnapshot(
	ctx context.Context,
	decision Decision,
	canon, hash string,
	sim uint64,
	req SubmitRequest,
) (uuid.UUID, error) {
	if decision.SnapshotID != nil {
		return *decision.SnapshotID, nil
	}

	snap := &entity.JdSnapshot{
		ID:            uuid.New(),
		CanonicalText: canon,
		ContentHash:   hash,
		Simhash:       sim,
		BrandHint:     req.BrandHint,
		PositionHint:  req.PositionHint,
		PeriodFrom:    req.PeriodFrom,
		PeriodTo:      req.PeriodTo,
	}
	// Create re-reads on a hash collision, so snap.ID is authoritative after
	if err := s.snapshots.Create(ctx, snap); err != nil {
		return uuid.Nil, err
	}
	return snap.ID, nil
}

func (s *Service) GetRecord(ctx context.Context, id uuid.UUID) (*entity.ProcessingRecord, error) {
	return s.records.GetByID(ctx, id)
}
