package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"jd-summary-service/internal/entity"
	"jd-summary-service/internal/repository/postgresql"
	"jd-summary-service/internal/stream"
	"jd-summary-service/internal/worker"
)

// ---- fakes ----

type fakeFailedStore struct {
	mu     sync.Mutex
	events map[uuid.UUID]*entity.FailedEvent
	err    error
}

func newFakeFailedStore() *fakeFailedStore {
	return &fakeFailedStore{events: map[uuid.UUID]*entity.FailedEvent{}}
}

func (f *fakeFailedStore) Create(ctx context.Context, ev *entity.FailedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	ev.CreatedAt = time.Now()
	cp := *ev
	f.events[ev.ID] = &cp
	return nil
}

func (f *fakeFailedStore) GetByID(ctx context.Context, id uuid.UUID) (*entity.FailedEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.events[id]
	if !ok {
		return nil, postgresql.ErrNotFound
	}
	cp := *ev
	return &cp, nil
}

func (f *fakeFailedStore) ListFailed(ctx context.Context, limit int) ([]entity.FailedEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []entity.FailedEvent
	for _, ev := range f.events {
		if ev.Status == entity.FailedEventFailed && len(out) < limit {
			out = append(out, *ev)
		}
	}
	return out, nil
}

func (f *fakeFailedStore) MarkReprocessed(ctx context.Context, id uuid.UUID) error {
	return f.setStatus(id, entity.FailedEventReprocessed, nil)
}

func (f *fakeFailedStore) MarkIgnored(ctx context.Context, id uuid.UUID, reason string) error {
	return f.setStatus(id, entity.FailedEventIgnored, &reason)
}

func (f *fakeFailedStore) BumpRetry(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.events[id]
	if !ok {
		return postgresql.ErrNotFound
	}
	ev.RetryCount++
	return nil
}

func (f *fakeFailedStore) setStatus(id uuid.UUID, st entity.FailedEventStatus, reason *string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	ev, ok := f.events[id]
	if !ok || ev.Status != entity.FailedEventFailed {
		return postgresql.ErrNotFound
	}
	ev.Status = st
	ev.IgnoreReason = reason
	return nil
}

type fakeFailer struct {
	mu     sync.Mutex
	failed map[uuid.UUID]string
}

func (f *fakeFailer) MarkFailed(ctx context.Context, id uuid.UUID, code, msg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failed == nil {
		f.failed = map[uuid.UUID]string{}
	}
	f.failed[id] = code
	return nil
}

type fakeStuckStore struct {
	fakeFailer
	stuck []entity.ProcessingRecord
}

func (f *fakeStuckStore) ListStuck(ctx context.Context, olderThan time.Duration, limit int) ([]entity.ProcessingRecord, error) {
	return f.stuck, nil
}

type fakeSnapshots struct {
	snaps map[uuid.UUID]*entity.JdSnapshot
}

func (f *fakeSnapshots) GetByID(ctx context.Context, id uuid.UUID) (*entity.JdSnapshot, error) {
	s, ok := f.snaps[id]
	if !ok {
		return nil, postgresql.ErrNotFound
	}
	return s, nil
}

type fakeCompleter struct {
	mu    sync.Mutex
	calls []uuid.UUID
}

func (f *fakeCompleter) CompleteFromResult(ctx context.Context, recordID, snapshotID uuid.UUID, brandHint, positionHint string, result entity.StructuredResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, recordID)
	return nil
}

// pipelineRecords backs the end-to-end race test: it serves both the sweep's
// listing side and the processor's record side.
type pipelineRecords struct {
	mu   sync.Mutex
	recs map[uuid.UUID]*entity.ProcessingRecord
}

func (f *pipelineRecords) GetByID(ctx context.Context, id uuid.UUID) (*entity.ProcessingRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.recs[id]
	if !ok {
		return nil, postgresql.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *pipelineRecords) MarkSummarizing(ctx context.Context, id, snapshotID uuid.UUID) error {
	return nil
}

func (f *pipelineRecords) CacheLLMResult(ctx context.Context, id uuid.UUID, raw []byte) error {
	return nil
}

func (f *pipelineRecords) AdoptSummary(ctx context.Context, id, summaryID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.recs[id]
	if !ok {
		return postgresql.ErrNotFound
	}
	if r.Status != entity.StatusSummarizing {
		return postgresql.ErrStaleTransition
	}
	r.Status = entity.StatusCompleted
	r.SummaryID = &summaryID
	return nil
}

func (f *pipelineRecords) MarkFailed(ctx context.Context, id uuid.UUID, code, msg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.recs[id]; ok {
		r.Status = entity.StatusFailed
		r.ErrorCode = &code
	}
	return nil
}

func (f *pipelineRecords) ListStuck(ctx context.Context, olderThan time.Duration, limit int) ([]entity.ProcessingRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []entity.ProcessingRecord
	for _, r := range f.recs {
		if r.Status == entity.StatusSummarizing && len(r.LLMResult) > 0 {
			out = append(out, *r)
		}
	}
	return out, nil
}

type stubTaxonomy struct{}

func (stubTaxonomy) GetOrCreateBrand(ctx context.Context, name string) (entity.Brand, error) {
	return entity.Brand{ID: 1, Name: name}, nil
}

func (stubTaxonomy) ResolvePosition(ctx context.Context, name string) (entity.Position, error) {
	return entity.Position{ID: 2, Name: name}, nil
}

func (stubTaxonomy) GetOrCreateBrandPosition(ctx context.Context, brandID, positionID int64) (entity.BrandPosition, error) {
	return entity.BrandPosition{ID: 3, BrandID: brandID, PositionID: positionID}, nil
}

func (stubTaxonomy) PositionNames(ctx context.Context) ([]string, error) {
	return nil, nil
}

// seededCommitter starts out already holding a summary per snapshot, so every
// commit attempt loses the race.
type seededCommitter struct {
	mu        sync.Mutex
	summaries map[uuid.UUID]entity.JobSummary
}

func (f *seededCommitter) CompleteSummarization(ctx context.Context, recordID uuid.UUID, summary *entity.JobSummary, outbox *entity.OutboxEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.summaries[summary.SnapshotID]; exists {
		return postgresql.ErrAlreadyCompleted
	}
	f.summaries[summary.SnapshotID] = *summary
	return nil
}

func (f *seededCommitter) GetBySnapshotID(ctx context.Context, snapshotID uuid.UUID) (*entity.JobSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.summaries[snapshotID]
	if !ok {
		return nil, postgresql.ErrNotFound
	}
	return &s, nil
}

// ---- failure recorder ----

func submissionValues(recordID uuid.UUID) map[string]interface{} {
	return stream.Submission{
		CorrelationID: recordID,
		Timestamp:     time.Now(),
		RecordID:      recordID,
		SnapshotID:    uuid.New(),
		SourceType:    entity.SourceText,
		ContentHash:   "abc",
		Simhash:       42,
		Canonical:     "senior gopher wanted, distributed systems",
	}.Values()
}

func TestFailureRecorder_PersistsAndParksRecord(t *testing.T) {
	store := newFakeFailedStore()
	failer := &fakeFailer{}
	recID := uuid.New()

	rec := NewFailureRecorder(store, failer, "jd.submissions", "jd-workers")
	rec.Record(context.Background(), stream.Message{
		ID:         "1690000000000-0",
		Values:     submissionValues(recID),
		Deliveries: 4,
	}, errors.New("boom"))

	if len(store.events) != 1 {
		t.Fatalf("expected one failed event, got %d", len(store.events))
	}
	for _, ev := range store.events {
		if ev.Key != recID.String() {
			t.Fatalf("key = %q, want record id %s", ev.Key, recID)
		}
		if ev.ErrorType != "HANDLER_ERROR" || ev.RetryCount != 4 {
			t.Fatalf("unexpected event: type=%s retries=%d", ev.ErrorType, ev.RetryCount)
		}
		var vals map[string]interface{}
		if err := json.Unmarshal([]byte(ev.Value), &vals); err != nil {
			t.Fatalf("stored value must round-trip as JSON: %v", err)
		}
	}
	if failer.failed[recID] != entity.ErrCodeRecoveryExhausted {
		t.Fatalf("record must be parked with RECOVERY_EXHAUSTED, got %q", failer.failed[recID])
	}
}

func TestFailureRecorder_ClassifiesUnprocessable(t *testing.T) {
	store := newFakeFailedStore()
	rec := NewFailureRecorder(store, nil, "jd.submissions", "jd-workers")

	rec.Record(context.Background(), stream.Message{
		ID:     "1-0",
		Values: map[string]interface{}{"meta.type": "garbage"},
	}, fmt.Errorf("%w: unexpected meta.type", stream.ErrUnprocessable))

	for _, ev := range store.events {
		if ev.ErrorType != "UNPROCESSABLE" {
			t.Fatalf("error_type = %q, want UNPROCESSABLE", ev.ErrorType)
		}
	}
}

// ---- reprocessor ----

func storedEvent(store *fakeFailedStore, values map[string]interface{}, age time.Duration, retries int) uuid.UUID {
	raw, _ := json.Marshal(values)
	id := uuid.New()
	store.events[id] = &entity.FailedEvent{
		ID:         id,
		Stream:     "jd.submissions",
		MessageID:  "5-0",
		Value:      string(raw),
		RetryCount: retries,
		Status:     entity.FailedEventFailed,
		CreatedAt:  time.Now().Add(-age),
	}
	return id
}

func TestReprocessor_SuccessMarksReprocessed(t *testing.T) {
	store := newFakeFailedStore()
	id := storedEvent(store, submissionValues(uuid.New()), time.Hour, 1)

	var handled []string
	r := NewReprocessor(store, func(ctx context.Context, msg stream.Message) error {
		handled = append(handled, msg.ID)
		return nil
	}, ReprocessorConfig{})

	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(handled) != 1 {
		t.Fatalf("handler calls = %d, want 1", len(handled))
	}
	if store.events[id].Status != entity.FailedEventReprocessed {
		t.Fatalf("status = %s, want REPROCESSED", store.events[id].Status)
	}
}

func TestReprocessor_ExpiredIsIgnoredWithoutReplay(t *testing.T) {
	store := newFakeFailedStore()
	id := storedEvent(store, submissionValues(uuid.New()), 8*24*time.Hour, 0)

	r := NewReprocessor(store, func(ctx context.Context, msg stream.Message) error {
		t.Fatalf("expired event must not be replayed")
		return nil
	}, ReprocessorConfig{MaxAge: 7 * 24 * time.Hour})

	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if store.events[id].Status != entity.FailedEventIgnored {
		t.Fatalf("status = %s, want IGNORED", store.events[id].Status)
	}
}

func TestReprocessor_RetryBudgetExhausted(t *testing.T) {
	store := newFakeFailedStore()
	id := storedEvent(store, submissionValues(uuid.New()), time.Hour, 4)

	r := NewReprocessor(store, func(ctx context.Context, msg stream.Message) error {
		return errors.New("still broken")
	}, ReprocessorConfig{MaxRetries: 5})

	if err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	ev := store.events[id]
	if ev.Status != entity.FailedEventIgnored {
		t.Fatalf("status = %s, want IGNORED after budget", ev.Status)
	}
	if ev.RetryCount != 5 {
		t.Fatalf("retry_count = %d, want 5", ev.RetryCount)
	}
}

func TestReprocessor_ReprocessOneRejectsNonFailed(t *testing.T) {
	store := newFakeFailedStore()
	id := storedEvent(store, submissionValues(uuid.New()), time.Hour, 0)
	store.events[id].Status = entity.FailedEventIgnored

	r := NewReprocessor(store, func(ctx context.Context, msg stream.Message) error { return nil }, ReprocessorConfig{})
	if err := r.ReprocessOne(context.Background(), id); err == nil {
		t.Fatalf("expected error for non-FAILED event")
	}
}

// ---- stuck recovery ----

func cachedResult(t *testing.T) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"brand_name":    "Acme",
		"position_name": "Backend Engineer",
		"summary":       "Backend role at Acme.",
		"insight":       "Strong Go emphasis.",
	})
	if err != nil {
		t.Fatal(err)
	}
	return raw
}

func TestStuckRecovery_ReplaysCachedResult(t *testing.T) {
	snapID := uuid.New()
	recID := uuid.New()

	records := &fakeStuckStore{stuck: []entity.ProcessingRecord{{
		ID:         recID,
		Status:     entity.StatusSummarizing,
		SnapshotID: &snapID,
		LLMResult:  cachedResult(t),
	}}}
	snaps := &fakeSnapshots{snaps: map[uuid.UUID]*entity.JdSnapshot{
		snapID: {ID: snapID, BrandHint: "Acme", PositionHint: "Backend Engineer"},
	}}
	completer := &fakeCompleter{}

	sr := NewStuckRecovery(records, snaps, completer, StuckRecoveryConfig{})
	if err := sr.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if len(completer.calls) != 1 || completer.calls[0] != recID {
		t.Fatalf("expected one completion for %s, got %v", recID, completer.calls)
	}
	if len(records.failed) != 0 {
		t.Fatalf("successful recovery must not fail the record")
	}
}

func TestStuckRecovery_UnusableCacheParksRecord(t *testing.T) {
	snapID := uuid.New()
	recID := uuid.New()

	records := &fakeStuckStore{stuck: []entity.ProcessingRecord{{
		ID:         recID,
		Status:     entity.StatusSummarizing,
		SnapshotID: &snapID,
		LLMResult:  []byte(`{"summary": 12}`),
	}}}
	completer := &fakeCompleter{}

	sr := NewStuckRecovery(records, &fakeSnapshots{}, completer, StuckRecoveryConfig{})
	if err := sr.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if len(completer.calls) != 0 {
		t.Fatalf("unparseable cache must not reach the completer")
	}
	if records.failed[recID] != entity.ErrCodeRecoveryExhausted {
		t.Fatalf("expected RECOVERY_EXHAUSTED, got %q", records.failed[recID])
	}
}

func TestStuckRecovery_LostRaceAdoptsExistingSummary(t *testing.T) {
	snapID := uuid.New()
	loserID := uuid.New()
	winning := entity.JobSummary{ID: uuid.New(), SnapshotID: snapID}

	records := &pipelineRecords{recs: map[uuid.UUID]*entity.ProcessingRecord{
		loserID: {
			ID:         loserID,
			Status:     entity.StatusSummarizing,
			SnapshotID: &snapID,
			LLMResult:  cachedResult(t),
		},
	}}
	snaps := &fakeSnapshots{snaps: map[uuid.UUID]*entity.JdSnapshot{
		snapID: {ID: snapID, BrandHint: "Acme", PositionHint: "Backend Engineer"},
	}}
	committer := &seededCommitter{summaries: map[uuid.UUID]entity.JobSummary{snapID: winning}}
	completer := worker.NewProcessor(records, stubTaxonomy{}, committer, nil)

	sr := NewStuckRecovery(records, snaps, completer, StuckRecoveryConfig{})
	if err := sr.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	rec := records.recs[loserID]
	if rec.Status != entity.StatusCompleted {
		t.Fatalf("race loser must leave SUMMARIZING, still %s", rec.Status)
	}
	if rec.SummaryID == nil || *rec.SummaryID != winning.ID {
		t.Fatalf("race loser must adopt summary %s, got %v", winning.ID, rec.SummaryID)
	}

	// the next sweep must find nothing left to recover
	listed, err := records.ListStuck(context.Background(), 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(listed) != 0 {
		t.Fatalf("recovered record must not be re-listed, got %d", len(listed))
	}
}
