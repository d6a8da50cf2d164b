package intake_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"

	"jd-summary-service/internal/canonical"
	"jd-summary-service/internal/entity"
	"jd-summary-service/internal/intake"
	"jd-summary-service/internal/repository/postgresql"
	"jd-summary-service/internal/stream"
)

// ---- fakes ----

type fakeSnapshots struct {
	byHash     map[string]*entity.SnapshotMatch
	activeURLs map[string]bool
	recent     []entity.JdSnapshot

	created []entity.JdSnapshot
}

func newFakeSnapshots() *fakeSnapshots {
	return &fakeSnapshots{
		byHash:     map[string]*entity.SnapshotMatch{},
		activeURLs: map[string]bool{},
	}
}

func (f *fakeSnapshots) ActiveSummaryExistsForURL(ctx context.Context, url string) (bool, error) {
	return f.activeURLs[url], nil
}

func (f *fakeSnapshots) FindByContentHash(ctx context.Context, hash string) (*entity.SnapshotMatch, error) {
	m, ok := f.byHash[hash]
	if !ok {
		return nil, postgresql.ErrNotFound
	}
	return m, nil
}

func (f *fakeSnapshots) RecentFingerprints(ctx context.Context, limit int) ([]entity.JdSnapshot, error) {
	return f.recent, nil
}

func (f *fakeSnapshots) Create(ctx context.Context, snap *entity.JdSnapshot) error {
	snap.CreatedAt = time.Now().UTC()
	f.created = append(f.created, *snap)
	f.byHash[snap.ContentHash] = &entity.SnapshotMatch{
		Snapshot:     *snap,
		LatestStatus: entity.StatusReceived,
	}
	return nil
}

type fakeRecords struct {
	created []entity.ProcessingRecord
	failed  []uuid.UUID
}

func (f *fakeRecords) Create(ctx context.Context, rec *entity.ProcessingRecord) error {
	rec.CreatedAt = time.Now().UTC()
	rec.UpdatedAt = rec.CreatedAt
	f.created = append(f.created, *rec)
	return nil
}

func (f *fakeRecords) GetByID(ctx context.Context, id uuid.UUID) (*entity.ProcessingRecord, error) {
	for i := range f.created {
		if f.created[i].ID == id {
			return &f.created[i], nil
		}
	}
	return nil, postgresql.ErrNotFound
}

func (f *fakeRecords) MarkFailed(ctx context.Context, id uuid.UUID, code, msg string) error {
	f.failed = append(f.failed, id)
	return nil
}

type fakePublisher struct {
	published []stream.Submission
	err       error
}

func (f *fakePublisher) PublishSubmission(ctx context.Context, sub stream.Submission) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.published = append(f.published, sub)
	return "1-0", nil
}

func newService(snaps *fakeSnapshots, recs *fakeRecords, pub *fakePublisher) *intake.Service {
	policy := intake.NewPolicy(snaps, intake.PolicyConfig{MaxSimhashDistance: 3})
	return intake.NewService(recs, snaps, policy, pub)
}

const jdText = "Backend Engineer @ Acme, 3+ years Kotlin, Spring Boot, AWS, MSA experience preferred"

// ---- tests ----

func TestSubmit_FreshPosting(t *testing.T) {
	snaps := newFakeSnapshots()
	recs := &fakeRecords{}
	pub := &fakePublisher{}
	svc := newService(snaps, recs, pub)

	res, err := svc.Submit(context.Background(), intake.SubmitRequest{
		SourceType: entity.SourceText,
		RawText:    jdText,
		BrandHint:  "Acme",
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	if res.Status != entity.StatusReceived {
		t.Fatalf("expected RECEIVED, got %s", res.Status)
	}
	if len(snaps.created) != 1 {
		t.Fatalf("expected one snapshot, got %d", len(snaps.created))
	}
	if len(pub.published) != 1 {
		t.Fatalf("expected one published message, got %d", len(pub.published))
	}

	msg := pub.published[0]
	if msg.RecordID != res.RecordID || msg.CorrelationID != res.RecordID {
		t.Fatalf("record id must be the correlation id: %+v", msg)
	}
	if msg.SnapshotID != snaps.created[0].ID {
		t.Fatalf("message must carry the snapshot id")
	}
}

func TestSubmit_SecondIdenticalTextIsDuplicate(t *testing.T) {
	snaps := newFakeSnapshots()
	recs := &fakeRecords{}
	pub := &fakePublisher{}
	svc := newService(snaps, recs, pub)

	first, err := svc.Submit(context.Background(), intake.SubmitRequest{
		SourceType: entity.SourceText, RawText: jdText, BrandHint: "Acme",
	})
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}
	// first attempt completed
	snaps.byHash[snaps.created[0].ContentHash].HasSummary = true
	snaps.byHash[snaps.created[0].ContentHash].LatestStatus = entity.StatusCompleted

	second, err := svc.Submit(context.Background(), intake.SubmitRequest{
		SourceType: entity.SourceText, RawText: jdText, BrandHint: "Acme",
	})
	if err != nil {
		t.Fatalf("second submit: %v", err)
	}

	if second.Status != entity.StatusDuplicate {
		t.Fatalf("expected DUPLICATE, got %s", second.Status)
	}
	if second.Decision.Reason != intake.ReasonContentDuplicate {
		t.Fatalf("expected CONTENT_DUPLICATE, got %s", second.Decision.Reason)
	}
	if second.RecordID == first.RecordID {
		t.Fatalf("each attempt gets its own record")
	}
	if len(snaps.created) != 1 {
		t.Fatalf("duplicate must not create a snapshot")
	}
	if len(pub.published) != 1 {
		t.Fatalf("duplicate must not be enqueued")
	}
}

func TestSubmit_URLDuplicate(t *testing.T) {
	snaps := newFakeSnapshots()
	snaps.activeURLs["https://jobs.example.com/42"] = true
	recs := &fakeRecords{}
	pub := &fakePublisher{}
	svc := newService(snaps, recs, pub)

	res, err := svc.Submit(context.Background(), intake.SubmitRequest{
		SourceType: entity.SourceURL,
		SourceURL:  "https://jobs.example.com/42",
		RawText:    jdText,
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if res.Decision.Reason != intake.ReasonURLDuplicate {
		t.Fatalf("expected URL_DUPLICATE, got %s", res.Decision.Reason)
	}
}

func TestSubmit_FailedAttemptIsReprocessable(t *testing.T) {
	snaps := newFakeSnapshots()
	recs := &fakeRecords{}
	pub := &fakePublisher{}
	svc := newService(snaps, recs, pub)

	canon := canonical.Canonicalize(jdText)
	hash, sim := canonical.Fingerprint(canon)
	existingID := uuid.MustParse("99999999-9999-9999-9999-999999999999")
	snaps.byHash[hash] = &entity.SnapshotMatch{
		Snapshot: entity.JdSnapshot{
			ID: existingID, ContentHash: hash, Simhash: sim,
			CreatedAt: time.Now().Add(-time.Hour),
		},
		LatestStatus: entity.StatusFailed,
	}

	res, err := svc.Submit(context.Background(), intake.SubmitRequest{
		SourceType: entity.SourceText, RawText: jdText,
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	if res.Decision.Kind != intake.KindReprocessable {
		t.Fatalf("expected REPROCESSABLE, got %s", res.Decision.Kind)
	}
	if len(snaps.created) != 0 {
		t.Fatalf("reprocessing must not write a new snapshot")
	}
	if len(pub.published) != 1 || pub.published[0].SnapshotID != existingID {
		t.Fatalf("reprocessing must enqueue with the existing snapshot id")
	}
}

func TestSubmit_NearDuplicateSameBrand(t *testing.T) {
	snaps := newFakeSnapshots()
	recs := &fakeRecords{}
	pub := &fakePublisher{}
	svc := newService(snaps, recs, pub)

	canon := canonical.Canonicalize(jdText)
	_, sim := canonical.Fingerprint(canon)
	snaps.recent = []entity.JdSnapshot{{
		ID:          uuid.New(),
		ContentHash: "other-hash",
		Simhash:     sim ^ 1, // one bit away
		BrandHint:   "acme",
	}}

	res, err := svc.Submit(context.Background(), intake.SubmitRequest{
		SourceType: entity.SourceText, RawText: jdText, BrandHint: "Acme",
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if res.Decision.Reason != intake.ReasonNearDuplicate {
		t.Fatalf("expected NEAR_DUPLICATE, got kind=%s reason=%s", res.Decision.Kind, res.Decision.Reason)
	}
	if len(pub.published) != 0 {
		t.Fatalf("near-duplicate must not be enqueued")
	}
}

func TestSubmit_NearDuplicateDifferentPositionIsFresh(t *testing.T) {
	snaps := newFakeSnapshots()
	recs := &fakeRecords{}
	pub := &fakePublisher{}
	svc := newService(snaps, recs, pub)

	canon := canonical.Canonicalize(jdText)
	_, sim := canonical.Fingerprint(canon)
	snaps.recent = []entity.JdSnapshot{{
		ID:           uuid.New(),
		ContentHash:  "other-hash",
		Simhash:      sim ^ 1,
		BrandHint:    "acme",
		PositionHint: "Data Engineer",
	}}

	// same brand, near-identical text, but a different role: both hints are
	// present and disagree, so this is a fresh posting
	res, err := svc.Submit(context.Background(), intake.SubmitRequest{
		SourceType:   entity.SourceText,
		RawText:      jdText,
		BrandHint:    "Acme",
		PositionHint: "Backend Engineer",
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if res.Status != entity.StatusReceived {
		t.Fatalf("expected RECEIVED, got %s (reason=%s)", res.Status, res.Decision.Reason)
	}
	if len(pub.published) != 1 {
		t.Fatalf("fresh posting must be enqueued")
	}
}

func TestSubmit_TooShortFailsValidationWithoutEnqueue(t *testing.T) {
	snaps := newFakeSnapshots()
	recs := &fakeRecords{}
	pub := &fakePublisher{}
	svc := newService(snaps, recs, pub)

	res, err := svc.Submit(context.Background(), intake.SubmitRequest{
		SourceType: entity.SourceText, RawText: "too short",
	})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	if res.Status != entity.StatusFailed {
		t.Fatalf("expected FAILED, got %s", res.Status)
	}
	if len(recs.created) != 1 || recs.created[0].ErrorCode == nil ||
		*recs.created[0].ErrorCode != entity.ErrCodeValidation {
		t.Fatalf("expected VALIDATION error code on the record")
	}
	if len(pub.published) != 0 {
		t.Fatalf("validation failure must not be enqueued")
	}
}

func TestSubmit_EnqueueFailureMarksRecordFailed(t *testing.T) {
	snaps := newFakeSnapshots()
	recs := &fakeRecords{}
	pub := &fakePublisher{err: context.DeadlineExceeded}
	svc := newService(snaps, recs, pub)

	_, err := svc.Submit(context.Background(), intake.SubmitRequest{
		SourceType: entity.SourceText, RawText: jdText,
	})
	if err == nil {
		t.Fatalf("expected enqueue error to surface")
	}
	if len(recs.failed) != 1 {
		t.Fatalf("record must be failed so a retry classifies as reprocessable")
	}
}
