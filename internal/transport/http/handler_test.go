package httptransport_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"jd-summary-service/internal/entity"
	"jd-summary-service/internal/intake"
	"jd-summary-service/internal/repository/postgresql"
	httptransport "jd-summary-service/internal/transport/http"
)

// ---- fakes ----

type intakeStub struct {
	lastReq intake.SubmitRequest
	result  intake.SubmitResult
	records map[uuid.UUID]*entity.ProcessingRecord
}

func (s *intakeStub) Submit(ctx context.Context, req intake.SubmitRequest) (intake.SubmitResult, error) {
	s.lastReq = req
	return s.result, nil
}

func (s *intakeStub) GetRecord(ctx context.Context, id uuid.UUID) (*entity.ProcessingRecord, error) {
	rec, ok := s.records[id]
	if !ok {
		return nil, postgresql.ErrNotFound
	}
	return rec, nil
}

type summariesStub struct {
	summaries map[uuid.UUID]*entity.JobSummary
}

func (s *summariesStub) GetByID(ctx context.Context, id uuid.UUID) (*entity.JobSummary, error) {
	sum, ok := s.summaries[id]
	if !ok {
		return nil, postgresql.ErrNotFound
	}
	return sum, nil
}

type adminStub struct {
	reprocessed []uuid.UUID
	ignored     map[uuid.UUID]string
	err         error
}

func (a *adminStub) ReprocessOne(ctx context.Context, id uuid.UUID) error {
	if a.err != nil {
		return a.err
	}
	a.reprocessed = append(a.reprocessed, id)
	return nil
}

func (a *adminStub) IgnoreOne(ctx context.Context, id uuid.UUID, reason string) error {
	if a.err != nil {
		return a.err
	}
	if a.ignored == nil {
		a.ignored = map[uuid.UUID]string{}
	}
	a.ignored[id] = reason
	return nil
}

type failedReaderStub struct {
	events map[uuid.UUID]*entity.FailedEvent
}

func (f *failedReaderStub) GetByID(ctx context.Context, id uuid.UUID) (*entity.FailedEvent, error) {
	ev, ok := f.events[id]
	if !ok {
		return nil, postgresql.ErrNotFound
	}
	return ev, nil
}

func (f *failedReaderStub) ListFailed(ctx context.Context, limit int) ([]entity.FailedEvent, error) {
	var out []entity.FailedEvent
	for _, ev := range f.events {
		out = append(out, *ev)
	}
	return out, nil
}

// ---- tests ----

func TestHTTP_CreateSubmission_202_Accepted(t *testing.T) {
	id := uuid.MustParse("33333333-3333-3333-3333-333333333333")
	svc := &intakeStub{result: intake.SubmitResult{RecordID: id, Status: entity.StatusReceived}}
	router := httptransport.Routes(httptransport.NewHandler(svc, &summariesStub{}), nil)

	body := `{"source_type":"TEXT","raw_text":"senior backend engineer, go, distributed systems","brand":"Acme"}`
	req := httptest.NewRequest(http.MethodPost, "/submissions", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()

	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d, body=%s", rr.Code, rr.Body.String())
	}
	var resp struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json response: %v, body=%s", err, rr.Body.String())
	}
	if resp.ID != id.String() || resp.Status != "RECEIVED" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if svc.lastReq.BrandHint != "Acme" {
		t.Fatalf("brand hint not passed through, got %q", svc.lastReq.BrandHint)
	}
}

func TestHTTP_CreateSubmission_DuplicateCarriesReason(t *testing.T) {
	id := uuid.MustParse("44444444-4444-4444-4444-444444444444")
	svc := &intakeStub{result: intake.SubmitResult{
		RecordID: id,
		Status:   entity.StatusDuplicate,
		Decision: intake.Decision{Kind: intake.KindDuplicate, Reason: intake.ReasonContentDuplicate},
	}}
	router := httptransport.Routes(httptransport.NewHandler(svc, &summariesStub{}), nil)

	body := `{"source_type":"TEXT","raw_text":"the same posting again, word for word"}`
	req := httptest.NewRequest(http.MethodPost, "/submissions", bytes.NewBufferString(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rr.Code)
	}
	var resp struct {
		DuplicateReason string `json:"duplicate_reason"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)
	if resp.DuplicateReason != string(intake.ReasonContentDuplicate) {
		t.Fatalf("expected duplicate reason, got %q", resp.DuplicateReason)
	}
}

func TestHTTP_CreateSubmission_400_OnBadSourceType(t *testing.T) {
	router := httptransport.Routes(httptransport.NewHandler(&intakeStub{}, &summariesStub{}), nil)

	body := `{"source_type":"CARRIER_PIGEON","raw_text":"whatever text this is"}`
	req := httptest.NewRequest(http.MethodPost, "/submissions", bytes.NewBufferString(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d, body=%s", rr.Code, rr.Body.String())
	}
}

func TestHTTP_GetSummary_409_WhileInFlight(t *testing.T) {
	id := uuid.MustParse("55555555-5555-5555-5555-555555555555")
	svc := &intakeStub{records: map[uuid.UUID]*entity.ProcessingRecord{
		id: {ID: id, SourceType: entity.SourceText, Status: entity.StatusSummarizing,
			CreatedAt: time.Now(), UpdatedAt: time.Now()},
	}}
	router := httptransport.Routes(httptransport.NewHandler(svc, &summariesStub{}), nil)

	req := httptest.NewRequest(http.MethodGet, "/submissions/"+id.String()+"/summary", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d, body=%s", rr.Code, rr.Body.String())
	}
}

func TestHTTP_GetSummary_200_WhenCompleted(t *testing.T) {
	recID := uuid.MustParse("66666666-6666-6666-6666-666666666666")
	sumID := uuid.MustParse("77777777-7777-7777-7777-777777777777")

	svc := &intakeStub{records: map[uuid.UUID]*entity.ProcessingRecord{
		recID: {ID: recID, SourceType: entity.SourceText, Status: entity.StatusCompleted,
			SummaryID: &sumID, CreatedAt: time.Now(), UpdatedAt: time.Now()},
	}}
	sums := &summariesStub{summaries: map[uuid.UUID]*entity.JobSummary{
		sumID: {ID: sumID, BrandName: "Acme", PositionName: "Backend Engineer",
			Result: entity.StructuredResult{Summary: "Backend role.", Insight: "Go heavy."}},
	}}
	router := httptransport.Routes(httptransport.NewHandler(svc, sums), nil)

	req := httptest.NewRequest(http.MethodGet, "/submissions/"+recID.String()+"/summary", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d, body=%s", rr.Code, rr.Body.String())
	}
	var got map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid json: %v, body=%s", err, rr.Body.String())
	}
	if got["brand_name"] != "Acme" {
		t.Fatalf("expected brand_name=Acme, got %v", got["brand_name"])
	}
}

func TestHTTP_GetSubmission_404_Unknown(t *testing.T) {
	router := httptransport.Routes(httptransport.NewHandler(&intakeStub{}, &summariesStub{}), nil)

	req := httptest.NewRequest(http.MethodGet, "/submissions/"+uuid.NewString(), nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestHTTP_Admin_ReprocessAndIgnore(t *testing.T) {
	id := uuid.MustParse("88888888-8888-8888-8888-888888888888")
	admin := &adminStub{}
	reader := &failedReaderStub{events: map[uuid.UUID]*entity.FailedEvent{
		id: {ID: id, Stream: "jd.submissions", Status: entity.FailedEventFailed},
	}}
	router := httptransport.Routes(httptransport.NewHandler(&intakeStub{}, &summariesStub{}), httptransport.NewAdminHandler(admin, reader))

	req := httptest.NewRequest(http.MethodPost, "/admin/failed-events/"+id.String()+"/reprocess", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("reprocess: expected 200, got %d, body=%s", rr.Code, rr.Body.String())
	}
	if len(admin.reprocessed) != 1 || admin.reprocessed[0] != id {
		t.Fatalf("reprocess not forwarded: %v", admin.reprocessed)
	}

	body := `{"reason":"payload from decommissioned partner"}`
	req = httptest.NewRequest(http.MethodPost, "/admin/failed-events/"+id.String()+"/ignore", bytes.NewBufferString(body))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("ignore: expected 200, got %d, body=%s", rr.Code, rr.Body.String())
	}
	if admin.ignored[id] == "" {
		t.Fatalf("ignore reason not forwarded")
	}
}

func TestHTTP_Admin_ReprocessConflictOnReplayFailure(t *testing.T) {
	id := uuid.New()
	admin := &adminStub{err: errors.New("replay failed again")}
	router := httptransport.Routes(httptransport.NewHandler(&intakeStub{}, &summariesStub{}), httptransport.NewAdminHandler(admin, &failedReaderStub{}))

	req := httptest.NewRequest(http.MethodPost, "/admin/failed-events/"+id.String()+"/reprocess", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
}
