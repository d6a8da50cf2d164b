package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type fakeProvider struct {
	name    string
	calls   int
	content []byte
	err     error
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Complete(ctx context.Context, system, user string) ([]byte, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.content, nil
}

var validContent = []byte(`{
	"brand_name": "Acme",
	"position_name": "Backend Engineer",
	"summary": "Backend role at Acme working on Kotlin services.",
	"insight": "Strong fit for experienced JVM engineers.",
	"tech_stack": ["kotlin", "spring"]
}`)

func looseSettings() BreakerSettings {
	// high trip floor so breaker behavior stays out of non-breaker tests
	return BreakerSettings{MinRequests: 1000, FailureRate: 0.99, OpenFor: time.Hour}
}

func TestInvoke_PrimaryFailureFallsBack(t *testing.T) {
	primary := &fakeProvider{name: "primary", err: errors.New("connection refused")}
	fallback := &fakeProvider{name: "fallback", content: validContent}
	inv := NewInvoker(primary, fallback, looseSettings())

	result, raw, err := inv.Invoke(context.Background(), Request{CorrelationID: "c-1", CanonicalText: "jd"})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if primary.calls != 1 || fallback.calls != 1 {
		t.Fatalf("expected one call each, got primary=%d fallback=%d", primary.calls, fallback.calls)
	}
	if result.BrandName != "Acme" || result.PositionName != "Backend Engineer" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(raw) == 0 {
		t.Fatalf("raw content must be returned for caching")
	}
}

func TestInvoke_ParseErrorIsDistinctFromTransport(t *testing.T) {
	primary := &fakeProvider{name: "primary", content: []byte(`{"nope": true}`)}
	fallback := &fakeProvider{name: "fallback", content: []byte(`not json at all`)}
	inv := NewInvoker(primary, fallback, looseSettings())

	_, _, err := inv.Invoke(context.Background(), Request{CorrelationID: "c-2", CanonicalText: "jd"})
	if !errors.Is(err, ErrParse) {
		t.Fatalf("expected ErrParse, got %v", err)
	}
}

func TestInvoke_ParseErrorStillTriesFallback(t *testing.T) {
	primary := &fakeProvider{name: "primary", content: []byte(`{"bad": 1}`)}
	fallback := &fakeProvider{name: "fallback", content: validContent}
	inv := NewInvoker(primary, fallback, looseSettings())

	result, _, err := inv.Invoke(context.Background(), Request{CorrelationID: "c-3", CanonicalText: "jd"})
	if err != nil {
		t.Fatalf("expected fallback to rescue parse failure, got %v", err)
	}
	if result.Summary == "" {
		t.Fatalf("expected fallback result")
	}
}

func TestInvoke_BreakerOpensAndShortCircuits(t *testing.T) {
	primary := &fakeProvider{name: "flaky", err: errors.New("timeout")}
	inv := NewInvoker(primary, nil, BreakerSettings{
		MinRequests: 4,
		FailureRate: 0.5,
		OpenFor:     time.Hour,
		HalfOpenMax: 1,
	})

	for i := 0; i < 4; i++ {
		if _, _, err := inv.Invoke(context.Background(), Request{CorrelationID: "c-4"}); err == nil {
			t.Fatalf("expected error on attempt %d", i)
		}
	}

	callsBefore := primary.calls
	for i := 0; i < 5; i++ {
		if _, _, err := inv.Invoke(context.Background(), Request{CorrelationID: "c-4"}); err == nil {
			t.Fatalf("expected short-circuit error")
		}
	}
	if primary.calls != callsBefore {
		t.Fatalf("open breaker must not invoke the provider: calls went %d -> %d", callsBefore, primary.calls)
	}
}

func TestInvoke_ParseErrorsDoNotTripBreaker(t *testing.T) {
	primary := &fakeProvider{name: "drifting", content: []byte(`{"wrong_shape": true}`)}
	inv := NewInvoker(primary, nil, BreakerSettings{
		MinRequests: 3,
		FailureRate: 0.5,
		OpenFor:     time.Hour,
	})

	for i := 0; i < 10; i++ {
		_, _, err := inv.Invoke(context.Background(), Request{CorrelationID: "c-5"})
		if !errors.Is(err, ErrParse) {
			t.Fatalf("attempt %d: expected ErrParse, got %v", i, err)
		}
	}
	// every attempt must have reached the provider: schema drift is not an outage
	if primary.calls != 10 {
		t.Fatalf("expected 10 provider calls, got %d", primary.calls)
	}
}

func TestHTTPProvider_FallbackScenario(t *testing.T) {
	primarySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream timeout", http.StatusGatewayTimeout)
	}))
	defer primarySrv.Close()

	fallbackSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"choices":[{"message":{"content":%q}}]}`, string(validContent))
	}))
	defer fallbackSrv.Close()

	inv := NewInvoker(
		NewHTTPProvider(ProviderConfig{Name: "primary", BaseURL: primarySrv.URL, Model: "m"}),
		NewHTTPProvider(ProviderConfig{Name: "fallback", BaseURL: fallbackSrv.URL, Model: "m"}),
		looseSettings(),
	)

	result, _, err := inv.Invoke(context.Background(), Request{
		CorrelationID: "c-6",
		BrandHint:     "Acme",
		CanonicalText: "backend engineer @ acme, 3+ years kotlin",
	})
	if err != nil {
		t.Fatalf("expected fallback success, got %v", err)
	}
	if result.BrandName != "Acme" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestParseResult_MissingRequiredField(t *testing.T) {
	_, err := ParseResult([]byte(`{"summary": "only summary"}`))
	if !errors.Is(err, ErrParse) {
		t.Fatalf("expected ErrParse for missing insight, got %v", err)
	}
}
