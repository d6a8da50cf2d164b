package llm

import (
	"context"
	"log"
	"time"

	"github.com/sony/gobreaker/v2"

	"jd-summary-service/internal/metrics"
)

type BreakerSettings struct {
	MinRequests uint32        // minimum samples in the window before the rate can trip
	FailureRate float64       // open at or above this failure rate
	OpenFor     time.Duration // cool-down before half-open
	HalfOpenMax uint32        // trial calls allowed while half-open
	Window      time.Duration // closed-state counting window
}

func (s BreakerSettings) withDefaults() BreakerSettings {
	if s.MinRequests == 0 {
		s.MinRequests = 10
	}
	if s.FailureRate <= 0 {
		s.FailureRate = 0.5
	}
	if s.OpenFor <= 0 {
		s.OpenFor = 30 * time.Second
	}
	if s.HalfOpenMax == 0 {
		s.HalfOpenMax = 2
	}
	if s.Window <= 0 {
		s.Window = time.Minute
	}
	return s
}

// breakerProvider wraps exactly the transport call in a circuit breaker.
// Parsing happens outside, so schema drift can never open a breaker whose
// meaning is "this provider is down".
type breakerProvider struct {
	inner Provider
	cb    *gobreaker.CircuitBreaker[[]byte]
}

func newBreakerProvider(inner Provider, s BreakerSettings) *breakerProvider {
	s = s.withDefaults()
	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        inner.Name(),
		MaxRequests: s.HalfOpenMax,
		Interval:    s.Window,
		Timeout:     s.OpenFor,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.Requests >= s.MinRequests &&
				float64(c.TotalFailures)/float64(c.Requests) >= s.FailureRate
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("[llm] provider=%s breaker %s -> %s", name, from, to)
			metrics.BreakerState.WithLabelValues(name).Set(breakerStateValue(to))
		},
	})
	return &breakerProvider{inner: inner, cb: cb}
}

func (b *breakerProvider) Name() string { return b.inner.Name() }

func (b *breakerProvider) Complete(ctx context.Context, system, user string) ([]byte, error) {
	return b.cb.Execute(func() ([]byte, error) {
		return b.inner.Complete(ctx, system, user)
	})
}

func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateOpen:
		return 2
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 0
	}
}
