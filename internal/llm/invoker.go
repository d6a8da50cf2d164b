package llm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/sony/gobreaker/v2"

	"jd-summary-service/internal/entity"
	"jd-summary-service/internal/metrics"
)

// Invoker tries the primary provider, then the fallback, behind one error
// surface. The caller never sees which provider answered.
type Invoker struct {
	providers []Provider
}

func NewInvoker(primary, fallback Provider, settings BreakerSettings) *Invoker {
	providers := []Provider{newBreakerProvider(primary, settings)}
	if fallback != nil {
		providers = append(providers, newBreakerProvider(fallback, settings))
	}
	return &Invoker{providers: providers}
}

// Invoke returns the validated structured result and the raw content it was
// parsed from (cached on the record for crash recovery).
func (i *Invoker) Invoke(ctx context.Context, req Request) (entity.StructuredResult, []byte, error) {
	system := buildSystemPrompt(req)
	user := buildUserPrompt(req)

	var lastErr error
	for _, p := range i.providers {
		start := time.Now()
		raw, err := p.Complete(ctx, system, user)
		if err != nil {
			outcome := "transport_error"
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				outcome = "short_circuited"
			}
			metrics.LLMCalls.WithLabelValues(p.Name(), outcome).Inc()
			log.Printf("[llm] correlation_id=%s provider=%s outcome=%s duration_ms=%d error=%v",
				req.CorrelationID, p.Name(), outcome, time.Since(start).Milliseconds(), err)
			lastErr = err
			continue
		}
		metrics.LLMLatency.WithLabelValues(p.Name()).Observe(time.Since(start).Seconds())

		result, perr := ParseResult(raw)
		if perr != nil {
			metrics.LLMCalls.WithLabelValues(p.Name(), "parse_error").Inc()
			log.Printf("[llm] correlation_id=%s provider=%s outcome=parse_error error=%v",
				req.CorrelationID, p.Name(), perr)
			lastErr = perr
			continue
		}

		metrics.LLMCalls.WithLabelValues(p.Name(), "ok").Inc()
		log.Printf("[llm] correlation_id=%s provider=%s outcome=ok duration_ms=%d",
			req.CorrelationID, p.Name(), time.Since(start).Milliseconds())
		return result, raw, nil
	}

	if lastErr == nil {
		lastErr = errors.New("no providers configured")
	}
	return entity.StructuredResult{}, nil, fmt.Errorf("all providers failed: %w", lastErr)
}
