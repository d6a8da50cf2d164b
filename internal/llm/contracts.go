// Package llm calls the summarization providers and turns their output into
// a validated StructuredResult. Transport failures and schema failures are
// different animals here: the first means the provider is unhealthy, the
// second means the prompt or schema drifted.
package llm

import (
	"context"
	"errors"
)

// ErrParse marks a response that arrived but does not match the structured
// result schema. It never counts against a provider's circuit breaker.
var ErrParse = errors.New("llm response does not match schema")

// Request carries everything the prompt needs for one invocation.
type Request struct {
	CorrelationID      string
	BrandHint          string
	PositionHint       string
	PositionCandidates []string
	Skills             []string
	CanonicalText      string
}

// Provider is one upstream model endpoint. Complete returns the raw content
// of the model's reply; it does not interpret it.
type Provider interface {
	Name() string
	Complete(ctx context.Context, system, user string) ([]byte, error)
}
