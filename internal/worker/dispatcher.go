package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"jd-summary-service/internal/stream"
)

var ErrShuttingDown = errors.New("dispatcher shutting down")

// Dispatcher bounds in-flight pipeline work with a counting semaphore.
// Dispatch blocks the calling consumer on permit acquisition: once N units
// are in flight the consumers stop pulling, which is the backpressure that
// keeps ingestion honest. The permit is released on every completion path.
type Dispatcher struct {
	proc *Processor
	sem  *semaphore.Weighted

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup

	drainTimeout time.Duration
}

func NewDispatcher(proc *Processor, maxConcurrent int64, drainTimeout time.Duration) *Dispatcher {
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}
	if drainTimeout <= 0 {
		drainTimeout = 30 * time.Second
	}
	return &Dispatcher{
		proc:         proc,
		sem:          semaphore.NewWeighted(maxConcurrent),
		drainTimeout: drainTimeout,
	}
}

// Handle adapts Dispatch to the stream consumer's handler contract.
func (d *Dispatcher) Handle(ctx context.Context, msg stream.Message) error {
	sub, err := stream.ParseSubmission(msg.Values)
	if err != nil {
		return err // ErrUnprocessable: consumer dead-letters it
	}
	return d.Dispatch(ctx, sub)
}

// Dispatch runs one submission as its own joined task. The caller blocks
// until the task finishes (so acknowledgement still means "processed"), or
// until ctx is cancelled. On cancellation the task keeps its permit until its
// own context checks stop it, and the permit is still released by defer.
func (d *Dispatcher) Dispatch(ctx context.Context, sub stream.Submission) error {
	// the wg.Add must share the critical section with the closed check, or a
	// Dispatch slipping past the check could race Shutdown's wg.Wait
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrShuttingDown
	}
	d.wg.Add(1)
	d.mu.Unlock()

	if err := d.sem.Acquire(ctx, 1); err != nil {
		d.wg.Done()
		return err
	}

	done := make(chan error, 1)
	go func() {
		defer d.wg.Done()
		defer d.sem.Release(1)
		done <- d.run(ctx, sub)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run(ctx context.Context, sub stream.Submission) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline panic: %v", r)
			log.Printf("[worker] processing_id=%s panic=%v", sub.RecordID, r)
		}
	}()
	return d.proc.Process(ctx, sub)
}

// Shutdown stops new dispatches and waits up to drainTimeout for in-flight
// work; stragglers are abandoned to their context cancellation.
func (d *Dispatcher) Shutdown() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	doneCh := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-doneCh:
		log.Printf("[worker] dispatcher drained")
	case <-time.After(d.drainTimeout):
		log.Printf("[worker] dispatcher drain timeout after %s, abandoning stragglers", d.drainTimeout)
	}
}
