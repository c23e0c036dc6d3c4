package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	defaultEffectTimeout = 15 * time.Second
	diagnosticsBuffer    = 64
)

// Failure describes a side effect that did not complete.
type Failure struct {
	CaseID string
	Effect string
	Err    error
	At     time.Time
}

// Effects runs post-commit side effects, each in its own goroutine with a
// context detached from the request. Failures are counted and offered on
// Diagnostics; a failure that finds the buffer full is logged here instead.
type Effects struct {
	Timeout time.Duration

	logger   *slog.Logger
	failures metric.Int64Counter
	diag     chan Failure
	failed   atomic.Int64
	wg       sync.WaitGroup
}

func NewEffects(logger *slog.Logger, failures metric.Int64Counter, timeout time.Duration) *Effects {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = defaultEffectTimeout
	}
	return &Effects{
		Timeout:  timeout,
		logger:   logger,
		failures: failures,
		diag:     make(chan Failure, diagnosticsBuffer),
	}
}

// Go schedules fn. It never blocks and never returns fn's error.
func (e *Effects) Go(ctx context.Context, caseID, name string, fn func(context.Context) error) {
	e.wg.Add(1)
	base := context.WithoutCancel(ctx)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(base, e.Timeout)
		defer cancel()
		var err error
		func() {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			err = fn(ctx)
		}()
		if err != nil {
			e.report(ctx, Failure{CaseID: caseID, Effect: name, Err: err, At: time.Now().UTC()})
		}
	}()
}

func (e *Effects) report(ctx context.Context, f Failure) {
	e.failed.Add(1)
	if e.failures != nil {
		e.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("effect", f.Effect)))
	}
	select {
	case e.diag <- f:
	default:
		e.logger.Warn("side effect failed", "case_id", f.CaseID, "effect", f.Effect, "error", f.Err, "diagnostics", "overflow")
	}
}

// Diagnostics yields failures in the order they were reported.
func (e *Effects) Diagnostics() <-chan Failure { return e.diag }

// Drain hands every failure to fn until ctx is done, then flushes what is
// still buffered and returns.
func (e *Effects) Drain(ctx context.Context, fn func(Failure)) {
	for {
		select {
		case f := <-e.diag:
			fn(f)
		case <-ctx.Done():
			for {
				select {
				case f := <-e.diag:
					fn(f)
				default:
					return
				}
			}
		}
	}
}

// Failed is the number of failures since start.
func (e *Effects) Failed() int64 { return e.failed.Load() }

// Wait blocks until every scheduled effect has finished.
func (e *Effects) Wait() { e.wg.Wait() }
