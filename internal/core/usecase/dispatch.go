package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/kirillkom/inpatient-cdi-review/internal/core/domain"
	"github.com/kirillkom/inpatient-cdi-review/internal/core/ports"
)

var errDispatcherClosed = errors.New("dispatcher is shutting down")

// InProcessDispatcher runs each review on its own goroutine, detached from
// the submitting request's lifetime.
type InProcessDispatcher struct {
	runner  ports.ReviewRunner
	timeout time.Duration

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
	base   context.Context
	cancel context.CancelFunc
}

func NewInProcessDispatcher(runner ports.ReviewRunner, timeout time.Duration) *InProcessDispatcher {
	base, cancel := context.WithCancel(context.Background())
	return &InProcessDispatcher{runner: runner, timeout: timeout, base: base, cancel: cancel}
}

func (d *InProcessDispatcher) Dispatch(ctx context.Context, job domain.ReviewJob) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return domain.WrapError(domain.ErrTemporary, "dispatch review", errDispatcherClosed)
	}

	runCtx := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := d.jobContext(runCtx)
		defer cancel()
		if err := d.runner.Execute(ctx, job); err != nil {
			slog.Debug("review_run_finished_with_error", "review_key", job.ReviewKey, "error", err)
		}
	}()
	return nil
}

// Shutdown stops accepting work and waits for running reviews. When ctx
// expires first, running reviews are cancelled.
func (d *InProcessDispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

func (d *InProcessDispatcher) jobContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, stop := context.WithCancel(parent)
	release := context.AfterFunc(d.base, stop)
	if d.timeout > 0 {
		timed, cancelTimeout := context.WithTimeout(ctx, d.timeout)
		return timed, func() {
			cancelTimeout()
			release()
			stop()
		}
	}
	return ctx, func() {
		release()
		stop()
	}
}
