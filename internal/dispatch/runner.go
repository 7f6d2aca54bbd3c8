package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lojasmm/shipbot/internal/logging"
)

var (
	ErrBusy     = errors.New("dispatch: task already running for key")
	ErrClosed   = errors.New("dispatch: runner closed")
	ErrPanicked = errors.New("dispatch: task panicked")
)

// Runner executes slow tasks off the caller's goroutine. At most one task
// per key runs at a time, at most workers tasks run at once, and each task's
// deliver callback is invoked exactly once.
type Runner[T any] struct {
	slots   chan struct{}
	timeout time.Duration
	logger  *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]string
	closed   bool
}

type result[T any] struct {
	val T
	err error
}

// NewRunner creates a runner. A timeout of zero means tasks are only
// cancelled by Close.
func NewRunner[T any](workers int, timeout time.Duration, logger *logging.Logger) *Runner[T] {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = logging.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner[T]{
		slots:    make(chan struct{}, workers),
		timeout:  timeout,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		inflight: make(map[string]string),
	}
}

// Submit schedules work under key and returns its job ID. deliver receives
// the result, a timeout error or ErrPanicked. The key stays busy until
// deliver returns.
func (r *Runner[T]) Submit(key string, work func(ctx context.Context) (T, error), deliver func(T, error)) (string, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return "", ErrClosed
	}
	if _, busy := r.inflight[key]; busy {
		r.mu.Unlock()
		return "", ErrBusy
	}
	jobID := uuid.NewString()
	r.inflight[key] = jobID
	r.wg.Add(1)
	r.mu.Unlock()

	go r.run(key, jobID, work, deliver)
	return jobID, nil
}

// InFlight reports how many keys are busy.
func (r *Runner[T]) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inflight)
}

// Close stops accepting work and waits for running tasks. When ctx expires
// first, running tasks are cancelled and ctx's error is returned.
func (r *Runner[T]) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		<-done
		return ctx.Err()
	}
}

func (r *Runner[T]) run(key, jobID string, work func(context.Context) (T, error), deliver func(T, error)) {
	defer r.wg.Done()
	defer r.release(key)

	start := time.Now()
	val, err := r.execute(work)
	r.logger.Debug("dispatch: task finished", "job", jobID, "key", key,
		"duration", time.Since(start), "error", err)

	r.deliver(jobID, deliver, val, err)
}

func (r *Runner[T]) execute(work func(context.Context) (T, error)) (T, error) {
	var zero T

	select {
	case r.slots <- struct{}{}:
	case <-r.ctx.Done():
		return zero, ErrClosed
	}
	defer func() { <-r.slots }()

	ctx, cancel := r.taskContext()
	defer cancel()

	ch := make(chan result[T], 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				ch <- result[T]{err: fmt.Errorf("%w: %v", ErrPanicked, p)}
			}
		}()
		v, err := work(ctx)
		ch <- result[T]{val: v, err: err}
	}()

	select {
	case res := <-ch:
		return res.val, res.err
	case <-ctx.Done():
		select {
		case res := <-ch:
			return res.val, res.err
		default:
			return zero, ctx.Err()
		}
	}
}

func (r *Runner[T]) taskContext() (context.Context, context.CancelFunc) {
	if r.timeout > 0 {
		return context.WithTimeout(r.ctx, r.timeout)
	}
	return context.WithCancel(r.ctx)
}

func (r *Runner[T]) deliver(jobID string, fn func(T, error), val T, err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("dispatch: deliver panicked", "job", jobID, "panic", p)
		}
	}()
	fn(val, err)
}

func (r *Runner[T]) release(key string) {
	r.mu.Lock()
	delete(r.inflight, key)
	r.mu.Unlock()
}
