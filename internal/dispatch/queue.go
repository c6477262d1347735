// Package dispatch hands work to the owner's main loop and to a bounded
// pool of background workers.
package dispatch

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// SealPolicy decides what Post does once the queue is sealed.
type SealPolicy int

const (
	// SealDrop discards tasks posted after Seal.
	SealDrop SealPolicy = iota
	// SealInline runs tasks posted after Seal on the caller's goroutine.
	SealInline
)

// Queue runs posted tasks one at a time, in submission order, on a
// single goroutine standing in for the main thread.
type Queue struct {
	mu      sync.Mutex
	pending []func()
	sealed  bool
	policy  SealPolicy
	wake    chan struct{}
	log     logrus.FieldLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithSealPolicy sets what happens to tasks posted after Seal.
func WithSealPolicy(p SealPolicy) QueueOption {
	return func(q *Queue) { q.policy = p }
}

// WithQueueLogger sets the logger used to report task panics.
func WithQueueLogger(log logrus.FieldLogger) QueueOption {
	return func(q *Queue) { q.log = log }
}

// NewQueue starts a queue.
func NewQueue(opts ...QueueOption) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		wake:   make(chan struct{}, 1),
		log:    logrus.StandardLogger(),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(q)
	}

	q.wg.Add(1)
	go q.loop()
	return q
}

// Post queues fn. It reports whether fn was accepted; after Seal it is
// dropped or run inline according to the seal policy.
func (q *Queue) Post(fn func()) bool {
	q.mu.Lock()
	if q.sealed {
		q.mu.Unlock()
		if q.policy == SealInline {
			q.run(fn)
			return true
		}
		return false
	}
	q.pending = append(q.pending, fn)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// Do posts fn and waits for it to finish or ctx to end.
func (q *Queue) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !q.Post(func() {
		defer close(done)
		fn()
	}) {
		return ErrSealed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending returns the number of tasks waiting to run.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Seal stops accepting tasks, runs the ones already queued and waits for
// the loop to exit. It is idempotent and must not be called from a task.
func (q *Queue) Seal() {
	q.mu.Lock()
	q.sealed = true
	q.mu.Unlock()
	q.cancel()
	q.wg.Wait()
}

func (q *Queue) loop() {
	defer q.wg.Done()
	for {
		select {
		case <-q.ctx.Done():
			q.drain()
			return
		case <-q.wake:
			q.drain()
		}
	}
}

func (q *Queue) drain() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.mu.Unlock()
			return
		}
		fn := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.mu.Unlock()

		q.run(fn)
	}
}

func (q *Queue) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			q.log.WithField("panic", r).Error("queued task panicked")
		}
	}()
	fn()
}
