package dispatch

import (
	"errors"
	"runtime"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ErrSealed is returned when work is offered to a sealed queue.
var ErrSealed = errors.New("dispatch queue sealed")

// Pool runs one-shot background jobs on at most a fixed number of
// goroutines.
type Pool struct {
	g   errgroup.Group
	log logrus.FieldLogger
}

// Background is the process-wide pool for one-shot background work.
var Background = sync.OnceValue(func() *Pool { return NewPool(0, nil) })

// NewPool returns a pool running at most limit jobs at once. A limit of
// zero or less means one per CPU.
func NewPool(limit int, log logrus.FieldLogger) *Pool {
	if limit <= 0 {
		limit = runtime.NumCPU()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	p := &Pool{log: log}
	p.g.SetLimit(limit)
	return p
}

// Go runs job, blocking while the pool is full. A failing job is logged;
// it does not affect other jobs.
func (p *Pool) Go(name string, job func() error) {
	p.g.Go(func() error {
		if err := job(); err != nil {
			p.log.WithError(err).WithField("job", name).Debug("background job failed")
		}
		return nil
	})
}

// TryGo is Go without blocking; it reports whether job was started.
func (p *Pool) TryGo(name string, job func() error) bool {
	return p.g.TryGo(func() error {
		if err := job(); err != nil {
			p.log.WithError(err).WithField("job", name).Debug("background job failed")
		}
		return nil
	})
}

// Wait blocks until every started job has returned.
func (p *Pool) Wait() {
	p.g.Wait()
}

// Run runs jobs on the pool and waits for them, not for other work the
// pool is doing.
func (p *Pool) Run(name string, jobs ...func() error) {
	var wg sync.WaitGroup
	wg.Add(len(jobs))
	for _, job := range jobs {
		p.Go(name, func() error {
			defer wg.Done()
			return job()
		})
	}
	wg.Wait()
}
