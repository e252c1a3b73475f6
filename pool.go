package carwings

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// DefaultWorkers is the default number of concurrent REST calls.
const DefaultWorkers = 4

// Pool runs background REST work with bounded concurrency. Go never blocks
// the caller, so it is safe to use from push-channel handlers.
type Pool struct {
	sem    *semaphore.Weighted
	wg     sync.WaitGroup
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
}

// NewPool creates a pool running at most size tasks at once.
func NewPool(size int, logger *zap.Logger) *Pool {
	if size <= 0 {
		size = DefaultWorkers
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		sem:    semaphore.NewWeighted(int64(size)),
		logger: logger,
	}
}

// Go queues task. It is dropped if ctx is done before a worker frees up,
// or if the pool was closed.
func (p *Pool) Go(ctx context.Context, task func(context.Context)) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.logger.Debug("task dropped, pool closed")
		return
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		if err := p.sem.Acquire(ctx, 1); err != nil {
			p.logger.Debug("task dropped", zap.Error(err))
			return
		}
		defer p.sem.Release(1)
		task(ctx)
	}()
}

// Wait blocks until every queued task finished or was dropped. It must not
// run concurrently with Go; use Close for that.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Close stops accepting tasks and waits for the queued ones. It is safe to
// call while other goroutines are calling Go.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
}
