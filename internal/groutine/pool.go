package groutine

import (
	"context"
	"errors"
	"runtime/pprof"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ErrPoolClosed is returned by Submit after Close.
var ErrPoolClosed = errors.New("pool is closed")

// Pool runs named tasks on a bounded number of goroutines. Task errors are
// returned to the task's own caller through its callback, never to the pool,
// so one failing task does not cancel the others.
type Pool struct {
	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	mu     sync.RWMutex
	closed bool
}

// NewPool creates a pool running at most size tasks at once. size <= 0 means
// no limit.
func NewPool(parent context.Context, size int) *Pool {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	g := &errgroup.Group{}
	if size > 0 {
		g.SetLimit(size)
	}
	return &Pool{ctx: ctx, cancel: cancel, group: g}
}

// Context returns the pool context. It is cancelled by Close.
func (p *Pool) Context() context.Context {
	return p.ctx
}

// Submit schedules fn under the given name. It blocks while the pool is at its
// limit. fn receives the pool context labelled with name.
func (p *Pool) Submit(name string, fn func(ctx context.Context)) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed || p.ctx.Err() != nil {
		return ErrPoolClosed
	}

	p.group.Go(func() error {
		labels := pprof.Labels("goroutine_name", name)
		pprof.Do(p.ctx, labels, func(ctx context.Context) {
			fn(context.WithValue(ctx, goroutineNameKey, name))
		})
		return nil
	})
	return nil
}

// Close cancels the pool context, rejects further submissions and waits for
// every running task.
func (p *Pool) Close() {
	// Cancel first so a Submit blocked on the limit can drain.
	p.cancel()

	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	_ = p.group.Wait()
}

// Wait blocks until every submitted task has returned.
func (p *Pool) Wait() {
	_ = p.group.Wait()
}
