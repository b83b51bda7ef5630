package graph

import (
	"context"
	"fmt"
	"sync"
)

// threadLocks hands out one single-slot semaphore per thread. Waiters queue
// on the channel, so turns on a thread run in arrival order.
type threadLocks struct {
	mu    sync.Mutex
	locks map[string]*threadLock
}

type threadLock struct {
	sem  chan struct{}
	refs int
}

func newThreadLocks() *threadLocks {
	return &threadLocks{locks: make(map[string]*threadLock)}
}

// acquire blocks until the thread is free or ctx ends. The returned func
// releases the lock and must be called exactly once.
func (l *threadLocks) acquire(ctx context.Context, threadID string) (func(), error) {
	l.mu.Lock()
	tl, ok := l.locks[threadID]
	if !ok {
		tl = &threadLock{sem: make(chan struct{}, 1)}
		l.locks[threadID] = tl
	}
	tl.refs++
	l.mu.Unlock()

	select {
	case tl.sem <- struct{}{}:
		return func() {
			<-tl.sem
			l.unref(threadID, tl)
		}, nil
	case <-ctx.Done():
		l.unref(threadID, tl)
		return nil, fmt.Errorf("%w: %s: %w", ErrThreadBusy, threadID, ctx.Err())
	}
}

func (l *threadLocks) unref(threadID string, tl *threadLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	tl.refs--
	if tl.refs == 0 {
		delete(l.locks, threadID)
	}
}
