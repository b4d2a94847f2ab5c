package core

import (
	"context"
	"sync"
)

// InvocationLimiter bounds the number of agent invocations executing at once
// so slow reasoning loops cannot exhaust the process. A max of 0 disables the
// bound.
type InvocationLimiter struct {
	sem    chan struct{}
	mu     sync.Mutex
	active int
}

// NewInvocationLimiter creates a limiter admitting at most max concurrent
// invocations. If max <= 0 the limiter admits everything.
func NewInvocationLimiter(max int) *InvocationLimiter {
	l := &InvocationLimiter{}
	if max > 0 {
		l.sem = make(chan struct{}, max)
	}
	return l
}

// Acquire blocks until a slot is free or the context is cancelled.
func (l *InvocationLimiter) Acquire(ctx context.Context) error {
	if l.sem != nil {
		select {
		case l.sem <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	l.mu.Lock()
	l.active++
	l.mu.Unlock()
	return nil
}

// Release returns a previously acquired slot.
func (l *InvocationLimiter) Release() {
	l.mu.Lock()
	if l.active > 0 {
		l.active--
	}
	l.mu.Unlock()
	if l.sem != nil {
		select {
		case <-l.sem:
		default:
		}
	}
}

// Active returns the number of invocations currently admitted.
func (l *InvocationLimiter) Active() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}
