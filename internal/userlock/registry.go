// Package userlock hands out one mutual-exclusion handle per user id.
package userlock

import (
	"context"
	"sync"
)

type handle struct {
	sem  chan struct{}
	refs int
}

// Registry creates per-user handles lazily and drops them once no caller
// holds or waits on them. Handles for different users are independent.
type Registry struct {
	mu      sync.Mutex
	handles map[int64]*handle
}

// New builds an empty registry.
func New() *Registry {
	return &Registry{handles: make(map[int64]*handle)}
}

// Acquire blocks until the caller owns the handle for userID or ctx is done.
// The returned release func is safe to call more than once.
func (r *Registry) Acquire(ctx context.Context, userID int64) (func(), error) {
	h := r.ref(userID)

	select {
	case h.sem <- struct{}{}:
	case <-ctx.Done():
		r.unref(userID, h)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-h.sem
			r.unref(userID, h)
		})
	}, nil
}

// Len reports how many users currently have a live handle.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

func (r *Registry) ref(userID int64) *handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[userID]
	if !ok {
		h = &handle{sem: make(chan struct{}, 1)}
		r.handles[userID] = h
	}
	h.refs++
	return h
}

func (r *Registry) unref(userID int64, h *handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h.refs--
	if h.refs == 0 {
		delete(r.handles, userID)
	}
}
