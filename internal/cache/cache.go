package cache

import (
	"context"
	"sync"
	"sync/atomic"
)

// Snapshot is a lock-free, read-optimized container
// holding any immutable structure.
type Snapshot[T any] struct{ v atomic.Pointer[T] }

// Load returns the stored value and whether one was ever stored.
func (s *Snapshot[T]) Load() (T, bool) {
	p := s.v.Load()
	if p == nil {
		var zero T
		return zero, false
	}
	return *p, true
}

// Store atomically swaps in the new value.
func (s *Snapshot[T]) Store(v T) {
	s.v.Store(&v)
}

// Memo runs fetch at most once and hands every caller its own copy of the
// result. A failed fetch is remembered as well.
type Memo[T any] struct {
	fetch func(context.Context) (T, error)
	clone func(T) (T, error)

	once sync.Once
	val  T
	err  error
}

// NewMemo wraps fetch. clone may be nil when T is safe to share.
func NewMemo[T any](fetch func(context.Context) (T, error), clone func(T) (T, error)) *Memo[T] {
	return &Memo[T]{fetch: fetch, clone: clone}
}

// Get returns the memoized value. The first caller's context drives the fetch.
func (m *Memo[T]) Get(ctx context.Context) (T, error) {
	m.once.Do(func() {
		m.val, m.err = m.fetch(ctx)
	})
	if m.err != nil {
		var zero T
		return zero, m.err
	}
	if m.clone == nil {
		return m.val, nil
	}
	return m.clone(m.val)
}
