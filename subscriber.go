package custodian

import (
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"
)

// subscriber is one registered notification channel.
type subscriber[T any] struct {
	ch     chan T
	mu     sync.Mutex
	closed bool
}

// trySend delivers v without blocking. A full channel drops v; the
// subscriber sees the next value.
func (s *subscriber[T]) trySend(v T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}

	select {
	case s.ch <- v:
		return true
	default:
		return false
	}
}

func (s *subscriber[T]) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// registry fans values out to subscribers.
type registry[T any] struct {
	subs   *xsync.Map[uint64, *subscriber[T]]
	nextID atomic.Uint64
	buffer int
}

func newRegistry[T any](buffer int) *registry[T] {
	return &registry[T]{
		subs:   xsync.NewMap[uint64, *subscriber[T]](),
		buffer: buffer,
	}
}

// subscribe registers a channel and returns it with its unsubscribe func.
func (r *registry[T]) subscribe() (<-chan T, func()) {
	id := r.nextID.Add(1)
	sub := &subscriber[T]{ch: make(chan T, r.buffer)}
	r.subs.Store(id, sub)

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			if s, ok := r.subs.LoadAndDelete(id); ok {
				s.close()
			}
		})
	}
}

// emit returns the number of subscribers that dropped v.
func (r *registry[T]) emit(v T) int {
	dropped := 0
	r.subs.Range(func(_ uint64, sub *subscriber[T]) bool {
		if !sub.trySend(v) {
			dropped++
		}

		return true
	})

	return dropped
}

func (r *registry[T]) closeAll() {
	r.subs.Range(func(id uint64, sub *subscriber[T]) bool {
		r.subs.Delete(id)
		sub.close()

		return true
	})
}
