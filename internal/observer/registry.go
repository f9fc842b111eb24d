// Package observer implements a generic, re-entrancy-safe fan-out
// registry: callbacks subscribe to a topic and are dispatched in
// subscription order whenever a value of type T is published.
package observer

import (
	"log"
	"sync"

	"github.com/google/uuid"
)

// Handle identifies a subscription returned by Append, for later removal.
type Handle uuid.UUID

// Func is a callback subscribed to a Registry[T].
type Func[T any] func(T)

type entry[T any] struct {
	handle   Handle
	fn       Func[T]
	maxCalls int // 0 means unlimited
	calls    int
}

// Registry is a thread-safe, ordered set of callbacks of type Func[T].
// Dispatch takes a snapshot of the current subscriber list before calling
// any of them, so a callback may freely Append or Remove without
// deadlocking or corrupting the in-flight dispatch (re-entrancy safety).
type Registry[T any] struct {
	mu      sync.Mutex
	entries []*entry[T]
}

// New returns an empty Registry.
func New[T any]() *Registry[T] {
	return &Registry[T]{}
}

// Append subscribes fn, to be called on every future Dispatch, and returns
// a Handle that can be passed to Remove.
func (r *Registry[T]) Append(fn Func[T]) Handle {
	return r.append(fn, 0)
}

// Once subscribes fn to fire at most once; after its first call it is
// automatically removed.
func (r *Registry[T]) Once(fn Func[T]) Handle {
	return r.append(fn, 1)
}

// OnceN subscribes fn to fire at most n times before being automatically
// removed. n must be positive.
func (r *Registry[T]) OnceN(fn Func[T], n int) Handle {
	return r.append(fn, n)
}

func (r *Registry[T]) append(fn Func[T], maxCalls int) Handle {
	h := Handle(uuid.New())
	r.mu.Lock()
	r.entries = append(r.entries, &entry[T]{handle: h, fn: fn, maxCalls: maxCalls})
	r.mu.Unlock()
	return h
}

// Remove unsubscribes the callback registered under h. It is a no-op if h
// is not currently registered (already removed, or never valid).
func (r *Registry[T]) Remove(h Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.entries {
		if e.handle == h {
			r.entries = append(r.entries[:i:i], r.entries[i+1:]...)
			return
		}
	}
}

// Len reports the number of currently subscribed callbacks.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Dispatch calls every currently-subscribed callback with v, in
// subscription order. Callbacks that have reached their call limit after
// this dispatch are removed. Dispatch takes a snapshot under lock and
// releases it before calling out, so callbacks may safely Append/Remove.
func (r *Registry[T]) Dispatch(v T) {
	r.mu.Lock()
	snapshot := make([]*entry[T], len(r.entries))
	copy(snapshot, r.entries)
	r.mu.Unlock()

	var spent []Handle
	for _, e := range snapshot {
		callOne(e.fn, v)
		if e.maxCalls > 0 {
			e.calls++
			if e.calls >= e.maxCalls {
				spent = append(spent, e.handle)
			}
		}
	}
	if len(spent) == 0 {
		return
	}
	r.mu.Lock()
	for _, h := range spent {
		for i, e := range r.entries {
			if e.handle == h {
				r.entries = append(r.entries[:i:i], r.entries[i+1:]...)
				break
			}
		}
	}
	r.mu.Unlock()
}

// callOne invokes fn with v, recovering a panic so that one misbehaving
// subscriber can never stop the rest of a Dispatch from running.
func callOne[T any](fn Func[T], v T) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("observer: recovered panic in callback: %v", r)
		}
	}()
	fn(v)
}
