// Package notify implements typed subscriber lists. Publish is synchronous
// and never called with the publisher's own locks held, so subscribers may
// read back into the publisher.
package notify

import (
	"sync"
	"sync/atomic"
)

// Subscription is returned by Subscribe; Release detaches the callback.
// Release is idempotent and safe from inside the callback itself.
type Subscription struct {
	closed  atomic.Bool
	release func()
}

func (s *Subscription) Release() {
	if s == nil || !s.closed.CompareAndSwap(false, true) {
		return
	}
	if s.release != nil {
		s.release()
	}
}

// Active reports whether the subscription has not been released.
func (s *Subscription) Active() bool {
	return s != nil && !s.closed.Load()
}

type entry[T any] struct {
	id  uint64
	fn  func(T)
	sub *Subscription
}

type Hub[T any] struct {
	mu     sync.Mutex
	nextID uint64
	subs   []entry[T]
}

func (h *Hub[T]) Subscribe(fn func(T)) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	sub := &Subscription{}
	sub.release = func() { h.remove(id) }
	h.subs = append(h.subs, entry[T]{id: id, fn: fn, sub: sub})
	return sub
}

func (h *Hub[T]) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, e := range h.subs {
		if e.id == id {
			h.subs = append(h.subs[:i:i], h.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers v to every subscriber registered at call time, in
// subscription order. Subscribers released mid-publish are skipped.
func (h *Hub[T]) Publish(v T) {
	h.mu.Lock()
	snapshot := make([]entry[T], len(h.subs))
	copy(snapshot, h.subs)
	h.mu.Unlock()
	for _, e := range snapshot {
		if !e.sub.Active() {
			continue
		}
		e.fn(v)
	}
}

// Group releases several subscriptions together.
type Group struct {
	mu   sync.Mutex
	subs []*Subscription
}

func (g *Group) Add(subs ...*Subscription) {
	g.mu.Lock()
	g.subs = append(g.subs, subs...)
	g.mu.Unlock()
}

func (g *Group) Release() {
	g.mu.Lock()
	subs := g.subs
	g.subs = nil
	g.mu.Unlock()
	for _, s := range subs {
		s.Release()
	}
}
