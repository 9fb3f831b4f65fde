package pubsub

import (
	"context"
	"sync"
)

// KeyedHandler receives one published item.
type KeyedHandler[T any] func(ctx context.Context, item T) error

// KeyedHub broadcasts every published item to every subscriber. Subscribers
// register under an owner key, which is kept for diagnostics; routing does
// not depend on it.
//
// Publish calls handlers synchronously in the publisher's goroutine, so when
// Publish returns every subscriber has seen the items.
type KeyedHub[T any] struct {
	mu     sync.RWMutex
	subs   map[uint64]*keyedSub[T]
	nextID uint64
	logger Logger
}

type keyedSub[T any] struct {
	owner   string
	handler KeyedHandler[T]
	handle  *Subscription
}

// NewKeyedHub creates an empty hub. logger may be nil.
func NewKeyedHub[T any](logger Logger) *KeyedHub[T] {
	if logger == nil {
		logger = noopLogger{}
	}
	return &KeyedHub[T]{subs: make(map[uint64]*keyedSub[T]), logger: logger}
}

// Subscribe registers handler under owner.
func (h *KeyedHub[T]) Subscribe(owner string, handler KeyedHandler[T]) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID
	sub := &keyedSub[T]{owner: owner, handler: handler}
	sub.handle = newSubscription(func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	})
	h.subs[id] = sub
	return sub.handle
}

// Publish delivers each item to every current subscriber. A failing or
// panicking handler is logged and does not affect the others.
func (h *KeyedHub[T]) Publish(ctx context.Context, items ...T) {
	h.mu.RLock()
	subs := make([]*keyedSub[T], 0, len(h.subs))
	for _, s := range h.subs {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	for _, item := range items {
		for _, s := range subs {
			if !s.handle.Active() {
				continue
			}
			h.invoke(ctx, s, item)
		}
	}
}

func (h *KeyedHub[T]) invoke(ctx context.Context, s *keyedSub[T], item T) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("subscriber panic recovered", "owner", s.owner, "panic", r)
		}
	}()

	if err := s.handler(ctx, item); err != nil {
		h.logger.Warn("subscriber failed", "owner", s.owner, "error", err)
	}
}

// Len returns the number of active subscriptions.
func (h *KeyedHub[T]) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
