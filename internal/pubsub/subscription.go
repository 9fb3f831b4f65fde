package pubsub

import (
	"sync"
	"sync/atomic"
)

// Subscription is the handle returned by Subscribe. Closing it stops any
// further delivery to its handler.
type Subscription struct {
	once   sync.Once
	closed atomic.Bool
	remove func()
}

func newSubscription(remove func()) *Subscription {
	return &Subscription{remove: remove}
}

// Close unregisters the handler. Safe to call more than once.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.closed.Store(true)
		s.remove()
	})
}

// Active reports whether the subscription has not been closed.
func (s *Subscription) Active() bool {
	return !s.closed.Load()
}
