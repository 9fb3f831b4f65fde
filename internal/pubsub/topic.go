package pubsub

import (
	"context"
	"sync"
)

// TopicHandler receives the batch of items published to one topic.
type TopicHandler[T any] func(ctx context.Context, topic string, items []T) error

// TopicHub routes a batch to the handlers registered for that exact topic.
//
// Handlers for one Publish run concurrently and Publish waits for all of
// them. Publishes to different topics do not block each other.
type TopicHub[T any] struct {
	mu     sync.RWMutex
	topics map[string]map[uint64]*topicSub[T]
	nextID uint64
	logger Logger
}

type topicSub[T any] struct {
	handler TopicHandler[T]
	handle  *Subscription
}

// NewTopicHub creates an empty hub. logger may be nil.
func NewTopicHub[T any](logger Logger) *TopicHub[T] {
	if logger == nil {
		logger = noopLogger{}
	}
	return &TopicHub[T]{topics: make(map[string]map[uint64]*topicSub[T]), logger: logger}
}

// Subscribe registers handler for each of topics.
func (h *TopicHub[T]) Subscribe(topics []string, handler TopicHandler[T]) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextID++
	id := h.nextID
	sub := &topicSub[T]{handler: handler}
	registered := append([]string(nil), topics...)
	sub.handle = newSubscription(func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		for _, topic := range registered {
			delete(h.topics[topic], id)
			if len(h.topics[topic]) == 0 {
				delete(h.topics, topic)
			}
		}
	})

	for _, topic := range registered {
		if h.topics[topic] == nil {
			h.topics[topic] = make(map[uint64]*topicSub[T])
		}
		h.topics[topic][id] = sub
	}
	return sub.handle
}

// Publish hands items to every handler of topic and waits for them.
// Handler errors and panics are logged, never returned; the returned count
// is the number of handlers that failed.
func (h *TopicHub[T]) Publish(ctx context.Context, topic string, items []T) int {
	h.mu.RLock()
	subs := make([]*topicSub[T], 0, len(h.topics[topic]))
	for _, s := range h.topics[topic] {
		subs = append(subs, s)
	}
	h.mu.RUnlock()

	if len(subs) == 0 {
		h.logger.Debug("no subscribers for topic", "topic", topic, "items", len(items))
		return 0
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed int
	)
	for _, s := range subs {
		if !s.handle.Active() {
			continue
		}
		wg.Add(1)
		go func(s *topicSub[T]) {
			defer wg.Done()
			if !h.invoke(ctx, s, topic, items) {
				mu.Lock()
				failed++
				mu.Unlock()
			}
		}(s)
	}
	wg.Wait()
	return failed
}

func (h *TopicHub[T]) invoke(ctx context.Context, s *topicSub[T], topic string, items []T) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("topic subscriber panic recovered", "topic", topic, "panic", r)
			ok = false
		}
	}()

	if err := s.handler(ctx, topic, items); err != nil {
		h.logger.Warn("topic subscriber failed", "topic", topic, "items", len(items), "error", err)
		return false
	}
	return true
}

// Topics returns the topics that currently have subscribers.
func (h *TopicHub[T]) Topics() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.topics))
	for topic := range h.topics {
		out = append(out, topic)
	}
	return out
}
