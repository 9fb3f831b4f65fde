package dispatch

import (
	"container/heap"
	"context"
	"sync"
	"time"
)

// DelayQueue releases items no earlier than their due time, in ascending
// due-time order. Items with the same due time come out in insertion order.
//
// Any number of goroutines may Enqueue. Next is normally called by one
// consumer loop (see Worker), but concurrent consumers are safe.
type DelayQueue[T any] struct {
	mu    sync.Mutex
	items entryHeap[T]
	seq   uint64

	// wake is closed and replaced whenever a new earliest item arrives, so
	// every waiting consumer re-arms its timer.
	wake chan struct{}
}

// NewDelayQueue creates an empty queue.
func NewDelayQueue[T any]() *DelayQueue[T] {
	return &DelayQueue[T]{wake: make(chan struct{})}
}

// Enqueue schedules item to become available after delay. A delay of zero
// or less makes the item available immediately.
func (q *DelayQueue[T]) Enqueue(item T, delay time.Duration) {
	if delay < 0 {
		delay = 0
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.seq++
	e := &entry[T]{item: item, due: time.Now().Add(delay), seq: q.seq}
	heap.Push(&q.items, e)

	if q.items[0] == e {
		close(q.wake)
		q.wake = make(chan struct{})
	}
}

// Next blocks until the earliest item is due, removes it and returns it.
// It returns ctx.Err() as soon as ctx is cancelled; pending items stay queued.
func (q *DelayQueue[T]) Next(ctx context.Context) (T, error) {
	var zero T
	for {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		q.mu.Lock()
		wake := q.wake
		var wait time.Duration = -1
		if len(q.items) > 0 {
			wait = time.Until(q.items[0].due)
			if wait <= 0 {
				e := heap.Pop(&q.items).(*entry[T])
				q.mu.Unlock()
				return e.item, nil
			}
		}
		q.mu.Unlock()

		var timer *time.Timer
		var fire <-chan time.Time
		if wait > 0 {
			timer = time.NewTimer(wait)
			fire = timer.C
		}

		select {
		case <-ctx.Done():
		case <-wake:
		case <-fire:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// Len returns the number of pending items.
func (q *DelayQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

type entry[T any] struct {
	item T
	due  time.Time
	seq  uint64
}

// entryHeap is a min-heap on (due, seq).
type entryHeap[T any] []*entry[T]

func (h entryHeap[T]) Len() int { return len(h) }

func (h entryHeap[T]) Less(i, j int) bool {
	if h[i].due.Equal(h[j].due) {
		return h[i].seq < h[j].seq
	}
	return h[i].due.Before(h[j].due)
}

func (h entryHeap[T]) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
}

func (h *entryHeap[T]) Push(x any) {
	*h = append(*h, x.(*entry[T]))
}

func (h *entryHeap[T]) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}
