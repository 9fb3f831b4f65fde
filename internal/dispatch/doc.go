// Package dispatch provides the time-ordered release primitive behind every
// "do this after N milliseconds" behaviour in the station.
//
// A DelayQueue holds items keyed by due time in a min-heap. Next suspends
// the caller until the earliest item is due:
//
//	Enqueue(c, 300ms) ─┐
//	Enqueue(a, 100ms) ─┼─► heap ─► Next() ─► a (t≈100ms), b (t≈200ms), c (t≈300ms)
//	Enqueue(b, 200ms) ─┘
//
// When an item arrives that is due earlier than the one the consumer is
// currently waiting for, the consumer is woken and re-arms its timer, so a
// 50ms item enqueued after a 500ms item is released at ≈50ms.
//
// Due times are a lower bound only: an item is never released early, but may
// be released late if the consumer is busy.
//
// A Worker owns the consumer loop for one queue. It is started and stopped by
// the component that owns the queue (the conduct manager owns "delayed
// conducts", the automation processor owns "delayed triggers" and "delayed
// process conducts"), contains handler panics, and joins the loop on Stop.
// Items still pending at Stop are discarded with the queue.
package dispatch
