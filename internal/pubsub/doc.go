// Package pubsub provides the two in-process hubs that decouple producers
// from consumers.
//
// KeyedHub broadcasts: every item goes to every subscriber, synchronously.
// The device state store publishes changed targets on it and the automation
// processor subscribes.
//
// TopicHub routes by exact topic: the conduct manager publishes each
// channel's batch on the channel name and only that channel's adapter
// receives it.
//
// Both isolate subscriber failures (errors and panics are logged) and hand
// out a Subscription whose Close stops delivery.
package pubsub
