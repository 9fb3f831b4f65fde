// Package conduct routes commands to protocol adapters.
//
// A Conduct names a device target, a value to write and an optional delay.
// Adapters subscribe to the Manager for their channel; automation and the
// cloud event stream publish through it. PublishAsync groups a batch by
// channel and fans the groups out concurrently on a pubsub.TopicHub.
//
// Requests arriving from the cloud address devices by catalog ID and are
// resolved through the device registry before dispatch. Delayed requests wait
// on a dispatch.DelayQueue drained by a supervised worker.
package conduct
