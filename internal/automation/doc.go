// Package automation runs state-triggered processes.
//
// A StateTriggerProcess names the targets that trigger it, an optional
// condition tree and the conducts to publish when the condition holds.
// The Processor subscribes to state changes and, per change:
//
//  1. Selects enabled processes triggered by the changed target
//  2. Queues processes with a delay on the delayed-triggers queue
//  3. Evaluates each remaining condition in isolation
//  4. Publishes immediate conducts as one batch and queues delayed ones
//
// # Conditions
//
// A condition tree is built from four node kinds:
//
//	static        {"type":"static","value":30}
//	device-state  {"type":"device-state","target":{"channel":..,"identifier":..,"contact":..}}
//	comparison    {"type":"comparison","operator":"greater","left":{..},"right":{..}}
//	condition     {"type":"condition","operator":"and","operands":[..]}
//
// Documents without "type" are matched structurally, trying comparison,
// condition, device-state and static in that order.
//
// # Catalog
//
// ProcessSource caches the remote catalog and mirrors it into SQLite so the
// last known rules keep running while the cloud is unreachable.
package automation
