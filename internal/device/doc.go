// Package device holds the station's view of devices and their state.
//
// Device configurations are owned by a remote catalog and cached by the
// Registry. Live values are held by the StateStore, which is the single
// place adapters write readings to:
//
//	adapter ──▶ Handlers.DeviceStateSet ──▶ StateStore.SetState
//	                                           │
//	                         ┌─────────────────┼────────────────┐
//	                         ▼                 ▼                ▼
//	                   KeyedHub (sync)    cloud sink      history sink
//	                   automation, ws     (best effort)   (SQLite)
//
// SetState drops readings for unknown devices or contacts, repeated nulls,
// duplicates (except action and string contacts) and, for double contacts
// with a noise delta, changes no larger than the delta.
//
// # Key Types
//
//   - DeviceTarget: channel/identifier/contact key
//   - DeviceConfiguration: catalog entry with endpoints and contacts
//   - StateStore: in-memory last-value map with suppression rules
//   - HistoryRepository: SQLite record of accepted changes
//
// # Thread Safety
//
// Registry, StateStore and HistoryRepository are safe for concurrent use.
package device
