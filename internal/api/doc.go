// Package api implements the local HTTP REST API and WebSocket server of the
// beacon station.
//
// This package provides:
//   - Read access to the device state store and the state history
//   - Manual state injection and conduct requests
//   - The active automation processes and a catalog refresh trigger
//   - A WebSocket hub that broadcasts accepted state changes
//   - Prometheus metrics exposition
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Lifecycle
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// # Endpoints
//
//	GET  /api/v1/health
//	GET  /api/v1/state
//	PUT  /api/v1/state/{channel}/{identifier}/{contact}
//	POST /api/v1/conducts
//	GET  /api/v1/history/{channel}/{identifier}/{contact}
//	GET  /api/v1/processes
//	POST /api/v1/catalog/refresh
//	GET  /api/v1/ws
//	GET  /metrics
package api
