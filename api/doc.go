// Package api defines the wire types of the chatcore HTTP API.
//
// # API Overview
//
//   - POST /api/v1/chat              one-shot chat through the fallback chain
//   - POST /api/v1/chat/stream       the same request answered as Server-Sent Events
//   - GET  /api/v1/chat/ws           WebSocket; one ChatRequest in, StreamEvents out
//   - GET  /api/v1/models            registered bindings with breaker state
//   - POST /api/v1/models/{name}/reset  force a breaker back to CLOSED
//   - GET  /api/v1/config            running configuration with secrets redacted
//   - POST /api/v1/config/reload     re-read the config file
//   - GET  /health, /healthz, /ready, /version
//
// # Authentication
//
// /api/v1 endpoints accept either the X-API-Key header or a bearer JWT:
//
//	X-API-Key: your-api-key
//	Authorization: Bearer <token>
package api
