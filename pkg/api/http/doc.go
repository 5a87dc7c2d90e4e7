// Package http provides the HTTP REST API implementation.
//
// The HTTP server exposes endpoints for:
//   - Session records and fairness verification reports
//   - Liquidity pool status and administration
//   - Health checks
//   - Prometheus metrics
//
// Play itself happens over the WebSocket endpoint mounted by
// SetupWebSocket, not over REST.
package http
