// Package server provides the HTTP service behind the store finder UI.
//
// This package is internal to storefinder and handles all HTTP concerns:
//
//   - Dashboard serving: the embedded page at "/"
//   - Session API: locate, click, selection, markers and inventory refresh
//     under "/api/sessions/{id}"
//   - Server-Sent Events: quantity cell updates at "/api/sessions/{id}/sse"
//   - WebSocket: the same updates plus refresh and reset commands at
//     "/api/sessions/{id}/ws"
//
// Errors are returned as JSON objects with a single "error" field. The server
// supports graceful shutdown via context cancellation, with a 5-second
// timeout for in-flight requests.
package server
