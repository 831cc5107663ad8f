// Package signaling carries the WebSocket side of a session: it upgrades
// connections, frames offer/answer/candidate messages as JSON and reports
// connection lifecycle to the session engine.
package signaling
