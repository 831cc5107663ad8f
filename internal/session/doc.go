// Package session coordinates peer sessions that span a signaling connection
// and a data transport.
//
// All per-session state lives in a Registry owned by a single Engine
// goroutine. Signaling connections, the transport and application facades
// never touch that state directly; they enqueue events which the Engine
// processes one at a time in arrival order.
package session
