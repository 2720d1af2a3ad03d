// Package signaling implements the WebSocket transport for call signaling:
// the wire envelope and codecs, the per-connection read/write pumps, and a Go
// client for the same protocol.
//
// Room membership and message routing live in package room; this package only
// decodes events, hands them to the relay and delivers what it returns.
package signaling
