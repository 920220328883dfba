// Package server implements the HTTP and WebSocket transport of the chat relay.
//
// The Hub owns every connection and the rooms they joined, and implements
// relay.Fanout so the relay can address a single connection, a room, or
// everyone. Each Client runs a read pump that feeds decoded envelopes to a
// relay.Handler in arrival order, and a write pump that drains its bounded
// send queue one frame per event. The implementation is organized into
// specialized files for configuration, hub management, clients, routing, and
// HTTP handlers.
package server
