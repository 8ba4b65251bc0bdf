// Package sse implements the server-sent events channel: event framing with
// server-global monotonic ids, and a registry of long-lived stream
// connections that is swept for dead peers and closed on shutdown.
//
// Delivery is forward-only. A reconnecting client's Last-Event-ID is recorded
// but past events are not replayed.
package sse
