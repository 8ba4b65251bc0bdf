// Package transport frames HTTP/1.1 requests and responses over raw
// connections.
//
// The server owns its sockets directly instead of running net/http's server:
// each connection is read with a short per-attempt deadline and a bounded
// number of consecutive empty reads, requests are capped in size, and every
// response is written as one buffer whose Content-Length is the byte length
// of the body.
//
// ParseRequest is pure framing over a byte slice and is what the tests drive.
// ReadRequest adds the socket read loop on top of it.
package transport
