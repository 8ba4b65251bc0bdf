package sse

import (
	"bytes"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/teemow/hostmcp/internal/transport"
)

// ContentType is the media type of an event stream.
const ContentType = "text/event-stream"

// DefaultRetry is the reconnection delay advertised to clients.
const DefaultRetry = time.Second

var lastEventID atomic.Int64

// NextEventID returns the next id from the process-wide counter. Ids are
// strictly increasing across all connections.
func NextEventID() int64 {
	return lastEventID.Add(1)
}

// Event is one server-sent event. A zero ID omits the id field.
type Event struct {
	ID    int64
	Name  string
	Data  string
	Retry time.Duration
}

// NewEvent returns an event carrying data under a fresh id.
func NewEvent(data string) Event {
	return Event{ID: NextEventID(), Data: data}
}

// Encode frames the event. Each line of Data becomes its own data field and
// the event is terminated by a blank line.
func (e Event) Encode() []byte {
	var b bytes.Buffer

	if e.ID > 0 {
		b.WriteString("id: ")
		b.WriteString(strconv.FormatInt(e.ID, 10))
		b.WriteByte('\n')
	}
	if e.Name != "" {
		b.WriteString("event: ")
		b.WriteString(e.Name)
		b.WriteByte('\n')
	}
	if e.Retry > 0 {
		b.WriteString("retry: ")
		b.WriteString(strconv.FormatInt(e.Retry.Milliseconds(), 10))
		b.WriteByte('\n')
	}

	data := strings.ReplaceAll(e.Data, "\r\n", "\n")
	for _, line := range strings.Split(data, "\n") {
		b.WriteString("data: ")
		b.WriteString(line)
		b.WriteByte('\n')
	}
	b.WriteByte('\n')
	return b.Bytes()
}

// Comment frames an SSE comment line. Clients ignore it.
func Comment(text string) []byte {
	return []byte(": " + text + "\n\n")
}

// StreamHeader returns the response head that opens a stream.
func StreamHeader() *transport.Response {
	r := transport.NewResponse(http.StatusOK)
	r.Header.Set("Content-Type", ContentType)
	r.Header.Set("Cache-Control", "no-cache")
	r.Header.Set("Connection", "keep-alive")
	r.Stream = true
	return r
}

// SingleEvent wraps data as a complete response holding one event. It is
// used when a POST asks for an event-stream reply.
func SingleEvent(status int, data []byte) *transport.Response {
	r := transport.NewResponse(status)
	r.Header.Set("Content-Type", ContentType)
	r.Header.Set("Cache-Control", "no-cache")
	r.Body = NewEvent(string(data)).Encode()
	return r
}

// ParseLastEventID reads a Last-Event-ID header value. Malformed values
// are treated as absent.
func ParseLastEventID(value string) int64 {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
