package transport

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
)

// Response is an HTTP response that is encoded and written in one piece.
type Response struct {
	Status int
	Header http.Header
	Body   []byte

	// Stream marks the head of a long-lived response. No Content-Length is
	// emitted and the connection stays open after the write.
	Stream bool
}

// NewResponse returns a response with an empty header set.
func NewResponse(status int) *Response {
	return &Response{Status: status, Header: make(http.Header)}
}

// JSON returns a response carrying an application/json body.
func JSON(status int, body []byte) *Response {
	r := NewResponse(status)
	r.Header.Set("Content-Type", "application/json")
	r.Body = body
	return r
}

// Text returns a plain text response.
func Text(status int, body string) *Response {
	r := NewResponse(status)
	r.Header.Set("Content-Type", "text/plain; charset=utf-8")
	r.Body = []byte(body)
	return r
}

// Encode renders the status line, headers and body into one buffer.
// Content-Length is the byte length of Body, never a character count.
func (r *Response) Encode() []byte {
	var b bytes.Buffer
	b.Grow(256 + len(r.Body))

	text := http.StatusText(r.Status)
	if text == "" {
		text = "status code " + strconv.Itoa(r.Status)
	}
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", r.Status, text)

	keys := make([]string, 0, len(r.Header))
	for k := range r.Header {
		if k == "Content-Length" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range r.Header[k] {
			fmt.Fprintf(&b, "%s: %s\r\n", k, v)
		}
	}

	if !r.Stream {
		fmt.Fprintf(&b, "Content-Length: %d\r\n", len(r.Body))
		if r.Header.Get("Connection") == "" {
			b.WriteString("Connection: close\r\n")
		}
	}
	b.WriteString("\r\n")
	b.Write(r.Body)
	return b.Bytes()
}

// WriteResponse writes the encoded response with a single Write call.
func WriteResponse(w io.Writer, r *Response) error {
	buf := r.Encode()
	n, err := w.Write(buf)
	if err != nil {
		return fmt.Errorf("failed to write response: %w", err)
	}
	if n != len(buf) {
		return fmt.Errorf("failed to write response: %w", io.ErrShortWrite)
	}
	return nil
}
