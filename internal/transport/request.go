package transport

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Framing errors.
var (
	// ErrIncomplete means the buffer does not yet hold a full request.
	ErrIncomplete = errors.New("incomplete request")

	// ErrMalformed means the request head could not be parsed.
	ErrMalformed = errors.New("malformed request")

	// ErrRequestTooLarge means the request exceeds the size cap.
	ErrRequestTooLarge = errors.New("request too large")
)

var headerTerminator = []byte("\r\n\r\n")

// Request is a fully framed HTTP request.
type Request struct {
	Method     string
	Path       string
	Query      url.Values
	Header     http.Header
	Body       []byte
	RemoteAddr string
}

// ParseRequest frames one request from buf. It returns ErrIncomplete while
// the header terminator or the declared body is still missing, and wraps
// ErrMalformed for anything that cannot become a request.
func ParseRequest(buf []byte) (*Request, error) {
	req, _, err := parse(buf)
	return req, err
}

// parse returns the request, or the total number of bytes the request
// needs once the head has been seen.
func parse(buf []byte) (*Request, int, error) {
	end := bytes.Index(buf, headerTerminator)
	if end < 0 {
		return nil, 0, ErrIncomplete
	}
	headLen := end + len(headerTerminator)

	hr, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(buf[:headLen])))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	for _, te := range hr.TransferEncoding {
		if strings.EqualFold(te, "chunked") {
			return nil, 0, fmt.Errorf("%w: chunked bodies are not supported", ErrMalformed)
		}
	}

	bodyLen := 0
	if hr.ContentLength > 0 {
		bodyLen = int(hr.ContentLength)
	}
	need := headLen + bodyLen
	if len(buf) < need {
		return nil, need, ErrIncomplete
	}

	body := make([]byte, bodyLen)
	copy(body, buf[headLen:need])

	return &Request{
		Method: hr.Method,
		Path:   hr.URL.Path,
		Query:  hr.URL.Query(),
		Header: hr.Header,
		Body:   body,
	}, need, nil
}

// Accepts reports whether the Accept header lists the media type.
func (r *Request) Accepts(mediaType string) bool {
	for _, v := range r.Header.Values("Accept") {
		for _, part := range strings.Split(v, ",") {
			mt := strings.TrimSpace(part)
			if i := strings.IndexByte(mt, ';'); i >= 0 {
				mt = strings.TrimSpace(mt[:i])
			}
			if strings.EqualFold(mt, mediaType) {
				return true
			}
		}
	}
	return false
}
