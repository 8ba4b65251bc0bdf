package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"
)

// Read loop defaults.
const (
	DefaultAttemptTimeout = 5 * time.Second
	DefaultMaxEmptyReads  = 3
	DefaultMaxRequestSize = 1 << 20
)

var (
	// ErrIdle means the client sent nothing for MaxEmptyReads attempts.
	ErrIdle = errors.New("connection idle")

	// ErrStopped means the stop function fired between read attempts.
	ErrStopped = errors.New("server stopping")
)

// ReadOptions bounds the read loop.
type ReadOptions struct {
	// AttemptTimeout is the read deadline applied before each read.
	AttemptTimeout time.Duration

	// MaxEmptyReads is the number of consecutive reads that may return no
	// data before the connection is treated as idle.
	MaxEmptyReads int

	// MaxRequestSize caps head plus body.
	MaxRequestSize int

	// Stopped is polled between attempts. Optional.
	Stopped func() bool
}

func (o ReadOptions) withDefaults() ReadOptions {
	if o.AttemptTimeout <= 0 {
		o.AttemptTimeout = DefaultAttemptTimeout
	}
	if o.MaxEmptyReads <= 0 {
		o.MaxEmptyReads = DefaultMaxEmptyReads
	}
	if o.MaxRequestSize <= 0 {
		o.MaxRequestSize = DefaultMaxRequestSize
	}
	return o
}

// ReadRequest reads from conn until one full request is framed.
//
// A client that closes the connection before sending anything yields io.EOF.
func ReadRequest(conn net.Conn, opts ReadOptions) (*Request, error) {
	opts = opts.withDefaults()

	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	empty := 0

	for {
		if opts.Stopped != nil && opts.Stopped() {
			return nil, ErrStopped
		}

		if err := conn.SetReadDeadline(time.Now().Add(opts.AttemptTimeout)); err != nil {
			return nil, fmt.Errorf("failed to set read deadline: %w", err)
		}
		n, readErr := conn.Read(chunk)

		if n > 0 {
			empty = 0
			buf = append(buf, chunk[:n]...)
			if len(buf) > opts.MaxRequestSize {
				return nil, ErrRequestTooLarge
			}

			req, need, err := parse(buf)
			switch {
			case err == nil:
				if addr := conn.RemoteAddr(); addr != nil {
					req.RemoteAddr = addr.String()
				}
				return req, nil
			case errors.Is(err, ErrIncomplete):
				if need > opts.MaxRequestSize {
					return nil, ErrRequestTooLarge
				}
			default:
				return nil, err
			}
		}

		if readErr == nil {
			if n == 0 {
				empty++
				if empty >= opts.MaxEmptyReads {
					return nil, ErrIdle
				}
			}
			continue
		}

		switch {
		case errors.Is(readErr, os.ErrDeadlineExceeded):
			if n > 0 {
				continue
			}
			empty++
			if empty >= opts.MaxEmptyReads {
				return nil, ErrIdle
			}
		case errors.Is(readErr, io.EOF):
			if len(buf) == 0 {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("%w: connection closed mid-request", ErrMalformed)
		default:
			return nil, fmt.Errorf("read failed: %w", readErr)
		}
	}
}
