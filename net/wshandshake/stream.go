// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package wshandshake

import (
	"context"
	"errors"
	"io"
	"net"
	"time"
)

// DialFunc is a net.Dialer.DialContext-shaped func.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// SecureFunc wraps a freshly connected conn in a secure transport for
// serverName. It is the hook for TLS; Stream has no TLS of its own.
type SecureFunc func(ctx context.Context, c net.Conn, serverName string) (net.Conn, error)

// aLongTimeAgo is a non-zero time in the past, used to unblock I/O
// immediately when a context is done.
var aLongTimeAgo = time.Unix(1, 0)

// Stream runs the request/response half of a handshake over one
// connection, one blocking operation at a time.
//
// Each operation blocks the caller until it completes or fails. Partial
// completions (short writes, reads that return fewer bytes than asked) are
// handled here, so callers see one logical operation per call.
//
// A Stream is not safe for concurrent use; a handshake is strictly
// sequential.
type Stream struct {
	// Dial opens the TCP connection. If nil, a zero net.Dialer is used.
	Dial DialFunc

	// Secure, if non-nil, is applied to the connection right after Dial,
	// as part of Connect.
	Secure SecureFunc

	// ServerName is passed to Secure.
	ServerName string

	// Timeout, if positive, bounds each of Connect, WriteAll and ReadInto
	// separately, in addition to any deadline on the context.
	Timeout time.Duration

	conn net.Conn
}

// Conn returns the underlying connection, or nil before Connect succeeds.
func (s *Stream) Conn() net.Conn { return s.conn }

// Close closes the connection, if any.
func (s *Stream) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

func (s *Stream) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.Timeout > 0 {
		return context.WithTimeout(ctx, s.Timeout)
	}
	return context.WithCancel(ctx)
}

// Connect dials addr and blocks until the connection is established (and
// secured, if s.Secure is set) or fails.
func (s *Stream) Connect(ctx context.Context, addr string) error {
	if s.conn != nil {
		return errors.New("wshandshake: Stream already connected")
	}
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	dial := s.Dial
	if dial == nil {
		var d net.Dialer
		dial = d.DialContext
	}
	c, err := dial(ctx, "tcp", addr)
	if err != nil {
		return newError(ConnectFailure, err, "%s", addr)
	}
	if s.Secure != nil {
		sc, err := s.Secure(ctx, c, s.ServerName)
		if err != nil {
			c.Close()
			return newError(ConnectFailure, err, "securing %s", addr)
		}
		c = sc
	}
	s.conn = c
	return nil
}

// withDeadline runs op with the connection's deadline tied to ctx: when
// ctx is done, blocked I/O returns promptly with a timeout error.
func (s *Stream) withDeadline(ctx context.Context, op func() error) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		s.conn.SetDeadline(aLongTimeAgo)
		close(fired)
	})
	err := op()
	if !stop() {
		<-fired
	}
	if err != nil && ctx.Err() != nil {
		err = errors.Join(ctx.Err(), err)
	}
	s.conn.SetDeadline(time.Time{})
	return err
}

// WriteAll writes all of p, issuing as many writes as needed.
// A write that transmits fewer bytes than requested is not an error; the
// remainder is written by the next write.
func (s *Stream) WriteAll(ctx context.Context, p []byte) (written int, err error) {
	if s.conn == nil {
		return 0, newError(WriteFailure, net.ErrClosed, "")
	}
	err = s.withDeadline(ctx, func() error {
		for written < len(p) {
			n, err := s.conn.Write(p[written:])
			written += n
			if err != nil {
				return err
			}
			if n == 0 {
				return io.ErrNoProgress
			}
		}
		return nil
	})
	if err != nil {
		return written, newError(WriteFailure, err, "after %d of %d bytes", written, len(p))
	}
	return written, nil
}

// ReadInto reads into p, blocking until at least one byte arrives.
// End of stream before any byte is reported as ConnectionClosed.
func (s *Stream) ReadInto(ctx context.Context, p []byte) (n int, err error) {
	if s.conn == nil {
		return 0, newError(ReadFailure, net.ErrClosed, "")
	}
	if len(p) == 0 {
		return 0, newError(ReadFailure, io.ErrShortBuffer, "")
	}
	err = s.withDeadline(ctx, func() error {
		for {
			var err error
			n, err = s.conn.Read(p)
			if n > 0 {
				// A trailing error, if any, shows up on the next call.
				return nil
			}
			if err != nil {
				return err
			}
		}
	})
	switch {
	case err == nil:
		return n, nil
	case errors.Is(err, io.EOF):
		return 0, newError(ConnectionClosed, err, "")
	default:
		return 0, newError(ReadFailure, err, "")
	}
}
