// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package wsclient

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"wsdial.dev/net/wsframe"
	"wsdial.dev/net/wshandshake"
	"wsdial.dev/util/rands"
)

// ErrSessionClosed is returned by sends on a session that has ended.
var ErrSessionClosed = errors.New("wsclient: session closed")

// Session is an open WebSocket connection and its endpoint.
type Session struct {
	// ID is a random identifier, unique within the process.
	ID string

	c           *Container
	ep          Endpoint
	cfg         *EndpointConfig
	resp        *wshandshake.Response
	conn        *wsframe.Conn
	sendTimeout time.Duration

	closing atomic.Bool // Close was called locally
	done    chan struct{}

	mu  sync.Mutex
	err error
}

func newSession(c *Container, ep Endpoint, cfg *EndpointConfig, resp *wshandshake.Response, conn *wsframe.Conn) *Session {
	return &Session{
		ID:          rands.HexString(16),
		c:           c,
		ep:          ep,
		cfg:         cfg,
		resp:        resp,
		conn:        conn,
		sendTimeout: c.DefaultAsyncSendTimeout(),
		done:        make(chan struct{}),
	}
}

// HandshakeResponse returns the server's response to the upgrade request.
func (s *Session) HandshakeResponse() *wshandshake.Response { return s.resp }

// EndpointConfig returns the configuration the session was opened with.
func (s *Session) EndpointConfig() *EndpointConfig { return s.cfg }

func (s *Session) LocalAddr() net.Addr  { return s.conn.NetConn().LocalAddr() }
func (s *Session) RemoteAddr() net.Addr { return s.conn.NetConn().RemoteAddr() }

// SendText sends a text message.
func (s *Session) SendText(ctx context.Context, text string) error {
	return s.send(ctx, wsframe.Text, []byte(text))
}

// SendBinary sends a binary message.
func (s *Session) SendBinary(ctx context.Context, data []byte) error {
	return s.send(ctx, wsframe.Binary, data)
}

// send writes one message, bounded by ctx and by the container's async
// send timeout as it was when the session opened.
func (s *Session) send(ctx context.Context, typ wsframe.MessageType, p []byte) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	if s.sendTimeout >= 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.sendTimeout)
		defer cancel()
	}
	return s.conn.WriteMessage(ctx, typ, p)
}

// Close sends a normal closure to the server and closes the connection.
// It does not wait for the session to end; use Done for that.
func (s *Session) Close() error {
	return s.closeWith(wsframe.StatusNormalClosure, "")
}

func (s *Session) closeWith(code wsframe.StatusCode, reason string) error {
	s.closing.Store(true)
	return s.conn.Close(code, reason)
}

// Done returns a channel that's closed when the session has ended and
// the endpoint's OnClose, if any, has returned.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns why the session ended. It is nil while the session is open,
// after a local Close, and after a normal closure by the server.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) readLoop() {
	mh, _ := s.ep.(MessageHandler)
	var err error
	for {
		var (
			typ wsframe.MessageType
			p   []byte
		)
		typ, p, err = s.conn.ReadMessage(context.Background())
		if err != nil {
			break
		}
		if mh != nil {
			mh.OnMessage(s, typ, p)
		}
	}
	s.conn.Close(wsframe.StatusNormalClosure, "")
	if s.closing.Load() || wsframe.CloseStatus(err) == wsframe.StatusNormalClosure {
		err = nil
	}
	s.c.logf("wsclient: session %s ended: %v", s.ID, errOrNormal(err))

	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.c.unregister(s)
	if ch, ok := s.ep.(CloseHandler); ok {
		ch.OnClose(s, err)
	}
	close(s.done)
}

func errOrNormal(err error) any {
	if err == nil {
		return "normal closure"
	}
	return err
}
