// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

// Package wsclient opens client WebSocket sessions.
//
// A Container holds the settings shared by its sessions. Container.Connect
// performs the HTTP/1.1 Upgrade handshake (see package wshandshake) and
// then hands the connection, along with any bytes the server sent past
// the end of its response, to the frame layer in package wsframe.
package wsclient

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math"
	"net"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"wsdial.dev/net/wsconn"
	"wsdial.dev/net/wsframe"
	"wsdial.dev/net/wshandshake"
	"wsdial.dev/types/logger"
)

// DefaultBufferSize is the default size of the text and binary message
// buffers. The handshake response is read through a buffer of the binary
// message size.
const DefaultBufferSize = 8 << 10

// ErrInvalidBufferSize is returned when setting a message buffer size
// outside [1, math.MaxInt32].
var ErrInvalidBufferSize = errors.New("wsclient: invalid buffer size")

// Container opens sessions to WebSocket servers.
//
// The zero value is ready to use. The exported fields must not be changed
// while Connect is running; the buffer sizes and send timeout may be set
// at any time and apply to sessions opened afterwards.
type Container struct {
	// HandshakeTimeout, if positive, bounds each network operation of the
	// handshake (connect, each write, each read).
	HandshakeTimeout time.Duration

	// VerifyAccept makes Connect check the server's Sec-WebSocket-Accept.
	VerifyAccept bool

	// StrictHeaders makes Connect fail on a response header line with no
	// colon instead of ignoring it, and on a response line longer than the
	// binary message buffer.
	StrictHeaders bool

	// Dial, if non-nil, opens TCP connections.
	Dial wshandshake.DialFunc

	// SecureTransport, if non-nil, is used to secure the connection for
	// https URLs. Without it https is rejected.
	SecureTransport wshandshake.SecureFunc

	// Logf, if non-nil, receives connection lifecycle logs.
	Logf logger.Logf

	mu             sync.Mutex
	sendTimeout    time.Duration
	sendTimeoutSet bool
	maxBinary      int64 // 0 means DefaultBufferSize
	maxText        int64 // 0 means DefaultBufferSize
	sessions       map[*Session]bool
}

func (c *Container) logf(format string, args ...any) {
	logger.OrDiscard(c.Logf)(format, args...)
}

// DefaultAsyncSendTimeout returns the time a send may block before it
// fails. A negative value means sends have no timeout, which is the
// default.
func (c *Container) DefaultAsyncSendTimeout() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.sendTimeoutSet {
		return -1
	}
	return c.sendTimeout
}

// SetAsyncSendTimeout sets the value returned by DefaultAsyncSendTimeout.
func (c *Container) SetAsyncSendTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendTimeout = d
	c.sendTimeoutSet = true
}

// MaxBinaryMessageBufferSize returns the largest binary message a session
// accepts. It is also the size of the handshake read buffer.
func (c *Container) MaxBinaryMessageBufferSize() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cmpOr(c.maxBinary, DefaultBufferSize)
}

// SetMaxBinaryMessageBufferSize sets the value returned by
// MaxBinaryMessageBufferSize.
func (c *Container) SetMaxBinaryMessageBufferSize(n int64) error {
	if err := checkBufferSize(n); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxBinary = n
	return nil
}

// MaxTextMessageBufferSize returns the largest text message a session
// accepts.
func (c *Container) MaxTextMessageBufferSize() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cmpOr(c.maxText, DefaultBufferSize)
}

// SetMaxTextMessageBufferSize sets the value returned by
// MaxTextMessageBufferSize.
func (c *Container) SetMaxTextMessageBufferSize(n int64) error {
	if err := checkBufferSize(n); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxText = n
	return nil
}

func checkBufferSize(n int64) error {
	if n < 1 || n > math.MaxInt32 {
		return fmt.Errorf("%w: %d", ErrInvalidBufferSize, n)
	}
	return nil
}

func cmpOr(v, def int64) int64 {
	if v == 0 {
		return def
	}
	return v
}

// OpenSessions returns the sessions opened by c that have not ended,
// ordered by ID.
func (c *Container) OpenSessions() []*Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.SortedFunc(maps.Keys(c.sessions), func(a, b *Session) int {
		return strings.Compare(a.ID, b.ID)
	})
}

func (c *Container) register(s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessions == nil {
		c.sessions = make(map[*Session]bool)
	}
	c.sessions[s] = true
}

func (c *Container) unregister(s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, s)
}

// Close closes all open sessions with status 1001 (going away).
// The Container stays usable.
func (c *Container) Close() error {
	var errs []error
	for _, s := range c.OpenSessions() {
		if err := s.closeWith(wsframe.StatusGoingAway, ""); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Connect opens a session to the server at u.
//
// It validates u, sends the upgrade request, reads the server's response,
// and on a 101 creates an endpoint with newEndpoint and opens it. The
// returned error is a *wshandshake.Error for any handshake failure; the
// connection is closed on every failure path.
//
// ctx bounds the handshake only, not the session.
func (c *Container) Connect(ctx context.Context, newEndpoint EndpointFactory, cfg *EndpointConfig, u *url.URL) (*Session, error) {
	if newEndpoint == nil {
		return nil, wshandshake.Errorf(wshandshake.EndpointInstantiationFailure, errors.New("nil EndpointFactory"), "")
	}
	if cfg == nil {
		cfg = new(EndpointConfig)
	}
	hs, err := c.handshake(ctx, cfg, u)
	if err != nil {
		return nil, err
	}
	ep, err := newEndpoint()
	if err == nil && ep == nil {
		err = errors.New("nil Endpoint")
	}
	if err != nil {
		hs.nc.Close()
		err = wshandshake.Errorf(wshandshake.EndpointInstantiationFailure, err, "")
		c.logf("wsclient: handshake with %s: %v", hs.addr, err)
		return nil, err
	}

	s := newSession(c, ep, cfg, hs.resp, c.newConn(hs))
	c.logf("wsclient: session %s open to %s in %v (%d bytes read ahead)", s.ID, hs.addr, hs.elapsed.Round(time.Millisecond), len(hs.leftover))
	c.register(s)
	ep.OnOpen(s, cfg)
	go s.readLoop()
	return s, nil
}

// DialConn performs the handshake with the server at u and returns the
// upgraded connection as a net.Conn whose reads and writes are messages
// of type typ, for tunneling a byte stream. There is no Session or
// Endpoint; the caller owns the returned conn. cfg may be nil.
func (c *Container) DialConn(ctx context.Context, cfg *EndpointConfig, u *url.URL, typ wsframe.MessageType) (net.Conn, *wshandshake.Response, error) {
	if cfg == nil {
		cfg = new(EndpointConfig)
	}
	hs, err := c.handshake(ctx, cfg, u)
	if err != nil {
		return nil, nil, err
	}
	c.logf("wsclient: conn open to %s in %v", hs.addr, hs.elapsed.Round(time.Millisecond))
	return wsconn.NetConn(context.Background(), c.newConn(hs), typ), hs.resp, nil
}

// handshakeResult is a connection that completed the upgrade.
type handshakeResult struct {
	nc       net.Conn
	addr     string
	resp     *wshandshake.Response
	leftover []byte // read past the response; aliases the read buffer
	elapsed  time.Duration
}

func (c *Container) newConn(hs *handshakeResult) *wsframe.Conn {
	return wsframe.NewConn(hs.nc, hs.leftover, wsframe.Limits{
		MaxText:   c.MaxTextMessageBufferSize(),
		MaxBinary: c.MaxBinaryMessageBufferSize(),
	})
}

// handshake runs the opening handshake up to and including
// cfg.AfterResponse. On error no connection is left open.
func (c *Container) handshake(ctx context.Context, cfg *EndpointConfig, u *url.URL) (_ *handshakeResult, err error) {
	target, err := wshandshake.ParseTarget(u)
	if err != nil {
		return nil, err
	}
	defaultPort := 80
	if target.Secure() {
		if c.SecureTransport == nil {
			return nil, wshandshake.Errorf(wshandshake.UnsupportedSecureTransport, nil, "%s", u.Redacted())
		}
		defaultPort = 443
	}
	addr := target.Addr(defaultPort)

	h := wshandshake.NewRequestHeader(target.Host, target.Port)
	if cfg.BeforeRequest != nil {
		cfg.BeforeRequest(h)
	}
	req, err := wshandshake.EncodeRequest(target.Path, h)
	if err != nil {
		return nil, err
	}
	key := h.Get(wshandshake.KeyHeader)

	st := &wshandshake.Stream{
		Dial:       c.Dial,
		ServerName: target.Host,
		Timeout:    c.HandshakeTimeout,
	}
	if target.Secure() {
		st.Secure = c.SecureTransport
	}
	start := time.Now()
	if err := st.Connect(ctx, addr); err != nil {
		c.logf("wsclient: dial %s: %v", addr, err)
		return nil, err
	}
	defer func() {
		if err != nil {
			c.logf("wsclient: handshake with %s: %v", addr, err)
			st.Close()
		}
	}()

	if _, err := st.WriteAll(ctx, req); err != nil {
		return nil, err
	}
	buf := make([]byte, c.MaxBinaryMessageBufferSize())
	p := &wshandshake.Parser{Strict: c.StrictHeaders}
	if c.StrictHeaders {
		p.MaxLineLen = len(buf)
	}
	resp, leftover, err := wshandshake.ReadResponse(ctx, st, buf, p)
	if err != nil {
		return nil, err
	}
	if c.VerifyAccept {
		if err := resp.VerifyAccept(key); err != nil {
			return nil, err
		}
	}
	if cfg.AfterResponse != nil {
		cfg.AfterResponse(resp)
	}
	return &handshakeResult{
		nc:       st.Conn(),
		addr:     addr,
		resp:     resp,
		leftover: leftover,
		elapsed:  time.Since(start),
	}, nil
}
