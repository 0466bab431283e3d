// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

// Package wsframe is the client side of the WebSocket framing layer that
// takes over a connection once the opening handshake is done.
//
// Framing itself (masking, fragmentation, control frames) is delegated to
// github.com/gobwas/ws. This package adds message size limits, context
// deadlines and the handoff of bytes read ahead during the handshake.
package wsframe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"wsdial.dev/net/netutil"
)

// MessageType is the type of a data message.
type MessageType int

const (
	Text   = MessageType(ws.OpText)
	Binary = MessageType(ws.OpBinary)
)

func (t MessageType) String() string {
	switch t {
	case Text:
		return "text"
	case Binary:
		return "binary"
	}
	return fmt.Sprintf("MessageType(%d)", int(t))
}

// StatusCode is a close status code.
type StatusCode = ws.StatusCode

const (
	StatusNormalClosure   = ws.StatusNormalClosure
	StatusGoingAway       = ws.StatusGoingAway
	StatusUnsupportedData = ws.StatusUnsupportedData
	StatusMessageTooBig   = ws.StatusMessageTooBig
)

// ErrMessageTooBig is returned by ReadMessage when a message exceeds the
// limit for its type.
var ErrMessageTooBig = errors.New("wsframe: message too big")

// Limits bounds the size of incoming messages. Zero means no limit.
type Limits struct {
	MaxText   int64
	MaxBinary int64
}

func (l Limits) forType(op ws.OpCode) int64 {
	if op == ws.OpText {
		return l.MaxText
	}
	return l.MaxBinary
}

var aLongTimeAgo = time.Unix(1, 0)

// closeGrace is how long Close waits for an in-progress write before
// interrupting it, and how long it spends writing the close frame.
const closeGrace = time.Second

// Conn is a client-side WebSocket connection.
//
// ReadMessage must not be called concurrently with itself; WriteMessage
// and Close may be called from any goroutine.
type Conn struct {
	nc     net.Conn
	limits Limits
	rd     wsutil.Reader
	ctrl   wsutil.FrameHandlerFunc

	wmu        sync.Mutex // serializes frame writes
	closing    atomic.Bool
	peerClosed atomic.Bool
	closeOnce  sync.Once
	closeErr   error
}

// NewConn returns a Conn speaking WebSocket over nc.
//
// leftover holds bytes that were read from nc past the end of the
// handshake response; they are the start of the first frame and are read
// before anything else. NewConn takes ownership of both nc and leftover.
func NewConn(nc net.Conn, leftover []byte, limits Limits) *Conn {
	c := &Conn{
		nc:     netutil.NewDrainBufConn(nc, leftover),
		limits: limits,
	}
	w := lockedWriter{c}
	c.ctrl = wsutil.ControlFrameHandler(w, ws.StateClientSide)
	c.rd = wsutil.Reader{
		Source:         c.nc,
		State:          ws.StateClientSide,
		CheckUTF8:      true,
		OnIntermediate: c.ctrl,
	}
	return c
}

// lockedWriter writes to the conn holding the write lock, so control frame
// replies from the read side don't interleave with data frames.
type lockedWriter struct{ c *Conn }

func (w lockedWriter) Write(p []byte) (int, error) {
	w.c.wmu.Lock()
	defer w.c.wmu.Unlock()
	if w.c.closing.Load() {
		return 0, net.ErrClosed
	}
	return w.c.nc.Write(p)
}

// NetConn returns the underlying connection.
func (c *Conn) NetConn() net.Conn { return c.nc }

// watch arranges for blocked I/O on the conn to return when ctx is done,
// using set to move the relevant deadline. The returned func must be
// called when the I/O is over; it reports ctx.Err. Once done returns, set
// is no longer called.
func watch(ctx context.Context, set func(time.Time) error) (done func() error) {
	set(time.Time{})
	fired := make(chan struct{})
	stop := context.AfterFunc(ctx, func() {
		set(aLongTimeAgo)
		close(fired)
	})
	return func() error {
		if !stop() {
			<-fired
		}
		return ctx.Err()
	}
}

// ReadMessage reads the next data message. Ping and close frames in
// between are answered as the protocol requires. When the server closes
// the connection the error is a wsutil.ClosedError.
func (c *Conn) ReadMessage(ctx context.Context) (MessageType, []byte, error) {
	done := watch(ctx, c.nc.SetReadDeadline)
	typ, p, err := c.readMessage()
	if CloseStatus(err) != 0 {
		// The control handler has already echoed the close frame.
		c.peerClosed.Store(true)
	}
	if cerr := done(); cerr != nil && err != nil {
		err = fmt.Errorf("%w: %w", cerr, err)
	}
	return typ, p, err
}

func (c *Conn) readMessage() (MessageType, []byte, error) {
	for {
		hdr, err := c.rd.NextFrame()
		if err != nil {
			return 0, nil, err
		}
		if hdr.OpCode.IsControl() {
			if err := c.ctrl(hdr, &c.rd); err != nil {
				return 0, nil, err
			}
			continue
		}
		limit := c.limits.forType(hdr.OpCode)
		var r io.Reader = &c.rd
		if limit > 0 {
			if hdr.Length > limit {
				return 0, nil, c.tooBig()
			}
			r = io.LimitReader(r, limit+1)
		}
		p, err := io.ReadAll(r)
		if err != nil {
			return 0, nil, err
		}
		if limit > 0 && int64(len(p)) > limit {
			return 0, nil, c.tooBig()
		}
		return MessageType(hdr.OpCode), p, nil
	}
}

func (c *Conn) tooBig() error {
	c.Close(StatusMessageTooBig, "")
	return ErrMessageTooBig
}

// WriteMessage writes p as a single masked frame of type typ.
func (c *Conn) WriteMessage(ctx context.Context, typ MessageType, p []byte) error {
	if typ != Text && typ != Binary {
		return fmt.Errorf("wsframe: bad message type %v", typ)
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.closing.Load() {
		return net.ErrClosed
	}
	done := watch(ctx, c.nc.SetWriteDeadline)
	err := wsutil.WriteClientMessage(c.nc, ws.OpCode(typ), p)
	if cerr := done(); cerr != nil && err != nil {
		err = fmt.Errorf("%w: %w", cerr, err)
	}
	if err != nil && c.closing.Load() {
		err = fmt.Errorf("%w: %w", net.ErrClosed, err)
	}
	return err
}

// Close sends a close frame with code and reason, best effort, and closes
// the connection. Only the first call has any effect.
//
// A write in progress gets closeGrace to finish. After that it is
// interrupted and fails with net.ErrClosed, and no close frame is sent
// since the stream may end mid-frame. Later writes fail with
// net.ErrClosed.
func (c *Conn) Close(code StatusCode, reason string) error {
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		sendFrame := !c.peerClosed.Load()
		if !c.wmu.TryLock() {
			t := time.AfterFunc(closeGrace, func() {
				c.nc.SetWriteDeadline(aLongTimeAgo)
			})
			c.wmu.Lock()
			if !t.Stop() {
				sendFrame = false
			}
		}
		if sendFrame {
			c.nc.SetWriteDeadline(time.Now().Add(closeGrace))
			wsutil.WriteClientMessage(c.nc, ws.OpClose, ws.NewCloseFrameBody(code, reason))
		}
		c.wmu.Unlock()
		c.closeErr = c.nc.Close()
	})
	return c.closeErr
}

// CloseStatus returns the status code if err reports that the peer closed
// the connection with a close frame, or 0.
func CloseStatus(err error) StatusCode {
	var ce wsutil.ClosedError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return 0
}
