// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

// Package wsconn contains an adapter type that turns
// a client WebSocket connection into a net.Conn.
package wsconn

import (
	"context"
	"fmt"
	"io"
	"math"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"wsdial.dev/net/wsframe"
)

// NetConn converts a *wsframe.Conn into a net.Conn, for tunneling a byte
// stream over WebSocket messages.
//
// Every Write to the net.Conn is one message of type msgType. Reads
// return the payloads of incoming messages in order, without message
// boundaries.
//
// The passed ctx bounds the lifetime of the net.Conn. If cancelled,
// all reads and writes on the net.Conn will be cancelled.
//
// If a message of another type is read, the connection is closed with
// status 1003 (unsupported data) and an error is returned.
//
// Close closes the *wsframe.Conn with a normal closure.
//
// When a deadline is hit, the connection is no longer usable. This is
// different from most net.Conn implementations where only the
// reading/writing goroutines are interrupted but the connection is kept alive.
//
// A received normal closure or going away close frame reads as io.EOF.
func NetConn(ctx context.Context, c *wsframe.Conn, msgType wsframe.MessageType) net.Conn {
	nc := &netConn{
		c:       c,
		msgType: msgType,
	}

	var writeCancel context.CancelFunc
	nc.writeContext, writeCancel = context.WithCancel(ctx)
	nc.writeTimer = time.AfterFunc(math.MaxInt64, func() {
		nc.afterWriteDeadline.Store(true)
		if nc.writing.Load() {
			writeCancel()
		}
	})
	nc.writeTimer.Stop()

	var readCancel context.CancelFunc
	nc.readContext, readCancel = context.WithCancel(ctx)
	nc.readTimer = time.AfterFunc(math.MaxInt64, func() {
		nc.afterReadDeadline.Store(true)
		if nc.reading.Load() {
			readCancel()
		}
	})
	nc.readTimer.Stop()

	return nc
}

type netConn struct {
	c       *wsframe.Conn
	msgType wsframe.MessageType

	writeTimer         *time.Timer
	writeContext       context.Context
	writing            atomic.Bool
	afterWriteDeadline atomic.Bool

	readTimer         *time.Timer
	readContext       context.Context
	reading           atomic.Bool
	afterReadDeadline atomic.Bool

	readMu sync.Mutex
	// eofed is true if the reader should return io.EOF from the Read call.
	//
	// +checklocks:readMu
	eofed bool
	// pending is the unread rest of the last message.
	//
	// +checklocks:readMu
	pending []byte
}

var _ net.Conn = &netConn{}

func (c *netConn) Close() error {
	c.writeTimer.Stop()
	c.readTimer.Stop()
	return c.c.Close(wsframe.StatusNormalClosure, "")
}

func (c *netConn) Write(p []byte) (int, error) {
	if c.afterWriteDeadline.Load() {
		return 0, os.ErrDeadlineExceeded
	}

	if swapped := c.writing.CompareAndSwap(false, true); !swapped {
		panic("Concurrent writes not allowed")
	}
	defer c.writing.Store(false)

	if err := c.c.WriteMessage(c.writeContext, c.msgType, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *netConn) Read(p []byte) (int, error) {
	if c.afterReadDeadline.Load() {
		return 0, os.ErrDeadlineExceeded
	}

	c.readMu.Lock()
	defer c.readMu.Unlock()
	if swapped := c.reading.CompareAndSwap(false, true); !swapped {
		panic("Concurrent reads not allowed")
	}
	defer c.reading.Store(false)

	if c.eofed {
		return 0, io.EOF
	}

	// Empty messages carry nothing for a stream; skip them.
	for len(c.pending) == 0 {
		typ, msg, err := c.c.ReadMessage(c.readContext)
		if err != nil {
			switch wsframe.CloseStatus(err) {
			case wsframe.StatusNormalClosure, wsframe.StatusGoingAway:
				c.eofed = true
				return 0, io.EOF
			}
			return 0, err
		}
		if typ != c.msgType {
			err := fmt.Errorf("unexpected frame type read (expected %v): %v", c.msgType, typ)
			c.c.Close(wsframe.StatusUnsupportedData, err.Error())
			return 0, err
		}
		c.pending = msg
	}

	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

type websocketAddr struct {
	addr net.Addr
}

func (a websocketAddr) Network() string {
	return "websocket"
}

func (a websocketAddr) String() string {
	if a.addr != nil {
		return a.addr.String()
	}
	return "websocket/unknown-addr"
}

func (c *netConn) RemoteAddr() net.Addr {
	return websocketAddr{c.c.NetConn().RemoteAddr()}
}

func (c *netConn) LocalAddr() net.Addr {
	return websocketAddr{c.c.NetConn().LocalAddr()}
}

func (c *netConn) SetDeadline(t time.Time) error {
	c.SetWriteDeadline(t)
	c.SetReadDeadline(t)
	return nil
}

func (c *netConn) SetWriteDeadline(t time.Time) error {
	if t.IsZero() {
		c.writeTimer.Stop()
	} else {
		c.writeTimer.Reset(time.Until(t))
	}
	c.afterWriteDeadline.Store(false)
	return nil
}

func (c *netConn) SetReadDeadline(t time.Time) error {
	if t.IsZero() {
		c.readTimer.Stop()
	} else {
		c.readTimer.Reset(time.Until(t))
	}
	c.afterReadDeadline.Store(false)
	return nil
}
