// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

// Package netutil contains misc shared networking code & types.
package netutil

import (
	"io"
	"net"
)

// NewOneConnListener returns a net.Listener that returns c on its first
// Accept and EOF thereafter. If ln is nil, the Listener's Addr is a dummy
// address.
func NewOneConnListener(c net.Conn, ln net.Listener) net.Listener {
	if ln == nil {
		ln = dummyListener{}
	}
	return &oneConnListener{c, ln}
}

type oneConnListener struct {
	conn net.Conn
	net.Listener
}

func (l *oneConnListener) Accept() (c net.Conn, err error) {
	c = l.conn
	if c == nil {
		err = io.EOF
		return
	}
	err = nil
	l.conn = nil
	return
}

type dummyListener struct{}

func (dummyListener) Close() error                    { return nil }
func (dummyListener) Addr() net.Addr                  { return dummyAddr("unused-address") }
func (dummyListener) Accept() (c net.Conn, err error) { return nil, io.EOF }

type dummyAddr string

func (a dummyAddr) Network() string { return string(a) }
func (a dummyAddr) String() string  { return string(a) }

// NewDrainBufConn returns a net.Conn that first returns the bytes in buf
// from Read and then reads from c.
//
// It takes ownership of buf; the caller must not touch it afterwards.
// The returned conn's Read is not safe for concurrent use, matching the
// single-reader contract of a protocol layer that owns the socket.
func NewDrainBufConn(c net.Conn, buf []byte) net.Conn {
	if len(buf) == 0 {
		return c
	}
	return &drainBufConn{Conn: c, buf: buf}
}

type drainBufConn struct {
	net.Conn
	buf []byte // remaining unread bytes; nil once drained
}

func (b *drainBufConn) Read(p []byte) (int, error) {
	if b.buf == nil {
		return b.Conn.Read(p)
	}
	n := copy(p, b.buf)
	b.buf = b.buf[n:]
	if len(b.buf) == 0 {
		b.buf = nil
	}
	return n, nil
}
