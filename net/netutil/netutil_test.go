// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package netutil

import (
	"io"
	"net"
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestDrainBufConn(t *testing.T) {
	c := qt.New(t)
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	go func() {
		io.WriteString(c2, "-world")
		c2.Close()
	}()

	conn := NewDrainBufConn(c1, []byte("hello"))
	buf := make([]byte, 3)
	n, err := conn.Read(buf)
	c.Assert(err, qt.IsNil)
	c.Assert(string(buf[:n]), qt.Equals, "hel")

	rest, err := io.ReadAll(conn)
	c.Assert(err, qt.IsNil)
	c.Assert(string(rest), qt.Equals, "lo-world")
}

func TestDrainBufConnEmpty(t *testing.T) {
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()
	if got := NewDrainBufConn(c1, nil); got != c1 {
		t.Errorf("NewDrainBufConn with no bytes wrapped the conn: %T", got)
	}
}

func TestOneConnListener(t *testing.T) {
	c := qt.New(t)
	c1, c2 := net.Pipe()
	defer c1.Close()
	defer c2.Close()

	ln := NewOneConnListener(c1, nil)
	c.Assert(ln.Addr().String(), qt.Equals, "unused-address")
	got, err := ln.Accept()
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.Equals, c1)
	_, err = ln.Accept()
	c.Assert(err, qt.Equals, io.EOF)
}
