// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package wsclient

import (
	"context"
	"io"
	"net"
	"net/http"
	"testing"

	"github.com/akutz/memconn"
	"github.com/coder/websocket"
	qt "github.com/frankban/quicktest"
	"wsdial.dev/net/netutil"
	"wsdial.dev/tstest"
	"wsdial.dev/util/rands"
)

// memDial dials in-memory listeners, ignoring the requested network.
func memDial(ctx context.Context, _, addr string) (net.Conn, error) {
	return memconn.DialContext(ctx, "memu", addr)
}

func TestConnectInMemory(t *testing.T) {
	c := qt.New(t)
	host := "ws-" + rands.HexString(8) + ".test"
	ln, err := memconn.Listen("memu", host+":80")
	c.Assert(err, qt.IsNil)
	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wc, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer wc.CloseNow()
		wc.Write(context.Background(), websocket.MessageText, []byte("host="+r.Host))
		wc.Read(context.Background())
	})}
	go srv.Serve(ln)
	t.Cleanup(func() { srv.Close() })

	ct := &Container{Dial: memDial, VerifyAccept: true, Logf: tstest.WhileTestRunningLogger(t)}
	rec := newRecorder()
	// No port in the URL: the Host header has none and port 80 is dialed.
	s, err := ct.Connect(context.Background(), rec.factory(), nil, mustParse(t, "http://"+host+"/"))
	c.Assert(err, qt.IsNil)
	c.Assert(rec.recvMsg(t), qt.Equals, "text:host="+host)
	s.Close()
	<-s.Done()
}

func TestConnectOverPipe(t *testing.T) {
	c := qt.New(t)
	client, server := net.Pipe()
	done := make(chan struct{})
	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer close(done)
		conn, brw, err := w.(http.Hijacker).Hijack()
		if err != nil {
			return
		}
		defer conn.Close()
		brw.WriteString(upgradeResponse(r))
		// One unmasked text frame, "hi".
		brw.Write([]byte{0x81, 2, 'h', 'i'})
		brw.Flush()
		io.Copy(io.Discard, brw)
	})}
	go srv.Serve(netutil.NewOneConnListener(server, nil))

	dialed := false
	ct := &Container{
		VerifyAccept: true,
		Logf:         tstest.WhileTestRunningLogger(t),
		Dial: func(ctx context.Context, network, addr string) (net.Conn, error) {
			c.Check(dialed, qt.IsFalse)
			dialed = true
			return client, nil
		},
	}
	rec := newRecorder()
	s, err := ct.Connect(context.Background(), rec.factory(), nil, mustParse(t, "http://pipe.test/"))
	c.Assert(err, qt.IsNil)
	c.Assert(rec.recvMsg(t), qt.Equals, "text:hi")
	c.Assert(s.Close(), qt.IsNil)
	<-s.Done()
	c.Assert(s.Err(), qt.IsNil)
	<-done
}
