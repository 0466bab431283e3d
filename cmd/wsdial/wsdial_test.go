// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	qt "github.com/frankban/quicktest"
	"github.com/google/go-cmp/cmp"
)

func TestParseFlags(t *testing.T) {
	c := qt.New(t)
	t.Setenv("WSDIAL_N", "3")
	o, u, err := parseFlags([]string{
		"-header", "Origin: http://example.com",
		"-header", "X-A:1",
		"-send", "a,b",
		"-timeout", "2s",
		"http://example.com/chat",
	})
	c.Assert(err, qt.IsNil)
	c.Assert(u.Host, qt.Equals, "example.com")
	c.Assert(o.n, qt.Equals, 3)
	c.Assert(o.timeout, qt.Equals, 2*time.Second)
	if diff := cmp.Diff(o.send, []string{"a", "b"}); diff != "" {
		t.Errorf("send mismatch (-got +want):\n%s", diff)
	}
	if diff := cmp.Diff([][2]string(o.headers), [][2]string{{"Origin", "http://example.com"}, {"X-A", "1"}}); diff != "" {
		t.Errorf("headers mismatch (-got +want):\n%s", diff)
	}
}

func TestParseFlagsErrors(t *testing.T) {
	for _, args := range [][]string{
		{},
		{"http://a", "http://b"},
		{"-header", "nocolon", "http://a"},
		{"-parallel", "0", "http://a"},
	} {
		if _, _, err := parseFlags(args); err == nil {
			t.Errorf("parseFlags(%q) succeeded; want error", args)
		}
	}
}

func TestRun(t *testing.T) {
	traces := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traces <- r.Header.Get("X-Trace")
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		for {
			typ, p, err := c.Read(context.Background())
			if err != nil {
				return
			}
			if err := c.Write(context.Background(), typ, bytes.ToUpper(p)); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	var out bytes.Buffer
	err := run(context.Background(), []string{
		"-verify-accept",
		"-header", "X-Trace:abc",
		"-send", "hello,world",
		"-n", "2",
		srv.URL,
	}, nil, &out)
	if err != nil {
		t.Fatal(err)
	}
	got := out.String()
	for _, want := range []string{
		"< HTTP/1.1 101 Switching Protocols\n",
		"< upgrade: websocket\n",
		"> hello\n",
		"< [text] HELLO\n",
		"< [text] WORLD\n",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q; got:\n%s", want, got)
		}
	}
	if got := <-traces; got != "abc" {
		t.Errorf("server saw X-Trace %q; want abc", got)
	}
}

func TestRunParallel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		c.Write(context.Background(), websocket.MessageBinary, []byte{0xca, 0xfe})
		c.Read(context.Background())
	}))
	defer srv.Close()

	var out bytes.Buffer
	if err := run(context.Background(), []string{"-parallel", "4", "-n", "1", srv.URL}, nil, &out); err != nil {
		t.Fatal(err)
	}
	for i := range 4 {
		want := "[" + string(rune('0'+i)) + "] < [binary] cafe\n"
		if !strings.Contains(out.String(), want) {
			t.Errorf("output missing %q; got:\n%s", want, out.String())
		}
	}
}

func TestRunHandshakeFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	err := run(context.Background(), []string{srv.URL}, nil, new(bytes.Buffer))
	if err == nil || !strings.Contains(err.Error(), "invalid status") {
		t.Errorf("run = %v; want invalid status error", err)
	}
}

func TestRunStdio(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		for {
			typ, p, err := c.Read(context.Background())
			if err != nil {
				return
			}
			if err := c.Write(context.Background(), typ, bytes.ToUpper(p)); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	var out bytes.Buffer
	err := run(context.Background(), []string{"-stdio", "-wait", "200ms", srv.URL}, strings.NewReader("tunneled bytes"), &out)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := out.String(), "TUNNELED BYTES"; got != want {
		t.Errorf("stdout = %q; want %q", got, want)
	}
}
