// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package wshandshake

import (
	"encoding/base64"
	"sync"
	"testing"

	qt "github.com/frankban/quicktest"
	"golang.org/x/sync/errgroup"
)

func TestNewRequestHeader(t *testing.T) {
	tests := []struct {
		host     string
		port     int
		wantHost string
	}{
		{"example.com", -1, "example.com"},
		{"example.com", 8080, "example.com:8080"},
		{"::1", -1, "[::1]"},
		{"::1", 9000, "[::1]:9000"},
		{"10.0.0.1", 80, "10.0.0.1:80"},
	}
	for _, tt := range tests {
		h := NewRequestHeader(tt.host, tt.port)
		if got := h.Get("host"); got != tt.wantHost {
			t.Errorf("NewRequestHeader(%q, %d) Host = %q; want %q", tt.host, tt.port, got, tt.wantHost)
		}
	}

	c := qt.New(t)
	h := NewRequestHeader("example.com", -1)
	c.Assert(h.Names(), qt.DeepEquals, []string{"Host", "Upgrade", "Connection", "Sec-WebSocket-Version", "Sec-WebSocket-Key"})
	c.Assert(h.Get(UpgradeHeader), qt.Equals, "websocket")
	c.Assert(h.Get(ConnectionHeader), qt.Equals, "Upgrade")
	c.Assert(h.Get(VersionHeader), qt.Equals, "13")
	for _, name := range h.Names() {
		c.Assert(h.Values(name), qt.HasLen, 1, qt.Commentf("header %s", name))
	}
}

func TestNewKey(t *testing.T) {
	const n = 10000
	var (
		mu   sync.Mutex
		seen = make(map[string]bool, n)
		g    errgroup.Group
	)
	g.SetLimit(8)
	for range n {
		g.Go(func() error {
			k := NewRequestHeader("example.com", -1).Get(KeyHeader)
			if len(k) != 24 {
				t.Errorf("key %q has length %d; want 24", k, len(k))
			}
			raw, err := base64.StdEncoding.DecodeString(k)
			if err != nil {
				return err
			}
			if len(raw) != keyLen {
				t.Errorf("key %q decodes to %d bytes; want %d", k, len(raw), keyLen)
			}
			mu.Lock()
			defer mu.Unlock()
			if seen[k] {
				t.Errorf("duplicate key %q", k)
			}
			seen[k] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
}

func TestHeader(t *testing.T) {
	c := qt.New(t)
	var h Header
	c.Assert(h.Get("X"), qt.Equals, "")
	c.Assert(h.Has("X"), qt.IsFalse)

	h.Add("Sec-WebSocket-Protocol", "chat")
	h.Add("sec-websocket-protocol", "superchat")
	h.Set("Origin", "http://example.com")
	c.Assert(h.Values("SEC-WEBSOCKET-PROTOCOL"), qt.DeepEquals, []string{"chat", "superchat"})
	c.Assert(h.Names(), qt.DeepEquals, []string{"Sec-WebSocket-Protocol", "Origin"})

	h.Set("ORIGIN", "http://other.example")
	c.Assert(h.Names(), qt.DeepEquals, []string{"Sec-WebSocket-Protocol", "Origin"})
	c.Assert(h.Get("origin"), qt.Equals, "http://other.example")

	h.Del("sec-websocket-protocol")
	c.Assert(h.Has("Sec-WebSocket-Protocol"), qt.IsFalse)
	c.Assert(h.Len(), qt.Equals, 1)

	h.Set("X-Empty")
	c.Assert(h.Has("X-Empty"), qt.IsTrue)
	c.Assert(h.Values("X-Empty"), qt.HasLen, 0)
}
