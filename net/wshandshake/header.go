// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package wshandshake

import (
	"encoding/base64"
	"strconv"
	"strings"

	"wsdial.dev/util/rands"
)

// Request header names and the fixed values this client sends.
const (
	HostHeader       = "Host"
	UpgradeHeader    = "Upgrade"
	ConnectionHeader = "Connection"
	VersionHeader    = "Sec-WebSocket-Version"
	KeyHeader        = "Sec-WebSocket-Key"
	AcceptHeader     = "Sec-WebSocket-Accept"

	upgradeValue    = "websocket"
	connectionValue = "Upgrade"
	versionValue    = "13"
)

// keyLen is the number of random bytes in a Sec-WebSocket-Key.
const keyLen = 16

// requiredHeaders are the headers every upgrade request carries, in the
// order they are emitted.
var requiredHeaders = []string{HostHeader, UpgradeHeader, ConnectionHeader, VersionHeader, KeyHeader}

// Header is an ordered set of request header fields.
//
// Names are matched ASCII case-insensitively; the spelling used when a name
// was first added is the one written on the wire. Iteration order is
// insertion order, which makes the encoded request reproducible.
//
// The zero value is an empty Header ready to use. A Header is not safe for
// concurrent use.
type Header struct {
	names  []string            // wire spelling, insertion order
	values map[string][]string // keyed by lower-cased name
}

func headerKey(name string) string { return strings.ToLower(name) }

// Set replaces any values of name with vals.
func (h *Header) Set(name string, vals ...string) {
	k := headerKey(name)
	if h.values == nil {
		h.values = make(map[string][]string)
	}
	if _, ok := h.values[k]; !ok {
		h.names = append(h.names, name)
	}
	h.values[k] = append([]string(nil), vals...)
}

// Add appends val to name's values.
func (h *Header) Add(name, val string) {
	k := headerKey(name)
	if _, ok := h.values[k]; !ok {
		h.Set(name, val)
		return
	}
	h.values[k] = append(h.values[k], val)
}

// Get returns the first value of name, or the empty string.
func (h *Header) Get(name string) string {
	if vs := h.values[headerKey(name)]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// Values returns the values of name. The caller must not modify the
// returned slice.
func (h *Header) Values(name string) []string {
	return h.values[headerKey(name)]
}

// Has reports whether name is present, even with no values.
func (h *Header) Has(name string) bool {
	_, ok := h.values[headerKey(name)]
	return ok
}

// Del removes name.
func (h *Header) Del(name string) {
	k := headerKey(name)
	if _, ok := h.values[k]; !ok {
		return
	}
	delete(h.values, k)
	for i, n := range h.names {
		if headerKey(n) == k {
			h.names = append(h.names[:i], h.names[i+1:]...)
			break
		}
	}
}

// Names returns the header names in emission order.
func (h *Header) Names() []string {
	return append([]string(nil), h.names...)
}

// Len returns the number of distinct header names.
func (h *Header) Len() int { return len(h.names) }

// NewKey returns a fresh Sec-WebSocket-Key: 16 random bytes,
// base64-encoded to 24 characters.
func NewKey() string {
	var b [keyLen]byte
	rands.Fill(b[:])
	return base64.StdEncoding.EncodeToString(b[:])
}

// NewRequestHeader returns the headers of an upgrade request to host.
// A port of -1 means the scheme's default port and is left out of Host.
//
// A new key is generated on every call.
func NewRequestHeader(host string, port int) *Header {
	if strings.Contains(host, ":") && !strings.HasPrefix(host, "[") {
		host = "[" + host + "]" // IPv6 literal
	}
	if port != -1 {
		host += ":" + strconv.Itoa(port)
	}
	h := new(Header)
	h.Set(HostHeader, host)
	h.Set(UpgradeHeader, upgradeValue)
	h.Set(ConnectionHeader, connectionValue)
	h.Set(VersionHeader, versionValue)
	h.Set(KeyHeader, NewKey())
	return h
}
