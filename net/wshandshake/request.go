// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package wshandshake

import (
	"bytes"
	"net"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"
	"golang.org/x/text/encoding/charmap"
)

// Target is the server a handshake is addressed to.
type Target struct {
	Scheme string // "http" or "https"
	Host   string // without brackets or port
	Port   int    // -1 if the URL has none
	Path   string // request-target: escaped path plus "?query", never empty
}

// Secure reports whether t needs a secure transport.
func (t Target) Secure() bool { return t.Scheme == "https" }

// Addr returns the host:port to dial, using defaultPort when t.Port is -1.
func (t Target) Addr(defaultPort int) string {
	p := t.Port
	if p == -1 {
		p = defaultPort
	}
	return net.JoinHostPort(t.Host, strconv.Itoa(p))
}

// ParseTarget validates u as a handshake target.
//
// The scheme must be http or https (in any case) and the host must be
// present. No network activity happens here.
func ParseTarget(u *url.URL) (Target, error) {
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return Target{}, newError(WrongScheme, nil, "%q", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return Target{}, newError(MissingHost, nil, "%q", u.String())
	}
	t := Target{
		Scheme: scheme,
		Host:   host,
		Port:   -1,
		Path:   u.EscapedPath(),
	}
	if ps := u.Port(); ps != "" {
		p, err := strconv.ParseUint(ps, 10, 16)
		if err != nil {
			return Target{}, newError(InvalidRequest, err, "bad port %q", ps)
		}
		t.Port = int(p)
	}
	if t.Path == "" {
		t.Path = "/"
	}
	if u.RawQuery != "" {
		t.Path += "?" + u.RawQuery
	}
	return t, nil
}

var crlf = []byte("\r\n")

// EncodeRequest returns the wire form of an upgrade request for path with
// headers h.
//
// Headers are written in h's order with their values joined by commas.
// Names with no values are skipped. Text is encoded as ISO-8859-1, octet
// for octet; a character outside that charset is an error. So is a name
// or value that is not valid in HTTP, and a required header that does not
// have exactly one value.
func EncodeRequest(path string, h *Header) ([]byte, error) {
	for _, name := range requiredHeaders {
		switch n := len(h.Values(name)); n {
		case 1:
		case 0:
			return nil, newError(InvalidRequest, nil, "missing %s header", name)
		default:
			return nil, newError(InvalidRequest, nil, "%d values for %s header; want 1", n, name)
		}
	}
	if path == "" || strings.ContainsAny(path, " \r\n") {
		return nil, newError(InvalidRequest, nil, "bad request path %q", path)
	}

	enc := charmap.ISO8859_1.NewEncoder()
	var buf bytes.Buffer
	put := func(s string) error {
		b, err := enc.Bytes([]byte(s))
		if err != nil {
			return newError(InvalidRequest, err, "%q is not ISO-8859-1", s)
		}
		buf.Write(b)
		return nil
	}

	if err := put("GET " + path + " HTTP/1.1"); err != nil {
		return nil, err
	}
	buf.Write(crlf)
	for _, name := range h.names {
		vals := h.Values(name)
		if len(vals) == 0 {
			continue
		}
		if !httpguts.ValidHeaderFieldName(name) {
			return nil, newError(InvalidRequest, nil, "bad header name %q", name)
		}
		v := strings.Join(vals, ",")
		if !httpguts.ValidHeaderFieldValue(v) {
			return nil, newError(InvalidRequest, nil, "bad value for header %s", name)
		}
		if err := put(name + ": " + v); err != nil {
			return nil, err
		}
		buf.Write(crlf)
	}
	buf.Write(crlf)
	return buf.Bytes(), nil
}
