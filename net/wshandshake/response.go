// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package wshandshake

import (
	"context"
	"crypto/sha1"
	"encoding/base64"
	"strings"

	"go4.org/mem"
	"golang.org/x/text/encoding/charmap"
)

// Response is a parsed upgrade response.
type Response struct {
	// StatusLine is the first line, without its line terminator.
	StatusLine string

	// Header maps lower-cased header names to their values, one value per
	// header line in arrival order. Repeated headers are not combined.
	Header map[string][]string
}

// Get returns the first value of the named header, or the empty string.
func (r *Response) Get(name string) string {
	if vs := r.Header[strings.ToLower(name)]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// Values returns all values of the named header.
func (r *Response) Values(name string) []string {
	return r.Header[strings.ToLower(name)]
}

// acceptGUID is the RFC 6455 magic string appended to the key.
const acceptGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// AcceptKey returns the Sec-WebSocket-Accept value a server must send in
// response to key.
func AcceptKey(key string) string {
	h := sha1.New()
	h.Write([]byte(key))
	h.Write([]byte(acceptGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// VerifyAccept checks the response's Sec-WebSocket-Accept against the key
// that was sent.
func (r *Response) VerifyAccept(key string) error {
	got := r.Get(AcceptHeader)
	if want := AcceptKey(key); got != want {
		return newError(InvalidAccept, nil, "got %q, want %q", got, want)
	}
	return nil
}

type parseState int

const (
	stateStatusLine parseState = iota
	stateHeaders
	stateDone
)

var (
	statusPrefix = mem.S("HTTP/1.1 101")
	endOfHeaders = mem.S("\r\n")
	colon        = mem.S(":")
)

// Parser incrementally parses an upgrade response whose bytes arrive in
// chunks of any size.
//
// Feed it chunks until Done reports true. Bytes after the blank line that
// ends the headers are never consumed; they belong to the next protocol.
//
// The zero value is ready to use.
type Parser struct {
	// Strict makes a header line without a colon an error. By default such
	// lines are dropped.
	Strict bool

	// MaxLineLen, if positive, is the longest status or header line
	// accepted, counting the line terminator.
	MaxLineLen int

	state parseState
	line  []byte // current line so far, possibly spanning chunks
	resp  Response
}

// Done reports whether the blank line ending the headers has been seen.
func (p *Parser) Done() bool { return p.state == stateDone }

// Response returns the parsed response. It is complete only once Done
// reports true.
func (p *Parser) Response() *Response { return &p.resp }

// Feed parses as much of b as belongs to the response and returns how
// many bytes it consumed. Unless the parser is done, that is all of b.
// Once done, b[consumed:] is the start of the next protocol's data.
func (p *Parser) Feed(b []byte) (consumed int, err error) {
	for consumed < len(b) && p.state != stateDone {
		c := b[consumed]
		consumed++
		p.line = append(p.line, c)
		if c != '\n' {
			if p.MaxLineLen > 0 && len(p.line) > p.MaxLineLen {
				return consumed, p.lineTooLong()
			}
			continue
		}
		err = p.processLine(mem.B(p.line))
		p.line = p.line[:0]
		if err != nil {
			return consumed, err
		}
	}
	return consumed, nil
}

func (p *Parser) lineTooLong() error {
	if p.state == stateStatusLine {
		return newError(InvalidStatus, nil, "status line longer than %d bytes", p.MaxLineLen)
	}
	return newError(MalformedHeader, nil, "header line longer than %d bytes", p.MaxLineLen)
}

func (p *Parser) processLine(line mem.RO) error {
	switch p.state {
	case stateStatusLine:
		if !mem.HasPrefix(line, statusPrefix) {
			return newError(InvalidStatus, nil, "%q", strings.TrimRight(latin1(line), "\r\n"))
		}
		p.resp.StatusLine = strings.TrimRight(latin1(line), "\r\n")
		p.state = stateHeaders
	case stateHeaders:
		if line.Equal(endOfHeaders) {
			p.state = stateDone
			return nil
		}
		name, value, ok := mem.Cut(line, colon)
		if !ok {
			if p.Strict {
				return newError(MalformedHeader, nil, "%q", strings.TrimRight(latin1(line), "\r\n"))
			}
			return nil
		}
		k := strings.ToLower(latin1(mem.TrimSpace(name)))
		if p.resp.Header == nil {
			p.resp.Header = make(map[string][]string)
		}
		p.resp.Header[k] = append(p.resp.Header[k], latin1(mem.TrimSpace(value)))
	}
	return nil
}

// latin1 decodes m as ISO-8859-1, one byte per character.
func latin1(m mem.RO) string {
	b := mem.Append(nil, m)
	s, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
	if err != nil {
		// Every byte is a valid ISO-8859-1 character.
		panic(err)
	}
	return string(s)
}

// Reader is the subset of Stream used to read a response.
type Reader interface {
	ReadInto(ctx context.Context, p []byte) (int, error)
}

// ReadResponse reads from r into buf until p has parsed a complete
// response, and returns the response and the bytes read past its end.
//
// buf's capacity bounds each read. The returned leftover slice aliases buf:
// the caller hands buf over together with it and must not reuse buf.
func ReadResponse(ctx context.Context, r Reader, buf []byte, p *Parser) (resp *Response, leftover []byte, err error) {
	buf = buf[:cap(buf)]
	for !p.Done() {
		n, err := r.ReadInto(ctx, buf)
		if err != nil {
			return nil, nil, err
		}
		consumed, err := p.Feed(buf[:n])
		if err != nil {
			return nil, nil, err
		}
		if p.Done() {
			leftover = buf[consumed:n]
		}
	}
	return p.Response(), leftover, nil
}
