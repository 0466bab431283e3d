// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package wshandshake

import (
	"errors"
	"fmt"
)

// Reason says why a handshake failed.
type Reason int

const (
	_ Reason = iota
	WrongScheme
	MissingHost
	UnsupportedSecureTransport
	InvalidRequest
	ConnectFailure
	WriteFailure
	ReadFailure
	ConnectionClosed
	InvalidStatus
	MalformedHeader
	InvalidAccept
	EndpointInstantiationFailure
)

var reasonNames = map[Reason]string{
	WrongScheme:                  "wrong scheme",
	MissingHost:                  "missing host",
	UnsupportedSecureTransport:   "secure transport not supported",
	InvalidRequest:               "invalid request",
	ConnectFailure:               "connect failed",
	WriteFailure:                 "write failed",
	ReadFailure:                  "read failed",
	ConnectionClosed:             "connection closed",
	InvalidStatus:                "invalid status",
	MalformedHeader:              "malformed header",
	InvalidAccept:                "invalid Sec-WebSocket-Accept",
	EndpointInstantiationFailure: "endpoint instantiation failed",
}

func (r Reason) String() string {
	if s, ok := reasonNames[r]; ok {
		return s
	}
	return fmt.Sprintf("Reason(%d)", int(r))
}

// Error is the single error type for a failed handshake.
type Error struct {
	Reason Reason
	Detail string // optional human-readable context, e.g. the offending line
	Err    error  // underlying cause, or nil
}

func (e *Error) Error() string {
	s := "websocket handshake: " + e.Reason.String()
	if e.Detail != "" {
		s += ": " + e.Detail
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Reason.
// It lets callers write errors.Is(err, &wshandshake.Error{Reason: wshandshake.InvalidStatus}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Reason == e.Reason
}

func newError(r Reason, err error, detailf string, args ...any) *Error {
	e := &Error{Reason: r, Err: err}
	if detailf != "" {
		e.Detail = fmt.Sprintf(detailf, args...)
	}
	return e
}

// Errorf returns an *Error with reason r wrapping err.
// It's for collaborators (such as the orchestrator) that need to report
// failures in the same category.
func Errorf(r Reason, err error, detailf string, args ...any) error {
	return newError(r, err, detailf, args...)
}

// ReasonOf returns the Reason of the first *Error in err's chain,
// or zero if there is none.
func ReasonOf(err error) Reason {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return 0
}
