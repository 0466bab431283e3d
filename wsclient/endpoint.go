// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package wsclient

import (
	"wsdial.dev/net/wsframe"
	"wsdial.dev/net/wshandshake"
)

// Endpoint is the application side of a session.
//
// An Endpoint may also implement MessageHandler and CloseHandler to be
// told about incoming messages and the end of the session.
type Endpoint interface {
	// OnOpen is called once the handshake is complete, before any message
	// is delivered.
	OnOpen(s *Session, cfg *EndpointConfig)
}

// MessageHandler is implemented by endpoints that receive messages.
// OnMessage is called from the session's read goroutine, one message at
// a time; data is owned by the callee.
type MessageHandler interface {
	OnMessage(s *Session, typ wsframe.MessageType, data []byte)
}

// CloseHandler is implemented by endpoints that want to know when a
// session ends. err is nil for a normal closure.
type CloseHandler interface {
	OnClose(s *Session, err error)
}

// EndpointFactory returns a new Endpoint for one session. It's called
// after the handshake succeeds; an error fails the connect attempt.
type EndpointFactory func() (Endpoint, error)

// EndpointConfig customizes one connect attempt.
type EndpointConfig struct {
	// BeforeRequest, if non-nil, may edit the request headers before they
	// are encoded. Removing one of the upgrade headers makes the request
	// invalid.
	BeforeRequest func(*wshandshake.Header)

	// AfterResponse, if non-nil, is called with the parsed handshake
	// response before the endpoint is created.
	AfterResponse func(*wshandshake.Response)
}

// EndpointFunc adapts a func to an Endpoint with only OnOpen.
type EndpointFunc func(s *Session, cfg *EndpointConfig)

func (f EndpointFunc) OnOpen(s *Session, cfg *EndpointConfig) { f(s, cfg) }
