// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

// Package rands is the process-wide source of unpredictable bytes.
//
// All functions are safe for concurrent use without external locking. The
// underlying source is crypto/rand, which is initialized once by the
// runtime and never reseeded by this package.
package rands

import (
	crand "crypto/rand"
	"encoding/hex"
)

// Fill fills b with cryptographically random bytes.
//
// It panics if the operating system's random source fails, which is not
// something callers can recover from.
func Fill(b []byte) {
	if _, err := crand.Read(b); err != nil {
		panic("rands: crypto/rand failed: " + err.Error())
	}
}

// HexString returns a string of n cryptographically random lowercase
// hex characters.
//
// That is, HexString(3) returns something like "0fc", containing 12
// bits of randomness.
func HexString(n int) string {
	nb := n / 2
	if n%2 == 1 {
		nb++
	}
	b := make([]byte, nb)
	Fill(b)
	return hex.EncodeToString(b)[:n]
}
