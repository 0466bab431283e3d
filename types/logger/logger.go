// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

// Package logger defines the printf-style logging func passed around by
// wsdial packages, plus a few wrappers for it.
package logger

import (
	"container/list"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Logf is a printf-like logging func.
// Like log.Printf, the format need not end in a newline.
// Logf functions must be safe for concurrent use.
//
// Wrappers must pass the original format and args through, possibly
// augmented, so that RateLimitedFn can key on the format.
type Logf func(format string, args ...any)

// WithPrefix wraps f, prefixing each format with the provided prefix.
func WithPrefix(f Logf, prefix string) Logf {
	return func(format string, args ...any) {
		f(prefix+format, args...)
	}
}

// Discard is a Logf that throws away the logs given to it.
func Discard(string, ...any) {}

// OrDiscard returns f, or Discard if f is nil.
func OrDiscard(f Logf) Logf {
	if f == nil {
		return Discard
	}
	return f
}

type limitData struct {
	lim     *rate.Limiter
	blocked bool // whether the "rate limited" line was already logged
	ele     *list.Element
}

// RateLimitedFn returns a rate-limiting Logf wrapping logf.
// Messages sharing a format string are allowed through at most once every
// every, in bursts of up to burst. Up to maxCache format strings are
// tracked at a time; the least recently used is forgotten first.
func RateLimitedFn(logf Logf, every time.Duration, burst int, maxCache int) Logf {
	r := rate.Every(every)
	var (
		mu       sync.Mutex
		msgLim   = make(map[string]*limitData)
		msgCache = list.New()
	)

	type verdict int
	const (
		allow verdict = iota
		warn
		block
	)

	judge := func(format string) verdict {
		mu.Lock()
		defer mu.Unlock()
		ld, ok := msgLim[format]
		if ok {
			msgCache.MoveToFront(ld.ele)
		} else {
			ld = &limitData{
				lim: rate.NewLimiter(r, burst),
				ele: msgCache.PushFront(format),
			}
			msgLim[format] = ld
			if msgCache.Len() > maxCache {
				delete(msgLim, msgCache.Back().Value.(string))
				msgCache.Remove(msgCache.Back())
			}
		}
		if ld.lim.Allow() {
			ld.blocked = false
			return allow
		}
		if !ld.blocked {
			ld.blocked = true
			return warn
		}
		return block
	}

	return func(format string, args ...any) {
		switch judge(format) {
		case allow:
			logf(format, args...)
		case warn:
			logf("[RATE LIMITED] format string %q (example: %q)", format, strings.TrimSpace(fmt.Sprintf(format, args...)))
		}
	}
}
