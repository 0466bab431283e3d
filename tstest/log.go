// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package tstest

import (
	"sync"
	"testing"

	"wsdial.dev/types/logger"
)

// WhileTestRunningLogger returns a Logf that logs to tb until the test
// ends and drops everything after. Background goroutines such as session
// read loops may log after a test returns, which testing does not allow.
func WhileTestRunningLogger(tb testing.TB) logger.Logf {
	var (
		mu   sync.Mutex
		done bool
	)
	tb.Cleanup(func() {
		mu.Lock()
		defer mu.Unlock()
		done = true
	})
	return func(format string, args ...any) {
		mu.Lock()
		defer mu.Unlock()
		if done {
			return
		}
		tb.Helper()
		tb.Logf(format, args...)
	}
}
