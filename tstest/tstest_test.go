// Copyright (c) Tailscale Inc & AUTHORS
// SPDX-License-Identifier: BSD-3-Clause

package tstest

import (
	"fmt"
	"testing"
)

// recordTB captures Logf calls and runs cleanups on demand.
type recordTB struct {
	testing.TB
	logs     []string
	cleanups []func()
}

func (r *recordTB) Helper()                 {}
func (r *recordTB) Cleanup(f func())        { r.cleanups = append(r.cleanups, f) }
func (r *recordTB) Logf(f string, a ...any) { r.logs = append(r.logs, fmt.Sprintf(f, a...)) }

func (r *recordTB) finish() {
	for i := len(r.cleanups) - 1; i >= 0; i-- {
		r.cleanups[i]()
	}
}

func TestWhileTestRunningLogger(t *testing.T) {
	tb := &recordTB{TB: t}
	logf := WhileTestRunningLogger(tb)
	logf("during %d", 1)
	tb.finish()
	logf("after %d", 2)

	if len(tb.logs) != 1 || tb.logs[0] != "during 1" {
		t.Errorf("logs = %q; want [\"during 1\"]", tb.logs)
	}
}

func TestResourceCheck(t *testing.T) {
	ResourceCheck(t)
	done := make(chan bool)
	go func() { <-done }()
	close(done)
}
