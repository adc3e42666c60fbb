// Copyright 2026 The MCP Security Gateway Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import "sync"

// Cancel is a one-shot cancellation trigger. The executor, the
// timeout timer, and stream subscribers all select on Done while
// doing their normal work; firing is idempotent and never blocks.
type Cancel struct {
	once sync.Once
	ch   chan struct{}
}

// NewCancel returns an unfired trigger.
func NewCancel() *Cancel {
	return &Cancel{ch: make(chan struct{})}
}

// Fire trips the trigger. Safe to call any number of times from any
// goroutine; only the first call has an effect.
func (c *Cancel) Fire() {
	c.once.Do(func() { close(c.ch) })
}

// Done returns a channel closed once the trigger fires.
func (c *Cancel) Done() <-chan struct{} {
	return c.ch
}

// Fired reports whether the trigger has fired.
func (c *Cancel) Fired() bool {
	select {
	case <-c.ch:
		return true
	default:
		return false
	}
}
