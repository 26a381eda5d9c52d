// Copyright 2024 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.


package syncutil

import (
	"context"
	"sync"

	"github.com/pingcap/errors"
	"go.uber.org/atomic"
)

// Cond is a condition variable whose waits can be canceled by a context.
// Only Broadcast is supported, so a waiter must recheck its predicate after
// waking up.
type Cond struct {
	L sync.Locker

	// signal is closed and replaced on every Broadcast.
	signal atomic.Pointer[chan struct{}]
}

// NewCond creates a Cond using l as its locker.
func NewCond(l sync.Locker) *Cond {
	c := &Cond{L: l}
	ch := make(chan struct{})
	c.signal.Store(&ch)
	return c
}

// Wait unlocks c.L, waits for the next Broadcast and locks c.L again.
func (c *Cond) Wait() {
	_ = c.wait(context.Background())
}

// WaitUntil blocks until done returns true or ctx is canceled. c.L must be
// held by the caller, and it is held again when WaitUntil returns, whatever
// the result is. done is always evaluated with c.L held.
func (c *Cond) WaitUntil(ctx context.Context, done func() bool) error {
	for !done() {
		if err := c.wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (c *Cond) wait(ctx context.Context) error {
	ch := *c.signal.Load()
	c.L.Unlock()
	defer c.L.Lock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return errors.Trace(ctx.Err())
	}
}

// Broadcast wakes up all waiters.
func (c *Cond) Broadcast() {
	ch := make(chan struct{})
	close(*c.signal.Swap(&ch))
}
