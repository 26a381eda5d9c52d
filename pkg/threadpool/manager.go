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

package threadpool

import (
	"context"

	"github.com/pingcap/errors"
	cerrors "github.com/pingcap/tiactor/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"golang.org/x/exp/slices"
)

// ThreadManager routes tasks to one of several thread pools by kind.
// The set of pools is fixed at construction.
type ThreadManager struct {
	pools   map[Kind]*ThreadPool
	kinds   []Kind
	started atomic.Bool
	stopped atomic.Bool
}

// NewThreadManager creates one pool per entry of sizes. Kinds with a
// non-positive size get no pool.
func NewThreadManager(sizes map[Kind]int, opts ...Option) *ThreadManager {
	m := &ThreadManager{pools: make(map[Kind]*ThreadPool, len(sizes))}
	for kind, n := range sizes {
		if n <= 0 {
			continue
		}
		m.pools[kind] = NewThreadPool(n, kind, opts...)
		m.kinds = append(m.kinds, kind)
	}
	slices.Sort(m.kinds)
	return m
}

// Start starts every pool.
func (m *ThreadManager) Start() error {
	if !m.started.CompareAndSwap(false, true) {
		return cerrors.ErrDoubleStart.GenWithStackByArgs("thread manager")
	}
	for _, kind := range m.kinds {
		if err := m.pools[kind].Start(); err != nil {
			return errors.Trace(err)
		}
	}
	return nil
}

// Post routes fn to the pool of the given kind.
func (m *ThreadManager) Post(kind Kind, fn TaskFunc, opts ...TaskOption) (*TaskResult, error) {
	pool, ok := m.pools[kind]
	if !ok {
		return nil, cerrors.ErrUnknownThreadKind.GenWithStackByArgs(kind)
	}
	return pool.Post(fn, opts...)
}

// Pool returns the pool of the given kind.
func (m *ThreadManager) Pool(kind Kind) (*ThreadPool, bool) {
	pool, ok := m.pools[kind]
	return pool, ok
}

// Kinds returns the configured kinds in a stable order.
func (m *ThreadManager) Kinds() []Kind {
	return append([]Kind(nil), m.kinds...)
}

// Flush flushes the pools of the given kinds, or every pool if no kind is
// given.
func (m *ThreadManager) Flush(ctx context.Context, kinds ...Kind) error {
	if len(kinds) == 0 {
		kinds = m.kinds
	}
	var err error
	for _, kind := range kinds {
		pool, ok := m.pools[kind]
		if !ok {
			err = multierr.Append(err, cerrors.ErrUnknownThreadKind.GenWithStackByArgs(kind))
			continue
		}
		if ferr := pool.FlushContext(ctx); ferr != nil {
			return errors.Trace(multierr.Append(err, ferr))
		}
	}
	return err
}

// Stop stops every pool. It is idempotent.
func (m *ThreadManager) Stop() {
	if !m.stopped.CompareAndSwap(false, true) {
		return
	}
	for _, kind := range m.kinds {
		m.pools[kind].Stop()
	}
}
