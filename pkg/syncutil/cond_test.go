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
	"testing"
	"time"

	"github.com/pingcap/errors"
	"github.com/pingcap/tiactor/pkg/leakutil"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	leakutil.SetUpLeakTest(m)
}

func TestCondWaitUntil(t *testing.T) {
	var (
		mu      sync.Mutex
		counter int
	)
	cond := NewCond(&mu)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 10; i++ {
			mu.Lock()
			counter++
			mu.Unlock()
			cond.Broadcast()
		}
	}()

	mu.Lock()
	err := cond.WaitUntil(context.Background(), func() bool {
		return counter == 10
	})
	require.NoError(t, err)
	require.Equal(t, 10, counter)
	mu.Unlock()
	wg.Wait()
}

func TestCondWaitUntilCanceled(t *testing.T) {
	var mu sync.Mutex
	cond := NewCond(&mu)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	mu.Lock()
	err := cond.WaitUntil(ctx, func() bool { return false })
	require.Equal(t, context.DeadlineExceeded, errors.Cause(err))
	// The lock must be held again.
	require.False(t, mu.TryLock())
	mu.Unlock()
}
