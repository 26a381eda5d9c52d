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
	"sync"
	"testing"
	"time"

	cerrors "github.com/pingcap/tiactor/pkg/errors"
	"github.com/pingcap/tiactor/pkg/leakutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

func TestMain(m *testing.M) {
	leakutil.SetUpLeakTest(m)
}

func TestPoolBasic(t *testing.T) {
	t.Parallel()

	pool := NewThreadPool(4, KindUser)
	require.NoError(t, pool.Start())
	defer pool.Stop()

	var sum atomic.Int64
	results := make([]*TaskResult, 0, 100)
	for i := 0; i < 100; i++ {
		finalI := i
		res, err := pool.Post(OnceFunc(func(info ThreadInfo) {
			require.Equal(t, KindUser, info.Kind)
			sum.Add(int64(finalI + 1))
		}))
		require.NoError(t, err)
		results = append(results, res)
	}
	pool.Flush()
	require.Equal(t, int64(5050), sum.Load())
	for _, res := range results {
		res.Wait()
		require.NoError(t, res.Err())
	}
}

func TestPoolDoubleStart(t *testing.T) {
	t.Parallel()

	pool := NewThreadPool(1, KindSystem)
	require.NoError(t, pool.Start())
	defer pool.Stop()

	err := pool.Start()
	require.True(t, cerrors.ErrDoubleStart.Equal(err))
}

func TestPoolPrefersDefaultPriority(t *testing.T) {
	t.Parallel()

	pool := NewThreadPool(1, KindUser)
	defer pool.Stop()

	var (
		mu    sync.Mutex
		order []string
	)
	record := func(name string) TaskFunc {
		return OnceFunc(func(ThreadInfo) {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
		})
	}
	// Queue everything before any worker exists.
	_, err := pool.Post(record("w1"), WithPriority(PriorityWorker))
	require.NoError(t, err)
	_, err = pool.Post(record("d1"))
	require.NoError(t, err)
	last, err := pool.Post(record("w2"), WithPriority(PriorityWorker))
	require.NoError(t, err)
	_, err = pool.Post(record("d2"))
	require.NoError(t, err)

	require.NoError(t, pool.Start())
	last.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"d1", "d2", "w1", "w2"}, order)
}

func TestPoolRepeat(t *testing.T) {
	t.Parallel()

	pool := NewThreadPool(4, KindUser)
	require.NoError(t, pool.Start())
	defer pool.Stop()

	var (
		runs    int
		workers = make(map[int]struct{})
	)
	res, err := pool.Post(func(info ThreadInfo) ContinuationStrategy {
		runs++
		workers[info.WorkerIndex] = struct{}{}
		if runs < 10 {
			return Repeat
		}
		return Single
	})
	require.NoError(t, err)
	res.Wait()
	require.NoError(t, res.Err())
	require.Equal(t, 10, runs)
	// Nothing else is queued, so the task never leaves its worker.
	require.Len(t, workers, 1)
}

func TestPoolWorkerTaskDoesNotStarve(t *testing.T) {
	t.Parallel()

	pool := NewThreadPool(1, KindSystem)
	require.NoError(t, pool.Start())
	defer pool.Stop()

	var (
		exit   atomic.Bool
		rounds atomic.Int64
	)
	background, err := pool.Post(func(ThreadInfo) ContinuationStrategy {
		if exit.Load() {
			return Single
		}
		rounds.Inc()
		time.Sleep(time.Millisecond)
		return Repeat
	}, WithPriority(PriorityWorker))
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return rounds.Load() > 0
	}, 5*time.Second, 10*time.Millisecond)

	var handled atomic.Int64
	for i := 0; i < 10; i++ {
		_, err := pool.Post(OnceFunc(func(ThreadInfo) {
			handled.Inc()
		}))
		require.NoError(t, err)
	}
	// Flush ignores the perpetual worker task.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, pool.FlushContext(ctx))
	require.Equal(t, int64(10), handled.Load())

	exit.Store(true)
	background.Wait()
	require.NoError(t, background.Err())
}

func TestPoolStopDropsQueuedTasks(t *testing.T) {
	t.Parallel()

	pool := NewThreadPool(2, KindUser)
	res, err := pool.Post(OnceFunc(func(ThreadInfo) {
		t.Error("must not run")
	}))
	require.NoError(t, err)

	pool.Stop()
	res.Wait()
	require.True(t, cerrors.ErrThreadPoolStopped.Equal(res.Err()))

	_, err = pool.Post(OnceFunc(func(ThreadInfo) {}))
	require.True(t, cerrors.ErrThreadPoolStopped.Equal(err))
	// Stop is idempotent and Start after Stop fails.
	pool.Stop()
	require.Error(t, pool.Start())
}

func TestPoolStopWaitsForRunningTask(t *testing.T) {
	t.Parallel()

	pool := NewThreadPool(1, KindUser)
	require.NoError(t, pool.Start())

	started := make(chan struct{})
	var finished atomic.Bool
	res, err := pool.Post(OnceFunc(func(ThreadInfo) {
		close(started)
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
	}))
	require.NoError(t, err)
	<-started
	pool.Stop()
	require.True(t, finished.Load())
	res.Wait()
	require.NoError(t, res.Err())
}

func TestPoolRecoversPanic(t *testing.T) {
	t.Parallel()

	pool := NewThreadPool(1, KindUser)
	require.NoError(t, pool.Start())
	defer pool.Stop()

	res, err := pool.Post(OnceFunc(func(ThreadInfo) {
		panic("boom")
	}))
	require.NoError(t, err)
	res.Wait()
	require.True(t, cerrors.ErrTaskPanic.Equal(res.Err()))

	// The worker survives.
	res, err = pool.Post(OnceFunc(func(ThreadInfo) {}))
	require.NoError(t, err)
	res.Wait()
	require.NoError(t, res.Err())
}

func TestTaskResultWaitContext(t *testing.T) {
	t.Parallel()

	pool := NewThreadPool(1, KindUser)
	require.NoError(t, pool.Start())
	defer pool.Stop()

	release := make(chan struct{})
	res, err := pool.Post(OnceFunc(func(ThreadInfo) {
		<-release
	}))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = res.WaitContext(ctx)
	require.ErrorContains(t, err, context.DeadlineExceeded.Error())
	require.NoError(t, res.Err())

	close(release)
	require.NoError(t, res.WaitContext(context.Background()))
}
