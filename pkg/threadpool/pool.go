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

// Package threadpool provides fixed size worker pools that run prioritized,
// self-rescheduling tasks, and a manager routing tasks to pools by kind.
package threadpool

import (
	"context"
	"fmt"
	"sync"

	"github.com/edwingeng/deque"
	"github.com/gavv/monotime"
	cerrors "github.com/pingcap/tiactor/pkg/errors"
	"github.com/pingcap/tiactor/pkg/logutil"
	"github.com/pingcap/tiactor/pkg/syncutil"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Option configures a ThreadPool or a ThreadManager.
type Option func(*options)

type options struct {
	logger *zap.Logger
}

// WithLogger sets the logger used by pools. Default is the global logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func newOptions(opts ...Option) *options {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// ThreadPool owns a fixed number of worker goroutines draining one shared
// task queue. The queue is partitioned by priority: workers take a
// PriorityWorker task only when no PriorityDefault task is queued.
//
// ThreadPool must not be stopped or flushed from one of its own tasks.
type ThreadPool struct {
	kind   Kind
	size   int
	logger *zap.Logger

	mu sync.Mutex
	// taskCond is broadcast when a task is queued or the pool is stopping.
	taskCond *syncutil.Cond
	// idleCond is broadcast when a task finishes or the pool is stopping.
	idleCond *syncutil.Cond
	// defaultQueue and workerQueue hold *task, in FIFO order.
	defaultQueue deque.Deque
	workerQueue  deque.Deque
	// running counts PriorityDefault tasks being executed.
	running  int
	stopping bool

	started atomic.Bool
	errg    errgroup.Group

	metricWorkingWorkers  prometheus.Gauge
	metricQueuedDefault   prometheus.Gauge
	metricQueuedWorker    prometheus.Gauge
	metricTaskDuration    prometheus.Observer
	metricPanickedTasks   prometheus.Counter
	metricWorkersReleased atomic.Bool
}

// NewThreadPool creates a pool with n workers. Tasks may be posted before
// Start; they run once the pool is started.
func NewThreadPool(n int, kind Kind, opts ...Option) *ThreadPool {
	if n <= 0 {
		n = 1
	}
	o := newOptions(opts...)
	p := &ThreadPool{
		kind:                 kind,
		size:                 n,
		logger:               logutil.NewLogger4Pool(o.logger, string(kind)),
		defaultQueue:         deque.NewDeque(),
		workerQueue:          deque.NewDeque(),
		metricWorkingWorkers: workingWorkers.WithLabelValues(string(kind)),
		metricQueuedDefault:  queuedTasks.WithLabelValues(string(kind), PriorityDefault.String()),
		metricQueuedWorker:   queuedTasks.WithLabelValues(string(kind), PriorityWorker.String()),
		metricTaskDuration:   taskDuration.WithLabelValues(string(kind)),
		metricPanickedTasks:  panickedTasks.WithLabelValues(string(kind)),
	}
	p.taskCond = syncutil.NewCond(&p.mu)
	p.idleCond = syncutil.NewCond(&p.mu)
	return p
}

// Kind returns the kind of the pool.
func (p *ThreadPool) Kind() Kind {
	return p.kind
}

// Size returns the number of workers.
func (p *ThreadPool) Size() int {
	return p.size
}

// Start spawns the workers. It fails if the pool has been started before.
func (p *ThreadPool) Start() error {
	if !p.started.CompareAndSwap(false, true) {
		return cerrors.ErrDoubleStart.GenWithStackByArgs("thread pool " + string(p.kind))
	}
	p.mu.Lock()
	stopping := p.stopping
	p.mu.Unlock()
	if stopping {
		return cerrors.ErrThreadPoolStopped.GenWithStackByArgs(p.kind)
	}

	totalWorkers.WithLabelValues(string(p.kind)).Add(float64(p.size))
	for i := 0; i < p.size; i++ {
		info := ThreadInfo{Kind: p.kind, WorkerIndex: i}
		p.errg.Go(func() error {
			p.run(info)
			return nil
		})
	}
	p.logger.Info("thread pool started", zap.Int("workers", p.size))
	return nil
}

// Post enqueues fn and wakes a worker.
func (p *ThreadPool) Post(fn TaskFunc, opts ...TaskOption) (*TaskResult, error) {
	t := newTask(fn, opts...)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopping {
		return nil, cerrors.ErrThreadPoolStopped.GenWithStackByArgs(p.kind)
	}
	p.pushLocked(t)
	p.taskCond.Broadcast()
	return t.result, nil
}

// Flush blocks until the queue holds only PriorityWorker tasks and no
// PriorityDefault task is executing. Running PriorityWorker tasks are
// ignored since they may never finish.
func (p *ThreadPool) Flush() {
	_ = p.FlushContext(context.Background())
}

// FlushContext is like Flush but it can be canceled by ctx.
func (p *ThreadPool) FlushContext(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.idleCond.WaitUntil(ctx, func() bool {
		return p.stopping || (p.defaultQueue.Empty() && p.running == 0)
	})
}

// Stop wakes all workers and waits for them to exit. Tasks still queued are
// dropped and their results are released with ErrThreadPoolStopped.
// A task that is executing runs to completion first. Stop is idempotent.
func (p *ThreadPool) Stop() {
	p.mu.Lock()
	if p.stopping {
		p.mu.Unlock()
		// Another Stop may still be joining workers.
		_ = p.errg.Wait()
		return
	}
	p.stopping = true
	dropped := p.drainLocked()
	p.taskCond.Broadcast()
	p.idleCond.Broadcast()
	p.mu.Unlock()

	_ = p.errg.Wait()

	stopErr := cerrors.ErrThreadPoolStopped.FastGenByArgs(p.kind)
	for _, t := range dropped {
		t.result.finish(stopErr)
	}
	if p.started.Load() && p.metricWorkersReleased.CompareAndSwap(false, true) {
		totalWorkers.WithLabelValues(string(p.kind)).Sub(float64(p.size))
	}
	p.logger.Info("thread pool stopped", zap.Int("droppedTasks", len(dropped)))
}

func (p *ThreadPool) run(info ThreadInfo) {
	p.mu.Lock()
	for {
		for !p.stopping && p.defaultQueue.Empty() && p.workerQueue.Empty() {
			p.taskCond.Wait()
		}
		if p.stopping {
			p.mu.Unlock()
			return
		}
		t := p.popLocked()
		if t.priority != PriorityWorker {
			p.running++
		}
		p.mu.Unlock()

		p.metricWorkingWorkers.Inc()
		p.execute(info, t)
		p.metricWorkingWorkers.Dec()

		p.mu.Lock()
		if t.priority != PriorityWorker {
			p.running--
		}
		p.idleCond.Broadcast()
	}
}

// execute runs t until it reports Single, or until it has to yield the
// worker. The pool lock must not be held.
func (p *ThreadPool) execute(info ThreadInfo, t *task) {
	for {
		strategy, err := p.apply(info, t)
		if err != nil || strategy == Single {
			t.result.finish(err)
			return
		}

		p.mu.Lock()
		switch {
		case p.stopping:
			p.mu.Unlock()
			t.result.finish(cerrors.ErrThreadPoolStopped.FastGenByArgs(p.kind))
			return
		case t.priority != PriorityWorker && p.defaultQueue.Empty() && p.workerQueue.Empty():
			// Nothing else to do, keep running it on this worker.
			p.mu.Unlock()
		default:
			// Yield to other tasks.
			p.pushLocked(t)
			p.taskCond.Broadcast()
			p.mu.Unlock()
			return
		}
	}
}

func (p *ThreadPool) apply(info ThreadInfo, t *task) (strategy ContinuationStrategy, err error) {
	start := monotime.Now()
	defer func() {
		p.metricTaskDuration.Observe(monotime.Since(start).Seconds())
		if r := recover(); r != nil {
			p.metricPanickedTasks.Inc()
			err = cerrors.ErrTaskPanic.GenWithStackByArgs(p.kind, r)
			p.logger.Error("task panicked",
				zap.Int("worker", info.WorkerIndex),
				zap.Stringer("priority", t.priority),
				zap.Error(err))
			strategy = Single
		}
	}()
	return t.fn(info), nil
}

func (p *ThreadPool) pushLocked(t *task) {
	if t.priority == PriorityWorker {
		p.workerQueue.PushBack(t)
		p.metricQueuedWorker.Inc()
		return
	}
	p.defaultQueue.PushBack(t)
	p.metricQueuedDefault.Inc()
}

// popLocked takes the first PriorityDefault task, or the first PriorityWorker
// task if there is none. The queue must not be empty.
func (p *ThreadPool) popLocked() *task {
	if !p.defaultQueue.Empty() {
		p.metricQueuedDefault.Dec()
		return p.defaultQueue.PopFront().(*task)
	}
	p.metricQueuedWorker.Dec()
	return p.workerQueue.PopFront().(*task)
}

func (p *ThreadPool) drainLocked() []*task {
	dropped := make([]*task, 0, p.defaultQueue.Len()+p.workerQueue.Len())
	for !p.defaultQueue.Empty() {
		dropped = append(dropped, p.defaultQueue.PopFront().(*task))
		p.metricQueuedDefault.Dec()
	}
	for !p.workerQueue.Empty() {
		dropped = append(dropped, p.workerQueue.PopFront().(*task))
		p.metricQueuedWorker.Dec()
	}
	return dropped
}

// String implements fmt.Stringer.
func (p *ThreadPool) String() string {
	return fmt.Sprintf("ThreadPool(kind=%s, size=%d)", p.kind, p.size)
}
