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

	"github.com/pingcap/errors"
)

// Kind names a category of thread pool.
type Kind string

const (
	// KindUser runs actor work.
	KindUser Kind = "user"
	// KindSystem runs the runtime's own housekeeping.
	KindSystem Kind = "system"
	// KindNet runs networking bridges.
	KindNet Kind = "net"
)

// Priority of a task. A worker always prefers a PriorityDefault task over a
// PriorityWorker one.
type Priority int

const (
	// PriorityDefault is the priority of ordinary tasks.
	PriorityDefault Priority = iota
	// PriorityWorker is the lowest priority. It is meant for perpetual
	// background loops which must never starve ordinary work.
	PriorityWorker
)

func (p Priority) String() string {
	switch p {
	case PriorityDefault:
		return "default"
	case PriorityWorker:
		return "worker"
	default:
		return "unknown"
	}
}

// ContinuationStrategy is what a task reports after each run.
type ContinuationStrategy int

const (
	// Single means the task is done and its TaskResult is released.
	Single ContinuationStrategy = iota
	// Repeat means the task must be scheduled again.
	Repeat
)

// ThreadInfo describes the worker a task runs on.
type ThreadInfo struct {
	Kind        Kind
	WorkerIndex int
}

// TaskFunc is a unit of work executed by a ThreadPool.
type TaskFunc func(info ThreadInfo) ContinuationStrategy

// OnceFunc adapts f to a TaskFunc which runs exactly once.
func OnceFunc(f func(info ThreadInfo)) TaskFunc {
	return func(info ThreadInfo) ContinuationStrategy {
		f(info)
		return Single
	}
}

// TaskOption configures a posted task.
type TaskOption func(*task)

// WithPriority sets the priority of a task. Default is PriorityDefault.
func WithPriority(p Priority) TaskOption {
	return func(t *task) {
		t.priority = p
	}
}

type task struct {
	fn       TaskFunc
	priority Priority
	result   *TaskResult
}

func newTask(fn TaskFunc, opts ...TaskOption) *task {
	t := &task{
		fn:       fn,
		priority: PriorityDefault,
		result:   newTaskResult(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// TaskResult is a handle to a posted task. It is released once the task
// returns Single, panics, or is dropped by a stopping pool.
type TaskResult struct {
	done chan struct{}
	once sync.Once
	err  error
}

func newTaskResult() *TaskResult {
	return &TaskResult{done: make(chan struct{})}
}

func (r *TaskResult) finish(err error) {
	r.once.Do(func() {
		r.err = err
		close(r.done)
	})
}

// Done returns a channel which is closed once the task is released.
func (r *TaskResult) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the task is released.
func (r *TaskResult) Wait() {
	<-r.done
}

// WaitContext is like Wait but it can be canceled by ctx.
func (r *TaskResult) WaitContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return errors.Trace(ctx.Err())
	case <-r.done:
		return r.err
	}
}

// Err returns why the task was released. It is nil if the task finished
// normally, and must only be called after Done is closed.
func (r *TaskResult) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}
