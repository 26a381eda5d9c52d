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

package actor

import (
	"time"

	"github.com/gavv/monotime"
	cerrors "github.com/pingcap/tiactor/pkg/errors"
	"github.com/pingcap/tiactor/pkg/threadpool"
	"go.uber.org/zap"
)

type drainJob struct {
	desc   *description
	parent *description
}

// mailboxWorker is the scheduler loop. It runs as a PriorityWorker task on
// the system pool, so it never delays other system tasks.
func (s *System) mailboxWorker(threadpool.ThreadInfo) threadpool.ContinuationStrategy {
	select {
	case <-s.closeCh:
		return threadpool.Single
	default:
	}
	if s.scan() == 0 {
		s.idleWait()
	}
	return threadpool.Repeat
}

// idleWait blocks until a message is sent, the idle interval elapses, or the
// system stops.
func (s *System) idleWait() {
	timer := s.clock.Timer(time.Duration(s.cfg.SchedulerIdleInterval))
	defer timer.Stop()
	select {
	case <-s.closeCh:
	case <-s.wakeCh:
	case <-timer.C:
	}
}

// scan posts a drain for every actor which has mail and is not busy. It
// returns the number of drains posted.
func (s *System) scan() int {
	var jobs []drainJob
	s.mu.RLock()
	for id, mb := range s.mailboxes {
		n := mb.Len()
		if n == 0 {
			continue
		}
		d := s.actors[id]
		s.warnBacklog(d, n)
		if !d.actor.base().tryLock() {
			continue
		}
		s.inflight.Inc()
		jobs = append(jobs, drainJob{desc: d, parent: s.actors[d.parent.id]})
	}
	s.mu.RUnlock()

	for _, j := range jobs {
		j := j
		_, err := s.manager.Post(j.desc.settings.Pool,
			threadpool.OnceFunc(func(threadpool.ThreadInfo) { s.drain(j) }),
			threadpool.WithPriority(j.desc.settings.Priority))
		if err != nil {
			s.logPostFailure(j.desc, "mailbox drain", err)
			j.desc.actor.base().release()
			s.inflight.Dec()
		}
	}
	return len(jobs)
}

// logPostFailure logs a task which could not be posted. Posting fails
// quietly once the pools are stopped.
func (s *System) logPostFailure(d *description, what string, err error) {
	if cerrors.IsHardFailure(err) {
		d.logger.Error("failed to post "+what, zap.Error(err))
		return
	}
	d.logger.Debug("failed to post "+what, zap.Error(err))
}

func (s *System) warnBacklog(d *description, n int) {
	threshold := d.settings.MailboxWarnThreshold
	if threshold <= 0 || n <= threshold || !d.warnLimiter.Allow() {
		return
	}
	d.logger.Warn("mailbox backlog exceeds threshold",
		zap.Int("length", n), zap.Int("threshold", threshold))
}

// drain runs apply for a job posted by scan and reports the outcome to the
// supervisors. The busy flag is kept until a verdict has been applied, so
// no message is handled in between.
func (s *System) drain(j drainJob) {
	defer s.inflight.Dec()

	d := j.desc
	b := d.actor.base()
	start := monotime.Now()
	handled, err := apply(d.actor, d.mailbox)
	s.metrics.duration.Observe(monotime.Since(start).Seconds())
	s.metrics.handled.Add(float64(handled))

	switch {
	case b.stopRequested():
		// Stopped while draining, OnStop runs on release.
	case err != nil:
		s.metrics.failed.Inc()
		s.supervise(d, j.parent, err)
	case j.parent != nil:
		s.protect(j.parent.logger, "OnChildStatus", func() {
			j.parent.actor.OnChildStatus(d.address, StatusNormal)
		})
	}
	b.release()
	if !d.mailbox.IsEmpty() {
		s.wake()
	}
}
