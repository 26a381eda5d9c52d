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
	"cmp"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"
)

type stopJob struct {
	desc *description
	// parent is nil for actors placed directly in a subtree.
	parent Actor
}

// StopActor stops the actor at addr and all its descendants, children
// first. Each stopped actor gets OnStop, then its parent gets
// OnChildStopped with StopManual. Messages sent to a stopped actor are
// dropped. A drain in progress ends after its current message, and OnStop
// runs once it has returned. Stopping an unknown or stopped actor is a no-op.
func (s *System) StopActor(addr Address) {
	s.stopActor(addr, StopManual, nil)
}

// stopActor detaches the subtree rooted at addr and requests every actor in
// it to stop. then runs after the root of the subtree has stopped. It
// returns false if addr is not registered.
func (s *System) stopActor(addr Address, reason StopReason, then func()) bool {
	s.mu.Lock()
	d, ok := s.actors[addr.id]
	if !ok || !d.address.Equal(addr) {
		s.mu.Unlock()
		return false
	}
	var jobs []stopJob
	s.detachLocked(d, &jobs)
	for _, j := range jobs {
		s.stopping[j.desc.address.id] = j.desc
	}
	s.mu.Unlock()

	s.metrics.actors.Sub(float64(len(jobs)))
	for _, j := range jobs {
		s.dropExchangeMember(j.desc.address)
	}
	for i, j := range jobs {
		var cont func()
		if i == len(jobs)-1 {
			cont = then
		}
		s.requestStop(j, reason, cont)
	}
	return true
}

// detachLocked removes d and its descendants from every index, children
// first, and appends them to jobs in that order.
func (s *System) detachLocked(d *description, jobs *[]stopJob) {
	for _, id := range sortedIDs(d.children) {
		if child, ok := s.actors[id]; ok {
			s.detachLocked(child, jobs)
		}
	}
	var parent Actor
	if p, ok := s.actors[d.parent.id]; ok && p.address.Equal(d.parent) {
		delete(p.children, d.address.id)
		parent = p.actor
	}
	delete(s.actors, d.address.id)
	delete(s.names, d.name)
	delete(s.mailboxes, d.address.id)
	*jobs = append(*jobs, stopJob{desc: d, parent: parent})
}

// requestStop runs OnStop as soon as the actor is not busy.
func (s *System) requestStop(j stopJob, reason StopReason, then func()) {
	d := j.desc
	d.actor.base().requestStop(func() {
		s.protect(d.logger, "OnStop", d.actor.OnStop)
		d.actor.base().setStatus(StatusStopped, "")

		s.mu.Lock()
		delete(s.stopping, d.address.id)
		s.mu.Unlock()

		d.logger.Info("actor stopped", zap.Stringer("reason", reason))
		if j.parent != nil {
			s.protect(d.logger, "OnChildStopped", func() {
				j.parent.OnChildStopped(d.address, reason)
			})
		}
		if then != nil {
			then()
		}
	})
}

// Stop stops the system. It stops the thread manager, waiting for running
// tasks, then calls OnStop on every actor still registered, children first.
// Stop is idempotent. It must not be called from an actor or a task of the
// system.
func (s *System) Stop() {
	s.stopOnce.Do(func() {
		close(s.closeCh)
		s.manager.Stop()

		s.mu.Lock()
		s.stopped = true
		var roots []*description
		for _, d := range s.actors {
			if d.parent.IsEmpty() {
				roots = append(roots, d)
			}
		}
		slices.SortFunc(roots, func(a, b *description) int {
			return cmp.Compare(a.address.id, b.address.id)
		})
		var jobs []stopJob
		for _, d := range roots {
			s.detachLocked(d, &jobs)
		}
		pending := make([]*description, 0, len(s.stopping))
		for _, d := range s.stopping {
			pending = append(pending, d)
		}
		s.mu.Unlock()

		// Descendants carry larger IDs than their ancestors.
		slices.SortFunc(pending, func(a, b *description) int {
			return cmp.Compare(b.address.id, a.address.id)
		})
		for _, d := range pending {
			d.actor.base().runPendingStop()
		}
		for _, j := range jobs {
			s.protect(j.desc.logger, "OnStop", j.desc.actor.OnStop)
			j.desc.actor.base().setStatus(StatusStopped, "")
		}

		s.exchangeMu.Lock()
		s.exchanges = make(map[string]*exchange)
		s.exchangeMu.Unlock()

		deleteSystemMetrics(s.id)
		s.logger.Info("actor system stopped",
			zap.Int("stoppedActors", len(jobs)+len(pending)))
	})
}

// supervise applies the verdict of the supervisors of d to a failed drain.
// parent is the description of d's parent when the drain was scheduled.
// The busy flag of d is held, so a stop takes effect on release.
func (s *System) supervise(d, parent *description, err error) {
	addr := d.address
	d.logger.Warn("actor failed to handle a message", zap.Error(err))

	verdict := DirectiveStop
	if parent != nil {
		verdict = s.askSupervisor(parent, addr, err)
		if verdict == DirectiveEscalate {
			verdict = s.escalate(parent.parent, addr, err)
		}
	}
	supervisionVerdicts.WithLabelValues(s.id, verdict.String()).Inc()
	d.logger.Info("apply supervision verdict", zap.Stringer("directive", verdict))

	switch verdict {
	case DirectiveResume:
		s.protect(parent.logger, "OnChildStatus", func() {
			parent.actor.OnChildStatus(addr, StatusWithError)
		})
	case DirectiveReinit:
		s.reinit(d)
	default:
		s.stopActor(addr, StopExcept, nil)
	}
}

// escalate asks the ancestors of a failed actor, starting at from, until one
// of them decides. Reaching the root means DirectiveStop.
func (s *System) escalate(from, failed Address, err error) Directive {
	for cur := from; !cur.IsEmpty(); {
		s.mu.RLock()
		d, ok := s.actors[cur.id]
		s.mu.RUnlock()
		if !ok || !d.address.Equal(cur) {
			break
		}
		if verdict := s.askSupervisor(d, failed, err); verdict != DirectiveEscalate {
			return verdict
		}
		cur = d.parent
	}
	return DirectiveStop
}

// askSupervisor calls OnChildError of sup. A panicking or invalid verdict
// means DirectiveStop.
func (s *System) askSupervisor(sup *description, failed Address, err error) (verdict Directive) {
	verdict = DirectiveStop
	s.protect(sup.logger, "OnChildError", func() {
		verdict = sup.actor.OnChildError(failed, err)
	})
	switch verdict {
	case DirectiveResume, DirectiveStop, DirectiveReinit, DirectiveEscalate:
		return verdict
	default:
		sup.logger.Warn("invalid supervision directive",
			zap.Stringer("child", failed), zap.Int("directive", int(verdict)))
		return DirectiveStop
	}
}

// reinit stops d, then registers the same actor again under the same name
// and parent. It gets a new ID and runs OnInit and OnStart again.
func (s *System) reinit(d *description) {
	s.stopActor(d.address, StopExcept, func() {
		addr, err := s.addActor(d.name, d.parent, d.subtree, d.actor)
		if err != nil {
			d.logger.Warn("failed to reinitialize actor", zap.Error(err))
			return
		}
		d.logger.Info("actor reinitialized", zap.Stringer("address", addr))
	})
}
