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
	"sync"

	"github.com/pingcap/log"
	cerrors "github.com/pingcap/tiactor/pkg/errors"
	"github.com/pingcap/tiactor/pkg/threadpool"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// Settings are inherited from the parent when an actor is registered, then
// refined by the actor's own OnInit.
type Settings struct {
	// Pool is the kind of thread pool running the actor's hooks and drains.
	Pool threadpool.Kind
	// Priority of the actor's drain tasks.
	Priority threadpool.Priority
	// MailboxWarnThreshold is the mailbox length above which a warning is
	// logged. Zero disables it.
	MailboxWarnThreshold int
}

// Actor is a universal primitive of concurrent computation.
// See more https://en.wikipedia.org/wiki/Actor_model
//
// Implementations embed Base, which provides every hook except ActionHandle.
// Hooks are invoked by the System, never by the actor itself. OnStart,
// ActionHandle and OnStop of one actor never run concurrently. The
// supervision hooks (OnChildStatus, OnChildStopped, OnChildError) are called
// from the goroutines handling the children and may run concurrently with
// the actor's own ActionHandle.
type Actor interface {
	// ActionHandle processes one message. A returned error, or a panic,
	// aborts the current drain and is reported to the supervisor.
	ActionHandle(env Envelope) error

	// OnInit is called synchronously at registration, before the actor is
	// visible to others. It returns the final settings.
	OnInit(settings Settings) Settings
	// OnStart is called once after registration, on the actor's pool, before
	// any message is handled.
	OnStart()
	// OnStop is called when the actor is removed from its system.
	OnStop()

	// OnChildStatus reports the outcome of a child's drain.
	OnChildStatus(child Address, kind StatusKind)
	// OnChildStopped reports that a child has been stopped.
	OnChildStopped(child Address, reason StopReason)
	// OnChildError asks what to do with a failed descendant. During
	// escalation child is the address of the actor that failed.
	OnChildError(child Address, err error) Directive

	base() *Base
}

// Base carries the runtime state of an actor: its busy flag, its status
// record and its binding to a System. Embed it in every actor.
type Base struct {
	busy atomic.Bool

	mu sync.RWMutex
	// pendingStop is run by whoever holds the busy flag next.
	pendingStop func()
	status      Status
	self        Address
	system      *System
	logger      *zap.Logger
}

func (b *Base) base() *Base {
	return b
}

// OnInit returns settings unchanged.
func (b *Base) OnInit(settings Settings) Settings {
	return settings
}

// OnStart does nothing.
func (b *Base) OnStart() {}

// OnStop does nothing. The System marks the actor stopped afterwards.
func (b *Base) OnStop() {}

// OnChildStatus does nothing.
func (b *Base) OnChildStatus(Address, StatusKind) {}

// OnChildStopped does nothing.
func (b *Base) OnChildStopped(Address, StopReason) {}

// OnChildError escalates to the parent.
func (b *Base) OnChildError(Address, error) Directive {
	return DirectiveEscalate
}

// Self returns the address of the actor. It is empty until registered.
func (b *Base) Self() Address {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.self
}

// System returns the system the actor is registered in, or nil.
func (b *Base) System() *System {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.system
}

// Logger returns a logger tagged with the actor's path.
func (b *Base) Logger() *zap.Logger {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.logger == nil {
		return log.L()
	}
	return b.logger
}

// Status returns a snapshot of the status record.
func (b *Base) Status() Status {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.status
}

// Send sends msg to the actor at to, with this actor as the sender.
// Messages to unknown or stopped actors are dropped.
func (b *Base) Send(to Address, msg any) {
	if sys := b.System(); sys != nil {
		sys.SendEnvelope(to, NewEnvelope(NewPayload(msg), b.Self()))
	}
}

// Reply sends msg back to the sender of env.
func (b *Base) Reply(env Envelope, msg any) {
	b.Send(env.Sender(), msg)
}

// Spawn registers child under this actor.
func (b *Base) Spawn(name string, child Actor) (Address, error) {
	sys := b.System()
	if sys == nil {
		return Address{}, cerrors.ErrActorNotBound.GenWithStackByArgs()
	}
	return sys.AddActor(name, b.Self(), child)
}

// StopSelf stops this actor and its children. If called from ActionHandle,
// the drain ends after the current message.
func (b *Base) StopSelf() {
	if sys := b.System(); sys != nil {
		sys.StopActor(b.Self())
	}
}

// CreateExchange creates an exchange owned by this actor. Creating an
// existing exchange is a no-op.
func (b *Base) CreateExchange(name string) error {
	sys := b.System()
	if sys == nil {
		return cerrors.ErrActorNotBound.GenWithStackByArgs()
	}
	sys.CreateExchange(b.Self(), name)
	return nil
}

// DeleteExchange tears down an exchange created by this actor.
func (b *Base) DeleteExchange(name string) error {
	sys := b.System()
	if sys == nil {
		return cerrors.ErrActorNotBound.GenWithStackByArgs()
	}
	return sys.DeleteExchange(b.Self(), name)
}

// Subscribe adds this actor to the subscribers of an exchange.
func (b *Base) Subscribe(name string) error {
	sys := b.System()
	if sys == nil {
		return cerrors.ErrActorNotBound.GenWithStackByArgs()
	}
	return sys.SubscribeToExchange(name, b.Self())
}

// Unsubscribe removes this actor from the subscribers of an exchange.
func (b *Base) Unsubscribe(name string) {
	if sys := b.System(); sys != nil {
		sys.UnsubscribeFromExchange(name, b.Self())
	}
}

// Publish delivers a copy of msg to every subscriber of an exchange.
func (b *Base) Publish(name string, msg any) {
	if sys := b.System(); sys != nil {
		sys.Publish(name, b.Self(), msg)
	}
}

// tryLock sets the busy flag. It returns false if the flag was already set.
func (b *Base) tryLock() bool {
	return b.busy.CompareAndSwap(false, true)
}

// resetBusy clears the busy flag.
func (b *Base) resetBusy() {
	b.busy.Store(false)
}

func (b *Base) isBusy() bool {
	return b.busy.Load()
}

// release clears the busy flag, then runs a pending stop if one was
// requested while the flag was held.
func (b *Base) release() {
	b.resetBusy()
	if b.stopRequested() && b.tryLock() {
		if !b.runPendingStop() {
			b.resetBusy()
		}
	}
}

// requestStop arranges for stop to run while holding the busy flag, either
// now or when the current holder releases it. The flag is never cleared
// after stop has run.
func (b *Base) requestStop(stop func()) {
	b.mu.Lock()
	b.pendingStop = stop
	b.mu.Unlock()
	if b.tryLock() {
		if !b.runPendingStop() {
			b.resetBusy()
		}
	}
}

func (b *Base) stopRequested() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.pendingStop != nil
}

// runPendingStop must be called with the busy flag held.
func (b *Base) runPendingStop() bool {
	b.mu.Lock()
	stop := b.pendingStop
	b.pendingStop = nil
	b.mu.Unlock()
	if stop == nil {
		return false
	}
	stop()
	return true
}

// bind attaches the actor to a system. The busy flag is left set so that
// OnStart runs before any drain.
func (b *Base) bind(sys *System, self Address, logger *zap.Logger) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.system = sys
	b.self = self
	b.logger = logger
	b.status = Status{Kind: StatusNormal}
	b.pendingStop = nil
	b.busy.Store(true)
}

// registered tells whether the actor is bound to a system and not stopped.
func (b *Base) registered() (Address, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.self, b.system != nil && b.status.Kind != StatusStopped
}

func (b *Base) setStatus(kind StatusKind, msg string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = Status{Kind: kind, Message: msg}
}

// apply drains mb into a. The busy flag of a must be held by the caller,
// and it is still held when apply returns. Envelopes are handled in FIFO
// order until the mailbox is empty, a stop is requested, or ActionHandle
// fails. On failure the remaining envelopes stay in mb, the status becomes
// StatusWithError and the error is returned.
func apply(a Actor, mb *Mailbox) (handled int, err error) {
	b := a.base()
	for !b.stopRequested() {
		env, ok := mb.TryPop()
		if !ok {
			break
		}
		if err := handle(a, env); err != nil {
			b.setStatus(StatusWithError, err.Error())
			return handled, err
		}
		handled++
	}
	b.setStatus(StatusNormal, "")
	return handled, nil
}

func handle(a Actor, env Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = cerrors.ErrActorPanic.GenWithStackByArgs(a.base().Self(), r)
		}
	}()
	return a.ActionHandle(env)
}
