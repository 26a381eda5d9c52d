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
	"context"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pingcap/errors"
	"github.com/pingcap/tiactor/pkg/config"
	cerrors "github.com/pingcap/tiactor/pkg/errors"
	"github.com/pingcap/tiactor/pkg/logutil"
	"github.com/pingcap/tiactor/pkg/threadpool"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
	"golang.org/x/time/rate"
)

const (
	mailboxWarnInterval = 10 * time.Second
	flushPollInterval   = time.Millisecond
)

// description is what a System knows about a registered actor.
type description struct {
	actor    Actor
	name     string
	address  Address
	parent   Address
	subtree  Subtree
	settings Settings
	mailbox  *Mailbox
	logger   *zap.Logger
	// children is protected by System.mu.
	children    map[ID]struct{}
	warnLimiter *rate.Limiter
}

// SystemOption configures a System.
type SystemOption func(*systemOptions)

type systemOptions struct {
	logger *zap.Logger
	clock  clock.Clock
}

// WithLogger sets the parent logger of the system. Default is the global
// logger.
func WithLogger(logger *zap.Logger) SystemOption {
	return func(o *systemOptions) {
		o.logger = logger
	}
}

// WithClock sets the clock driving the scheduler's idle timer.
func WithClock(clk clock.Clock) SystemOption {
	return func(o *systemOptions) {
		o.clock = clk
	}
}

// SpawnOption configures MakeActor.
type SpawnOption func(*spawnOptions)

type spawnOptions struct {
	parent  Address
	subtree Subtree
}

// WithParent registers the actor as a child of parent.
func WithParent(parent Address) SpawnOption {
	return func(o *spawnOptions) {
		o.parent = parent
	}
}

// WithSubtree places a parentless actor in the given subtree. It is ignored
// if a parent is given.
func WithSubtree(subtree Subtree) SpawnOption {
	return func(o *spawnOptions) {
		o.subtree = subtree
	}
}

// System is the runtime of actors. It owns the registry of actors and their
// mailboxes, the supervision tree, the exchanges, and a ThreadManager whose
// system pool runs the mailbox scheduler.
type System struct {
	id      string
	cfg     *config.RuntimeConfig
	logger  *zap.Logger
	clock   clock.Clock
	manager *threadpool.ThreadManager
	metrics systemMetrics

	nextID atomic.Uint64
	// inflight counts posted OnStart and drain tasks that have not finished.
	inflight atomic.Int64

	mu        sync.RWMutex
	actors    map[ID]*description
	names     map[string]ID
	mailboxes map[ID]*Mailbox
	// stopping holds detached actors whose OnStop has not run yet.
	stopping map[ID]*description
	stopped  bool

	exchangeMu sync.RWMutex
	exchanges  map[string]*exchange

	wakeCh   chan struct{}
	closeCh  chan struct{}
	stopOnce sync.Once
}

// NewSystem creates and starts a System. A nil cfg means the default runtime
// config.
func NewSystem(cfg *config.RuntimeConfig, opts ...SystemOption) (*System, error) {
	if cfg == nil {
		cfg = config.GetDefaultRuntimeConfig()
	} else {
		cfg = cfg.Clone()
	}
	if err := cfg.ValidateAndAdjust(); err != nil {
		return nil, errors.Trace(err)
	}
	o := &systemOptions{clock: clock.New()}
	for _, opt := range opts {
		opt(o)
	}

	id := uuid.New().String()
	logger := logutil.NewLogger4System(o.logger, id)
	s := &System{
		id:     id,
		cfg:    cfg,
		logger: logger,
		clock:  o.clock,
		manager: threadpool.NewThreadManager(map[threadpool.Kind]int{
			threadpool.KindUser:   cfg.UserThreads,
			threadpool.KindSystem: cfg.SystemThreads,
			threadpool.KindNet:    cfg.NetThreads,
		}, threadpool.WithLogger(logger)),
		metrics:   newSystemMetrics(id),
		actors:    make(map[ID]*description),
		names:     make(map[string]ID),
		mailboxes: make(map[ID]*Mailbox),
		stopping:  make(map[ID]*description),
		exchanges: make(map[string]*exchange),
		wakeCh:    make(chan struct{}, 1),
		closeCh:   make(chan struct{}),
	}
	if err := s.manager.Start(); err != nil {
		s.manager.Stop()
		return nil, errors.Trace(err)
	}
	_, err := s.manager.Post(threadpool.KindSystem, s.mailboxWorker,
		threadpool.WithPriority(threadpool.PriorityWorker))
	if err != nil {
		s.manager.Stop()
		return nil, errors.Trace(err)
	}
	s.logger.Info("actor system started", zap.Stringer("config", cfg))
	return s, nil
}

// ID returns the unique ID of the system.
func (s *System) ID() string {
	return s.id
}

// Manager returns the thread manager of the system. Callers may post their
// own tasks to it.
func (s *System) Manager() *threadpool.ThreadManager {
	return s.manager
}

// Logger returns the logger of the system.
func (s *System) Logger() *zap.Logger {
	return s.logger
}

// MakeActor registers a under name. By default it is placed directly in the
// user subtree.
func (s *System) MakeActor(name string, a Actor, opts ...SpawnOption) (Address, error) {
	o := &spawnOptions{subtree: SubtreeUser}
	for _, opt := range opts {
		opt(o)
	}
	return s.addActor(name, o.parent, o.subtree, a)
}

// AddActor registers a under name as a child of parent. An empty parent
// places it directly in the user subtree.
//
// The settings of the parent are passed to a.OnInit, which returns the
// actor's own. OnStart is then posted to the actor's pool, and no message is
// handled before it returns.
func (s *System) AddActor(name string, parent Address, a Actor) (Address, error) {
	return s.addActor(name, parent, SubtreeUser, a)
}

func (s *System) addActor(name string, parent Address, subtree Subtree, a Actor) (Address, error) {
	if name == "" || strings.Contains(name, pathSeparator) {
		return Address{}, cerrors.ErrInvalidActorName.GenWithStackByArgs(name)
	}
	if self, ok := a.base().registered(); ok {
		return Address{}, cerrors.ErrActorAlreadyRegistered.GenWithStackByArgs(self)
	}
	settings, basePath, err := s.resolveParent(parent, subtree)
	if err != nil {
		return Address{}, errors.Trace(err)
	}
	settings = a.OnInit(settings)
	if _, ok := s.manager.Pool(settings.Pool); !ok {
		return Address{}, cerrors.ErrUnknownThreadKind.GenWithStackByArgs(settings.Pool)
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return Address{}, cerrors.ErrSystemStopped.GenWithStackByArgs(s.id)
	}
	if _, ok := s.names[name]; ok {
		s.mu.Unlock()
		return Address{}, cerrors.ErrActorNameConflict.GenWithStackByArgs(name)
	}
	if self, ok := a.base().registered(); ok {
		s.mu.Unlock()
		return Address{}, cerrors.ErrActorAlreadyRegistered.GenWithStackByArgs(self)
	}
	var p *description
	if !parent.IsEmpty() {
		p = s.actors[parent.id]
		if p == nil || !p.address.Equal(parent) {
			s.mu.Unlock()
			return Address{}, cerrors.ErrActorNotFound.GenWithStackByArgs(parent)
		}
		subtree = p.subtree
	}

	id := ID(s.nextID.Inc())
	addr := Address{id: id, path: childPath(basePath, name)}
	d := &description{
		actor:       a,
		name:        name,
		address:     addr,
		parent:      parent,
		subtree:     subtree,
		settings:    settings,
		mailbox:     NewMailbox(),
		logger:      logutil.NewLogger4Actor(s.logger, addr.path, uint64(id)),
		children:    make(map[ID]struct{}),
		warnLimiter: rate.NewLimiter(rate.Every(mailboxWarnInterval), 1),
	}
	a.base().bind(s, addr, d.logger)
	s.actors[id] = d
	s.names[name] = id
	s.mailboxes[id] = d.mailbox
	if p != nil {
		p.children[id] = struct{}{}
	}
	s.mu.Unlock()

	s.metrics.actors.Inc()
	d.logger.Debug("actor registered",
		zap.String("pool", string(settings.Pool)),
		zap.Stringer("priority", settings.Priority))
	s.postStart(d)
	return addr, nil
}

func (s *System) resolveParent(parent Address, subtree Subtree) (Settings, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return Settings{}, "", cerrors.ErrSystemStopped.GenWithStackByArgs(s.id)
	}
	if !parent.IsEmpty() {
		p, ok := s.actors[parent.id]
		if !ok || !p.address.Equal(parent) {
			return Settings{}, "", cerrors.ErrActorNotFound.GenWithStackByArgs(parent)
		}
		return p.settings, p.address.path, nil
	}
	switch subtree {
	case SubtreeUser, SubtreeSystem:
	case SubtreeNet:
		if !s.cfg.EnableNetSubtree {
			return Settings{}, "", cerrors.ErrActorNotFound.GenWithStackByArgs(subtree.path())
		}
	default:
		return Settings{}, "", cerrors.ErrActorNotFound.GenWithStackByArgs(subtree.path())
	}
	return Settings{
		Pool:                 threadpool.KindUser,
		Priority:             threadpool.PriorityDefault,
		MailboxWarnThreshold: s.cfg.MailboxWarnThreshold,
	}, subtree.path(), nil
}

// postStart runs OnStart on the actor's pool. The busy flag set by bind is
// released afterwards.
func (s *System) postStart(d *description) {
	s.inflight.Inc()
	_, err := s.manager.Post(d.settings.Pool, threadpool.OnceFunc(func(threadpool.ThreadInfo) {
		defer s.inflight.Dec()
		s.protect(d.logger, "OnStart", d.actor.OnStart)
		d.actor.base().release()
		if !d.mailbox.IsEmpty() {
			s.wake()
		}
	}))
	if err != nil {
		s.logPostFailure(d, "OnStart", err)
		d.actor.base().release()
		s.inflight.Dec()
	}
}

// Send delivers msg to the actor at to with an empty sender. Messages to
// unknown or stopped actors are dropped.
func (s *System) Send(to Address, msg any) {
	s.SendEnvelope(to, NewEnvelope(NewPayload(msg), Address{}))
}

// SendEnvelope delivers env to the actor at to. Envelopes to unknown or
// stopped actors are dropped.
func (s *System) SendEnvelope(to Address, env Envelope) {
	s.mu.RLock()
	mb, ok := s.mailboxes[to.id]
	if ok {
		mb.Push(env)
	}
	s.mu.RUnlock()

	if !ok {
		s.logger.Debug("drop message to unknown actor",
			zap.Stringer("to", to), zap.Stringer("from", env.Sender()))
		return
	}
	s.wake()
}

// GetActor returns the actor registered at addr.
func (s *System) GetActor(addr Address) (Actor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.actors[addr.id]
	if !ok || !d.address.Equal(addr) {
		return nil, false
	}
	return d.actor, true
}

// GetActorByName returns the actor registered under name.
func (s *System) GetActorByName(name string) (Actor, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.names[name]
	if !ok {
		return nil, false
	}
	return s.actors[id].actor, true
}

// GetAddress returns the address registered under name, or the empty
// address.
func (s *System) GetAddress(name string) Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.names[name]
	if !ok {
		return Address{}
	}
	return s.actors[id].address
}

// Children returns the addresses of the children of addr, ordered by ID.
func (s *System) Children(addr Address) []Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.actors[addr.id]
	if !ok || !d.address.Equal(addr) {
		return nil
	}
	children := make([]Address, 0, len(d.children))
	for _, id := range sortedIDs(d.children) {
		children = append(children, s.actors[id].address)
	}
	return children
}

// Flush blocks until every mailbox is empty, no OnStart or drain is in
// flight, and every pool is flushed. Messages sent concurrently by other
// goroutines may keep it waiting.
func (s *System) Flush(ctx context.Context) error {
	ticker := time.NewTicker(flushPollInterval)
	defer ticker.Stop()
	for {
		if err := s.manager.Flush(ctx); err != nil {
			return errors.Trace(err)
		}
		if s.quiescent() {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.Trace(ctx.Err())
		case <-ticker.C:
		}
	}
}

func (s *System) quiescent() bool {
	if s.inflight.Load() > 0 {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, mb := range s.mailboxes {
		if !mb.IsEmpty() {
			return false
		}
	}
	return true
}

func (s *System) wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

// protect runs a user hook, logging instead of propagating a panic.
func (s *System) protect(logger *zap.Logger, hook string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("actor hook panicked",
				zap.String("hook", hook),
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
	}()
	fn()
}

func sortedIDs(set map[ID]struct{}) []ID {
	ids := maps.Keys(set)
	slices.Sort(ids)
	return ids
}
