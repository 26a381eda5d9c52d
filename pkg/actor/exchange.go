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

	cerrors "github.com/pingcap/tiactor/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// exchange is a named pub/sub topic.
type exchange struct {
	// owner is the creator. An empty owner means anybody may delete it.
	owner       Address
	subscribers map[ID]Address
}

// CreateExchange creates an exchange owned by owner. Creating an existing
// exchange is a no-op and keeps its owner and subscribers.
func (s *System) CreateExchange(owner Address, name string) {
	s.exchangeMu.Lock()
	defer s.exchangeMu.Unlock()
	if _, ok := s.exchanges[name]; ok {
		return
	}
	s.exchanges[name] = &exchange{owner: owner, subscribers: make(map[ID]Address)}
	s.logger.Debug("exchange created",
		zap.String("exchange", name), zap.Stringer("owner", owner))
}

// DeleteExchange tears down an exchange. Only its owner may do it.
func (s *System) DeleteExchange(caller Address, name string) error {
	s.exchangeMu.Lock()
	defer s.exchangeMu.Unlock()
	ex, ok := s.exchanges[name]
	if !ok {
		return cerrors.ErrExchangeNotExists.GenWithStackByArgs(name)
	}
	if !ex.owner.IsEmpty() && !ex.owner.Equal(caller) {
		return cerrors.ErrExchangeNotOwner.GenWithStackByArgs(name, ex.owner, caller)
	}
	delete(s.exchanges, name)
	s.logger.Debug("exchange deleted", zap.String("exchange", name))
	return nil
}

// ExchangeExists tells whether an exchange named name exists.
func (s *System) ExchangeExists(name string) bool {
	s.exchangeMu.RLock()
	defer s.exchangeMu.RUnlock()
	_, ok := s.exchanges[name]
	return ok
}

// SubscribeToExchange adds subscriber to an exchange. Subscribing twice is
// a no-op.
func (s *System) SubscribeToExchange(name string, subscriber Address) error {
	s.exchangeMu.Lock()
	defer s.exchangeMu.Unlock()
	ex, ok := s.exchanges[name]
	if !ok {
		return cerrors.ErrExchangeNotExists.GenWithStackByArgs(name)
	}
	ex.subscribers[subscriber.id] = subscriber
	return nil
}

// UnsubscribeFromExchange removes subscriber from an exchange, if present.
func (s *System) UnsubscribeFromExchange(name string, subscriber Address) {
	s.exchangeMu.Lock()
	defer s.exchangeMu.Unlock()
	if ex, ok := s.exchanges[name]; ok {
		delete(ex.subscribers, subscriber.id)
	}
}

// Publish sends a copy of msg to every subscriber of an exchange, with
// sender as the sender. Publishing to an unknown exchange, or to one
// without subscribers, does nothing.
func (s *System) Publish(name string, sender Address, msg any) {
	s.exchangeMu.RLock()
	ex, ok := s.exchanges[name]
	var subscribers []Address
	if ok {
		subscribers = maps.Values(ex.subscribers)
	}
	s.exchangeMu.RUnlock()
	slices.SortFunc(subscribers, func(a, b Address) int {
		return cmp.Compare(a.id, b.id)
	})

	env := NewEnvelope(NewPayload(msg), sender)
	for _, to := range subscribers {
		s.SendEnvelope(to, env.clone())
	}
}

// dropExchangeMember unsubscribes addr from every exchange and deletes the
// exchanges it owns.
func (s *System) dropExchangeMember(addr Address) {
	s.exchangeMu.Lock()
	defer s.exchangeMu.Unlock()
	for name, ex := range s.exchanges {
		if ex.owner.Equal(addr) {
			delete(s.exchanges, name)
			continue
		}
		if sub, ok := ex.subscribers[addr.id]; ok && sub.Equal(addr) {
			delete(ex.subscribers, addr.id)
		}
	}
}
