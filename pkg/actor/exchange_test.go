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
	"fmt"
	"sync"
	"testing"

	"github.com/pingcap/errors"
	cerrors "github.com/pingcap/tiactor/pkg/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
)

type news struct {
	items  []int
	clones *atomic.Int32
}

func (n news) Clone() any {
	n.clones.Inc()
	return news{items: append([]int(nil), n.items...), clones: n.clones}
}

// subscriberActor records news and the sender of each message.
type subscriberActor struct {
	Base

	mu      sync.Mutex
	got     []news
	senders []Address
}

func (a *subscriberActor) ActionHandle(env Envelope) error {
	n, err := Cast[news](env.Payload())
	if err != nil {
		return errors.Trace(err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.got = append(a.got, n)
	a.senders = append(a.senders, env.Sender())
	return nil
}

func (a *subscriberActor) received() ([]news, []Address) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]news(nil), a.got...), append([]Address(nil), a.senders...)
}

// publisherActor owns the "news" exchange and publishes every int it
// receives.
type publisherActor struct {
	Base
	clones *atomic.Int32
}

func (a *publisherActor) OnStart() {
	_ = a.CreateExchange("news")
}

func (a *publisherActor) ActionHandle(env Envelope) error {
	v, err := Cast[int](env.Payload())
	if err != nil {
		return errors.Trace(err)
	}
	a.Publish("news", news{items: []int{v}, clones: a.clones})
	return nil
}

func TestExchangeLifecycle(t *testing.T) {
	t.Parallel()

	sys := newTestSystem(t, 1)
	owner, err := sys.MakeActor("owner", &intCollector{})
	require.NoError(t, err)
	other, err := sys.MakeActor("other", &intCollector{})
	require.NoError(t, err)

	require.False(t, sys.ExchangeExists("ex"))
	err = sys.SubscribeToExchange("ex", other)
	require.True(t, cerrors.ErrExchangeNotExists.Equal(err))
	err = sys.DeleteExchange(owner, "ex")
	require.True(t, cerrors.ErrExchangeNotExists.Equal(err))

	sys.CreateExchange(owner, "ex")
	require.True(t, sys.ExchangeExists("ex"))
	// Creating again keeps the first owner.
	sys.CreateExchange(other, "ex")
	err = sys.DeleteExchange(other, "ex")
	require.True(t, cerrors.ErrExchangeNotOwner.Equal(err))
	require.True(t, sys.ExchangeExists("ex"))

	require.NoError(t, sys.DeleteExchange(owner, "ex"))
	require.False(t, sys.ExchangeExists("ex"))

	// Exchanges created from outside any actor may be deleted by anyone.
	sys.CreateExchange(Address{}, "open")
	require.NoError(t, sys.DeleteExchange(other, "open"))

	// Publishing to an unknown exchange does nothing.
	sys.Publish("nowhere", owner, 1)
}

func TestExchangeFanOut(t *testing.T) {
	t.Parallel()

	const subscribers = 3
	sys := newTestSystem(t, 2)
	var clones atomic.Int32
	pub := &publisherActor{clones: &clones}
	pubAddr, err := sys.MakeActor("publisher", pub)
	require.NoError(t, err)
	flush(t, sys)
	require.True(t, sys.ExchangeExists("news"))

	subs := make([]*subscriberActor, subscribers)
	subAddrs := make([]Address, subscribers)
	for i := range subs {
		subs[i] = &subscriberActor{}
		subAddrs[i], err = sys.MakeActor(fmt.Sprintf("sub-%d", i), subs[i])
		require.NoError(t, err)
		require.NoError(t, sys.SubscribeToExchange("news", subAddrs[i]))
	}
	// Subscribing twice delivers once.
	require.NoError(t, sys.SubscribeToExchange("news", subAddrs[0]))

	sys.Send(pubAddr, 1)
	flush(t, sys)
	require.Equal(t, int32(subscribers), clones.Load())
	for _, sub := range subs {
		got, senders := sub.received()
		require.Len(t, got, 1)
		require.Equal(t, []int{1}, got[0].items)
		require.True(t, senders[0].Equal(pubAddr))
	}

	// Each subscriber owns its copy.
	got0, _ := subs[0].received()
	got1, _ := subs[1].received()
	got0[0].items[0] = 100
	require.Equal(t, 1, got1[0].items[0])

	sys.UnsubscribeFromExchange("news", subAddrs[2])
	sys.StopActor(subAddrs[1])
	sys.Send(pubAddr, 2)
	flush(t, sys)
	got, _ := subs[0].received()
	require.Len(t, got, 2)
	got, _ = subs[1].received()
	require.Len(t, got, 1)
	got, _ = subs[2].received()
	require.Len(t, got, 1)

	// Stopping the owner tears the exchange down.
	sys.StopActor(pubAddr)
	require.False(t, sys.ExchangeExists("news"))
}

// selfSubscriber subscribes itself in OnStart and unsubscribes on "bye".
type selfSubscriber struct {
	subscriberActor
	subscribeErr atomic.Error
}

func (a *selfSubscriber) OnStart() {
	a.subscribeErr.Store(a.Subscribe("feed"))
}

func (a *selfSubscriber) ActionHandle(env Envelope) error {
	if s, ok := env.Payload().Value().(string); ok && s == "bye" {
		a.Unsubscribe("feed")
		return nil
	}
	return a.subscriberActor.ActionHandle(env)
}

func TestExchangeActorHelpers(t *testing.T) {
	t.Parallel()

	sys := newTestSystem(t, 1)
	var clones atomic.Int32
	sys.CreateExchange(Address{}, "feed")

	sub := &selfSubscriber{}
	subAddr, err := sys.MakeActor("self-sub", sub)
	require.NoError(t, err)
	flush(t, sys)
	require.NoError(t, sub.subscribeErr.Load())

	sys.Publish("feed", Address{}, news{items: []int{1}, clones: &clones})
	flush(t, sys)
	sys.Send(subAddr, "bye")
	flush(t, sys)
	sys.Publish("feed", Address{}, news{items: []int{2}, clones: &clones})
	flush(t, sys)

	got, senders := sub.received()
	require.Len(t, got, 1)
	require.True(t, senders[0].IsEmpty())

	// Actor helpers for an exchange owned by nobody.
	owner := &publisherActor{clones: &clones}
	_, err = sys.MakeActor("owner", owner)
	require.NoError(t, err)
	flush(t, sys)
	require.NoError(t, owner.DeleteExchange("news"))
	require.False(t, sys.ExchangeExists("news"))
	err = owner.DeleteExchange("news")
	require.True(t, cerrors.ErrExchangeNotExists.Equal(err))
}
