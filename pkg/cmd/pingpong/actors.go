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

package pingpong

import (
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pingcap/errors"
	"github.com/pingcap/tiactor/pkg/actor"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

const pingExchange = "ping"

type pingMsg struct {
	round int64
}

type pongMsg struct {
	index int
	round int64
}

// readyMsg tells ping that a pong has subscribed to the exchange.
type readyMsg struct {
	index int
}

// stats are written by the ping actor and read by the reporter.
type stats struct {
	rounds []atomic.Int64
	start  time.Time
}

func newStats(pongs int) *stats {
	return &stats{rounds: make([]atomic.Int64, pongs), start: time.Now()}
}

func (s *stats) record(index int, round int64) {
	s.rounds[index].Store(round)
}

func (s *stats) snapshot() []int64 {
	rounds := make([]int64, len(s.rounds))
	for i := range s.rounds {
		rounds[i] = s.rounds[i].Load()
	}
	return rounds
}

type summary struct {
	System       string  `json:"system"`
	Mode         string  `json:"mode"`
	Pongs        int     `json:"pongs"`
	Rounds       []int64 `json:"rounds"`
	TotalRounds  string  `json:"total-rounds"`
	Elapsed      string  `json:"elapsed"`
	RoundsPerSec float64 `json:"rounds-per-sec"`
}

func (s *stats) summary(systemID, mode string) summary {
	rounds := s.snapshot()
	elapsed := time.Since(s.start)
	var total int64
	for _, r := range rounds {
		total += r
	}
	return summary{
		System:       systemID,
		Mode:         mode,
		Pongs:        len(rounds),
		Rounds:       rounds,
		TotalRounds:  humanize.Comma(total),
		Elapsed:      elapsed.String(),
		RoundsPerSec: float64(total) / elapsed.Seconds(),
	}
}

type pongActor struct {
	actor.Base
	index int
	ping  actor.Address
	// exchange is empty when ping sends to pongs directly.
	exchange string
}

func (a *pongActor) OnStart() {
	if a.exchange == "" {
		return
	}
	if err := a.Subscribe(a.exchange); err != nil {
		a.Logger().Warn("failed to subscribe", zap.String("exchange", a.exchange), zap.Error(err))
		return
	}
	a.Send(a.ping, readyMsg{index: a.index})
}

func (a *pongActor) ActionHandle(env actor.Envelope) error {
	m, err := actor.Cast[pingMsg](env.Payload())
	if err != nil {
		return errors.Trace(err)
	}
	a.Reply(env, pongMsg{index: a.index, round: m.round + 1})
	return nil
}

// pingActor spawns the pongs in OnStart and bounces a counter with each of
// them, either directly or by publishing each round to an exchange.
type pingActor struct {
	actor.Base
	pongs     int
	maxRounds int64
	exchange  bool
	stats     *stats

	// Accessed by the handler only.
	ready    int
	replies  int
	round    int64
	finished int

	done     chan struct{}
	doneOnce sync.Once
}

func newPingActor(pongs int, maxRounds int64, exchange bool, stats *stats) *pingActor {
	return &pingActor{
		pongs:     pongs,
		maxRounds: maxRounds,
		exchange:  exchange,
		stats:     stats,
		done:      make(chan struct{}),
	}
}

// Done is closed once every pong reached the maximum rounds, or ping stops.
func (a *pingActor) Done() <-chan struct{} {
	return a.done
}

func (a *pingActor) finish() {
	a.doneOnce.Do(func() { close(a.done) })
}

func (a *pingActor) mode() string {
	if a.exchange {
		return "exchange"
	}
	return "direct"
}

func (a *pingActor) OnStart() {
	exchange := ""
	if a.exchange {
		exchange = pingExchange
		if err := a.CreateExchange(exchange); err != nil {
			a.Logger().Error("failed to create exchange", zap.Error(err))
			return
		}
	}
	for i := 0; i < a.pongs; i++ {
		pong := &pongActor{index: i, ping: a.Self(), exchange: exchange}
		addr, err := a.Spawn(fmt.Sprintf("pong-%d", i), pong)
		if err != nil {
			a.Logger().Error("failed to spawn pong", zap.Int("index", i), zap.Error(err))
			continue
		}
		if !a.exchange {
			a.Send(addr, pingMsg{round: 0})
		}
	}
	a.Logger().Info("ping started", zap.String("mode", a.mode()), zap.Int("pongs", a.pongs))
}

func (a *pingActor) OnStop() {
	a.finish()
}

func (a *pingActor) ActionHandle(env actor.Envelope) error {
	p := env.Payload()
	if actor.Is[readyMsg](p) {
		a.ready++
		if a.ready == a.pongs {
			a.Publish(pingExchange, pingMsg{round: 0})
		}
		return nil
	}

	m, err := actor.Cast[pongMsg](p)
	if err != nil {
		return errors.Trace(err)
	}
	a.stats.record(m.index, m.round)
	if a.exchange {
		a.onExchangeReply()
		return nil
	}
	if a.maxRounds > 0 && m.round >= a.maxRounds {
		a.finished++
		if a.finished == a.pongs {
			a.finish()
		}
		return nil
	}
	a.Reply(env, pingMsg{round: m.round})
	return nil
}

// onExchangeReply publishes the next round once every pong has replied.
func (a *pingActor) onExchangeReply() {
	a.replies++
	if a.replies < a.pongs {
		return
	}
	a.replies = 0
	a.round++
	if a.maxRounds > 0 && a.round >= a.maxRounds {
		a.finish()
		return
	}
	a.Publish(pingExchange, pingMsg{round: a.round})
}
