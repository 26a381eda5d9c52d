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

	"github.com/edwingeng/deque"
)

// Mailbox is an unbounded FIFO queue of envelopes.
// Mailbox is threadsafe.
type Mailbox struct {
	// mu protects deque, because it is not thread-safe.
	mu    sync.RWMutex
	deque deque.Deque
}

// NewMailbox creates an empty mailbox.
func NewMailbox() *Mailbox {
	return &Mailbox{
		deque: deque.NewDeque(),
	}
}

// Push appends env to the mailbox.
func (m *Mailbox) Push(env Envelope) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.deque.PushBack(env)
}

// TryPop removes and returns the oldest envelope, if any.
func (m *Mailbox) TryPop() (Envelope, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.deque.Empty() {
		return Envelope{}, false
	}
	return m.deque.PopFront().(Envelope), true
}

// IsEmpty tells whether the mailbox holds no envelope.
func (m *Mailbox) IsEmpty() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.deque.Empty()
}

// Len returns the number of envelopes in the mailbox.
func (m *Mailbox) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.deque.Len()
}
