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

// Envelope is a message plus the address of its sender. It is immutable.
type Envelope struct {
	payload Payload
	sender  Address
}

// NewEnvelope creates an envelope.
func NewEnvelope(payload Payload, sender Address) Envelope {
	return Envelope{payload: payload, sender: sender}
}

// Payload returns the message.
func (e Envelope) Payload() Payload {
	return e.payload
}

// Sender returns the sender address. It is empty if the message was sent
// from outside any actor.
func (e Envelope) Sender() Address {
	return e.sender
}

// clone copies e for another receiver.
func (e Envelope) clone() Envelope {
	return Envelope{payload: e.payload.Clone(), sender: e.sender}
}
