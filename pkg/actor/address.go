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

import "fmt"

// ID is ID for actors. IDs are allocated in increasing order and are unique
// within a System.
type ID uint64

// EmptyID is the sentinel ID meaning "no actor".
const EmptyID ID = 0

const (
	rootPath = "/root"
	// pathSeparator joins a parent path and a local name.
	pathSeparator = "/"
)

// Subtree is a top level branch of the actor hierarchy. Actors without a
// parent are placed directly under one.
type Subtree string

const (
	// SubtreeUser holds user actors. It is the default subtree.
	SubtreeUser Subtree = "usr"
	// SubtreeSystem holds actors of the runtime itself.
	SubtreeSystem Subtree = "sys"
	// SubtreeNet holds network bridge actors. It exists only if the system
	// is configured with the net subtree enabled.
	SubtreeNet Subtree = "net"
)

func (s Subtree) path() string {
	return rootPath + pathSeparator + string(s)
}

// Address identifies an actor. The zero value is the empty address.
type Address struct {
	id   ID
	path string
}

// ID returns the actor ID.
func (a Address) ID() ID {
	return a.id
}

// Path returns the hierarchical path, e.g. /root/usr/ping/pong-1.
func (a Address) Path() string {
	return a.path
}

// IsEmpty tells whether the address refers to no actor.
func (a Address) IsEmpty() bool {
	return a.id == EmptyID
}

// Equal compares both the ID and the path. Two addresses sharing an ID but
// carrying different paths are different.
func (a Address) Equal(other Address) bool {
	return a.id == other.id && a.path == other.path
}

// String implements fmt.Stringer.
func (a Address) String() string {
	if a.IsEmpty() {
		return "<empty>"
	}
	return fmt.Sprintf("%s#%d", a.path, a.id)
}

func childPath(parent, name string) string {
	return parent + pathSeparator + name
}
