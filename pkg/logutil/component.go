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

package logutil

import (
	"github.com/pingcap/log"
	"go.uber.org/zap"
)

const (
	constFieldSystemKey = "system"
	constFieldPoolKey   = "pool"
	constFieldActorKey  = "actor"
	constFieldActorID   = "actor_id"
)

// NewLogger4System derives a logger for an actor system from parent.
// A nil parent means the global logger.
func NewLogger4System(parent *zap.Logger, systemID string) *zap.Logger {
	if parent == nil {
		parent = log.L()
	}
	return parent.With(zap.String(constFieldSystemKey, systemID))
}

// NewLogger4Pool derives a logger for a thread pool from parent.
// A nil parent means the global logger.
func NewLogger4Pool(parent *zap.Logger, kind string) *zap.Logger {
	if parent == nil {
		parent = log.L()
	}
	return parent.With(zap.String(constFieldPoolKey, kind))
}

// NewLogger4Actor derives a logger for an actor from its system's logger.
func NewLogger4Actor(parent *zap.Logger, path string, id uint64) *zap.Logger {
	if parent == nil {
		parent = log.L()
	}
	return parent.With(
		zap.String(constFieldActorKey, path),
		zap.Uint64(constFieldActorID, id),
	)
}
