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

package errors

import (
	"github.com/pingcap/errors"
)

// errors
var (
	// payload related errors
	ErrBadCast = errors.Normalize(
		"bad cast, payload holds %s, requested %s",
		errors.RFCCodeText("TiActor:ErrBadCast"),
	)

	// thread pool related errors
	ErrUnknownThreadKind = errors.Normalize(
		"no thread pool is configured for kind %s",
		errors.RFCCodeText("TiActor:ErrUnknownThreadKind"),
	)
	ErrDoubleStart = errors.Normalize(
		"%s has already been started",
		errors.RFCCodeText("TiActor:ErrDoubleStart"),
	)
	ErrThreadPoolStopped = errors.Normalize(
		"thread pool %s has been stopped",
		errors.RFCCodeText("TiActor:ErrThreadPoolStopped"),
	)
	ErrTaskPanic = errors.Normalize(
		"task panicked in thread pool %s: %v",
		errors.RFCCodeText("TiActor:ErrTaskPanic"),
	)

	// actor related errors
	ErrActorNotFound = errors.Normalize(
		"actor %s not found",
		errors.RFCCodeText("TiActor:ErrActorNotFound"),
	)
	ErrActorNameConflict = errors.Normalize(
		"actor name %s is already registered",
		errors.RFCCodeText("TiActor:ErrActorNameConflict"),
	)
	ErrInvalidActorName = errors.Normalize(
		"invalid actor name %q",
		errors.RFCCodeText("TiActor:ErrInvalidActorName"),
	)
	ErrActorAlreadyRegistered = errors.Normalize(
		"actor is already registered as %s",
		errors.RFCCodeText("TiActor:ErrActorAlreadyRegistered"),
	)
	ErrActorPanic = errors.Normalize(
		"actor %s panicked while handling a message: %v",
		errors.RFCCodeText("TiActor:ErrActorPanic"),
	)
	ErrActorNotBound = errors.Normalize(
		"actor is not registered in any system",
		errors.RFCCodeText("TiActor:ErrActorNotBound"),
	)
	ErrSystemStopped = errors.Normalize(
		"actor system %s has been stopped",
		errors.RFCCodeText("TiActor:ErrSystemStopped"),
	)

	// exchange related errors
	ErrExchangeNotExists = errors.Normalize(
		"exchange %s does not exist",
		errors.RFCCodeText("TiActor:ErrExchangeNotExists"),
	)
	ErrExchangeNotOwner = errors.Normalize(
		"exchange %s is owned by %s, not %s",
		errors.RFCCodeText("TiActor:ErrExchangeNotOwner"),
	)

	// config related errors
	ErrInvalidConfig = errors.Normalize(
		"invalid config: %s",
		errors.RFCCodeText("TiActor:ErrInvalidConfig"),
	)
	ErrDecodeConfigFile = errors.Normalize(
		"decode config file failed",
		errors.RFCCodeText("TiActor:ErrDecodeConfigFile"),
	)
)
