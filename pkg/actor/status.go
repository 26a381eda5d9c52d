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

// StatusKind is the coarse state of an actor.
type StatusKind int

const (
	// StatusNormal means the last drain finished without error.
	StatusNormal StatusKind = iota
	// StatusWithError means the last drain was aborted by a failing message.
	StatusWithError
	// StatusStopped means the actor has been removed from its system.
	StatusStopped
)

func (k StatusKind) String() string {
	switch k {
	case StatusNormal:
		return "normal"
	case StatusWithError:
		return "with-error"
	case StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Status is the status record of an actor.
type Status struct {
	Kind    StatusKind
	Message string
}

// StopReason tells why an actor was stopped.
type StopReason int

const (
	// StopManual means somebody called StopActor.
	StopManual StopReason = iota
	// StopExcept means the actor failed and its supervisor chose to stop it.
	StopExcept
)

func (r StopReason) String() string {
	switch r {
	case StopManual:
		return "manual"
	case StopExcept:
		return "except"
	default:
		return "unknown"
	}
}

// Directive is the verdict of a supervisor about a failed child.
type Directive int

const (
	// DirectiveResume keeps the child registered. Its remaining messages are
	// retried on the next drain.
	DirectiveResume Directive = iota
	// DirectiveStop stops the child with StopExcept.
	DirectiveStop
	// DirectiveReinit stops the child and registers it again, which runs
	// OnInit and OnStart once more.
	DirectiveReinit
	// DirectiveEscalate passes the decision to the supervisor's own parent.
	DirectiveEscalate
)

func (d Directive) String() string {
	switch d {
	case DirectiveResume:
		return "resume"
	case DirectiveStop:
		return "stop"
	case DirectiveReinit:
		return "reinit"
	case DirectiveEscalate:
		return "escalate"
	default:
		return "unknown"
	}
}
