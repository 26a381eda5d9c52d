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

// Package actor provides an actor system with hierarchical supervision and
// named pub/sub exchanges. Actors are registered in a System under a tree of
// paths rooted at /root, exchange messages through unbounded mailboxes and
// are drained by tasks posted to thread pools.
//
// The following diagram shows how a system drains a mailbox.
//
//	,------.        ,-------.      ,---------.       ,--------.      ,-----.
//	|Sender|        |Mailbox|      |Scheduler|       |UserPool|      |Actor|
//	`--+---'        `---+---'      `----+----'       `---+----'      `--+--'
//	   |  Send(msg)     |               |                |              |
//	   | -------------->|               |                |              |
//	   |           wake()               |                |              |
//	   | ------------------------------>|                |              |
//	   |                |   scan, not empty              |              |
//	   |                |<--------------|                |              |
//	   |                |               |  tryLock()     |              |
//	   |                |               | ----------------------------->|
//	   |                |               |  Post(drain)   |              |
//	   |                |               | -------------->|              |
//	   |                |     TryPop()  |                |              |
//	   |                |<-------------------------------|              |
//	   |                |               |                | ActionHandle |
//	   |                |               |                | ------------>|
//	   |                |               |                |  release()   |
//	   |                |               |                | ------------>|
//	,--+---.        ,---+---.      ,----+----.       ,---+----.      ,--+--.
//	|Sender|        |Mailbox|      |Scheduler|       |UserPool|      |Actor|
//	`------'        `-------'      `---------'       `--------'      `-----'
//
// The scheduler is a PriorityWorker task of the system pool. An actor whose
// busy flag is set is skipped, so at most one drain per actor is in flight.
// When ActionHandle fails, the parent of the actor decides with
// OnChildError whether to resume, stop or reinitialize it, or escalates the
// decision to its own parent.
package actor
