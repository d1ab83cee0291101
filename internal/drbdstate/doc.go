/*
Copyright 2026 Flant JSC

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package drbdstate mirrors the state of the kernel DRBD subsystem on the local
// node, as reported by `drbdsetup events2 all`, and notifies observers about
// changes.
//
// # Object Model
//
//   - Resource: a named DRBD resource, owns connections and local volumes
//   - Connection: the link of a resource to one peer node, owns peer volumes
//   - Volume: a numbered device of a resource, local when it belongs to the
//     resource, peer when it belongs to a connection
//
// # Event Flow
//
//  1. Monitor.ReceiveLine tokenizes an events2 line
//  2. Until the `exists -` line ends the initial snapshot, events other than
//     `exists` are held back, then applied in arrival order
//  3. Objects are created, updated or destroyed in the Tracker registry
//  4. Every attribute change is fanned out to the observers subscribed to its
//     EventKind
//
// # Errors
//
// Errors wrapping ErrConstruction mean a single event could not be turned into
// an object and was dropped. Errors wrapping ErrProtocol mean the tracked state
// may have diverged from the kernel and the event stream must be restarted.
package drbdstate
