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

package drbdstate

import "errors"

var (
	// ErrConstruction marks events whose object could not be built from the
	// event properties. The event is dropped, the stream stays usable.
	ErrConstruction = errors.New("constructing tracked object")

	// ErrProtocol marks events that are malformed or reference objects which
	// are not tracked. The tracked state may no longer match the kernel, so
	// the event stream has to be restarted.
	ErrProtocol = errors.New("events2 protocol error")

	ErrMissingField = errors.New("missing field")
	ErrUnparsable   = errors.New("unparsable value")
	ErrOutOfRange   = errors.New("value out of range")

	// ErrNotFound is returned by lookups for names that are not tracked.
	ErrNotFound = errors.New("not found")

	// ErrStateUnavailable is returned by queries while no complete snapshot of
	// the DRBD state is available.
	ErrStateUnavailable = errors.New("DRBD state is not available")
)
