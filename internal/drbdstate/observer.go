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

import (
	"math"
	"math/bits"
	"strings"
)

// EventKind is a single bit identifying one kind of state change. Kinds are
// OR-combined into subscription masks.
type EventKind uint64

const (
	EventResourceCreated EventKind = 1 << iota
	EventResourceDestroyed
	EventRoleChanged
	EventPeerRoleChanged
	EventVolumeCreated
	EventVolumeDestroyed
	EventMinorNumberChanged
	EventDiskStateChanged
	EventReplicationStateChanged
	EventConnectionCreated
	EventConnectionDestroyed
	EventConnectionStateChanged
	EventPromotionScoreChanged
	EventMayPromoteChanged
	EventDonePercentageChanged

	// AllEvents subscribes to every kind, including kinds added later.
	AllEvents EventKind = math.MaxUint64
)

// slotCount is the number of distinct event kinds, slot i holds the
// subscribers of kind 1<<i.
const slotCount = 15

const validEventsMask EventKind = 1<<slotCount - 1

var eventKindNames = [slotCount]string{
	"ResourceCreated",
	"ResourceDestroyed",
	"RoleChanged",
	"PeerRoleChanged",
	"VolumeCreated",
	"VolumeDestroyed",
	"MinorNumberChanged",
	"DiskStateChanged",
	"ReplicationStateChanged",
	"ConnectionCreated",
	"ConnectionDestroyed",
	"ConnectionStateChanged",
	"PromotionScoreChanged",
	"MayPromoteChanged",
	"DonePercentageChanged",
}

// slot returns the slot index of a single-bit kind.
func (k EventKind) slot() int { return bits.TrailingZeros64(uint64(k)) }

func (k EventKind) String() string {
	k &= validEventsMask
	if k == 0 {
		return "None"
	}
	var names []string
	for m := k; m != 0; m &= m - 1 {
		names = append(names, eventKindNames[bits.TrailingZeros64(uint64(m))])
	}
	return strings.Join(names, "|")
}

// Kinds returns the single-bit kinds contained in the mask, in slot order.
func (k EventKind) Kinds() []EventKind {
	k &= validEventsMask
	kinds := make([]EventKind, 0, bits.OnesCount64(uint64(k)))
	for m := k; m != 0; m &= m - 1 {
		kinds = append(kinds, EventKind(1)<<bits.TrailingZeros64(uint64(m)))
	}
	return kinds
}

// Observer receives state changes of tracked objects. conn is nil for
// events about local volumes.
//
// Callbacks are invoked from the single goroutine applying events2 lines and
// must not block for long.
type Observer interface {
	ResourceCreated(rsc *Resource)
	ResourceDestroyed(rsc *Resource)
	RoleChanged(rsc *Resource, prev, cur Role)
	PeerRoleChanged(rsc *Resource, conn *Connection, prev, cur Role)
	VolumeCreated(rsc *Resource, conn *Connection, vol *Volume)
	VolumeDestroyed(rsc *Resource, conn *Connection, vol *Volume)
	MinorNumberChanged(rsc *Resource, vol *Volume, prev, cur *int)
	DiskStateChanged(rsc *Resource, conn *Connection, vol *Volume, prev, cur DiskState)
	ReplicationStateChanged(rsc *Resource, conn *Connection, vol *Volume, prev, cur ReplState)
	ConnectionCreated(rsc *Resource, conn *Connection)
	ConnectionDestroyed(rsc *Resource, conn *Connection)
	ConnectionStateChanged(rsc *Resource, conn *Connection, prev, cur ConnectionState)
	PromotionScoreChanged(rsc *Resource, prev, cur *int)
	MayPromoteChanged(rsc *Resource, prev, cur *bool)
	DonePercentageChanged(rsc *Resource, conn *Connection, vol *Volume, prev, cur *float64)
}

// NoopObserver implements every Observer method as a no-op. Embed it to
// implement only the callbacks of interest.
type NoopObserver struct{}

var _ Observer = NoopObserver{}

func (NoopObserver) ResourceCreated(*Resource)                                                       {}
func (NoopObserver) ResourceDestroyed(*Resource)                                                     {}
func (NoopObserver) RoleChanged(*Resource, Role, Role)                                               {}
func (NoopObserver) PeerRoleChanged(*Resource, *Connection, Role, Role)                              {}
func (NoopObserver) VolumeCreated(*Resource, *Connection, *Volume)                                   {}
func (NoopObserver) VolumeDestroyed(*Resource, *Connection, *Volume)                                 {}
func (NoopObserver) MinorNumberChanged(*Resource, *Volume, *int, *int)                               {}
func (NoopObserver) ConnectionCreated(*Resource, *Connection)                                        {}
func (NoopObserver) ConnectionDestroyed(*Resource, *Connection)                                      {}
func (NoopObserver) PromotionScoreChanged(*Resource, *int, *int)                                     {}
func (NoopObserver) MayPromoteChanged(*Resource, *bool, *bool)                                       {}
func (NoopObserver) DiskStateChanged(*Resource, *Connection, *Volume, DiskState, DiskState)          {}
func (NoopObserver) ReplicationStateChanged(*Resource, *Connection, *Volume, ReplState, ReplState)   {}
func (NoopObserver) ConnectionStateChanged(*Resource, *Connection, ConnectionState, ConnectionState) {}
func (NoopObserver) DonePercentageChanged(*Resource, *Connection, *Volume, *float64, *float64)       {}

// ObserverFuncs adapts optional callbacks to the Observer interface. Nil
// fields are skipped. Subscribe a pointer, the value is not comparable.
type ObserverFuncs struct {
	OnResourceCreated         func(rsc *Resource)
	OnResourceDestroyed       func(rsc *Resource)
	OnRoleChanged             func(rsc *Resource, prev, cur Role)
	OnPeerRoleChanged         func(rsc *Resource, conn *Connection, prev, cur Role)
	OnVolumeCreated           func(rsc *Resource, conn *Connection, vol *Volume)
	OnVolumeDestroyed         func(rsc *Resource, conn *Connection, vol *Volume)
	OnMinorNumberChanged      func(rsc *Resource, vol *Volume, prev, cur *int)
	OnDiskStateChanged        func(rsc *Resource, conn *Connection, vol *Volume, prev, cur DiskState)
	OnReplicationStateChanged func(rsc *Resource, conn *Connection, vol *Volume, prev, cur ReplState)
	OnConnectionCreated       func(rsc *Resource, conn *Connection)
	OnConnectionDestroyed     func(rsc *Resource, conn *Connection)
	OnConnectionStateChanged  func(rsc *Resource, conn *Connection, prev, cur ConnectionState)
	OnPromotionScoreChanged   func(rsc *Resource, prev, cur *int)
	OnMayPromoteChanged       func(rsc *Resource, prev, cur *bool)
	OnDonePercentageChanged   func(rsc *Resource, conn *Connection, vol *Volume, prev, cur *float64)
}

var _ Observer = &ObserverFuncs{}

func (f *ObserverFuncs) ResourceCreated(rsc *Resource) {
	if f.OnResourceCreated != nil {
		f.OnResourceCreated(rsc)
	}
}

func (f *ObserverFuncs) ResourceDestroyed(rsc *Resource) {
	if f.OnResourceDestroyed != nil {
		f.OnResourceDestroyed(rsc)
	}
}

func (f *ObserverFuncs) RoleChanged(rsc *Resource, prev, cur Role) {
	if f.OnRoleChanged != nil {
		f.OnRoleChanged(rsc, prev, cur)
	}
}

func (f *ObserverFuncs) PeerRoleChanged(rsc *Resource, conn *Connection, prev, cur Role) {
	if f.OnPeerRoleChanged != nil {
		f.OnPeerRoleChanged(rsc, conn, prev, cur)
	}
}

func (f *ObserverFuncs) VolumeCreated(rsc *Resource, conn *Connection, vol *Volume) {
	if f.OnVolumeCreated != nil {
		f.OnVolumeCreated(rsc, conn, vol)
	}
}

func (f *ObserverFuncs) VolumeDestroyed(rsc *Resource, conn *Connection, vol *Volume) {
	if f.OnVolumeDestroyed != nil {
		f.OnVolumeDestroyed(rsc, conn, vol)
	}
}

func (f *ObserverFuncs) MinorNumberChanged(rsc *Resource, vol *Volume, prev, cur *int) {
	if f.OnMinorNumberChanged != nil {
		f.OnMinorNumberChanged(rsc, vol, prev, cur)
	}
}

func (f *ObserverFuncs) DiskStateChanged(rsc *Resource, conn *Connection, vol *Volume, prev, cur DiskState) {
	if f.OnDiskStateChanged != nil {
		f.OnDiskStateChanged(rsc, conn, vol, prev, cur)
	}
}

func (f *ObserverFuncs) ReplicationStateChanged(rsc *Resource, conn *Connection, vol *Volume, prev, cur ReplState) {
	if f.OnReplicationStateChanged != nil {
		f.OnReplicationStateChanged(rsc, conn, vol, prev, cur)
	}
}

func (f *ObserverFuncs) ConnectionCreated(rsc *Resource, conn *Connection) {
	if f.OnConnectionCreated != nil {
		f.OnConnectionCreated(rsc, conn)
	}
}

func (f *ObserverFuncs) ConnectionDestroyed(rsc *Resource, conn *Connection) {
	if f.OnConnectionDestroyed != nil {
		f.OnConnectionDestroyed(rsc, conn)
	}
}

func (f *ObserverFuncs) ConnectionStateChanged(rsc *Resource, conn *Connection, prev, cur ConnectionState) {
	if f.OnConnectionStateChanged != nil {
		f.OnConnectionStateChanged(rsc, conn, prev, cur)
	}
}

func (f *ObserverFuncs) PromotionScoreChanged(rsc *Resource, prev, cur *int) {
	if f.OnPromotionScoreChanged != nil {
		f.OnPromotionScoreChanged(rsc, prev, cur)
	}
}

func (f *ObserverFuncs) MayPromoteChanged(rsc *Resource, prev, cur *bool) {
	if f.OnMayPromoteChanged != nil {
		f.OnMayPromoteChanged(rsc, prev, cur)
	}
}

func (f *ObserverFuncs) DonePercentageChanged(rsc *Resource, conn *Connection, vol *Volume, prev, cur *float64) {
	if f.OnDonePercentageChanged != nil {
		f.OnDonePercentageChanged(rsc, conn, vol, prev, cur)
	}
}

// AvailabilityObserver is notified when a complete snapshot of the DRBD
// state becomes available, and when it is lost because the event stream is
// being restarted.
type AvailabilityObserver interface {
	StateAvailable()
	StateUnavailable()
}

// AvailabilityFuncs adapts two callbacks to AvailabilityObserver.
type AvailabilityFuncs struct {
	OnAvailable   func()
	OnUnavailable func()
}

var _ AvailabilityObserver = &AvailabilityFuncs{}

func (f *AvailabilityFuncs) StateAvailable() {
	if f.OnAvailable != nil {
		f.OnAvailable()
	}
}

func (f *AvailabilityFuncs) StateUnavailable() {
	if f.OnUnavailable != nil {
		f.OnUnavailable()
	}
}
