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
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
)

// Tracker is the registry of tracked resources and the subscription table of
// observers. Resources are written by a single Monitor, reads and
// subscriptions are safe from any goroutine.
type Tracker struct {
	resMu     sync.RWMutex
	resources map[string]*Resource
	available atomic.Bool

	subMu sync.RWMutex
	// slots[i] holds the observers of kind 1<<i. Slices are replaced, never
	// modified in place, so a slice taken under subMu stays valid.
	slots        [slotCount][]Observer
	masks        map[Observer]EventKind
	availability []AvailabilityObserver

	mux multiplexer
}

func NewTracker() *Tracker {
	t := &Tracker{
		resources: make(map[string]*Resource),
		masks:     make(map[Observer]EventKind),
	}
	t.mux = multiplexer{t: t}
	return t
}

// Subscribe registers obs for every kind set in mask. Bits that do not name a
// kind are ignored. Subscribing an already registered observer replaces its
// mask. obs must be comparable, pointer receivers are the usual choice.
func (t *Tracker) Subscribe(obs Observer, mask EventKind) {
	mask &= validEventsMask

	t.subMu.Lock()
	defer t.subMu.Unlock()

	t.unsubscribeLocked(obs)
	if mask == 0 {
		return
	}
	for _, kind := range mask.Kinds() {
		i := kind.slot()
		next := make([]Observer, len(t.slots[i]), len(t.slots[i])+1)
		copy(next, t.slots[i])
		t.slots[i] = append(next, obs)
	}
	t.masks[obs] = mask
}

// Unsubscribe removes obs from every kind it was registered for. Events being
// dispatched concurrently may still reach it.
func (t *Tracker) Unsubscribe(obs Observer) {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	t.unsubscribeLocked(obs)
}

func (t *Tracker) unsubscribeLocked(obs Observer) {
	mask, ok := t.masks[obs]
	if !ok {
		return
	}
	delete(t.masks, obs)
	for _, kind := range mask.Kinds() {
		i := kind.slot()
		t.slots[i] = slices.DeleteFunc(slices.Clone(t.slots[i]), func(o Observer) bool { return o == obs })
	}
}

// SubscriptionMask returns the kinds obs is registered for.
func (t *Tracker) SubscriptionMask(obs Observer) EventKind {
	t.subMu.RLock()
	defer t.subMu.RUnlock()
	return t.masks[obs]
}

func (t *Tracker) subscribers(kind EventKind) []Observer {
	t.subMu.RLock()
	defer t.subMu.RUnlock()
	return t.slots[kind.slot()]
}

func (t *Tracker) SubscribeAvailability(obs AvailabilityObserver) {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	if slices.Contains(t.availability, obs) {
		return
	}
	next := make([]AvailabilityObserver, len(t.availability), len(t.availability)+1)
	copy(next, t.availability)
	t.availability = append(next, obs)
}

func (t *Tracker) UnsubscribeAvailability(obs AvailabilityObserver) {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	t.availability = slices.DeleteFunc(
		slices.Clone(t.availability),
		func(o AvailabilityObserver) bool { return o == obs },
	)
}

// IsStateAvailable reports whether the tracked state reflects a complete
// snapshot of the kernel state.
func (t *Tracker) IsStateAvailable() bool { return t.available.Load() }

func (t *Tracker) setAvailable(available bool) {
	t.available.Store(available)

	t.subMu.RLock()
	observers := t.availability
	t.subMu.RUnlock()

	for _, obs := range observers {
		if available {
			obs.StateAvailable()
		} else {
			obs.StateUnavailable()
		}
	}
}

// Resource returns the tracked resource with the given name.
func (t *Tracker) Resource(name string) (*Resource, error) {
	if !t.IsStateAvailable() {
		return nil, ErrStateUnavailable
	}
	rsc, ok := t.lookupResource(name)
	if !ok {
		return nil, fmt.Errorf("resource '%s': %w", name, ErrNotFound)
	}
	return rsc, nil
}

// Resources returns a snapshot of the tracked resources ordered by name.
func (t *Tracker) Resources() ([]*Resource, error) {
	if !t.IsStateAvailable() {
		return nil, ErrStateUnavailable
	}

	t.resMu.RLock()
	res := make([]*Resource, 0, len(t.resources))
	for _, rsc := range t.resources {
		res = append(res, rsc)
	}
	t.resMu.RUnlock()

	slices.SortFunc(res, func(a, b *Resource) int { return strings.Compare(a.name, b.name) })
	return res, nil
}

func (t *Tracker) lookupResource(name string) (*Resource, bool) {
	t.resMu.RLock()
	defer t.resMu.RUnlock()
	rsc, ok := t.resources[name]
	return rsc, ok
}

func (t *Tracker) addResource(rsc *Resource) (*Resource, bool) {
	t.resMu.Lock()
	defer t.resMu.Unlock()
	if existing, ok := t.resources[rsc.name]; ok {
		return existing, false
	}
	t.resources[rsc.name] = rsc
	return rsc, true
}

func (t *Tracker) removeResource(name string) (*Resource, bool) {
	t.resMu.Lock()
	defer t.resMu.Unlock()
	rsc, ok := t.resources[name]
	if ok {
		delete(t.resources, name)
	}
	return rsc, ok
}

// multiplexer fans every entity change out to the observers subscribed to
// its kind.
type multiplexer struct {
	t *Tracker
}

var _ Observer = multiplexer{}

func (m multiplexer) ResourceCreated(rsc *Resource) {
	for _, o := range m.t.subscribers(EventResourceCreated) {
		o.ResourceCreated(rsc)
	}
}

func (m multiplexer) ResourceDestroyed(rsc *Resource) {
	for _, o := range m.t.subscribers(EventResourceDestroyed) {
		o.ResourceDestroyed(rsc)
	}
}

func (m multiplexer) RoleChanged(rsc *Resource, prev, cur Role) {
	for _, o := range m.t.subscribers(EventRoleChanged) {
		o.RoleChanged(rsc, prev, cur)
	}
}

func (m multiplexer) PeerRoleChanged(rsc *Resource, conn *Connection, prev, cur Role) {
	for _, o := range m.t.subscribers(EventPeerRoleChanged) {
		o.PeerRoleChanged(rsc, conn, prev, cur)
	}
}

func (m multiplexer) VolumeCreated(rsc *Resource, conn *Connection, vol *Volume) {
	for _, o := range m.t.subscribers(EventVolumeCreated) {
		o.VolumeCreated(rsc, conn, vol)
	}
}

func (m multiplexer) VolumeDestroyed(rsc *Resource, conn *Connection, vol *Volume) {
	for _, o := range m.t.subscribers(EventVolumeDestroyed) {
		o.VolumeDestroyed(rsc, conn, vol)
	}
}

func (m multiplexer) MinorNumberChanged(rsc *Resource, vol *Volume, prev, cur *int) {
	for _, o := range m.t.subscribers(EventMinorNumberChanged) {
		o.MinorNumberChanged(rsc, vol, prev, cur)
	}
}

func (m multiplexer) DiskStateChanged(rsc *Resource, conn *Connection, vol *Volume, prev, cur DiskState) {
	for _, o := range m.t.subscribers(EventDiskStateChanged) {
		o.DiskStateChanged(rsc, conn, vol, prev, cur)
	}
}

func (m multiplexer) ReplicationStateChanged(rsc *Resource, conn *Connection, vol *Volume, prev, cur ReplState) {
	for _, o := range m.t.subscribers(EventReplicationStateChanged) {
		o.ReplicationStateChanged(rsc, conn, vol, prev, cur)
	}
}

func (m multiplexer) ConnectionCreated(rsc *Resource, conn *Connection) {
	for _, o := range m.t.subscribers(EventConnectionCreated) {
		o.ConnectionCreated(rsc, conn)
	}
}

func (m multiplexer) ConnectionDestroyed(rsc *Resource, conn *Connection) {
	for _, o := range m.t.subscribers(EventConnectionDestroyed) {
		o.ConnectionDestroyed(rsc, conn)
	}
}

func (m multiplexer) ConnectionStateChanged(rsc *Resource, conn *Connection, prev, cur ConnectionState) {
	for _, o := range m.t.subscribers(EventConnectionStateChanged) {
		o.ConnectionStateChanged(rsc, conn, prev, cur)
	}
}

func (m multiplexer) PromotionScoreChanged(rsc *Resource, prev, cur *int) {
	for _, o := range m.t.subscribers(EventPromotionScoreChanged) {
		o.PromotionScoreChanged(rsc, prev, cur)
	}
}

func (m multiplexer) MayPromoteChanged(rsc *Resource, prev, cur *bool) {
	for _, o := range m.t.subscribers(EventMayPromoteChanged) {
		o.MayPromoteChanged(rsc, prev, cur)
	}
}

func (m multiplexer) DonePercentageChanged(rsc *Resource, conn *Connection, vol *Volume, prev, cur *float64) {
	for _, o := range m.t.subscribers(EventDonePercentageChanged) {
		o.DonePercentageChanged(rsc, conn, vol, prev, cur)
	}
}
