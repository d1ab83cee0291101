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
	"cmp"
	"fmt"
	"slices"
	"strconv"
	"sync"
)

const (
	MinVolumeNumber = 0
	MaxVolumeNumber = 65535
)

// Volume is a numbered sub-device of a resource. Local volumes belong to the
// resource itself, peer volumes belong to a connection and describe the
// peer's replica.
type Volume struct {
	resource   *Resource
	connection *Connection
	number     int

	mu        sync.RWMutex
	minor     *int
	diskState DiskState
	replState ReplState
	client    *bool
	done      *float64
}

// NewVolumeFromProps builds a volume from a device (conn == nil) or
// peer-device event. Only the volume number is required.
func NewVolumeFromProps(rsc *Resource, conn *Connection, props Props) (*Volume, error) {
	raw, err := requireProp(props, KeyVolumeNumber)
	if err != nil {
		return nil, err
	}
	nr, err := parseIntProp(KeyVolumeNumber, raw)
	if err != nil {
		return nil, err
	}
	if nr < MinVolumeNumber || nr > MaxVolumeNumber {
		return nil, fmt.Errorf(
			"%w: volume number %d not in range [%d, %d]",
			ErrOutOfRange, nr, MinVolumeNumber, MaxVolumeNumber,
		)
	}
	return &Volume{
		resource:   rsc,
		connection: conn,
		number:     nr,
		diskState:  DiskUnknown,
		replState:  ReplUnknown,
	}, nil
}

func (v *Volume) Resource() *Resource { return v.resource }

// Connection returns the owning connection, nil for local volumes.
func (v *Volume) Connection() *Connection { return v.connection }

func (v *Volume) IsPeer() bool { return v.connection != nil }

func (v *Volume) Number() int { return v.number }

// Minor returns the device minor number. It is never set for peer volumes.
func (v *Volume) Minor() *int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return clonePtr(v.minor)
}

func (v *Volume) DiskState() DiskState {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.diskState
}

func (v *Volume) ReplState() ReplState {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.replState
}

func (v *Volume) Client() *bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return clonePtr(v.client)
}

// DonePercentage returns the resync progress in percent, nil when no resync
// is reported.
func (v *Volume) DonePercentage() *float64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return clonePtr(v.done)
}

func (v *Volume) String() string {
	if v.connection != nil {
		return fmt.Sprintf("%s/%s/%d", v.resource.Name(), v.connection.Name(), v.number)
	}
	return fmt.Sprintf("%s/%d", v.resource.Name(), v.number)
}

type volumeUpdate struct {
	minor     *int
	hasMinor  bool
	diskState *DiskState
	replState *ReplState
	client    *bool
	done      *float64
}

func (v *Volume) parseUpdate(props Props) (volumeUpdate, error) {
	var u volumeUpdate

	if raw, ok := props[KeyMinor]; ok && v.connection == nil {
		minor, err := parseIntProp(KeyMinor, raw)
		if err != nil {
			return u, err
		}
		u.minor, u.hasMinor = &minor, true
	}

	if raw, ok := props[KeyDisk]; ok {
		u.diskState = ptrTo(ParseDiskState(raw))
	} else if raw, ok := props[KeyPeerDisk]; ok && v.connection != nil {
		u.diskState = ptrTo(ParseDiskState(raw))
	}

	if raw, ok := props[KeyReplication]; ok {
		u.replState = ptrTo(ParseReplState(raw))
	}

	raw, ok := props[KeyClient]
	if !ok {
		raw, ok = props[KeyPeerClient]
	}
	if ok {
		client, err := parseBoolProp(KeyClient, raw)
		if err != nil {
			return u, err
		}
		u.client = &client
	}

	if raw, ok := props[KeyDone]; ok {
		done, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return u, fmt.Errorf("%w: '%s' is not a number: %q", ErrUnparsable, KeyDone, raw)
		}
		if done < 0 || done > 100 {
			return u, fmt.Errorf("%w: '%s' %v not in range [0, 100]", ErrOutOfRange, KeyDone, done)
		}
		u.done = &done
	}

	return u, nil
}

// Update applies the properties of a device or peer-device event and
// notifies obs about every attribute whose value changed. Absent properties
// keep their value, except "done" which is cleared when absent.
func (v *Volume) Update(props Props, obs Observer) error {
	u, err := v.parseUpdate(props)
	if err != nil {
		return fmt.Errorf("updating volume %s: %w", v, err)
	}

	var notify []func()

	v.mu.Lock()
	if u.hasMinor && !ptrEqual(v.minor, u.minor) {
		prev := v.minor
		v.minor = u.minor
		notify = append(notify, func() { obs.MinorNumberChanged(v.resource, v, prev, u.minor) })
	}
	if u.diskState != nil && v.diskState != *u.diskState {
		prev, cur := v.diskState, *u.diskState
		v.diskState = cur
		notify = append(notify, func() { obs.DiskStateChanged(v.resource, v.connection, v, prev, cur) })
	}
	if u.replState != nil && v.replState != *u.replState {
		prev, cur := v.replState, *u.replState
		v.replState = cur
		notify = append(notify, func() { obs.ReplicationStateChanged(v.resource, v.connection, v, prev, cur) })
	}
	if u.client != nil {
		v.client = u.client
	}
	if !ptrEqual(v.done, u.done) {
		prev := v.done
		v.done = u.done
		notify = append(notify, func() { obs.DonePercentageChanged(v.resource, v.connection, v, prev, u.done) })
	}
	v.mu.Unlock()

	for _, n := range notify {
		n()
	}
	return nil
}

// volumeMap is a volume container keyed by volume number.
type volumeMap struct {
	mu      sync.RWMutex
	volumes map[int]*Volume
}

func (m *volumeMap) get(nr int) (*Volume, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	vol, ok := m.volumes[nr]
	return vol, ok
}

// add stores vol unless its number is taken, and returns the stored volume
// together with whether vol was added.
func (m *volumeMap) add(vol *Volume) (*Volume, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.volumes[vol.number]; ok {
		return existing, false
	}
	if m.volumes == nil {
		m.volumes = make(map[int]*Volume)
	}
	m.volumes[vol.number] = vol
	return vol, true
}

func (m *volumeMap) remove(nr int) (*Volume, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	vol, ok := m.volumes[nr]
	if ok {
		delete(m.volumes, nr)
	}
	return vol, ok
}

func (m *volumeMap) list() []*Volume {
	m.mu.RLock()
	res := make([]*Volume, 0, len(m.volumes))
	for _, vol := range m.volumes {
		res = append(res, vol)
	}
	m.mu.RUnlock()

	slices.SortFunc(res, func(a, b *Volume) int { return cmp.Compare(a.number, b.number) })
	return res
}
