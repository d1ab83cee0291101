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
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// events2 actions
const (
	ActionCreate  = "create"
	ActionChange  = "change"
	ActionDestroy = "destroy"
	ActionExists  = "exists"
)

// events2 object types
const (
	ObjectResource   = "resource"
	ObjectConnection = "connection"
	ObjectVolume     = "device"
	ObjectPeerVolume = "peer-device"
	ObjectEndOfInit  = "-"
)

// Event is a single tokenized events2 line.
type Event struct {
	Action string
	Object string
	Props  Props
}

func (e Event) op() string { return e.Action + " " + e.Object }

// ParseEvent tokenizes an events2 line. ok is false for empty lines. Tokens
// without a colon are dropped.
func ParseEvent(line string) (event Event, ok bool, err error) {
	tokens := strings.Fields(line)
	switch len(tokens) {
	case 0:
		return Event{}, false, nil
	case 1:
		return Event{}, false, fmt.Errorf("%w: event line without an object type: %q", ErrProtocol, line)
	}

	event = Event{
		Action: tokens[0],
		Object: tokens[1],
		Props:  make(Props, len(tokens)-2),
	}
	for _, token := range tokens[2:] {
		if key, value, found := strings.Cut(token, ":"); found {
			event.Props[key] = value
		}
	}
	return event, true, nil
}

// Monitor applies events2 lines to a Tracker.
//
// Until the end of the initial snapshot, events other than "exists" are held
// back and applied in arrival order once the snapshot is complete.
//
// Monitor is not safe for concurrent use, it is driven by a single consumer.
type Monitor struct {
	log     *slog.Logger
	tracker *Tracker
	lookup  ResourceDefinitionLookup

	existsFinished bool
	pending        []Event
}

// NewMonitor returns a monitor feeding tracker. lookup decides which
// resources are managed, it may be nil.
func NewMonitor(log *slog.Logger, tracker *Tracker, lookup ResourceDefinitionLookup) *Monitor {
	return &Monitor{
		log:     log.With("component", "drbd-events-monitor"),
		tracker: tracker,
		lookup:  lookup,
	}
}

// ReceiveLine applies one events2 line. Returned errors wrap either
// ErrConstruction, in which case the event was dropped and the stream stays
// usable, or ErrProtocol, in which case the stream must be restarted.
func (m *Monitor) ReceiveLine(line string) error {
	m.log.Debug("events2", "line", line)

	event, ok, err := ParseEvent(line)
	if err != nil || !ok {
		return err
	}

	// the snapshot ends with either "exists -" or "create -"
	if !m.existsFinished && event.Action != ActionExists && event.Object != ObjectEndOfInit {
		m.pending = append(m.pending, event)
		return nil
	}
	return m.apply(event)
}

// Reinitializing marks the tracked state unavailable while the event stream
// is restarted. Tracked objects are kept, the next snapshot is applied on top
// of them. Events held back from the previous stream are discarded.
func (m *Monitor) Reinitializing() {
	m.pending = nil
	m.tracker.setAvailable(false)
}

// Pending returns the number of events held back until the end of the
// initial snapshot.
func (m *Monitor) Pending() int { return len(m.pending) }

func (m *Monitor) apply(e Event) error {
	switch e.Action {
	case ActionExists, ActionCreate:
		return m.create(e)
	case ActionChange:
		return m.change(e)
	case ActionDestroy:
		return m.destroy(e)
	default:
		// helper calls and other actions are not tracked
		return nil
	}
}

func (m *Monitor) create(e Event) error {
	switch e.Object {
	case ObjectResource:
		return m.createResource(e)
	case ObjectConnection:
		return m.createConnection(e)
	case ObjectVolume:
		return m.createVolume(e)
	case ObjectPeerVolume:
		return m.createPeerVolume(e)
	case ObjectEndOfInit:
		return m.endOfInit()
	default:
		// paths and other objects are not tracked
		return nil
	}
}

func (m *Monitor) change(e Event) error {
	switch e.Object {
	case ObjectResource:
		rsc, err := m.resource(e)
		if err != nil {
			return err
		}
		return m.update(e, rsc.Update)
	case ObjectConnection:
		_, conn, err := m.connection(e)
		if err != nil {
			return err
		}
		return m.update(e, conn.Update)
	case ObjectVolume:
		rsc, err := m.resource(e)
		if err != nil {
			return err
		}
		vol, err := m.volume(e, rsc, nil)
		if err != nil {
			return err
		}
		return m.update(e, vol.Update)
	case ObjectPeerVolume:
		rsc, conn, err := m.connection(e)
		if err != nil {
			return err
		}
		vol, err := m.volume(e, rsc, conn)
		if err != nil {
			return err
		}
		return m.update(e, vol.Update)
	default:
		return nil
	}
}

func (m *Monitor) destroy(e Event) error {
	obs := m.tracker.mux

	switch e.Object {
	case ObjectResource:
		name, err := m.prop(e, KeyResourceName)
		if err != nil {
			return err
		}
		rsc, ok := m.tracker.removeResource(name)
		if !ok {
			return m.nonExistentResource(e, name)
		}
		obs.ResourceDestroyed(rsc)
	case ObjectConnection:
		rsc, err := m.resource(e)
		if err != nil {
			return err
		}
		name, err := m.prop(e, KeyConnectionName)
		if err != nil {
			return err
		}
		conn, ok := rsc.removeConnection(name)
		if !ok {
			return m.nonExistentConnection(e, rsc, name)
		}
		obs.ConnectionDestroyed(rsc, conn)
	case ObjectVolume:
		rsc, err := m.resource(e)
		if err != nil {
			return err
		}
		nr, err := m.volumeNumber(e)
		if err != nil {
			return err
		}
		vol, ok := rsc.volumes.remove(nr)
		if !ok {
			return m.nonExistentVolume(e, rsc, nil, nr)
		}
		obs.VolumeDestroyed(rsc, nil, vol)
	case ObjectPeerVolume:
		rsc, conn, err := m.connection(e)
		if err != nil {
			return err
		}
		nr, err := m.volumeNumber(e)
		if err != nil {
			return err
		}
		vol, ok := conn.volumes.remove(nr)
		if !ok {
			return m.nonExistentVolume(e, rsc, conn, nr)
		}
		obs.VolumeDestroyed(rsc, conn, vol)
	}
	return nil
}

func (m *Monitor) createResource(e Event) error {
	rsc, err := NewResourceFromProps(e.Props, m.lookup)
	if err != nil {
		return m.constructionError(e, err)
	}
	rsc, created := m.tracker.addResource(rsc)
	if created {
		if !rsc.NameValid() {
			m.log.Warn("tracking resource with an invalid name", "resource", rsc.Name())
		}
		m.tracker.mux.ResourceCreated(rsc)
	}
	return m.update(e, rsc.Update)
}

func (m *Monitor) createConnection(e Event) error {
	rsc, err := m.resource(e)
	if err != nil {
		return err
	}
	conn, err := NewConnectionFromProps(rsc, e.Props)
	if err != nil {
		return m.constructionError(e, err)
	}
	conn, created := rsc.addConnection(conn)
	if created {
		m.tracker.mux.ConnectionCreated(rsc, conn)
	}
	return m.update(e, conn.Update)
}

func (m *Monitor) createVolume(e Event) error {
	rsc, err := m.resource(e)
	if err != nil {
		return err
	}
	vol, err := NewVolumeFromProps(rsc, nil, e.Props)
	if err != nil {
		return m.constructionError(e, err)
	}
	vol, created := rsc.volumes.add(vol)
	if created {
		m.tracker.mux.VolumeCreated(rsc, nil, vol)
	}
	return m.update(e, vol.Update)
}

func (m *Monitor) createPeerVolume(e Event) error {
	rsc, conn, err := m.connection(e)
	if err != nil {
		return err
	}
	vol, err := NewVolumeFromProps(rsc, conn, e.Props)
	if err != nil {
		return m.constructionError(e, err)
	}
	vol, created := conn.volumes.add(vol)
	if created {
		m.tracker.mux.VolumeCreated(rsc, conn, vol)
	}
	return m.update(e, vol.Update)
}

func (m *Monitor) endOfInit() error {
	m.tracker.setAvailable(true)
	if m.existsFinished {
		return nil
	}
	m.existsFinished = true

	pending := m.pending
	m.pending = nil

	m.log.Info("initial DRBD state received", "pending", len(pending))

	for _, e := range pending {
		err := m.apply(e)
		switch {
		case err == nil:
		case errors.Is(err, ErrConstruction):
			m.log.Error("dropping event", "err", err)
		default:
			return err
		}
	}
	return nil
}

func (m *Monitor) update(e Event, update func(Props, Observer) error) error {
	if err := update(e.Props, m.tracker.mux); err != nil {
		return fmt.Errorf("%w: event line for operation '%s': %w", ErrProtocol, e.op(), err)
	}
	return nil
}

func (m *Monitor) resource(e Event) (*Resource, error) {
	name, err := m.prop(e, KeyResourceName)
	if err != nil {
		return nil, err
	}
	rsc, ok := m.tracker.lookupResource(name)
	if !ok {
		return nil, m.nonExistentResource(e, name)
	}
	return rsc, nil
}

func (m *Monitor) connection(e Event) (*Resource, *Connection, error) {
	rsc, err := m.resource(e)
	if err != nil {
		return nil, nil, err
	}
	name, err := m.prop(e, KeyConnectionName)
	if err != nil {
		return nil, nil, err
	}
	conn, ok := rsc.Connection(name)
	if !ok {
		return nil, nil, m.nonExistentConnection(e, rsc, name)
	}
	return rsc, conn, nil
}

func (m *Monitor) volume(e Event, rsc *Resource, conn *Connection) (*Volume, error) {
	nr, err := m.volumeNumber(e)
	if err != nil {
		return nil, err
	}
	var (
		vol *Volume
		ok  bool
	)
	if conn == nil {
		vol, ok = rsc.Volume(nr)
	} else {
		vol, ok = conn.Volume(nr)
	}
	if !ok {
		return nil, m.nonExistentVolume(e, rsc, conn, nr)
	}
	return vol, nil
}

func (m *Monitor) prop(e Event, key string) (string, error) {
	v, ok := e.Props[key]
	if !ok {
		return "", fmt.Errorf(
			"%w: event line for operation '%s' does not contain the '%s' argument",
			ErrProtocol, e.op(), key,
		)
	}
	return v, nil
}

func (m *Monitor) volumeNumber(e Event) (int, error) {
	raw, err := m.prop(e, KeyVolumeNumber)
	if err != nil {
		return 0, err
	}
	nr, err := parseIntProp(KeyVolumeNumber, raw)
	if err == nil && (nr < MinVolumeNumber || nr > MaxVolumeNumber) {
		err = fmt.Errorf("%w: %d", ErrOutOfRange, nr)
	}
	if err != nil {
		return 0, fmt.Errorf(
			"%w: event line for operation '%s' contains an invalid volume number: %w",
			ErrProtocol, e.op(), err,
		)
	}
	return nr, nil
}

func (m *Monitor) constructionError(e Event, err error) error {
	return fmt.Errorf("%w: event line for operation '%s': %w", ErrConstruction, e.op(), err)
}

func (m *Monitor) nonExistentResource(e Event, name string) error {
	return fmt.Errorf(
		"%w: event line for operation '%s' references non-existent resource '%s'",
		ErrProtocol, e.op(), name,
	)
}

func (m *Monitor) nonExistentConnection(e Event, rsc *Resource, name string) error {
	return fmt.Errorf(
		"%w: event line for operation '%s' references non-existent connection '%s' of resource '%s'",
		ErrProtocol, e.op(), name, rsc.Name(),
	)
}

func (m *Monitor) nonExistentVolume(e Event, rsc *Resource, conn *Connection, nr int) error {
	if conn == nil {
		return fmt.Errorf(
			"%w: event line for operation '%s' references non-existent volume %d of resource '%s'",
			ErrProtocol, e.op(), nr, rsc.Name(),
		)
	}
	return fmt.Errorf(
		"%w: event line for operation '%s' references non-existent peer-volume %d of connection '%s' of resource '%s'",
		ErrProtocol, e.op(), nr, conn.Name(), rsc.Name(),
	)
}
