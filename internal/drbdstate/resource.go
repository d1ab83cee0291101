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

const maxResourceNameLength = 48

// ResourceDefinitionLookup tells whether a resource is managed by the
// control plane, as opposed to a resource created by hand with drbdsetup.
type ResourceDefinitionLookup interface {
	IsManaged(name string) bool
}

// ValidateResourceName checks name against the resource naming rules: 1 to
// 48 characters, starting with a letter or '_', followed by letters, digits,
// '_' or '-'.
func ValidateResourceName(name string) error {
	if name == "" || len(name) > maxResourceNameLength {
		return fmt.Errorf("resource name %q: length must be in range [1, %d]", name, maxResourceNameLength)
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && (r == '-' || r >= '0' && r <= '9'):
		default:
			return fmt.Errorf("resource name %q: invalid character %q at position %d", name, r, i)
		}
	}
	return nil
}

// Resource is a DRBD resource as seen on this node.
type Resource struct {
	name      string
	nameValid bool
	managed   bool

	suppressRole    atomic.Bool
	suppressOffline atomic.Bool

	mu             sync.RWMutex
	role           Role
	suspendedUser  *bool
	mayPromote     *bool
	promotionScore *int

	connMu      sync.RWMutex
	connections map[string]*Connection

	volumes volumeMap
}

// NewResourceFromProps builds a resource from a resource event. Only the name
// is required. lookup may be nil, in which case the resource is not managed.
func NewResourceFromProps(props Props, lookup ResourceDefinitionLookup) (*Resource, error) {
	name, err := requireProp(props, KeyResourceName)
	if err != nil {
		return nil, err
	}
	return &Resource{
		name:        name,
		nameValid:   ValidateResourceName(name) == nil,
		managed:     lookup != nil && lookup.IsManaged(name),
		role:        RoleUnknown,
		connections: make(map[string]*Connection),
	}, nil
}

func (r *Resource) Name() string { return r.name }

// NameValid reports whether the name follows the resource naming rules.
// Resources with invalid names are tracked all the same.
func (r *Resource) NameValid() bool { return r.nameValid }

// Managed reports whether a resource definition existed for this resource
// when it was first seen.
func (r *Resource) Managed() bool { return r.managed }

func (r *Resource) Role() Role {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.role
}

// SuspendedUser reports whether I/O is suspended by the user, nil when
// unknown.
func (r *Resource) SuspendedUser() *bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return clonePtr(r.suspendedUser)
}

func (r *Resource) MayPromote() *bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return clonePtr(r.mayPromote)
}

func (r *Resource) PromotionScore() *int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return clonePtr(r.promotionScore)
}

func (r *Resource) SuppressRoleNotifications() bool { return r.suppressRole.Load() }

func (r *Resource) SetSuppressRoleNotifications(v bool) { r.suppressRole.Store(v) }

func (r *Resource) SuppressOfflineNotifications() bool { return r.suppressOffline.Load() }

func (r *Resource) SetSuppressOfflineNotifications(v bool) { r.suppressOffline.Store(v) }

// Connection returns the connection with the given peer name.
func (r *Resource) Connection(name string) (*Connection, bool) {
	r.connMu.RLock()
	defer r.connMu.RUnlock()
	conn, ok := r.connections[name]
	return conn, ok
}

// Connections returns a snapshot of the connections ordered by name.
func (r *Resource) Connections() []*Connection {
	r.connMu.RLock()
	res := make([]*Connection, 0, len(r.connections))
	for _, conn := range r.connections {
		res = append(res, conn)
	}
	r.connMu.RUnlock()

	slices.SortFunc(res, func(a, b *Connection) int { return strings.Compare(a.name, b.name) })
	return res
}

// Volume returns the local volume with the given number.
func (r *Resource) Volume(nr int) (*Volume, bool) { return r.volumes.get(nr) }

// Volumes returns a snapshot of the local volumes ordered by number.
func (r *Resource) Volumes() []*Volume { return r.volumes.list() }

func (r *Resource) String() string { return r.name }

func (r *Resource) addConnection(conn *Connection) (*Connection, bool) {
	r.connMu.Lock()
	defer r.connMu.Unlock()
	if existing, ok := r.connections[conn.name]; ok {
		return existing, false
	}
	r.connections[conn.name] = conn
	return conn, true
}

func (r *Resource) removeConnection(name string) (*Connection, bool) {
	r.connMu.Lock()
	defer r.connMu.Unlock()
	conn, ok := r.connections[name]
	if ok {
		delete(r.connections, name)
	}
	return conn, ok
}

// Update applies the properties of a resource event.
func (r *Resource) Update(props Props, obs Observer) error {
	var (
		role           *Role
		suspendedUser  *bool
		mayPromote     *bool
		promotionScore *int
	)
	if raw, ok := props[KeyRole]; ok {
		role = ptrTo(ParseRole(raw))
	}
	if raw, ok := props[KeySuspended]; ok {
		suspendedUser = ptrTo(parseSuspended(raw))
	}
	if raw, ok := props[KeyMayPromote]; ok {
		v, err := parseBoolProp(KeyMayPromote, raw)
		if err != nil {
			return fmt.Errorf("updating resource %s: %w", r.name, err)
		}
		mayPromote = &v
	}
	if raw, ok := props[KeyPromotionScore]; ok {
		v, err := parseIntProp(KeyPromotionScore, raw)
		if err != nil {
			return fmt.Errorf("updating resource %s: %w", r.name, err)
		}
		promotionScore = &v
	}

	var notify []func()

	r.mu.Lock()
	if role != nil && r.role != *role {
		prev, cur := r.role, *role
		r.role = cur
		notify = append(notify, func() { obs.RoleChanged(r, prev, cur) })
	}
	if suspendedUser != nil {
		r.suspendedUser = suspendedUser
	}
	if mayPromote != nil && !ptrEqual(r.mayPromote, mayPromote) {
		prev := r.mayPromote
		r.mayPromote = mayPromote
		notify = append(notify, func() { obs.MayPromoteChanged(r, prev, clonePtr(mayPromote)) })
	}
	if promotionScore != nil && !ptrEqual(r.promotionScore, promotionScore) {
		prev := r.promotionScore
		r.promotionScore = promotionScore
		notify = append(notify, func() { obs.PromotionScoreChanged(r, prev, clonePtr(promotionScore)) })
	}
	r.mu.Unlock()

	for _, n := range notify {
		n()
	}
	return nil
}
