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
	"sync"
)

// Connection is the link of a resource to one peer node.
type Connection struct {
	resource   *Resource
	name       string
	peerNodeID int

	mu       sync.RWMutex
	peerRole Role
	state    ConnectionState

	volumes volumeMap
}

// NewConnectionFromProps builds a connection from a connection event.
// conn-name and peer-node-id are required.
func NewConnectionFromProps(rsc *Resource, props Props) (*Connection, error) {
	name, err := requireProp(props, KeyConnectionName)
	if err != nil {
		return nil, err
	}
	raw, err := requireProp(props, KeyPeerNodeID)
	if err != nil {
		return nil, err
	}
	nodeID, err := parseIntProp(KeyPeerNodeID, raw)
	if err != nil {
		return nil, err
	}
	if nodeID < 0 {
		return nil, fmt.Errorf("%w: peer node id %d is negative", ErrOutOfRange, nodeID)
	}
	return &Connection{
		resource:   rsc,
		name:       name,
		peerNodeID: nodeID,
		peerRole:   RoleUnknown,
		state:      ConnectionUnknown,
	}, nil
}

func (c *Connection) Resource() *Resource { return c.resource }

// Name is the peer's connection name, usually its node name.
func (c *Connection) Name() string { return c.name }

func (c *Connection) PeerNodeID() int { return c.peerNodeID }

func (c *Connection) PeerRole() Role {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.peerRole
}

func (c *Connection) State() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Volume returns the peer volume with the given number.
func (c *Connection) Volume(nr int) (*Volume, bool) { return c.volumes.get(nr) }

// Volumes returns a snapshot of the peer volumes ordered by number.
func (c *Connection) Volumes() []*Volume { return c.volumes.list() }

func (c *Connection) String() string { return c.resource.Name() + "/" + c.name }

// Update applies the properties of a connection event.
func (c *Connection) Update(props Props, obs Observer) error {
	var (
		role  *Role
		state *ConnectionState
	)
	if raw, ok := props[KeyRole]; ok {
		role = ptrTo(ParseRole(raw))
	}
	if raw, ok := props[KeyConnectionState]; ok {
		state = ptrTo(ParseConnectionState(raw))
	}

	var notify []func()

	c.mu.Lock()
	if role != nil && c.peerRole != *role {
		prev, cur := c.peerRole, *role
		c.peerRole = cur
		notify = append(notify, func() { obs.PeerRoleChanged(c.resource, c, prev, cur) })
	}
	if state != nil && c.state != *state {
		prev, cur := c.state, *state
		c.state = cur
		notify = append(notify, func() { obs.ConnectionStateChanged(c.resource, c, prev, cur) })
	}
	c.mu.Unlock()

	for _, n := range notify {
		n()
	}
	return nil
}
