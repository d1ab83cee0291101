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

// Role is the role of a resource on this node or on a peer.
type Role int

const (
	RoleUnknown Role = iota
	RolePrimary
	RoleSecondary
)

var roleLabels = []string{
	RoleUnknown:   "Unknown",
	RolePrimary:   "Primary",
	RoleSecondary: "Secondary",
}

func (r Role) String() string { return label(roleLabels, r) }

// ParseRole maps an events2 role label, unrecognized labels become RoleUnknown.
func ParseRole(s string) Role { return parseLabel(roleLabels, s, RoleUnknown) }

// ConnectionState is the state of the link to a peer node.
type ConnectionState int

const (
	ConnectionStandAlone ConnectionState = iota
	ConnectionDisconnecting
	ConnectionUnconnected
	ConnectionTimeout
	ConnectionBrokenPipe
	ConnectionNetworkFailure
	ConnectionProtocolError
	ConnectionConnecting
	ConnectionTearDown
	ConnectionConnected
	ConnectionUnknown
)

var connectionStateLabels = []string{
	ConnectionStandAlone:     "StandAlone",
	ConnectionDisconnecting:  "Disconnecting",
	ConnectionUnconnected:    "Unconnected",
	ConnectionTimeout:        "Timeout",
	ConnectionBrokenPipe:     "BrokenPipe",
	ConnectionNetworkFailure: "NetworkFailure",
	ConnectionProtocolError:  "ProtocolError",
	ConnectionConnecting:     "Connecting",
	ConnectionTearDown:       "TearDown",
	ConnectionConnected:      "Connected",
	ConnectionUnknown:        "Unknown",
}

func (s ConnectionState) String() string { return label(connectionStateLabels, s) }

func ParseConnectionState(s string) ConnectionState {
	return parseLabel(connectionStateLabels, s, ConnectionUnknown)
}

// DiskState describes how current the data of a volume is. Values are ordered
// from "no usable data" to "current data", Unknown sorts last.
type DiskState int

const (
	DiskDiskless DiskState = iota
	DiskAttaching
	DiskDetaching
	DiskFailed
	DiskNegotiating
	DiskInconsistent
	DiskOutdated
	DiskDUnknown
	DiskConsistent
	DiskUpToDate
	DiskUnknown
)

var diskStateLabels = []string{
	DiskDiskless:     "Diskless",
	DiskAttaching:    "Attaching",
	DiskDetaching:    "Detaching",
	DiskFailed:       "Failed",
	DiskNegotiating:  "Negotiating",
	DiskInconsistent: "Inconsistent",
	DiskOutdated:     "Outdated",
	DiskDUnknown:     "DUnknown",
	DiskConsistent:   "Consistent",
	DiskUpToDate:     "UpToDate",
	DiskUnknown:      "Unknown",
}

func (s DiskState) String() string { return label(diskStateLabels, s) }

func ParseDiskState(s string) DiskState { return parseLabel(diskStateLabels, s, DiskUnknown) }

// ReplState is the replication state of a peer device.
type ReplState int

const (
	ReplOff ReplState = iota
	ReplEstablished
	ReplStartingSyncS
	ReplStartingSyncT
	ReplWFBitMapS
	ReplWFBitMapT
	ReplWFSyncUUID
	ReplSyncSource
	ReplSyncTarget
	ReplPausedSyncS
	ReplPausedSyncT
	ReplVerifyS
	ReplVerifyT
	ReplAhead
	ReplBehind
	ReplUnknown
)

var replStateLabels = []string{
	ReplOff:           "Off",
	ReplEstablished:   "Established",
	ReplStartingSyncS: "StartingSyncS",
	ReplStartingSyncT: "StartingSyncT",
	ReplWFBitMapS:     "WFBitMapS",
	ReplWFBitMapT:     "WFBitMapT",
	ReplWFSyncUUID:    "WFSyncUUID",
	ReplSyncSource:    "SyncSource",
	ReplSyncTarget:    "SyncTarget",
	ReplPausedSyncS:   "PausedSyncS",
	ReplPausedSyncT:   "PausedSyncT",
	ReplVerifyS:       "VerifyS",
	ReplVerifyT:       "VerifyT",
	ReplAhead:         "Ahead",
	ReplBehind:        "Behind",
	ReplUnknown:       "Unknown",
}

func (s ReplState) String() string { return label(replStateLabels, s) }

func ParseReplState(s string) ReplState { return parseLabel(replStateLabels, s, ReplUnknown) }

// IsSyncing reports whether the state indicates an active or paused resync.
func (s ReplState) IsSyncing() bool {
	switch s {
	case ReplStartingSyncS, ReplStartingSyncT,
		ReplWFBitMapS, ReplWFBitMapT,
		ReplWFSyncUUID,
		ReplSyncSource, ReplSyncTarget,
		ReplPausedSyncS, ReplPausedSyncT:
		return true
	default:
		return false
	}
}

func label[T ~int](labels []string, v T) string {
	if int(v) < 0 || int(v) >= len(labels) {
		return "Unknown"
	}
	return labels[v]
}

func parseLabel[T ~int](labels []string, s string, unknown T) T {
	for i, l := range labels {
		if l == s {
			return T(i)
		}
	}
	return unknown
}
