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
	"strconv"
	"strings"
)

// Props holds the key:value pairs of a single events2 line.
type Props map[string]string

// events2 property keys
const (
	KeyResourceName   = "name"
	KeyRole           = "role"
	KeySuspended      = "suspended"
	KeyMayPromote     = "may_promote"
	KeyPromotionScore = "promotion_score"

	KeyConnectionName  = "conn-name"
	KeyPeerNodeID      = "peer-node-id"
	KeyConnectionState = "connection"

	KeyVolumeNumber = "volume"
	KeyMinor        = "minor"
	KeyDisk         = "disk"
	KeyPeerDisk     = "peer-disk"
	KeyReplication  = "replication"
	KeyClient       = "client"
	KeyPeerClient   = "peer-client"
	KeyDone         = "done"
)

const (
	valueYes = "yes"
	valueNo  = "no"

	suspendedByUser = "user"
)

func requireProp(props Props, key string) (string, error) {
	v, ok := props[key]
	if !ok {
		return "", fmt.Errorf("%w: '%s'", ErrMissingField, key)
	}
	return v, nil
}

func parseIntProp(key, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%w: '%s' is not an integer: %q", ErrUnparsable, key, value)
	}
	return n, nil
}

func parseBoolProp(key, value string) (bool, error) {
	switch value {
	case valueYes:
		return true, nil
	case valueNo:
		return false, nil
	default:
		return false, fmt.Errorf("%w: '%s' is not yes/no: %q", ErrUnparsable, key, value)
	}
}

// parseSuspended returns true when the suspension reasons include "user".
// The value is either "no" or a comma separated list of reasons.
func parseSuspended(value string) bool {
	for reason := range strings.SplitSeq(value, ",") {
		if reason == suspendedByUser {
			return true
		}
	}
	return false
}

func ptrEqual[T comparable](a, b *T) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func ptrTo[T any](v T) *T { return &v }

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
