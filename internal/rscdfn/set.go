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

package rscdfn

import (
	"slices"
	"strings"
	"sync"
)

// Lookup answers whether a resource name belongs to a resource definition
// known to the cluster.
type Lookup interface {
	IsManaged(name string) bool
}

// Set is a static, concurrency safe Lookup. Names are compared case
// insensitively, as LINSTOR does.
type Set struct {
	mu    sync.RWMutex
	names map[string]struct{}
}

var _ Lookup = &Set{}

func NewSet(names ...string) *Set {
	s := &Set{names: make(map[string]struct{}, len(names))}
	for _, name := range names {
		s.names[key(name)] = struct{}{}
	}
	return s
}

func (s *Set) IsManaged(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.names[key(name)]
	return ok
}

func (s *Set) Add(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names[key(name)] = struct{}{}
}

func (s *Set) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.names, key(name))
}

// Replace swaps the whole content of the set. It returns the number of names
// added and removed compared to the previous content.
func (s *Set) Replace(names []string) (added, removed int) {
	next := make(map[string]struct{}, len(names))
	for _, name := range names {
		next[key(name)] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range next {
		if _, ok := s.names[k]; !ok {
			added++
		}
	}
	for k := range s.names {
		if _, ok := next[k]; !ok {
			removed++
		}
	}
	s.names = next
	return added, removed
}

func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.names)
}

// Names returns the lower-cased names in sorted order.
func (s *Set) Names() []string {
	s.mu.RLock()
	res := make([]string, 0, len(s.names))
	for k := range s.names {
		res = append(res, k)
	}
	s.mu.RUnlock()
	slices.Sort(res)
	return res
}

func key(name string) string { return strings.ToLower(name) }
