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

package drbdversion

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

var (
	ErrVersionNotFound = errors.New("DRBD version not found")
	ErrInvalidVersion  = errors.New("invalid DRBD version")
)

var (
	procVersionRe = regexp.MustCompile(`^version:\s*(\d+\.\d+\.\d+)`)
	versionRe     = regexp.MustCompile(`^(\d+)\.(\d+)\.(\d+)$`)
)

// Version is a DRBD kernel module version.
type Version struct {
	Major, Minor, Patch int
}

func (v Version) String() string { return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch) }

// Less reports whether v is older than o.
func (v Version) Less(o Version) bool {
	if v.Major != o.Major {
		return v.Major < o.Major
	}
	if v.Minor != o.Minor {
		return v.Minor < o.Minor
	}
	return v.Patch < o.Patch
}

// ParseVersion parses "MAJOR.MINOR.PATCH".
func ParseVersion(s string) (Version, error) {
	m := versionRe.FindStringSubmatch(s)
	if m == nil {
		return Version{}, fmt.Errorf("%w: %q", ErrInvalidVersion, s)
	}
	var (
		v   Version
		err error
	)
	for i, dst := range []*int{&v.Major, &v.Minor, &v.Patch} {
		if *dst, err = strconv.Atoi(m[i+1]); err != nil {
			return Version{}, fmt.Errorf("%w: %q: %w", ErrInvalidVersion, s, err)
		}
	}
	return v, nil
}

// ReadKernelVersion reads the version of the loaded DRBD module from the
// "version:" line of procPath, usually /proc/drbd.
func ReadKernelVersion(procPath string) (Version, error) {
	data, err := afs.ReadFile(procPath)
	if err != nil {
		return Version{}, fmt.Errorf("reading %s: %w", procPath, err)
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		if m := procVersionRe.FindStringSubmatch(scanner.Text()); m != nil {
			return ParseVersion(m[1])
		}
	}
	if err := scanner.Err(); err != nil {
		return Version{}, fmt.Errorf("reading %s: %w", procPath, err)
	}
	return Version{}, fmt.Errorf("%w in %s", ErrVersionNotFound, procPath)
}
