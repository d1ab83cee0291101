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

import "github.com/spf13/afero"

// SetFSForTests replaces filesystem for tests and returns a restore function.
func SetFSForTests(testFS afero.Fs) func() {
	prevAfs := afs
	afs = &afero.Afero{Fs: testFS}
	return func() {
		afs = prevAfs
	}
}
