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

package utils

import (
	"errors"
	"fmt"
)

// RecoverPanicToErr turns a panic into an error joined with *err. It must be
// deferred directly.
func RecoverPanicToErr(err *error) {
	v := recover()
	if v == nil {
		return
	}

	var verr error
	switch vt := v.(type) {
	case string:
		verr = errors.New(vt)
	case error:
		verr = vt
	default:
		verr = errors.New(fmt.Sprint(v))
	}

	verr = errors.Join(*err, verr)

	*err = fmt.Errorf("recovered from panic: %w", verr)
}
