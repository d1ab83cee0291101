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
	"context"
	"fmt"
	"log/slog"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
)

// Waiter blocks until the loaded DRBD module is at least MinVersion.
type Waiter struct {
	log          *slog.Logger
	procPath     string
	minVersion   Version
	pollInterval time.Duration
}

func NewWaiter(log *slog.Logger, procPath string, minVersion Version, pollInterval time.Duration) *Waiter {
	return &Waiter{
		log:          log.With("component", "drbd-version-waiter"),
		procPath:     procPath,
		minVersion:   minVersion,
		pollInterval: pollInterval,
	}
}

// Wait returns nil as soon as the DRBD version requirement is met, or the
// context error once ctx is done.
func (w *Waiter) Wait(ctx context.Context) error {
	var lastErr string

	err := wait.PollUntilContextCancel(ctx, w.pollInterval, true, func(context.Context) (bool, error) {
		v, err := ReadKernelVersion(w.procPath)
		if err == nil && v.Less(w.minVersion) {
			err = fmt.Errorf("DRBD %s is loaded, waiting for %s", v, w.minVersion)
		}
		if err != nil {
			// log each distinct reason once
			if err.Error() != lastErr {
				lastErr = err.Error()
				w.log.Info("waiting for DRBD", "err", err)
			}
			return false, nil
		}
		w.log.Debug("DRBD is ready", "version", v.String())
		return true, nil
	})
	if err != nil {
		return fmt.Errorf("waiting for DRBD %s: %w", w.minVersion, err)
	}
	return nil
}
