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

package main

import (
	"fmt"
	"log/slog"
	"net/http"

	"sigs.k8s.io/controller-runtime/pkg/manager"
	crmetrics "sigs.k8s.io/controller-runtime/pkg/metrics"

	u "github.com/deckhouse/sds-common-lib/utils"
	"github.com/deckhouse/sds-replicated-volume/images/drbd-events-tracker/internal/drbdstate"
	"github.com/deckhouse/sds-replicated-volume/images/drbd-events-tracker/internal/drbdversion"
	"github.com/deckhouse/sds-replicated-volume/images/drbd-events-tracker/internal/env"
	"github.com/deckhouse/sds-replicated-volume/images/drbd-events-tracker/internal/ingest"
	"github.com/deckhouse/sds-replicated-volume/images/drbd-events-tracker/internal/metrics"
	"github.com/deckhouse/sds-replicated-volume/images/drbd-events-tracker/internal/rscdfn"
	"github.com/deckhouse/sds-replicated-volume/images/drbd-events-tracker/internal/telemetry"
	"github.com/deckhouse/sds-replicated-volume/images/drbd-events-tracker/pkg/drbdsetup"
)

func addTracker(mgr manager.Manager, log *slog.Logger, cfg env.Config) error {
	drbdsetup.Command = cfg.DRBDSetupPath()

	lookup, err := newLookup(mgr, log, cfg)
	if err != nil {
		return err
	}

	tracker := drbdstate.NewTracker()
	monitor := drbdstate.NewMonitor(log, tracker, lookup)

	publisher := telemetry.NewPublisher(log, telemetry.Options{
		ExportUnmanaged: cfg.TelemetryExportUnmanaged(),
	})
	if err := publisher.Register(crmetrics.Registry); err != nil {
		return u.LogError(log, fmt.Errorf("registering telemetry: %w", err))
	}
	publisher.Attach(tracker)

	ingestMetrics := metrics.NewIngest()
	if err := ingestMetrics.Register(crmetrics.Registry); err != nil {
		return u.LogError(log, fmt.Errorf("registering ingest metrics: %w", err))
	}

	minVersion, err := drbdversion.ParseVersion(cfg.DRBDMinVersion())
	if err != nil {
		return u.LogError(log, fmt.Errorf("parsing %s: %w", env.DRBDMinVersionEnvVar, err))
	}

	sup := ingest.NewSupervisor(
		log,
		func() ingest.EventSource { return drbdsetup.NewEvents2() },
		monitor,
		ingest.Options{
			QueueCapacity: cfg.EventsQueueCapacity(),
			RestartDelay:  cfg.EventsRestartDelay(),
			Prerequisite: drbdversion.NewWaiter(
				log, cfg.DRBDProcPath(), minVersion, cfg.DRBDVersionPollInterval(),
			),
			Metrics: ingestMetrics,
		},
	)
	if err := mgr.Add(sup.Runnable()); err != nil {
		return u.LogError(log, fmt.Errorf("adding events supervisor: %w", err))
	}

	if err := mgr.AddReadyzCheck("drbd-state", func(_ *http.Request) error {
		if !tracker.IsStateAvailable() {
			return drbdstate.ErrStateUnavailable
		}
		return nil
	}); err != nil {
		return u.LogError(log, fmt.Errorf("AddReadyzCheck: %w", err))
	}

	return nil
}

// newLookup returns the resource definition lookup, backed by LINSTOR when an
// endpoint is configured.
func newLookup(mgr manager.Manager, log *slog.Logger, cfg env.Config) (rscdfn.Lookup, error) {
	if cfg.LinstorEndpoint() == "" {
		log.Info("linstor endpoint not configured, no resource is managed")
		return rscdfn.NewSet(), nil
	}

	lc, err := rscdfn.NewClient(log, rscdfn.ClientOptions{Endpoint: cfg.LinstorEndpoint()})
	if err != nil {
		return nil, u.LogError(log, err)
	}

	cache := rscdfn.NewLinstorCache(log, lc.ResourceDefinitions, cfg.LinstorRDRefreshInterval())
	if err := mgr.Add(cache.Runnable()); err != nil {
		return nil, u.LogError(log, fmt.Errorf("adding resource definition cache: %w", err))
	}
	if err := mgr.AddReadyzCheck("linstor", cache.Healthz); err != nil {
		return nil, u.LogError(log, fmt.Errorf("AddReadyzCheck: %w", err))
	}
	return cache, nil
}
