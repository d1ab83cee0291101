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

package env

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

const (
	NodeNameEnvVar = "NODE_NAME"

	HealthProbeBindAddressEnvVar = "HEALTH_PROBE_BIND_ADDRESS"
	MetricsPortEnvVar            = "METRICS_BIND_ADDRESS"

	// defaults are different for each app, do not merge them
	DefaultHealthProbeBindAddress = ":4269"
	DefaultMetricsBindAddress     = ":4270"

	DRBDSetupPathEnvVar  = "DRBDSETUP_PATH"
	DefaultDRBDSetupPath = "drbdsetup"

	EventsQueueCapacityEnvVar  = "EVENTS_QUEUE_CAPACITY"
	DefaultEventsQueueCapacity = 10000

	EventsRestartDelayEnvVar  = "EVENTS_RESTART_DELAY"
	DefaultEventsRestartDelay = 5 * time.Second

	DRBDMinVersionEnvVar  = "DRBD_MIN_VERSION"
	DefaultDRBDMinVersion = "9.0.0"

	DRBDProcPathEnvVar  = "DRBD_PROC_PATH"
	DefaultDRBDProcPath = "/proc/drbd"

	DRBDVersionPollIntervalEnvVar  = "DRBD_VERSION_POLL_INTERVAL"
	DefaultDRBDVersionPollInterval = 15 * time.Second

	LinstorEndpointEnvVar = "LINSTOR_ENDPOINT"

	LinstorRDRefreshIntervalEnvVar  = "LINSTOR_RD_REFRESH_INTERVAL"
	DefaultLinstorRDRefreshInterval = 30 * time.Second

	TelemetryExportUnmanagedEnvVar = "TELEMETRY_EXPORT_UNMANAGED"
)

var ErrInvalidConfig = errors.New("invalid config")

type config struct {
	nodeName                 string
	healthProbeBindAddress   string
	metricsBindAddress       string
	drbdSetupPath            string
	eventsQueueCapacity      int
	eventsRestartDelay       time.Duration
	drbdMinVersion           string
	drbdProcPath             string
	drbdVersionPollInterval  time.Duration
	linstorEndpoint          string
	linstorRDRefreshInterval time.Duration
	telemetryExportUnmanaged bool
}

func (c *config) NodeName() string                        { return c.nodeName }
func (c *config) HealthProbeBindAddress() string          { return c.healthProbeBindAddress }
func (c *config) MetricsBindAddress() string              { return c.metricsBindAddress }
func (c *config) DRBDSetupPath() string                   { return c.drbdSetupPath }
func (c *config) EventsQueueCapacity() int                { return c.eventsQueueCapacity }
func (c *config) EventsRestartDelay() time.Duration       { return c.eventsRestartDelay }
func (c *config) DRBDMinVersion() string                  { return c.drbdMinVersion }
func (c *config) DRBDProcPath() string                    { return c.drbdProcPath }
func (c *config) DRBDVersionPollInterval() time.Duration  { return c.drbdVersionPollInterval }
func (c *config) LinstorEndpoint() string                 { return c.linstorEndpoint }
func (c *config) LinstorRDRefreshInterval() time.Duration { return c.linstorRDRefreshInterval }
func (c *config) TelemetryExportUnmanaged() bool          { return c.telemetryExportUnmanaged }

type Config interface {
	NodeName() string
	HealthProbeBindAddress() string
	MetricsBindAddress() string
	DRBDSetupPath() string
	EventsQueueCapacity() int
	EventsRestartDelay() time.Duration
	DRBDMinVersion() string
	DRBDProcPath() string
	DRBDVersionPollInterval() time.Duration
	// LinstorEndpoint is empty when resource definitions are not looked up.
	LinstorEndpoint() string
	LinstorRDRefreshInterval() time.Duration
	TelemetryExportUnmanaged() bool
}

var _ Config = &config{}

func GetConfig() (*config, error) {
	cfg := &config{}

	// node name falls back to the host name
	cfg.nodeName = os.Getenv(NodeNameEnvVar)
	if cfg.nodeName == "" {
		hostName, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("getting hostname: %w", err)
		}
		cfg.nodeName = hostName
	}

	// plain strings
	cfg.healthProbeBindAddress = getString(HealthProbeBindAddressEnvVar, DefaultHealthProbeBindAddress)
	cfg.metricsBindAddress = getString(MetricsPortEnvVar, DefaultMetricsBindAddress)
	cfg.drbdSetupPath = getString(DRBDSetupPathEnvVar, DefaultDRBDSetupPath)
	cfg.drbdMinVersion = getString(DRBDMinVersionEnvVar, DefaultDRBDMinVersion)
	cfg.drbdProcPath = getString(DRBDProcPathEnvVar, DefaultDRBDProcPath)
	cfg.linstorEndpoint = os.Getenv(LinstorEndpointEnvVar)

	// queue
	var err error
	if cfg.eventsQueueCapacity, err = getInt(EventsQueueCapacityEnvVar, DefaultEventsQueueCapacity); err != nil {
		return cfg, err
	}
	if cfg.eventsQueueCapacity < 1 {
		return cfg, fmt.Errorf(
			"%w: %s must be positive, got %d",
			ErrInvalidConfig, EventsQueueCapacityEnvVar, cfg.eventsQueueCapacity,
		)
	}

	// intervals
	if cfg.eventsRestartDelay, err = getDuration(EventsRestartDelayEnvVar, DefaultEventsRestartDelay, false); err != nil {
		return cfg, err
	}
	if cfg.drbdVersionPollInterval, err = getDuration(
		DRBDVersionPollIntervalEnvVar, DefaultDRBDVersionPollInterval, true,
	); err != nil {
		return cfg, err
	}
	if cfg.linstorRDRefreshInterval, err = getDuration(
		LinstorRDRefreshIntervalEnvVar, DefaultLinstorRDRefreshInterval, true,
	); err != nil {
		return cfg, err
	}

	// telemetry
	if v := os.Getenv(TelemetryExportUnmanagedEnvVar); v != "" {
		cfg.telemetryExportUnmanaged, err = strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("%w: parsing %s: %w", ErrInvalidConfig, TelemetryExportUnmanagedEnvVar, err)
		}
	}

	return cfg, nil
}

func getString(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func getInt(name string, def int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: parsing %s: %w", ErrInvalidConfig, name, err)
	}
	return n, nil
}

func getDuration(name string, def time.Duration, positive bool) (time.Duration, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%w: parsing %s: %w", ErrInvalidConfig, name, err)
	}
	if d < 0 || positive && d == 0 {
		return 0, fmt.Errorf("%w: %s out of range: %s", ErrInvalidConfig, name, d)
	}
	return d, nil
}
