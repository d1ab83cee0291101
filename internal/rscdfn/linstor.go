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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	lapi "github.com/LINBIT/golinstor/client"
	u "github.com/deckhouse/sds-common-lib/utils"
	"golang.org/x/time/rate"
	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/client-go/util/retry"
	"sigs.k8s.io/controller-runtime/pkg/manager"
)

const (
	DefaultRefreshInterval = 30 * time.Second
	UserAgent              = "drbd-events-tracker"
)

var ErrNotSynced = errors.New("resource definitions not synced yet")

// Lister is the subset of the LINSTOR client used by the cache,
// implemented by lapi.ResourceDefinitionProvider.
type Lister interface {
	GetAll(ctx context.Context, request lapi.RDGetAllRequest) ([]lapi.ResourceDefinitionWithVolumeDefinition, error)
}

// LinstorCache is a Lookup backed by the resource definitions of a LINSTOR
// controller, refreshed periodically. Until the first successful refresh
// nothing is managed.
type LinstorCache struct {
	log      *slog.Logger
	lister   Lister
	interval time.Duration
	backoff  wait.Backoff
	set      *Set
	synced   atomic.Bool
}

var _ Lookup = &LinstorCache{}

func NewLinstorCache(log *slog.Logger, lister Lister, interval time.Duration) *LinstorCache {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	return &LinstorCache{
		log:      log.With("component", "rscdfn"),
		lister:   lister,
		interval: interval,
		backoff: wait.Backoff{
			Steps:    5,
			Duration: 200 * time.Millisecond,
			Factor:   2.0,
			Cap:      5 * time.Second,
			Jitter:   0.1,
		},
		set: NewSet(),
	}
}

func (c *LinstorCache) IsManaged(name string) bool { return c.set.IsManaged(name) }

// Synced reports whether at least one refresh succeeded.
func (c *LinstorCache) Synced() bool { return c.synced.Load() }

// Healthz is a healthz.Checker reporting ErrNotSynced before the first
// successful refresh.
func (c *LinstorCache) Healthz(_ *http.Request) error {
	if !c.Synced() {
		return ErrNotSynced
	}
	return nil
}

// Refresh reloads the resource definitions, retrying transient failures.
func (c *LinstorCache) Refresh(ctx context.Context) error {
	var rds []lapi.ResourceDefinitionWithVolumeDefinition
	err := retry.OnError(
		c.backoff,
		func(_ error) bool {
			return ctx.Err() == nil
		},
		func() error {
			var err error
			rds, err = c.lister.GetAll(ctx, lapi.RDGetAllRequest{})
			return err
		},
	)
	if err != nil {
		return fmt.Errorf("listing resource definitions: %w", err)
	}

	names := make([]string, 0, len(rds))
	for _, rd := range rds {
		names = append(names, rd.Name)
	}
	added, removed := c.set.Replace(names)
	c.synced.Store(true)

	if added > 0 || removed > 0 {
		c.log.Info("resource definitions refreshed", "total", len(names), "added", added, "removed", removed)
	} else {
		c.log.Debug("resource definitions unchanged", "total", len(names))
	}
	return nil
}

// Run refreshes the cache every interval until ctx is done. Failed refreshes
// keep the previous content.
func (c *LinstorCache) Run(ctx context.Context) error {
	wait.UntilWithContext(ctx, func(ctx context.Context) {
		if err := c.Refresh(ctx); err != nil && ctx.Err() == nil {
			_ = u.LogError(c.log, err)
		}
	}, c.interval)
	return nil
}

// Runnable adapts the cache to the controller-runtime manager.
func (c *LinstorCache) Runnable() manager.Runnable {
	return &runnable{c}
}

type runnable struct{ c *LinstorCache }

var _ manager.LeaderElectionRunnable = &runnable{}

func (r *runnable) Start(ctx context.Context) error { return r.c.Run(ctx) }

func (r *runnable) NeedLeaderElection() bool { return false }

// ClientOptions configures the LINSTOR API client.
type ClientOptions struct {
	// Endpoint is the controller URL, the client default is used when empty.
	Endpoint string
	// RPS limits requests per second, unlimited when not positive.
	RPS   float64
	Burst int
}

// NewClient creates a LINSTOR API client logging through log.
func NewClient(log *slog.Logger, opts ClientOptions) (*lapi.Client, error) {
	limit := rate.Limit(opts.RPS)
	if limit <= 0 {
		limit = rate.Inf
	}

	linstorOpts := []lapi.Option{
		lapi.Limit(limit, opts.Burst),
		lapi.UserAgent(UserAgent),
		lapi.Log(&clientLogger{log: log.With("component", "linstor-client")}),
	}

	if opts.Endpoint != "" {
		endpoint, err := url.Parse(opts.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("parsing linstor endpoint %q: %w", opts.Endpoint, err)
		}
		linstorOpts = append(linstorOpts, lapi.BaseURL(endpoint))
	}

	lc, err := lapi.NewClient(linstorOpts...)
	if err != nil {
		return nil, fmt.Errorf("creating linstor client: %w", err)
	}
	return lc, nil
}

// clientLogger implements lapi.LeveledLogger.
type clientLogger struct {
	log *slog.Logger
}

var _ lapi.LeveledLogger = &clientLogger{}

func (l *clientLogger) Errorf(format string, args ...any) { l.log.Error(fmt.Sprintf(format, args...)) }
func (l *clientLogger) Infof(format string, args ...any)  { l.log.Info(fmt.Sprintf(format, args...)) }
func (l *clientLogger) Debugf(format string, args ...any) { l.log.Debug(fmt.Sprintf(format, args...)) }
func (l *clientLogger) Warnf(format string, args ...any)  { l.log.Warn(fmt.Sprintf(format, args...)) }
