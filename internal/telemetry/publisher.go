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

package telemetry

import (
	"log/slog"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/deckhouse/sds-replicated-volume/images/drbd-events-tracker/internal/drbdstate"
)

const namespace = "drbd_tracker"

const (
	labelResource   = "resource"
	labelConnection = "connection"
	labelVolume     = "volume"
	labelRole       = "role"
	labelDiskState  = "disk_state"
	labelReplState  = "replication_state"
	labelConnState  = "connection_state"
)

// Mask is the set of event kinds the Publisher needs.
const Mask = drbdstate.EventResourceDestroyed |
	drbdstate.EventRoleChanged |
	drbdstate.EventPeerRoleChanged |
	drbdstate.EventVolumeDestroyed |
	drbdstate.EventDiskStateChanged |
	drbdstate.EventReplicationStateChanged |
	drbdstate.EventConnectionDestroyed |
	drbdstate.EventConnectionStateChanged |
	drbdstate.EventPromotionScoreChanged |
	drbdstate.EventMayPromoteChanged |
	drbdstate.EventDonePercentageChanged

type Options struct {
	// ExportUnmanaged publishes resources without a known resource
	// definition too.
	ExportUnmanaged bool
}

// Publisher mirrors the tracked DRBD state into Prometheus gauges. State
// labels carry the current value and the series is set to 1, the previous
// series is removed on every change.
type Publisher struct {
	drbdstate.NoopObserver

	log             *slog.Logger
	exportUnmanaged bool

	role           *prometheus.GaugeVec
	peerRole       *prometheus.GaugeVec
	diskState      *prometheus.GaugeVec
	replState      *prometheus.GaugeVec
	connState      *prometheus.GaugeVec
	promotionScore *prometheus.GaugeVec
	mayPromote     *prometheus.GaugeVec
	resyncDone     *prometheus.GaugeVec
	stateAvailable prometheus.Gauge
}

var _ drbdstate.Observer = &Publisher{}
var _ drbdstate.AvailabilityObserver = &Publisher{}
var _ prometheus.Collector = &Publisher{}

func NewPublisher(log *slog.Logger, opts Options) *Publisher {
	return &Publisher{
		log:             log.With("component", "telemetry"),
		exportUnmanaged: opts.ExportUnmanaged,
		role: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "resource_role",
				Help:      "Role of the resource on this node.",
			}, []string{labelResource, labelRole},
		),
		peerRole: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "peer_role",
				Help:      "Role of the resource on a peer node.",
			}, []string{labelResource, labelConnection, labelRole},
		),
		diskState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "volume_disk_state",
				Help:      "Disk state of a volume, connection is empty for local volumes.",
			}, []string{labelResource, labelConnection, labelVolume, labelDiskState},
		),
		replState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "peer_volume_replication_state",
				Help:      "Replication state of a peer volume.",
			}, []string{labelResource, labelConnection, labelVolume, labelReplState},
		),
		connState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "connection_state",
				Help:      "State of the connection to a peer node.",
			}, []string{labelResource, labelConnection, labelConnState},
		),
		promotionScore: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "promotion_score",
				Help:      "Promotion score of the resource on this node.",
			}, []string{labelResource},
		),
		mayPromote: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "may_promote",
				Help:      "Whether the resource may be promoted on this node (1 = yes).",
			}, []string{labelResource},
		),
		resyncDone: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "resync_done_percent",
				Help:      "Resync progress of a volume in percent, present only while resyncing.",
			}, []string{labelResource, labelConnection, labelVolume},
		),
		stateAvailable: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "state_available",
				Help:      "Whether a complete snapshot of the DRBD state is tracked (1 = yes).",
			},
		),
	}
}

// Attach subscribes the publisher to the tracker.
func (p *Publisher) Attach(tracker *drbdstate.Tracker) {
	tracker.Subscribe(p, Mask)
	tracker.SubscribeAvailability(p)
	p.setAvailable(tracker.IsStateAvailable())
}

// Detach unsubscribes the publisher and drops every series.
func (p *Publisher) Detach(tracker *drbdstate.Tracker) {
	tracker.Unsubscribe(p)
	tracker.UnsubscribeAvailability(p)
	for _, vec := range p.vecs() {
		vec.Reset()
	}
}

func (p *Publisher) Register(reg prometheus.Registerer) error {
	return reg.Register(p)
}

func (p *Publisher) vecs() []*prometheus.GaugeVec {
	return []*prometheus.GaugeVec{
		p.role, p.peerRole, p.diskState, p.replState, p.connState,
		p.promotionScore, p.mayPromote, p.resyncDone,
	}
}

// Describe is part of the prometheus.Collector interface.
func (p *Publisher) Describe(ch chan<- *prometheus.Desc) {
	for _, vec := range p.vecs() {
		vec.Describe(ch)
	}
	p.stateAvailable.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (p *Publisher) Collect(ch chan<- prometheus.Metric) {
	for _, vec := range p.vecs() {
		vec.Collect(ch)
	}
	p.stateAvailable.Collect(ch)
}

func (p *Publisher) exported(rsc *drbdstate.Resource) bool {
	return p.exportUnmanaged || rsc.Managed()
}

func (p *Publisher) StateAvailable()   { p.setAvailable(true) }
func (p *Publisher) StateUnavailable() { p.setAvailable(false) }

func (p *Publisher) setAvailable(available bool) {
	p.stateAvailable.Set(boolToFloat(available))
}

func (p *Publisher) ResourceDestroyed(rsc *drbdstate.Resource) {
	n := p.deleteMatching(prometheus.Labels{labelResource: rsc.Name()}, p.vecs()...)
	p.log.Debug("resource series deleted", "resource", rsc.Name(), "series", n)
}

func (p *Publisher) ConnectionDestroyed(rsc *drbdstate.Resource, conn *drbdstate.Connection) {
	p.deleteMatching(
		prometheus.Labels{labelResource: rsc.Name(), labelConnection: conn.Name()},
		p.peerRole, p.diskState, p.replState, p.connState, p.resyncDone,
	)
}

func (p *Publisher) VolumeDestroyed(rsc *drbdstate.Resource, conn *drbdstate.Connection, vol *drbdstate.Volume) {
	p.deleteMatching(volumeLabels(rsc, conn, vol), p.diskState, p.replState, p.resyncDone)
}

func (p *Publisher) RoleChanged(rsc *drbdstate.Resource, _, cur drbdstate.Role) {
	if !p.exported(rsc) || rsc.SuppressRoleNotifications() {
		return
	}
	p.setState(p.role, prometheus.Labels{labelResource: rsc.Name()}, labelRole, cur.String())
}

func (p *Publisher) PeerRoleChanged(
	rsc *drbdstate.Resource,
	conn *drbdstate.Connection,
	_, cur drbdstate.Role,
) {
	if !p.exported(rsc) || rsc.SuppressRoleNotifications() {
		return
	}
	p.setState(
		p.peerRole,
		prometheus.Labels{labelResource: rsc.Name(), labelConnection: conn.Name()},
		labelRole, cur.String(),
	)
}

func (p *Publisher) DiskStateChanged(
	rsc *drbdstate.Resource,
	conn *drbdstate.Connection,
	vol *drbdstate.Volume,
	_, cur drbdstate.DiskState,
) {
	if !p.exported(rsc) {
		return
	}
	p.setState(p.diskState, volumeLabels(rsc, conn, vol), labelDiskState, cur.String())
}

func (p *Publisher) ReplicationStateChanged(
	rsc *drbdstate.Resource,
	conn *drbdstate.Connection,
	vol *drbdstate.Volume,
	_, cur drbdstate.ReplState,
) {
	if !p.exported(rsc) {
		return
	}
	p.setState(p.replState, volumeLabels(rsc, conn, vol), labelReplState, cur.String())
}

func (p *Publisher) ConnectionStateChanged(
	rsc *drbdstate.Resource,
	conn *drbdstate.Connection,
	_, cur drbdstate.ConnectionState,
) {
	if !p.exported(rsc) || rsc.SuppressOfflineNotifications() {
		return
	}
	p.setState(
		p.connState,
		prometheus.Labels{labelResource: rsc.Name(), labelConnection: conn.Name()},
		labelConnState, cur.String(),
	)
}

func (p *Publisher) PromotionScoreChanged(rsc *drbdstate.Resource, _, cur *int) {
	if !p.exported(rsc) {
		return
	}
	if cur == nil {
		p.promotionScore.DeleteLabelValues(rsc.Name())
		return
	}
	p.promotionScore.WithLabelValues(rsc.Name()).Set(float64(*cur))
}

func (p *Publisher) MayPromoteChanged(rsc *drbdstate.Resource, _, cur *bool) {
	if !p.exported(rsc) {
		return
	}
	if cur == nil {
		p.mayPromote.DeleteLabelValues(rsc.Name())
		return
	}
	p.mayPromote.WithLabelValues(rsc.Name()).Set(boolToFloat(*cur))
}

func (p *Publisher) DonePercentageChanged(
	rsc *drbdstate.Resource,
	conn *drbdstate.Connection,
	vol *drbdstate.Volume,
	_, cur *float64,
) {
	if !p.exported(rsc) {
		return
	}
	labels := volumeLabels(rsc, conn, vol)
	if cur == nil {
		p.resyncDone.Delete(labels)
		return
	}
	p.resyncDone.With(labels).Set(*cur)
}

// setState replaces the series identified by id with a single series whose
// stateLabel is value.
func (p *Publisher) setState(vec *prometheus.GaugeVec, id prometheus.Labels, stateLabel, value string) {
	vec.DeletePartialMatch(id)
	labels := make(prometheus.Labels, len(id)+1)
	for k, v := range id {
		labels[k] = v
	}
	labels[stateLabel] = value
	vec.With(labels).Set(1)
}

func (p *Publisher) deleteMatching(labels prometheus.Labels, vecs ...*prometheus.GaugeVec) int {
	var n int
	for _, vec := range vecs {
		n += vec.DeletePartialMatch(labels)
	}
	return n
}

func volumeLabels(rsc *drbdstate.Resource, conn *drbdstate.Connection, vol *drbdstate.Volume) prometheus.Labels {
	var connName string
	if conn != nil {
		connName = conn.Name()
	}
	return prometheus.Labels{
		labelResource:   rsc.Name(),
		labelConnection: connName,
		labelVolume:     strconv.Itoa(vol.Number()),
	}
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
