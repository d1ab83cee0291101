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

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/deckhouse/sds-replicated-volume/images/drbd-events-tracker/internal/ingest"
)

const Namespace = "drbd_tracker"

// Ingest counts what the ingestion supervisor does with the events2 stream.
type Ingest struct {
	linesProcessed     prometheus.Counter
	protocolErrors     prometheus.Counter
	constructionErrors prometheus.Counter
	restarts           *prometheus.CounterVec
	queueLength        prometheus.Gauge
}

var _ ingest.Metrics = &Ingest{}
var _ prometheus.Collector = &Ingest{}

func NewIngest() *Ingest {
	m := &Ingest{
		linesProcessed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "events_lines_processed_total",
				Help:      "Number of events2 lines handed to the state builder.",
			},
		),
		protocolErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "events_protocol_errors_total",
				Help:      "Number of events2 lines rejected as protocol errors.",
			},
		),
		constructionErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "events_construction_errors_total",
				Help:      "Number of events2 lines dropped because an entity could not be constructed.",
			},
		),
		restarts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "events_restarts_total",
				Help:      "Number of events2 stream restarts by reason.",
			}, []string{"reason"},
		),
		queueLength: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Name:      "events_queue_length",
				Help:      "Number of items waiting in the ingestion queue.",
			},
		),
	}
	for _, reason := range []string{
		ingest.ReasonProtocol, ingest.ReasonStderr, ingest.ReasonEOF, ingest.ReasonInternal,
	} {
		m.restarts.WithLabelValues(reason)
	}
	return m
}

// Register adds the collectors to reg, usually
// sigs.k8s.io/controller-runtime/pkg/metrics.Registry.
func (m *Ingest) Register(reg prometheus.Registerer) error {
	return reg.Register(m)
}

func (m *Ingest) LineProcessed()        { m.linesProcessed.Inc() }
func (m *Ingest) ProtocolError()        { m.protocolErrors.Inc() }
func (m *Ingest) ConstructionError()    { m.constructionErrors.Inc() }
func (m *Ingest) Restart(reason string) { m.restarts.WithLabelValues(reason).Inc() }
func (m *Ingest) QueueLength(n int)     { m.queueLength.Set(float64(n)) }

// Describe is part of the prometheus.Collector interface.
func (m *Ingest) Describe(ch chan<- *prometheus.Desc) {
	m.linesProcessed.Describe(ch)
	m.protocolErrors.Describe(ch)
	m.constructionErrors.Describe(ch)
	m.restarts.Describe(ch)
	m.queueLength.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (m *Ingest) Collect(ch chan<- prometheus.Metric) {
	m.linesProcessed.Collect(ch)
	m.protocolErrors.Collect(ch)
	m.constructionErrors.Collect(ch)
	m.restarts.Collect(ch)
	m.queueLength.Collect(ch)
}
