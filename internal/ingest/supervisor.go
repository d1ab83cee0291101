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

package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"sigs.k8s.io/controller-runtime/pkg/manager"

	"github.com/deckhouse/sds-replicated-volume/images/drbd-events-tracker/internal/drbdstate"
	"github.com/deckhouse/sds-replicated-volume/images/drbd-events-tracker/internal/utils"
	"github.com/deckhouse/sds-replicated-volume/images/drbd-events-tracker/pkg/drbdsetup"
)

const (
	DefaultRestartDelay = 5 * time.Second
	DefaultStopTimeout  = 10 * time.Second
)

// restart reasons
const (
	ReasonProtocol = "protocol"
	ReasonStderr   = "stderr"
	ReasonEOF      = "eof"
	ReasonInternal = "internal"
)

var ErrStopTimeout = errors.New("timed out waiting for the events consumer to stop")

// EventSource produces the events2 stream into a sink. A source is started at
// most once, a new one is created for every launch.
type EventSource interface {
	Start(ctx context.Context, sink drbdsetup.Sink) error
	Stop()
}

// LineReceiver consumes events2 lines, see [drbdstate.Monitor].
type LineReceiver interface {
	ReceiveLine(line string) error
	Reinitializing()
}

// Prerequisite blocks until the event source can be launched.
type Prerequisite interface {
	Wait(ctx context.Context) error
}

type Metrics interface {
	LineProcessed()
	ProtocolError()
	ConstructionError()
	Restart(reason string)
	QueueLength(n int)
}

type noopMetrics struct{}

func (noopMetrics) LineProcessed()     {}
func (noopMetrics) ProtocolError()     {}
func (noopMetrics) ConstructionError() {}
func (noopMetrics) Restart(string)     {}
func (noopMetrics) QueueLength(int)    {}

type Options struct {
	// QueueCapacity defaults to DefaultQueueCapacity.
	QueueCapacity int
	// RestartDelay is the pause before relaunching a source that failed,
	// zero disables it.
	RestartDelay time.Duration
	// Prerequisite is awaited before every launch, may be nil.
	Prerequisite Prerequisite
	// Metrics may be nil.
	Metrics Metrics
}

// Supervisor runs the event source, feeds its output to a LineReceiver from a
// single consumer goroutine and restarts the source when the stream fails.
type Supervisor struct {
	log       *slog.Logger
	newSource func() EventSource
	receiver  LineReceiver
	prereq    Prerequisite
	metrics   Metrics
	delay     time.Duration
	queue     *Queue

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// launched is the source started by one consumer goroutine. Every consumer
// owns its own, so a consumer still finishing after a timed out Stop cannot
// touch the source of the next Start.
type launched struct {
	source EventSource
	cancel context.CancelFunc
}

func (l *launched) stop() {
	if l.cancel != nil {
		l.cancel()
	}
	if l.source != nil {
		l.source.Stop()
	}
	l.source, l.cancel = nil, nil
}

func NewSupervisor(
	log *slog.Logger,
	newSource func() EventSource,
	receiver LineReceiver,
	opts Options,
) *Supervisor {
	s := &Supervisor{
		log:       log.With("component", "events-supervisor"),
		newSource: newSource,
		receiver:  receiver,
		prereq:    opts.Prerequisite,
		metrics:   opts.Metrics,
		delay:     opts.RestartDelay,
		queue:     NewQueue(opts.QueueCapacity),
	}
	if s.metrics == nil {
		s.metrics = noopMetrics{}
	}
	return s
}

// QueueLen returns the number of items waiting for the consumer.
func (s *Supervisor) QueueLen() int { return s.queue.Len() }

func (s *Supervisor) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Start launches the consumer and the event source and returns immediately.
// Calling Start on a running supervisor does nothing.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}

	s.queue.Clear()

	ctx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.consume(ctx, s.done)
}

// Stop shuts the consumer down and waits up to timeout for it to exit. The
// consumer is not abandoned on timeout, it exits once its current item is
// handled. Calling Stop on a stopped supervisor does nothing.
func (s *Supervisor) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	s.queue.PushFront(Item{Kind: ItemShutdown})
	cancel()

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-done:
		return nil
	case <-t.C:
		return ErrStopTimeout
	}
}

// Run starts the supervisor and stops it once ctx is done.
func (s *Supervisor) Run(ctx context.Context) error {
	s.Start(ctx)
	<-ctx.Done()
	if err := s.Stop(DefaultStopTimeout); err != nil {
		s.log.Error("stopping supervisor", "err", err)
	}
	return nil
}

// Runnable adapts the supervisor to the controller manager.
func (s *Supervisor) Runnable() manager.Runnable { return runnable{s} }

type runnable struct{ s *Supervisor }

var _ manager.LeaderElectionRunnable = runnable{}

func (r runnable) Start(ctx context.Context) error { return r.s.Run(ctx) }

func (r runnable) NeedLeaderElection() bool { return false }

type action int

const (
	actionContinue action = iota
	actionRestartNow
	actionRestartDelayed
)

func (s *Supervisor) consume(ctx context.Context, done chan struct{}) {
	defer close(done)

	cur := &launched{}
	defer cur.stop()

	s.log.Info("starting")
	defer s.log.Info("stopped")

	if err := s.launch(ctx, cur, false); err != nil {
		return
	}

	for {
		// the queue is shared with the consumer of the next Start
		if ctx.Err() != nil {
			return
		}
		item, err := s.queue.Pop(ctx)
		if err != nil {
			return
		}
		s.metrics.QueueLength(s.queue.Len())

		if item.Kind == ItemShutdown {
			return
		}

		act, reason := s.handleSafe(item)
		if act == actionContinue {
			continue
		}
		if err := s.restart(ctx, cur, reason, act == actionRestartDelayed); err != nil {
			return
		}
	}
}

func (s *Supervisor) handleSafe(item Item) (act action, reason string) {
	var err error
	func() {
		defer utils.RecoverPanicToErr(&err)
		act, reason, err = s.handle(item)
	}()
	if err != nil {
		s.log.Error("internal error handling event stream item", "kind", item.Kind.String(), "err", err)
		return actionRestartDelayed, ReasonInternal
	}
	return act, reason
}

func (s *Supervisor) handle(item Item) (action, string, error) {
	switch item.Kind {
	case ItemStdout:
		err := s.receiver.ReceiveLine(item.Line)
		s.metrics.LineProcessed()
		switch {
		case err == nil:
			return actionContinue, "", nil
		case errors.Is(err, drbdstate.ErrConstruction):
			s.metrics.ConstructionError()
			s.log.Error("dropping event", "err", err)
			return actionContinue, "", nil
		case errors.Is(err, drbdstate.ErrProtocol):
			s.metrics.ProtocolError()
			s.log.Error("event stream out of sync", "err", err)
			return actionRestartNow, ReasonProtocol, nil
		default:
			return actionContinue, "", fmt.Errorf("receiving line: %w", err)
		}
	case ItemStderr:
		s.log.Error("drbdsetup events2 reported an error", "stderr", item.Line)
		return actionRestartDelayed, ReasonStderr, nil
	case ItemEOF:
		if !s.IsRunning() {
			return actionContinue, "", nil
		}
		if item.Err != nil {
			s.log.Error("event source failed", "err", item.Err)
		} else {
			s.log.Warn("event stream ended unexpectedly")
		}
		return actionRestartDelayed, ReasonEOF, nil
	case ItemFault:
		s.log.Error("event source fault", "err", item.Err)
		return actionContinue, "", nil
	default:
		return actionContinue, "", fmt.Errorf("unexpected item kind %d", item.Kind)
	}
}

func (s *Supervisor) restart(ctx context.Context, cur *launched, reason string, delayed bool) error {
	s.log.Info("restarting event stream", "reason", reason, "delayed", delayed)
	s.metrics.Restart(reason)

	cur.stop()
	s.receiver.Reinitializing()

	return s.launch(ctx, cur, delayed)
}

// launch waits for the prerequisite, discards stale items and starts a new
// source. A source that fails to start is reported as an EOF item, so it is
// retried after the restart delay.
func (s *Supervisor) launch(ctx context.Context, cur *launched, delayed bool) error {
	if s.prereq != nil {
		if err := s.prereq.Wait(ctx); err != nil {
			return fmt.Errorf("waiting for prerequisite: %w", err)
		}
	}
	if delayed {
		if err := utils.SleepContext(ctx, s.delay); err != nil {
			return err
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if n := s.queue.Clear(); n > 0 {
		s.log.Debug("discarded stale items", "count", n)
	}

	sourceCtx, cancel := context.WithCancel(ctx)
	source := s.newSource()
	if err := source.Start(sourceCtx, queueSink{ctx: sourceCtx, queue: s.queue}); err != nil {
		cancel()
		return s.queue.Push(ctx, Item{Kind: ItemEOF, Err: err})
	}
	cur.source, cur.cancel = source, cancel
	return nil
}

// queueSink forwards the output of one launch. Output arriving after the
// launch was stopped is dropped.
type queueSink struct {
	ctx   context.Context
	queue *Queue
}

var _ drbdsetup.Sink = queueSink{}

func (s queueSink) push(item Item) {
	if s.ctx.Err() != nil {
		return
	}
	_ = s.queue.Push(s.ctx, item)
}

func (s queueSink) Stdout(line string) { s.push(Item{Kind: ItemStdout, Line: line}) }
func (s queueSink) Stderr(line string) { s.push(Item{Kind: ItemStderr, Line: line}) }
func (s queueSink) EOF()               { s.push(Item{Kind: ItemEOF}) }
func (s queueSink) Fault(err error)    { s.push(Item{Kind: ItemFault, Err: err}) }
