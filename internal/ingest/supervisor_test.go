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

package ingest_test

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/deckhouse/sds-replicated-volume/images/drbd-events-tracker/internal/drbdstate"
	"github.com/deckhouse/sds-replicated-volume/images/drbd-events-tracker/internal/ingest"
	"github.com/deckhouse/sds-replicated-volume/images/drbd-events-tracker/pkg/drbdsetup"
	"github.com/deckhouse/sds-replicated-volume/images/drbd-events-tracker/pkg/drbdsetup/fake"
)

var _ = Describe("Supervisor", func() {
	var (
		receiver *fakeReceiver
		metrics  *fakeMetrics
		prereq   *countingPrerequisite
		opts     ingest.Options

		mu        sync.Mutex
		sources   []*fakeSource
		startErrs []error

		sup *ingest.Supervisor
	)

	launched := func() int {
		mu.Lock()
		defer mu.Unlock()
		return len(sources)
	}

	source := func(i int) *fakeSource {
		mu.Lock()
		defer mu.Unlock()
		return sources[i]
	}

	BeforeEach(func() {
		receiver = &fakeReceiver{errs: map[string]error{}}
		metrics = &fakeMetrics{}
		prereq = &countingPrerequisite{}
		sources, startErrs = nil, nil
		opts = ingest.Options{
			QueueCapacity: 100,
			RestartDelay:  10 * time.Millisecond,
			Prerequisite:  prereq,
			Metrics:       metrics,
		}
	})

	JustBeforeEach(func() {
		sup = ingest.NewSupervisor(testLogger(), func() ingest.EventSource {
			mu.Lock()
			defer mu.Unlock()
			src := &fakeSource{}
			if len(startErrs) > 0 {
				src.startErr, startErrs = startErrs[0], startErrs[1:]
			}
			sources = append(sources, src)
			return src
		}, receiver, opts)

		sup.Start(context.Background())
		DeferCleanup(func() {
			Expect(sup.Stop(time.Second)).To(Succeed())
		})
		Eventually(launched).Should(BeNumerically(">=", 1))
	})

	It("feeds stdout lines to the receiver in order", func() {
		sink := source(0).Sink()
		for i := range 5 {
			sink.Stdout(fmt.Sprintf("line %d", i))
		}

		Eventually(receiver.Lines).Should(Equal([]string{"line 0", "line 1", "line 2", "line 3", "line 4"}))
		Expect(metrics.Restarts()).To(BeEmpty())
	})

	It("waits for the prerequisite before launching", func() {
		Expect(prereq.Calls()).To(Equal(1))
	})

	It("starts only once", func() {
		sup.Start(context.Background())
		Consistently(launched).WithTimeout(50 * time.Millisecond).Should(Equal(1))
	})

	It("stops the source on stop", func() {
		Expect(sup.Stop(time.Second)).To(Succeed())
		Expect(sup.Stop(time.Second)).To(Succeed())
		Expect(sup.IsRunning()).To(BeFalse())
		Expect(source(0).Stopped()).To(BeTrue())
	})

	It("keeps going after faults", func() {
		sink := source(0).Sink()
		sink.Fault(errTest)
		sink.Stdout("after fault")

		Eventually(receiver.Lines).Should(Equal([]string{"after fault"}))
		Expect(metrics.Restarts()).To(BeEmpty())
		Expect(launched()).To(Equal(1))
	})

	When("the receiver drops an event", func() {
		BeforeEach(func() {
			receiver.errs["bad"] = fmt.Errorf("%w: test", drbdstate.ErrConstruction)
		})

		It("continues with the next line", func() {
			sink := source(0).Sink()
			sink.Stdout("bad")
			sink.Stdout("good")

			Eventually(receiver.Lines).Should(Equal([]string{"bad", "good"}))
			Expect(metrics.ConstructionErrors()).To(Equal(1))
			Expect(metrics.Restarts()).To(BeEmpty())
		})
	})

	When("the receiver reports a protocol error", func() {
		BeforeEach(func() {
			receiver.errs["bad"] = fmt.Errorf("%w: test", drbdstate.ErrProtocol)
			opts.RestartDelay = time.Hour
		})

		It("restarts immediately", func() {
			source(0).Sink().Stdout("bad")

			Eventually(launched).Should(Equal(2))
			Expect(metrics.Restarts()).To(Equal([]string{ingest.ReasonProtocol}))
			Expect(receiver.Reinits()).To(Equal(1))
			Expect(source(0).Stopped()).To(BeTrue())
			Expect(prereq.Calls()).To(Equal(2))
		})

		It("discards items queued before the restart", func() {
			sink := source(0).Sink()
			sink.Stdout("bad")
			sink.Stdout("stale")

			Eventually(launched).Should(Equal(2))
			source(1).Sink().Stdout("fresh")

			Eventually(receiver.Lines).Should(ContainElement("fresh"))
			Expect(receiver.Lines()).NotTo(ContainElement("stale"))
		})
	})

	When("the receiver fails unexpectedly", func() {
		BeforeEach(func() {
			receiver.errs["odd"] = errTest
		})

		It("restarts after a delay", func() {
			source(0).Sink().Stdout("odd")

			Eventually(launched).Should(Equal(2))
			Expect(metrics.Restarts()).To(Equal([]string{ingest.ReasonInternal}))
		})

		It("recovers from panics", func() {
			source(0).Sink().Stdout("panic")

			Eventually(launched).Should(Equal(2))
			Expect(metrics.Restarts()).To(Equal([]string{ingest.ReasonInternal}))
			Expect(sup.IsRunning()).To(BeTrue())
		})
	})

	It("restarts after a delay on stderr output", func() {
		source(0).Sink().Stderr("something failed")

		Eventually(launched).Should(Equal(2))
		Expect(metrics.Restarts()).To(Equal([]string{ingest.ReasonStderr}))
	})

	It("restarts after a delay at the end of the stream", func() {
		source(0).Sink().EOF()

		Eventually(launched).Should(Equal(2))
		Expect(metrics.Restarts()).To(Equal([]string{ingest.ReasonEOF}))
	})

	When("the restart delay is long", func() {
		BeforeEach(func() {
			opts.RestartDelay = time.Hour
		})

		It("can be stopped while waiting to relaunch", func() {
			source(0).Sink().EOF()

			Eventually(receiver.Reinits).Should(Equal(1))
			Expect(sup.Stop(time.Second)).To(Succeed())
			Expect(launched()).To(Equal(1))
		})
	})

	When("the source cannot be launched", func() {
		BeforeEach(func() {
			startErrs = []error{errTest}
		})

		It("retries after a delay", func() {
			Eventually(launched).Should(Equal(2))
			Expect(metrics.Restarts()).To(Equal([]string{ingest.ReasonEOF}))
		})
	})

	When("the receiver is stuck", func() {
		BeforeEach(func() {
			receiver.block = make(chan struct{})
		})

		It("reports a stop timeout", func() {
			source(0).Sink().Stdout("block")
			Eventually(sup.QueueLen).Should(BeZero())

			Expect(sup.Stop(20 * time.Millisecond)).To(MatchError(ingest.ErrStopTimeout))
			close(receiver.block)
		})

		It("keeps the next source when the previous consumer finishes late", func() {
			source(0).Sink().Stdout("block")
			Eventually(sup.QueueLen).Should(BeZero())
			Expect(sup.Stop(20 * time.Millisecond)).To(MatchError(ingest.ErrStopTimeout))

			sup.Start(context.Background())
			Eventually(launched).Should(Equal(2))

			close(receiver.block)
			Eventually(source(0).Stopped).Should(BeTrue())
			Consistently(source(1).Stopped, 50*time.Millisecond).Should(BeFalse())

			source(1).Sink().Stdout("after start")
			Eventually(receiver.Lines).Should(ContainElement("after start"))
			Expect(receiver.Lines()).To(Equal([]string{"block", "after start"}))
		})
	})
})

var _ = Describe("Supervisor with drbdsetup", func() {
	var (
		fakeExec *fake.Exec
		tracker  *drbdstate.Tracker
		metrics  *fakeMetrics
		sup      *ingest.Supervisor

		mu          sync.Mutex
		queueLens   []int
		available   int
		unavailable int

		stdoutW *io.PipeWriter
	)

	BeforeEach(func() {
		fakeExec = &fake.Exec{}
		tracker = drbdstate.NewTracker()
		metrics = &fakeMetrics{}
		queueLens = nil
		available, unavailable = 0, 0

		tracker.SubscribeAvailability(&drbdstate.AvailabilityFuncs{
			OnAvailable:   func() { mu.Lock(); available++; mu.Unlock() },
			OnUnavailable: func() { mu.Lock(); unavailable++; mu.Unlock() },
		})

		failing := fake.Events2()
		failing.SetStderrReader(io.NopCloser(stringsReader("drbdsetup: failed to connect\n")))

		var stdoutR *io.PipeReader
		stdoutR, stdoutW = io.Pipe()
		healthy := fake.Events2()
		healthy.SetStdoutReader(stdoutR)

		fakeExec.ExpectCommands(failing, healthy)
		fakeExec.Setup(GinkgoT())

		monitor := drbdstate.NewMonitor(testLogger(), tracker, nil)
		sup = ingest.NewSupervisor(testLogger(), func() ingest.EventSource {
			mu.Lock()
			queueLens = append(queueLens, sup.QueueLen())
			mu.Unlock()
			return drbdsetup.NewEvents2()
		}, monitor, ingest.Options{
			RestartDelay: 10 * time.Millisecond,
			Metrics:      metrics,
		})

		sup.Start(context.Background())
		DeferCleanup(func() {
			Expect(sup.Stop(time.Second)).To(Succeed())
		})
	})

	It("restarts once after stderr output followed by the end of the stream", func() {
		Eventually(fakeExec.Executed).Should(Equal(2))

		go func() {
			_, _ = io.WriteString(stdoutW, "exists resource name:r0\nexists -\n")
		}()
		Eventually(tracker.IsStateAvailable).Should(BeTrue())

		Consistently(metrics.Restarts).WithTimeout(100 * time.Millisecond).Should(Equal([]string{ingest.ReasonStderr}))
		Expect(fakeExec.Executed()).To(Equal(2))

		mu.Lock()
		defer mu.Unlock()
		Expect(unavailable).To(Equal(1))
		Expect(available).To(Equal(1))
		Expect(queueLens).To(Equal([]int{0, 0}))

		_, err := tracker.Resource("r0")
		Expect(err).NotTo(HaveOccurred())
	})
})
