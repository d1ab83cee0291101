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
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/deckhouse/sds-replicated-volume/images/drbd-events-tracker/internal/ingest"
)

func line(s string) ingest.Item { return ingest.Item{Kind: ingest.ItemStdout, Line: s} }

var _ = Describe("Queue", func() {
	var q *ingest.Queue

	BeforeEach(func() {
		q = ingest.NewQueue(3)
	})

	It("defaults the capacity", func() {
		Expect(ingest.NewQueue(0).Cap()).To(Equal(ingest.DefaultQueueCapacity))
	})

	It("keeps items in order", func(ctx SpecContext) {
		Expect(q.Push(ctx, line("a"))).To(Succeed())
		Expect(q.Push(ctx, line("b"))).To(Succeed())
		Expect(q.Push(ctx, line("c"))).To(Succeed())
		Expect(q.Len()).To(Equal(3))

		for _, want := range []string{"a", "b", "c"} {
			item, err := q.Pop(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(item.Line).To(Equal(want))
		}
		Expect(q.Len()).To(BeZero())
	})

	It("puts front items ahead of everything, even when full", func(ctx SpecContext) {
		for _, s := range []string{"a", "b", "c"} {
			Expect(q.Push(ctx, line(s))).To(Succeed())
		}
		_, _ = q.Pop(ctx)

		q.PushFront(ingest.Item{Kind: ingest.ItemShutdown})
		q.PushFront(ingest.Item{Kind: ingest.ItemShutdown, Line: "first"})
		Expect(q.Len()).To(Equal(4))

		item, err := q.Pop(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(item).To(Equal(ingest.Item{Kind: ingest.ItemShutdown, Line: "first"}))
		item, _ = q.Pop(ctx)
		Expect(item.Kind).To(Equal(ingest.ItemShutdown))
		item, _ = q.Pop(ctx)
		Expect(item.Line).To(Equal("b"))
	})

	It("blocks pushes while full", func(ctx SpecContext) {
		for _, s := range []string{"a", "b", "c"} {
			Expect(q.Push(ctx, line(s))).To(Succeed())
		}

		pushed := make(chan error, 1)
		go func() { pushed <- q.Push(ctx, line("d")) }()
		Consistently(pushed).WithTimeout(50 * time.Millisecond).ShouldNot(Receive())

		item, err := q.Pop(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(item.Line).To(Equal("a"))
		Eventually(pushed).Should(Receive(BeNil()))
		Expect(q.Len()).To(Equal(3))
	})

	It("gives up pushing when the context is done", func(ctx SpecContext) {
		for _, s := range []string{"a", "b", "c"} {
			Expect(q.Push(ctx, line(s))).To(Succeed())
		}
		cctx, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
		defer cancel()
		Expect(q.Push(cctx, line("d"))).To(MatchError(context.DeadlineExceeded))
	})

	It("wakes up a waiting consumer", func(ctx SpecContext) {
		popped := make(chan ingest.Item, 1)
		go func() {
			defer GinkgoRecover()
			item, err := q.Pop(ctx)
			Expect(err).NotTo(HaveOccurred())
			popped <- item
		}()

		Consistently(popped).WithTimeout(20 * time.Millisecond).ShouldNot(Receive())
		Expect(q.Push(ctx, line("a"))).To(Succeed())
		Eventually(popped).Should(Receive(Equal(line("a"))))
	})

	It("stops waiting when the context is done", func(ctx SpecContext) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := q.Pop(cctx)
		Expect(err).To(MatchError(context.Canceled))
	})

	It("drops everything on clear", func(ctx SpecContext) {
		Expect(q.Push(ctx, line("a"))).To(Succeed())
		Expect(q.Push(ctx, line("b"))).To(Succeed())

		Expect(q.Clear()).To(Equal(2))
		Expect(q.Len()).To(BeZero())

		Expect(q.Push(ctx, line("c"))).To(Succeed())
		item, _ := q.Pop(ctx)
		Expect(item.Line).To(Equal("c"))
	})

	It("keeps working across many wraps", func(ctx SpecContext) {
		for i := range 100 {
			Expect(q.Push(ctx, ingest.Item{Kind: ingest.ItemStdout, Line: string(rune('a' + i%26))})).To(Succeed())
			item, err := q.Pop(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(item.Line).To(Equal(string(rune('a' + i%26))))
		}
		Expect(q.Len()).To(BeZero())
	})
})
