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

package drbdstate_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/deckhouse/sds-replicated-volume/images/drbd-events-tracker/internal/drbdstate"
)

var allKinds = []drbdstate.EventKind{
	drbdstate.EventResourceCreated,
	drbdstate.EventResourceDestroyed,
	drbdstate.EventRoleChanged,
	drbdstate.EventPeerRoleChanged,
	drbdstate.EventVolumeCreated,
	drbdstate.EventVolumeDestroyed,
	drbdstate.EventMinorNumberChanged,
	drbdstate.EventDiskStateChanged,
	drbdstate.EventReplicationStateChanged,
	drbdstate.EventConnectionCreated,
	drbdstate.EventConnectionDestroyed,
	drbdstate.EventConnectionStateChanged,
	drbdstate.EventPromotionScoreChanged,
	drbdstate.EventMayPromoteChanged,
	drbdstate.EventDonePercentageChanged,
}

// lifecycle produces at least one event of every kind.
var lifecycle = []string{
	"exists resource name:r0 role:Secondary may_promote:no promotion_score:10",
	"exists connection name:r0 peer-node-id:1 conn-name:peerA connection:Connected role:Secondary",
	"exists device name:r0 volume:0 minor:1000 disk:UpToDate",
	"exists peer-device name:r0 peer-node-id:1 conn-name:peerA volume:0 replication:SyncSource peer-disk:Inconsistent done:10.5",
	"exists -",
	"destroy peer-device name:r0 peer-node-id:1 conn-name:peerA volume:0",
	"destroy connection name:r0 peer-node-id:1 conn-name:peerA",
	"destroy resource name:r0",
}

var _ = Describe("Tracker", func() {
	var (
		tracker *drbdstate.Tracker
		monitor *drbdstate.Monitor
	)

	BeforeEach(func() {
		tracker = drbdstate.NewTracker()
		monitor = drbdstate.NewMonitor(testLogger(), tracker, nil)
	})

	It("has one distinct bit per kind", func() {
		var mask drbdstate.EventKind
		for _, kind := range allKinds {
			Expect(mask & kind).To(BeZero())
			mask |= kind
		}
		Expect(drbdstate.EventResourceCreated).To(Equal(drbdstate.EventKind(0x1)))
		Expect(drbdstate.EventDonePercentageChanged).To(Equal(drbdstate.EventKind(0x4000)))
		Expect(drbdstate.AllEvents.Kinds()).To(Equal(allKinds))
	})

	It("delivers every kind to an observer subscribed to all events", func() {
		rec := &recorder{}
		tracker.Subscribe(rec, drbdstate.AllEvents)

		feed(monitor, lifecycle...)

		for _, kind := range allKinds {
			Expect(rec.Count(kind)).To(BeNumerically(">", 0), "kind %s", kind)
		}
	})

	DescribeTable("delivers only the subscribed kind",
		func(kind drbdstate.EventKind) {
			rec := &recorder{}
			tracker.Subscribe(rec, kind)

			feed(monitor, lifecycle...)

			Expect(rec.Kinds()).To(Equal(kind))
		},
		func(kind drbdstate.EventKind) string { return kind.String() },
		Entry(nil, drbdstate.EventResourceCreated),
		Entry(nil, drbdstate.EventResourceDestroyed),
		Entry(nil, drbdstate.EventRoleChanged),
		Entry(nil, drbdstate.EventPeerRoleChanged),
		Entry(nil, drbdstate.EventVolumeCreated),
		Entry(nil, drbdstate.EventVolumeDestroyed),
		Entry(nil, drbdstate.EventMinorNumberChanged),
		Entry(nil, drbdstate.EventDiskStateChanged),
		Entry(nil, drbdstate.EventReplicationStateChanged),
		Entry(nil, drbdstate.EventConnectionCreated),
		Entry(nil, drbdstate.EventConnectionDestroyed),
		Entry(nil, drbdstate.EventConnectionStateChanged),
		Entry(nil, drbdstate.EventPromotionScoreChanged),
		Entry(nil, drbdstate.EventMayPromoteChanged),
		Entry(nil, drbdstate.EventDonePercentageChanged),
	)

	It("masks out bits that do not name a kind", func() {
		rec := &recorder{}
		tracker.Subscribe(rec, drbdstate.EventRoleChanged|1<<40)

		Expect(tracker.SubscriptionMask(rec)).To(Equal(drbdstate.EventRoleChanged))
	})

	It("replaces the mask of an observer subscribed twice", func() {
		rec := &recorder{}
		tracker.Subscribe(rec, drbdstate.EventRoleChanged)
		tracker.Subscribe(rec, drbdstate.EventResourceCreated)

		feed(monitor, lifecycle...)

		Expect(rec.Kinds()).To(Equal(drbdstate.EventResourceCreated))
		Expect(rec.Count(drbdstate.EventResourceCreated)).To(Equal(1))
	})

	It("stops delivering after unsubscribe", func() {
		rec := &recorder{}
		tracker.Subscribe(rec, drbdstate.AllEvents)
		tracker.Unsubscribe(rec)

		feed(monitor, lifecycle...)

		Expect(rec.Events()).To(BeEmpty())
		Expect(tracker.SubscriptionMask(rec)).To(BeZero())
	})

	It("allows observers to unsubscribe while being notified", func() {
		other := &recorder{}
		var self *drbdstate.ObserverFuncs
		calls := 0
		self = &drbdstate.ObserverFuncs{
			OnResourceCreated: func(*drbdstate.Resource) {
				calls++
				tracker.Unsubscribe(self)
			},
		}
		tracker.Subscribe(self, drbdstate.EventResourceCreated)
		tracker.Subscribe(other, drbdstate.EventResourceCreated)

		feed(monitor,
			"exists resource name:r0",
			"exists resource name:r1",
			"exists -",
		)

		Expect(calls).To(Equal(1))
		Expect(other.Events()).To(Equal([]string{"ResourceCreated r0", "ResourceCreated r1"}))
	})

	It("embeds NoopObserver for partial observers", func() {
		obs := &roleOnly{}
		tracker.Subscribe(obs, drbdstate.AllEvents)

		feed(monitor, lifecycle...)

		Expect(obs.roles).To(Equal([]drbdstate.Role{drbdstate.RoleSecondary}))
	})

	It("notifies availability observers until they unsubscribe", func() {
		var available, unavailable int
		obs := &drbdstate.AvailabilityFuncs{
			OnAvailable:   func() { available++ },
			OnUnavailable: func() { unavailable++ },
		}
		tracker.SubscribeAvailability(obs)
		tracker.SubscribeAvailability(obs)

		feed(monitor, "exists -")
		monitor.Reinitializing()
		tracker.UnsubscribeAvailability(obs)
		feed(monitor, "exists -")

		Expect(available).To(Equal(1))
		Expect(unavailable).To(Equal(1))
	})

	It("reports missing resources with ErrNotFound", func() {
		feed(monitor, "exists -")

		_, err := tracker.Resource("r0")
		Expect(err).To(MatchError(drbdstate.ErrNotFound))
		Expect(tracker.Resources()).To(BeEmpty())
	})

	It("lists resources ordered by name", func() {
		feed(monitor,
			"exists resource name:r2",
			"exists resource name:r0",
			"exists resource name:r1",
			"exists -",
		)

		resources, err := tracker.Resources()
		Expect(err).NotTo(HaveOccurred())
		Expect(resources).To(HaveEach(HaveField("Managed()", BeFalse())))
		names := make([]string, 0, len(resources))
		for _, rsc := range resources {
			names = append(names, rsc.Name())
		}
		Expect(names).To(Equal([]string{"r0", "r1", "r2"}))
	})

	It("keeps suppression flags per resource", func() {
		feed(monitor, "exists resource name:r0", "exists -")

		rsc, err := tracker.Resource("r0")
		Expect(err).NotTo(HaveOccurred())
		Expect(rsc.SuppressRoleNotifications()).To(BeFalse())

		rsc.SetSuppressRoleNotifications(true)
		rsc.SetSuppressOfflineNotifications(true)

		same, _ := tracker.Resource("r0")
		Expect(same.SuppressRoleNotifications()).To(BeTrue())
		Expect(same.SuppressOfflineNotifications()).To(BeTrue())
	})
})

type roleOnly struct {
	drbdstate.NoopObserver
	roles []drbdstate.Role
}

func (o *roleOnly) RoleChanged(_ *drbdstate.Resource, _, cur drbdstate.Role) {
	o.roles = append(o.roles, cur)
}
