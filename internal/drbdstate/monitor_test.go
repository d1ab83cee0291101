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

type managedSet map[string]bool

func (s managedSet) IsManaged(name string) bool { return s[name] }

var _ = Describe("Monitor", func() {
	var (
		tracker *drbdstate.Tracker
		monitor *drbdstate.Monitor
		rec     *recorder
	)

	BeforeEach(func() {
		tracker = drbdstate.NewTracker()
		monitor = drbdstate.NewMonitor(testLogger(), tracker, managedSet{"r0": true})
		rec = &recorder{}
		tracker.Subscribe(rec, drbdstate.AllEvents)
		tracker.SubscribeAvailability(rec)
	})

	It("tracks the initial snapshot", func() {
		feed(monitor,
			"create resource name:r0",
			"create connection conn-name:peerA peer-node-id:1 name:r0",
			"create device volume:0 name:r0",
			"exists -",
		)

		Expect(tracker.IsStateAvailable()).To(BeTrue())
		available, unavailable := rec.Availability()
		Expect(available).To(Equal(1))
		Expect(unavailable).To(BeZero())

		rsc, err := tracker.Resource("r0")
		Expect(err).NotTo(HaveOccurred())
		Expect(rsc.Managed()).To(BeTrue())
		Expect(rsc.NameValid()).To(BeTrue())

		Expect(rsc.Connections()).To(HaveLen(1))
		peer, ok := rsc.Connection("peerA")
		Expect(ok).To(BeTrue())
		Expect(peer.PeerNodeID()).To(Equal(1))
		Expect(peer.State()).To(Equal(drbdstate.ConnectionUnknown))

		Expect(rsc.Volumes()).To(HaveLen(1))
		vol, ok := rsc.Volume(0)
		Expect(ok).To(BeTrue())
		Expect(vol.DiskState()).To(Equal(drbdstate.DiskUnknown))
		Expect(vol.IsPeer()).To(BeFalse())
	})

	It("ignores empty lines, untracked actions and untracked objects", func() {
		feed(monitor,
			"",
			"exists resource name:r0",
			"exists path name:r0 peer-node-id:1 conn-name:peerA local:ipv4:10.0.0.1:7000",
			"call helper name:r0 helper:before-resync-target",
			"exists -",
			"create path name:r0 peer-node-id:1 conn-name:peerA",
			"rename resource name:r0 new_name:r1",
		)

		Expect(tracker.Resources()).To(HaveLen(1))
	})

	It("drops tokens without a colon", func() {
		feed(monitor,
			"exists resource name:r0 role:Primary garbage",
			"exists -",
		)

		rsc, err := tracker.Resource("r0")
		Expect(err).NotTo(HaveOccurred())
		Expect(rsc.Role()).To(Equal(drbdstate.RolePrimary))
	})

	It("fails on a line without an object type", func() {
		Expect(monitor.ReceiveLine("change")).To(MatchError(drbdstate.ErrProtocol))
	})

	It("keeps resources with invalid names", func() {
		feed(monitor,
			"exists resource name:9-not-valid",
			"exists -",
		)

		rsc, err := tracker.Resource("9-not-valid")
		Expect(err).NotTo(HaveOccurred())
		Expect(rsc.NameValid()).To(BeFalse())
		Expect(rsc.Managed()).To(BeFalse())
	})

	When("the initial snapshot is not complete", func() {
		It("holds back events until the end of the snapshot", func() {
			feed(monitor,
				"exists resource name:r0",
				"create resource name:r1",
				"create connection name:r1 conn-name:peerB peer-node-id:2",
				"change connection name:r1 conn-name:peerB connection:Connected",
			)

			Expect(monitor.Pending()).To(Equal(3))
			Expect(tracker.IsStateAvailable()).To(BeFalse())

			feed(monitor, "exists -")

			Expect(monitor.Pending()).To(BeZero())
			rsc, err := tracker.Resource("r1")
			Expect(err).NotTo(HaveOccurred())
			peer, ok := rsc.Connection("peerB")
			Expect(ok).To(BeTrue())
			Expect(peer.State()).To(Equal(drbdstate.ConnectionConnected))
		})

		It("ends the snapshot on create -", func() {
			feed(monitor,
				"exists resource name:r0",
				"change resource name:r0 role:Primary",
				"create -",
			)

			Expect(monitor.Pending()).To(BeZero())
			Expect(tracker.IsStateAvailable()).To(BeTrue())
			rsc, err := tracker.Resource("r0")
			Expect(err).NotTo(HaveOccurred())
			Expect(rsc.Role()).To(Equal(drbdstate.RolePrimary))
		})

		It("discards held back events when the stream is reinitialized", func() {
			feed(monitor,
				"exists resource name:r0 role:Secondary",
				"change resource name:r0 role:Primary",
			)
			Expect(monitor.ReceiveLine("change")).To(MatchError(drbdstate.ErrProtocol))
			Expect(monitor.Pending()).To(Equal(1))

			monitor.Reinitializing()
			Expect(monitor.Pending()).To(BeZero())

			feed(monitor,
				"exists resource name:r0 role:Secondary",
				"exists -",
			)

			rsc, err := tracker.Resource("r0")
			Expect(err).NotTo(HaveOccurred())
			Expect(rsc.Role()).To(Equal(drbdstate.RoleSecondary))
		})

		It("answers queries with ErrStateUnavailable", func() {
			feed(monitor, "exists resource name:r0")

			_, err := tracker.Resource("r0")
			Expect(err).To(MatchError(drbdstate.ErrStateUnavailable))
			_, err = tracker.Resources()
			Expect(err).To(MatchError(drbdstate.ErrStateUnavailable))
		})

		It("drops held back events that cannot be constructed", func() {
			feed(monitor,
				"exists resource name:r0",
				"create device name:r0 volume:not-a-number",
				"create device name:r0 volume:1",
			)

			Expect(monitor.ReceiveLine("exists -")).To(Succeed())

			rsc, err := tracker.Resource("r0")
			Expect(err).NotTo(HaveOccurred())
			Expect(rsc.Volumes()).To(HaveLen(1))
		})

		It("fails on held back events that reference unknown objects", func() {
			feed(monitor, "change resource name:ghost role:Primary")

			Expect(monitor.ReceiveLine("exists -")).To(MatchError(drbdstate.ErrProtocol))
			Expect(tracker.IsStateAvailable()).To(BeTrue())
		})
	})

	When("the initial snapshot is complete", func() {
		BeforeEach(func() {
			feed(monitor,
				"exists resource name:r0 role:Secondary suspended:no may_promote:no promotion_score:10",
				"exists connection name:r0 peer-node-id:1 conn-name:peerA connection:Connected role:Secondary",
				"exists device name:r0 volume:0 minor:1000 disk:UpToDate client:no",
				"exists peer-device name:r0 peer-node-id:1 conn-name:peerA volume:0 replication:Established peer-disk:UpToDate peer-client:no",
				"exists -",
			)
			rec.Reset()
		})

		It("notifies only about values that changed", func() {
			feed(monitor,
				"change resource name:r0 role:Primary",
				"change resource name:r0 role:Primary",
			)

			Expect(rec.Events()).To(Equal([]string{"RoleChanged r0 Secondary->Primary"}))
		})

		It("leaves absent properties untouched", func() {
			feed(monitor, "change resource name:r0 may_promote:yes")

			rsc, err := tracker.Resource("r0")
			Expect(err).NotTo(HaveOccurred())
			Expect(rsc.Role()).To(Equal(drbdstate.RoleSecondary))
			Expect(rsc.PromotionScore()).To(HaveValue(Equal(10)))
			Expect(rsc.MayPromote()).To(HaveValue(BeTrue()))
			Expect(rsc.SuspendedUser()).To(HaveValue(BeFalse()))
			Expect(rec.Events()).To(Equal([]string{"MayPromoteChanged r0 false->true"}))
		})

		It("tracks suspension by the user", func() {
			feed(monitor, "change resource name:r0 suspended:user,no-data")

			rsc, err := tracker.Resource("r0")
			Expect(err).NotTo(HaveOccurred())
			Expect(rsc.SuspendedUser()).To(HaveValue(BeTrue()))
			Expect(rec.Events()).To(BeEmpty())
		})

		It("tracks resync progress and clears it when absent", func() {
			feed(monitor,
				"change peer-device name:r0 conn-name:peerA volume:0 replication:SyncSource done:12.50",
				"change peer-device name:r0 conn-name:peerA volume:0 done:40",
				"change peer-device name:r0 conn-name:peerA volume:0 replication:Established",
			)

			Expect(rec.Events()).To(Equal([]string{
				"ReplicationStateChanged r0 peerA 0 Established->SyncSource",
				"DonePercentageChanged r0 peerA 0 nil->12.5",
				"DonePercentageChanged r0 peerA 0 12.5->40",
				"ReplicationStateChanged r0 peerA 0 SyncSource->Established",
				"DonePercentageChanged r0 peerA 0 40->nil",
			}))

			rsc, _ := tracker.Resource("r0")
			peer, _ := rsc.Connection("peerA")
			vol, _ := peer.Volume(0)
			Expect(vol.DonePercentage()).To(BeNil())
		})

		It("never reports minor numbers of peer volumes", func() {
			feed(monitor, "change peer-device name:r0 conn-name:peerA volume:0 minor:1005")

			Expect(rec.Count(drbdstate.EventMinorNumberChanged)).To(BeZero())
			rsc, _ := tracker.Resource("r0")
			peer, _ := rsc.Connection("peerA")
			vol, _ := peer.Volume(0)
			Expect(vol.Minor()).To(BeNil())
		})

		It("reports minor numbers of local volumes", func() {
			feed(monitor, "change device name:r0 volume:0 minor:1001")

			Expect(rec.Events()).To(Equal([]string{"MinorNumberChanged r0 0 1000->1001"}))
		})

		It("keeps local and peer volumes with the same number apart", func() {
			feed(monitor, "change peer-device name:r0 conn-name:peerA volume:0 peer-disk:Outdated")

			rsc, _ := tracker.Resource("r0")
			local, _ := rsc.Volume(0)
			peer, _ := rsc.Connection("peerA")
			remote, _ := peer.Volume(0)
			Expect(local.DiskState()).To(Equal(drbdstate.DiskUpToDate))
			Expect(remote.DiskState()).To(Equal(drbdstate.DiskOutdated))
			Expect(remote.Client()).To(HaveValue(BeFalse()))
		})

		It("applies repeated create events to the tracked object", func() {
			feed(monitor, "create resource name:r0 role:Primary")

			Expect(rec.Events()).To(Equal([]string{"RoleChanged r0 Secondary->Primary"}))
		})

		It("falls back to Unknown for unrecognized labels", func() {
			feed(monitor, "change connection name:r0 conn-name:peerA connection:Bogus")

			Expect(rec.Events()).To(Equal([]string{"ConnectionStateChanged r0 peerA Connected->Unknown"}))
		})

		It("reports the destroyed resource with its last known state", func() {
			rsc, err := tracker.Resource("r0")
			Expect(err).NotTo(HaveOccurred())

			var destroyed *drbdstate.Resource
			tracker.Subscribe(&drbdstate.ObserverFuncs{
				OnResourceDestroyed: func(r *drbdstate.Resource) {
					destroyed = r
					_, err := tracker.Resource("r0")
					Expect(err).To(MatchError(drbdstate.ErrNotFound))
				},
			}, drbdstate.EventResourceDestroyed)

			feed(monitor,
				"change resource name:r0 role:Primary",
				"destroy resource name:r0",
			)

			_, err = tracker.Resource("r0")
			Expect(err).To(MatchError(drbdstate.ErrNotFound))
			Expect(destroyed).To(BeIdenticalTo(rsc))
			Expect(destroyed.Role()).To(Equal(drbdstate.RolePrimary))
			Expect(destroyed.Volumes()).To(HaveLen(1))
		})

		It("removes connections and volumes on destroy", func() {
			feed(monitor,
				"destroy peer-device name:r0 conn-name:peerA volume:0",
				"destroy connection name:r0 conn-name:peerA",
				"destroy device name:r0 volume:0",
			)

			Expect(rec.Events()).To(Equal([]string{
				"VolumeDestroyed r0 peerA 0",
				"ConnectionDestroyed r0 peerA",
				"VolumeDestroyed r0 - 0",
			}))
			rsc, _ := tracker.Resource("r0")
			Expect(rsc.Connections()).To(BeEmpty())
			Expect(rsc.Volumes()).To(BeEmpty())
		})

		DescribeTable("protocol errors",
			func(line string) {
				Expect(monitor.ReceiveLine(line)).To(MatchError(drbdstate.ErrProtocol))
			},
			Entry("change of unknown resource", "change resource name:ghost role:Primary"),
			Entry("change without a name", "change resource role:Primary"),
			Entry("change of unknown connection", "change connection name:r0 conn-name:ghost connection:Connected"),
			Entry("change of unknown volume", "change device name:r0 volume:7 disk:UpToDate"),
			Entry("change of unknown peer volume", "change peer-device name:r0 conn-name:peerA volume:7"),
			Entry("destroy of unknown resource", "destroy resource name:ghost"),
			Entry("destroy of unknown connection", "destroy connection name:r0 conn-name:ghost"),
			Entry("destroy of unknown volume", "destroy device name:r0 volume:3"),
			Entry("destroy with invalid volume number", "destroy device name:r0 volume:-1"),
			Entry("create in unknown resource", "create connection name:ghost conn-name:peerB peer-node-id:2"),
			Entry("malformed may_promote", "change resource name:r0 may_promote:maybe"),
			Entry("malformed promotion score", "change resource name:r0 promotion_score:high"),
			Entry("malformed done", "change peer-device name:r0 conn-name:peerA volume:0 done:lots"),
		)

		DescribeTable("construction errors",
			func(line string) {
				err := monitor.ReceiveLine(line)
				Expect(err).To(MatchError(drbdstate.ErrConstruction))
				Expect(err).NotTo(MatchError(drbdstate.ErrProtocol))
			},
			Entry("resource without a name", "create resource role:Primary"),
			Entry("connection without peer node id", "create connection name:r0 conn-name:peerB"),
			Entry("connection with malformed peer node id", "create connection name:r0 conn-name:peerB peer-node-id:x"),
			Entry("volume without a number", "create device name:r0 disk:UpToDate"),
			Entry("volume number out of range", "create device name:r0 volume:65536"),
			Entry("negative volume number", "create peer-device name:r0 conn-name:peerA volume:-1"),
		)

		It("applies events immediately after the snapshot", func() {
			feed(monitor, "change resource name:r0 role:Primary")
			Expect(monitor.Pending()).To(BeZero())
		})

		When("the stream is reinitialized", func() {
			BeforeEach(func() {
				monitor.Reinitializing()
			})

			It("marks the state unavailable", func() {
				Expect(tracker.IsStateAvailable()).To(BeFalse())
				_, unavailable := rec.Availability()
				Expect(unavailable).To(Equal(1))
				_, err := tracker.Resources()
				Expect(err).To(MatchError(drbdstate.ErrStateUnavailable))
			})

			It("keeps tracked objects and applies the next snapshot on top of them", func() {
				feed(monitor,
					"change resource name:r0 role:Primary",
					"exists resource name:r0 role:Primary",
				)
				Expect(monitor.Pending()).To(BeZero())

				feed(monitor, "exists -")

				Expect(tracker.IsStateAvailable()).To(BeTrue())
				available, _ := rec.Availability()
				Expect(available).To(Equal(2))
				Expect(rec.Count(drbdstate.EventResourceCreated)).To(BeZero())
				Expect(rec.Events()).To(Equal([]string{"RoleChanged r0 Secondary->Primary"}))

				rsc, err := tracker.Resource("r0")
				Expect(err).NotTo(HaveOccurred())
				Expect(rsc.Connections()).To(HaveLen(1))
			})
		})
	})
})
