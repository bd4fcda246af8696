/*
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

package coordinator

import (
	"context"

	"github.com/shookYu/FalconMind/pkg/apis/core"
	"github.com/shookYu/FalconMind/pkg/errors"
	"github.com/shookYu/FalconMind/pkg/events"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var clusterArea = core.Area{
	Polygon: []core.GeoPoint{
		{Latitude: 39.990, Longitude: 116.300},
		{Latitude: 39.990, Longitude: 116.320},
		{Latitude: 40.010, Longitude: 116.320},
		{Latitude: 40.010, Longitude: 116.300},
	},
	MinAltitude: 50,
	MaxAltitude: 120,
}

var _ = Describe("Cluster Missions", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	Describe("Create", func() {
		It("should reject an empty name", func() {
			_, err := coord.Create(ctx, CreateRequest{Area: clusterArea, Count: 1})
			Expect(errors.IsKind(err, errors.KindValidation)).To(BeTrue())
		})
		It("should reject a degenerate polygon", func() {
			bad := core.Area{Polygon: clusterArea.Polygon[:2]}
			_, err := coord.Create(ctx, CreateRequest{Name: "search", Area: bad, Count: 1})
			Expect(errors.IsKind(err, errors.KindValidation)).To(BeTrue())
		})
		It("should reject a non-positive uav count", func() {
			_, err := coord.Create(ctx, CreateRequest{Name: "search", Area: clusterArea})
			Expect(errors.IsKind(err, errors.KindValidation)).To(BeTrue())
		})
		It("should fail when no vehicles are available", func() {
			_, err := coord.Create(ctx, CreateRequest{Name: "search", Area: clusterArea, Count: 2})
			Expect(errors.IsKind(err, errors.KindCapacityExhausted)).To(BeTrue())
		})
		It("should bind each chosen vehicle to a sub-mission with a sweep path", func() {
			registerUAVAt("uav-a", 90, core.GeoPoint{Latitude: 40.000, Longitude: 116.302})
			registerUAVAt("uav-b", 80, core.GeoPoint{Latitude: 40.000, Longitude: 116.318})

			m, err := coord.Create(ctx, CreateRequest{Name: "search", Area: clusterArea, Count: 2})
			Expect(err).ToNot(HaveOccurred())
			Expect(m.Assignments).To(HaveLen(2))
			Expect(m.Version).To(Equal(int64(1)))

			for _, a := range m.Assignments {
				uav, err := inventory.Get(a.UAVID)
				Expect(err).ToNot(HaveOccurred())
				Expect(uav.Status).To(Equal(core.UAVStatusBusy))
				Expect(uav.CurrentMission).To(Equal(m.ID))

				st := coord.State(a.UAVID)
				Expect(st).ToNot(BeNil())
				Expect(st.Status).To(Equal(SubAssigned))
				Expect(st.SubMissionID).To(Equal(a.SubMissionID))
				Expect(st.Path).ToNot(BeEmpty())
			}
			Expect(eventsOfType(events.TypeClusterMissionCreated)).To(HaveLen(1))
			Expect(eventsOfType(events.TypeSearchArea)).To(HaveLen(2))
			Expect(eventsOfType(events.TypeSearchPath)).To(HaveLen(2))
		})
	})

	Describe("Progress", func() {
		var missionID string

		BeforeEach(func() {
			registerUAVAt("uav-a", 90, core.GeoPoint{Latitude: 40.000, Longitude: 116.302})
			registerUAVAt("uav-b", 80, core.GeoPoint{Latitude: 40.000, Longitude: 116.318})
			m, err := coord.Create(ctx, CreateRequest{Name: "search", Area: clusterArea, Count: 2})
			Expect(err).ToNot(HaveOccurred())
			missionID = m.ID
		})
		It("should aggregate the mean across sub-missions", func() {
			aggregate, err := coord.UpdateProgress(ctx, "uav-a", 0.5)
			Expect(err).ToNot(HaveOccurred())
			Expect(aggregate).To(BeNumerically("~", 0.25, 1e-9))

			Expect(coord.State("uav-a").Status).To(Equal(SubSearching))
			Expect(coord.State("uav-b").Status).To(Equal(SubAssigned))

			overall, err := coord.Progress(missionID)
			Expect(err).ToNot(HaveOccurred())
			Expect(overall).To(BeNumerically("~", 0.25, 1e-9))
		})
		It("should never let reported progress regress", func() {
			_, err := coord.UpdateProgress(ctx, "uav-a", 0.6)
			Expect(err).ToNot(HaveOccurred())
			_, err = coord.UpdateProgress(ctx, "uav-a", 0.2)
			Expect(err).ToNot(HaveOccurred())
			Expect(coord.State("uav-a").Progress).To(Equal(0.6))
		})
		It("should release a vehicle when its sub-mission completes", func() {
			_, err := coord.UpdateProgress(ctx, "uav-a", 1.0)
			Expect(err).ToNot(HaveOccurred())
			Expect(coord.State("uav-a").Status).To(Equal(SubCompleted))

			uav, err := inventory.Get("uav-a")
			Expect(err).ToNot(HaveOccurred())
			Expect(uav.Status).To(Equal(core.UAVStatusIdle))
		})
		It("should reject progress for an unknown vehicle", func() {
			_, err := coord.UpdateProgress(ctx, "uav-z", 0.5)
			Expect(errors.IsKind(err, errors.KindNotFound)).To(BeTrue())
		})
		It("should reject progress outside the unit interval", func() {
			_, err := coord.UpdateProgress(ctx, "uav-a", 1.5)
			Expect(errors.IsKind(err, errors.KindValidation)).To(BeTrue())
		})
	})

	Describe("Reassign", func() {
		var missionID, subID string

		BeforeEach(func() {
			registerUAVAt("uav-a", 90, core.GeoPoint{Latitude: 40.000, Longitude: 116.302})
			registerUAVAt("uav-b", 80, core.GeoPoint{Latitude: 40.000, Longitude: 116.318})
			m, err := coord.Create(ctx, CreateRequest{Name: "search", Area: clusterArea, Count: 2})
			Expect(err).ToNot(HaveOccurred())
			missionID = m.ID
			subID = coord.State("uav-a").SubMissionID
		})
		It("should hand the orphaned sub-mission to the best available vehicle", func() {
			registerUAVAt("uav-c", 95, core.GeoPoint{Latitude: 40.000, Longitude: 116.310})
			_, err := coord.UpdateProgress(ctx, "uav-a", 0.3)
			Expect(err).ToNot(HaveOccurred())

			Expect(coord.Reassign(ctx, "uav-a")).To(Succeed())

			Expect(coord.State("uav-a").Status).To(Equal(SubReassigned))
			st := coord.State("uav-c")
			Expect(st).ToNot(BeNil())
			Expect(st.SubMissionID).To(Equal(subID))
			Expect(st.Progress).To(Equal(0.3))
			Expect(st.ClusterMissionID).To(Equal(missionID))

			uav, err := inventory.Get("uav-c")
			Expect(err).ToNot(HaveOccurred())
			Expect(uav.Status).To(Equal(core.UAVStatusBusy))
			Expect(uav.CurrentMission).To(Equal(missionID))

			m, err := coord.Get(missionID)
			Expect(err).ToNot(HaveOccurred())
			ids := []string{}
			for _, a := range m.Assignments {
				ids = append(ids, a.UAVID)
			}
			Expect(ids).To(ContainElement("uav-c"))
			Expect(ids).ToNot(ContainElement("uav-a"))
			Expect(eventsOfType(events.TypeReassigned)).To(HaveLen(1))
		})
		It("should fail when the pool has no replacement", func() {
			err := coord.Reassign(ctx, "uav-a")
			Expect(errors.IsKind(err, errors.KindCapacityExhausted)).To(BeTrue())
		})
		It("should fail for a vehicle with no active sub-mission", func() {
			err := coord.Reassign(ctx, "uav-z")
			Expect(errors.IsKind(err, errors.KindNotFound)).To(BeTrue())
		})
	})

	Describe("Target Tracking", func() {
		BeforeEach(func() {
			registerUAVAt("uav-a", 90, core.GeoPoint{Latitude: 40.000, Longitude: 116.302})
			_, err := coord.Create(ctx, CreateRequest{Name: "search", Area: clusterArea, Count: 1})
			Expect(err).ToNot(HaveOccurred())
		})
		It("should flip to TRACKING when confidence clears the threshold", func() {
			target := core.GeoPoint{Latitude: 40.001, Longitude: 116.305}
			Expect(coord.ReportDetection(ctx, Detection{UAVID: "uav-a", Position: target, Confidence: 0.85})).To(Succeed())

			st := coord.State("uav-a")
			Expect(st.Status).To(Equal(SubTracking))
			Expect(st.Target).ToNot(BeNil())
			Expect(st.Target.Latitude).To(Equal(target.Latitude))
			Expect(eventsOfType(events.TypeDetection)).To(HaveLen(1))
		})
		It("should record a low-confidence sighting without tracking", func() {
			Expect(coord.ReportDetection(ctx, Detection{UAVID: "uav-a", Confidence: 0.4})).To(Succeed())
			st := coord.State("uav-a")
			Expect(st.Status).To(Equal(SubAssigned))
			Expect(st.Target).To(BeNil())
			Expect(eventsOfType(events.TypeDetection)).To(HaveLen(1))
		})
		It("should reject a confidence outside the unit interval", func() {
			err := coord.ReportDetection(ctx, Detection{UAVID: "uav-a", Confidence: 1.4})
			Expect(errors.IsKind(err, errors.KindValidation)).To(BeTrue())
		})
		It("should return a tracking vehicle to its sweep", func() {
			Expect(coord.ReportDetection(ctx, Detection{UAVID: "uav-a", Confidence: 0.9})).To(Succeed())
			Expect(coord.StopTracking("uav-a")).To(Succeed())

			st := coord.State("uav-a")
			Expect(st.Status).To(Equal(SubSearching))
			Expect(st.Target).To(BeNil())
		})
		It("should refuse to stop a vehicle that is not tracking", func() {
			err := coord.StopTracking("uav-a")
			Expect(errors.IsKind(err, errors.KindInvalidState)).To(BeTrue())
		})
	})
})
