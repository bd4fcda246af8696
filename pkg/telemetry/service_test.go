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

package telemetry

import (
	"context"
	"time"

	"github.com/shookYu/FalconMind/pkg/apis/core"
	"github.com/shookYu/FalconMind/pkg/errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Ingest", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	It("should accept a valid report and refresh the inventory", func() {
		Expect(svc.Ingest(ctx, report(nil))).To(Succeed())

		uav, err := inventory.Get("uav-1")
		Expect(err).ToNot(HaveOccurred())
		Expect(uav.Position).ToNot(BeNil())
		Expect(uav.Position.Latitude).To(Equal(40.0))
		Expect(uav.Capabilities.CurrentBattery).To(Equal(75.0))

		last, ok := svc.Last("uav-1")
		Expect(ok).To(BeTrue())
		Expect(last.BatteryPercent).To(Equal(75.0))
		Expect(fannedOut()).To(HaveLen(1))
	})

	Context("validation", func() {
		It("should reject a report without a uav id", func() {
			err := svc.Ingest(ctx, report(func(t *core.Telemetry) { t.UAVID = "" }))
			Expect(errors.IsKind(err, errors.KindValidation)).To(BeTrue())
		})
		It("should reject an out-of-range latitude", func() {
			err := svc.Ingest(ctx, report(func(t *core.Telemetry) { t.Latitude = 91 }))
			Expect(errors.IsKind(err, errors.KindValidation)).To(BeTrue())
		})
		It("should reject a battery percentage above 100", func() {
			err := svc.Ingest(ctx, report(func(t *core.Telemetry) { t.BatteryPercent = 130 }))
			Expect(errors.IsKind(err, errors.KindValidation)).To(BeTrue())
		})
		It("should reject a timestamp too far in the future", func() {
			err := svc.Ingest(ctx, report(func(t *core.Telemetry) { t.Timestamp = fakeClock.Now().Add(time.Second) }))
			Expect(errors.IsKind(err, errors.KindValidation)).To(BeTrue())
		})
		It("should reject a report older than an hour", func() {
			err := svc.Ingest(ctx, report(func(t *core.Telemetry) { t.Timestamp = fakeClock.Now().Add(-2 * time.Hour) }))
			Expect(errors.IsKind(err, errors.KindValidation)).To(BeTrue())
		})
		It("should tolerate a report just inside the staleness cutoff", func() {
			Expect(svc.Ingest(ctx, report(func(t *core.Telemetry) {
				t.Timestamp = fakeClock.Now().Add(-59 * time.Minute)
			}))).To(Succeed())
		})
		It("should tolerate a timestamp within the skew allowance", func() {
			Expect(svc.Ingest(ctx, report(func(t *core.Telemetry) {
				t.Timestamp = fakeClock.Now().Add(300 * time.Millisecond)
			}))).To(Succeed())
		})
		It("should stamp a missing timestamp with the node clock", func() {
			Expect(svc.Ingest(ctx, report(func(t *core.Telemetry) { t.Timestamp = time.Time{} }))).To(Succeed())
			last, ok := svc.Last("uav-1")
			Expect(ok).To(BeTrue())
			Expect(last.Timestamp).To(Equal(fakeClock.Now()))
		})
	})

	It("should reject a report from an unregistered vehicle", func() {
		err := svc.Ingest(ctx, report(func(t *core.Telemetry) { t.UAVID = "uav-ghost" }))
		Expect(errors.IsKind(err, errors.KindNotFound)).To(BeTrue())
	})

	Context("significance filtering", func() {
		BeforeEach(func() {
			Expect(svc.Ingest(ctx, report(nil))).To(Succeed())
			Expect(fannedOut()).To(HaveLen(1))
		})
		It("should swallow a report that barely moved", func() {
			Expect(svc.Ingest(ctx, report(func(t *core.Telemetry) {
				t.Latitude += 0.0001
				t.Altitude += 0.2
				t.BatteryPercent -= 0.3
			}))).To(Succeed())
			Expect(fannedOut()).To(HaveLen(1))
		})
		It("should fan out a meaningful position change", func() {
			Expect(svc.Ingest(ctx, report(func(t *core.Telemetry) { t.Longitude += 0.002 }))).To(Succeed())
			Expect(fannedOut()).To(HaveLen(2))
		})
		It("should fan out an altitude change of a meter or more", func() {
			Expect(svc.Ingest(ctx, report(func(t *core.Telemetry) { t.Altitude += 1.5 }))).To(Succeed())
			Expect(fannedOut()).To(HaveLen(2))
		})
		It("should fan out a battery drop of a percent or more", func() {
			Expect(svc.Ingest(ctx, report(func(t *core.Telemetry) { t.BatteryPercent -= 2 }))).To(Succeed())
			Expect(fannedOut()).To(HaveLen(2))
		})
		It("should always fan out a flight mode change", func() {
			Expect(svc.Ingest(ctx, report(func(t *core.Telemetry) { t.FlightMode = "RTL" }))).To(Succeed())
			Expect(fannedOut()).To(HaveLen(2))
		})
		It("should always fan out a GPS fix change", func() {
			Expect(svc.Ingest(ctx, report(func(t *core.Telemetry) { t.GPSFixType = 1 }))).To(Succeed())
			Expect(fannedOut()).To(HaveLen(2))
		})
		It("should still refresh the inventory for a swallowed report", func() {
			Expect(svc.Ingest(ctx, report(func(t *core.Telemetry) { t.BatteryPercent = 74.5 }))).To(Succeed())
			uav, err := inventory.Get("uav-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(uav.Capabilities.CurrentBattery).To(Equal(74.5))
		})
		It("should fan out again after Forget", func() {
			svc.Forget("uav-1")
			Expect(svc.Ingest(ctx, report(nil))).To(Succeed())
			Expect(fannedOut()).To(HaveLen(2))
		})
	})
})
