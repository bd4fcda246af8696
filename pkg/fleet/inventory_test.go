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

package fleet

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/shookYu/FalconMind/pkg/apis/core"
	"github.com/shookYu/FalconMind/pkg/errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var caps = core.Capabilities{
	MaxAltitude:     500,
	MaxSpeed:        20,
	BatteryCapacity: 100,
	CurrentBattery:  90,
}

var _ = Describe("Inventory", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	Describe("Register", func() {
		It("should admit a new vehicle as ONLINE", func() {
			uav, err := inventory.Register(ctx, "uav-1", caps, map[string]string{"model": "quad"})
			Expect(err).ToNot(HaveOccurred())
			Expect(uav.Status).To(Equal(core.UAVStatusOnline))
			Expect(uav.LastHeartbeat).To(Equal(fakeClock.Now()))
			Expect(uav.Version).To(Equal(int64(1)))
			Expect(uav.Metadata).To(HaveKeyWithValue("model", "quad"))
		})
		It("should reject an empty id", func() {
			_, err := inventory.Register(ctx, "", caps, nil)
			Expect(errors.IsKind(err, errors.KindValidation)).To(BeTrue())
		})
		It("should keep status and mission binding on re-registration", func() {
			_, err := inventory.Register(ctx, "uav-1", caps, nil)
			Expect(err).ToNot(HaveOccurred())
			Expect(inventory.SetStatus(ctx, "uav-1", core.UAVStatusBusy, "mission-1")).To(Succeed())

			refreshed := caps
			refreshed.CurrentBattery = 50
			uav, err := inventory.Register(ctx, "uav-1", refreshed, nil)
			Expect(err).ToNot(HaveOccurred())
			Expect(uav.Status).To(Equal(core.UAVStatusBusy))
			Expect(uav.CurrentMission).To(Equal("mission-1"))
			Expect(uav.Capabilities.CurrentBattery).To(Equal(50.0))
			Expect(uav.Version).To(Equal(int64(3)))
		})
	})

	Describe("Heartbeat", func() {
		It("should refresh last-seen", func() {
			_, err := inventory.Register(ctx, "uav-1", caps, nil)
			Expect(err).ToNot(HaveOccurred())

			fakeClock.Step(30 * time.Second)
			Expect(inventory.Heartbeat(ctx, "uav-1")).To(Succeed())

			uav, err := inventory.Get("uav-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(uav.LastHeartbeat).To(Equal(fakeClock.Now()))
		})
		It("should fail for an unknown vehicle", func() {
			err := inventory.Heartbeat(ctx, "uav-ghost")
			Expect(errors.IsKind(err, errors.KindNotFound)).To(BeTrue())
		})
		It("should bring an OFFLINE vehicle back ONLINE", func() {
			_, err := inventory.Register(ctx, "uav-1", caps, nil)
			Expect(err).ToNot(HaveOccurred())
			fakeClock.Step(2 * time.Minute)
			inventory.scanOnce(ctx)

			uav, err := inventory.Get("uav-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(uav.Status).To(Equal(core.UAVStatusOffline))

			Expect(inventory.Heartbeat(ctx, "uav-1")).To(Succeed())
			uav, err = inventory.Get("uav-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(uav.Status).To(Equal(core.UAVStatusOnline))
		})
	})

	Describe("SetStatus", func() {
		BeforeEach(func() {
			_, err := inventory.Register(ctx, "uav-1", caps, nil)
			Expect(err).ToNot(HaveOccurred())
		})
		It("should require a mission to go BUSY", func() {
			err := inventory.SetStatus(ctx, "uav-1", core.UAVStatusBusy, "")
			Expect(errors.IsKind(err, errors.KindInvalidState)).To(BeTrue())
		})
		It("should clear the binding on release", func() {
			Expect(inventory.SetStatus(ctx, "uav-1", core.UAVStatusBusy, "mission-1")).To(Succeed())
			Expect(inventory.Available()).To(BeEmpty())

			Expect(inventory.SetStatus(ctx, "uav-1", core.UAVStatusIdle, "")).To(Succeed())
			uav, err := inventory.Get("uav-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(uav.CurrentMission).To(BeEmpty())
			Expect(inventory.Available()).To(HaveLen(1))
		})
	})

	Describe("ObserveTelemetry", func() {
		It("should refresh position and battery", func() {
			_, err := inventory.Register(ctx, "uav-1", caps, nil)
			Expect(err).ToNot(HaveOccurred())

			Expect(inventory.ObserveTelemetry(ctx, core.Telemetry{
				UAVID:          "uav-1",
				Latitude:       40.0,
				Longitude:      116.3,
				Altitude:       80,
				BatteryPercent: 42,
			})).To(Succeed())

			uav, err := inventory.Get("uav-1")
			Expect(err).ToNot(HaveOccurred())
			Expect(uav.Position).ToNot(BeNil())
			Expect(uav.Position.Latitude).To(Equal(40.0))
			Expect(uav.Capabilities.CurrentBattery).To(Equal(42.0))
		})
		It("should fail for an unknown vehicle", func() {
			err := inventory.ObserveTelemetry(ctx, core.Telemetry{UAVID: "uav-ghost"})
			Expect(errors.IsKind(err, errors.KindNotFound)).To(BeTrue())
		})
	})

	Describe("Remove", func() {
		It("should end the lifecycle", func() {
			_, err := inventory.Register(ctx, "uav-1", caps, nil)
			Expect(err).ToNot(HaveOccurred())
			Expect(inventory.Remove(ctx, "uav-1")).To(Succeed())

			Expect(errors.IsKind(inventory.Heartbeat(ctx, "uav-1"), errors.KindNotFound)).To(BeTrue())
		})
	})

	Describe("Load", func() {
		It("should rebuild the table from the repository", func() {
			_, err := inventory.Register(ctx, "uav-1", caps, nil)
			Expect(err).ToNot(HaveOccurred())
			_, err = inventory.Register(ctx, "uav-2", caps, nil)
			Expect(err).ToNot(HaveOccurred())

			rebuilt := NewInventory(store, bus, NopReplicator{}, fakeClock, zap.NewNop().Sugar(), Options{})
			Expect(rebuilt.Load(ctx)).To(Succeed())
			Expect(rebuilt.List()).To(HaveLen(2))
		})
	})
})

var _ = Describe("Liveness", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	It("should mark a silent vehicle OFFLINE past the threshold", func() {
		_, err := inventory.Register(ctx, "uav-1", caps, nil)
		Expect(err).ToNot(HaveOccurred())
		_, err = inventory.Register(ctx, "uav-2", caps, nil)
		Expect(err).ToNot(HaveOccurred())

		fakeClock.Step(45 * time.Second)
		Expect(inventory.Heartbeat(ctx, "uav-2")).To(Succeed())
		fakeClock.Step(30 * time.Second)
		inventory.scanOnce(ctx)

		uav, err := inventory.Get("uav-1")
		Expect(err).ToNot(HaveOccurred())
		Expect(uav.Status).To(Equal(core.UAVStatusOffline))
		uav, err = inventory.Get("uav-2")
		Expect(err).ToNot(HaveOccurred())
		Expect(uav.Status).To(Equal(core.UAVStatusOnline))
	})
	It("should report orphaned missions for reassignment", func() {
		var gotUAV, gotMission string
		inventory.OnUAVOffline(func(uavID, missionID string) {
			gotUAV, gotMission = uavID, missionID
		})

		_, err := inventory.Register(ctx, "uav-1", caps, nil)
		Expect(err).ToNot(HaveOccurred())
		Expect(inventory.SetStatus(ctx, "uav-1", core.UAVStatusBusy, "mission-1")).To(Succeed())

		fakeClock.Step(2 * time.Minute)
		inventory.scanOnce(ctx)

		Expect(gotUAV).To(Equal("uav-1"))
		Expect(gotMission).To(Equal("mission-1"))
	})
	It("should leave an already OFFLINE vehicle alone", func() {
		_, err := inventory.Register(ctx, "uav-1", caps, nil)
		Expect(err).ToNot(HaveOccurred())

		fakeClock.Step(2 * time.Minute)
		inventory.scanOnce(ctx)
		v := inventory.Version("uav-1")

		fakeClock.Step(2 * time.Minute)
		inventory.scanOnce(ctx)
		Expect(inventory.Version("uav-1")).To(Equal(v))
	})
})
