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

package autoscaler

import (
	"context"

	"go.uber.org/zap"

	"github.com/shookYu/FalconMind/pkg/apis/core"
	"github.com/shookYu/FalconMind/pkg/events"
	"github.com/shookYu/FalconMind/pkg/fleet"
	"github.com/shookYu/FalconMind/pkg/repository"
	"github.com/shookYu/FalconMind/pkg/scheduler"
	"github.com/shookYu/FalconMind/pkg/scheduler/retry"
	"github.com/shookYu/FalconMind/pkg/utils/idgen"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("FleetSource", func() {
	var (
		ctx       context.Context
		inventory *fleet.Inventory
		sched     *scheduler.Scheduler
		bus       *events.Bus
	)

	BeforeEach(func() {
		ctx = context.Background()
		store := repository.NewMemoryStore()
		bus = events.NewBus(100)
		log := zap.NewNop().Sugar()
		inventory = fleet.NewInventory(store, bus, fleet.NopReplicator{}, fakeClock, log, fleet.Options{})
		sched = scheduler.New(store, inventory, bus, fleet.NopReplicator{}, retry.NewManager(fakeClock), fakeClock, idgen.New(), log, scheduler.Options{})

		for _, id := range []string{"uav-a", "uav-b", "uav-c", "uav-d"} {
			_, err := inventory.Register(ctx, id, core.Capabilities{MaxAltitude: 500, BatteryCapacity: 100, CurrentBattery: 90}, nil)
			Expect(err).ToNot(HaveOccurred())
		}
	})

	It("should sample fleet utilisation and the mission backlog", func() {
		for i := 0; i < 8; i++ {
			_, err := sched.Create(ctx, scheduler.CreateRequest{Name: "patrol"})
			Expect(err).ToNot(HaveOccurred())
		}
		Expect(inventory.SetStatus(ctx, "uav-a", core.UAVStatusBusy, "mission-x")).To(Succeed())

		sample, err := FleetSource{Inventory: inventory, Scheduler: sched}.Sample(ctx)
		Expect(err).ToNot(HaveOccurred())
		// 1 of 4 vehicles busy.
		Expect(sample.CPUPercent).To(Equal(25.0))
		Expect(sample.MemoryPercent).To(BeZero())
		Expect(sample.ActiveMissions).To(BeZero())
		Expect(sample.PendingMissions).To(Equal(8))
	})

	It("should report an empty fleet as idle", func() {
		empty := fleet.NewInventory(repository.NewMemoryStore(), bus, fleet.NopReplicator{}, fakeClock, zap.NewNop().Sugar(), fleet.Options{})
		sample, err := FleetSource{Inventory: empty, Scheduler: sched}.Sample(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(sample.CPUPercent).To(BeZero())
		Expect(sample.MemoryPercent).To(BeZero())
	})

	It("should count the advisory capacity from non-offline vehicles", func() {
		act := AdvisoryActuator{Inventory: inventory, Recorder: bus}
		current, err := act.CurrentCapacity(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(current).To(Equal(4))

		Expect(act.SetCapacity(ctx, 6)).To(Succeed())
		recent := bus.Recent(0)
		Expect(recent).ToNot(BeEmpty())
		last := recent[len(recent)-1]
		Expect(last.Type).To(Equal(events.TypeAlert))
		Expect(last.SubKind).To(Equal("fleet_capacity"))
		Expect(last.Payload).To(Equal(map[string]int{"current": 4, "desired": 6}))
	})
})
