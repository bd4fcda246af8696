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

	"github.com/shookYu/FalconMind/pkg/apis/core"
	"github.com/shookYu/FalconMind/pkg/events"
	"github.com/shookYu/FalconMind/pkg/fleet"
	"github.com/shookYu/FalconMind/pkg/scheduler"
)

// FleetSource derives utilisation samples from the fleet and the mission
// backlog. Vehicles carry no host metrics, so the busy fraction stands in for
// CPU and the mean reported workload for memory; both land on the same 0-100
// scale the thresholds speak.
type FleetSource struct {
	Inventory *fleet.Inventory
	Scheduler *scheduler.Scheduler
}

func (s FleetSource) Sample(context.Context) (Sample, error) {
	counts := s.Scheduler.Counts()
	uavs := s.Inventory.List()
	active := 0
	busy := 0
	workload := 0.0
	for _, u := range uavs {
		if u.Status != core.UAVStatusOffline && u.Status != core.UAVStatusError {
			active++
			workload += u.Workload
		}
		if u.Status == core.UAVStatusBusy {
			busy++
		}
	}

	sample := Sample{
		ActiveMissions:  counts[core.MissionRunning],
		PendingMissions: counts[core.MissionPending],
	}
	if active > 0 {
		sample.CPUPercent = 100 * float64(busy) / float64(active)
		sample.MemoryPercent = 100 * workload / float64(active)
	}
	return sample, nil
}

// AdvisoryActuator records the desired capacity and raises a capacity event
// for the ground crew. The control plane cannot launch airframes on its own;
// actuation here means telling the people who can.
type AdvisoryActuator struct {
	Inventory *fleet.Inventory
	Recorder  events.Recorder
}

func (a AdvisoryActuator) CurrentCapacity(context.Context) (int, error) {
	active := 0
	for _, u := range a.Inventory.List() {
		if u.Status != core.UAVStatusOffline && u.Status != core.UAVStatusError {
			active++
		}
	}
	return active, nil
}

func (a AdvisoryActuator) SetCapacity(_ context.Context, desired int) error {
	current, _ := a.CurrentCapacity(context.Background())
	a.Recorder.Publish(events.Event{
		Type:    events.TypeAlert,
		SubKind: "fleet_capacity",
		Message: "fleet capacity change requested",
		Payload: map[string]int{"current": current, "desired": desired},
	})
	return nil
}
