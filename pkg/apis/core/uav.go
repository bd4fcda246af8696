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

package core

import "time"

type UAVStatus string

const (
	UAVStatusOnline  UAVStatus = "ONLINE"
	UAVStatusOffline UAVStatus = "OFFLINE"
	UAVStatusBusy    UAVStatus = "BUSY"
	UAVStatusIdle    UAVStatus = "IDLE"
	UAVStatusError   UAVStatus = "ERROR"
)

// Capabilities is the static performance envelope reported at registration,
// plus the current battery level refreshed by telemetry.
type Capabilities struct {
	MaxAltitude     float64 `json:"maxAltitude"`
	MaxSpeed        float64 `json:"maxSpeed"`
	BatteryCapacity float64 `json:"batteryCapacity"`
	CurrentBattery  float64 `json:"currentBattery"`
	MaxPayload      float64 `json:"maxPayload"`
}

// BatteryRatio returns current charge as a fraction of capacity, clamped to [0, 1].
func (c Capabilities) BatteryRatio() float64 {
	if c.BatteryCapacity <= 0 {
		return 0
	}
	r := c.CurrentBattery / c.BatteryCapacity
	if r < 0 {
		return 0
	}
	if r > 1 {
		return 1
	}
	return r
}

// UAV is a single registered vehicle. CurrentMission is empty unless the UAV
// is bound to a mission; Status BUSY implies a non-empty CurrentMission.
type UAV struct {
	ID             string            `json:"id"`
	Status         UAVStatus         `json:"status"`
	LastHeartbeat  time.Time         `json:"lastHeartbeat"`
	CurrentMission string            `json:"currentMission,omitempty"`
	Capabilities   Capabilities      `json:"capabilities"`
	Position       *GeoPoint         `json:"position,omitempty"`
	Workload       float64           `json:"workload"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Version        int64             `json:"version"`
	RegisteredAt   time.Time         `json:"registeredAt"`
}

// Available reports whether the UAV can accept a new mission. IDLE is the
// post-release state and counts as available; only a heartbeat gap or an
// explicit transition takes a vehicle out of the pool.
func (u *UAV) Available() bool {
	return (u.Status == UAVStatusOnline || u.Status == UAVStatusIdle) && u.CurrentMission == ""
}
