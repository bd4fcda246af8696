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
	"math"

	"github.com/shookYu/FalconMind/pkg/apis/core"
	"github.com/shookYu/FalconMind/pkg/errors"
	"github.com/shookYu/FalconMind/pkg/events"
	"github.com/shookYu/FalconMind/pkg/geo"
)

// reassignNormalizeMeters caps the distance term of the replacement score;
// anything further than this scores zero on proximity.
const reassignNormalizeMeters = 10000.0

// HandleUAVOffline reassigns the sub-mission of a vehicle that dropped
// offline to the best available replacement. Wired into the fleet liveness
// scan through Inventory.OnUAVOffline.
func (c *Coordinator) HandleUAVOffline(uavID, missionID string) {
	ctx := context.Background()
	if err := c.Reassign(ctx, uavID); err != nil {
		if !errors.IsKind(err, errors.KindNotFound) {
			c.log.Errorw("reassigning after offline", "uav", uavID, "mission", missionID, "error", err)
		}
	}
}

// Reassign moves the sub-mission of fromUAV to the highest scoring available
// vehicle. The replacement inherits the sub-area, the remaining path and the
// accumulated progress.
func (c *Coordinator) Reassign(ctx context.Context, fromUAV string) error {
	orphaned, err := c.orphanedState(fromUAV)
	if err != nil {
		return err
	}
	replacement := c.bestReplacement(orphaned.Area)
	if replacement == "" {
		return errors.CapacityExhausted("no replacement available for uav %q", fromUAV)
	}
	return c.transfer(ctx, fromUAV, replacement, orphaned)
}

// orphanedState snapshots the active sub-mission state of the vehicle.
func (c *Coordinator) orphanedState(fromUAV string) (UAVMissionState, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[fromUAV]
	if !ok || st.Status == SubCompleted || st.Status == SubReassigned {
		return UAVMissionState{}, errors.NotFound("uav %q has no active sub-mission", fromUAV)
	}
	return *st, nil
}

// transfer hands the orphaned sub-mission to the replacement and updates the
// mission record.
func (c *Coordinator) transfer(ctx context.Context, fromUAV, replacement string, orphaned UAVMissionState) error {
	if err := c.inventory.SetStatus(ctx, replacement, core.UAVStatusBusy, orphaned.ClusterMissionID); err != nil {
		return err
	}

	c.mu.Lock()
	if old, ok := c.states[fromUAV]; ok {
		old.Status = SubReassigned
		old.UpdatedAt = c.clk.Now()
	}
	c.states[replacement] = &UAVMissionState{
		UAVID:            replacement,
		ClusterMissionID: orphaned.ClusterMissionID,
		SubMissionID:     orphaned.SubMissionID,
		Status:           SubAssigned,
		Progress:         orphaned.Progress,
		Area:             orphaned.Area,
		Path:             orphaned.Path,
		Target:           orphaned.Target,
		UpdatedAt:        c.clk.Now(),
	}
	if m, ok := c.missions[orphaned.ClusterMissionID]; ok {
		for i := range m.Assignments {
			if m.Assignments[i].SubMissionID == orphaned.SubMissionID {
				m.Assignments[i].UAVID = replacement
			}
		}
		m.Version++
		snapshot := *m
		if err := c.persistLocked(ctx, m); err != nil {
			c.mu.Unlock()
			return err
		}
		c.mu.Unlock()
		c.replicate(ctx, core.SyncOpUpdate, &snapshot)
	} else {
		c.mu.Unlock()
	}

	c.rec.Publish(events.Event{Type: events.TypeReassigned, EntityID: orphaned.SubMissionID, Payload: map[string]any{
		"from":         fromUAV,
		"to":           replacement,
		"subMissionId": orphaned.SubMissionID,
	}})
	c.log.Infow("reassigned sub-mission", "sub", orphaned.SubMissionID, "from", fromUAV, "to", replacement)
	return nil
}

// bestReplacement scores available vehicles as 0.4*battery + 0.4*proximity +
// 0.2*idleness and returns the winner, empty when the pool is dry.
func (c *Coordinator) bestReplacement(area core.Area) string {
	center := geo.Centroid(area.Polygon)
	best := ""
	bestScore := math.Inf(-1)
	for _, u := range c.inventory.Available() {
		proximity := 0.0
		if u.Position != nil {
			d := geo.Haversine(*u.Position, center)
			proximity = math.Max(0, 1-d/reassignNormalizeMeters)
		}
		score := 0.4*u.Capabilities.BatteryRatio() + 0.4*proximity + 0.2*(1-clamp01(u.Workload))
		if score > bestScore {
			bestScore = score
			best = u.ID
		}
	}
	return best
}

// Load-balancing constants: mission pressure normalizes over 5 missions and
// caps at 0.5, the rest of the load comes from the reported workload. A
// suggestion appears once the fleet spread exceeds rebalanceSpread.
const (
	loadMissionNormalizer = 5.0
	loadMissionCap        = 0.5
	rebalanceSpread       = 0.2
)

// RebalanceSuggestion names the single move that would even out the fleet.
type RebalanceSuggestion struct {
	FromUAV  string  `json:"fromUav"`
	ToUAV    string  `json:"toUav"`
	FromLoad float64 `json:"fromLoad"`
	ToLoad   float64 `json:"toLoad"`
	Spread   float64 `json:"spread"`
}

// vehicleLoad blends mission pressure with the reported workload. A vehicle
// flies at most one cluster mission at a time, so the mission term is 0 or
// 1/loadMissionNormalizer.
func vehicleLoad(u *core.UAV) float64 {
	active := 0.0
	if u.CurrentMission != "" {
		active = 1
	}
	return math.Min(active/loadMissionNormalizer, loadMissionCap) + 0.5*clamp01(u.Workload)
}

// Rebalance inspects the fleet's load spread and suggests moving the most
// loaded vehicle's sub-mission to the least loaded available one. The move
// only happens when execute is set; by default the caller gets the suggestion
// and the fleet is left alone. Returns nil when the fleet is balanced or
// there is nothing movable.
func (c *Coordinator) Rebalance(ctx context.Context, execute bool) (*RebalanceSuggestion, error) {
	var from *core.UAV
	minLoad, maxLoad := math.Inf(1), math.Inf(-1)
	for _, u := range c.inventory.List() {
		if u.Status == core.UAVStatusOffline || u.Status == core.UAVStatusError {
			continue
		}
		load := vehicleLoad(u)
		if load < minLoad {
			minLoad = load
		}
		if load > maxLoad {
			maxLoad = load
			from = u
		}
	}
	if from == nil || maxLoad-minLoad <= rebalanceSpread {
		return nil, nil
	}
	orphaned, err := c.orphanedState(from.ID)
	if err != nil {
		return nil, nil
	}

	var to *core.UAV
	toLoad := math.Inf(1)
	for _, u := range c.inventory.Available() {
		if load := vehicleLoad(u); load < toLoad {
			toLoad = load
			to = u
		}
	}
	if to == nil {
		return nil, nil
	}

	suggestion := &RebalanceSuggestion{
		FromUAV:  from.ID,
		ToUAV:    to.ID,
		FromLoad: maxLoad,
		ToLoad:   toLoad,
		Spread:   maxLoad - minLoad,
	}
	if !execute {
		return suggestion, nil
	}
	if err := c.transfer(ctx, from.ID, to.ID, orphaned); err != nil {
		return nil, err
	}
	if err := c.inventory.SetStatus(ctx, from.ID, core.UAVStatusIdle, ""); err != nil && !errors.IsKind(err, errors.KindNotFound) {
		c.log.Errorw("releasing rebalanced uav", "uav", from.ID, "error", err)
	}
	return suggestion, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
