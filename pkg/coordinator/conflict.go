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
	"sort"
	"time"

	"github.com/shookYu/FalconMind/pkg/apis/core"
	"github.com/shookYu/FalconMind/pkg/events"
	"github.com/shookYu/FalconMind/pkg/geo"
	"github.com/shookYu/FalconMind/pkg/metrics"
)

// SubKindCollisionRisk tags separation-violation events.
const SubKindCollisionRisk = "COLLISION_RISK"

// severityWindow is the state-staleness span over which conflict severity
// decays from 1 to 0.
const severityWindow = 10 * time.Second

// Conflict is one detected separation violation between two vehicles flying
// the same cluster mission. Severity reflects how fresh the pair's states are
// relative to each other: two vehicles updated at the same instant score 1,
// and the score decays linearly to 0 as their update gap approaches the
// severity window.
type Conflict struct {
	UAVA       string         `json:"uavA"`
	UAVB       string         `json:"uavB"`
	Distance   float64        `json:"distance"`
	Severity   float64        `json:"severity"`
	Waypoint   *core.GeoPoint `json:"waypoint,omitempty"`
	DetectedAt time.Time      `json:"detectedAt"`
}

// RunConflictScan periodically detects and resolves separation conflicts
// between busy vehicles. Blocks until ctx is cancelled.
func (c *Coordinator) RunConflictScan(ctx context.Context) {
	ticker := time.NewTicker(c.opts.ConflictScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, conflict := range c.DetectConflicts() {
				c.ResolveConflict(ctx, conflict)
			}
		}
	}
}

// DetectConflicts compares every pair of vehicles flying the same cluster
// mission and reports pairs with known positions closer than the minimum
// separation. Vehicles on different missions never conflict here; they fly
// disjoint polygons.
func (c *Coordinator) DetectConflicts() []Conflict {
	c.mu.Lock()
	byMission := map[string][]*UAVMissionState{}
	for _, st := range c.states {
		if st.Status == SubCompleted || st.Status == SubReassigned {
			continue
		}
		snapshot := *st
		byMission[st.ClusterMissionID] = append(byMission[st.ClusterMissionID], &snapshot)
	}
	c.mu.Unlock()

	var out []Conflict
	now := c.clk.Now()
	for _, group := range byMission {
		sort.Slice(group, func(i, j int) bool { return group[i].UAVID < group[j].UAVID })
		positions := make([]*core.GeoPoint, len(group))
		for i, st := range group {
			if u, err := c.inventory.Get(st.UAVID); err == nil {
				positions[i] = u.Position
			}
		}
		for i := 0; i < len(group); i++ {
			if positions[i] == nil {
				continue
			}
			for j := i + 1; j < len(group); j++ {
				if positions[j] == nil {
					continue
				}
				d := geo.Haversine(*positions[i], *positions[j])
				if d >= c.opts.MinSeparation {
					continue
				}
				mid := geo.Centroid([]core.GeoPoint{*positions[i], *positions[j]})
				out = append(out, Conflict{
					UAVA:       group[i].UAVID,
					UAVB:       group[j].UAVID,
					Distance:   d,
					Severity:   conflictSeverity(group[i].UpdatedAt, group[j].UpdatedAt),
					Waypoint:   &mid,
					DetectedAt: now,
				})
				metrics.ConflictsDetected.WithLabelValues("separation").Inc()
			}
		}
	}
	return out
}

// conflictSeverity scores a pair by the gap between their state update times.
func conflictSeverity(a, b time.Time) float64 {
	gap := math.Abs(a.Sub(b).Seconds())
	return 1 - math.Min(gap/severityWindow.Seconds(), 1)
}

// ResolveConflict sidesteps the vehicle with the lexicographically larger id
// away from the other by ReplanOffsetFactor times the minimum separation. The
// deterministic choice keeps both nodes of a replicated pair resolving the
// same way.
func (c *Coordinator) ResolveConflict(ctx context.Context, conflict Conflict) {
	yielding, holding := conflict.UAVB, conflict.UAVA
	if yielding < holding {
		yielding, holding = holding, yielding
	}
	yieldUAV, err := c.inventory.Get(yielding)
	if err != nil || yieldUAV.Position == nil {
		return
	}
	holdUAV, err := c.inventory.Get(holding)
	if err != nil || holdUAV.Position == nil {
		return
	}

	offset := c.opts.MinSeparation * c.opts.ReplanOffsetFactor
	east, north := awayDirection(*holdUAV.Position, *yieldUAV.Position)
	waypoint := geo.Offset(*yieldUAV.Position, east*offset, north*offset)

	c.mu.Lock()
	st, tracked := c.states[yielding]
	if tracked {
		st.Path = append([]core.GeoPoint{waypoint}, st.Path...)
		st.UpdatedAt = c.clk.Now()
	}
	c.mu.Unlock()

	c.rec.Publish(events.Event{Type: events.TypeConflict, SubKind: SubKindCollisionRisk, EntityID: yielding, Payload: conflict})
	if tracked {
		c.rec.Publish(events.Event{Type: events.TypeSearchPath, EntityID: yielding, Payload: c.State(yielding).Path})
	}
	c.log.Infow("resolved separation conflict",
		"yielding", yielding, "holding", holding,
		"distance", conflict.Distance, "offset", offset)
}

// awayDirection is the unit vector (east, north) pointing from `from` toward
// `to`, i.e. the direction that moves `to` further away from `from`. Two
// co-located vehicles separate due east.
func awayDirection(from, to core.GeoPoint) (east, north float64) {
	lonScale := math.Cos(from.Latitude * math.Pi / 180)
	east = (to.Longitude - from.Longitude) * lonScale
	north = to.Latitude - from.Latitude
	norm := math.Hypot(east, north)
	if norm < 1e-12 {
		return 1, 0
	}
	return east / norm, north / norm
}
