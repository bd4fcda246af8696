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
	"time"

	"github.com/shookYu/FalconMind/pkg/apis/core"
	"github.com/shookYu/FalconMind/pkg/errors"
	"github.com/shookYu/FalconMind/pkg/events"
	"github.com/shookYu/FalconMind/pkg/geo"
	"github.com/shookYu/FalconMind/pkg/metrics"
)

// SubKindObstacleRisk tags predicted obstacle encroachment events.
const SubKindObstacleRisk = "OBSTACLE_RISK"

// obstacleHorizon is how far ahead a moving obstacle is projected when
// checking for encroachment.
const obstacleHorizon = 5 * time.Second

// Obstacle is a moving hazard reported against a vehicle, with a ground
// velocity in meters per second.
type Obstacle struct {
	ID            string        `json:"id"`
	Position      core.GeoPoint `json:"position"`
	VelocityEast  float64       `json:"velocityEast"`
	VelocityNorth float64       `json:"velocityNorth"`
	// Radius of the hazard in meters; the coordinator default applies when
	// omitted.
	Radius float64 `json:"radius,omitempty"`
}

// AvoidObstacle projects the obstacle along its velocity over the planning
// horizon. If the predicted position comes within twice the avoidance radius
// of the vehicle, a detour waypoint is planted on the line from the predicted
// position through the vehicle, at twice the radius, and prepended to the
// vehicle's path. Returns nil when the obstacle stays clear.
func (c *Coordinator) AvoidObstacle(ctx context.Context, uavID string, obs Obstacle) (*core.GeoPoint, error) {
	u, err := c.inventory.Get(uavID)
	if err != nil {
		return nil, err
	}
	if u.Position == nil {
		return nil, errors.InvalidState("uav %q has no known position", uavID)
	}

	radius := obs.Radius
	if radius <= 0 {
		radius = c.opts.AvoidanceRadius
	}
	seconds := obstacleHorizon.Seconds()
	predicted := geo.Offset(obs.Position, obs.VelocityEast*seconds, obs.VelocityNorth*seconds)
	clearance := 2 * radius
	if geo.Haversine(predicted, *u.Position) >= clearance {
		return nil, nil
	}

	east, north := awayDirection(predicted, *u.Position)
	waypoint := geo.Offset(predicted, east*clearance, north*clearance)

	c.mu.Lock()
	st, tracked := c.states[uavID]
	if tracked {
		st.Path = append([]core.GeoPoint{waypoint}, st.Path...)
		st.UpdatedAt = c.clk.Now()
	}
	c.mu.Unlock()

	metrics.ConflictsDetected.WithLabelValues("obstacle").Inc()
	c.rec.Publish(events.Event{Type: events.TypeConflict, SubKind: SubKindObstacleRisk, EntityID: uavID, Payload: map[string]any{
		"obstacleId": obs.ID,
		"predicted":  predicted,
		"waypoint":   waypoint,
	}})
	if tracked {
		c.rec.Publish(events.Event{Type: events.TypeSearchPath, EntityID: uavID, Payload: c.State(uavID).Path})
	}
	c.log.Infow("planned obstacle detour", "uav", uavID, "obstacle", obs.ID, "clearance", clearance)
	return &waypoint, nil
}
