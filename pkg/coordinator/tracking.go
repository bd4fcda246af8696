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
)

// Detection is a reported target sighting from a searching vehicle.
type Detection struct {
	UAVID      string        `json:"uavId"`
	Position   core.GeoPoint `json:"position"`
	Confidence float64       `json:"confidence"`
	Label      string        `json:"label,omitempty"`
	ReportedAt time.Time     `json:"reportedAt"`
}

// ReportDetection records a sighting and flips the reporting vehicle into
// tracking mode when the confidence clears the threshold.
func (c *Coordinator) ReportDetection(ctx context.Context, d Detection) error {
	if d.Confidence < 0 || d.Confidence > 1 {
		return errors.Validation("confidence %.3f outside [0, 1]", d.Confidence)
	}
	d.ReportedAt = c.clk.Now()

	c.mu.Lock()
	st, tracked := c.states[d.UAVID]
	if tracked && d.Confidence >= trackingConfidence {
		target := d.Position
		st.Target = &target
		st.Status = SubTracking
		st.UpdatedAt = d.ReportedAt
	}
	c.mu.Unlock()

	c.rec.Publish(events.Event{Type: events.TypeDetection, EntityID: d.UAVID, Payload: d})
	c.log.Infow("detection reported", "uav", d.UAVID, "confidence", d.Confidence, "tracking", tracked && d.Confidence >= trackingConfidence)
	return nil
}

// trackingConfidence is the sighting confidence at which the reporting
// vehicle abandons its sweep and follows the target.
const trackingConfidence = 0.7

// StopTracking returns a tracking vehicle to its search sweep.
func (c *Coordinator) StopTracking(uavID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[uavID]
	if !ok {
		return errors.NotFound("uav %q has no cluster mission", uavID)
	}
	if st.Status != SubTracking {
		return errors.InvalidState("uav %q is not tracking", uavID)
	}
	st.Target = nil
	st.Status = SubSearching
	st.UpdatedAt = c.clk.Now()
	return nil
}
