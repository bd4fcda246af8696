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

package assigner

import (
	"sort"

	"github.com/samber/lo"

	"github.com/shookYu/FalconMind/pkg/apis/core"
	"github.com/shookYu/FalconMind/pkg/errors"
	"github.com/shookYu/FalconMind/pkg/geo"
)

// Greedy picks the top-k candidates by 0.7*battery + 0.3*altitude-fit,
// rejecting any UAV that cannot reach the required altitude.
type Greedy struct{}

func (Greedy) Select(candidates []*core.UAV, req Request) ([]string, error) {
	if err := validate(candidates, req); err != nil {
		return nil, err
	}
	eligible := lo.Filter(candidates, func(u *core.UAV, _ int) bool {
		return req.RequiredAltitude <= 0 || u.Capabilities.MaxAltitude >= req.RequiredAltitude
	})
	if len(eligible) == 0 {
		return nil, errors.CapacityExhausted("no uav satisfies required altitude %.0f m", req.RequiredAltitude)
	}

	type scored struct {
		id    string
		score float64
	}
	scoredUAVs := lo.Map(eligible, func(u *core.UAV, _ int) scored {
		altFit := 1.0
		if req.RequiredAltitude > 0 {
			altFit = min(1.0, u.Capabilities.MaxAltitude/req.RequiredAltitude)
		}
		return scored{id: u.ID, score: u.Capabilities.BatteryRatio()*0.7 + altFit*0.3}
	})
	sort.SliceStable(scoredUAVs, func(i, j int) bool { return scoredUAVs[i].score > scoredUAVs[j].score })

	k := min(req.Count, len(scoredUAVs))
	return lo.Map(scoredUAVs[:k], func(s scored, _ int) string { return s.id }), nil
}

// Proximity picks the candidates closest to the polygon centroid. UAVs with
// no known position sort last.
type Proximity struct{}

func (Proximity) Select(candidates []*core.UAV, req Request) ([]string, error) {
	if err := validate(candidates, req); err != nil {
		return nil, err
	}
	center := geo.Centroid(req.Area.Polygon)

	type scored struct {
		id       string
		distance float64
	}
	scoredUAVs := lo.Map(candidates, func(u *core.UAV, _ int) scored {
		if u.Position == nil {
			return scored{id: u.ID, distance: 1e18}
		}
		return scored{id: u.ID, distance: geo.Haversine(*u.Position, center)}
	})
	sort.SliceStable(scoredUAVs, func(i, j int) bool { return scoredUAVs[i].distance < scoredUAVs[j].distance })

	k := min(req.Count, len(scoredUAVs))
	return lo.Map(scoredUAVs[:k], func(s scored, _ int) string { return s.id }), nil
}
