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

package splitter

import (
	"math"

	"github.com/shookYu/FalconMind/pkg/apis/core"
	"github.com/shookYu/FalconMind/pkg/geo"
)

// gridSpacingMeters is the sample spacing of the weighted-Voronoi grid.
const gridSpacingMeters = 100.0

// weightEpsilon avoids dividing by a zero weight for a fully drained UAV.
const weightEpsilon = 1e-6

// voronoiSplit samples a regular grid inside the polygon and assigns each
// sample to the participant minimising distance/(weight+eps). The sub-area
// for a participant is the axis-aligned bounding box of its samples, not the
// true weighted-Voronoi cell. Participants without a known position fall
// back to the polygon centroid as their seed.
func voronoiSplit(area core.Area, participants []Participant) []core.Area {
	box := geo.Bounds(area.Polygon)
	centroid := geo.Centroid(area.Polygon)

	seeds := make([]core.GeoPoint, len(participants))
	weights := make([]float64, len(participants))
	for i, p := range participants {
		if p.Position != nil {
			seeds[i] = *p.Position
		} else {
			seeds[i] = centroid
		}
		weights[i] = p.weight()
	}

	latStep := gridSpacingMeters / geo.MetersPerDegree
	lonScale := math.Cos(centroid.Latitude * math.Pi / 180)
	if math.Abs(lonScale) < 1e-9 {
		lonScale = 1e-9
	}
	lonStep := gridSpacingMeters / (geo.MetersPerDegree * lonScale)

	groups := make([][]core.GeoPoint, len(participants))
	for lat := box.MinLat; lat <= box.MaxLat; lat += latStep {
		for lon := box.MinLon; lon <= box.MaxLon; lon += lonStep {
			sample := core.GeoPoint{Latitude: lat, Longitude: lon, Altitude: area.MinAltitude}
			if !geo.PointInPolygon(sample, area.Polygon) {
				continue
			}
			best := 0
			bestScore := math.Inf(1)
			for i := range seeds {
				score := geo.Haversine(sample, seeds[i]) / (weights[i] + weightEpsilon)
				if score < bestScore {
					bestScore = score
					best = i
				}
			}
			groups[best] = append(groups[best], sample)
		}
	}

	out := make([]core.Area, len(participants))
	for i, group := range groups {
		if len(group) == 0 {
			// A starved participant still gets a sliver at its seed so every
			// sub-mission has a flyable area.
			group = []core.GeoPoint{seeds[i]}
		}
		out[i] = subArea(geo.Bounds(group), area)
	}
	return out
}
