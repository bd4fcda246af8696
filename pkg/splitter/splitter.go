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

// Package splitter decomposes a search polygon into per-UAV sub-areas.
// Sub-areas cover the parent polygon but are not guaranteed disjoint; that is
// a coverage hint, not a contract. Every method works on the axis-aligned
// bounding box and inherits the parent altitude band.
package splitter

import (
	"github.com/shookYu/FalconMind/pkg/apis/core"
	"github.com/shookYu/FalconMind/pkg/errors"
	"github.com/shookYu/FalconMind/pkg/geo"
)

type Method string

const (
	MethodEqual    Method = "equal"
	MethodWeighted Method = "weighted"
	MethodVoronoi  Method = "voronoi"
)

// Participant is one UAV's share input: battery and workload drive the
// capability weight 0.6*battery + 0.4*(1-workload).
type Participant struct {
	UAVID    string
	Battery  float64 // ratio in [0, 1]
	Workload float64 // ratio in [0, 1]
	Position *core.GeoPoint
}

func (p Participant) weight() float64 {
	battery := clamp01(p.Battery)
	idle := 1 - clamp01(p.Workload)
	return 0.6*battery + 0.4*idle
}

// Split carves the area into one sub-area per participant using the method.
func Split(method Method, area core.Area, participants []Participant) ([]core.Area, error) {
	if !area.Valid() {
		return nil, errors.Validation("polygon needs at least 3 vertices")
	}
	if len(participants) == 0 {
		return nil, errors.Validation("no participants to split for")
	}
	switch method {
	case MethodWeighted:
		return weightedSplit(area, participants), nil
	case MethodVoronoi:
		return voronoiSplit(area, participants), nil
	case MethodEqual, "":
		return equalSplit(area, len(participants)), nil
	default:
		return nil, errors.Validation("unknown split method %q", method)
	}
}

// equalSplit divides the bounding box into n horizontal strips of equal
// latitude extent.
func equalSplit(area core.Area, n int) []core.Area {
	box := geo.Bounds(area.Polygon)
	step := (box.MaxLat - box.MinLat) / float64(n)
	out := make([]core.Area, 0, n)
	for i := 0; i < n; i++ {
		strip := geo.BoundingBox{
			MinLat: box.MinLat + float64(i)*step,
			MaxLat: box.MinLat + float64(i+1)*step,
			MinLon: box.MinLon,
			MaxLon: box.MaxLon,
		}
		out = append(out, subArea(strip, area))
	}
	return out
}

// weightedSplit divides the bounding box into latitude strips proportional to
// each participant's normalised capability weight.
func weightedSplit(area core.Area, participants []Participant) []core.Area {
	box := geo.Bounds(area.Polygon)
	var total float64
	for _, p := range participants {
		total += p.weight()
	}
	if total <= 0 {
		return equalSplit(area, len(participants))
	}

	extent := box.MaxLat - box.MinLat
	out := make([]core.Area, 0, len(participants))
	cursor := box.MinLat
	for i, p := range participants {
		share := p.weight() / total
		top := cursor + extent*share
		if i == len(participants)-1 {
			// Absorb floating point drift into the last strip.
			top = box.MaxLat
		}
		strip := geo.BoundingBox{MinLat: cursor, MaxLat: top, MinLon: box.MinLon, MaxLon: box.MaxLon}
		out = append(out, subArea(strip, area))
		cursor = top
	}
	return out
}

func subArea(box geo.BoundingBox, parent core.Area) core.Area {
	return core.Area{
		Polygon:     box.Polygon(parent.MinAltitude),
		MinAltitude: parent.MinAltitude,
		MaxAltitude: parent.MaxAltitude,
	}
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
