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

// Package geo provides the small set of spherical geometry primitives the
// control plane needs: Haversine distances, bounding boxes, centroids and
// even-odd point-in-polygon tests. Simplified geometry is intentional; see
// the area splitter for how sub-areas are carved.
package geo

import (
	"math"

	"github.com/shookYu/FalconMind/pkg/apis/core"
)

// EarthRadiusMeters is the mean Earth radius used by every Haversine call.
const EarthRadiusMeters = 6371000.0

// MetersPerDegree approximates one degree of latitude. Longitude degrees are
// scaled by cos(latitude).
const MetersPerDegree = 111000.0

// Haversine returns the great-circle distance between two points in meters.
// Altitude is ignored.
func Haversine(a, b core.GeoPoint) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusMeters * math.Asin(math.Sqrt(h))
}

// BoundingBox is an axis-aligned lat/lon rectangle.
type BoundingBox struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
}

// Bounds computes the axis-aligned bounding box of the points. Returns the
// zero box for an empty slice.
func Bounds(points []core.GeoPoint) BoundingBox {
	if len(points) == 0 {
		return BoundingBox{}
	}
	box := BoundingBox{
		MinLat: points[0].Latitude, MaxLat: points[0].Latitude,
		MinLon: points[0].Longitude, MaxLon: points[0].Longitude,
	}
	for _, p := range points[1:] {
		box.MinLat = math.Min(box.MinLat, p.Latitude)
		box.MaxLat = math.Max(box.MaxLat, p.Latitude)
		box.MinLon = math.Min(box.MinLon, p.Longitude)
		box.MaxLon = math.Max(box.MaxLon, p.Longitude)
	}
	return box
}

// Area returns the box extent in square degrees. Only useful for coverage
// comparisons, never for real surface area.
func (b BoundingBox) Area() float64 {
	return (b.MaxLat - b.MinLat) * (b.MaxLon - b.MinLon)
}

// Polygon converts the box into a 4-vertex polygon, counterclockwise.
func (b BoundingBox) Polygon(altitude float64) []core.GeoPoint {
	return []core.GeoPoint{
		{Latitude: b.MinLat, Longitude: b.MinLon, Altitude: altitude},
		{Latitude: b.MinLat, Longitude: b.MaxLon, Altitude: altitude},
		{Latitude: b.MaxLat, Longitude: b.MaxLon, Altitude: altitude},
		{Latitude: b.MaxLat, Longitude: b.MinLon, Altitude: altitude},
	}
}

// Centroid returns the arithmetic mean of the vertices.
func Centroid(points []core.GeoPoint) core.GeoPoint {
	if len(points) == 0 {
		return core.GeoPoint{}
	}
	var lat, lon, alt float64
	for _, p := range points {
		lat += p.Latitude
		lon += p.Longitude
		alt += p.Altitude
	}
	n := float64(len(points))
	return core.GeoPoint{Latitude: lat / n, Longitude: lon / n, Altitude: alt / n}
}

// PointInPolygon tests containment with an even-odd ray cast along longitude.
func PointInPolygon(p core.GeoPoint, polygon []core.GeoPoint) bool {
	if len(polygon) < 3 {
		return false
	}
	inside := false
	j := len(polygon) - 1
	for i := 0; i < len(polygon); i++ {
		pi, pj := polygon[i], polygon[j]
		if (pi.Latitude > p.Latitude) != (pj.Latitude > p.Latitude) {
			crossLon := (pj.Longitude-pi.Longitude)*(p.Latitude-pi.Latitude)/(pj.Latitude-pi.Latitude) + pi.Longitude
			if p.Longitude < crossLon {
				inside = !inside
			}
		}
		j = i
	}
	return inside
}

// Offset displaces a point by the given meters east and north, using the flat
// approximation 1 degree latitude = 111km and longitude scaled by cos(lat).
func Offset(p core.GeoPoint, eastMeters, northMeters float64) core.GeoPoint {
	lonScale := math.Cos(p.Latitude * math.Pi / 180)
	if math.Abs(lonScale) < 1e-9 {
		lonScale = 1e-9
	}
	return core.GeoPoint{
		Latitude:  p.Latitude + northMeters/MetersPerDegree,
		Longitude: p.Longitude + eastMeters/(MetersPerDegree*lonScale),
		Altitude:  p.Altitude,
	}
}
