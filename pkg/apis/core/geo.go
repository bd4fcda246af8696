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

// GeoPoint is a geographic position. Altitude is meters above mean sea level.
type GeoPoint struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Altitude  float64 `json:"altitude"`
}

// Area is a polygon with an altitude band. The polygon is the ordered vertex
// sequence; a valid polygon has at least 3 vertices.
type Area struct {
	Polygon     []GeoPoint `json:"polygon"`
	MinAltitude float64    `json:"minAltitude"`
	MaxAltitude float64    `json:"maxAltitude"`
}

// Valid reports whether the area has enough vertices to enclose anything.
func (a Area) Valid() bool {
	return len(a.Polygon) >= 3
}
