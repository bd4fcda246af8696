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

// Telemetry is one periodic state report from a UAV. Field bounds are
// enforced at ingress; see the telemetry service.
type Telemetry struct {
	UAVID          string    `json:"uavId" validate:"required"`
	Latitude       float64   `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude      float64   `json:"longitude" validate:"gte=-180,lte=180"`
	Altitude       float64   `json:"altitude" validate:"gte=-1000,lte=50000"`
	Heading        float64   `json:"heading"`
	GroundSpeed    float64   `json:"groundSpeed"`
	VerticalSpeed  float64   `json:"verticalSpeed"`
	BatteryPercent float64   `json:"batteryPercent" validate:"gte=0,lte=100"`
	BatteryVoltage float64   `json:"batteryVoltage"`
	GPSFixType     int       `json:"gpsFixType" validate:"gte=0,lte=6"`
	SatelliteCount int       `json:"satelliteCount" validate:"gte=0,lte=255"`
	LinkQuality    int       `json:"linkQuality" validate:"gte=0,lte=100"`
	FlightMode     string    `json:"flightMode"`
	MissionID      string    `json:"missionId,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// Position returns the reported location as a GeoPoint.
func (t Telemetry) Position() GeoPoint {
	return GeoPoint{Latitude: t.Latitude, Longitude: t.Longitude, Altitude: t.Altitude}
}
