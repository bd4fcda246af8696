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

// Package telemetry validates and ingests UAV state reports. Every accepted
// report counts as a heartbeat; reports that moved meaningfully since the
// last one fan out to viewers, the rest only refresh the inventory. The
// significance thresholds keep a hovering fleet from flooding the broadcast
// path.
package telemetry

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/shookYu/FalconMind/pkg/apis/core"
	"github.com/shookYu/FalconMind/pkg/errors"
	"github.com/shookYu/FalconMind/pkg/events"
	"github.com/shookYu/FalconMind/pkg/fleet"
	"github.com/shookYu/FalconMind/pkg/metrics"
	"github.com/shookYu/FalconMind/pkg/utils/clock"
)

// Change significance thresholds.
const (
	positionEpsilonDegrees = 0.001
	altitudeEpsilonMeters  = 1.0
	batteryEpsilonPercent  = 1.0
)

// TypeTelemetry is the event type of fanned-out reports.
const TypeTelemetry events.Type = "telemetry"

// maxFutureSkew is how far ahead of the node clock a report timestamp may
// run before it is rejected as invalid.
const maxFutureSkew = 500 * time.Millisecond

// maxReportAge is how stale a report timestamp may be before it is rejected.
const maxReportAge = time.Hour

type Service struct {
	mu   sync.Mutex
	last map[string]core.Telemetry

	inventory *fleet.Inventory
	rec       events.Recorder
	validate  *validator.Validate
	clk       clock.Clock
	log       *zap.SugaredLogger
}

func NewService(inventory *fleet.Inventory, rec events.Recorder, clk clock.Clock, log *zap.SugaredLogger) *Service {
	return &Service{
		last:      map[string]core.Telemetry{},
		inventory: inventory,
		rec:       rec,
		validate:  validator.New(),
		clk:       clk,
		log:       log.Named("telemetry"),
	}
}

// Ingest validates one report, refreshes the inventory and fans the report
// out if it changed significantly. Reports from unregistered vehicles are
// rejected.
func (s *Service) Ingest(ctx context.Context, t core.Telemetry) error {
	if err := s.validate.Struct(t); err != nil {
		metrics.TelemetryAccepted.WithLabelValues("invalid").Inc()
		return errors.Wrap(errors.KindValidation, err, "telemetry from %q failed validation", t.UAVID)
	}
	now := s.clk.Now()
	if t.Timestamp.IsZero() {
		t.Timestamp = now
	} else if t.Timestamp.Sub(now) > maxFutureSkew {
		metrics.TelemetryAccepted.WithLabelValues("invalid").Inc()
		return errors.Validation("telemetry from %q is %s in the future", t.UAVID, t.Timestamp.Sub(now))
	} else if now.Sub(t.Timestamp) > maxReportAge {
		metrics.TelemetryAccepted.WithLabelValues("invalid").Inc()
		return errors.Validation("telemetry from %q is %s old", t.UAVID, now.Sub(t.Timestamp))
	}

	// Heartbeat side effect: position, battery and last-seen refresh even for
	// insignificant reports.
	if err := s.inventory.ObserveTelemetry(ctx, t); err != nil {
		metrics.TelemetryAccepted.WithLabelValues("unknown_uav").Inc()
		return err
	}

	s.mu.Lock()
	prev, seen := s.last[t.UAVID]
	significant := !seen || significantChange(prev, t)
	if significant {
		s.last[t.UAVID] = t
	}
	s.mu.Unlock()

	if significant {
		metrics.TelemetryAccepted.WithLabelValues("accepted").Inc()
		s.rec.Publish(events.Event{Type: TypeTelemetry, EntityID: t.UAVID, Payload: t, Timestamp: t.Timestamp})
	} else {
		metrics.TelemetryAccepted.WithLabelValues("unchanged").Inc()
	}
	return nil
}

// Last returns the most recent significant report for the vehicle.
func (s *Service) Last(uavID string) (core.Telemetry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.last[uavID]
	return t, ok
}

// Forget drops the cached report, forcing the next ingest to fan out.
func (s *Service) Forget(uavID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.last, uavID)
}

// significantChange reports whether the new report moved past any threshold:
// 0.001 degrees of position, 1 meter of altitude or 1 percent of battery.
// Flight mode, GPS fix and mission binding changes always count.
func significantChange(prev, next core.Telemetry) bool {
	switch {
	case math.Abs(next.Latitude-prev.Latitude) >= positionEpsilonDegrees:
		return true
	case math.Abs(next.Longitude-prev.Longitude) >= positionEpsilonDegrees:
		return true
	case math.Abs(next.Altitude-prev.Altitude) >= altitudeEpsilonMeters:
		return true
	case math.Abs(next.BatteryPercent-prev.BatteryPercent) >= batteryEpsilonPercent:
		return true
	case next.FlightMode != prev.FlightMode:
		return true
	case next.GPSFixType != prev.GPSFixType:
		return true
	case next.MissionID != prev.MissionID:
		return true
	default:
		return false
	}
}
