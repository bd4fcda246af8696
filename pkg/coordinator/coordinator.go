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

// Package coordinator runs cooperative multi-UAV missions: it carves a search
// polygon into per-UAV sub-missions, tracks each vehicle's progress, detects
// and resolves spatial conflicts, and reassigns work when a vehicle drops
// offline. It builds on the fleet inventory for vehicle state and on the area
// splitter and assigner for the initial carve.
package coordinator

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/shookYu/FalconMind/pkg/apis/core"
	"github.com/shookYu/FalconMind/pkg/assigner"
	"github.com/shookYu/FalconMind/pkg/errors"
	"github.com/shookYu/FalconMind/pkg/events"
	"github.com/shookYu/FalconMind/pkg/fleet"
	"github.com/shookYu/FalconMind/pkg/geo"
	"github.com/shookYu/FalconMind/pkg/repository"
	"github.com/shookYu/FalconMind/pkg/splitter"
	"github.com/shookYu/FalconMind/pkg/utils/clock"
	"github.com/shookYu/FalconMind/pkg/utils/idgen"
)

// SubMissionStatus is the lifecycle of one UAV's share of a cluster mission.
type SubMissionStatus string

const (
	SubAssigned   SubMissionStatus = "ASSIGNED"
	SubSearching  SubMissionStatus = "SEARCHING"
	SubTracking   SubMissionStatus = "TRACKING"
	SubCompleted  SubMissionStatus = "COMPLETED"
	SubReassigned SubMissionStatus = "REASSIGNED"
)

// UAVMissionState is the coordinator's live view of one vehicle inside a
// cluster mission.
type UAVMissionState struct {
	UAVID            string           `json:"uavId"`
	ClusterMissionID string           `json:"clusterMissionId"`
	SubMissionID     string           `json:"subMissionId"`
	Status           SubMissionStatus `json:"status"`
	Progress         float64          `json:"progress"`
	Area             core.Area        `json:"area"`
	Path             []core.GeoPoint  `json:"path,omitempty"`
	Target           *core.GeoPoint   `json:"target,omitempty"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

type Options struct {
	// MinSeparation is the horizontal conflict distance between two vehicles.
	MinSeparation float64
	// ReplanOffsetFactor scales MinSeparation into the sidestep distance used
	// when a conflict is resolved by replanning.
	ReplanOffsetFactor float64
	// SweepSpacing is the row spacing of generated lawnmower search paths.
	SweepSpacing float64
	// AvoidanceRadius is the default obstacle radius when a report carries
	// none; detours clear twice this distance.
	AvoidanceRadius      float64
	ConflictScanInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.MinSeparation <= 0 {
		o.MinSeparation = 50
	}
	if o.ReplanOffsetFactor <= 0 {
		o.ReplanOffsetFactor = 1.5
	}
	if o.SweepSpacing <= 0 {
		o.SweepSpacing = 200
	}
	if o.AvoidanceRadius <= 0 {
		o.AvoidanceRadius = 50
	}
	if o.ConflictScanInterval <= 0 {
		o.ConflictScanInterval = 2 * time.Second
	}
	return o
}

type Coordinator struct {
	mu       sync.Mutex
	missions map[string]*core.ClusterMission
	states   map[string]*UAVMissionState // keyed by uav id

	store     repository.Store
	inventory *fleet.Inventory
	rec       events.Recorder
	repl      fleet.Replicator
	clk       clock.Clock
	ids       *idgen.Generator
	log       *zap.SugaredLogger
	opts      Options
}

func New(store repository.Store, inventory *fleet.Inventory, rec events.Recorder, repl fleet.Replicator, clk clock.Clock, ids *idgen.Generator, log *zap.SugaredLogger, opts Options) *Coordinator {
	return &Coordinator{
		missions:  map[string]*core.ClusterMission{},
		states:    map[string]*UAVMissionState{},
		store:     store,
		inventory: inventory,
		rec:       rec,
		repl:      repl,
		clk:       clk,
		ids:       ids,
		log:       log.Named("coordinator"),
		opts:      opts.withDefaults(),
	}
}

// CreateRequest admits a new cluster mission over a search polygon.
type CreateRequest struct {
	Name        string
	MissionKind string
	Area        core.Area
	Count       int
	SplitMethod splitter.Method
	Strategy    string
	Seed        int64
}

// Create selects vehicles, splits the polygon and binds each vehicle to its
// sub-mission with a generated sweep path.
func (c *Coordinator) Create(ctx context.Context, req CreateRequest) (*core.ClusterMission, error) {
	if req.Name == "" {
		return nil, errors.Validation("cluster mission name must not be empty")
	}
	if !req.Area.Valid() {
		return nil, errors.Validation("search polygon needs at least 3 vertices")
	}
	if req.Count <= 0 {
		return nil, errors.Validation("cluster mission needs a positive uav count")
	}

	available := c.inventory.Available()
	chosen, err := assigner.For(req.Strategy).Select(available, assigner.Request{
		Count: req.Count,
		Area:  req.Area,
		Seed:  req.Seed,
	})
	if err != nil {
		return nil, err
	}

	participants := lo.FilterMap(chosen, func(id string, _ int) (splitter.Participant, bool) {
		u, err := c.inventory.Get(id)
		if err != nil {
			return splitter.Participant{}, false
		}
		return splitter.Participant{
			UAVID:    u.ID,
			Battery:  u.Capabilities.BatteryRatio(),
			Workload: u.Workload,
			Position: u.Position,
		}, true
	})
	areas, err := splitter.Split(req.SplitMethod, req.Area, participants)
	if err != nil {
		return nil, err
	}

	now := c.clk.Now()
	mission := &core.ClusterMission{
		ID:          c.ids.NextID("cmission"),
		Name:        req.Name,
		MissionKind: req.MissionKind,
		Area:        req.Area,
		Version:     1,
		CreatedAt:   now,
	}
	for i, p := range participants {
		mission.Assignments = append(mission.Assignments, core.SubAssignment{
			SubMissionID: c.ids.NextID("sub"),
			UAVID:        p.UAVID,
			Area:         areas[i],
		})
	}

	// Vehicles first, then the mission record.
	bound := make([]string, 0, len(mission.Assignments))
	for _, a := range mission.Assignments {
		if err := c.inventory.SetStatus(ctx, a.UAVID, core.UAVStatusBusy, mission.ID); err != nil {
			for _, uavID := range bound {
				_ = c.inventory.SetStatus(ctx, uavID, core.UAVStatusIdle, "")
			}
			return nil, errors.Wrap(errors.KindOf(err), err, "binding uav %q", a.UAVID)
		}
		bound = append(bound, a.UAVID)
	}

	c.mu.Lock()
	c.missions[mission.ID] = mission
	for _, a := range mission.Assignments {
		c.states[a.UAVID] = &UAVMissionState{
			UAVID:            a.UAVID,
			ClusterMissionID: mission.ID,
			SubMissionID:     a.SubMissionID,
			Status:           SubAssigned,
			Area:             a.Area,
			Path:             sweepPath(a.Area, c.opts.SweepSpacing),
			UpdatedAt:        now,
		}
	}
	snapshot := *mission
	err = c.persistLocked(ctx, mission)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	c.rec.Publish(events.Event{Type: events.TypeClusterMissionCreated, EntityID: mission.ID, Payload: snapshot})
	for _, a := range mission.Assignments {
		c.rec.Publish(events.Event{Type: events.TypeSearchArea, EntityID: a.UAVID, Payload: a})
		if st := c.State(a.UAVID); st != nil {
			c.rec.Publish(events.Event{Type: events.TypeSearchPath, EntityID: a.UAVID, Payload: st.Path})
		}
	}
	c.replicate(ctx, core.SyncOpCreate, &snapshot)
	c.log.Infow("created cluster mission", "mission", mission.ID, "uavs", len(mission.Assignments))
	return &snapshot, nil
}

// Get returns a copy of the cluster mission.
func (c *Coordinator) Get(id string) (*core.ClusterMission, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.missions[id]
	if !ok {
		return nil, errors.NotFound("cluster mission %q", id)
	}
	snapshot := *m
	return &snapshot, nil
}

// List returns copies of all cluster missions ordered by creation time.
func (c *Coordinator) List() []*core.ClusterMission {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := lo.MapToSlice(c.missions, func(_ string, m *core.ClusterMission) *core.ClusterMission {
		snapshot := *m
		return &snapshot
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// State returns a copy of the live state for the uav, nil if it is not flying
// a cluster mission.
func (c *Coordinator) State(uavID string) *UAVMissionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[uavID]
	if !ok {
		return nil
	}
	snapshot := *st
	return &snapshot
}

// States returns the live states of all vehicles in the given mission.
func (c *Coordinator) States(missionID string) []*UAVMissionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*UAVMissionState
	for _, st := range c.states {
		if st.ClusterMissionID == missionID {
			snapshot := *st
			out = append(out, &snapshot)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UAVID < out[j].UAVID })
	return out
}

// UpdateProgress records one vehicle's sub-mission progress and publishes the
// aggregated mission progress. Returns the aggregate in [0, 1].
func (c *Coordinator) UpdateProgress(ctx context.Context, uavID string, progress float64) (float64, error) {
	if progress < 0 || progress > 1 {
		return 0, errors.Validation("progress %.3f outside [0, 1]", progress)
	}
	c.mu.Lock()
	st, ok := c.states[uavID]
	if !ok {
		c.mu.Unlock()
		return 0, errors.NotFound("uav %q has no cluster mission", uavID)
	}
	if progress > st.Progress {
		st.Progress = progress
	}
	if st.Status == SubAssigned {
		st.Status = SubSearching
	}
	if st.Progress >= 1 {
		st.Status = SubCompleted
	}
	missionID := st.ClusterMissionID
	aggregate := c.aggregateLocked(missionID)
	done := c.allDoneLocked(missionID)
	st.UpdatedAt = c.clk.Now()
	c.mu.Unlock()

	if st.Status == SubCompleted {
		if err := c.inventory.SetStatus(ctx, uavID, core.UAVStatusIdle, ""); err != nil && !errors.IsKind(err, errors.KindNotFound) {
			c.log.Errorw("releasing uav after sub-mission", "uav", uavID, "error", err)
		}
	}
	c.rec.Publish(events.Event{Type: events.TypeSearchProgress, EntityID: missionID, Payload: map[string]any{
		"uavId":    uavID,
		"progress": progress,
		"overall":  aggregate,
	}})
	if done {
		c.log.Infow("cluster mission complete", "mission", missionID)
	}
	return aggregate, nil
}

// Progress returns the mean progress across the mission's sub-missions.
func (c *Coordinator) Progress(missionID string) (float64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.missions[missionID]; !ok {
		return 0, errors.NotFound("cluster mission %q", missionID)
	}
	return c.aggregateLocked(missionID), nil
}

func (c *Coordinator) aggregateLocked(missionID string) float64 {
	var sum float64
	var n int
	for _, st := range c.states {
		if st.ClusterMissionID == missionID {
			sum += st.Progress
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func (c *Coordinator) allDoneLocked(missionID string) bool {
	any := false
	for _, st := range c.states {
		if st.ClusterMissionID == missionID {
			any = true
			if st.Status != SubCompleted && st.Status != SubReassigned {
				return false
			}
		}
	}
	return any
}

// ApplyRemote installs a replicated cluster mission without re-replicating.
func (c *Coordinator) ApplyRemote(ctx context.Context, kind core.SyncOpKind, m *core.ClusterMission) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if kind == core.SyncOpDelete {
		delete(c.missions, m.ID)
		return c.store.Delete(ctx, repository.ClusterKey(m.ID))
	}
	stored := *m
	c.missions[m.ID] = &stored
	return c.persistLocked(ctx, &stored)
}

// Version returns the local version for the cluster mission id, 0 when unknown.
func (c *Coordinator) Version(id string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := c.missions[id]; ok {
		return m.Version
	}
	return 0
}

// Load rebuilds the cluster mission table from the repository. Live per-UAV
// states are not persisted; vehicles repopulate them through telemetry.
func (c *Coordinator) Load(ctx context.Context) error {
	kvs, err := c.store.ScanPrefix(ctx, repository.PrefixCluster)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, kv := range kvs {
		var m core.ClusterMission
		// UAV groups share the keyspace under a group- id prefix; skip them.
		if err := json.Unmarshal(kv.Value, &m); err != nil || !strings.HasPrefix(m.ID, "cmission-") {
			continue
		}
		c.missions[m.ID] = &m
	}
	c.log.Infow("loaded cluster missions from repository", "missions", len(c.missions))
	return nil
}

func (c *Coordinator) persistLocked(ctx context.Context, m *core.ClusterMission) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return errors.Fatal(err, "encoding cluster mission %q", m.ID)
	}
	return c.store.Put(ctx, repository.ClusterKey(m.ID), raw)
}

func (c *Coordinator) replicate(ctx context.Context, kind core.SyncOpKind, m *core.ClusterMission) {
	raw, err := json.Marshal(m)
	if err != nil {
		c.log.Errorw("encoding cluster mission for replication", "mission", m.ID, "error", err)
		return
	}
	c.repl.Replicate(ctx, core.SyncOperation{
		Kind:       kind,
		EntityKind: core.EntityCluster,
		EntityID:   m.ID,
		Payload:    raw,
		Timestamp:  c.clk.Now(),
		Version:    m.Version,
	})
}

// sweepPath generates a lawnmower path over the area's bounding box with the
// given row spacing, alternating sweep direction per row.
func sweepPath(area core.Area, spacingMeters float64) []core.GeoPoint {
	box := geo.Bounds(area.Polygon)
	latStep := spacingMeters / geo.MetersPerDegree
	var path []core.GeoPoint
	leftToRight := true
	for lat := box.MinLat; lat <= box.MaxLat; lat += latStep {
		if leftToRight {
			path = append(path,
				core.GeoPoint{Latitude: lat, Longitude: box.MinLon, Altitude: area.MinAltitude},
				core.GeoPoint{Latitude: lat, Longitude: box.MaxLon, Altitude: area.MinAltitude})
		} else {
			path = append(path,
				core.GeoPoint{Latitude: lat, Longitude: box.MaxLon, Altitude: area.MinAltitude},
				core.GeoPoint{Latitude: lat, Longitude: box.MinLon, Altitude: area.MinAltitude})
		}
		leftToRight = !leftToRight
	}
	return path
}
