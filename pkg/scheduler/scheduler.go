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

// Package scheduler owns the mission lifecycle: admission, the priority
// dispatch loop, state machine enforcement and retry of failed missions.
// Multi-table invariants (flipping UAVs to BUSY while marking the mission
// RUNNING) always touch the UAV table before the mission table.
package scheduler

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/shookYu/FalconMind/pkg/apis/core"
	"github.com/shookYu/FalconMind/pkg/errors"
	"github.com/shookYu/FalconMind/pkg/events"
	"github.com/shookYu/FalconMind/pkg/fleet"
	"github.com/shookYu/FalconMind/pkg/metrics"
	"github.com/shookYu/FalconMind/pkg/repository"
	"github.com/shookYu/FalconMind/pkg/scheduler/retry"
	"github.com/shookYu/FalconMind/pkg/utils/clock"
	"github.com/shookYu/FalconMind/pkg/utils/idgen"
)

type Options struct {
	DispatchInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.DispatchInterval <= 0 {
		o.DispatchInterval = 5 * time.Second
	}
	return o
}

type Scheduler struct {
	mu          sync.Mutex
	missions    map[string]*core.Mission
	dispatching map[string]bool

	store     repository.Store
	inventory *fleet.Inventory
	rec       events.Recorder
	repl      fleet.Replicator
	retries   *retry.Manager
	clk       clock.Clock
	ids       *idgen.Generator
	log       *zap.SugaredLogger
	opts      Options
}

func New(store repository.Store, inventory *fleet.Inventory, rec events.Recorder, repl fleet.Replicator, retries *retry.Manager, clk clock.Clock, ids *idgen.Generator, log *zap.SugaredLogger, opts Options) *Scheduler {
	return &Scheduler{
		missions:    map[string]*core.Mission{},
		dispatching: map[string]bool{},
		store:       store,
		inventory:   inventory,
		rec:         rec,
		repl:        repl,
		retries:     retries,
		clk:         clk,
		ids:         ids,
		log:         log.Named("scheduler"),
		opts:        opts.withDefaults(),
	}
}

// Load rebuilds the mission table from the repository.
func (s *Scheduler) Load(ctx context.Context) error {
	kvs, err := s.store.ScanPrefix(ctx, repository.PrefixMission)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, kv := range kvs {
		var m core.Mission
		if err := json.Unmarshal(kv.Value, &m); err != nil {
			return errors.Fatal(err, "decoding mission %q", kv.Key)
		}
		s.missions[m.ID] = &m
	}
	s.log.Infow("loaded missions from repository", "missions", len(s.missions))
	return nil
}

// CreateRequest is the admission payload for a new mission.
type CreateRequest struct {
	Name        string
	Description string
	Type        core.MissionType
	UAVIDs      []string
	Payload     map[string]any
	Priority    int
}

// Create admits a new mission in PENDING.
func (s *Scheduler) Create(ctx context.Context, req CreateRequest) (*core.Mission, error) {
	if req.Name == "" {
		return nil, errors.Validation("mission name must not be empty")
	}
	switch req.Type {
	case core.MissionTypeSingleUAV, core.MissionTypeMultiUAV, core.MissionTypeCluster:
	case "":
		req.Type = core.MissionTypeSingleUAV
	default:
		return nil, errors.Validation("unknown mission type %q", req.Type)
	}

	now := s.clk.Now()
	m := &core.Mission{
		ID:           s.ids.NextID("mission"),
		Name:         req.Name,
		Description:  req.Description,
		Type:         req.Type,
		AssignedUAVs: req.UAVIDs,
		Payload:      req.Payload,
		Priority:     req.Priority,
		State:        core.MissionPending,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.mu.Lock()
	s.missions[m.ID] = m
	snapshot := *m
	err := s.persistLocked(ctx, m)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	s.rec.Publish(events.Event{Type: events.TypeMissionEvent, SubKind: events.MissionCreated, EntityID: m.ID, Payload: snapshot})
	s.replicate(ctx, core.SyncOpCreate, &snapshot)
	metrics.MissionsTotal.WithLabelValues(string(core.MissionPending)).Inc()
	s.updatePendingGauge()
	return &snapshot, nil
}

// Get returns a copy of the mission.
func (s *Scheduler) Get(id string) (*core.Mission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.missions[id]
	if !ok {
		return nil, errors.NotFound("mission %q", id)
	}
	snapshot := *m
	return &snapshot, nil
}

// List returns copies of all missions ordered by creation time.
func (s *Scheduler) List() []*core.Mission {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := lo.MapToSlice(s.missions, func(_ string, m *core.Mission) *core.Mission {
		snapshot := *m
		return &snapshot
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Pause transitions RUNNING -> PAUSED.
func (s *Scheduler) Pause(ctx context.Context, id string) (*core.Mission, error) {
	m, err := s.transition(ctx, id, core.MissionPaused, nil)
	if err != nil {
		return nil, err
	}
	s.rec.Publish(events.Event{Type: events.TypeMissionEvent, SubKind: events.MissionPaused, EntityID: id, Payload: *m})
	return m, nil
}

// Resume transitions PAUSED -> RUNNING.
func (s *Scheduler) Resume(ctx context.Context, id string) (*core.Mission, error) {
	m, err := s.transition(ctx, id, core.MissionRunning, nil)
	if err != nil {
		return nil, err
	}
	s.rec.Publish(events.Event{Type: events.TypeMissionEvent, SubKind: events.MissionResumed, EntityID: id, Payload: *m})
	return m, nil
}

// Cancel aborts the mission from any non-terminal state and returns every
// assigned UAV to IDLE.
func (s *Scheduler) Cancel(ctx context.Context, id string) (*core.Mission, error) {
	m, err := s.transition(ctx, id, core.MissionCancelled, nil)
	if err != nil {
		return nil, err
	}
	s.releaseUAVs(ctx, m.AssignedUAVs)
	s.rec.Publish(events.Event{Type: events.TypeMissionEvent, SubKind: events.MissionCancelled, EntityID: id, Payload: *m})
	return m, nil
}

// Complete finishes a RUNNING mission. Success forces progress to 1.0;
// failure records the error and may schedule a retry.
func (s *Scheduler) Complete(ctx context.Context, id string, success bool, lastError string) (*core.Mission, error) {
	target := core.MissionSucceeded
	if !success {
		target = core.MissionFailed
	}
	m, err := s.transition(ctx, id, target, func(m *core.Mission) {
		if success {
			m.Progress = 1.0
		}
		m.LastError = lastError
	})
	if err != nil {
		return nil, err
	}
	s.releaseUAVs(ctx, m.AssignedUAVs)
	sub := events.MissionSucceeded
	if !success {
		sub = events.MissionFailed
	}
	s.rec.Publish(events.Event{Type: events.TypeMissionEvent, SubKind: sub, EntityID: id, Payload: *m})
	if !success {
		s.maybeRetry(ctx, m, lastError)
	}
	return m, nil
}

// UpdateProgress records mission progress. Progress is monotonically
// non-decreasing while the mission is RUNNING or PAUSED.
func (s *Scheduler) UpdateProgress(ctx context.Context, id string, progress float64) (*core.Mission, error) {
	if progress < 0 || progress > 1 {
		return nil, errors.Validation("progress %.3f outside [0, 1]", progress)
	}
	s.mu.Lock()
	m, ok := s.missions[id]
	if !ok {
		s.mu.Unlock()
		return nil, errors.NotFound("mission %q", id)
	}
	if m.State != core.MissionRunning && m.State != core.MissionPaused {
		s.mu.Unlock()
		return nil, errors.InvalidState("cannot update progress of %s mission %q", m.State, id)
	}
	if progress < m.Progress {
		s.mu.Unlock()
		return nil, errors.Validation("progress may not decrease (%.3f < %.3f)", progress, m.Progress)
	}
	m.Progress = progress
	m.UpdatedAt = s.clk.Now()
	m.Version++
	snapshot := *m
	err := s.persistLocked(ctx, m)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	s.replicate(ctx, core.SyncOpUpdate, &snapshot)
	return &snapshot, nil
}

// Delete removes a mission. Only terminal missions may be deleted.
func (s *Scheduler) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	m, ok := s.missions[id]
	if !ok {
		s.mu.Unlock()
		return errors.NotFound("mission %q", id)
	}
	if !m.State.Terminal() {
		s.mu.Unlock()
		return errors.InvalidState("cannot delete %s mission %q", m.State, id)
	}
	snapshot := *m
	delete(s.missions, id)
	err := s.store.Delete(ctx, repository.MissionKey(id))
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.rec.Publish(events.Event{Type: events.TypeMissionEvent, SubKind: events.MissionDeleted, EntityID: id})
	s.replicate(ctx, core.SyncOpDelete, &snapshot)
	return nil
}

// ApplyRemote installs a replicated mission without re-replicating.
func (s *Scheduler) ApplyRemote(ctx context.Context, kind core.SyncOpKind, m *core.Mission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if kind == core.SyncOpDelete {
		delete(s.missions, m.ID)
		return s.store.Delete(ctx, repository.MissionKey(m.ID))
	}
	stored := *m
	s.missions[m.ID] = &stored
	return s.persistLocked(ctx, &stored)
}

// Version returns the local version for the mission id, 0 when unknown.
func (s *Scheduler) Version(id string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.missions[id]; ok {
		return m.Version
	}
	return 0
}

// transition applies a state-machine edge under the mission lock. mutate runs
// after the edge is validated, before persistence.
func (s *Scheduler) transition(ctx context.Context, id string, to core.MissionState, mutate func(*core.Mission)) (*core.Mission, error) {
	s.mu.Lock()
	m, ok := s.missions[id]
	if !ok {
		s.mu.Unlock()
		return nil, errors.NotFound("mission %q", id)
	}
	if !m.State.CanTransition(to) {
		s.mu.Unlock()
		return nil, errors.InvalidState("mission %q cannot go %s -> %s", id, m.State, to)
	}
	now := s.clk.Now()
	m.State = to
	m.UpdatedAt = now
	if to == core.MissionRunning && m.StartedAt == nil {
		started := now
		m.StartedAt = &started
	}
	if to.Terminal() {
		completed := now
		m.CompletedAt = &completed
	}
	if mutate != nil {
		mutate(m)
	}
	m.Version++
	snapshot := *m
	err := s.persistLocked(ctx, m)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	s.replicate(ctx, core.SyncOpUpdate, &snapshot)
	metrics.MissionsTotal.WithLabelValues(string(to)).Inc()
	s.updatePendingGauge()
	return &snapshot, nil
}

func (s *Scheduler) releaseUAVs(ctx context.Context, uavIDs []string) {
	for _, id := range uavIDs {
		if err := s.inventory.SetStatus(ctx, id, core.UAVStatusIdle, ""); err != nil && !errors.IsKind(err, errors.KindNotFound) {
			s.log.Errorw("releasing uav", "uav", id, "error", err)
		}
	}
}

func (s *Scheduler) persistLocked(ctx context.Context, m *core.Mission) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return errors.Fatal(err, "encoding mission %q", m.ID)
	}
	return s.store.Put(ctx, repository.MissionKey(m.ID), raw)
}

func (s *Scheduler) replicate(ctx context.Context, kind core.SyncOpKind, m *core.Mission) {
	raw, err := json.Marshal(m)
	if err != nil {
		s.log.Errorw("encoding mission for replication", "mission", m.ID, "error", err)
		return
	}
	s.repl.Replicate(ctx, core.SyncOperation{
		Kind:       kind,
		EntityKind: core.EntityMission,
		EntityID:   m.ID,
		Payload:    raw,
		Timestamp:  s.clk.Now(),
		Version:    m.Version,
	})
}

func (s *Scheduler) updatePendingGauge() {
	pending := lo.CountBy(lo.Values(s.snapshotMissions()), func(m *core.Mission) bool {
		return m.State == core.MissionPending
	})
	metrics.PendingMissions.Set(float64(pending))
}

func (s *Scheduler) snapshotMissions() map[string]*core.Mission {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*core.Mission, len(s.missions))
	for id, m := range s.missions {
		snapshot := *m
		out[id] = &snapshot
	}
	return out
}

// Counts returns mission totals by state for the autoscaler and dashboard.
func (s *Scheduler) Counts() map[core.MissionState]int {
	out := map[core.MissionState]int{}
	for _, m := range s.snapshotMissions() {
		out[m.State]++
	}
	return out
}
