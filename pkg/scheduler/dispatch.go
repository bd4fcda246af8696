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

package scheduler

import (
	"context"
	"sort"
	"time"

	"github.com/samber/lo"

	"github.com/shookYu/FalconMind/pkg/apis/core"
	"github.com/shookYu/FalconMind/pkg/assigner"
	"github.com/shookYu/FalconMind/pkg/errors"
	"github.com/shookYu/FalconMind/pkg/events"
	"github.com/shookYu/FalconMind/pkg/metrics"
)

// DispatchRequest parameterises UAV selection for one dispatch. When UAVIDs is
// set the scheduler uses exactly those vehicles; otherwise it asks the named
// strategy for Count vehicles from the available pool.
type DispatchRequest struct {
	UAVIDs           []string
	Count            int
	Strategy         string
	Area             core.Area
	RequiredAltitude float64
	PayloadMass      float64
	Seed             int64
	// AllowDowngrade accepts fewer UAVs than requested when the pool is short.
	// When false a short pool fails the dispatch and the mission stays PENDING.
	AllowDowngrade bool
}

// Dispatch moves a PENDING mission to RUNNING, binding its UAVs. UAVs are
// flipped to BUSY before the mission record changes; a partial flip is rolled
// back so a failed dispatch leaves no vehicle bound.
func (s *Scheduler) Dispatch(ctx context.Context, id string, req DispatchRequest) (*core.Mission, error) {
	s.mu.Lock()
	m, ok := s.missions[id]
	if !ok {
		s.mu.Unlock()
		return nil, errors.NotFound("mission %q", id)
	}
	if m.State != core.MissionPending {
		s.mu.Unlock()
		return nil, errors.InvalidState("cannot dispatch %s mission %q", m.State, id)
	}
	if s.dispatching[id] {
		s.mu.Unlock()
		return nil, errors.InvalidState("mission %q dispatch already in flight", id)
	}
	s.dispatching[id] = true
	missionType := m.Type
	preset := append([]string(nil), m.AssignedUAVs...)
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.dispatching, id)
		s.mu.Unlock()
	}()

	chosen, err := s.selectUAVs(missionType, preset, req)
	if err != nil {
		metrics.DispatchAttempts.WithLabelValues("rejected").Inc()
		return nil, err
	}

	// UAV table first, then the mission table.
	flipped := make([]string, 0, len(chosen))
	for _, uavID := range chosen {
		if err := s.inventory.SetStatus(ctx, uavID, core.UAVStatusBusy, id); err != nil {
			s.rollbackFlips(ctx, flipped)
			metrics.DispatchAttempts.WithLabelValues("failed").Inc()
			return nil, errors.Wrap(errors.KindOf(err), err, "binding uav %q", uavID)
		}
		flipped = append(flipped, uavID)
	}

	out, err := s.transition(ctx, id, core.MissionRunning, func(m *core.Mission) {
		m.AssignedUAVs = chosen
	})
	if err != nil {
		s.rollbackFlips(ctx, flipped)
		metrics.DispatchAttempts.WithLabelValues("failed").Inc()
		return nil, err
	}
	metrics.DispatchAttempts.WithLabelValues("dispatched").Inc()
	s.rec.Publish(events.Event{Type: events.TypeMissionEvent, SubKind: events.MissionDispatched, EntityID: id, Payload: *out})
	s.log.Infow("dispatched mission", "mission", id, "uavs", chosen)
	return out, nil
}

// selectUAVs resolves the vehicle set for a dispatch. Explicit ids are
// verified against the pool; otherwise the strategy chooses.
func (s *Scheduler) selectUAVs(missionType core.MissionType, preset []string, req DispatchRequest) ([]string, error) {
	available := s.inventory.Available()

	explicit := req.UAVIDs
	if len(explicit) == 0 {
		explicit = preset
	}
	if len(explicit) > 0 {
		pool := lo.SliceToMap(available, func(u *core.UAV) (string, bool) { return u.ID, true })
		for _, uavID := range explicit {
			if !pool[uavID] {
				return nil, errors.CapacityExhausted("uav %q is not available", uavID)
			}
		}
		return explicit, nil
	}

	count := req.Count
	if missionType == core.MissionTypeSingleUAV {
		count = 1
	}
	if count <= 0 {
		return nil, errors.Validation("dispatch needs either uav ids or a positive count")
	}
	if len(available) < count && !req.AllowDowngrade {
		return nil, errors.CapacityExhausted("need %d uavs, %d available", count, len(available))
	}

	chosen, err := assigner.For(req.Strategy).Select(available, assigner.Request{
		Count:            count,
		Area:             req.Area,
		RequiredAltitude: req.RequiredAltitude,
		PayloadMass:      req.PayloadMass,
		Seed:             req.Seed,
	})
	if err != nil {
		return nil, err
	}
	if len(chosen) == 0 {
		return nil, errors.CapacityExhausted("strategy selected no uavs")
	}
	return chosen, nil
}

func (s *Scheduler) rollbackFlips(ctx context.Context, uavIDs []string) {
	for _, uavID := range uavIDs {
		if err := s.inventory.SetStatus(ctx, uavID, core.UAVStatusIdle, ""); err != nil {
			s.log.Errorw("rolling back uav binding", "uav", uavID, "error", err)
		}
	}
}

// RunDispatchLoop periodically dispatches PENDING missions in priority order
// (higher priority first, older first within a priority). Blocks until ctx is
// cancelled.
func (s *Scheduler) RunDispatchLoop(ctx context.Context) {
	ticker := time.NewTicker(s.opts.DispatchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.dispatchPending(ctx)
		}
	}
}

func (s *Scheduler) dispatchPending(ctx context.Context) {
	pending := lo.Filter(s.List(), func(m *core.Mission, _ int) bool { return m.State == core.MissionPending })
	sort.SliceStable(pending, func(i, j int) bool {
		if pending[i].Priority != pending[j].Priority {
			return pending[i].Priority > pending[j].Priority
		}
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	for _, m := range pending {
		req := DispatchRequest{Strategy: assigner.StrategyGreedy, Seed: s.clk.Now().UnixNano()}
		if m.Type != core.MissionTypeSingleUAV {
			req.Count = max(len(m.AssignedUAVs), 1)
		}
		if _, err := s.Dispatch(ctx, m.ID, req); err != nil {
			if errors.IsKind(err, errors.KindCapacityExhausted) {
				// Pool is drained; later missions would only fail the same way.
				return
			}
			s.log.Debugw("auto dispatch skipped", "mission", m.ID, "error", err)
		}
	}
}

// maybeRetry requeues a FAILED mission back to PENDING after the retry delay
// when its policy budget allows. The requeue is an internal rollback of the
// failure, not a state machine edge.
func (s *Scheduler) maybeRetry(ctx context.Context, m *core.Mission, lastError string) {
	decision := s.retries.Evaluate(m, lastError)
	if !decision.Retry {
		s.log.Infow("mission retry exhausted", "mission", m.ID, "class", decision.Class, "retries", m.RetryCount)
		return
	}
	s.log.Infow("scheduling mission retry", "mission", m.ID, "class", decision.Class, "after", decision.After)
	go func() {
		timer := time.NewTimer(decision.After)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if err := s.requeue(ctx, m.ID); err != nil {
			s.log.Errorw("requeueing mission for retry", "mission", m.ID, "error", err)
		}
	}()
}

func (s *Scheduler) requeue(ctx context.Context, id string) error {
	s.mu.Lock()
	m, ok := s.missions[id]
	if !ok {
		s.mu.Unlock()
		return errors.NotFound("mission %q", id)
	}
	if m.State != core.MissionFailed {
		s.mu.Unlock()
		return errors.InvalidState("mission %q is %s, not FAILED", id, m.State)
	}
	m.State = core.MissionPending
	m.RetryCount++
	m.Progress = 0
	m.StartedAt = nil
	m.CompletedAt = nil
	m.UpdatedAt = s.clk.Now()
	m.Version++
	snapshot := *m
	err := s.persistLocked(ctx, m)
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.replicate(ctx, core.SyncOpUpdate, &snapshot)
	s.rec.Publish(events.Event{Type: events.TypeMissionEvent, SubKind: events.MissionRetrying, EntityID: id, Payload: snapshot})
	metrics.MissionsTotal.WithLabelValues(string(core.MissionPending)).Inc()
	s.updatePendingGauge()
	return nil
}
