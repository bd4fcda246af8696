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

// Package fleet is the registry of UAVs: status, heartbeats, capabilities and
// the liveness scan that marks silent vehicles offline. The in-memory table
// is a derived view rebuilt from the repository on cold start.
package fleet

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
	"github.com/shookYu/FalconMind/pkg/metrics"
	"github.com/shookYu/FalconMind/pkg/repository"
	"github.com/shookYu/FalconMind/pkg/utils/clock"
)

// Replicator forwards a local mutation into the consensus pipeline. On
// followers a no-op replicator is injected.
type Replicator interface {
	Replicate(ctx context.Context, op core.SyncOperation)
}

// NopReplicator drops operations; used on followers and in tests.
type NopReplicator struct{}

func (NopReplicator) Replicate(context.Context, core.SyncOperation) {}

type Options struct {
	OfflineThreshold time.Duration
	OnlineThreshold  time.Duration
	ScanInterval     time.Duration
}

func (o Options) withDefaults() Options {
	if o.OfflineThreshold <= 0 {
		o.OfflineThreshold = 60 * time.Second
	}
	if o.OnlineThreshold <= 0 {
		o.OnlineThreshold = o.OfflineThreshold
	}
	if o.ScanInterval <= 0 {
		o.ScanInterval = 5 * time.Second
	}
	return o
}

// Inventory tracks every registered UAV. All mutating paths hold mu, bump the
// entity version, persist through the store and replicate.
type Inventory struct {
	mu    sync.Mutex
	uavs  map[string]*core.UAV
	store repository.Store
	rec   events.Recorder
	repl  Replicator
	clk   clock.Clock
	log   *zap.SugaredLogger
	opts  Options

	// onOffline is invoked outside mu for every mission orphaned by an
	// offline transition; the coordinator uses it to reassign.
	onOffline func(uavID, missionID string)
}

func NewInventory(store repository.Store, rec events.Recorder, repl Replicator, clk clock.Clock, log *zap.SugaredLogger, opts Options) *Inventory {
	return &Inventory{
		uavs:  map[string]*core.UAV{},
		store: store,
		rec:   rec,
		repl:  repl,
		clk:   clk,
		log:   log.Named("fleet"),
		opts:  opts.withDefaults(),
	}
}

// OnUAVOffline registers the orphaned-mission callback. Must be called before
// the liveness loop starts.
func (inv *Inventory) OnUAVOffline(fn func(uavID, missionID string)) {
	inv.onOffline = fn
}

// Load rebuilds the in-memory table from the repository.
func (inv *Inventory) Load(ctx context.Context) error {
	kvs, err := inv.store.ScanPrefix(ctx, repository.PrefixUAV)
	if err != nil {
		return err
	}
	inv.mu.Lock()
	defer inv.mu.Unlock()
	for _, kv := range kvs {
		var uav core.UAV
		if err := json.Unmarshal(kv.Value, &uav); err != nil {
			return errors.Fatal(err, "decoding uav %q", kv.Key)
		}
		inv.uavs[uav.ID] = &uav
	}
	inv.log.Infow("loaded fleet from repository", "uavs", len(inv.uavs))
	return nil
}

// Register inserts or refreshes a UAV. Idempotent: re-registering keeps the
// current mission binding and status of a known vehicle.
func (inv *Inventory) Register(ctx context.Context, id string, caps core.Capabilities, metadata map[string]string) (*core.UAV, error) {
	if id == "" {
		return nil, errors.Validation("uav id must not be empty")
	}
	inv.mu.Lock()
	now := inv.clk.Now()
	uav, known := inv.uavs[id]
	if known {
		uav.Capabilities = caps
		uav.Metadata = metadata
		uav.LastHeartbeat = now
	} else {
		uav = &core.UAV{
			ID:            id,
			Status:        core.UAVStatusOnline,
			LastHeartbeat: now,
			Capabilities:  caps,
			Metadata:      metadata,
			RegisteredAt:  now,
		}
		inv.uavs[id] = uav
	}
	uav.Version++
	snapshot := *uav
	err := inv.persistLocked(ctx, uav)
	inv.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if !known {
		inv.rec.Publish(events.Event{Type: events.TypeUAVRegistered, EntityID: id, Payload: snapshot})
	}
	inv.replicate(ctx, core.SyncOpUpdate, &snapshot)
	inv.updateStatusGauges()
	return &snapshot, nil
}

// Heartbeat refreshes last-seen. An OFFLINE vehicle seen again within the
// online threshold transitions back to ONLINE.
func (inv *Inventory) Heartbeat(ctx context.Context, id string) error {
	inv.mu.Lock()
	uav, ok := inv.uavs[id]
	if !ok {
		inv.mu.Unlock()
		return errors.NotFound("uav %q", id)
	}
	uav.LastHeartbeat = inv.clk.Now()
	if uav.Status == core.UAVStatusOffline {
		uav.Status = core.UAVStatusOnline
		inv.log.Infow("uav back online", "uav", id)
	}
	uav.Version++
	snapshot := *uav
	err := inv.persistLocked(ctx, uav)
	inv.mu.Unlock()
	if err != nil {
		return err
	}
	inv.replicate(ctx, core.SyncOpUpdate, &snapshot)
	inv.updateStatusGauges()
	return nil
}

// SetStatus is the explicit transition used by the scheduler and coordinator.
// Binding to a mission requires missionID; releasing passes empty.
func (inv *Inventory) SetStatus(ctx context.Context, id string, status core.UAVStatus, missionID string) error {
	inv.mu.Lock()
	uav, ok := inv.uavs[id]
	if !ok {
		inv.mu.Unlock()
		return errors.NotFound("uav %q", id)
	}
	if status == core.UAVStatusBusy && missionID == "" {
		inv.mu.Unlock()
		return errors.InvalidState("cannot mark uav %q busy without a mission", id)
	}
	uav.Status = status
	uav.CurrentMission = missionID
	uav.Version++
	snapshot := *uav
	err := inv.persistLocked(ctx, uav)
	inv.mu.Unlock()
	if err != nil {
		return err
	}
	inv.replicate(ctx, core.SyncOpUpdate, &snapshot)
	inv.updateStatusGauges()
	return nil
}

// ObserveTelemetry refreshes battery, position and heartbeat from an accepted
// telemetry message.
func (inv *Inventory) ObserveTelemetry(ctx context.Context, t core.Telemetry) error {
	inv.mu.Lock()
	uav, ok := inv.uavs[t.UAVID]
	if !ok {
		inv.mu.Unlock()
		return errors.NotFound("uav %q", t.UAVID)
	}
	uav.LastHeartbeat = inv.clk.Now()
	if uav.Status == core.UAVStatusOffline {
		uav.Status = core.UAVStatusOnline
	}
	pos := t.Position()
	uav.Position = &pos
	if uav.Capabilities.BatteryCapacity > 0 {
		uav.Capabilities.CurrentBattery = t.BatteryPercent / 100 * uav.Capabilities.BatteryCapacity
	}
	uav.Version++
	err := inv.persistLocked(ctx, uav)
	inv.mu.Unlock()
	return err
}

// Get returns a copy of the UAV.
func (inv *Inventory) Get(id string) (*core.UAV, error) {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	uav, ok := inv.uavs[id]
	if !ok {
		return nil, errors.NotFound("uav %q", id)
	}
	snapshot := *uav
	return &snapshot, nil
}

// List returns copies of all UAVs ordered by id.
func (inv *Inventory) List() []*core.UAV {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	out := lo.MapToSlice(inv.uavs, func(_ string, u *core.UAV) *core.UAV {
		snapshot := *u
		return &snapshot
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Available returns UAVs that are ONLINE with no current mission.
func (inv *Inventory) Available() []*core.UAV {
	return lo.Filter(inv.List(), func(u *core.UAV, _ int) bool { return u.Available() })
}

// Remove ends the UAV lifecycle. Heartbeats after removal are NotFound.
func (inv *Inventory) Remove(ctx context.Context, id string) error {
	inv.mu.Lock()
	uav, ok := inv.uavs[id]
	if !ok {
		inv.mu.Unlock()
		return errors.NotFound("uav %q", id)
	}
	snapshot := *uav
	delete(inv.uavs, id)
	err := inv.store.Delete(ctx, repository.UAVKey(id))
	inv.mu.Unlock()
	if err != nil {
		return err
	}
	inv.replicate(ctx, core.SyncOpDelete, &snapshot)
	inv.updateStatusGauges()
	return nil
}

// ApplyRemote installs a replicated UAV state without re-replicating. The
// datasync layer has already resolved version conflicts.
func (inv *Inventory) ApplyRemote(ctx context.Context, kind core.SyncOpKind, uav *core.UAV) error {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if kind == core.SyncOpDelete {
		delete(inv.uavs, uav.ID)
		return inv.store.Delete(ctx, repository.UAVKey(uav.ID))
	}
	stored := *uav
	inv.uavs[uav.ID] = &stored
	return inv.persistLocked(ctx, &stored)
}

// Version returns the local version for the entity id, 0 when unknown.
func (inv *Inventory) Version(id string) int64 {
	inv.mu.Lock()
	defer inv.mu.Unlock()
	if uav, ok := inv.uavs[id]; ok {
		return uav.Version
	}
	return 0
}

func (inv *Inventory) persistLocked(ctx context.Context, uav *core.UAV) error {
	raw, err := json.Marshal(uav)
	if err != nil {
		return errors.Fatal(err, "encoding uav %q", uav.ID)
	}
	return inv.store.Put(ctx, repository.UAVKey(uav.ID), raw)
}

func (inv *Inventory) replicate(ctx context.Context, kind core.SyncOpKind, uav *core.UAV) {
	raw, err := json.Marshal(uav)
	if err != nil {
		inv.log.Errorw("encoding uav for replication", "uav", uav.ID, "error", err)
		return
	}
	inv.repl.Replicate(ctx, core.SyncOperation{
		Kind:       kind,
		EntityKind: core.EntityUAV,
		EntityID:   uav.ID,
		Payload:    raw,
		Timestamp:  inv.clk.Now(),
		Version:    uav.Version,
	})
}

func (inv *Inventory) updateStatusGauges() {
	counts := map[core.UAVStatus]int{}
	for _, u := range inv.List() {
		counts[u.Status]++
	}
	for _, status := range []core.UAVStatus{core.UAVStatusOnline, core.UAVStatusOffline, core.UAVStatusBusy, core.UAVStatusIdle, core.UAVStatusError} {
		metrics.UAVsByStatus.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
}
