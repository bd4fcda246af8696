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

package datasync

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/shookYu/FalconMind/pkg/apis/core"
	"github.com/shookYu/FalconMind/pkg/errors"
)

// Sweep endpoints served by the operator API.
const (
	PathSyncDigest = "/internal/sync/digest"
	PathSyncPull   = "/internal/sync/pull"
)

type SweepOptions struct {
	// IncrementalInterval drives digest-diff pulls from peers.
	IncrementalInterval time.Duration
	// FullInterval drives complete-state pulls that repair any divergence the
	// digests missed.
	FullInterval time.Duration
}

func (o SweepOptions) withDefaults() SweepOptions {
	if o.IncrementalInterval <= 0 {
		o.IncrementalInterval = 30 * time.Second
	}
	if o.FullInterval <= 0 {
		o.FullInterval = 300 * time.Second
	}
	return o
}

// Digest maps "kind/id" to the local entity version.
type Digest map[string]int64

// PullRequest asks a peer for the operations behind a set of digest keys.
type PullRequest struct {
	Keys []string `json:"keys"`
}

// LocalDigest summarises every entity this node holds.
func (e *Engine) LocalDigest() Digest {
	d := Digest{}
	for _, u := range e.inventory.List() {
		d[digestKey(core.EntityUAV, u.ID)] = u.Version
	}
	for _, m := range e.sched.List() {
		d[digestKey(core.EntityMission, m.ID)] = m.Version
	}
	for _, cm := range e.coord.List() {
		d[digestKey(core.EntityCluster, cm.ID)] = cm.Version
	}
	return d
}

// BuildOps materialises update operations for the requested digest keys,
// skipping keys this node no longer holds.
func (e *Engine) BuildOps(keys []string) []core.SyncOperation {
	now := e.clk.Now()
	ops := make([]core.SyncOperation, 0, len(keys))
	for _, key := range keys {
		kind, id, ok := splitDigestKey(key)
		if !ok {
			continue
		}
		var payload any
		var version int64
		switch kind {
		case core.EntityUAV:
			u, err := e.inventory.Get(id)
			if err != nil {
				continue
			}
			payload, version = u, u.Version
		case core.EntityMission:
			m, err := e.sched.Get(id)
			if err != nil {
				continue
			}
			payload, version = m, m.Version
		case core.EntityCluster:
			cm, err := e.coord.Get(id)
			if err != nil {
				continue
			}
			payload, version = cm, cm.Version
		default:
			continue
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			continue
		}
		ops = append(ops, core.SyncOperation{
			Kind:       core.SyncOpUpdate,
			EntityKind: kind,
			EntityID:   id,
			Payload:    raw,
			Timestamp:  now,
			Version:    version,
			OriginNode: e.nodeID,
		})
	}
	return ops
}

// RunSweeps drives the incremental and full sync loops until ctx is
// cancelled. peers yields the current peer ids on every round.
func (e *Engine) RunSweeps(ctx context.Context, peers func() []string, opts SweepOptions) {
	opts = opts.withDefaults()
	incremental := time.NewTicker(opts.IncrementalInterval)
	full := time.NewTicker(opts.FullInterval)
	defer incremental.Stop()
	defer full.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-incremental.C:
			e.sweep(ctx, peers(), false)
		case <-full.C:
			e.sweep(ctx, peers(), true)
		}
	}
}

// sweep pulls newer state from each peer. Incremental sweeps pull only keys
// whose peer version beats the local one; full sweeps pull the peer's entire
// digest and let the version race sort it out. Only the leader drives
// anti-entropy; followers converge through the replicated log.
func (e *Engine) sweep(ctx context.Context, peers []string, full bool) {
	if e.client == nil {
		return
	}
	if e.consensus != nil && !e.consensus.IsLeader() {
		return
	}
	for _, peer := range peers {
		if peer == e.nodeID {
			continue
		}
		if err := e.pullFrom(ctx, peer, full); err != nil {
			e.log.Debugw("sweep pull failed", "peer", peer, "full", full, "error", err)
		}
	}
}

func (e *Engine) pullFrom(ctx context.Context, peer string, full bool) error {
	var remote Digest
	if err := e.client.Call(ctx, peer, PathSyncDigest, struct{}{}, &remote); err != nil {
		return err
	}
	local := e.LocalDigest()
	var keys []string
	for key, version := range remote {
		if full || version > local[key] {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	var ops []core.SyncOperation
	if err := e.client.Call(ctx, peer, PathSyncPull, PullRequest{Keys: keys}, &ops); err != nil {
		return err
	}
	var firstErr error
	for _, op := range ops {
		if err := e.Apply(ctx, op); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	e.log.Debugw("pulled from peer", "peer", peer, "keys", len(keys), "ops", len(ops), "full", full)
	return firstErr
}

func digestKey(kind core.EntityKind, id string) string {
	return string(kind) + "/" + id
}

func splitDigestKey(key string) (core.EntityKind, string, bool) {
	kind, id, ok := strings.Cut(key, "/")
	if !ok || id == "" {
		return "", "", false
	}
	return core.EntityKind(kind), id, true
}

// snapshotState is the serialised form of the full state machine used for
// raft log compaction.
type snapshotState struct {
	UAVs            []*core.UAV            `json:"uavs"`
	Missions        []*core.Mission        `json:"missions"`
	ClusterMissions []*core.ClusterMission `json:"clusterMissions"`
}

// Snapshot captures every entity for raft compaction.
func (e *Engine) Snapshot(ctx context.Context) ([]byte, error) {
	state := snapshotState{
		UAVs:            e.inventory.List(),
		Missions:        e.sched.List(),
		ClusterMissions: e.coord.List(),
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return nil, errors.Fatal(err, "encoding state snapshot")
	}
	return raw, nil
}

// Restore installs a snapshot, overwriting local entities. Versions inside
// the snapshot replace whatever is held locally.
func (e *Engine) Restore(ctx context.Context, data []byte) error {
	var state snapshotState
	if err := json.Unmarshal(data, &state); err != nil {
		return errors.Fatal(err, "decoding state snapshot")
	}
	for _, u := range state.UAVs {
		if err := e.inventory.ApplyRemote(ctx, core.SyncOpUpdate, u); err != nil {
			return err
		}
	}
	for _, m := range state.Missions {
		if err := e.sched.ApplyRemote(ctx, core.SyncOpUpdate, m); err != nil {
			return err
		}
	}
	for _, cm := range state.ClusterMissions {
		if err := e.coord.ApplyRemote(ctx, core.SyncOpUpdate, cm); err != nil {
			return err
		}
	}
	e.log.Infow("restored state snapshot", "uavs", len(state.UAVs), "missions", len(state.Missions), "clusterMissions", len(state.ClusterMissions))
	return nil
}
