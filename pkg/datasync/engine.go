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

// Package datasync keeps entity state consistent across nodes. Local
// mutations flow in through the Replicate hook and out through the raft log;
// incoming operations are resolved last-writer-wins on the per-entity version
// counter, with the lexicographically higher origin node winning ties.
package datasync

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shookYu/FalconMind/pkg/apis/core"
	"github.com/shookYu/FalconMind/pkg/coordinator"
	"github.com/shookYu/FalconMind/pkg/errors"
	"github.com/shookYu/FalconMind/pkg/fleet"
	"github.com/shookYu/FalconMind/pkg/metrics"
	"github.com/shookYu/FalconMind/pkg/rpc"
	"github.com/shookYu/FalconMind/pkg/scheduler"
	"github.com/shookYu/FalconMind/pkg/utils/clock"
)

// Consensus is the slice of the raft node the engine depends on.
type Consensus interface {
	Propose(ctx context.Context, op core.SyncOperation) error
	IsLeader() bool
	LeaderID() string
}

// PathSyncOps is the endpoint peers post forwarded operations to.
const PathSyncOps = "/internal/sync/ops"

type Engine struct {
	nodeID    string
	consensus Consensus
	client    *rpc.Client
	inventory *fleet.Inventory
	sched     *scheduler.Scheduler
	coord     *coordinator.Coordinator
	clk       clock.Clock
	log       *zap.SugaredLogger

	mu      sync.Mutex
	origins map[string]string // digest key -> origin of the last applied write
}

func NewEngine(nodeID string, consensus Consensus, client *rpc.Client, inventory *fleet.Inventory, sched *scheduler.Scheduler, coord *coordinator.Coordinator, clk clock.Clock, log *zap.SugaredLogger) *Engine {
	return &Engine{
		nodeID:    nodeID,
		consensus: consensus,
		client:    client,
		inventory: inventory,
		sched:     sched,
		coord:     coord,
		clk:       clk,
		log:       log.Named("datasync"),
		origins:   map[string]string{},
	}
}

// Replicate feeds a local mutation into the consensus pipeline. Leaders
// propose directly; followers forward to the leader. Replication is
// best-effort from the caller's point of view: the local write has already
// been persisted and a failed proposal is repaired by the periodic sweeps.
func (e *Engine) Replicate(ctx context.Context, op core.SyncOperation) {
	op.OriginNode = e.nodeID
	go func() {
		// The mutation's own request context may be gone by the time the
		// proposal commits.
		ctx, cancel := context.WithTimeout(context.Background(), replicateTimeout)
		defer cancel()
		if e.consensus == nil {
			return
		}
		if e.consensus.IsLeader() {
			if err := e.consensus.Propose(ctx, op); err != nil {
				e.log.Warnw("proposing operation", "entity", op.EntityID, "error", err)
			}
			return
		}
		leader := e.consensus.LeaderID()
		if leader == "" || e.client == nil {
			e.log.Debugw("no leader to forward to, sweep will repair", "entity", op.EntityID)
			return
		}
		if err := e.client.Call(ctx, leader, PathSyncOps, []core.SyncOperation{op}, nil); err != nil {
			e.log.Warnw("forwarding operation to leader", "leader", leader, "entity", op.EntityID, "error", err)
		}
	}()
}

const replicateTimeout = 10 * time.Second

// HandleOps ingests forwarded operations. On the leader they enter the log;
// elsewhere they apply directly (used by the sweeps).
func (e *Engine) HandleOps(ctx context.Context, ops []core.SyncOperation) error {
	var errs []error
	for _, op := range ops {
		if e.consensus != nil && e.consensus.IsLeader() && op.OriginNode != e.nodeID {
			if err := e.consensus.Propose(ctx, op); err != nil {
				errs = append(errs, err)
			}
			continue
		}
		if err := e.Apply(ctx, op); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Transient(errs[0], "applying %d of %d operations failed", len(errs), len(ops))
	}
	return nil
}

// Apply installs one operation if it wins the version race. Implements the
// raft applier; every committed log entry lands here on every node.
func (e *Engine) Apply(ctx context.Context, op core.SyncOperation) error {
	if stale, local := e.isStale(op); stale {
		metrics.SyncStaleRejected.Inc()
		e.log.Debugw("rejected stale operation",
			"kind", op.EntityKind, "entity", op.EntityID,
			"version", op.Version, "local", local, "origin", op.OriginNode)
		return nil
	}
	var err error
	switch op.EntityKind {
	case core.EntityUAV:
		var uav core.UAV
		if err := json.Unmarshal(op.Payload, &uav); err != nil {
			return errors.Fatal(err, "decoding uav operation %q", op.EntityID)
		}
		if op.Kind == core.SyncOpDelete {
			uav.ID = op.EntityID
		}
		err = e.inventory.ApplyRemote(ctx, op.Kind, &uav)
	case core.EntityMission:
		var m core.Mission
		if err := json.Unmarshal(op.Payload, &m); err != nil {
			return errors.Fatal(err, "decoding mission operation %q", op.EntityID)
		}
		if op.Kind == core.SyncOpDelete {
			m.ID = op.EntityID
		}
		err = e.sched.ApplyRemote(ctx, op.Kind, &m)
	case core.EntityCluster:
		var cm core.ClusterMission
		if err := json.Unmarshal(op.Payload, &cm); err != nil {
			return errors.Fatal(err, "decoding cluster mission operation %q", op.EntityID)
		}
		if op.Kind == core.SyncOpDelete {
			cm.ID = op.EntityID
		}
		err = e.coord.ApplyRemote(ctx, op.Kind, &cm)
	default:
		return errors.Validation("unknown entity kind %q", op.EntityKind)
	}
	if err != nil {
		return err
	}
	e.recordOrigin(op)
	return nil
}

// isStale applies the last-writer-wins rule: lower versions lose, and on an
// equal version the lexicographically higher origin node id wins. Ties compare
// against the origin of the last applied write for the entity so every node
// resolves the same race the same way.
func (e *Engine) isStale(op core.SyncOperation) (bool, int64) {
	local := e.localVersion(op.EntityKind, op.EntityID)
	if op.Version > local {
		return false, local
	}
	if op.Version == local && op.OriginNode > e.lastOrigin(op.EntityKind, op.EntityID) {
		return false, local
	}
	return true, local
}

func (e *Engine) recordOrigin(op core.SyncOperation) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.origins[digestKey(op.EntityKind, op.EntityID)] = op.OriginNode
}

// lastOrigin falls back to this node's id for entities only ever written
// locally.
func (e *Engine) lastOrigin(kind core.EntityKind, id string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if origin, ok := e.origins[digestKey(kind, id)]; ok {
		return origin
	}
	return e.nodeID
}

func (e *Engine) localVersion(kind core.EntityKind, id string) int64 {
	switch kind {
	case core.EntityUAV:
		return e.inventory.Version(id)
	case core.EntityMission:
		return e.sched.Version(id)
	case core.EntityCluster:
		return e.coord.Version(id)
	default:
		return 0
	}
}
