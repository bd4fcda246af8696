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

package operator

import (
	"context"
	"sync"

	"github.com/shookYu/FalconMind/pkg/apis/core"
	"github.com/shookYu/FalconMind/pkg/datasync"
	"github.com/shookYu/FalconMind/pkg/errors"
	"github.com/shookYu/FalconMind/pkg/fleet"
	"github.com/shookYu/FalconMind/pkg/raft"
	"github.com/shookYu/FalconMind/pkg/region"
)

// lateReplicator breaks the construction cycle between the domain components
// and the sync engine. Until bind, replication requests are dropped; the
// components are only exercised after NewOperator completes the binding.
type lateReplicator struct {
	mu    sync.RWMutex
	inner fleet.Replicator
}

func (r *lateReplicator) bind(inner fleet.Replicator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inner = inner
}

func (r *lateReplicator) Replicate(ctx context.Context, op core.SyncOperation) {
	r.mu.RLock()
	inner := r.inner
	r.mu.RUnlock()
	if inner != nil {
		inner.Replicate(ctx, op)
	}
}

// lateConsensus breaks the cycle between the sync engine and the raft node.
type lateConsensus struct {
	mu   sync.RWMutex
	node *raft.Node
}

func (c *lateConsensus) bind(node *raft.Node) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.node = node
}

func (c *lateConsensus) get() *raft.Node {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.node
}

func (c *lateConsensus) Propose(ctx context.Context, op core.SyncOperation) error {
	node := c.get()
	if node == nil {
		return errors.InvalidState("consensus not started")
	}
	return node.Propose(ctx, op)
}

func (c *lateConsensus) IsLeader() bool {
	node := c.get()
	return node != nil && node.IsLeader()
}

func (c *lateConsensus) LeaderID() string {
	node := c.get()
	if node == nil {
		return ""
	}
	return node.LeaderID()
}

// fanoutReplicator feeds every local entity change into the in-cluster sync
// engine and, on the leader, also enqueues it for the configured peer
// regions.
type fanoutReplicator struct {
	nodeID    string
	engine    *datasync.Engine
	regions   *region.Syncer
	consensus datasync.Consensus
}

func (f *fanoutReplicator) Replicate(ctx context.Context, op core.SyncOperation) {
	f.engine.Replicate(ctx, op)
	if f.regions != nil && f.consensus.IsLeader() {
		if op.OriginNode == "" {
			op.OriginNode = f.nodeID
		}
		f.regions.Enqueue(op)
	}
}
