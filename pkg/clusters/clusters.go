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

// Package clusters manages named UAV groups. A group has exactly one LEADER;
// WORKERs fly, RELAYs extend the radio mesh. The leader is re-elected from
// the remaining members when it leaves, preferring the highest battery.
package clusters

import (
	"context"
	"encoding/json"
	"sort"
	"sync"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/shookYu/FalconMind/pkg/apis/core"
	"github.com/shookYu/FalconMind/pkg/errors"
	"github.com/shookYu/FalconMind/pkg/fleet"
	"github.com/shookYu/FalconMind/pkg/repository"
	"github.com/shookYu/FalconMind/pkg/utils/clock"
	"github.com/shookYu/FalconMind/pkg/utils/idgen"
)

type Manager struct {
	mu       sync.Mutex
	clusters map[string]*core.Cluster

	store     repository.Store
	inventory *fleet.Inventory
	clk       clock.Clock
	ids       *idgen.Generator
	log       *zap.SugaredLogger
}

func NewManager(store repository.Store, inventory *fleet.Inventory, clk clock.Clock, ids *idgen.Generator, log *zap.SugaredLogger) *Manager {
	return &Manager{
		clusters:  map[string]*core.Cluster{},
		store:     store,
		inventory: inventory,
		clk:       clk,
		ids:       ids,
		log:       log.Named("clusters"),
	}
}

// Load rebuilds the group table from the repository. Cluster missions share
// the keyspace under a different id prefix and are skipped here.
func (m *Manager) Load(ctx context.Context) error {
	kvs, err := m.store.ScanPrefix(ctx, repository.PrefixCluster)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, kv := range kvs {
		var c core.Cluster
		if err := json.Unmarshal(kv.Value, &c); err != nil || !isGroupID(c.ID) {
			continue
		}
		m.clusters[c.ID] = &c
	}
	m.log.Infow("loaded uav groups from repository", "groups", len(m.clusters))
	return nil
}

func isGroupID(id string) bool {
	return len(id) >= 6 && id[:6] == "group-"
}

// Create admits a new empty group.
func (m *Manager) Create(ctx context.Context, name, description string) (*core.Cluster, error) {
	if name == "" {
		return nil, errors.Validation("group name must not be empty")
	}
	now := m.clk.Now()
	c := &core.Cluster{
		ID:          m.ids.NextID("group"),
		Name:        name,
		Description: description,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.mu.Lock()
	m.clusters[c.ID] = c
	snapshot := *c
	err := m.persistLocked(ctx, c)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// AddMember joins a registered UAV to the group. The first member becomes
// LEADER; later members default to WORKER unless a role is given.
func (m *Manager) AddMember(ctx context.Context, clusterID, uavID string, role core.ClusterRole) (*core.Cluster, error) {
	if _, err := m.inventory.Get(uavID); err != nil {
		return nil, err
	}
	m.mu.Lock()
	c, ok := m.clusters[clusterID]
	if !ok {
		m.mu.Unlock()
		return nil, errors.NotFound("group %q", clusterID)
	}
	if lo.ContainsBy(c.Members, func(mem core.ClusterMember) bool { return mem.UAVID == uavID }) {
		m.mu.Unlock()
		return nil, errors.InvalidState("uav %q is already a member of %q", uavID, clusterID)
	}
	switch {
	case len(c.Members) == 0:
		role = core.ClusterRoleLeader
	case role == "":
		role = core.ClusterRoleWorker
	case role == core.ClusterRoleLeader:
		m.mu.Unlock()
		return nil, errors.InvalidState("group %q already has a leader", clusterID)
	}
	c.Members = append(c.Members, core.ClusterMember{UAVID: uavID, Role: role, JoinedAt: m.clk.Now()})
	c.UpdatedAt = m.clk.Now()
	c.Version++
	snapshot := *c
	err := m.persistLocked(ctx, c)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// RemoveMember drops a UAV from the group. Removing the leader triggers an
// election among the remaining members.
func (m *Manager) RemoveMember(ctx context.Context, clusterID, uavID string) (*core.Cluster, error) {
	m.mu.Lock()
	c, ok := m.clusters[clusterID]
	if !ok {
		m.mu.Unlock()
		return nil, errors.NotFound("group %q", clusterID)
	}
	before := len(c.Members)
	wasLeader := c.Leader() == uavID
	c.Members = lo.Reject(c.Members, func(mem core.ClusterMember, _ int) bool { return mem.UAVID == uavID })
	if len(c.Members) == before {
		m.mu.Unlock()
		return nil, errors.NotFound("uav %q is not a member of %q", uavID, clusterID)
	}
	if wasLeader && len(c.Members) > 0 {
		m.electLeaderLocked(c)
	}
	c.UpdatedAt = m.clk.Now()
	c.Version++
	snapshot := *c
	err := m.persistLocked(ctx, c)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// ElectLeader forces a leader election, preferring the member with the
// highest battery ratio. Ties break on uav id.
func (m *Manager) ElectLeader(ctx context.Context, clusterID string) (*core.Cluster, error) {
	m.mu.Lock()
	c, ok := m.clusters[clusterID]
	if !ok {
		m.mu.Unlock()
		return nil, errors.NotFound("group %q", clusterID)
	}
	if len(c.Members) == 0 {
		m.mu.Unlock()
		return nil, errors.InvalidState("group %q has no members", clusterID)
	}
	m.electLeaderLocked(c)
	c.UpdatedAt = m.clk.Now()
	c.Version++
	snapshot := *c
	err := m.persistLocked(ctx, c)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return &snapshot, nil
}

func (m *Manager) electLeaderLocked(c *core.Cluster) {
	best := -1
	bestScore := -1.0
	for i, mem := range c.Members {
		score := 0.0
		if u, err := m.inventory.Get(mem.UAVID); err == nil {
			score = u.Capabilities.BatteryRatio()
		}
		if score > bestScore || (score == bestScore && best >= 0 && mem.UAVID < c.Members[best].UAVID) {
			bestScore = score
			best = i
		}
	}
	for i := range c.Members {
		if c.Members[i].Role == core.ClusterRoleLeader {
			c.Members[i].Role = core.ClusterRoleWorker
		}
	}
	c.Members[best].Role = core.ClusterRoleLeader
	m.log.Infow("elected group leader", "group", c.ID, "leader", c.Members[best].UAVID)
}

// Get returns a copy of the group.
func (m *Manager) Get(id string) (*core.Cluster, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.clusters[id]
	if !ok {
		return nil, errors.NotFound("group %q", id)
	}
	snapshot := *c
	return &snapshot, nil
}

// List returns copies of all groups ordered by creation time.
func (m *Manager) List() []*core.Cluster {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := lo.MapToSlice(m.clusters, func(_ string, c *core.Cluster) *core.Cluster {
		snapshot := *c
		return &snapshot
	})
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Delete removes an empty group.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	c, ok := m.clusters[id]
	if !ok {
		m.mu.Unlock()
		return errors.NotFound("group %q", id)
	}
	if len(c.Members) > 0 {
		m.mu.Unlock()
		return errors.InvalidState("group %q still has %d members", id, len(c.Members))
	}
	delete(m.clusters, id)
	err := m.store.Delete(ctx, repository.ClusterKey(id))
	m.mu.Unlock()
	return err
}

func (m *Manager) persistLocked(ctx context.Context, c *core.Cluster) error {
	raw, err := json.Marshal(c)
	if err != nil {
		return errors.Fatal(err, "encoding group %q", c.ID)
	}
	return m.store.Put(ctx, repository.ClusterKey(c.ID), raw)
}
