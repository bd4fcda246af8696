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

// Package discovery tells each control plane node who its peers are. The
// static registry reads a fixed peer table from configuration; the HTTP
// registry keeps membership fresh through periodic re-registration against a
// registry endpoint and evicts peers that stop renewing.
package discovery

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/shookYu/FalconMind/pkg/errors"
)

// NodeInfo describes one control plane node.
type NodeInfo struct {
	ID       string    `json:"id"`
	Address  string    `json:"address"` // base URL, e.g. http://10.0.0.5:8080
	Region   string    `json:"region,omitempty"`
	LastSeen time.Time `json:"lastSeen,omitempty"`
}

// Registry is the membership contract. Watch emits the full node list on
// every membership change until ctx is cancelled.
type Registry interface {
	Register(ctx context.Context, node NodeInfo) error
	Deregister(ctx context.Context, id string) error
	Nodes(ctx context.Context) ([]NodeInfo, error)
	Watch(ctx context.Context) <-chan []NodeInfo
}

// StaticRegistry serves a fixed peer table; Register and Deregister are
// accepted but ignored so a node can run the same bootstrap code in both
// modes.
type StaticRegistry struct {
	nodes []NodeInfo
}

// ParseStatic builds a static registry from "id=http://host:port" pairs.
func ParseStatic(pairs []string) (*StaticRegistry, error) {
	var nodes []NodeInfo
	for _, pair := range pairs {
		id, addr, ok := strings.Cut(pair, "=")
		if !ok || id == "" || addr == "" {
			return nil, errors.Validation("malformed peer %q, want id=url", pair)
		}
		nodes = append(nodes, NodeInfo{ID: id, Address: addr})
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return &StaticRegistry{nodes: nodes}, nil
}

func (r *StaticRegistry) Register(context.Context, NodeInfo) error { return nil }
func (r *StaticRegistry) Deregister(context.Context, string) error { return nil }

func (r *StaticRegistry) Nodes(context.Context) ([]NodeInfo, error) {
	out := make([]NodeInfo, len(r.nodes))
	copy(out, r.nodes)
	return out, nil
}

// Watch on a static registry emits the table once and then blocks.
func (r *StaticRegistry) Watch(ctx context.Context) <-chan []NodeInfo {
	ch := make(chan []NodeInfo, 1)
	nodes, _ := r.Nodes(ctx)
	ch <- nodes
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch
}

// Resolve implements the rpc resolver contract on any Registry.
type RegistryResolver struct {
	registry Registry
}

func NewResolver(registry Registry) *RegistryResolver {
	return &RegistryResolver{registry: registry}
}

func (r *RegistryResolver) Resolve(peerID string) (string, error) {
	nodes, err := r.registry.Nodes(context.Background())
	if err != nil {
		return "", err
	}
	for _, n := range nodes {
		if n.ID == peerID {
			return n.Address, nil
		}
	}
	return "", errors.NotFound("peer %q not registered", peerID)
}

// MemberTable is the server side of the HTTP registry: registrations carry a
// TTL and silently expire unless renewed.
type MemberTable struct {
	mu      sync.Mutex
	entries *cache.Cache
}

func NewMemberTable(ttl time.Duration) *MemberTable {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &MemberTable{entries: cache.New(ttl, ttl)}
}

func (t *MemberTable) Register(_ context.Context, node NodeInfo) error {
	if node.ID == "" || node.Address == "" {
		return errors.Validation("node registration needs id and address")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	node.LastSeen = time.Now()
	t.entries.SetDefault(node.ID, node)
	return nil
}

func (t *MemberTable) Deregister(_ context.Context, id string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries.Delete(id)
	return nil
}

func (t *MemberTable) Nodes(context.Context) ([]NodeInfo, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	items := t.entries.Items()
	out := make([]NodeInfo, 0, len(items))
	for _, item := range items {
		out = append(out, item.Object.(NodeInfo))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *MemberTable) Watch(ctx context.Context) <-chan []NodeInfo {
	return pollWatch(ctx, t, 5*time.Second)
}
