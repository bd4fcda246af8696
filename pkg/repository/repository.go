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

// Package repository is the durable key/value contract behind every
// component. Four logical keyspaces exist: mission/{id}, uav/{id},
// cluster/{id} and raft/{node}/{term|vote|log|snapshot}. In-memory caches in
// the fleet and scheduler layers are derived views and must be rebuildable
// from a Store on cold start.
package repository

import (
	"context"
)

// KV is one stored pair returned by prefix scans.
type KV struct {
	Key   string
	Value []byte
}

// Store is the repository contract. Single-key writes are atomic;
// multi-key atomicity is not offered because replication is the source of
// truth for cross-entity invariants.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	ScanPrefix(ctx context.Context, prefix string) ([]KV, error)
	// CompareAndSwap writes value only if the current value equals expected.
	// A nil expected asserts the key is absent. Returns true on swap.
	CompareAndSwap(ctx context.Context, key string, expected, value []byte) (bool, error)
	Close() error
}

// Keyspace prefixes.
const (
	PrefixMission = "mission/"
	PrefixUAV     = "uav/"
	PrefixCluster = "cluster/"
	PrefixRaft    = "raft/"
)

func MissionKey(id string) string { return PrefixMission + id }
func UAVKey(id string) string     { return PrefixUAV + id }
func ClusterKey(id string) string { return PrefixCluster + id }
func RaftKey(node, field string) string {
	return PrefixRaft + node + "/" + field
}
