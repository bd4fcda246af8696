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

package core

import (
	"encoding/json"
	"time"
)

type SyncOpKind string

const (
	SyncOpCreate SyncOpKind = "create"
	SyncOpUpdate SyncOpKind = "update"
	SyncOpDelete SyncOpKind = "delete"
)

type EntityKind string

const (
	EntityMission EntityKind = "mission"
	EntityUAV     EntityKind = "uav"
	EntityCluster EntityKind = "cluster"
)

// SyncOperation is one versioned replicated mutation. Version is the
// per-entity monotonic counter used for last-writer-wins resolution.
type SyncOperation struct {
	Kind       SyncOpKind      `json:"kind"`
	EntityKind EntityKind      `json:"entityKind"`
	EntityID   string          `json:"entityId"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	Version    int64           `json:"version"`
	OriginNode string          `json:"originNode"`
}
