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

import "time"

type ClusterRole string

const (
	ClusterRoleLeader ClusterRole = "LEADER"
	ClusterRoleWorker ClusterRole = "WORKER"
	ClusterRoleRelay  ClusterRole = "RELAY"
)

// ClusterMember is one UAV's membership in a cluster group.
type ClusterMember struct {
	UAVID    string      `json:"uavId"`
	Role     ClusterRole `json:"role"`
	JoinedAt time.Time   `json:"joinedAt"`
}

// Cluster is a named group of UAVs that fly cooperative missions together.
// The first member admitted becomes the leader.
type Cluster struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Members     []ClusterMember `json:"members"`
	Version     int64           `json:"version"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// Leader returns the uav id of the current leader, or empty if none.
func (c *Cluster) Leader() string {
	for _, m := range c.Members {
		if m.Role == ClusterRoleLeader {
			return m.UAVID
		}
	}
	return ""
}
