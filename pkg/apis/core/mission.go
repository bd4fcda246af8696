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

type MissionType string

const (
	MissionTypeSingleUAV MissionType = "SINGLE_UAV"
	MissionTypeMultiUAV  MissionType = "MULTI_UAV"
	MissionTypeCluster   MissionType = "CLUSTER"
)

type MissionState string

const (
	MissionPending   MissionState = "PENDING"
	MissionRunning   MissionState = "RUNNING"
	MissionPaused    MissionState = "PAUSED"
	MissionSucceeded MissionState = "SUCCEEDED"
	MissionFailed    MissionState = "FAILED"
	MissionCancelled MissionState = "CANCELLED"
)

// Terminal reports whether the state is absorbing.
func (s MissionState) Terminal() bool {
	return s == MissionSucceeded || s == MissionFailed || s == MissionCancelled
}

// validTransitions is the full edge set of the mission state machine. Any
// transition not listed here must be rejected with an InvalidState error.
var validTransitions = map[MissionState][]MissionState{
	MissionPending: {MissionRunning, MissionCancelled, MissionFailed},
	MissionRunning: {MissionPaused, MissionSucceeded, MissionFailed, MissionCancelled},
	MissionPaused:  {MissionRunning, MissionCancelled},
}

// CanTransition reports whether from -> to is a permitted edge.
func (s MissionState) CanTransition(to MissionState) bool {
	for _, next := range validTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Mission is a unit of work assigned to one or more UAVs.
type Mission struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Description  string         `json:"description,omitempty"`
	Type         MissionType    `json:"type"`
	AssignedUAVs []string       `json:"assignedUavs,omitempty"`
	Payload      map[string]any `json:"payload,omitempty"`
	Priority     int            `json:"priority"`
	State        MissionState   `json:"state"`
	Progress     float64        `json:"progress"`
	RetryCount   int            `json:"retryCount"`
	LastError    string         `json:"lastError,omitempty"`
	Version      int64          `json:"version"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
	StartedAt    *time.Time     `json:"startedAt,omitempty"`
	CompletedAt  *time.Time     `json:"completedAt,omitempty"`
}

// SubAssignment binds one sub-mission of a cluster mission to a UAV and its
// carved-out share of the parent polygon.
type SubAssignment struct {
	SubMissionID string `json:"subMissionId"`
	UAVID        string `json:"uavId"`
	Area         Area   `json:"area"`
}

// ClusterMission is a parent mission split into per-UAV sub-missions that
// share a search polygon.
type ClusterMission struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	MissionKind string          `json:"missionKind"`
	Area        Area            `json:"area"`
	Assignments []SubAssignment `json:"assignments"`
	Version     int64           `json:"version"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// SubMissionIDs returns the ordered sub-mission ids of the cluster mission.
func (c *ClusterMission) SubMissionIDs() []string {
	ids := make([]string, 0, len(c.Assignments))
	for _, a := range c.Assignments {
		ids = append(ids, a.SubMissionID)
	}
	return ids
}
