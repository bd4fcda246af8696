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

// Package events is the in-process event bus. Components publish domain
// events through a Recorder; sinks fan them out to the viewer broadcaster,
// the alerting store and the operator API's recent-events listing.
package events

import (
	"sync"
	"time"
)

type Type string

const (
	TypeUAVRegistered         Type = "uav_registered"
	TypeMissionEvent          Type = "mission_event"
	TypeClusterMissionCreated Type = "cluster_mission_created"
	TypeSearchArea            Type = "search_area"
	TypeDetection             Type = "detection"
	TypeSearchProgress        Type = "search_progress"
	TypeSearchPath            Type = "search_path"
	TypeConflict              Type = "conflict"
	TypeReassigned            Type = "reassigned"
	TypeAlert                 Type = "alert"
)

// Mission event sub-kinds carried in Event.SubKind.
const (
	MissionCreated    = "CREATED"
	MissionDispatched = "DISPATCHED"
	MissionPaused     = "PAUSED"
	MissionResumed    = "RESUMED"
	MissionCancelled  = "CANCELLED"
	MissionDeleted    = "DELETED"
	MissionSucceeded  = "SUCCEEDED"
	MissionFailed     = "FAILED"
	MissionRetrying   = "RETRYING"
)

type Event struct {
	Type      Type      `json:"type"`
	SubKind   string    `json:"subKind,omitempty"`
	EntityID  string    `json:"entityId,omitempty"`
	Message   string    `json:"message,omitempty"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type Recorder interface {
	Publish(Event)
}

type Sink func(Event)

// Bus retains a bounded ring of recent events and forwards every published
// event to each registered sink synchronously. Sinks must not block; the
// broadcaster sink enqueues onto its own bounded queue.
type Bus struct {
	mu      sync.RWMutex
	sinks   []Sink
	recent  []Event
	maxKeep int
}

func NewBus(maxKeep int) *Bus {
	if maxKeep <= 0 {
		maxKeep = 500
	}
	return &Bus{maxKeep: maxKeep}
}

func (b *Bus) AddSink(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
}

func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.mu.Lock()
	b.recent = append(b.recent, e)
	if len(b.recent) > b.maxKeep {
		b.recent = b.recent[len(b.recent)-b.maxKeep:]
	}
	sinks := make([]Sink, len(b.sinks))
	copy(sinks, b.sinks)
	b.mu.Unlock()

	for _, s := range sinks {
		s(e)
	}
}

// Recent returns up to limit most recent events, newest last.
func (b *Bus) Recent(limit int) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if limit <= 0 || limit > len(b.recent) {
		limit = len(b.recent)
	}
	out := make([]Event, limit)
	copy(out, b.recent[len(b.recent)-limit:])
	return out
}
