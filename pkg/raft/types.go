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

package raft

import (
	"context"

	"github.com/shookYu/FalconMind/pkg/apis/core"
)

type Role string

const (
	RoleFollower  Role = "follower"
	RoleCandidate Role = "candidate"
	RoleLeader    Role = "leader"
)

// LogEntry is one replicated operation. Index 0 is reserved; the first real
// entry has index 1.
type LogEntry struct {
	Index uint64             `json:"index"`
	Term  uint64             `json:"term"`
	Op    core.SyncOperation `json:"op"`
}

type RequestVoteRequest struct {
	Term         uint64 `json:"term"`
	CandidateID  string `json:"candidateId"`
	LastLogIndex uint64 `json:"lastLogIndex"`
	LastLogTerm  uint64 `json:"lastLogTerm"`
}

type RequestVoteResponse struct {
	Term        uint64 `json:"term"`
	VoteGranted bool   `json:"voteGranted"`
}

type AppendEntriesRequest struct {
	Term         uint64     `json:"term"`
	LeaderID     string     `json:"leaderId"`
	PrevLogIndex uint64     `json:"prevLogIndex"`
	PrevLogTerm  uint64     `json:"prevLogTerm"`
	Entries      []LogEntry `json:"entries,omitempty"`
	LeaderCommit uint64     `json:"leaderCommit"`
}

type AppendEntriesResponse struct {
	Term    uint64 `json:"term"`
	Success bool   `json:"success"`
	// ConflictIndex hints where the leader should back up to on rejection.
	ConflictIndex uint64 `json:"conflictIndex,omitempty"`
}

type InstallSnapshotRequest struct {
	Term              uint64 `json:"term"`
	LeaderID          string `json:"leaderId"`
	LastIncludedIndex uint64 `json:"lastIncludedIndex"`
	LastIncludedTerm  uint64 `json:"lastIncludedTerm"`
	Data              []byte `json:"data"`
}

type InstallSnapshotResponse struct {
	Term uint64 `json:"term"`
}

// Transport carries raft RPCs to a peer node id.
type Transport interface {
	RequestVote(ctx context.Context, peer string, req RequestVoteRequest) (RequestVoteResponse, error)
	AppendEntries(ctx context.Context, peer string, req AppendEntriesRequest) (AppendEntriesResponse, error)
	InstallSnapshot(ctx context.Context, peer string, req InstallSnapshotRequest) (InstallSnapshotResponse, error)
}

// Applier consumes committed operations in log order. Apply must be
// deterministic; it runs on every node.
type Applier interface {
	Apply(ctx context.Context, op core.SyncOperation) error
}

// Snapshotter captures and restores the full state machine for log
// compaction and for catching up far-behind followers.
type Snapshotter interface {
	Snapshot(ctx context.Context) ([]byte, error)
	Restore(ctx context.Context, data []byte) error
}

// Status is a point-in-time view of the node for the operator API.
type Status struct {
	NodeID      string `json:"nodeId"`
	Role        Role   `json:"role"`
	Term        uint64 `json:"term"`
	LeaderID    string `json:"leaderId,omitempty"`
	CommitIndex uint64 `json:"commitIndex"`
	LastApplied uint64 `json:"lastApplied"`
	LastIndex   uint64 `json:"lastIndex"`
	Peers       int    `json:"peers"`
}
