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

package rpc

import (
	"context"

	"github.com/shookYu/FalconMind/pkg/raft"
)

// Raft RPC paths served by the operator API.
const (
	PathRaftVote     = "/internal/raft/vote"
	PathRaftAppend   = "/internal/raft/append"
	PathRaftSnapshot = "/internal/raft/snapshot"
)

// RaftTransport adapts the rpc client to the raft.Transport contract.
type RaftTransport struct {
	client *Client
}

func NewRaftTransport(client *Client) *RaftTransport {
	return &RaftTransport{client: client}
}

func (t *RaftTransport) RequestVote(ctx context.Context, peer string, req raft.RequestVoteRequest) (raft.RequestVoteResponse, error) {
	var resp raft.RequestVoteResponse
	err := t.client.Call(ctx, peer, PathRaftVote, req, &resp)
	return resp, err
}

func (t *RaftTransport) AppendEntries(ctx context.Context, peer string, req raft.AppendEntriesRequest) (raft.AppendEntriesResponse, error) {
	var resp raft.AppendEntriesResponse
	err := t.client.Call(ctx, peer, PathRaftAppend, req, &resp)
	return resp, err
}

func (t *RaftTransport) InstallSnapshot(ctx context.Context, peer string, req raft.InstallSnapshotRequest) (raft.InstallSnapshotResponse, error) {
	var resp raft.InstallSnapshotResponse
	err := t.client.Call(ctx, peer, PathRaftSnapshot, req, &resp)
	return resp, err
}
