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

package server

import (
	"net/http"

	"github.com/shookYu/FalconMind/pkg/apis/core"
	"github.com/shookYu/FalconMind/pkg/datasync"
	"github.com/shookYu/FalconMind/pkg/discovery"
	"github.com/shookYu/FalconMind/pkg/raft"
)

// Raft verbs. Responses are written plain, not enveloped; the rpc client
// decodes them directly into the raft response types.

func (s *Server) handleRaftVote(w http.ResponseWriter, r *http.Request) {
	var req raft.RequestVoteRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Raft.HandleRequestVote(r.Context(), req))
}

func (s *Server) handleRaftAppend(w http.ResponseWriter, r *http.Request) {
	var req raft.AppendEntriesRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Raft.HandleAppendEntries(r.Context(), req))
}

func (s *Server) handleRaftSnapshot(w http.ResponseWriter, r *http.Request) {
	var req raft.InstallSnapshotRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Raft.HandleInstallSnapshot(r.Context(), req))
}

// Data sync verbs.

func (s *Server) handleSyncOps(w http.ResponseWriter, r *http.Request) {
	var ops []core.SyncOperation
	if err := decode(r, &ops); err != nil {
		writeError(w, err)
		return
	}
	if err := s.deps.Sync.HandleOps(r.Context(), ops); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) handleSyncDigest(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Sync.LocalDigest())
}

func (s *Server) handleSyncPull(w http.ResponseWriter, r *http.Request) {
	var req datasync.PullRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Sync.BuildOps(req.Keys))
}

// Cross-region inbound.

func (s *Server) handleRegionSync(w http.ResponseWriter, r *http.Request) {
	var ops []core.SyncOperation
	if err := decode(r, &ops); err != nil {
		writeError(w, err)
		return
	}
	if err := s.deps.Region.HandleOps(r.Context(), ops); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

// Discovery verbs, served when this node hosts the member registry.

func (s *Server) handleDiscoveryRegister(w http.ResponseWriter, r *http.Request) {
	var node discovery.NodeInfo
	if err := decode(r, &node); err != nil {
		writeError(w, err)
		return
	}
	if err := s.deps.Members.Register(r.Context(), node); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) handleDiscoveryDeregister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.deps.Members.Deregister(r.Context(), req.ID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct{}{})
}

func (s *Server) handleDiscoveryNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := s.deps.Members.Nodes(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nodes)
}
