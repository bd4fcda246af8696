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
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/shookYu/FalconMind/pkg/apis/core"
	"github.com/shookYu/FalconMind/pkg/coordinator"
	"github.com/shookYu/FalconMind/pkg/errors"
	"github.com/shookYu/FalconMind/pkg/scheduler"
)

// Mission verbs.

func (s *Server) handleListMissions(w http.ResponseWriter, r *http.Request) {
	writeOK(w, http.StatusOK, s.deps.Scheduler.List())
}

func (s *Server) handleCreateMission(w http.ResponseWriter, r *http.Request) {
	var req scheduler.CreateRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	m, err := s.deps.Scheduler.Create(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusCreated, m)
}

func (s *Server) handleGetMission(w http.ResponseWriter, r *http.Request) {
	m, err := s.deps.Scheduler.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, m)
}

func (s *Server) handleDeleteMission(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Scheduler.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, nil)
}

func (s *Server) handleDispatchMission(w http.ResponseWriter, r *http.Request) {
	var req scheduler.DispatchRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	m, err := s.deps.Scheduler.Dispatch(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, m)
}

func (s *Server) handlePauseMission(w http.ResponseWriter, r *http.Request) {
	m, err := s.deps.Scheduler.Pause(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, m)
}

func (s *Server) handleResumeMission(w http.ResponseWriter, r *http.Request) {
	m, err := s.deps.Scheduler.Resume(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, m)
}

func (s *Server) handleCancelMission(w http.ResponseWriter, r *http.Request) {
	m, err := s.deps.Scheduler.Cancel(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, m)
}

func (s *Server) handleMissionProgress(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Progress float64 `json:"progress"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	m, err := s.deps.Scheduler.UpdateProgress(r.Context(), chi.URLParam(r, "id"), req.Progress)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, m)
}

func (s *Server) handleCompleteMission(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Success   bool   `json:"success"`
		LastError string `json:"lastError,omitempty"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	m, err := s.deps.Scheduler.Complete(r.Context(), chi.URLParam(r, "id"), req.Success, req.LastError)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, m)
}

// Fleet verbs.

func (s *Server) handleListUAVs(w http.ResponseWriter, r *http.Request) {
	writeOK(w, http.StatusOK, s.deps.Inventory.List())
}

func (s *Server) handleRegisterUAV(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID           string            `json:"id"`
		Capabilities core.Capabilities `json:"capabilities"`
		Metadata     map[string]string `json:"metadata,omitempty"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	u, err := s.deps.Inventory.Register(r.Context(), req.ID, req.Capabilities, req.Metadata)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusCreated, u)
}

func (s *Server) handleGetUAV(w http.ResponseWriter, r *http.Request) {
	u, err := s.deps.Inventory.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, u)
}

func (s *Server) handleRemoveUAV(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Inventory.Remove(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, nil)
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.deps.Inventory.Heartbeat(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, nil)
}

// Cluster group verbs.

func (s *Server) handleListClusters(w http.ResponseWriter, r *http.Request) {
	writeOK(w, http.StatusOK, s.deps.Clusters.List())
}

func (s *Server) handleCreateCluster(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	c, err := s.deps.Clusters.Create(r.Context(), req.Name, req.Description)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusCreated, c)
}

func (s *Server) handleGetCluster(w http.ResponseWriter, r *http.Request) {
	c, err := s.deps.Clusters.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, c)
}

func (s *Server) handleDeleteCluster(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Clusters.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, nil)
}

func (s *Server) handleAddMember(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UAVID string           `json:"uavId"`
		Role  core.ClusterRole `json:"role,omitempty"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	c, err := s.deps.Clusters.AddMember(r.Context(), chi.URLParam(r, "id"), req.UAVID, req.Role)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, c)
}

func (s *Server) handleRemoveMember(w http.ResponseWriter, r *http.Request) {
	c, err := s.deps.Clusters.RemoveMember(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "uavId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, c)
}

func (s *Server) handleElectLeader(w http.ResponseWriter, r *http.Request) {
	c, err := s.deps.Clusters.ElectLeader(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, c)
}

// Cluster mission verbs.

func (s *Server) handleListClusterMissions(w http.ResponseWriter, r *http.Request) {
	writeOK(w, http.StatusOK, s.deps.Coordinator.List())
}

func (s *Server) handleCreateClusterMission(w http.ResponseWriter, r *http.Request) {
	var req coordinator.CreateRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	m, err := s.deps.Coordinator.Create(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusCreated, m)
}

func (s *Server) handleGetClusterMission(w http.ResponseWriter, r *http.Request) {
	m, err := s.deps.Coordinator.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, m)
}

func (s *Server) handleClusterProgress(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	progress, err := s.deps.Coordinator.Progress(id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{
		"progress": progress,
		"states":   s.deps.Coordinator.States(id),
	})
}

func (s *Server) handleClusterProgressUpdate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UAVID    string  `json:"uavId"`
		Progress float64 `json:"progress"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	aggregate, err := s.deps.Coordinator.UpdateProgress(r.Context(), req.UAVID, req.Progress)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]float64{"progress": aggregate})
}

// handleLoadBalance reports the rebalancing move the coordinator would make.
// The move is only carried out when the operator opts in with execute.
func (s *Server) handleLoadBalance(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Execute bool `json:"execute,omitempty"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	suggestion, err := s.deps.Coordinator.Rebalance(r.Context(), req.Execute)
	if err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, map[string]any{
		"balanced":   suggestion == nil,
		"executed":   req.Execute && suggestion != nil,
		"suggestion": suggestion,
	})
}

func (s *Server) handleTargetTracking(w http.ResponseWriter, r *http.Request) {
	var d coordinator.Detection
	if err := decode(r, &d); err != nil {
		writeError(w, err)
		return
	}
	if err := s.deps.Coordinator.ReportDetection(r.Context(), d); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, s.deps.Coordinator.State(d.UAVID))
}

func (s *Server) handleStopTracking(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Coordinator.StopTracking(chi.URLParam(r, "uavId")); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusOK, nil)
}

// Observability verbs.

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, errors.Validation("limit must be a non-negative integer"))
			return
		}
		limit = n
	}
	writeOK(w, http.StatusOK, s.deps.Bus.Recent(limit))
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("active") == "true" {
		writeOK(w, http.StatusOK, s.deps.Alerts.Active())
		return
	}
	writeOK(w, http.StatusOK, s.deps.Alerts.All())
}

func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	var t core.Telemetry
	if err := decode(r, &t); err != nil {
		writeError(w, err)
		return
	}
	if err := s.deps.Telemetry.Ingest(r.Context(), t); err != nil {
		writeError(w, err)
		return
	}
	writeOK(w, http.StatusAccepted, nil)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{
		"nodeId": s.deps.NodeID,
		"uptime": s.clk.Since(s.startedAt).String(),
	}
	if s.deps.Raft != nil {
		st := s.deps.Raft.Status()
		health["role"] = st.Role
		health["leaderId"] = st.LeaderID
		health["term"] = st.Term
	}
	if s.deps.Hub != nil {
		health["subscribers"] = s.deps.Hub.Subscribers()
	}
	writeOK(w, http.StatusOK, health)
}

// handleDashboard rolls up the operator view: fleet and mission counts,
// consensus status, alerting state and region health in one read.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	uavs := s.deps.Inventory.List()
	byStatus := map[core.UAVStatus]int{}
	for _, u := range uavs {
		byStatus[u.Status]++
	}
	summary := map[string]any{
		"uavs":          len(uavs),
		"uavsByStatus":  byStatus,
		"missionCounts": s.deps.Scheduler.Counts(),
		"activeAlerts":  s.deps.Alerts.Active(),
	}
	if s.deps.Raft != nil {
		summary["raft"] = s.deps.Raft.Status()
	}
	if s.deps.Autoscaler != nil {
		summary["autoscaler"] = s.deps.Autoscaler.Status()
	}
	if s.deps.Regions != nil {
		summary["regionBreakers"] = s.deps.Regions.BreakerStates()
	}
	if s.deps.Hub != nil {
		summary["subscribers"] = s.deps.Hub.Subscribers()
	}
	writeOK(w, http.StatusOK, summary)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeOK(w, http.StatusOK, s.deps.Config)
}
