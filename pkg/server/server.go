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

// Package server exposes the operator API: mission and fleet verbs, cluster
// group management, telemetry ingress, the viewer websocket and the internal
// node-to-node endpoints (raft, data sync, region sync, discovery). Handlers
// stay thin; domain rules live in the owning components and surface here as
// taxonomy errors mapped onto HTTP statuses.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/shookYu/FalconMind/pkg/alerting"
	"github.com/shookYu/FalconMind/pkg/autoscaler"
	"github.com/shookYu/FalconMind/pkg/broadcast"
	"github.com/shookYu/FalconMind/pkg/clusters"
	"github.com/shookYu/FalconMind/pkg/coordinator"
	"github.com/shookYu/FalconMind/pkg/datasync"
	"github.com/shookYu/FalconMind/pkg/discovery"
	"github.com/shookYu/FalconMind/pkg/events"
	"github.com/shookYu/FalconMind/pkg/fleet"
	"github.com/shookYu/FalconMind/pkg/metrics"
	"github.com/shookYu/FalconMind/pkg/raft"
	"github.com/shookYu/FalconMind/pkg/region"
	"github.com/shookYu/FalconMind/pkg/scheduler"
	"github.com/shookYu/FalconMind/pkg/telemetry"
	"github.com/shookYu/FalconMind/pkg/utils/clock"
)

// Deps carries every component the API surfaces. Nil fields disable their
// routes; a single-node deployment without regions simply leaves Region nil.
type Deps struct {
	NodeID string
	Config any

	Inventory   *fleet.Inventory
	Scheduler   *scheduler.Scheduler
	Coordinator *coordinator.Coordinator
	Clusters    *clusters.Manager
	Telemetry   *telemetry.Service
	Hub         *broadcast.Hub
	Bus         *events.Bus
	Alerts      *alerting.Engine
	Autoscaler  *autoscaler.Autoscaler
	Raft        *raft.Node
	Sync        *datasync.Engine
	Region      region.Inbound
	Regions     *region.Syncer
	Members     *discovery.MemberTable
}

type Server struct {
	deps      Deps
	clk       clock.Clock
	log       *zap.SugaredLogger
	startedAt time.Time
}

func New(deps Deps, clk clock.Clock, log *zap.SugaredLogger) *Server {
	return &Server{
		deps:      deps,
		clk:       clk,
		log:       log.Named("server"),
		startedAt: clk.Now(),
	}
}

// Router builds the full route tree.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}).ServeHTTP)
	if s.deps.Hub != nil {
		r.Get("/ws", s.deps.Hub.HandleWS)
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/missions", func(r chi.Router) {
			r.Get("/", s.handleListMissions)
			r.Post("/", s.handleCreateMission)
			r.Get("/{id}", s.handleGetMission)
			r.Delete("/{id}", s.handleDeleteMission)
			r.Post("/{id}/dispatch", s.handleDispatchMission)
			r.Post("/{id}/pause", s.handlePauseMission)
			r.Post("/{id}/resume", s.handleResumeMission)
			r.Post("/{id}/cancel", s.handleCancelMission)
			r.Post("/{id}/progress", s.handleMissionProgress)
			r.Post("/{id}/complete", s.handleCompleteMission)
		})
		r.Route("/uavs", func(r chi.Router) {
			r.Get("/", s.handleListUAVs)
			r.Post("/", s.handleRegisterUAV)
			r.Get("/{id}", s.handleGetUAV)
			r.Delete("/{id}", s.handleRemoveUAV)
			r.Post("/{id}/heartbeat", s.handleHeartbeat)
		})
		r.Route("/clusters", func(r chi.Router) {
			r.Get("/", s.handleListClusters)
			r.Post("/", s.handleCreateCluster)
			r.Get("/{id}", s.handleGetCluster)
			r.Delete("/{id}", s.handleDeleteCluster)
			r.Post("/{id}/members", s.handleAddMember)
			r.Delete("/{id}/members/{uavId}", s.handleRemoveMember)
			r.Post("/{id}/elect", s.handleElectLeader)
		})
		r.Route("/cluster-missions", func(r chi.Router) {
			r.Get("/", s.handleListClusterMissions)
			r.Post("/", s.handleCreateClusterMission)
			r.Get("/{id}", s.handleGetClusterMission)
			r.Get("/{id}/progress", s.handleClusterProgress)
			r.Post("/{id}/progress", s.handleClusterProgressUpdate)
		})
		r.Post("/load-balance", s.handleLoadBalance)
		r.Post("/target-tracking", s.handleTargetTracking)
		r.Delete("/target-tracking/{uavId}", s.handleStopTracking)
		r.Get("/events", s.handleListEvents)
		r.Get("/alerts", s.handleListAlerts)
		r.Post("/telemetry", s.handleTelemetry)
		r.Get("/dashboard", s.handleDashboard)
		r.Get("/config", s.handleConfig)
	})

	r.Route("/internal", func(r chi.Router) {
		if s.deps.Raft != nil {
			r.Post("/raft/vote", s.handleRaftVote)
			r.Post("/raft/append", s.handleRaftAppend)
			r.Post("/raft/snapshot", s.handleRaftSnapshot)
		}
		if s.deps.Sync != nil {
			r.Post("/sync/ops", s.handleSyncOps)
			r.Post("/sync/digest", s.handleSyncDigest)
			r.Post("/sync/pull", s.handleSyncPull)
		}
		if s.deps.Region != nil {
			r.Post("/region/sync", s.handleRegionSync)
		}
		if s.deps.Members != nil {
			r.Post("/discovery/register", s.handleDiscoveryRegister)
			r.Post("/discovery/deregister", s.handleDiscoveryDeregister)
			r.Get("/discovery/nodes", s.handleDiscoveryNodes)
		}
	})

	return r
}

// Run serves the API on addr until ctx is cancelled, then drains in-flight
// requests for up to ten seconds.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Infow("serving operator api", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.clk.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debugw("request",
			"method", r.Method, "path", r.URL.Path,
			"status", ww.Status(), "duration", s.clk.Since(start))
	})
}
