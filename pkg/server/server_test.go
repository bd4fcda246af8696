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
	"context"
	"net/http"
	"strings"

	"github.com/shookYu/FalconMind/pkg/apis/core"
	"github.com/shookYu/FalconMind/pkg/coordinator"
	"github.com/shookYu/FalconMind/pkg/events"
	"github.com/shookYu/FalconMind/pkg/scheduler"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var searchArea = core.Area{
	Polygon: []core.GeoPoint{
		{Latitude: 39.990, Longitude: 116.300},
		{Latitude: 39.990, Longitude: 116.320},
		{Latitude: 40.010, Longitude: 116.320},
		{Latitude: 40.010, Longitude: 116.300},
	},
	MinAltitude: 50,
	MaxAltitude: 120,
}

var _ = Describe("Missions API", func() {
	createMission := func() core.Mission {
		GinkgoHelper()
		code, res := do(http.MethodPost, "/api/missions", scheduler.CreateRequest{
			Name: "survey", Type: core.MissionTypeSingleUAV,
		})
		Expect(code).To(Equal(http.StatusCreated))
		var m core.Mission
		dataInto(res, &m)
		return m
	}

	It("should create a pending mission", func() {
		m := createMission()
		Expect(m.ID).To(HavePrefix("mission-"))
		Expect(m.State).To(Equal(core.MissionPending))
	})

	It("should reject a malformed body", func() {
		resp, err := http.Post(ts.URL+"/api/missions", "application/json", strings.NewReader("{not json"))
		Expect(err).ToNot(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
	})

	It("should answer 404 for an unknown mission", func() {
		code, res := do(http.MethodGet, "/api/missions/mission-nope", nil)
		Expect(code).To(Equal(http.StatusNotFound))
		Expect(res.Status).To(Equal("error"))
		Expect(res.Kind).To(Equal("NotFound"))
	})

	It("should drive the full lifecycle over HTTP", func() {
		registerUAV("uav-a", 90)
		m := createMission()

		var got core.Mission
		code, res := do(http.MethodPost, "/api/missions/"+m.ID+"/dispatch", scheduler.DispatchRequest{Count: 1})
		Expect(code).To(Equal(http.StatusOK))
		dataInto(res, &got)
		Expect(got.State).To(Equal(core.MissionRunning))
		Expect(got.AssignedUAVs).To(Equal([]string{"uav-a"}))

		code, res = do(http.MethodPost, "/api/missions/"+m.ID+"/pause", nil)
		Expect(code).To(Equal(http.StatusOK))
		dataInto(res, &got)
		Expect(got.State).To(Equal(core.MissionPaused))

		code, res = do(http.MethodPost, "/api/missions/"+m.ID+"/resume", nil)
		Expect(code).To(Equal(http.StatusOK))
		dataInto(res, &got)
		Expect(got.State).To(Equal(core.MissionRunning))

		code, res = do(http.MethodPost, "/api/missions/"+m.ID+"/progress", map[string]float64{"progress": 0.5})
		Expect(code).To(Equal(http.StatusOK))
		dataInto(res, &got)
		Expect(got.Progress).To(Equal(0.5))

		code, res = do(http.MethodPost, "/api/missions/"+m.ID+"/complete", map[string]bool{"success": true})
		Expect(code).To(Equal(http.StatusOK))
		dataInto(res, &got)
		Expect(got.State).To(Equal(core.MissionSucceeded))
	})

	It("should map an exhausted pool to 429", func() {
		m := createMission()
		code, res := do(http.MethodPost, "/api/missions/"+m.ID+"/dispatch", scheduler.DispatchRequest{Count: 1})
		Expect(code).To(Equal(http.StatusTooManyRequests))
		Expect(res.Kind).To(Equal("CapacityExhausted"))
	})

	It("should map an illegal transition to 409", func() {
		m := createMission()
		code, res := do(http.MethodPost, "/api/missions/"+m.ID+"/pause", nil)
		Expect(code).To(Equal(http.StatusConflict))
		Expect(res.Kind).To(Equal("InvalidState"))
	})

	It("should delete only terminal missions", func() {
		m := createMission()
		code, _ := do(http.MethodDelete, "/api/missions/"+m.ID, nil)
		Expect(code).To(Equal(http.StatusConflict))

		code, _ = do(http.MethodPost, "/api/missions/"+m.ID+"/cancel", nil)
		Expect(code).To(Equal(http.StatusOK))
		code, _ = do(http.MethodDelete, "/api/missions/"+m.ID, nil)
		Expect(code).To(Equal(http.StatusOK))
		code, _ = do(http.MethodGet, "/api/missions/"+m.ID, nil)
		Expect(code).To(Equal(http.StatusNotFound))
	})
})

var _ = Describe("Fleet API", func() {
	It("should register and list vehicles", func() {
		code, res := do(http.MethodPost, "/api/uavs", map[string]any{
			"id": "uav-a",
			"capabilities": core.Capabilities{
				MaxAltitude: 500, MaxSpeed: 20, BatteryCapacity: 100, CurrentBattery: 90,
			},
		})
		Expect(code).To(Equal(http.StatusCreated))
		var u core.UAV
		dataInto(res, &u)
		Expect(u.ID).To(Equal("uav-a"))
		Expect(u.Status).To(Equal(core.UAVStatusOnline))

		code, res = do(http.MethodGet, "/api/uavs", nil)
		Expect(code).To(Equal(http.StatusOK))
		var list []core.UAV
		dataInto(res, &list)
		Expect(list).To(HaveLen(1))
	})

	It("should reject an empty id", func() {
		code, res := do(http.MethodPost, "/api/uavs", map[string]any{"id": ""})
		Expect(code).To(Equal(http.StatusBadRequest))
		Expect(res.Kind).To(Equal("Validation"))
	})

	It("should accept heartbeats for known vehicles only", func() {
		registerUAV("uav-a", 90)
		code, _ := do(http.MethodPost, "/api/uavs/uav-a/heartbeat", nil)
		Expect(code).To(Equal(http.StatusOK))
		code, _ = do(http.MethodPost, "/api/uavs/uav-b/heartbeat", nil)
		Expect(code).To(Equal(http.StatusNotFound))
	})

	It("should remove a vehicle", func() {
		registerUAV("uav-a", 90)
		code, _ := do(http.MethodDelete, "/api/uavs/uav-a", nil)
		Expect(code).To(Equal(http.StatusOK))
		code, _ = do(http.MethodGet, "/api/uavs/uav-a", nil)
		Expect(code).To(Equal(http.StatusNotFound))
	})
})

var _ = Describe("Clusters API", func() {
	createGroup := func() core.Cluster {
		GinkgoHelper()
		code, res := do(http.MethodPost, "/api/clusters", map[string]string{"name": "alpha"})
		Expect(code).To(Equal(http.StatusCreated))
		var c core.Cluster
		dataInto(res, &c)
		return c
	}

	It("should create a group", func() {
		c := createGroup()
		Expect(c.ID).To(HavePrefix("group-"))
		Expect(c.Version).To(Equal(int64(1)))
	})

	It("should reject an empty name", func() {
		code, _ := do(http.MethodPost, "/api/clusters", map[string]string{"name": ""})
		Expect(code).To(Equal(http.StatusBadRequest))
	})

	It("should promote the first member to leader", func() {
		registerUAV("uav-a", 90)
		c := createGroup()
		code, res := do(http.MethodPost, "/api/clusters/"+c.ID+"/members", map[string]string{"uavId": "uav-a"})
		Expect(code).To(Equal(http.StatusOK))
		dataInto(res, &c)
		Expect(c.Leader()).To(Equal("uav-a"))
	})

	It("should refuse to delete a populated group", func() {
		registerUAV("uav-a", 90)
		c := createGroup()
		_, res := do(http.MethodPost, "/api/clusters/"+c.ID+"/members", map[string]string{"uavId": "uav-a"})
		Expect(res.Status).To(Equal("ok"))

		code, errRes := do(http.MethodDelete, "/api/clusters/"+c.ID, nil)
		Expect(code).To(Equal(http.StatusConflict))
		Expect(errRes.Kind).To(Equal("InvalidState"))

		code, _ = do(http.MethodDelete, "/api/clusters/"+c.ID+"/members/uav-a", nil)
		Expect(code).To(Equal(http.StatusOK))
		code, _ = do(http.MethodDelete, "/api/clusters/"+c.ID, nil)
		Expect(code).To(Equal(http.StatusOK))
	})

	It("should answer 404 for a member that is not in the group", func() {
		c := createGroup()
		code, _ := do(http.MethodDelete, "/api/clusters/"+c.ID+"/members/uav-z", nil)
		Expect(code).To(Equal(http.StatusNotFound))
	})
})

var _ = Describe("Cluster Missions API", func() {
	It("should create a mission and report aggregated progress", func() {
		registerUAVAt("uav-a", 90, core.GeoPoint{Latitude: 40.000, Longitude: 116.302})
		registerUAVAt("uav-b", 80, core.GeoPoint{Latitude: 40.000, Longitude: 116.318})

		code, res := do(http.MethodPost, "/api/cluster-missions", coordinator.CreateRequest{
			Name: "search", Area: searchArea, Count: 2,
		})
		Expect(code).To(Equal(http.StatusCreated))
		var m core.ClusterMission
		dataInto(res, &m)
		Expect(m.Assignments).To(HaveLen(2))

		code, res = do(http.MethodPost, "/api/cluster-missions/"+m.ID+"/progress",
			map[string]any{"uavId": "uav-a", "progress": 0.5})
		Expect(code).To(Equal(http.StatusOK))
		var agg map[string]float64
		dataInto(res, &agg)
		Expect(agg["progress"]).To(BeNumerically("~", 0.25, 1e-9))

		code, res = do(http.MethodGet, "/api/cluster-missions/"+m.ID+"/progress", nil)
		Expect(code).To(Equal(http.StatusOK))
		var view struct {
			Progress float64                       `json:"progress"`
			States   []coordinator.UAVMissionState `json:"states"`
		}
		dataInto(res, &view)
		Expect(view.Progress).To(BeNumerically("~", 0.25, 1e-9))
		Expect(view.States).To(HaveLen(2))
		Expect(view.States[0].UAVID).To(Equal("uav-a"))
	})

	It("should surface a capacity failure from creation", func() {
		code, res := do(http.MethodPost, "/api/cluster-missions", coordinator.CreateRequest{
			Name: "search", Area: searchArea, Count: 2,
		})
		Expect(code).To(Equal(http.StatusTooManyRequests))
		Expect(res.Kind).To(Equal("CapacityExhausted"))
	})

	It("should report a rebalance suggestion without executing it", func() {
		registerUAVAt("uav-a", 90, core.GeoPoint{Latitude: 40.000, Longitude: 116.302})
		registerUAVAt("uav-b", 80, core.GeoPoint{Latitude: 40.000, Longitude: 116.318})
		code, _ := do(http.MethodPost, "/api/cluster-missions", coordinator.CreateRequest{
			Name: "search", Area: searchArea, Count: 2,
		})
		Expect(code).To(Equal(http.StatusCreated))

		code, res := do(http.MethodPost, "/api/load-balance", map[string]any{})
		Expect(code).To(Equal(http.StatusOK))
		var out struct {
			Balanced   bool                             `json:"balanced"`
			Executed   bool                             `json:"executed"`
			Suggestion *coordinator.RebalanceSuggestion `json:"suggestion"`
		}
		dataInto(res, &out)
		// Both vehicles carry the same mission load; nothing to move.
		Expect(out.Balanced).To(BeTrue())
		Expect(out.Executed).To(BeFalse())
		Expect(out.Suggestion).To(BeNil())
	})

	It("should validate detection confidence", func() {
		code, res := do(http.MethodPost, "/api/target-tracking", coordinator.Detection{
			UAVID: "uav-a", Confidence: 2,
		})
		Expect(code).To(Equal(http.StatusBadRequest))
		Expect(res.Kind).To(Equal("Validation"))
	})

	It("should answer 404 when stopping tracking for an unassigned vehicle", func() {
		code, _ := do(http.MethodDelete, "/api/target-tracking/uav-z", nil)
		Expect(code).To(Equal(http.StatusNotFound))
	})
})

var _ = Describe("Observability API", func() {
	Describe("events", func() {
		It("should honour the limit parameter", func() {
			for _, id := range []string{"m1", "m2", "m3"} {
				bus.Publish(events.Event{Type: events.TypeMissionEvent, EntityID: id})
			}
			code, res := do(http.MethodGet, "/api/events?limit=2", nil)
			Expect(code).To(Equal(http.StatusOK))
			var got []events.Event
			dataInto(res, &got)
			Expect(got).To(HaveLen(2))
		})
		It("should reject a negative or malformed limit", func() {
			code, _ := do(http.MethodGet, "/api/events?limit=-1", nil)
			Expect(code).To(Equal(http.StatusBadRequest))
			code, _ = do(http.MethodGet, "/api/events?limit=nope", nil)
			Expect(code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("alerts", func() {
		It("should list active alerts after an evaluation", func() {
			snapshot["uavs_offline"] = 2
			alerts.Evaluate(context.Background())

			code, res := do(http.MethodGet, "/api/alerts?active=true", nil)
			Expect(code).To(Equal(http.StatusOK))
			var active []map[string]any
			dataInto(res, &active)
			Expect(active).To(HaveLen(1))
		})
	})

	Describe("telemetry", func() {
		It("should accept a valid report with 202", func() {
			registerUAV("uav-a", 90)
			code, _ := do(http.MethodPost, "/api/telemetry", core.Telemetry{
				UAVID: "uav-a", Latitude: 40.0, Longitude: 116.3, Altitude: 80, BatteryPercent: 90,
			})
			Expect(code).To(Equal(http.StatusAccepted))
		})
		It("should reject a report from an unknown vehicle", func() {
			code, _ := do(http.MethodPost, "/api/telemetry", core.Telemetry{
				UAVID: "uav-z", Latitude: 40.0, Longitude: 116.3, BatteryPercent: 90,
			})
			Expect(code).To(Equal(http.StatusNotFound))
		})
		It("should reject an out-of-range coordinate", func() {
			registerUAV("uav-a", 90)
			code, res := do(http.MethodPost, "/api/telemetry", core.Telemetry{
				UAVID: "uav-a", Latitude: 200, Longitude: 116.3, BatteryPercent: 90,
			})
			Expect(code).To(Equal(http.StatusBadRequest))
			Expect(res.Kind).To(Equal("Validation"))
		})
	})

	It("should report health without consensus wired", func() {
		code, res := do(http.MethodGet, "/health", nil)
		Expect(code).To(Equal(http.StatusOK))
		var health map[string]any
		dataInto(res, &health)
		Expect(health["nodeId"]).To(Equal("n1"))
		Expect(health).To(HaveKey("uptime"))
		Expect(health).ToNot(HaveKey("role"))
	})

	It("should roll up the dashboard", func() {
		registerUAV("uav-a", 90)
		_, res := do(http.MethodPost, "/api/missions", scheduler.CreateRequest{
			Name: "survey", Type: core.MissionTypeSingleUAV,
		})
		Expect(res.Status).To(Equal("ok"))

		code, res := do(http.MethodGet, "/api/dashboard", nil)
		Expect(code).To(Equal(http.StatusOK))
		var summary map[string]any
		dataInto(res, &summary)
		Expect(summary["uavs"]).To(BeNumerically("==", 1))
		Expect(summary).To(HaveKey("missionCounts"))
		Expect(summary).ToNot(HaveKey("raft"))
	})

	It("should echo the configuration", func() {
		code, res := do(http.MethodGet, "/api/config", nil)
		Expect(code).To(Equal(http.StatusOK))
		var cfg map[string]string
		dataInto(res, &cfg)
		Expect(cfg["region"]).To(Equal("default"))
	})

	It("should serve prometheus metrics", func() {
		resp, err := http.Get(ts.URL + "/metrics")
		Expect(err).ToNot(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
	})
})

var _ = Describe("Internal routes", func() {
	It("should disable node-to-node endpoints when their components are absent", func() {
		for _, path := range []string{"/internal/raft/vote", "/internal/sync/ops", "/internal/region/sync"} {
			resp, err := http.Post(ts.URL+path, "application/json", strings.NewReader("{}"))
			Expect(err).ToNot(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		}
	})
})
