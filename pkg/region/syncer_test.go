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

package region

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shookYu/FalconMind/pkg/apis/core"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// peerServer records every batch posted to the region sync endpoint.
type peerServer struct {
	mu      sync.Mutex
	batches [][]core.SyncOperation
	srv     *httptest.Server
}

func newPeerServer(status int) *peerServer {
	p := &peerServer{}
	p.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != PathRegionSync {
			http.NotFound(w, r)
			return
		}
		var batch []core.SyncOperation
		if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		p.mu.Lock()
		p.batches = append(p.batches, batch)
		p.mu.Unlock()
		w.WriteHeader(status)
	}))
	return p
}

func (p *peerServer) received() [][]core.SyncOperation {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]core.SyncOperation, len(p.batches))
	copy(out, p.batches)
	return out
}

func syncOp(id string) core.SyncOperation {
	return core.SyncOperation{
		Kind:       core.SyncOpUpdate,
		EntityKind: core.EntityMission,
		EntityID:   id,
		Version:    1,
		OriginNode: "region-east",
	}
}

var _ = Describe("Syncer", func() {
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)

	BeforeEach(func() {
		ctx, cancel = context.WithCancel(context.Background())
		DeferCleanup(func() { cancel() })
	})

	It("should flush a full batch immediately", func() {
		peer := newPeerServer(http.StatusOK)
		DeferCleanup(peer.srv.Close)

		syncer := NewSyncer([]Peer{{Name: "west", Endpoint: peer.srv.URL}}, zap.NewNop().Sugar(), Options{
			BatchSize:     2,
			FlushInterval: time.Hour,
		})
		go syncer.Run(ctx)

		syncer.Enqueue(syncOp("m1"))
		syncer.Enqueue(syncOp("m2"))

		Eventually(peer.received).Should(HaveLen(1))
		batch := peer.received()[0]
		Expect(batch).To(HaveLen(2))
		Expect(batch[0].EntityID).To(Equal("m1"))
		Expect(batch[1].EntityID).To(Equal("m2"))
	})

	It("should flush a partial batch on the interval", func() {
		peer := newPeerServer(http.StatusOK)
		DeferCleanup(peer.srv.Close)

		syncer := NewSyncer([]Peer{{Name: "west", Endpoint: peer.srv.URL}}, zap.NewNop().Sugar(), Options{
			BatchSize:     100,
			FlushInterval: 20 * time.Millisecond,
		})
		go syncer.Run(ctx)

		syncer.Enqueue(syncOp("m1"))

		Eventually(peer.received).Should(HaveLen(1))
		Expect(peer.received()[0]).To(HaveLen(1))
	})

	It("should ship every batch to every peer", func() {
		east := newPeerServer(http.StatusOK)
		west := newPeerServer(http.StatusOK)
		DeferCleanup(east.srv.Close)
		DeferCleanup(west.srv.Close)

		syncer := NewSyncer([]Peer{
			{Name: "east", Endpoint: east.srv.URL},
			{Name: "west", Endpoint: west.srv.URL},
		}, zap.NewNop().Sugar(), Options{BatchSize: 1, FlushInterval: time.Hour})
		go syncer.Run(ctx)

		syncer.Enqueue(syncOp("m1"))

		Eventually(east.received).Should(HaveLen(1))
		Eventually(west.received).Should(HaveLen(1))
	})

	It("should open the breaker for a peer that keeps failing", func() {
		peer := newPeerServer(http.StatusBadGateway)
		DeferCleanup(peer.srv.Close)

		syncer := NewSyncer([]Peer{{Name: "west", Endpoint: peer.srv.URL}}, zap.NewNop().Sugar(), Options{
			BatchSize:           1,
			FlushInterval:       time.Hour,
			BreakerMinRequests:  2,
			BreakerFailureRatio: 0.5,
		})
		go syncer.Run(ctx)

		for i := 0; i < 3; i++ {
			syncer.Enqueue(syncOp("m1"))
		}

		Eventually(func() string {
			return syncer.BreakerStates()["west"]
		}).Should(Equal("open"))
	})

	It("should report a closed breaker for a healthy peer", func() {
		syncer := NewSyncer([]Peer{{Name: "west", Endpoint: "http://unused"}}, zap.NewNop().Sugar(), Options{})
		Expect(syncer.BreakerStates()).To(HaveKeyWithValue("west", "closed"))
	})
})
