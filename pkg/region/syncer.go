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

// Package region replicates committed operations to peer regions over WAN
// links. Each peer gets its own circuit breaker so one unreachable region
// cannot back-pressure the rest; operations batch up before crossing the
// wire.
package region

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/shookYu/FalconMind/pkg/apis/core"
	"github.com/shookYu/FalconMind/pkg/errors"
	"github.com/shookYu/FalconMind/pkg/metrics"
)

// PathRegionSync is the endpoint a peer region posts its batches to.
const PathRegionSync = "/internal/region/sync"

// Peer is one remote region.
type Peer struct {
	Name     string `json:"name"`
	Endpoint string `json:"endpoint"` // base URL of the remote operator API
}

// Inbound applies batches received from peer regions; the datasync engine
// implements it.
type Inbound interface {
	HandleOps(ctx context.Context, ops []core.SyncOperation) error
}

type Options struct {
	// BatchSize caps operations per outbound request.
	BatchSize int
	// FlushInterval sends a partial batch that has waited long enough.
	FlushInterval time.Duration
	QueueSize      int
	RequestTimeout time.Duration
	// BreakerMinRequests and BreakerFailureRatio parameterise when a peer's
	// breaker opens; BreakerOpenFor is how long it stays open.
	BreakerMinRequests  uint32
	BreakerFailureRatio float64
	BreakerOpenFor      time.Duration
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = 5
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = time.Second
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 1024
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 5 * time.Second
	}
	if o.BreakerMinRequests == 0 {
		o.BreakerMinRequests = 20
	}
	if o.BreakerFailureRatio <= 0 {
		o.BreakerFailureRatio = 0.5
	}
	if o.BreakerOpenFor <= 0 {
		o.BreakerOpenFor = 30 * time.Second
	}
	return o
}

type Syncer struct {
	mu       sync.Mutex
	peers    []Peer
	breakers map[string]*gobreaker.CircuitBreaker
	queue    chan core.SyncOperation

	http *http.Client
	opts Options
	log  *zap.SugaredLogger
}

func NewSyncer(peers []Peer, log *zap.SugaredLogger, opts Options) *Syncer {
	opts = opts.withDefaults()
	s := &Syncer{
		peers:    peers,
		breakers: map[string]*gobreaker.CircuitBreaker{},
		queue:    make(chan core.SyncOperation, opts.QueueSize),
		http:     &http.Client{Timeout: opts.RequestTimeout},
		opts:     opts,
		log:      log.Named("region"),
	}
	for _, p := range peers {
		s.breakers[p.Name] = s.newBreaker(p.Name)
	}
	return s
}

func (s *Syncer) newBreaker(peer string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "region-" + peer,
		Timeout: s.opts.BreakerOpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < s.opts.BreakerMinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= s.opts.BreakerFailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			s.log.Warnw("breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
}

// Enqueue queues an operation for cross-region replication. When the queue is
// full the operation is dropped; the periodic full sync repairs the gap.
func (s *Syncer) Enqueue(op core.SyncOperation) {
	select {
	case s.queue <- op:
	default:
		s.log.Warnw("region queue full, dropping operation", "entity", op.EntityID)
	}
}

// Run drains the queue into batches and ships each batch to every peer.
// Blocks until ctx is cancelled.
func (s *Syncer) Run(ctx context.Context) {
	ticker := time.NewTicker(s.opts.FlushInterval)
	defer ticker.Stop()
	batch := make([]core.SyncOperation, 0, s.opts.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		s.ship(ctx, batch)
		batch = make([]core.SyncOperation, 0, s.opts.BatchSize)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case op := <-s.queue:
			batch = append(batch, op)
			if len(batch) >= s.opts.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// ship sends one batch to every peer region in parallel, each behind its own
// breaker.
func (s *Syncer) ship(ctx context.Context, batch []core.SyncOperation) {
	s.mu.Lock()
	peers := make([]Peer, len(s.peers))
	copy(peers, s.peers)
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, peer := range peers {
		wg.Add(1)
		go func(peer Peer) {
			defer wg.Done()
			if err := s.sendTo(ctx, peer, batch); err != nil {
				s.log.Debugw("region batch failed", "peer", peer.Name, "ops", len(batch), "error", err)
			}
		}(peer)
	}
	wg.Wait()
}

func (s *Syncer) sendTo(ctx context.Context, peer Peer, batch []core.SyncOperation) error {
	breaker := s.breakers[peer.Name]
	start := time.Now()
	_, err := breaker.Execute(func() (any, error) {
		return nil, s.post(ctx, peer, batch)
	})
	metrics.RegionSyncLatency.WithLabelValues(peer.Name).Observe(time.Since(start).Seconds())
	return err
}

func (s *Syncer) post(ctx context.Context, peer Peer, batch []core.SyncOperation) error {
	body, err := json.Marshal(batch)
	if err != nil {
		return errors.Fatal(err, "encoding region batch")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, peer.Endpoint+PathRegionSync, bytes.NewReader(body))
	if err != nil {
		return errors.Fatal(err, "building region request")
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.http.Do(req)
	if err != nil {
		return errors.Transient(err, "posting to region %q", peer.Name)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return errors.Transient(fmt.Errorf("status %d", resp.StatusCode), "region %q rejected batch", peer.Name)
	}
	return nil
}

// BreakerStates reports each peer breaker's state for the monitoring API.
func (s *Syncer) BreakerStates() map[string]string {
	out := map[string]string{}
	for name, b := range s.breakers {
		out[name] = b.State().String()
	}
	return out
}
