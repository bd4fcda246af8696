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

package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mitchellh/hashstructure/v2"
	"go.uber.org/zap"

	"github.com/shookYu/FalconMind/pkg/errors"
)

// Registry endpoint paths served by the operator API of the registry node.
const (
	PathRegister   = "/internal/discovery/register"
	PathDeregister = "/internal/discovery/deregister"
	PathNodes      = "/internal/discovery/nodes"
)

// HTTPRegistry is the client side of the HTTP registry. Register starts a
// renewal loop that re-registers at a third of the server TTL; Nodes polls
// the registry endpoint.
type HTTPRegistry struct {
	base     string
	http     *http.Client
	interval time.Duration
	log      *zap.SugaredLogger
}

func NewHTTPRegistry(baseURL string, renewInterval time.Duration, log *zap.SugaredLogger) *HTTPRegistry {
	if renewInterval <= 0 {
		renewInterval = 10 * time.Second
	}
	return &HTTPRegistry{
		base:     baseURL,
		http:     &http.Client{Timeout: 2 * time.Second},
		interval: renewInterval,
		log:      log.Named("discovery"),
	}
}

// Register announces the node and keeps the registration alive until ctx is
// cancelled, deregistering on the way out.
func (r *HTTPRegistry) Register(ctx context.Context, node NodeInfo) error {
	if err := r.post(ctx, PathRegister, node, nil); err != nil {
		return err
	}
	go func() {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				if err := r.Deregister(shutdownCtx, node.ID); err != nil {
					r.log.Debugw("deregistering on shutdown", "error", err)
				}
				return
			case <-ticker.C:
				if err := r.post(ctx, PathRegister, node, nil); err != nil {
					r.log.Warnw("renewing registration", "error", err)
				}
			}
		}
	}()
	return nil
}

func (r *HTTPRegistry) Deregister(ctx context.Context, id string) error {
	return r.post(ctx, PathDeregister, map[string]string{"id": id}, nil)
}

func (r *HTTPRegistry) Nodes(ctx context.Context) ([]NodeInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.base+PathNodes, nil)
	if err != nil {
		return nil, errors.Fatal(err, "building nodes request")
	}
	resp, err := r.http.Do(req)
	if err != nil {
		return nil, errors.Transient(err, "fetching node list")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Transient(fmt.Errorf("status %d", resp.StatusCode), "fetching node list")
	}
	var nodes []NodeInfo
	if err := json.NewDecoder(resp.Body).Decode(&nodes); err != nil {
		return nil, errors.Transient(err, "decoding node list")
	}
	return nodes, nil
}

func (r *HTTPRegistry) Watch(ctx context.Context) <-chan []NodeInfo {
	return pollWatch(ctx, r, r.interval)
}

func (r *HTTPRegistry) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return errors.Fatal(err, "encoding registry request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.base+path, bytes.NewReader(body))
	if err != nil {
		return errors.Fatal(err, "building registry request")
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.http.Do(req)
	if err != nil {
		return errors.Transient(err, "posting to registry")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return errors.Transient(fmt.Errorf("status %d", resp.StatusCode), "registry rejected %s", path)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// pollWatch turns any Nodes implementation into a change stream. Membership
// hashes detect changes; unchanged polls emit nothing.
func pollWatch(ctx context.Context, registry Registry, interval time.Duration) <-chan []NodeInfo {
	ch := make(chan []NodeInfo, 1)
	go func() {
		defer close(ch)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		var lastHash uint64
		emit := func() {
			nodes, err := registry.Nodes(ctx)
			if err != nil {
				return
			}
			ids := make([]string, len(nodes))
			for i, n := range nodes {
				ids[i] = n.ID + "|" + n.Address
			}
			hash, err := hashstructure.Hash(ids, hashstructure.FormatV2, nil)
			if err != nil || hash == lastHash {
				return
			}
			lastHash = hash
			select {
			case ch <- nodes:
			case <-ctx.Done():
			}
		}
		emit()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				emit()
			}
		}
	}()
	return ch
}
