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

// Package rpc is the JSON-over-HTTP transport between control plane nodes.
// Calls carry a per-attempt timeout and retry transient failures with
// backoff; connections are pooled per peer by the shared http.Transport.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avast/retry-go"
	"go.uber.org/zap"

	"github.com/shookYu/FalconMind/pkg/errors"
	"github.com/shookYu/FalconMind/pkg/metrics"
)

// Resolver maps a peer node id to its base URL. The discovery registry
// implements this.
type Resolver interface {
	Resolve(peerID string) (string, error)
}

// StaticResolver serves a fixed peer table.
type StaticResolver map[string]string

func (r StaticResolver) Resolve(peerID string) (string, error) {
	addr, ok := r[peerID]
	if !ok {
		return "", errors.NotFound("peer %q", peerID)
	}
	return addr, nil
}

type Options struct {
	// Timeout bounds each attempt, not the whole call.
	Timeout  time.Duration
	Attempts int
	Delay    time.Duration
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = 2 * time.Second
	}
	if o.Attempts <= 0 {
		o.Attempts = 3
	}
	if o.Delay <= 0 {
		o.Delay = 200 * time.Millisecond
	}
	return o
}

type Client struct {
	http     *http.Client
	resolver Resolver
	opts     Options
	log      *zap.SugaredLogger
}

func NewClient(resolver Resolver, log *zap.SugaredLogger, opts Options) *Client {
	opts = opts.withDefaults()
	return &Client{
		http: &http.Client{
			Timeout: opts.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		resolver: resolver,
		opts:     opts,
		log:      log.Named("rpc"),
	}
}

// Call posts in as JSON to path on the peer and decodes the response into
// out. Transient failures (network errors, 5xx) are retried; 4xx responses
// fail immediately.
func (c *Client) Call(ctx context.Context, peerID, path string, in, out any) error {
	base, err := c.resolver.Resolve(peerID)
	if err != nil {
		return err
	}
	body, err := json.Marshal(in)
	if err != nil {
		return errors.Fatal(err, "encoding rpc request")
	}

	url := base + path
	err = retry.Do(
		func() error { return c.post(ctx, url, body, out) },
		retry.Attempts(uint(c.opts.Attempts)),
		retry.Delay(c.opts.Delay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.RetryIf(errors.Retryable),
	)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.RPCRequests.WithLabelValues(peerID, path, outcome).Inc()
	if err != nil {
		return errors.Wrap(errors.KindOf(err), err, "calling %s on %q", path, peerID)
	}
	return nil
}

func (c *Client) post(ctx context.Context, url string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return errors.Fatal(err, "building rpc request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Transient(err, "posting to %s", url)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return errors.Transient(err, "reading response from %s", url)
	}
	switch {
	case resp.StatusCode >= 500:
		return errors.Transient(fmt.Errorf("status %d: %s", resp.StatusCode, truncate(payload)), "server error from %s", url)
	case resp.StatusCode >= 400:
		return errors.New(errors.KindValidation, "peer rejected %s: status %d: %s", url, resp.StatusCode, truncate(payload))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return errors.Transient(err, "decoding response from %s", url)
	}
	return nil
}

func truncate(b []byte) string {
	const max = 256
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max]) + "..."
}
