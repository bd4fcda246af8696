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

// Package broadcast fans domain events out to websocket viewers. Each viewer
// gets a bounded outbound queue; when a slow viewer's queue fills, new
// messages for that viewer are dropped rather than stalling the publisher.
package broadcast

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/shookYu/FalconMind/pkg/events"
	"github.com/shookYu/FalconMind/pkg/metrics"
)

type Options struct {
	// QueueSize bounds each viewer's outbound queue.
	QueueSize int
	// MaxSubscribers caps concurrent viewers; excess connects are refused.
	MaxSubscribers int
	// HeartbeatInterval paces websocket pings.
	HeartbeatInterval time.Duration
	WriteTimeout      time.Duration
}

func (o Options) withDefaults() Options {
	if o.QueueSize <= 0 {
		o.QueueSize = 1000
	}
	if o.MaxSubscribers <= 0 {
		o.MaxSubscribers = 100
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	return o
}

type Hub struct {
	mu      sync.RWMutex
	clients map[*client]bool

	upgrader websocket.Upgrader
	opts     Options
	log      *zap.SugaredLogger
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
	done chan struct{}
}

func NewHub(log *zap.SugaredLogger, opts Options) *Hub {
	return &Hub{
		clients: map[*client]bool{},
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Viewers are dashboards served from anywhere on the operator LAN.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		opts: opts.withDefaults(),
		log:  log.Named("broadcast"),
	}
}

// Sink adapts the hub to the event bus. Registered once at startup.
func (h *Hub) Sink() events.Sink {
	return func(e events.Event) { h.Publish(e) }
}

// Publish enqueues the event to every connected viewer. A full queue drops
// the new message for that viewer only.
func (h *Hub) Publish(e events.Event) {
	raw, err := json.Marshal(e)
	if err != nil {
		h.log.Errorw("encoding broadcast message", "type", e.Type, "error", err)
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- raw:
		default:
			metrics.BroadcastDropped.Inc()
		}
	}
}

// Subscribers returns the number of connected viewers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleWS upgrades the request and serves the viewer until either side
// closes. Refuses connections past the subscriber cap.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	if len(h.clients) >= h.opts.MaxSubscribers {
		h.mu.Unlock()
		http.Error(w, "subscriber limit reached", http.StatusServiceUnavailable)
		return
	}
	h.mu.Unlock()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debugw("websocket upgrade failed", "error", err)
		return
	}
	c := &client{
		conn: conn,
		send: make(chan []byte, h.opts.QueueSize),
		done: make(chan struct{}),
	}
	h.mu.Lock()
	h.clients[c] = true
	count := len(h.clients)
	h.mu.Unlock()
	metrics.BroadcastSubscribers.Set(float64(count))
	h.log.Infow("viewer connected", "subscribers", count)

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Hub) remove(c *client) {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
		h.mu.Lock()
		delete(h.clients, c)
		count := len(h.clients)
		h.mu.Unlock()
		metrics.BroadcastSubscribers.Set(float64(count))
		h.log.Infow("viewer disconnected", "subscribers", count)
	})
}

// writePump drains the viewer's queue and paces heartbeat pings. A failed
// write or missed ping removes the viewer.
func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(h.opts.HeartbeatInterval)
	defer ticker.Stop()
	defer h.remove(c)
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.opts.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound frames; viewers are read-only. Pongs extend the
// read deadline so silent-but-alive viewers survive.
func (h *Hub) readPump(c *client) {
	defer h.remove(c)
	deadline := 2*h.opts.HeartbeatInterval + h.opts.WriteTimeout
	_ = c.conn.SetReadDeadline(time.Now().Add(deadline))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(deadline))
	})
	c.conn.SetReadLimit(4096)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
