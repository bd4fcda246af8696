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

// Package alerting evaluates threshold rules over a numeric snapshot of the
// control plane and tracks firing/resolved state per rule. Rules are
// deliberately simple comparisons; anything needing real query power belongs
// in the metrics backend, not here.
package alerting

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shookYu/FalconMind/pkg/events"
	"github.com/shookYu/FalconMind/pkg/metrics"
	"github.com/shookYu/FalconMind/pkg/utils/clock"
)

type Op string

const (
	OpGreater      Op = "gt"
	OpGreaterEqual Op = "gte"
	OpLess         Op = "lt"
	OpLessEqual    Op = "lte"
	OpEqual        Op = "eq"
)

type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Rule fires while the named metric compares true against the threshold.
type Rule struct {
	Name      string   `json:"name"`
	Metric    string   `json:"metric"`
	Op        Op       `json:"op"`
	Threshold float64  `json:"threshold"`
	Severity  Severity `json:"severity"`
	// For delays firing until the condition has held this long.
	For time.Duration `json:"for,omitempty"`
}

func (r Rule) holds(value float64) bool {
	switch r.Op {
	case OpGreater:
		return value > r.Threshold
	case OpGreaterEqual:
		return value >= r.Threshold
	case OpLess:
		return value < r.Threshold
	case OpLessEqual:
		return value <= r.Threshold
	case OpEqual:
		return value == r.Threshold
	default:
		return false
	}
}

// Alert is the live state of one rule.
type Alert struct {
	Rule       Rule       `json:"rule"`
	Active     bool       `json:"active"`
	Value      float64    `json:"value"`
	PendingAt  *time.Time `json:"pendingAt,omitempty"`
	FiredAt    *time.Time `json:"firedAt,omitempty"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
}

// SnapshotFunc gathers the current numeric view of the system.
type SnapshotFunc func(ctx context.Context) map[string]float64

// DefaultRules cover the failure modes operators always want paged on.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "uavs-offline", Metric: "uavs_offline", Op: OpGreater, Threshold: 0, Severity: SeverityWarning},
		{Name: "mission-backlog", Metric: "pending_missions", Op: OpGreaterEqual, Threshold: 10, Severity: SeverityWarning},
		{Name: "no-raft-leader", Metric: "raft_has_leader", Op: OpLess, Threshold: 1, Severity: SeverityCritical, For: 10 * time.Second},
		{Name: "low-battery-fleet", Metric: "uavs_low_battery", Op: OpGreater, Threshold: 0, Severity: SeverityWarning},
	}
}

type Engine struct {
	mu     sync.Mutex
	rules  []Rule
	alerts map[string]*Alert

	snapshot SnapshotFunc
	rec      events.Recorder
	clk      clock.Clock
	log      *zap.SugaredLogger
	interval time.Duration
}

func NewEngine(rules []Rule, snapshot SnapshotFunc, rec events.Recorder, clk clock.Clock, log *zap.SugaredLogger, interval time.Duration) *Engine {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	alerts := map[string]*Alert{}
	for _, r := range rules {
		alerts[r.Name] = &Alert{Rule: r}
	}
	return &Engine{
		rules:    rules,
		alerts:   alerts,
		snapshot: snapshot,
		rec:      rec,
		clk:      clk,
		log:      log.Named("alerting"),
		interval: interval,
	}
}

// Run evaluates all rules on the tick interval until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Evaluate(ctx)
		}
	}
}

// Evaluate runs one evaluation round over the current snapshot.
func (e *Engine) Evaluate(ctx context.Context) {
	values := e.snapshot(ctx)
	now := e.clk.Now()

	e.mu.Lock()
	var fired, resolved []Alert
	active := 0
	for _, rule := range e.rules {
		alert := e.alerts[rule.Name]
		value, known := values[rule.Metric]
		alert.Value = value
		holds := known && rule.holds(value)
		switch {
		case holds && !alert.Active:
			if alert.PendingAt == nil {
				pending := now
				alert.PendingAt = &pending
			}
			if now.Sub(*alert.PendingAt) >= rule.For {
				alert.Active = true
				alert.FiredAt = alert.PendingAt
				alert.ResolvedAt = nil
				fired = append(fired, *alert)
			}
		case !holds && alert.Active:
			alert.Active = false
			alert.PendingAt = nil
			resolvedAt := now
			alert.ResolvedAt = &resolvedAt
			resolved = append(resolved, *alert)
		case !holds:
			alert.PendingAt = nil
		}
		if alert.Active {
			active++
		}
	}
	e.mu.Unlock()

	metrics.AlertsActive.Set(float64(active))
	for _, a := range fired {
		e.log.Warnw("alert firing", "rule", a.Rule.Name, "value", a.Value, "threshold", a.Rule.Threshold)
		e.rec.Publish(events.Event{Type: events.TypeAlert, SubKind: "FIRING", EntityID: a.Rule.Name, Payload: a})
	}
	for _, a := range resolved {
		e.log.Infow("alert resolved", "rule", a.Rule.Name, "value", a.Value)
		e.rec.Publish(events.Event{Type: events.TypeAlert, SubKind: "RESOLVED", EntityID: a.Rule.Name, Payload: a})
	}
}

// Active returns currently firing alerts ordered by rule name.
func (e *Engine) Active() []Alert {
	return e.list(true)
}

// All returns the state of every rule ordered by rule name.
func (e *Engine) All() []Alert {
	return e.list(false)
}

func (e *Engine) list(activeOnly bool) []Alert {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Alert, 0, len(e.alerts))
	for _, a := range e.alerts {
		if activeOnly && !a.Active {
			continue
		}
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rule.Name < out[j].Rule.Name })
	return out
}
