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

// Package autoscaler sizes the active fleet. Each reconcile loop folds the
// latest utilisation sample into a rolling window and steps the capacity by
// one: up when the window means run hot or the mission backlog outgrows the
// fleet, down only when every idle condition holds at once. Scale-down is
// deliberately slower than scale-up: a grounded vehicle is cheap, an unserved
// mission is not.
package autoscaler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/shookYu/FalconMind/pkg/utils/clock"
)

// Sample is one utilisation observation of the fleet.
type Sample struct {
	CPUPercent      float64
	MemoryPercent   float64
	ActiveMissions  int
	PendingMissions int
}

// Source produces the current utilisation sample.
type Source interface {
	Sample(ctx context.Context) (Sample, error)
}

// Actuator owns the standby pool: it reports how many vehicles are active and
// activates or grounds vehicles to match a desired count.
type Actuator interface {
	CurrentCapacity(ctx context.Context) (int, error)
	SetCapacity(ctx context.Context, desired int) error
}

type Options struct {
	MinCapacity int
	MaxCapacity int
	// ScaleUpThreshold and ScaleDownThreshold are window-mean percentages.
	ScaleUpThreshold   float64
	ScaleDownThreshold float64
	// WindowSize is how many recent samples the means run over.
	WindowSize int
	// ScaleUpCooldown and ScaleDownCooldown are the stabilization windows
	// after any scaling action in the respective direction.
	ScaleUpCooldown   time.Duration
	ScaleDownCooldown time.Duration
	Interval          time.Duration
}

func (o Options) withDefaults() Options {
	if o.MinCapacity <= 0 {
		o.MinCapacity = 1
	}
	if o.MaxCapacity <= 0 {
		o.MaxCapacity = 100
	}
	if o.ScaleUpThreshold <= 0 {
		o.ScaleUpThreshold = 80
	}
	if o.ScaleDownThreshold <= 0 {
		o.ScaleDownThreshold = 30
	}
	if o.WindowSize <= 0 {
		o.WindowSize = 10
	}
	if o.ScaleUpCooldown <= 0 {
		o.ScaleUpCooldown = 300 * time.Second
	}
	if o.ScaleDownCooldown <= 0 {
		o.ScaleDownCooldown = 600 * time.Second
	}
	if o.Interval <= 0 {
		o.Interval = 30 * time.Second
	}
	return o
}

// pendingBacklogFactor triggers an immediate scale-up when the pending
// mission count exceeds this multiple of the fleet size.
const pendingBacklogFactor = 2

// Status is the last reconcile outcome for the monitoring API.
type Status struct {
	CurrentCapacity int        `json:"currentCapacity"`
	DesiredCapacity int        `json:"desiredCapacity"`
	MeanCPU         float64    `json:"meanCpu"`
	MeanMemory      float64    `json:"meanMemory"`
	LastScaleUp     *time.Time `json:"lastScaleUp,omitempty"`
	LastScaleDown   *time.Time `json:"lastScaleDown,omitempty"`
	LastReason      string     `json:"lastReason,omitempty"`
}

type Autoscaler struct {
	source   Source
	actuator Actuator
	clk      clock.Clock
	log      *zap.SugaredLogger
	opts     Options

	window []Sample
	status Status
}

func New(source Source, actuator Actuator, clk clock.Clock, log *zap.SugaredLogger, opts Options) *Autoscaler {
	return &Autoscaler{
		source:   source,
		actuator: actuator,
		clk:      clk,
		log:      log.Named("autoscaler"),
		opts:     opts.withDefaults(),
	}
}

// Run reconciles on the configured interval until ctx is cancelled.
func (a *Autoscaler) Run(ctx context.Context) {
	ticker := time.NewTicker(a.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.Reconcile(ctx); err != nil {
				a.log.Errorw("reconcile failed", "error", err)
			}
		}
	}
}

// Reconcile executes one autoscaling loop.
func (a *Autoscaler) Reconcile(ctx context.Context) error {
	// 1. Fold the latest sample into the rolling window.
	sample, err := a.source.Sample(ctx)
	if err != nil {
		return err
	}
	a.window = append(a.window, sample)
	if len(a.window) > a.opts.WindowSize {
		a.window = a.window[len(a.window)-a.opts.WindowSize:]
	}

	// 2. Retrieve current capacity.
	current, err := a.actuator.CurrentCapacity(ctx)
	if err != nil {
		return err
	}
	a.status.CurrentCapacity = current

	// 3. Decide on a single step, damped by cooldowns and clamped to bounds.
	desired := a.decide(sample, current)
	a.status.DesiredCapacity = desired
	if desired == current {
		return nil
	}

	// 4. Actuate.
	if err := a.actuator.SetCapacity(ctx, desired); err != nil {
		return err
	}
	now := a.clk.Now()
	if desired > current {
		a.status.LastScaleUp = &now
	} else {
		a.status.LastScaleDown = &now
	}
	a.log.Infow("scaled fleet", "from", current, "to", desired, "reason", a.status.LastReason)
	return nil
}

// decide steps the capacity by one. Any hot signal scales up; every idle
// condition must hold to scale down.
func (a *Autoscaler) decide(latest Sample, current int) int {
	meanCPU, meanMem := a.windowMeans()
	a.status.MeanCPU = meanCPU
	a.status.MeanMemory = meanMem

	recommended := current
	reason := ""
	switch {
	case meanCPU > a.opts.ScaleUpThreshold:
		recommended, reason = current+1, "cpu"
	case meanMem > a.opts.ScaleUpThreshold:
		recommended, reason = current+1, "memory"
	case latest.PendingMissions > pendingBacklogFactor*current:
		recommended, reason = current+1, "pending_backlog"
	case meanCPU < a.opts.ScaleDownThreshold &&
		meanMem < a.opts.ScaleDownThreshold &&
		latest.PendingMissions == 0 &&
		latest.ActiveMissions < current:
		recommended, reason = current-1, "idle_fleet"
	}

	limited := a.applyCooldowns(recommended, current)
	bounded := a.applyBounds(limited)
	if bounded != current {
		a.status.LastReason = reason
	}
	return bounded
}

func (a *Autoscaler) windowMeans() (cpu, mem float64) {
	if len(a.window) == 0 {
		return 0, 0
	}
	for _, s := range a.window {
		cpu += s.CPUPercent
		mem += s.MemoryPercent
	}
	n := float64(len(a.window))
	return cpu / n, mem / n
}

// applyCooldowns holds the current capacity while the direction of change is
// inside its stabilization window.
func (a *Autoscaler) applyCooldowns(recommended, current int) int {
	now := a.clk.Now()
	if recommended > current && a.status.LastScaleUp != nil {
		if elapsed := now.Sub(*a.status.LastScaleUp); elapsed < a.opts.ScaleUpCooldown {
			a.log.Debugw("scale-up within cooldown", "elapsed", elapsed)
			return current
		}
	}
	if recommended < current && a.status.LastScaleDown != nil {
		if elapsed := now.Sub(*a.status.LastScaleDown); elapsed < a.opts.ScaleDownCooldown {
			a.log.Debugw("scale-down within cooldown", "elapsed", elapsed)
			return current
		}
	}
	return recommended
}

func (a *Autoscaler) applyBounds(desired int) int {
	if desired > a.opts.MaxCapacity {
		return a.opts.MaxCapacity
	}
	if desired < a.opts.MinCapacity {
		return a.opts.MinCapacity
	}
	return desired
}

// Status returns the last reconcile outcome.
func (a *Autoscaler) Status() Status {
	return a.status
}
