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

// Package retry decides whether, when and how often failed missions are
// retried. Decisions combine the class of the last error with per-mission-type
// overrides; auth and validation failures are never retried.
package retry

import (
	"strings"
	"time"

	"github.com/shookYu/FalconMind/pkg/apis/core"
	"github.com/shookYu/FalconMind/pkg/utils/clock"
)

type ErrorClass string

const (
	ClassNetwork    ErrorClass = "network"
	ClassTimeout    ErrorClass = "timeout"
	ClassServer     ErrorClass = "server"
	ClassClient     ErrorClass = "client"
	ClassRateLimit  ErrorClass = "rate_limit"
	ClassAuth       ErrorClass = "auth"
	ClassValidation ErrorClass = "validation"
	ClassUnknown    ErrorClass = "unknown"
)

type Strategy string

const (
	StrategyImmediate   Strategy = "immediate"
	StrategyFixed       Strategy = "fixed"
	StrategyExponential Strategy = "exponential"
)

// Policy is the per-class retry parameterisation.
type Policy struct {
	Strategy    Strategy
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	JitterRatio float64
}

// Decision is the outcome of a retry evaluation.
type Decision struct {
	Retry bool
	After time.Duration
	Class ErrorClass
}

// defaultPolicies mirror the per-class parameters of the adaptive retry
// manager: rate limits wait long and fixed, network/timeout back off
// exponentially, client/auth/validation never retry.
var defaultPolicies = map[ErrorClass]Policy{
	ClassNetwork:    {Strategy: StrategyExponential, MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second, Multiplier: 2, JitterRatio: 0.1},
	ClassTimeout:    {Strategy: StrategyExponential, MaxAttempts: 3, BaseDelay: 2 * time.Second, MaxDelay: 60 * time.Second, Multiplier: 2, JitterRatio: 0.1},
	ClassServer:     {Strategy: StrategyExponential, MaxAttempts: 4, BaseDelay: time.Second, MaxDelay: 30 * time.Second, Multiplier: 2, JitterRatio: 0.1},
	ClassRateLimit:  {Strategy: StrategyFixed, MaxAttempts: 5, BaseDelay: 10 * time.Second, MaxDelay: 10 * time.Second},
	ClassUnknown:    {Strategy: StrategyExponential, MaxAttempts: 2, BaseDelay: 2 * time.Second, MaxDelay: 20 * time.Second, Multiplier: 2, JitterRatio: 0.1},
	ClassClient:     {MaxAttempts: 0},
	ClassAuth:       {MaxAttempts: 0},
	ClassValidation: {MaxAttempts: 0},
}

// typeBudgets overrides the attempt budget per mission kind. Transport runs
// carry physical payloads and should not bounce around on retries.
var typeBudgets = map[string]int{
	"TRANSPORT":  2,
	"INSPECTION": 5,
}

type Manager struct {
	policies map[ErrorClass]Policy
	clk      clock.Clock
}

func NewManager(clk clock.Clock) *Manager {
	policies := make(map[ErrorClass]Policy, len(defaultPolicies))
	for k, v := range defaultPolicies {
		policies[k] = v
	}
	return &Manager{policies: policies, clk: clk}
}

// SetPolicy replaces the policy for one error class.
func (m *Manager) SetPolicy(class ErrorClass, p Policy) {
	m.policies[class] = p
}

// Classify buckets an error message into an ErrorClass by substring probes.
// Crude, but failure text from flight links and HTTP proxies is too varied
// for anything stricter.
func Classify(msg string) ErrorClass {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "unauthorized") || strings.Contains(lower, "forbidden") || strings.Contains(lower, "auth"):
		return ClassAuth
	case strings.Contains(lower, "validation") || strings.Contains(lower, "invalid"):
		return ClassValidation
	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "too many requests") || strings.Contains(lower, "429"):
		return ClassRateLimit
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline"):
		return ClassTimeout
	case strings.Contains(lower, "connection") || strings.Contains(lower, "network") || strings.Contains(lower, "refused") || strings.Contains(lower, "unreachable"):
		return ClassNetwork
	case strings.Contains(lower, "500") || strings.Contains(lower, "502") || strings.Contains(lower, "503") || strings.Contains(lower, "server"):
		return ClassServer
	case strings.Contains(lower, "400") || strings.Contains(lower, "404") || strings.Contains(lower, "client"):
		return ClassClient
	default:
		return ClassUnknown
	}
}

// Evaluate decides whether a mission that failed with lastError should retry,
// given how many retries it has already consumed. The budget is the smaller
// of the class budget and any mission-kind override.
func (m *Manager) Evaluate(mission *core.Mission, lastError string) Decision {
	class := Classify(lastError)
	policy, ok := m.policies[class]
	if !ok {
		policy = m.policies[ClassUnknown]
	}
	budget := policy.MaxAttempts
	if kind, exists := mission.Payload["missionKind"].(string); exists {
		if override, found := typeBudgets[strings.ToUpper(kind)]; found && override < budget {
			budget = override
		}
	}
	if budget <= 0 || mission.RetryCount >= budget {
		return Decision{Retry: false, Class: class}
	}
	return Decision{Retry: true, After: m.delay(policy, mission.RetryCount), Class: class}
}

func (m *Manager) delay(p Policy, attempt int) time.Duration {
	switch p.Strategy {
	case StrategyImmediate:
		return 0
	case StrategyFixed:
		return p.BaseDelay
	default:
		d := p.BaseDelay
		for i := 0; i < attempt; i++ {
			d = time.Duration(float64(d) * p.Multiplier)
			if d >= p.MaxDelay {
				d = p.MaxDelay
				break
			}
		}
		if p.JitterRatio > 0 {
			d += m.clk.Jitter(time.Duration(float64(d) * p.JitterRatio))
		}
		if d > p.MaxDelay {
			d = p.MaxDelay
		}
		return d
	}
}
