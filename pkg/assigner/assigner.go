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

// Package assigner selects UAVs for a mission. Strategies are pluggable and
// deterministic under a fixed seed; selection happens once per dispatch.
package assigner

import (
	"math/rand"

	"github.com/shookYu/FalconMind/pkg/apis/core"
	"github.com/shookYu/FalconMind/pkg/errors"
)

// Request describes what the mission needs from its UAVs.
type Request struct {
	Count            int
	Area             core.Area
	RequiredAltitude float64
	PayloadMass      float64
	// Seed drives every random choice a strategy makes. Equal seeds and
	// candidate sets produce equal selections.
	Seed int64
}

// Strategy returns an ordered list of chosen UAV ids.
type Strategy interface {
	Select(candidates []*core.UAV, req Request) ([]string, error)
}

// Name constants used by the operator API to pick a strategy.
const (
	StrategyGreedy    = "greedy"
	StrategyProximity = "proximity"
	StrategyGenetic   = "genetic"
	StrategyPSO       = "pso"
	StrategyNSGA2     = "nsga2"
)

// For resolves a strategy by name, defaulting to greedy.
func For(name string) Strategy {
	switch name {
	case StrategyProximity:
		return Proximity{}
	case StrategyGenetic:
		return NewGenetic()
	case StrategyPSO:
		return NewParticleSwarm()
	case StrategyNSGA2:
		return NewMultiObjective(DefaultObjectives(), DefaultConstraints())
	default:
		return Greedy{}
	}
}

func validate(candidates []*core.UAV, req Request) error {
	if req.Count <= 0 {
		return errors.Validation("requested uav count must be positive")
	}
	if len(candidates) == 0 {
		return errors.CapacityExhausted("no candidate uavs")
	}
	return nil
}

// fitness scores one candidate as 0.6*battery + 0.4*altitude-fit, the shared
// objective of the population strategies.
func fitness(u *core.UAV, area core.Area) float64 {
	battery := u.Capabilities.BatteryRatio()
	altitude := 1.0
	if area.MaxAltitude > 0 {
		altitude = min(1.0, u.Capabilities.MaxAltitude/area.MaxAltitude)
	}
	return battery*0.6 + altitude*0.4
}

// meanFitness averages fitness across an index individual.
func meanFitness(individual []int, candidates []*core.UAV, area core.Area) float64 {
	if len(individual) == 0 {
		return 0
	}
	var sum float64
	for _, idx := range individual {
		sum += fitness(candidates[idx], area)
	}
	return sum / float64(len(individual))
}

// sampleIndices draws k distinct indices from [0, n).
func sampleIndices(rng *rand.Rand, n, k int) []int {
	perm := rng.Perm(n)
	return perm[:k]
}

func ids(individual []int, candidates []*core.UAV) []string {
	out := make([]string, 0, len(individual))
	for _, idx := range individual {
		out = append(out, candidates[idx].ID)
	}
	return out
}
