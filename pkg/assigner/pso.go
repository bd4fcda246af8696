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

package assigner

import (
	"math"
	"math/rand"

	"github.com/shookYu/FalconMind/pkg/apis/core"
)

// ParticleSwarm treats each particle as an index vector over the candidate
// set. Velocities are continuous; the "difference" between two indices is
// their signed gap normalised by the candidate count, and a velocity beyond
// the swap threshold replaces that slot with an unused candidate.
type ParticleSwarm struct {
	SwarmSize     int
	Iterations    int
	Inertia       float64
	Cognitive     float64
	Social        float64
	SwapThreshold float64
}

func NewParticleSwarm() ParticleSwarm {
	return ParticleSwarm{
		SwarmSize:     30,
		Iterations:    100,
		Inertia:       0.7,
		Cognitive:     1.5,
		Social:        1.5,
		SwapThreshold: 0.5,
	}
}

type particle struct {
	position    []int
	velocity    []float64
	bestPos     []int
	bestFitness float64
}

func (p ParticleSwarm) Select(candidates []*core.UAV, req Request) ([]string, error) {
	if err := validate(candidates, req); err != nil {
		return nil, err
	}
	k := min(req.Count, len(candidates))
	if k == len(candidates) {
		return ids(seq(k), candidates), nil
	}
	rng := rand.New(rand.NewSource(req.Seed))

	swarm := make([]*particle, p.SwarmSize)
	var globalBest []int
	globalBestFitness := math.Inf(-1)
	for i := range swarm {
		pos := sampleIndices(rng, len(candidates), k)
		vel := make([]float64, k)
		for j := range vel {
			vel[j] = rng.Float64()*2 - 1
		}
		fit := meanFitness(pos, candidates, req.Area)
		swarm[i] = &particle{position: pos, velocity: vel, bestPos: clone(pos), bestFitness: fit}
		if fit > globalBestFitness {
			globalBestFitness = fit
			globalBest = clone(pos)
		}
	}

	for iter := 0; iter < p.Iterations; iter++ {
		for _, part := range swarm {
			for i := range part.position {
				r1, r2 := rng.Float64(), rng.Float64()
				personal := indexDiff(part.position[i], part.bestPos[i], len(candidates))
				social := indexDiff(part.position[i], globalBest[i], len(candidates))
				part.velocity[i] = p.Inertia*part.velocity[i] +
					p.Cognitive*r1*personal +
					p.Social*r2*social

				if math.Abs(part.velocity[i]) > p.SwapThreshold {
					seen := map[int]bool{}
					for _, idx := range part.position {
						seen[idx] = true
					}
					if unused := unusedIndices(seen, len(candidates)); len(unused) > 0 {
						part.position[i] = unused[rng.Intn(len(unused))]
					}
				}
			}
			fit := meanFitness(part.position, candidates, req.Area)
			if fit > part.bestFitness {
				part.bestFitness = fit
				part.bestPos = clone(part.position)
			}
			if fit > globalBestFitness {
				globalBestFitness = fit
				globalBest = clone(part.position)
			}
		}
	}
	return ids(globalBest, candidates), nil
}

// indexDiff is the discrete position difference, normalised to [-1, 1].
func indexDiff(from, to, numCandidates int) float64 {
	if numCandidates == 0 {
		return 0
	}
	return float64(to-from) / float64(numCandidates)
}
