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
	"math/rand"

	"github.com/shookYu/FalconMind/pkg/apis/core"
)

// Genetic evolves index vectors over the candidate set. Individuals are
// duplicate-free; single-point crossover deduplicates and backfills from the
// unused candidates.
type Genetic struct {
	PopulationSize int
	Generations    int
	MutationRate   float64
	CrossoverRate  float64
	EliteSize      int
	TournamentSize int
}

func NewGenetic() Genetic {
	return Genetic{
		PopulationSize: 50,
		Generations:    100,
		MutationRate:   0.1,
		CrossoverRate:  0.8,
		EliteSize:      5,
		TournamentSize: 3,
	}
}

func (g Genetic) Select(candidates []*core.UAV, req Request) ([]string, error) {
	if err := validate(candidates, req); err != nil {
		return nil, err
	}
	k := min(req.Count, len(candidates))
	if k == len(candidates) {
		return ids(seq(k), candidates), nil
	}
	rng := rand.New(rand.NewSource(req.Seed))

	population := make([][]int, g.PopulationSize)
	for i := range population {
		population[i] = sampleIndices(rng, len(candidates), k)
	}

	for gen := 0; gen < g.Generations; gen++ {
		scores := make([]float64, len(population))
		for i, individual := range population {
			scores[i] = meanFitness(individual, candidates, req.Area)
		}

		next := make([][]int, 0, g.PopulationSize)
		for _, idx := range topIndices(scores, g.EliteSize) {
			next = append(next, clone(population[idx]))
		}
		for len(next) < g.PopulationSize {
			p1 := g.tournament(rng, population, scores)
			p2 := g.tournament(rng, population, scores)
			var child []int
			if rng.Float64() < g.CrossoverRate {
				child = g.crossover(rng, p1, p2, len(candidates))
			} else {
				child = clone(p1)
			}
			if rng.Float64() < g.MutationRate {
				g.mutate(rng, child, len(candidates))
			}
			next = append(next, child)
		}
		population = next
	}

	best := population[0]
	bestScore := meanFitness(best, candidates, req.Area)
	for _, individual := range population[1:] {
		if s := meanFitness(individual, candidates, req.Area); s > bestScore {
			best, bestScore = individual, s
		}
	}
	return ids(best, candidates), nil
}

func (g Genetic) tournament(rng *rand.Rand, population [][]int, scores []float64) []int {
	winner := rng.Intn(len(population))
	for i := 1; i < g.TournamentSize; i++ {
		challenger := rng.Intn(len(population))
		if scores[challenger] > scores[winner] {
			winner = challenger
		}
	}
	return population[winner]
}

func (g Genetic) crossover(rng *rand.Rand, p1, p2 []int, numCandidates int) []int {
	if len(p1) < 2 {
		return clone(p1)
	}
	point := 1 + rng.Intn(len(p1)-1)
	merged := append(clone(p1[:point]), p2[point:]...)

	// Order-preserving dedup, then backfill from unused candidates.
	seen := map[int]bool{}
	child := merged[:0]
	for _, idx := range merged {
		if !seen[idx] {
			seen[idx] = true
			child = append(child, idx)
		}
	}
	for len(child) < len(p1) {
		unused := unusedIndices(seen, numCandidates)
		if len(unused) == 0 {
			break
		}
		pick := unused[rng.Intn(len(unused))]
		seen[pick] = true
		child = append(child, pick)
	}
	return child[:len(p1)]
}

func (g Genetic) mutate(rng *rand.Rand, individual []int, numCandidates int) {
	if len(individual) == 0 {
		return
	}
	seen := map[int]bool{}
	for _, idx := range individual {
		seen[idx] = true
	}
	unused := unusedIndices(seen, numCandidates)
	if len(unused) == 0 {
		return
	}
	individual[rng.Intn(len(individual))] = unused[rng.Intn(len(unused))]
}

func seq(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func clone(in []int) []int {
	out := make([]int, len(in))
	copy(out, in)
	return out
}

func unusedIndices(seen map[int]bool, n int) []int {
	var out []int
	for i := 0; i < n; i++ {
		if !seen[i] {
			out = append(out, i)
		}
	}
	return out
}

// topIndices returns the indices of the k highest scores, descending.
func topIndices(scores []float64, k int) []int {
	order := seq(len(scores))
	for i := 0; i < len(order); i++ {
		for j := i + 1; j < len(order); j++ {
			if scores[order[j]] > scores[order[i]] {
				order[i], order[j] = order[j], order[i]
			}
		}
	}
	if k > len(order) {
		k = len(order)
	}
	return order[:k]
}
