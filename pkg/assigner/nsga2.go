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
	"sort"

	"github.com/shookYu/FalconMind/pkg/apis/core"
	"github.com/shookYu/FalconMind/pkg/errors"
	"github.com/shookYu/FalconMind/pkg/geo"
)

type ObjectiveType string

const (
	MinimizeCost     ObjectiveType = "minimize_cost"
	MaximizeBattery  ObjectiveType = "maximize_battery"
	MinimizeTime     ObjectiveType = "minimize_time"
	MaximizeCoverage ObjectiveType = "maximize_coverage"
)

type Objective struct {
	Type   ObjectiveType
	Weight float64
}

type ConstraintType string

const (
	ConstraintAltitude ConstraintType = "altitude"
	ConstraintBattery  ConstraintType = "battery"
	ConstraintPayload  ConstraintType = "payload"
)

type Constraint struct {
	Type ConstraintType
	Min  float64
	Max  float64
}

func DefaultObjectives() []Objective {
	return []Objective{
		{Type: MaximizeBattery, Weight: 1.0},
		{Type: MinimizeTime, Weight: 1.0},
	}
}

func DefaultConstraints() []Constraint {
	return []Constraint{
		{Type: ConstraintBattery, Min: 20},
	}
}

// MultiObjective is an NSGA-II style assigner: non-dominated sorting over the
// configured objectives with a crowding-distance tiebreak. All objective
// values are expressed as minimisation scores (maximised objectives are
// negated). Returns the head of the first non-dominated front.
type MultiObjective struct {
	Objectives     []Objective
	Constraints    []Constraint
	PopulationSize int
	Generations    int
	MutationRate   float64
	TournamentSize int
}

func NewMultiObjective(objectives []Objective, constraints []Constraint) MultiObjective {
	return MultiObjective{
		Objectives:     objectives,
		Constraints:    constraints,
		PopulationSize: 50,
		Generations:    50,
		MutationRate:   0.1,
		TournamentSize: 2,
	}
}

func (m MultiObjective) Select(candidates []*core.UAV, req Request) ([]string, error) {
	if err := validate(candidates, req); err != nil {
		return nil, err
	}
	feasible := make([]*core.UAV, 0, len(candidates))
	for _, u := range candidates {
		if m.satisfies(u, req) {
			feasible = append(feasible, u)
		}
	}
	if len(feasible) == 0 {
		return nil, errors.CapacityExhausted("no uav satisfies the constraint set")
	}
	k := min(req.Count, len(feasible))
	if k == len(feasible) {
		return ids(seq(k), feasible), nil
	}
	rng := rand.New(rand.NewSource(req.Seed))

	population := make([][]int, m.PopulationSize)
	for i := range population {
		population[i] = sampleIndices(rng, len(feasible), k)
	}

	for gen := 0; gen < m.Generations; gen++ {
		scores := make([][]float64, len(population))
		for i, individual := range population {
			scores[i] = m.evaluate(individual, feasible, req)
		}
		fronts := nonDominatedSort(scores)

		next := make([][]int, 0, m.PopulationSize)
		for _, front := range fronts {
			byCrowding := sortByCrowdingDistance(front, scores)
			for _, idx := range byCrowding {
				if len(next) == m.PopulationSize/2 {
					break
				}
				next = append(next, clone(population[idx]))
			}
			if len(next) == m.PopulationSize/2 {
				break
			}
		}
		for len(next) < m.PopulationSize {
			p1 := next[rng.Intn(len(next))]
			p2 := next[rng.Intn(len(next))]
			child := Genetic{}.crossover(rng, p1, p2, len(feasible))
			if rng.Float64() < m.MutationRate {
				Genetic{}.mutate(rng, child, len(feasible))
			}
			next = append(next, child)
		}
		population = next
	}

	scores := make([][]float64, len(population))
	for i, individual := range population {
		scores[i] = m.evaluate(individual, feasible, req)
	}
	fronts := nonDominatedSort(scores)
	head := sortByCrowdingDistance(fronts[0], scores)[0]
	return ids(population[head], feasible), nil
}

func (m MultiObjective) satisfies(u *core.UAV, req Request) bool {
	for _, c := range m.Constraints {
		switch c.Type {
		case ConstraintAltitude:
			if c.Min > 0 && u.Capabilities.MaxAltitude < c.Min {
				return false
			}
			if c.Max > 0 && u.Capabilities.MaxAltitude > c.Max {
				return false
			}
		case ConstraintBattery:
			if c.Min > 0 && u.Capabilities.BatteryRatio()*100 < c.Min {
				return false
			}
		case ConstraintPayload:
			if req.PayloadMass > 0 && u.Capabilities.MaxPayload < req.PayloadMass {
				return false
			}
		}
	}
	return true
}

// evaluate produces one minimisation score per objective.
func (m MultiObjective) evaluate(individual []int, candidates []*core.UAV, req Request) []float64 {
	center := geo.Centroid(req.Area.Polygon)
	scores := make([]float64, 0, len(m.Objectives))
	for _, obj := range m.Objectives {
		switch obj.Type {
		case MinimizeCost:
			var cost float64
			for _, idx := range individual {
				cost += 1 - candidates[idx].Capabilities.BatteryRatio()
			}
			scores = append(scores, cost*obj.Weight)
		case MaximizeBattery:
			var battery float64
			for _, idx := range individual {
				battery += candidates[idx].Capabilities.BatteryRatio()
			}
			scores = append(scores, -battery*obj.Weight)
		case MinimizeTime:
			var total float64
			for _, idx := range individual {
				total += m.estimateTime(candidates[idx], center, req)
			}
			scores = append(scores, total*obj.Weight)
		case MaximizeCoverage:
			// More vehicles with better altitude reach cover more area.
			var coverage float64
			for _, idx := range individual {
				if req.Area.MaxAltitude > 0 {
					coverage += min(1.0, candidates[idx].Capabilities.MaxAltitude/req.Area.MaxAltitude)
				} else {
					coverage += 1
				}
			}
			scores = append(scores, -coverage*obj.Weight)
		}
	}
	return scores
}

// estimateTime is travel to the area centroid at max speed.
func (m MultiObjective) estimateTime(u *core.UAV, center core.GeoPoint, req Request) float64 {
	if u.Position == nil || u.Capabilities.MaxSpeed <= 0 {
		return 0
	}
	return geo.Haversine(*u.Position, center) / u.Capabilities.MaxSpeed
}

// nonDominatedSort partitions indices into Pareto fronts, best first.
func nonDominatedSort(scores [][]float64) [][]int {
	n := len(scores)
	dominatedBy := make([]int, n)
	dominates := make([][]int, n)
	var first []int
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			if dominatesAll(scores[i], scores[j]) {
				dominates[i] = append(dominates[i], j)
			} else if dominatesAll(scores[j], scores[i]) {
				dominatedBy[i]++
			}
		}
		if dominatedBy[i] == 0 {
			first = append(first, i)
		}
	}
	fronts := [][]int{first}
	for len(fronts[len(fronts)-1]) > 0 {
		var next []int
		for _, i := range fronts[len(fronts)-1] {
			for _, j := range dominates[i] {
				dominatedBy[j]--
				if dominatedBy[j] == 0 {
					next = append(next, j)
				}
			}
		}
		if len(next) == 0 {
			break
		}
		fronts = append(fronts, next)
	}
	return fronts
}

// dominatesAll reports whether a is no worse than b on every objective and
// strictly better on at least one (all scores are minimised).
func dominatesAll(a, b []float64) bool {
	strictly := false
	for i := range a {
		if a[i] > b[i] {
			return false
		}
		if a[i] < b[i] {
			strictly = true
		}
	}
	return strictly
}

// sortByCrowdingDistance orders one front by descending crowding distance.
func sortByCrowdingDistance(front []int, scores [][]float64) []int {
	if len(front) <= 2 {
		return clone(front)
	}
	numObjectives := len(scores[front[0]])
	distance := map[int]float64{}
	for _, idx := range front {
		distance[idx] = 0
	}
	for obj := 0; obj < numObjectives; obj++ {
		ordered := clone(front)
		sort.Slice(ordered, func(i, j int) bool { return scores[ordered[i]][obj] < scores[ordered[j]][obj] })
		distance[ordered[0]] = math.Inf(1)
		distance[ordered[len(ordered)-1]] = math.Inf(1)
		span := scores[ordered[len(ordered)-1]][obj] - scores[ordered[0]][obj]
		if span == 0 {
			continue
		}
		for i := 1; i < len(ordered)-1; i++ {
			distance[ordered[i]] += (scores[ordered[i+1]][obj] - scores[ordered[i-1]][obj]) / span
		}
	}
	out := clone(front)
	sort.SliceStable(out, func(i, j int) bool { return distance[out[i]] > distance[out[j]] })
	return out
}
