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
	"github.com/shookYu/FalconMind/pkg/apis/core"
	"github.com/shookYu/FalconMind/pkg/errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("For", func() {
	It("should resolve each strategy by name", func() {
		Expect(For(StrategyGreedy)).To(BeAssignableToTypeOf(Greedy{}))
		Expect(For(StrategyProximity)).To(BeAssignableToTypeOf(Proximity{}))
		Expect(For(StrategyGenetic)).To(BeAssignableToTypeOf(Genetic{}))
		Expect(For(StrategyPSO)).To(BeAssignableToTypeOf(ParticleSwarm{}))
		Expect(For(StrategyNSGA2)).To(BeAssignableToTypeOf(MultiObjective{}))
	})
	It("should default unknown names to greedy", func() {
		Expect(For("simulated-annealing")).To(BeAssignableToTypeOf(Greedy{}))
	})
})

var _ = Describe("Greedy", func() {
	It("should pick the best-charged vehicles first", func() {
		chosen, err := Greedy{}.Select([]*core.UAV{
			uav("uav-a", 40), uav("uav-b", 95), uav("uav-c", 70),
		}, Request{Count: 2, Area: searchArea})
		Expect(err).ToNot(HaveOccurred())
		Expect(chosen).To(Equal([]string{"uav-b", "uav-c"}))
	})

	It("should reject vehicles that cannot reach the required altitude", func() {
		low := uav("uav-low", 100)
		low.Capabilities.MaxAltitude = 80

		chosen, err := Greedy{}.Select([]*core.UAV{low, uav("uav-a", 50)}, Request{
			Count:            1,
			Area:             searchArea,
			RequiredAltitude: 100,
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(chosen).To(Equal([]string{"uav-a"}))
	})

	It("should exhaust capacity when no vehicle reaches the altitude", func() {
		low := uav("uav-low", 100)
		low.Capabilities.MaxAltitude = 80
		_, err := Greedy{}.Select([]*core.UAV{low}, Request{Count: 1, RequiredAltitude: 100})
		Expect(errors.IsKind(err, errors.KindCapacityExhausted)).To(BeTrue())
	})

	It("should return all candidates when the ask exceeds the pool", func() {
		chosen, err := Greedy{}.Select([]*core.UAV{uav("uav-a", 50)}, Request{Count: 3})
		Expect(err).ToNot(HaveOccurred())
		Expect(chosen).To(HaveLen(1))
	})

	It("should reject a non-positive count", func() {
		_, err := Greedy{}.Select([]*core.UAV{uav("uav-a", 50)}, Request{Count: 0})
		Expect(errors.IsKind(err, errors.KindValidation)).To(BeTrue())
	})

	It("should exhaust capacity on an empty pool", func() {
		_, err := Greedy{}.Select(nil, Request{Count: 1})
		Expect(errors.IsKind(err, errors.KindCapacityExhausted)).To(BeTrue())
	})
})

var _ = Describe("Proximity", func() {
	It("should pick the closest vehicles", func() {
		chosen, err := Proximity{}.Select([]*core.UAV{
			uavAt("uav-far", 100, core.GeoPoint{Latitude: 40.1, Longitude: 116.31}),
			uavAt("uav-near", 50, core.GeoPoint{Latitude: 40.001, Longitude: 116.31}),
			uavAt("uav-mid", 80, core.GeoPoint{Latitude: 40.02, Longitude: 116.31}),
		}, Request{Count: 2, Area: searchArea})
		Expect(err).ToNot(HaveOccurred())
		Expect(chosen).To(Equal([]string{"uav-near", "uav-mid"}))
	})

	It("should sort vehicles without a position last", func() {
		chosen, err := Proximity{}.Select([]*core.UAV{
			uav("uav-lost", 100),
			uavAt("uav-near", 50, core.GeoPoint{Latitude: 40.0, Longitude: 116.31}),
		}, Request{Count: 1, Area: searchArea})
		Expect(err).ToNot(HaveOccurred())
		Expect(chosen).To(Equal([]string{"uav-near"}))
	})
})

// populationPool has two clearly superior vehicles so the heuristics have an
// unambiguous optimum to converge on.
func populationPool() []*core.UAV {
	return []*core.UAV{
		uav("uav-a", 10), uav("uav-b", 98), uav("uav-c", 15),
		uav("uav-d", 95), uav("uav-e", 20),
	}
}

var _ = Describe("Genetic", func() {
	It("should converge on the strongest pair", func() {
		chosen, err := NewGenetic().Select(populationPool(), Request{Count: 2, Area: searchArea, Seed: 42})
		Expect(err).ToNot(HaveOccurred())
		Expect(chosen).To(ConsistOf("uav-b", "uav-d"))
	})

	It("should be deterministic for a fixed seed", func() {
		first, err := NewGenetic().Select(populationPool(), Request{Count: 3, Area: searchArea, Seed: 7})
		Expect(err).ToNot(HaveOccurred())
		second, err := NewGenetic().Select(populationPool(), Request{Count: 3, Area: searchArea, Seed: 7})
		Expect(err).ToNot(HaveOccurred())
		Expect(second).To(Equal(first))
	})

	It("should never select the same vehicle twice", func() {
		chosen, err := NewGenetic().Select(populationPool(), Request{Count: 4, Area: searchArea, Seed: 3})
		Expect(err).ToNot(HaveOccurred())
		Expect(chosen).To(HaveLen(4))
		seen := map[string]bool{}
		for _, id := range chosen {
			Expect(seen[id]).To(BeFalse())
			seen[id] = true
		}
	})

	It("should short-circuit when the ask covers the pool", func() {
		chosen, err := NewGenetic().Select(populationPool(), Request{Count: 9, Area: searchArea})
		Expect(err).ToNot(HaveOccurred())
		Expect(chosen).To(HaveLen(5))
	})
})

var _ = Describe("ParticleSwarm", func() {
	It("should converge on the strongest pair", func() {
		chosen, err := NewParticleSwarm().Select(populationPool(), Request{Count: 2, Area: searchArea, Seed: 42})
		Expect(err).ToNot(HaveOccurred())
		Expect(chosen).To(ConsistOf("uav-b", "uav-d"))
	})

	It("should be deterministic for a fixed seed", func() {
		first, err := NewParticleSwarm().Select(populationPool(), Request{Count: 2, Area: searchArea, Seed: 11})
		Expect(err).ToNot(HaveOccurred())
		second, err := NewParticleSwarm().Select(populationPool(), Request{Count: 2, Area: searchArea, Seed: 11})
		Expect(err).ToNot(HaveOccurred())
		Expect(second).To(Equal(first))
	})
})

var _ = Describe("MultiObjective", func() {
	It("should filter candidates through the constraint set", func() {
		drained := uav("uav-drained", 10)
		chosen, err := NewMultiObjective(DefaultObjectives(), DefaultConstraints()).
			Select([]*core.UAV{drained, uav("uav-a", 80), uav("uav-b", 60)}, Request{Count: 2, Area: searchArea, Seed: 1})
		Expect(err).ToNot(HaveOccurred())
		Expect(chosen).To(ConsistOf("uav-a", "uav-b"))
	})

	It("should exhaust capacity when the constraints exclude everyone", func() {
		_, err := NewMultiObjective(DefaultObjectives(), DefaultConstraints()).
			Select([]*core.UAV{uav("uav-a", 5)}, Request{Count: 1, Area: searchArea})
		Expect(errors.IsKind(err, errors.KindCapacityExhausted)).To(BeTrue())
	})

	It("should respect a payload constraint", func() {
		light := uav("uav-light", 90)
		light.Capabilities.MaxPayload = 1
		chosen, err := NewMultiObjective(DefaultObjectives(), []Constraint{{Type: ConstraintPayload}}).
			Select([]*core.UAV{light, uav("uav-a", 50)}, Request{Count: 1, Area: searchArea, PayloadMass: 3})
		Expect(err).ToNot(HaveOccurred())
		Expect(chosen).To(Equal([]string{"uav-a"}))
	})

	It("should trade battery against travel time on the first front", func() {
		near := uavAt("uav-near", 60, core.GeoPoint{Latitude: 40.0, Longitude: 116.31})
		far := uavAt("uav-far", 95, core.GeoPoint{Latitude: 41.0, Longitude: 116.31})
		weak := uavAt("uav-weak", 30, core.GeoPoint{Latitude: 41.0, Longitude: 117.0})

		chosen, err := NewMultiObjective(DefaultObjectives(), nil).
			Select([]*core.UAV{near, far, weak}, Request{Count: 1, Area: searchArea, Seed: 5})
		Expect(err).ToNot(HaveOccurred())
		Expect(chosen).To(HaveLen(1))
		// uav-weak is dominated on both objectives and can never win.
		Expect(chosen[0]).ToNot(Equal("uav-weak"))
	})

	It("should be deterministic for a fixed seed", func() {
		pool := populationPool()
		first, err := NewMultiObjective(DefaultObjectives(), nil).Select(pool, Request{Count: 2, Area: searchArea, Seed: 9})
		Expect(err).ToNot(HaveOccurred())
		second, err := NewMultiObjective(DefaultObjectives(), nil).Select(pool, Request{Count: 2, Area: searchArea, Seed: 9})
		Expect(err).ToNot(HaveOccurred())
		Expect(second).To(Equal(first))
	})
})
