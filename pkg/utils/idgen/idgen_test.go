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

package idgen

import (
	"strings"
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Generator", func() {
	var gen *Generator

	BeforeEach(func() {
		gen = New()
	})

	It("should carry the prefix", func() {
		Expect(gen.NextID("mission")).To(HavePrefix("mission-"))
	})

	It("should sort lexicographically within equal-width counters", func() {
		first := gen.NextID("mission")
		second := gen.NextID("mission")
		Expect(second > first).To(BeTrue())
	})

	It("should never repeat under concurrency", func() {
		const workers, perWorker = 8, 200
		var mu sync.Mutex
		seen := map[string]bool{}
		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < perWorker; i++ {
					id := gen.NextID("uav")
					mu.Lock()
					Expect(seen[id]).To(BeFalse())
					seen[id] = true
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		Expect(seen).To(HaveLen(workers * perWorker))
	})

	It("should embed a counter and a random suffix", func() {
		parts := strings.Split(gen.NextID("group"), "-")
		Expect(len(parts)).To(BeNumerically(">=", 3))
		Expect(parts[len(parts)-1]).To(HaveLen(8))
	})
})
