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

// Package idgen issues unique, monotonically sortable identifiers. Ids are
// prefixed with a creation-time nanosecond counter so lexicographic order
// follows creation order within a process.
package idgen

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Generator struct {
	mu   sync.Mutex
	last int64
}

func New() *Generator {
	return &Generator{}
}

// NextID returns a new id of the form <prefix>-<monotonic-ns>-<uuid8>.
func (g *Generator) NextID(prefix string) string {
	g.mu.Lock()
	now := time.Now().UnixNano()
	if now <= g.last {
		now = g.last + 1
	}
	g.last = now
	g.mu.Unlock()
	return fmt.Sprintf("%s-%d-%s", prefix, now, uuid.NewString()[:8])
}
