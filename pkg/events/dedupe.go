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

package events

import (
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
)

// NewDedupeRecorder suppresses identical (type, subkind, entity) events
// published within the dedupe window. Conflict events in particular repeat on
// every coordinator tick while two UAVs stay close.
func NewDedupeRecorder(r Recorder, window time.Duration) Recorder {
	return &dedupe{
		rec:   r,
		cache: cache.New(window, window/2),
	}
}

type dedupe struct {
	rec   Recorder
	cache *cache.Cache
}

func (d *dedupe) Publish(e Event) {
	key := fmt.Sprintf("%s-%s-%s", e.Type, e.SubKind, e.EntityID)
	if _, exists := d.cache.Get(key); exists {
		return
	}
	d.cache.SetDefault(key, nil)
	d.rec.Publish(e)
}
