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

package repository

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

// CachedStore decorates a Store with a read-through TTL cache. Writes and
// deletes invalidate; prefix scans bypass the cache entirely since follower
// reads are allowed to be slightly stale anyway.
type CachedStore struct {
	Store
	cache *cache.Cache
}

func NewCachedStore(inner Store, ttl time.Duration) *CachedStore {
	return &CachedStore{
		Store: inner,
		cache: cache.New(ttl, 2*ttl),
	}
}

func (s *CachedStore) Get(ctx context.Context, key string) ([]byte, error) {
	if v, ok := s.cache.Get(key); ok {
		return v.([]byte), nil
	}
	v, err := s.Store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	s.cache.SetDefault(key, v)
	return v, nil
}

func (s *CachedStore) Put(ctx context.Context, key string, value []byte) error {
	s.cache.Delete(key)
	return s.Store.Put(ctx, key, value)
}

func (s *CachedStore) Delete(ctx context.Context, key string) error {
	s.cache.Delete(key)
	return s.Store.Delete(ctx, key)
}

func (s *CachedStore) CompareAndSwap(ctx context.Context, key string, expected, value []byte) (bool, error) {
	s.cache.Delete(key)
	return s.Store.CompareAndSwap(ctx, key, expected, value)
}
