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
	"os"
	"path/filepath"
	"time"

	"github.com/shookYu/FalconMind/pkg/errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// storeContract holds for every Store implementation.
func storeContract(newStore func() Store) {
	var (
		ctx   context.Context
		store Store
	)

	BeforeEach(func() {
		ctx = context.Background()
		store = newStore()
	})
	AfterEach(func() {
		Expect(store.Close()).To(Succeed())
	})

	It("should round-trip a value", func() {
		Expect(store.Put(ctx, MissionKey("m1"), []byte(`{"id":"m1"}`))).To(Succeed())
		v, err := store.Get(ctx, MissionKey("m1"))
		Expect(err).ToNot(HaveOccurred())
		Expect(v).To(Equal([]byte(`{"id":"m1"}`)))
	})

	It("should report a missing key as not found", func() {
		_, err := store.Get(ctx, MissionKey("ghost"))
		Expect(errors.IsKind(err, errors.KindNotFound)).To(BeTrue())
	})

	It("should overwrite on repeated puts", func() {
		Expect(store.Put(ctx, "k", []byte("v1"))).To(Succeed())
		Expect(store.Put(ctx, "k", []byte("v2"))).To(Succeed())
		v, err := store.Get(ctx, "k")
		Expect(err).ToNot(HaveOccurred())
		Expect(v).To(Equal([]byte("v2")))
	})

	It("should delete, idempotently", func() {
		Expect(store.Put(ctx, "k", []byte("v"))).To(Succeed())
		Expect(store.Delete(ctx, "k")).To(Succeed())
		Expect(store.Delete(ctx, "k")).To(Succeed())
		_, err := store.Get(ctx, "k")
		Expect(errors.IsKind(err, errors.KindNotFound)).To(BeTrue())
	})

	It("should scan a prefix in key order", func() {
		Expect(store.Put(ctx, UAVKey("b"), []byte("2"))).To(Succeed())
		Expect(store.Put(ctx, UAVKey("a"), []byte("1"))).To(Succeed())
		Expect(store.Put(ctx, MissionKey("m1"), []byte("x"))).To(Succeed())

		kvs, err := store.ScanPrefix(ctx, PrefixUAV)
		Expect(err).ToNot(HaveOccurred())
		Expect(kvs).To(HaveLen(2))
		Expect(kvs[0].Key).To(Equal(UAVKey("a")))
		Expect(kvs[1].Key).To(Equal(UAVKey("b")))
	})

	It("should return copies, not aliases", func() {
		Expect(store.Put(ctx, "k", []byte("abc"))).To(Succeed())
		v, err := store.Get(ctx, "k")
		Expect(err).ToNot(HaveOccurred())
		v[0] = 'z'
		again, err := store.Get(ctx, "k")
		Expect(err).ToNot(HaveOccurred())
		Expect(again).To(Equal([]byte("abc")))
	})

	Describe("CompareAndSwap", func() {
		It("should create when absence is asserted", func() {
			ok, err := store.CompareAndSwap(ctx, "k", nil, []byte("v1"))
			Expect(err).ToNot(HaveOccurred())
			Expect(ok).To(BeTrue())

			ok, err = store.CompareAndSwap(ctx, "k", nil, []byte("v2"))
			Expect(err).ToNot(HaveOccurred())
			Expect(ok).To(BeFalse())
		})
		It("should swap only on a matching current value", func() {
			Expect(store.Put(ctx, "k", []byte("v1"))).To(Succeed())

			ok, err := store.CompareAndSwap(ctx, "k", []byte("stale"), []byte("v2"))
			Expect(err).ToNot(HaveOccurred())
			Expect(ok).To(BeFalse())

			ok, err = store.CompareAndSwap(ctx, "k", []byte("v1"), []byte("v2"))
			Expect(err).ToNot(HaveOccurred())
			Expect(ok).To(BeTrue())
			v, err := store.Get(ctx, "k")
			Expect(err).ToNot(HaveOccurred())
			Expect(v).To(Equal([]byte("v2")))
		})
	})
}

var _ = Describe("MemoryStore", func() {
	storeContract(func() Store { return NewMemoryStore() })
})

var _ = Describe("FileStore", func() {
	var dir string

	BeforeEach(func() {
		var err error
		dir, err = os.MkdirTemp("", "falconmind-repo")
		Expect(err).ToNot(HaveOccurred())
		DeferCleanup(func() { os.RemoveAll(dir) })
	})

	storeContract(func() Store {
		s, err := NewFileStore(filepath.Join(dir, "contract", "repo.log"))
		Expect(err).ToNot(HaveOccurred())
		return s
	})

	Describe("durability", func() {
		var (
			ctx  context.Context
			path string
		)

		BeforeEach(func() {
			ctx = context.Background()
			path = filepath.Join(dir, "repo.log")
		})

		It("should replay the log on reopen", func() {
			s, err := NewFileStore(path)
			Expect(err).ToNot(HaveOccurred())
			Expect(s.Put(ctx, MissionKey("m1"), []byte("v1"))).To(Succeed())
			Expect(s.Put(ctx, MissionKey("m2"), []byte("v2"))).To(Succeed())
			Expect(s.Delete(ctx, MissionKey("m2"))).To(Succeed())
			Expect(s.Put(ctx, MissionKey("m1"), []byte("v1b"))).To(Succeed())
			Expect(s.Close()).To(Succeed())

			reopened, err := NewFileStore(path)
			Expect(err).ToNot(HaveOccurred())
			defer reopened.Close()

			v, err := reopened.Get(ctx, MissionKey("m1"))
			Expect(err).ToNot(HaveOccurred())
			Expect(v).To(Equal([]byte("v1b")))
			_, err = reopened.Get(ctx, MissionKey("m2"))
			Expect(errors.IsKind(err, errors.KindNotFound)).To(BeTrue())
		})

		It("should stop replay at a torn trailing line", func() {
			s, err := NewFileStore(path)
			Expect(err).ToNot(HaveOccurred())
			Expect(s.Put(ctx, "k1", []byte("v1"))).To(Succeed())
			Expect(s.Close()).To(Succeed())

			f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
			Expect(err).ToNot(HaveOccurred())
			_, err = f.WriteString(`{"k":"k2","v":`)
			Expect(err).ToNot(HaveOccurred())
			Expect(f.Close()).To(Succeed())

			reopened, err := NewFileStore(path)
			Expect(err).ToNot(HaveOccurred())
			defer reopened.Close()

			v, err := reopened.Get(ctx, "k1")
			Expect(err).ToNot(HaveOccurred())
			Expect(v).To(Equal([]byte("v1")))
			_, err = reopened.Get(ctx, "k2")
			Expect(errors.IsKind(err, errors.KindNotFound)).To(BeTrue())
		})

		It("should compact once enough records are superseded", func() {
			s, err := NewFileStore(path)
			Expect(err).ToNot(HaveOccurred())
			s.compactAt = 5
			for i := 0; i < 10; i++ {
				Expect(s.Put(ctx, "hot", []byte{byte('0' + i)})).To(Succeed())
			}
			Expect(s.Put(ctx, "cold", []byte("keep"))).To(Succeed())
			Expect(s.Close()).To(Succeed())

			info, err := os.Stat(path)
			Expect(err).ToNot(HaveOccurred())
			// Two live records at most a line each; the ten dead versions of
			// "hot" are gone.
			Expect(info.Size()).To(BeNumerically("<", 200))

			reopened, err := NewFileStore(path)
			Expect(err).ToNot(HaveOccurred())
			defer reopened.Close()
			v, err := reopened.Get(ctx, "hot")
			Expect(err).ToNot(HaveOccurred())
			Expect(v).To(Equal([]byte("9")))
		})
	})
})

var _ = Describe("CachedStore", func() {
	var (
		ctx    context.Context
		inner  *MemoryStore
		cached *CachedStore
	)

	BeforeEach(func() {
		ctx = context.Background()
		inner = NewMemoryStore()
		cached = NewCachedStore(inner, time.Minute)
	})

	It("should serve repeated reads from the cache", func() {
		Expect(cached.Put(ctx, "k", []byte("v1"))).To(Succeed())
		v, err := cached.Get(ctx, "k")
		Expect(err).ToNot(HaveOccurred())
		Expect(v).To(Equal([]byte("v1")))

		// A write that bypasses the decorator is invisible until invalidation.
		Expect(inner.Put(ctx, "k", []byte("v2"))).To(Succeed())
		v, err = cached.Get(ctx, "k")
		Expect(err).ToNot(HaveOccurred())
		Expect(v).To(Equal([]byte("v1")))
	})

	It("should invalidate on write", func() {
		Expect(cached.Put(ctx, "k", []byte("v1"))).To(Succeed())
		_, err := cached.Get(ctx, "k")
		Expect(err).ToNot(HaveOccurred())

		Expect(cached.Put(ctx, "k", []byte("v2"))).To(Succeed())
		v, err := cached.Get(ctx, "k")
		Expect(err).ToNot(HaveOccurred())
		Expect(v).To(Equal([]byte("v2")))
	})

	It("should invalidate on delete", func() {
		Expect(cached.Put(ctx, "k", []byte("v1"))).To(Succeed())
		_, err := cached.Get(ctx, "k")
		Expect(err).ToNot(HaveOccurred())

		Expect(cached.Delete(ctx, "k")).To(Succeed())
		_, err = cached.Get(ctx, "k")
		Expect(errors.IsKind(err, errors.KindNotFound)).To(BeTrue())
	})

	It("should invalidate on compare-and-swap", func() {
		Expect(cached.Put(ctx, "k", []byte("v1"))).To(Succeed())
		_, err := cached.Get(ctx, "k")
		Expect(err).ToNot(HaveOccurred())

		ok, err := cached.CompareAndSwap(ctx, "k", []byte("v1"), []byte("v2"))
		Expect(err).ToNot(HaveOccurred())
		Expect(ok).To(BeTrue())
		v, err := cached.Get(ctx, "k")
		Expect(err).ToNot(HaveOccurred())
		Expect(v).To(Equal([]byte("v2")))
	})
})
