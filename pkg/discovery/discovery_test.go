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

package discovery

import (
	"context"
	"time"

	"github.com/shookYu/FalconMind/pkg/errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("StaticRegistry", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	It("should parse and sort the peer table", func() {
		reg, err := ParseStatic([]string{"n2=http://10.0.0.2:8080", "n1=http://10.0.0.1:8080"})
		Expect(err).ToNot(HaveOccurred())

		nodes, err := reg.Nodes(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(nodes).To(HaveLen(2))
		Expect(nodes[0].ID).To(Equal("n1"))
		Expect(nodes[1].Address).To(Equal("http://10.0.0.2:8080"))
	})

	It("should reject a malformed pair", func() {
		_, err := ParseStatic([]string{"n1-http://10.0.0.1:8080"})
		Expect(errors.IsKind(err, errors.KindValidation)).To(BeTrue())

		_, err = ParseStatic([]string{"=http://10.0.0.1:8080"})
		Expect(errors.IsKind(err, errors.KindValidation)).To(BeTrue())
	})

	It("should ignore registration calls", func() {
		reg, err := ParseStatic([]string{"n1=http://10.0.0.1:8080"})
		Expect(err).ToNot(HaveOccurred())
		Expect(reg.Register(ctx, NodeInfo{ID: "n9", Address: "http://x"})).To(Succeed())
		Expect(reg.Deregister(ctx, "n1")).To(Succeed())

		nodes, err := reg.Nodes(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(nodes).To(HaveLen(1))
	})

	It("should emit the table once on watch", func() {
		reg, err := ParseStatic([]string{"n1=http://10.0.0.1:8080"})
		Expect(err).ToNot(HaveOccurred())

		watchCtx, cancel := context.WithCancel(ctx)
		ch := reg.Watch(watchCtx)
		Eventually(ch).Should(Receive(HaveLen(1)))
		cancel()
		Eventually(ch).Should(BeClosed())
	})
})

var _ = Describe("RegistryResolver", func() {
	It("should resolve a known peer", func() {
		reg, err := ParseStatic([]string{"n1=http://10.0.0.1:8080"})
		Expect(err).ToNot(HaveOccurred())

		addr, err := NewResolver(reg).Resolve("n1")
		Expect(err).ToNot(HaveOccurred())
		Expect(addr).To(Equal("http://10.0.0.1:8080"))
	})
	It("should report an unknown peer", func() {
		reg, err := ParseStatic(nil)
		Expect(err).ToNot(HaveOccurred())
		_, err = NewResolver(reg).Resolve("ghost")
		Expect(errors.IsKind(err, errors.KindNotFound)).To(BeTrue())
	})
})

var _ = Describe("MemberTable", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	It("should require id and address", func() {
		table := NewMemberTable(time.Minute)
		err := table.Register(ctx, NodeInfo{ID: "n1"})
		Expect(errors.IsKind(err, errors.KindValidation)).To(BeTrue())
	})

	It("should list registered nodes sorted with a last-seen stamp", func() {
		table := NewMemberTable(time.Minute)
		Expect(table.Register(ctx, NodeInfo{ID: "n2", Address: "http://b"})).To(Succeed())
		Expect(table.Register(ctx, NodeInfo{ID: "n1", Address: "http://a"})).To(Succeed())

		nodes, err := table.Nodes(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(nodes).To(HaveLen(2))
		Expect(nodes[0].ID).To(Equal("n1"))
		Expect(nodes[1].LastSeen).ToNot(BeZero())
	})

	It("should drop a deregistered node", func() {
		table := NewMemberTable(time.Minute)
		Expect(table.Register(ctx, NodeInfo{ID: "n1", Address: "http://a"})).To(Succeed())
		Expect(table.Deregister(ctx, "n1")).To(Succeed())
		nodes, err := table.Nodes(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(nodes).To(BeEmpty())
	})

	It("should expire a node that stops renewing", func() {
		table := NewMemberTable(30 * time.Millisecond)
		Expect(table.Register(ctx, NodeInfo{ID: "n1", Address: "http://a"})).To(Succeed())

		Eventually(func() ([]NodeInfo, error) {
			return table.Nodes(ctx)
		}).WithTimeout(time.Second).Should(BeEmpty())
	})

	It("should keep a renewing node alive", func() {
		table := NewMemberTable(50 * time.Millisecond)
		Expect(table.Register(ctx, NodeInfo{ID: "n1", Address: "http://a"})).To(Succeed())
		for i := 0; i < 3; i++ {
			time.Sleep(25 * time.Millisecond)
			Expect(table.Register(ctx, NodeInfo{ID: "n1", Address: "http://a"})).To(Succeed())
		}
		nodes, err := table.Nodes(ctx)
		Expect(err).ToNot(HaveOccurred())
		Expect(nodes).To(HaveLen(1))
	})
})
