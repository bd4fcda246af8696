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

package errors

import (
	stderrors "errors"
	"fmt"
	"io"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Kinds", func() {
	It("should carry the kind through constructors", func() {
		Expect(KindOf(Validation("bad name"))).To(Equal(KindValidation))
		Expect(KindOf(InvalidState("already running"))).To(Equal(KindInvalidState))
		Expect(KindOf(NotFound("mission %q", "m1"))).To(Equal(KindNotFound))
		Expect(KindOf(CapacityExhausted("no vehicles"))).To(Equal(KindCapacityExhausted))
	})

	It("should carry the kind through wrapping", func() {
		wrapped := Transient(io.ErrUnexpectedEOF, "link drop")
		Expect(KindOf(wrapped)).To(Equal(KindTransient))
		Expect(stderrors.Is(wrapped, io.ErrUnexpectedEOF)).To(BeTrue())
	})

	It("should surface the innermost taxonomy kind through fmt wrapping", func() {
		inner := NotFound("uav %q", "uav-1")
		outer := fmt.Errorf("loading vehicle: %w", inner)
		Expect(IsKind(outer, KindNotFound)).To(BeTrue())
	})

	It("should default foreign errors to transient", func() {
		Expect(KindOf(io.EOF)).To(Equal(KindTransient))
	})

	It("should render the cause in the message", func() {
		err := Fatal(io.EOF, "decoding mission %q", "m1")
		Expect(err.Error()).To(ContainSubstring("Fatal"))
		Expect(err.Error()).To(ContainSubstring(`decoding mission "m1"`))
		Expect(err.Error()).To(ContainSubstring("EOF"))
	})
})

var _ = Describe("Retryable", func() {
	It("should allow transient and capacity failures", func() {
		Expect(Retryable(Transient(nil, "link drop"))).To(BeTrue())
		Expect(Retryable(CapacityExhausted("no vehicles"))).To(BeTrue())
		Expect(Retryable(io.EOF)).To(BeTrue())
	})
	It("should refuse deterministic failures", func() {
		Expect(Retryable(Validation("bad"))).To(BeFalse())
		Expect(Retryable(NotFound("gone"))).To(BeFalse())
		Expect(Retryable(InvalidState("busy"))).To(BeFalse())
		Expect(Retryable(Fatal(nil, "corrupt"))).To(BeFalse())
	})
	It("should never retry the absence of an error", func() {
		Expect(IsKind(nil, KindTransient)).To(BeFalse())
	})
})
