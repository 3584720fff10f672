package network

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Gate", func() {
	It("hands out a single token", func() {
		gate := NewGate()

		Expect(gate.Available()).To(BeTrue())
		Expect(gate.TryAcquire()).To(BeTrue())
		Expect(gate.TryAcquire()).To(BeFalse())
		Expect(gate.Available()).To(BeFalse())

		gate.Release()

		Expect(gate.Available()).To(BeTrue())
		Expect(gate.TryAcquire()).To(BeTrue())
	})
})
