package network

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("retryPolicy", func() {
	It("allows up to max attempts", func() {
		policy := newRetryPolicy(2, 0)

		_, ok := policy.next()
		Expect(ok).To(BeTrue())
		_, ok = policy.next()
		Expect(ok).To(BeTrue())
		_, ok = policy.next()
		Expect(ok).To(BeFalse())
		Expect(policy.attempts).To(Equal(2))
	})

	It("starts over after a reset", func() {
		policy := newRetryPolicy(1, 0)

		_, ok := policy.next()
		Expect(ok).To(BeTrue())
		_, ok = policy.next()
		Expect(ok).To(BeFalse())

		policy.reset()

		_, ok = policy.next()
		Expect(ok).To(BeTrue())
	})

	It("never retries with a zero max", func() {
		policy := newRetryPolicy(0, 0)

		_, ok := policy.next()
		Expect(ok).To(BeFalse())
	})

	It("reports the configured delay", func() {
		policy := newRetryPolicy(3, 5*time.Millisecond)

		delay, ok := policy.next()
		Expect(ok).To(BeTrue())
		Expect(delay).To(Equal(5 * time.Millisecond))
	})
})
