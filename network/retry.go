package network

import (
	"time"

	"github.com/cenkalti/backoff"
)

const DefaultMaxRetries = 5

// retryPolicy counts automatic reconnect attempts after disconnects. It is
// reset by every explicit connect.
type retryPolicy struct {
	max      int
	backOff  backoff.BackOff
	attempts int
}

func newRetryPolicy(max int, delay time.Duration) *retryPolicy {
	if max < 0 {
		max = 0
	}

	return &retryPolicy{
		max:     max,
		backOff: backoff.WithMaxRetries(backoff.NewConstantBackOff(delay), uint64(max)),
	}
}

func (p *retryPolicy) reset() {
	p.attempts = 0
	p.backOff.Reset()
}

// next reports whether another attempt is allowed and how long to wait
// before it.
func (p *retryPolicy) next() (time.Duration, bool) {
	if p.attempts >= p.max {
		return 0, false
	}

	delay := p.backOff.NextBackOff()
	if delay == backoff.Stop {
		return 0, false
	}

	p.attempts++

	return delay, true
}
