package network

import "golang.org/x/sync/semaphore"

// Gate is a binary token guarding the radio's single scan slot.
type Gate struct {
	sem *semaphore.Weighted
}

// NewGate returns an available gate.
func NewGate() *Gate {
	return &Gate{
		sem: semaphore.NewWeighted(1),
	}
}

// TryAcquire takes the gate without blocking and reports whether it succeeded.
func (g *Gate) TryAcquire() bool {
	return g.sem.TryAcquire(1)
}

// Release gives the gate back. It panics if the gate is not taken.
func (g *Gate) Release() {
	g.sem.Release(1)
}

// Available reports whether the gate could be taken right now.
func (g *Gate) Available() bool {
	if !g.sem.TryAcquire(1) {
		return false
	}

	g.sem.Release(1)

	return true
}
