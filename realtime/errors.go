package realtime

import "github.com/go-errors/errors"

var (
	// ErrNoPeer is returned by Send when no peer is attached.
	ErrNoPeer = errors.New("no websocket peer attached")

	// ErrStopped is returned once the channel has been stopped.
	ErrStopped = errors.New("realtime channel is stopped")
)
