package network

import "github.com/go-errors/errors"

var (
	// ErrNotInitialized is returned by operations called before Init.
	ErrNotInitialized = errors.New("network manager is not initialized")

	ErrAlreadyInitialized = errors.New("network manager is already initialized")

	// ErrInvalidCredentials is returned for credentials the radio cannot hold.
	ErrInvalidCredentials = errors.New("invalid wifi credentials")

	ErrClosed = errors.New("network manager is closed")
)
