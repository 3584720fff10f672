// Package realtime serves the provisioning page and a single-peer websocket
// channel for live commands and status pushes.
package realtime

import (
	"sync"

	"github.com/go-errors/errors"
	"github.com/gorilla/websocket"
)

// Peer is the writable end of an attached websocket session.
type Peer interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// ReceiveCallback is called with the payload of every text frame.
type ReceiveCallback func(payload []byte)

type ChannelConfig struct {
	OnReceive ReceiveCallback
	Logger    Logger
}

// Channel tracks the most recently attached peer. Attaching a new peer
// replaces the previous one without notifying it.
type Channel struct {
	log       Logger
	onReceive ReceiveCallback

	mu      sync.Mutex
	peer    Peer
	stopped bool
}

func NewChannel(config *ChannelConfig) *Channel {
	c := &Channel{
		onReceive: config.OnReceive,
	}

	if config.Logger != nil {
		c.log = config.Logger
	} else {
		c.log = noopLogger{}
	}

	return c
}

func (c *Channel) Attach(peer Peer) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return ErrStopped
	}

	if c.peer != nil {
		c.log.Debugf("Replacing attached peer")
	}

	c.peer = peer

	return nil
}

// Detach forgets the peer if it still is the attached one.
func (c *Channel) Detach(peer Peer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.peer == peer {
		c.peer = nil
	}
}

// Attached reports whether a peer is attached.
func (c *Channel) Attached() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.peer != nil
}

// HandleFrame passes text frames on to the receive callback and drops
// everything else.
func (c *Channel) HandleFrame(messageType int, payload []byte) {
	if messageType != websocket.TextMessage {
		c.log.Debugf("Dropping frame of type %v", messageType)
		return
	}

	c.mu.Lock()
	stopped := c.stopped
	c.mu.Unlock()

	if stopped || c.onReceive == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			c.log.Errorf("Receive callback panicked: %v", r)
		}
	}()

	c.onReceive(payload)
}

// Send writes data as a text frame to the attached peer.
func (c *Channel) Send(data []byte) error {
	c.mu.Lock()
	stopped, current := c.stopped, c.peer
	c.mu.Unlock()

	if stopped {
		return ErrStopped
	}

	if current == nil {
		return ErrNoPeer
	}

	err := current.WriteMessage(websocket.TextMessage, data)
	if err != nil {
		return errors.Errorf("could not send frame: %w", err)
	}

	return nil
}

// Stop closes the attached peer and rejects further sends.
func (c *Channel) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}

	c.stopped = true

	if c.peer != nil {
		err := c.peer.Close()
		if err != nil {
			c.log.Debugf("Could not close peer: %v", err)
		}
		c.peer = nil
	}
}
