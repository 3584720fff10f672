package event

import (
	"context"
	"sync"
)

type Config struct {
	Handler Handler
	Logger  Logger
}

// Bridge queues raw notifications without blocking the driver and feeds them
// serially to its handler.
type Bridge struct {
	log     Logger
	handler Handler

	mu      sync.Mutex
	queue   []Notification
	pending chan struct{}
}

func NewBridge(config *Config) *Bridge {
	b := &Bridge{
		handler: config.Handler,
		pending: make(chan struct{}, 1),
	}

	if config.Logger != nil {
		b.log = config.Logger
	} else {
		b.log = noopLogger{}
	}

	return b
}

// Deliver enqueues a notification. It is safe to call from any goroutine and
// never blocks.
func (b *Bridge) Deliver(n Notification) {
	b.mu.Lock()
	b.queue = append(b.queue, n)
	b.mu.Unlock()

	select {
	case b.pending <- struct{}{}:
	default:
	}
}

// Run dispatches queued notifications until the context is done.
func (b *Bridge) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.pending:
		}

		for {
			n, ok := b.next()
			if !ok {
				break
			}

			b.dispatch(n)

			if ctx.Err() != nil {
				return
			}
		}
	}
}

func (b *Bridge) next() (Notification, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.queue) == 0 {
		return Notification{}, false
	}

	n := b.queue[0]
	b.queue[0] = Notification{}
	b.queue = b.queue[1:]

	return n, true
}

func (b *Bridge) dispatch(n Notification) {
	e, ok := Translate(n)
	if !ok {
		b.log.Debugf("Dropping unknown notification %v/%v", n.Base, n.ID)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			b.log.Errorf("Handler panicked on %v: %v", e.Type, r)
		}
	}()

	b.log.Debugf("Dispatching %v", e.Type)

	b.handler.HandleEvent(e)
}
