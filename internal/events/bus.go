package events

import (
	"sync"

	"go.uber.org/zap"
)

// Handler receives events. Handlers must not block.
type Handler interface {
	Handle(e Event)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(e Event)

// Handle calls f(e).
func (f HandlerFunc) Handle(e Event) { f(e) }

// Publisher is what emitters depend on.
type Publisher interface {
	Publish(e Event)
}

// Bus delivers each published event to every subscriber, in subscription
// order, on the publisher's goroutine.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
	logger   *zap.Logger
}

// NewBus creates an empty bus.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{logger: logger}
}

// Subscribe adds a handler.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish delivers e to all handlers. A panicking handler is logged and
// does not stop delivery to the rest.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, h := range handlers {
		b.deliver(h, e)
	}
}

func (b *Bus) deliver(h Handler, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("kind", string(e.Kind())),
				zap.Any("panic", r),
			)
		}
	}()
	h.Handle(e)
}

// Discard is a Publisher that drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Event) {}
