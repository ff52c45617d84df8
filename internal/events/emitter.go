// Package events delivers registry events to in-process subscribers. The
// rabbit publisher, the mongo audit log, and tests all attach here.
package events

import (
	"sync"

	"github.com/ticketforge/ticket-registry/internal/domain"
	"github.com/ticketforge/ticket-registry/internal/observability"
)

// Handler is a callback invoked for matching events. Handlers run
// synchronously on the emitting goroutine while the registry still holds its
// lock, which keeps delivery order identical to commit order; a handler must
// not call back into the registry.
type Handler func(domain.Event)

type Emitter struct {
	mu       sync.RWMutex
	handlers map[domain.EventType][]Handler
	all      []Handler
	logger   observability.Logger
}

func NewEmitter(logger observability.Logger) *Emitter {
	return &Emitter{
		handlers: make(map[domain.EventType][]Handler),
		logger:   logger,
	}
}

// Subscribe registers h for one event type.
func (e *Emitter) Subscribe(typ domain.EventType, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[typ] = append(e.handlers[typ], h)
}

// SubscribeAll registers h for every event type.
func (e *Emitter) SubscribeAll(h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.all = append(e.all, h)
}

// Emit delivers ev to all matching subscribers. A panicking handler is
// logged and skipped; subscribers cannot fail a committed operation.
func (e *Emitter) Emit(ev domain.Event) {
	e.mu.RLock()
	handlers := append(append([]Handler(nil), e.all...), e.handlers[ev.Type]...)
	e.mu.RUnlock()
	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.logger.WithField("event_type", string(ev.Type)).Error("event handler panicked", r)
				}
			}()
			h(ev)
		}()
	}
}
