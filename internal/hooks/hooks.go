// Package hooks dispatches in-process lifecycle events: webhook outcomes,
// pending-ledger transitions and server start/stop.
package hooks

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/soyeahso/chatpulse/internal/logging"
)

// Event names for the hook system.
const (
	EventWebhookProcessed  = "webhook.processed"
	EventWebhookFailed     = "webhook.failed"
	EventPendingOpened     = "pending.opened"
	EventPendingSuperseded = "pending.superseded"
	EventResponseRecorded  = "response.recorded"
	EventServerStart       = "server.start"
	EventServerStop        = "server.stop"
)

// AllEvents lists all known hook event names.
var AllEvents = []string{
	EventWebhookProcessed,
	EventWebhookFailed,
	EventPendingOpened,
	EventPendingSuperseded,
	EventResponseRecorded,
	EventServerStart,
	EventServerStop,
}

// wildcard handlers receive every event.
const wildcard = "*"

// Payload carries event data to hook handlers.
type Payload struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data,omitempty"`
	At    time.Time      `json:"at"`
}

// Handler is a function that handles a hook event.
// Returning an error logs the failure but does not stop processing.
type Handler func(ctx context.Context, p Payload) error

// Manager manages hook registrations and dispatches events.
type Manager struct {
	mu       sync.RWMutex
	handlers map[string][]namedHandler
	now      func() time.Time
	log      *logging.Logger
}

type namedHandler struct {
	name    string
	handler Handler
}

// NewManager creates a hook manager.
func NewManager(log *logging.Logger) *Manager {
	return &Manager{
		handlers: make(map[string][]namedHandler),
		now:      time.Now,
		log:      log.Sub("hooks"),
	}
}

// On registers a handler for the given event.
// The name identifies the handler for logging and Off.
func (m *Manager) On(event, name string, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[event] = append(m.handlers[event], namedHandler{name: name, handler: handler})
	m.log.Debug().Str("event", event).Str("handler", name).Msg("hook registered")
}

// OnAll registers a handler that receives every event, after the handlers
// registered for that specific event.
func (m *Manager) OnAll(name string, handler Handler) {
	m.On(wildcard, name, handler)
}

// Off removes all handlers with the given name from the event.
func (m *Manager) Off(event, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	handlers := m.handlers[event]
	filtered := make([]namedHandler, 0, len(handlers))
	for _, h := range handlers {
		if h.name != name {
			filtered = append(filtered, h)
		}
	}
	m.handlers[event] = filtered
}

// OffAll removes a wildcard handler.
func (m *Manager) OffAll(name string) {
	m.Off(wildcard, name)
}

func (m *Manager) snapshot(event string) []namedHandler {
	m.mu.RLock()
	defer m.mu.RUnlock()
	specific, all := m.handlers[event], m.handlers[wildcard]
	out := make([]namedHandler, 0, len(specific)+len(all))
	out = append(out, specific...)
	return append(out, all...)
}

// Emit dispatches an event to all registered handlers synchronously, in
// registration order. Errors are logged and do not stop later handlers.
// A nil manager is a no-op.
func (m *Manager) Emit(ctx context.Context, event string, data map[string]any) {
	if m == nil {
		return
	}
	handlers := m.snapshot(event)
	if len(handlers) == 0 {
		return
	}

	payload := Payload{Event: event, Data: data, At: m.now().UTC()}
	for _, h := range handlers {
		if err := h.handler(ctx, payload); err != nil {
			m.log.Warn().
				Err(err).
				Str("event", event).
				Str("handler", h.name).
				Msg("hook handler error")
		}
	}
}

// EmitAsync dispatches an event to all registered handlers concurrently.
// Returns immediately; handler errors are logged.
func (m *Manager) EmitAsync(ctx context.Context, event string, data map[string]any) {
	if m == nil {
		return
	}
	handlers := m.snapshot(event)
	if len(handlers) == 0 {
		return
	}

	payload := Payload{Event: event, Data: data, At: m.now().UTC()}
	for _, h := range handlers {
		go func(h namedHandler) {
			if err := h.handler(ctx, payload); err != nil {
				m.log.Warn().
					Err(err).
					Str("event", event).
					Str("handler", h.name).
					Msg("async hook handler error")
			}
		}(h)
	}
}

// Count returns the number of handlers registered for an event.
func (m *Manager) Count(event string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.handlers[event])
}

// Events returns the sorted events that have at least one handler.
func (m *Manager) Events() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]string, 0, len(m.handlers))
	for event, handlers := range m.handlers {
		if len(handlers) > 0 && event != wildcard {
			events = append(events, event)
		}
	}
	sort.Strings(events)
	return events
}
