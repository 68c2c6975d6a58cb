package cdp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// ErrNotInitialized is returned when a command is issued before a
// transport has been attached.
var ErrNotInitialized = errors.New("cdp: transport not attached")

// EventHandler receives a typed protocol event payload.
type EventHandler func(ev any)

// Facade is a thin request/response wrapper over a Transport. It owns
// no retry logic; retries are the caller's concern.
type Facade struct {
	mu        sync.RWMutex
	transport Transport
	handlers  map[string]map[int64]EventHandler
	nextID    atomic.Int64
}

func NewFacade() *Facade {
	return &Facade{handlers: make(map[string]map[int64]EventHandler)}
}

// Attach binds the transport and starts routing its events to
// subscribers. Subscriptions made before Attach are preserved.
func (f *Facade) Attach(t Transport) {
	f.mu.Lock()
	f.transport = t
	f.mu.Unlock()
	t.OnEvent(f.dispatch)
}

// SendCommand issues a protocol command, decoding the result into
// result when non-nil.
func (f *Facade) SendCommand(ctx context.Context, method string, params, result any) error {
	f.mu.RLock()
	t := f.transport
	f.mu.RUnlock()
	if t == nil {
		return ErrNotInitialized
	}
	if err := t.Send(ctx, method, params, result); err != nil {
		return fmt.Errorf("cdp: %s: %w", method, err)
	}
	return nil
}

// EnableDomain turns on event delivery for the named protocol domain.
func (f *Facade) EnableDomain(ctx context.Context, domain string) error {
	return f.SendCommand(ctx, domain+".enable", nil, nil)
}

// DisableDomain turns off event delivery for the named protocol domain.
func (f *Facade) DisableDomain(ctx context.Context, domain string) error {
	return f.SendCommand(ctx, domain+".disable", nil, nil)
}

// Subscribe registers a handler for the named event and returns a
// subscription id usable with Unsubscribe.
func (f *Facade) Subscribe(event string, h EventHandler) int64 {
	id := f.nextID.Add(1)
	f.mu.Lock()
	if f.handlers[event] == nil {
		f.handlers[event] = make(map[int64]EventHandler)
	}
	f.handlers[event][id] = h
	f.mu.Unlock()
	return id
}

// Unsubscribe removes one handler registration for the named event.
func (f *Facade) Unsubscribe(event string, id int64) {
	f.mu.Lock()
	if m, ok := f.handlers[event]; ok {
		delete(m, id)
		if len(m) == 0 {
			delete(f.handlers, event)
		}
	}
	f.mu.Unlock()
}

// UnsubscribeAll removes every handler registration.
func (f *Facade) UnsubscribeAll() {
	f.mu.Lock()
	f.handlers = make(map[string]map[int64]EventHandler)
	f.mu.Unlock()
}

func (f *Facade) dispatch(method string, ev any) {
	f.mu.RLock()
	registered := f.handlers[method]
	handlers := make([]EventHandler, 0, len(registered))
	for _, h := range registered {
		handlers = append(handlers, h)
	}
	f.mu.RUnlock()

	for _, h := range handlers {
		h(ev)
	}
}
