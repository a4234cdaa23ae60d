package websocket

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Handler is the interface for WebSocket message handlers
type Handler interface {
	// Handle processes a WebSocket message and returns a response
	Handle(ctx context.Context, msg *Message) (*Message, error)
}

// HandlerFunc is a function type that implements Handler
type HandlerFunc func(ctx context.Context, msg *Message) (*Message, error)

// Handle implements the Handler interface
func (f HandlerFunc) Handle(ctx context.Context, msg *Message) (*Message, error) {
	return f(ctx, msg)
}

// Dispatcher routes messages to appropriate handlers based on action.
// Handlers are registered during startup; Dispatch may then be called from
// many connection goroutines concurrently.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewDispatcher creates a new message dispatcher
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		handlers: make(map[string]Handler),
	}
}

// Register registers a handler for an action
func (d *Dispatcher) Register(action string, handler Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[action] = handler
}

// RegisterFunc registers a handler function for an action
func (d *Dispatcher) RegisterFunc(action string, handler HandlerFunc) {
	d.Register(action, handler)
}

// Dispatch routes a message to the appropriate handler. A panicking handler
// must not take down the connection's read loop, so panics are converted to
// error responses.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *Message) (resp *Message, err error) {
	d.mu.RLock()
	handler, ok := d.handlers[msg.Action]
	d.mu.RUnlock()
	if !ok {
		return NewError(msg.ID, msg.Action, ErrorCodeUnknownAction,
			"Unknown action: "+msg.Action, nil)
	}

	defer func() {
		if r := recover(); r != nil {
			resp, err = NewError(msg.ID, msg.Action, ErrorCodeInternalError,
				fmt.Sprintf("handler panic: %v", r), nil)
		}
	}()

	return handler.Handle(ctx, msg)
}

// HasHandler returns true if a handler is registered for the action
func (d *Dispatcher) HasHandler(action string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.handlers[action]
	return ok
}

// Actions returns the registered action names, sorted.
func (d *Dispatcher) Actions() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	actions := make([]string, 0, len(d.handlers))
	for action := range d.handlers {
		actions = append(actions, action)
	}
	sort.Strings(actions)
	return actions
}
