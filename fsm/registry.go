// Package fsm is the conversation state machine. Each state owns one
// transition function; the Registry is the closed table that maps states to
// those functions and is validated once at startup.
package fsm

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/goliatone/go-claimbot/core"
)

// ExternalContext carries request facts that are not part of the session.
type ExternalContext struct {
	SenderID      string
	CorrelationID string
	ReceivedAt    time.Time
}

type TransitionInput struct {
	State   core.State
	Text    string
	Data    map[string]any
	Message core.InboundMessage
	Context ExternalContext
}

// HandlerFunc is the transition function of one state. It never returns an
// error: expected failures are expressed as a HandlerResult.
type HandlerFunc func(ctx context.Context, in TransitionInput) core.HandlerResult

type Registry struct {
	handlers map[core.State]HandlerFunc
}

// NewRegistry copies handlers into a closed table and validates it.
func NewRegistry(handlers map[core.State]HandlerFunc) (*Registry, error) {
	registry := &Registry{handlers: make(map[core.State]HandlerFunc, len(handlers))}
	for state, handler := range handlers {
		registry.handlers[state] = handler
	}
	if err := registry.Validate(); err != nil {
		return nil, err
	}
	return registry, nil
}

// MustRegistry is NewRegistry for process startup; it panics on an
// incomplete table.
func MustRegistry(handlers map[core.State]HandlerFunc) *Registry {
	registry, err := NewRegistry(handlers)
	if err != nil {
		panic(err)
	}
	return registry
}

// Validate reports states without a handler and handlers registered for
// states outside the closed enum.
func (r *Registry) Validate() error {
	if r == nil {
		return core.ConfigurationError("fsm: registry is nil", nil)
	}
	missing := make([]string, 0)
	for _, state := range core.States() {
		if handler, ok := r.handlers[state]; !ok || handler == nil {
			missing = append(missing, string(state))
		}
	}
	unknown := make([]string, 0)
	for state := range r.handlers {
		if !state.Valid() {
			unknown = append(unknown, string(state))
		}
	}
	if len(missing) == 0 && len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return core.ConfigurationError(
		fmt.Sprintf("fsm: registry incomplete (missing: %s; unknown: %s)",
			strings.Join(missing, ","), strings.Join(unknown, ",")),
		map[string]any{"missing": missing, "unknown": unknown},
	)
}

func (r *Registry) Lookup(state core.State) (HandlerFunc, error) {
	if r == nil {
		return nil, core.ConfigurationError("fsm: registry is nil", nil)
	}
	handler, ok := r.handlers[state]
	if !ok || handler == nil {
		return nil, core.ConfigurationError(
			fmt.Sprintf("fsm: no handler registered for state %q", state),
			map[string]any{"state": string(state)},
		)
	}
	return handler, nil
}

// States lists the registered states in enum order.
func (r *Registry) States() []core.State {
	if r == nil {
		return nil
	}
	out := make([]core.State, 0, len(r.handlers))
	for _, state := range core.States() {
		if _, ok := r.handlers[state]; ok {
			out = append(out, state)
		}
	}
	return out
}
