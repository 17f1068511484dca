// Package tools routes model-issued function calls to registered handlers.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/antoniostano/switchboard/internal/protocol"
)

// Handler executes one function call. Handlers receive only their decoded
// arguments and must not touch session state; they may perform their own
// network I/O and are responsible for their own timeouts.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Definition describes a function in the model's tool catalogue.
type Definition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Registry is a static name → handler table. Dispatch never faults: unknown
// names, argument parse failures, and handler errors all come back as
// structured error payloads so the conversation can continue.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	defs     []Definition
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func (r *Registry) Register(def Definition, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[def.Name]; !exists {
		r.defs = append(r.defs, def)
	}
	r.handlers[def.Name] = h
}

// Catalogue returns the registered functions as realtime tool declarations.
func (r *Registry) Catalogue() []protocol.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]protocol.Tool, 0, len(r.defs))
	for _, d := range r.defs {
		params := d.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, protocol.Tool{
			Type:        "function",
			Name:        d.Name,
			Description: d.Description,
			Parameters:  params,
		})
	}
	return out
}

// Dispatch runs the named handler and returns a JSON result payload. The
// returned string is always valid JSON, error payloads included.
func (r *Registry) Dispatch(ctx context.Context, name, argumentsJSON string) string {
	r.mu.RLock()
	h, ok := r.handlers[name]
	r.mu.RUnlock()
	if !ok {
		return errorResult(fmt.Sprintf("unknown function %q", name))
	}

	args := map[string]any{}
	if argumentsJSON != "" {
		if err := json.Unmarshal([]byte(argumentsJSON), &args); err != nil {
			return errorResult(fmt.Sprintf("invalid arguments: %v", err))
		}
	}

	result, err := h(ctx, args)
	if err != nil {
		return errorResult(err.Error())
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return errorResult(fmt.Sprintf("unserializable result: %v", err))
	}
	return string(raw)
}

func errorResult(detail string) string {
	raw, err := json.Marshal(map[string]string{"error": detail})
	if err != nil {
		return `{"error":"internal dispatch failure"}`
	}
	return string(raw)
}

// RegisterBuiltins installs the handlers every deployment carries.
func RegisterBuiltins(r *Registry) {
	r.Register(Definition{
		Name:        "current_time",
		Description: "Returns the current date and time in UTC.",
	}, func(ctx context.Context, args map[string]any) (any, error) {
		return map[string]string{"time": time.Now().UTC().Format(time.RFC3339)}, nil
	})
}
