// Copyright 2025 Joseph Cumines
//
// Tool registry and provider registration

package server

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Provider groups related tools. Tools returns a static table; each entry is
// registered on its own.
type Provider interface {
	Tools() []Tool
}

// ProviderFunc adapts a function to a Provider.
type ProviderFunc func() []Tool

// Tools calls f.
func (f ProviderFunc) Tools() []Tool { return f() }

// Registry holds registered tools by name, keeping registration order.
type Registry struct {
	tools map[string]*Tool
	order []string
	mu    sync.RWMutex
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds tool, rejecting entries that could not be listed or called.
func (r *Registry) Register(tool Tool) error {
	if tool.Name == "" {
		return errors.New("tool name is empty")
	}
	if tool.Handler == nil {
		return fmt.Errorf("tool %s: handler is nil", tool.Name)
	}
	if err := checkSchema(tool.InputSchema); err != nil {
		return fmt.Errorf("tool %s: %w", tool.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[tool.Name]; exists {
		return fmt.Errorf("tool %s: already registered", tool.Name)
	}
	t := tool
	r.tools[t.Name] = &t
	r.order = append(r.order, t.Name)
	return nil
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns all tools in registration order.
func (r *Registry) List() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// checkSchema accepts a nil schema or an object schema whose properties and
// required list are well formed.
func checkSchema(schema map[string]any) error {
	if schema == nil {
		return nil
	}
	if t, ok := schema["type"]; ok && t != "object" {
		return fmt.Errorf("input schema type must be object, got %v", t)
	}
	props := getSchemaProperties(schema)
	if raw, ok := schema["properties"]; ok {
		m, ok := raw.(map[string]any)
		if !ok {
			return fmt.Errorf("input schema properties must be an object, got %T", raw)
		}
		for name, v := range m {
			if _, ok := v.(map[string]any); !ok {
				return fmt.Errorf("input schema property %q must be an object, got %T", name, v)
			}
		}
	}
	for _, field := range getRequiredFields(schema) {
		if _, ok := props[field]; !ok {
			return fmt.Errorf("required field %q is not a declared property", field)
		}
	}
	return nil
}

// RegisterProviders registers every entry of every provider, in order. An entry
// that fails to register, or a provider that panics while building its table,
// is logged and skipped. It returns the number of tools registered.
func RegisterProviders(r *Registry, logger *slog.Logger, providers ...Provider) int {
	if logger == nil {
		logger = slog.Default()
	}
	registered := 0
	for i, p := range providers {
		for _, tool := range providerTools(p, i, logger) {
			if err := registerEntry(r, tool); err != nil {
				logger.Error("Failed to register tool", "tool", tool.Name, "error", err)
				continue
			}
			registered++
		}
	}
	return registered
}

func providerTools(p Provider, index int, logger *slog.Logger) (tools []Tool) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("Failed to build provider tools", "provider", index, "panic", rec)
			tools = nil
		}
	}()
	return p.Tools()
}

func registerEntry(r *Registry, tool Tool) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return r.Register(tool)
}
