// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package gateway exposes the ERP client core to orchestrators: a tool
// registry populated at startup, an RBAC decision interface, and the HTTP
// surface tools are invoked through. Screens are plain registry entries;
// no runtime code generation is involved.
package gateway

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"axonflow/erplink/shared/logger"
)

// Capability classifies what a tool does to remote state.
type Capability string

const (
	// CapabilityQuery marks read-only tools.
	CapabilityQuery Capability = "query"
	// CapabilityExecute marks tools that create or mutate remote records.
	CapabilityExecute Capability = "execute"
)

// Handler runs one tool invocation. Argument schema validation is the
// adapter layer's concern; handlers receive decoded JSON arguments.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Tool is one named, capability-typed operation.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Capability  Capability     `json:"capability"`
	Schema      map[string]any `json:"schema,omitempty"`
	Handler     Handler        `json:"-"`
}

// Registry maps tool names to handlers. Populated at startup, read-shared
// afterwards; thread-safe for concurrent access.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
	log   *logger.Logger
}

// NewRegistry creates an empty tool registry.
func NewRegistry(log *logger.Logger) *Registry {
	if log == nil {
		log = logger.New("gateway-registry", "INFO")
	}
	return &Registry{tools: make(map[string]*Tool), log: log}
}

// Register adds a tool. Names are unique; re-registering is an error.
func (r *Registry) Register(t *Tool) error {
	if t == nil || t.Name == "" {
		return fmt.Errorf("tool requires a name")
	}
	if t.Handler == nil {
		return fmt.Errorf("tool %q requires a handler", t.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name]; exists {
		return fmt.Errorf("tool %q is already registered", t.Name)
	}
	r.tools[t.Name] = t
	r.log.Debug("", "tool registered", map[string]any{"tool": t.Name, "capability": string(t.Capability)})
	return nil
}

// Get returns the tool with the given name.
func (r *Registry) Get(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns all tools sorted by name.
func (r *Registry) List() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
