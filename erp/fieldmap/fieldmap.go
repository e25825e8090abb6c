// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package fieldmap translates caller-facing friendly field names to remote
// ERP field identifiers per tenant, and back for responses. Maps are
// immutable after load; reloads swap a new snapshot without disturbing
// readers holding the previous one.
package fieldmap

import (
	"fmt"
	"os"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// Target describes where a friendly field lives on the remote side.
// Exactly one addressing style applies: a plain or dotted remote name, or a
// custom-block entry carrying an explicit type tag.
type Target struct {
	Remote string        `yaml:"remote"`
	Custom *CustomTarget `yaml:"custom"`
}

// CustomTarget addresses a tenant-defined extension field under the
// reserved custom block.
type CustomTarget struct {
	Entity string `yaml:"entity"`
	Field  string `yaml:"field"`
	Type   string `yaml:"type"`
}

// file is the on-disk YAML shape of a tenant field map.
type file struct {
	Tenant string            `yaml:"tenant"`
	Fields map[string]Target `yaml:"fields"`
}

// Map is one tenant's immutable friendly<->remote overlay. All lookups are
// O(1). Multiple adapters share the same instance read-only.
type Map struct {
	tenant     string
	toRemote   map[string]Target
	fromRemote map[string]string // remote path (or "custom.Entity.Field") -> friendly
}

// New builds a Map from explicit targets. Used directly by tests and by
// Load for file-backed maps.
func New(tenant string, fields map[string]Target) *Map {
	m := &Map{
		tenant:     tenant,
		toRemote:   make(map[string]Target, len(fields)),
		fromRemote: make(map[string]string, len(fields)),
	}
	for friendly, target := range fields {
		m.toRemote[friendly] = target
		m.fromRemote[target.path()] = friendly
	}
	return m
}

// Load reads a tenant field map from a YAML file.
func Load(path string) (*Map, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read field map: %w", err)
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse field map: %w", err)
	}
	if f.Tenant == "" {
		return nil, fmt.Errorf("field map is missing a tenant")
	}
	for friendly, target := range f.Fields {
		if target.Remote == "" && target.Custom == nil {
			return nil, fmt.Errorf("field %q has neither a remote name nor a custom target", friendly)
		}
	}

	return New(f.Tenant, f.Fields), nil
}

// path returns the reverse-lookup key for a target.
func (t Target) path() string {
	if t.Custom != nil {
		return "custom." + t.Custom.Entity + "." + t.Custom.Field
	}
	return t.Remote
}

// Tenant returns the tenant this map belongs to.
func (m *Map) Tenant() string {
	return m.tenant
}

// Resolve looks up the remote target for a friendly name.
func (m *Map) Resolve(friendly string) (Target, bool) {
	t, ok := m.toRemote[friendly]
	return t, ok
}

// ReverseResolve looks up the friendly name for a remote path. Custom
// fields are addressed as "custom.<entity>.<field>".
func (m *Map) ReverseResolve(remotePath string) (string, bool) {
	f, ok := m.fromRemote[remotePath]
	return f, ok
}

// ToRemote renames friendly keys to their remote field names. Unmapped
// names pass through unchanged and are reported as warnings, since tenants
// may carry fields not yet in the map. Values are untouched; enveloping is
// the normalizer's concern.
func (m *Map) ToRemote(friendly map[string]any) (map[string]any, []string) {
	out := make(map[string]any, len(friendly))
	var warnings []string
	for k, v := range friendly {
		if t, ok := m.toRemote[k]; ok {
			out[t.path()] = v
			continue
		}
		out[k] = v
		warnings = append(warnings, k)
	}
	return out, warnings
}

// FromRemote renames remote paths back to friendly names, with the same
// pass-through rule for unmapped paths.
func (m *Map) FromRemote(remote map[string]any) (map[string]any, []string) {
	out := make(map[string]any, len(remote))
	var warnings []string
	for k, v := range remote {
		if f, ok := m.fromRemote[k]; ok {
			out[f] = v
			continue
		}
		out[k] = v
		warnings = append(warnings, k)
	}
	return out, warnings
}

// Store holds the current Map snapshot for a tenant and allows reloading
// on configuration change. In-flight requests keep the snapshot they
// started with; Reload never blocks readers.
type Store struct {
	current atomic.Pointer[Map]
	path    string
}

// NewStore creates a store around an initial map. The map may be nil when
// no overlay is configured.
func NewStore(m *Map, path string) *Store {
	s := &Store{path: path}
	if m != nil {
		s.current.Store(m)
	}
	return s
}

// Snapshot returns the current map, or nil when no overlay is configured.
func (s *Store) Snapshot() *Map {
	return s.current.Load()
}

// Reload re-reads the backing file and swaps the snapshot. The previous
// map stays valid for requests already holding it.
func (s *Store) Reload() error {
	if s.path == "" {
		return fmt.Errorf("field map store has no backing file")
	}
	m, err := Load(s.path)
	if err != nil {
		return err
	}
	s.current.Store(m)
	return nil
}
