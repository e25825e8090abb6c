// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package normalize converts between the remote ERP envelope format and
// plain key/value results. The remote side wraps every scalar as
// {"value": x}, nests linked entities as objects of wrapped fields, and
// carries tenant-defined extension fields under a reserved custom block
// keyed by entity and field name with an explicit type tag.
//
// Normalization is a pure function: the same remote body always yields the
// same plain map, and missing optional fields produce no key rather than a
// null-valued one.
package normalize

import (
	"fmt"
	"time"

	"axonflow/erplink/erp/fieldmap"
)

// customBlock is the reserved key extension fields live under on the wire.
const customBlock = "custom"

// Known custom-field type tags. The set is closed at this boundary; tags
// outside it pass through opaquely rather than failing.
const (
	TypeString   = "CustomStringField"
	TypeInt      = "CustomIntField"
	TypeDecimal  = "CustomDecimalField"
	TypeBoolean  = "CustomBooleanField"
	TypeDateTime = "CustomDateTimeField"
)

var knownTypeTags = map[string]struct{}{
	TypeString:   {},
	TypeInt:      {},
	TypeDecimal:  {},
	TypeBoolean:  {},
	TypeDateTime: {},
}

// InferTypeTag picks the custom-field type tag for a Go value. Used when a
// field map entry carries no explicit tag.
func InferTypeTag(v any) string {
	switch v.(type) {
	case bool:
		return TypeBoolean
	case int, int32, int64:
		return TypeInt
	case float32, float64:
		return TypeDecimal
	case time.Time:
		return TypeDateTime
	default:
		return TypeString
	}
}

// KnownTypeTag reports whether tag belongs to the closed set of custom
// field types.
func KnownTypeTag(tag string) bool {
	_, ok := knownTypeTags[tag]
	return ok
}

// Envelope maps a friendly payload to the remote envelope: friendly names
// are resolved through the overlay, scalars are value-wrapped, dotted
// targets become nested linked-entity objects, and custom targets land
// under the custom block with their type tag. Unmapped names pass through
// value-wrapped under their own name and are reported as warnings. Nil
// values are dropped entirely. The overlay may be nil.
func Envelope(friendly map[string]any, m *fieldmap.Map) (map[string]any, []string) {
	out := make(map[string]any, len(friendly))
	var warnings []string

	for name, v := range friendly {
		if v == nil {
			continue
		}

		var target fieldmap.Target
		mapped := false
		if m != nil {
			target, mapped = m.Resolve(name)
		}
		if !mapped {
			warnings = append(warnings, name)
			setWrapped(out, name, v)
			continue
		}

		if target.Custom != nil {
			tag := target.Custom.Type
			if tag == "" {
				tag = InferTypeTag(v)
			}
			block := childMap(out, customBlock)
			entity := childMap(block, target.Custom.Entity)
			entity[target.Custom.Field] = map[string]any{"type": tag, "value": v}
			continue
		}

		setWrapped(out, target.Remote, v)
	}

	return out, warnings
}

// setWrapped places a value-wrapped scalar at a possibly dotted path.
func setWrapped(body map[string]any, path string, v any) {
	parent, leaf := splitPath(path)
	if parent == "" {
		body[leaf] = map[string]any{"value": v}
		return
	}
	childMap(body, parent)[leaf] = map[string]any{"value": v}
}

// Normalize converts a remote body into a plain map keyed by friendly
// names. Value wrappers are unwrapped, linked entities are flattened to
// their identifier fields, and custom fields surface under their friendly
// names via the overlay's reverse mapping. The overlay may be nil, in
// which case remote names are kept.
func Normalize(body map[string]any, m *fieldmap.Map) map[string]any {
	out := make(map[string]any, len(body))

	for k, v := range body {
		if k == customBlock {
			if block, ok := v.(map[string]any); ok {
				normalizeCustom(out, block, m)
				continue
			}
		}

		switch val := v.(type) {
		case map[string]any:
			if inner, wrapped := unwrap(val); wrapped {
				if inner != nil {
					out[friendlyName(k, m)] = inner
				}
				continue
			}
			// Linked entity: flatten one level to its identifier fields.
			for ck, cv := range val {
				leaf, ok := cv.(map[string]any)
				if !ok {
					continue
				}
				inner, wrapped := unwrap(leaf)
				if !wrapped || inner == nil {
					continue
				}
				out[friendlyName(k+"."+ck, m)] = inner
			}
		case []any:
			items := make([]any, 0, len(val))
			for _, elem := range val {
				if obj, ok := elem.(map[string]any); ok {
					items = append(items, Normalize(obj, m))
				} else {
					items = append(items, elem)
				}
			}
			out[friendlyName(k, m)] = items
		default:
			if val != nil {
				out[friendlyName(k, m)] = val
			}
		}
	}

	return out
}

// NormalizeList applies Normalize to each record of a search result.
func NormalizeList(records []any, m *fieldmap.Map) []map[string]any {
	out := make([]map[string]any, 0, len(records))
	for _, r := range records {
		if obj, ok := r.(map[string]any); ok {
			out = append(out, Normalize(obj, m))
		}
	}
	return out
}

func normalizeCustom(out map[string]any, block map[string]any, m *fieldmap.Map) {
	for entity, fields := range block {
		fm, ok := fields.(map[string]any)
		if !ok {
			continue
		}
		for field, leaf := range fm {
			lm, ok := leaf.(map[string]any)
			if !ok {
				continue
			}
			v, present := lm["value"]
			if !present || v == nil {
				continue
			}
			path := fmt.Sprintf("%s.%s.%s", customBlock, entity, field)
			out[friendlyName(path, m)] = v
		}
	}
}

// unwrap detects a value wrapper. A map is a wrapper when it carries a
// "value" key and nothing besides the value and its type tag.
func unwrap(v map[string]any) (any, bool) {
	inner, ok := v["value"]
	if !ok {
		return nil, false
	}
	for k := range v {
		if k != "value" && k != "type" {
			return nil, false
		}
	}
	return inner, true
}

func friendlyName(remotePath string, m *fieldmap.Map) string {
	if m != nil {
		if f, ok := m.ReverseResolve(remotePath); ok {
			return f
		}
	}
	return remotePath
}

func childMap(parent map[string]any, key string) map[string]any {
	if existing, ok := parent[key].(map[string]any); ok {
		return existing
	}
	child := make(map[string]any)
	parent[key] = child
	return child
}

func splitPath(path string) (parent, leaf string) {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '.' {
			return path[:i], path[i+1:]
		}
	}
	return "", path
}
