// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"axonflow/erplink/erp/base"
	"axonflow/erplink/erp/dispatch"
	"axonflow/erplink/erp/idempotency"
	"axonflow/erplink/erp/paginate"
)

// Backend bundles the client core the entity tools run on.
type Backend struct {
	Dispatcher *dispatch.Dispatcher
	Guard      *idempotency.Guard
	PageSize   int
}

// RegisterEntityTools registers the standard tool set for one remote
// entity: get, search, create, update and delete, named
// erp.<entity>.<op> with the entity lowercased.
func RegisterEntityTools(reg *Registry, b *Backend, entity string) error {
	if b == nil || b.Dispatcher == nil {
		return fmt.Errorf("entity tools require a dispatcher")
	}
	prefix := "erp." + strings.ToLower(entity) + "."

	tools := []*Tool{
		{
			Name:        prefix + "get",
			Description: fmt.Sprintf("Fetch a single %s record by key", entity),
			Capability:  CapabilityQuery,
			Schema: objectSchema(map[string]any{
				"key": map[string]any{"type": "string", "description": "record key, e.g. an order number"},
			}, "key"),
			Handler: getHandler(b, entity),
		},
		{
			Name:        prefix + "search",
			Description: fmt.Sprintf("Search %s records with an optional filter, one page at a time", entity),
			Capability:  CapabilityQuery,
			Schema: objectSchema(map[string]any{
				"filter": map[string]any{"type": "string", "description": "remote filter expression"},
				"offset": map[string]any{"type": "integer", "description": "offset to resume from"},
				"limit":  map[string]any{"type": "integer", "description": "page size override"},
			}),
			Handler: searchHandler(b, entity),
		},
		{
			Name:        prefix + "create",
			Description: fmt.Sprintf("Create a %s record, deduplicated by external reference", entity),
			Capability:  CapabilityExecute,
			Schema: objectSchema(map[string]any{
				"record":       map[string]any{"type": "object", "description": "record fields, friendly names"},
				"external_ref": map[string]any{"type": "string", "description": "idempotency reference; generated from content when omitted"},
			}, "record"),
			Handler: createHandler(b, entity),
		},
		{
			Name:        prefix + "update",
			Description: fmt.Sprintf("Update a %s record by key", entity),
			Capability:  CapabilityExecute,
			Schema: objectSchema(map[string]any{
				"key":    map[string]any{"type": "string"},
				"record": map[string]any{"type": "object", "description": "fields to change, friendly names"},
			}, "key", "record"),
			Handler: updateHandler(b, entity),
		},
		{
			Name:        prefix + "delete",
			Description: fmt.Sprintf("Delete a %s record by key", entity),
			Capability:  CapabilityExecute,
			Schema: objectSchema(map[string]any{
				"key": map[string]any{"type": "string"},
			}, "key"),
			Handler: deleteHandler(b, entity),
		},
	}

	for _, t := range tools {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}

func getHandler(b *Backend, entity string) Handler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		key, err := stringArg(args, "key", true)
		if err != nil {
			return nil, err
		}
		res, err := b.Dispatcher.Execute(ctx, http.MethodGet, entity+"/"+url.PathEscape(key), nil)
		if err != nil {
			return nil, err
		}
		return res.Body, nil
	}
}

func searchHandler(b *Backend, entity string) Handler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		q := url.Values{}
		if filter, _ := stringArg(args, "filter", false); filter != "" {
			q.Set("$filter", filter)
		}

		pageSize := b.PageSize
		if limit, ok := intArg(args, "limit"); ok && limit > 0 {
			pageSize = limit
		}

		cur := paginate.NewCursor(b.Dispatcher, entity, q, pageSize)
		if offset, ok := intArg(args, "offset"); ok {
			cur.Seek(offset)
		}

		page, err := cur.Next(ctx)
		if err != nil {
			if err == paginate.ErrExhausted {
				return map[string]any{"items": []map[string]any{}, "more": false}, nil
			}
			return nil, err
		}
		items := page.Items
		if items == nil {
			items = []map[string]any{}
		}
		return map[string]any{
			"items":       items,
			"next_offset": page.Offset + len(page.Items),
			"more":        cur.HasMore(),
		}, nil
	}
}

func createHandler(b *Backend, entity string) Handler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		record, err := objectArg(args, "record")
		if err != nil {
			return nil, err
		}
		ref, _ := stringArg(args, "external_ref", false)

		if b.Guard == nil {
			res, err := b.Dispatcher.Execute(ctx, http.MethodPut, entity, record)
			if err != nil {
				return nil, err
			}
			return res.Body, nil
		}

		res, token, err := b.Guard.Create(ctx, entity, record, ref)
		if err != nil {
			return nil, err
		}
		return map[string]any{"record": res.Body, "external_ref": token.ExternalRef}, nil
	}
}

func updateHandler(b *Backend, entity string) Handler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		key, err := stringArg(args, "key", true)
		if err != nil {
			return nil, err
		}
		record, err := objectArg(args, "record")
		if err != nil {
			return nil, err
		}
		res, err := b.Dispatcher.Execute(ctx, http.MethodPut, entity+"/"+url.PathEscape(key), record)
		if err != nil {
			return nil, err
		}
		return res.Body, nil
	}
}

func deleteHandler(b *Backend, entity string) Handler {
	return func(ctx context.Context, args map[string]any) (any, error) {
		key, err := stringArg(args, "key", true)
		if err != nil {
			return nil, err
		}
		if _, err := b.Dispatcher.Execute(ctx, http.MethodDelete, entity+"/"+url.PathEscape(key), nil); err != nil {
			return nil, err
		}
		return map[string]any{"deleted": true}, nil
	}
}

// objectSchema builds a JSON Schema object with the given properties and
// required field names.
func objectSchema(props map[string]any, required ...string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

func stringArg(args map[string]any, name string, required bool) (string, error) {
	v, ok := args[name]
	if !ok || v == nil {
		if required {
			return "", base.NewError(base.KindValidation, 0, fmt.Sprintf("missing required argument %q", name), nil)
		}
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", base.NewError(base.KindValidation, 0, fmt.Sprintf("argument %q must be a string", name), nil)
	}
	if required && s == "" {
		return "", base.NewError(base.KindValidation, 0, fmt.Sprintf("argument %q must not be empty", name), nil)
	}
	return s, nil
}

func intArg(args map[string]any, name string) (int, bool) {
	switch v := args[name].(type) {
	case float64: // JSON numbers decode to float64
		return int(v), true
	case int:
		return v, true
	default:
		return 0, false
	}
}

func objectArg(args map[string]any, name string) (map[string]any, error) {
	v, ok := args[name]
	if !ok || v == nil {
		return nil, base.NewError(base.KindValidation, 0, fmt.Sprintf("missing required argument %q", name), nil)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, base.NewError(base.KindValidation, 0, fmt.Sprintf("argument %q must be an object", name), nil)
	}
	return obj, nil
}
