// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package paginate iterates large search results page-at-a-time, honoring
// the remote paging contract. A cursor is lazy, finite and restartable; it
// never buffers more than one page.
package paginate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"axonflow/erplink/erp/base"
	"axonflow/erplink/erp/dispatch"
)

// DefaultPageSize is used when the caller does not set one.
const DefaultPageSize = 100

// ErrExhausted is returned by Next once the result set is fully consumed.
var ErrExhausted = errors.New("cursor exhausted")

// Page is one normalized result page.
type Page struct {
	Items  []map[string]any
	Offset int // offset of the first item in this page
}

// Cursor advances an offset/limit window over a search operation. It is
// not safe for concurrent use; each caller iterates its own cursor.
type Cursor struct {
	d        *dispatch.Dispatcher
	resource string
	query    url.Values
	pageSize int
	offset   int
	done     bool
}

// NewCursor creates a cursor over a search-type resource. The query holds
// caller filters; paging parameters are managed by the cursor itself.
func NewCursor(d *dispatch.Dispatcher, resource string, query url.Values, pageSize int) *Cursor {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	q := url.Values{}
	for k, vs := range query {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	return &Cursor{d: d, resource: resource, query: q, pageSize: pageSize}
}

// Next fetches the next page. Iteration stops when a page comes back
// shorter than the page size or the remote response carries an explicit
// end-of-results marker; after that, Next returns ErrExhausted.
func (c *Cursor) Next(ctx context.Context) (*Page, error) {
	if c.done {
		return nil, ErrExhausted
	}

	q := url.Values{}
	for k, vs := range c.query {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	q.Set("$top", strconv.Itoa(c.pageSize))
	q.Set("$skip", strconv.Itoa(c.offset))

	res, err := c.d.Execute(ctx, http.MethodGet, c.resource, nil, dispatch.WithQuery(q))
	if err != nil {
		return nil, err
	}

	items, more, err := extract(res, c.pageSize)
	if err != nil {
		return nil, err
	}

	page := &Page{Items: items, Offset: c.offset}
	c.offset += len(items)
	if !more {
		c.done = true
	}
	return page, nil
}

// HasMore reports whether another page may exist.
func (c *Cursor) HasMore() bool {
	return !c.done
}

// Reset restarts iteration from the beginning.
func (c *Cursor) Reset() {
	c.offset = 0
	c.done = false
}

// Seek positions the cursor at an absolute offset, e.g. to resume
// iteration a caller carried across invocations.
func (c *Cursor) Seek(offset int) {
	if offset < 0 {
		offset = 0
	}
	c.offset = offset
	c.done = false
}

// extract pulls the record list out of a search result. Most screens
// return a bare array; some wrap it as {"items": [...], "more": bool}.
func extract(res *base.Result, pageSize int) ([]map[string]any, bool, error) {
	if res.Items != nil {
		return res.Items, len(res.Items) >= pageSize, nil
	}

	if res.Body != nil {
		if wrapped, ok := res.Body["items"]; ok {
			items, err := toRecords(wrapped)
			if err != nil {
				return nil, false, err
			}
			if more, ok := res.Body["more"].(bool); ok {
				return items, more, nil
			}
			return items, len(items) >= pageSize, nil
		}
		if len(res.Body) == 0 {
			return nil, false, nil
		}
	}
	return nil, false, fmt.Errorf("search response is not a record list")
}

func toRecords(v any) ([]map[string]any, error) {
	switch records := v.(type) {
	case []map[string]any:
		return records, nil
	case []any:
		out := make([]map[string]any, 0, len(records))
		for _, r := range records {
			if obj, ok := r.(map[string]any); ok {
				out = append(out, obj)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unexpected items shape %T", v)
	}
}
