// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package idempotency

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"axonflow/erplink/erp/base"
	"axonflow/erplink/erp/dispatch"
	"axonflow/erplink/erp/session"
)

// fakeERP scripts a remote that stores created records and answers
// external-reference lookups.
type fakeERP struct {
	*httptest.Server
	creates int32
	lookups int32
	records map[string]map[string]any // externalRef -> stored record
}

func newFakeERP(t *testing.T) *fakeERP {
	t.Helper()
	f := &fakeERP{records: make(map[string]map[string]any)}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/entity/auth/login":
			http.SetCookie(w, &http.Cookie{Name: "ASP.NET_SessionId", Value: "abc"})
			w.WriteHeader(http.StatusNoContent)

		case r.Method == http.MethodGet:
			atomic.AddInt32(&f.lookups, 1)
			// $filter=ExternalRef eq '<ref>'
			filter := r.URL.Query().Get("$filter")
			var matches []map[string]any
			for ref, rec := range f.records {
				if filter == "ExternalRef eq '"+ref+"'" {
					matches = append(matches, rec)
				}
			}
			if matches == nil {
				matches = []map[string]any{}
			}
			_ = json.NewEncoder(w).Encode(matches)

		case r.Method == http.MethodPut:
			atomic.AddInt32(&f.creates, 1)
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			refWrapper, _ := body["ExternalRef"].(map[string]any)
			ref, _ := refWrapper["value"].(string)
			record := map[string]any{
				"OrderNbr":    map[string]any{"value": "SO-001"},
				"ExternalRef": map[string]any{"value": ref},
			}
			f.records[ref] = record
			_ = json.NewEncoder(w).Encode(record)

		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	}))
	return f
}

func newTestGuard(t *testing.T, srv *fakeERP, cache Cache) *Guard {
	t.Helper()
	sessions, err := session.NewManager(session.Config{
		BaseURL:  srv.URL,
		Mode:     base.AuthModeSession,
		Username: "admin",
		Password: "pw",
	})
	if err != nil {
		t.Fatal(err)
	}
	d, err := dispatch.NewDispatcher(dispatch.Config{Sessions: sessions})
	if err != nil {
		t.Fatal(err)
	}
	g, err := NewGuard(Config{Dispatcher: d, Cache: cache})
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func TestCreateOnce(t *testing.T) {
	srv := newFakeERP(t)
	defer srv.Close()
	g := newTestGuard(t, srv, nil)

	res, token, err := g.Create(context.Background(), "SalesOrder",
		map[string]any{"CustomerID": "C100"}, "order-42")
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if token.ExternalRef != "order-42" {
		t.Errorf("ExternalRef = %q", token.ExternalRef)
	}
	if res.Body["OrderNbr"] != "SO-001" {
		t.Errorf("Body = %v", res.Body)
	}
	if n := atomic.LoadInt32(&srv.creates); n != 1 {
		t.Errorf("creates = %d", n)
	}
}

func TestCreateRetrySameRefDoesNotDuplicate(t *testing.T) {
	srv := newFakeERP(t)
	defer srv.Close()
	g := newTestGuard(t, srv, nil)

	payload := map[string]any{"CustomerID": "C100"}
	first, _, err := g.Create(context.Background(), "SalesOrder", payload, "order-42")
	if err != nil {
		t.Fatal(err)
	}
	second, _, err := g.Create(context.Background(), "SalesOrder", payload, "order-42")
	if err != nil {
		t.Fatal(err)
	}

	if n := atomic.LoadInt32(&srv.creates); n != 1 {
		t.Fatalf("retry created a duplicate: %d creates", n)
	}
	if first.Body["OrderNbr"] != second.Body["OrderNbr"] {
		t.Errorf("retry resolved to a different record: %v vs %v", first.Body, second.Body)
	}
}

func TestCreateGeneratedRefIsDeterministic(t *testing.T) {
	srv := newFakeERP(t)
	defer srv.Close()
	g := newTestGuard(t, srv, nil)

	payload := map[string]any{"CustomerID": "C100", "Amount": 12.5}
	_, t1, err := g.Create(context.Background(), "SalesOrder", payload, "")
	if err != nil {
		t.Fatal(err)
	}
	_, t2, err := g.Create(context.Background(), "SalesOrder", payload, "")
	if err != nil {
		t.Fatal(err)
	}
	if t1.ExternalRef != t2.ExternalRef {
		t.Errorf("generated refs differ: %q vs %q", t1.ExternalRef, t2.ExternalRef)
	}
	if n := atomic.LoadInt32(&srv.creates); n != 1 {
		t.Errorf("identical content created twice: %d creates", n)
	}
}

func TestContentRef(t *testing.T) {
	a := ContentRef(map[string]any{"b": 2, "a": 1})
	b := ContentRef(map[string]any{"a": 1, "b": 2})
	if a != b {
		t.Errorf("key order changed the hash: %q vs %q", a, b)
	}
	if len(a) != 32 {
		t.Errorf("ref length = %d", len(a))
	}
	if a == ContentRef(map[string]any{"a": 1, "b": 3}) {
		t.Error("different content hashed identically")
	}
}

func TestCreateCacheShortCircuitsLookup(t *testing.T) {
	srv := newFakeERP(t)
	defer srv.Close()

	cache := &memCache{entries: make(map[string]*base.Result)}
	g := newTestGuard(t, srv, cache)

	payload := map[string]any{"CustomerID": "C100"}
	if _, _, err := g.Create(context.Background(), "SalesOrder", payload, "order-42"); err != nil {
		t.Fatal(err)
	}
	lookupsAfterFirst := atomic.LoadInt32(&srv.lookups)

	if _, _, err := g.Create(context.Background(), "SalesOrder", payload, "order-42"); err != nil {
		t.Fatal(err)
	}
	if n := atomic.LoadInt32(&srv.lookups); n != lookupsAfterFirst {
		t.Errorf("cached retry still hit the remote lookup: %d -> %d", lookupsAfterFirst, n)
	}
	if n := atomic.LoadInt32(&srv.creates); n != 1 {
		t.Errorf("creates = %d", n)
	}
}

type memCache struct {
	entries map[string]*base.Result
}

func (c *memCache) Get(ctx context.Context, ref string) (*base.Result, bool) {
	r, ok := c.entries[ref]
	return r, ok
}

func (c *memCache) Put(ctx context.Context, ref string, res *base.Result) {
	c.entries[ref] = res
}
