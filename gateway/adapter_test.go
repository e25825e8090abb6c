// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"axonflow/erplink/erp/base"
	"axonflow/erplink/erp/dispatch"
	"axonflow/erplink/erp/idempotency"
	"axonflow/erplink/erp/session"
)

// newTestBackend stands up a fake remote and a full client core over it.
func newTestBackend(t *testing.T, handler http.HandlerFunc) *Backend {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/entity/auth/login" {
			http.SetCookie(w, &http.Cookie{Name: "ASP.NET_SessionId", Value: "abc"})
			w.WriteHeader(http.StatusNoContent)
			return
		}
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	sessions, err := session.NewManager(session.Config{
		BaseURL:  srv.URL,
		Mode:     base.AuthModeSession,
		Username: "admin",
		Password: "pw",
	})
	require.NoError(t, err)

	d, err := dispatch.NewDispatcher(dispatch.Config{Sessions: sessions})
	require.NoError(t, err)

	g, err := idempotency.NewGuard(idempotency.Config{Dispatcher: d})
	require.NoError(t, err)

	return &Backend{Dispatcher: d, Guard: g, PageSize: 2}
}

func TestRegisterEntityTools(t *testing.T) {
	reg := NewRegistry(nil)
	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {})

	require.NoError(t, RegisterEntityTools(reg, b, "SalesOrder"))

	names := make([]string, 0)
	caps := make(map[string]Capability)
	for _, tool := range reg.List() {
		names = append(names, tool.Name)
		caps[tool.Name] = tool.Capability
		assert.NotEmpty(t, tool.Description)
		assert.NotNil(t, tool.Schema)
	}
	assert.ElementsMatch(t, []string{
		"erp.salesorder.get",
		"erp.salesorder.search",
		"erp.salesorder.create",
		"erp.salesorder.update",
		"erp.salesorder.delete",
	}, names)
	assert.Equal(t, CapabilityQuery, caps["erp.salesorder.get"])
	assert.Equal(t, CapabilityQuery, caps["erp.salesorder.search"])
	assert.Equal(t, CapabilityExecute, caps["erp.salesorder.create"])
	assert.Equal(t, CapabilityExecute, caps["erp.salesorder.update"])
	assert.Equal(t, CapabilityExecute, caps["erp.salesorder.delete"])
}

func TestGetTool(t *testing.T) {
	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/SalesOrder/SO-1", r.URL.Path)
		_, _ = w.Write([]byte(`{"OrderNbr": {"value": "SO-1"}}`))
	})

	reg := NewRegistry(nil)
	require.NoError(t, RegisterEntityTools(reg, b, "SalesOrder"))
	tool, _ := reg.Get("erp.salesorder.get")

	result, err := tool.Handler(context.Background(), map[string]any{"key": "SO-1"})
	require.NoError(t, err)
	body, ok := result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "SO-1", body["OrderNbr"])

	_, err = tool.Handler(context.Background(), map[string]any{})
	assert.True(t, base.IsKind(err, base.KindValidation))
}

func TestSearchToolPagesAndResumes(t *testing.T) {
	total := 5
	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		top, _ := strconv.Atoi(r.URL.Query().Get("$top"))
		skip, _ := strconv.Atoi(r.URL.Query().Get("$skip"))
		records := []map[string]any{}
		for i := skip; i < skip+top && i < total; i++ {
			records = append(records, map[string]any{
				"OrderNbr": map[string]any{"value": "SO-" + strconv.Itoa(i)},
			})
		}
		_ = json.NewEncoder(w).Encode(records)
	})

	reg := NewRegistry(nil)
	require.NoError(t, RegisterEntityTools(reg, b, "SalesOrder"))
	tool, _ := reg.Get("erp.salesorder.search")

	result, err := tool.Handler(context.Background(), map[string]any{})
	require.NoError(t, err)
	page := result.(map[string]any)
	assert.Len(t, page["items"], 2)
	assert.Equal(t, 2, page["next_offset"])
	assert.Equal(t, true, page["more"])

	// Resume where the first invocation left off, as JSON-decoded args.
	result, err = tool.Handler(context.Background(), map[string]any{"offset": float64(4)})
	require.NoError(t, err)
	page = result.(map[string]any)
	items := page["items"].([]map[string]any)
	require.Len(t, items, 1)
	assert.Equal(t, "SO-4", items[0]["OrderNbr"])
	assert.Equal(t, false, page["more"])
}

func TestSearchToolForwardsFilter(t *testing.T) {
	var gotFilter string
	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		gotFilter = r.URL.Query().Get("$filter")
		_, _ = w.Write([]byte(`[]`))
	})

	reg := NewRegistry(nil)
	require.NoError(t, RegisterEntityTools(reg, b, "SalesOrder"))
	tool, _ := reg.Get("erp.salesorder.search")

	_, err := tool.Handler(context.Background(), map[string]any{"filter": "Status eq 'Open'"})
	require.NoError(t, err)
	assert.Equal(t, "Status eq 'Open'", gotFilter)
}

func TestCreateToolDeduplicates(t *testing.T) {
	creates := 0
	stored := map[string]bool{}
	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			filter := r.URL.Query().Get("$filter")
			found := false
			for ref := range stored {
				if filter == "ExternalRef eq '"+ref+"'" {
					found = true
				}
			}
			if found {
				_, _ = w.Write([]byte(`[{"OrderNbr": {"value": "SO-001"}}]`))
			} else {
				_, _ = w.Write([]byte(`[]`))
			}
		case http.MethodPut:
			creates++
			var body map[string]any
			_ = json.NewDecoder(r.Body).Decode(&body)
			ref, _ := body["ExternalRef"].(map[string]any)
			stored[ref["value"].(string)] = true
			_, _ = w.Write([]byte(`{"OrderNbr": {"value": "SO-001"}}`))
		}
	})

	reg := NewRegistry(nil)
	require.NoError(t, RegisterEntityTools(reg, b, "SalesOrder"))
	tool, _ := reg.Get("erp.salesorder.create")

	args := map[string]any{
		"record":       map[string]any{"CustomerID": "C100"},
		"external_ref": "order-42",
	}
	first, err := tool.Handler(context.Background(), args)
	require.NoError(t, err)
	assert.Equal(t, "order-42", first.(map[string]any)["external_ref"])

	_, err = tool.Handler(context.Background(), args)
	require.NoError(t, err)
	assert.Equal(t, 1, creates, "second create with the same reference must not hit the remote")

	_, err = tool.Handler(context.Background(), map[string]any{})
	assert.True(t, base.IsKind(err, base.KindValidation))
}

func TestUpdateAndDeleteTools(t *testing.T) {
	var gotMethod, gotPath string
	b := newTestBackend(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		_, _ = w.Write([]byte(`{}`))
	})

	reg := NewRegistry(nil)
	require.NoError(t, RegisterEntityTools(reg, b, "Customer"))

	update, _ := reg.Get("erp.customer.update")
	_, err := update.Handler(context.Background(), map[string]any{
		"key":    "C100",
		"record": map[string]any{"CreditLimit": 5000},
	})
	require.NoError(t, err)
	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/Customer/C100", gotPath)

	del, _ := reg.Get("erp.customer.delete")
	result, err := del.Handler(context.Background(), map[string]any{"key": "C100"})
	require.NoError(t, err)
	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Equal(t, map[string]any{"deleted": true}, result)
}
