// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package idempotency makes create-type operations safe to retry. Every
// guarded create carries an external reference; before submitting, the
// guard looks the reference up remotely and returns the existing record
// instead of creating a duplicate. A timed-out create followed by a retry
// with the same reference therefore reconciles to the original record.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"axonflow/erplink/erp/base"
	"axonflow/erplink/erp/dispatch"
	"axonflow/erplink/shared/logger"
)

// DefaultRefField is the remote field the external reference is stored in
// and looked up by. The actual field is tenant configuration — never
// assume it matches the remote schema without confirming.
const DefaultRefField = "ExternalRef"

// Token is the caller-visible identity of one guarded create.
type Token struct {
	ExternalRef string
	FirstSeenAt time.Time
}

// Cache short-circuits the remote lookup for references this process has
// already resolved. It is an optimization only; the remote lookup remains
// the source of truth.
type Cache interface {
	Get(ctx context.Context, ref string) (*base.Result, bool)
	Put(ctx context.Context, ref string, res *base.Result)
}

// Config assembles a Guard.
type Config struct {
	Dispatcher *dispatch.Dispatcher
	RefField   string // remote external-reference field, default DefaultRefField
	Method     string // create method, default PUT
	Cache      Cache  // optional
	Logger     *logger.Logger
}

// Guard wraps create-type dispatches end to end.
type Guard struct {
	d        *dispatch.Dispatcher
	refField string
	method   string
	cache    Cache
	log      *logger.Logger
}

// NewGuard creates an idempotency guard around a dispatcher.
func NewGuard(cfg Config) (*Guard, error) {
	if cfg.Dispatcher == nil {
		return nil, fmt.Errorf("idempotency guard requires a dispatcher")
	}
	refField := cfg.RefField
	if refField == "" {
		refField = DefaultRefField
	}
	method := cfg.Method
	if method == "" {
		method = http.MethodPut
	}
	log := cfg.Logger
	if log == nil {
		log = logger.New("erp-idempotency", "INFO")
	}
	return &Guard{d: cfg.Dispatcher, refField: refField, method: method, cache: cfg.Cache, log: log}, nil
}

// Create submits a create operation at most once per external reference.
// An empty externalRef is replaced by a deterministic content hash of the
// payload — a best-effort dedup convenience; callers needing strict
// idempotency must supply their own reference.
func (g *Guard) Create(ctx context.Context, resource string, payload map[string]any, externalRef string) (*base.Result, *Token, error) {
	if externalRef == "" {
		externalRef = ContentRef(payload)
	}
	token := &Token{ExternalRef: externalRef, FirstSeenAt: time.Now()}

	if g.cache != nil {
		if res, ok := g.cache.Get(ctx, externalRef); ok {
			return res, token, nil
		}
	}

	existing, err := g.lookup(ctx, resource, externalRef)
	if err != nil {
		return nil, nil, err
	}
	if existing != nil {
		g.log.Debug("", "create deduplicated against existing record", nil)
		g.put(ctx, externalRef, existing)
		return existing, token, nil
	}

	res, err := g.d.Execute(ctx, g.method, resource, payload,
		dispatch.WithRemoteField(g.refField, externalRef))
	if err != nil {
		return nil, nil, err
	}
	g.put(ctx, externalRef, res)
	return res, token, nil
}

// lookup searches the resource for a record carrying the reference.
func (g *Guard) lookup(ctx context.Context, resource, externalRef string) (*base.Result, error) {
	q := url.Values{}
	q.Set("$filter", fmt.Sprintf("%s eq '%s'", g.refField, externalRef))
	q.Set("$top", "1")

	res, err := g.d.Execute(ctx, http.MethodGet, resource, nil, dispatch.WithQuery(q))
	if err != nil {
		if base.IsKind(err, base.KindNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if len(res.Items) == 0 {
		return nil, nil
	}
	return &base.Result{StatusCode: res.StatusCode, Body: res.Items[0]}, nil
}

func (g *Guard) put(ctx context.Context, ref string, res *base.Result) {
	if g.cache != nil {
		g.cache.Put(ctx, ref, res)
	}
}

// ContentRef derives a deterministic external reference from the
// semantically significant payload fields. encoding/json sorts map keys,
// so identical content always hashes identically.
func ContentRef(payload map[string]any) string {
	data, err := json.Marshal(payload)
	if err != nil {
		data = []byte(fmt.Sprintf("%v", payload))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:32]
}
