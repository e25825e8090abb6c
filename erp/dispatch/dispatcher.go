// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package dispatch executes requests against the remote ERP system: it
// builds the versioned resource URL, attaches the shared session, applies
// the field-mapping overlay and envelope to the payload, retries transient
// failures with bounded exponential backoff, and classifies every outcome
// into the normalized error taxonomy. Credentials, tokens and tenant
// identifiers are redacted before anything reaches a log or metric.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"axonflow/erplink/erp/base"
	"axonflow/erplink/erp/fieldmap"
	"axonflow/erplink/erp/normalize"
	"axonflow/erplink/erp/session"
	"axonflow/erplink/shared/logger"
)

// DefaultMaxResponseSize caps response bodies at 10MB.
const DefaultMaxResponseSize = 10 * 1024 * 1024

// Config assembles a Dispatcher.
type Config struct {
	Sessions        *session.Manager
	Fields          *fieldmap.Store // optional overlay source
	HTTPClient      *http.Client
	Retry           *RetryConfig
	RateLimit       *RateLimiter // optional, ahead of remote throttling
	MaxConcurrent   int          // in-flight dispatch ceiling, 0 = default
	MaxResponseSize int64
	Redactor        *base.Redactor
	Logger          *logger.Logger
}

// Dispatcher is safe for concurrent use. In-flight dispatches are bounded
// by a semaphore so fan-out never exceeds the configured ceiling.
type Dispatcher struct {
	sessions        *session.Manager
	fields          *fieldmap.Store
	client          *http.Client
	retry           *RetryConfig
	limiter         *RateLimiter
	sem             chan struct{}
	maxResponseSize int64
	redact          *base.Redactor
	log             *logger.Logger
}

// NewDispatcher creates a dispatcher around a session manager.
func NewDispatcher(cfg Config) (*Dispatcher, error) {
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("dispatcher requires a session manager")
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	retry := cfg.Retry
	if retry == nil {
		retry = DefaultRetryConfig()
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 16
	}
	maxResponseSize := cfg.MaxResponseSize
	if maxResponseSize <= 0 {
		maxResponseSize = DefaultMaxResponseSize
	}
	redact := cfg.Redactor
	if redact == nil {
		redact = base.NewRedactor()
	}
	log := cfg.Logger
	if log == nil {
		log = logger.New("erp-dispatch", "INFO")
	}

	return &Dispatcher{
		sessions:        cfg.Sessions,
		fields:          cfg.Fields,
		client:          client,
		retry:           retry,
		limiter:         cfg.RateLimit,
		sem:             make(chan struct{}, maxConcurrent),
		maxResponseSize: maxResponseSize,
		redact:          redact,
		log:             log,
	}, nil
}

type callOptions struct {
	query        url.Values
	remoteFields map[string]any
}

// Option adjusts a single dispatch.
type Option func(*callOptions)

// WithQuery adds query parameters to the request URL.
func WithQuery(q url.Values) Option {
	return func(o *callOptions) {
		if o.query == nil {
			o.query = url.Values{}
		}
		for k, vs := range q {
			for _, v := range vs {
				o.query.Add(k, v)
			}
		}
	}
}

// WithRemoteField injects a value-wrapped field into the outgoing body
// under its remote name, bypassing the overlay. Used by the idempotency
// guard to attach the external reference.
func WithRemoteField(name string, v any) Option {
	return func(o *callOptions) {
		if o.remoteFields == nil {
			o.remoteFields = make(map[string]any)
		}
		o.remoteFields[name] = v
	}
}

// Fields returns the current field-map snapshot, or nil when no overlay is
// configured.
func (d *Dispatcher) Fields() *fieldmap.Map {
	if d.fields == nil {
		return nil
	}
	return d.fields.Snapshot()
}

// Execute runs one operation against the remote system and returns the
// normalized result. Retries apply only to transient classifications; a
// 401 triggers exactly one re-login and re-issue before surfacing as an
// AuthError. A caller-supplied deadline aborts the in-flight request and
// its pending retries.
func (d *Dispatcher) Execute(ctx context.Context, method, resource string, payload map[string]any, opts ...Option) (*base.Result, error) {
	var co callOptions
	for _, opt := range opts {
		opt(&co)
	}

	select {
	case d.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-d.sem }()

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	requestID := uuid.NewString()
	fields := d.Fields()

	var bodyBytes []byte
	if payload != nil || co.remoteFields != nil {
		body, warnings := normalize.Envelope(payload, fields)
		for _, w := range warnings {
			d.log.Warn(requestID, "field has no mapping, passing through", map[string]any{
				"field": d.redact.String(w),
			})
		}
		for name, v := range co.remoteFields {
			body[name] = map[string]any{"value": v}
		}
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return nil, base.NewError(base.KindValidation, 0, "failed to encode payload", err)
		}
	}

	start := time.Now()
	reloggedIn := false
	attempt := 0

	for {
		sess, err := d.sessions.Ensure(ctx)
		if err != nil {
			d.observe(method, start, err)
			return nil, err
		}

		res, err := d.do(ctx, sess, method, resource, co.query, bodyBytes, requestID, fields)
		if err == nil {
			d.observe(method, start, nil)
			return res, nil
		}
		if ctx.Err() != nil {
			d.observe(method, start, err)
			return nil, err
		}

		// One automatic re-login after an auth failure, then fatal.
		if base.IsKind(err, base.KindAuth) && !reloggedIn {
			reloggedIn = true
			d.sessions.Invalidate()
			d.log.Debug(requestID, "auth failure, re-establishing session", nil)
			continue
		}

		if !base.IsTransient(err) || attempt >= d.retry.MaxAttempts-1 {
			d.observe(method, start, err)
			d.log.Error(requestID, "dispatch failed", map[string]any{
				"method": method,
				"error":  d.redact.Err(err),
			})
			return nil, err
		}

		delay := d.retry.Delay(attempt)
		promDispatchRetries.Inc()
		d.log.Warn(requestID, "transient failure, retrying", map[string]any{
			"method":  method,
			"attempt": attempt + 1,
			"delay":   delay.String(),
			"error":   d.redact.Err(err),
		})
		if err := sleepCtx(ctx, delay); err != nil {
			return nil, err
		}
		attempt++
	}
}

// do issues a single HTTP attempt and classifies its outcome.
func (d *Dispatcher) do(ctx context.Context, sess *base.Session, method, resource string, query url.Values, body []byte, requestID string, fields *fieldmap.Map) (*base.Result, error) {
	reqURL := resourceURL(sess, resource)
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return nil, base.NewError(base.KindValidation, 0, "failed to build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	sess.Apply(req)

	attemptStart := time.Now()
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, base.ClassifyTransport(err, "request failed")
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, d.maxResponseSize+1))
	if err != nil {
		return nil, base.ClassifyTransport(err, "failed to read response")
	}
	if int64(len(raw)) > d.maxResponseSize {
		return nil, base.NewError(base.KindUnknown, resp.StatusCode,
			fmt.Sprintf("response exceeds limit of %d bytes", d.maxResponseSize), nil)
	}

	d.log.Debug(requestID, "remote call", map[string]any{
		"method":      method,
		"status":      resp.StatusCode,
		"duration_ms": float64(time.Since(attemptStart).Milliseconds()),
	})

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := string(raw)
		if len(snippet) > 200 {
			snippet = snippet[:200] + "..."
		}
		return nil, base.NewError(base.Classify(resp.StatusCode), resp.StatusCode, d.redact.String(snippet), nil)
	}

	result := &base.Result{StatusCode: resp.StatusCode, Raw: raw}
	if len(raw) == 0 {
		result.Body = map[string]any{}
		return result, nil
	}

	var parsed any
	if err := json.Unmarshal(raw, &parsed); err != nil {
		// Non-JSON success body; keep raw for diagnostics.
		result.Body = map[string]any{}
		return result, nil
	}

	switch v := parsed.(type) {
	case []any:
		result.Items = normalize.NormalizeList(v, fields)
	case map[string]any:
		result.Body = normalize.Normalize(v, fields)
	default:
		result.Body = map[string]any{}
	}
	return result, nil
}

// resourceURL builds {base_url}/{endpoint_name}/{endpoint_version}/{resource}.
func resourceURL(sess *base.Session, resource string) string {
	parts := []string{strings.TrimSuffix(sess.BaseURL, "/")}
	if sess.EndpointName != "" {
		parts = append(parts, sess.EndpointName)
	}
	if sess.EndpointVersion != "" {
		parts = append(parts, sess.EndpointVersion)
	}
	parts = append(parts, strings.TrimPrefix(resource, "/"))
	return strings.Join(parts, "/")
}

func (d *Dispatcher) observe(method string, start time.Time, err error) {
	promDispatchDuration.WithLabelValues(method).Observe(float64(time.Since(start).Milliseconds()))
	if err == nil {
		promDispatchTotal.WithLabelValues(method, "success").Inc()
		return
	}
	promDispatchTotal.WithLabelValues(method, "error").Inc()
	var ce *base.Error
	if errors.As(err, &ce) {
		promDispatchErrors.WithLabelValues(ce.Kind.String()).Inc()
	} else {
		promDispatchErrors.WithLabelValues("cancelled").Inc()
	}
}
