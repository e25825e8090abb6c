// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package session owns the authenticated session against the remote ERP
// endpoint: one live session per (tenant, credential) pair, established
// lazily, shared by concurrent dispatches, and re-established at most once
// after an authentication failure.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"axonflow/erplink/erp/base"
	"axonflow/erplink/shared/logger"
)

// DefaultSessionTTL is the expiry estimate for cookie sessions when the
// remote side does not advertise one.
const DefaultSessionTTL = 30 * time.Minute

// loginPath and logoutPath follow the remote auth surface under the base
// URL, outside the versioned endpoint prefix.
const (
	loginPath  = "/entity/auth/login"
	logoutPath = "/entity/auth/logout"
)

// TokenSource supplies a bearer token from an external OAuth flow. The
// core never runs the flow itself; it only attaches the result and calls
// the source again when the token expires.
type TokenSource func(ctx context.Context) (token string, expiresAt time.Time, err error)

// Config fixes the authentication mode and identity at construction.
type Config struct {
	BaseURL         string
	EndpointName    string
	EndpointVersion string
	Mode            base.AuthMode

	// Session-mode credentials.
	Username string
	Password string
	Locale   string

	// OAuth-mode token, either static or refreshed via TokenSource.
	Token       string
	TokenSource TokenSource

	Tenant string
	Branch string

	SessionTTL time.Duration
	HTTPClient *http.Client
	Logger     *logger.Logger
}

// flight is one in-progress login shared by all callers awaiting it.
type flight struct {
	done chan struct{}
	sess *base.Session
	err  error
}

// Manager is the exclusive owner of the session. Other components read
// snapshots via Ensure and report auth failures via Invalidate; they never
// mutate session state directly.
type Manager struct {
	cfg    Config
	client *http.Client
	log    *logger.Logger

	mu       sync.Mutex
	current  *base.Session
	inflight *flight
}

// NewManager creates a session manager. The mode is fixed for the
// manager's lifetime.
func NewManager(cfg Config) (*Manager, error) {
	switch cfg.Mode {
	case base.AuthModeSession:
		if cfg.Username == "" || cfg.Password == "" {
			return nil, fmt.Errorf("session mode requires a username and password")
		}
	case base.AuthModeOAuth:
		if cfg.Token == "" && cfg.TokenSource == nil {
			return nil, fmt.Errorf("oauth mode requires a token or a token source")
		}
	default:
		return nil, fmt.Errorf("unsupported auth mode %q", cfg.Mode)
	}

	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = DefaultSessionTTL
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	log := cfg.Logger
	if log == nil {
		log = logger.New("erp-session", "INFO")
	}

	return &Manager{cfg: cfg, client: client, log: log}, nil
}

// Ensure returns a valid session, establishing one if none exists or the
// held session is known-expired. Concurrent calls while no valid session
// exists collapse into a single login; every caller receives that login's
// outcome. Failed logins are not retried here — the single post-401 retry
// belongs to the dispatcher.
func (m *Manager) Ensure(ctx context.Context) (*base.Session, error) {
	for {
		m.mu.Lock()
		if m.current != nil && !m.current.Expired() {
			s := m.current
			m.mu.Unlock()
			return s, nil
		}

		if m.inflight == nil {
			f := &flight{done: make(chan struct{})}
			m.inflight = f
			m.mu.Unlock()

			sess, err := m.login(ctx)

			m.mu.Lock()
			if err == nil {
				m.current = sess
			}
			f.sess, f.err = sess, err
			m.inflight = nil
			m.mu.Unlock()
			close(f.done)
			return sess, err
		}

		f := m.inflight
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-f.done:
		}
		if f.err != nil {
			return nil, f.err
		}
		if f.sess != nil && !f.sess.Expired() {
			return f.sess, nil
		}
		// Leader's session already expired; loop and establish a fresh one.
	}
}

// Invalidate marks the held session dead. Called by the dispatcher when a
// request is classified as an authentication failure.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	m.current = nil
	m.mu.Unlock()
	m.log.Debug("", "session invalidated", nil)
}

// Logout closes the remote session if one is held. Best effort; used at
// process shutdown.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	s := m.current
	m.current = nil
	m.mu.Unlock()

	if s == nil || s.Mode != base.AuthModeSession {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.BaseURL+logoutPath, nil)
	if err != nil {
		return err
	}
	s.Apply(req)

	resp, err := m.client.Do(req)
	if err != nil {
		return base.ClassifyTransport(err, "logout request failed")
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
	return nil
}

func (m *Manager) login(ctx context.Context) (*base.Session, error) {
	switch m.cfg.Mode {
	case base.AuthModeOAuth:
		return m.bearerSession(ctx)
	default:
		return m.cookieSession(ctx)
	}
}

// cookieSession submits credentials, tenant, branch and locale, and holds
// the resulting cookie identity.
func (m *Manager) cookieSession(ctx context.Context) (*base.Session, error) {
	payload := map[string]string{
		"name":     m.cfg.Username,
		"password": m.cfg.Password,
	}
	if m.cfg.Tenant != "" {
		payload["tenant"] = m.cfg.Tenant
	}
	if m.cfg.Branch != "" {
		payload["branch"] = m.cfg.Branch
	}
	if m.cfg.Locale != "" {
		payload["locale"] = m.cfg.Locale
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal login payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.BaseURL+loginPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, base.ClassifyTransport(err, "login request failed")
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		kind := base.Classify(resp.StatusCode)
		if kind == base.KindUnknown || resp.StatusCode == 403 {
			kind = base.KindAuth
		}
		return nil, base.NewError(kind, resp.StatusCode, "login rejected", nil)
	}

	now := time.Now()
	s := &base.Session{
		BaseURL:         m.cfg.BaseURL,
		EndpointName:    m.cfg.EndpointName,
		EndpointVersion: m.cfg.EndpointVersion,
		Mode:            base.AuthModeSession,
		Cookies:         resp.Cookies(),
		Tenant:          m.cfg.Tenant,
		Branch:          m.cfg.Branch,
		EstablishedAt:   now,
		ExpiresAt:       now.Add(m.cfg.SessionTTL),
	}
	m.log.Info("", "session established", map[string]any{"mode": string(s.Mode)})
	return s, nil
}

// bearerSession attaches a pre-supplied or source-refreshed bearer token.
func (m *Manager) bearerSession(ctx context.Context) (*base.Session, error) {
	token := m.cfg.Token
	var expiresAt time.Time

	if m.cfg.TokenSource != nil {
		var err error
		token, expiresAt, err = m.cfg.TokenSource(ctx)
		if err != nil {
			return nil, base.NewError(base.KindAuth, 0, "token source failed", err)
		}
	}
	if token == "" {
		return nil, base.NewError(base.KindAuth, 0, "no bearer token available", nil)
	}
	if expiresAt.IsZero() {
		expiresAt = tokenExpiry(token)
	}

	s := &base.Session{
		BaseURL:         m.cfg.BaseURL,
		EndpointName:    m.cfg.EndpointName,
		EndpointVersion: m.cfg.EndpointVersion,
		Mode:            base.AuthModeOAuth,
		Token:           token,
		Tenant:          m.cfg.Tenant,
		Branch:          m.cfg.Branch,
		EstablishedAt:   time.Now(),
		ExpiresAt:       expiresAt,
	}
	m.log.Info("", "session established", map[string]any{"mode": string(s.Mode)})
	return s, nil
}

// tokenExpiry estimates expiry from the token's exp claim. The parse is
// unverified: signature validation is the remote system's job, we only
// need a refresh hint. Opaque tokens yield no expiry.
func tokenExpiry(token string) time.Time {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
