// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package base

import (
	"encoding/json"
	"net/http"
	"net/url"
	"time"
)

// AuthMode selects how the session manager authenticates against the
// remote ERP system. It is fixed at construction.
type AuthMode string

const (
	// AuthModeSession logs in with credentials and holds a cookie session.
	AuthModeSession AuthMode = "session"
	// AuthModeOAuth attaches a bearer token obtained outside the core.
	AuthModeOAuth AuthMode = "oauth"
)

// Session is the authenticated identity against the remote endpoint.
// It is owned exclusively by the session manager; other components hold
// read-only snapshots and never mutate it.
type Session struct {
	BaseURL         string
	EndpointName    string
	EndpointVersion string
	Mode            AuthMode
	Token           string         // bearer token (oauth mode)
	Cookies         []*http.Cookie // session identity (session mode)
	Tenant          string
	Branch          string
	EstablishedAt   time.Time
	ExpiresAt       time.Time // zero means no known expiry
}

// Expired reports whether the session is past its expiry estimate.
// A 30 second skew is applied so a session is refreshed before the remote
// side actually drops it mid-request.
func (s *Session) Expired() bool {
	if s == nil {
		return true
	}
	if s.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().Add(30 * time.Second).After(s.ExpiresAt)
}

// Apply attaches the session identity to an outgoing request. Tenant and
// branch are bound to the login in session mode; in oauth mode they travel
// as headers instead, never both.
func (s *Session) Apply(req *http.Request) {
	switch s.Mode {
	case AuthModeOAuth:
		if s.Token != "" {
			req.Header.Set("Authorization", "Bearer "+s.Token)
		}
		if s.Tenant != "" {
			req.Header.Set("X-Tenant", s.Tenant)
		}
		if s.Branch != "" {
			req.Header.Set("X-Branch", s.Branch)
		}
	default:
		for _, c := range s.Cookies {
			req.AddCookie(c)
		}
	}
}

// Request is the value object describing one remote call. Constructed per
// dispatch, never retained.
type Request struct {
	Method  string
	Path    string
	Query   url.Values
	Body    map[string]any
	Headers http.Header
}

// Result is the normalized outcome of a successful dispatch. Body holds a
// single normalized record, Items a normalized record list for search-type
// responses; exactly one of the two is populated. Raw is kept for
// diagnostics only and must pass redaction before being surfaced.
type Result struct {
	StatusCode int
	Body       map[string]any
	Items      []map[string]any
	Raw        json.RawMessage
}
