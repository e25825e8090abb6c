// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package base

import (
	"regexp"
	"strings"
)

// Marker replaces every credential, token and tenant identifier before a
// value reaches any log or observability hook.
const Marker = "[REDACTED]"

const maxLogLength = 500

var ansiRegex = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// sensitiveKeys are field names whose values are always masked regardless
// of whether the value is registered with the redactor.
var sensitiveKeys = map[string]struct{}{
	"password":      {},
	"token":         {},
	"access_token":  {},
	"refresh_token": {},
	"secret":        {},
	"api_key":       {},
	"authorization": {},
	"tenant":        {},
	"company":       {},
}

// Redactor masks a fixed set of secret values in strings and field maps.
// The set is established at construction and never grows mid-flight, so a
// redactor is safe for concurrent use.
type Redactor struct {
	secrets []string
}

// NewRedactor builds a redactor for the given secret values. Empty values
// are ignored.
func NewRedactor(values ...string) *Redactor {
	r := &Redactor{}
	for _, v := range values {
		if v != "" {
			r.secrets = append(r.secrets, v)
		}
	}
	return r
}

// String masks registered secrets in s, strips control sequences that
// would allow log injection, and truncates oversized values.
func (r *Redactor) String(s string) string {
	for _, secret := range r.secrets {
		s = strings.ReplaceAll(s, secret, Marker)
	}
	s = strings.ReplaceAll(s, "\n", "\\n")
	s = strings.ReplaceAll(s, "\r", "\\r")
	s = ansiRegex.ReplaceAllString(s, "")
	if len(s) > maxLogLength {
		s = s[:maxLogLength] + "...[truncated]"
	}
	return s
}

// Fields returns a masked copy of a log field map. Sensitive keys are
// masked outright; string values go through String. The input is never
// mutated.
func (r *Redactor) Fields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if _, ok := sensitiveKeys[strings.ToLower(k)]; ok {
			out[k] = Marker
			continue
		}
		switch val := v.(type) {
		case string:
			out[k] = r.String(val)
		case map[string]any:
			out[k] = r.Fields(val)
		default:
			out[k] = v
		}
	}
	return out
}

// Err masks a classified error's message for logging. Non-classified
// errors are stringified through String.
func (r *Redactor) Err(err error) string {
	if err == nil {
		return ""
	}
	return r.String(err.Error())
}
