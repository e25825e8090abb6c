// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package main is the entry point for the ERPLink gateway service.
//
// ERPLink exposes remote ERP operations as schema-described tools that
// agent orchestrators invoke over HTTP. It owns the remote session,
// translates field names through a per-tenant overlay, retries transient
// failures, and deduplicates create operations by external reference.
//
// Usage:
//
//	./erplink
//
// Environment Variables:
//
//	ERP_BASE_URL  - remote ERP base URL (required)
//	ERP_AUTH_MODE - "session" or "oauth" (default: session)
//	ERP_USERNAME / ERP_PASSWORD - session-mode credentials
//	ERP_TOKEN     - oauth-mode bearer token
//	PORT          - HTTP server port (default: 8080)
//
// See erp/config for the full configuration surface.
package main

import (
	"fmt"
	"os"

	"axonflow/erplink/gateway"
)

func main() {
	if err := gateway.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "erplink: %v\n", err)
		os.Exit(1)
	}
}
