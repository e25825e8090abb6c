// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

// Package base defines the shared vocabulary of the ERP client core: the
// session and request/result value types, the normalized error taxonomy
// every remote failure is classified into, and the redaction pass applied
// to anything that reaches a log or metrics hook.
//
// Components higher in the stack (session manager, dispatcher, idempotency
// guard) depend on this package only; it has no dependencies of its own
// beyond the standard library.
package base
