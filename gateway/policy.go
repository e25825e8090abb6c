// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1

package gateway

// PolicyDecider answers whether a role may invoke a tool. The gateway
// passes role and tool and gets back a boolean; policy semantics live
// entirely behind this interface.
type PolicyDecider interface {
	Allow(role string, tool *Tool) bool
}

// AllowAll permits every invocation. Useful in tests and single-tenant
// deployments where the orchestrator enforces policy upstream.
type AllowAll struct{}

// Allow always returns true.
func (AllowAll) Allow(string, *Tool) bool { return true }

// CapabilityPolicy gates execute-capability tools behind a writer role
// set; query tools are open to any role.
type CapabilityPolicy struct {
	writers map[string]bool
}

// NewCapabilityPolicy creates a policy where only the given roles may
// invoke execute-capability tools.
func NewCapabilityPolicy(writerRoles ...string) *CapabilityPolicy {
	writers := make(map[string]bool, len(writerRoles))
	for _, r := range writerRoles {
		writers[r] = true
	}
	return &CapabilityPolicy{writers: writers}
}

// Allow permits query tools for everyone and execute tools for writer
// roles only.
func (p *CapabilityPolicy) Allow(role string, tool *Tool) bool {
	if tool.Capability != CapabilityExecute {
		return true
	}
	return p.writers[role]
}
