// Package policy decides which capabilities are enabled for a group.
package policy

import (
	"fmt"
	"strings"

	"github.com/vrcbridge/vrcbridge/internal/capability"
	"github.com/vrcbridge/vrcbridge/internal/vrchat"
)

// Overrides is the per-group capability configuration.
// configured is false when the group or the capability key is absent.
type Overrides interface {
	CapabilityEnabled(groupID string, c capability.Capability) (enabled, configured bool)
}

// OverrideMap is an in-memory Overrides keyed by group ID.
type OverrideMap map[string]map[capability.Capability]bool

// CapabilityEnabled implements Overrides.
func (m OverrideMap) CapabilityEnabled(groupID string, c capability.Capability) (bool, bool) {
	caps, ok := m[groupID]
	if !ok {
		return false, false
	}
	v, ok := caps[c]
	return v, ok
}

// Decision is the result of a capability evaluation.
type Decision struct {
	Allow      bool
	Reason     string
	Capability capability.Capability
	GroupID    string
	Missing    []vrchat.Permission
}

// HasAllPermissions reports whether granted covers every permission in required.
// An empty required list is satisfied by any granted set.
func HasAllPermissions(granted vrchat.PermissionSet, required []vrchat.Permission) bool {
	return granted.ContainsAll(required)
}

// MissingPermissions lists the required permissions that granted lacks, in
// requirement order.
func MissingPermissions(granted vrchat.PermissionSet, required []vrchat.Permission) []vrchat.Permission {
	var missing []vrchat.Permission
	for _, p := range required {
		if !granted.Has(p) {
			missing = append(missing, p)
		}
	}
	return missing
}

// Evaluator combines the capability registry with configuration overrides.
// A capability is enabled only when the group holds every required permission
// and configuration explicitly enables it. Anything unconfigured is denied.
type Evaluator struct {
	Registry  *capability.Registry
	Overrides Overrides
}

// NewEvaluator creates an Evaluator. A nil registry uses capability.Default.
func NewEvaluator(reg *capability.Registry, overrides Overrides) *Evaluator {
	if reg == nil {
		reg = capability.Default
	}
	if overrides == nil {
		overrides = OverrideMap{}
	}
	return &Evaluator{Registry: reg, Overrides: overrides}
}

// Evaluate explains whether c is enabled for g. Unknown capabilities panic.
func (e *Evaluator) Evaluate(g vrchat.Group, c capability.Capability) Decision {
	d := Decision{Capability: c, GroupID: g.ID}

	required := e.Registry.Requirements(c)
	if !HasAllPermissions(g.Permissions, required) {
		d.Missing = MissingPermissions(g.Permissions, required)
		d.Reason = "missing_permissions: " + joinPermissions(d.Missing)
		return d
	}

	enabled, configured := e.Overrides.CapabilityEnabled(g.ID, c)
	switch {
	case !configured:
		d.Reason = "not_configured"
	case !enabled:
		d.Reason = "disabled_by_config"
	default:
		d.Allow = true
		d.Reason = fmt.Sprintf("enabled_%s", c)
	}
	return d
}

// IsCapabilityEnabled reports whether c is enabled for g.
func (e *Evaluator) IsCapabilityEnabled(g vrchat.Group, c capability.Capability) bool {
	return e.Evaluate(g, c).Allow
}

// Eligible filters groups down to those with c enabled, preserving order.
func (e *Evaluator) Eligible(groups []vrchat.Group, c capability.Capability) []vrchat.Group {
	out := make([]vrchat.Group, 0, len(groups))
	for _, g := range groups {
		if e.IsCapabilityEnabled(g, c) {
			out = append(out, g)
		}
	}
	return out
}

// EnabledCommands lists the commands unlocked for g across all capabilities.
func (e *Evaluator) EnabledCommands(g vrchat.Group) []capability.Command {
	var out []capability.Command
	for _, c := range e.Registry.Capabilities() {
		if e.IsCapabilityEnabled(g, c) {
			out = append(out, e.Registry.Commands(c)...)
		}
	}
	return out
}

func joinPermissions(perms []vrchat.Permission) string {
	parts := make([]string, len(perms))
	for i, p := range perms {
		parts[i] = string(p)
	}
	return strings.Join(parts, ",")
}
