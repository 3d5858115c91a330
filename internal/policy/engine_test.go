package policy

import (
	"math/rand/v2"
	"reflect"
	"testing"

	"github.com/vrcbridge/vrcbridge/internal/capability"
	"github.com/vrcbridge/vrcbridge/internal/vrchat"
)

func banGroup(perms ...vrchat.Permission) vrchat.Group {
	return vrchat.Group{ID: "grp_a", Name: "Group A", Permissions: vrchat.NewPermissionSet(perms...)}
}

func enabledEverywhere(groupID string) OverrideMap {
	caps := map[capability.Capability]bool{}
	for _, c := range capability.Default.Capabilities() {
		caps[c] = true
	}
	return OverrideMap{groupID: caps}
}

func TestBanUnbanKickNeedsEveryPermission(t *testing.T) {
	eng := NewEvaluator(nil, enabledEverywhere("grp_a"))

	full := banGroup(vrchat.PermissionManageBans, vrchat.PermissionManageMembers, vrchat.PermissionRemoveMembers)
	if !eng.IsCapabilityEnabled(full, capability.BanUnbanKick) {
		t.Fatal("banUnbanKick should be enabled with all three permissions")
	}

	partial := banGroup(vrchat.PermissionManageBans, vrchat.PermissionManageMembers)
	d := eng.Evaluate(partial, capability.BanUnbanKick)
	if d.Allow {
		t.Fatal("banUnbanKick should be denied without group-members-remove")
	}
	if want := []vrchat.Permission{vrchat.PermissionRemoveMembers}; !reflect.DeepEqual(d.Missing, want) {
		t.Fatalf("missing = %v, want %v", d.Missing, want)
	}
	if d.Reason != "missing_permissions: group-members-remove" {
		t.Fatalf("unexpected reason: %s", d.Reason)
	}
}

func TestZeroPermissionsDisablesEverything(t *testing.T) {
	eng := NewEvaluator(nil, enabledEverywhere("grp_a"))
	g := banGroup()
	for _, c := range capability.Default.Capabilities() {
		if len(capability.Default.Requirements(c)) == 0 {
			t.Fatalf("capability %s has no requirements", c)
		}
		if eng.IsCapabilityEnabled(g, c) {
			t.Fatalf("capability %s enabled with zero permissions", c)
		}
	}
}

func TestConfigCanDisableButNeverEnable(t *testing.T) {
	g := banGroup(vrchat.PermissionViewAuditLogs)

	disabled := NewEvaluator(nil, OverrideMap{"grp_a": {capability.Logs: false}})
	d := disabled.Evaluate(g, capability.Logs)
	if d.Allow {
		t.Fatal("logs should be disabled by config")
	}
	if d.Reason != "disabled_by_config" {
		t.Fatalf("unexpected reason: %s", d.Reason)
	}

	eng := NewEvaluator(nil, OverrideMap{"grp_a": {capability.Invite: true}})
	if eng.IsCapabilityEnabled(g, capability.Invite) {
		t.Fatal("config must not enable invite without group-invites-manage")
	}
}

func TestUnconfiguredGroupFailsClosed(t *testing.T) {
	g := banGroup(vrchat.PermissionAll)
	eng := NewEvaluator(nil, OverrideMap{"grp_other": {capability.Logs: true}})
	d := eng.Evaluate(g, capability.Logs)
	if d.Allow {
		t.Fatal("unconfigured group should be denied")
	}
	if d.Reason != "not_configured" {
		t.Fatalf("unexpected reason: %s", d.Reason)
	}

	eng = NewEvaluator(nil, OverrideMap{"grp_a": {capability.Invite: true}})
	if eng.IsCapabilityEnabled(g, capability.Logs) {
		t.Fatal("missing capability key must fail closed")
	}
}

func TestOwnerWildcardSatisfiesRequirements(t *testing.T) {
	eng := NewEvaluator(nil, enabledEverywhere("grp_a"))
	g := banGroup(vrchat.PermissionAll)
	for _, c := range capability.Default.Capabilities() {
		if !eng.IsCapabilityEnabled(g, c) {
			t.Fatalf("owner wildcard should enable %s", c)
		}
	}
}

func TestExplicitEmptyRequirementIsAlwaysSatisfied(t *testing.T) {
	reg := capability.MustRegistry(capability.Entry{Capability: "ping"})
	eng := NewEvaluator(reg, OverrideMap{"grp_a": {"ping": true}})
	if !eng.IsCapabilityEnabled(banGroup(), "ping") {
		t.Fatal("empty requirement list should be satisfied by any group")
	}
	if !HasAllPermissions(vrchat.NewPermissionSet(), nil) {
		t.Fatal("empty required list should be covered by an empty granted set")
	}
}

func TestUnknownCapabilityPanicsAtCallSite(t *testing.T) {
	eng := NewEvaluator(nil, nil)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for unknown capability")
		}
	}()
	eng.IsCapabilityEnabled(banGroup(), "teleport")
}

func TestEligiblePreservesOrder(t *testing.T) {
	groups := []vrchat.Group{
		{ID: "g1", Permissions: vrchat.NewPermissionSet(vrchat.PermissionViewAuditLogs)},
		{ID: "g2", Permissions: vrchat.NewPermissionSet()},
		{ID: "g3", Permissions: vrchat.NewPermissionSet(vrchat.PermissionViewAuditLogs)},
		{ID: "g4", Permissions: vrchat.NewPermissionSet(vrchat.PermissionViewAuditLogs)},
	}
	eng := NewEvaluator(nil, OverrideMap{
		"g1": {capability.Logs: true},
		"g2": {capability.Logs: true},
		"g3": {capability.Logs: true},
		"g4": {capability.Logs: false},
	})
	got := eng.Eligible(groups, capability.Logs)
	if len(got) != 2 || got[0].ID != "g1" || got[1].ID != "g3" {
		t.Fatalf("eligible = %v, want [g1 g3]", got)
	}
}

func TestEnabledCommands(t *testing.T) {
	eng := NewEvaluator(nil, OverrideMap{"grp_a": {capability.Logs: true, capability.Invite: true}})
	g := banGroup(vrchat.PermissionViewAuditLogs, vrchat.PermissionManageInvites)
	var names []string
	for _, c := range eng.EnabledCommands(g) {
		names = append(names, c.Name)
	}
	if want := []string{"logs", "invite"}; !reflect.DeepEqual(names, want) {
		t.Fatalf("commands = %v, want %v", names, want)
	}
}

// Random permission sets against random requirement sets: enabled iff the
// granted set is a superset of the required set and config enables it.
func TestIsCapabilityEnabledMatchesSupersetProperty(t *testing.T) {
	universe := []vrchat.Permission{
		vrchat.PermissionViewAuditLogs,
		vrchat.PermissionManageBans,
		vrchat.PermissionManageMembers,
		vrchat.PermissionRemoveMembers,
		vrchat.PermissionManageData,
		vrchat.PermissionAssignRoles,
		vrchat.PermissionManageRoles,
		vrchat.PermissionManageInvites,
		vrchat.PermissionManageAnnouncements,
	}
	pick := func(r *rand.Rand) []vrchat.Permission {
		var out []vrchat.Permission
		for _, p := range universe {
			if r.IntN(2) == 0 {
				out = append(out, p)
			}
		}
		return out
	}

	r := rand.New(rand.NewPCG(42, 1337))
	for i := 0; i < 2000; i++ {
		required := pick(r)
		granted := pick(r)
		configOn := r.IntN(4) != 0

		reg := capability.MustRegistry(capability.Entry{Capability: "x", Requires: required})
		eng := NewEvaluator(reg, OverrideMap{"g": {"x": configOn}})
		g := vrchat.Group{ID: "g", Permissions: vrchat.NewPermissionSet(granted...)}

		superset := true
		grantedSet := map[vrchat.Permission]bool{}
		for _, p := range granted {
			grantedSet[p] = true
		}
		for _, p := range required {
			if !grantedSet[p] {
				superset = false
				break
			}
		}

		if got := HasAllPermissions(g.Permissions, required); got != superset {
			t.Fatalf("iteration %d: HasAllPermissions=%v, want %v (required=%v granted=%v)",
				i, got, superset, required, granted)
		}
		if got := eng.IsCapabilityEnabled(g, "x"); got != (superset && configOn) {
			t.Fatalf("iteration %d: enabled=%v, want %v (required=%v granted=%v config=%v)",
				i, got, superset && configOn, required, granted, configOn)
		}
	}
}
