// Package capability maps operator-facing capabilities to the group
// permissions they require and the commands they unlock.
package capability

import (
	"fmt"
	"sort"

	"github.com/vrcbridge/vrcbridge/internal/vrchat"
)

// Capability is an abstract, permission-gated feature.
type Capability string

const (
	Logs         Capability = "logs"
	BanUnbanKick Capability = "banUnbanKick"
	EditGroup    Capability = "editGroup"
	ManageRoles  Capability = "manageRoles"
	Invite       Capability = "invite"
	Announcement Capability = "announcement"
)

// Command is an operator command governed by a capability.
type Command struct {
	Name        string
	Description string
}

// Entry describes one capability: ALL of Requires must be granted.
type Entry struct {
	Capability Capability
	Requires   []vrchat.Permission
	Commands   []Command
}

// Registry is a read-only capability table. Build it once with NewRegistry.
type Registry struct {
	entries map[Capability]Entry
	order   []Capability
}

// NewRegistry builds a registry from explicit entries. Duplicate capabilities
// are rejected; an entry with no requirements is allowed only because it is
// listed here.
func NewRegistry(entries ...Entry) (*Registry, error) {
	r := &Registry{entries: make(map[Capability]Entry, len(entries))}
	for _, e := range entries {
		if e.Capability == "" {
			return nil, fmt.Errorf("capability registry: empty capability name")
		}
		if _, dup := r.entries[e.Capability]; dup {
			return nil, fmt.Errorf("capability registry: duplicate capability %q", e.Capability)
		}
		e.Requires = dedupe(e.Requires)
		e.Commands = append([]Command(nil), e.Commands...)
		r.entries[e.Capability] = e
		r.order = append(r.order, e.Capability)
	}
	return r, nil
}

// MustRegistry is NewRegistry that panics on error.
func MustRegistry(entries ...Entry) *Registry {
	r, err := NewRegistry(entries...)
	if err != nil {
		panic(err)
	}
	return r
}

// Default is the built-in capability table.
var Default = MustRegistry(
	Entry{
		Capability: Logs,
		Requires:   []vrchat.Permission{vrchat.PermissionViewAuditLogs},
		Commands:   []Command{{Name: "logs", Description: "Mirror the group audit log"}},
	},
	Entry{
		Capability: BanUnbanKick,
		Requires: []vrchat.Permission{
			vrchat.PermissionManageBans,
			vrchat.PermissionManageMembers,
			vrchat.PermissionRemoveMembers,
		},
		Commands: []Command{
			{Name: "ban", Description: "Ban a user from the group"},
			{Name: "unban", Description: "Lift a group ban"},
			{Name: "kick", Description: "Remove a member from the group"},
		},
	},
	Entry{
		Capability: EditGroup,
		Requires:   []vrchat.Permission{vrchat.PermissionManageData},
		Commands:   []Command{{Name: "group-edit", Description: "Edit group details"}},
	},
	Entry{
		Capability: ManageRoles,
		Requires:   []vrchat.Permission{vrchat.PermissionAssignRoles, vrchat.PermissionManageRoles},
		Commands: []Command{
			{Name: "role-assign", Description: "Assign a role to a member"},
			{Name: "role-unassign", Description: "Remove a role from a member"},
		},
	},
	Entry{
		Capability: Invite,
		Requires:   []vrchat.Permission{vrchat.PermissionManageInvites},
		Commands:   []Command{{Name: "invite", Description: "Invite a user to the group"}},
	},
	Entry{
		Capability: Announcement,
		Requires:   []vrchat.Permission{vrchat.PermissionManageAnnouncements},
		Commands:   []Command{{Name: "announce", Description: "Post a group announcement"}},
	},
)

// Has reports whether c is registered.
func (r *Registry) Has(c Capability) bool {
	_, ok := r.entries[c]
	return ok
}

// Capabilities lists registered capabilities in registration order.
func (r *Registry) Capabilities() []Capability {
	return append([]Capability(nil), r.order...)
}

// Requirements returns the permissions c requires. Looking up an unknown
// capability is a programming error and panics.
func (r *Registry) Requirements(c Capability) []vrchat.Permission {
	return append([]vrchat.Permission(nil), r.mustEntry(c).Requires...)
}

// Commands returns the commands c unlocks. Panics on unknown capability.
func (r *Registry) Commands(c Capability) []Command {
	return append([]Command(nil), r.mustEntry(c).Commands...)
}

func (r *Registry) mustEntry(c Capability) Entry {
	e, ok := r.entries[c]
	if !ok {
		panic(fmt.Sprintf("capability: unknown capability %q", c))
	}
	return e
}

func dedupe(perms []vrchat.Permission) []vrchat.Permission {
	seen := make(map[vrchat.Permission]struct{}, len(perms))
	out := make([]vrchat.Permission, 0, len(perms))
	for _, p := range perms {
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// Names returns the string names of every registered capability, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.order))
	for _, c := range r.order {
		out = append(out, string(c))
	}
	sort.Strings(out)
	return out
}
