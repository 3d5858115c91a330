// Package vrchat holds the group-platform data model and its authenticated HTTP client.
package vrchat

import (
	"sort"
	"time"
)

// Permission is a fine-grained group permission as reported by the platform.
type Permission string

const (
	PermissionAll                 Permission = "*"
	PermissionViewAuditLogs       Permission = "group-audit-view"
	PermissionManageBans          Permission = "group-bans-manage"
	PermissionManageMembers       Permission = "group-members-manage"
	PermissionRemoveMembers       Permission = "group-members-remove"
	PermissionManageData          Permission = "group-data-manage"
	PermissionAssignRoles         Permission = "group-roles-assign"
	PermissionManageRoles         Permission = "group-roles-manage"
	PermissionManageInvites       Permission = "group-invites-manage"
	PermissionManageAnnouncements Permission = "group-announcement-manage"
)

// PermissionSet is an unordered set of granted permissions.
type PermissionSet map[Permission]struct{}

// NewPermissionSet builds a set from a list, dropping duplicates.
func NewPermissionSet(perms ...Permission) PermissionSet {
	s := make(PermissionSet, len(perms))
	for _, p := range perms {
		s[p] = struct{}{}
	}
	return s
}

// Has reports whether p is granted. The owner wildcard grants everything.
func (s PermissionSet) Has(p Permission) bool {
	if _, ok := s[PermissionAll]; ok {
		return true
	}
	_, ok := s[p]
	return ok
}

// ContainsAll reports whether every permission in required is granted.
func (s PermissionSet) ContainsAll(required []Permission) bool {
	for _, p := range required {
		if !s.Has(p) {
			return false
		}
	}
	return true
}

// Sorted returns the permissions in lexical order.
func (s PermissionSet) Sorted() []Permission {
	out := make([]Permission, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Group is a tracked group together with the permissions our account holds in it.
type Group struct {
	ID          string
	Name        string
	Permissions PermissionSet
}

// LogEntry is one audit-log record. Treated as immutable once fetched.
type LogEntry struct {
	ID          string    `json:"id"`
	GroupID     string    `json:"groupId"`
	CreatedAt   time.Time `json:"created_at"`
	EventType   string    `json:"eventType"`
	Description string    `json:"description"`
	ActorID     string    `json:"actorId,omitempty"`
	ActorName   string    `json:"actorDisplayName,omitempty"`
	TargetID    string    `json:"targetId,omitempty"`
}

// DefaultEventColor is used for event types without a dedicated color.
const DefaultEventColor = 0x000000

var eventLabels = map[string]string{
	"group.announcement.create":  "Announcement Created",
	"group.announcement.delete":  "Announcement Deleted",
	"group.instance.create":      "Instance Created",
	"group.instance.close":       "Instance Closed",
	"group.invite.create":        "Invite Sent",
	"group.invite.cancel":        "Invite Cancelled",
	"group.member.join":          "Member Joined",
	"group.member.leave":         "Member Left",
	"group.member.remove":        "Member Kicked",
	"group.member.role.assign":   "Role Assigned",
	"group.member.role.unassign": "Role Unassigned",
	"group.request.create":       "Join Requested",
	"group.request.reject":       "Join Request Rejected",
	"group.role.create":          "Role Created",
	"group.role.delete":          "Role Deleted",
	"group.role.update":          "Role Updated",
	"group.update":               "Group Updated",
	"group.user.ban":             "User Banned",
	"group.user.unban":           "User Unbanned",
}

var eventColors = map[string]int{
	"group.announcement.create":  0x5865F2,
	"group.announcement.delete":  0x99AAB5,
	"group.instance.create":      0x1ABC9C,
	"group.instance.close":       0x95A5A6,
	"group.invite.create":        0x3498DB,
	"group.invite.cancel":        0x95A5A6,
	"group.member.join":          0x2ECC71,
	"group.member.leave":         0xE67E22,
	"group.member.remove":        0xE74C3C,
	"group.member.role.assign":   0x9B59B6,
	"group.member.role.unassign": 0x8E44AD,
	"group.request.create":       0x3498DB,
	"group.request.reject":       0xE67E22,
	"group.role.create":          0x9B59B6,
	"group.role.delete":          0xC0392B,
	"group.role.update":          0x9B59B6,
	"group.update":               0xF1C40F,
	"group.user.ban":             0x992D22,
	"group.user.unban":           0x2ECC71,
}

// EventLabel returns a readable title for eventType, falling back to the raw tag.
func EventLabel(eventType string) string {
	if l, ok := eventLabels[eventType]; ok {
		return l
	}
	return eventType
}

// EventColor returns the fixed color for eventType, or DefaultEventColor.
func EventColor(eventType string) int {
	if c, ok := eventColors[eventType]; ok {
		return c
	}
	return DefaultEventColor
}
