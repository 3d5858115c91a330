// Package notify renders audit-log entries into display blocks and delivers
// them to a chat channel in fixed-size batches.
package notify

import (
	"time"

	"github.com/vrcbridge/vrcbridge/internal/vrchat"
)

// UnknownGroupName is the author label for groups no longer in the registry.
const UnknownGroupName = "Unknown"

// Block is one rendered log entry, ready for a chat platform.
type Block struct {
	Title       string    `json:"title"`
	Color       int       `json:"color"`
	Author      string    `json:"author"`
	Description string    `json:"description"`
	Footer      string    `json:"footer,omitempty"`
	Timestamp   time.Time `json:"timestamp"`

	GroupID   string `json:"groupId"`
	EntryID   string `json:"entryId,omitempty"`
	EventType string `json:"eventType"`
}

// GroupLogs is one group's chronologically ordered entries.
type GroupLogs struct {
	GroupID string
	Entries []vrchat.LogEntry
}

// GroupNames resolves a group ID to its display name.
type GroupNames interface {
	GroupName(groupID string) (string, bool)
}

// NameMap is a static GroupNames.
type NameMap map[string]string

// GroupName implements GroupNames.
func (m NameMap) GroupName(groupID string) (string, bool) {
	n, ok := m[groupID]
	return n, ok
}

// RenderEntry renders a single entry under the given author label.
func RenderEntry(author string, e vrchat.LogEntry) Block {
	b := Block{
		Title:       vrchat.EventLabel(e.EventType),
		Color:       vrchat.EventColor(e.EventType),
		Author:      author,
		Description: e.Description,
		Timestamp:   e.CreatedAt,
		GroupID:     e.GroupID,
		EntryID:     e.ID,
		EventType:   e.EventType,
	}
	if e.TargetID != "" {
		b.Footer = "Target: " + e.TargetID
	}
	return b
}

// Render flattens logs into blocks: groups in the order given, entries in the
// order given within each group.
func Render(logs []GroupLogs, names GroupNames) []Block {
	var out []Block
	for _, gl := range logs {
		author := UnknownGroupName
		if names != nil {
			if n, ok := names.GroupName(gl.GroupID); ok && n != "" {
				author = n
			}
		}
		for _, e := range gl.Entries {
			if e.GroupID == "" {
				e.GroupID = gl.GroupID
			}
			out = append(out, RenderEntry(author, e))
		}
	}
	return out
}
