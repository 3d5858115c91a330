// Package auditlog fetches new group audit-log entries incrementally.
package auditlog

import (
	"fmt"
	"maps"
	"strings"
	"time"
)

// Mode selects how watermarks advance after a cycle.
type Mode string

const (
	// ModePerGroup advances each group independently; a failed group keeps its
	// old watermark so the next cycle retries the same window.
	ModePerGroup Mode = "per-group"
	// ModeShared keeps one watermark for every group and advances it even
	// when some groups failed or were narrowed.
	ModeShared Mode = "shared"
)

// ParseMode parses a configured watermark mode. Empty means ModePerGroup.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModePerGroup:
		return ModePerGroup, nil
	case ModeShared:
		return ModeShared, nil
	default:
		return "", fmt.Errorf("unknown watermark mode %q", s)
	}
}

// State is the fetch watermark carried from one cycle to the next. It is a
// value: FetchNewLogs never mutates the State it is given.
type State struct {
	Mode Mode
	// Shared is the watermark in ModeShared and the starting point for groups
	// not yet seen in ModePerGroup.
	Shared time.Time
	Groups map[string]time.Time
}

// NewState starts every group at start.
func NewState(start time.Time, mode Mode) State {
	if mode == "" {
		mode = ModePerGroup
	}
	return State{Mode: mode, Shared: start, Groups: map[string]time.Time{}}
}

// Watermark is the earliest instant not yet retrieved for groupID.
func (s State) Watermark(groupID string) time.Time {
	if s.Mode == ModeShared {
		return s.Shared
	}
	if w, ok := s.Groups[groupID]; ok {
		return w
	}
	return s.Shared
}

// advance returns the next State given the cycle bound and each group's
// outcome. In ModePerGroup a failed group keeps its watermark and a narrowed
// group moves only to the end of the span it covered.
func (s State) advance(until time.Time, results []GroupResult) State {
	next := State{Mode: s.Mode, Shared: s.Shared, Groups: maps.Clone(s.Groups)}
	if next.Groups == nil {
		next.Groups = map[string]time.Time{}
	}
	if s.Mode == ModeShared {
		next.Shared = until
		return next
	}
	for _, r := range results {
		if r.Err != nil {
			continue
		}
		reached := r.Reached
		if reached.IsZero() || reached.After(until) {
			reached = until
		}
		next.Groups[r.GroupID] = reached
	}
	return next
}
