package auditlog

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vrcbridge/vrcbridge/internal/vrchat"
)

// Source retrieves raw audit-log entries for one group.
type Source interface {
	AuditLogs(ctx context.Context, groupID string, q vrchat.AuditLogQuery) ([]vrchat.LogEntry, error)
}

// GroupResult is the outcome of fetching one group. A failed group has Err set
// and no entries; a group with nothing new has an empty, non-nil Entries.
// Reached is the end of the span actually covered: Until, or earlier when the
// window had to be narrowed to fit the page limit.
type GroupResult struct {
	GroupID string
	Since   time.Time
	Until   time.Time
	Reached time.Time
	Entries []vrchat.LogEntry
	Err     error
}

// Failed reports whether the fetch for this group failed.
func (r GroupResult) Failed() bool { return r.Err != nil }

// Truncated reports whether only part of the window was fetched.
func (r GroupResult) Truncated() bool { return !r.Failed() && r.Reached.Before(r.Until) }

// Result holds one cycle's per-group outcomes in the order groups were given.
type Result struct {
	CycleStart time.Time
	Groups     []GroupResult
}

// EntryCount is the total number of entries fetched.
func (r Result) EntryCount() int {
	n := 0
	for _, g := range r.Groups {
		n += len(g.Entries)
	}
	return n
}

// Failures returns the groups whose fetch failed.
func (r Result) Failures() []GroupResult {
	var out []GroupResult
	for _, g := range r.Groups {
		if g.Failed() {
			out = append(out, g)
		}
	}
	return out
}

// Lookup returns the result for groupID.
func (r Result) Lookup(groupID string) (GroupResult, bool) {
	for _, g := range r.Groups {
		if g.GroupID == groupID {
			return g, true
		}
	}
	return GroupResult{}, false
}

// Fetcher retrieves new entries for every eligible group in a cycle.
type Fetcher struct {
	Source         Source
	RequestTimeout time.Duration
	MaxConcurrent  int
	PageSize       int
	MaxPages       int
	// MaxSplits bounds how many times a window is halved when it does not fit
	// in MaxPages pages.
	MaxSplits int
	Now       func() time.Time
}

// NewFetcher creates a Fetcher with default limits.
func NewFetcher(src Source) *Fetcher {
	return &Fetcher{
		Source:         src,
		RequestTimeout: 30 * time.Second,
		MaxConcurrent:  4,
		PageSize:       100,
		MaxPages:       20,
		MaxSplits:      8,
		Now:            time.Now,
	}
}

// FetchNewLogs requests [watermark, cycleStart) for every group concurrently,
// waits for all of them, and returns the results together with the advanced
// State. A failing group never aborts the others. A window too large for the
// page limit is narrowed to a prefix that fits, and the group resumes from the
// end of that prefix next cycle. Entries are sorted by creation time; ties
// keep the order the platform returned them in.
func (f *Fetcher) FetchNewLogs(ctx context.Context, groups []vrchat.Group, state State) (Result, State) {
	now := time.Now
	if f.Now != nil {
		now = f.Now
	}
	cycleStart := now()
	results := make([]GroupResult, len(groups))

	var eg errgroup.Group
	if f.MaxConcurrent > 0 {
		eg.SetLimit(f.MaxConcurrent)
	}
	for i, g := range groups {
		since := state.Watermark(g.ID)
		results[i] = GroupResult{GroupID: g.ID, Since: since, Until: cycleStart, Reached: since}
		eg.Go(func() error {
			entries, reached, err := f.fetchGroup(ctx, g.ID, since, cycleStart)
			if err != nil {
				slog.Warn("Audit log fetch failed", "group", g.ID, "since", since, "error", err)
				results[i].Err = err
				return nil
			}
			if reached.Before(cycleStart) {
				slog.Warn("Audit log window narrowed to fit page limit",
					"group", g.ID, "since", since, "reached", reached, "until", cycleStart)
			}
			results[i].Entries = entries
			results[i].Reached = reached
			return nil
		})
	}
	_ = eg.Wait()

	return Result{CycleStart: cycleStart, Groups: results}, state.advance(cycleStart, results)
}

// fetchGroup returns the entries in [since, end) and end, where end is until
// or the largest halving of the window that fits in the page limit.
func (f *Fetcher) fetchGroup(ctx context.Context, groupID string, since, until time.Time) ([]vrchat.LogEntry, time.Time, error) {
	if f.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.RequestTimeout)
		defer cancel()
	}
	end := until
	for split := 0; ; split++ {
		raw, err := f.Source.AuditLogs(ctx, groupID, vrchat.AuditLogQuery{
			Start:    since,
			End:      end,
			PageSize: f.PageSize,
			MaxPages: f.MaxPages,
		})
		if err == nil {
			return normalize(groupID, raw, since, end), end, nil
		}
		if !errors.Is(err, vrchat.ErrPageLimit) || split >= f.MaxSplits {
			return nil, since, err
		}
		end = since.Add(end.Sub(since) / 2)
		if !end.After(since) {
			return nil, since, err
		}
	}
}

// normalize keeps entries in [since, until), drops repeated IDs, fills in the
// group ID, and stable-sorts by creation time.
func normalize(groupID string, raw []vrchat.LogEntry, since, until time.Time) []vrchat.LogEntry {
	out := make([]vrchat.LogEntry, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, e := range raw {
		if e.CreatedAt.Before(since) || !e.CreatedAt.Before(until) {
			continue
		}
		if e.ID != "" {
			if _, dup := seen[e.ID]; dup {
				continue
			}
			seen[e.ID] = struct{}{}
		}
		if e.GroupID == "" {
			e.GroupID = groupID
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
