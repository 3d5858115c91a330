package auditlog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vrcbridge/vrcbridge/internal/vrchat"
)

type fakeSource struct {
	mu      sync.Mutex
	entries map[string][]vrchat.LogEntry
	fail    map[string]error
	queries map[string][]vrchat.AuditLogQuery
	// limit caps how many entries one query may return, like MaxPages does.
	limit int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		entries: map[string][]vrchat.LogEntry{},
		fail:    map[string]error{},
		queries: map[string][]vrchat.AuditLogQuery{},
	}
}

// AuditLogs applies an inclusive filter on both bounds, the loosest thing the
// platform might do.
func (s *fakeSource) AuditLogs(_ context.Context, groupID string, q vrchat.AuditLogQuery) ([]vrchat.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries[groupID] = append(s.queries[groupID], q)
	if err := s.fail[groupID]; err != nil {
		return nil, err
	}
	var out []vrchat.LogEntry
	for _, e := range s.entries[groupID] {
		if e.CreatedAt.Before(q.Start) || (!q.End.IsZero() && e.CreatedAt.After(q.End)) {
			continue
		}
		out = append(out, e)
	}
	if s.limit > 0 && len(out) > s.limit {
		return out[:s.limit], fmt.Errorf("%w: %s", vrchat.ErrPageLimit, groupID)
	}
	return out, nil
}

func (s *fakeSource) add(groupID string, e ...vrchat.LogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[groupID] = append(s.entries[groupID], e...)
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func entry(id string, at time.Time) vrchat.LogEntry {
	return vrchat.LogEntry{ID: id, CreatedAt: at, EventType: "group.member.join", Description: id}
}

func groups(ids ...string) []vrchat.Group {
	out := make([]vrchat.Group, len(ids))
	for i, id := range ids {
		out[i] = vrchat.Group{ID: id, Name: id}
	}
	return out
}

func ids(entries []vrchat.LogEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

func TestFetchSortsByCreationTime(t *testing.T) {
	src := newFakeSource()
	src.add("g1",
		entry("t3", t0.Add(3*time.Second)),
		entry("t1", t0.Add(1*time.Second)),
		entry("t2", t0.Add(2*time.Second)),
	)
	clk := &clock{t: t0.Add(time.Minute)}
	f := NewFetcher(src)
	f.Now = clk.now

	res, _ := f.FetchNewLogs(context.Background(), groups("g1"), NewState(t0, ModePerGroup))
	g, ok := res.Lookup("g1")
	require.True(t, ok)
	assert.Equal(t, []string{"t1", "t2", "t3"}, ids(g.Entries))
}

func TestFetchStableForEqualTimestamps(t *testing.T) {
	src := newFakeSource()
	at := t0.Add(time.Second)
	src.add("g1", entry("b", at), entry("a", at), entry("c", t0))
	f := NewFetcher(src)
	f.Now = (&clock{t: t0.Add(time.Minute)}).now

	res, _ := f.FetchNewLogs(context.Background(), groups("g1"), NewState(t0, ModePerGroup))
	assert.Equal(t, []string{"c", "b", "a"}, ids(res.Groups[0].Entries))
}

func TestFailedGroupDoesNotAbortCycle(t *testing.T) {
	src := newFakeSource()
	src.add("g1", entry("ok", t0.Add(time.Second)))
	src.fail["g2"] = errors.New("rate limited")
	f := NewFetcher(src)
	f.Now = (&clock{t: t0.Add(time.Minute)}).now

	res, _ := f.FetchNewLogs(context.Background(), groups("g1", "g2", "g3"), NewState(t0, ModePerGroup))
	require.Len(t, res.Groups, 3)
	assert.Equal(t, []string{"g1", "g2", "g3"}, []string{res.Groups[0].GroupID, res.Groups[1].GroupID, res.Groups[2].GroupID})
	assert.Equal(t, []string{"ok"}, ids(res.Groups[0].Entries))
	assert.True(t, res.Groups[1].Failed())
	assert.Empty(t, res.Groups[1].Entries)

	assert.False(t, res.Groups[2].Failed())
	assert.NotNil(t, res.Groups[2].Entries, "no new entries maps to an empty slice")
	assert.Empty(t, res.Groups[2].Entries)

	assert.Equal(t, 1, res.EntryCount())
	require.Len(t, res.Failures(), 1)
	assert.Equal(t, "g2", res.Failures()[0].GroupID)
}

func TestBackToBackCyclesNeverRedeliver(t *testing.T) {
	src := newFakeSource()
	clk := &clock{}
	f := NewFetcher(src)
	f.Now = clk.now

	src.add("g1", entry("e1", t0.Add(10*time.Second)), entry("e2", t0.Add(20*time.Second)))
	w2 := t0.Add(30 * time.Second)
	clk.t = w2

	res1, state := f.FetchNewLogs(context.Background(), groups("g1"), NewState(t0, ModePerGroup))
	assert.Equal(t, []string{"e1", "e2"}, ids(res1.Groups[0].Entries))
	assert.Equal(t, w2, state.Watermark("g1"))

	// An entry stamped exactly at the boundary belongs to the next cycle.
	src.add("g1", entry("e3", w2), entry("e4", t0.Add(40*time.Second)))
	clk.t = t0.Add(50 * time.Second)

	res2, state := f.FetchNewLogs(context.Background(), groups("g1"), state)
	assert.Equal(t, []string{"e3", "e4"}, ids(res2.Groups[0].Entries))
	assert.Equal(t, clk.t, state.Watermark("g1"))

	qs := src.queries["g1"]
	require.Len(t, qs, 2)
	assert.Equal(t, t0, qs[0].Start)
	assert.Equal(t, w2, qs[1].Start)
}

func TestPerGroupModeRetriesFailedWindow(t *testing.T) {
	src := newFakeSource()
	clk := &clock{t: t0.Add(time.Minute)}
	f := NewFetcher(src)
	f.Now = clk.now

	src.add("g2", entry("lost?", t0.Add(30*time.Second)))
	src.fail["g2"] = errors.New("boom")

	_, state := f.FetchNewLogs(context.Background(), groups("g1", "g2"), NewState(t0, ModePerGroup))
	assert.Equal(t, clk.t, state.Watermark("g1"))
	assert.Equal(t, t0, state.Watermark("g2"))

	delete(src.fail, "g2")
	clk.t = t0.Add(2 * time.Minute)
	res, _ := f.FetchNewLogs(context.Background(), groups("g1", "g2"), state)
	g2, _ := res.Lookup("g2")
	assert.Equal(t, []string{"lost?"}, ids(g2.Entries))
}

func TestSharedModeAdvancesPastFailures(t *testing.T) {
	src := newFakeSource()
	clk := &clock{t: t0.Add(time.Minute)}
	f := NewFetcher(src)
	f.Now = clk.now
	src.fail["g2"] = errors.New("boom")

	start := NewState(t0, ModeShared)
	_, next := f.FetchNewLogs(context.Background(), groups("g1", "g2"), start)
	assert.Equal(t, clk.t, next.Watermark("g1"))
	assert.Equal(t, clk.t, next.Watermark("g2"))
	assert.Equal(t, t0, start.Watermark("g2"), "input state is not mutated")
}

func TestFetchAppliesRequestTimeout(t *testing.T) {
	f := NewFetcher(sourceFunc(func(ctx context.Context, _ string, _ vrchat.AuditLogQuery) ([]vrchat.LogEntry, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	f.RequestTimeout = 10 * time.Millisecond
	res, _ := f.FetchNewLogs(context.Background(), groups("slow"), NewState(t0, ModePerGroup))
	require.True(t, res.Groups[0].Failed())
	assert.ErrorIs(t, res.Groups[0].Err, context.DeadlineExceeded)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModePerGroup, m)
	m, err = ParseMode("Shared")
	require.NoError(t, err)
	assert.Equal(t, ModeShared, m)
	_, err = ParseMode("weird")
	assert.Error(t, err)
}

type sourceFunc func(ctx context.Context, groupID string, q vrchat.AuditLogQuery) ([]vrchat.LogEntry, error)

func (f sourceFunc) AuditLogs(ctx context.Context, groupID string, q vrchat.AuditLogQuery) ([]vrchat.LogEntry, error) {
	return f(ctx, groupID, q)
}

func TestPageLimitNarrowsWindowAndResumes(t *testing.T) {
	src := newFakeSource()
	src.limit = 2
	clk := &clock{t: t0.Add(time.Minute)}
	f := NewFetcher(src)
	f.Now = clk.now

	for i := 1; i <= 5; i++ {
		src.add("g1", entry(fmt.Sprintf("e%d", i), t0.Add(time.Duration(i)*10*time.Second)))
	}

	state := NewState(t0, ModePerGroup)
	res, state := f.FetchNewLogs(context.Background(), groups("g1"), state)
	first := res.Groups[0]
	require.False(t, first.Failed())
	assert.True(t, first.Truncated())
	assert.Equal(t, first.Reached, state.Watermark("g1"))
	assert.True(t, state.Watermark("g1").Before(clk.t))

	delivered := ids(first.Entries)
	for cycle := 0; cycle < 10 && state.Watermark("g1").Before(clk.t); cycle++ {
		res, state = f.FetchNewLogs(context.Background(), groups("g1"), state)
		require.False(t, res.Groups[0].Failed())
		delivered = append(delivered, ids(res.Groups[0].Entries)...)
	}
	assert.Equal(t, []string{"e1", "e2", "e3", "e4", "e5"}, delivered, "every entry exactly once")
	assert.Equal(t, clk.t, state.Watermark("g1"))
}

func TestPageLimitThatNeverFitsFailsGroup(t *testing.T) {
	src := newFakeSource()
	src.limit = 2
	clk := &clock{t: t0.Add(time.Minute)}
	f := NewFetcher(src)
	f.Now = clk.now
	f.MaxSplits = 3

	src.add("g1", entry("a", t0), entry("b", t0), entry("c", t0))

	res, state := f.FetchNewLogs(context.Background(), groups("g1"), NewState(t0, ModePerGroup))
	require.True(t, res.Groups[0].Failed())
	assert.ErrorIs(t, res.Groups[0].Err, vrchat.ErrPageLimit)
	assert.Empty(t, res.Groups[0].Entries)
	assert.Equal(t, t0, state.Watermark("g1"))
	assert.Len(t, src.queries["g1"], 4)
}
