// Package poller drives poll cycles: it filters the tracked groups down to the
// ones allowed to read audit logs, fetches what is new and dispatches it.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vrcbridge/vrcbridge/internal/auditlog"
	"github.com/vrcbridge/vrcbridge/internal/capability"
	"github.com/vrcbridge/vrcbridge/internal/notify"
	"github.com/vrcbridge/vrcbridge/internal/policy"
	"github.com/vrcbridge/vrcbridge/internal/scheduler"
	"github.com/vrcbridge/vrcbridge/internal/timeline"
	"github.com/vrcbridge/vrcbridge/internal/vrchat"
)

// ErrCycleInFlight is returned when a cycle is triggered while one is running.
var ErrCycleInFlight = errors.New("poller: cycle already in flight")

// Ledger records cycle history. Writes are best-effort.
type Ledger interface {
	StartCycle(cycleID string, startedAt time.Time) error
	RecordGroupFetch(rec timeline.GroupFetchRecord) error
	RecordDelivery(rec timeline.DeliveryRecord) error
	FinishCycle(rec timeline.CycleRecord) error
}

// CycleReport summarises one cycle.
type CycleReport struct {
	CycleID   string
	StartedAt time.Time
	Skipped   []policy.Decision
	Eligible  []string
	Fetch     auditlog.Result
	Dispatch  notify.DispatchReport
}

// Status is the ledger status of the cycle.
func (r CycleReport) Status() string {
	if len(r.Fetch.Failures()) > 0 || r.Dispatch.Err() != nil {
		return timeline.CyclePartial
	}
	return timeline.CycleOK
}

// Err joins every group fetch failure and chunk failure of the cycle.
func (r CycleReport) Err() error {
	var errs []error
	for _, g := range r.Fetch.Failures() {
		errs = append(errs, fmt.Errorf("fetch %s: %w", g.GroupID, g.Err))
	}
	if err := r.Dispatch.Err(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Orchestrator runs one cycle over the registry. It holds no watermark; the
// caller passes the current auditlog.State in and keeps the one returned.
type Orchestrator struct {
	Registry  *Registry
	Evaluator *policy.Evaluator
	Fetcher   *auditlog.Fetcher
	Batcher   *notify.Batcher
	Ledger    Ledger
	NewID     func() string
}

// RunCycle evaluates eligibility, fetches new entries for the eligible groups
// and dispatches them. Fetch and delivery failures are reported in the
// CycleReport and never returned as an error.
func (o *Orchestrator) RunCycle(ctx context.Context, state auditlog.State) (auditlog.State, CycleReport) {
	newID := o.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	report := CycleReport{CycleID: newID(), StartedAt: time.Now()}

	groups := o.Registry.All()
	allowed := make([]vrchat.Group, 0, len(groups))
	eligible := make([]string, 0, len(groups))
	for _, g := range groups {
		d := o.Evaluator.Evaluate(g, capability.Logs)
		if !d.Allow {
			slog.Debug("Group not eligible for log polling", "group", g.ID, "reason", d.Reason)
			report.Skipped = append(report.Skipped, d)
			continue
		}
		allowed = append(allowed, g)
		eligible = append(eligible, g.ID)
	}
	report.Eligible = eligible

	if o.Ledger != nil {
		_ = o.Ledger.StartCycle(report.CycleID, report.StartedAt)
	}

	result, next := o.Fetcher.FetchNewLogs(ctx, allowed, state)
	report.Fetch = result

	logs := make([]notify.GroupLogs, 0, len(result.Groups))
	for _, g := range result.Groups {
		if o.Ledger != nil {
			rec := timeline.GroupFetchRecord{
				CycleID: report.CycleID, GroupID: g.GroupID,
				Since: g.Since, Until: g.Until, Entries: len(g.Entries),
			}
			if g.Err != nil {
				rec.ErrorText = g.Err.Error()
			}
			if g.Truncated() {
				rec.Until = g.Reached
			}
			_ = o.Ledger.RecordGroupFetch(rec)
		}
		if g.Failed() {
			continue
		}
		logs = append(logs, notify.GroupLogs{GroupID: g.GroupID, Entries: g.Entries})
	}

	report.Dispatch = o.Batcher.DispatchLogs(ctx, logs)
	o.recordDispatch(report)

	slog.Info("Poll cycle finished",
		"cycle", report.CycleID,
		"eligible", len(report.Eligible),
		"entries", result.EntryCount(),
		"failed_groups", len(result.Failures()),
		"chunks", len(report.Dispatch.Chunks),
		"chunks_sent", report.Dispatch.Sent(),
	)
	return next, report
}

func (o *Orchestrator) recordDispatch(report CycleReport) {
	if o.Ledger == nil {
		return
	}
	failed := 0
	for _, c := range report.Dispatch.Chunks {
		rec := timeline.DeliveryRecord{CycleID: report.CycleID, ChunkIndex: c.Index, Blocks: c.Size, Status: timeline.DeliverySent}
		if c.Err != nil {
			failed++
			rec.Status = timeline.DeliveryFailed
			rec.ErrorText = c.Err.Error()
		}
		_ = o.Ledger.RecordDelivery(rec)
	}
	ended := time.Now()
	_ = o.Ledger.FinishCycle(timeline.CycleRecord{
		CycleID:        report.CycleID,
		EndedAt:        &ended,
		EligibleGroups: len(report.Eligible),
		Entries:        report.Fetch.EntryCount(),
		FailedGroups:   len(report.Fetch.Failures()),
		ChunksSent:     report.Dispatch.Sent(),
		ChunksFailed:   failed,
		Status:         report.Status(),
	})
}

// Poller owns the watermark State between cycles and lets at most one cycle
// run at a time.
type Poller struct {
	orch *Orchestrator
	sem  *scheduler.Semaphore

	mu    sync.Mutex
	state auditlog.State
	last  *CycleReport
}

// New creates a Poller starting from state.
func New(orch *Orchestrator, state auditlog.State) *Poller {
	return &Poller{orch: orch, sem: scheduler.NewSemaphore(1), state: state}
}

// Poll runs one cycle. It returns ErrCycleInFlight without doing anything when
// another cycle is still running.
func (p *Poller) Poll(ctx context.Context) (CycleReport, error) {
	if !p.sem.TryAcquire() {
		slog.Warn("Poll trigger skipped: cycle in flight")
		return CycleReport{}, ErrCycleInFlight
	}
	defer p.sem.Release()

	p.mu.Lock()
	state := p.state
	p.mu.Unlock()

	next, report := p.orch.RunCycle(ctx, state)

	p.mu.Lock()
	p.state = next
	p.last = &report
	p.mu.Unlock()
	return report, nil
}

// State returns the current watermark state.
func (p *Poller) State() auditlog.State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// LastReport returns the report of the most recent cycle.
func (p *Poller) LastReport() (CycleReport, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return CycleReport{}, false
	}
	return *p.last, true
}
