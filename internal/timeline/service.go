// Package timeline keeps a sqlite ledger of poll cycles, group fetches and
// chunk deliveries. It records history only; poll state is never restored
// from it.
package timeline

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

type Ledger struct {
	db *sql.DB
}

func NewLedger(dbPath string) (*Ledger, error) {
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger db: %w", err)
	}

	// Apply schema
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Ledger{db: db}, nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// StartCycle inserts a running cycle.
func (l *Ledger) StartCycle(cycleID string, startedAt time.Time) error {
	_, err := l.db.Exec(`INSERT INTO cycles (cycle_id, started_at, status) VALUES (?, ?, ?)`,
		cycleID, formatTime(startedAt), CycleRunning)
	if err != nil {
		return fmt.Errorf("start cycle: %w", err)
	}
	return nil
}

// FinishCycle stores the final counters and status of a cycle.
func (l *Ledger) FinishCycle(rec CycleRecord) error {
	ended := time.Now()
	if rec.EndedAt != nil {
		ended = *rec.EndedAt
	}
	res, err := l.db.Exec(`
		UPDATE cycles
		SET ended_at = ?, eligible_groups = ?, entries = ?, failed_groups = ?,
		    chunks_sent = ?, chunks_failed = ?, status = ?
		WHERE cycle_id = ?`,
		formatTime(ended), rec.EligibleGroups, rec.Entries, rec.FailedGroups,
		rec.ChunksSent, rec.ChunksFailed, rec.Status, rec.CycleID)
	if err != nil {
		return fmt.Errorf("finish cycle: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish cycle: unknown cycle %s", rec.CycleID)
	}
	return nil
}

// RecordGroupFetch stores one group's fetch outcome.
func (l *Ledger) RecordGroupFetch(rec GroupFetchRecord) error {
	var errText any
	if rec.ErrorText != "" {
		errText = rec.ErrorText
	}
	_, err := l.db.Exec(`INSERT INTO group_fetches (cycle_id, group_id, since, until, entries, error_text) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.CycleID, rec.GroupID, formatTime(rec.Since), formatTime(rec.Until), rec.Entries, errText)
	if err != nil {
		return fmt.Errorf("record group fetch: %w", err)
	}
	return nil
}

// RecordDelivery stores one chunk delivery outcome.
func (l *Ledger) RecordDelivery(rec DeliveryRecord) error {
	var errText any
	if rec.ErrorText != "" {
		errText = rec.ErrorText
	}
	_, err := l.db.Exec(`INSERT INTO deliveries (cycle_id, chunk_index, blocks, status, error_text) VALUES (?, ?, ?, ?, ?)`,
		rec.CycleID, rec.ChunkIndex, rec.Blocks, rec.Status, errText)
	if err != nil {
		return fmt.Errorf("record delivery: %w", err)
	}
	return nil
}

// RecentCycles returns up to limit cycles, newest first.
func (l *Ledger) RecentCycles(limit int) ([]CycleRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.Query(`
		SELECT cycle_id, started_at, COALESCE(ended_at, ''), eligible_groups, entries,
		       failed_groups, chunks_sent, chunks_failed, status
		FROM cycles ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CycleRecord
	for rows.Next() {
		var (
			rec            CycleRecord
			started, ended string
		)
		if err := rows.Scan(&rec.CycleID, &started, &ended, &rec.EligibleGroups, &rec.Entries,
			&rec.FailedGroups, &rec.ChunksSent, &rec.ChunksFailed, &rec.Status); err != nil {
			return nil, err
		}
		rec.StartedAt = parseTime(started)
		if ended != "" {
			t := parseTime(ended)
			rec.EndedAt = &t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GroupFetches returns the fetch outcomes of a cycle in insertion order.
func (l *Ledger) GroupFetches(cycleID string) ([]GroupFetchRecord, error) {
	rows, err := l.db.Query(`
		SELECT cycle_id, group_id, since, until, entries, COALESCE(error_text, '')
		FROM group_fetches WHERE cycle_id = ? ORDER BY id`, cycleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []GroupFetchRecord
	for rows.Next() {
		var (
			rec          GroupFetchRecord
			since, until string
		)
		if err := rows.Scan(&rec.CycleID, &rec.GroupID, &since, &until, &rec.Entries, &rec.ErrorText); err != nil {
			return nil, err
		}
		rec.Since = parseTime(since)
		rec.Until = parseTime(until)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Deliveries returns the chunk deliveries of a cycle in chunk order.
func (l *Ledger) Deliveries(cycleID string) ([]DeliveryRecord, error) {
	rows, err := l.db.Query(`
		SELECT cycle_id, chunk_index, blocks, status, COALESCE(error_text, '')
		FROM deliveries WHERE cycle_id = ? ORDER BY chunk_index, id`, cycleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DeliveryRecord
	for rows.Next() {
		var rec DeliveryRecord
		if err := rows.Scan(&rec.CycleID, &rec.ChunkIndex, &rec.Blocks, &rec.Status, &rec.ErrorText); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
