package timeline

import "time"

// Schema creates the ledger tables.
const Schema = `
CREATE TABLE IF NOT EXISTS cycles (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	cycle_id TEXT UNIQUE NOT NULL,
	started_at DATETIME NOT NULL,
	ended_at DATETIME,
	eligible_groups INTEGER NOT NULL DEFAULT 0,
	entries INTEGER NOT NULL DEFAULT 0,
	failed_groups INTEGER NOT NULL DEFAULT 0,
	chunks_sent INTEGER NOT NULL DEFAULT 0,
	chunks_failed INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'running'
);
CREATE INDEX IF NOT EXISTS idx_cycles_started ON cycles(started_at);

CREATE TABLE IF NOT EXISTS group_fetches (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	cycle_id TEXT NOT NULL,
	group_id TEXT NOT NULL,
	since DATETIME NOT NULL,
	until DATETIME NOT NULL,
	entries INTEGER NOT NULL DEFAULT 0,
	error_text TEXT,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_group_fetches_cycle ON group_fetches(cycle_id);
CREATE INDEX IF NOT EXISTS idx_group_fetches_group ON group_fetches(group_id);

CREATE TABLE IF NOT EXISTS deliveries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	cycle_id TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	blocks INTEGER NOT NULL,
	status TEXT NOT NULL,
	error_text TEXT,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_deliveries_cycle ON deliveries(cycle_id);
`

// Cycle statuses.
const (
	CycleRunning = "running"
	CycleOK      = "ok"
	CyclePartial = "partial"
)

// Delivery statuses.
const (
	DeliverySent   = "sent"
	DeliveryFailed = "failed"
)

// CycleRecord is one poll cycle.
type CycleRecord struct {
	CycleID        string     `json:"cycle_id"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	EligibleGroups int        `json:"eligible_groups"`
	Entries        int        `json:"entries"`
	FailedGroups   int        `json:"failed_groups"`
	ChunksSent     int        `json:"chunks_sent"`
	ChunksFailed   int        `json:"chunks_failed"`
	Status         string     `json:"status"`
}

// GroupFetchRecord is the outcome of one group's fetch in a cycle.
type GroupFetchRecord struct {
	CycleID   string    `json:"cycle_id"`
	GroupID   string    `json:"group_id"`
	Since     time.Time `json:"since"`
	Until     time.Time `json:"until"`
	Entries   int       `json:"entries"`
	ErrorText string    `json:"error_text,omitempty"`
}

// DeliveryRecord is the outcome of one chunk send.
type DeliveryRecord struct {
	CycleID    string `json:"cycle_id"`
	ChunkIndex int    `json:"chunk_index"`
	Blocks     int    `json:"blocks"`
	Status     string `json:"status"`
	ErrorText  string `json:"error_text,omitempty"`
}
