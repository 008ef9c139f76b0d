package state

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Ning0612/peersync/internal/domain"
)

// DBFileName is the history database inside the state directory
const DBFileName = "peersync.db"

// Manager persists the sync cycle history
type Manager struct {
	db *sql.DB
}

// CycleRecord represents one recorded sync cycle
type CycleRecord struct {
	ID        int64
	Kind      string // "register" or "heartbeat"
	StartTime time.Time
	EndTime   time.Time
	Status    string // "success", "failed", "partial"
	Planned   int
	Fetched   int
	Failed    int
	Bytes     int64
	Error     string
}

// Duration returns how long the cycle ran
func (r CycleRecord) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// FetchRecord represents one fetch attempted during a cycle
type FetchRecord struct {
	ID      int64
	CycleID int64
	Name    string
	Peer    string
	Reason  string
	ModTime int64
	Status  string // "success" or "failed"
	Bytes   int64
	Error   string
}

// NewManager opens (creating if needed) the history database in dataDir
func NewManager(dataDir string) (*Manager, error) {
	if dataDir == "" {
		return nil, fmt.Errorf("data directory cannot be empty")
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, DBFileName)
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Limit connection pool to prevent "database is locked" errors
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000; PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	manager := &Manager{db: db}
	if err := manager.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return manager, nil
}

// initSchema creates the database schema
func (m *Manager) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS cycles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		kind TEXT NOT NULL,
		start_time TIMESTAMP NOT NULL,
		end_time TIMESTAMP NOT NULL,
		status TEXT NOT NULL,
		planned INTEGER DEFAULT 0,
		fetched INTEGER DEFAULT 0,
		failed INTEGER DEFAULT 0,
		bytes INTEGER DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS fetches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		cycle_id INTEGER NOT NULL REFERENCES cycles(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		peer TEXT NOT NULL,
		reason TEXT NOT NULL,
		mtime INTEGER NOT NULL,
		status TEXT NOT NULL,
		bytes INTEGER DEFAULT 0,
		error TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_cycles_time ON cycles(start_time DESC);
	CREATE INDEX IF NOT EXISTS idx_cycles_status ON cycles(status);
	CREATE INDEX IF NOT EXISTS idx_fetches_cycle ON fetches(cycle_id);
	`

	_, err := m.db.Exec(schema)
	return err
}

// SaveCycle records a cycle and its fetches, returning the cycle id
func (m *Manager) SaveCycle(result *domain.CycleResult) (int64, error) {
	if result == nil {
		return 0, fmt.Errorf("cycle result cannot be nil")
	}
	if result.Kind != domain.CycleRegister && result.Kind != domain.CycleHeartbeat {
		return 0, fmt.Errorf("invalid cycle kind: %q", result.Kind)
	}

	planned := 0
	if result.Plan != nil {
		planned = len(result.Plan.Actions)
	}
	errText := ""
	if result.Err != nil {
		errText = result.Err.Error()
	}

	tx, err := m.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		INSERT INTO cycles (kind, start_time, end_time, status, planned, fetched, failed, bytes, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(result.Kind),
		result.Started,
		result.Finished,
		string(result.Status()),
		planned,
		result.Fetched(),
		result.Failed(),
		result.Bytes(),
		errText,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to save cycle record: %w", err)
	}

	cycleID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read cycle id: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO fetches (cycle_id, name, peer, reason, mtime, status, bytes, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare fetch insert: %w", err)
	}
	defer stmt.Close()

	for _, f := range result.Fetches {
		status, fetchErr := "success", ""
		if f.Err != nil {
			status, fetchErr = "failed", f.Err.Error()
		}
		if _, err := stmt.Exec(cycleID, f.Action.Name, f.Action.PeerAddr(), string(f.Action.Reason),
			f.Action.ModTime, status, f.Bytes, fetchErr); err != nil {
			return 0, fmt.Errorf("failed to save fetch record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit cycle: %w", err)
	}
	return cycleID, nil
}

const cycleColumns = `id, kind, start_time, end_time, status, planned, fetched, failed, bytes, error`

func scanCycle(row interface{ Scan(...any) error }) (CycleRecord, error) {
	var r CycleRecord
	err := row.Scan(&r.ID, &r.Kind, &r.StartTime, &r.EndTime, &r.Status,
		&r.Planned, &r.Fetched, &r.Failed, &r.Bytes, &r.Error)
	return r, err
}

// GetHistory returns the most recent cycles, newest first
func (m *Manager) GetHistory(limit int) ([]CycleRecord, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be positive, got %d", limit)
	}

	rows, err := m.db.Query(`SELECT `+cycleColumns+` FROM cycles ORDER BY start_time DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	var records []CycleRecord
	for rows.Next() {
		record, err := scanCycle(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}

	return records, nil
}

// GetLastSuccess returns the newest successful cycle, or nil if none exists
func (m *Manager) GetLastSuccess() (*CycleRecord, error) {
	row := m.db.QueryRow(`SELECT ` + cycleColumns + ` FROM cycles
		WHERE status = 'success' ORDER BY start_time DESC, id DESC LIMIT 1`)

	record, err := scanCycle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query last success: %w", err)
	}
	return &record, nil
}

// GetFetches returns every fetch recorded for a cycle, ordered by name
func (m *Manager) GetFetches(cycleID int64) ([]FetchRecord, error) {
	return m.queryFetches(`WHERE cycle_id = ? ORDER BY name`, cycleID)
}

// GetFailedFetches returns the failed fetches of a cycle, ordered by name
func (m *Manager) GetFailedFetches(cycleID int64) ([]FetchRecord, error) {
	return m.queryFetches(`WHERE cycle_id = ? AND status = 'failed' ORDER BY name`, cycleID)
}

func (m *Manager) queryFetches(where string, args ...any) ([]FetchRecord, error) {
	rows, err := m.db.Query(`SELECT id, cycle_id, name, peer, reason, mtime, status, bytes, error FROM fetches `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query fetches: %w", err)
	}
	defer rows.Close()

	var records []FetchRecord
	for rows.Next() {
		var r FetchRecord
		if err := rows.Scan(&r.ID, &r.CycleID, &r.Name, &r.Peer, &r.Reason, &r.ModTime,
			&r.Status, &r.Bytes, &r.Error); err != nil {
			return nil, fmt.Errorf("failed to scan fetch: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating fetches: %w", err)
	}
	return records, nil
}

// Prune deletes cycles older than the given time along with their fetches
func (m *Manager) Prune(before time.Time) (int64, error) {
	res, err := m.db.Exec(`DELETE FROM cycles WHERE start_time < ?`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database connection
func (m *Manager) Close() error {
	if m.db != nil {
		return m.db.Close()
	}
	return nil
}
