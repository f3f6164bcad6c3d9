package metadatastore

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-json"
	_ "modernc.org/sqlite"

	"github.com/mimir-aip/gemprice/pkg/models"
)

// SQLiteStore provides SQLite-based persistence for training runs and their events
type SQLiteStore struct {
	db *sql.DB
}

var _ RunStore = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite-based storage instance
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// Format: file:path?param=value
	dsn := fmt.Sprintf("file:%s?_busy_timeout=10000&_journal_mode=WAL&_synchronous=NORMAL", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// For SQLite, we want this relatively low since writes are serialized anyway.
	// An in-memory database exists per connection, so it gets exactly one.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
	}
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	store := &SQLiteStore{db: db}

	// In-memory databases use "memory" mode, which is acceptable for testing
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to check journal mode: %w", err)
	}
	if journalMode != "wal" && journalMode != "delete" && journalMode != "memory" {
		db.Close()
		return nil, fmt.Errorf("unexpected journal mode: got %s", journalMode)
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// retryOnBusy retries a database operation if it fails due to SQLITE_BUSY
// This provides an additional safety net on top of the busy_timeout pragma
func (s *SQLiteStore) retryOnBusy(operation func() error, maxRetries int) error {
	var err error
	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if strings.Contains(err.Error(), "SQLITE_BUSY") {
			// Exponential backoff: 10ms, 20ms, 40ms, 80ms, 160ms
			backoff := time.Duration(10*(1<<uint(i))) * time.Millisecond
			time.Sleep(backoff)
			continue
		}

		return err
	}
	return fmt.Errorf("operation failed after %d retries: %w", maxRetries, err)
}

// initSchema creates the database schema if it doesn't exist
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS training_runs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		finished_at INTEGER,
		best_model TEXT,
		best_r2 REAL,
		data TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_training_runs_started_at ON training_runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_training_runs_status ON training_runs(status);

	CREATE TABLE IF NOT EXISTS run_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		stage TEXT NOT NULL,
		kind TEXT NOT NULL,
		key TEXT NOT NULL,
		value TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_run_events_run_id ON run_events(run_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SaveRun inserts or replaces a training run
func (s *SQLiteStore) SaveRun(run *models.TrainingRun) error {
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal training run: %w", err)
	}

	var finishedAt sql.NullInt64
	if run.FinishedAt != nil {
		finishedAt = sql.NullInt64{Int64: run.FinishedAt.UnixNano(), Valid: true}
	}

	query := `
		INSERT OR REPLACE INTO training_runs (id, status, started_at, finished_at, best_model, best_r2, data)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	err = s.retryOnBusy(func() error {
		_, err := s.db.Exec(query,
			run.ID,
			string(run.Status),
			run.StartedAt.UnixNano(),
			finishedAt,
			run.BestModel,
			run.BestR2,
			string(data),
		)
		return err
	}, 5)
	if err != nil {
		return fmt.Errorf("failed to save training run: %w", err)
	}

	return nil
}

// GetRun retrieves a training run by ID
func (s *SQLiteStore) GetRun(id string) (*models.TrainingRun, error) {
	var data string
	query := `SELECT data FROM training_runs WHERE id = ?`

	err := s.db.QueryRow(query, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("training run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get training run: %w", err)
	}

	return decodeRun(data)
}

// ListRuns returns the most recent runs first. limit <= 0 returns every run.
func (s *SQLiteStore) ListRuns(limit int) ([]*models.TrainingRun, error) {
	query := `SELECT data FROM training_runs ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list training runs: %w", err)
	}
	defer rows.Close()

	runs := make([]*models.TrainingRun, 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			continue
		}

		run, err := decodeRun(data)
		if err != nil {
			continue
		}

		runs = append(runs, run)
	}

	return runs, rows.Err()
}

// LatestSuccessfulRun returns the most recently started run that succeeded
func (s *SQLiteStore) LatestSuccessfulRun() (*models.TrainingRun, error) {
	var data string
	query := `SELECT data FROM training_runs WHERE status = ? ORDER BY started_at DESC LIMIT 1`

	err := s.db.QueryRow(query, string(models.RunStatusSucceeded)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("successful training run: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest training run: %w", err)
	}

	return decodeRun(data)
}

// AppendEvent stores a tracker event and sets its ID
func (s *SQLiteStore) AppendEvent(event *models.RunEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO run_events (run_id, stage, kind, key, value, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	return s.retryOnBusy(func() error {
		res, err := s.db.Exec(query,
			event.RunID,
			event.Stage,
			string(event.Kind),
			event.Key,
			event.Value,
			event.CreatedAt.UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("failed to append run event: %w", err)
		}
		event.ID, err = res.LastInsertId()
		return err
	}, 5)
}

// ListEvents returns the events of a run in insertion order
func (s *SQLiteStore) ListEvents(runID string) ([]*models.RunEvent, error) {
	query := `
		SELECT id, run_id, stage, kind, key, value, created_at
		FROM run_events WHERE run_id = ? ORDER BY id ASC
	`

	rows, err := s.db.Query(query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list run events: %w", err)
	}
	defer rows.Close()

	events := make([]*models.RunEvent, 0)
	for rows.Next() {
		var (
			event     models.RunEvent
			kind      string
			createdAt int64
		)
		if err := rows.Scan(&event.ID, &event.RunID, &event.Stage, &kind, &event.Key, &event.Value, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan run event: %w", err)
		}
		event.Kind = models.RunEventKind(kind)
		event.CreatedAt = time.Unix(0, createdAt).UTC()
		events = append(events, &event)
	}

	return events, rows.Err()
}

func decodeRun(data string) (*models.TrainingRun, error) {
	var run models.TrainingRun
	if err := json.Unmarshal([]byte(data), &run); err != nil {
		return nil, fmt.Errorf("failed to unmarshal training run: %w", err)
	}
	return &run, nil
}
