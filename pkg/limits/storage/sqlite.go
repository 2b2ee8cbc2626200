package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // cgo SQLite driver, registered as "sqlite3"
	_ "modernc.org/sqlite"          // pure Go SQLite driver, registered as "sqlite"
)

// SQLite driver names.
const (
	DriverModernc = "sqlite"
	DriverCgo     = "sqlite3"
)

// SQLiteBackend implements Backend on a SQLite file.
//
// The database runs in WAL mode with a single connection; a background loop
// checkpoints the WAL so it does not grow without bound.
type SQLiteBackend struct {
	db                 *sql.DB
	dbPath             string
	checkpointInterval time.Duration
	done               chan struct{}
	mu                 sync.RWMutex
	closeOnce          sync.Once

	saveStmt    *sql.Stmt
	deleteStmt  *sql.Stmt
	listStmt    *sql.Stmt
	cleanupStmt *sql.Stmt
}

// SQLiteBackendConfig configures the SQLite backend.
type SQLiteBackendConfig struct {
	// DBPath is the path to the SQLite database file. Missing parent
	// directories are created.
	DBPath string

	// Driver selects DriverModernc or DriverCgo.
	// Default: DriverModernc
	Driver string

	// CheckpointInterval is how often to checkpoint the WAL.
	// Default: 5 minutes
	CheckpointInterval time.Duration

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// NewSQLiteBackend creates a SQLite backend with default settings.
func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	return NewSQLiteBackendWithConfig(SQLiteBackendConfig{DBPath: dbPath})
}

// NewSQLiteBackendWithConfig creates a SQLite backend with custom configuration.
func NewSQLiteBackendWithConfig(cfg SQLiteBackendConfig) (*SQLiteBackend, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.Driver == "" {
		cfg.Driver = DriverModernc
	}
	if cfg.Driver != DriverModernc && cfg.Driver != DriverCgo {
		return nil, fmt.Errorf("unknown sqlite driver %q", cfg.Driver)
	}
	if cfg.CheckpointInterval <= 0 {
		cfg.CheckpointInterval = 5 * time.Minute
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open(cfg.Driver, cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports a single writer. Keeping exactly one connection
	// also keeps the pragmas below in effect.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	backend := &SQLiteBackend{
		db:                 db,
		dbPath:             cfg.DBPath,
		checkpointInterval: cfg.CheckpointInterval,
		done:               make(chan struct{}),
	}

	if err := backend.initSchema(cfg.BusyTimeout); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if err := backend.prepareStatements(); err != nil {
		backend.closeStatements()
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	go backend.checkpointLoop()

	return backend, nil
}

// initSchema applies connection pragmas and creates the schema.
func (s *SQLiteBackend) initSchema(busyTimeout time.Duration) error {
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busyTimeout.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}

	schema := `
	CREATE TABLE IF NOT EXISTS window_snapshots (
		identifier TEXT NOT NULL,
		dimension TEXT NOT NULL,
		window_state TEXT,
		last_updated INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (dimension, identifier)
	);

	CREATE INDEX IF NOT EXISTS idx_window_snapshots_last_updated ON window_snapshots(last_updated);
	`

	_, err := s.db.Exec(schema)
	return err
}

// prepareStatements prepares SQL statements for reuse.
func (s *SQLiteBackend) prepareStatements() error {
	var err error

	s.saveStmt, err = s.db.Prepare(`
		INSERT INTO window_snapshots (identifier, dimension, window_state, last_updated, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (dimension, identifier) DO UPDATE SET
			window_state = excluded.window_state,
			last_updated = excluded.last_updated
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare save statement: %w", err)
	}

	s.deleteStmt, err = s.db.Prepare(`
		DELETE FROM window_snapshots
		WHERE identifier = ? AND dimension = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete statement: %w", err)
	}

	s.listStmt, err = s.db.Prepare(`
		SELECT identifier, dimension, window_state, last_updated, created_at
		FROM window_snapshots
		WHERE dimension = ?
		ORDER BY identifier
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare list statement: %w", err)
	}

	s.cleanupStmt, err = s.db.Prepare(`
		DELETE FROM window_snapshots
		WHERE last_updated < ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare cleanup statement: %w", err)
	}

	return nil
}

// Delete removes one state.
func (s *SQLiteBackend) Delete(ctx context.Context, identifier string, dimension string) error {
	if err := validateKey(identifier, dimension); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.deleteStmt.ExecContext(ctx, identifier, dimension); err != nil {
		return fmt.Errorf("failed to delete state: %w", err)
	}
	return nil
}

// List returns every state of a dimension ordered by identifier.
func (s *SQLiteBackend) List(ctx context.Context, dimension string) ([]*LimitState, error) {
	if dimension == "" {
		return nil, errEmptyDimension
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.listStmt.QueryContext(ctx, dimension)
	if err != nil {
		return nil, fmt.Errorf("failed to list states: %w", err)
	}
	defer rows.Close()

	var states []*LimitState
	for rows.Next() {
		state, err := scanState(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		states = append(states, state)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return states, nil
}

// Replace swaps every state of a dimension in one transaction.
func (s *SQLiteBackend) Replace(ctx context.Context, dimension string, states []*LimitState) error {
	if dimension == "" {
		return errEmptyDimension
	}
	for _, state := range states {
		if err := validateMember(state); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Keep created_at of keys that survive the swap.
	created := make(map[string]int64)
	rows, err := tx.QueryContext(ctx, `SELECT identifier, created_at FROM window_snapshots WHERE dimension = ?`, dimension)
	if err != nil {
		return fmt.Errorf("failed to read previous states: %w", err)
	}
	for rows.Next() {
		var id string
		var at int64
		if err := rows.Scan(&id, &at); err != nil {
			rows.Close()
			return fmt.Errorf("failed to scan row: %w", err)
		}
		created[id] = at
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating rows: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM window_snapshots WHERE dimension = ?`, dimension); err != nil {
		return fmt.Errorf("failed to clear dimension: %w", err)
	}

	stmt := tx.StmtContext(ctx, s.saveStmt)
	defer stmt.Close()

	now := time.Now()
	for _, state := range states {
		st := state.Clone()
		st.Dimension = dimension
		if at, ok := created[st.Identifier]; ok && st.CreatedAt.IsZero() {
			st.CreatedAt = time.Unix(at, 0)
		}
		if err := s.save(ctx, stmt, st, now); err != nil {
			return fmt.Errorf("failed to save state: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return nil
}

// Cleanup removes states not updated since olderThan.
func (s *SQLiteBackend) Cleanup(ctx context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.cleanupStmt.ExecContext(ctx, olderThan.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return int(deleted), nil
}

// Path returns the database file.
func (s *SQLiteBackend) Path() string {
	return s.dbPath
}

// Close releases any resources held by the backend.
// Close is idempotent and safe to call multiple times.
func (s *SQLiteBackend) Close() error {
	var closeErr error

	s.closeOnce.Do(func() {
		close(s.done)

		s.mu.Lock()
		defer s.mu.Unlock()

		s.closeStatements()
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		closeErr = s.db.Close()
	})

	return closeErr
}

func (s *SQLiteBackend) closeStatements() {
	for _, stmt := range []*sql.Stmt{s.saveStmt, s.deleteStmt, s.listStmt, s.cleanupStmt} {
		if stmt != nil {
			stmt.Close()
		}
	}
}

// checkpointLoop runs periodic WAL checkpoints.
func (s *SQLiteBackend) checkpointLoop() {
	ticker := time.NewTicker(s.checkpointInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.mu.Lock()
			_, _ = s.db.Exec("PRAGMA wal_checkpoint(PASSIVE)")
			s.mu.Unlock()
		case <-s.done:
			return
		}
	}
}

func (s *SQLiteBackend) save(ctx context.Context, stmt *sql.Stmt, state *LimitState, now time.Time) error {
	var windowJSON []byte
	if state.Window != nil {
		var err error
		windowJSON, err = json.Marshal(state.Window)
		if err != nil {
			return fmt.Errorf("failed to marshal window state: %w", err)
		}
	}

	createdAt, lastUpdated := state.CreatedAt, state.LastUpdated
	if createdAt.IsZero() {
		createdAt = now
	}
	if lastUpdated.IsZero() {
		lastUpdated = now
	}

	_, err := stmt.ExecContext(ctx,
		state.Identifier,
		state.Dimension,
		string(windowJSON),
		lastUpdated.Unix(),
		createdAt.Unix(),
	)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanState(row rowScanner) (*LimitState, error) {
	var (
		identifier  string
		dimension   string
		windowJSON  sql.NullString
		lastUpdated int64
		createdAt   int64
	)
	if err := row.Scan(&identifier, &dimension, &windowJSON, &lastUpdated, &createdAt); err != nil {
		return nil, err
	}

	state := &LimitState{
		Identifier:  identifier,
		Dimension:   dimension,
		LastUpdated: time.Unix(lastUpdated, 0),
		CreatedAt:   time.Unix(createdAt, 0),
	}
	if windowJSON.Valid && windowJSON.String != "" {
		state.Window = &WindowState{}
		if err := json.Unmarshal([]byte(windowJSON.String), state.Window); err != nil {
			return nil, fmt.Errorf("failed to unmarshal window state: %w", err)
		}
	}
	return state, nil
}
