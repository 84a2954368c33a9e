// Package mission provides the SQLite-backed hierarchical objective tree.
// Missions form a forest: each root anchors a lineage, children inherit the
// root id and sit one level deeper than their parent. The daemon resumes the
// single active mission per tick; a per-mission failure budget pauses a
// mission that keeps failing instead of letting it burn ticks forever.
package mission

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Status represents the lifecycle state of a mission.
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// DefaultErrorThreshold is the failure budget before a mission auto-pauses.
const DefaultErrorThreshold = 5

// ErrNotFound is returned when a mission id does not exist.
var ErrNotFound = errors.New("mission not found")

// ThresholdExceededError reports that a mission's failure budget is exhausted
// and the mission has been auto-paused.
type ThresholdExceededError struct {
	MissionID  string
	ErrorCount int
	LastError  string
}

func (e *ThresholdExceededError) Error() string {
	return fmt.Sprintf("mission %s paused: error budget exhausted (%d failures, last: %s)",
		e.MissionID, e.ErrorCount, e.LastError)
}

// Mission is one node in the objective tree.
type Mission struct {
	ID              string            `json:"id"`
	Objective       string            `json:"objective"`
	Status          Status            `json:"status"`
	ParentID        string            `json:"parent_id,omitempty"`
	RootID          string            `json:"root_id"`
	Depth           int               `json:"depth"`
	ContextSnapshot map[string]string `json:"context_snapshot,omitempty"`
	ErrorCount      int               `json:"error_count"`
	LastError       string            `json:"last_error,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// IsRoot reports whether the mission anchors its own lineage.
func (m *Mission) IsRoot() bool {
	return m.ParentID == ""
}

// Update carries the mutable fields of update calls. Nil fields are left
// untouched, so callers only name what they change.
type Update struct {
	Status          *Status
	ErrorCount      *int
	LastError       *string
	ContextSnapshot map[string]string
}

// Store wraps an SQLite database holding the mission tree.
type Store struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
}

// DefaultPath returns the path to the global mission database
// ($XDG_DATA_HOME/warden/warden.db).
func DefaultPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "warden", "warden.db")
}

// Open opens the mission database at the given path, creating parent
// directories as needed. WAL mode is enabled for concurrent reads.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &Store{conn: conn, path: path}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}

// Path returns the path to the database file.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) migrate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	row := s.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Missions},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := s.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}

		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}

	return nil
}

const migrationV1Missions = `
CREATE TABLE IF NOT EXISTS missions (
	id TEXT PRIMARY KEY,
	objective TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'active',
	parent_id TEXT,
	root_id TEXT NOT NULL,
	depth INTEGER NOT NULL DEFAULT 0,
	context_snapshot TEXT,
	error_count INTEGER NOT NULL DEFAULT 0,
	last_error TEXT,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_missions_status ON missions(status);
CREATE INDEX IF NOT EXISTS idx_missions_parent_id ON missions(parent_id);
CREATE INDEX IF NOT EXISTS idx_missions_root_id ON missions(root_id);
`

// Create inserts a new mission. With a parent id, the mission inherits the
// parent's root_id and sits at parent.depth+1; otherwise it becomes its own
// root at depth 0.
func (s *Store) Create(objective, parentID string) (*Mission, error) {
	now := time.Now()
	m := &Mission{
		ID:        uuid.NewString(),
		Objective: objective,
		Status:    StatusActive,
		ParentID:  parentID,
		Depth:     0,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.RootID = m.ID

	if parentID != "" {
		parent, err := s.Get(parentID)
		if err != nil {
			return nil, fmt.Errorf("resolve parent: %w", err)
		}
		m.RootID = parent.RootID
		m.Depth = parent.Depth + 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var parent any
	if m.ParentID != "" {
		parent = m.ParentID
	}
	_, err := s.conn.Exec(`
		INSERT INTO missions (id, objective, status, parent_id, root_id, depth, context_snapshot, error_count, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, NULL, ?, ?)
	`, m.ID, m.Objective, string(m.Status), parent, m.RootID, m.Depth, nil, formatTime(m.CreatedAt), formatTime(m.UpdatedAt))
	if err != nil {
		return nil, fmt.Errorf("create mission: %w", err)
	}
	return m, nil
}

// Get retrieves a mission by id.
func (s *Store) Get(id string) (*Mission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.get(id)
}

func (s *Store) get(id string) (*Mission, error) {
	row := s.conn.QueryRow(`
		SELECT id, objective, status, parent_id, root_id, depth, context_snapshot, error_count, last_error, created_at, updated_at
		FROM missions WHERE id = ?
	`, id)

	m, err := scanMission(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get mission: %w", err)
	}
	return m, nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanMission(row rowScanner) (*Mission, error) {
	var m Mission
	var parentID, snapshot, lastError sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(&m.ID, &m.Objective, &m.Status, &parentID, &m.RootID, &m.Depth,
		&snapshot, &m.ErrorCount, &lastError, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if parentID.Valid {
		m.ParentID = parentID.String
	}
	if lastError.Valid {
		m.LastError = lastError.String
	}
	if snapshot.Valid && snapshot.String != "" {
		json.Unmarshal([]byte(snapshot.String), &m.ContextSnapshot)
	}
	m.CreatedAt, _ = parseTime(createdAt)
	m.UpdatedAt, _ = parseTime(updatedAt)
	return &m, nil
}

// Apply mutates the named fields of a mission and persists immediately.
func (s *Store) Apply(id string, u Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := "UPDATE missions SET updated_at = ?"
	args := []any{formatTime(time.Now())}

	if u.Status != nil {
		query += ", status = ?"
		args = append(args, string(*u.Status))
	}
	if u.ErrorCount != nil {
		query += ", error_count = ?"
		args = append(args, *u.ErrorCount)
	}
	if u.LastError != nil {
		query += ", last_error = ?"
		args = append(args, *u.LastError)
	}
	if u.ContextSnapshot != nil {
		blob, err := json.Marshal(u.ContextSnapshot)
		if err != nil {
			return fmt.Errorf("encode context snapshot: %w", err)
		}
		query += ", context_snapshot = ?"
		args = append(args, string(blob))
	}

	query += " WHERE id = ?"
	args = append(args, id)

	result, err := s.conn.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("update mission: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Active returns the mission currently driving the daemon tick, or nil.
// With several active missions in the tree, the most recently updated wins,
// which keeps the daemon on the mission it last touched.
func (s *Store) Active() (*Mission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.conn.QueryRow(`
		SELECT id, objective, status, parent_id, root_id, depth, context_snapshot, error_count, last_error, created_at, updated_at
		FROM missions WHERE status = ? ORDER BY updated_at DESC, created_at DESC LIMIT 1
	`, string(StatusActive))

	m, err := scanMission(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active mission: %w", err)
	}
	return m, nil
}

// Lineage walks the parent chain from the given mission upward and returns
// the path root-first.
func (s *Store) Lineage(id string) ([]*Mission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var chain []*Mission
	currentID := id
	for currentID != "" {
		m, err := s.get(currentID)
		if err != nil {
			return nil, err
		}
		chain = append(chain, m)
		// Defensive bound: a cycle in parent links would otherwise spin.
		if len(chain) > 1000 {
			return nil, fmt.Errorf("lineage of %s exceeds depth bound", id)
		}
		currentID = m.ParentID
	}

	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// Children returns the direct children of a mission, oldest first.
func (s *Store) Children(id string) ([]*Mission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.conn.Query(`
		SELECT id, objective, status, parent_id, root_id, depth, context_snapshot, error_count, last_error, created_at, updated_at
		FROM missions WHERE parent_id = ? ORDER BY created_at
	`, id)
	if err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}
	defer rows.Close()

	return collectMissions(rows)
}

// List returns missions newest first, optionally filtered by status.
// A non-positive limit means no limit.
func (s *Store) List(status *Status, limit int) ([]*Mission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = -1
	}

	var rows *sql.Rows
	var err error
	if status != nil {
		rows, err = s.conn.Query(`
			SELECT id, objective, status, parent_id, root_id, depth, context_snapshot, error_count, last_error, created_at, updated_at
			FROM missions WHERE status = ? ORDER BY created_at DESC LIMIT ?
		`, string(*status), limit)
	} else {
		rows, err = s.conn.Query(`
			SELECT id, objective, status, parent_id, root_id, depth, context_snapshot, error_count, last_error, created_at, updated_at
			FROM missions ORDER BY created_at DESC LIMIT ?
		`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list missions: %w", err)
	}
	defer rows.Close()

	return collectMissions(rows)
}

func collectMissions(rows *sql.Rows) ([]*Mission, error) {
	var missions []*Mission
	for rows.Next() {
		m, err := scanMission(rows)
		if err != nil {
			return nil, fmt.Errorf("scan mission: %w", err)
		}
		missions = append(missions, m)
	}
	return missions, rows.Err()
}

// RecordFailure increments the mission's error count and stores the reason.
// Crossing the threshold auto-pauses the mission and returns
// *ThresholdExceededError so the caller knows autonomous ticks must stop.
func (s *Store) RecordFailure(id, reason string, threshold int) error {
	if threshold <= 0 {
		threshold = DefaultErrorThreshold
	}

	m, err := s.Get(id)
	if err != nil {
		return err
	}

	count := m.ErrorCount + 1
	u := Update{ErrorCount: &count, LastError: &reason}
	if count >= threshold {
		paused := StatusPaused
		u.Status = &paused
	}
	if err := s.Apply(id, u); err != nil {
		return err
	}

	if count >= threshold {
		return &ThresholdExceededError{MissionID: id, ErrorCount: count, LastError: reason}
	}
	return nil
}

// RecordSuccess resets the mission's error budget after a successful step.
func (s *Store) RecordSuccess(id string) error {
	zero := 0
	empty := ""
	return s.Apply(id, Update{ErrorCount: &zero, LastError: &empty})
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}
