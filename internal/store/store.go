package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/specflow/specflow/internal/errs"
)

// Store provides SQLite-backed persistence for executions.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// NewStore opens the SQLite database at dbPath and creates tables if they don't exist.
func NewStore(dbPath string) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// The CLI, the server and detached pollers share one file.
	db.SetMaxOpenConns(1)

	if err := createTables(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func createTables(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS executions (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL DEFAULT '',
		project_path TEXT NOT NULL,
		skill TEXT NOT NULL,
		mode TEXT NOT NULL DEFAULT 'oneshot',
		status TEXT NOT NULL,
		current_phase TEXT NOT NULL DEFAULT '',
		session_id TEXT NOT NULL DEFAULT '',
		answers TEXT NOT NULL DEFAULT '{}',
		pid INTEGER NOT NULL DEFAULT 0,
		cost_usd REAL NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		events_emitted INTEGER NOT NULL DEFAULT 0,
		artifacts TEXT NOT NULL DEFAULT '[]',
		started_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		completed_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_executions_session ON executions (session_id, project_id);
	CREATE INDEX IF NOT EXISTS idx_executions_project ON executions (project_id, updated_at);
	`
	_, err := db.Exec(schema)
	return err
}

const columns = `id, project_id, project_path, skill, mode, status, current_phase, session_id,
	answers, pid, cost_usd, error, events_emitted, artifacts, started_at, updated_at, completed_at`

// Create inserts e, assigning an id and timestamps when unset.
func (s *Store) Create(e *Execution) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	now := s.now().UTC()
	if e.StartedAt.IsZero() {
		e.StartedAt = now
	}
	e.UpdatedAt = now
	if e.Answers == nil {
		e.Answers = map[string]string{}
	}
	if e.Mode == "" {
		e.Mode = ModeOneShot
	}

	answers, artifacts, err := encodeCollections(e)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(
		`INSERT INTO executions (`+columns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ProjectID, e.ProjectPath, e.Skill, e.Mode, string(e.Status), e.CurrentPhase, e.SessionID,
		answers, e.PID, e.CostUSD, e.Error, e.EventsEmitted, artifacts,
		e.StartedAt, e.UpdatedAt, nullTime(e.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("insert execution: %w", err)
	}
	return nil
}

// Get retrieves an execution by id.
func (s *Store) Get(id string) (*Execution, error) {
	row := s.db.QueryRow(`SELECT `+columns+` FROM executions WHERE id = ?`, id)
	e, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("execution " + id)
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// FindBySession returns the most recently updated execution for a session
// in a project. An empty projectID matches any project.
func (s *Store) FindBySession(sessionID, projectID string) (*Execution, error) {
	query := `SELECT ` + columns + ` FROM executions WHERE session_id = ?`
	args := []any{sessionID}
	if projectID != "" {
		query += ` AND project_id = ?`
		args = append(args, projectID)
	}
	query += ` ORDER BY updated_at DESC LIMIT 1`

	e, err := scanExecution(s.db.QueryRow(query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.NotFound("session " + sessionID)
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Update writes every mutable field of e and stamps UpdatedAt.
func (s *Store) Update(e *Execution) error {
	e.UpdatedAt = s.now().UTC()

	answers, artifacts, err := encodeCollections(e)
	if err != nil {
		return err
	}

	result, err := s.db.Exec(
		`UPDATE executions
		 SET project_id = ?, project_path = ?, skill = ?, mode = ?, status = ?, current_phase = ?,
		     session_id = ?, answers = ?, pid = ?, cost_usd = ?, error = ?,
		     events_emitted = ?, artifacts = ?, updated_at = ?, completed_at = ?
		 WHERE id = ?`,
		e.ProjectID, e.ProjectPath, e.Skill, e.Mode, string(e.Status), e.CurrentPhase,
		e.SessionID, answers, e.PID, e.CostUSD, e.Error,
		e.EventsEmitted, artifacts, e.UpdatedAt, nullTime(e.CompletedAt),
		e.ID,
	)
	if err != nil {
		return fmt.Errorf("update execution: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return errs.NotFound("execution " + e.ID)
	}
	return nil
}

// List returns executions, newest first. An empty projectID lists every
// project; limit <= 0 means no limit.
func (s *Store) List(projectID string, limit int) ([]Execution, error) {
	query := `SELECT ` + columns + ` FROM executions`
	var args []any
	if projectID != "" {
		query += ` WHERE project_id = ?`
		args = append(args, projectID)
	}
	query += ` ORDER BY updated_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	return s.query(query, args...)
}

// ListByStatus returns executions in any of the given statuses, oldest first.
func (s *Store) ListByStatus(statuses ...Status) ([]Execution, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(statuses))
	args := make([]any, 0, len(statuses)+1)
	for i, st := range statuses {
		placeholders[i] = "?"
		args = append(args, string(st))
	}
	if slices.Contains(statuses, StatusWaiting) {
		placeholders = append(placeholders, "?")
		args = append(args, string(statusWaitingAlias))
	}
	query := `SELECT ` + columns + ` FROM executions
		WHERE status IN (` + strings.Join(placeholders, ", ") + `)
		ORDER BY started_at ASC`
	return s.query(query, args...)
}

// ListActive returns executions that may still have a live process.
func (s *Store) ListActive() ([]Execution, error) {
	return s.ListByStatus(ActiveStatuses...)
}

// Delete removes an execution record.
func (s *Store) Delete(id string) error {
	result, err := s.db.Exec(`DELETE FROM executions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete execution: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return errs.NotFound("execution " + id)
	}
	return nil
}

func (s *Store) query(query string, args ...any) ([]Execution, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query executions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExecution(row scanner) (*Execution, error) {
	var (
		e         Execution
		status    string
		answers   string
		artifacts string
		completed sql.NullTime
	)
	err := row.Scan(
		&e.ID, &e.ProjectID, &e.ProjectPath, &e.Skill, &e.Mode, &status, &e.CurrentPhase, &e.SessionID,
		&answers, &e.PID, &e.CostUSD, &e.Error, &e.EventsEmitted, &artifacts,
		&e.StartedAt, &e.UpdatedAt, &completed,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scan execution: %w", err)
	}

	e.Status, _ = ParseStatus(status)
	if err := json.Unmarshal([]byte(answers), &e.Answers); err != nil {
		return nil, fmt.Errorf("decode answers of %s: %w", e.ID, err)
	}
	if e.Answers == nil {
		e.Answers = map[string]string{}
	}
	if err := json.Unmarshal([]byte(artifacts), &e.Artifacts); err != nil {
		return nil, fmt.Errorf("decode artifacts of %s: %w", e.ID, err)
	}
	if completed.Valid {
		t := completed.Time
		e.CompletedAt = &t
	}
	return &e, nil
}

func encodeCollections(e *Execution) (string, string, error) {
	answers := e.Answers
	if answers == nil {
		answers = map[string]string{}
	}
	a, err := json.Marshal(answers)
	if err != nil {
		return "", "", fmt.Errorf("encode answers: %w", err)
	}
	artifacts := e.Artifacts
	if artifacts == nil {
		artifacts = []string{}
	}
	b, err := json.Marshal(artifacts)
	if err != nil {
		return "", "", fmt.Errorf("encode artifacts: %w", err)
	}
	return string(a), string(b), nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
