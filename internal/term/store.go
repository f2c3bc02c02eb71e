package term

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound reports a terminal id absent from the registry.
var ErrNotFound = errors.New("terminal not found")

// Record is one registry row. The registry survives service restarts;
// the live tmux state is re-derived per request.
type Record struct {
	ID         string
	Session    string
	Window     string
	Provider   string
	Profile    string
	WD         string
	CreatedAt  time.Time
	LastActive time.Time
}

// Store is the terminal registry backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// OpenStore opens (and migrates) the registry database under dataDir.
func OpenStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "agentmux.db")
	db, err := sql.Open("sqlite3", dbPath+"?_journal=WAL&_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db, path: dbPath}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS terminals (
		id TEXT PRIMARY KEY,
		session_name TEXT NOT NULL,
		window_name TEXT NOT NULL,
		provider TEXT NOT NULL,
		agent_profile TEXT NOT NULL,
		working_directory TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		last_active DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_terminals_session ON terminals(session_name);
	CREATE INDEX IF NOT EXISTS idx_terminals_active ON terminals(last_active DESC);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Create(ctx context.Context, rec *Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO terminals (id, session_name, window_name, provider, agent_profile, working_directory, created_at, last_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.Session, rec.Window, rec.Provider, rec.Profile, rec.WD, rec.CreatedAt, rec.LastActive)
	return err
}

func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	var rec Record
	err := s.db.QueryRowContext(ctx, `
		SELECT id, session_name, window_name, provider, agent_profile, working_directory, created_at, last_active
		FROM terminals WHERE id = ?
	`, id).Scan(&rec.ID, &rec.Session, &rec.Window, &rec.Provider, &rec.Profile, &rec.WD, &rec.CreatedAt, &rec.LastActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) List(ctx context.Context) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_name, window_name, provider, agent_profile, working_directory, created_at, last_active
		FROM terminals ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.Session, &rec.Window, &rec.Provider, &rec.Profile, &rec.WD, &rec.CreatedAt, &rec.LastActive); err != nil {
			return nil, err
		}
		recs = append(recs, &rec)
	}
	return recs, rows.Err()
}

// Touch bumps last_active, which drives retention pruning.
func (s *Store) Touch(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE terminals SET last_active = ? WHERE id = ?
	`, at, id)
	return err
}

func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM terminals WHERE id = ?`, id)
	return err
}

// Stale returns terminals whose last activity predates cutoff.
func (s *Store) Stale(ctx context.Context, cutoff time.Time) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_name, window_name, provider, agent_profile, working_directory, created_at, last_active
		FROM terminals WHERE last_active < ? ORDER BY last_active ASC
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.Session, &rec.Window, &rec.Provider, &rec.Profile, &rec.WD, &rec.CreatedAt, &rec.LastActive); err != nil {
			return nil, err
		}
		recs = append(recs, &rec)
	}
	return recs, rows.Err()
}
