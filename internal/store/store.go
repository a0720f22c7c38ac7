package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pavelanni/preflight/internal/model"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ErrNoActiveConfig is returned when an evaluation snapshot is requested
// while no configuration is active.
var ErrNoActiveConfig = errors.New("no active risk assessment configuration")

// ErrDuplicateID is returned when an insert reuses an existing primary key.
var ErrDuplicateID = errors.New("id already exists")

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY || se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}

type Store struct {
	db *sql.DB
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection keeps :memory: databases shared and serializes writers.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS categories (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		display_order INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS questions (
		id TEXT PRIMARY KEY,
		category_id TEXT NOT NULL DEFAULT '',
		text TEXT NOT NULL,
		help_text TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		disqualifying INTEGER NOT NULL DEFAULT 0,
		display_order INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS answer_options (
		id TEXT NOT NULL,
		question_id TEXT NOT NULL,
		label TEXT NOT NULL,
		risk_score INTEGER NOT NULL DEFAULT 0,
		disqualifying INTEGER NOT NULL DEFAULT 0,
		display_order INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (question_id, id),
		FOREIGN KEY (question_id) REFERENCES questions(id)
	);

	CREATE TABLE IF NOT EXISTS numeric_ranges (
		id TEXT NOT NULL,
		question_id TEXT NOT NULL,
		lower_bound REAL,
		upper_bound REAL,
		risk_score INTEGER NOT NULL DEFAULT 0,
		disqualifying INTEGER NOT NULL DEFAULT 0,
		label TEXT NOT NULL DEFAULT '',
		display_order INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (question_id, id),
		FOREIGN KEY (question_id) REFERENCES questions(id)
	);

	CREATE TABLE IF NOT EXISTS configs (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		max_allowed_score INTEGER NOT NULL,
		active INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS configs_one_active ON configs(active) WHERE active = 1;

	CREATE TABLE IF NOT EXISTS assessments (
		id TEXT PRIMARY KEY,
		learner_id TEXT NOT NULL,
		config_id TEXT NOT NULL,
		flight_session_id TEXT NOT NULL DEFAULT '',
		mission_id TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT '',
		total_score INTEGER NOT NULL,
		max_allowed_score INTEGER NOT NULL,
		disqualified INTEGER NOT NULL,
		passed INTEGER NOT NULL,
		result TEXT NOT NULL,
		completed_at DATETIME NOT NULL,
		FOREIGN KEY (config_id) REFERENCES configs(id)
	);

	CREATE INDEX IF NOT EXISTS assessments_learner ON assessments(learner_id, completed_at);

	CREATE TABLE IF NOT EXISTS assessment_responses (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		assessment_id TEXT NOT NULL,
		question_id TEXT NOT NULL,
		option_id TEXT NOT NULL DEFAULT '',
		range_id TEXT NOT NULL DEFAULT '',
		numeric_value REAL,
		risk_score INTEGER NOT NULL,
		disqualifying INTEGER NOT NULL,
		FOREIGN KEY (assessment_id) REFERENCES assessments(id)
	);

	CREATE TABLE IF NOT EXISTS assessment_overrides (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		assessment_id TEXT NOT NULL,
		instructor_id TEXT NOT NULL,
		reason TEXT NOT NULL,
		result TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (assessment_id) REFERENCES assessments(id)
	);

	CREATE TABLE IF NOT EXISTS imported_files (
		path TEXT PRIMARY KEY,
		sha256 TEXT NOT NULL,
		imported_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// LoadSnapshot reads the active config and every active question, with
// options and ranges, inside one read transaction.
func (s *Store) LoadSnapshot() (*model.Snapshot, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	cfg, err := activeConfig(tx)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, ErrNoActiveConfig
	}
	questions, err := listQuestions(tx, true)
	if err != nil {
		return nil, err
	}
	return &model.Snapshot{Config: *cfg, Questions: questions}, tx.Commit()
}
