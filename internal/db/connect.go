package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	_ "modernc.org/sqlite"             // driver: sqlite
)

type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// Open opens a DB and ensures schema exists.
func Open(ctx context.Context, driver Driver, dsn string) (*sql.DB, error) {
	var drvName string
	switch driver {
	case DriverSQLite:
		drvName = "sqlite" // modernc driver
		if dsn == "" {
			dsn = "file:quizforge.db?cache=shared&mode=rwc&_pragma=busy_timeout(5000)"
		}
	case DriverPostgres:
		drvName = "pgx" // pgx stdlib driver
		if dsn == "" {
			dsn = "postgres://localhost:5432/quizforge?sslmode=disable"
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}

	if err := ensureSchema(ctx, db, driver); err != nil {
		return nil, err
	}
	return db, nil
}

func ensureSchema(ctx context.Context, db *sql.DB, driver Driver) error {
	var schema string
	switch driver {
	case DriverSQLite:
		schema = schemaSQLite
	case DriverPostgres:
		schema = schemaPostgres
	}
	_, err := db.ExecContext(ctx, schema)
	return err
}

// Foreign keys are intentionally absent: bank reload and session delete flows
// replace whole row sets inside application transactions, and usage rows may
// reference questions that only live in the static test cache.
const schemaSQLite = `
CREATE TABLE IF NOT EXISTS questions (
  id TEXT PRIMARY KEY,
  bank_id TEXT NOT NULL,
  question_text TEXT NOT NULL,
  options_json TEXT NOT NULL,
  correct_answer INTEGER NOT NULL,
  explanation TEXT NOT NULL DEFAULT '',
  difficulty TEXT NOT NULL DEFAULT 'medium',
  category TEXT NOT NULL DEFAULT '',
  keywords_json TEXT NOT NULL DEFAULT '[]',
  points REAL NOT NULL DEFAULT 1,
  estimated_time_sec INTEGER NOT NULL DEFAULT 90,
  source_json TEXT NOT NULL DEFAULT '',
  created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS question_usage (
  question_id TEXT NOT NULL,
  identity TEXT NOT NULL,
  times_used INTEGER NOT NULL DEFAULT 0,
  last_used INTEGER NOT NULL DEFAULT 0,
  correct_count INTEGER NOT NULL DEFAULT 0,
  incorrect_count INTEGER NOT NULL DEFAULT 0,
  updated_at INTEGER NOT NULL DEFAULT 0,
  PRIMARY KEY (question_id, identity)
);

CREATE TABLE IF NOT EXISTS question_banks (
  id TEXT PRIMARY KEY,
  title TEXT NOT NULL DEFAULT '',
  description TEXT NOT NULL DEFAULT '',
  file_path TEXT NOT NULL DEFAULT '',
  question_count INTEGER NOT NULL DEFAULT 0,
  loaded_at INTEGER NOT NULL,
  last_updated INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS generated_tests (
  id TEXT PRIMARY KEY,
  test_type TEXT NOT NULL,
  title TEXT NOT NULL,
  criteria_json TEXT NOT NULL DEFAULT '{}',
  question_ids_json TEXT NOT NULL,
  identity TEXT NOT NULL DEFAULT 'anonymous',
  passing_grade REAL NOT NULL DEFAULT 70,
  created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
  id TEXT PRIMARY KEY,
  test_id TEXT NOT NULL,
  test_title TEXT NOT NULL DEFAULT '',
  identity TEXT NOT NULL DEFAULT 'anonymous',
  status TEXT NOT NULL DEFAULT 'active',
  test_type TEXT NOT NULL DEFAULT 'random',
  started_at INTEGER NOT NULL,
  completed_at INTEGER,
  total_questions INTEGER NOT NULL,
  current_index INTEGER NOT NULL DEFAULT 0,
  question_ids_json TEXT NOT NULL,
  answers_json TEXT NOT NULL DEFAULT '{}',
  correct_answers INTEGER NOT NULL DEFAULT 0,
  total_points REAL NOT NULL DEFAULT 0,
  points_earned REAL NOT NULL DEFAULT 0,
  score_percentage REAL NOT NULL DEFAULT 0,
  duration_sec INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS answers (
  session_id TEXT NOT NULL,
  question_id TEXT NOT NULL,
  question_text TEXT NOT NULL DEFAULT '',
  selected INTEGER,
  correct INTEGER NOT NULL DEFAULT 0,
  is_correct INTEGER NOT NULL DEFAULT 0,
  points_available REAL NOT NULL DEFAULT 1,
  points_earned REAL NOT NULL DEFAULT 0,
  time_spent_sec INTEGER NOT NULL DEFAULT 0,
  answered_at INTEGER NOT NULL DEFAULT 0,
  PRIMARY KEY (session_id, question_id)
);

CREATE TABLE IF NOT EXISTS test_stats (
  test_id TEXT PRIMARY KEY,
  test_title TEXT NOT NULL DEFAULT '',
  times_taken INTEGER NOT NULL DEFAULT 0,
  average_score REAL NOT NULL DEFAULT 0,
  best_score REAL NOT NULL DEFAULT 0,
  worst_score REAL NOT NULL DEFAULT 100,
  total_questions INTEGER NOT NULL DEFAULT 0,
  last_taken INTEGER,
  updated_at INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS event_log (
  "offset" INTEGER PRIMARY KEY AUTOINCREMENT,
  typ TEXT NOT NULL,
  key TEXT NOT NULL,
  data TEXT NOT NULL,
  created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_questions_bank ON questions(bank_id);
CREATE INDEX IF NOT EXISTS idx_questions_category ON questions(category);
CREATE INDEX IF NOT EXISTS idx_usage_identity ON question_usage(identity);
CREATE INDEX IF NOT EXISTS idx_answers_session ON answers(session_id);
CREATE INDEX IF NOT EXISTS idx_sessions_completed ON sessions(status, completed_at);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS questions (
  id TEXT PRIMARY KEY,
  bank_id TEXT NOT NULL,
  question_text TEXT NOT NULL,
  options_json TEXT NOT NULL,
  correct_answer INTEGER NOT NULL,
  explanation TEXT NOT NULL DEFAULT '',
  difficulty TEXT NOT NULL DEFAULT 'medium',
  category TEXT NOT NULL DEFAULT '',
  keywords_json TEXT NOT NULL DEFAULT '[]',
  points DOUBLE PRECISION NOT NULL DEFAULT 1,
  estimated_time_sec INTEGER NOT NULL DEFAULT 90,
  source_json TEXT NOT NULL DEFAULT '',
  created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS question_usage (
  question_id TEXT NOT NULL,
  identity TEXT NOT NULL,
  times_used INTEGER NOT NULL DEFAULT 0,
  last_used BIGINT NOT NULL DEFAULT 0,
  correct_count INTEGER NOT NULL DEFAULT 0,
  incorrect_count INTEGER NOT NULL DEFAULT 0,
  updated_at BIGINT NOT NULL DEFAULT 0,
  PRIMARY KEY (question_id, identity)
);

CREATE TABLE IF NOT EXISTS question_banks (
  id TEXT PRIMARY KEY,
  title TEXT NOT NULL DEFAULT '',
  description TEXT NOT NULL DEFAULT '',
  file_path TEXT NOT NULL DEFAULT '',
  question_count INTEGER NOT NULL DEFAULT 0,
  loaded_at BIGINT NOT NULL,
  last_updated BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS generated_tests (
  id TEXT PRIMARY KEY,
  test_type TEXT NOT NULL,
  title TEXT NOT NULL,
  criteria_json TEXT NOT NULL DEFAULT '{}',
  question_ids_json TEXT NOT NULL,
  identity TEXT NOT NULL DEFAULT 'anonymous',
  passing_grade DOUBLE PRECISION NOT NULL DEFAULT 70,
  created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
  id TEXT PRIMARY KEY,
  test_id TEXT NOT NULL,
  test_title TEXT NOT NULL DEFAULT '',
  identity TEXT NOT NULL DEFAULT 'anonymous',
  status TEXT NOT NULL DEFAULT 'active',
  test_type TEXT NOT NULL DEFAULT 'random',
  started_at BIGINT NOT NULL,
  completed_at BIGINT,
  total_questions INTEGER NOT NULL,
  current_index INTEGER NOT NULL DEFAULT 0,
  question_ids_json TEXT NOT NULL,
  answers_json TEXT NOT NULL DEFAULT '{}',
  correct_answers INTEGER NOT NULL DEFAULT 0,
  total_points DOUBLE PRECISION NOT NULL DEFAULT 0,
  points_earned DOUBLE PRECISION NOT NULL DEFAULT 0,
  score_percentage DOUBLE PRECISION NOT NULL DEFAULT 0,
  duration_sec INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS answers (
  session_id TEXT NOT NULL,
  question_id TEXT NOT NULL,
  question_text TEXT NOT NULL DEFAULT '',
  selected INTEGER,
  correct INTEGER NOT NULL DEFAULT 0,
  is_correct INTEGER NOT NULL DEFAULT 0,
  points_available DOUBLE PRECISION NOT NULL DEFAULT 1,
  points_earned DOUBLE PRECISION NOT NULL DEFAULT 0,
  time_spent_sec INTEGER NOT NULL DEFAULT 0,
  answered_at BIGINT NOT NULL DEFAULT 0,
  PRIMARY KEY (session_id, question_id)
);

CREATE TABLE IF NOT EXISTS test_stats (
  test_id TEXT PRIMARY KEY,
  test_title TEXT NOT NULL DEFAULT '',
  times_taken INTEGER NOT NULL DEFAULT 0,
  average_score DOUBLE PRECISION NOT NULL DEFAULT 0,
  best_score DOUBLE PRECISION NOT NULL DEFAULT 0,
  worst_score DOUBLE PRECISION NOT NULL DEFAULT 100,
  total_questions INTEGER NOT NULL DEFAULT 0,
  last_taken BIGINT,
  updated_at BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS event_log (
  "offset" BIGSERIAL PRIMARY KEY,
  typ TEXT NOT NULL,
  key TEXT NOT NULL,
  data TEXT NOT NULL,
  created_at BIGINT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_questions_bank ON questions(bank_id);
CREATE INDEX IF NOT EXISTS idx_questions_category ON questions(category);
CREATE INDEX IF NOT EXISTS idx_usage_identity ON question_usage(identity);
CREATE INDEX IF NOT EXISTS idx_answers_session ON answers(session_id);
CREATE INDEX IF NOT EXISTS idx_sessions_completed ON sessions(status, completed_at);
`
