package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/jks-lab/ragchat/internal/core/domain"
)

// SessionRepository persists chat sessions in Postgres. History is stored
// as a JSONB array; the session row is small by construction (the usecase
// trims history to a fixed window).
type SessionRepository struct {
	db *sql.DB
}

func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *SessionRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026082601)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS chat_sessions (
	id TEXT PRIMARY KEY,
	user_name TEXT NOT NULL,
	history JSONB NOT NULL DEFAULT '[]'::jsonb,
	turn_index INTEGER NOT NULL DEFAULT 0,
	last_engine TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chat_sessions_updated_at ON chat_sessions(updated_at DESC);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *SessionRepository) Load(ctx context.Context, sessionID string) (*domain.Session, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, user_name, history, turn_index, last_engine
FROM chat_sessions
WHERE id = $1
`, sessionID)

	var (
		session     domain.Session
		historyJSON []byte
		lastEngine  string
	)
	if err := row.Scan(&session.ID, &session.UserName, &historyJSON, &session.TurnIndex, &lastEngine); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrNotFound, "postgres.SessionRepository.Load", err)
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	if len(historyJSON) > 0 {
		if err := json.Unmarshal(historyJSON, &session.History); err != nil {
			return nil, fmt.Errorf("decode session history: %w", err)
		}
	}
	session.LastEngine = domain.EngineID(lastEngine)
	return &session, nil
}

func (r *SessionRepository) Save(ctx context.Context, session *domain.Session) error {
	history := session.History
	if history == nil {
		history = []domain.Turn{}
	}
	historyJSON, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("encode session history: %w", err)
	}

	now := time.Now().UTC()
	_, err = r.db.ExecContext(ctx, `
INSERT INTO chat_sessions (id, user_name, history, turn_index, last_engine, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $6)
ON CONFLICT (id) DO UPDATE SET
	history = EXCLUDED.history,
	turn_index = EXCLUDED.turn_index,
	last_engine = EXCLUDED.last_engine,
	updated_at = EXCLUDED.updated_at
`, session.ID, session.UserName, historyJSON, session.TurnIndex, string(session.LastEngine), now)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (r *SessionRepository) Delete(ctx context.Context, sessionID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM chat_sessions WHERE id = $1`, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
