package ctxstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/sipeed/turnhub/pkg/domain"
	"github.com/sipeed/turnhub/pkg/perrors"
)

// ColdStore is the permanent tier of the Multi-Tier Context Store: the
// last envelope per session plus an unbounded, paginated append log.
type ColdStore interface {
	WriteEnvelope(ctx context.Context, env domain.ContextEnvelope) error
	ReadEnvelope(ctx context.Context, sessionID string) (*domain.ContextEnvelope, error)
	AppendResult(ctx context.Context, result domain.AppendedResult) error
	ReadAppends(ctx context.Context, sessionID string, limit, offset int) ([]domain.AppendedResult, int, error)
	DeleteSession(ctx context.Context, sessionID string) error
	WriteTurn(ctx context.Context, turn domain.Turn) error
	ReadTurns(ctx context.Context, sessionID string) ([]domain.Turn, error)
	DeleteTurns(ctx context.Context, sessionID string) error
	Close() error
}

// sqlColdStore implements ColdStore over database/sql, driven by either
// modernc.org/sqlite (local/dev) or lib/pq (production Postgres) per
// cfg.Store.Cold.Driver — both drivers speak the same JSONB-ish schema,
// sqlite storing the payload as TEXT.
type sqlColdStore struct {
	db     *sql.DB
	driver string
}

// NewSQLColdStore opens the cold tier and ensures its schema exists.
func NewSQLColdStore(driver, dsn string) (ColdStore, error) {
	sqlDriver := driver
	if driver == "postgres" {
		sqlDriver = "postgres"
	} else {
		sqlDriver = "sqlite"
	}

	db, err := sql.Open(sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("ctxstore: opening cold store (%s): %w", driver, err)
	}

	store := &sqlColdStore{db: db, driver: sqlDriver}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("ctxstore: migrating cold store: %w", err)
	}
	return store, nil
}

func (s *sqlColdStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS mcp_contexts (
			session_id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			intent_tag TEXT NOT NULL,
			payload TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL,
			expires_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS mcp_appends (
			append_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			source TEXT NOT NULL,
			output TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_mcp_appends_session ON mcp_appends(session_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS turns (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			channel TEXT NOT NULL,
			user_text TEXT NOT NULL,
			ai_text TEXT NOT NULL,
			intent TEXT NOT NULL,
			routing TEXT NOT NULL,
			needs_approval BOOLEAN NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS channel_conversations (
			id TEXT PRIMARY KEY,
			platform TEXT NOT NULL,
			session_id TEXT NOT NULL,
			user_message TEXT NOT NULL,
			ai_response TEXT NOT NULL,
			intent TEXT NOT NULL,
			needs_approval BOOLEAN NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS channel_errors (
			id TEXT PRIMARY KEY,
			platform TEXT NOT NULL,
			session_id TEXT NOT NULL,
			error_text TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS approvals (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			intent_tag TEXT NOT NULL,
			data TEXT NOT NULL,
			status TEXT NOT NULL,
			webhook_status TEXT,
			created_at TIMESTAMP NOT NULL,
			resolved_at TIMESTAMP
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqlColdStore) WriteEnvelope(ctx context.Context, env domain.ContextEnvelope) error {
	payload, err := json.Marshal(env.Payload)
	if err != nil {
		return fmt.Errorf("%w: marshal payload: %v", perrors.ErrStoreFatal, err)
	}

	query := `INSERT INTO mcp_contexts (session_id, user_id, intent_tag, payload, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE SET
			user_id = excluded.user_id, intent_tag = excluded.intent_tag,
			payload = excluded.payload, created_at = excluded.created_at, expires_at = excluded.expires_at`
	query = s.rebind(query)

	if _, err := s.db.ExecContext(ctx, query, env.SessionID, env.UserID, string(env.IntentTag), string(payload), env.CreatedAt, env.ExpiresAt); err != nil {
		return fmt.Errorf("%w: %v", perrors.ErrStoreTransient, err)
	}
	return nil
}

func (s *sqlColdStore) ReadEnvelope(ctx context.Context, sessionID string) (*domain.ContextEnvelope, error) {
	query := s.rebind(`SELECT session_id, user_id, intent_tag, payload, created_at, expires_at FROM mcp_contexts WHERE session_id = ?`)
	row := s.db.QueryRowContext(ctx, query, sessionID)

	var env domain.ContextEnvelope
	var intentTag, payload string
	if err := row.Scan(&env.SessionID, &env.UserID, &intentTag, &payload, &env.CreatedAt, &env.ExpiresAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, perrors.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", perrors.ErrStoreTransient, err)
	}
	env.IntentTag = domain.IntentTag(intentTag)
	if err := json.Unmarshal([]byte(payload), &env.Payload); err != nil {
		return nil, fmt.Errorf("%w: unmarshal payload: %v", perrors.ErrStoreFatal, err)
	}
	return &env, nil
}

func (s *sqlColdStore) AppendResult(ctx context.Context, result domain.AppendedResult) error {
	output, err := json.Marshal(result.Output)
	if err != nil {
		return fmt.Errorf("%w: marshal output: %v", perrors.ErrStoreFatal, err)
	}
	query := s.rebind(`INSERT INTO mcp_appends (append_id, session_id, source, output, created_at) VALUES (?, ?, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, query, result.AppendID, result.SessionID, result.Source, string(output), result.CreatedAt); err != nil {
		return fmt.Errorf("%w: %v", perrors.ErrStoreTransient, err)
	}
	return nil
}

func (s *sqlColdStore) ReadAppends(ctx context.Context, sessionID string, limit, offset int) ([]domain.AppendedResult, int, error) {
	countQuery := s.rebind(`SELECT COUNT(*) FROM mcp_appends WHERE session_id = ?`)
	var total int
	if err := s.db.QueryRowContext(ctx, countQuery, sessionID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("%w: %v", perrors.ErrStoreTransient, err)
	}

	query := s.rebind(`SELECT append_id, session_id, source, output, created_at FROM mcp_appends
		WHERE session_id = ? ORDER BY created_at ASC LIMIT ? OFFSET ?`)
	rows, err := s.db.QueryContext(ctx, query, sessionID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", perrors.ErrStoreTransient, err)
	}
	defer rows.Close()

	var appends []domain.AppendedResult
	for rows.Next() {
		var a domain.AppendedResult
		var output string
		if err := rows.Scan(&a.AppendID, &a.SessionID, &a.Source, &output, &a.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("%w: %v", perrors.ErrStoreTransient, err)
		}
		_ = json.Unmarshal([]byte(output), &a.Output)
		appends = append(appends, a)
	}
	return appends, total, nil
}

func (s *sqlColdStore) DeleteSession(ctx context.Context, sessionID string) error {
	for _, table := range []string{"mcp_contexts", "mcp_appends", "turns"} {
		query := s.rebind(fmt.Sprintf("DELETE FROM %s WHERE session_id = ?", table))
		if _, err := s.db.ExecContext(ctx, query, sessionID); err != nil {
			return fmt.Errorf("%w: %v", perrors.ErrStoreTransient, err)
		}
	}
	return nil
}

func (s *sqlColdStore) WriteTurn(ctx context.Context, turn domain.Turn) error {
	query := s.rebind(`INSERT INTO turns (id, session_id, user_id, channel, user_text, ai_text, intent, routing, needs_approval, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query, turn.ID, turn.SessionID, turn.UserID, turn.Channel,
		turn.UserText, turn.AIText, string(turn.Intent), string(turn.Routing), turn.NeedsApproval, turn.CreatedAt)
	if err != nil {
		return fmt.Errorf("%w: %v", perrors.ErrStoreTransient, err)
	}
	return nil
}

func (s *sqlColdStore) ReadTurns(ctx context.Context, sessionID string) ([]domain.Turn, error) {
	query := s.rebind(`SELECT id, session_id, user_id, channel, user_text, ai_text, intent, routing, needs_approval, created_at
		FROM turns WHERE session_id = ? ORDER BY created_at ASC`)
	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", perrors.ErrStoreTransient, err)
	}
	defer rows.Close()

	var turns []domain.Turn
	for rows.Next() {
		var t domain.Turn
		var intent, routing string
		if err := rows.Scan(&t.ID, &t.SessionID, &t.UserID, &t.Channel, &t.UserText, &t.AIText, &intent, &routing, &t.NeedsApproval, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("%w: %v", perrors.ErrStoreTransient, err)
		}
		t.Intent = domain.IntentTag(intent)
		t.Routing = domain.RoutingLane(routing)
		turns = append(turns, t)
	}
	return turns, nil
}

func (s *sqlColdStore) DeleteTurns(ctx context.Context, sessionID string) error {
	query := s.rebind(`DELETE FROM turns WHERE session_id = ?`)
	if _, err := s.db.ExecContext(ctx, query, sessionID); err != nil {
		return fmt.Errorf("%w: %v", perrors.ErrStoreTransient, err)
	}
	return nil
}

func (s *sqlColdStore) Close() error { return s.db.Close() }

// rebind rewrites "?" placeholders into Postgres "$N" form when needed.
func (s *sqlColdStore) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	out := make([]byte, 0, len(query)+8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			out = append(out, []byte(fmt.Sprintf("$%d", n))...)
			continue
		}
		out = append(out, query[i])
	}
	return string(out)
}
