// Package sqlstore persists call sessions in PostgreSQL or SQLite.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dkeye/callsignal/internal/domain"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

func (d Dialect) driver() string {
	if d == Postgres {
		return "postgres"
	}
	return "sqlite"
}

const schema = `
CREATE TABLE IF NOT EXISTS call_sessions (
	id            TEXT PRIMARY KEY,
	status        TEXT NOT NULL,
	session_type  TEXT NOT NULL,
	user_id       TEXT NOT NULL,
	astrologer_id TEXT NOT NULL,
	initiated_by  TEXT NOT NULL DEFAULT '',
	created_at    BIGINT NOT NULL,
	updated_at    BIGINT NOT NULL,
	started_at    BIGINT,
	ended_at      BIGINT,
	end_reason    TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS push_tokens (
	user_id TEXT NOT NULL,
	role    TEXT NOT NULL,
	token   TEXT NOT NULL,
	PRIMARY KEY (user_id, role)
);
`

type Store struct {
	db        *sql.DB
	dialect   Dialect
	opTimeout time.Duration
}

// Open connects, applies the schema and returns a pooled store.
func Open(ctx context.Context, dialect Dialect, dsn string, opTimeout time.Duration) (*Store, error) {
	db, err := sql.Open(dialect.driver(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if dialect == SQLite {
		// single writer, see SQLITE_BUSY
		db.SetMaxOpenConns(1)
	}
	s := &Store{db: db, dialect: dialect, opTimeout: opTimeout}

	ctx, cancel := s.op(ctx)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	log.Info().Str("module", "store.sql").Str("driver", dialect.driver()).Msg("connected")
	return s, nil
}

func (s *Store) op(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *Store) rebind(q string) string {
	if s.dialect != Postgres {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func toMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromMillis(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}

// PutSession upserts a session record, as the booking flow would.
func (s *Store) PutSession(ctx context.Context, sess domain.Session) error {
	ctx, cancel := s.op(ctx)
	defer cancel()
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO call_sessions
			(id, status, session_type, user_id, astrologer_id, initiated_by,
			 created_at, updated_at, started_at, ended_at, end_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status,
			session_type = excluded.session_type,
			user_id = excluded.user_id,
			astrologer_id = excluded.astrologer_id,
			initiated_by = excluded.initiated_by,
			updated_at = excluded.updated_at,
			started_at = excluded.started_at,
			ended_at = excluded.ended_at,
			end_reason = excluded.end_reason`),
		string(sess.ID), string(sess.Status), string(sess.Type),
		string(sess.UserID), string(sess.AstrologerID), string(sess.InitiatedBy),
		sess.CreatedAt.UnixMilli(), sess.UpdatedAt.UnixMilli(),
		toMillis(sess.StartedAt), toMillis(sess.EndedAt), sess.EndReason,
	)
	if err != nil {
		return fmt.Errorf("put session %s: %w", sess.ID, err)
	}
	return nil
}

func (s *Store) FindSession(ctx context.Context, id domain.SessionID) (*domain.Session, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()

	var (
		sess                domain.Session
		created, updated    int64
		started, ended      sql.NullInt64
		status, typ         string
		userID, astroID     string
		initiatedBy, reason string
	)
	err := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT status, session_type, user_id, astrologer_id, initiated_by,
		       created_at, updated_at, started_at, ended_at, end_reason
		FROM call_sessions WHERE id = ?`), string(id),
	).Scan(&status, &typ, &userID, &astroID, &initiatedBy, &created, &updated, &started, &ended, &reason)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find session %s: %w", id, err)
	}
	sess = domain.Session{
		ID:           id,
		Status:       domain.Status(status),
		Type:         domain.SessionType(typ),
		UserID:       domain.UserID(userID),
		AstrologerID: domain.UserID(astroID),
		InitiatedBy:  domain.UserID(initiatedBy),
		CreatedAt:    time.UnixMilli(created).UTC(),
		UpdatedAt:    time.UnixMilli(updated).UTC(),
		StartedAt:    fromMillis(started),
		EndedAt:      fromMillis(ended),
		EndReason:    reason,
	}
	return &sess, nil
}

// ApplyTransition updates only while the stored status is admitted by tr.From.
func (s *Store) ApplyTransition(ctx context.Context, id domain.SessionID, tr domain.Transition) error {
	ctx, cancel := s.op(ctx)
	defer cancel()

	q := `UPDATE call_sessions SET
		status = ?,
		updated_at = ?,
		started_at = COALESCE(?, started_at),
		ended_at = COALESCE(?, ended_at),
		end_reason = CASE WHEN ? = '' THEN end_reason ELSE ? END,
		initiated_by = CASE WHEN ? = '' THEN initiated_by ELSE ? END
		WHERE id = ?`
	args := []any{
		string(tr.To), tr.At.UnixMilli(),
		toMillis(tr.StartedAt), toMillis(tr.EndedAt),
		tr.EndReason, tr.EndReason,
		string(tr.InitiatedBy), string(tr.InitiatedBy),
		string(id),
	}
	if len(tr.From) > 0 {
		q += ` AND status IN (?` + strings.Repeat(`, ?`, len(tr.From)-1) + `)`
		for _, st := range tr.From {
			args = append(args, string(st))
		}
	}

	res, err := s.db.ExecContext(ctx, s.rebind(q), args...)
	if err != nil {
		return fmt.Errorf("update session %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session %s: %w", id, err)
	}
	if n > 0 {
		return nil
	}

	var one int
	err = s.db.QueryRowContext(ctx, s.rebind(`SELECT 1 FROM call_sessions WHERE id = ?`), string(id)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("check session %s: %w", id, err)
	}
	return fmt.Errorf("%w: %s lost the status guard", domain.ErrInvalidTransition, tr.Trigger)
}

func (s *Store) SetPushToken(ctx context.Context, id domain.UserID, role domain.Role, token string) error {
	ctx, cancel := s.op(ctx)
	defer cancel()
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO push_tokens (user_id, role, token) VALUES (?, ?, ?)
		ON CONFLICT (user_id, role) DO UPDATE SET token = excluded.token`),
		string(id), string(role), token)
	if err != nil {
		return fmt.Errorf("set push token %s: %w", id, err)
	}
	return nil
}

func (s *Store) PushToken(ctx context.Context, id domain.UserID, role domain.Role) (string, error) {
	ctx, cancel := s.op(ctx)
	defer cancel()
	var token string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT token FROM push_tokens WHERE user_id = ? AND role = ?`),
		string(id), string(role)).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && token == "") {
		return "", domain.ErrNoPushToken
	}
	if err != nil {
		return "", fmt.Errorf("push token %s: %w", id, err)
	}
	return token, nil
}

func (s *Store) Close(context.Context) error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	log.Info().Str("module", "store.sql").Msg("closed")
	return nil
}
