package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"hfauth/cmd/internal/storage/dbx"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store using PostgreSQL (auth.sessions).
//
// OpenExclusive takes a per-user advisory lock for the close-then-insert
// sequence; the partial unique index uq_sessions_one_active backs it up.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed session store.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("session: nil pool")
	}
	return &PostgresStore{pool: pool}, nil
}

const sessionColumns = `id, user_id, token_hash, state, started_at, last_accessed_at, ended_at, client_ip, device, browser`

// OpenExclusive closes the user's ACTIVE sessions and inserts s in one transaction.
func (p *PostgresStore) OpenExclusive(ctx context.Context, s Session, now time.Time) ([]string, error) {
	var closed []string

	err := dbx.WithTx(ctx, p.pool, func(ctx context.Context) error {
		db := dbx.Conn(ctx, p.pool)

		if _, err := db.Exec(ctx,
			`SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`,
			"sessions:"+strconv.FormatInt(s.UserID, 10),
		); err != nil {
			return err
		}

		rows, err := db.Query(ctx, `
			UPDATE auth.sessions
			   SET state = 'CLOSED', ended_at = $2
			 WHERE user_id = $1 AND state = 'ACTIVE'
			RETURNING id
		`, s.UserID, now.UTC())
		if err != nil {
			return err
		}
		ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return err
		}
		closed = ids

		_, err = db.Exec(ctx, `
			INSERT INTO auth.sessions (`+sessionColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`,
			s.ID, s.UserID, s.TokenHash, string(s.State), s.StartedAt.UTC(), s.LastAccessedAt.UTC(),
			s.EndedAt, nullIfEmpty(s.ClientIP), s.Device, s.Browser,
		)
		if constraint, ok := dbx.UniqueViolation(err); ok {
			switch constraint {
			case "uq_sessions_one_active":
				return ErrActiveConflict
			case "uq_sessions_token_hash":
				return ErrDuplicateToken
			}
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return closed, nil
}

// FindByHash loads a session by token digest.
func (p *PostgresStore) FindByHash(ctx context.Context, hash string) (Session, bool, error) {
	s, err := scanSession(dbx.Conn(ctx, p.pool).QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM auth.sessions WHERE token_hash = $1`, hash))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, false, nil
		}
		return Session{}, false, err
	}
	return s, true, nil
}

// Touch updates last_accessed_at for an ACTIVE session.
func (p *PostgresStore) Touch(ctx context.Context, hash string, at time.Time) (bool, error) {
	tag, err := dbx.Conn(ctx, p.pool).Exec(ctx, `
		UPDATE auth.sessions
		   SET last_accessed_at = $2
		 WHERE token_hash = $1 AND state = 'ACTIVE'
	`, hash, at.UTC())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// End moves one ACTIVE session to a terminal state.
func (p *PostgresStore) End(ctx context.Context, hash string, to State, at time.Time) (Session, bool, error) {
	s, err := scanSession(dbx.Conn(ctx, p.pool).QueryRow(ctx, `
		UPDATE auth.sessions
		   SET state = $2, ended_at = $3
		 WHERE token_hash = $1 AND state = 'ACTIVE'
		RETURNING `+sessionColumns,
		hash, string(to), at.UTC()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, false, nil
		}
		return Session{}, false, err
	}
	return s, true, nil
}

// EndAllForUser moves every ACTIVE session of a user to a terminal state.
func (p *PostgresStore) EndAllForUser(ctx context.Context, userID int64, to State, at time.Time) ([]Session, error) {
	return p.collect(ctx, `
		UPDATE auth.sessions
		   SET state = $2, ended_at = $3
		 WHERE user_id = $1 AND state = 'ACTIVE'
		RETURNING `+sessionColumns,
		userID, string(to), at.UTC())
}

// ExpireIdle expires ACTIVE sessions last accessed before cutoff.
func (p *PostgresStore) ExpireIdle(ctx context.Context, cutoff, at time.Time) ([]Session, error) {
	return p.collect(ctx, `
		UPDATE auth.sessions
		   SET state = 'EXPIRED', ended_at = $2
		 WHERE state = 'ACTIVE' AND last_accessed_at < $1
		RETURNING `+sessionColumns,
		cutoff.UTC(), at.UTC())
}

// ListForUser returns all sessions of a user, newest first.
func (p *PostgresStore) ListForUser(ctx context.Context, userID int64) ([]Session, error) {
	out, err := p.collect(ctx, `
		SELECT `+sessionColumns+`
		  FROM auth.sessions
		 WHERE user_id = $1
		 ORDER BY started_at DESC, id DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = make([]Session, 0)
	}
	return out, nil
}

func (p *PostgresStore) collect(ctx context.Context, sql string, args ...any) ([]Session, error) {
	rows, err := dbx.Conn(ctx, p.pool).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func scanSession(row pgx.Row) (Session, error) {
	var (
		s        Session
		state    string
		endedAt  *time.Time
		clientIP *string
	)
	if err := row.Scan(
		&s.ID, &s.UserID, &s.TokenHash, &state, &s.StartedAt, &s.LastAccessedAt,
		&endedAt, &clientIP, &s.Device, &s.Browser,
	); err != nil {
		return Session{}, err
	}
	s.State = State(state)
	s.StartedAt = s.StartedAt.UTC()
	s.LastAccessedAt = s.LastAccessedAt.UTC()
	if endedAt != nil {
		at := endedAt.UTC()
		s.EndedAt = &at
	}
	if clientIP != nil {
		s.ClientIP = *clientIP
	}
	return s, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
