package token

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

// PostgresStore implements Store over the auth.tokens table.
//
// ReplaceActive runs in a transaction holding a per-user advisory lock, so
// concurrent logins for the same user queue behind each other.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore constructs a PostgresStore. The caller owns the pool.
func NewPostgresStore(pool *pgxpool.Pool) (*PostgresStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("token: nil pool")
	}
	return &PostgresStore{pool: pool}, nil
}

const tokenColumns = `id, user_id, secret_hash, kind, issued_at, expires_at, active, deactivated_at, origin_ip, user_agent, credential_id`

func (s *PostgresStore) Create(ctx context.Context, t Token) error {
	return insertToken(ctx, dbx.Conn(ctx, s.pool), t)
}

func (s *PostgresStore) ReplaceActive(ctx context.Context, t Token, now time.Time) ([]string, error) {
	var replaced []string
	err := dbx.WithTx(ctx, s.pool, func(ctx context.Context) error {
		db := dbx.Conn(ctx, s.pool)

		if _, err := db.Exec(ctx,
			`SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`,
			"tokens:"+strconv.FormatInt(t.UserID, 10),
		); err != nil {
			return err
		}

		rows, err := db.Query(ctx,
			`UPDATE auth.tokens
			    SET active = FALSE, deactivated_at = $3
			  WHERE user_id = $1 AND kind = $2 AND active
			RETURNING id`,
			t.UserID, string(t.Kind), now.UTC(),
		)
		if err != nil {
			return err
		}
		replaced, err = pgx.CollectRows(rows, pgx.RowTo[string])
		if err != nil {
			return err
		}

		return insertToken(ctx, db, t)
	})
	if err != nil {
		return nil, err
	}
	return replaced, nil
}

func (s *PostgresStore) FindByHash(ctx context.Context, hash string) (Token, bool, error) {
	row := dbx.Conn(ctx, s.pool).QueryRow(ctx,
		`SELECT `+tokenColumns+` FROM auth.tokens WHERE secret_hash = $1`, hash)
	t, err := scanToken(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Token{}, false, nil
		}
		return Token{}, false, err
	}
	return t, true, nil
}

func (s *PostgresStore) DeactivateByHash(ctx context.Context, hash string, at time.Time) (bool, error) {
	tag, err := dbx.Conn(ctx, s.pool).Exec(ctx,
		`UPDATE auth.tokens SET active = FALSE, deactivated_at = $2
		  WHERE secret_hash = $1 AND active`,
		hash, at.UTC(),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) DeactivateAllForUser(ctx context.Context, userID int64, at time.Time) (int, error) {
	tag, err := dbx.Conn(ctx, s.pool).Exec(ctx,
		`UPDATE auth.tokens SET active = FALSE, deactivated_at = $2
		  WHERE user_id = $1 AND active`,
		userID, at.UTC(),
	)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) DeactivateExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := dbx.Conn(ctx, s.pool).Exec(ctx,
		`UPDATE auth.tokens SET active = FALSE, deactivated_at = $1
		  WHERE active AND expires_at <= $1`,
		now.UTC(),
	)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) ListForUser(ctx context.Context, userID int64) ([]Token, error) {
	rows, err := dbx.Conn(ctx, s.pool).Query(ctx,
		`SELECT `+tokenColumns+` FROM auth.tokens
		  WHERE user_id = $1
		  ORDER BY issued_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Token, 0)
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteInactiveBefore(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := dbx.Conn(ctx, s.pool).Exec(ctx,
		`DELETE FROM auth.tokens WHERE NOT active AND expires_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func insertToken(ctx context.Context, db dbx.DBTX, t Token) error {
	if !t.Kind.Valid() {
		return ErrInvalidKind
	}
	_, err := db.Exec(ctx,
		`INSERT INTO auth.tokens (`+tokenColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		t.ID, t.UserID, t.SecretHash, string(t.Kind), t.IssuedAt.UTC(), t.ExpiresAt.UTC(),
		t.Active, t.DeactivatedAt, nullIfEmpty(t.OriginIP), nullIfEmpty(t.UserAgent),
		nullIfEmpty(t.CredentialID),
	)
	if constraint, ok := dbx.UniqueViolation(err); ok && constraint == "uq_tokens_secret_hash" {
		return ErrDuplicateSecret
	}
	if dbx.ForeignKeyViolation(err) {
		return ErrUnknownCredential
	}
	return err
}

func scanToken(row pgx.Row) (Token, error) {
	var (
		t             Token
		kind          string
		deactivatedAt *time.Time
		originIP      *string
		userAgent     *string
		credentialID  *string
	)
	if err := row.Scan(
		&t.ID, &t.UserID, &t.SecretHash, &kind, &t.IssuedAt, &t.ExpiresAt,
		&t.Active, &deactivatedAt, &originIP, &userAgent, &credentialID,
	); err != nil {
		return Token{}, err
	}
	t.Kind = Kind(kind)
	t.IssuedAt = t.IssuedAt.UTC()
	t.ExpiresAt = t.ExpiresAt.UTC()
	if deactivatedAt != nil {
		at := deactivatedAt.UTC()
		t.DeactivatedAt = &at
	}
	if originIP != nil {
		t.OriginIP = *originIP
	}
	if userAgent != nil {
		t.UserAgent = *userAgent
	}
	if credentialID != nil {
		t.CredentialID = *credentialID
	}
	return t, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
