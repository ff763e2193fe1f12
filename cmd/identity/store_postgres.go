package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"hfauth/cmd/identity/ids"
	"hfauth/cmd/internal/clock"
	"hfauth/cmd/internal/storage/dbx"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store over PostgreSQL.
//
// The pool is owned by the caller. Queries run inside the transaction carried
// by ctx when there is one (see dbx.WithTx).
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
	clock  clock.Clock
	ids    ids.Generator
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the schema holding the credentials table (default "auth").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("identity: empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("identity: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// WithClock sets the clock used to stamp created_at.
func WithClock(c clock.Clock) PostgresOption {
	return func(s *PostgresStore) error {
		s.clock = clock.OrSystem(c)
		return nil
	}
}

// WithGenerator sets the record id generator.
func WithGenerator(g ids.Generator) PostgresOption {
	return func(s *PostgresStore) error {
		s.ids = ids.OrDefault(g)
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "auth",
		clock:  clock.System{},
		ids:    ids.Default{},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("identity: nil pool")
	}
	return st, nil
}

const credentialColumns = `id, email, password, user_id, user_type, active, created_at, last_login_at, notes`

func (s *PostgresStore) table() string {
	return pgx.Identifier{s.schema, "credentials"}.Sanitize()
}

func (s *PostgresStore) FindByEmail(ctx context.Context, email string) (Credential, bool, error) {
	return s.findOne(ctx, `SELECT `+credentialColumns+` FROM `+s.table()+` WHERE email = $1`, email)
}

func (s *PostgresStore) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := dbx.Conn(ctx, s.pool).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+s.table()+` WHERE email = $1)`, email,
	).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func (s *PostgresStore) Create(ctx context.Context, c Credential) (Credential, error) {
	const op = "identity.Create"

	if err := ctx.Err(); err != nil {
		return Credential{}, err
	}
	c, err := prepareCreate(op, c, s.clock.Now(), s.ids)
	if err != nil {
		return Credential{}, err
	}

	_, err = dbx.Conn(ctx, s.pool).Exec(ctx,
		`INSERT INTO `+s.table()+` (`+credentialColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		c.ID, c.Email, c.Password, c.UserID, string(c.UserType), c.Active, c.CreatedAt, c.LastLoginAt, c.Notes,
	)
	if err != nil {
		if constraint, ok := dbx.UniqueViolation(err); ok {
			return Credential{}, ConflictError{Op: op, Field: conflictField(constraint)}
		}
		return Credential{}, err
	}
	return c, nil
}

func (s *PostgresStore) GetByID(ctx context.Context, id string) (Credential, bool, error) {
	return s.findOne(ctx, `SELECT `+credentialColumns+` FROM `+s.table()+` WHERE id = $1`, id)
}

func (s *PostgresStore) List(ctx context.Context, userType *UserType) ([]Credential, error) {
	q := `SELECT ` + credentialColumns + ` FROM ` + s.table()
	var args []any
	if userType != nil {
		q += ` WHERE user_type = $1`
		args = append(args, string(*userType))
	}
	q += ` ORDER BY created_at ASC, id ASC`

	rows, err := dbx.Conn(ctx, s.pool).Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Credential
	for rows.Next() {
		c, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdatePassword(ctx context.Context, id, stored string) error {
	const op = "identity.UpdatePassword"
	if stored == "" {
		return invalid(op, "empty password")
	}
	return s.exec(ctx, op, `UPDATE `+s.table()+` SET password = $2 WHERE id = $1`, id, stored)
}

func (s *PostgresStore) UpdateNotes(ctx context.Context, id string, notes *string) error {
	return s.exec(ctx, "identity.UpdateNotes",
		`UPDATE `+s.table()+` SET notes = $2 WHERE id = $1`, id, NormalizeNotes(notes))
}

func (s *PostgresStore) SetActive(ctx context.Context, id string, active bool) error {
	return s.exec(ctx, "identity.SetActive",
		`UPDATE `+s.table()+` SET active = $2 WHERE id = $1`, id, active)
}

func (s *PostgresStore) RecordLogin(ctx context.Context, id string, at time.Time) error {
	return s.exec(ctx, "identity.RecordLogin",
		`UPDATE `+s.table()+` SET last_login_at = $2 WHERE id = $1`, id, at.UTC())
}

func (s *PostgresStore) exec(ctx context.Context, op, sql string, args ...any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tag, err := dbx.Conn(ctx, s.pool).Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "credential"}
	}
	return nil
}

func (s *PostgresStore) findOne(ctx context.Context, sql string, args ...any) (Credential, bool, error) {
	if err := ctx.Err(); err != nil {
		return Credential{}, false, err
	}
	c, err := scanCredential(dbx.Conn(ctx, s.pool).QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Credential{}, false, nil
		}
		return Credential{}, false, err
	}
	return c, true, nil
}

func scanCredential(row pgx.Row) (Credential, error) {
	var (
		c           Credential
		userType    string
		lastLoginAt *time.Time
		notes       *string
	)
	if err := row.Scan(
		&c.ID, &c.Email, &c.Password, &c.UserID, &userType, &c.Active, &c.CreatedAt, &lastLoginAt, &notes,
	); err != nil {
		return Credential{}, err
	}
	c.UserType = UserType(userType)
	c.CreatedAt = c.CreatedAt.UTC()
	if lastLoginAt != nil {
		t := lastLoginAt.UTC()
		c.LastLoginAt = &t
	}
	c.Notes = notes
	return c, nil
}

func conflictField(constraint string) string {
	c := strings.ToLower(strings.TrimSpace(constraint))
	switch {
	case c == "uq_credentials_email", strings.Contains(c, "email"):
		return "email"
	case strings.HasSuffix(c, "_pkey"):
		return "id"
	default:
		return "unique"
	}
}
