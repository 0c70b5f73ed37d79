package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"parley/cmd/security/password"
)

// PostgresStore implements Store over PostgreSQL.
//
// The pgx pool is owned by the caller; this store must NOT close it.
// Schema/table identifiers are validated and quoted to avoid injection via
// identifiers.
type PostgresStore struct {
	pool   *pgxpool.Pool
	hasher password.Config
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema used by the credential store
// (default "parley").
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

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, hasher password.Config, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		hasher: hasher,
		schema: "parley",
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

// Register inserts a new credential row; a duplicate username reports false.
func (s *PostgresStore) Register(ctx context.Context, username, pass string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := ValidateUsername(username); err != nil {
		return false, nil
	}

	hash, err := s.hasher.Hash(pass)
	if err != nil {
		return false, fmt.Errorf("hash password: %w", err)
	}

	users := pgIdent(s.schema, "users")
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO `+users+` (username, password_hash, created_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (username) DO NOTHING`,
		username, hash,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("identity.Register: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Authenticate fetches the stored hash and verifies the password against it.
func (s *PostgresStore) Authenticate(ctx context.Context, username, pass string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	users := pgIdent(s.schema, "users")

	var hash string
	err := s.pool.QueryRow(ctx,
		`SELECT password_hash FROM `+users+` WHERE username = $1`,
		username,
	).Scan(&hash)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("identity.Authenticate: %w", err)
	}

	ok, err := s.hasher.Verify(hash, pass)
	if err != nil {
		return false, nil
	}
	return ok, nil
}

// Close is a no-op: the pool belongs to the caller.
func (s *PostgresStore) Close(_ context.Context) error { return nil }

func pgIdent(schema, table string) string {
	return `"` + schema + `"."` + table + `"`
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
