package users

import (
	"context"
	"errors"
	"time"

	"github.com/dwani-ai/dwani-gateway/pkg"

	"github.com/jackc/pgx/v5/pgxpool"
	log "github.com/sirupsen/logrus"
)

// Both account kinds live in one table; the primary key on username is
// what settles concurrent duplicate registrations, the application never
// does a check-then-insert.
const schema = `
	CREATE TABLE IF NOT EXISTS account (
		username      TEXT PRIMARY KEY,
		password_hash TEXT NOT NULL,
		kind          TEXT NOT NULL,
		is_admin      BOOLEAN NOT NULL DEFAULT FALSE,
		session_key   TEXT,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	);`

type Repo struct {
	db *pgxpool.Pool
}

func NewRepo(db *pgxpool.Pool) *Repo {
	return &Repo{
		db: db,
	}
}

// CreateSchema creates the account table when missing.
func (r *Repo) CreateSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schema); err != nil {
		return err
	}
	return nil
}

func (r *Repo) Get(ctx context.Context, username string) (*Account, error) {
	return r.get(ctx,
		`SELECT username, password_hash, kind, is_admin, session_key, created_at
			FROM account WHERE username = $1;`,
		username,
	)
}

func (r *Repo) GetByKind(ctx context.Context, kind Kind, username string) (*Account, error) {
	return r.get(ctx,
		`SELECT username, password_hash, kind, is_admin, session_key, created_at
			FROM account WHERE username = $1 AND kind = $2;`,
		username, kind,
	)
}

func (r *Repo) get(ctx context.Context, query string, args ...any) (*Account, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if !rows.Next() {
		return nil, ErrAccountNotFound
	}

	var acc Account
	var sessionKey *string
	var createdAt time.Time
	if err := rows.Scan(
		&acc.Username, &acc.PasswordHash, &acc.Kind,
		&acc.IsAdmin, &sessionKey, &createdAt,
	); err != nil {
		return nil, err
	}
	if sessionKey != nil {
		acc.SessionKey = *sessionKey
	}
	acc.CreatedAt = createdAt

	return &acc, nil
}

func (r *Repo) Create(ctx context.Context, acc *Account) error {
	if acc.Username == "" || acc.PasswordHash == "" {
		return errors.New("account username or password hash empty")
	}
	if acc.CreatedAt.IsZero() {
		acc.CreatedAt = time.Now()
	}

	var sessionKey *string
	if acc.SessionKey != "" {
		sessionKey = &acc.SessionKey
	}

	_, err := r.db.Exec(
		ctx,
		`INSERT INTO account (username, password_hash, kind, is_admin, session_key, created_at)
			VALUES ($1, $2, $3, $4, $5, $6);`,
		acc.Username, acc.PasswordHash, acc.Kind, acc.IsAdmin, sessionKey, acc.CreatedAt,
	)
	if err != nil {
		if pkg.IsUniqueViolationError(err) {
			return ErrDuplicateUsername
		}
		return err
	}

	log.Debugf("account created: %s [%s]", acc.Username, acc.Kind)
	return nil
}

// UpdateSessionKey rebinds the account to a new client session key.
// Writing the same key again is a no-op.
func (r *Repo) UpdateSessionKey(ctx context.Context, username, sessionKey string) error {
	tag, err := r.db.Exec(
		ctx,
		`UPDATE account SET session_key = $1
			WHERE username = $2 AND session_key IS DISTINCT FROM $1;`,
		sessionKey, username,
	)
	if err != nil {
		return err
	}

	if tag.RowsAffected() == 0 {
		// either unchanged or unknown; distinguish for the caller
		if _, err := r.Get(ctx, username); err != nil {
			return err
		}
	}

	return nil
}

// Exists reports whether the username is taken in either account kind.
func (r *Repo) Exists(ctx context.Context, username string) (bool, error) {
	_, err := r.Get(ctx, username)
	if err != nil {
		if errors.Is(err, ErrAccountNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
