package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"

	"github.com/ericfisherdev/moodlink/internal/domain/model"
	"github.com/ericfisherdev/moodlink/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CredentialStore = (*CredentialRepo)(nil)

const credentialColumns = `id, user_id, pinterest_username, pinterest_email, pinterest_password,
	last_pinterest_login, pinterest_cookies_valid, created_at, updated_at`

// CredentialRepo is the PostgreSQL implementation of the CredentialStore port.
type CredentialRepo struct {
	pool   *pgxpool.Pool
	cipher driven.SecretCipher
	clock  clockwork.Clock
}

// NewCredentialRepo creates a CredentialRepo backed by pool.
func NewCredentialRepo(pool *pgxpool.Pool, cipher driven.SecretCipher, clock clockwork.Clock) *CredentialRepo {
	return &CredentialRepo{pool: pool, cipher: cipher, clock: clock}
}

func (r *CredentialRepo) Upsert(ctx context.Context, userID, username, contact, secret string) (*model.CredentialRecord, error) {
	if err := model.ValidateCredential(userID, username, contact, secret); err != nil {
		return nil, err
	}

	sealed, err := r.cipher.Seal(secret)
	if err != nil {
		return nil, fmt.Errorf("seal secret for %q: %w", userID, err)
	}

	now := r.clock.Now().UTC()
	query := `INSERT INTO pinterest_users
		(user_id, pinterest_username, pinterest_email, pinterest_password, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			pinterest_username = EXCLUDED.pinterest_username,
			pinterest_email    = EXCLUDED.pinterest_email,
			pinterest_password = EXCLUDED.pinterest_password,
			updated_at         = EXCLUDED.updated_at
		RETURNING ` + credentialColumns

	rec, err := r.scan(r.pool.QueryRow(ctx, query, userID, username, contact, sealed, now))
	if err != nil {
		return nil, model.StorageError(fmt.Sprintf("upsert credential %q", userID), err)
	}
	return rec, nil
}

func (r *CredentialRepo) Get(ctx context.Context, userID string) (*model.CredentialRecord, error) {
	query := `SELECT ` + credentialColumns + ` FROM pinterest_users WHERE user_id = $1`

	rec, err := r.scan(r.pool.QueryRow(ctx, query, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.NotFoundError("no pinterest credential for user %q", userID)
	}
	if err != nil {
		return nil, model.StorageError(fmt.Sprintf("get credential %q", userID), err)
	}
	return rec, nil
}

func (r *CredentialRepo) MarkValidity(ctx context.Context, userID string, valid bool) (*model.CredentialRecord, error) {
	query := `UPDATE pinterest_users
		SET pinterest_cookies_valid = $1, last_pinterest_login = $2, updated_at = $2
		WHERE user_id = $3
		RETURNING ` + credentialColumns

	rec, err := r.scan(r.pool.QueryRow(ctx, query, valid, r.clock.Now().UTC(), userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.NotFoundError("no pinterest credential for user %q", userID)
	}
	if err != nil {
		return nil, model.StorageError(fmt.Sprintf("mark validity %q", userID), err)
	}
	return rec, nil
}

func (r *CredentialRepo) Delete(ctx context.Context, userID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM pinterest_users WHERE user_id = $1`, userID)
	if err != nil {
		return false, model.StorageError(fmt.Sprintf("delete credential %q", userID), err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *CredentialRepo) scan(row pgx.Row) (*model.CredentialRecord, error) {
	var (
		rec       model.CredentialRecord
		sealed    string
		lastLogin *time.Time
	)
	err := row.Scan(&rec.ID, &rec.UserID, &rec.Username, &rec.Contact, &sealed,
		&lastLogin, &rec.SessionValid, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if rec.Secret, err = r.cipher.Open(sealed); err != nil {
		return nil, fmt.Errorf("open secret: %w", err)
	}
	if lastLogin != nil {
		t := lastLogin.UTC()
		rec.LastValidatedAt = &t
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return &rec, nil
}
