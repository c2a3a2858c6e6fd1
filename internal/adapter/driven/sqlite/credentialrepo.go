package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ericfisherdev/moodlink/internal/domain/model"
	"github.com/ericfisherdev/moodlink/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CredentialStore = (*CredentialRepo)(nil)

const credentialColumns = `id, user_id, pinterest_username, pinterest_email, pinterest_password,
	last_pinterest_login, pinterest_cookies_valid, created_at, updated_at`

// CredentialRepo is the SQLite implementation of the CredentialStore port.
// Secrets pass through the cipher on every write and read.
type CredentialRepo struct {
	db     *DB
	cipher driven.SecretCipher
	clock  clockwork.Clock
}

// NewCredentialRepo creates a CredentialRepo backed by db.
func NewCredentialRepo(db *DB, cipher driven.SecretCipher, clock clockwork.Clock) *CredentialRepo {
	return &CredentialRepo{db: db, cipher: cipher, clock: clock}
}

// Upsert inserts or updates the credential of userID. The validity flag and
// last-validated timestamp of an existing record are left untouched.
func (r *CredentialRepo) Upsert(ctx context.Context, userID, username, contact, secret string) (*model.CredentialRecord, error) {
	if err := model.ValidateCredential(userID, username, contact, secret); err != nil {
		return nil, err
	}

	sealed, err := r.cipher.Seal(secret)
	if err != nil {
		return nil, fmt.Errorf("seal secret for %q: %w", userID, err)
	}

	now := formatTime(r.clock.Now())
	query := `INSERT INTO pinterest_users
		(user_id, pinterest_username, pinterest_email, pinterest_password, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			pinterest_username = excluded.pinterest_username,
			pinterest_email    = excluded.pinterest_email,
			pinterest_password = excluded.pinterest_password,
			updated_at         = excluded.updated_at
		RETURNING ` + credentialColumns

	row := r.db.Writer.QueryRowContext(ctx, query, userID, username, contact, sealed, now, now)
	rec, err := r.scan(row)
	if err != nil {
		return nil, model.StorageError(fmt.Sprintf("upsert credential %q", userID), err)
	}
	return rec, nil
}

// Get returns the credential of userID.
func (r *CredentialRepo) Get(ctx context.Context, userID string) (*model.CredentialRecord, error) {
	query := `SELECT ` + credentialColumns + ` FROM pinterest_users WHERE user_id = ?`

	rec, err := r.scan(r.db.Reader.QueryRowContext(ctx, query, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NotFoundError("no pinterest credential for user %q", userID)
	}
	if err != nil {
		return nil, model.StorageError(fmt.Sprintf("get credential %q", userID), err)
	}
	return rec, nil
}

// MarkValidity records a probe or login outcome.
func (r *CredentialRepo) MarkValidity(ctx context.Context, userID string, valid bool) (*model.CredentialRecord, error) {
	now := formatTime(r.clock.Now())
	query := `UPDATE pinterest_users
		SET pinterest_cookies_valid = ?, last_pinterest_login = ?, updated_at = ?
		WHERE user_id = ?
		RETURNING ` + credentialColumns

	rec, err := r.scan(r.db.Writer.QueryRowContext(ctx, query, valid, now, now, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.NotFoundError("no pinterest credential for user %q", userID)
	}
	if err != nil {
		return nil, model.StorageError(fmt.Sprintf("mark validity %q", userID), err)
	}
	return rec, nil
}

// Delete removes the credential of userID.
func (r *CredentialRepo) Delete(ctx context.Context, userID string) (bool, error) {
	const query = `DELETE FROM pinterest_users WHERE user_id = ?`

	result, err := r.db.Writer.ExecContext(ctx, query, userID)
	if err != nil {
		return false, model.StorageError(fmt.Sprintf("delete credential %q", userID), err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, model.StorageError(fmt.Sprintf("delete credential %q", userID), err)
	}
	return n > 0, nil
}

func (r *CredentialRepo) scan(row *sql.Row) (*model.CredentialRecord, error) {
	var (
		rec                  model.CredentialRecord
		sealed               string
		lastLogin            sql.NullString
		createdAt, updatedAt string
	)
	err := row.Scan(&rec.ID, &rec.UserID, &rec.Username, &rec.Contact, &sealed,
		&lastLogin, &rec.SessionValid, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	if rec.Secret, err = r.cipher.Open(sealed); err != nil {
		return nil, fmt.Errorf("open secret: %w", err)
	}
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if rec.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	if lastLogin.Valid {
		t, err := parseTime(lastLogin.String)
		if err != nil {
			return nil, fmt.Errorf("parse last_pinterest_login: %w", err)
		}
		rec.LastValidatedAt = &t
	}
	return &rec, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime accepts both RFC 3339 and SQLite's CURRENT_TIMESTAMP layout.
func parseTime(s string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time format: %s", s)
}
