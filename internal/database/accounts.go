package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"mlcopy/internal/models"
)

// UpsertAccount creates or refreshes a connected account row. Stored
// tokens are preserved when the incoming account carries none, so a
// config reload does not wipe credentials obtained at connect time.
func (db *DB) UpsertAccount(ctx context.Context, account *models.Account) error {
	_, err := db.db.ExecContext(ctx, `
        INSERT INTO accounts (slug, name, user_id, app_id, app_secret, active, access_token, refresh_token, token_expires_at, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(slug) DO UPDATE SET
            name = excluded.name,
            user_id = excluded.user_id,
            app_id = excluded.app_id,
            app_secret = excluded.app_secret,
            active = excluded.active,
            access_token = CASE WHEN excluded.access_token != '' THEN excluded.access_token ELSE access_token END,
            refresh_token = CASE WHEN excluded.refresh_token != '' THEN excluded.refresh_token ELSE refresh_token END,
            token_expires_at = COALESCE(excluded.token_expires_at, token_expires_at),
            updated_at = excluded.updated_at
    `,
		account.Slug,
		account.Name,
		account.UserID,
		account.AppID,
		account.AppSecret,
		account.Active,
		account.AccessToken,
		account.RefreshToken,
		account.TokenExpiresAt,
		time.Now(),
		time.Now(),
	)
	return err
}

// GetAccount returns one account by slug.
func (db *DB) GetAccount(ctx context.Context, slug string) (*models.Account, error) {
	var a models.Account
	err := db.db.QueryRowContext(ctx, `
        SELECT slug, name, user_id, app_id, app_secret, active, access_token, refresh_token, token_expires_at
        FROM accounts WHERE slug = ?
    `, slug).Scan(
		&a.Slug,
		&a.Name,
		&a.UserID,
		&a.AppID,
		&a.AppSecret,
		&a.Active,
		&a.AccessToken,
		&a.RefreshToken,
		&a.TokenExpiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListAccounts returns connected accounts, optionally active only.
func (db *DB) ListAccounts(ctx context.Context, activeOnly bool) ([]models.Account, error) {
	query := `
        SELECT slug, name, user_id, app_id, app_secret, active, access_token, refresh_token, token_expires_at
        FROM accounts
    `
	if activeOnly {
		query += " WHERE active = 1"
	}
	query += " ORDER BY slug"

	rows, err := db.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []models.Account
	for rows.Next() {
		var a models.Account
		err := rows.Scan(
			&a.Slug,
			&a.Name,
			&a.UserID,
			&a.AppID,
			&a.AppSecret,
			&a.Active,
			&a.AccessToken,
			&a.RefreshToken,
			&a.TokenExpiresAt,
		)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// UpdateAccountTokens persists a refreshed credential set.
func (db *DB) UpdateAccountTokens(ctx context.Context, slug, accessToken, refreshToken string, expiresAt time.Time) error {
	_, err := db.db.ExecContext(ctx, `
        UPDATE accounts SET access_token = ?, refresh_token = ?, token_expires_at = ?, updated_at = ?
        WHERE slug = ?
    `, accessToken, refreshToken, expiresAt, time.Now(), slug)
	return err
}

// SetAccountActive toggles an account's connected state.
func (db *DB) SetAccountActive(ctx context.Context, slug string, active bool) error {
	res, err := db.db.ExecContext(ctx, `
        UPDATE accounts SET active = ?, updated_at = ? WHERE slug = ?
    `, active, time.Now(), slug)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetAdminSecretHash stores the admin secret hash once. Subsequent calls
// are no-ops, which makes the first-login bootstrap idempotent.
func (db *DB) SetAdminSecretHash(ctx context.Context, hash string) error {
	_, err := db.db.ExecContext(ctx, `
        INSERT INTO admin_config (id, secret_hash) VALUES (1, ?)
        ON CONFLICT(id) DO NOTHING
    `, hash)
	return err
}

// GetAdminSecretHash returns the stored hash, empty when not bootstrapped.
func (db *DB) GetAdminSecretHash(ctx context.Context) (string, error) {
	var hash string
	err := db.db.QueryRowContext(ctx, `SELECT secret_hash FROM admin_config WHERE id = 1`).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return hash, err
}
