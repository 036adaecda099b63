package database

import (
	"context"
	"testing"
	"time"

	"mlcopy/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertAccountPreservesTokens(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.UpsertAccount(ctx, &models.Account{
		Slug: "acme", Name: "Acme", UserID: 42, AppID: "app", AppSecret: "secret", Active: true,
	}))

	expiry := time.Now().Add(time.Hour)
	require.NoError(t, db.UpdateAccountTokens(ctx, "acme", "tok", "refresh", expiry))

	// Re-seeding from config without tokens must not wipe credentials.
	require.NoError(t, db.UpsertAccount(ctx, &models.Account{
		Slug: "acme", Name: "Acme Renamed", UserID: 42, AppID: "app", AppSecret: "secret", Active: true,
	}))

	acc, err := db.GetAccount(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "Acme Renamed", acc.Name)
	assert.Equal(t, "tok", acc.AccessToken)
	assert.Equal(t, "refresh", acc.RefreshToken)
	require.NotNil(t, acc.TokenExpiresAt)
	assert.WithinDuration(t, expiry, *acc.TokenExpiresAt, time.Second)
}

func TestGetAccountNotFound(t *testing.T) {
	db := newTestDB(t)
	_, err := db.GetAccount(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListAccountsActiveOnly(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.UpsertAccount(ctx, &models.Account{Slug: "a", Name: "A", Active: true}))
	require.NoError(t, db.UpsertAccount(ctx, &models.Account{Slug: "b", Name: "B", Active: false}))

	all, err := db.ListAccounts(ctx, false)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	active, err := db.ListAccounts(ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "a", active[0].Slug)
}

func TestSetAccountActive(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.UpsertAccount(ctx, &models.Account{Slug: "a", Name: "A", Active: true}))
	require.NoError(t, db.SetAccountActive(ctx, "a", false))

	acc, err := db.GetAccount(ctx, "a")
	require.NoError(t, err)
	assert.False(t, acc.Active)

	assert.ErrorIs(t, db.SetAccountActive(ctx, "missing", true), ErrNotFound)
}

func TestAdminSecretHashBootstrapIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	hash, err := db.GetAdminSecretHash(ctx)
	require.NoError(t, err)
	assert.Empty(t, hash)

	require.NoError(t, db.SetAdminSecretHash(ctx, "first"))
	require.NoError(t, db.SetAdminSecretHash(ctx, "second"))

	hash, err = db.GetAdminSecretHash(ctx)
	require.NoError(t, err)
	assert.Equal(t, "first", hash)
}
