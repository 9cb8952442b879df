package users

import (
	"context"
	"testing"
	"time"

	"chatcore/pkg/testhelpers"

	"github.com/stretchr/testify/require"
)

func TestPostgresUserRepository_CreateAndGet(t *testing.T) {
	pool := testhelpers.NewTestPool(t)
	repo := NewPostgresUserRepository(pool)
	ctx := context.Background()

	username := testhelpers.UniqueUsername("dir")
	created, err := repo.CreateUser(ctx, username, "Dir User", "")
	require.NoError(t, err)
	require.NotZero(t, created.ID)
	require.Empty(t, created.Email)

	got, err := repo.GetUserByUsername(ctx, username)
	require.NoError(t, err)
	require.Equal(t, "Dir User", got.DisplayName)

	_, err = repo.CreateUser(ctx, username, "Again", "")
	require.ErrorIs(t, err, ErrUserExists)
}

func TestPostgresUserRepository_UpdateLastActive(t *testing.T) {
	pool := testhelpers.NewTestPool(t)
	repo := NewPostgresUserRepository(pool)
	ctx := context.Background()

	username := testhelpers.CreateTestUser(t, pool)
	at := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, repo.UpdateLastActive(ctx, username, at))

	got, err := repo.GetUserByUsername(ctx, username)
	require.NoError(t, err)
	require.NotNil(t, got.LastActiveAt)
	require.True(t, got.LastActiveAt.Equal(at))

	require.ErrorIs(t, repo.UpdateLastActive(ctx, "nobody-"+username, at), ErrUserNotFound)
}

func TestPostgresUserRepository_DeleteHidesUser(t *testing.T) {
	pool := testhelpers.NewTestPool(t)
	repo := NewPostgresUserRepository(pool)
	ctx := context.Background()

	username := testhelpers.CreateTestUser(t, pool)
	require.NoError(t, repo.DeleteUser(ctx, username))

	_, err := repo.GetUserByUsername(ctx, username)
	require.ErrorIs(t, err, ErrUserNotFound)
	require.ErrorIs(t, repo.DeleteUser(ctx, username), ErrUserNotFound)
}
