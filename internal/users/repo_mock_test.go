package users

import (
	"context"
	"sync"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepoMock_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	repo := NewRepoMock()

	acc := &Account{
		Username:     "user@example.com",
		PasswordHash: "$2a$14$fakefakefakefakefakefake",
		Kind:         KindStandard,
	}
	require.NoError(t, repo.Create(ctx, acc))
	assert.Equal(t, 1, repo.AccountsCount())

	got, err := repo.Get(ctx, "user@example.com")
	require.NoError(t, err)
	assert.Equal(t, KindStandard, got.Kind)
	assert.False(t, got.CreatedAt.IsZero())

	_, err = repo.Get(ctx, "nobody@example.com")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestRepoMock_DuplicateAcrossKinds(t *testing.T) {
	ctx := context.Background()
	repo := NewRepoMock()

	require.NoError(t, repo.Create(ctx, &Account{
		Username:     "taken@example.com",
		PasswordHash: "h1",
		Kind:         KindAdminCapable,
	}))

	// same username, other kind, must still collide
	err := repo.Create(ctx, &Account{
		Username:     "taken@example.com",
		PasswordHash: "h2",
		Kind:         KindStandard,
	})
	assert.ErrorIs(t, err, ErrDuplicateUsername)
}

func TestRepoMock_GetByKind(t *testing.T) {
	ctx := context.Background()
	repo := NewRepoMock()

	require.NoError(t, repo.Create(ctx, &Account{
		Username:     "admin@example.com",
		PasswordHash: "h",
		Kind:         KindAdminCapable,
		IsAdmin:      true,
	}))

	got, err := repo.GetByKind(ctx, KindAdminCapable, "admin@example.com")
	require.NoError(t, err)
	assert.True(t, got.IsAdmin)

	_, err = repo.GetByKind(ctx, KindStandard, "admin@example.com")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestRepoMock_UpdateSessionKey(t *testing.T) {
	ctx := context.Background()
	repo := NewRepoMock()

	require.NoError(t, repo.Create(ctx, &Account{
		Username:     "app@example.com",
		PasswordHash: "h",
		Kind:         KindStandard,
		SessionKey:   "a2V5LW9uZQ==",
	}))

	require.NoError(t, repo.UpdateSessionKey(ctx, "app@example.com", "a2V5LXR3bw=="))
	got, err := repo.Get(ctx, "app@example.com")
	require.NoError(t, err)
	assert.Equal(t, "a2V5LXR3bw==", got.SessionKey)

	assert.ErrorIs(t, repo.UpdateSessionKey(ctx, "nobody", "k"), ErrAccountNotFound)
}

func TestRepoMock_ConcurrentRegistration(t *testing.T) {
	ctx := context.Background()
	repo := NewRepoMock()
	username := gofakeit.Email()

	const attempts = 16
	var wg sync.WaitGroup
	errs := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- repo.Create(ctx, &Account{
				Username:     username,
				PasswordHash: "h",
				Kind:         KindStandard,
			})
		}()
	}
	wg.Wait()
	close(errs)

	var successes, duplicates int
	for err := range errs {
		switch {
		case err == nil:
			successes++
		case assert.ErrorIs(t, err, ErrDuplicateUsername):
			duplicates++
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, attempts-1, duplicates)
}

func TestSeedDefaultAdmin(t *testing.T) {
	ctx := context.Background()
	repo := NewRepoMock()

	require.NoError(t, SeedDefaultAdmin(ctx, repo, "admin", "admin54321"))
	acc, err := repo.GetByKind(ctx, KindAdminCapable, "admin")
	require.NoError(t, err)
	assert.True(t, acc.IsAdmin)
	assert.NotEmpty(t, acc.SessionKey)
	firstHash := acc.PasswordHash

	// second run must be a no-op
	require.NoError(t, SeedDefaultAdmin(ctx, repo, "admin", "admin54321"))
	assert.Equal(t, 1, repo.AccountsCount())
	acc, err = repo.Get(ctx, "admin")
	require.NoError(t, err)
	assert.Equal(t, firstHash, acc.PasswordHash)
}

func TestSeedTestUser(t *testing.T) {
	ctx := context.Background()
	repo := NewRepoMock()

	require.NoError(t, SeedTestUser(ctx, repo))
	acc, err := repo.Get(ctx, TestUsername)
	require.NoError(t, err)
	assert.Equal(t, KindAdminCapable, acc.Kind)
	assert.False(t, acc.IsAdmin)
	assert.NotEmpty(t, acc.SessionKey)

	// idempotent, same as the admin seed
	require.NoError(t, SeedTestUser(ctx, repo))
	assert.Equal(t, 1, repo.AccountsCount())
}
