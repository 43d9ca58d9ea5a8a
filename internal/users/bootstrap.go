package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/dwani-ai/dwani-gateway/pkg"

	log "github.com/sirupsen/logrus"
)

type bootstrapDirectory interface {
	Exists(ctx context.Context, username string) (bool, error)
	Create(ctx context.Context, acc *Account) error
}

var (
	_ bootstrapDirectory = (*Repo)(nil)
	_ bootstrapDirectory = (*RepoMock)(nil)
)

// Development convenience account, matching the well-known device token
// the demo clients ship with. Never seeded in production.
const (
	TestUsername    = "testuser@example.com"
	testDeviceToken = "550e8400-e29b-41d4-a716-446655440000"
)

// SeedDefaultAdmin makes sure the bootstrap admin account exists, so a
// fresh deployment can register further accounts. Idempotent, a lost
// duplicate race with another instance is fine.
func SeedDefaultAdmin(ctx context.Context, dir bootstrapDirectory, username, password string) error {
	return seedAccount(ctx, dir, username, password, true)
}

// SeedTestUser creates the development test account.
func SeedTestUser(ctx context.Context, dir bootstrapDirectory) error {
	return seedAccount(ctx, dir, TestUsername, testDeviceToken, false)
}

func seedAccount(ctx context.Context, dir bootstrapDirectory, username, password string, isAdmin bool) error {
	exists, err := dir.Exists(ctx, username)
	if err != nil {
		return fmt.Errorf("check account %s: %w", username, err)
	}
	if exists {
		return nil
	}

	passwordHash, err := pkg.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hash password for %s: %w", username, err)
	}

	sessionKey, err := pkg.GenerateRandomString(16)
	if err != nil {
		return fmt.Errorf("generate session key for %s: %w", username, err)
	}

	err = dir.Create(ctx, &Account{
		Username:     username,
		PasswordHash: passwordHash,
		Kind:         KindAdminCapable,
		IsAdmin:      isAdmin,
		SessionKey:   sessionKey,
	})
	if err != nil {
		if errors.Is(err, ErrDuplicateUsername) {
			return nil
		}
		return fmt.Errorf("create account %s: %w", username, err)
	}

	log.Infof("seeded account: %s [admin: %t]", username, isAdmin)
	return nil
}
