package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/dwani-ai/dwani-gateway/internal/users"
	"github.com/dwani-ai/dwani-gateway/pkg"

	log "github.com/sirupsen/logrus"
)

type directory interface {
	Get(ctx context.Context, username string) (*users.Account, error)
	GetByKind(ctx context.Context, kind users.Kind, username string) (*users.Account, error)
	Create(ctx context.Context, acc *users.Account) error
	UpdateSessionKey(ctx context.Context, username, sessionKey string) error
	Exists(ctx context.Context, username string) (bool, error)
}

var (
	_ directory = (*users.Repo)(nil)
	_ directory = (*users.RepoMock)(nil)
)

// EncryptedCredentials carries the two credential envelopes a client
// sealed with its session key, each one independently encrypted.
type EncryptedCredentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Service runs the session-key binding protocol: decrypt the credential
// envelopes with the client-supplied key, authenticate against the
// directory, bind the key to the account and mint a token pair.
type Service struct {
	dir    directory
	tokens *TokenService
}

func NewService(dir directory, tokens *TokenService) *Service {
	return &Service{
		dir:    dir,
		tokens: tokens,
	}
}

func (s *Service) decryptCredentials(creds EncryptedCredentials, sessionKeyB64 string) (username, password string, err error) {
	sessionKey, err := base64.StdEncoding.DecodeString(sessionKeyB64)
	if err != nil {
		return "", "", ErrInvalidEncryptedData
	}

	// no directory lookup happens before both envelopes open, so a bad
	// key learns nothing about account existence
	username, err = DecryptCredential(creds.Username, sessionKey)
	if err != nil {
		return "", "", err
	}
	password, err = DecryptCredential(creds.Password, sessionKey)
	if err != nil {
		return "", "", err
	}

	return username, password, nil
}

// Login decrypts the credentials, verifies them across both account
// kinds (admin-capable match wins) and rebinds the session key when the
// client presents a new one.
func (s *Service) Login(ctx context.Context, creds EncryptedCredentials, sessionKeyB64 string) (TokenPair, error) {
	username, password, err := s.decryptCredentials(creds, sessionKeyB64)
	if err != nil {
		return TokenPair{}, err
	}

	acc, err := s.dir.GetByKind(ctx, users.KindAdminCapable, username)
	if errors.Is(err, users.ErrAccountNotFound) {
		acc, err = s.dir.GetByKind(ctx, users.KindStandard, username)
	}
	if err != nil {
		if errors.Is(err, users.ErrAccountNotFound) {
			log.Warnf("login failed for user: %s", username)
			return TokenPair{}, ErrInvalidCredentials
		}
		return TokenPair{}, fmt.Errorf("login directory lookup: %w", err)
	}

	if !pkg.CheckPasswordHash(password, acc.PasswordHash) {
		log.Warnf("login failed for user: %s", username)
		return TokenPair{}, ErrInvalidCredentials
	}

	if acc.SessionKey != sessionKeyB64 {
		if acc.SessionKey != "" {
			// trust-on-first-use rebind, the previous key is silently replaced
			log.Warnf("session key rebind for user: %s", username)
		}
		if err := s.dir.UpdateSessionKey(ctx, acc.Username, sessionKeyB64); err != nil {
			return TokenPair{}, fmt.Errorf("bind session key: %w", err)
		}
	}

	pair, err := s.tokens.IssuePair(acc.Username)
	if err != nil {
		return TokenPair{}, err
	}

	log.Infof("generated tokens for user: %s", acc.Username)
	return pair, nil
}

// RegisterApp is the self-service registration flow: same decrypt step as
// login, then account creation with the session key already bound.
func (s *Service) RegisterApp(ctx context.Context, creds EncryptedCredentials, sessionKeyB64 string) (TokenPair, error) {
	username, password, err := s.decryptCredentials(creds, sessionKeyB64)
	if err != nil {
		return TokenPair{}, err
	}

	passwordHash, err := pkg.HashPassword(password)
	if err != nil {
		return TokenPair{}, fmt.Errorf("hash password: %w", err)
	}

	err = s.dir.Create(ctx, &users.Account{
		Username:     username,
		PasswordHash: passwordHash,
		Kind:         users.KindStandard,
		SessionKey:   sessionKeyB64,
	})
	if err != nil {
		if errors.Is(err, users.ErrDuplicateUsername) {
			log.Warnf("app registration failed, username taken: %s", username)
			return TokenPair{}, err
		}
		return TokenPair{}, fmt.Errorf("create app account: %w", err)
	}

	pair, err := s.tokens.IssuePair(username)
	if err != nil {
		return TokenPair{}, err
	}

	log.Infof("app registered new user: %s", username)
	return pair, nil
}

// Register is the admin-invoked flow. The caller is already an
// authenticated admin, so credentials arrive in plaintext and the new
// account lands in the admin-capable kind without the admin flag.
func (s *Service) Register(ctx context.Context, registeredBy, username, password string) (TokenPair, error) {
	passwordHash, err := pkg.HashPassword(password)
	if err != nil {
		return TokenPair{}, fmt.Errorf("hash password: %w", err)
	}

	err = s.dir.Create(ctx, &users.Account{
		Username:     username,
		PasswordHash: passwordHash,
		Kind:         users.KindAdminCapable,
		IsAdmin:      false,
	})
	if err != nil {
		if errors.Is(err, users.ErrDuplicateUsername) {
			log.Warnf("registration failed, username taken: %s", username)
			return TokenPair{}, err
		}
		return TokenPair{}, fmt.Errorf("create account: %w", err)
	}

	pair, err := s.tokens.IssuePair(username)
	if err != nil {
		return TokenPair{}, err
	}

	log.Infof("admin %s registered new user: %s", registeredBy, username)
	return pair, nil
}

// Refresh exchanges a refresh-kind token for a fresh pair, after making
// sure the subject still exists in the directory.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	subject, err := s.tokens.Verify(refreshToken, TokenKindRefresh)
	if err != nil {
		return TokenPair{}, err
	}

	exists, err := s.dir.Exists(ctx, subject)
	if err != nil {
		return TokenPair{}, fmt.Errorf("refresh directory lookup: %w", err)
	}
	if !exists {
		log.Warnf("refresh for unknown user: %s", subject)
		return TokenPair{}, ErrTokenInvalid
	}

	return s.tokens.IssuePair(subject)
}

// ResolveAccount maps a verified token subject back to its account,
// looking in both kinds. Used by the request guards.
func (s *Service) ResolveAccount(ctx context.Context, subject string) (*users.Account, error) {
	return s.dir.Get(ctx, subject)
}

// VerifyAccess is the single token verification path used by the guards.
func (s *Service) VerifyAccess(tokenString string) (string, error) {
	return s.tokens.Verify(tokenString, TokenKindAccess)
}
