package auth

import "errors"

var (
	// ErrInvalidEncryptedData covers every decode/decrypt failure of a
	// credential envelope; callers never learn which check failed.
	ErrInvalidEncryptedData = errors.New("invalid encrypted data")

	// ErrInvalidCredentials is returned for unknown username and wrong
	// password alike.
	ErrInvalidCredentials = errors.New("invalid email or device token")

	ErrTokenInvalid   = errors.New("invalid token")
	ErrTokenExpired   = errors.New("token has expired")
	ErrWrongTokenKind = errors.New("wrong token kind")
)
