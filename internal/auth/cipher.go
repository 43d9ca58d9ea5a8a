package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	log "github.com/sirupsen/logrus"
)

// Credential envelopes travel as base64(nonce || ciphertext || tag):
// a 12 byte GCM nonce up front and the 16 byte authentication tag
// appended by Seal at the end.
const (
	NonceSize = 12
	TagSize   = 16
)

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aesGCM, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return aesGCM, nil
}

// EncryptCredential seals plaintext with the session key and returns the
// base64 envelope. The key width must be a valid AES width (16, 24 or 32
// bytes).
func EncryptCredential(plaintext string, key []byte) (string, error) {
	aesGCM, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := aesGCM.Seal(nil, nonce, []byte(plaintext), nil)

	envelope := make([]byte, 0, NonceSize+len(sealed))
	envelope = append(envelope, nonce...)
	envelope = append(envelope, sealed...)

	return base64.StdEncoding.EncodeToString(envelope), nil
}

// DecryptCredential opens a base64 envelope produced by EncryptCredential.
// Every failure mode, bad base64, short blob, wrong key, flipped bit,
// collapses into ErrInvalidEncryptedData and no partial plaintext is
// ever returned.
func DecryptCredential(envelope string, key []byte) (string, error) {
	data, err := base64.StdEncoding.DecodeString(envelope)
	if err != nil {
		log.Debugf("credential decrypt: envelope decode failed: %s", err)
		return "", ErrInvalidEncryptedData
	}

	if len(data) < NonceSize+TagSize {
		return "", ErrInvalidEncryptedData
	}

	aesGCM, err := newGCM(key)
	if err != nil {
		return "", ErrInvalidEncryptedData
	}

	nonce, ciphertext := data[:NonceSize], data[NonceSize:]
	plaintext, err := aesGCM.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		// tamper or wrong key, do not say which
		return "", ErrInvalidEncryptedData
	}

	return string(plaintext), nil
}
