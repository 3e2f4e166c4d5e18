package guardlib

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const derivedKeyLength = 32

// Purposes of keys derived from the master secret.
const (
	keyPurposeCSRF    = "reqguard csrf token v1"
	keyPurposeSession = "reqguard session cookie v1"
)

func deriveKey(secret []byte, purpose string) ([]byte, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrSecretIsTooShort
	}

	key := make([]byte, derivedKeyLength)
	reader := hkdf.New(sha256.New, secret, nil, []byte(purpose))

	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("cannot derive a key: %w", err)
	}

	return key, nil
}
