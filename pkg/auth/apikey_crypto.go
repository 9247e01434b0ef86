package auth

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const (
	KeyPrefix       = "rn_"
	KeyIDLength     = 8  // bytes of random data in the public key id
	KeyRandomLength = 32 // bytes of random data in the secret
)

// BcryptCost is the cost factor used to hash key secrets.
var BcryptCost = 12

var ErrMalformedKey = errors.New("malformed API key")

// IssuedKey is a freshly generated credential. Key is shown to the customer
// once; only KeyID and Hash are stored.
type IssuedKey struct {
	Key   string
	KeyID string
	Hash  []byte
}

// GenerateKey creates a new API key of the form rn_<keyid>_<secret>.
func GenerateKey() (*IssuedKey, error) {
	idBytes := make([]byte, KeyIDLength)
	if _, err := rand.Read(idBytes); err != nil {
		return nil, fmt.Errorf("failed to generate key id: %w", err)
	}
	secretBytes := make([]byte, KeyRandomLength)
	if _, err := rand.Read(secretBytes); err != nil {
		return nil, fmt.Errorf("failed to generate key secret: %w", err)
	}

	keyID := hex.EncodeToString(idBytes)
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash key secret: %w", err)
	}

	return &IssuedKey{
		Key:   KeyPrefix + keyID + "_" + secret,
		KeyID: keyID,
		Hash:  hash,
	}, nil
}

// ParseKey splits an API key into its public id and its secret. The id is
// hex, so the first underscore after the prefix ends it.
func ParseKey(key string) (keyID, secret string, err error) {
	rest, ok := strings.CutPrefix(key, KeyPrefix)
	if !ok {
		return "", "", ErrMalformedKey
	}
	keyID, secret, ok = strings.Cut(rest, "_")
	if !ok || len(keyID) != 2*KeyIDLength || secret == "" {
		return "", "", ErrMalformedKey
	}
	if _, err := hex.DecodeString(keyID); err != nil {
		return "", "", ErrMalformedKey
	}
	return keyID, secret, nil
}

// compareSecret checks a secret against its stored bcrypt hash.
func compareSecret(hash []byte, secret string) bool {
	return bcrypt.CompareHashAndPassword(hash, []byte(secret)) == nil
}
