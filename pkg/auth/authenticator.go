// Package auth issues customer API keys and resolves the X-API-Key header to
// the customer that owns it.
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/dd0wney/roadnet/pkg/logging"
	"github.com/dd0wney/roadnet/pkg/metrics"
	"github.com/dd0wney/roadnet/pkg/roadnet"
	"github.com/dd0wney/roadnet/pkg/store"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the number of verified keys kept in memory.
const DefaultCacheSize = 1024

// Authenticator verifies API keys against the customer table. Verified keys
// are cached by digest; customers are immutable so entries never go stale.
type Authenticator struct {
	store   store.Store
	cache   *lru.Cache[string, *roadnet.Customer]
	logger  logging.Logger
	metrics *metrics.Registry
}

// NewAuthenticator creates an authenticator. A non-positive cacheSize uses
// DefaultCacheSize.
func NewAuthenticator(s store.Store, cacheSize int, logger logging.Logger, m *metrics.Registry) (*Authenticator, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	cache, err := lru.New[string, *roadnet.Customer](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create key cache: %w", err)
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Authenticator{
		store:   s,
		cache:   cache,
		logger:  logger.With(logging.Component("auth")),
		metrics: m,
	}, nil
}

// Authenticate returns the customer owning key. Every failure is reported as
// roadnet.ErrUnauthorized except storage errors.
func (a *Authenticator) Authenticate(ctx context.Context, key string) (*roadnet.Customer, error) {
	if key == "" {
		a.metrics.RecordAuthFailure("missing_key")
		return nil, unauthorized("missing API key")
	}

	digest := keyDigest(key)
	if c, ok := a.cache.Get(digest); ok {
		a.metrics.RecordAuthCache(true)
		cp := *c
		return &cp, nil
	}
	a.metrics.RecordAuthCache(false)

	keyID, secret, err := ParseKey(key)
	if err != nil {
		a.metrics.RecordAuthFailure("malformed_key")
		return nil, unauthorized("malformed API key")
	}

	var customer *roadnet.Customer
	err = a.store.View(ctx, func(tx store.ReadTx) error {
		var err error
		customer, err = tx.CustomerByKeyID(ctx, keyID)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		a.metrics.RecordAuthFailure("unknown_key")
		return nil, unauthorized("invalid API key")
	}
	if err != nil {
		return nil, roadnet.StorageError("authenticate", err)
	}

	if !compareSecret(customer.KeyHash, secret) {
		a.metrics.RecordAuthFailure("invalid_secret")
		a.logger.Warn("API key secret mismatch", logging.CustomerID(customer.ID))
		return nil, unauthorized("invalid API key")
	}

	cached := *customer
	cached.KeyHash = nil
	a.cache.Add(digest, &cached)
	return customer, nil
}

// Len reports the number of cached keys.
func (a *Authenticator) Len() int {
	return a.cache.Len()
}

func keyDigest(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func unauthorized(detail string) error {
	return roadnet.NewError("authenticate", roadnet.ErrUnauthorized).Detail("%s", detail).Err()
}
