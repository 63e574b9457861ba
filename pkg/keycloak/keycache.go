// pkg/keycloak/keycache.go
package keycloak

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultKeyTTL is how long a fetched realm key is trusted before a refresh.
// Realm keys rotate rarely.
const DefaultKeyTTL = time.Hour

// KeyCache holds the realm's RSA verification key and refreshes it lazily
// once its TTL has elapsed. Reads are lock-cheap; a refresh is funneled
// through a single flight so concurrent callers discovering an expired key
// trigger exactly one upstream fetch and all wait on its result.
type KeyCache struct {
	fetcher KeyFetcher
	ttl     time.Duration
	log     *zap.Logger

	group singleflight.Group
	now   func() time.Time

	// guarded by mu
	mu      sync.RWMutex
	key     *rsa.PublicKey
	expires time.Time
}

// NewKeyCache builds a cache over the given fetcher. A non-positive ttl
// falls back to DefaultKeyTTL.
func NewKeyCache(fetcher KeyFetcher, ttl time.Duration, log *zap.Logger) *KeyCache {
	if ttl <= 0 {
		ttl = DefaultKeyTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &KeyCache{
		fetcher: fetcher,
		ttl:     ttl,
		log:     log,
		now:     time.Now,
	}
}

// Key returns the current verification key, fetching from the provider when
// none is held or the held one has aged out. Returns ErrKeyUnavailable when
// the fetch fails and no unexpired key is held.
func (c *KeyCache) Key(ctx context.Context) (*rsa.PublicKey, error) {
	if k := c.current(); k != nil {
		return k, nil
	}

	v, err, _ := c.group.Do("signing-key", func() (any, error) {
		// a flight that finished while we queued may have filled the cache
		if k := c.current(); k != nil {
			return k, nil
		}
		return c.refresh(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*rsa.PublicKey), nil
}

func (c *KeyCache) current() *rsa.PublicKey {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.key == nil || c.now().After(c.expires) {
		return nil
	}
	return c.key
}

func (c *KeyCache) refresh(ctx context.Context) (*rsa.PublicKey, error) {
	raw, err := c.fetcher.FetchSigningKey(ctx)
	if err != nil {
		c.log.Error("signing key fetch failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrKeyUnavailable, err)
	}

	pub, err := parsePublicKey(raw)
	if err != nil {
		c.log.Error("signing key parse failed", zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrKeyUnavailable, err)
	}

	// commit new state under lock
	expires := c.now().Add(c.ttl)
	c.mu.Lock()
	c.key = pub
	c.expires = expires
	c.mu.Unlock()

	c.log.Debug("signing key refreshed", zap.Time("expires", expires))
	return pub, nil
}

// Invalidate drops the held key so the next Key call refetches.
func (c *KeyCache) Invalidate() {
	c.mu.Lock()
	c.key = nil
	c.expires = time.Time{}
	c.mu.Unlock()
}

// parsePublicKey accepts either a PEM block or Keycloak's bare base64 DER
// body and returns the RSA public key within.
func parsePublicKey(raw []byte) (*rsa.PublicKey, error) {
	der := raw
	if strings.Contains(string(raw), "-----BEGIN") {
		block, _ := pem.Decode(raw)
		if block == nil {
			return nil, errors.New("no PEM block in key material")
		}
		der = block.Bytes
	} else {
		b, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(raw)))
		if err != nil {
			return nil, fmt.Errorf("bad base64 key body: %w", err)
		}
		der = b
	}

	keyAny, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, err
	}
	rk, ok := keyAny.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("key material is not an RSA public key")
	}
	return rk, nil
}
