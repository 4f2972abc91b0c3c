package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-jose/go-jose/v4"
)

// ErrUnknownKey is returned when no signing key matches a token's kid.
var ErrUnknownKey = errors.New("signing key not found")

const defaultMinRefresh = 30 * time.Second

// JWKSCache keeps the realm's public signing keys. Keys are fetched lazily and
// refetched when a token references an unknown kid, at most once per minRefresh.
type JWKSCache struct {
	url        string
	client     *http.Client
	minRefresh time.Duration
	now        func() time.Time

	mu        sync.Mutex
	keys      jose.JSONWebKeySet
	fetchedAt time.Time
}

func NewJWKSCache(url string, client *http.Client, minRefresh time.Duration) *JWKSCache {
	if client == nil {
		client = http.DefaultClient
	}
	if minRefresh <= 0 {
		minRefresh = defaultMinRefresh
	}
	return &JWKSCache{
		url:        url,
		client:     client,
		minRefresh: minRefresh,
		now:        time.Now,
	}
}

// Key returns the public key for kid. An empty kid matches a single-key set.
func (c *JWKSCache) Key(ctx context.Context, kid string) (any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if key, ok := c.lookup(kid); ok {
		return key, nil
	}
	if !c.fetchedAt.IsZero() && c.now().Sub(c.fetchedAt) < c.minRefresh {
		return nil, errors.Wrapf(ErrUnknownKey, "kid %q", kid)
	}
	if err := c.refresh(ctx); err != nil {
		return nil, err
	}
	if key, ok := c.lookup(kid); ok {
		return key, nil
	}
	return nil, errors.Wrapf(ErrUnknownKey, "kid %q", kid)
}

func (c *JWKSCache) lookup(kid string) (any, bool) {
	if kid == "" {
		if len(c.keys.Keys) == 1 {
			return c.keys.Keys[0].Key, true
		}
		return nil, false
	}
	for _, k := range c.keys.Key(kid) {
		if k.Use == "" || k.Use == "sig" {
			return k.Key, true
		}
	}
	return nil, false
}

func (c *JWKSCache) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return errors.Wrap(err, "failed to create jwks request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "jwks request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Newf("jwks endpoint returned %d", resp.StatusCode)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return errors.Wrap(err, "failed to decode jwks")
	}

	c.keys = set
	c.fetchedAt = c.now()
	return nil
}
