package auth

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

// ErrStateNotFound is returned for unknown, expired or already used sign-in states.
var ErrStateNotFound = errors.New("sign-in state not found")

// DefaultStateTTL bounds how long a browser has to complete sign-in.
const DefaultStateTTL = 10 * time.Minute

// PendingLogin is what the callback needs to finish a browser sign-in.
type PendingLogin struct {
	Verifier string `json:"verifier"`
	Redirect string `json:"redirect"`
}

// StateStore keeps pending sign-ins keyed by their OAuth2 state. Take is one-shot.
type StateStore interface {
	Save(ctx context.Context, state string, login PendingLogin, ttl time.Duration) error
	Take(ctx context.Context, state string) (*PendingLogin, error)
}

type memoryEntry struct {
	login     PendingLogin
	expiresAt time.Time
}

// MemoryStateStore is a StateStore for single instance deployments.
type MemoryStateStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (s *MemoryStateStore) Save(ctx context.Context, state string, login PendingLogin, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, k)
		}
	}
	s.entries[state] = memoryEntry{login: login, expiresAt: now.Add(ttl)}
	return nil
}

func (s *MemoryStateStore) Take(ctx context.Context, state string) (*PendingLogin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[state]
	if !ok {
		return nil, ErrStateNotFound
	}
	delete(s.entries, state)
	if s.now().After(e.expiresAt) {
		return nil, ErrStateNotFound
	}
	return &e.login, nil
}

// RedisStateStore shares pending sign-ins between instances.
type RedisStateStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStateStore(client *redis.Client) *RedisStateStore {
	return &RedisStateStore{client: client, prefix: "keyfire:auth:state:"}
}

func (s *RedisStateStore) Save(ctx context.Context, state string, login PendingLogin, ttl time.Duration) error {
	payload, err := json.Marshal(login)
	if err != nil {
		return errors.Wrap(err, "failed to encode sign-in state")
	}
	if err := s.client.Set(ctx, s.prefix+state, payload, ttl).Err(); err != nil {
		return errors.Wrap(err, "failed to store sign-in state")
	}
	return nil
}

func (s *RedisStateStore) Take(ctx context.Context, state string) (*PendingLogin, error) {
	payload, err := s.client.GetDel(ctx, s.prefix+state).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load sign-in state")
	}

	var login PendingLogin
	if err := json.Unmarshal(payload, &login); err != nil {
		return nil, errors.Wrap(err, "failed to decode sign-in state")
	}
	return &login, nil
}
