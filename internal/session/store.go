package session

import (
	"context"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/p-n-ai/pai-chapters/internal/platform/cache"
)

// Store caches resolved users by token.
type Store interface {
	Get(ctx context.Context, token string) (User, bool, error)
	Put(ctx context.Context, token string, u User, ttl time.Duration) error
	Delete(ctx context.Context, token string) error
}

// tokenKey hashes a bearer token so raw tokens are never used as keys.
func tokenKey(token string) string {
	sum := blake2b.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]memoryEntry
}

type memoryEntry struct {
	user    User
	expires time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:     time.Now,
		entries: make(map[string]memoryEntry),
	}
}

func (s *MemoryStore) Get(_ context.Context, token string) (User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := tokenKey(token)
	e, ok := s.entries[key]
	if !ok {
		return User{}, false, nil
	}
	if !e.expires.IsZero() && !s.now().Before(e.expires) {
		delete(s.entries, key)
		return User{}, false, nil
	}
	return e.user, true, nil
}

func (s *MemoryStore) Put(_ context.Context, token string, u User, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := memoryEntry{user: u}
	if ttl > 0 {
		e.expires = s.now().Add(ttl)
	}
	s.entries[tokenKey(token)] = e
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, tokenKey(token))
	return nil
}

// RedisStore keeps resolved users in Redis/Dragonfly so every replica shares them.
type RedisStore struct {
	cache *cache.Cache
}

// NewRedisStore creates a store over c.
func NewRedisStore(c *cache.Cache) *RedisStore {
	return &RedisStore{cache: c}
}

func (s *RedisStore) Get(ctx context.Context, token string) (User, bool, error) {
	var u User
	err := s.cache.GetJSON(ctx, tokenKey(token), &u)
	if errors.Is(err, cache.ErrMiss) {
		return User{}, false, nil
	}
	if err != nil {
		return User{}, false, err
	}
	return u, true, nil
}

func (s *RedisStore) Put(ctx context.Context, token string, u User, ttl time.Duration) error {
	return s.cache.SetJSON(ctx, tokenKey(token), u, ttl)
}

func (s *RedisStore) Delete(ctx context.Context, token string) error {
	return s.cache.Delete(ctx, tokenKey(token))
}
