package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// DefaultTTL is how long a resolved user is trusted before asking again.
const DefaultTTL = 10 * time.Minute

// Fetcher asks the auth service who a token belongs to.
type Fetcher interface {
	Me(ctx context.Context, token string) (User, error)
	Logout(ctx context.Context, token string) error
}

// Manager resolves bearer tokens to sessions. A token is looked up upstream
// once and cached until it expires or is logged out.
type Manager struct {
	store   Store
	fetcher Fetcher
	ttl     time.Duration
}

// NewManager creates a manager. A non-positive ttl uses DefaultTTL.
func NewManager(store Store, fetcher Fetcher, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{store: store, fetcher: fetcher, ttl: ttl}
}

// Resolve returns the session for token.
func (m *Manager) Resolve(ctx context.Context, token string) (Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Session{}, ErrNoSession
	}

	u, ok, err := m.store.Get(ctx, token)
	if err != nil {
		// Fall through to the auth service.
		slog.Warn("session cache read failed", "error", err)
	}
	if ok {
		return Session{Token: token, User: u}, nil
	}

	u, err = m.fetcher.Me(ctx, token)
	if err != nil {
		return Session{}, fmt.Errorf("resolving session: %w", err)
	}
	if err := m.store.Put(ctx, token, u, m.ttl); err != nil {
		slog.Warn("session cache write failed", "user_id", u.ID, "error", err)
	}
	return Session{Token: token, User: u}, nil
}

// Logout invalidates the token locally and upstream.
func (m *Manager) Logout(ctx context.Context, token string) error {
	if err := m.store.Delete(ctx, token); err != nil {
		return fmt.Errorf("dropping cached session: %w", err)
	}
	if err := m.fetcher.Logout(ctx, token); err != nil {
		return fmt.Errorf("logging out: %w", err)
	}
	return nil
}

// StaticFetcher resolves tokens from a fixed table. It backs the memory
// backend, where there is no auth service to ask.
type StaticFetcher struct {
	Users map[string]User
}

func (f StaticFetcher) Me(_ context.Context, token string) (User, error) {
	u, ok := f.Users[token]
	if !ok {
		return User{}, ErrNoSession
	}
	return u, nil
}

func (f StaticFetcher) Logout(context.Context, string) error {
	return nil
}

// ParseUsers reads a comma separated list of token=id:role:grade entries.
func ParseUsers(spec string) (map[string]User, error) {
	users := map[string]User{}
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		token, rest, ok := strings.Cut(entry, "=")
		parts := strings.Split(rest, ":")
		if !ok || token == "" || len(parts) != 3 || parts[0] == "" {
			return nil, fmt.Errorf("invalid user entry %q, want token=id:role:grade", entry)
		}
		role := Role(parts[1])
		switch role {
		case RoleStudent, RoleTeacher, RoleAdmin, RoleSuperAdmin:
		default:
			return nil, fmt.Errorf("invalid role %q in user entry %q", parts[1], entry)
		}
		users[token] = User{ID: parts[0], Name: parts[0], Role: role, GradeID: parts[2]}
	}
	return users, nil
}
