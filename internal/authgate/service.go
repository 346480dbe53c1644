// Package authgate implements the shared-password gate in front of the
// dashboard. One bcrypt hash guards the whole board; successful logins get a
// signed session token whose revocation state lives in Redis when available.
package authgate

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"planboard/api/internal/auth"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrGateDisabled = errors.New("password gate not configured")
)

const sessionKeyPrefix = "planboard:session:"

// SessionStore tracks live session tokens so logout actually revokes them.
type SessionStore interface {
	Put(ctx context.Context, tokenHash string, ttl time.Duration) error
	Exists(ctx context.Context, tokenHash string) (bool, error)
	Delete(ctx context.Context, tokenHash string) error
}

// Service checks the gate password and manages sessions.
type Service struct {
	passwordHash []byte
	tokenSecret  []byte
	ttl          time.Duration
	sessions     SessionStore
}

func NewService(passwordHash, tokenSecret string, ttl time.Duration, sessions SessionStore) *Service {
	if sessions == nil {
		sessions = NewMemorySessions()
	}
	return &Service{
		passwordHash: []byte(passwordHash),
		tokenSecret:  []byte(tokenSecret),
		ttl:          ttl,
		sessions:     sessions,
	}
}

// Enabled reports whether a gate password has been configured. With no hash
// set the dashboard runs open, matching a local single-user setup.
func (s *Service) Enabled() bool {
	return len(s.passwordHash) > 0
}

// Login verifies the shared password and issues a session token.
func (s *Service) Login(ctx context.Context, password string) (string, error) {
	if !s.Enabled() {
		return "", ErrGateDisabled
	}
	if err := bcrypt.CompareHashAndPassword(s.passwordHash, []byte(password)); err != nil {
		return "", ErrUnauthorized
	}

	jti, err := randomID()
	if err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	token, err := auth.IssueToken(s.tokenSecret, auth.Claims{
		Sub: "gate",
		JTI: jti,
		Exp: time.Now().Add(s.ttl).Unix(),
	})
	if err != nil {
		return "", err
	}
	if err := s.sessions.Put(ctx, auth.HashToken(jti), s.ttl); err != nil {
		return "", fmt.Errorf("store session: %w", err)
	}
	return token, nil
}

// Verify checks the token signature, expiry and revocation state.
func (s *Service) Verify(ctx context.Context, token string) error {
	if !s.Enabled() {
		return nil
	}
	claims, err := auth.ParseToken(s.tokenSecret, token)
	if err != nil {
		return ErrUnauthorized
	}
	alive, err := s.sessions.Exists(ctx, auth.HashToken(claims.JTI))
	if err != nil {
		return fmt.Errorf("check session: %w", err)
	}
	if !alive {
		return ErrUnauthorized
	}
	return nil
}

// Logout revokes the session behind a token. Invalid tokens are a no-op.
func (s *Service) Logout(ctx context.Context, token string) error {
	claims, err := auth.ParseToken(s.tokenSecret, token)
	if err != nil {
		return nil
	}
	return s.sessions.Delete(ctx, auth.HashToken(claims.JTI))
}

func randomID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// RedisSessions stores session state in Redis so restarts keep sessions alive.
type RedisSessions struct {
	client *redis.Client
}

func NewRedisSessions(client *redis.Client) *RedisSessions {
	return &RedisSessions{client: client}
}

func (r *RedisSessions) Put(ctx context.Context, tokenHash string, ttl time.Duration) error {
	return r.client.Set(ctx, sessionKeyPrefix+tokenHash, "1", ttl).Err()
}

func (r *RedisSessions) Exists(ctx context.Context, tokenHash string) (bool, error) {
	n, err := r.client.Exists(ctx, sessionKeyPrefix+tokenHash).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *RedisSessions) Delete(ctx context.Context, tokenHash string) error {
	return r.client.Del(ctx, sessionKeyPrefix+tokenHash).Err()
}

// MemorySessions is the fallback when Redis is not configured. Expiry is
// enforced lazily on lookup.
type MemorySessions struct {
	mu       sync.Mutex
	deadline map[string]time.Time
}

func NewMemorySessions() *MemorySessions {
	return &MemorySessions{deadline: make(map[string]time.Time)}
}

func (m *MemorySessions) Put(_ context.Context, tokenHash string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deadline[tokenHash] = time.Now().Add(ttl)
	return nil
}

func (m *MemorySessions) Exists(_ context.Context, tokenHash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	dl, ok := m.deadline[tokenHash]
	if !ok {
		return false, nil
	}
	if time.Now().After(dl) {
		delete(m.deadline, tokenHash)
		return false, nil
	}
	return true, nil
}

func (m *MemorySessions) Delete(_ context.Context, tokenHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.deadline, tokenHash)
	return nil
}
