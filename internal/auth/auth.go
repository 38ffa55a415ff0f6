// Package auth issues and checks API keys. A key authenticates a principal:
// the opaque identity escrow operations authorize against.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/clearhold/clearhold/internal/idgen"
)

var (
	ErrKeyNotFound = errors.New("auth: api key not found")
	ErrKeyRevoked  = errors.New("auth: api key revoked")
)

// Key is an issued API key. Only the hash is stored; the secret is returned
// once at creation.
type Key struct {
	ID        string     `json:"id"`
	Principal string     `json:"principal"`
	Label     string     `json:"label,omitempty"`
	Hash      string     `json:"-"`
	CreatedAt time.Time  `json:"createdAt"`
	RevokedAt *time.Time `json:"revokedAt,omitempty"`
}

// Manager issues keys and resolves bearer secrets to principals.
type Manager struct {
	mu     sync.RWMutex
	byHash map[string]*Key
	byID   map[string]*Key
}

// NewManager creates an empty key manager.
func NewManager() *Manager {
	return &Manager{
		byHash: make(map[string]*Key),
		byID:   make(map[string]*Key),
	}
}

// Issue creates a key for a principal and returns the record plus the
// one-time secret.
func (m *Manager) Issue(principal, label string) (*Key, string) {
	secret := "ck_" + idgen.Hex(24)
	key := &Key{
		ID:        idgen.WithPrefix("key_"),
		Principal: principal,
		Label:     label,
		Hash:      hashSecret(secret),
		CreatedAt: time.Now().UTC(),
	}

	m.mu.Lock()
	m.byHash[key.Hash] = key
	m.byID[key.ID] = key
	m.mu.Unlock()

	return key, secret
}

// Seed registers a pre-shared secret for a principal. Used to bootstrap
// owner and arbitrator keys from configuration.
func (m *Manager) Seed(principal, secret string) *Key {
	key := &Key{
		ID:        idgen.WithPrefix("key_"),
		Principal: principal,
		Label:     "seeded",
		Hash:      hashSecret(secret),
		CreatedAt: time.Now().UTC(),
	}

	m.mu.Lock()
	m.byHash[key.Hash] = key
	m.byID[key.ID] = key
	m.mu.Unlock()

	return key
}

// Resolve maps a bearer secret to its principal.
func (m *Manager) Resolve(secret string) (*Key, error) {
	h := hashSecret(secret)

	m.mu.RLock()
	defer m.mu.RUnlock()
	key, ok := m.byHash[h]
	if !ok {
		return nil, ErrKeyNotFound
	}
	// Constant-time confirm after the map lookup.
	if subtle.ConstantTimeCompare([]byte(h), []byte(key.Hash)) != 1 {
		return nil, ErrKeyNotFound
	}
	if key.RevokedAt != nil {
		return nil, ErrKeyRevoked
	}
	copied := *key
	return &copied, nil
}

// Revoke disables a key by id.
func (m *Manager) Revoke(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key, ok := m.byID[id]
	if !ok {
		return ErrKeyNotFound
	}
	if key.RevokedAt == nil {
		now := time.Now().UTC()
		key.RevokedAt = &now
	}
	return nil
}

func hashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

// BearerSecret extracts the secret from an Authorization header or an
// X-API-Key header.
func BearerSecret(authorization, apiKeyHeader string) string {
	if apiKeyHeader != "" {
		return apiKeyHeader
	}
	if after, found := strings.CutPrefix(authorization, "Bearer "); found {
		return after
	}
	return ""
}

type contextKey string

const principalKey contextKey = "auth.principal"

// WithPrincipal stores the authenticated principal on the context.
func WithPrincipal(ctx context.Context, principal string) context.Context {
	return context.WithValue(ctx, principalKey, principal)
}

// PrincipalFromContext returns the authenticated principal, if any.
func PrincipalFromContext(ctx context.Context) string {
	if p, ok := ctx.Value(principalKey).(string); ok {
		return p
	}
	return ""
}
