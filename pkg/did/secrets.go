package did

import (
	"context"
	"fmt"
	"sync"
)

// KeyType names the curve/algorithm family of a secret, closing the
// dispatch table the envelope engine's crypto layer switches on (spec §9
// "Variant dispatch over types").
type KeyType string

const (
	KeyTypeEd25519    KeyType = "Ed25519"
	KeyTypeX25519     KeyType = "X25519"
	KeyTypeP256       KeyType = "P-256"
	KeyTypeSecp256k1  KeyType = "secp256k1"
)

// Secret is private key material this agent controls, keyed by the
// verification-method id (kid) it corresponds to.
type Secret struct {
	KID        string
	Type       KeyType
	PrivateKey []byte
}

// ErrSecretNotFound is the fatal error the envelope engine maps to
// SecretNotFound (spec §7): no decryption/signing key available locally.
type ErrSecretNotFound struct {
	KID string
}

func (e *ErrSecretNotFound) Error() string {
	return fmt.Sprintf("secret not found for kid %s", e.KID)
}

// SecretStore produces signing/key-agreement private keys for DIDs this
// agent controls. Like Resolver, it is a capability value, never a global
// (spec §9).
type SecretStore interface {
	// Secret returns the private key for kid, or *ErrSecretNotFound.
	Secret(ctx context.Context, kid string) (Secret, error)
	// HasSecret reports whether kid is available without fetching it,
	// used by unpack to pick the first JWE recipient it can actually
	// decrypt (spec §4.C unpack step 2).
	HasSecret(ctx context.Context, kid string) bool
}

// MemorySecrets is an in-memory SecretStore, used by tests and by small
// single-tenant deployments of the mediator itself.
type MemorySecrets struct {
	mu      sync.RWMutex
	secrets map[string]Secret
}

// NewMemorySecrets builds an empty MemorySecrets.
func NewMemorySecrets() *MemorySecrets {
	return &MemorySecrets{secrets: make(map[string]Secret)}
}

// Put registers a secret under its kid.
func (m *MemorySecrets) Put(s Secret) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secrets[s.KID] = s
}

// Secret implements SecretStore.
func (m *MemorySecrets) Secret(_ context.Context, kid string) (Secret, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.secrets[kid]
	if !ok {
		return Secret{}, &ErrSecretNotFound{KID: kid}
	}
	return s, nil
}

// HasSecret implements SecretStore.
func (m *MemorySecrets) HasSecret(_ context.Context, kid string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.secrets[kid]
	return ok
}
