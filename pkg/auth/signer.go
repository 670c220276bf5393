package auth

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"sync"

	"github.com/golang-jwt/jwt/v5"

	"github.com/TBD54566975/hubnode/pkg/message"
)

// Signer produces envelope entries for a single key. Ed25519 signing is
// deterministic, so re-signing identical content yields an identical entry and
// the message CID stays stable.
type Signer struct {
	keyID string
	priv  ed25519.PrivateKey
}

// NewSigner generates a fresh Ed25519 keypair under the given key identifier.
func NewSigner(keyID string) (*Signer, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("key generation failed: %w", err)
	}
	return &Signer{keyID: keyID, priv: priv}, nil
}

// NewSignerFromKey wraps an existing private key.
func NewSignerFromKey(priv ed25519.PrivateKey, keyID string) *Signer {
	return &Signer{keyID: keyID, priv: priv}
}

// KeyID returns the signer's key identifier (did:...#fragment).
func (s *Signer) KeyID() string { return s.keyID }

// DID returns the signer's identity.
func (s *Signer) DID() string { return SignerDID(s.keyID) }

// PublicKey returns the verification key.
func (s *Signer) PublicKey() ed25519.PublicKey {
	return s.priv.Public().(ed25519.PublicKey)
}

// Sign attaches an envelope entry binding this signer to the message's
// descriptor. extra, when non-nil, supplies authorization claims such as the
// grant reference.
func (s *Signer) Sign(m *message.Message, extra *Claims) error {
	descriptorCID, err := m.DescriptorCID()
	if err != nil {
		return err
	}
	claims := Claims{DescriptorCID: descriptorCID}
	if extra != nil {
		claims.PermissionsGrantID = extra.PermissionsGrantID
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	token.Header["kid"] = s.keyID
	signed, err := token.SignedString(s.priv)
	if err != nil {
		return fmt.Errorf("envelope signing failed: %w", err)
	}

	if m.Authorization == nil {
		m.Authorization = &message.Envelope{}
	}
	m.Authorization.Signatures = append(m.Authorization.Signatures, signed)
	return nil
}

// StaticResolver is an in-memory KeyResolver for tests and single-node
// deployments where key material is provisioned out of band.
type StaticResolver struct {
	mu   sync.RWMutex
	keys map[string]ed25519.PublicKey
}

// NewStaticResolver creates an empty resolver.
func NewStaticResolver() *StaticResolver {
	return &StaticResolver{keys: make(map[string]ed25519.PublicKey)}
}

// Add registers key material under a key identifier.
func (r *StaticResolver) Add(keyID string, key ed25519.PublicKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys[keyID] = key
}

// AddSigner registers a signer's public key.
func (r *StaticResolver) AddSigner(s *Signer) {
	r.Add(s.KeyID(), s.PublicKey())
}

// ResolveKey implements KeyResolver.
func (r *StaticResolver) ResolveKey(_ context.Context, keyID string) (ed25519.PublicKey, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key, ok := r.keys[keyID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnresolvableSigner, keyID)
	}
	return key, nil
}
