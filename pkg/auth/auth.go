// Package auth verifies the signature envelope of a message: structural shape
// first, then cryptographic validity against externally resolved key material.
package auth

import (
	"context"
	"crypto/ed25519"
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/TBD54566975/hubnode/pkg/errs"
	"github.com/TBD54566975/hubnode/pkg/message"
)

// ErrUnresolvableSigner is returned by KeyResolver implementations when the
// signer's key material cannot be located.
var ErrUnresolvableSigner = errors.New("unresolvable signer")

// KeyResolver resolves a key identifier (did:...#fragment) to public key
// material. Resolution may hit the network and is treated as a suspension
// point; it must honor ctx cancellation.
type KeyResolver interface {
	ResolveKey(ctx context.Context, keyID string) (ed25519.PublicKey, error)
}

// Claims is the signed payload of each envelope entry. It binds the signer to
// the descriptor digest plus any authorization-specific claims.
type Claims struct {
	DescriptorCID      string `json:"descriptorCid"`
	PermissionsGrantID string `json:"permissionsGrantId,omitempty"`
	jwt.RegisteredClaims
}

const algEdDSA = "EdDSA"

// Authenticate validates the message's envelope and returns the identity of
// the first entry that verifies. Any verified signer authenticates a
// multi-signature envelope; entries are checked in order, so the primary
// signer (first entry) decides the identity whenever its own entry verifies.
//
// Structural defects (no envelope entries, malformed compact serialization,
// missing or malformed kid) are KindInvalid and reject the whole envelope; an
// envelope with no verifiable entry is KindUnauthenticated, reported as the
// first entry's failure.
func Authenticate(ctx context.Context, m *message.Message, resolver KeyResolver) (string, error) {
	if m.Authorization == nil || len(m.Authorization.Signatures) == 0 {
		return "", errs.Unauthenticated("message carries no authorization")
	}

	descriptorCID, err := m.DescriptorCID()
	if err != nil {
		return "", err
	}

	keyIDs := make([]string, len(m.Authorization.Signatures))
	for i, token := range m.Authorization.Signatures {
		keyID, err := validateEntryShape(token)
		if err != nil {
			return "", err
		}
		keyIDs[i] = keyID
	}

	var firstErr error
	for i, token := range m.Authorization.Signatures {
		if err := ctx.Err(); err != nil {
			return "", errs.Wrap(errs.KindStore, err, "authentication cancelled")
		}

		claims := &Claims{}
		parsed, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
			return resolver.ResolveKey(ctx, keyIDs[i])
		}, jwt.WithValidMethods([]string{algEdDSA}))
		switch {
		case err != nil && errors.Is(err, ErrUnresolvableSigner):
			err = errs.Wrap(errs.KindUnauthenticated, err, "signer key resolution failed")
		case err != nil:
			err = errs.Wrap(errs.KindUnauthenticated, err, "signature verification failed")
		case !parsed.Valid:
			err = errs.Unauthenticated("signature entry %d is invalid", i)
		case claims.DescriptorCID != descriptorCID:
			err = errs.Unauthenticated("signature entry %d signs a different descriptor", i)
		default:
			return SignerDID(keyIDs[i]), nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return "", firstErr
}

// validateEntryShape checks one envelope entry's structural shape without
// touching key material, and returns the entry's key identifier.
func validateEntryShape(token string) (string, error) {
	if strings.Count(token, ".") != 2 {
		return "", errs.Invalid("envelope entry is not a compact signature")
	}
	parsed, _, err := jwt.NewParser().ParseUnverified(token, &Claims{})
	if err != nil {
		return "", errs.Wrap(errs.KindInvalid, err, "malformed envelope entry")
	}
	kid, _ := parsed.Header["kid"].(string)
	if kid == "" {
		return "", errs.Invalid("envelope entry is missing kid")
	}
	if !strings.HasPrefix(kid, "did:") || !strings.Contains(kid, "#") {
		return "", errs.Invalid("unrecognized key identifier %q", kid)
	}
	return kid, nil
}

// SignerDID strips the fragment from a key identifier, yielding the signer's
// decentralized identifier.
func SignerDID(keyID string) string {
	if i := strings.Index(keyID, "#"); i >= 0 {
		return keyID[:i]
	}
	return keyID
}

// SignerOf extracts the primary signer's DID from an already accepted message
// without re-verifying signatures. Used when evaluating stored history, where
// acceptance already implied verification.
func SignerOf(m *message.Message) (string, error) {
	if m.Authorization == nil || len(m.Authorization.Signatures) == 0 {
		return "", errs.NotFound("message has no signer")
	}
	keyID, err := validateEntryShape(m.Authorization.Signatures[0])
	if err != nil {
		return "", err
	}
	return SignerDID(keyID), nil
}

// ClaimsOf extracts the primary signature's claims without verification.
// Only safe on messages already accepted into the store or messages that have
// been authenticated in the same request.
func ClaimsOf(m *message.Message) (*Claims, error) {
	if m.Authorization == nil || len(m.Authorization.Signatures) == 0 {
		return nil, errs.NotFound("message has no authorization claims")
	}
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(m.Authorization.Signatures[0], claims); err != nil {
		return nil, errs.Wrap(errs.KindInvalid, err, "malformed envelope entry")
	}
	return claims, nil
}
