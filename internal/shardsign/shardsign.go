// Package shardsign signs and verifies a shard's manifest.json with
// Ed25519, the publisher-key half of spec §4.7/§4.8. Trimmed from the
// teacher's dual Ed25519/ECDSA CryptoProvider (internal/federation/
// crypto_provider.go) to Ed25519-only: spec §6 names only Ed25519 for
// the manifest signature, so the ECDSA branch has no caller here.
package shardsign

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/ocx/flashfreeze/internal/errs"
)

// Signer holds a generated or loaded Ed25519 key pair and signs manifest
// bytes with it.
type Signer struct {
	private ed25519.PrivateKey
	public  ed25519.PublicKey
}

// Generate creates a Signer with a freshly generated Ed25519 key pair.
func Generate() (*Signer, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("ed25519 key generation failed: %w", err)
	}
	return &Signer{private: priv, public: pub}, nil
}

// FromPrivateKey wraps an existing Ed25519 private key, e.g. loaded from
// the publisher's key material.
func FromPrivateKey(priv ed25519.PrivateKey) *Signer {
	return &Signer{private: priv, public: priv.Public().(ed25519.PublicKey)}
}

// PublicKey returns the raw 32-byte Ed25519 public key.
func (s *Signer) PublicKey() ed25519.PublicKey { return s.public }

// PublicKeyHex returns the public key hex-encoded, the form stored in
// manifest.json and the trust store's allowed_keys list.
func (s *Signer) PublicKeyHex() string { return hex.EncodeToString(s.public) }

// PrivateKeyHex returns the raw 64-byte Ed25519 private key hex-encoded,
// the form the CLI persists to its signing key file so a generated
// identity survives across runs.
func (s *Signer) PrivateKeyHex() string { return hex.EncodeToString(s.private) }

// Sign signs manifest bytes, returning the raw 64-byte signature written
// to sig/manifest.sig.
func (s *Signer) Sign(manifest []byte) []byte {
	return ed25519.Sign(s.private, manifest)
}

// Verify checks a manifest signature against a raw 32-byte Ed25519
// public key. Returns SignatureInvalid on any mismatch or malformed key.
func Verify(publicKey, manifest, signature []byte) error {
	if len(publicKey) != ed25519.PublicKeySize {
		return errs.New(errs.SignatureInvalid,
			fmt.Sprintf("invalid Ed25519 public key size: got %d, want %d", len(publicKey), ed25519.PublicKeySize))
	}
	if len(signature) != ed25519.SignatureSize {
		return errs.New(errs.SignatureInvalid,
			fmt.Sprintf("invalid signature size: got %d, want %d", len(signature), ed25519.SignatureSize))
	}
	if !ed25519.Verify(ed25519.PublicKey(publicKey), manifest, signature) {
		return errs.New(errs.SignatureInvalid, "manifest signature does not verify against publisher key")
	}
	return nil
}
