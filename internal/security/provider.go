// Package security provides the cryptographic primitives shared by the
// biometric and WebAuthn engines: template encryption under derived keys,
// challenge generation, and asymmetric signature verification.
package security

import (
	stdcrypto "crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// ChallengeSize is the minimum byte length of generated challenges.
const ChallengeSize = 32

// Algorithm identifies a supported signature scheme.
type Algorithm string

// Supported signature algorithms.
const (
	AlgES256 Algorithm = "ES256"
	AlgRS256 Algorithm = "RS256"
	AlgEdDSA Algorithm = "EdDSA"
)

// Provider encrypts and decrypts blobs under tenant-derived keys and
// generates random challenges. It holds no mutable state and is safe for
// concurrent use.
type Provider struct {
	masterKey []byte
}

// NewProvider constructs a Provider from a 32-byte master key.
func NewProvider(masterKey []byte) (*Provider, error) {
	if len(masterKey) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("security: master key must be %d bytes, got %d", chacha20poly1305.KeySize, len(masterKey))
	}
	key := make([]byte, len(masterKey))
	copy(key, masterKey)
	return &Provider{masterKey: key}, nil
}

// tenantKey derives the per-tenant encryption key via HKDF-SHA256.
func (p *Provider) tenantKey(tenant string) ([]byte, error) {
	reader := hkdf.New(sha256.New, p.masterKey, nil, []byte("bioauth/template/"+tenant))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, errRead := io.ReadFull(reader, key); errRead != nil {
		return nil, fmt.Errorf("security: derive tenant key: %w", errRead)
	}
	return key, nil
}

// Seal encrypts plaintext under the tenant key. The random nonce is
// prepended to the returned ciphertext.
func (p *Provider) Seal(tenant string, plaintext []byte) ([]byte, error) {
	key, errKey := p.tenantKey(tenant)
	if errKey != nil {
		return nil, errKey
	}
	aead, errAEAD := chacha20poly1305.NewX(key)
	if errAEAD != nil {
		return nil, fmt.Errorf("security: new aead: %w", errAEAD)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, errRand := rand.Read(nonce); errRand != nil {
		return nil, fmt.Errorf("security: nonce: %w", errRand)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts a blob produced by Seal for the same tenant.
func (p *Provider) Open(tenant string, sealed []byte) ([]byte, error) {
	key, errKey := p.tenantKey(tenant)
	if errKey != nil {
		return nil, errKey
	}
	aead, errAEAD := chacha20poly1305.NewX(key)
	if errAEAD != nil {
		return nil, fmt.Errorf("security: new aead: %w", errAEAD)
	}
	if len(sealed) < aead.NonceSize() {
		return nil, fmt.Errorf("security: sealed blob too short")
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, errOpen := aead.Open(nil, nonce, ciphertext, nil)
	if errOpen != nil {
		return nil, fmt.Errorf("security: open: %w", errOpen)
	}
	return plaintext, nil
}

// NewChallenge returns n cryptographically random bytes, at least
// ChallengeSize regardless of the requested length. WebAuthn ceremony
// challenges come from the ceremony library itself; this is the seam for
// non-ceremony callers that need a signed nonce, such as device attestation
// or recovery flows.
func NewChallenge(n int) ([]byte, error) {
	if n < ChallengeSize {
		n = ChallengeSize
	}
	challenge := make([]byte, n)
	if _, errRand := rand.Read(challenge); errRand != nil {
		return nil, fmt.Errorf("security: challenge: %w", errRand)
	}
	return challenge, nil
}

// VerifySignature checks an asymmetric signature over message.
// ES256 expects an ASN.1 DER signature, RS256 a PKCS#1 v1.5 signature, and
// EdDSA a raw Ed25519 signature. Assertion signatures inside WebAuthn
// ceremonies are verified by the ceremony library; this covers the same
// algorithm set for callers outside a ceremony, paired with NewChallenge.
func VerifySignature(alg Algorithm, publicKey stdcrypto.PublicKey, message, signature []byte) error {
	switch alg {
	case AlgES256:
		key, ok := publicKey.(*ecdsa.PublicKey)
		if !ok {
			return fmt.Errorf("security: ES256 requires *ecdsa.PublicKey, got %T", publicKey)
		}
		digest := sha256.Sum256(message)
		if !ecdsa.VerifyASN1(key, digest[:], signature) {
			return fmt.Errorf("security: ES256 signature verification failed")
		}
		return nil
	case AlgRS256:
		key, ok := publicKey.(*rsa.PublicKey)
		if !ok {
			return fmt.Errorf("security: RS256 requires *rsa.PublicKey, got %T", publicKey)
		}
		digest := sha256.Sum256(message)
		if errVerify := rsa.VerifyPKCS1v15(key, stdcrypto.SHA256, digest[:], signature); errVerify != nil {
			return fmt.Errorf("security: RS256 signature verification failed: %w", errVerify)
		}
		return nil
	case AlgEdDSA:
		key, ok := publicKey.(ed25519.PublicKey)
		if !ok {
			return fmt.Errorf("security: EdDSA requires ed25519.PublicKey, got %T", publicKey)
		}
		if !ed25519.Verify(key, message, signature) {
			return fmt.Errorf("security: EdDSA signature verification failed")
		}
		return nil
	default:
		return fmt.Errorf("security: unsupported algorithm: %s", alg)
	}
}
