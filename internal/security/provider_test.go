package security

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"testing"
)

func testProvider(t *testing.T) *Provider {
	t.Helper()
	provider, errNew := NewProvider(bytes.Repeat([]byte{0x42}, 32))
	if errNew != nil {
		t.Fatalf("new provider: %v", errNew)
	}
	return provider
}

func TestNewProvider_RejectsShortKey(t *testing.T) {
	if _, errNew := NewProvider([]byte("too short")); errNew == nil {
		t.Fatalf("expected error for short master key")
	}
}

func TestSealOpen_Roundtrip(t *testing.T) {
	provider := testProvider(t)
	plaintext := []byte("fingerprint embedding bytes")

	sealed, errSeal := provider.Seal("clinic-a", plaintext)
	if errSeal != nil {
		t.Fatalf("seal: %v", errSeal)
	}
	if bytes.Contains(sealed, plaintext) {
		t.Fatalf("sealed blob leaks plaintext")
	}

	opened, errOpen := provider.Open("clinic-a", sealed)
	if errOpen != nil {
		t.Fatalf("open: %v", errOpen)
	}
	if !bytes.Equal(opened, plaintext) {
		t.Fatalf("roundtrip mismatch: got %q", opened)
	}
}

func TestSealOpen_TenantIsolation(t *testing.T) {
	provider := testProvider(t)

	sealed, errSeal := provider.Seal("clinic-a", []byte("template"))
	if errSeal != nil {
		t.Fatalf("seal: %v", errSeal)
	}
	if _, errOpen := provider.Open("clinic-b", sealed); errOpen == nil {
		t.Fatalf("expected open to fail under another tenant's key")
	}
}

func TestOpen_RejectsTamper(t *testing.T) {
	provider := testProvider(t)

	sealed, errSeal := provider.Seal("clinic-a", []byte("template"))
	if errSeal != nil {
		t.Fatalf("seal: %v", errSeal)
	}
	sealed[len(sealed)-1] ^= 0xff
	if _, errOpen := provider.Open("clinic-a", sealed); errOpen == nil {
		t.Fatalf("expected open to fail on tampered ciphertext")
	}
}

func TestOpen_RejectsShortBlob(t *testing.T) {
	provider := testProvider(t)
	if _, errOpen := provider.Open("clinic-a", []byte{0x01, 0x02}); errOpen == nil {
		t.Fatalf("expected open to fail on truncated blob")
	}
}

func TestNewChallenge_MinimumSize(t *testing.T) {
	challenge, errNew := NewChallenge(8)
	if errNew != nil {
		t.Fatalf("new challenge: %v", errNew)
	}
	if len(challenge) != ChallengeSize {
		t.Fatalf("expected %d bytes, got %d", ChallengeSize, len(challenge))
	}

	other, errOther := NewChallenge(ChallengeSize)
	if errOther != nil {
		t.Fatalf("new challenge: %v", errOther)
	}
	if bytes.Equal(challenge, other) {
		t.Fatalf("two challenges should not collide")
	}
}

func TestVerifySignature_ES256(t *testing.T) {
	key, errKey := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if errKey != nil {
		t.Fatalf("generate key: %v", errKey)
	}
	message := []byte("client data")
	digest := sha256.Sum256(message)
	signature, errSign := ecdsa.SignASN1(rand.Reader, key, digest[:])
	if errSign != nil {
		t.Fatalf("sign: %v", errSign)
	}

	if errVerify := VerifySignature(AlgES256, &key.PublicKey, message, signature); errVerify != nil {
		t.Fatalf("expected valid signature, got %v", errVerify)
	}
	if errVerify := VerifySignature(AlgES256, &key.PublicKey, []byte("other data"), signature); errVerify == nil {
		t.Fatalf("expected verification failure for altered message")
	}
}

func TestVerifySignature_EdDSA(t *testing.T) {
	publicKey, privateKey, errKey := ed25519.GenerateKey(rand.Reader)
	if errKey != nil {
		t.Fatalf("generate key: %v", errKey)
	}
	message := []byte("client data")
	signature := ed25519.Sign(privateKey, message)

	if errVerify := VerifySignature(AlgEdDSA, publicKey, message, signature); errVerify != nil {
		t.Fatalf("expected valid signature, got %v", errVerify)
	}
	if errVerify := VerifySignature(AlgEdDSA, publicKey, []byte("other data"), signature); errVerify == nil {
		t.Fatalf("expected verification failure for altered message")
	}
}

func TestVerifySignature_WrongKeyType(t *testing.T) {
	if errVerify := VerifySignature(AlgES256, "not a key", []byte("m"), []byte("s")); errVerify == nil {
		t.Fatalf("expected error for wrong key type")
	}
	if errVerify := VerifySignature(Algorithm("HS256"), nil, []byte("m"), []byte("s")); errVerify == nil {
		t.Fatalf("expected error for unsupported algorithm")
	}
}
