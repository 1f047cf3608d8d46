package agent

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"
)

func testKeypair(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generating keypair: %v", err)
	}
	return pub, priv
}

func TestTokenRoundTrip(t *testing.T) {
	pub, priv := testKeypair(t)

	raw, err := MintToken(priv, &Token{
		Subject:  "alice",
		Audience: TokenAudience,
		IssuedAt: time.Now().Unix(),
	})
	if err != nil {
		t.Fatalf("MintToken: %v", err)
	}

	token, err := VerifyToken(pub, raw)
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if token.Subject != "alice" {
		t.Errorf("subject = %q, want alice", token.Subject)
	}
	if token.ID == "" {
		t.Error("expected an auto-generated token id")
	}
}

func TestTokenTamperRejected(t *testing.T) {
	pub, priv := testKeypair(t)

	raw, err := MintToken(priv, &Token{Subject: "alice", Audience: TokenAudience})
	if err != nil {
		t.Fatalf("MintToken: %v", err)
	}

	// Flip one payload byte; the signature no longer covers it.
	raw[0] ^= 0x01
	if _, err := VerifyToken(pub, raw); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("tampered payload: err = %v, want ErrInvalidSignature", err)
	}
	raw[0] ^= 0x01

	// Flip one signature byte.
	raw[len(raw)-1] ^= 0x01
	if _, err := VerifyToken(pub, raw); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("tampered signature: err = %v, want ErrInvalidSignature", err)
	}
}

func TestTokenWrongKeyRejected(t *testing.T) {
	_, priv := testKeypair(t)
	otherPub, _ := testKeypair(t)

	raw, err := MintToken(priv, &Token{Subject: "alice", Audience: TokenAudience})
	if err != nil {
		t.Fatalf("MintToken: %v", err)
	}
	if _, err := VerifyToken(otherPub, raw); !errors.Is(err, ErrInvalidSignature) {
		t.Errorf("err = %v, want ErrInvalidSignature", err)
	}
}

func TestTokenTooShort(t *testing.T) {
	pub, _ := testKeypair(t)
	if _, err := VerifyToken(pub, make([]byte, signatureSize)); !errors.Is(err, ErrTokenTooShort) {
		t.Errorf("err = %v, want ErrTokenTooShort", err)
	}
	if _, err := VerifyToken(pub, nil); !errors.Is(err, ErrTokenTooShort) {
		t.Errorf("nil token: err = %v, want ErrTokenTooShort", err)
	}
}

func TestTokenExpiry(t *testing.T) {
	pub, priv := testKeypair(t)
	issued := time.Now()

	raw, err := MintToken(priv, &Token{
		Subject:   "alice",
		Audience:  TokenAudience,
		IssuedAt:  issued.Unix(),
		ExpiresAt: issued.Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("MintToken: %v", err)
	}

	if _, err := VerifyTokenAt(pub, raw, issued.Add(30*time.Minute)); err != nil {
		t.Errorf("before expiry: %v", err)
	}
	if _, err := VerifyTokenAt(pub, raw, issued.Add(2*time.Hour)); !errors.Is(err, ErrTokenExpired) {
		t.Errorf("after expiry: err = %v, want ErrTokenExpired", err)
	}
}

func TestTokenNoExpiryNeverExpires(t *testing.T) {
	pub, priv := testKeypair(t)

	raw, err := MintToken(priv, &Token{Subject: "alice", Audience: TokenAudience})
	if err != nil {
		t.Fatalf("MintToken: %v", err)
	}
	far := time.Now().Add(10 * 365 * 24 * time.Hour)
	if _, err := VerifyTokenAt(pub, raw, far); err != nil {
		t.Errorf("zero ExpiresAt must not expire: %v", err)
	}
}

func TestTokenAudienceMismatch(t *testing.T) {
	pub, priv := testKeypair(t)

	raw, err := MintToken(priv, &Token{Subject: "alice", Audience: "some-other-service"})
	if err != nil {
		t.Fatalf("MintToken: %v", err)
	}
	if _, err := VerifyToken(pub, raw); !errors.Is(err, ErrAudienceMismatch) {
		t.Errorf("err = %v, want ErrAudienceMismatch", err)
	}
}
