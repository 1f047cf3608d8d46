package agent

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/hferrone/chargectl/internal/codec"
)

// TokenAudience scopes tokens to this agent. A token minted for any
// other service is rejected even if the signature verifies.
const TokenAudience = "chargectl-agent"

// signatureSize is the fixed size of an Ed25519 signature.
const signatureSize = ed25519.SignatureSize

// Token is the CBOR-encoded payload of a client auth token. The wire
// format is the payload bytes followed directly by the 64-byte Ed25519
// signature over them; the split point is always len-64, with no
// header or length prefix.
type Token struct {
	// Subject identifies the holder, for audit logging only.
	Subject string `cbor:"1,keyasint"`
	// Audience is the service the token is scoped to.
	Audience string `cbor:"2,keyasint"`
	// ID is a unique token identifier (hex string).
	ID string `cbor:"3,keyasint"`
	// IssuedAt and ExpiresAt are Unix timestamps in seconds.
	IssuedAt  int64 `cbor:"4,keyasint"`
	ExpiresAt int64 `cbor:"5,keyasint"`
}

var (
	ErrTokenTooShort    = errors.New("agent: token too short for signature")
	ErrInvalidSignature = errors.New("agent: invalid token signature")
	ErrTokenExpired     = errors.New("agent: token has expired")
	ErrAudienceMismatch = errors.New("agent: token audience does not match")
)

// MintToken signs a token with the agent's private key and returns the
// raw wire bytes.
func MintToken(privateKey ed25519.PrivateKey, token *Token) ([]byte, error) {
	if token.ID == "" {
		id := make([]byte, 16)
		if _, err := rand.Read(id); err != nil {
			return nil, fmt.Errorf("agent: generating token id: %w", err)
		}
		token.ID = hex.EncodeToString(id)
	}
	payload, err := codec.Marshal(token)
	if err != nil {
		return nil, fmt.Errorf("agent: encoding token payload: %w", err)
	}
	signature := ed25519.Sign(privateKey, payload)

	raw := make([]byte, len(payload)+signatureSize)
	copy(raw, payload)
	copy(raw[len(payload):], signature)
	return raw, nil
}

// VerifyToken checks the signature, decodes the payload, and enforces
// expiry and audience.
func VerifyToken(publicKey ed25519.PublicKey, raw []byte) (*Token, error) {
	return VerifyTokenAt(publicKey, raw, time.Now())
}

// VerifyTokenAt is VerifyToken with an explicit clock, for
// deterministic tests.
func VerifyTokenAt(publicKey ed25519.PublicKey, raw []byte, now time.Time) (*Token, error) {
	if len(raw) <= signatureSize {
		return nil, ErrTokenTooShort
	}
	split := len(raw) - signatureSize
	payload, signature := raw[:split], raw[split:]

	if !ed25519.Verify(publicKey, payload, signature) {
		return nil, ErrInvalidSignature
	}

	var token Token
	if err := codec.Unmarshal(payload, &token); err != nil {
		return nil, fmt.Errorf("agent: decoding token payload: %w", err)
	}
	if token.Audience != TokenAudience {
		return nil, ErrAudienceMismatch
	}
	if token.ExpiresAt > 0 && now.Unix() >= token.ExpiresAt {
		return nil, ErrTokenExpired
	}
	return &token, nil
}
