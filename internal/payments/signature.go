package payments

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

// ErrInvalidSignature is returned when a webhook or client confirmation fails HMAC verification.
var ErrInvalidSignature = errors.New("payments: invalid signature")

// Signer computes and checks hex encoded HMAC-SHA256 signatures with a shared secret.
type Signer struct {
	secret []byte
}

// NewSigner constructs a signer. An empty secret is rejected so that a misconfigured deployment
// cannot accept unsigned payloads.
func NewSigner(secret string) (*Signer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("payments: signing secret is required")
	}
	return &Signer{secret: []byte(secret)}, nil
}

// Sign returns the lowercase hex HMAC of payload.
func (s *Signer) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify compares the supplied signature with the expected one in constant time. A "sha256="
// prefix is accepted.
func (s *Signer) Verify(payload []byte, signature string) error {
	if s == nil || len(s.secret) == 0 {
		return ErrInvalidSignature
	}
	signature = strings.TrimSpace(signature)
	signature = strings.TrimPrefix(signature, "sha256=")
	provided, err := hex.DecodeString(strings.ToLower(signature))
	if err != nil || len(provided) != sha256.Size {
		return ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(payload)
	if !hmac.Equal(mac.Sum(nil), provided) {
		return ErrInvalidSignature
	}
	return nil
}

// ConfirmationPayload is the message signed by the gateway for client-side confirmations.
func ConfirmationPayload(providerOrderID, providerPaymentID string) []byte {
	return []byte(strings.TrimSpace(providerOrderID) + "|" + strings.TrimSpace(providerPaymentID))
}
