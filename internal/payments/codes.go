package payments

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
)

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

const (
	// PickupCodeLength is the length of return pickup codes handed to the pickup agent.
	PickupCodeLength = 8
	// VerificationCodeLength is the length of cash-on-delivery verification codes.
	VerificationCodeLength = 6
	// TransferReferenceLength excludes the "TH" prefix.
	TransferReferenceLength = 10
	transferReferencePrefix = "TH"
)

// CodeGenerator draws uppercase alphanumeric codes from a cryptographic source.
type CodeGenerator struct {
	source io.Reader
}

// NewCodeGenerator returns a generator backed by crypto/rand.
func NewCodeGenerator() *CodeGenerator {
	return &CodeGenerator{source: rand.Reader}
}

// NewCodeGeneratorFrom uses the supplied entropy source. Tests use it to force collisions.
func NewCodeGeneratorFrom(source io.Reader) *CodeGenerator {
	if source == nil {
		source = rand.Reader
	}
	return &CodeGenerator{source: source}
}

// Generate returns a code of the requested length drawn uniformly from A-Z0-9.
func (g *CodeGenerator) Generate(length int) (string, error) {
	if length <= 0 {
		return "", errors.New("payments: code length must be positive")
	}
	source := rand.Reader
	if g != nil && g.source != nil {
		source = g.source
	}
	limit := big.NewInt(int64(len(codeAlphabet)))
	out := make([]byte, length)
	for i := range out {
		n, err := rand.Int(source, limit)
		if err != nil {
			return "", fmt.Errorf("payments: read entropy: %w", err)
		}
		out[i] = codeAlphabet[n.Int64()]
	}
	return string(out), nil
}

// PickupCode returns a fresh return pickup code.
func (g *CodeGenerator) PickupCode() (string, error) {
	return g.Generate(PickupCodeLength)
}

// VerificationCode returns a fresh cash-on-delivery code.
func (g *CodeGenerator) VerificationCode() (string, error) {
	return g.Generate(VerificationCodeLength)
}

// TransferReference returns the reference customers quote on bank or UPI transfers.
func (g *CodeGenerator) TransferReference() (string, error) {
	code, err := g.Generate(TransferReferenceLength)
	if err != nil {
		return "", err
	}
	return transferReferencePrefix + code, nil
}
