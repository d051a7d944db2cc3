package pki

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	passwordLength   = 32
	passwordAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

// PasswordGenerator produces the SCRAM passwords behind scram-sha-512
// access.
type PasswordGenerator struct {
	length   int
	alphabet string
}

// NewPasswordGenerator returns a generator of 32-character alphanumeric
// passwords.
func NewPasswordGenerator() *PasswordGenerator {
	return &PasswordGenerator{length: passwordLength, alphabet: passwordAlphabet}
}

// Generate draws a fresh password from crypto/rand.
func (g *PasswordGenerator) Generate() (string, error) {
	out := make([]byte, g.length)
	max := big.NewInt(int64(len(g.alphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate password: %w", err)
		}
		out[i] = g.alphabet[n.Int64()]
	}
	return string(out), nil
}
