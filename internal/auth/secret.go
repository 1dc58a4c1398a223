package auth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Secrets generates invite secrets and keeps only their bcrypt hashes.
type Secrets struct {
	cost int
}

// NewSecrets returns a generator hashing with the given bcrypt cost.
// Out-of-range costs fall back to bcrypt.DefaultCost.
func NewSecrets(cost int) *Secrets {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &Secrets{cost: cost}
}

// Generate creates a random URL-safe secret. Returns the raw secret (to put
// in the invite link) and its hash (to store).
func (s *Secrets) Generate() (raw string, hash string, err error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("generate random bytes: %w", err)
	}
	raw = base64.RawURLEncoding.EncodeToString(b)

	h, err := bcrypt.GenerateFromPassword([]byte(raw), s.cost)
	if err != nil {
		return "", "", fmt.Errorf("hash secret: %w", err)
	}
	return raw, string(h), nil
}

// Verify reports whether raw matches the stored hash.
func (s *Secrets) Verify(hash, raw string) bool {
	if hash == "" || raw == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(raw)) == nil
}
