package auth

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// DefaultCost is the bcrypt cost used when none is configured.
const DefaultCost = bcrypt.DefaultCost

// Credential is a registered user. The password is never stored, only the
// bcrypt hash of its Digest.
type Credential struct {
	Username     string    `json:"username"`
	PasswordHash string    `json:"password_hash"`
	Note         string    `json:"note"`
	Timestamp    time.Time `json:"timestamp"`
}

// Digest pre-hashes a password to base64(sha256(password)). bcrypt only
// looks at the first 72 bytes of its input, the digest is always 44.
func Digest(password string) string {
	sum := sha256.Sum256([]byte(password))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// HashPassword returns the bcrypt hash of the password's Digest. A cost
// of zero selects DefaultCost.
func HashPassword(password string, cost int) (string, error) {
	if cost == 0 {
		cost = DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(Digest(password)), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyDigest reports whether digest matches the stored hash.
func VerifyDigest(hash, digest string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(digest))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, err
	}
}
