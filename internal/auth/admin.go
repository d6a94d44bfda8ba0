// Package auth guards the operator endpoints with a single bcrypt-hashed bearer token.
package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrMissingToken indicates the request carried no bearer token.
	ErrMissingToken = errors.New("missing admin token")
	// ErrInvalidToken indicates the bearer token did not match the configured hash.
	ErrInvalidToken = errors.New("invalid admin token")
	// ErrNotConfigured indicates no admin token hash is configured, so every request is refused.
	ErrNotConfigured = errors.New("admin token not configured")
)

// AdminVerifier checks bearer tokens against a bcrypt hash.
type AdminVerifier struct {
	hash []byte
}

// NewAdminVerifier returns a verifier for the given bcrypt hash. An empty hash yields a
// verifier that refuses everything.
func NewAdminVerifier(hash string) (*AdminVerifier, error) {
	hash = strings.TrimSpace(hash)
	if hash == "" {
		return &AdminVerifier{}, nil
	}
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return nil, err
	}
	return &AdminVerifier{hash: []byte(hash)}, nil
}

// Verify compares token with the configured hash.
func (v *AdminVerifier) Verify(token string) error {
	if v == nil || len(v.hash) == 0 {
		return ErrNotConfigured
	}
	if token == "" {
		return ErrMissingToken
	}
	if err := bcrypt.CompareHashAndPassword(v.hash, []byte(token)); err != nil {
		return ErrInvalidToken
	}
	return nil
}

// VerifyRequest reads the Authorization: Bearer header of r and verifies it.
func (v *AdminVerifier) VerifyRequest(r *http.Request) error {
	return v.Verify(BearerToken(r))
}

// BearerToken extracts the token from an Authorization: Bearer header.
func BearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// GenerateToken returns a new random admin token and its bcrypt hash.
func GenerateToken() (token, hash string, err error) {
	token, err = randomToken()
	if err != nil {
		return "", "", err
	}
	hash, err = HashToken(token)
	if err != nil {
		return "", "", err
	}
	return token, hash, nil
}

// HashToken hashes token for use as the configured admin token hash.
func HashToken(token string) (string, error) {
	if token == "" {
		return "", ErrMissingToken
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

func randomToken() (string, error) {
	const size = 32
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
