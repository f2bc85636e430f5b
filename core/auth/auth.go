package auth

import (
	"crypto/rsa"
	"errors"
	"strings"
)

var ErrNoToken = errors.New("missing bearer token")

// Identity is what a verified player token vouches for.
type Identity struct {
	PlayerID string
	Name     string
}

// TokenAuth verifies RS256 player tokens issued by the player service.
type TokenAuth struct {
	PK *rsa.PublicKey
}

func NewTokenAuthFromFile(fname string) (*TokenAuth, error) {
	pk, err := LoadPublicKeyFile(fname)
	if err != nil {
		return nil, err
	}
	return &TokenAuth{PK: pk}, nil
}

func (a *TokenAuth) Verify(token string) (*Identity, error) {
	return VerifyToken(a.PK, token)
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	const prefix = "bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", ErrNoToken
	}
	return strings.TrimSpace(header[len(prefix):]), nil
}
