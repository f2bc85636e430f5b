package auth

import (
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type PlayerClaims struct {
	PlayerID string `json:"pid"`
	Name     string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

func VerifyToken(pk *rsa.PublicKey, tokenRaw string) (*Identity, error) {
	claims := &PlayerClaims{}
	token, err := jwt.ParseWithClaims(tokenRaw, claims, func(t *jwt.Token) (interface{}, error) {
		return pk, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.PlayerID == "" {
		return nil, fmt.Errorf("invalid token")
	}
	return &Identity{PlayerID: claims.PlayerID, Name: claims.Name}, nil
}

func GenerateToken(pk *rsa.PrivateKey, id Identity, validity time.Duration) (string, error) {
	if validity == 0 {
		validity = 24 * time.Hour
	}
	now := time.Now()
	claims := &PlayerClaims{
		PlayerID: id.PlayerID,
		Name:     id.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(validity)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	return token.SignedString(pk)
}
