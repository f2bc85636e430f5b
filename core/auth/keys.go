package auth

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"os"
)

func LoadPublicKeyFile(fname string) (*rsa.PublicKey, error) {
	raw, err := os.ReadFile(fname)
	if err != nil {
		return nil, err
	}
	return ParsePublicKeyPem(raw)
}

// ParsePublicKeyPem accepts PKIX ("PUBLIC KEY") and PKCS1 ("RSA PUBLIC KEY") blocks.
func ParsePublicKeyPem(raw []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, errors.New("failed to parse PEM block containing the key")
	}

	if pub, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		if rsapub, ok := pub.(*rsa.PublicKey); ok {
			return rsapub, nil
		}
		return nil, errors.New("key type is not RSA")
	}
	return x509.ParsePKCS1PublicKey(block.Bytes)
}

func EncodePublicKeyPem(pk *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pk)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}
