package rest

import (
	"crypto/rsa"
	"encoding/pem"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"
)

// ParseRSAPublicKeyFile loads a PEM-encoded RSA public key from path, for
// verifying the RS256 tokens JWTMiddleware requires.
func ParseRSAPublicKeyFile(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read public key %q: %w", path, err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in %q", path)
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("parse RSA public key %q: %w", path, err)
	}
	return key, nil
}
