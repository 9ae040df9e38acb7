// Package auth verifies bearer tokens for the HTTP surface.
//
// Serve mode accepts JWTs signed with either HS256 (shared secret) or RS256
// (public key PEM). The role claim decides what the caller may do: viewer
// grants read access, operator includes viewer and is reserved for mutating
// operations. With no key material configured, authentication is disabled
// for local use.
package auth

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"
)

// Roles carried in the "role" claim.
const (
	RoleViewer   = "viewer"
	RoleOperator = "operator"
)

// ErrInvalidToken covers every verification failure so callers cannot leak
// why a token was rejected.
var ErrInvalidToken = errors.New("auth: invalid token")

// Claims are the verified token claims.
type Claims struct {
	Subject string
	Role    string
}

// Allows reports whether the claims satisfy the required role. Operator
// includes viewer.
func (c *Claims) Allows(required string) bool {
	if c == nil {
		return false
	}
	if c.Role == required {
		return true
	}
	return c.Role == RoleOperator && required == RoleViewer
}

// Config holds verifier key material.
type Config struct {
	Algorithm        string // "HS256" or "RS256"
	SecretKey        string // HS256
	PublicKeyPEMFile string // RS256
}

// Verifier validates JWTs with a fixed algorithm.
type Verifier struct {
	algorithm string
	secret    []byte
	publicKey *rsa.PublicKey
}

// NewVerifier builds a verifier from the configured algorithm and key
// material.
func NewVerifier(cfg Config) (*Verifier, error) {
	v := &Verifier{algorithm: cfg.Algorithm}

	switch cfg.Algorithm {
	case "HS256":
		if cfg.SecretKey == "" {
			return nil, errors.New("auth: HS256 requires a secret key")
		}
		v.secret = []byte(cfg.SecretKey)
	case "RS256":
		key, err := loadPublicKeyPEM(cfg.PublicKeyPEMFile)
		if err != nil {
			return nil, err
		}
		v.publicKey = key
	default:
		return nil, fmt.Errorf("auth: unsupported algorithm %q", cfg.Algorithm)
	}
	return v, nil
}

// VerifyToken checks the token signature and extracts the claims.
func (v *Verifier) VerifyToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &jwt.MapClaims{},
		func(token *jwt.Token) (any, error) {
			if token.Method.Alg() != v.algorithm {
				return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
			}
			if v.algorithm == "HS256" {
				return v.secret, nil
			}
			return v.publicKey, nil
		})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	mapClaims, ok := token.Claims.(*jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}
	return extractClaims(*mapClaims)
}

func extractClaims(claims jwt.MapClaims) (*Claims, error) {
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return nil, ErrInvalidToken
	}
	role, ok := claims["role"].(string)
	if !ok {
		return nil, ErrInvalidToken
	}
	if role != RoleViewer && role != RoleOperator {
		return nil, ErrInvalidToken
	}
	return &Claims{Subject: sub, Role: role}, nil
}

func loadPublicKeyPEM(path string) (*rsa.PublicKey, error) {
	if path == "" {
		return nil, errors.New("auth: RS256 requires a public key PEM file")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("auth: read public key: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("auth: no PEM block in public key file")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("auth: parse public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("auth: public key is not RSA")
	}
	return rsaPub, nil
}
