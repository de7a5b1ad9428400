// Package auth issues and verifies the signed session tokens and keeps the
// revocation list for logged-out tokens.
package auth

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	ErrTokenExpired = errors.New("token expired")
	ErrInvalidToken = errors.New("invalid token")
)

type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// JWTManager signs with HS256 (shared secret) or RS256 (PEM key pair).
type JWTManager struct {
	method    jwt.SigningMethod
	signKey   interface{}
	verifyKey interface{}
	ttl       time.Duration
}

func NewHS256Manager(secret string, ttl time.Duration) (*JWTManager, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is empty")
	}
	key := []byte(secret)
	return &JWTManager{method: jwt.SigningMethodHS256, signKey: key, verifyKey: key, ttl: ttl}, nil
}

func NewRS256Manager(privPath, pubPath string, ttl time.Duration) (*JWTManager, error) {
	priv, err := LoadRSAPrivateKey(privPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load private key: %w", err)
	}
	pub, err := LoadRSAPublicKey(pubPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load public key: %w", err)
	}
	return &JWTManager{method: jwt.SigningMethodRS256, signKey: priv, verifyKey: pub, ttl: ttl}, nil
}

// NewManager picks the constructor for alg ("HS256" or "RS256").
func NewManager(alg, secret, privPath, pubPath string, ttl time.Duration) (*JWTManager, error) {
	switch strings.ToUpper(alg) {
	case "HS256":
		return NewHS256Manager(secret, ttl)
	case "RS256":
		return NewRS256Manager(privPath, pubPath, ttl)
	}
	return nil, fmt.Errorf("unsupported jwt alg %q", alg)
}

// LoadRSAPrivateKey reads a PKCS#8 or PKCS#1 PEM private key.
func LoadRSAPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("invalid PEM private key")
	}
	switch block.Type {
	case "PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("not an RSA private key")
		}
		return rsaKey, nil
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	}
	return nil, errors.New("invalid PEM private key")
}

// LoadRSAPublicKey reads a PKIX or PKCS#1 PEM public key.
func LoadRSAPublicKey(path string) (*rsa.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("invalid PEM public key")
	}
	switch block.Type {
	case "PUBLIC KEY":
		pub, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		rsaPub, ok := pub.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("not an RSA public key")
		}
		return rsaPub, nil
	case "RSA PUBLIC KEY":
		return x509.ParsePKCS1PublicKey(block.Bytes)
	}
	return nil, errors.New("invalid PEM public key")
}

// Generate returns a signed token for userID and its claims.
func (j *JWTManager) Generate(userID string) (string, *Claims, error) {
	now := time.Now()
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(j.method, claims).SignedString(j.signKey)
	if err != nil {
		return "", nil, err
	}
	return signed, claims, nil
}

func (j *JWTManager) Verify(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != j.method.Alg() {
			return nil, ErrInvalidToken
		}
		return j.verifyKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
