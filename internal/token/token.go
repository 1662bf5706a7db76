// Package token issues and verifies the signed credentials used by the
// platform: user tokens presented at WebSocket connect, and short-lived
// agent tokens handed to spawned processes. The two share a signing
// secret but carry a type discriminator so an agent token can never
// pass as a login credential.
package token

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	issuerName = "deckd"

	// Type discriminators, checked on every verification.
	TypeUser  = "user"
	TypeAgent = "agent"

	secretKey = "jwt_secret"
)

// Claims are the JWT claims for both token types. Subject carries the
// user id; SessionID and ProjectID are set on agent tokens only.
type Claims struct {
	jwt.RegisteredClaims
	TokenType string `json:"tok"`
	SessionID string `json:"sid,omitempty"`
	ProjectID string `json:"pid,omitempty"`
}

// ConfigStore persists the signing secret across restarts.
type ConfigStore interface {
	GetConfig(key string) (string, error)
	SetConfig(key, value string) error
}

// LoadOrGenerateSecret returns the signing secret. Priority: envSecret
// (base64, from config or DECK_JWT_SECRET) > store > freshly generated.
func LoadOrGenerateSecret(store ConfigStore, envSecret string) ([]byte, error) {
	if envSecret != "" {
		return base64.StdEncoding.DecodeString(envSecret)
	}

	val, err := store.GetConfig(secretKey)
	if err != nil {
		return nil, err
	}
	if val != "" {
		return base64.StdEncoding.DecodeString(val)
	}

	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate jwt secret: %w", err)
	}
	if err := store.SetConfig(secretKey, base64.StdEncoding.EncodeToString(secret)); err != nil {
		return nil, err
	}
	return secret, nil
}

// Issuer signs and verifies platform tokens with a shared HMAC secret.
type Issuer struct {
	secret []byte
}

func NewIssuer(secret []byte) *Issuer {
	return &Issuer{secret: secret}
}

// IssueAgent mints a scoped token for a spawned agent process. The
// token grants access to the capability proxy only, never to raw
// upstream secrets.
func (i *Issuer) IssueAgent(sessionID, projectID, userID string, ttl time.Duration) (string, error) {
	return i.sign(Claims{
		RegisteredClaims: i.registered(userID, ttl),
		TokenType:        TypeAgent,
		SessionID:        sessionID,
		ProjectID:        projectID,
	})
}

// IssueUser mints a login credential for the transport gateway.
func (i *Issuer) IssueUser(userID string, ttl time.Duration) (string, error) {
	return i.sign(Claims{
		RegisteredClaims: i.registered(userID, ttl),
		TokenType:        TypeUser,
	})
}

// Verify checks signature, expiry, issuer, and the type discriminator.
func (i *Issuer) Verify(tokenString, wantType string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.secret, nil
	}, jwt.WithIssuer(issuerName))
	if err != nil {
		return nil, fmt.Errorf("parse jwt: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid jwt claims")
	}
	if claims.TokenType != wantType {
		return nil, fmt.Errorf("token type %q, want %q", claims.TokenType, wantType)
	}
	return claims, nil
}

func (i *Issuer) registered(userID string, ttl time.Duration) jwt.RegisteredClaims {
	now := time.Now()
	return jwt.RegisteredClaims{
		Issuer:    issuerName,
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
}

func (i *Issuer) sign(claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign jwt: %w", err)
	}
	return signed, nil
}
