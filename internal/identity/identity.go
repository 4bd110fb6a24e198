// Package identity implements the identity-provider boundary: verifying a
// bearer credential and yielding a stable user id and username. Everything
// else about accounts (registration, CRUD, password hashing) lives outside
// this module; Provider only ever reads a credential forward.
package identity

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrAuthFailed is the sole error Verify returns.
var ErrAuthFailed = errors.New("auth-failed")

// Identity is the stable principal a verified credential resolves to.
type Identity struct {
	UserID   string
	Username string
}

// Provider verifies a bearer credential. The gateway calls it once per
// connection handshake.
type Provider interface {
	Verify(token string) (Identity, error)
}

// claims is the expected JWT payload shape: subject is the user id, with
// username carried as a custom claim so the Gateway never needs a
// round-trip to the out-of-scope user-CRUD surface just to label a socket.
type claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// JWTProvider verifies HS256-signed bearer tokens issued by the external
// identity surface, sharing its HMAC secret.
type JWTProvider struct {
	secret []byte
}

// NewJWTProvider constructs a Provider around a shared HMAC secret.
func NewJWTProvider(secret string) *JWTProvider {
	return &JWTProvider{secret: []byte(secret)}
}

// Verify parses and validates token, enforcing HS256 and expiry.
func (p *JWTProvider) Verify(token string) (Identity, error) {
	parsed, err := jwt.ParseWithClaims(token, &claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrAuthFailed
		}
		return p.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Identity{}, ErrAuthFailed
	}
	c, ok := parsed.Claims.(*claims)
	if !ok || c.Subject == "" {
		return Identity{}, ErrAuthFailed
	}
	return Identity{UserID: c.Subject, Username: c.Username}, nil
}

// Issue mints a token for tests and the console client (cmd/client), which
// has no separate auth surface to call in this module.
func (p *JWTProvider) Issue(userID, username string, ttl time.Duration) (string, error) {
	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return tok.SignedString(p.secret)
}

// StaticProvider resolves every token via a fixed lookup table, used by
// tests that want deterministic identities without signing real JWTs.
type StaticProvider map[string]Identity

func (p StaticProvider) Verify(token string) (Identity, error) {
	id, ok := p[token]
	if !ok {
		return Identity{}, ErrAuthFailed
	}
	return id, nil
}
