// Package auth implements the bearer-token boundary consumed by the Hub
// and HTTP layer. The core treats authentication as mostly an external
// collaborator; this package supplies the minimal embedded
// issuer/validator the HTTP surface (signup/login) needs to be runnable
// on its own.
package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tinode/fanout/internal/corerr"
)

// Claims is the JWT payload minted at login/signup.
type Claims struct {
	UserID string `json:"uid"`
	jwt.RegisteredClaims
}

// Config configures the token issuer/validator.
type Config struct {
	// Secret signs and verifies tokens. Must be at least 32 bytes.
	Secret []byte
	// Expiry is how long a freshly minted token remains valid.
	Expiry time.Duration
}

// DefaultExpiry is the token lifetime used when Config.Expiry is unset.
const DefaultExpiry = 24 * time.Hour

// TokenAuth mints and validates bearer tokens. The zero value is not
// usable; construct with New.
type TokenAuth struct {
	cfg Config
}

// New validates cfg and returns a ready TokenAuth.
func New(cfg Config) (*TokenAuth, error) {
	if len(cfg.Secret) < 32 {
		return nil, errors.New("auth: signing secret must be at least 32 bytes")
	}
	if cfg.Expiry <= 0 {
		cfg.Expiry = DefaultExpiry
	}
	return &TokenAuth{cfg: cfg}, nil
}

// Mint issues a bearer token for userID, valid for the configured expiry.
func (a *TokenAuth) Mint(userID string) (token string, expires time.Time, err error) {
	expires = time.Now().Add(a.cfg.Expiry).UTC()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(time.Now().UTC()),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.cfg.Secret)
	if err != nil {
		return "", time.Time{}, corerr.New(corerr.Internal, err)
	}
	return signed, expires, nil
}

// Validator is the narrow interface the Hub and HTTP layer depend on.
// Keeping it narrow is what lets the Dispatcher and Hub stay ignorant of
// how tokens are minted.
type Validator interface {
	Validate(token string) (userID string, expires time.Time, err error)
}

// Validate parses and verifies token, returning the carried user id.
func (a *TokenAuth) Validate(token string) (string, time.Time, error) {
	if token == "" {
		return "", time.Time{}, corerr.New(corerr.Unauthenticated, errors.New("auth: missing token"))
	}

	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("auth: unexpected signing method")
		}
		return a.cfg.Secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", time.Time{}, corerr.New(corerr.Unauthenticated, errors.New("auth: invalid or expired token"))
	}

	expires := claims.ExpiresAt.Time
	if time.Now().After(expires) {
		return "", time.Time{}, corerr.New(corerr.Unauthenticated, errors.New("auth: expired token"))
	}

	return claims.UserID, expires, nil
}

var _ Validator = (*TokenAuth)(nil)
