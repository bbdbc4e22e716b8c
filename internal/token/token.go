// Package token issues and resolves the signed, URL-safe tokens embedded
// in tracking links. A token binds one subject id to one purpose; a token
// minted for unsubscribe links never resolves as a pixel token.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken covers every way a token can fail to resolve: bad
// signature, wrong purpose, malformed payload, or expiry.
var ErrInvalidToken = errors.New("invalid token")

// Purposes used by the tracking links.
const (
	PurposeUnsubscribe = "unsubscribe"
	PurposePixel       = "pixel"
)

// Codec signs subject ids for a single purpose. It is safe for concurrent use.
type Codec struct {
	purpose string
	key     []byte
	ttl     time.Duration
	now     func() time.Time
}

// NewCodec derives a purpose-specific signing key from secret and salt.
// ttl of zero issues tokens that never expire.
func NewCodec(purpose, secret, salt string, ttl time.Duration) (*Codec, error) {
	if secret == "" {
		return nil, errors.New("token: secret is required")
	}
	if purpose == "" || salt == "" {
		return nil, errors.New("token: purpose and salt are required")
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("tinymail.token." + salt))
	return &Codec{
		purpose: purpose,
		key:     mac.Sum(nil),
		ttl:     ttl,
		now:     time.Now,
	}, nil
}

// Issue returns a token for subjectID.
func (c *Codec) Issue(subjectID string) (string, error) {
	if subjectID == "" {
		return "", errors.New("token: empty subject")
	}
	now := c.now()
	claims := jwt.RegisteredClaims{
		Subject:  subjectID,
		Audience: jwt.ClaimStrings{c.purpose},
		IssuedAt: jwt.NewNumericDate(now),
	}
	if c.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(c.ttl))
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.key)
	if err != nil {
		return "", fmt.Errorf("token: sign: %w", err)
	}
	return signed, nil
}

// Resolve returns the subject id carried by tok, or ErrInvalidToken.
func (c *Codec) Resolve(tok string) (string, error) {
	if tok == "" {
		return "", ErrInvalidToken
	}
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(tok, &claims,
		func(*jwt.Token) (interface{}, error) { return c.key, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(c.purpose),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil || !parsed.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
