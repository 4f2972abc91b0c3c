package auth

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/golang-jwt/jwt/v5"
)

// TokenVerifier turns a raw access token into trusted claims.
type TokenVerifier interface {
	Verify(ctx context.Context, rawToken string) (*Claims, error)
}

// KeySource resolves signing keys by kid.
type KeySource interface {
	Key(ctx context.Context, kid string) (any, error)
}

var tokenPrefix = regexp.MustCompile(`(?i)^(bearer|token)\s+`)

// Verifier validates Keycloak access tokens against the realm keys.
type Verifier struct {
	keys     KeySource
	issuer   string
	audience string
	leeway   time.Duration
	now      func() time.Time
}

type VerifierOption func(*Verifier)

// WithAudience requires tokens to carry aud.
func WithAudience(aud string) VerifierOption {
	return func(v *Verifier) {
		v.audience = aud
	}
}

func WithLeeway(d time.Duration) VerifierOption {
	return func(v *Verifier) {
		v.leeway = d
	}
}

func WithVerifierClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) {
		v.now = now
	}
}

func NewVerifier(keys KeySource, issuer string, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		keys:   keys,
		issuer: issuer,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// StripTokenPrefix removes a leading "Bearer " or "Token " in any case.
func StripTokenPrefix(raw string) string {
	return strings.TrimSpace(tokenPrefix.ReplaceAllString(strings.TrimSpace(raw), ""))
}

// Verify checks signature, issuer, expiry and audience, and requires a subject.
func (v *Verifier) Verify(ctx context.Context, rawToken string) (*Claims, error) {
	token := StripTokenPrefix(rawToken)
	if token == "" {
		return nil, Unauthorized(MsgMissingHeader, nil)
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256", "RS384", "RS512", "PS256", "ES256", "ES384", "ES512"}),
		jwt.WithIssuer(v.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
	}
	if v.audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(v.audience))
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		return v.keys.Key(ctx, kid)
	}, parserOpts...)
	if err != nil {
		return nil, Unauthorized(MsgInvalidToken, err)
	}

	if claims.Subject == "" {
		return nil, Unauthorized(MsgInvalidToken, errors.New("token payload missing subject claim"))
	}

	claims.AccessToken = token
	return claims, nil
}
