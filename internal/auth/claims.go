package auth

import (
	"context"
	"encoding/json"
	"slices"

	"github.com/golang-jwt/jwt/v5"
)

// Access lists the roles granted within a realm or a client.
type Access struct {
	Roles []string `json:"roles"`
}

// Claims is the payload of a Keycloak access token.
type Claims struct {
	jwt.RegisteredClaims
	PreferredUsername string            `json:"preferred_username,omitempty"`
	Email             string            `json:"email,omitempty"`
	Name              string            `json:"name,omitempty"`
	RealmAccess       *Access           `json:"realm_access,omitempty"`
	ResourceAccess    map[string]Access `json:"resource_access,omitempty"`

	// Custom claims read by policy checks.
	AllowedResources []string       `json:"allowedResources,omitempty"`
	AllowedActions   []string       `json:"allowedActions,omitempty"`
	Attributes       map[string]any `json:"attributes,omitempty"`

	// Raw holds every claim of the token, including unmapped ones.
	Raw map[string]any `json:"-"`
	// AccessToken is the token the claims were read from.
	AccessToken string `json:"-"`
}

func (c *Claims) UnmarshalJSON(data []byte) error {
	type plain Claims
	if err := json.Unmarshal(data, (*plain)(c)); err != nil {
		return err
	}
	return json.Unmarshal(data, &c.Raw)
}

// MarshalJSON renders the full token payload.
func (c Claims) MarshalJSON() ([]byte, error) {
	if c.Raw != nil {
		return json.Marshal(c.Raw)
	}
	type plain Claims
	return json.Marshal(plain(c))
}

// Username prefers preferred_username and falls back to the subject.
func (c *Claims) Username() string {
	if c.PreferredUsername != "" {
		return c.PreferredUsername
	}
	return c.Subject
}

func (c *Claims) HasRealmRole(role string) bool {
	return c.RealmAccess != nil && slices.Contains(c.RealmAccess.Roles, role)
}

// ClientRoles returns the roles granted by clientID and whether the client is present.
func (c *Claims) ClientRoles(clientID string) ([]string, bool) {
	access, ok := c.ResourceAccess[clientID]
	return access.Roles, ok
}

type contextKey string

const claimsContextKey contextKey = "auth_claims"

// WithClaims stores claims in ctx.
func WithClaims(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, claimsContextKey, claims)
}

// ClaimsFromContext returns the claims of the authenticated caller, or nil.
func ClaimsFromContext(ctx context.Context) *Claims {
	claims, _ := ctx.Value(claimsContextKey).(*Claims)
	return claims
}
