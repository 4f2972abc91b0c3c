package auth

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/RezaEskandarii/keyfire/internal/logging"
	"github.com/RezaEskandarii/keyfire/types/config"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// TokenSet is what sign-in and refresh return to clients.
type TokenSet struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	ExpiresIn    int64  `json:"expiresIn,omitempty"`
	IDToken      string `json:"-"`
}

// Keycloak talks to the OpenID Connect endpoints of one realm.
type Keycloak struct {
	issuer     string
	clientID   string
	secret     string
	oauth      *oauth2.Config
	httpClient *http.Client
	logger     *zap.SugaredLogger
	now        func() time.Time
}

func NewKeycloak(cfg config.KeycloakConfig, httpClient *http.Client, logger *zap.SugaredLogger) *Keycloak {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	issuer := cfg.Issuer()
	return &Keycloak{
		issuer:   issuer,
		clientID: cfg.ClientID,
		secret:   cfg.ClientSecret,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       []string{"openid", "profile"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   issuer + "/protocol/openid-connect/auth",
				TokenURL:  issuer + "/protocol/openid-connect/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: httpClient,
		logger:     logging.OrNop(logger),
		now:        time.Now,
	}
}

func (k *Keycloak) Issuer() string {
	return k.issuer
}

func (k *Keycloak) CertsURL() string {
	return k.endpoint("certs")
}

func (k *Keycloak) HTTPClient() *http.Client {
	return k.httpClient
}

// Login exchanges user credentials for tokens with the password grant.
func (k *Keycloak) Login(ctx context.Context, username, password string) (*TokenSet, error) {
	if username == "" || password == "" {
		return nil, Unauthorized(MsgInvalidCredentials, errors.New("missing username or password"))
	}
	tok, err := k.oauth.PasswordCredentialsToken(k.clientContext(ctx), username, password)
	if err != nil {
		k.logger.Warnw("login failed", "username", username, "error", err)
		return nil, Unauthorized(MsgInvalidCredentials, err)
	}
	return k.tokenSet(tok), nil
}

// Refresh trades a refresh token for a new token pair.
func (k *Keycloak) Refresh(ctx context.Context, refreshToken string) (*TokenSet, error) {
	if refreshToken == "" {
		return nil, Unauthorized(MsgInvalidRefreshToken, errors.New("missing refresh token"))
	}
	tok, err := k.oauth.TokenSource(k.clientContext(ctx), &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		k.logger.Warnw("token refresh failed", "error", err)
		return nil, Unauthorized(MsgInvalidRefreshToken, err)
	}
	return k.tokenSet(tok), nil
}

// Logout revokes every non-empty token.
func (k *Keycloak) Logout(ctx context.Context, accessToken, refreshToken string) error {
	tokens := []struct{ hint, value string }{
		{"access_token", accessToken},
		{"refresh_token", refreshToken},
	}
	for _, t := range tokens {
		if t.value == "" {
			continue
		}
		if err := k.revoke(ctx, t.value, t.hint); err != nil {
			k.logger.Errorw("logout failed", "token_type", t.hint, "error", err)
			return Unauthorized(MsgLogoutFailed, err)
		}
	}
	return nil
}

// UserInfo returns the userinfo document of the token's owner.
func (k *Keycloak) UserInfo(ctx context.Context, accessToken string) (map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, k.endpoint("userinfo"), nil)
	if err != nil {
		return nil, Unauthorized(MsgUserInfoFailed, err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := k.httpClient.Do(req)
	if err != nil {
		return nil, Unauthorized(MsgUserInfoFailed, errors.Wrap(err, "userinfo request failed"))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, Unauthorized(MsgUserInfoFailed, errors.Newf("userinfo returned %d - %s", resp.StatusCode, string(body)))
	}

	var info map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, Unauthorized(MsgUserInfoFailed, errors.Wrap(err, "failed to parse userinfo"))
	}
	return info, nil
}

// AuthCodeURL starts a browser sign-in with a PKCE challenge for verifier.
func (k *Keycloak) AuthCodeURL(state, verifier string) string {
	return k.oauth.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))
}

// Exchange finishes a browser sign-in.
func (k *Keycloak) Exchange(ctx context.Context, code, verifier string) (*TokenSet, error) {
	tok, err := k.oauth.Exchange(k.clientContext(ctx), code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, Unauthorized(MsgInvalidCredentials, err)
	}
	return k.tokenSet(tok), nil
}

// LogoutURL is the end-session URL returning the browser to redirect.
func (k *Keycloak) LogoutURL(redirect, idTokenHint string) string {
	params := url.Values{
		"client_id":                {k.clientID},
		"post_logout_redirect_uri": {redirect},
	}
	if idTokenHint != "" {
		params.Set("id_token_hint", idTokenHint)
	}
	return k.endpoint("logout") + "?" + params.Encode()
}

func (k *Keycloak) revoke(ctx context.Context, token, hint string) error {
	form := url.Values{
		"token":           {token},
		"token_type_hint": {hint},
		"client_id":       {k.clientID},
	}
	if k.secret != "" {
		form.Set("client_secret", k.secret)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, k.endpoint("revoke"), strings.NewReader(form.Encode()))
	if err != nil {
		return errors.Wrap(err, "failed to create revoke request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := k.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "revoke request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return errors.Newf("revoke returned %d - %s", resp.StatusCode, string(body))
	}
	return nil
}

func (k *Keycloak) tokenSet(tok *oauth2.Token) *TokenSet {
	set := &TokenSet{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
	}
	if !tok.Expiry.IsZero() {
		set.ExpiresIn = int64(tok.Expiry.Sub(k.now()).Round(time.Second).Seconds())
	}
	if idToken, ok := tok.Extra("id_token").(string); ok {
		set.IDToken = idToken
	}
	return set
}

func (k *Keycloak) clientContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, k.httpClient)
}

func (k *Keycloak) endpoint(name string) string {
	return k.issuer + "/protocol/openid-connect/" + name
}
