package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/RezaEskandarii/keyfire/types/config"
	"github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

const (
	testRealm    = "test"
	testClientID = "keyfire"
	testSecret   = "s3cret"
	testKID      = "k1"
)

// fakeKeycloak serves the realm endpoints the client and verifier use.
type fakeKeycloak struct {
	t      *testing.T
	server *httptest.Server
	key    *rsa.PrivateKey

	mu        sync.Mutex
	certsHits int
	revoked   []string
	lastForm  map[string]string
	jwksKeys  []jose.JSONWebKey
}

func newFakeKeycloak(t *testing.T) *fakeKeycloak {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	f := &fakeKeycloak{t: t, key: key}
	f.jwksKeys = []jose.JSONWebKey{{Key: &key.PublicKey, KeyID: testKID, Algorithm: "RS256", Use: "sig"}}

	prefix := "/realms/" + testRealm + "/protocol/openid-connect/"
	mux := http.NewServeMux()
	mux.HandleFunc(prefix+"token", f.handleToken)
	mux.HandleFunc(prefix+"revoke", f.handleRevoke)
	mux.HandleFunc(prefix+"userinfo", f.handleUserInfo)
	mux.HandleFunc(prefix+"certs", f.handleCerts)
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeKeycloak) config() config.KeycloakConfig {
	return config.KeycloakConfig{
		URL:          f.server.URL,
		Realm:        testRealm,
		ClientID:     testClientID,
		ClientSecret: testSecret,
		RedirectURI:  "http://localhost:3000/auth/callback",
	}
}

func (f *fakeKeycloak) issuer() string {
	return f.config().Issuer()
}

func (f *fakeKeycloak) sign(claims jwt.MapClaims) string {
	f.t.Helper()
	return signWith(f.t, f.key, testKID, claims)
}

func signWith(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func (f *fakeKeycloak) userClaims(sub string) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss":                f.issuer(),
		"sub":                sub,
		"exp":                now.Add(5 * time.Minute).Unix(),
		"iat":                now.Unix(),
		"preferred_username": "alice",
		"realm_access":       map[string]any{"roles": []string{"user"}},
	}
}

func (f *fakeKeycloak) writeTokens(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  f.sign(f.userClaims("user-1")),
		"refresh_token": "rt-2",
		"id_token":      "id-token",
		"token_type":    "Bearer",
		"expires_in":    300,
	})
}

func (f *fakeKeycloak) handleToken(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	form := map[string]string{}
	for k := range r.PostForm {
		form[k] = r.PostForm.Get(k)
	}
	f.mu.Lock()
	f.lastForm = form
	f.mu.Unlock()

	if form["client_id"] != testClientID || form["client_secret"] != testSecret {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_client"})
		return
	}

	switch form["grant_type"] {
	case "password":
		if form["username"] == "alice" && form["password"] == "wonderland" {
			f.writeTokens(w)
			return
		}
	case "refresh_token":
		if form["refresh_token"] == "rt-1" {
			f.writeTokens(w)
			return
		}
	case "authorization_code":
		if form["code"] == "code-1" && form["code_verifier"] != "" {
			f.writeTokens(w)
			return
		}
	}
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
}

func (f *fakeKeycloak) handleRevoke(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	if r.PostForm.Get("token") == "bad" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	f.mu.Lock()
	f.revoked = append(f.revoked, r.PostForm.Get("token_type_hint")+"="+r.PostForm.Get("token"))
	f.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (f *fakeKeycloak) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "Bearer good" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sub": "user-1", "preferred_username": "alice"})
}

func (f *fakeKeycloak) handleCerts(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.certsHits++
	keys := append([]jose.JSONWebKey(nil), f.jwksKeys...)
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, jose.JSONWebKeySet{Keys: keys})
}

func (f *fakeKeycloak) setKeys(keys ...jose.JSONWebKey) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jwksKeys = keys
}

func (f *fakeKeycloak) hits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.certsHits
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
