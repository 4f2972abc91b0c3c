package web

import (
	"net/http"
	"strings"

	"github.com/RezaEskandarii/keyfire/internal/auth"
)

const (
	sessionCookie = "keyfire_session"
	refreshCookie = "keyfire_refresh"
	idTokenCookie = "keyfire_id"
)

// setSessionCookies keeps a browser sign-in in HttpOnly cookies.
func setSessionCookies(w http.ResponseWriter, r *http.Request, tokens *auth.TokenSet) {
	maxAge := int(tokens.ExpiresIn)
	if maxAge <= 0 {
		maxAge = 300
	}
	setCookie(w, r, sessionCookie, tokens.AccessToken, maxAge)
	if tokens.RefreshToken != "" {
		setCookie(w, r, refreshCookie, tokens.RefreshToken, 0)
	}
	if tokens.IDToken != "" {
		setCookie(w, r, idTokenCookie, tokens.IDToken, 0)
	}
}

func clearSessionCookies(w http.ResponseWriter, r *http.Request) {
	for _, name := range []string{sessionCookie, refreshCookie, idTokenCookie} {
		setCookie(w, r, name, "", -1)
	}
}

func setCookie(w http.ResponseWriter, r *http.Request, name, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
}

func cookieValue(r *http.Request, name string) string {
	cookie, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// tokenFromRequest reads the Authorization header, falling back to the session
// cookie. ok is false when a header is present but does not carry a
// "Bearer " or "Token " credential.
func tokenFromRequest(r *http.Request) (token string, ok bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return cookieValue(r, sessionCookie), true
	}
	scheme, credential, found := strings.Cut(header, " ")
	if !found || (!strings.EqualFold(scheme, "Bearer") && !strings.EqualFold(scheme, "Token")) {
		return "", false
	}
	credential = strings.TrimSpace(credential)
	return credential, credential != ""
}
