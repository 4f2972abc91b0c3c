package web

import (
	"net/http"

	"github.com/RezaEskandarii/keyfire/internal/auth"
)

// authMiddleware authenticates the request and runs guards in order before next.
func (handler *HttpRouteHandler) authMiddleware(next http.HandlerFunc, guards ...auth.Guard) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := tokenFromRequest(r)
		if !ok || token == "" {
			writeError(w, handler.logger, auth.Unauthorized(auth.MsgMissingHeader, nil))
			return
		}

		claims, err := handler.verifier.Verify(r.Context(), token)
		if err != nil {
			writeError(w, handler.logger, err)
			return
		}

		if err := auth.Check(claims, guards...); err != nil {
			handler.logger.Debugw("guard denied request", "path", r.URL.Path, "sub", claims.Subject, "error", err)
			writeError(w, handler.logger, err)
			return
		}

		next(w, r.WithContext(auth.WithClaims(r.Context(), claims)))
	}
}

// optionalAuth attaches claims when the request carries a valid token and
// otherwise serves the request anonymously.
func (handler *HttpRouteHandler) optionalAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if token, ok := tokenFromRequest(r); ok && token != "" {
			if claims, err := handler.verifier.Verify(r.Context(), token); err == nil {
				r = r.WithContext(auth.WithClaims(r.Context(), claims))
			}
		}
		next(w, r)
	}
}
