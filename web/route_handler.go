package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/RezaEskandarii/keyfire/custom_errors"
	"github.com/RezaEskandarii/keyfire/internal/auth"
	"github.com/RezaEskandarii/keyfire/internal/jobs"
	"github.com/RezaEskandarii/keyfire/internal/logging"
	"github.com/RezaEskandarii/keyfire/internal/state"
	"github.com/RezaEskandarii/keyfire/types"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const (
	maxBodyBytes = 1 << 20
	adminRole    = "admin"
	jobIDPattern = "{id:[0-9a-fA-F-]{36}}"
)

// IdentityProvider is the part of the Keycloak client the HTTP API uses.
type IdentityProvider interface {
	Login(ctx context.Context, username, password string) (*auth.TokenSet, error)
	Refresh(ctx context.Context, refreshToken string) (*auth.TokenSet, error)
	Logout(ctx context.Context, accessToken, refreshToken string) error
	UserInfo(ctx context.Context, accessToken string) (map[string]any, error)
	AuthCodeURL(state, verifier string) string
	Exchange(ctx context.Context, code, verifier string) (*auth.TokenSet, error)
	LogoutURL(redirect, idTokenHint string) string
}

type HttpRouteHandler struct {
	jobService  *jobs.Service
	idp         IdentityProvider
	verifier    auth.TokenVerifier
	states      auth.StateStore
	clientID    string
	corsOrigins []string
	limiter     *clientLimiter
	logger      *zap.SugaredLogger
	Port        uint
}

// RouteHandlerOptions carries the HTTP settings of the route handler.
type RouteHandlerOptions struct {
	Port           uint
	ClientID       string
	CORSOrigins    []string
	LoginPerSecond float64
	LoginBurst     int
}

func NewRouteHandler(
	jobService *jobs.Service,
	idp IdentityProvider,
	verifier auth.TokenVerifier,
	states auth.StateStore,
	opts RouteHandlerOptions,
	logger *zap.SugaredLogger,
) *HttpRouteHandler {
	if states == nil {
		states = auth.NewMemoryStateStore()
	}
	if opts.LoginPerSecond <= 0 || opts.LoginBurst < 1 {
		opts.LoginPerSecond, opts.LoginBurst = 5, 10
	}
	return &HttpRouteHandler{
		jobService:  jobService,
		idp:         idp,
		verifier:    verifier,
		states:      states,
		clientID:    opts.ClientID,
		corsOrigins: opts.CORSOrigins,
		limiter:     newClientLimiter(opts.LoginPerSecond, opts.LoginBurst),
		logger:      logging.OrNop(logger),
		Port:        opts.Port,
	}
}

// Router builds the full handler chain: access log, security headers, CORS, routes.
func (handler *HttpRouteHandler) Router() http.Handler {
	router := mux.NewRouter()
	handler.handleIndex(router)
	handler.handleAuth(router)
	handler.handleSSO(router)
	handler.handleUser(router)
	handler.handleSecure(router)
	handler.handleJobs(router)

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeMessage(w, http.StatusNotFound, fmt.Sprintf("Cannot %s %s", r.Method, r.URL.Path))
	})
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeMessage(w, http.StatusMethodNotAllowed, "Method Not Allowed")
	})

	var h http.Handler = router
	if len(handler.corsOrigins) > 0 {
		h = cors.New(cors.Options{
			AllowedOrigins:   handler.corsOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           86400,
		}).Handler(h)
	}
	return accessLog(handler.logger, securityHeaders(h))
}

// Serve listens until ctx is done, then shuts down gracefully.
func (handler *HttpRouteHandler) Serve(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", handler.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()
	handler.logger.Infow("keyfire server started", "addr", addr)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "http server failed")
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		handler.logger.Info("shutting down http server")
		return server.Shutdown(shutdownCtx)
	}
}

func (handler *HttpRouteHandler) handleIndex(router *mux.Router) {
	router.HandleFunc("/", handler.optionalAuth(func(w http.ResponseWriter, r *http.Request) {
		if claims := auth.ClaimsFromContext(r.Context()); claims != nil {
			writeText(w, http.StatusOK, "Hello "+claims.Username())
			return
		}
		writeText(w, http.StatusOK, "Hello world!")
	})).Methods(http.MethodGet)

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	router.HandleFunc("/private", handler.authMiddleware(func(w http.ResponseWriter, r *http.Request) {
		writeText(w, http.StatusOK, "Authenticated only!")
	})).Methods(http.MethodGet)

	router.HandleFunc("/admin", handler.authMiddleware(func(w http.ResponseWriter, r *http.Request) {
		writeText(w, http.StatusOK, "Admin only!")
	}, auth.RequireRoles(adminRole))).Methods(http.MethodGet)
}

func (handler *HttpRouteHandler) handleAuth(router *mux.Router) {
	router.HandleFunc("/auth/login", handler.limiter.Wrap(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, handler.logger, err)
			return
		}
		tokens, err := handler.idp.Login(r.Context(), body.Username, body.Password)
		if err != nil {
			writeError(w, handler.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, tokens)
	})).Methods(http.MethodPost)

	router.HandleFunc("/auth/refresh", handler.limiter.Wrap(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, handler.logger, err)
			return
		}
		tokens, err := handler.idp.Refresh(r.Context(), body.RefreshToken)
		if err != nil {
			writeError(w, handler.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, tokens)
	})).Methods(http.MethodPost)

	router.HandleFunc("/auth/validate", handler.authMiddleware(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"user": auth.ClaimsFromContext(r.Context())})
	})).Methods(http.MethodPost)

	router.HandleFunc("/auth/logout", handler.authMiddleware(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			RefreshToken string `json:"refreshToken"`
		}
		if r.ContentLength != 0 {
			if err := decodeJSON(r, &body); err != nil {
				writeError(w, handler.logger, err)
				return
			}
		}
		if body.RefreshToken == "" {
			body.RefreshToken = cookieValue(r, refreshCookie)
		}

		claims := auth.ClaimsFromContext(r.Context())
		if err := handler.idp.Logout(r.Context(), claims.AccessToken, body.RefreshToken); err != nil {
			writeError(w, handler.logger, err)
			return
		}
		clearSessionCookies(w, r)
		writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out successfully"})
	})).Methods(http.MethodPost)

	router.HandleFunc("/auth/me", handler.authMiddleware(func(w http.ResponseWriter, r *http.Request) {
		info, err := handler.idp.UserInfo(r.Context(), auth.ClaimsFromContext(r.Context()).AccessToken)
		if err != nil {
			writeError(w, handler.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, info)
	})).Methods(http.MethodGet)
}

// handleSSO serves the browser sign-in flow: authorization code with PKCE.
func (handler *HttpRouteHandler) handleSSO(router *mux.Router) {
	router.HandleFunc("/auth/sso", handler.optionalAuth(func(w http.ResponseWriter, r *http.Request) {
		redirect := safeRedirect(r.URL.Query().Get("redirect"), "/")

		// already signed in
		if auth.ClaimsFromContext(r.Context()) != nil {
			http.Redirect(w, r, safeRedirect(r.URL.Query().Get("success"), redirect), http.StatusFound)
			return
		}

		stateID := uuid.NewString()
		verifier := oauth2.GenerateVerifier()
		if err := handler.states.Save(r.Context(), stateID, auth.PendingLogin{Verifier: verifier, Redirect: redirect}, auth.DefaultStateTTL); err != nil {
			writeError(w, handler.logger, err)
			return
		}
		http.Redirect(w, r, handler.idp.AuthCodeURL(stateID, verifier), http.StatusFound)
	})).Methods(http.MethodGet)

	router.HandleFunc("/auth/callback", func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		if errParam := query.Get("error"); errParam != "" {
			writeError(w, handler.logger, auth.Unauthorized(auth.MsgInvalidCredentials, errors.Newf("identity provider returned %s", errParam)))
			return
		}

		pending, err := handler.states.Take(r.Context(), query.Get("state"))
		if err != nil {
			if errors.Is(err, auth.ErrStateNotFound) {
				writeMessage(w, http.StatusBadRequest, "Invalid or expired sign-in state")
				return
			}
			writeError(w, handler.logger, err)
			return
		}

		tokens, err := handler.idp.Exchange(r.Context(), query.Get("code"), pending.Verifier)
		if err != nil {
			writeError(w, handler.logger, err)
			return
		}
		setSessionCookies(w, r, tokens)
		http.Redirect(w, r, safeRedirect(pending.Redirect, "/"), http.StatusFound)
	}).Methods(http.MethodGet)

	router.HandleFunc("/auth/sso/logout", handler.authMiddleware(func(w http.ResponseWriter, r *http.Request) {
		redirect := absoluteURL(r, safeRedirect(r.URL.Query().Get("redirect"), "/"))
		idTokenHint := cookieValue(r, idTokenCookie)
		clearSessionCookies(w, r)
		http.Redirect(w, r, handler.idp.LogoutURL(redirect, idTokenHint), http.StatusFound)
	})).Methods(http.MethodGet)
}

func (handler *HttpRouteHandler) handleUser(router *mux.Router) {
	router.HandleFunc("/user/me", handler.authMiddleware(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, auth.ClaimsFromContext(r.Context()))
	})).Methods(http.MethodGet)
}

func (handler *HttpRouteHandler) handleSecure(router *mux.Router) {
	secure := func(message string, guards ...auth.Guard) http.HandlerFunc {
		return handler.authMiddleware(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"message": message,
				"user":    auth.ClaimsFromContext(r.Context()),
			})
		}, guards...)
	}

	router.HandleFunc("/secure/admin", secure("Admin Data",
		auth.RequireRoles(adminRole))).Methods(http.MethodGet)
	router.HandleFunc("/secure/reports", secure("User has permission to read reports",
		auth.RequirePermissions(handler.clientID, auth.MustPermission(auth.ActionRead, auth.ResourceReports)))).Methods(http.MethodGet)
	router.HandleFunc("/secure/write-article", secure("User can write articles",
		auth.RequirePermissions(handler.clientID, auth.MustPermission(auth.ActionCreate, auth.ResourceReports)))).Methods(http.MethodGet)
}

func (handler *HttpRouteHandler) handleJobs(router *mux.Router) {
	requireAdmin := auth.RequireRoles(adminRole)

	router.HandleFunc("/jobs", handler.authMiddleware(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		statusParam := strings.TrimSpace(r.URL.Query().Get("status"))
		var status state.JobStatus
		if statusParam != "" {
			parsed, ok := state.Parse(statusParam)
			if !ok {
				writeMessage(w, http.StatusBadRequest, fmt.Sprintf("invalid status %q", statusParam))
				return
			}
			status = parsed
		}

		result, err := handler.jobService.ListJobs(ctx, getPageNumber(r), getPageSize(r), status)
		if err != nil {
			handler.logger.Errorw("failed to fetch jobs", "error", err)
			writeError(w, handler.logger, err)
			return
		}

		allJobsCount, err := handler.jobService.CountJobsGroupedByStatus(ctx)
		if err != nil {
			handler.logger.Errorw("failed to count jobs by status", "error", err)
		}

		data := NewPaginatedDataMap(*result).
			Add("statuses", state.AllStatuses).
			Add("current_status", status).
			Add("jobs_count", allJobsCount)

		writeJSON(w, http.StatusOK, data.Data)
	})).Methods(http.MethodGet)

	router.HandleFunc("/jobs", handler.authMiddleware(func(w http.ResponseWriter, r *http.Request) {
		var req types.CreateJobRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, handler.logger, err)
			return
		}
		job, err := handler.jobService.CreateJob(r.Context(), req)
		if err != nil {
			writeError(w, handler.logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, job)
	}, requireAdmin)).Methods(http.MethodPost)

	router.HandleFunc("/jobs/due", handler.authMiddleware(func(w http.ResponseWriter, r *http.Request) {
		due, err := handler.jobService.GetDueJobs(r.Context())
		if err != nil {
			writeError(w, handler.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, due)
	})).Methods(http.MethodGet)

	router.HandleFunc("/jobs/stats", handler.authMiddleware(func(w http.ResponseWriter, r *http.Request) {
		counts, err := handler.jobService.CountJobsGroupedByStatus(r.Context())
		if err != nil {
			writeError(w, handler.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, counts)
	})).Methods(http.MethodGet)

	router.HandleFunc("/jobs/"+jobIDPattern, handler.authMiddleware(handler.withJobID(func(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
		job, err := handler.jobService.GetJob(r.Context(), id)
		if err != nil {
			writeError(w, handler.logger, err)
			return
		}
		writeJSON(w, http.StatusOK, job)
	}))).Methods(http.MethodGet)

	router.HandleFunc("/jobs/"+jobIDPattern+"/run", handler.authMiddleware(handler.withJobID(func(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
		job, err := handler.jobService.RunNow(r.Context(), id)
		if err != nil {
			writeError(w, handler.logger, err)
			return
		}
		handler.logger.Infow("job scheduled to run now", "job_id", id, "sub", auth.ClaimsFromContext(r.Context()).Subject)
		writeJSON(w, http.StatusOK, job)
	}), requireAdmin)).Methods(http.MethodPost)

	router.HandleFunc("/jobs/"+jobIDPattern+"/reset", handler.authMiddleware(handler.withJobID(func(w http.ResponseWriter, r *http.Request, id uuid.UUID) {
		job, err := handler.jobService.ResetJob(r.Context(), id)
		if err != nil {
			writeError(w, handler.logger, err)
			return
		}
		handler.logger.Infow("job reset", "job_id", id, "sub", auth.ClaimsFromContext(r.Context()).Subject)
		writeJSON(w, http.StatusOK, job)
	}), requireAdmin)).Methods(http.MethodPost)
}

func (handler *HttpRouteHandler) withJobID(next func(w http.ResponseWriter, r *http.Request, id uuid.UUID)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(mux.Vars(r)["id"])
		if err != nil {
			writeMessage(w, http.StatusBadRequest, "invalid job id")
			return
		}
		next(w, r, id)
	}
}

func decodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v); err != nil {
		return custom_errors.NewValidationError(errors.Wrap(err, "invalid request body"))
	}
	return nil
}

func absoluteURL(r *http.Request, path string) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host + path
}
