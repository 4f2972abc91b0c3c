package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/RezaEskandarii/keyfire/internal/auth"
	"github.com/RezaEskandarii/keyfire/internal/jobs"
	"github.com/RezaEskandarii/keyfire/internal/state"
	"github.com/RezaEskandarii/keyfire/internal/test/mocks"
	"github.com/RezaEskandarii/keyfire/types"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const testClientID = "keyfire"

type fakeVerifier struct {
	tokens map[string]*auth.Claims
}

func (f *fakeVerifier) Verify(ctx context.Context, rawToken string) (*auth.Claims, error) {
	claims, ok := f.tokens[auth.StripTokenPrefix(rawToken)]
	if !ok {
		return nil, auth.Unauthorized(auth.MsgInvalidToken, errors.New("unknown token"))
	}
	c := *claims
	c.AccessToken = auth.StripTokenPrefix(rawToken)
	return &c, nil
}

type fakeIdentityProvider struct {
	mu       sync.Mutex
	loggedIn []string
	revoked  [][2]string
}

func (f *fakeIdentityProvider) Login(ctx context.Context, username, password string) (*auth.TokenSet, error) {
	if username != "alice" || password != "wonderland" {
		return nil, auth.Unauthorized(auth.MsgInvalidCredentials, errors.New("invalid_grant"))
	}
	f.mu.Lock()
	f.loggedIn = append(f.loggedIn, username)
	f.mu.Unlock()
	return &auth.TokenSet{AccessToken: "user-token", RefreshToken: "rt-1", ExpiresIn: 300}, nil
}

func (f *fakeIdentityProvider) Refresh(ctx context.Context, refreshToken string) (*auth.TokenSet, error) {
	if refreshToken != "rt-1" {
		return nil, auth.Unauthorized(auth.MsgInvalidRefreshToken, nil)
	}
	return &auth.TokenSet{AccessToken: "user-token", RefreshToken: "rt-2", ExpiresIn: 300}, nil
}

func (f *fakeIdentityProvider) Logout(ctx context.Context, accessToken, refreshToken string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked = append(f.revoked, [2]string{accessToken, refreshToken})
	return nil
}

func (f *fakeIdentityProvider) UserInfo(ctx context.Context, accessToken string) (map[string]any, error) {
	return map[string]any{"sub": "user-1", "token": accessToken}, nil
}

func (f *fakeIdentityProvider) AuthCodeURL(state, verifier string) string {
	return "http://keycloak/auth?state=" + url.QueryEscape(state) + "&challenge_for=" + url.QueryEscape(verifier)
}

func (f *fakeIdentityProvider) Exchange(ctx context.Context, code, verifier string) (*auth.TokenSet, error) {
	if code != "code-1" || verifier == "" {
		return nil, auth.Unauthorized(auth.MsgInvalidCredentials, errors.New("invalid code"))
	}
	return &auth.TokenSet{AccessToken: "user-token", RefreshToken: "rt-1", IDToken: "id-1", ExpiresIn: 300}, nil
}

func (f *fakeIdentityProvider) LogoutURL(redirect, idTokenHint string) string {
	return "http://keycloak/logout?redirect=" + url.QueryEscape(redirect) + "&hint=" + url.QueryEscape(idTokenHint)
}

type testServer struct {
	handler http.Handler
	idp     *fakeIdentityProvider
	store   *mocks.MockJobStore
	states  *auth.MemoryStateStore
	logs    *observer.ObservedLogs
}

func newTestServer(t *testing.T, opts RouteHandlerOptions) *testServer {
	t.Helper()
	verifier := &fakeVerifier{tokens: map[string]*auth.Claims{
		"user-token": {
			PreferredUsername: "alice",
			RealmAccess:       &auth.Access{Roles: []string{"user"}},
			ResourceAccess:    map[string]auth.Access{testClientID: {Roles: []string{"read:reports"}}},
		},
		"admin-token": {
			PreferredUsername: "root",
			RealmAccess:       &auth.Access{Roles: []string{"admin"}},
		},
	}}
	verifier.tokens["user-token"].Subject = "user-1"
	verifier.tokens["admin-token"].Subject = "admin-1"

	store := &mocks.MockJobStore{}
	service := jobs.NewService(store, jobs.WithClock(func() time.Time {
		return time.Date(2024, 1, 1, 10, 2, 30, 0, time.UTC)
	}))
	idp := &fakeIdentityProvider{}
	states := auth.NewMemoryStateStore()

	if opts.ClientID == "" {
		opts.ClientID = testClientID
	}
	core, errorLogs := observer.New(zapcore.ErrorLevel)
	handler := NewRouteHandler(service, idp, verifier, states, opts, zap.New(core).Sugar())
	return &testServer{handler: handler.Router(), idp: idp, store: store, states: states, logs: errorLogs}
}

func (s *testServer) do(method, target, token, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func assertDenied(t *testing.T, rec *httptest.ResponseRecorder, status int, message string) {
	t.Helper()
	assert.Equal(t, status, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, message, body["message"])
	assert.Equal(t, float64(status), body["statusCode"])
}

func TestIndex(t *testing.T) {
	s := newTestServer(t, RouteHandlerOptions{})

	rec := s.do(http.MethodGet, "/", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Hello world!", rec.Body.String())
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "SAMEORIGIN", rec.Header().Get("X-Frame-Options"))

	rec = s.do(http.MethodGet, "/", "user-token", "")
	assert.Equal(t, "Hello alice", rec.Body.String())

	// an invalid token is served anonymously
	rec = s.do(http.MethodGet, "/", "bogus", "")
	assert.Equal(t, "Hello world!", rec.Body.String())

	rec = s.do(http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])

	rec = s.do(http.MethodGet, "/nowhere", "", "")
	assertDenied(t, rec, http.StatusNotFound, "Cannot GET /nowhere")
}

func TestAuthentication(t *testing.T) {
	s := newTestServer(t, RouteHandlerOptions{})

	assertDenied(t, s.do(http.MethodGet, "/private", "", ""), http.StatusUnauthorized, auth.MsgMissingHeader)
	assertDenied(t, s.do(http.MethodGet, "/private", "bogus", ""), http.StatusUnauthorized, auth.MsgInvalidToken)

	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assertDenied(t, rec, http.StatusUnauthorized, auth.MsgMissingHeader)

	req = httptest.NewRequest(http.MethodGet, "/private", nil)
	req.Header.Set("Authorization", "Token user-token")
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Authenticated only!", rec.Body.String())

	// browser sessions authenticate with the session cookie
	req = httptest.NewRequest(http.MethodGet, "/private", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookie, Value: "user-token"})
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRoleAndPermissionGuards(t *testing.T) {
	s := newTestServer(t, RouteHandlerOptions{})

	assertDenied(t, s.do(http.MethodGet, "/admin", "user-token", ""), http.StatusForbidden, auth.MsgInsufficientRoles)
	rec := s.do(http.MethodGet, "/admin", "admin-token", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Admin only!", rec.Body.String())

	rec = s.do(http.MethodGet, "/secure/admin", "admin-token", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "Admin Data", body["message"])
	assert.NotNil(t, body["user"])

	rec = s.do(http.MethodGet, "/secure/reports", "user-token", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "User has permission to read reports", decodeBody(t, rec)["message"])

	assertDenied(t, s.do(http.MethodGet, "/secure/write-article", "user-token", ""), http.StatusForbidden, auth.MsgInsufficientPerms)
	assertDenied(t, s.do(http.MethodGet, "/secure/reports", "admin-token", ""), http.StatusForbidden, auth.MsgPermissionsNotFound)
}

func TestLoginRefreshValidate(t *testing.T) {
	s := newTestServer(t, RouteHandlerOptions{})

	rec := s.do(http.MethodPost, "/auth/login", "", `{"username":"alice","password":"wonderland"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "user-token", body["accessToken"])
	assert.Equal(t, "rt-1", body["refreshToken"])
	assert.Equal(t, float64(300), body["expiresIn"])

	assertDenied(t, s.do(http.MethodPost, "/auth/login", "", `{"username":"alice","password":"nope"}`), http.StatusUnauthorized, auth.MsgInvalidCredentials)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/auth/login", "", `{`).Code)

	rec = s.do(http.MethodPost, "/auth/refresh", "", `{"refreshToken":"rt-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "rt-2", decodeBody(t, rec)["refreshToken"])
	assertDenied(t, s.do(http.MethodPost, "/auth/refresh", "", `{"refreshToken":"old"}`), http.StatusUnauthorized, auth.MsgInvalidRefreshToken)

	rec = s.do(http.MethodPost, "/auth/validate", "user-token", "")
	require.Equal(t, http.StatusOK, rec.Code)
	user, ok := decodeBody(t, rec)["user"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "user-1", user["sub"])
	assert.Equal(t, "alice", user["preferred_username"])

	rec = s.do(http.MethodGet, "/user/me", "user-token", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-1", decodeBody(t, rec)["sub"])

	rec = s.do(http.MethodGet, "/auth/me", "user-token", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-token", decodeBody(t, rec)["token"])
}

func TestLoginIsRateLimited(t *testing.T) {
	s := newTestServer(t, RouteHandlerOptions{LoginPerSecond: 0.001, LoginBurst: 2})

	for i := 0; i < 2; i++ {
		rec := s.do(http.MethodPost, "/auth/login", "", `{"username":"alice","password":"nope"}`)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	}
	rec := s.do(http.MethodPost, "/auth/login", "", `{"username":"alice","password":"wonderland"}`)
	assertDenied(t, rec, http.StatusTooManyRequests, "Too many requests")
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestLogout(t *testing.T) {
	s := newTestServer(t, RouteHandlerOptions{})

	rec := s.do(http.MethodPost, "/auth/logout", "user-token", `{"refreshToken":"rt-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Logged out successfully", decodeBody(t, rec)["message"])

	rec = s.do(http.MethodPost, "/auth/logout", "user-token", "")
	require.Equal(t, http.StatusOK, rec.Code)

	s.idp.mu.Lock()
	defer s.idp.mu.Unlock()
	assert.Equal(t, [][2]string{{"user-token", "rt-1"}, {"user-token", ""}}, s.idp.revoked)
}

func TestSSOFlow(t *testing.T) {
	s := newTestServer(t, RouteHandlerOptions{})

	rec := s.do(http.MethodGet, "/auth/sso?redirect=/jobs", "", "")
	require.Equal(t, http.StatusFound, rec.Code)
	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "keycloak", location.Host)
	stateID := location.Query().Get("state")
	require.NotEmpty(t, stateID)
	assert.NotEmpty(t, location.Query().Get("challenge_for"))

	rec = s.do(http.MethodGet, "/auth/callback?code=code-1&state="+stateID, "", "")
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/jobs", rec.Header().Get("Location"))

	cookies := map[string]*http.Cookie{}
	for _, c := range rec.Result().Cookies() {
		cookies[c.Name] = c
	}
	require.Contains(t, cookies, sessionCookie)
	assert.Equal(t, "user-token", cookies[sessionCookie].Value)
	assert.True(t, cookies[sessionCookie].HttpOnly)
	assert.Equal(t, "id-1", cookies[idTokenCookie].Value)

	// states are single use
	rec = s.do(http.MethodGet, "/auth/callback?code=code-1&state="+stateID, "", "")
	assertDenied(t, rec, http.StatusBadRequest, "Invalid or expired sign-in state")

	rec = s.do(http.MethodGet, "/auth/callback?error=access_denied", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSSO_AlreadySignedIn(t *testing.T) {
	s := newTestServer(t, RouteHandlerOptions{})

	rec := s.do(http.MethodGet, "/auth/sso?redirect=/jobs&success=/welcome", "user-token", "")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/welcome", rec.Header().Get("Location"))

	rec = s.do(http.MethodGet, "/auth/sso?redirect=/jobs", "user-token", "")
	assert.Equal(t, "/jobs", rec.Header().Get("Location"))

	rec = s.do(http.MethodGet, "/auth/sso?redirect=//evil.example&success=https://evil.example", "user-token", "")
	assert.Equal(t, "/", rec.Header().Get("Location"))
}

func TestSSOLogout(t *testing.T) {
	s := newTestServer(t, RouteHandlerOptions{})

	req := httptest.NewRequest(http.MethodGet, "/auth/sso/logout?redirect=/bye", nil)
	req.Header.Set("Authorization", "Bearer user-token")
	req.AddCookie(&http.Cookie{Name: idTokenCookie, Value: "id-1"})
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusFound, rec.Code)
	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "http://example.com/bye", location.Query().Get("redirect"))
	assert.Equal(t, "id-1", location.Query().Get("hint"))

	for _, c := range rec.Result().Cookies() {
		assert.Equal(t, -1, c.MaxAge, c.Name)
	}
}

func TestCORS(t *testing.T) {
	s := newTestServer(t, RouteHandlerOptions{CORSOrigins: []string{"http://localhost:5173"}})

	req := httptest.NewRequest(http.MethodOptions, "/jobs", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestJobsAPI(t *testing.T) {
	s := newTestServer(t, RouteHandlerOptions{})

	assertDenied(t, s.do(http.MethodPost, "/jobs", "user-token", `{"jobType":"report","cron":"*/5 * * * *"}`), http.StatusForbidden, auth.MsgInsufficientRoles)

	rec := s.do(http.MethodPost, "/jobs", "admin-token", `{"jobType":"report","cron":"*/5 * * * *","data":{"to":"ops"}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeBody(t, rec)
	assert.Equal(t, "PENDING", created["status"])
	assert.Equal(t, "2024-01-01T10:05:00Z", created["nextRun"])
	id := created["id"].(string)

	rec = s.do(http.MethodPost, "/jobs", "admin-token", `{"jobType":"report","cron":"not a cron"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 1, s.store.Count())

	rec = s.do(http.MethodPost, "/jobs", "admin-token", `{"jobType":"","cron":"* * * * *"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEmpty(t, decodeBody(t, rec)["errors"])

	rec = s.do(http.MethodGet, "/jobs/"+id, "user-token", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "report", decodeBody(t, rec)["jobType"])

	assertDenied(t, s.do(http.MethodGet, "/jobs/"+uuid.NewString(), "user-token", ""), http.StatusNotFound, "job not found")

	rec = s.do(http.MethodGet, "/jobs?status=pending&page_size=5", "user-token", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody(t, rec)
	assert.Equal(t, float64(1), list["total_items"])
	assert.Equal(t, float64(5), list["page_size"])
	assert.Equal(t, "PENDING", list["current_status"])
	assert.Len(t, list["items"], 1)

	rec = s.do(http.MethodGet, "/jobs?status=paused", "user-token", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/jobs/stats", "user-token", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), decodeBody(t, rec)["PENDING"])

	rec = s.do(http.MethodGet, "/jobs/due", "user-token", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())

	rec = s.do(http.MethodPost, "/jobs/"+id+"/run", "admin-token", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2024-01-01T10:02:30Z", decodeBody(t, rec)["nextRun"])

	rec = s.do(http.MethodGet, "/jobs/due", "user-token", "")
	var due []types.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &due))
	require.Len(t, due, 1)

	assertDenied(t, s.do(http.MethodPost, "/jobs/"+id+"/reset", "user-token", ""), http.StatusForbidden, auth.MsgInsufficientRoles)
	rec = s.do(http.MethodPost, "/jobs/"+id+"/reset", "admin-token", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2024-01-01T10:05:00Z", decodeBody(t, rec)["nextRun"])
}

func TestJobsAPI_RunNowRejectsRunningJob(t *testing.T) {
	s := newTestServer(t, RouteHandlerOptions{})
	id := uuid.New()
	next := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	s.store.Put(types.Job{ID: id, JobType: "report", Cron: "* * * * *", Status: state.StatusRunning, NextRun: &next, Version: 1})

	rec := s.do(http.MethodPost, "/jobs/"+id.String()+"/run", "admin-token", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJobsAPI_ListLogsCountFailure(t *testing.T) {
	s := newTestServer(t, RouteHandlerOptions{})
	s.store.CountAllJobsGroupedByStatusFunc = func(ctx context.Context) (map[state.JobStatus]int, error) {
		return nil, errors.New("connection reset")
	}

	rec := s.do(http.MethodGet, "/jobs", "user-token", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, decodeBody(t, rec)["jobs_count"])

	entries := s.logs.FilterMessage("failed to count jobs by status").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "connection reset", entries[0].ContextMap()["error"])
}

func TestSafeRedirect(t *testing.T) {
	assert.Equal(t, "/jobs", safeRedirect("/jobs", "/"))
	assert.Equal(t, "/", safeRedirect("", "/"))
	assert.Equal(t, "/", safeRedirect("https://evil.example", "/"))
	assert.Equal(t, "/", safeRedirect("//evil.example", "/"))
	assert.Equal(t, "/", safeRedirect("/\\evil.example", "/"))
}

func TestPagingParams(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/jobs?page=3&page_size=500", nil)
	assert.Equal(t, 3, getPageNumber(req))
	assert.Equal(t, MaxPageSize, getPageSize(req))

	req = httptest.NewRequest(http.MethodGet, "/jobs?page=-1&page_size=x", nil)
	assert.Equal(t, 1, getPageNumber(req))
	assert.Equal(t, PageSize, getPageSize(req))

	req = httptest.NewRequest(http.MethodGet, "/jobs?page=9223372036854775807", nil)
	assert.Equal(t, MaxPageNumber, getPageNumber(req))
}

func TestJobsAPI_HugePageIsClamped(t *testing.T) {
	s := newTestServer(t, RouteHandlerOptions{})
	var gotPage int
	s.store.GetAllFunc = func(ctx context.Context, page int, pageSize int, status state.JobStatus) (*types.PaginationResult[types.Job], error) {
		gotPage = page
		return &types.PaginationResult[types.Job]{Page: page, PageSize: pageSize}, nil
	}

	rec := s.do(http.MethodGet, "/jobs?page=9223372036854775807&page_size=100", "user-token", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, MaxPageNumber, gotPage)
	assert.Greater(t, (gotPage-1)*MaxPageSize, 0)
}
