package api

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/sessions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aypapol/gamehost"
	"github.com/aypapol/gamehost/config"
)

func newSessionAuth(t *testing.T, sessionRepo *memSessions) *Authenticator {
	t.Helper()
	store := sessions.NewCookieStore([]byte("test-secret"))
	return &Authenticator{
		mode:     "oidc",
		sessions: sessionRepo,
		store:    store,
		botKey:   testBotKey,
		log:      slog.Default(),
	}
}

// sessionCookie encodes a login cookie the way HandleCallback would.
func sessionCookie(t *testing.T, auth *Authenticator, token string) *http.Cookie {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	session, err := auth.store.Get(req, sessionCookieName)
	require.NoError(t, err)
	session.Values["token"] = token

	rec := httptest.NewRecorder()
	require.NoError(t, session.Save(req, rec))

	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)
	return cookies[0]
}

func principalEcho(t *testing.T, got **Principal) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		*got = PrincipalFrom(r.Context())
		w.WriteHeader(http.StatusOK)
	}
}

func TestRequireUserRejectsAnonymous(t *testing.T) {
	auth := newSessionAuth(t, &memSessions{rows: make(map[string]*gamehost.AuthSession)})

	var principal *Principal
	handler := auth.RequireUser(principalEcho(t, &principal))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/servers", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Nil(t, principal)
}

func TestRequireUserAcceptsSession(t *testing.T) {
	repo := &memSessions{rows: make(map[string]*gamehost.AuthSession)}
	auth := newSessionAuth(t, repo)

	require.NoError(t, repo.Create(context.Background(), &gamehost.AuthSession{
		Token:       "tok-1",
		PrincipalID: "u1",
		DisplayName: "Alex",
		ExpiresAt:   time.Now().Add(time.Hour),
	}))

	var principal *Principal
	handler := auth.RequireUser(principalEcho(t, &principal))

	req := httptest.NewRequest(http.MethodGet, "/api/servers", nil)
	req.AddCookie(sessionCookie(t, auth, "tok-1"))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, principal)
	assert.Equal(t, "u1", principal.ID)
	assert.Equal(t, "Alex", principal.DisplayName)
	assert.False(t, principal.Bot)
}

func TestRequireUserExpiredSession(t *testing.T) {
	repo := &memSessions{rows: make(map[string]*gamehost.AuthSession)}
	auth := newSessionAuth(t, repo)

	require.NoError(t, repo.Create(context.Background(), &gamehost.AuthSession{
		Token:       "tok-old",
		PrincipalID: "u1",
		ExpiresAt:   time.Now().Add(-time.Hour),
	}))

	var principal *Principal
	handler := auth.RequireUser(principalEcho(t, &principal))

	req := httptest.NewRequest(http.MethodGet, "/api/servers", nil)
	req.AddCookie(sessionCookie(t, auth, "tok-old"))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// The stale row is purged on first use.
	_, err := repo.GetByToken(context.Background(), "tok-old")
	assert.ErrorIs(t, err, gamehost.ErrNotFound)
}

func TestRequireUserOrBotAcceptsAPIKey(t *testing.T) {
	auth := newSessionAuth(t, &memSessions{rows: make(map[string]*gamehost.AuthSession)})

	var principal *Principal
	handler := auth.RequireUserOrBot(principalEcho(t, &principal))

	req := httptest.NewRequest(http.MethodPost, "/api/servers/mc/start", nil)
	req.Header.Set(botKeyHeader, testBotKey)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, principal)
	assert.True(t, principal.Bot)
}

func TestRequireUserRejectsBotKey(t *testing.T) {
	auth := newSessionAuth(t, &memSessions{rows: make(map[string]*gamehost.AuthSession)})

	handler := auth.RequireUser(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPut, "/api/settings", nil)
	req.Header.Set(botKeyHeader, testBotKey)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBotKeyConstantMismatch(t *testing.T) {
	auth := newSessionAuth(t, &memSessions{rows: make(map[string]*gamehost.AuthSession)})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(botKeyHeader, "wrong")
	assert.False(t, auth.IsBot(req))

	// An unconfigured key never matches, even an empty header.
	auth.botKey = ""
	req.Header.Set(botKeyHeader, "")
	assert.False(t, auth.IsBot(req))
}

func TestModeNoneYieldsDevPrincipal(t *testing.T) {
	cfg := &config.Config{AuthMode: "none", SessionSecret: "s", BotAPIKey: testBotKey}
	auth, err := NewAuthenticator(context.Background(), cfg, &memSessions{rows: map[string]*gamehost.AuthSession{}}, slog.Default())
	require.NoError(t, err)

	principal := auth.Resolve(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NotNil(t, principal)
	assert.Equal(t, "dev", principal.ID)
}
