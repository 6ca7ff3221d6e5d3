package api

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"github.com/gorilla/sessions"
	"golang.org/x/oauth2"

	"github.com/aypapol/gamehost"
	"github.com/aypapol/gamehost/config"
	"github.com/aypapol/gamehost/repository"
)

const (
	sessionCookieName = "gamehost_session"
	sessionTTL        = 7 * 24 * time.Hour
	botKeyHeader      = "X-Bot-Api-Key"
)

// Principal is the authenticated caller handed to downstream handlers.
type Principal struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Avatar      string `json:"avatar,omitempty"`
	Bot         bool   `json:"bot,omitempty"`
}

type principalKey struct{}

// PrincipalFrom returns the authenticated principal stored on the request
// context, or nil.
func PrincipalFrom(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey{}).(*Principal)
	return p
}

// Authenticator implements the two admission policies: a cookie-indexed
// session row for users, and a shared-secret header for the bot. In "none"
// mode every request carries a development principal.
type Authenticator struct {
	mode     string
	sessions repository.AuthSessionRepository
	store    *sessions.CookieStore
	botKey   string
	log      *slog.Logger

	provider *oidc.Provider
	verifier *oidc.IDTokenVerifier
	oauth    *oauth2.Config
	homeURL  string
}

// NewAuthenticator builds the front-door policy from config. OIDC discovery
// runs at startup in oidc mode.
func NewAuthenticator(ctx context.Context, cfg *config.Config, sessionRepo repository.AuthSessionRepository, logger *slog.Logger) (*Authenticator, error) {
	store := sessions.NewCookieStore([]byte(cfg.SessionSecret))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(sessionTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	a := &Authenticator{
		mode:     cfg.AuthMode,
		sessions: sessionRepo,
		store:    store,
		botKey:   cfg.BotAPIKey,
		log:      logger,
		homeURL:  cfg.PublicURL,
	}
	if a.homeURL == "" {
		a.homeURL = "/"
	}

	if cfg.AuthMode == "oidc" {
		provider, err := oidc.NewProvider(ctx, cfg.OIDCIssuer)
		if err != nil {
			return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
		}
		a.provider = provider
		a.verifier = provider.Verifier(&oidc.Config{ClientID: cfg.OIDCClientID})
		a.oauth = &oauth2.Config{
			ClientID:     cfg.OIDCClientID,
			ClientSecret: cfg.OIDCClientSecret,
			Endpoint:     provider.Endpoint(),
			RedirectURL:  cfg.OIDCRedirectURL,
			Scopes:       []string{oidc.ScopeOpenID, "profile", "email"},
		}
	}

	return a, nil
}

// IsBot reports whether the request carries the configured bot secret.
func (a *Authenticator) IsBot(r *http.Request) bool {
	if a.botKey == "" {
		return false
	}
	key := r.Header.Get(botKeyHeader)
	return subtle.ConstantTimeCompare([]byte(key), []byte(a.botKey)) == 1
}

// Resolve returns the user principal for the request, or nil. Expired
// sessions are deleted on sight.
func (a *Authenticator) Resolve(r *http.Request) *Principal {
	if a.mode == "none" {
		return &Principal{ID: "dev", DisplayName: "Developer"}
	}

	session, err := a.store.Get(r, sessionCookieName)
	if err != nil {
		return nil
	}
	token, _ := session.Values["token"].(string)
	if token == "" {
		return nil
	}

	row, err := a.sessions.GetByToken(r.Context(), token)
	if err != nil {
		return nil
	}
	if row.Expired(time.Now()) {
		if err := a.sessions.Delete(r.Context(), token); err != nil {
			a.log.Debug("failed to delete expired session", "error", err)
		}
		return nil
	}

	return &Principal{ID: row.PrincipalID, DisplayName: row.DisplayName, Avatar: row.AvatarRef}
}

// RequireUser admits only requests with a valid user session.
func (a *Authenticator) RequireUser(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal := a.Resolve(r)
		if principal == nil {
			writeErrorStatus(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, principal)))
	}
}

// RequireUserOrBot admits a valid user session or the bot secret. The bot
// check runs first so bot requests skip cookie resolution.
func (a *Authenticator) RequireUserOrBot(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if a.IsBot(r) {
			bot := &Principal{ID: "bot", DisplayName: "Bot", Bot: true}
			next(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, bot)))
			return
		}

		principal := a.Resolve(r)
		if principal == nil {
			writeErrorStatus(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, principal)))
	}
}

// HandleLogin starts the OIDC code flow.
func (a *Authenticator) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if a.oauth == nil {
		http.Redirect(w, r, a.homeURL, http.StatusFound)
		return
	}

	state := uuid.NewString()
	session, _ := a.store.Get(r, sessionCookieName)
	session.Values["state"] = state
	if err := session.Save(r, w); err != nil {
		writeErrorStatus(w, http.StatusInternalServerError, "failed to save session")
		return
	}

	http.Redirect(w, r, a.oauth.AuthCodeURL(state), http.StatusFound)
}

// HandleCallback finishes the code flow: verify state, exchange the code,
// verify the ID token, mint a session row and set the cookie.
func (a *Authenticator) HandleCallback(w http.ResponseWriter, r *http.Request) {
	if a.oauth == nil {
		http.Redirect(w, r, a.homeURL, http.StatusFound)
		return
	}

	session, _ := a.store.Get(r, sessionCookieName)
	wantState, _ := session.Values["state"].(string)
	if wantState == "" || r.URL.Query().Get("state") != wantState {
		writeErrorStatus(w, http.StatusBadRequest, "state mismatch")
		return
	}
	delete(session.Values, "state")

	token, err := a.oauth.Exchange(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		a.log.Error("OIDC code exchange failed", "error", err)
		writeErrorStatus(w, http.StatusUnauthorized, "code exchange failed")
		return
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		writeErrorStatus(w, http.StatusUnauthorized, "missing id_token")
		return
	}
	idToken, err := a.verifier.Verify(r.Context(), rawIDToken)
	if err != nil {
		a.log.Error("OIDC token verification failed", "error", err)
		writeErrorStatus(w, http.StatusUnauthorized, "invalid id_token")
		return
	}

	var claims struct {
		Name              string `json:"name"`
		PreferredUsername string `json:"preferred_username"`
		Picture           string `json:"picture"`
		Email             string `json:"email"`
	}
	if err := idToken.Claims(&claims); err != nil {
		writeErrorStatus(w, http.StatusUnauthorized, "bad claims")
		return
	}

	displayName := claims.Name
	if displayName == "" {
		displayName = claims.PreferredUsername
	}
	if displayName == "" {
		displayName = claims.Email
	}

	sessionToken := uuid.NewString()
	row := &gamehost.AuthSession{
		Token:       sessionToken,
		PrincipalID: idToken.Subject,
		DisplayName: displayName,
		AvatarRef:   claims.Picture,
		ExpiresAt:   time.Now().Add(sessionTTL),
	}
	if err := a.sessions.Create(r.Context(), row); err != nil {
		a.log.Error("failed to create session", "error", err)
		writeErrorStatus(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	session.Values["token"] = sessionToken
	if err := session.Save(r, w); err != nil {
		writeErrorStatus(w, http.StatusInternalServerError, "failed to save session")
		return
	}

	a.log.Info("user logged in", "principal_id", idToken.Subject)
	http.Redirect(w, r, a.homeURL, http.StatusFound)
}

// HandleLogout drops the session row and clears the cookie.
func (a *Authenticator) HandleLogout(w http.ResponseWriter, r *http.Request) {
	session, _ := a.store.Get(r, sessionCookieName)
	if token, _ := session.Values["token"].(string); token != "" {
		if err := a.sessions.Delete(r.Context(), token); err != nil {
			a.log.Debug("failed to delete session", "error", err)
		}
	}

	session.Options.MaxAge = -1
	if err := session.Save(r, w); err != nil {
		writeErrorStatus(w, http.StatusInternalServerError, "failed to clear session")
		return
	}
	writeOK(w)
}

// HandleMe returns the caller's principal.
func (a *Authenticator) HandleMe(w http.ResponseWriter, r *http.Request) {
	principal := a.Resolve(r)
	if principal == nil {
		writeErrorStatus(w, http.StatusUnauthorized, "authentication required")
		return
	}
	writeJSON(w, http.StatusOK, principal)
}
