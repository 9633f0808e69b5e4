package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
)

// OAuthProvider is the slice of the provider client the login flow needs.
// DiscordClient implements it; tests substitute a fake.
type OAuthProvider interface {
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	CurrentUser(ctx context.Context, tok *oauth2.Token) (DiscordUser, error)
}

// HandlerConfig controls cookie and login behavior.
type HandlerConfig struct {
	CookieName      string
	StateCookieName string
	CookieSecure    bool

	// BasicLoginDigest is the argon2id digest the fallback password login
	// verifies against. Empty disables basic login (always fails).
	BasicLoginDigest string

	StateTTL time.Duration

	ThrottleLimit  int
	ThrottleWindow time.Duration

	TrustProxy bool
}

func (c HandlerConfig) withDefaults() HandlerConfig {
	if c.CookieName == "" {
		c.CookieName = "plot_session"
	}
	if c.StateCookieName == "" {
		c.StateCookieName = "plot_oauth_state"
	}
	if c.StateTTL <= 0 {
		c.StateTTL = 10 * time.Minute
	}
	return c
}

// Handler wires the login endpoints over the session store, the OAuth
// provider, and the role authorizer.
type Handler struct {
	log      *slog.Logger
	cfg      HandlerConfig
	sessions *SessionStore
	provider OAuthProvider
	authz    *Authorizer

	states   *stateStore
	throttle *loginThrottle
}

// NewHandler constructs the auth Handler.
func NewHandler(log *slog.Logger, cfg HandlerConfig, sessions *SessionStore, provider OAuthProvider, authz *Authorizer) *Handler {
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Handler{
		log:      log,
		cfg:      cfg,
		sessions: sessions,
		provider: provider,
		authz:    authz,
		states:   newStateStore(),
		throttle: newLoginThrottle(cfg.ThrottleLimit, cfg.ThrottleWindow),
	}
}

// Register wires the auth routes onto mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/login/discord", h.handleLoginDiscord)
	mux.HandleFunc("/authorize/discord", h.handleAuthorizeDiscord)
	mux.HandleFunc("/login/basic", h.handleLoginBasic)
	mux.HandleFunc("/logout", h.handleLogout)
	mux.HandleFunc("/me", h.handleMe)
	mux.HandleFunc("/en", h.localeHandler("en"))
	mux.HandleFunc("/jp", h.localeHandler("ja"))
}

// PrincipalFromRequest implements the relay's session resolver: it maps the
// request's session cookie to a bound principal, if any.
func (h *Handler) PrincipalFromRequest(r *http.Request) (string, bool) {
	token, ok := h.sessionToken(r)
	if !ok {
		return "", false
	}
	s, ok := h.sessions.Lookup(token)
	if !ok || !s.Authenticated() {
		return "", false
	}
	return s.Principal.ID, true
}

// ---- handlers ----

func (h *Handler) handleLoginDiscord(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	if _, s, ok := h.currentSession(r); ok && s.Authenticated() {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	state, err := NewOpaqueToken(24)
	if err != nil {
		h.log.Error("auth.login.state.fail", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	h.states.Put(HashTokenHex(state), time.Now().UTC().Add(h.cfg.StateTTL))

	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.StateCookieName,
		Value:    state,
		Path:     "/",
		MaxAge:   int(h.cfg.StateTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.provider.AuthCodeURL(state), http.StatusSeeOther)
}

// loginOutcome is the explicit three-way result of callback handling.
type loginOutcome int

const (
	loginErrored loginOutcome = iota
	loginDenied
	loginAuthorized
)

func (h *Handler) handleAuthorizeDiscord(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	token, err := h.ensureSession(w, r)
	if err != nil {
		h.log.Error("auth.callback.session.fail", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if s, ok := h.sessions.Lookup(token); ok && s.Authenticated() {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	// A stale flash from a previous attempt must not compound with the one
	// this attempt records.
	h.sessions.ClearFlash(token)

	locale := h.locale(token, r)
	msgSuccess, msgDenied, msgErrored := loginMessages(locale)

	outcome, user, err := h.completeDiscordLogin(r.Context(), w, r)
	switch outcome {
	case loginAuthorized:
		principal, perr := NewPrincipal(time.Now().UTC())
		if perr != nil {
			h.log.Error("auth.callback.principal.fail", "err", perr)
			h.sessions.SetFlash(token, Flash{Kind: "error", Text: msgErrored})
			break
		}
		h.sessions.Update(token, func(s *Session) {
			s.Principal = &principal
			s.Username = user.DisplayName()
			s.ProviderUser = user.Raw
		})
		h.sessions.SetFlash(token, Flash{Kind: "success", Text: msgSuccess})
		h.log.Info("auth.login.success", "principal_id", principal.ID)

	case loginDenied:
		h.sessions.SetFlash(token, Flash{Kind: "error", Text: msgDenied})
		h.log.Info("auth.login.denied")

	case loginErrored:
		h.sessions.SetFlash(token, Flash{Kind: "error", Text: msgErrored})
		h.log.Info("auth.login.errored", "err", err)
	}

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// completeDiscordLogin runs the whole callback: state check, code
// exchange, role authorization, user-info fetch. The principal is bound by
// the caller only on loginAuthorized, so no failure here can leave a
// partial login behind.
func (h *Handler) completeDiscordLogin(ctx context.Context, w http.ResponseWriter, r *http.Request) (loginOutcome, DiscordUser, error) {
	q := r.URL.Query()

	if e := q.Get("error"); e != "" {
		return loginErrored, DiscordUser{}, errors.New("provider error: " + e)
	}

	state := strings.TrimSpace(q.Get("state"))
	cookie, err := r.Cookie(h.cfg.StateCookieName)
	h.expireStateCookie(w)
	if err != nil || state == "" {
		return loginErrored, DiscordUser{}, errors.New("missing oauth state")
	}
	if subtle.ConstantTimeCompare([]byte(state), []byte(cookie.Value)) != 1 {
		return loginErrored, DiscordUser{}, errors.New("oauth state mismatch")
	}
	if !h.states.Consume(HashTokenHex(state)) {
		return loginErrored, DiscordUser{}, errors.New("unknown or expired oauth state")
	}

	code := q.Get("code")
	if code == "" {
		return loginErrored, DiscordUser{}, errors.New("missing authorization code")
	}

	tok, err := h.provider.Exchange(ctx, code)
	if err != nil {
		return loginErrored, DiscordUser{}, err
	}

	if !h.authz.Authorize(ctx, tok) {
		return loginDenied, DiscordUser{}, nil
	}

	user, err := h.provider.CurrentUser(ctx, tok)
	if err != nil {
		return loginErrored, DiscordUser{}, err
	}

	return loginAuthorized, user, nil
}

func (h *Handler) handleLoginBasic(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	token, err := h.ensureSession(w, r)
	if err != nil {
		h.log.Error("auth.basic.session.fail", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if s, ok := h.sessions.Lookup(token); ok && s.Authenticated() {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	locale := h.locale(token, r)
	msgSuccess, msgIncorrect := basicLoginMessages(locale)

	if err := r.ParseForm(); err != nil {
		h.sessions.SetFlash(token, Flash{Kind: "error", Text: msgIncorrect})
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}
	username := strings.TrimSpace(r.PostFormValue("username"))
	password := r.PostFormValue("password")

	now := time.Now().UTC()
	ip := clientIP(r, h.cfg.TrustProxy)

	if h.throttle.Blocked(ip, now) {
		h.log.Info("auth.basic.throttled", "ip", ip)
		h.sessions.SetFlash(token, Flash{Kind: "error", Text: msgIncorrect})
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	ok := false
	if h.cfg.BasicLoginDigest == "" {
		// No digest configured: burn comparable work, always fail.
		dummyVerify(password)
	} else {
		ok, err = VerifyBasicDigest(password, h.cfg.BasicLoginDigest)
		if err != nil {
			h.log.Error("auth.basic.digest.fail", "err", err)
			ok = false
		}
	}

	if !ok {
		h.throttle.RecordFailure(ip, now)
		h.sessions.SetFlash(token, Flash{Kind: "error", Text: msgIncorrect})
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	principal, err := NewPrincipal(now)
	if err != nil {
		h.log.Error("auth.basic.principal.fail", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	h.sessions.Update(token, func(s *Session) {
		s.Principal = &principal
		s.Username = username
	})
	h.sessions.SetFlash(token, Flash{Kind: "success", Text: msgSuccess})
	h.log.Info("auth.basic.success", "principal_id", principal.ID)

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	// Idempotent: with no session (or an anonymous one) this is a plain
	// redirect home.
	if token, ok := h.sessionToken(r); ok {
		h.sessions.Update(token, func(s *Session) {
			s.Principal = nil
			s.Username = ""
			s.ProviderUser = nil
		})
	}

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// handleMe reports login state to the single-page client and delivers the
// pending flash exactly once.
func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	resp := meResponse{Locale: negotiateLocale(r)}
	if token, ok := h.sessionToken(r); ok {
		if s, ok := h.sessions.Lookup(token); ok {
			resp.Authenticated = s.Authenticated()
			resp.Username = s.Username
			if s.Locale != "" {
				resp.Locale = s.Locale
			}
			if f, ok := h.sessions.PopFlash(token); ok {
				resp.Flash = &f
			}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) localeHandler(locale string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if token, err := h.ensureSession(w, r); err == nil {
			h.sessions.Update(token, func(s *Session) { s.Locale = locale })
		}
		http.Redirect(w, r, "/", http.StatusSeeOther)
	}
}

type meResponse struct {
	Authenticated bool   `json:"authenticated"`
	Username      string `json:"username,omitempty"`
	Locale        string `json:"locale"`
	Flash         *Flash `json:"flash,omitempty"`
}

// ---- session plumbing ----

func (h *Handler) sessionToken(r *http.Request) (string, bool) {
	c, err := r.Cookie(h.cfg.CookieName)
	if err != nil {
		return "", false
	}
	v := strings.TrimSpace(c.Value)
	return v, v != ""
}

func (h *Handler) currentSession(r *http.Request) (string, Session, bool) {
	token, ok := h.sessionToken(r)
	if !ok {
		return "", Session{}, false
	}
	s, ok := h.sessions.Lookup(token)
	return token, s, ok
}

// ensureSession returns the live session token for the request, creating a
// session and setting the cookie when needed.
func (h *Handler) ensureSession(w http.ResponseWriter, r *http.Request) (string, error) {
	if token, ok := h.sessionToken(r); ok {
		if _, live := h.sessions.Lookup(token); live {
			return token, nil
		}
	}

	token, err := h.sessions.Create()
	if err != nil {
		return "", err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	return token, nil
}

func (h *Handler) expireStateCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.StateCookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0).UTC(),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// locale prefers the session's explicit choice (/en, /jp); until one is
// made, the browser's Accept-Language header decides.
func (h *Handler) locale(token string, r *http.Request) string {
	if s, ok := h.sessions.Lookup(token); ok && s.Locale != "" {
		return s.Locale
	}
	return negotiateLocale(r)
}

// negotiateLocale picks the best of en/ja from Accept-Language, honoring
// q weights. Unmatched or absent headers fall back to en.
func negotiateLocale(r *http.Request) string {
	best, bestQ := "en", -1.0
	for _, part := range strings.Split(r.Header.Get("Accept-Language"), ",") {
		fields := strings.Split(part, ";")
		lang := strings.ToLower(strings.TrimSpace(fields[0]))

		var match string
		switch {
		case lang == "ja" || strings.HasPrefix(lang, "ja-"):
			match = "ja"
		case lang == "en" || strings.HasPrefix(lang, "en-"):
			match = "en"
		default:
			continue
		}

		q := 1.0
		for _, f := range fields[1:] {
			if v, ok := strings.CutPrefix(strings.TrimSpace(f), "q="); ok {
				if parsed, err := strconv.ParseFloat(v, 64); err == nil {
					q = parsed
				}
			}
		}
		if q > bestQ {
			best, bestQ = match, q
		}
	}
	return best
}

// ---- localized flash texts (carried from the original client) ----

func loginMessages(locale string) (success, denied, errored string) {
	if locale == "ja" {
		return "ログインに成功しました！",
			"Discordアカウントには、ログインの権限がありません。",
			"ログインにエラーが発生しました。"
	}
	return "Success!",
		"Your Discord account does not have permission to login.",
		"There was an error logging in."
}

func basicLoginMessages(locale string) (success, incorrect string) {
	if locale == "ja" {
		return "ログインに成功しました！", "パスワードが正しくない。"
	}
	return "Success!", "The password you entered was incorrect."
}

// ---- helpers ----

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// stateStore tracks hashed pending OAuth state values with expiry.
type stateStore struct {
	mu      sync.Mutex
	pending map[string]time.Time
}

func newStateStore() *stateStore {
	return &stateStore{pending: make(map[string]time.Time)}
}

// Put records a pending state hash.
func (st *stateStore) Put(hash string, expiresAt time.Time) {
	st.mu.Lock()
	defer st.mu.Unlock()

	// Opportunistic sweep keeps abandoned login attempts from piling up.
	now := time.Now().UTC()
	for k, exp := range st.pending {
		if !exp.After(now) {
			delete(st.pending, k)
		}
	}
	st.pending[hash] = expiresAt
}

// Consume removes the state hash and reports whether it was live.
func (st *stateStore) Consume(hash string) bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	exp, ok := st.pending[hash]
	if !ok {
		return false
	}
	delete(st.pending, hash)
	return exp.After(time.Now().UTC())
}
