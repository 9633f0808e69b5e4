package auth

import (
	"sync"
	"time"
)

// Flash is a one-shot user-visible notice stored on the session and
// consumed by the next page render.
type Flash struct {
	Kind string `json:"kind"` // "success" or "error"
	Text string `json:"text"`
}

// Session is the server-side state bound to one browser. A nil Principal
// means the session exists (locale, flashes) but is not logged in.
type Session struct {
	Principal *Principal
	Username  string
	Locale    string

	// ProviderUser caches the raw provider user-info document captured at
	// login; cleared on logout.
	ProviderUser map[string]any

	flash     *Flash
	expiresAt time.Time
}

// Authenticated reports whether a Principal is bound.
func (s *Session) Authenticated() bool {
	return s != nil && s.Principal != nil
}

// SessionStore keeps sessions in memory, keyed by the hash of the opaque
// cookie token. Everything here is process-lifetime state; there is no
// persistence by design.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
	now      func() time.Time
}

// DefaultSessionTTL bounds how long an idle session survives.
const DefaultSessionTTL = 24 * time.Hour

// NewSessionStore constructs an empty store. now may be nil.
func NewSessionStore(ttl time.Duration, now func() time.Time) *SessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &SessionStore{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		now:      now,
	}
}

// Create mints a new empty session and returns the raw cookie token.
// Only the token hash is retained server-side.
func (st *SessionStore) Create() (string, error) {
	token, err := NewOpaqueToken(32)
	if err != nil {
		return "", err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	st.sessions[HashTokenHex(token)] = &Session{
		expiresAt: st.now().Add(st.ttl),
	}
	return token, nil
}

// Lookup returns a snapshot of the session for token, sliding its expiry.
func (st *SessionStore) Lookup(token string) (Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.get(token)
	if !ok {
		return Session{}, false
	}
	s.expiresAt = st.now().Add(st.ttl)
	return *s, true
}

// Update applies fn to the session for token under the store lock.
// Returns false when the session does not exist or has expired.
func (st *SessionStore) Update(token string, fn func(*Session)) bool {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.get(token)
	if !ok {
		return false
	}
	fn(s)
	s.expiresAt = st.now().Add(st.ttl)
	return true
}

// Delete removes the session for token; absent sessions are a no-op.
func (st *SessionStore) Delete(token string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.sessions, HashTokenHex(token))
}

// SetFlash records the pending notice, replacing any previous one.
func (st *SessionStore) SetFlash(token string, f Flash) bool {
	return st.Update(token, func(s *Session) { s.flash = &f })
}

// PopFlash consumes and returns the pending notice, if any.
func (st *SessionStore) PopFlash(token string) (Flash, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	s, ok := st.get(token)
	if !ok || s.flash == nil {
		return Flash{}, false
	}
	f := *s.flash
	s.flash = nil
	return f, true
}

// ClearFlash drops any stale notice without returning it. Called at the
// start of OAuth callback handling so leftovers from a previous attempt
// cannot compound across retries.
func (st *SessionStore) ClearFlash(token string) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if s, ok := st.get(token); ok {
		s.flash = nil
	}
}

// Sweep drops expired sessions and returns how many were removed.
func (st *SessionStore) Sweep() int {
	st.mu.Lock()
	defer st.mu.Unlock()

	now := st.now()
	removed := 0
	for key, s := range st.sessions {
		if !s.expiresAt.After(now) {
			delete(st.sessions, key)
			removed++
		}
	}
	return removed
}

// Len returns the live session count (expired ones included until swept).
func (st *SessionStore) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// get must be called with st.mu held. Expired sessions are removed lazily.
func (st *SessionStore) get(token string) (*Session, bool) {
	key := HashTokenHex(token)
	s, ok := st.sessions[key]
	if !ok {
		return nil, false
	}
	if !s.expiresAt.After(st.now()) {
		delete(st.sessions, key)
		return nil, false
	}
	return s, true
}
