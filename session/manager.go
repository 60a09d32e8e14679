package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jrsteele09/mailsentry-console/credentials"
	"github.com/jrsteele09/mailsentry-console/gateway"
	"github.com/jrsteele09/mailsentry-console/internal/config"
	"github.com/jrsteele09/mailsentry-console/internal/errors"
	"github.com/jrsteele09/mailsentry-console/notify"
	"github.com/rs/zerolog/log"
)

const (
	bearerPrefix = "Bearer "

	msgLoginFallback   = "network error, please try again later"
	msgLoginSucceeded  = "login successful"
	msgLoginMalformed  = "login response was incomplete"
	msgLoginRejected   = "login failed"
	msgLoggedOut       = "logged out"
	defaultExpiryAhead = 5 * time.Minute
)

// AuthAPI is the backend authentication surface the manager calls.
type AuthAPI interface {
	Login(ctx context.Context, credentials gateway.Credentials) (*gateway.Envelope, error)
	Logout(ctx context.Context, authHeader string) error
	VerifyToken(ctx context.Context) (*gateway.Envelope, error)
}

// Listener is told when a session starts or ends.
type Listener interface {
	SessionStarted(p Principal)
	SessionEnded()
}

// LoginError is returned by Login. Message is suitable for display.
type LoginError struct {
	Message string
	Err     error
}

func (e *LoginError) Error() string { return e.Message }
func (e *LoginError) Unwrap() error { return e.Err }

// Manager owns the authenticated session. One manager is constructed per process and is the only
// writer of the credential; the gateway and realtime client read it.
//
// Invariant: token and principal are both set or both empty, in memory and in the store.
type Manager struct {
	store           credentials.Store
	api             AuthAPI
	notifier        notify.Notifier
	nowTime         func() time.Time
	expiryThreshold time.Duration

	listenersMu sync.RWMutex
	listeners   []Listener

	mu        sync.RWMutex
	token     string
	principal *Principal
}

// ManagerOption defines a function type to modify the Manager instance.
type ManagerOption func(*Manager)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.nowTime = nowFunc
	}
}

// WithSessionConfig applies the configured expiry warning threshold.
func WithSessionConfig(cfg config.SessionConfig) ManagerOption {
	return func(m *Manager) {
		m.expiryThreshold = cfg.GetExpiryWarningThreshold()
	}
}

// NewManager creates the session manager and restores any session persisted in store.
func NewManager(store credentials.Store, api AuthAPI, notifier notify.Notifier, options ...ManagerOption) (*Manager, error) {
	if store == nil {
		return nil, errors.New("[NewManager] store is required")
	}
	if api == nil {
		return nil, errors.New("[NewManager] auth api is required")
	}
	if notifier == nil {
		return nil, errors.New("[NewManager] notifier is required")
	}

	m := &Manager{
		store:           store,
		api:             api,
		notifier:        notifier,
		nowTime:         time.Now,
		expiryThreshold: defaultExpiryAhead,
	}
	for _, opt := range options {
		opt(m)
	}

	m.restore()
	return m, nil
}

// AddListener registers l for session start and end events.
func (m *Manager) AddListener(l Listener) {
	m.listenersMu.Lock()
	defer m.listenersMu.Unlock()
	m.listeners = append(m.listeners, l)
}

func (m *Manager) IsAuthenticated() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token != "" && m.principal != nil
}

// CurrentUser returns a copy of the principal, or nil when unauthenticated.
func (m *Manager) CurrentUser() *Principal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.principal == nil {
		return nil
	}
	p := *m.principal
	return &p
}

// Token returns the raw credential, or "" when unauthenticated.
func (m *Manager) Token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token
}

// AuthHeader returns the Authorization header value for the current credential, or "".
func (m *Manager) AuthHeader() string {
	token := m.Token()
	if token == "" {
		return ""
	}
	return bearerPrefix + token
}

// Login submits credentials. On success the session is set and persisted and the principal is
// returned. Failures are returned as *LoginError; a rejected login wraps errors.ErrLoginRejected
// and leaves the session unchanged.
func (m *Manager) Login(ctx context.Context, creds gateway.Credentials) (*Principal, error) {
	env, err := m.api.Login(ctx, creds)
	if err != nil {
		log.Err(err).Str("username", creds.Username).Msg("login request failed")
		msg := msgLoginFallback
		var gwErr *gateway.Error
		if errors.As(err, &gwErr) && gwErr.Kind != gateway.KindNetworkUnavailable && gwErr.Kind != gateway.KindClientFault {
			msg = gwErr.Message
		}
		m.notifier.Notify(notify.Error(msg))
		return nil, &LoginError{Message: msg, Err: err}
	}

	if !env.Success {
		log.Info().Str("username", creds.Username).Str("message", env.Message).Msg("login rejected")
		msg := orDefault(env.Message, msgLoginRejected)
		m.notifier.Notify(notify.Error(msg))
		return nil, &LoginError{Message: msg, Err: errors.ErrLoginRejected}
	}

	data, err := gateway.DecodeData[loginData](env)
	if err != nil || data.Token == "" || data.User == nil {
		log.Error().AnErr("decode", err).Msg("login response missing token or user")
		m.notifier.Notify(notify.Error(msgLoginMalformed))
		return nil, &LoginError{Message: msgLoginMalformed, Err: errors.ErrLoginRejected}
	}

	principal := *data.User
	m.mu.Lock()
	m.token = data.Token
	m.principal = &principal
	m.persistLocked()
	m.mu.Unlock()

	log.Info().Int64("user_id", principal.ID).Str("username", principal.Username).Msg("logged in")
	m.notifier.Notify(notify.Success(orDefault(env.Message, msgLoginSucceeded)))
	m.sessionStarted(principal)
	return &principal, nil
}

// Logout tells the backend on a best effort basis, then clears the session and the store. It is
// safe to call on an empty session.
func (m *Manager) Logout(ctx context.Context) {
	if header := m.AuthHeader(); header != "" {
		if err := m.api.Logout(ctx, header); err != nil {
			log.Warn().Err(err).Msg("backend logout failed, clearing local session anyway")
		}
	}

	m.mu.Lock()
	wasAuthenticated := m.token != ""
	m.token = ""
	m.principal = nil
	m.clearStoreLocked()
	m.mu.Unlock()

	m.notifier.Notify(notify.Info(msgLoggedOut))
	if wasAuthenticated {
		log.Info().Msg("logged out")
		m.sessionEnded()
	}
}

// VerifyToken asks the backend whether the held credential is still valid and refreshes the
// principal when it is. A rejected credential logs the session out. An unreachable backend
// returns false and leaves the session as it was.
func (m *Manager) VerifyToken(ctx context.Context) bool {
	token := m.Token()
	if token == "" {
		return false
	}

	env, err := m.api.VerifyToken(ctx)
	if err != nil {
		if kind, ok := gateway.KindOf(err); ok && kind == gateway.KindUnauthorized {
			log.Info().Msg("credential rejected by backend")
			m.logoutIfCurrent(ctx, token)
			return false
		}
		log.Warn().Err(err).Msg("token verification unavailable, keeping session")
		return false
	}

	if !env.Success {
		log.Info().Str("message", env.Message).Msg("credential rejected by backend")
		m.logoutIfCurrent(ctx, token)
		return false
	}

	data, err := gateway.DecodeData[verifyData](env)
	if err != nil || data.User == nil {
		log.Warn().AnErr("decode", err).Msg("verify response missing user, keeping session")
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token != token {
		// Logged out or replaced while the request was in flight.
		return false
	}
	principal := *data.User
	m.principal = &principal
	m.persistLocked()
	return true
}

// InitAuth is the startup hook. A restored credential is verified; a rejected one is already
// cleared by VerifyToken. It reports whether a session survived and announces it to listeners.
func (m *Manager) InitAuth(ctx context.Context) bool {
	if m.Token() == "" {
		return false
	}
	m.VerifyToken(ctx)

	p := m.CurrentUser()
	if p == nil || !m.IsAuthenticated() {
		return false
	}
	m.sessionStarted(*p)
	return true
}

// CheckExpiry reports whether the credential expires within the warning threshold. It is
// advisory only and never changes the session. An undecodable credential counts as expiring.
func (m *Manager) CheckExpiry() bool {
	token := m.Token()
	if token == "" {
		return false
	}
	exp, err := DecodeExpiry(token)
	if err != nil {
		log.Warn().Err(err).Msg("cannot decode credential expiry")
		return true
	}
	return exp.Sub(m.nowTime()) < m.expiryThreshold
}

// ExpiresAt returns the credential's embedded expiry.
func (m *Manager) ExpiresAt() (time.Time, error) {
	token := m.Token()
	if token == "" {
		return time.Time{}, errors.ErrNoCredential
	}
	return DecodeExpiry(token)
}

func (m *Manager) logoutIfCurrent(ctx context.Context, token string) {
	// The gateway has already logged out on a 401; avoid a second round.
	if m.Token() != token {
		return
	}
	m.Logout(ctx)
}

func (m *Manager) restore() {
	token, tokenErr := m.store.Get(credentials.TokenKey)
	rawUser, userErr := m.store.Get(credentials.UserKey)

	if errors.Is(tokenErr, credentials.ErrNotFound) && errors.Is(userErr, credentials.ErrNotFound) {
		return
	}

	if tokenErr == nil && userErr == nil && token != "" {
		var principal *Principal
		userErr = json.Unmarshal([]byte(rawUser), &principal)
		if userErr == nil && principal == nil {
			userErr = fmt.Errorf("%w: stored user is null", errors.ErrCorruptStore)
		}
		if userErr == nil {
			m.mu.Lock()
			m.token = token
			m.principal = principal
			m.mu.Unlock()
			log.Debug().Str("username", principal.Username).Msg("restored persisted session")
			return
		}
	}

	log.Warn().AnErr("token", tokenErr).AnErr("user", userErr).Msg("discarding incomplete persisted session")
	m.mu.Lock()
	m.clearStoreLocked()
	m.mu.Unlock()
}

func (m *Manager) persistLocked() {
	rawUser, err := json.Marshal(m.principal)
	if err != nil {
		log.Err(err).Msg("failed to encode principal")
		return
	}
	if err := m.store.Put(map[string]string{
		credentials.TokenKey: m.token,
		credentials.UserKey:  string(rawUser),
	}); err != nil {
		log.Err(err).Msg("failed to persist session")
	}
}

func (m *Manager) clearStoreLocked() {
	if err := m.store.Delete(credentials.TokenKey, credentials.UserKey); err != nil {
		log.Err(err).Msg("failed to clear persisted session")
	}
}

func (m *Manager) snapshotListeners() []Listener {
	m.listenersMu.RLock()
	defer m.listenersMu.RUnlock()
	out := make([]Listener, len(m.listeners))
	copy(out, m.listeners)
	return out
}

func (m *Manager) sessionStarted(p Principal) {
	for _, l := range m.snapshotListeners() {
		l.SessionStarted(p)
	}
}

func (m *Manager) sessionEnded() {
	for _, l := range m.snapshotListeners() {
		l.SessionEnded()
	}
}

func orDefault(message, fallback string) string {
	if message != "" {
		return message
	}
	return fallback
}
