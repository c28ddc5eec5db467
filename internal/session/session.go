// Package session owns the authentication lifecycle: credentials, server
// capability negotiation, login/logout and expiry.
//
// States move Anonymous -> Authenticating (credentials set) -> Authenticated
// (server info and permissions loaded) and back to Anonymous on Logout.
// Every SetAuth and Logout advances an epoch; results of capability fetches
// started under an older epoch are discarded.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/fakeyudi/kintoadm/internal/auth"
	"github.com/fakeyudi/kintoadm/internal/kinto"
	"github.com/fakeyudi/kintoadm/internal/notify"
	"github.com/fakeyudi/kintoadm/internal/storage"
)

// AuthKey is the store key holding the persisted credentials.
const AuthKey = "session"

var (
	// ErrNoAuth is returned when an operation needs credentials and none are set.
	ErrNoAuth = errors.New("not logged in")
	// ErrStaleResponse is returned when a capability fetch completed after the
	// credentials it was started for were replaced or logged out.
	ErrStaleResponse = errors.New("session changed while fetching server info")
	// ErrAuthenticationFailed is returned when the server did not recognise
	// the credentials.
	ErrAuthenticationFailed = errors.New("authentication failed")
)

// State is the lifecycle state of the session.
type State int

const (
	StateAnonymous State = iota
	StateAuthenticating
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateAnonymous:
		return "anonymous"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Session is a snapshot of the session state.
type Session struct {
	State         State
	Auth          auth.Credentials
	ServerInfo    *kinto.ServerInfo
	Permissions   []kinto.PermissionEntry
	Authenticated bool
}

// Client is the part of the API client used for capability negotiation.
type Client interface {
	ServerInfo(ctx context.Context) (*kinto.ServerInfo, error)
	ListPermissions(ctx context.Context) ([]kinto.PermissionEntry, error)
}

// ClientFactory builds a client configured for creds.
type ClientFactory func(creds auth.Credentials) Client

// Manager is the session state machine.
type Manager struct {
	mu        sync.Mutex
	store     *storage.Store
	servers   *storage.ServerHistory
	bus       *notify.Bus
	newClient ClientFactory
	logger    arbor.ILogger
	now       func() time.Time

	epoch  uint64
	sess   Session
	client Client

	subs    map[int]func(Session)
	nextSub int
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets a logger.
func WithLogger(logger arbor.ILogger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithClock replaces the wall clock used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager returns a Manager in the anonymous state.
func NewManager(store *storage.Store, servers *storage.ServerHistory, bus *notify.Bus, newClient ClientFactory, opts ...Option) *Manager {
	m := &Manager{
		store:     store,
		servers:   servers,
		bus:       bus,
		newClient: newClient,
		logger:    arbor.NewLogger(),
		now:       time.Now,
		subs:      make(map[int]func(Session)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Subscribe registers fn to receive a snapshot after every transition.
func (m *Manager) Subscribe(fn func(Session)) func() {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// Snapshot returns the current session. Credentials past their expiry read
// as an empty session.
func (m *Manager) Snapshot() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Client returns the client configured for the current credentials.
func (m *Manager) Client() (Client, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.client == nil || m.expiredLocked() {
		return nil, ErrNoAuth
	}
	return m.client, nil
}

// SetAuth normalises creds, persists them, records the server in the server
// history and reconfigures the client. It does not contact the server.
func (m *Manager) SetAuth(creds auth.Credentials) error {
	if creds == nil {
		return ErrNoAuth
	}
	normalized, err := auth.FromRecord(auth.ToRecord(creds))
	if err != nil {
		return err
	}
	return m.setAuth(normalized)
}

// SetAuthRecord is SetAuth for the wire form of the credentials.
func (m *Manager) SetAuthRecord(rec auth.Record) error {
	creds, err := auth.FromRecord(rec)
	if err != nil {
		return err
	}
	return m.setAuth(creds)
}

func (m *Manager) setAuth(creds auth.Credentials) error {
	if err := m.store.SetJSON(AuthKey, auth.ToRecord(creds)); err != nil {
		return err
	}
	if m.servers != nil {
		if _, err := m.servers.Add(creds.ServerURL(), historyAuthType(creds)); err != nil {
			m.logger.Warn().Err(err).Msg("Failed to record server history")
		}
	}

	m.mu.Lock()
	m.epoch++
	m.client = m.newClient(creds)
	m.sess = Session{State: StateAuthenticating, Auth: creds}
	snap, subs := m.snapshotLocked(), m.subscribersLocked()
	m.mu.Unlock()

	m.logger.Info().
		Str("server", creds.ServerURL()).
		Str("auth_type", creds.Method()).
		Msg("Credentials set")
	publish(snap, subs)
	return nil
}

// FetchServerInfo negotiates capabilities with the configured server. On
// success the session becomes authenticated. On failure a notification is
// raised and the session reverts to anonymous, keeping the credentials so the
// fetch can be retried.
func (m *Manager) FetchServerInfo(ctx context.Context) error {
	m.mu.Lock()
	if m.sess.Auth == nil || m.client == nil {
		m.mu.Unlock()
		return ErrNoAuth
	}
	epoch := m.epoch
	client := m.client
	creds := m.sess.Auth
	m.mu.Unlock()

	info, err := client.ServerInfo(ctx)
	if err == nil && requiresUser(creds) && info.User == nil {
		err = ErrAuthenticationFailed
	}
	if kinto.IsStatus(err, http.StatusUnauthorized) {
		err = fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
	}

	var perms []kinto.PermissionEntry
	var permErr error
	if err == nil && info.HasCapability("permissions_endpoint") {
		perms, permErr = client.ListPermissions(ctx)
	}

	m.mu.Lock()
	if epoch != m.epoch {
		m.mu.Unlock()
		m.logger.Debug().Str("server", creds.ServerURL()).Msg("Discarding stale server info response")
		return ErrStaleResponse
	}
	if err != nil {
		m.sess = Session{State: StateAnonymous, Auth: creds}
		snap, subs := m.snapshotLocked(), m.subscribersLocked()
		m.mu.Unlock()

		if errors.Is(err, ErrAuthenticationFailed) {
			if rmErr := m.store.Remove(AuthKey); rmErr != nil {
				m.logger.Warn().Err(rmErr).Msg("Failed to clear rejected credentials")
			}
			m.bus.Error("Authentication failed", err)
		} else {
			m.bus.Error("Could not reach server "+creds.ServerURL(), err)
		}
		publish(snap, subs)
		return err
	}
	if perms == nil {
		perms = []kinto.PermissionEntry{}
	}
	m.sess = Session{
		State:         StateAuthenticated,
		Auth:          creds,
		ServerInfo:    info,
		Permissions:   perms,
		Authenticated: true,
	}
	snap, subs := m.snapshotLocked(), m.subscribersLocked()
	m.mu.Unlock()

	if permErr != nil {
		m.bus.Warning("Could not load permissions", permErr)
	}
	m.logger.Info().
		Str("server", creds.ServerURL()).
		Str("user", userID(info)).
		Msg("Session authenticated")
	publish(snap, subs)
	return nil
}

// Setup sets creds and negotiates capabilities with the server.
func (m *Manager) Setup(ctx context.Context, creds auth.Credentials) error {
	if err := m.SetAuth(creds); err != nil {
		return err
	}
	return m.FetchServerInfo(ctx)
}

// Resume restores the persisted session. It reports false, without error,
// when there is nothing to resume: no persisted credentials, unreadable
// credentials, or a token past its expiry.
func (m *Manager) Resume(ctx context.Context) (bool, error) {
	var rec auth.Record
	if !m.store.GetJSON(AuthKey, &rec) {
		return false, nil
	}
	creds, err := auth.FromRecord(rec)
	if err != nil {
		m.logger.Warn().Err(err).Msg("Ignoring unreadable persisted credentials")
		return false, nil
	}
	if auth.Expired(creds, m.now()) {
		m.logger.Info().Str("server", creds.ServerURL()).Msg("Persisted session expired")
		if err := m.store.Remove(AuthKey); err != nil {
			m.logger.Warn().Err(err).Msg("Failed to clear expired credentials")
		}
		return false, nil
	}
	if err := m.setAuth(creds); err != nil {
		return false, err
	}
	return true, m.FetchServerInfo(ctx)
}

// Logout forgets the credentials, server info, permissions and the session's
// notifications. Calling it again is a no-op.
func (m *Manager) Logout() error {
	err := m.store.Remove(AuthKey)

	m.mu.Lock()
	m.epoch++
	wasEmpty := m.sess.Auth == nil
	m.sess = Session{}
	m.client = nil
	snap, subs := m.snapshotLocked(), m.subscribersLocked()
	m.mu.Unlock()

	m.bus.Clear()
	if !wasEmpty {
		m.logger.Info().Msg("Logged out")
		publish(snap, subs)
	}
	return err
}

// Reset returns the in-memory state to its initial value and drops
// subscribers. Persisted state is left alone.
func (m *Manager) Reset() {
	m.mu.Lock()
	m.epoch++
	m.sess = Session{}
	m.client = nil
	m.subs = make(map[int]func(Session))
	m.mu.Unlock()
}

func (m *Manager) snapshotLocked() Session {
	if m.expiredLocked() {
		return Session{}
	}
	s := m.sess
	s.Permissions = slices.Clone(s.Permissions)
	return s
}

func (m *Manager) expiredLocked() bool {
	return m.sess.Auth != nil && auth.Expired(m.sess.Auth, m.now())
}

func (m *Manager) subscribersLocked() []func(Session) {
	subs := make([]func(Session), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	return subs
}

func publish(s Session, subs []func(Session)) {
	for _, fn := range subs {
		fn(s)
	}
}

// historyAuthType is the auth type remembered for a server: provider
// prefixed for openid so the provider can be preselected next time.
func historyAuthType(creds auth.Credentials) string {
	switch v := creds.(type) {
	case auth.Token:
		if v.Type == auth.MethodOpenID && v.Provider != "" {
			return auth.MethodOpenID + "-" + v.Provider
		}
		return v.Type
	case auth.Basic:
		return v.Type
	case auth.Anonymous:
		return auth.MethodAnonymous
	default:
		panic(fmt.Sprintf("session: unknown credentials type %T", creds))
	}
}

// requiresUser reports whether the server must recognise a user for creds.
func requiresUser(creds auth.Credentials) bool {
	switch creds.(type) {
	case auth.Anonymous:
		return false
	case auth.Basic, auth.Token:
		return true
	default:
		panic(fmt.Sprintf("session: unknown credentials type %T", creds))
	}
}

func userID(info *kinto.ServerInfo) string {
	if info == nil || info.User == nil {
		return ""
	}
	return info.User.ID
}
