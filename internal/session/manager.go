// Package session owns the authority session lifecycle: the state machine
// around the single active session, serialized open/close transitions, and
// the one-shot transparent reopen after authority-side expiry.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rezonia/einvoice-gateway/internal/authority"
	"github.com/rezonia/einvoice-gateway/internal/metrics"
	"github.com/rezonia/einvoice-gateway/internal/model"
	"github.com/rezonia/einvoice-gateway/internal/retry"
)

// Manager owns the single SessionContext of a client instance. Lifecycle
// transitions are mutually exclusive under the manager's mutex; operations
// that need a live session suspend until any in-flight transition completes,
// then run concurrently against the open session.
type Manager struct {
	api     *authority.Client
	auth    *Authenticator
	cred    model.Credential
	policy  retry.Policy
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu      sync.Mutex
	current model.SessionContext
}

// ManagerOption configures the manager.
type ManagerOption func(*Manager)

// WithRetryPolicy sets the retry policy for session-lifecycle calls.
func WithRetryPolicy(p retry.Policy) ManagerOption {
	return func(m *Manager) {
		m.policy = p
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(mx *metrics.Metrics) ManagerOption {
	return func(m *Manager) {
		m.metrics = mx
	}
}

// WithClock overrides the time source, for expiry tests.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a session manager for one credential. The session is
// opened lazily on first use.
func NewManager(api *authority.Client, cred model.Credential, opts ...ManagerOption) *Manager {
	m := &Manager{
		api:     api,
		cred:    cred,
		policy:  retry.DefaultPolicy(),
		logger:  slog.Default(),
		metrics: metrics.Nop(),
		now:     time.Now,
		current: model.SessionContext{State: model.SessionClosed},
	}
	for _, opt := range opts {
		opt(m)
	}
	m.auth = NewAuthenticator(api, m.policy)
	return m
}

// State returns the current lifecycle state.
func (m *Manager) State() model.SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current.State
}

// Current returns a live session context, opening a session first if none is
// open. Concurrent callers serialize on the lifecycle mutex, so at most one
// open is ever in flight and at most one session is ever open.
func (m *Manager) Current(ctx context.Context) (model.SessionContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current.Live(m.now()) {
		return m.current, nil
	}
	return m.openLocked(ctx)
}

// openLocked runs the Closed -> Opening -> Open transition. Callers hold mu.
func (m *Manager) openLocked(ctx context.Context) (model.SessionContext, error) {
	m.current = model.SessionContext{State: model.SessionOpening}

	token, err := m.auth.Authenticate(ctx, m.cred)
	if err != nil {
		m.current = model.SessionContext{State: model.SessionClosed}
		return model.SessionContext{}, err
	}

	var opened *authority.OpenSessionResponse
	err = m.policy.Do(ctx, func(ctx context.Context) error {
		resp, err := m.api.OpenSession(ctx, token.AccessToken)
		if err != nil {
			return err
		}
		opened = resp
		return nil
	})
	if err != nil {
		m.current = model.SessionContext{State: model.SessionClosed}
		return model.SessionContext{}, model.NewError(model.KindSessionOpenFailed, "could not open authority session", err)
	}

	m.current = model.SessionContext{
		State:                  model.SessionOpen,
		AccessToken:            token.AccessToken,
		SessionReferenceNumber: opened.SessionReferenceNumber,
		OpenedAt:               m.now(),
		ExpiresAt:              token.ExpiresAt,
	}
	m.metrics.SessionsOpened.Inc()
	m.logger.Info("authority session opened",
		"session_ref", opened.SessionReferenceNumber,
		"expires_at", token.ExpiresAt,
	)
	return m.current, nil
}

// Invalidate marks the session expired if ref still names the current
// session. Called by operations that observe an expiry response; a later
// Current reopens.
func (m *Manager) Invalidate(sessionRef string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current.State == model.SessionOpen && m.current.SessionReferenceNumber == sessionRef {
		m.current.State = model.SessionExpired
		m.logger.Info("authority session marked expired", "session_ref", sessionRef)
	}
}

// Close tears the session down: Open -> Closing -> Closed. The close call is
// best-effort with a single attempt; the session is considered closed locally
// even when the call fails, since authority-side sessions time out on their
// own. This keeps the client able to open a fresh session afterwards.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current.State != model.SessionOpen && m.current.State != model.SessionExpired {
		m.current = model.SessionContext{State: model.SessionClosed}
		return nil
	}

	sc := m.current
	m.current.State = model.SessionClosing

	err := m.api.CloseSession(ctx, sc.AccessToken, sc.SessionReferenceNumber)
	m.current = model.SessionContext{State: model.SessionClosed}
	if err != nil {
		m.logger.Warn("session close failed, session considered closed locally",
			"session_ref", sc.SessionReferenceNumber,
			"error", err,
		)
		return err
	}
	m.logger.Info("authority session closed", "session_ref", sc.SessionReferenceNumber)
	return nil
}

// Do runs op with a live session context. When op observes an authority
// response indicating session expiry, the manager reopens a session and
// re-attempts op exactly once; a second expiry is surfaced to the caller.
func (m *Manager) Do(ctx context.Context, op func(ctx context.Context, sc model.SessionContext) error) error {
	sc, err := m.Current(ctx)
	if err != nil {
		return err
	}

	err = op(ctx, sc)
	if err == nil || retry.Classify(err) != retry.ClassSessionExpired {
		return err
	}

	m.Invalidate(sc.SessionReferenceNumber)
	m.metrics.SessionReopens.Inc()
	m.logger.Info("session expired mid-operation, reopening once",
		"session_ref", sc.SessionReferenceNumber,
	)

	sc, reopenErr := m.Current(ctx)
	if reopenErr != nil {
		return reopenErr
	}
	if err = op(ctx, sc); err != nil && retry.Classify(err) == retry.ClassSessionExpired {
		return model.NewError(model.KindSessionExpired, "session expired again after reopen", err)
	}
	return err
}
