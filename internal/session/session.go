// Package session owns the authenticated Instagram sessions: one Session per
// configured account, plus the Pool that hands them out one borrower at a time.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/DeadLemon/reelsbot/internal/instagram"
	"github.com/DeadLemon/reelsbot/internal/sessionfile"
)

var (
	// ErrAuthenticationFailed means a full credential login failed; the
	// account is unusable for the rest of the process run.
	ErrAuthenticationFailed = errors.New("session: authentication failed")
	// ErrAuthorizationExpired means the service rejected a previously valid
	// session mid-use; the session was invalidated and will re-login lazily.
	ErrAuthorizationExpired = errors.New("session: authorization expired")
	// ErrMediaUnavailable means the fetch itself failed (deleted, private,
	// malformed id) with the session still healthy.
	ErrMediaUnavailable = errors.New("session: media unavailable")
)

type status int

const (
	statusUnvalidated status = iota
	statusValid
	statusInvalid
	statusFailed
)

func (s status) String() string {
	switch s {
	case statusValid:
		return "valid"
	case statusInvalid:
		return "invalid"
	case statusFailed:
		return "failed"
	default:
		return "unvalidated"
	}
}

// Session is the in-process representation of one authenticated account.
// All validation runs under an internal mutex, so concurrent EnsureValid
// calls serialize instead of racing logins.
type Session struct {
	client instagram.Client
	store  sessionfile.Store
	path   string
	logger *slog.Logger

	mu         sync.Mutex
	status     status
	loginCount int
}

func New(client instagram.Client, path string, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		client: client,
		path:   path,
		logger: logger.With("account", client.Username()),
	}
}

func (s *Session) Username() string { return s.client.Username() }

// LoginCount reports how many full credential logins this session has
// performed. Exposed for observability.
func (s *Session) LoginCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loginCount
}

// EnsureValid makes the session usable, running the full validation protocol
// when needed: load persisted state, probe it, reset to device identity on an
// authorization failure, and fall back to a credential login. A session that
// failed a credential login stays failed for the process lifetime.
func (s *Session) EnsureValid(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.status {
	case statusValid:
		return nil
	case statusFailed:
		return fmt.Errorf("%w: %s", ErrAuthenticationFailed, s.Username())
	}
	return s.validateLocked(ctx)
}

func (s *Session) validateLocked(ctx context.Context) error {
	st, err := s.store.Load(s.path)
	switch {
	case err == nil:
		s.client.SetState(st)
		probeErr := s.client.Timeline(ctx)
		if probeErr == nil {
			s.status = statusValid
			s.logger.Info("session_restored", "path", s.path)
			return nil
		}
		if !instagram.IsAuthError(probeErr) {
			// Transient failure: leave the state machine untouched so the
			// next acquisition retries the same protocol.
			return fmt.Errorf("session: probe %s: %w", s.Username(), probeErr)
		}
		s.logger.Warn("session_probe_rejected", "error", probeErr.Error())
		// Keep the device identity so the service does not see a brand new
		// device on re-login; only the cookies and token are discarded.
		identity := s.client.State().IdentityOnly()
		s.client.SetState(identity)
		if saveErr := s.store.Save(s.path, identity); saveErr != nil {
			return fmt.Errorf("session: persist identity for %s: %w", s.Username(), saveErr)
		}
	case errors.Is(err, sessionfile.ErrNotFound), errors.Is(err, sessionfile.ErrCorrupt):
		s.logger.Warn("session_state_reset", "path", s.path, "error", err.Error())
		s.client.SetState(sessionfile.State{})
		if touchErr := s.store.Touch(s.path); touchErr != nil {
			return fmt.Errorf("session: touch %s: %w", s.path, touchErr)
		}
	default:
		return fmt.Errorf("session: load %s: %w", s.path, err)
	}

	return s.loginLocked(ctx)
}

func (s *Session) loginLocked(ctx context.Context) error {
	s.logger.Info("session_login_start")
	s.loginCount++
	if err := s.client.Login(ctx); err != nil {
		var apiErr *instagram.APIError
		if errors.As(err, &apiErr) &&
			(apiErr.Kind == instagram.KindBadCredentials || apiErr.Kind == instagram.KindChallenge) {
			// The service itself refused the credentials (or demanded a
			// challenge): retrying with the same configuration cannot help.
			s.status = statusFailed
			s.logger.Error("session_login_failed", "kind", apiErr.Kind.String(), "error", err.Error())
			return fmt.Errorf("%w: %s: %v", ErrAuthenticationFailed, s.Username(), err)
		}
		// Anything else, a 5xx included, is transient: leave the state
		// machine untouched so the next acquisition retries.
		return fmt.Errorf("session: login %s: %w", s.Username(), err)
	}
	if err := s.store.Save(s.path, s.client.State()); err != nil {
		return fmt.Errorf("session: persist state for %s: %w", s.Username(), err)
	}
	s.status = statusValid
	s.logger.Info("session_login_ok")
	return nil
}

// Invalidate forces the session back through the full validation protocol on
// its next use. Called when a borrower reports an authorization failure.
func (s *Session) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == statusFailed {
		return
	}
	s.status = statusInvalid
	s.logger.Warn("session_invalidated")
}

// FetchMedia fetches metadata through this session's client, translating
// service errors into the session-layer taxonomy: authorization failures
// invalidate the session, everything else service-level becomes
// ErrMediaUnavailable.
func (s *Session) FetchMedia(ctx context.Context, pk int64) (*instagram.Media, error) {
	media, err := s.client.MediaInfo(ctx, pk)
	if err == nil {
		return media, nil
	}
	if instagram.IsAuthError(err) {
		s.Invalidate()
		return nil, fmt.Errorf("%w: %v", ErrAuthorizationExpired, err)
	}
	var apiErr *instagram.APIError
	if errors.As(err, &apiErr) {
		return nil, fmt.Errorf("%w: %v", ErrMediaUnavailable, err)
	}
	return nil, err
}
