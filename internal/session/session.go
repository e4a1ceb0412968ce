// Package session tracks the Google sign-in state of each browser session.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/feichai0017/remi2ai/internal/apperr"
	"github.com/feichai0017/remi2ai/internal/models"
	"github.com/feichai0017/remi2ai/pkg/logger"
)

type State int

const (
	SignedOut State = iota
	SigningIn
	SignedIn
)

func (s State) String() string {
	switch s {
	case SigningIn:
		return "signing_in"
	case SignedIn:
		return "signed_in"
	default:
		return "signed_out"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "signed_out":
		*s = SignedOut
	case "signing_in":
		*s = SigningIn
	case "signed_in":
		*s = SignedIn
	default:
		return fmt.Errorf("unknown session state %q", text)
	}
	return nil
}

// Notice is a one-off event the client should show, e.g. an expired session.
type Notice struct {
	Kind    apperr.Kind    `json:"kind"`
	Key     string         `json:"key"`
	Params  map[string]any `json:"params,omitempty"`
	RaiseAt time.Time      `json:"at"`
}

// Info is a read-only view of a session for the client.
type Info struct {
	ID        string   `json:"id"`
	State     State    `json:"state"`
	ExpiresAt int64    `json:"expiresAt,omitempty"`
	Notices   []Notice `json:"notices,omitempty"`
}

type Session struct {
	mu      sync.Mutex
	id      string
	state   State
	token   models.SessionToken
	oauth   string
	timer   *time.Timer
	gen     uint64
	notices []Notice

	restoreMu sync.Mutex
	restored  bool

	store  TokenStore
	logger logger.Logger
	now    func() time.Time
}

func New(id string, store TokenStore, log logger.Logger) *Session {
	if log == nil {
		log = logger.NewNop()
	}
	return &Session{
		id:     id,
		store:  store,
		logger: log.With(logger.String("sessionId", id)),
		now:    time.Now,
	}
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// BeginSignIn moves a signed-out session to SigningIn and returns the OAuth state value.
func (s *Session) BeginSignIn() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == SignedIn {
		return ""
	}
	s.state = SigningIn
	s.oauth = uuid.NewString()
	return s.oauth
}

// CheckState reports whether state matches the value handed out by BeginSignIn.
func (s *Session) CheckState(state string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == SigningIn && state != "" && state == s.oauth
}

// CompleteSignIn adopts token, persists it and arms the expiry timer.
// A browser-obtained token may arrive without BeginSignIn.
func (s *Session) CompleteSignIn(ctx context.Context, token string, expiresAt time.Time) error {
	tok := models.SessionToken{Token: token, ExpiresAt: expiresAt.UnixMilli()}
	if !tok.Valid(s.now()) {
		return s.FailSignIn(errors.New("received token is empty or already expired"))
	}

	if err := s.store.Save(ctx, s.id, tok); err != nil {
		s.logger.Error("Failed to persist session token", logger.Error(err))
		return s.FailSignIn(err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.adoptLocked(tok)
	s.logger.Info("Signed in", logger.Time("expiresAt", tok.Expiry()))
	return nil
}

// FailSignIn returns a SigningIn session to SignedOut and surfaces err.
func (s *Session) FailSignIn(err error) error {
	appErr := apperr.Wrap(apperr.KindSignInFailed, err)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == SigningIn {
		s.state = SignedOut
	}
	s.oauth = ""
	s.pushLocked(appErr.Kind, appErr.Params)
	s.logger.Warn("Sign in failed", logger.Error(err))
	return appErr
}

// SignOut clears the stored record, stops the timer and drops the token.
func (s *Session) SignOut(ctx context.Context) error {
	s.mu.Lock()
	s.clearLocked()
	s.mu.Unlock()

	if err := s.store.Delete(ctx, s.id); err != nil {
		s.logger.Error("Failed to delete session token", logger.Error(err))
		return apperr.Wrap(apperr.KindStorageFailed, err)
	}
	s.logger.Info("Signed out")
	return nil
}

// Restore adopts a persisted token that has not expired yet; anything else is removed.
func (s *Session) Restore(ctx context.Context) error {
	tok, err := s.store.Load(ctx, s.id)
	switch {
	case errors.Is(err, ErrTokenNotFound):
		return nil
	case errors.Is(err, ErrTokenCorrupt):
		s.logger.Warn("Discarding unreadable session token")
		return s.store.Delete(ctx, s.id)
	case err != nil:
		return apperr.Wrap(apperr.KindStorageFailed, err)
	}

	if !tok.Valid(s.now()) {
		s.logger.Info("Discarding expired session token", logger.Time("expiresAt", tok.Expiry()))
		return s.store.Delete(ctx, s.id)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.adoptLocked(tok)
	s.logger.Info("Session restored", logger.Time("expiresAt", tok.Expiry()))
	return nil
}

// ensureRestored runs Restore until it succeeds once. Concurrent callers wait for it.
func (s *Session) ensureRestored(ctx context.Context) error {
	s.restoreMu.Lock()
	defer s.restoreMu.Unlock()
	if s.restored {
		return nil
	}
	if err := s.Restore(ctx); err != nil {
		return err
	}
	s.restored = true
	return nil
}

// Sync reconciles the in-memory token with the stored record, which another
// process may have replaced or deleted.
func (s *Session) Sync(ctx context.Context) error {
	tok, err := s.store.Load(ctx, s.id)
	switch {
	case errors.Is(err, ErrTokenNotFound), errors.Is(err, ErrTokenCorrupt):
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.state == SignedIn {
			s.clearLocked()
			s.logger.Info("Session token revoked by another process")
		}
		return nil
	case err != nil:
		return apperr.Wrap(apperr.KindStorageFailed, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if tok.Valid(s.now()) && (s.state != SignedIn || s.token != tok) {
		s.adoptLocked(tok)
	}
	return nil
}

// Credential returns the access token while the session is signed in and unexpired.
func (s *Session) Credential() (models.SessionToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SignedIn || !s.token.Valid(s.now()) {
		return models.SessionToken{}, apperr.New(apperr.KindSignInRequired)
	}
	return s.token, nil
}

// Info returns the current view and drains pending notices.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := Info{ID: s.id, State: s.state, Notices: s.notices}
	if s.state == SignedIn {
		info.ExpiresAt = s.token.ExpiresAt
	}
	s.notices = nil
	return info
}

// Close stops the expiry timer without touching the store.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Session) adoptLocked(tok models.SessionToken) {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.gen++
	gen := s.gen

	s.state = SignedIn
	s.token = tok
	s.oauth = ""
	s.timer = time.AfterFunc(tok.Expiry().Sub(s.now()), func() {
		s.expire(gen)
	})
}

func (s *Session) clearLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.gen++
	s.state = SignedOut
	s.token = models.SessionToken{}
	s.oauth = ""
}

func (s *Session) expire(gen uint64) {
	s.mu.Lock()
	if gen != s.gen {
		// superseded by a newer sign-in or a sign-out
		s.mu.Unlock()
		return
	}
	s.clearLocked()
	s.pushLocked(apperr.KindSessionExpired, nil)
	s.mu.Unlock()

	s.logger.Info("Session expired")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.store.Delete(ctx, s.id); err != nil {
		s.logger.Error("Failed to delete expired session token", logger.Error(err))
	}
}

func (s *Session) pushLocked(kind apperr.Kind, params map[string]any) {
	s.notices = append(s.notices, Notice{
		Kind:    kind,
		Key:     kind.MessageKey(),
		Params:  params,
		RaiseAt: s.now(),
	})
}
