package service

import (
	"context"
	"time"

	"payvault/internal/domain"
	"payvault/internal/events"
	"payvault/internal/models"
	"payvault/internal/store"

	"github.com/rs/zerolog"
)

// AuthService holds the session the reconciler authenticates with. Token
// issuance happens elsewhere; this only stores, serves and clears the result.
type AuthService struct {
	sessions domain.SessionRepository
	store    *store.Store
	bus      *events.Bus
	logger   *zerolog.Logger
}

func NewAuthService(sessions domain.SessionRepository, st *store.Store, bus *events.Bus, logger *zerolog.Logger) *AuthService {
	return &AuthService{sessions: sessions, store: st, bus: bus, logger: logger}
}

// SaveSession stores a freshly issued token.
func (s *AuthService) SaveSession(ctx context.Context, token, username string) error {
	return s.sessions.SetSession(ctx, &models.Session{
		Token:    token,
		Username: username,
		SavedAt:  time.Now(),
	})
}

// Session returns the current session, nil when logged out.
func (s *AuthService) Session(ctx context.Context) (*models.Session, error) {
	return s.sessions.Session(ctx)
}

// Token implements the reconciler's token source. An empty string means the
// request goes out unauthenticated and the server's 401 drives re-login.
func (s *AuthService) Token(ctx context.Context) (string, error) {
	session, err := s.sessions.Session(ctx)
	if err != nil {
		return "", err
	}
	if session == nil {
		return "", nil
	}
	return session.Token, nil
}

// InvalidateSession drops the stored token after the server rejected it.
func (s *AuthService) InvalidateSession(ctx context.Context) error {
	s.logger.Warn().Msg("session invalidated, re-authentication required")
	return s.sessions.Clear(ctx)
}

// Logout clears the session and wipes every local container, queue included.
// Pending unsynced work is lost; callers surface the pending count first.
func (s *AuthService) Logout(ctx context.Context) error {
	if err := s.sessions.Clear(ctx); err != nil {
		return err
	}
	if err := s.store.ClearAll(ctx); err != nil {
		return err
	}

	s.logger.Info().Msg("logged out, local data cleared")
	s.bus.Notify(events.Event{Type: events.EventQueueCleared})
	return nil
}
