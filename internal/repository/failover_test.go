package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"payvault/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flakySessionRepo struct {
	inner  *MemorySessionRepository
	broken bool
}

func (f *flakySessionRepo) Session(ctx context.Context) (*models.Session, error) {
	if f.broken {
		return nil, errors.New("connection refused")
	}
	return f.inner.Session(ctx)
}

func (f *flakySessionRepo) SetSession(ctx context.Context, s *models.Session) error {
	if f.broken {
		return errors.New("connection refused")
	}
	return f.inner.SetSession(ctx, s)
}

func (f *flakySessionRepo) Clear(ctx context.Context) error {
	if f.broken {
		return errors.New("connection refused")
	}
	return f.inner.Clear(ctx)
}

func TestFailoverSessionRepository(t *testing.T) {
	logger := zerolog.Nop()
	ctx := context.Background()

	t.Run("PrimaryHealthy", func(t *testing.T) {
		primary := &flakySessionRepo{inner: NewMemorySessionRepository(time.Hour)}
		fallback := NewMemorySessionRepository(time.Hour)
		repo := NewFailoverSessionRepository(primary, fallback, &logger)

		session := &models.Session{Token: "tok", Username: "admin"}
		require.NoError(t, repo.SetSession(ctx, session))

		got, err := repo.Session(ctx)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "tok", got.Token)
	})

	t.Run("FallsBackWhenPrimaryDies", func(t *testing.T) {
		primary := &flakySessionRepo{inner: NewMemorySessionRepository(time.Hour)}
		fallback := NewMemorySessionRepository(time.Hour)
		repo := NewFailoverSessionRepository(primary, fallback, &logger)

		session := &models.Session{Token: "tok", Username: "admin"}
		require.NoError(t, repo.SetSession(ctx, session))

		primary.broken = true

		// The mirrored copy in the fallback keeps the session readable.
		got, err := repo.Session(ctx)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "tok", got.Token)

		// Writes keep working through the fallback.
		require.NoError(t, repo.SetSession(ctx, &models.Session{Token: "tok2", Username: "admin"}))
		got, err = repo.Session(ctx)
		require.NoError(t, err)
		assert.Equal(t, "tok2", got.Token)
	})

	t.Run("ClearClearsBoth", func(t *testing.T) {
		primary := &flakySessionRepo{inner: NewMemorySessionRepository(time.Hour)}
		fallback := NewMemorySessionRepository(time.Hour)
		repo := NewFailoverSessionRepository(primary, fallback, &logger)

		require.NoError(t, repo.SetSession(ctx, &models.Session{Token: "tok"}))
		require.NoError(t, repo.Clear(ctx))

		got, err := repo.Session(ctx)
		require.NoError(t, err)
		assert.Nil(t, got)

		direct, err := fallback.Session(ctx)
		require.NoError(t, err)
		assert.Nil(t, direct)
	})
}

func TestMemorySessionRepositoryTTL(t *testing.T) {
	ctx := context.Background()

	repo := NewMemorySessionRepository(time.Hour)
	require.NoError(t, repo.SetSession(ctx, &models.Session{Token: "tok"}))

	got, err := repo.Session(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)

	repo.savedAt = time.Now().Add(-2 * time.Hour)
	got, err = repo.Session(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
}
