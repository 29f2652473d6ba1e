package service

import (
	"context"
	"strconv"

	"payvault/internal/store"
)

// Well-known settings keys.
const (
	SettingLocationTracking = "location_tracking"
	SettingLastSyncedAt     = "last_synced_at"
)

// SettingsService is a typed view over the settings container.
type SettingsService struct {
	store *store.Store
}

func NewSettingsService(st *store.Store) *SettingsService {
	return &SettingsService{store: st}
}

func (s *SettingsService) Get(ctx context.Context, key string) (string, bool, error) {
	return s.store.GetSetting(ctx, key)
}

func (s *SettingsService) Set(ctx context.Context, key, value string) error {
	return s.store.SetSetting(ctx, key, value)
}

// GetBool reads a boolean flag; absent keys return the fallback.
func (s *SettingsService) GetBool(ctx context.Context, key string, fallback bool) (bool, error) {
	value, found, err := s.store.GetSetting(ctx, key)
	if err != nil {
		return fallback, err
	}
	if !found {
		return fallback, nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback, nil
	}
	return parsed, nil
}

func (s *SettingsService) SetBool(ctx context.Context, key string, value bool) error {
	return s.store.SetSetting(ctx, key, strconv.FormatBool(value))
}
