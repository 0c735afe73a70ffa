package service

import (
	"context"
	"fmt"
	"sort"

	"github.com/jengzang/fieldscan-backend-go/internal/config"
	"github.com/jengzang/fieldscan-backend-go/internal/models"
)

// FlagStore persists per-organization overrides.
type FlagStore interface {
	Get(ctx context.Context, organizationID, key string) (*models.FeatureFlag, error)
	Set(ctx context.Context, organizationID, key string, enabled bool) error
}

// FeatureFlagService resolves flags: explicit override, then the configured
// default, then false.
type FeatureFlagService struct {
	store    FlagStore
	defaults map[string]bool
}

// NewFeatureFlagService creates a new feature flag service
func NewFeatureFlagService(store FlagStore, cfg *config.Config) *FeatureFlagService {
	return &FeatureFlagService{
		store: store,
		defaults: map[string]bool{
			models.FlagSRAnalytics: cfg.SR.AnalyticsDefault,
		},
	}
}

// IsEnabled reports whether key is on for the organization
func (s *FeatureFlagService) IsEnabled(ctx context.Context, organizationID, key string) (bool, error) {
	flag, err := s.store.Get(ctx, organizationID, key)
	if err != nil {
		return s.defaults[key], fmt.Errorf("failed to read feature flag %s: %w", key, err)
	}
	if flag != nil {
		return flag.Enabled, nil
	}
	return s.defaults[key], nil
}

// Set stores an override
func (s *FeatureFlagService) Set(ctx context.Context, organizationID, key string, enabled bool) error {
	if _, ok := s.defaults[key]; !ok {
		return fmt.Errorf("unknown feature flag: %s", key)
	}
	return s.store.Set(ctx, organizationID, key, enabled)
}

// Resolve returns the effective value of every known flag
func (s *FeatureFlagService) Resolve(ctx context.Context, organizationID string) (map[string]bool, error) {
	keys := make([]string, 0, len(s.defaults))
	for key := range s.defaults {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make(map[string]bool, len(keys))
	for _, key := range keys {
		enabled, err := s.IsEnabled(ctx, organizationID, key)
		if err != nil {
			return nil, err
		}
		out[key] = enabled
	}
	return out, nil
}
