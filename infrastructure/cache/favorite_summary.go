package cache

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"membank-backend/application/ports"
)

// favourite-class lexical markers
var favoriteMarkers = []string{"favorite", "like", "prefer", "love"}

// IsFavoriteQuery reports whether a query is favourite-class and therefore
// eligible for the L2 tier.
func IsFavoriteQuery(query string) bool {
	lowered := strings.ToLower(query)
	for _, marker := range favoriteMarkers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}

// FavoriteSummaryView is the L2 tier: pre-materialised per-user favourite
// buckets in the relational store. Best-effort: read failures are a miss,
// write failures are logged and swallowed.
type FavoriteSummaryView struct {
	store  ports.MetadataStore
	logger *zap.Logger
}

// NewFavoriteSummaryView creates the L2 view over the metadata store
func NewFavoriteSummaryView(store ports.MetadataStore, logger *zap.Logger) *FavoriteSummaryView {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FavoriteSummaryView{store: store, logger: logger}
}

// Get returns the per-category favourite buckets for a user
func (v *FavoriteSummaryView) Get(ctx context.Context, userID string) (map[string][]string, bool) {
	summary, ok := v.store.FavoriteSummary(ctx, userID)
	if !ok {
		v.logger.Debug("L2 cache miss", zap.String("user_id", userID))
		return nil, false
	}
	v.logger.Debug("L2 cache hit", zap.String("user_id", userID))
	return summary, true
}

// Set upserts the per-category favourite buckets for a user
func (v *FavoriteSummaryView) Set(ctx context.Context, userID string, summary map[string][]string) {
	if err := v.store.UpsertFavoriteSummary(ctx, userID, summary); err != nil {
		v.logger.Warn("L2 cache set failed", zap.String("user_id", userID), zap.Error(err))
	}
}
