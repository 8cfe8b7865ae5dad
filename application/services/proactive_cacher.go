package services

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"membank-backend/application/ports"
	"membank-backend/domain/memory"
	"membank-backend/infrastructure/cache"
)

// categoryBuckets maps favourite summary buckets to their lexical markers
var categoryBuckets = []struct {
	name     string
	keywords []string
}{
	{"movies", []string{"movie", "film", "cinema"}},
	{"characters", []string{"character", "hero", "superhero"}},
	{"pets", []string{"pet", "dog", "cat", "animal"}},
	{"activities", []string{"activity", "hobby", "sport", "game"}},
	{"friends", []string{"friend", "buddy", "pal"}},
	{"music", []string{"music", "song", "artist", "band"}},
	{"travel", []string{"travel", "trip", "vacation", "visit"}},
	{"toys", []string{"toy", "plaything", "game"}},
}

const (
	proactiveSearchLimit    = 50
	proactiveScoreThreshold = 0.3
)

// ProactiveCacher periodically pre-computes per-user favourite summaries:
// it runs the favourite query through the repository path, buckets the
// results, refreshes the L2 view, warms L1 and bumps the user's cache
// version.
type ProactiveCacher struct {
	facts      ports.FactRepository
	embedder   ports.Embedder
	embeddings *cache.EmbeddingCache
	favorites  *cache.FavoriteSummaryView
	kv         ports.KV
	metadata   ports.MetadataStore
	query      string
	l1TTL      time.Duration
	logger     *zap.Logger
}

// NewProactiveCacher creates the cacher
func NewProactiveCacher(
	facts ports.FactRepository,
	embedder ports.Embedder,
	embeddings *cache.EmbeddingCache,
	favorites *cache.FavoriteSummaryView,
	kv ports.KV,
	metadata ports.MetadataStore,
	query string,
	l1TTL time.Duration,
	logger *zap.Logger,
) *ProactiveCacher {
	if query == "" {
		query = "user favorite (movie, character, pet, activity, friend, music, travel, toy)"
	}
	if l1TTL <= 0 {
		l1TTL = cache.DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProactiveCacher{
		facts:      facts,
		embedder:   embedder,
		embeddings: embeddings,
		favorites:  favorites,
		kv:         kv,
		metadata:   metadata,
		query:      query,
		l1TTL:      l1TTL,
		logger:     logger,
	}
}

// UpdateUser refreshes the favourite summary of one user
func (p *ProactiveCacher) UpdateUser(ctx context.Context, userID string) (map[string][]string, error) {
	queryVec, ok := p.embeddings.Get(ctx, p.query)
	if !ok {
		var err error
		queryVec, err = p.embedder.Embed(ctx, p.query)
		if err != nil {
			return nil, err
		}
		p.embeddings.Set(ctx, p.query, queryVec)
	}

	facts, err := p.facts.SearchSimilar(ctx, userID, queryVec, proactiveSearchLimit, proactiveScoreThreshold, p.query)
	if err != nil {
		return nil, err
	}

	summary := categorizeContents(facts)
	p.favorites.Set(ctx, userID, summary)

	// Bump first so the warm entries land under the fresh version tag.
	versionTag := p.kv.BumpUserVersion(ctx, userID)

	if raw, err := json.Marshal(summary); err == nil {
		p.kv.SetEx(ctx, cache.UserFavoriteKey(userID), string(raw), p.l1TTL)
	}
	results := favoriteSummaryToResults(summary)
	if raw, err := json.Marshal(results); err == nil {
		p.kv.SetEx(ctx, cache.SearchKey(userID, p.query, versionTag), string(raw), p.l1TTL)
	}

	p.logger.Info("refreshed favourite cache",
		zap.String("user_id", userID),
		zap.Int("buckets", len(summary)),
	)
	return summary, nil
}

// UpdateAll refreshes every known user, continuing past per-user failures
func (p *ProactiveCacher) UpdateAll(ctx context.Context) error {
	userIDs, err := p.metadata.DistinctUserIDs(ctx)
	if err != nil {
		return err
	}

	var failed int
	for _, userID := range userIDs {
		if _, err := p.UpdateUser(ctx, userID); err != nil {
			p.logger.Error("proactive cache update failed",
				zap.String("user_id", userID),
				zap.Error(err),
			)
			failed++
		}
	}

	p.logger.Info("proactive caching pass completed",
		zap.Int("users", len(userIDs)),
		zap.Int("failed", failed),
	)
	return nil
}

// categorizeContents buckets fact contents by their lexical markers.
// Empty buckets are omitted.
func categorizeContents(facts []*memory.Fact) map[string][]string {
	summary := make(map[string][]string)
	for _, fact := range facts {
		lowered := strings.ToLower(fact.Content)
		for _, bucket := range categoryBuckets {
			if containsAny(lowered, bucket.keywords) {
				summary[bucket.name] = append(summary[bucket.name], fact.Content)
				break
			}
		}
	}
	return summary
}

func containsAny(s string, keywords []string) bool {
	for _, keyword := range keywords {
		if strings.Contains(s, keyword) {
			return true
		}
	}
	return false
}
