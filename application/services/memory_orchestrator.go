package services

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"membank-backend/domain/memory"
	"membank-backend/infrastructure/cache"
)

// STM result scores
const (
	stmMessageScore      = 0.8
	stmTier2SummaryScore = 0.6
	stmTier3SummaryScore = 0.5
	stmOverlapBoost      = 0.1
	stmRecencyBonus      = 0.05
)

// MemoryOrchestrator fans a query out to short-term and long-term memory in
// parallel, each branch bounded by its own deadline, and merges the two
// result lists by content hash. Branch failures are independent and
// non-fatal: a timed-out branch contributes an empty list.
type MemoryOrchestrator struct {
	stm        *STMStore
	ltm        *SearchOrchestrator
	stmTimeout time.Duration
	ltmTimeout time.Duration
	logger     *zap.Logger
}

// NewMemoryOrchestrator wires the two branches
func NewMemoryOrchestrator(stm *STMStore, ltm *SearchOrchestrator, stmTimeout, ltmTimeout time.Duration, logger *zap.Logger) *MemoryOrchestrator {
	if stmTimeout <= 0 {
		stmTimeout = time.Second
	}
	if ltmTimeout <= 0 {
		ltmTimeout = 1500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryOrchestrator{
		stm:        stm,
		ltm:        ltm,
		stmTimeout: stmTimeout,
		ltmTimeout: ltmTimeout,
		logger:     logger,
	}
}

// Search queries STM and LTM concurrently and returns the merged ranking
func (o *MemoryOrchestrator) Search(ctx context.Context, userID, sessionID, query string, limit int) ([]memory.SearchResult, error) {
	if limit <= 0 {
		limit = 10
	}

	stmCh := make(chan []memory.SearchResult, 1)
	ltmCh := make(chan []memory.SearchResult, 1)

	go func() {
		stmCh <- o.searchSTM(ctx, sessionID, query)
	}()
	go func() {
		ltmCh <- o.searchLTM(ctx, userID, query, limit)
	}()

	stmResults := <-stmCh
	ltmResults := <-ltmCh

	merged := mergeAndRank(stmResults, ltmResults)
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

// searchSTM matches the query against the session's tier-1 messages and
// adds the tier summaries as low-confidence results.
func (o *MemoryOrchestrator) searchSTM(ctx context.Context, sessionID, query string) []memory.SearchResult {
	stmCtx, cancel := context.WithTimeout(ctx, o.stmTimeout)
	defer cancel()

	done := make(chan []memory.SearchResult, 1)
	go func() {
		snapshot := o.stm.GetContext(stmCtx, sessionID)

		var results []memory.SearchResult
		loweredQuery := strings.ToLower(query)
		for _, msg := range snapshot.Tier1Active.Messages {
			if !strings.Contains(strings.ToLower(msg.Content), loweredQuery) {
				continue
			}
			results = append(results, memory.SearchResult{
				ID:      "stm_" + cache.HashQuery(msg.Content),
				Score:   stmMessageScore,
				Content: msg.Content,
				Metadata: map[string]interface{}{
					"source": "stm",
					"role":   msg.Role,
				},
			})
		}
		if summary := snapshot.Tier2Recent.Summary; summary != "" {
			results = append(results, memory.SearchResult{
				ID:       "stm_tier2_" + cache.HashQuery(summary),
				Score:    stmTier2SummaryScore,
				Content:  summary,
				Metadata: map[string]interface{}{"source": "stm_summary"},
			})
		}
		if summary := snapshot.Tier3Session.Summary; summary != "" {
			results = append(results, memory.SearchResult{
				ID:       "stm_tier3_" + cache.HashQuery(summary),
				Score:    stmTier3SummaryScore,
				Content:  summary,
				Metadata: map[string]interface{}{"source": "stm_summary"},
			})
		}
		done <- results
	}()

	select {
	case results := <-done:
		return results
	case <-stmCtx.Done():
		o.logger.Warn("STM search timed out", zap.String("session_id", sessionID))
		return nil
	}
}

func (o *MemoryOrchestrator) searchLTM(ctx context.Context, userID, query string, limit int) []memory.SearchResult {
	ltmCtx, cancel := context.WithTimeout(ctx, o.ltmTimeout)
	defer cancel()

	type outcome struct {
		results []memory.SearchResult
		err     error
	}
	done := make(chan outcome, 1)
	go func() {
		results, err := o.ltm.Search(ltmCtx, memory.SearchQuery{
			UserID: userID,
			Query:  query,
			Limit:  limit,
		})
		done <- outcome{results, err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			o.logger.Warn("LTM search failed", zap.String("user_id", userID), zap.Error(out.err))
			return nil
		}
		return out.results
	case <-ltmCtx.Done():
		o.logger.Warn("LTM search timed out", zap.String("user_id", userID))
		return nil
	}
}

// mergeAndRank deduplicates by lowercased content hash. Entries present in
// both branches keep the LTM identity with a boosted score and an overlap
// marker; STM-only entries get a small recency bonus.
func mergeAndRank(stmResults, ltmResults []memory.SearchResult) []memory.SearchResult {
	merged := make(map[string]memory.SearchResult, len(stmResults)+len(ltmResults))
	order := make([]string, 0, len(stmResults)+len(ltmResults))

	contentKey := func(result memory.SearchResult) string {
		return cache.HashQuery(strings.ToLower(result.Content))
	}

	for _, result := range ltmResults {
		key := contentKey(result)
		if _, ok := merged[key]; !ok {
			order = append(order, key)
		}
		merged[key] = result
	}

	for _, result := range stmResults {
		key := contentKey(result)
		if existing, ok := merged[key]; ok {
			boosted := existing.Score
			if result.Score > boosted {
				boosted = result.Score
			}
			boosted = capScore(boosted + stmOverlapBoost)

			metadata := make(map[string]interface{}, len(existing.Metadata)+1)
			for k, v := range existing.Metadata {
				metadata[k] = v
			}
			metadata["stm_overlap"] = true

			merged[key] = memory.SearchResult{
				ID:       existing.ID,
				Score:    boosted,
				Content:  existing.Content,
				Metadata: metadata,
			}
			continue
		}

		result.Score = capScore(result.Score + stmRecencyBonus)
		merged[key] = result
		order = append(order, key)
	}

	results := make([]memory.SearchResult, 0, len(order))
	for _, key := range order {
		results = append(results, merged[key])
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results
}

func capScore(score float64) float64 {
	if score > 1.0 {
		return 1.0
	}
	return score
}
