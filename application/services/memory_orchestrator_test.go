package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"membank-backend/domain/memory"
	"membank-backend/domain/stm"
)

func newMemoryStack(t *testing.T) (*MemoryOrchestrator, *STMStore, *searchStack) {
	t.Helper()
	stack := newSearchStack(t)
	stmStore := NewSTMStore(stack.kv, stm.DefaultConfig(), time.Hour, nil, nil)
	orchestrator := NewMemoryOrchestrator(stmStore, stack.orchestrator, time.Second, 1500*time.Millisecond, nil)
	return orchestrator, stmStore, stack
}

func TestParallelMergeOverlapBoost(t *testing.T) {
	orchestrator, stmStore, stack := newMemoryStack(t)
	ctx := requestCtx()

	// STM holds the message verbatim; LTM holds the same content in a
	// different case, so the lowercased content hashes collide.
	require.NoError(t, stmStore.AddMessage(ctx, "s1", "u1", "user", "I love pizza"))
	ltmFact := scoredFact(t, "u1", "i love pizza", 0.7)
	stack.repo.searchHits = []*memory.Fact{ltmFact}

	results, err := orchestrator.Search(ctx, "u1", "s1", "pizza", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)

	// The merged entry keeps the LTM identity, boosted to
	// min(1.0, max(0.8, 0.7) + 0.1) = 0.9, and is flagged as overlapping.
	assert.Equal(t, ltmFact.ID, results[0].ID)
	assert.InDelta(t, 0.9, results[0].Score, 1e-9)
	assert.Equal(t, true, results[0].Metadata["stm_overlap"])
}

func TestSTMOnlyRecencyBonus(t *testing.T) {
	orchestrator, stmStore, stack := newMemoryStack(t)
	ctx := requestCtx()

	require.NoError(t, stmStore.AddMessage(ctx, "s1", "u1", "user", "we talked about sailing"))
	stack.repo.searchHits = nil

	results, err := orchestrator.Search(ctx, "u1", "s1", "sailing", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)

	assert.Equal(t, "we talked about sailing", results[0].Content)
	assert.InDelta(t, 0.85, results[0].Score, 1e-9)
	assert.Equal(t, "stm", results[0].Metadata["source"])
	assert.Equal(t, "user", results[0].Metadata["role"])
}

func TestSTMSummariesContribute(t *testing.T) {
	stack := newSearchStack(t)
	ctx := requestCtx()

	// A tiny tier config forces an early summarisation.
	small := NewSTMStore(stack.kv, stm.Config{Tier1MaxTurns: 1, Tier2SummaryTurns: 2, Tier3SummaryTurns: 1000}, time.Hour, nil, nil)
	orchestrator := NewMemoryOrchestrator(small, stack.orchestrator, time.Second, time.Second, nil)

	for _, content := range []string{"first topic", "second topic", "third topic"} {
		require.NoError(t, small.AddMessage(ctx, "s1", "u1", "user", content))
	}
	stack.repo.searchHits = nil

	results, err := orchestrator.Search(ctx, "u1", "s1", "no-match-query", 10)
	require.NoError(t, err)

	// Tier-1 has no substring match, but the tier-2 summary is always
	// offered at its fixed score plus the STM recency bonus.
	require.Len(t, results, 1)
	assert.Equal(t, "stm_summary", results[0].Metadata["source"])
	assert.InDelta(t, 0.65, results[0].Score, 1e-9)
}

func TestSTMTimeoutYieldsLTMOnly(t *testing.T) {
	stack := newSearchStack(t)
	stack.kv.delay = 80 * time.Millisecond
	stmStore := NewSTMStore(stack.kv, stm.DefaultConfig(), time.Hour, nil, nil)
	orchestrator := NewMemoryOrchestrator(stmStore, stack.orchestrator, 10*time.Millisecond, time.Second, nil)

	stack.repo.searchHits = []*memory.Fact{scoredFact(t, "u1", "long term answer", 0.7)}

	results, err := orchestrator.Search(requestCtx(), "u1", "s1", "answer", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "long term answer", results[0].Content)
}

func TestMergeRankingAndLimit(t *testing.T) {
	stmResults := []memory.SearchResult{
		{ID: "stm_1", Score: 0.8, Content: "alpha"},
		{ID: "stm_2", Score: 0.8, Content: "beta"},
	}
	ltmResults := []memory.SearchResult{
		{ID: "ltm_1", Score: 0.95, Content: "gamma"},
		{ID: "ltm_2", Score: 0.4, Content: "delta"},
	}

	merged := mergeAndRank(stmResults, ltmResults)
	require.Len(t, merged, 4)
	for i := 1; i < len(merged); i++ {
		assert.GreaterOrEqual(t, merged[i-1].Score, merged[i].Score)
	}
	// Scores stay within [0,1] even after bonuses.
	for _, result := range merged {
		assert.LessOrEqual(t, result.Score, 1.0)
	}
}

func TestMergeBoostIsCapped(t *testing.T) {
	stmResults := []memory.SearchResult{{ID: "stm", Score: 0.99, Content: "same"}}
	ltmResults := []memory.SearchResult{{ID: "ltm", Score: 0.95, Content: "SAME"}}

	merged := mergeAndRank(stmResults, ltmResults)
	require.Len(t, merged, 1)
	assert.Equal(t, "ltm", merged[0].ID)
	assert.Equal(t, 1.0, merged[0].Score)
}
