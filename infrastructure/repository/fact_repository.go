// Package repository implements the tri-store fact repository: parallel
// writes to the vector, graph and relational stores, and hybrid retrieval.
package repository

import (
	"context"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"membank-backend/application/ports"
	"membank-backend/domain/memory"
	apperrors "membank-backend/pkg/errors"
)

// FactRepository persists facts across the three stores. The metadata store
// is the system of record for existence, the vector index for
// retrievability, the graph store for relationships.
type FactRepository struct {
	vectors  ports.VectorIndex
	graph    ports.GraphStore
	metadata ports.MetadataStore
	hybrid   *HybridSearch
	logger   *zap.Logger
}

// NewFactRepository wires the three stores together. A nil hybrid searcher
// disables the keyword path.
func NewFactRepository(
	vectors ports.VectorIndex,
	graph ports.GraphStore,
	metadata ports.MetadataStore,
	hybrid *HybridSearch,
	logger *zap.Logger,
) *FactRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FactRepository{
		vectors:  vectors,
		graph:    graph,
		metadata: metadata,
		hybrid:   hybrid,
		logger:   logger,
	}
}

var _ ports.FactRepository = (*FactRepository)(nil)

// Create upserts a fact into all three stores in parallel. All writes must
// succeed; the first failure is surfaced. A fact without an embedding skips
// the vector index with a warning and stays invisible to semantic search
// until a later backfill.
func (r *FactRepository) Create(ctx context.Context, fact *memory.Fact) (*memory.Fact, error) {
	if err := r.graph.EnsureUser(ctx, fact.UserID); err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)

	if len(fact.Embedding) > 0 {
		g.Go(func() error { return r.vectors.Insert(gctx, fact) })
	} else {
		r.logger.Warn("fact has no embedding, skipping vector insert",
			zap.String("fact_id", fact.ID),
		)
	}
	g.Go(func() error { return r.graph.UpsertFact(gctx, fact) })
	g.Go(func() error { return r.metadata.UpsertFact(gctx, fact) })

	if err := g.Wait(); err != nil {
		return nil, apperrors.Wrap(err, "failed to store fact")
	}

	r.logger.Info("created fact",
		zap.String("fact_id", fact.ID),
		zap.String("user_id", fact.UserID),
	)
	return fact, nil
}

// GetByID reads a fact from the metadata store only
func (r *FactRepository) GetByID(ctx context.Context, factID string) (*memory.Fact, error) {
	return r.metadata.FactByID(ctx, factID)
}

// GetByUser lists a user's facts from the metadata store, newest first
func (r *FactRepository) GetByUser(ctx context.Context, userID string, limit int) ([]*memory.Fact, error) {
	return r.metadata.FactsByUser(ctx, userID, limit)
}

// SearchSimilar retrieves the facts most similar to the query vector. With
// query text and an enabled hybrid searcher the keyword path contributes;
// otherwise the vector index answers alone. Hits are enriched from the
// metadata store in one batched read, carry their similarity score in
// transient metadata, and arrive sorted by score descending with
// sub-threshold hits dropped.
func (r *FactRepository) SearchSimilar(
	ctx context.Context,
	userID string,
	queryVec []float32,
	topK int,
	scoreThreshold float64,
	queryText string,
) ([]*memory.Fact, error) {
	var (
		hits []ports.VectorHit
		err  error
	)
	if r.hybrid != nil && queryText != "" {
		hits, err = r.hybrid.Search(ctx, userID, queryText, queryVec, topK, scoreThreshold)
	} else {
		hits, err = r.vectors.Search(ctx, queryVec, userID, topK, scoreThreshold)
	}
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, nil
	}

	factIDs := make([]string, 0, len(hits))
	for _, hit := range hits {
		factIDs = append(factIDs, hit.FactID)
	}
	enriched, err := r.metadata.FactsByIDs(ctx, factIDs)
	if err != nil {
		return nil, err
	}

	facts := make([]*memory.Fact, 0, len(hits))
	for _, hit := range hits {
		if hit.Score < scoreThreshold {
			continue
		}
		fact, ok := enriched[hit.FactID]
		if !ok {
			// Row may lag behind the index under eventual consistency;
			// fall back to the index's own copy of the fact.
			fact = &memory.Fact{
				ID:         hit.FactID,
				UserID:     hit.UserID,
				Content:    hit.Content,
				Category:   memory.ParseCategory(hit.Category),
				Confidence: hit.Confidence,
				CreatedAt:  hit.CreatedAt,
			}
		}
		fact.SetSimilarityScore(hit.Score)
		facts = append(facts, fact)
	}

	sort.SliceStable(facts, func(i, j int) bool {
		return facts[i].SimilarityScore() > facts[j].SimilarityScore()
	})
	return facts, nil
}

// GetRelatedFacts returns the ids reachable by one outbound hop in the graph
func (r *FactRepository) GetRelatedFacts(ctx context.Context, factID string) ([]string, error) {
	relations, err := r.graph.RelationsOf(ctx, factID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(relations))
	for _, rel := range relations {
		ids = append(ids, rel.FactID)
	}
	return ids, nil
}

// Delete removes a fact from all three stores. Best-effort: every store is
// attempted even when another fails, and the first failure is reported.
func (r *FactRepository) Delete(ctx context.Context, factID string) error {
	var firstErr error
	record := func(err error) {
		if err != nil {
			r.logger.Error("fact delete partially failed", zap.String("fact_id", factID), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	record(r.vectors.DeleteByID(ctx, factID))
	record(r.graph.DeleteFact(ctx, factID))
	record(r.metadata.DeleteFact(ctx, factID))
	return firstErr
}

// DeleteByUser cascades a user deletion across all three stores
func (r *FactRepository) DeleteByUser(ctx context.Context, userID string) error {
	var firstErr error
	record := func(err error) {
		if err != nil {
			r.logger.Error("user delete partially failed", zap.String("user_id", userID), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	record(r.vectors.DeleteByUser(ctx, userID))
	record(r.graph.DeleteUser(ctx, userID))
	record(r.metadata.DeleteFactsByUser(ctx, userID))
	return firstErr
}
