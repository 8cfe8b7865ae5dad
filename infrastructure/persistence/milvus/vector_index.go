// Package milvus implements the vector index over a Milvus collection.
// Embeddings are normalised at insert time so inner-product scores fall
// in [0,1].
package milvus

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"membank-backend/application/ports"
	"membank-backend/domain/memory"
	apperrors "membank-backend/pkg/errors"
)

const (
	fieldFactID     = "fact_id"
	fieldUserID     = "user_id"
	fieldContent    = "content"
	fieldCategory   = "category"
	fieldConfidence = "confidence"
	fieldCreatedAt  = "created_at"
	fieldEmbedding  = "embedding"

	indexNlist  = 128
	indexNprobe = 16
)

// VectorIndex is the Milvus-backed embedding store
type VectorIndex struct {
	client     client.Client
	collection string
	dim        int
	logger     *zap.Logger
}

// NewVectorIndex creates the index on an existing Milvus connection
func NewVectorIndex(c client.Client, collection string, dim int, logger *zap.Logger) *VectorIndex {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &VectorIndex{client: c, collection: collection, dim: dim, logger: logger}
}

var _ ports.VectorIndex = (*VectorIndex)(nil)

// InitCollection creates and loads the collection if it does not exist yet
func (v *VectorIndex) InitCollection(ctx context.Context) error {
	exists, err := v.client.HasCollection(ctx, v.collection)
	if err != nil {
		return apperrors.NewTransientError("failed to check vector collection", err)
	}

	if !exists {
		schema := entity.NewSchema().
			WithName(v.collection).
			WithField(entity.NewField().WithName(fieldFactID).WithDataType(entity.FieldTypeVarChar).WithMaxLength(255).WithIsPrimaryKey(true)).
			WithField(entity.NewField().WithName(fieldUserID).WithDataType(entity.FieldTypeVarChar).WithMaxLength(255)).
			WithField(entity.NewField().WithName(fieldContent).WithDataType(entity.FieldTypeVarChar).WithMaxLength(4096)).
			WithField(entity.NewField().WithName(fieldCategory).WithDataType(entity.FieldTypeVarChar).WithMaxLength(64)).
			WithField(entity.NewField().WithName(fieldConfidence).WithDataType(entity.FieldTypeDouble)).
			WithField(entity.NewField().WithName(fieldCreatedAt).WithDataType(entity.FieldTypeInt64)).
			WithField(entity.NewField().WithName(fieldEmbedding).WithDataType(entity.FieldTypeFloatVector).WithDim(int64(v.dim)))

		if err := v.client.CreateCollection(ctx, schema, 2); err != nil {
			return apperrors.NewTransientError("failed to create vector collection", err)
		}

		index, err := entity.NewIndexIvfFlat(entity.IP, indexNlist)
		if err != nil {
			return apperrors.Wrap(err, "failed to build vector index definition")
		}
		if err := v.client.CreateIndex(ctx, v.collection, fieldEmbedding, index, false); err != nil {
			return apperrors.NewTransientError("failed to create vector index", err)
		}
	}

	if err := v.client.LoadCollection(ctx, v.collection, false); err != nil {
		return apperrors.NewTransientError("failed to load vector collection", err)
	}
	return nil
}

// Insert writes one fact embedding keyed by fact id
func (v *VectorIndex) Insert(ctx context.Context, fact *memory.Fact) error {
	if len(fact.Embedding) != v.dim {
		return apperrors.NewValidationError(
			fmt.Sprintf("embedding dimension mismatch: got %d, want %d", len(fact.Embedding), v.dim))
	}

	normalized := memory.NormalizeVector(fact.Embedding)
	columns := []entity.Column{
		entity.NewColumnVarChar(fieldFactID, []string{fact.ID}),
		entity.NewColumnVarChar(fieldUserID, []string{fact.UserID}),
		entity.NewColumnVarChar(fieldContent, []string{fact.Content}),
		entity.NewColumnVarChar(fieldCategory, []string{string(fact.Category)}),
		entity.NewColumnDouble(fieldConfidence, []float64{fact.Confidence}),
		entity.NewColumnInt64(fieldCreatedAt, []int64{fact.CreatedAt.Unix()}),
		entity.NewColumnFloatVector(fieldEmbedding, v.dim, [][]float32{normalized}),
	}

	if _, err := v.client.Insert(ctx, v.collection, "", columns...); err != nil {
		return apperrors.NewTransientError("vector insert failed", err)
	}
	return nil
}

// Search returns the topK nearest facts of a user above the score threshold
func (v *VectorIndex) Search(ctx context.Context, vec []float32, userID string, topK int, threshold float64) ([]ports.VectorHit, error) {
	searchParam, err := entity.NewIndexIvfFlatSearchParam(indexNprobe)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to build search params")
	}

	expr := ""
	if userID != "" {
		expr = fmt.Sprintf("%s == %s", fieldUserID, strconv.Quote(userID))
	}

	results, err := v.client.Search(
		ctx,
		v.collection,
		nil,
		expr,
		[]string{fieldFactID, fieldUserID, fieldContent, fieldCategory, fieldConfidence, fieldCreatedAt},
		[]entity.Vector{entity.FloatVector(memory.NormalizeVector(vec))},
		fieldEmbedding,
		entity.IP,
		topK,
		searchParam,
	)
	if err != nil {
		return nil, apperrors.NewTransientError("vector search failed", err)
	}

	var hits []ports.VectorHit
	for _, result := range results {
		factIDs := stringColumn(result.Fields.GetColumn(fieldFactID))
		userIDs := stringColumn(result.Fields.GetColumn(fieldUserID))
		contents := stringColumn(result.Fields.GetColumn(fieldContent))
		categories := stringColumn(result.Fields.GetColumn(fieldCategory))
		confidences := doubleColumn(result.Fields.GetColumn(fieldConfidence))
		createdAts := int64Column(result.Fields.GetColumn(fieldCreatedAt))

		for i := 0; i < result.ResultCount; i++ {
			score := float64(result.Scores[i])
			if score < threshold {
				continue
			}
			hit := ports.VectorHit{Score: score}
			if i < len(factIDs) {
				hit.FactID = factIDs[i]
			}
			if i < len(userIDs) {
				hit.UserID = userIDs[i]
			}
			if i < len(contents) {
				hit.Content = contents[i]
			}
			if i < len(categories) {
				hit.Category = categories[i]
			}
			if i < len(confidences) {
				hit.Confidence = confidences[i]
			}
			if i < len(createdAts) {
				hit.CreatedAt = time.Unix(createdAts[i], 0).UTC()
			}
			hits = append(hits, hit)
		}
	}

	v.logger.Debug("vector search completed",
		zap.String("user_id", userID),
		zap.Int("hits", len(hits)),
	)
	return hits, nil
}

// DeleteByID removes one fact embedding
func (v *VectorIndex) DeleteByID(ctx context.Context, factID string) error {
	expr := fmt.Sprintf("%s == %s", fieldFactID, strconv.Quote(factID))
	if err := v.client.Delete(ctx, v.collection, "", expr); err != nil {
		return apperrors.NewTransientError("vector delete failed", err)
	}
	return nil
}

// DeleteByUser removes every embedding of a user
func (v *VectorIndex) DeleteByUser(ctx context.Context, userID string) error {
	expr := fmt.Sprintf("%s == %s", fieldUserID, strconv.Quote(userID))
	if err := v.client.Delete(ctx, v.collection, "", expr); err != nil {
		return apperrors.NewTransientError("vector delete by user failed", err)
	}
	return nil
}

func stringColumn(col entity.Column) []string {
	if c, ok := col.(*entity.ColumnVarChar); ok {
		return c.Data()
	}
	return nil
}

func doubleColumn(col entity.Column) []float64 {
	if c, ok := col.(*entity.ColumnDouble); ok {
		return c.Data()
	}
	return nil
}

func int64Column(col entity.Column) []int64 {
	if c, ok := col.(*entity.ColumnInt64); ok {
		return c.Data()
	}
	return nil
}
