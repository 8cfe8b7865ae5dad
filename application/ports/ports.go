// Package ports declares the capability interfaces the application core
// depends on. Concrete adapters live under infrastructure/ and are injected
// at startup.
package ports

import (
	"context"
	"time"

	"membank-backend/domain/job"
	"membank-backend/domain/memory"
)

// Embedder produces embedding vectors for text. The vector dimension is
// fixed per deployment.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dim() int
}

// FactExtractor extracts fact candidates from a conversation using an
// external language model.
type FactExtractor interface {
	Extract(ctx context.Context, conversation []memory.Turn) ([]memory.FactCandidate, error)
}

// VectorHit is one scored match from the vector index
type VectorHit struct {
	FactID     string
	UserID     string
	Content    string
	Category   string
	Confidence float64
	CreatedAt  time.Time
	Score      float64
}

// VectorIndex stores fact embeddings and answers similarity queries.
// Scores are normalised inner products in [0,1]; embeddings are normalised
// at insert time.
type VectorIndex interface {
	Insert(ctx context.Context, fact *memory.Fact) error
	Search(ctx context.Context, vec []float32, userID string, topK int, threshold float64) ([]VectorHit, error)
	DeleteByID(ctx context.Context, factID string) error
	DeleteByUser(ctx context.Context, userID string) error
}

// Relation is one typed edge between facts in the graph store
type Relation struct {
	FactID string
	Type   string
	Props  map[string]interface{}
}

// GraphStore keeps users, facts and their relationships
type GraphStore interface {
	EnsureUser(ctx context.Context, userID string) error
	UpsertFact(ctx context.Context, fact *memory.Fact) error
	Link(ctx context.Context, sourceID, targetID, relType string, props map[string]interface{}) error
	RelationsOf(ctx context.Context, factID string) ([]Relation, error)
	DeleteFact(ctx context.Context, factID string) error
	DeleteUser(ctx context.Context, userID string) error
}

// KeywordHit is one row matched by the metadata keyword lookup
type KeywordHit struct {
	FactID     string
	Content    string
	Category   string
	Confidence float64
	CreatedAt  time.Time
	Score      float64
}

// MetadataStore is the relational system of record for fact existence,
// jobs and the pre-materialised favourite summaries.
type MetadataStore interface {
	// Facts
	UpsertFact(ctx context.Context, fact *memory.Fact) error
	FactByID(ctx context.Context, factID string) (*memory.Fact, error)
	FactsByIDs(ctx context.Context, factIDs []string) (map[string]*memory.Fact, error)
	FactsByUser(ctx context.Context, userID string, limit int) ([]*memory.Fact, error)
	KeywordSearch(ctx context.Context, userID string, tokens []string, limit int) ([]KeywordHit, error)
	DeleteFact(ctx context.Context, factID string) error
	DeleteFactsByUser(ctx context.Context, userID string) error
	DistinctUserIDs(ctx context.Context) ([]string, error)

	// Jobs
	CreateJob(ctx context.Context, j *job.Job) error
	JobByID(ctx context.Context, jobID string) (*job.Job, error)
	UpdateJob(ctx context.Context, j *job.Job) error

	// Favourite summaries (L2 materialised view)
	UpsertFavoriteSummary(ctx context.Context, userID string, summary map[string][]string) error
	FavoriteSummary(ctx context.Context, userID string) (map[string][]string, bool)
}

// KV is the distributed key-value cache (L1 and the tiers sharing its
// connection). Reads never fail: transport errors surface as a miss and are
// logged inside the adapter.
type KV interface {
	Get(ctx context.Context, key string) (string, bool)
	SetEx(ctx context.Context, key, value string, ttl time.Duration)
	Del(ctx context.Context, keys ...string)
	ScanDel(ctx context.Context, pattern string) int
	GetUserVersion(ctx context.Context, userID string) string
	BumpUserVersion(ctx context.Context, userID string) string
}

// MessageHandler processes one queue delivery. A nil return acknowledges the
// message; a transient error requeues it; a permanent error drops it.
type MessageHandler func(ctx context.Context, body []byte) error

// MessageQueue is a durable work queue surviving broker restarts
type MessageQueue interface {
	Publish(ctx context.Context, queue string, body []byte) error
	Consume(ctx context.Context, queue string, prefetch int, handler MessageHandler) error
}

// FactRepository is the tri-store fact persistence and retrieval contract
type FactRepository interface {
	Create(ctx context.Context, fact *memory.Fact) (*memory.Fact, error)
	GetByID(ctx context.Context, factID string) (*memory.Fact, error)
	GetByUser(ctx context.Context, userID string, limit int) ([]*memory.Fact, error)
	SearchSimilar(ctx context.Context, userID string, queryVec []float32, topK int, scoreThreshold float64, queryText string) ([]*memory.Fact, error)
	GetRelatedFacts(ctx context.Context, factID string) ([]string, error)
	Delete(ctx context.Context, factID string) error
	DeleteByUser(ctx context.Context, userID string) error
}
