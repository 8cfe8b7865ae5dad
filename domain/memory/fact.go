// Package memory contains the core entities of the memory domain: facts
// extracted from conversations and the search results built from them.
package memory

import (
	"time"

	"github.com/google/uuid"

	apperrors "membank-backend/pkg/errors"
)

// MaxContentLength bounds fact content size
const MaxContentLength = 2000

// SimilarityScoreKey is the transient metadata field carrying the similarity
// score a fact was retrieved with. It is never persisted back to the stores.
const SimilarityScoreKey = "_similarityScore"

// Category classifies a fact extracted from a conversation
type Category string

const (
	CategoryPreference   Category = "preference"
	CategoryExperience   Category = "experience"
	CategoryHabit        Category = "habit"
	CategoryEmotion      Category = "emotion"
	CategoryRelationship Category = "relationship"
	CategoryLearning     Category = "learning"
	CategoryUnknown      Category = "unknown"
)

// ParseCategory maps a raw string to a known category, falling back to unknown
func ParseCategory(raw string) Category {
	switch Category(raw) {
	case CategoryPreference, CategoryExperience, CategoryHabit,
		CategoryEmotion, CategoryRelationship, CategoryLearning:
		return Category(raw)
	default:
		return CategoryUnknown
	}
}

// Fact is a single piece of long-term memory about a user. Facts are
// immutable after creation except for their metadata map.
type Fact struct {
	ID         string                 `json:"id"`
	UserID     string                 `json:"user_id"`
	Content    string                 `json:"content"`
	Category   Category               `json:"category"`
	Confidence float64                `json:"confidence"`
	Embedding  []float32              `json:"embedding,omitempty"`
	Entities   []string               `json:"entities,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// NewFact creates a validated fact with a fresh ID
func NewFact(userID, content string, category Category, confidence float64) (*Fact, error) {
	if userID == "" {
		return nil, apperrors.NewValidationError("user id must not be empty")
	}
	if content == "" {
		return nil, apperrors.NewValidationError("fact content must not be empty")
	}
	if len(content) > MaxContentLength {
		return nil, apperrors.NewValidationError("fact content exceeds maximum length")
	}
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	return &Fact{
		ID:         uuid.New().String(),
		UserID:     userID,
		Content:    content,
		Category:   category,
		Confidence: confidence,
		CreatedAt:  time.Now().UTC(),
		Metadata:   make(map[string]interface{}),
	}, nil
}

// SimilarityScore returns the transient similarity score, 0 when absent
func (f *Fact) SimilarityScore() float64 {
	if f.Metadata == nil {
		return 0
	}
	if score, ok := f.Metadata[SimilarityScoreKey].(float64); ok {
		return score
	}
	return 0
}

// SetSimilarityScore records the transient similarity score on the fact
func (f *Fact) SetSimilarityScore(score float64) {
	if f.Metadata == nil {
		f.Metadata = make(map[string]interface{})
	}
	f.Metadata[SimilarityScoreKey] = score
}

// Memory is the read view of a fact seen from the search path; same logical
// entity with a source tag attached.
type Memory struct {
	Fact
	Source string `json:"source"`
}

// FactCandidate is a fact proposed by the extractor before it is embedded
// and persisted.
type FactCandidate struct {
	Content    string   `json:"content"`
	Category   string   `json:"category"`
	Confidence float64  `json:"confidence"`
	Entities   []string `json:"entities,omitempty"`
}

// Turn is one message of a conversation submitted for extraction
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SearchResult is a transient, ranked answer to a semantic search. It is
// never persisted.
type SearchResult struct {
	ID       string                 `json:"id"`
	Score    float64                `json:"score"`
	Content  string                 `json:"content"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// SearchQuery carries the parameters of a single semantic search
type SearchQuery struct {
	UserID         string
	Query          string
	Limit          int
	ScoreThreshold float64
}

// Validate checks query invariants shared by all search entry points
func (q SearchQuery) Validate() error {
	if q.UserID == "" {
		return apperrors.NewValidationError("user id must not be empty")
	}
	if q.Query == "" {
		return apperrors.NewValidationError("query must not be empty")
	}
	if q.Limit <= 0 {
		return apperrors.NewValidationError("limit must be positive")
	}
	return nil
}
