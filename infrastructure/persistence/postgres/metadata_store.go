// Package postgres implements the relational metadata store: fact rows,
// job lifecycle records and the materialised favourite summaries.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"membank-backend/application/ports"
	"membank-backend/domain/job"
	"membank-backend/domain/memory"
	apperrors "membank-backend/pkg/errors"
)

// entitiesMetaKey is where fact entities live inside the metaData column
const entitiesMetaKey = "entities"

// MetadataStore is the pgx-backed system of record for fact existence
type MetadataStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewMetadataStore creates the store on an existing pool
func NewMetadataStore(pool *pgxpool.Pool, logger *zap.Logger) *MetadataStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MetadataStore{pool: pool, logger: logger}
}

var _ ports.MetadataStore = (*MetadataStore)(nil)

// InitSchema creates the tables and indexes if they do not exist yet.
// Safe to call on every startup.
func (s *MetadataStore) InitSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS facts_metadata (
			fact_id VARCHAR(255) PRIMARY KEY,
			user_id VARCHAR(255) NOT NULL,
			content TEXT NOT NULL,
			category VARCHAR(64) NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			meta_data JSONB NOT NULL DEFAULT '{}'::jsonb
		)`,
		`CREATE INDEX IF NOT EXISTS idx_facts_metadata_user_id ON facts_metadata(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_facts_metadata_category ON facts_metadata(category)`,
		`CREATE INDEX IF NOT EXISTS idx_facts_metadata_created_at ON facts_metadata(created_at)`,
		`CREATE TABLE IF NOT EXISTS jobs (
			id VARCHAR(255) PRIMARY KEY,
			user_id VARCHAR(255) NOT NULL,
			conversation_id VARCHAR(255),
			status VARCHAR(32) NOT NULL,
			progress INTEGER NOT NULL DEFAULT 0,
			current_step TEXT,
			data JSONB,
			error TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			completed_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_user_created ON jobs(user_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status)`,
		`CREATE TABLE IF NOT EXISTS user_favorite_summary (
			user_id VARCHAR(255) PRIMARY KEY,
			summary_json JSONB NOT NULL,
			last_updated TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_user_favorite_summary_last_updated ON user_favorite_summary(last_updated)`,
	}

	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return apperrors.Wrap(err, "failed to initialize metadata schema")
		}
	}
	return nil
}

// UpsertFact writes a fact row. Entities travel inside the metaData column;
// the transient similarity score is never persisted.
func (s *MetadataStore) UpsertFact(ctx context.Context, fact *memory.Fact) error {
	meta := make(map[string]interface{}, len(fact.Metadata)+1)
	for k, v := range fact.Metadata {
		if k == memory.SimilarityScoreKey {
			continue
		}
		meta[k] = v
	}
	if len(fact.Entities) > 0 {
		meta[entitiesMetaKey] = fact.Entities
	}

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal fact metadata")
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO facts_metadata (fact_id, user_id, content, category, confidence, created_at, meta_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (fact_id) DO UPDATE
		SET content = EXCLUDED.content,
		    category = EXCLUDED.category,
		    confidence = EXCLUDED.confidence,
		    meta_data = EXCLUDED.meta_data`,
		fact.ID, fact.UserID, fact.Content, string(fact.Category), fact.Confidence, fact.CreatedAt, metaJSON,
	)
	if err != nil {
		return apperrors.NewTransientError("failed to upsert fact metadata", err)
	}
	return nil
}

// FactByID reads a single fact row; absent rows yield a NotFound error
func (s *MetadataStore) FactByID(ctx context.Context, factID string) (*memory.Fact, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT fact_id, user_id, content, category, confidence, created_at, meta_data
		FROM facts_metadata WHERE fact_id = $1`, factID)

	fact, err := scanFact(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("fact")
	}
	if err != nil {
		return nil, apperrors.NewTransientError("failed to read fact metadata", err)
	}
	return fact, nil
}

// FactsByIDs reads a batch of fact rows keyed by id
func (s *MetadataStore) FactsByIDs(ctx context.Context, factIDs []string) (map[string]*memory.Fact, error) {
	if len(factIDs) == 0 {
		return map[string]*memory.Fact{}, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT fact_id, user_id, content, category, confidence, created_at, meta_data
		FROM facts_metadata WHERE fact_id = ANY($1)`, factIDs)
	if err != nil {
		return nil, apperrors.NewTransientError("failed to read fact metadata batch", err)
	}
	defer rows.Close()

	facts := make(map[string]*memory.Fact, len(factIDs))
	for rows.Next() {
		fact, err := scanFact(rows)
		if err != nil {
			return nil, apperrors.NewTransientError("failed to scan fact row", err)
		}
		facts[fact.ID] = fact
	}
	return facts, rows.Err()
}

// FactsByUser lists a user's facts, newest first
func (s *MetadataStore) FactsByUser(ctx context.Context, userID string, limit int) ([]*memory.Fact, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT fact_id, user_id, content, category, confidence, created_at, meta_data
		FROM facts_metadata
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, apperrors.NewTransientError("failed to list facts", err)
	}
	defer rows.Close()

	var facts []*memory.Fact
	for rows.Next() {
		fact, err := scanFact(rows)
		if err != nil {
			return nil, apperrors.NewTransientError("failed to scan fact row", err)
		}
		facts = append(facts, fact)
	}
	return facts, rows.Err()
}

// KeywordSearch matches facts whose content contains any of the query
// tokens, case-insensitively. Every returned row scores 1.0; the 0.5 branch
// is defensive since the predicate already filters non-matches.
func (s *MetadataStore) KeywordSearch(ctx context.Context, userID string, tokens []string, limit int) ([]ports.KeywordHit, error) {
	if len(tokens) == 0 {
		return nil, nil
	}

	patterns := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if token == "" {
			continue
		}
		patterns = append(patterns, "%"+token+"%")
	}
	if len(patterns) == 0 {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT fact_id, content, category, confidence, created_at,
		       CASE WHEN content ILIKE ANY($3::text[]) THEN 1.0 ELSE 0.5 END AS keyword_score
		FROM facts_metadata
		WHERE user_id = $1
		AND content ILIKE ANY($3::text[])
		ORDER BY keyword_score DESC, created_at DESC
		LIMIT $2`, userID, limit, patterns)
	if err != nil {
		return nil, apperrors.NewTransientError("keyword search failed", err)
	}
	defer rows.Close()

	var hits []ports.KeywordHit
	for rows.Next() {
		var hit ports.KeywordHit
		var category string
		if err := rows.Scan(&hit.FactID, &hit.Content, &category, &hit.Confidence, &hit.CreatedAt, &hit.Score); err != nil {
			return nil, apperrors.NewTransientError("failed to scan keyword hit", err)
		}
		hit.Category = category
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

// DeleteFact removes one fact row
func (s *MetadataStore) DeleteFact(ctx context.Context, factID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM facts_metadata WHERE fact_id = $1`, factID); err != nil {
		return apperrors.NewTransientError("failed to delete fact metadata", err)
	}
	return nil
}

// DeleteFactsByUser removes every fact row of a user
func (s *MetadataStore) DeleteFactsByUser(ctx context.Context, userID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM facts_metadata WHERE user_id = $1`, userID); err != nil {
		return apperrors.NewTransientError("failed to delete user facts", err)
	}
	return nil
}

// DistinctUserIDs lists every user with at least one stored fact
func (s *MetadataStore) DistinctUserIDs(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT user_id FROM facts_metadata`)
	if err != nil {
		return nil, apperrors.NewTransientError("failed to list user ids", err)
	}
	defer rows.Close()

	var userIDs []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, apperrors.NewTransientError("failed to scan user id", err)
		}
		userIDs = append(userIDs, userID)
	}
	return userIDs, rows.Err()
}

// CreateJob persists a freshly created job
func (s *MetadataStore) CreateJob(ctx context.Context, j *job.Job) error {
	dataJSON, err := marshalJobData(j.Data)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO jobs (id, user_id, conversation_id, status, progress, current_step, data, error, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		j.ID, j.UserID, j.ConversationID, string(j.Status), j.Progress, j.CurrentStep, dataJSON, nullable(j.Error), j.CreatedAt, j.CompletedAt,
	)
	if err != nil {
		return apperrors.NewTransientError("failed to create job", err)
	}
	return nil
}

// JobByID reads a job; absent ids yield a NotFound error
func (s *MetadataStore) JobByID(ctx context.Context, jobID string) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, user_id, conversation_id, status, progress, current_step, data, error, created_at, completed_at
		FROM jobs WHERE id = $1`, jobID)

	var (
		j        job.Job
		status   string
		dataJSON []byte
		errText  *string
		convID   *string
		step     *string
	)
	err := row.Scan(&j.ID, &j.UserID, &convID, &status, &j.Progress, &step, &dataJSON, &errText, &j.CreatedAt, &j.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("job")
	}
	if err != nil {
		return nil, apperrors.NewTransientError("failed to read job", err)
	}

	j.Status = job.Status(status)
	if convID != nil {
		j.ConversationID = *convID
	}
	if step != nil {
		j.CurrentStep = *step
	}
	if errText != nil {
		j.Error = *errText
	}
	if len(dataJSON) > 0 {
		if err := json.Unmarshal(dataJSON, &j.Data); err != nil {
			s.logger.Warn("job data column is corrupt", zap.String("job_id", j.ID), zap.Error(err))
		}
	}
	return &j, nil
}

// UpdateJob writes the current job state. The status predicate keeps
// transitions linearisable per job id: a terminal row is never overwritten.
func (s *MetadataStore) UpdateJob(ctx context.Context, j *job.Job) error {
	dataJSON, err := marshalJobData(j.Data)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobs
		SET status = $2, progress = $3, current_step = $4, data = $5, error = $6, completed_at = $7
		WHERE id = $1 AND status NOT IN ('completed', 'failed')`,
		j.ID, string(j.Status), j.Progress, j.CurrentStep, dataJSON, nullable(j.Error), j.CompletedAt,
	)
	if err != nil {
		return apperrors.NewTransientError("failed to update job", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NewValidationError("job is terminal or missing: " + j.ID)
	}
	return nil
}

// UpsertFavoriteSummary writes the materialised favourite buckets
func (s *MetadataStore) UpsertFavoriteSummary(ctx context.Context, userID string, summary map[string][]string) error {
	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal favorite summary")
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO user_favorite_summary (user_id, summary_json, last_updated)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE
		SET summary_json = EXCLUDED.summary_json,
		    last_updated = EXCLUDED.last_updated`,
		userID, summaryJSON, time.Now().UTC(),
	)
	if err != nil {
		return apperrors.NewTransientError("failed to upsert favorite summary", err)
	}
	return nil
}

// FavoriteSummary reads the materialised favourite buckets; any failure is
// a miss.
func (s *MetadataStore) FavoriteSummary(ctx context.Context, userID string) (map[string][]string, bool) {
	var summaryJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT summary_json FROM user_favorite_summary WHERE user_id = $1`, userID,
	).Scan(&summaryJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false
	}
	if err != nil {
		s.logger.Warn("favorite summary read failed", zap.String("user_id", userID), zap.Error(err))
		return nil, false
	}

	var summary map[string][]string
	if err := json.Unmarshal(summaryJSON, &summary); err != nil {
		s.logger.Warn("favorite summary is corrupt", zap.String("user_id", userID), zap.Error(err))
		return nil, false
	}
	return summary, true
}

// scanFact reads one facts_metadata row into the domain entity
func scanFact(row pgx.Row) (*memory.Fact, error) {
	var (
		fact     memory.Fact
		category string
		metaJSON []byte
	)
	if err := row.Scan(&fact.ID, &fact.UserID, &fact.Content, &category, &fact.Confidence, &fact.CreatedAt, &metaJSON); err != nil {
		return nil, err
	}
	fact.Category = memory.Category(category)

	meta := make(map[string]interface{})
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &meta); err != nil {
			meta = make(map[string]interface{})
		}
	}
	if rawEntities, ok := meta[entitiesMetaKey].([]interface{}); ok {
		entities := make([]string, 0, len(rawEntities))
		for _, e := range rawEntities {
			if s, ok := e.(string); ok {
				entities = append(entities, s)
			}
		}
		fact.Entities = entities
		delete(meta, entitiesMetaKey)
	}
	fact.Metadata = meta
	return &fact, nil
}

func marshalJobData(data map[string]interface{}) ([]byte, error) {
	if data == nil {
		return nil, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to marshal job data")
	}
	return raw, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
