package services

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"membank-backend/application/ports"
	"membank-backend/domain/job"
	"membank-backend/domain/memory"
	"membank-backend/infrastructure/cache"
	apperrors "membank-backend/pkg/errors"
	"membank-backend/pkg/utils"
)

// ExtractionService is the worker-side core of the ingestion pipeline: it
// turns one queue message into persisted facts and a completed job.
type ExtractionService struct {
	jobs      *JobManager
	extractor ports.FactExtractor
	embedder  ports.Embedder
	facts     ports.FactRepository
	kv        ports.KV
	logger    *zap.Logger
}

// NewExtractionService creates the service
func NewExtractionService(
	jobs *JobManager,
	extractor ports.FactExtractor,
	embedder ports.Embedder,
	facts ports.FactRepository,
	kv ports.KV,
	logger *zap.Logger,
) *ExtractionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExtractionService{
		jobs:      jobs,
		extractor: extractor,
		embedder:  embedder,
		facts:     facts,
		kv:        kv,
		logger:    logger,
	}
}

// ProcessMessage handles one delivery from the extraction queue. The error
// classification drives the queue's acknowledgement policy: nil acks, a
// permanent error (unreadable payload, missing job) drops the message,
// anything else requeues it.
func (s *ExtractionService) ProcessMessage(ctx context.Context, body []byte) error {
	var msg extractionMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return apperrors.NewPermanentError("extraction message is unreadable", err)
	}

	s.logger.Info("processing extraction job",
		zap.String("job_id", msg.JobID),
		zap.String("user_id", msg.UserID),
	)

	// A job missing from the store is classified permanent by design, even
	// though a publish can in principle overtake the creating transaction.
	if _, err := s.jobs.GetJobStatus(ctx, msg.JobID); err != nil {
		if apperrors.IsNotFound(err) {
			return apperrors.NewPermanentError("job referenced by queue message does not exist", err)
		}
		return err
	}

	if _, err := s.jobs.UpdateJobStatus(ctx, msg.JobID, job.StatusProcessing, 10, "Extracting", nil, ""); err != nil {
		return err
	}

	stored, err := s.extractAndStore(ctx, msg)
	if err != nil {
		s.failJob(ctx, msg.JobID, err)
		return err
	}

	s.kv.BumpUserVersion(ctx, msg.UserID)
	s.kv.ScanDel(ctx, cache.UserSearchPattern(msg.UserID))
	s.kv.Del(ctx, cache.UserFavoriteKey(msg.UserID))

	if _, err := s.jobs.UpdateJobStatus(ctx, msg.JobID, job.StatusCompleted, 100, "", map[string]interface{}{
		"factsExtracted": stored,
	}, ""); err != nil {
		// The extract itself succeeded; do not undo it over a bookkeeping
		// failure.
		s.logger.Error("failed to mark job completed",
			zap.String("job_id", msg.JobID),
			zap.Error(err),
		)
	}

	s.logger.Info("extraction job completed",
		zap.String("job_id", msg.JobID),
		zap.Int("facts_extracted", stored),
	)
	return nil
}

// extractAndStore runs the LLM extraction, batch-embeds the candidates and
// persists each fact. Individual fact failures are logged without aborting
// the batch.
func (s *ExtractionService) extractAndStore(ctx context.Context, msg extractionMessage) (int, error) {
	candidates, err := s.extractor.Extract(ctx, msg.Conversation)
	if err != nil {
		return 0, err
	}
	if len(candidates) == 0 {
		s.logger.Info("no facts extracted from conversation", zap.String("job_id", msg.JobID))
		return 0, nil
	}

	contents := make([]string, len(candidates))
	for i, candidate := range candidates {
		contents[i] = candidate.Content
	}
	embeddings, err := s.embedder.EmbedBatch(ctx, contents)
	if err != nil {
		return 0, err
	}

	stored := 0
	for i, candidate := range candidates {
		fact, err := memory.NewFact(msg.UserID, candidate.Content, memory.ParseCategory(candidate.Category), candidate.Confidence)
		if err != nil {
			s.logger.Warn("skipping invalid fact candidate",
				zap.String("job_id", msg.JobID),
				zap.Error(err),
			)
			continue
		}
		fact.Entities = candidate.Entities
		if i < len(embeddings) {
			fact.Embedding = embeddings[i]
		}
		for k, v := range msg.Metadata {
			fact.Metadata[k] = v
		}
		fact.Metadata["conversation_id"] = msg.ConversationID
		fact.Metadata["extracted_at"] = utils.NowRFC3339()

		if _, err := s.facts.Create(ctx, fact); err != nil {
			s.logger.Error("failed to store extracted fact",
				zap.String("job_id", msg.JobID),
				zap.String("fact_id", fact.ID),
				zap.Error(err),
			)
			continue
		}
		stored++
	}
	return stored, nil
}

// failJob transitions the job to failed, best-effort
func (s *ExtractionService) failJob(ctx context.Context, jobID string, cause error) {
	if _, err := s.jobs.UpdateJobStatus(ctx, jobID, job.StatusFailed, -1, "", nil, cause.Error()); err != nil {
		s.logger.Error("failed to mark job failed",
			zap.String("job_id", jobID),
			zap.Error(err),
		)
	}
}
