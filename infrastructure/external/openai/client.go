// Package openai implements the Embedder and FactExtractor collaborators
// over an OpenAI-compatible REST API. Calls are wrapped with retry and a
// per-service circuit breaker.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"membank-backend/application/ports"
	"membank-backend/domain/memory"
	apperrors "membank-backend/pkg/errors"
	"membank-backend/pkg/resilience"
)

// Breaker service names
const (
	serviceEmbeddings = "openai-embeddings"
	serviceLLM        = "openai-llm"
)

const extractionSystemPrompt = `You are an AI assistant specialized in extracting factual information from conversations.

Your task: analyze the conversation and extract important FACTS about the user.

Facts include:
- Preferences (hobbies, interests, likes/dislikes)
- Experiences (past events, activities)
- Habits (routines, behaviors)
- Emotions (feelings in specific contexts)
- Relationships (family, friends, pets)
- Learning (progress, achievements, knowledge)

Output format: JSON array
[
  {
    "content": "Fact description",
    "category": "preference|experience|habit|emotion|relationship|learning",
    "confidence": 0.0-1.0,
    "entities": ["entity1", "entity2"]
  }
]

Return only the JSON array, no other text.`

// Config holds client settings
type Config struct {
	BaseURL        string
	APIKey         string
	EmbeddingModel string
	LLMModel       string
	EmbeddingDim   int
	Timeout        time.Duration
}

// Client talks to an OpenAI-compatible API
type Client struct {
	cfg      Config
	http     *http.Client
	breakers *resilience.BreakerRegistry
	retry    resilience.RetryConfig
	logger   *zap.Logger
}

// NewClient creates a client with resilience wrapping
func NewClient(cfg Config, breakers *resilience.BreakerRegistry, retry resilience.RetryConfig, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		cfg:      cfg,
		http:     &http.Client{Timeout: cfg.Timeout},
		breakers: breakers,
		retry:    retry,
		logger:   logger,
	}
}

var (
	_ ports.Embedder      = (*Client)(nil)
	_ ports.FactExtractor = (*Client)(nil)
)

// Dim returns the deployment's embedding dimension
func (c *Client) Dim() int {
	return c.cfg.EmbeddingDim
}

// Embed returns the embedding vector for one text
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, apperrors.NewPermanentError("embedding response was empty", nil)
	}
	return vecs[0], nil
}

// EmbedBatch returns embedding vectors for a batch of texts
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	reqBody := map[string]interface{}{
		"model": c.cfg.EmbeddingModel,
		"input": texts,
	}

	var response struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		} `json:"data"`
	}

	err := c.call(ctx, serviceEmbeddings, "/embeddings", reqBody, &response)
	if err != nil {
		return nil, err
	}

	vecs := make([][]float32, len(texts))
	for _, item := range response.Data {
		if item.Index >= 0 && item.Index < len(vecs) {
			vecs[item.Index] = item.Embedding
		}
	}
	for i, vec := range vecs {
		if vec == nil {
			return nil, apperrors.NewPermanentError(
				fmt.Sprintf("embedding response missing vector for input %d", i), nil)
		}
	}
	return vecs, nil
}

// Extract asks the LLM for fact candidates found in a conversation
func (c *Client) Extract(ctx context.Context, conversation []memory.Turn) ([]memory.FactCandidate, error) {
	if len(conversation) == 0 {
		return nil, apperrors.NewValidationError("conversation must not be empty")
	}

	var transcript strings.Builder
	for _, turn := range conversation {
		transcript.WriteString(turn.Role)
		transcript.WriteString(": ")
		transcript.WriteString(turn.Content)
		transcript.WriteString("\n")
	}

	reqBody := map[string]interface{}{
		"model":       c.cfg.LLMModel,
		"temperature": 0.2,
		"messages": []map[string]string{
			{"role": "system", "content": extractionSystemPrompt},
			{"role": "user", "content": transcript.String()},
		},
	}

	var response struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}

	if err := c.call(ctx, serviceLLM, "/chat/completions", reqBody, &response); err != nil {
		return nil, err
	}
	if len(response.Choices) == 0 {
		return nil, apperrors.NewPermanentError("LLM response had no choices", nil)
	}

	candidates := parseCandidates(response.Choices[0].Message.Content)
	c.logger.Debug("extracted fact candidates", zap.Int("count", len(candidates)))
	return candidates, nil
}

// parseCandidates parses the LLM output, tolerating markdown fences around
// the JSON array.
func parseCandidates(content string) []memory.FactCandidate {
	content = strings.TrimSpace(content)

	var candidates []memory.FactCandidate
	if err := json.Unmarshal([]byte(content), &candidates); err == nil {
		return candidates
	}

	start := strings.Index(content, "[")
	end := strings.LastIndex(content, "]")
	if start >= 0 && end > start {
		_ = json.Unmarshal([]byte(content[start:end+1]), &candidates)
	}
	return candidates
}

// call runs one POST through retry and the service's circuit breaker
func (c *Client) call(ctx context.Context, service, path string, reqBody, out interface{}) error {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal request")
	}

	return resilience.RetryWithBackoff(ctx, c.retry, func() error {
		return c.breakers.Execute(service, func() error {
			return c.doRequest(ctx, path, payload, out)
		})
	})
}

func (c *Client) doRequest(ctx context.Context, path string, payload []byte, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return apperrors.Wrap(err, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return apperrors.NewTransientError("request failed", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperrors.NewTransientError("failed to read response", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return apperrors.NewTransientError(
			fmt.Sprintf("API returned status %d", resp.StatusCode), nil)
	default:
		return apperrors.NewPermanentError(
			fmt.Sprintf("API returned status %d: %s", resp.StatusCode, truncate(string(body), 200)), nil)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return apperrors.NewPermanentError("malformed API response", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
