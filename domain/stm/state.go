// Package stm implements the short-term memory state machine: a per-session
// conversation window with three summarisation tiers.
package stm

import (
	"strings"
	"time"

	apperrors "membank-backend/pkg/errors"
)

// Summary size bounds
const (
	maxSummaryChars      = 1000
	summaryChunkChars    = 500
	summaryPerMsgChars   = 50
	estimatedTurnDivisor = 100
)

// Message roles
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is one turn appended to a session. Immutable once appended.
type Message struct {
	SessionID string    `json:"session_id"`
	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// NewMessage validates and builds a message
func NewMessage(sessionID, userID, role, content string) (Message, error) {
	switch role {
	case RoleUser, RoleAssistant, RoleSystem:
	default:
		return Message{}, apperrors.NewValidationError("unknown message role: " + role)
	}
	if content == "" {
		return Message{}, apperrors.NewValidationError("message content must not be empty")
	}
	return Message{
		SessionID: sessionID,
		UserID:    userID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Config holds the tier thresholds of the state machine
type Config struct {
	Tier1MaxTurns     int // active window size
	Tier2SummaryTurns int // buffered turns before summarising into tier 2
	Tier3SummaryTurns int // estimated turns in tier-2 summary before promotion
}

// DefaultConfig returns the default tier thresholds
func DefaultConfig() Config {
	return Config{
		Tier1MaxTurns:     10,
		Tier2SummaryTurns: 40,
		Tier3SummaryTurns: 200,
	}
}

// Summarizer condenses a batch of buffered messages into a short summary.
// The default is deterministic; production deployments may substitute an
// LLM-backed implementation without changing the contract.
type Summarizer func(messages []Message) string

// DefaultSummarizer joins the first 50 characters of each message with
// single spaces and caps the result at 500 characters.
func DefaultSummarizer(messages []Message) string {
	parts := make([]string, 0, len(messages))
	for _, msg := range messages {
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			continue
		}
		if len(content) > summaryPerMsgChars {
			content = content[:summaryPerMsgChars]
		}
		parts = append(parts, content)
	}
	if len(parts) == 0 {
		return ""
	}
	joined := strings.Join(parts, " ")
	if len(joined) > summaryChunkChars {
		joined = joined[:summaryChunkChars]
	}
	return joined
}

// State is the persisted per-session tier state
type State struct {
	Tier1Messages []Message `json:"tier1"`
	Tier2Buffer   []Message `json:"tier2_buffer"`
	Tier2Summary  string    `json:"tier2_summary"`
	Tier3Summary  string    `json:"tier3_summary"`
}

// NewState returns an empty session state
func NewState() *State {
	return &State{
		Tier1Messages: []Message{},
		Tier2Buffer:   []Message{},
	}
}

// Append applies the roll-over protocol for one incoming message:
// tier-1 overflow moves to the tier-2 buffer; a full buffer is summarised
// and merged into the tier-2 summary; an oversized tier-2 summary is
// promoted into tier 3. No content is lost, only summarised or promoted.
func (s *State) Append(msg Message, cfg Config, summarize Summarizer) {
	if summarize == nil {
		summarize = DefaultSummarizer
	}

	s.Tier1Messages = append(s.Tier1Messages, msg)

	if overflow := len(s.Tier1Messages) - cfg.Tier1MaxTurns; overflow > 0 {
		moved := s.Tier1Messages[:overflow]
		s.Tier2Buffer = append(s.Tier2Buffer, moved...)
		s.Tier1Messages = append([]Message{}, s.Tier1Messages[overflow:]...)
	}

	if len(s.Tier2Buffer) >= cfg.Tier2SummaryTurns {
		summary := summarize(s.Tier2Buffer)
		s.Tier2Summary = MergeSummaries(s.Tier2Summary, summary)
		s.Tier2Buffer = []Message{}
	}

	if EstimatedTurns(s.Tier2Summary) >= cfg.Tier3SummaryTurns {
		s.Tier3Summary = MergeSummaries(s.Tier3Summary, s.Tier2Summary)
		s.Tier2Summary = ""
	}
}

// MergeSummaries concatenates two summaries with a newline, capped at 1000
// characters. Either input may be empty.
func MergeSummaries(existing, incoming string) string {
	if existing == "" {
		return incoming
	}
	if incoming == "" {
		return existing
	}
	merged := existing + "\n" + incoming
	if len(merged) > maxSummaryChars {
		merged = merged[:maxSummaryChars]
	}
	return merged
}

// EstimatedTurns estimates how many turns a summary condenses, at roughly
// one turn per 100 characters, never less than 1 (an empty summary also
// estimates to 1).
func EstimatedTurns(summary string) int {
	n := len(summary) / estimatedTurnDivisor
	if n < 1 {
		return 1
	}
	return n
}

// Tier is one level of the context snapshot
type Tier struct {
	Messages []Message `json:"messages"`
	Summary  string    `json:"summary,omitempty"`
}

// Context is the three-tier snapshot handed to the orchestrator
type Context struct {
	Tier1Active  Tier `json:"tier1_active"`
	Tier2Recent  Tier `json:"tier2_recent"`
	Tier3Session Tier `json:"tier3_session"`
}

// Snapshot builds the three-tier context view of the state
func (s *State) Snapshot() Context {
	return Context{
		Tier1Active:  Tier{Messages: s.Tier1Messages},
		Tier2Recent:  Tier{Messages: s.Tier2Buffer, Summary: s.Tier2Summary},
		Tier3Session: Tier{Messages: []Message{}, Summary: s.Tier3Summary},
	}
}
