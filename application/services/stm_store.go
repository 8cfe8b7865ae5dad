package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"membank-backend/application/ports"
	"membank-backend/domain/stm"
	"membank-backend/infrastructure/cache"
)

// STMStore maintains the per-session short-term memory state in the shared
// distributed cache. Appends on one session are serialised by a per-session
// mutex; persistence failures never reach the caller.
type STMStore struct {
	kv        ports.KV
	cfg       stm.Config
	ttl       time.Duration
	summarize stm.Summarizer
	logger    *zap.Logger

	sessionLocks sync.Map // sessionID -> *sync.Mutex
}

// NewSTMStore creates the store. A nil summarizer uses the deterministic
// default.
func NewSTMStore(kv ports.KV, cfg stm.Config, ttl time.Duration, summarize stm.Summarizer, logger *zap.Logger) *STMStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if summarize == nil {
		summarize = stm.DefaultSummarizer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &STMStore{
		kv:        kv,
		cfg:       cfg,
		ttl:       ttl,
		summarize: summarize,
		logger:    logger,
	}
}

// AddMessage appends one turn to a session, re-establishing the tier
// invariants, and persists the state with the configured TTL. Validation
// errors are returned; persistence problems are logged and swallowed.
func (s *STMStore) AddMessage(ctx context.Context, sessionID, userID, role, content string) error {
	msg, err := stm.NewMessage(sessionID, userID, role, content)
	if err != nil {
		return err
	}

	lock := s.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	state := s.loadState(ctx, sessionID)
	state.Append(msg, s.cfg, s.summarize)
	s.persistState(ctx, sessionID, state)
	return nil
}

// GetContext returns the three-tier snapshot for a session. A missing or
// unreadable state yields an empty context.
func (s *STMStore) GetContext(ctx context.Context, sessionID string) stm.Context {
	return s.loadState(ctx, sessionID).Snapshot()
}

// loadState reads the session state; any failure yields a fresh empty state
func (s *STMStore) loadState(ctx context.Context, sessionID string) *stm.State {
	raw, ok := s.kv.Get(ctx, cache.STMKey(sessionID))
	if !ok {
		return stm.NewState()
	}

	state := stm.NewState()
	if err := json.Unmarshal([]byte(raw), state); err != nil {
		s.logger.Warn("STM state is corrupt, resetting",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		return stm.NewState()
	}
	return state
}

func (s *STMStore) persistState(ctx context.Context, sessionID string, state *stm.State) {
	raw, err := json.Marshal(state)
	if err != nil {
		s.logger.Warn("failed to marshal STM state",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		return
	}
	s.kv.SetEx(ctx, cache.STMKey(sessionID), string(raw), s.ttl)
}

func (s *STMStore) lockFor(sessionID string) *sync.Mutex {
	lock, _ := s.sessionLocks.LoadOrStore(sessionID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}
