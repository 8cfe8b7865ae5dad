package resilience

import (
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	apperrors "membank-backend/pkg/errors"
)

// BreakerConfig holds configuration for a circuit breaker
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold uint32
	// RecoveryTimeout is how long the circuit stays open before a half-open probe.
	RecoveryTimeout time.Duration
}

// DefaultBreakerConfig returns a default configuration for circuit breakers
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
	}
}

// BreakerRegistry keeps one circuit breaker per external service name.
// Breakers are process-wide; state transitions are logged.
type BreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	config   BreakerConfig
	logger   *zap.Logger
}

// NewBreakerRegistry creates a registry with the given default configuration
func NewBreakerRegistry(config BreakerConfig, logger *zap.Logger) *BreakerRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BreakerRegistry{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		config:   config,
		logger:   logger,
	}
}

// Get returns the breaker for a service, creating it on first use
func (r *BreakerRegistry) Get(service string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[service]; ok {
		return cb
	}

	logger := r.logger
	threshold := r.config.FailureThreshold
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        service,
		MaxRequests: 1, // single half-open probe
		Timeout:     r.config.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("service", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	r.breakers[service] = cb
	return cb
}

// Execute runs an operation through the breaker for the named service.
// An open circuit fails fast with a CIRCUIT_OPEN error without invoking op.
func (r *BreakerRegistry) Execute(service string, op func() error) error {
	_, err := r.Get(service).Execute(func() (interface{}, error) {
		return nil, op()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return apperrors.NewCircuitOpenError(service)
	}
	return err
}
