package xerrors

import (
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
)

// RetryWithBackoff retries operation with exponential backoff capped at
// 30s. No package in this module calls it; the BFT state machine and
// the block executor return their errors without retrying.
func RetryWithBackoff(log *zap.Logger, component string, maxRetries int, baseDelay time.Duration, operation func() error) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := baseDelay * time.Duration(1<<uint(attempt-1))
			if delay > 30*time.Second {
				delay = 30 * time.Second
			}
			log.Info("retrying operation", zap.String("component", component), zap.Int("attempt", attempt), zap.Duration("delay", delay))
			time.Sleep(delay)
		}
		if err := operation(); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	return fmt.Errorf("operation failed after %d retries: %w", maxRetries, lastErr)
}

// RecoverFromPanic logs and swallows a panic in component, for use in
// SafeGoroutine.
func RecoverFromPanic(log *zap.Logger, component string) {
	if r := recover(); r != nil {
		log.Error("panic recovered", zap.String("component", component), zap.Any("panic", r), zap.String("stack", string(debug.Stack())))
	}
}

// SafeGoroutine launches fn in a goroutine with panic recovery attached.
func SafeGoroutine(log *zap.Logger, component string, fn func()) {
	go func() {
		defer RecoverFromPanic(log, component)
		fn()
	}()
}

type breakerState int

const (
	closed breakerState = iota
	open
	halfOpen
)

// CircuitBreaker guards a flaky external call (RPC backends, P2P dials)
// with a closed/open/half-open state machine.
type CircuitBreaker struct {
	name         string
	log          *zap.Logger
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int

	failures      int
	lastFailTime  time.Time
	state         breakerState
	halfOpenTries int
}

func NewCircuitBreaker(log *zap.Logger, name string, maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		name:         name,
		log:          log,
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		halfOpenMax:  3,
		state:        closed,
	}
}

func (cb *CircuitBreaker) Call(operation func() error) error {
	if cb.state == open {
		if time.Since(cb.lastFailTime) > cb.resetTimeout {
			cb.state = halfOpen
			cb.halfOpenTries = 0
		} else {
			return fmt.Errorf("circuit breaker %s is open", cb.name)
		}
	}

	err := operation()
	if err != nil {
		cb.failures++
		cb.lastFailTime = time.Now()

		if cb.state == halfOpen {
			cb.state = open
			return fmt.Errorf("circuit breaker %s reopened: %w", cb.name, err)
		}
		if cb.failures >= cb.maxFailures {
			cb.state = open
			cb.log.Warn("circuit breaker opened", zap.String("name", cb.name), zap.Int("failures", cb.failures))
		}
		return err
	}

	if cb.state == halfOpen {
		cb.halfOpenTries++
		if cb.halfOpenTries >= cb.halfOpenMax {
			cb.state = closed
			cb.failures = 0
		}
	} else if cb.state == closed {
		cb.failures = 0
	}
	return nil
}

func (cb *CircuitBreaker) State() string {
	switch cb.state {
	case open:
		return "open"
	case halfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

func (cb *CircuitBreaker) Reset() {
	cb.state = closed
	cb.failures = 0
	cb.halfOpenTries = 0
}
