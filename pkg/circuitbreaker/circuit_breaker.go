package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State represents the state of a circuit breaker
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config tunes a CircuitBreaker.
type Config struct {
	// MaxFailures is the number of consecutive counted failures that opens
	// the circuit.
	MaxFailures uint32
	// Cooldown is how long the circuit stays open before probing.
	Cooldown time.Duration
	// HalfOpenProbes successful calls close a half-open circuit.
	HalfOpenProbes uint32
	// IsFailure decides whether an error counts against the circuit. When
	// nil every error counts.
	IsFailure func(error) bool
}

// CircuitBreaker stops calling a remote service after repeated failures and
// lets a few probe calls through once the cooldown has passed.
type CircuitBreaker struct {
	name   string
	config Config
	logger *logrus.Logger
	now    func() time.Time

	mu              sync.Mutex
	state           State
	failures        uint32
	probesInFlight  uint32
	probeSuccesses  uint32
	requests        uint64
	rejected        uint64
	lastFailureTime time.Time
}

// New creates a circuit breaker. A nil logger gets a default logrus logger.
func New(name string, config Config, logger *logrus.Logger) *CircuitBreaker {
	if config.MaxFailures == 0 {
		config.MaxFailures = 5
	}
	if config.Cooldown <= 0 {
		config.Cooldown = 30 * time.Second
	}
	if config.HalfOpenProbes == 0 {
		config.HalfOpenProbes = 1
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &CircuitBreaker{
		name:   name,
		config: config,
		logger: logger,
		now:    time.Now,
		state:  StateClosed,
	}
}

// Execute runs fn unless the circuit is open. Errors from fn are returned
// unchanged; a rejected call returns a *CircuitBreakerError.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.before(); err != nil {
		return err
	}

	err := fn(ctx)
	cb.after(err)
	return err
}

func (cb *CircuitBreaker) before() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.advance()
	switch cb.state {
	case StateOpen:
		cb.rejected++
		return &CircuitBreakerError{Name: cb.name, State: cb.state}
	case StateHalfOpen:
		if cb.probesInFlight >= cb.config.HalfOpenProbes {
			cb.rejected++
			return &CircuitBreakerError{Name: cb.name, State: cb.state}
		}
		cb.probesInFlight++
	}
	cb.requests++
	return nil
}

func (cb *CircuitBreaker) after(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	counted := err != nil && (cb.config.IsFailure == nil || cb.config.IsFailure(err))
	halfOpen := cb.state == StateHalfOpen
	if halfOpen && cb.probesInFlight > 0 {
		cb.probesInFlight--
	}

	if counted {
		cb.failures++
		cb.lastFailureTime = cb.now()
		if halfOpen || cb.failures >= cb.config.MaxFailures {
			cb.trip()
		}
		return
	}

	if halfOpen {
		cb.probeSuccesses++
		if cb.probeSuccesses >= cb.config.HalfOpenProbes {
			cb.reset()
		}
		return
	}
	cb.failures = 0
}

// advance moves an open circuit to half-open once the cooldown has elapsed.
// Callers hold cb.mu.
func (cb *CircuitBreaker) advance() {
	if cb.state == StateOpen && cb.now().Sub(cb.lastFailureTime) >= cb.config.Cooldown {
		cb.state = StateHalfOpen
		cb.probesInFlight = 0
		cb.probeSuccesses = 0
		cb.logger.WithFields(logrus.Fields{
			"circuit_breaker": cb.name,
			"state":           StateHalfOpen.String(),
		}).Info("Circuit breaker probing after cooldown")
	}
}

func (cb *CircuitBreaker) trip() {
	cb.state = StateOpen
	cb.logger.WithFields(logrus.Fields{
		"circuit_breaker": cb.name,
		"failures":        cb.failures,
		"state":           StateOpen.String(),
	}).Warn("Circuit breaker opened due to failures")
}

func (cb *CircuitBreaker) reset() {
	cb.state = StateClosed
	cb.failures = 0
	cb.probesInFlight = 0
	cb.probeSuccesses = 0
	cb.logger.WithFields(logrus.Fields{
		"circuit_breaker": cb.name,
		"state":           StateClosed.String(),
	}).Info("Circuit breaker closed after successful recovery")
}

// GetState returns the current state, accounting for an elapsed cooldown.
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.advance()
	return cb.state
}

// Stats is a point-in-time view of a circuit breaker.
type Stats struct {
	Name            string    `json:"name"`
	State           string    `json:"state"`
	Failures        uint32    `json:"failures"`
	Requests        uint64    `json:"requests"`
	Rejected        uint64    `json:"rejected"`
	LastFailureTime time.Time `json:"lastFailureTime,omitempty"`
}

func (cb *CircuitBreaker) GetStats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.advance()
	return Stats{
		Name:            cb.name,
		State:           cb.state.String(),
		Failures:        cb.failures,
		Requests:        cb.requests,
		Rejected:        cb.rejected,
		LastFailureTime: cb.lastFailureTime,
	}
}

// CircuitBreakerError is returned when a call is rejected without running.
type CircuitBreakerError struct {
	Name  string
	State State
}

func (e *CircuitBreakerError) Error() string {
	return fmt.Sprintf("circuit breaker '%s' is %s", e.Name, e.State)
}

// IsCircuitBreakerError reports whether err, or anything it wraps, is a
// rejection by a circuit breaker.
func IsCircuitBreakerError(err error) bool {
	var cbErr *CircuitBreakerError
	return errors.As(err, &cbErr)
}
