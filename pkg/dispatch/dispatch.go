// Package dispatch runs parallel workflow branches against provider
// concurrency caps and the shared rate limiter, with adaptive throttling
// when a provider signals overload.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/stride-run/stride/pkg/models"
	"github.com/stride-run/stride/pkg/protocol"
	"github.com/stride-run/stride/pkg/ratelimit"
)

// ErrRateLimitExhausted reports that a task's rate-limit waits passed the
// configured ceiling without ever getting a slot.
var ErrRateLimitExhausted = errors.New("rate limit wait ceiling exhausted")

const (
	DefaultMaxConcurrency    = 4
	DefaultRateLimit         = 60
	DefaultWindow            = time.Minute
	DefaultWaitCeiling       = 2 * time.Minute
	DefaultThrottleThreshold = 3
)

// ProviderConfig bounds one provider's concurrency and request rate.
type ProviderConfig struct {
	MaxConcurrency int64         `json:"max_concurrency" yaml:"max_concurrency"`
	RateLimit      int           `json:"rate_limit"      yaml:"rate_limit"`
	Window         time.Duration `json:"window"          yaml:"window"`
}

func (c ProviderConfig) withDefaults() ProviderConfig {
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = DefaultMaxConcurrency
	}

	if c.RateLimit <= 0 {
		c.RateLimit = DefaultRateLimit
	}

	if c.Window <= 0 {
		c.Window = DefaultWindow
	}

	return c
}

// Config configures the dispatcher.
type Config struct {
	// Providers holds per-provider limits; unknown providers fall back to
	// DefaultProvider.
	Providers map[string]ProviderConfig

	// DefaultProvider bounds providers without an explicit entry.
	DefaultProvider ProviderConfig

	// WaitCeiling caps the total time one task may spend waiting on denied
	// rate-limit acquires before failing with ErrRateLimitExhausted.
	WaitCeiling time.Duration

	// FailOpen lets tasks proceed when the rate-limit store is unavailable.
	// When false a store outage fails the task instead.
	FailOpen bool

	// ThrottleThreshold is how many consecutive throttle signals a provider
	// may emit before its effective limit is halved.
	ThrottleThreshold int

	// RecoveryAfter restores a throttled provider to its base limit once
	// this much time has passed since the last halving. Zero disables
	// automatic recovery; RestoreProvider remains available.
	RecoveryAfter time.Duration
}

func (c Config) withDefaults() Config {
	if c.WaitCeiling <= 0 {
		c.WaitCeiling = DefaultWaitCeiling
	}

	if c.ThrottleThreshold <= 0 {
		c.ThrottleThreshold = DefaultThrottleThreshold
	}

	c.DefaultProvider = c.DefaultProvider.withDefaults()

	return c
}

// ProviderStats is a point-in-time view of one provider's throttle state.
type ProviderStats struct {
	BaseLimit            int  `json:"base_limit"`
	CurrentLimit         int  `json:"current_limit"`
	TotalThrottleSignals int  `json:"total_throttle_signals"`
	IsThrottled          bool `json:"is_throttled"`
	InFlight             int  `json:"in_flight"`
}

type providerState struct {
	name string
	sem  *semaphore.Weighted

	window time.Duration

	mu                   sync.Mutex
	baseLimit            int
	currentLimit         int
	consecutiveSignals   int
	totalThrottleSignals int
	inFlight             int
	throttledAt          time.Time
}

// Dispatcher fans parallel tasks out to their providers. Each provider gets
// a concurrency semaphore and every task must win a rate-limit slot before
// its handler runs.
type Dispatcher struct {
	limiter ratelimit.Limiter
	config  Config
	logger  *slog.Logger

	mu        sync.Mutex
	providers map[string]*providerState
}

func NewDispatcher(limiter ratelimit.Limiter, config Config, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		limiter:   limiter,
		config:    config.withDefaults(),
		logger:    logger.With("module", "dispatch"),
		providers: make(map[string]*providerState),
	}
}

func (d *Dispatcher) provider(name string) *providerState {
	d.mu.Lock()
	defer d.mu.Unlock()

	if state, exists := d.providers[name]; exists {
		return state
	}

	config, exists := d.config.Providers[name]
	if !exists {
		config = d.config.DefaultProvider
	}

	config = config.withDefaults()

	state := &providerState{
		name:         name,
		sem:          semaphore.NewWeighted(config.MaxConcurrency),
		window:       config.Window,
		baseLimit:    config.RateLimit,
		currentLimit: config.RateLimit,
	}
	d.providers[name] = state

	return state
}

// effectiveLimit reports the provider's current limit, restoring the base
// limit first when the recovery period has elapsed.
func (d *Dispatcher) effectiveLimit(state *providerState) int {
	state.mu.Lock()
	defer state.mu.Unlock()

	if d.config.RecoveryAfter > 0 && state.currentLimit < state.baseLimit &&
		time.Since(state.throttledAt) >= d.config.RecoveryAfter {
		state.currentLimit = state.baseLimit
		state.consecutiveSignals = 0
	}

	return state.currentLimit
}

func (d *Dispatcher) recordThrottleSignal(ctx context.Context, state *providerState) {
	state.mu.Lock()
	defer state.mu.Unlock()

	state.totalThrottleSignals++
	state.consecutiveSignals++

	if state.consecutiveSignals < d.config.ThrottleThreshold {
		return
	}

	halved := state.currentLimit / 2
	if halved < 1 {
		halved = 1
	}

	if halved < state.currentLimit {
		d.logger.WarnContext(ctx, "Provider throttled, halving effective rate limit",
			"provider", state.name, "base_limit", state.baseLimit, "new_limit", halved)
	}

	state.currentLimit = halved
	state.consecutiveSignals = 0
	state.throttledAt = time.Now()
}

func (d *Dispatcher) recordSuccess(state *providerState) {
	state.mu.Lock()
	defer state.mu.Unlock()

	state.consecutiveSignals = 0
}

// RestoreProvider manually resets a provider to its base limit.
func (d *Dispatcher) RestoreProvider(name string) {
	state := d.provider(name)

	state.mu.Lock()
	defer state.mu.Unlock()

	state.currentLimit = state.baseLimit
	state.consecutiveSignals = 0
}

// Stats reports the throttle state of every provider seen so far.
func (d *Dispatcher) Stats() map[string]ProviderStats {
	d.mu.Lock()
	states := make([]*providerState, 0, len(d.providers))

	for _, state := range d.providers {
		states = append(states, state)
	}
	d.mu.Unlock()

	stats := make(map[string]ProviderStats, len(states))

	for _, state := range states {
		state.mu.Lock()
		stats[state.name] = ProviderStats{
			BaseLimit:            state.baseLimit,
			CurrentLimit:         state.currentLimit,
			TotalThrottleSignals: state.totalThrottleSignals,
			IsThrottled:          state.currentLimit < state.baseLimit,
			InFlight:             state.inFlight,
		}
		state.mu.Unlock()
	}

	return stats
}

// acquireSlot wins a rate-limit slot for the provider, sleeping out denials
// until the wait ceiling is spent.
func (d *Dispatcher) acquireSlot(ctx context.Context, state *providerState) error {
	var waited time.Duration

	key := "provider:" + state.name

	for {
		result, err := d.limiter.Acquire(ctx, key, d.effectiveLimit(state), state.window)
		if err != nil {
			if errors.Is(err, ratelimit.ErrStoreUnavailable) && d.config.FailOpen {
				d.logger.WarnContext(ctx, "Rate limit store unavailable, proceeding open",
					"provider", state.name, "error", err)

				return nil
			}

			return fmt.Errorf("failed to acquire rate limit slot: %w", err)
		}

		if result.Allowed {
			return nil
		}

		wait := result.RetryAfter
		if wait <= 0 {
			wait = time.Second
		}

		if waited+wait > d.config.WaitCeiling {
			return fmt.Errorf("%w: provider %s", ErrRateLimitExhausted, state.name)
		}

		d.logger.DebugContext(ctx, "Rate limit denied, waiting for window",
			"provider", state.name, "retry_after", wait, "waited", waited)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()

			return ctx.Err()
		case <-timer.C:
		}

		waited += wait
	}
}

func (d *Dispatcher) runTask(ctx context.Context, task models.ParallelTask) models.BranchOutcome {
	outcome := models.BranchOutcome{ID: task.ID, Status: models.StepStatusFailed}
	state := d.provider(task.Provider)

	started := time.Now()

	if err := state.sem.Acquire(ctx, 1); err != nil {
		outcome.Error = err.Error()
		outcome.DurationMS = time.Since(started).Milliseconds()

		return outcome
	}
	defer state.sem.Release(1)

	if err := d.acquireSlot(ctx, state); err != nil {
		outcome.Error = err.Error()
		outcome.DurationMS = time.Since(started).Milliseconds()

		return outcome
	}

	state.mu.Lock()
	state.inFlight++
	state.mu.Unlock()

	output, err := task.Handler(ctx, task.Params)

	state.mu.Lock()
	state.inFlight--
	state.mu.Unlock()

	outcome.DurationMS = time.Since(started).Milliseconds()

	if err != nil {
		if errors.Is(err, protocol.ErrProviderThrottled) {
			d.recordThrottleSignal(ctx, state)
		}

		outcome.Error = err.Error()

		return outcome
	}

	d.recordSuccess(state)

	outcome.Status = models.StepStatusSuccess
	outcome.Output = output

	return outcome
}

// ExecuteParallel runs every task concurrently and partitions the outcomes.
// Individual task failures do not fail the call; the caller decides how to
// treat a partially failed batch.
func (d *Dispatcher) ExecuteParallel(ctx context.Context, tasks []models.ParallelTask) (*models.ParallelResult, error) {
	result := &models.ParallelResult{}

	if len(tasks) == 0 {
		return result, nil
	}

	outcomes := make([]models.BranchOutcome, len(tasks))

	var wg sync.WaitGroup

	for i, task := range tasks {
		wg.Add(1)

		go func(i int, task models.ParallelTask) {
			defer wg.Done()

			outcomes[i] = d.runTask(ctx, task)
		}(i, task)
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for _, outcome := range outcomes {
		if outcome.Status == models.StepStatusSuccess {
			result.Successful = append(result.Successful, outcome)
		} else {
			result.Failed = append(result.Failed, outcome)
		}
	}

	return result, nil
}
