package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"sentinel-guard/internal/metrics"
	"sentinel-guard/internal/models"
	"sentinel-guard/internal/utils"

	lru "github.com/hashicorp/golang-lru/v2"
	gobreaker "github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Executor interface {
	Apply(ctx context.Context, guildID, userID string, action models.PunishmentAction) error
}

type ExecutorFunc func(ctx context.Context, guildID, userID string, action models.PunishmentAction) error

func (f ExecutorFunc) Apply(ctx context.Context, guildID, userID string, action models.PunishmentAction) error {
	return f(ctx, guildID, userID, action)
}

type BreakerConfig struct {
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	FailureRatio float64
	MinRequests  uint32
}

type Config struct {
	MinCooldown   time.Duration
	MaxReceipts   int
	Concurrency   int
	ActionTimeout time.Duration
	Breaker       BreakerConfig
}

func DefaultConfig() Config {
	return Config{
		MinCooldown:   5 * time.Minute,
		MaxReceipts:   10_000,
		Concurrency:   8,
		ActionTimeout: 10 * time.Second,
		Breaker: BreakerConfig{
			MaxRequests:  3,
			Interval:     time.Minute,
			Timeout:      30 * time.Second,
			FailureRatio: 0.6,
			MinRequests:  10,
		},
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MinCooldown <= 0 {
		c.MinCooldown = def.MinCooldown
	}
	if c.MaxReceipts <= 0 {
		c.MaxReceipts = def.MaxReceipts
	}
	if c.Concurrency <= 0 {
		c.Concurrency = def.Concurrency
	}
	if c.ActionTimeout <= 0 {
		c.ActionTimeout = def.ActionTimeout
	}
	if c.Breaker.MaxRequests == 0 {
		c.Breaker.MaxRequests = def.Breaker.MaxRequests
	}
	if c.Breaker.Interval <= 0 {
		c.Breaker.Interval = def.Breaker.Interval
	}
	if c.Breaker.Timeout <= 0 {
		c.Breaker.Timeout = def.Breaker.Timeout
	}
	if c.Breaker.FailureRatio <= 0 {
		c.Breaker.FailureRatio = def.Breaker.FailureRatio
	}
	if c.Breaker.MinRequests == 0 {
		c.Breaker.MinRequests = def.Breaker.MinRequests
	}
	return c
}

// Receipt records the last successful punishment of a subject by a detector.
type Receipt struct {
	GuildID   string
	Detector  models.DetectorType
	UserID    string
	Action    models.PunishmentAction
	AppliedAt time.Time
	ExpiresAt time.Time
}

// Dispatcher applies violations at most once per receipt lifetime. Every
// guild owns its receipts, reservations and executor breaker, so a guild
// whose punishments keep failing never holds back another guild. The
// executor runs outside any lock.
type Dispatcher struct {
	cfg      Config
	executor Executor
	logger   *zap.Logger
	recorder *metrics.Recorder
	clock    models.Clock
	guilds   *utils.Shards[guildState]
}

type guildState struct {
	mu       sync.Mutex
	receipts *lru.Cache[string, Receipt]
	inflight map[string]struct{}
	breaker  *gobreaker.CircuitBreaker[struct{}]
}

func New(cfg Config, executor Executor, logger *zap.Logger, recorder *metrics.Recorder) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		cfg:      cfg.withDefaults(),
		executor: executor,
		logger:   logger,
		recorder: recorder,
		clock:    models.SystemClock{},
		guilds:   utils.NewShards[guildState](utils.DefaultShardCount),
	}
}

func (d *Dispatcher) WithClock(clock models.Clock) {
	d.clock = clock
}

func breakerName(guildID string) string {
	return "executor:" + guildID
}

func (d *Dispatcher) newGuild(guildID string) func() *guildState {
	return func() *guildState {
		// MaxReceipts is positive after withDefaults, the only error case.
		receipts, _ := lru.New[string, Receipt](d.cfg.MaxReceipts)
		return &guildState{
			receipts: receipts,
			inflight: make(map[string]struct{}),
			breaker:  d.newBreaker(breakerName(guildID)),
		}
	}
}

func (d *Dispatcher) newBreaker(name string) *gobreaker.CircuitBreaker[struct{}] {
	cfg := d.cfg.Breaker
	logger, recorder := d.logger, d.recorder
	recorder.SetBreakerState(name, 0)
	return gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("executor breaker state change",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			recorder.SetBreakerState(name, float64(to))
		},
	})
}

func receiptKey(detector models.DetectorType, userID string) string {
	return string(detector) + ":" + userID
}

// cooldown is how long a successful punishment suppresses repeats.
func (d *Dispatcher) cooldown(action models.PunishmentAction) time.Duration {
	if action.Duration > 0 {
		return action.Duration
	}
	return d.cfg.MinCooldown
}

// reserve claims the subject for one application. It runs under the shard
// read lock, so Sweep cannot drop the guild while a reservation is taken.
func (d *Dispatcher) reserve(violation models.Violation, key string) (*guildState, bool) {
	var (
		state    *guildState
		reserved bool
	)
	d.guilds.With(violation.GuildID, d.newGuild(violation.GuildID), func(g *guildState) {
		state = g
		g.mu.Lock()
		defer g.mu.Unlock()
		if receipt, ok := g.receipts.Get(key); ok && d.clock.Now().Before(receipt.ExpiresAt) {
			return
		}
		if _, busy := g.inflight[key]; busy {
			return
		}
		g.inflight[key] = struct{}{}
		reserved = true
	})
	return state, reserved
}

func (d *Dispatcher) Dispatch(ctx context.Context, violation models.Violation) models.DispatchResult {
	start := time.Now()
	result := models.DispatchResult{Violation: violation}
	key := receiptKey(violation.Detector, violation.UserID)

	state, reserved := d.reserve(violation, key)
	if !reserved {
		result.Outcome = models.OutcomeSkippedDuplicate
		result.Duration = time.Since(start)
		return result
	}

	err := d.apply(ctx, state.breaker, violation)

	// The reservation keeps state out of Sweep until it is released here.
	state.mu.Lock()
	delete(state.inflight, key)
	if err == nil {
		now := d.clock.Now()
		state.receipts.Add(key, Receipt{
			GuildID:   violation.GuildID,
			Detector:  violation.Detector,
			UserID:    violation.UserID,
			Action:    violation.Action,
			AppliedAt: now,
			ExpiresAt: now.Add(d.cooldown(violation.Action)),
		})
	}
	state.mu.Unlock()

	if err != nil {
		result.Outcome = models.OutcomeFailed
		result.Err = err
	} else {
		result.Outcome = models.OutcomeApplied
	}
	result.Duration = time.Since(start)
	return result
}

func (d *Dispatcher) apply(ctx context.Context, breaker *gobreaker.CircuitBreaker[struct{}], violation models.Violation) error {
	if d.executor == nil {
		return fmt.Errorf("%w: no executor configured", models.ErrExternalActionFailed)
	}
	ctx, cancel := context.WithTimeout(ctx, d.cfg.ActionTimeout)
	defer cancel()

	_, err := breaker.Execute(func() (struct{}, error) {
		return struct{}{}, d.executor.Apply(ctx, violation.GuildID, violation.UserID, violation.Action)
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: breaker rejected: %w", models.ErrExternalActionFailed, err)
	}
	return fmt.Errorf("%w: %s %s: %w", models.ErrExternalActionFailed, violation.Action, violation.UserID, err)
}

// DispatchAll dispatches violations concurrently, bounded by the configured
// concurrency. Results keep the order of violations.
func (d *Dispatcher) DispatchAll(ctx context.Context, violations []models.Violation) []models.DispatchResult {
	results := make([]models.DispatchResult, len(violations))
	if len(violations) == 1 {
		results[0] = d.Dispatch(ctx, violations[0])
		return results
	}
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(d.cfg.Concurrency)
	for i, violation := range violations {
		i, violation := i, violation
		group.Go(func() error {
			results[i] = d.Dispatch(groupCtx, violation)
			return nil
		})
	}
	_ = group.Wait()
	return results
}

// Sweep drops expired receipts and forgets guilds with nothing left to
// guard. A guild whose breaker is not closed is kept so its state survives.
// It returns the number of receipts removed.
func (d *Dispatcher) Sweep() int {
	now := d.clock.Now()
	removed := 0
	d.guilds.Prune(func(guildID string, g *guildState) bool {
		g.mu.Lock()
		defer g.mu.Unlock()
		for _, key := range g.receipts.Keys() {
			if r, ok := g.receipts.Peek(key); ok && !now.Before(r.ExpiresAt) {
				g.receipts.Remove(key)
				removed++
			}
		}
		if g.receipts.Len() > 0 || len(g.inflight) > 0 || g.breaker.State() != gobreaker.StateClosed {
			return false
		}
		d.recorder.DeleteBreakerState(breakerName(guildID))
		return true
	})
	return removed
}
