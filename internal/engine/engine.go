package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"sentinel-guard/internal/dispatcher"
	"sentinel-guard/internal/metrics"
	"sentinel-guard/internal/models"
	"sentinel-guard/internal/modules/antialt"
	"sentinel-guard/internal/modules/antimassmention"
	"sentinel-guard/internal/modules/antimasspost"
	"sentinel-guard/internal/modules/antipattern"
	"sentinel-guard/internal/modules/antipostchannel"
	"sentinel-guard/internal/modules/antiraid"
	"sentinel-guard/internal/modules/antispam"
	"sentinel-guard/internal/modules/audit"
	"sentinel-guard/internal/utils"
	"sentinel-guard/internal/validation"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

type Config struct {
	SweepInterval time.Duration
}

// slot is one active detector plus its dispatch tallies.
type slot struct {
	det     models.Detector
	applied atomic.Uint64
	skipped atomic.Uint64
	failed  atomic.Uint64
}

func (s *slot) count(outcome models.Outcome) {
	switch outcome {
	case models.OutcomeApplied:
		s.applied.Add(1)
	case models.OutcomeSkippedDuplicate:
		s.skipped.Add(1)
	case models.OutcomeFailed:
		s.failed.Add(1)
	}
}

type guildDetectors struct {
	mu    sync.RWMutex
	slots map[models.DetectorType]*slot
}

func newGuild() *guildDetectors {
	return &guildDetectors{slots: make(map[models.DetectorType]*slot)}
}

// Engine owns every active detector, sharded by guild. Events of different
// guilds never share a lock; within a guild, detectors are looked up under a
// read lock and evaluated outside it.
type Engine struct {
	cfg        Config
	guilds     *utils.Shards[guildDetectors]
	dispatcher *dispatcher.Dispatcher
	audit      *audit.Logger
	recorder   *metrics.Recorder
	logger     *zap.Logger
	clock      models.Clock

	stop     chan struct{}
	stopOnce sync.Once
}

func New(cfg Config, dispatch *dispatcher.Dispatcher, auditLogger *audit.Logger, recorder *metrics.Recorder, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	if dispatch == nil {
		dispatch = dispatcher.New(dispatcher.DefaultConfig(), nil, logger, recorder)
	}
	if auditLogger == nil {
		auditLogger = audit.NewLogger(nil, logger)
	}
	return &Engine{
		cfg:        cfg,
		guilds:     utils.NewShards[guildDetectors](utils.DefaultShardCount),
		dispatcher: dispatch,
		audit:      auditLogger,
		recorder:   recorder,
		logger:     logger,
		clock:      models.SystemClock{},
		stop:       make(chan struct{}),
	}
}

func (e *Engine) WithClock(clock models.Clock) {
	e.clock = clock
}

func (e *Engine) newDetector(guildID string, cfg models.DetectorConfig) (models.Detector, error) {
	switch c := cfg.(type) {
	case *models.RaidConfig:
		return antiraid.New(guildID, c, e.logger), nil
	case *models.SpamConfig:
		return antispam.New(guildID, c), nil
	case *models.AltConfig:
		return antialt.New(guildID, c), nil
	case *models.MassMentionConfig:
		return antimassmention.New(guildID, c), nil
	case *models.PatternConfig:
		return antipattern.New(guildID, c), nil
	case *models.MassPostConfig:
		return antimasspost.New(guildID, c), nil
	case *models.PostChannelConfig:
		return antipostchannel.New(guildID, c), nil
	default:
		return nil, fmt.Errorf("%w: %T", models.ErrUnknownDetector, cfg)
	}
}

// StartDetector validates cfg and activates it. Starting an active detector
// replaces its configuration and keeps its accumulated state.
func (e *Engine) StartDetector(guildID string, t models.DetectorType, cfg models.DetectorConfig) (models.DetectorConfig, error) {
	if guildID == "" {
		return nil, fmt.Errorf("%w: guild id is required", models.ErrConfigurationRejected)
	}
	if err := validation.Config(cfg); err != nil {
		return nil, err
	}
	if cfg.DetectorType() != t {
		return nil, fmt.Errorf("%w: %s config supplied for %s", models.ErrConfigurationRejected, cfg.DetectorType(), t)
	}

	var (
		active  models.DetectorConfig
		err     error
		started bool
	)
	e.guilds.With(guildID, newGuild, func(g *guildDetectors) {
		g.mu.Lock()
		defer g.mu.Unlock()
		if s, ok := g.slots[t]; ok {
			if err = s.det.Configure(cfg.Clone()); err == nil {
				active = s.det.Config().Clone()
			}
			return
		}
		var det models.Detector
		det, err = e.newDetector(guildID, cfg.Clone())
		if err != nil {
			return
		}
		g.slots[t] = &slot{det: det}
		active = det.Config().Clone()
		started = true
	})
	if err != nil {
		return nil, err
	}

	if started {
		e.recorder.DetectorStarted(string(t))
		e.lifecycle(guildID, t, "started")
	} else {
		e.lifecycle(guildID, t, "reconfigured")
	}
	return active, nil
}

func (e *Engine) StopDetector(guildID string, t models.DetectorType) bool {
	stopped := false
	e.guilds.With(guildID, nil, func(g *guildDetectors) {
		g.mu.Lock()
		defer g.mu.Unlock()
		if _, ok := g.slots[t]; ok {
			delete(g.slots, t)
			stopped = true
		}
	})
	if stopped {
		e.recorder.DetectorStopped(string(t))
		e.lifecycle(guildID, t, "stopped")
	}
	return stopped
}

// lifecycle records a protection change in the audit trail, which also logs
// it at Info.
func (e *Engine) lifecycle(guildID string, t models.DetectorType, change string) {
	e.audit.Log(context.Background(), audit.LevelInfo, guildID, "", string(t), "protection="+change)
}

// Reconfigure overlays a partial YAML (or JSON) document on the active
// configuration. Keys absent from partial keep their current values.
func (e *Engine) Reconfigure(guildID string, t models.DetectorType, partial []byte) (bool, error) {
	return e.update(guildID, t, func(current models.DetectorConfig) (models.DetectorConfig, bool, error) {
		next := current.Clone()
		if err := yaml.Unmarshal(partial, next); err != nil {
			return nil, false, fmt.Errorf("%w: %s: %w", models.ErrConfigurationRejected, t, err)
		}
		return next, true, nil
	})
}

// update applies edit to a copy of the active configuration, validates the
// result and swaps it in. Writers of one guild are serialized.
func (e *Engine) update(guildID string, t models.DetectorType, edit func(models.DetectorConfig) (models.DetectorConfig, bool, error)) (bool, error) {
	changed := false
	err := fmt.Errorf("%w: %s in guild %s", models.ErrNotActive, t, guildID)
	e.guilds.With(guildID, nil, func(g *guildDetectors) {
		g.mu.Lock()
		defer g.mu.Unlock()
		s, ok := g.slots[t]
		if !ok {
			return
		}
		var next models.DetectorConfig
		next, changed, err = edit(s.det.Config())
		if err != nil || !changed {
			return
		}
		if err = validation.Config(next); err != nil {
			changed = false
			return
		}
		if err = s.det.Configure(next); err != nil {
			changed = false
		}
	})
	if err != nil {
		return false, err
	}
	if changed {
		e.lifecycle(guildID, t, "reconfigured")
	}
	return changed, nil
}

func (e *Engine) editPostChannel(guildID string, field models.ListField, id string, add bool) (bool, error) {
	return e.update(guildID, models.AntiPostChannel, func(current models.DetectorConfig) (models.DetectorConfig, bool, error) {
		next := current.Clone().(*models.PostChannelConfig)
		return next, next.Edit(field, id, add), nil
	})
}

func (e *Engine) AddHoneypotChannel(guildID, channelID string) (bool, error) {
	return e.editPostChannel(guildID, models.HoneypotChannels, channelID, true)
}

func (e *Engine) RemoveHoneypotChannel(guildID, channelID string) (bool, error) {
	return e.editPostChannel(guildID, models.HoneypotChannels, channelID, false)
}

func (e *Engine) AddIgnoredRole(guildID, roleID string) (bool, error) {
	return e.editPostChannel(guildID, models.IgnoredRoles, roleID, true)
}

func (e *Engine) RemoveIgnoredRole(guildID, roleID string) (bool, error) {
	return e.editPostChannel(guildID, models.IgnoredRoles, roleID, false)
}

func (e *Engine) AddIgnoredUser(guildID, userID string) (bool, error) {
	return e.editPostChannel(guildID, models.IgnoredUsers, userID, true)
}

func (e *Engine) RemoveIgnoredUser(guildID, userID string) (bool, error) {
	return e.editPostChannel(guildID, models.IgnoredUsers, userID, false)
}

func (e *Engine) matching(guildID string, kind models.EventKind) []*slot {
	var out []*slot
	e.guilds.With(guildID, nil, func(g *guildDetectors) {
		g.mu.RLock()
		defer g.mu.RUnlock()
		for _, t := range models.DetectorTypes() {
			if s, ok := g.slots[t]; ok && s.det.Handles(kind) {
				out = append(out, s)
			}
		}
	})
	return out
}

// Ingest routes event to every matching detector of the guild, dispatches
// the resulting violations and reports each outcome.
func (e *Engine) Ingest(ctx context.Context, guildID string, event models.Event) []models.DispatchResult {
	event.GuildID = guildID
	if event.At.IsZero() {
		event.At = e.clock.Now()
	}
	e.recorder.ObserveIngest(event.Kind.String())

	slots := e.matching(guildID, event.Kind)
	if len(slots) == 0 {
		return nil
	}

	var (
		violations []models.Violation
		owners     []*slot
	)
	for _, s := range slots {
		for _, v := range e.evaluate(s, event) {
			e.recorder.ObserveViolation(string(v.Detector))
			e.logger.Warn("violation",
				zap.String("guild_id", v.GuildID),
				zap.String("user_id", v.UserID),
				zap.String("detector", string(v.Detector)),
				zap.String("action", v.Action.String()),
				zap.String("evidence", v.Evidence),
				zap.String("violation_id", v.ID.String()),
			)
			violations = append(violations, v)
			owners = append(owners, s)
		}
	}
	if len(violations) == 0 {
		return nil
	}

	results := e.dispatcher.DispatchAll(ctx, violations)
	for i, result := range results {
		owner := owners[i]
		owner.count(result.Outcome)
		e.recorder.ObserveDispatch(string(result.Violation.Detector), result.Outcome.String(), result.Duration)
		e.audit.Dispatch(ctx, result)
		if observer, ok := owner.det.(models.OutcomeObserver); ok {
			observer.Observe(result)
		}
		switch result.Outcome {
		case models.OutcomeFailed:
			e.logger.Warn("punishment failed",
				zap.String("guild_id", result.Violation.GuildID),
				zap.String("user_id", result.Violation.UserID),
				zap.String("detector", string(result.Violation.Detector)),
				zap.Error(result.Err),
			)
		case models.OutcomeSkippedDuplicate:
			e.logger.Debug("punishment skipped",
				zap.String("guild_id", result.Violation.GuildID),
				zap.String("user_id", result.Violation.UserID),
				zap.String("detector", string(result.Violation.Detector)),
			)
		}
	}
	return results
}

// evaluate runs one detector, containing any panic to that detector.
func (e *Engine) evaluate(s *slot, event models.Event) (out []models.Violation) {
	defer func() {
		if r := recover(); r != nil {
			e.recorder.ObservePanic(string(s.det.Type()))
			e.logger.Error("detector panic",
				zap.String("guild_id", event.GuildID),
				zap.String("detector", string(s.det.Type())),
				zap.Any("panic", r),
			)
			out = nil
		}
	}()
	return s.det.Evaluate(event)
}

// Run sweeps expired detector state until ctx is done or Close is called.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stop:
			return
		case <-ticker.C:
			e.Sweep()
		}
	}
}

// Sweep drops state that is no longer visible to any detector, expired
// punishment receipts and guilds without active detectors.
func (e *Engine) Sweep() {
	now := e.clock.Now()
	e.guilds.Range(func(_ string, g *guildDetectors) bool {
		g.mu.RLock()
		slots := make([]*slot, 0, len(g.slots))
		for _, s := range g.slots {
			slots = append(slots, s)
		}
		g.mu.RUnlock()
		for _, s := range slots {
			s.det.Sweep(now)
		}
		return true
	})
	e.guilds.Prune(func(_ string, g *guildDetectors) bool {
		g.mu.RLock()
		defer g.mu.RUnlock()
		return len(g.slots) == 0
	})
	if removed := e.dispatcher.Sweep(); removed > 0 {
		e.logger.Debug("expired receipts dropped", zap.Int("removed", removed))
	}
	e.recorder.ObserveSweep()
}

func (e *Engine) Close() {
	e.stopOnce.Do(func() { close(e.stop) })
}
