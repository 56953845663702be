package antipattern

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"sentinel-guard/internal/models"
	"sentinel-guard/internal/risk"
	"sentinel-guard/internal/utils"
)

// Tuning holds the fixed thresholds behind each pattern signal.
type Tuning struct {
	YoungAccount  time.Duration
	NewAccount    time.Duration
	BurstWindow   time.Duration
	BurstJoins    int
	BatchWindow   time.Duration
	BatchSpread   time.Duration
	RecentHistory int
}

var DefaultTuning = Tuning{
	YoungAccount:  7 * 24 * time.Hour,
	NewAccount:    24 * time.Hour,
	BurstWindow:   10 * time.Second,
	BurstJoins:    3,
	BatchWindow:   10 * time.Minute,
	BatchSpread:   10 * time.Minute,
	RecentHistory: 50,
}

type recentJoin struct {
	userID    string
	at        time.Time
	createdAt time.Time
}

// Module scores each join against the guild's recent join history.
type Module struct {
	guildID   string
	tuning    Tuning
	evaluator *risk.Evaluator
	config    atomic.Pointer[models.PatternConfig]

	mu         sync.Mutex
	recent     *utils.Ring[recentJoin]
	violations atomic.Uint64
}

func New(guildID string, cfg *models.PatternConfig) *Module {
	return NewWithTuning(guildID, cfg, DefaultTuning, risk.NewEvaluator(nil))
}

func NewWithTuning(guildID string, cfg *models.PatternConfig, tuning Tuning, evaluator *risk.Evaluator) *Module {
	m := &Module{
		guildID:   guildID,
		tuning:    tuning,
		evaluator: evaluator,
		recent:    utils.NewRing[recentJoin](tuning.RecentHistory),
	}
	m.config.Store(cfg.Clone().(*models.PatternConfig))
	return m
}

func (m *Module) Type() models.DetectorType { return models.AntiPattern }

func (m *Module) Handles(kind models.EventKind) bool { return kind == models.EventJoin }

func (m *Module) Config() models.DetectorConfig { return m.config.Load() }

func (m *Module) Configure(cfg models.DetectorConfig) error {
	pattern, ok := cfg.(*models.PatternConfig)
	if !ok {
		return fmt.Errorf("%w: expected %s config, got %T", models.ErrConfigurationRejected, models.AntiPattern, cfg)
	}
	m.config.Store(pattern.Clone().(*models.PatternConfig))
	return nil
}

func (m *Module) Evaluate(event models.Event) []models.Violation {
	if event.Kind != models.EventJoin || event.UserID == "" || event.Bot {
		return nil
	}
	cfg := m.config.Load()

	m.mu.Lock()
	signals := m.signals(event)
	m.recent.Push(recentJoin{userID: event.UserID, at: event.At, createdAt: event.AccountCreatedAt})
	m.mu.Unlock()

	result := m.evaluator.Score(risk.PatternChecks(cfg), signals)
	if !result.Passes(cfg.MinimumScore) {
		return nil
	}
	m.violations.Add(1)
	detail := fmt.Sprintf("type=PATTERN rule=score>=%d value=%d signals=%s", cfg.MinimumScore, result.Score, result)
	return []models.Violation{models.NewViolation(m.guildID, models.AntiPattern, event.UserID, cfg.Punishment(), detail, event.At)}
}

// signals computes every heuristic for event. Callers hold mu.
func (m *Module) signals(event models.Event) risk.Signals {
	signals := risk.Signals{risk.SignalOffline: event.Offline}
	created := event.AccountCreatedAt
	if !created.IsZero() {
		age := event.At.Sub(created)
		signals[risk.SignalAccountAge] = age < m.tuning.YoungAccount
		signals[risk.SignalNewAccount] = age < m.tuning.NewAccount
	}

	burst := 1
	batch := false
	m.recent.Each(func(prev recentJoin) bool {
		since := event.At.Sub(prev.at)
		if since < 0 {
			return true
		}
		if since <= m.tuning.BurstWindow {
			burst++
		}
		if !batch && prev.userID != event.UserID && since <= m.tuning.BatchWindow &&
			!created.IsZero() && !prev.createdAt.IsZero() && absDuration(created.Sub(prev.createdAt)) <= m.tuning.BatchSpread {
			batch = true
		}
		return true
	})
	signals[risk.SignalJoinTiming] = burst >= m.tuning.BurstJoins
	signals[risk.SignalBatchCreation] = batch
	return signals
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func (m *Module) Stats(now time.Time) models.DetectorStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	users := make(map[string]struct{})
	entries := 0
	m.recent.Each(func(j recentJoin) bool {
		if now.Sub(j.at) <= m.tuning.BatchWindow {
			users[j.userID] = struct{}{}
			entries++
		}
		return true
	})
	return models.DetectorStats{Violations: m.violations.Load(), Subjects: len(users), Entries: entries}
}

func (m *Module) Sweep(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for {
		front, ok := m.recent.Front()
		if !ok || now.Sub(front.at) <= m.tuning.BatchWindow {
			return
		}
		m.recent.PopFront()
	}
}
