package antiraid

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"sentinel-guard/internal/models"
	"sentinel-guard/internal/utils"

	"go.uber.org/zap"
)

// Module detects join floods for one guild. Joins are counted per distinct
// user; once the threshold is crossed the raid stays open while joins keep
// arriving within the window of the previous join, and every joiner of an
// open raid is punished.
type Module struct {
	guildID string
	logger  *zap.Logger
	config  atomic.Pointer[models.RaidConfig]

	mu         sync.Mutex
	joins      *utils.SlidingWindow
	active     bool
	lastJoin   time.Time
	members    map[string]struct{}
	retry      map[string]struct{}
	violations atomic.Uint64
}

func New(guildID string, cfg *models.RaidConfig, logger *zap.Logger) *Module {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Module{
		guildID: guildID,
		logger:  logger,
		joins:   utils.NewSlidingWindow(1),
		members: make(map[string]struct{}),
		retry:   make(map[string]struct{}),
	}
	m.config.Store(cfg.Clone().(*models.RaidConfig))
	return m
}

func (m *Module) Type() models.DetectorType { return models.AntiRaid }

func (m *Module) Handles(kind models.EventKind) bool { return kind == models.EventJoin }

func (m *Module) Config() models.DetectorConfig { return m.config.Load() }

// Configure swaps the thresholds and closes any open raid, since its member
// list was gathered under the old thresholds.
func (m *Module) Configure(cfg models.DetectorConfig) error {
	raid, ok := cfg.(*models.RaidConfig)
	if !ok {
		return fmt.Errorf("%w: expected %s config, got %T", models.ErrConfigurationRejected, models.AntiRaid, cfg)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config.Store(raid.Clone().(*models.RaidConfig))
	m.closeRaid("reconfigured")
	return nil
}

func (m *Module) Evaluate(event models.Event) []models.Violation {
	if event.Kind != models.EventJoin || event.UserID == "" || event.Bot {
		return nil
	}
	cfg := m.config.Load()
	span := time.Duration(cfg.Seconds) * time.Second

	m.mu.Lock()
	defer m.mu.Unlock()

	m.joins.Record(event.UserID, event.At, 1)
	if m.active && event.At.Sub(m.lastJoin) > span {
		m.closeRaid("window elapsed")
	}
	if event.At.After(m.lastJoin) {
		m.lastJoin = event.At
	}

	if m.active {
		m.members[event.UserID] = struct{}{}
		targets := []string{event.UserID}
		for userID := range m.retry {
			if userID != event.UserID {
				targets = append(targets, userID)
			}
		}
		sort.Strings(targets[1:])
		detail := fmt.Sprintf("type=RAID state=open members=%d window=%ds", len(m.members), cfg.Seconds)
		return m.emit(cfg, targets, detail, event.At)
	}

	users := m.joins.Subjects(span, event.At)
	if len(users) < cfg.UserThreshold {
		return nil
	}
	sort.Strings(users)
	m.active = true
	for _, userID := range users {
		m.members[userID] = struct{}{}
	}
	m.logger.Info("raid opened",
		zap.String("guild_id", m.guildID),
		zap.Int("joins", len(users)),
		zap.Int("threshold", cfg.UserThreshold),
		zap.Int("window_seconds", cfg.Seconds),
	)
	detail := fmt.Sprintf("type=RAID rule=%djoins/%ds value=%djoins/%ds threshold=%d", cfg.UserThreshold, cfg.Seconds, len(users), cfg.Seconds, cfg.UserThreshold)
	return m.emit(cfg, users, detail, event.At)
}

func (m *Module) emit(cfg *models.RaidConfig, users []string, detail string, at time.Time) []models.Violation {
	action := cfg.Punishment()
	out := make([]models.Violation, 0, len(users))
	for _, userID := range users {
		out = append(out, models.NewViolation(m.guildID, models.AntiRaid, userID, action, detail, at))
	}
	m.violations.Add(uint64(len(out)))
	return out
}

// Observe queues members whose punishment failed so the next join of the
// same raid retries them.
func (m *Module) Observe(result models.DispatchResult) {
	if result.Violation.Detector != models.AntiRaid {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	userID := result.Violation.UserID
	switch result.Outcome {
	case models.OutcomeFailed:
		if _, ok := m.members[userID]; ok && m.active {
			m.retry[userID] = struct{}{}
		}
	default:
		delete(m.retry, userID)
	}
}

// closeRaid resets the raid state. Callers hold mu.
func (m *Module) closeRaid(reason string) {
	if m.active {
		m.logger.Info("raid closed",
			zap.String("guild_id", m.guildID),
			zap.Int("members", len(m.members)),
			zap.String("reason", reason),
		)
	}
	m.active = false
	clear(m.members)
	clear(m.retry)
}

func (m *Module) Stats(now time.Time) models.DetectorStats {
	cfg := m.config.Load()
	span := time.Duration(cfg.Seconds) * time.Second

	m.mu.Lock()
	defer m.mu.Unlock()
	stats := models.DetectorStats{
		Violations: m.violations.Load(),
		Subjects:   m.joins.DistinctSubjects(span, now),
		Entries:    m.joins.Entries(span, now),
		RaidActive: m.active && now.Sub(m.lastJoin) <= span,
	}
	if stats.RaidActive {
		stats.RaidMembers = make([]string, 0, len(m.members))
		for userID := range m.members {
			stats.RaidMembers = append(stats.RaidMembers, userID)
		}
		sort.Strings(stats.RaidMembers)
	}
	return stats
}

func (m *Module) Sweep(now time.Time) {
	cfg := m.config.Load()
	span := time.Duration(cfg.Seconds) * time.Second

	m.mu.Lock()
	defer m.mu.Unlock()
	m.joins.Sweep(span, now)
	if m.active && now.Sub(m.lastJoin) > span {
		m.closeRaid("window elapsed")
	}
}
