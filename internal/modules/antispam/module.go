package antispam

import (
	"fmt"
	"sync/atomic"
	"time"

	"sentinel-guard/internal/models"
	"sentinel-guard/internal/utils"
)

type settings struct {
	cfg     *models.SpamConfig
	window  time.Duration
	ignored map[string]struct{}
}

func compile(cfg *models.SpamConfig) *settings {
	cfg = cfg.Clone().(*models.SpamConfig)
	return &settings{
		cfg:     cfg,
		window:  time.Duration(cfg.WindowSeconds) * time.Second,
		ignored: models.StringSet(cfg.IgnoredChannels),
	}
}

// Module counts messages per user over a sliding window.
type Module struct {
	guildID    string
	settings   atomic.Pointer[settings]
	windows    *utils.SlidingWindow
	violations atomic.Uint64
}

func New(guildID string, cfg *models.SpamConfig) *Module {
	m := &Module{
		guildID: guildID,
		windows: utils.NewSlidingWindow(utils.DefaultWindowCapacity),
	}
	m.settings.Store(compile(cfg))
	return m
}

func (m *Module) Type() models.DetectorType { return models.AntiSpam }

func (m *Module) Handles(kind models.EventKind) bool { return kind == models.EventMessage }

func (m *Module) Config() models.DetectorConfig { return m.settings.Load().cfg }

func (m *Module) Configure(cfg models.DetectorConfig) error {
	spam, ok := cfg.(*models.SpamConfig)
	if !ok {
		return fmt.Errorf("%w: expected %s config, got %T", models.ErrConfigurationRejected, models.AntiSpam, cfg)
	}
	m.settings.Store(compile(spam))
	return nil
}

func (m *Module) Evaluate(event models.Event) []models.Violation {
	if event.Kind != models.EventMessage || event.UserID == "" {
		return nil
	}
	s := m.settings.Load()
	if s.cfg.IgnoreBots && event.Bot {
		return nil
	}
	if _, ok := s.ignored[event.ChannelID]; ok {
		return nil
	}

	count := m.windows.Add(event.UserID, event.At, 1, s.window)
	if count < s.cfg.MessageThreshold {
		return nil
	}
	m.violations.Add(1)
	detail := fmt.Sprintf("type=SPAM rule=%dmsgs/%ds value=%dmsgs/%ds channel=%s", s.cfg.MessageThreshold, s.cfg.WindowSeconds, count, s.cfg.WindowSeconds, event.ChannelID)
	return []models.Violation{models.NewViolation(m.guildID, models.AntiSpam, event.UserID, s.cfg.Punishment(), detail, event.At)}
}

// Count returns the user's live message count.
func (m *Module) Count(userID string, now time.Time) int {
	return m.windows.Count(userID, m.settings.Load().window, now)
}

func (m *Module) Stats(now time.Time) models.DetectorStats {
	window := m.settings.Load().window
	return models.DetectorStats{
		Violations: m.violations.Load(),
		Subjects:   m.windows.DistinctSubjects(window, now),
		Entries:    m.windows.Entries(window, now),
	}
}

func (m *Module) Sweep(now time.Time) {
	m.windows.Sweep(m.settings.Load().window, now)
}
