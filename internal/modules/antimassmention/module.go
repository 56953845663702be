package antimassmention

import (
	"fmt"
	"sync/atomic"
	"time"

	"sentinel-guard/internal/models"
	"sentinel-guard/internal/utils"
)

// Module tracks mentions per user. A single message with too many mentions
// triggers on its own; otherwise the windowed total is compared against the
// mention threshold.
type Module struct {
	guildID    string
	config     atomic.Pointer[models.MassMentionConfig]
	windows    *utils.SlidingWindow
	violations atomic.Uint64
}

func New(guildID string, cfg *models.MassMentionConfig) *Module {
	m := &Module{
		guildID: guildID,
		windows: utils.NewSlidingWindow(utils.DefaultWindowCapacity),
	}
	m.config.Store(cfg.Clone().(*models.MassMentionConfig))
	return m
}

func (m *Module) Type() models.DetectorType { return models.AntiMassMention }

func (m *Module) Handles(kind models.EventKind) bool { return kind == models.EventMessage }

func (m *Module) Config() models.DetectorConfig { return m.config.Load() }

func (m *Module) Configure(cfg models.DetectorConfig) error {
	mention, ok := cfg.(*models.MassMentionConfig)
	if !ok {
		return fmt.Errorf("%w: expected %s config, got %T", models.ErrConfigurationRejected, models.AntiMassMention, cfg)
	}
	m.config.Store(mention.Clone().(*models.MassMentionConfig))
	return nil
}

func window(cfg *models.MassMentionConfig) time.Duration {
	return time.Duration(cfg.TimeWindowSeconds) * time.Second
}

func (m *Module) Evaluate(event models.Event) []models.Violation {
	if event.Kind != models.EventMessage || event.UserID == "" || event.Mentions <= 0 {
		return nil
	}
	cfg := m.config.Load()
	if cfg.IgnoreBots && event.Bot {
		return nil
	}

	total := m.windows.Add(event.UserID, event.At, event.Mentions, window(cfg))
	var detail string
	switch {
	case event.Mentions >= cfg.MaxMentionsInTimeWindow:
		detail = fmt.Sprintf("type=MENTION rule=%d/message value=%d channel=%s", cfg.MaxMentionsInTimeWindow, event.Mentions, event.ChannelID)
	case total >= cfg.MentionThreshold:
		detail = fmt.Sprintf("type=MENTION rule=%d/%ds value=%d/%ds channel=%s", cfg.MentionThreshold, cfg.TimeWindowSeconds, total, cfg.TimeWindowSeconds, event.ChannelID)
	default:
		return nil
	}
	m.violations.Add(1)
	return []models.Violation{models.NewViolation(m.guildID, models.AntiMassMention, event.UserID, cfg.Punishment(), detail, event.At)}
}

func (m *Module) Stats(now time.Time) models.DetectorStats {
	span := window(m.config.Load())
	return models.DetectorStats{
		Violations: m.violations.Load(),
		Subjects:   m.windows.DistinctSubjects(span, now),
		Entries:    m.windows.Entries(span, now),
	}
}

func (m *Module) Sweep(now time.Time) {
	m.windows.Sweep(window(m.config.Load()), now)
}
