package antipostchannel

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"sentinel-guard/internal/models"
	"sentinel-guard/internal/utils"
)

const recentCapacity = 50

// recentWindow bounds how long honeypot hits are reported in stats.
const recentWindow = time.Hour

type settings struct {
	cfg      *models.PostChannelConfig
	channels map[string]struct{}
	roles    map[string]struct{}
	users    map[string]struct{}
}

func compile(cfg *models.PostChannelConfig) *settings {
	cfg = cfg.Clone().(*models.PostChannelConfig)
	return &settings{
		cfg:      cfg,
		channels: models.StringSet(cfg.Channels),
		roles:    models.StringSet(cfg.IgnoredRoles),
		users:    models.StringSet(cfg.IgnoredUsers),
	}
}

type hit struct {
	userID    string
	channelID string
	at        time.Time
}

// Module punishes any post in a honeypot channel.
type Module struct {
	guildID  string
	settings atomic.Pointer[settings]

	mu         sync.Mutex
	recent     *utils.Ring[hit]
	violations atomic.Uint64
}

func New(guildID string, cfg *models.PostChannelConfig) *Module {
	m := &Module{guildID: guildID, recent: utils.NewRing[hit](recentCapacity)}
	m.settings.Store(compile(cfg))
	return m
}

func (m *Module) Type() models.DetectorType { return models.AntiPostChannel }

func (m *Module) Handles(kind models.EventKind) bool { return kind == models.EventMessage }

func (m *Module) Config() models.DetectorConfig { return m.settings.Load().cfg }

func (m *Module) Configure(cfg models.DetectorConfig) error {
	post, ok := cfg.(*models.PostChannelConfig)
	if !ok {
		return fmt.Errorf("%w: expected %s config, got %T", models.ErrConfigurationRejected, models.AntiPostChannel, cfg)
	}
	m.settings.Store(compile(post))
	return nil
}

func (m *Module) Evaluate(event models.Event) []models.Violation {
	if event.Kind != models.EventMessage || event.UserID == "" {
		return nil
	}
	s := m.settings.Load()
	if _, ok := s.channels[event.ChannelID]; !ok {
		return nil
	}
	if s.cfg.IgnoreBots && event.Bot {
		return nil
	}
	if _, ok := s.users[event.UserID]; ok {
		return nil
	}
	if event.HasRole(s.roles) {
		return nil
	}

	m.mu.Lock()
	m.recent.Push(hit{userID: event.UserID, channelID: event.ChannelID, at: event.At})
	m.mu.Unlock()
	m.violations.Add(1)

	detail := fmt.Sprintf("type=HONEYPOT channel=%s message=%s", event.ChannelID, event.MessageID)
	return []models.Violation{models.NewViolation(m.guildID, models.AntiPostChannel, event.UserID, s.cfg.Punishment(), detail, event.At)}
}

func (m *Module) Stats(now time.Time) models.DetectorStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	users := make(map[string]struct{})
	entries := 0
	m.recent.Each(func(h hit) bool {
		if now.Sub(h.at) <= recentWindow {
			users[h.userID] = struct{}{}
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
		if !ok || now.Sub(front.at) <= recentWindow {
			return
		}
		m.recent.PopFront()
	}
}
