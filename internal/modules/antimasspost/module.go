package antimasspost

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"sentinel-guard/internal/fingerprint"
	"sentinel-guard/internal/models"
	"sentinel-guard/internal/utils"
)

type post struct {
	channelID   string
	fingerprint fingerprint.Fingerprint
	at          time.Time
}

type history struct {
	mu    sync.Mutex
	posts *utils.Ring[post]
}

// prune drops posts older than cutoff. Callers hold mu.
func (h *history) prune(cutoff time.Time) {
	for {
		front, ok := h.posts.Front()
		if !ok || !front.at.Before(cutoff) {
			return
		}
		h.posts.PopFront()
	}
}

// Module detects the same content being posted across several channels by
// one user. Each user keeps at most MaxMessagesTracked recent posts.
type Module struct {
	guildID    string
	config     atomic.Pointer[models.MassPostConfig]
	users      *utils.Shards[history]
	violations atomic.Uint64
}

func New(guildID string, cfg *models.MassPostConfig) *Module {
	m := &Module{
		guildID: guildID,
		users:   utils.NewShards[history](utils.DefaultShardCount),
	}
	m.config.Store(cfg.Clone().(*models.MassPostConfig))
	return m
}

func (m *Module) Type() models.DetectorType { return models.AntiMassPost }

func (m *Module) Handles(kind models.EventKind) bool { return kind == models.EventMessage }

func (m *Module) Config() models.DetectorConfig { return m.config.Load() }

func (m *Module) Configure(cfg models.DetectorConfig) error {
	mass, ok := cfg.(*models.MassPostConfig)
	if !ok {
		return fmt.Errorf("%w: expected %s config, got %T", models.ErrConfigurationRejected, models.AntiMassPost, cfg)
	}
	m.config.Store(mass.Clone().(*models.MassPostConfig))
	return nil
}

func window(cfg *models.MassPostConfig) time.Duration {
	return time.Duration(cfg.TimeWindowSeconds) * time.Second
}

func (m *Module) Evaluate(event models.Event) []models.Violation {
	if event.Kind != models.EventMessage || event.UserID == "" || event.ChannelID == "" {
		return nil
	}
	cfg := m.config.Load()
	if cfg.IgnoreBots && event.Bot {
		return nil
	}
	if utf8.RuneCountInString(strings.TrimSpace(event.Content)) < cfg.MinContentLength {
		return nil
	}
	current := fingerprint.Compute(event.Content, cfg.CaseSensitive, cfg.CheckLinksOnly)
	if current.Empty() {
		return nil
	}

	cutoff := event.At.Add(-window(cfg))
	channels := 0
	m.users.With(event.UserID, func() *history {
		return &history{posts: utils.NewRing[post](cfg.MaxMessagesTracked)}
	}, func(h *history) {
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.posts.Cap() != cfg.MaxMessagesTracked {
			h.posts.Resize(cfg.MaxMessagesTracked)
		}
		h.prune(cutoff)
		h.posts.Push(post{channelID: event.ChannelID, fingerprint: current, at: event.At})
		channels = matchingChannels(h.posts, current, cutoff, cfg)
	})

	if channels < cfg.ChannelThreshold {
		return nil
	}
	m.violations.Add(1)
	detail := fmt.Sprintf("type=MASS_POST rule=%dchannels/%ds value=%dchannels/%ds duplicate=%t", cfg.ChannelThreshold, cfg.TimeWindowSeconds, channels, cfg.TimeWindowSeconds, cfg.CheckDuplicateContent)
	return []models.Violation{models.NewViolation(m.guildID, models.AntiMassPost, event.UserID, cfg.Punishment(), detail, event.At)}
}

// matchingChannels counts the distinct channels holding a live post that
// matches current. Without duplicate checking every live post matches.
func matchingChannels(posts *utils.Ring[post], current fingerprint.Fingerprint, cutoff time.Time, cfg *models.MassPostConfig) int {
	seen := make(map[string]struct{})
	posts.Each(func(p post) bool {
		if p.at.Before(cutoff) {
			return true
		}
		if cfg.CheckDuplicateContent && !fingerprint.Match(p.fingerprint, current, cfg.ContentSimilarityThreshold, cfg.RequireIdenticalContent) {
			return true
		}
		seen[p.channelID] = struct{}{}
		return true
	})
	return len(seen)
}

func (m *Module) Stats(now time.Time) models.DetectorStats {
	cutoff := now.Add(-window(m.config.Load()))
	stats := models.DetectorStats{Violations: m.violations.Load()}
	m.users.Range(func(_ string, h *history) bool {
		h.mu.Lock()
		live := 0
		h.posts.Each(func(p post) bool {
			if !p.at.Before(cutoff) {
				live++
			}
			return true
		})
		h.mu.Unlock()
		if live > 0 {
			stats.Subjects++
			stats.Entries += live
		}
		return true
	})
	return stats
}

func (m *Module) Sweep(now time.Time) {
	cutoff := now.Add(-window(m.config.Load()))
	m.users.Prune(func(_ string, h *history) bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		h.prune(cutoff)
		return h.posts.Len() == 0
	})
}
