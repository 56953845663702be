package engine

import (
	"time"

	"sentinel-guard/internal/models"
)

type DetectorSnapshot struct {
	Type    models.DetectorType
	Enabled bool
	// Config is a copy; nil when the detector is not active.
	Config  models.DetectorConfig
	Stats   models.DetectorStats
	Applied uint64
	Skipped uint64
	Failed  uint64
}

type Snapshot struct {
	GuildID   string
	At        time.Time
	Detectors []DetectorSnapshot
}

// Detector returns the entry for t. Every detector type has one.
func (s Snapshot) Detector(t models.DetectorType) DetectorSnapshot {
	for _, d := range s.Detectors {
		if d.Type == t {
			return d
		}
	}
	return DetectorSnapshot{Type: t}
}

func (s Snapshot) Active() []models.DetectorType {
	var out []models.DetectorType
	for _, d := range s.Detectors {
		if d.Enabled {
			out = append(out, d.Type)
		}
	}
	return out
}

// Snapshot reports every detector type for the guild, active or not.
func (e *Engine) Snapshot(guildID string) Snapshot {
	now := e.clock.Now()
	active := make(map[models.DetectorType]*slot)
	e.guilds.With(guildID, nil, func(g *guildDetectors) {
		g.mu.RLock()
		defer g.mu.RUnlock()
		for t, s := range g.slots {
			active[t] = s
		}
	})

	snap := Snapshot{GuildID: guildID, At: now}
	for _, t := range models.DetectorTypes() {
		entry := DetectorSnapshot{Type: t}
		if s, ok := active[t]; ok {
			entry.Enabled = true
			entry.Config = s.det.Config().Clone()
			entry.Stats = s.det.Stats(now)
			entry.Applied = s.applied.Load()
			entry.Skipped = s.skipped.Load()
			entry.Failed = s.failed.Load()
		}
		snap.Detectors = append(snap.Detectors, entry)
	}
	return snap
}
