package antialt

import (
	"fmt"
	"sync/atomic"
	"time"

	"sentinel-guard/internal/models"
)

// Module flags joins from accounts younger than the configured minimum age.
type Module struct {
	guildID    string
	config     atomic.Pointer[models.AltConfig]
	violations atomic.Uint64
}

func New(guildID string, cfg *models.AltConfig) *Module {
	m := &Module{guildID: guildID}
	m.config.Store(cfg.Clone().(*models.AltConfig))
	return m
}

func (m *Module) Type() models.DetectorType { return models.AntiAlt }

func (m *Module) Handles(kind models.EventKind) bool { return kind == models.EventJoin }

func (m *Module) Config() models.DetectorConfig { return m.config.Load() }

func (m *Module) Configure(cfg models.DetectorConfig) error {
	alt, ok := cfg.(*models.AltConfig)
	if !ok {
		return fmt.Errorf("%w: expected %s config, got %T", models.ErrConfigurationRejected, models.AntiAlt, cfg)
	}
	m.config.Store(alt.Clone().(*models.AltConfig))
	return nil
}

func (m *Module) Evaluate(event models.Event) []models.Violation {
	if event.Kind != models.EventJoin || event.UserID == "" || event.Bot || event.AccountCreatedAt.IsZero() {
		return nil
	}
	cfg := m.config.Load()
	minAge := time.Duration(cfg.MinAgeMinutes) * time.Minute
	age := event.At.Sub(event.AccountCreatedAt)
	if age >= minAge {
		return nil
	}
	m.violations.Add(1)
	detail := fmt.Sprintf("type=ALT rule=min_age>=%s value=%s created=%s", minAge, age.Truncate(time.Second), event.AccountCreatedAt.UTC().Format(time.RFC3339))
	return []models.Violation{models.NewViolation(m.guildID, models.AntiAlt, event.UserID, cfg.Punishment(), detail, event.At)}
}

func (m *Module) Stats(time.Time) models.DetectorStats {
	return models.DetectorStats{Violations: m.violations.Load()}
}

func (m *Module) Sweep(time.Time) {}
