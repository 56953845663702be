package analytics

import (
	"context"
	"sort"
	"time"

	"sentinel-guard/internal/storage"
)

// Source lists persisted audit entries and infraction totals. *storage.Store
// implements it.
type Source interface {
	ListAuditLogs(ctx context.Context, guildID string, since time.Time) ([]storage.AuditLog, error)
	GetInfraction(ctx context.Context, guildID, userID, category string) (storage.UserInfraction, error)
}

type Service struct {
	source Source
}

func New(source Source) *Service {
	return &Service{source: source}
}

type Outcomes struct {
	Applied int
	Skipped int
	Failed  int
}

type Report struct {
	Total      int
	ByLevel    map[string]int
	ByDetector map[string]Outcomes
	// Offenders counts applied punishments per user.
	Offenders map[string]int
	// Lifetime sums each offender's stored infractions over the detectors
	// that punished them in the period.
	Lifetime map[string]int
}

type Offender struct {
	UserID   string
	Count    int
	Lifetime int
}

func (s *Service) Report(ctx context.Context, guildID string, since time.Time) (Report, error) {
	logs, err := s.source.ListAuditLogs(ctx, guildID, since)
	if err != nil {
		return Report{}, err
	}

	report := Report{
		ByLevel:    make(map[string]int),
		ByDetector: make(map[string]Outcomes),
		Offenders:  make(map[string]int),
		Lifetime:   make(map[string]int),
	}
	punished := make(map[[2]string]struct{})
	for _, log := range logs {
		report.Total++
		report.ByLevel[log.Level]++
		if log.Outcome == "" {
			continue
		}
		counts := report.ByDetector[log.Event]
		switch log.Outcome {
		case "applied":
			counts.Applied++
			report.Offenders[log.UserID]++
			punished[[2]string{log.UserID, log.Event}] = struct{}{}
		case "skipped_duplicate":
			counts.Skipped++
		case "failed":
			counts.Failed++
		}
		report.ByDetector[log.Event] = counts
	}

	for key := range punished {
		inf, err := s.source.GetInfraction(ctx, guildID, key[0], key[1])
		if err != nil {
			return Report{}, err
		}
		report.Lifetime[key[0]] += inf.CountTotal
	}
	return report, nil
}

func (r Report) Top(limit int) []Offender {
	out := make([]Offender, 0, len(r.Offenders))
	for userID, count := range r.Offenders {
		out = append(out, Offender{UserID: userID, Count: count, Lifetime: r.Lifetime[userID]})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].UserID < out[j].UserID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
