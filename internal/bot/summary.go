package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"sentinel-guard/internal/analytics"
	"sentinel-guard/internal/engine"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const summaryPeriod = 24 * time.Hour

func (b *Bot) startDailySummary(ctx context.Context) {
	if b.analytics == nil || b.cfg.SecurityLogChannel == "" {
		return
	}
	go func() {
		ticker := time.NewTicker(summaryPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				b.sendDailySummary(ctx)
			}
		}
	}()
}

func (b *Bot) sendDailySummary(ctx context.Context) {
	if b.session == nil || b.session.State == nil {
		return
	}
	since := time.Now().Add(-summaryPeriod)
	for _, guild := range b.session.State.Guilds {
		if guild == nil {
			continue
		}
		snap := b.engine.Snapshot(guild.ID)
		if len(snap.Active()) == 0 {
			continue
		}
		report, err := b.analytics.Report(ctx, guild.ID, since)
		if err != nil {
			b.logger.Warn("daily summary failed", zap.String("guild_id", guild.ID), zap.Error(err))
			continue
		}
		_, _ = b.session.ChannelMessageSendEmbed(b.cfg.SecurityLogChannel, buildSummaryEmbed(snap, report))
	}
}

func buildSummaryEmbed(snap engine.Snapshot, report analytics.Report) *discordgo.MessageEmbed {
	var detectors []string
	for _, d := range snap.Detectors {
		if !d.Enabled {
			continue
		}
		counts := report.ByDetector[string(d.Type)]
		detectors = append(detectors, fmt.Sprintf("%s: %d applied, %d skipped, %d failed", d.Type, counts.Applied, counts.Skipped, counts.Failed))
	}

	offenders := "none"
	if top := report.Top(5); len(top) > 0 {
		lines := make([]string, 0, len(top))
		for _, o := range top {
			lines = append(lines, fmt.Sprintf("<@%s> (%d, %d lifetime)", o.UserID, o.Count, o.Lifetime))
		}
		offenders = strings.Join(lines, "\n")
	}

	return &discordgo.MessageEmbed{
		Title:       "Sentinel daily summary",
		Description: fmt.Sprintf("Guild %s, last 24h: %d audit entries", snap.GuildID, report.Total),
		Color:       colorWarn,
		Timestamp:   snap.At.Format(time.RFC3339),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Protections", Value: strings.Join(detectors, "\n"), Inline: false},
			{Name: "Top offenders", Value: offenders, Inline: false},
		},
	}
}
