package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"sentinel-guard/internal/analytics"
	"sentinel-guard/internal/config"
	"sentinel-guard/internal/engine"
	"sentinel-guard/internal/modules/audit"
	"sentinel-guard/internal/storage"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	colorWarn = 0xF59E0B
	colorCrit = 0xEF4444
)

// Bot feeds gateway events into the engine and mirrors audit entries to the
// security log channel.
type Bot struct {
	cfg       config.Config
	logger    *zap.Logger
	session   *discordgo.Session
	engine    *engine.Engine
	audit     *audit.Logger
	analytics *analytics.Service

	auditAggMu sync.Mutex
	auditAgg   map[string]*auditAggregate
}

type auditAggregate struct {
	messageID string
	count     int
	lastAt    time.Time
}

func NewSession(token string) (*discordgo.Session, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildPresences |
		discordgo.IntentsMessageContent
	return session, nil
}

// New wires the gateway to eng. analyticsService may be nil when no
// database is configured; the daily summary is then disabled.
func New(cfg config.Config, logger *zap.Logger, session *discordgo.Session, eng *engine.Engine, auditLogger *audit.Logger, analyticsService *analytics.Service) *Bot {
	b := &Bot{
		cfg:       cfg,
		logger:    logger,
		session:   session,
		engine:    eng,
		audit:     auditLogger,
		analytics: analyticsService,
		auditAgg:  make(map[string]*auditAggregate),
	}
	if b.audit != nil && cfg.SecurityLogChannel != "" {
		b.audit.SetNotifier(b.notifyAudit)
	}
	return b
}

func (b *Bot) Start(ctx context.Context) error {
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onMessageCreate)
	b.session.AddHandler(b.onGuildMemberAdd)
	if err := b.session.Open(); err != nil {
		return err
	}
	b.startDailySummary(ctx)
	return nil
}

func (b *Bot) Close(ctx context.Context) {
	_ = ctx
	if b.session != nil {
		_ = b.session.Close()
	}
}

func (b *Bot) onReady(session *discordgo.Session, event *discordgo.Ready) {
	b.logger.Info("discord ready", zap.String("user", event.User.Username), zap.Int("guilds", len(event.Guilds)))
}

func (b *Bot) onMessageCreate(session *discordgo.Session, msg *discordgo.MessageCreate) {
	if msg.Message == nil || msg.Author == nil || msg.GuildID == "" {
		return
	}
	if session.State != nil && session.State.User != nil && msg.Author.ID == session.State.User.ID {
		return
	}
	b.engine.Ingest(context.Background(), msg.GuildID, messageEvent(msg.Message, time.Now()))
}

func (b *Bot) onGuildMemberAdd(session *discordgo.Session, event *discordgo.GuildMemberAdd) {
	if event.Member == nil || event.GuildID == "" {
		return
	}
	var presence *discordgo.Presence
	if session.State != nil && event.User != nil {
		presence, _ = session.State.Presence(event.GuildID, event.User.ID)
	}
	b.engine.Ingest(context.Background(), event.GuildID, joinEvent(event.GuildID, event.Member, presence, time.Now()))
}

// notifyAudit posts WARN and CRIT entries to the security log channel.
// Repeats of the same entry within ten minutes edit one message.
func (b *Bot) notifyAudit(ctx context.Context, entry storage.AuditLog) {
	_ = ctx
	if entry.Level == audit.LevelInfo {
		return
	}
	channelID := b.cfg.SecurityLogChannel
	key := entry.GuildID + "|" + entry.Event + "|" + entry.UserID + "|" + entry.Outcome

	b.auditAggMu.Lock()
	agg := b.auditAgg[key]
	if agg != nil && time.Since(agg.lastAt) <= 10*time.Minute {
		agg.count++
		agg.lastAt = time.Now()
		count, messageID := agg.count, agg.messageID
		b.auditAggMu.Unlock()
		if _, err := b.session.ChannelMessageEditEmbed(channelID, messageID, buildAuditEmbed(entry, count)); err == nil {
			return
		}
		b.auditAggMu.Lock()
		delete(b.auditAgg, key)
	}
	b.auditAggMu.Unlock()

	msg, err := b.session.ChannelMessageSendEmbed(channelID, buildAuditEmbed(entry, 1))
	if err != nil || msg == nil {
		b.logger.Debug("security log send failed", zap.String("guild_id", entry.GuildID), zap.Error(err))
		return
	}
	b.auditAggMu.Lock()
	b.auditAgg[key] = &auditAggregate{messageID: msg.ID, count: 1, lastAt: time.Now()}
	b.auditAggMu.Unlock()
}

func buildAuditEmbed(entry storage.AuditLog, count int) *discordgo.MessageEmbed {
	color := colorWarn
	if entry.Level == audit.LevelCrit || entry.Outcome == "failed" {
		color = colorCrit
	}
	userValue := "system"
	if entry.UserID != "" {
		userValue = "<@" + entry.UserID + ">"
	}
	fields := []*discordgo.MessageEmbedField{
		{Name: "Detector", Value: entry.Event, Inline: true},
		{Name: "User", Value: userValue, Inline: true},
	}
	if entry.Outcome != "" {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Outcome", Value: entry.Outcome, Inline: true})
	}
	if count > 1 {
		fields = append(fields, &discordgo.MessageEmbedField{Name: "Count", Value: fmt.Sprintf("%d", count), Inline: true})
	}
	fields = append(fields, &discordgo.MessageEmbedField{Name: "Details", Value: formatDetails(entry.Details), Inline: false})
	return &discordgo.MessageEmbed{
		Title:     "Sentinel protection",
		Color:     color,
		Timestamp: entry.CreatedAt.Format(time.RFC3339),
		Fields:    fields,
	}
}

// formatDetails renders "key=value" evidence one pair per line.
func formatDetails(details string) string {
	parts := strings.Fields(details)
	lines := make([]string, 0, len(parts))
	for _, part := range parts {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			if len(lines) > 0 {
				lines[len(lines)-1] += " " + part
				continue
			}
			lines = append(lines, part)
			continue
		}
		lines = append(lines, kv[0]+": "+kv[1])
	}
	if len(lines) == 0 {
		return "-"
	}
	return strings.Join(lines, "\n")
}
