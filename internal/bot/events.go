package bot

import (
	"time"

	"sentinel-guard/internal/models"

	"github.com/bwmarrin/discordgo"
)

// joinEvent converts a member join. A missing presence counts as offline,
// since the gateway omits offline members from presence updates.
func joinEvent(guildID string, member *discordgo.Member, presence *discordgo.Presence, fallback time.Time) models.Event {
	event := models.Event{
		Kind:    models.EventJoin,
		GuildID: guildID,
		At:      member.JoinedAt,
		Roles:   member.Roles,
		Offline: presence == nil || presence.Status == discordgo.StatusOffline || presence.Status == "",
	}
	if event.At.IsZero() {
		event.At = fallback
	}
	if member.User != nil {
		event.UserID = member.User.ID
		event.Bot = member.User.Bot
		if created, err := discordgo.SnowflakeTimestamp(member.User.ID); err == nil {
			event.AccountCreatedAt = created
		}
	}
	return event
}

func messageEvent(msg *discordgo.Message, fallback time.Time) models.Event {
	event := models.Event{
		Kind:      models.EventMessage,
		GuildID:   msg.GuildID,
		At:        msg.Timestamp,
		MessageID: msg.ID,
		ChannelID: msg.ChannelID,
		Content:   msg.Content,
		Mentions:  mentionCount(msg),
	}
	if event.At.IsZero() {
		event.At = fallback
	}
	if msg.Author != nil {
		event.UserID = msg.Author.ID
		event.Bot = msg.Author.Bot
	}
	if msg.Member != nil {
		event.Roles = msg.Member.Roles
	}
	return event
}

// mentionCount counts distinct users and roles, with @everyone/@here as one.
func mentionCount(msg *discordgo.Message) int {
	seen := make(map[string]struct{}, len(msg.Mentions))
	for _, user := range msg.Mentions {
		if user != nil {
			seen[user.ID] = struct{}{}
		}
	}
	count := len(seen) + len(models.StringSet(msg.MentionRoles))
	if msg.MentionEveryone {
		count++
	}
	return count
}
