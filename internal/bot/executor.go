package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"sentinel-guard/internal/models"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

const (
	minTimeout     = time.Minute
	maxTimeout     = 28 * 24 * time.Hour
	softbanPurge   = 1
	punishedReason = "Sentinel protection"
)

// memberAPI is the slice of the Discord REST surface punishments need.
type memberAPI interface {
	Kick(guildID, userID, reason string) error
	Ban(guildID, userID, reason string, purgeDays int) error
	Unban(guildID, userID string) error
	Timeout(guildID, userID string, until *time.Time) error
	AddRole(guildID, userID, roleID string) error
	RemoveRole(guildID, userID, roleID string) error
}

type sessionAPI struct {
	session *discordgo.Session
}

func (s sessionAPI) Kick(guildID, userID, reason string) error {
	return s.session.GuildMemberDeleteWithReason(guildID, userID, reason)
}

func (s sessionAPI) Ban(guildID, userID, reason string, purgeDays int) error {
	return s.session.GuildBanCreateWithReason(guildID, userID, reason, purgeDays)
}

func (s sessionAPI) Unban(guildID, userID string) error {
	return s.session.GuildBanDelete(guildID, userID)
}

func (s sessionAPI) Timeout(guildID, userID string, until *time.Time) error {
	return s.session.GuildMemberTimeout(guildID, userID, until)
}

func (s sessionAPI) AddRole(guildID, userID, roleID string) error {
	return s.session.GuildMemberRoleAdd(guildID, userID, roleID)
}

func (s sessionAPI) RemoveRole(guildID, userID, roleID string) error {
	return s.session.GuildMemberRoleRemove(guildID, userID, roleID)
}

// Executor applies punishments through the Discord API. Timed bans and role
// grants are reverted after their duration.
type Executor struct {
	api    memberAPI
	logger *zap.Logger
	now    func() time.Time
	after  func(time.Duration, func()) *time.Timer
}

func NewExecutor(session *discordgo.Session, logger *zap.Logger) *Executor {
	return newExecutor(sessionAPI{session: session}, logger)
}

func newExecutor(api memberAPI, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{api: api, logger: logger, now: time.Now, after: time.AfterFunc}
}

func (x *Executor) Apply(ctx context.Context, guildID, userID string, action models.PunishmentAction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	switch action.Kind {
	case models.ActionKick:
		return x.api.Kick(guildID, userID, punishedReason)
	case models.ActionBan:
		if err := x.api.Ban(guildID, userID, punishedReason, 0); err != nil {
			return err
		}
		if action.Duration > 0 {
			x.later(action.Duration, "unban", guildID, userID, func() error { return x.api.Unban(guildID, userID) })
		}
		return nil
	case models.ActionMute:
		d := action.Duration
		if d < minTimeout {
			d = minTimeout
		}
		if d > maxTimeout {
			d = maxTimeout
		}
		until := x.now().Add(d)
		return x.api.Timeout(guildID, userID, &until)
	case models.ActionAddRole:
		if action.RoleID == "" {
			return errors.New("add_role without role id")
		}
		if err := x.api.AddRole(guildID, userID, action.RoleID); err != nil {
			return err
		}
		if action.Duration > 0 {
			x.later(action.Duration, "role removal", guildID, userID, func() error { return x.api.RemoveRole(guildID, userID, action.RoleID) })
		}
		return nil
	case models.ActionSoftban:
		if err := x.api.Ban(guildID, userID, punishedReason, softbanPurge); err != nil {
			return err
		}
		return x.api.Unban(guildID, userID)
	default:
		return fmt.Errorf("%w: %s", models.ErrUnsupportedAction, action.Kind)
	}
}

func (x *Executor) later(d time.Duration, what, guildID, userID string, fn func() error) {
	x.after(d, func() {
		if err := fn(); err != nil {
			x.logger.Warn("scheduled revert failed", zap.String("revert", what), zap.String("guild_id", guildID), zap.String("user_id", userID), zap.Error(err))
		}
	})
}
