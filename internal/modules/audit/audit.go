package audit

import (
	"context"
	"time"

	"sentinel-guard/internal/models"
	"sentinel-guard/internal/storage"

	"go.uber.org/zap"
)

const (
	LevelInfo = "INFO"
	LevelWarn = "WARN"
	LevelCrit = "CRIT"
)

// Sink persists audit entries. *storage.Store implements it.
type Sink interface {
	AddAuditLog(ctx context.Context, log storage.AuditLog) error
	IncrementInfraction(ctx context.Context, guildID, userID, category, lastAction string) (int, error)
}

type Logger struct {
	sink   Sink
	logger *zap.Logger
	notify func(context.Context, storage.AuditLog)
}

func NewLogger(sink Sink, logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{sink: sink, logger: logger}
}

func (l *Logger) SetNotifier(notify func(context.Context, storage.AuditLog)) {
	l.notify = notify
}

func (l *Logger) Log(ctx context.Context, level, guildID, userID, event, details string) {
	l.write(ctx, storage.AuditLog{
		GuildID:   guildID,
		UserID:    userID,
		Level:     level,
		Event:     event,
		Details:   details,
		CreatedAt: time.Now(),
	})
}

// Dispatch records one punishment outcome. Applied punishments also count
// toward the user's infraction total for the detector.
func (l *Logger) Dispatch(ctx context.Context, result models.DispatchResult) {
	v := result.Violation
	level := LevelWarn
	if result.Outcome == models.OutcomeSkippedDuplicate {
		level = LevelInfo
	}
	details := v.Evidence + " action=" + v.Action.String()
	if result.Err != nil {
		details += " error=" + result.Err.Error()
	}
	l.write(ctx, storage.AuditLog{
		GuildID:     v.GuildID,
		UserID:      v.UserID,
		Level:       level,
		Event:       string(v.Detector),
		Details:     details,
		ViolationID: v.ID.String(),
		Outcome:     result.Outcome.String(),
		CreatedAt:   time.Now(),
	})

	if result.Outcome != models.OutcomeApplied || l.sink == nil {
		return
	}
	total, err := l.sink.IncrementInfraction(ctx, v.GuildID, v.UserID, string(v.Detector), v.Action.String())
	if err != nil {
		l.logger.Warn("infraction update failed", zap.String("guild_id", v.GuildID), zap.String("user_id", v.UserID), zap.Error(err))
		return
	}
	if total > 1 {
		l.logger.Info("repeat offender", zap.String("guild_id", v.GuildID), zap.String("user_id", v.UserID), zap.String("detector", string(v.Detector)), zap.Int("infractions", total))
	}
}

func (l *Logger) write(ctx context.Context, entry storage.AuditLog) {
	if l.sink != nil {
		if err := l.sink.AddAuditLog(ctx, entry); err != nil {
			l.logger.Warn("audit write failed", zap.String("guild_id", entry.GuildID), zap.Error(err))
		}
	}
	if l.notify != nil {
		l.notify(ctx, entry)
	}
	fields := []zap.Field{
		zap.String("level", entry.Level),
		zap.String("guild_id", entry.GuildID),
		zap.String("user_id", entry.UserID),
		zap.String("event", entry.Event),
		zap.String("details", entry.Details),
	}
	if entry.Outcome != "" {
		fields = append(fields, zap.String("outcome", entry.Outcome), zap.String("violation_id", entry.ViolationID))
	}
	l.logger.Info("audit", fields...)
}
