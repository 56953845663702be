package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"path"
	"sort"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/*.sql
var migrations embed.FS

type Store struct {
	db *sql.DB
}

type AuditLog struct {
	ID          int64
	GuildID     string
	UserID      string
	Level       string
	Event       string
	Details     string
	ViolationID string
	Outcome     string
	CreatedAt   time.Time
}

type UserInfraction struct {
	GuildID    string
	UserID     string
	Category   string
	CountTotal int
	LastAt     time.Time
	LastAction string
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	if databaseURL == "" {
		return nil, errors.New("storage: database url is required")
	}
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: ping: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() {
	if s.db != nil {
		_ = s.db.Close()
	}
}

func (s *Store) Migrate(ctx context.Context) error {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return err
	}

	var files []string
	for _, entry := range entries {
		files = append(files, entry.Name())
	}
	sort.Strings(files)

	for _, file := range files {
		content, err := migrations.ReadFile(path.Join("migrations", file))
		if err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("migration %s failed: %w", file, err)
		}
	}
	return nil
}

func (s *Store) AddAuditLog(ctx context.Context, log AuditLog) error {
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (guild_id, user_id, level, event, details, violation_id, outcome, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, log.GuildID, log.UserID, log.Level, log.Event, log.Details, log.ViolationID, log.Outcome, log.CreatedAt.UTC())
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, guildID string, since time.Time) ([]AuditLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, guild_id, user_id, level, event, details, violation_id, outcome, created_at
		FROM audit_logs
		WHERE guild_id = $1 AND created_at >= $2
		ORDER BY created_at DESC, id DESC
	`, guildID, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []AuditLog
	for rows.Next() {
		var log AuditLog
		if err := rows.Scan(&log.ID, &log.GuildID, &log.UserID, &log.Level, &log.Event, &log.Details, &log.ViolationID, &log.Outcome, &log.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

func (s *Store) CleanupAuditLogs(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -retentionDays).UTC()
	result, err := s.db.ExecContext(ctx, `DELETE FROM audit_logs WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// IncrementInfraction bumps the punishment count of a user for a category
// and returns the new total.
func (s *Store) IncrementInfraction(ctx context.Context, guildID, userID, category, lastAction string) (int, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO user_infractions (guild_id, user_id, category, count_total, last_at, last_action)
		VALUES ($1, $2, $3, 1, $4, $5)
		ON CONFLICT (guild_id, user_id, category) DO UPDATE SET
			count_total = user_infractions.count_total + 1,
			last_at = excluded.last_at,
			last_action = excluded.last_action
		RETURNING count_total
	`, guildID, userID, category, time.Now().UTC(), lastAction)
	var total int
	if err := row.Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) GetInfraction(ctx context.Context, guildID, userID, category string) (UserInfraction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT guild_id, user_id, category, count_total, last_at, last_action
		FROM user_infractions
		WHERE guild_id = $1 AND user_id = $2 AND category = $3
	`, guildID, userID, category)

	var inf UserInfraction
	err := row.Scan(&inf.GuildID, &inf.UserID, &inf.Category, &inf.CountTotal, &inf.LastAt, &inf.LastAction)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return UserInfraction{}, nil
		}
		return UserInfraction{}, err
	}
	return inf, nil
}
