package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"sentinel-guard/internal/dispatcher"
	"sentinel-guard/internal/models"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DiscordToken       string                   `yaml:"discord_token"`
	DatabaseURL        string                   `yaml:"database_url"`
	LogLevel           string                   `yaml:"log_level"`
	Log                LogConfig                `yaml:"log"`
	SecurityLogChannel string                   `yaml:"security_log_channel"`
	RetentionDays      int                      `yaml:"retention_days"`
	Health             HealthConfig             `yaml:"health"`
	Engine             EngineConfig             `yaml:"engine"`
	Breaker            BreakerConfig            `yaml:"breaker"`
	Guilds             map[string]ProtectionSet `yaml:"guilds"`
}

type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type EngineConfig struct {
	SweepIntervalSeconds   int `yaml:"sweep_interval_seconds"`
	ReceiptCooldownSeconds int `yaml:"receipt_cooldown_seconds"`
	MaxReceipts            int `yaml:"max_receipts"`
	DispatchConcurrency    int `yaml:"dispatch_concurrency"`
	ActionTimeoutSeconds   int `yaml:"action_timeout_seconds"`
}

type BreakerConfig struct {
	MaxRequests     uint32  `yaml:"max_requests"`
	IntervalSeconds int     `yaml:"interval_seconds"`
	TimeoutSeconds  int     `yaml:"timeout_seconds"`
	FailureRatio    float64 `yaml:"failure_ratio"`
	MinRequests     uint32  `yaml:"min_requests"`
}

func DefaultConfig() Config {
	d := dispatcher.DefaultConfig()
	return Config{
		LogLevel:      "info",
		Log:           LogConfig{MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 28, Compress: true},
		RetentionDays: 14,
		Health:        HealthConfig{Enabled: false, Addr: ":8080"},
		Engine: EngineConfig{
			SweepIntervalSeconds:   60,
			ReceiptCooldownSeconds: int(d.MinCooldown / time.Second),
			MaxReceipts:            d.MaxReceipts,
			DispatchConcurrency:    d.Concurrency,
			ActionTimeoutSeconds:   int(d.ActionTimeout / time.Second),
		},
		Breaker: BreakerConfig{
			MaxRequests:     d.Breaker.MaxRequests,
			IntervalSeconds: int(d.Breaker.Interval / time.Second),
			TimeoutSeconds:  int(d.Breaker.Timeout / time.Second),
			FailureRatio:    d.Breaker.FailureRatio,
			MinRequests:     d.Breaker.MinRequests,
		},
	}
}

func Load() (Config, error) {
	cfg := DefaultConfig()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	if cfg.DiscordToken == "" {
		return Config{}, errors.New("DISCORD_TOKEN is required")
	}
	if cfg.RetentionDays < 1 {
		cfg.RetentionDays = 1
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.DiscordToken = envString("DISCORD_TOKEN", cfg.DiscordToken)
	cfg.DatabaseURL = envString("DATABASE_URL", cfg.DatabaseURL)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.Log.File = envString("LOG_FILE", cfg.Log.File)
	cfg.SecurityLogChannel = envString("SECURITY_LOG_CHANNEL", cfg.SecurityLogChannel)
	cfg.RetentionDays = envInt("RETENTION_DAYS", cfg.RetentionDays)
	cfg.Health.Enabled = envBool("HEALTH_ENABLED", cfg.Health.Enabled)
	cfg.Health.Addr = envString("HEALTH_ADDR", cfg.Health.Addr)
	cfg.Engine.SweepIntervalSeconds = envInt("SWEEP_INTERVAL_SECONDS", cfg.Engine.SweepIntervalSeconds)
	cfg.Engine.ReceiptCooldownSeconds = envInt("RECEIPT_COOLDOWN_SECONDS", cfg.Engine.ReceiptCooldownSeconds)
	cfg.Engine.MaxReceipts = envInt("MAX_RECEIPTS", cfg.Engine.MaxReceipts)
	cfg.Engine.DispatchConcurrency = envInt("DISPATCH_CONCURRENCY", cfg.Engine.DispatchConcurrency)
	cfg.Breaker.FailureRatio = envFloat("BREAKER_FAILURE_RATIO", cfg.Breaker.FailureRatio)
}

// Dispatcher converts the engine and breaker keys. Zero values fall back to
// the dispatcher defaults.
func (c Config) Dispatcher() dispatcher.Config {
	return dispatcher.Config{
		MinCooldown:   seconds(c.Engine.ReceiptCooldownSeconds),
		MaxReceipts:   c.Engine.MaxReceipts,
		Concurrency:   c.Engine.DispatchConcurrency,
		ActionTimeout: seconds(c.Engine.ActionTimeoutSeconds),
		Breaker: dispatcher.BreakerConfig{
			MaxRequests:  c.Breaker.MaxRequests,
			Interval:     seconds(c.Breaker.IntervalSeconds),
			Timeout:      seconds(c.Breaker.TimeoutSeconds),
			FailureRatio: c.Breaker.FailureRatio,
			MinRequests:  c.Breaker.MinRequests,
		},
	}
}

func (c Config) SweepInterval() time.Duration {
	return seconds(c.Engine.SweepIntervalSeconds)
}

func seconds(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}

// ProtectionSet holds the detectors to start for one guild. Each block is
// decoded over the detector's defaults, so an empty block starts it with
// default settings.
type ProtectionSet map[models.DetectorType]models.DetectorConfig

func (p *ProtectionSet) UnmarshalYAML(node *yaml.Node) error {
	var blocks map[string]yaml.Node
	if err := node.Decode(&blocks); err != nil {
		return err
	}
	set := make(ProtectionSet, len(blocks))
	for key, block := range blocks {
		t, err := models.ParseDetectorType(key)
		if err != nil {
			return fmt.Errorf("line %d: %w", block.Line, err)
		}
		cfg, err := models.DefaultConfig(t)
		if err != nil {
			return err
		}
		if err := block.Decode(cfg); err != nil {
			return fmt.Errorf("%s: %w", t, err)
		}
		set[t] = cfg
	}
	*p = set
	return nil
}

// Ordered returns the configured detectors in registry order.
func (p ProtectionSet) Ordered() []models.DetectorConfig {
	var out []models.DetectorConfig
	for _, t := range models.DetectorTypes() {
		if cfg, ok := p[t]; ok {
			out = append(out, cfg)
		}
	}
	return out
}

func BuildLogger(level string, file LogConfig) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(strings.ToLower(level)))

	if file.File == "" {
		return cfg.Build()
	}
	writer := &lumberjack.Logger{
		Filename:   file.File,
		MaxSize:    file.MaxSizeMB,
		MaxBackups: file.MaxBackups,
		MaxAge:     file.MaxAgeDays,
		Compress:   file.Compress,
	}
	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(cfg.EncoderConfig), zapcore.AddSync(writer), cfg.Level)
	return cfg.Build(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, fileCore)
	}))
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "1" || lower == "true" || lower == "yes"
	}
	return fallback
}
