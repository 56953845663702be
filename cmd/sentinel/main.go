package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"sentinel-guard/internal/analytics"
	"sentinel-guard/internal/bot"
	"sentinel-guard/internal/config"
	"sentinel-guard/internal/dispatcher"
	"sentinel-guard/internal/engine"
	"sentinel-guard/internal/metrics"
	"sentinel-guard/internal/modules/audit"
	"sentinel-guard/internal/storage"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := config.BuildLogger(cfg.LogLevel, cfg.Log)
	if err != nil {
		panic(err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	var analyticsService *analytics.Service
	auditLogger := audit.NewLogger(nil, logger)
	if cfg.DatabaseURL != "" {
		store, err := storage.New(runCtx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal("storage init failed", zap.Error(err))
		}
		defer store.Close()
		if err := store.Migrate(runCtx); err != nil {
			logger.Fatal("migrations failed", zap.Error(err))
		}
		auditLogger = audit.NewLogger(store, logger)
		analyticsService = analytics.New(store)
		go cleanupAuditLogs(runCtx, store, cfg.RetentionDays, logger)
	} else {
		logger.Info("database_url not set, audit entries are logged only")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewRecorder(reg)

	session, err := bot.NewSession(cfg.DiscordToken)
	if err != nil {
		logger.Fatal("discord session init failed", zap.Error(err))
	}
	dispatch := dispatcher.New(cfg.Dispatcher(), bot.NewExecutor(session, logger), logger, recorder)
	eng := engine.New(engine.Config{SweepInterval: cfg.SweepInterval()}, dispatch, auditLogger, recorder, logger)
	startProtections(eng, cfg.Guilds, logger)
	go eng.Run(runCtx)

	botSvc := bot.New(cfg, logger, session, eng, auditLogger, analyticsService)
	if err := botSvc.Start(runCtx); err != nil {
		logger.Fatal("bot start failed", zap.Error(err))
	}
	logger.Info("bot started")

	var server *http.Server
	if cfg.Health.Enabled {
		mux := http.NewServeMux()
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		mux.Handle("/metrics", metrics.Handler(reg))
		server = &http.Server{Addr: cfg.Health.Addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("health endpoint enabled", zap.String("addr", cfg.Health.Addr))
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("health server error", zap.Error(err))
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown requested")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if server != nil {
		_ = server.Shutdown(ctx)
	}
	botSvc.Close(ctx)
	eng.Close()
	cancelRun()
}

// startProtections activates the detectors listed in the config file. A
// rejected block is logged and skipped.
func startProtections(eng *engine.Engine, guilds map[string]config.ProtectionSet, logger *zap.Logger) {
	ids := make([]string, 0, len(guilds))
	for id := range guilds {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, guildID := range ids {
		for _, cfg := range guilds[guildID].Ordered() {
			if _, err := eng.StartDetector(guildID, cfg.DetectorType(), cfg); err != nil {
				logger.Warn("protection rejected", zap.String("guild_id", guildID), zap.String("detector", string(cfg.DetectorType())), zap.Error(err))
			}
		}
	}
}

func cleanupAuditLogs(ctx context.Context, store *storage.Store, retentionDays int, logger *zap.Logger) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		removed, err := store.CleanupAuditLogs(ctx, retentionDays)
		if err != nil {
			logger.Warn("audit cleanup failed", zap.Error(err))
		} else if removed > 0 {
			logger.Info("audit logs cleaned", zap.Int64("removed", removed), zap.Int("retention_days", retentionDays))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
