package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/skoll/groundcontrol/internal/agent"
	"github.com/skoll/groundcontrol/internal/api"
	"github.com/skoll/groundcontrol/internal/approval"
	"github.com/skoll/groundcontrol/internal/audit"
	"github.com/skoll/groundcontrol/internal/config"
	"github.com/skoll/groundcontrol/internal/notify"
	"github.com/skoll/groundcontrol/internal/provider"
	"github.com/skoll/groundcontrol/internal/store"
	"github.com/skoll/groundcontrol/internal/supervisor"
	"github.com/skoll/groundcontrol/internal/task"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Starting Ground Control...")

	// Load configuration
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "configs/groundcontrol.json"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.String("path", cfgPath), zap.Error(err))
	}
	logger.Info("Config loaded", zap.String("path", cfgPath))

	// Initialize provider router
	router := provider.NewRouter(logger)
	var providerIDs []string
	for _, pc := range cfg.Providers {
		provCfg := provider.ProviderConfig{
			ID: pc.ID, Type: pc.Type, Name: pc.Name,
			Endpoint: pc.Endpoint, APIKey: pc.APIKey,
			Model: pc.Model, Extra: pc.Extra,
		}
		switch pc.Type {
		case "openai":
			router.Register(provider.NewOpenAIProvider(provCfg, logger))
		case "anthropic":
			router.Register(provider.NewAnthropicProvider(provCfg, logger))
		default:
			logger.Warn("unknown provider type", zap.String("id", pc.ID), zap.String("type", pc.Type))
			continue
		}
		providerIDs = append(providerIDs, pc.ID)
	}
	// Config order is the fallback order; the first provider is primary.
	router.SetFallbacks(providerIDs)

	// Initialize Redis task archive
	var archive task.Archive
	var redisStore *store.Store
	if cfg.Redis.URL != "" {
		rs, rErr := store.New(store.Config{
			URL: cfg.Redis.URL,
			TTL: time.Duration(cfg.Redis.TTLHours) * time.Hour,
		}, logger)
		if rErr != nil {
			logger.Warn("Redis unavailable, running without persistence", zap.Error(rErr))
		} else {
			redisStore = rs
			archive = rs
		}
	}

	// Initialize PostgreSQL audit trail
	var trail *audit.Trail
	if cfg.Postgres.DSN != "" {
		tr, pgErr := audit.New(cfg.Postgres.DSN, logger)
		if pgErr != nil {
			logger.Warn("PostgreSQL unavailable, running without audit trail", zap.Error(pgErr))
		} else {
			dir := cfg.Postgres.MigrationsDir
			if dir == "" {
				dir = "migrations"
			}
			if mErr := tr.Migrate(context.Background(), dir); mErr != nil {
				logger.Fatal("migration failed", zap.Error(mErr))
			}
			trail = tr
		}
	}

	// Approval gate plus its observers
	gate := approval.NewGate(approval.Config{
		DefaultTimeout: time.Duration(cfg.Approval.DefaultTimeoutSeconds) * time.Second,
		MaxHistory:     cfg.Approval.MaxHistory,
	}, logger)
	if trail != nil {
		gate.AddObserver(trail)
	}
	if cfg.Notify.Slack.Enabled && cfg.Notify.Slack.BotToken != "" {
		gate.AddObserver(notify.NewSlackNotifier(cfg.Notify.Slack.BotToken, cfg.Notify.Slack.Channel, logger))
	}
	if cfg.Notify.Discord.Enabled && cfg.Notify.Discord.BotToken != "" {
		dn, dErr := notify.NewDiscordNotifier(cfg.Notify.Discord.BotToken, cfg.Notify.Discord.ChannelID, logger)
		if dErr != nil {
			logger.Warn("Discord unavailable, running without Discord notifications", zap.Error(dErr))
		} else {
			gate.AddObserver(dn)
		}
	}

	// Agent executors: remote endpoints, or stubs that report down
	agentTimeout := time.Duration(cfg.Agents.TimeoutSeconds) * time.Second
	agents := map[agent.Kind]agent.Executor{
		agent.KindResearch: buildAgent(agent.KindResearch, cfg.Agents.Research.BaseURL, agentTimeout, logger),
		agent.KindContext:  buildAgent(agent.KindContext, cfg.Agents.Context.BaseURL, agentTimeout, logger),
		agent.KindPR:       buildAgent(agent.KindPR, cfg.Agents.PR.BaseURL, agentTimeout, logger),
	}

	// Supervisor and task manager
	sup := supervisor.New(router, logger)
	manager := task.NewManager(gate, sup, agents, archive, task.Config{
		Retention:       time.Duration(cfg.Tasks.RetentionHours) * time.Hour,
		QueueSize:       cfg.Tasks.QueueSize,
		ApprovalTimeout: time.Duration(cfg.Approval.DefaultTimeoutSeconds) * time.Second,
	}, logger)

	if archive != nil {
		n, rErr := manager.RestoreFromArchive(context.Background())
		if rErr != nil {
			logger.Warn("failed to restore archived tasks", zap.Error(rErr))
		} else if n > 0 {
			logger.Info("Restored archived tasks", zap.Int("count", n))
		}
	}

	// Health monitor
	monitor := agent.NewMonitor(30*time.Second, logger)
	for _, exec := range agents {
		monitor.RegisterExecutor(exec, false)
	}
	monitor.Register("provider", true, router.Healthy)
	monitor.Register("redis", false, func(ctx context.Context) bool {
		return redisStore != nil && redisStore.Ping(ctx) == nil
	})

	// Janitor: evict terminal tasks past the retention window
	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	go func() {
		interval := time.Duration(cfg.Tasks.CleanupIntervalMinutes) * time.Minute
		if interval <= 0 {
			interval = 10 * time.Minute
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-janitorCtx.Done():
				return
			case <-ticker.C:
				if n := manager.CleanupTerminal(janitorCtx); n > 0 {
					logger.Info("Evicted terminal tasks", zap.Int("count", n))
				}
			}
		}
	}()

	// Build HTTP handler
	handler := api.NewHandler(manager, gate, monitor, trail, logger)

	// Start server
	port := fmt.Sprintf("%d", cfg.Server.Port)
	if port == "0" {
		port = "8080"
	}
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: handler.Router(),
	}

	go func() {
		logger.Info("Ground Control listening", zap.String("port", port))
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down Ground Control...")
	stopJanitor()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
	manager.Shutdown(ctx)
	if redisStore != nil {
		redisStore.Close()
	}
	if trail != nil {
		trail.Close()
	}
}

func buildAgent(kind agent.Kind, baseURL string, timeout time.Duration, logger *zap.Logger) agent.Executor {
	if baseURL == "" {
		logger.Warn("agent endpoint not configured", zap.String("agent", string(kind)))
		return agent.NewUnavailable(kind)
	}
	return agent.NewHTTP(agent.Config{Kind: kind, BaseURL: baseURL, Timeout: timeout}, logger)
}
