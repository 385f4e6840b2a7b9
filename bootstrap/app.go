// Package bootstrap assembles the engine from configuration and owns the
// process lifecycle: startup ordering, signal handling, and drain-on-stop.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"argus/api"
	"argus/config"
	"argus/core"
	"argus/detect"
	"argus/notify"
	"argus/storage"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// App is the assembled process
type App struct {
	cfg    *config.Config
	logger *zap.SugaredLogger

	store       storage.Store
	redisClient *redis.Client
	rules       *core.RuleSet
	engine      *detect.Engine
	apiServer   *api.Server
}

// NewApp loads configuration and wires every component. Any error here is
// fatal; a partially-assembled engine never runs.
func NewApp(configPath string) (*App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := buildLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	sugar := logger.Sugar()

	app := &App{cfg: cfg, logger: sugar}

	if cfg.Storage.Enabled {
		store, err := storage.NewSQLiteStore(cfg.Storage.SQLitePath, sugar)
		if err != nil {
			return nil, err
		}
		app.store = store
	} else {
		app.store = storage.NewMemoryStore()
	}

	var suppressor core.Suppressor
	if cfg.Suppression.Redis.Enabled {
		app.redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Suppression.Redis.Addr,
			Password: cfg.Suppression.Redis.Password,
			DB:       cfg.Suppression.Redis.DB,
		})
		node, _ := os.Hostname()
		suppressor = storage.NewRedisSuppressor(app.redisClient, cfg.Suppression.Interval, node, sugar)
		sugar.Infow("Using redis suppression", "addr", cfg.Suppression.Redis.Addr)
	} else {
		suppressor, err = core.NewMemorySuppressor(cfg.Suppression.Interval, cfg.Suppression.MaxEntries, sugar)
		if err != nil {
			return nil, fmt.Errorf("failed to build suppressor: %w", err)
		}
	}

	app.rules = core.NewRuleSet()
	if err := app.loadRules(context.Background()); err != nil {
		return nil, err
	}

	hub := api.NewStreamHub(sugar)
	notifier := notify.NewNotifier(notify.Config{
		MaxRetries:     cfg.Notify.MaxRetries,
		InitialBackoff: cfg.Notify.InitialBackoff,
		MaxBackoff:     cfg.Notify.MaxBackoff,
		RatePerSecond:  cfg.Notify.RatePerSecond,
		Burst:          cfg.Notify.Burst,
	}, app.store, sugar,
		notify.NewLogSink(sugar),
		hub,
		&journalSink{journal: app.store},
	)

	evaluator := detect.NewEvaluator(cfg.Engine.DegradedThreshold, sugar)
	windows := detect.NewWindowManager(cfg.Engine.Shards, cfg.Engine.MaxWindowsPerRule, cfg.Engine.SweepInterval, sugar)
	assembler, err := detect.NewAssembler(cfg.Engine.MaxWindowsPerRule, sugar)
	if err != nil {
		return nil, fmt.Errorf("failed to build assembler: %w", err)
	}
	scorer := detect.NewScorer(suppressor, notifier, sugar)
	dispatcher := detect.NewDispatcher(app.rules, evaluator, windows, assembler, scorer, sugar)
	app.engine = detect.NewEngine(detect.EngineConfig{
		Workers:           cfg.Engine.Workers,
		QueueSize:         cfg.Engine.QueueSize,
		IngressBufferSize: cfg.Engine.IngressBufferSize,
	}, dispatcher, windows, evaluator, sugar)

	app.apiServer = api.NewServer(api.Config{
		Host:              cfg.API.Host,
		Port:              cfg.API.Port,
		RequestsPerSecond: float64(cfg.API.RateLimit.RequestsPerSecond),
		Burst:             cfg.API.RateLimit.Burst,
	}, app.rules, app.engine, app.store, suppressor, hub, cfg.Engine.RegexTimeout, sugar)

	return app, nil
}

// loadRules seeds the live rule set from storage, then overlays the rule
// file when one is configured. File rules win on ID collision so operators
// can hot-fix a persisted rule by shipping a file.
func (a *App) loadRules(ctx context.Context) error {
	byID := make(map[string]*core.Rule)
	var order []string

	stored, err := a.store.LoadRules(ctx)
	if err != nil {
		return fmt.Errorf("failed to load rules from storage: %w", err)
	}
	for _, r := range stored {
		if err := detect.CompileRule(r, a.cfg.Engine.RegexTimeout); err != nil {
			a.logger.Errorw("Skipping invalid stored rule", "rule_id", r.ID, "error", err)
			continue
		}
		if _, seen := byID[r.ID]; !seen {
			order = append(order, r.ID)
		}
		byID[r.ID] = r
	}

	if a.cfg.Rules.File != "" {
		fileRules, err := detect.LoadRules(a.cfg.Rules.File, a.cfg.Engine.RegexTimeout, a.logger)
		if err != nil {
			return err
		}
		for _, r := range fileRules {
			if _, seen := byID[r.ID]; !seen {
				order = append(order, r.ID)
			}
			byID[r.ID] = r
		}
	}

	rules := make([]*core.Rule, 0, len(order))
	for _, id := range order {
		rules = append(rules, byID[id])
	}
	if err := a.rules.Replace(rules); err != nil {
		return fmt.Errorf("failed to install rule set: %w", err)
	}
	a.logger.Infow("Rule set installed", "rules", len(rules))
	return nil
}

// Start brings the engine and the API up
func (a *App) Start() {
	a.engine.Start()
	a.apiServer.Start()
	a.logger.Infow("argus started")
}

// Run starts the app and blocks until a termination signal, then shuts
// down gracefully.
func (a *App) Run() {
	a.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	a.logger.Infow("Shutdown signal received", "signal", sig.String())

	a.Shutdown()
}

// Shutdown stops accepting work and drains. Ordering matters: the API
// closes first so no new events or rule edits arrive, then the engine
// drains in-flight events, then state is persisted.
func (a *App) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := a.apiServer.Shutdown(ctx); err != nil {
		a.logger.Errorw("API shutdown failed", "error", err)
	}
	a.engine.Stop()

	if err := a.store.SaveRules(ctx, a.rules.List(core.RuleFilter{})); err != nil {
		a.logger.Errorw("Failed to persist rules on shutdown", "error", err)
	}
	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.logger.Errorw("Redis close failed", "error", err)
		}
	}
	if err := a.store.Close(); err != nil {
		a.logger.Errorw("Storage close failed", "error", err)
	}
	a.logger.Infow("argus stopped")
	a.logger.Sync()
}

func buildLogger(cfg *config.Config) (*zap.Logger, error) {
	if cfg.Logging.Development {
		return zap.NewDevelopment()
	}
	level, err := zapcore.ParseLevel(cfg.Logging.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

// journalSink records every emitted alert in the alert journal. Journal
// failures are delivery failures so the notifier's retry policy applies.
type journalSink struct {
	journal storage.AlertJournal
}

func (s *journalSink) Name() string { return "journal" }

func (s *journalSink) OnAlert(ctx context.Context, alert *core.Alert) error {
	return s.journal.AppendAlert(ctx, alert)
}
