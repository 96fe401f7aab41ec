package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"signal-engine/config"
	"signal-engine/internal/alerts"
	"signal-engine/internal/analysis"
	"signal-engine/internal/api"
	"signal-engine/internal/cache"
	"signal-engine/internal/circuit"
	"signal-engine/internal/database"
	"signal-engine/internal/decision"
	"signal-engine/internal/detection"
	"signal-engine/internal/events"
	"signal-engine/internal/logging"
	"signal-engine/internal/marketdata"
	"signal-engine/internal/ratelimit"
	"signal-engine/internal/risk"
	"signal-engine/internal/scanner"
	"signal-engine/internal/secrets"
	"signal-engine/internal/store"
	"signal-engine/internal/strategy"
	"signal-engine/internal/tracker"
)

// persistence is the backend the engine stores state in, either the
// database repository or the JSON file store.
type persistence interface {
	detection.Persister
	alerts.HistoryWriter
	api.History
	SaveSignal(ctx context.Context, d *decision.Decision) error
	LoadActiveDetections(ctx context.Context) ([]detection.Detection, error)
	PruneSignals(ctx context.Context, retention time.Duration) (int64, error)
}

// signalRetention bounds the stored signal history.
const signalRetention = 30 * 24 * time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := logging.Root()
		boot.Fatal().Err(err).Msg("invalid configuration")
	}
	logging.Init(logging.Config{Level: cfg.Logging.Level, Console: cfg.Logging.Console})
	log := logging.Component("main")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Credentials come from Vault when enabled, otherwise the environment.
	secretsProvider, err := secrets.NewProvider(secrets.Config{
		Enabled:    cfg.Vault.Enabled,
		Address:    cfg.Vault.Address,
		Token:      cfg.Vault.Token,
		MountPath:  cfg.Vault.MountPath,
		SecretPath: cfg.Vault.SecretPath,
		TLSEnabled: cfg.Vault.TLSEnabled,
		CACert:     cfg.Vault.CACert,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("secrets provider init failed")
	}
	apiKey, err := secretsProvider.Get(ctx, "DATA_PROVIDER_API_KEY")
	if err != nil {
		log.Fatal().Err(err).Msg("no provider API key available")
	}

	// Market-data plumbing: TTL cache, token-bucket limiter sized to the
	// provider's per-minute credit budget, circuit breaker per dependency.
	ttlCache := cache.NewTTLCache()
	defer ttlCache.Close()

	rpm := float64(cfg.Provider.RequestsPerMinute)
	limiter := ratelimit.New(ratelimit.Config{
		MaxTokens:    rpm / 6,
		RefillPerSec: rpm / 60,
		MinDelay:     time.Minute / time.Duration(cfg.Provider.RequestsPerMinute),
	})
	breakers := circuit.NewRegistry(circuit.DefaultConfig())

	mdClient := marketdata.NewClient(marketdata.Config{
		BaseURL:        cfg.Provider.BaseURL,
		APIKey:         apiKey,
		CryptoExchange: cfg.Provider.CryptoExchange,
		Timeout:        cfg.ProviderTimeout(),
	}, ttlCache, limiter, breakers.Get("marketdata"))

	assembler := analysis.NewAssembler(mdClient)
	registry := strategy.DefaultRegistry()
	settings := decision.Settings{
		AccountSize:        cfg.Risk.AccountSize,
		RiskPercent:        cfg.Risk.RiskPercent,
		MaxPositionPercent: cfg.Risk.MaxExposurePct,
		RRTarget:           cfg.Risk.RRTarget,
	}

	// Persistence: postgres when configured and reachable, JSON files
	// otherwise.
	backend, closeBackend, err := newBackend(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("persistence init failed")
	}
	defer closeBackend()

	bus := events.NewBroadcaster(0)
	defer bus.Close()

	cooldown := risk.NewCooldownGate()
	gradeTracker := tracker.NewGradeTracker()
	gradeTracker.OnUpgrade(bus.PublishUpgrade)

	detections := detection.NewStore(detection.Config{
		CooldownMinutes: cfg.Detection.CooldownMinutes,
		MinGrade:        decision.Grade(cfg.Detection.MinGrade),
	}, backend)
	if loaded, err := backend.LoadActiveDetections(ctx); err != nil {
		log.Warn().Err(err).Msg("could not load persisted detections")
	} else if len(loaded) > 0 {
		detections.Load(loaded)
		log.Info().Int("count", len(loaded)).Msg("restored active detections")
	}
	detections.Start(ctx)
	defer detections.Stop()

	// Alert delivery with redis-backed send suppression.
	suppression := cache.NewSuppressionCache(cache.RedisConfig{
		Enabled:  cfg.Redis.Enabled,
		Address:  cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	defer suppression.Close()

	var notifier alerts.Notifier = alerts.LogNotifier{}
	if cfg.Alerts.Enabled && cfg.Alerts.WebhookURL != "" {
		notifier = alerts.NewWebhookNotifier(alerts.WebhookConfig{
			URL:     cfg.Alerts.WebhookURL,
			AuthKey: cfg.Alerts.AuthKey,
		})
	}
	sink := alerts.NewSink(suppression, notifier, backend)
	go sink.Run(ctx, bus)
	defer sink.Stop()

	// Signal history: every broadcast decision is persisted and old rows
	// are pruned on a slow cadence.
	go persistSignals(ctx, bus, backend)
	go pruneSignalHistory(ctx, backend)

	scan := scanner.New(scanner.Config{
		Interval: cfg.ScanInterval(),
		Workers:  cfg.Scanner.Workers,
		Symbols:  cfg.Scanner.Symbols,
		MinGrade: decision.Grade(cfg.Scanner.MinGrade),
	}, scanner.Deps{
		Bundles:    assembler,
		Registry:   registry,
		Settings:   settings,
		Cooldown:   cooldown,
		Detections: detections,
		Tracker:    gradeTracker,
		Bus:        bus,
	})

	// Canary: one bundle through the full fetch-and-align path before the
	// loop starts. A provider outage is survivable and the scanner retries;
	// misaligned series mean the assembly path itself is broken, so abort.
	if len(cfg.Scanner.Symbols) > 0 {
		canaryCtx, canaryCancel := context.WithTimeout(ctx, 45*time.Second)
		if _, err := assembler.Assemble(canaryCtx, cfg.Scanner.Symbols[0], analysis.StyleIntraday); err != nil {
			if errors.Is(err, analysis.ErrDataQuality) {
				log.Fatal().Err(err).Str("symbol", cfg.Scanner.Symbols[0]).Msg("startup canary found misaligned series")
			}
			log.Warn().Err(err).Str("symbol", cfg.Scanner.Symbols[0]).Msg("startup canary failed, continuing")
		} else {
			log.Info().Str("symbol", cfg.Scanner.Symbols[0]).Msg("startup canary ok")
		}
		canaryCancel()
	}

	if cfg.Scanner.Enabled {
		scan.Start(ctx)
		defer scan.Stop()
	} else {
		log.Warn().Msg("scanner disabled by configuration")
	}

	server := api.NewServer(api.ServerConfig{
		Host:           cfg.Server.Host,
		Port:           cfg.Server.Port,
		ProductionMode: cfg.Server.ProductionMode,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	}, api.Deps{
		Scanner:    scan,
		Detections: detections,
		Tracker:    gradeTracker,
		Registry:   registry,
		Cooldown:   cooldown,
		Cache:      ttlCache,
		Breakers:   breakers,
		Limiter:    limiter,
		Bus:        bus,
		History:    backend,
	})
	server.Start()

	log.Info().
		Int("symbols", len(cfg.Scanner.Symbols)).
		Int("strategies", len(registry.IDs())).
		Str("min_grade", cfg.Scanner.MinGrade).
		Msg("signal engine running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info().Msg("shutdown requested")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("api shutdown incomplete")
	}
	cancel()
}

// newBackend selects the persistence backend. A configured database that
// cannot be reached or migrated degrades to the file store instead of keeping
// the engine down.
func newBackend(ctx context.Context, cfg *config.Config, log zerolog.Logger) (persistence, func(), error) {
	if cfg.Database.Enabled {
		db, err := database.NewDB(ctx, database.Config{URL: cfg.Database.URL})
		if err == nil {
			if merr := db.RunMigrations(ctx); merr != nil {
				db.Close()
				err = merr
			}
		}
		if err == nil {
			return database.NewRepository(db), db.Close, nil
		}
		log.Warn().Err(err).Msg("database unavailable, falling back to file store")
	}

	fileStore, err := store.NewFileStore(cfg.DataDir)
	if err != nil {
		return nil, nil, err
	}
	return fileStore, func() {}, nil
}

// persistSignals writes every broadcast signal to the persistence backend.
func persistSignals(ctx context.Context, bus *events.Broadcaster, backend persistence) {
	ch, unsubscribe := bus.Subscribe()
	defer unsubscribe()
	log := logging.Component("signal-history")

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Type != events.TypeSignal || ev.Signal == nil {
				continue
			}
			if err := backend.SaveSignal(ctx, ev.Signal); err != nil {
				log.Warn().Err(err).Str("symbol", ev.Signal.Symbol).Msg("signal history write failed")
			}
		}
	}
}

// pruneSignalHistory drops signal rows past the retention window, once at
// startup and then every six hours.
func pruneSignalHistory(ctx context.Context, backend persistence) {
	log := logging.Component("signal-history")
	ticker := time.NewTicker(6 * time.Hour)
	defer ticker.Stop()

	for {
		if n, err := backend.PruneSignals(ctx, signalRetention); err != nil {
			log.Warn().Err(err).Msg("signal prune failed")
		} else if n > 0 {
			log.Info().Int64("pruned", n).Msg("signal history pruned")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
