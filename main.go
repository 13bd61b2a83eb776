package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"wyckoff-signal-engine/config"
	"wyckoff-signal-engine/internal/api"
	"wyckoff-signal-engine/internal/auth"
	"wyckoff-signal-engine/internal/campaign"
	"wyckoff-signal-engine/internal/confidence"
	"wyckoff-signal-engine/internal/database"
	"wyckoff-signal-engine/internal/dispatch"
	"wyckoff-signal-engine/internal/events"
	"wyckoff-signal-engine/internal/logging"
	"wyckoff-signal-engine/internal/metrics"
	"wyckoff-signal-engine/internal/patterns"
	"wyckoff-signal-engine/internal/phase"
	"wyckoff-signal-engine/internal/pipeline"
	"wyckoff-signal-engine/internal/risk"
	"wyckoff-signal-engine/internal/validation"
	"wyckoff-signal-engine/internal/vault"
)

// returnsProxy lets the correlation gate be constructed before the engine
// that feeds it.
type returnsProxy struct {
	engine *pipeline.Engine
}

func (p *returnsProxy) Returns(symbol string, window int) []float64 {
	if p.engine == nil {
		return nil
	}
	return p.engine.Returns(symbol, window)
}

func main() {
	godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize structured logging
	logger := logging.New(&logging.Config{
		Level:      cfg.LoggingConfig.Level,
		Output:     cfg.LoggingConfig.Output,
		JSONFormat: cfg.LoggingConfig.JSONFormat,
		Component:  "main",
	})
	logging.SetDefault(logger)
	logger.Info("Structured logging initialized")

	// Initialize event bus and metrics
	eventBus := events.NewBus()
	recorder := metrics.New()
	logger.Info("Event bus initialized")

	// Campaign manager
	campaignLogger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	campaigns := campaign.NewManager(campaignLogger)

	// Validator set: every tradeable pattern must have a registered variant
	validators, err := validation.NewSet(validation.Config{
		SpringMinVolumeRatio: cfg.ValidationConfig.SpringMinVolumeRatio,
		UTADMinVolumeRatio:   cfg.ValidationConfig.UTADMinVolumeRatio,
		SOSMinVolumeRatio:    cfg.ValidationConfig.SOSMinVolumeRatio,
		LPSMinVolumeRatio:    cfg.ValidationConfig.LPSMinVolumeRatio,
		StoppingSpreadBound:  cfg.ValidationConfig.StoppingSpreadBound,
	})
	if err != nil {
		log.Fatalf("Failed to build validator set: %v", err)
	}

	// Confidence scorer with situational penalties
	scorer, err := confidence.NewScorer(confidence.Weights{
		Pattern: cfg.ConfidenceConfig.PatternWeight,
		Phase:   cfg.ConfidenceConfig.PhaseWeight,
		Volume:  cfg.ConfidenceConfig.VolumeWeight,
	}, cfg.ConfidenceConfig.MinConfidence, defaultPenalties())
	if err != nil {
		log.Fatalf("Failed to build confidence scorer: %v", err)
	}

	// Correlation gate; its returns provider is bound to the engine below
	proxy := &returnsProxy{}
	gate := risk.NewGate(risk.GateConfig{
		HeatThreshold:     cfg.RiskConfig.HeatThreshold,
		Window:            cfg.RiskConfig.CorrelationWindow,
		RecomputeInterval: time.Duration(cfg.RiskConfig.RecomputeIntervalS) * time.Second,
	}, campaigns, proxy)

	// Dispatch queue
	queue := dispatch.NewQueue(cfg.DispatchConfig.QueueSize)

	// Optional persistence
	var repo *database.Repository
	var db *database.DB
	var sink pipeline.OutcomeSink
	if cfg.DatabaseConfig.Enabled {
		dbUser, dbPassword := cfg.DatabaseConfig.User, cfg.DatabaseConfig.Password

		if cfg.VaultConfig.Enabled {
			vaultClient, err := vault.NewClient(cfg.VaultConfig)
			if err != nil {
				log.Fatalf("Failed to create vault client: %v", err)
			}
			creds, err := vaultClient.GetDatabaseCredentials(context.Background(), "postgres")
			if err != nil {
				log.Fatalf("Failed to fetch database credentials from vault: %v", err)
			}
			dbUser, dbPassword = creds.Username, creds.Password
			logger.Info("Database credentials loaded from vault")
		}

		db, err = database.NewDB(database.Config{
			Host:     cfg.DatabaseConfig.Host,
			Port:     cfg.DatabaseConfig.Port,
			User:     dbUser,
			Password: dbPassword,
			Database: cfg.DatabaseConfig.Database,
			SSLMode:  cfg.DatabaseConfig.SSLMode,
		})
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()

		if err := db.RunMigrations(context.Background()); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}

		repo = database.NewRepository(db)
		sink = database.NewAuditSink(repo, campaigns)
		logger.Info("Audit persistence enabled")
	}

	// Pipeline engine
	engine := pipeline.NewEngine(pipeline.EngineConfig{
		Worker: pipeline.WorkerConfig{
			PivotWindow:         cfg.StructureConfig.PivotWindow,
			ClusterTolerancePct: cfg.StructureConfig.ClusterTolerancePct,
			MinPivotsPerSide:    cfg.StructureConfig.MinPivotsPerSide,
			CreekTolerancePct:   cfg.StructureConfig.CreekTolerancePct,
			IceTolerancePct:     cfg.StructureConfig.IceTolerancePct,
			EventDetector: phase.EventDetectorConfig{
				ClimaxVolumeRatio:  cfg.EventConfig.ClimaxVolumeRatio,
				ClimaxLookback:     cfg.EventConfig.ClimaxLookback,
				ReactionWindowBars: cfg.EventConfig.ReactionWindowBars,
				TestTolerancePct:   cfg.EventConfig.TestTolerancePct,
				VolumeAvgPeriod:    cfg.EventConfig.VolumeAvgPeriod,
			},
			Classifier: phase.ClassifierConfig{
				ClimaxVolumeRatio: cfg.EventConfig.ClimaxVolumeRatio,
				CreekTolerancePct: cfg.StructureConfig.CreekTolerancePct,
			},
			Patterns: patterns.Config{
				StoppingVolumeRatio: cfg.PatternConfig.StoppingVolumeRatio,
				BreakoutVolumeRatio: cfg.PatternConfig.BreakoutVolumeRatio,
				RecoveryWindowBars:  cfg.PatternConfig.RecoveryWindowBars,
				CreekTolerancePct:   cfg.StructureConfig.CreekTolerancePct,
				VolumeAvgPeriod:     cfg.EventConfig.VolumeAvgPeriod,
			},
			StopBufferPct: cfg.SignalConfig.StopBufferPct,
		},
		BarBufferSize: cfg.PipelineConfig.BarBufferSize,
		ReturnsWindow: cfg.RiskConfig.CorrelationWindow,
	}, validators, scorer, campaigns, gate, queue, eventBus, recorder, sink)
	proxy.engine = engine

	// Refresh the correlation matrix on its cadence
	gateCtx, cancelGate := context.WithCancel(context.Background())
	go gate.Run(gateCtx)

	// Optional campaign snapshots in Redis
	var redisClient *redis.Client
	if cfg.RedisConfig.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisConfig.Address,
			Password: cfg.RedisConfig.Password,
			DB:       cfg.RedisConfig.DB,
			PoolSize: cfg.RedisConfig.PoolSize,
		})
	}
	snapshots := database.NewRedisCampaignStateStore(redisClient)
	reconcileCampaignSnapshots(snapshots, logger)
	setupCampaignSnapshots(eventBus, campaigns, snapshots, logger)

	// Optional API auth
	jwtManager := buildJWTManager(cfg, logger)

	// HTTP server
	server := api.NewServer(api.ServerConfig{
		Port:           cfg.ServerConfig.Port,
		Host:           cfg.ServerConfig.Host,
		AllowedOrigins: cfg.ServerConfig.AllowedOrigins,
		ProductionMode: os.Getenv("GIN_MODE") == "release",
	}, engine, campaigns, queue, eventBus, repo, jwtManager)

	go func() {
		if err := server.Start(); err != nil {
			log.Fatalf("Failed to start web server: %v", err)
		}
	}()

	// Deliver approved signals from the dispatch queue
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		for msg := range queue.Messages() {
			logging.DispatchContext(msg.Symbol, msg.Sequence).
				Info("signal dispatched",
					"signal_id", msg.Signal.ID.String(),
					"pattern", string(msg.Signal.Detection.Kind),
					"direction", string(msg.Signal.Direction))
			if hub := api.Hub(); hub != nil {
				hub.BroadcastDispatch(msg)
			}
		}
	}()

	log.Println("Wyckoff signal engine started")
	log.Printf("API available at http://%s:%d", cfg.ServerConfig.Host, cfg.ServerConfig.Port)

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down...")

	// Finish in-flight bars, stop workers, close the dispatch queue
	engine.Stop()
	<-dispatchDone
	cancelGate()

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		time.Duration(cfg.ServerConfig.ShutdownTimeout)*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Error shutting down web server: %v", err)
	}

	log.Println("Shutdown complete")
}

// defaultPenalties are the situational confidence reductions applied after
// the weighted summation and before the floor check.
func defaultPenalties() []confidence.Penalty {
	return []confidence.Penalty{
		{
			// A shakeout that needed most of its recovery window is weaker
			// evidence of absorbed supply than a snap-back.
			Name:        "SLOW_RECOVERY",
			SubtractPct: 5,
			Applies: func(det *patterns.Detection) bool {
				return (det.Kind == patterns.Spring || det.Kind == patterns.UTAD) &&
					det.RecoveryBars > 3
			},
		},
		{
			// An indecisive bar close weakens any pattern's confirmation.
			Name:        "INDECISIVE_CLOSE",
			SubtractPct: 5,
			Applies: func(det *patterns.Detection) bool {
				return det.ClosePosition > 1.0/3 && det.ClosePosition < 2.0/3
			},
		},
	}
}

// reconcileCampaignSnapshots reports and clears snapshots left behind by a
// previous run. Campaign signal state does not survive a restart, so a stale
// snapshot would misreport an open campaign until its TTL; campaigns re-open
// as the bar stream replays.
func reconcileCampaignSnapshots(snapshots *database.RedisCampaignStateStore, logger *logging.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	symbols, err := snapshots.OpenSymbols(ctx)
	if err != nil {
		logger.Warn("Failed to list campaign snapshots", "error", err)
		return
	}
	for _, symbol := range symbols {
		snap, err := snapshots.Load(ctx, symbol)
		if err != nil {
			logger.Warn("Failed to load campaign snapshot", "symbol", symbol, "error", err)
			continue
		}
		if snap != nil {
			logger.Info("Clearing campaign snapshot from previous run",
				"symbol", snap.Symbol,
				"campaign_id", snap.ID.String(),
				"cycle", snap.Cycle,
				"status", snap.Status,
				"signals", snap.Signals)
		}
		if err := snapshots.Delete(ctx, symbol); err != nil {
			logger.Warn("Failed to delete stale campaign snapshot", "symbol", symbol, "error", err)
		}
	}
}

func setupCampaignSnapshots(eventBus *events.Bus, campaigns *campaign.Manager,
	snapshots *database.RedisCampaignStateStore, logger *logging.Logger) {
	eventBus.Subscribe(events.EventCampaignOpened, func(e events.Event) {
		saveCampaignSnapshot(campaigns, snapshots, e.Symbol, logger)
	})
	eventBus.Subscribe(events.EventSignalApproved, func(e events.Event) {
		saveCampaignSnapshot(campaigns, snapshots, e.Symbol, logger)
	})
	eventBus.Subscribe(events.EventCampaignClosed, func(e events.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := snapshots.Delete(ctx, e.Symbol); err != nil {
			logger.Warn("Failed to delete campaign snapshot", "symbol", e.Symbol, "error", err)
		}
	})
}

func saveCampaignSnapshot(campaigns *campaign.Manager, snapshots *database.RedisCampaignStateStore,
	symbol string, logger *logging.Logger) {
	c, ok := campaigns.Active(symbol)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := snapshots.Save(ctx, &database.CampaignSnapshot{
		ID:      c.ID,
		Symbol:  c.Symbol,
		Cycle:   c.Cycle,
		Status:  string(c.Status),
		OpenBar: c.OpenBar,
		Signals: len(c.Signals),
	})
	if err != nil {
		logger.Warn("Failed to save campaign snapshot", "symbol", symbol, "error", err)
	}
}

func buildJWTManager(cfg *config.Config, logger *logging.Logger) *auth.JWTManager {
	if !cfg.AuthConfig.Enabled {
		return nil
	}
	logger.Info("API authentication enabled")
	return auth.NewJWTManager(cfg.AuthConfig.JWTSecret, cfg.AuthConfig.AccessTokenDuration)
}
