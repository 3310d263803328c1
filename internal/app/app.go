package app

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/mailflow/internal/api"
	"github.com/ignite/mailflow/internal/config"
	"github.com/ignite/mailflow/internal/dispatch"
	"github.com/ignite/mailflow/internal/domain"
	"github.com/ignite/mailflow/internal/esp"
	"github.com/ignite/mailflow/internal/pkg/distlock"
	"github.com/ignite/mailflow/internal/pkg/logger"
	"github.com/ignite/mailflow/internal/repository/postgres"
	"github.com/ignite/mailflow/internal/service/feedback"
	"github.com/ignite/mailflow/internal/service/queue"
	"github.com/ignite/mailflow/internal/service/reputation"
	"github.com/ignite/mailflow/internal/service/retry"
	"github.com/ignite/mailflow/internal/service/routing"
	"github.com/ignite/mailflow/internal/service/suppression"
	"github.com/ignite/mailflow/internal/service/template"
)

const recoveryLockKey = "stale-recovery"

// App holds the wired pipeline.
type App struct {
	Config       *config.Config
	DB           *sql.DB
	Redis        *redis.Client
	Queue        *queue.Service
	Suppressions *suppression.Service
	Tracker      *reputation.Tracker
	Router       *routing.Router
	Sender       *esp.Sender
	Dispatcher   *dispatch.Dispatcher
	Recovery     *dispatch.Recovery
	Feedback     *feedback.Ingestor
}

// Open connects to Postgres and, when configured, Redis, then builds every
// component. Close releases the connections.
func Open(ctx context.Context, cfg *config.Config) (*App, error) {
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	if cfg.Log.RedactPII != nil {
		logger.SetRedactPII(*cfg.Log.RedactPII)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetime) * time.Second)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	log.Println("Connected to database")

	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		rdb = redis.NewClient(opts)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			log.Printf("Warning: Redis unavailable (%v); rate limits and health cache disabled", err)
			rdb.Close()
			rdb = nil
		} else {
			log.Println("Connected to Redis")
		}
	}

	a, err := build(ctx, cfg, db, rdb)
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func build(ctx context.Context, cfg *config.Config, db *sql.DB, rdb *redis.Client) (*App, error) {
	a := &App{Config: cfg, DB: db, Redis: rdb}

	a.Queue = queue.NewService(postgres.NewEventRepo(db), cfg.Retry.MaxRetries, cfg.Dispatch.BatchSize)
	a.Suppressions = suppression.NewService(postgres.NewSuppressionRepo(db))
	a.Tracker = reputation.NewTracker(postgres.NewDeliveryLogRepo(db), postgres.NewHealthMetricRepo(db), rdb,
		reputation.Options{
			Thresholds: reputation.Thresholds{
				BounceRate:    cfg.Health.BounceRateThreshold,
				ComplaintRate: cfg.Health.ComplaintRateThreshold,
				LatencyMS:     cfg.Health.LatencyThresholdMS,
			},
			Window:     cfg.Health.Window(),
			MinSamples: cfg.Health.MinSamples,
			CacheTTL:   cfg.Health.CacheTTL(),
		})

	sender, err := esp.NewFromConfig(ctx, cfg, rdb)
	if err != nil {
		return a, fmt.Errorf("providers: %w", err)
	}
	a.Sender = sender
	order := esp.FilterOrder(sender, cfg.Routing.FailoverOrder)
	if len(order) == 0 {
		log.Printf("Warning: no enabled provider in failover order %v; events will retry until one is configured", cfg.Routing.FailoverOrder)
	}
	priorityOrder := make(map[domain.Priority][]string, len(cfg.Routing.PriorityOrder))
	for p, o := range cfg.Routing.PriorityOrder {
		priorityOrder[domain.Priority(p)] = esp.FilterOrder(sender, o)
	}
	a.Router = routing.NewRouter(a.Tracker, routing.Options{
		Order:         order,
		PriorityOrder: priorityOrder,
		MinSamples:    cfg.Health.MinSamples,
	})

	renderer := template.NewRenderer()
	if path := cfg.Templates.CatalogPath; path != "" {
		n, err := renderer.LoadFile(path)
		if err != nil {
			return a, fmt.Errorf("templates: %w", err)
		}
		log.Printf("Loaded %d templates from %s", n, path)
	}

	a.Dispatcher = dispatch.New(a.Queue, a.Suppressions, renderer, a.Router, sender, a.Tracker,
		retry.NewController(cfg.Retry.BackoffBase(), cfg.Retry.BackoffMax(), cfg.Retry.JitterFraction),
		dispatch.Options{
			BatchSize:     cfg.Dispatch.BatchSize,
			Concurrency:   cfg.Dispatch.Concurrency,
			FromName:      cfg.Sender.FromName,
			FromEmail:     cfg.Sender.FromEmail,
			ReplyTo:       cfg.Sender.ReplyTo,
			SendingDomain: cfg.Sender.Domain(),
		})
	a.Recovery = dispatch.NewRecovery(a.Queue,
		distlock.NewLock(rdb, db, recoveryLockKey, 2*cfg.Dispatch.RecoveryInterval()),
		cfg.Dispatch.RecoveryInterval(), cfg.Dispatch.StaleAfter())

	var archiver feedback.Archiver
	if cfg.Feedback.ArchiveBucket != "" {
		s3a, err := feedback.NewS3Archiver(ctx, cfg.Feedback.ArchiveRegion, cfg.Feedback.ArchiveBucket)
		if err != nil {
			return a, fmt.Errorf("feedback archive: %w", err)
		}
		archiver = s3a
	}
	a.Feedback = feedback.NewIngestor(a.Suppressions, a.Tracker, a.Queue, postgres.NewConsentRepo(db), archiver,
		feedback.Options{
			SendingDomain:           cfg.Sender.Domain(),
			SoftBounceSuppressAfter: cfg.Feedback.SoftBounceSuppressAfter,
		})
	return a, nil
}

// Handlers returns the HTTP handlers over the pipeline.
func (a *App) Handlers() *api.Handlers {
	checks := map[string]api.Pinger{"postgres": a.DB.PingContext}
	if a.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return a.Redis.Ping(ctx).Err() }
	}
	return api.NewHandlers(api.Deps{
		Events:           a.Queue,
		Feedback:         a.Feedback,
		Dispatcher:       a.Dispatcher,
		Suppressions:     a.Suppressions,
		Health:           a.Tracker,
		Router:           a.Router,
		Checks:           checks,
		MaxFeedbackBytes: a.Config.Feedback.MaxBodyBytes,
	})
}

// Close releases the database and Redis connections.
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.Redis != nil {
		a.Redis.Close()
	}
	if a.DB != nil {
		a.DB.Close()
	}
}
