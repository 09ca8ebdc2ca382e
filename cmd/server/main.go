package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	_ "github.com/lib/pq"
	config "github.com/maheshrc27/crosspost-scheduler/configs"
	"github.com/maheshrc27/crosspost-scheduler/internal/api/handlers"
	"github.com/maheshrc27/crosspost-scheduler/internal/api/middleware"
	"github.com/maheshrc27/crosspost-scheduler/internal/crosspost"
	job "github.com/maheshrc27/crosspost-scheduler/internal/jobs"
	"github.com/maheshrc27/crosspost-scheduler/internal/metrics"
	"github.com/maheshrc27/crosspost-scheduler/internal/queue"
	"github.com/maheshrc27/crosspost-scheduler/internal/repository"
	"github.com/maheshrc27/crosspost-scheduler/internal/service"
	"github.com/maheshrc27/crosspost-scheduler/pkg/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/time/rate"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(newLogger(cfg))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("postgres", cfg.PostgresURI)
	if err != nil {
		fatal("Failed to connect to database", err)
	}
	defer closeDB(db)

	if err := db.PingContext(ctx); err != nil {
		fatal("Database is unreachable", err)
	}

	caps, err := repository.ProbeSchema(ctx, db)
	if err != nil {
		fatal("Failed to inspect schema", err)
	}
	if !caps.RetryColumns {
		slog.Warn("scheduled_items has no retry columns; publish failures will be terminal")
	}

	redisOpts, err := redis.ParseURL(cfg.RedisURI)
	if err != nil {
		fatal("Invalid REDIS_URI", err)
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	asynqRedis := asynq.RedisClientOpt{Addr: redisOpts.Addr, Username: redisOpts.Username, Password: redisOpts.Password, DB: redisOpts.DB}
	client := asynq.NewClient(asynqRedis)
	defer client.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewRegistry(registry)

	tokenKey := utils.TokenKey(cfg.SecretKey)

	itemRepo := repository.NewScheduledItemRepository(db, caps)
	uow := repository.NewTxRunner(db)
	teamRepo := repository.NewTeamRepository(db)
	socialAccountRepo := repository.NewSocialAccountRepository(db)
	mediaAssetRepo := repository.NewMediaAssetRepository(db)
	creditRepo := repository.NewCreditRepository(db, uow)

	adapters := []crosspost.Adapter{
		crosspost.NewComposerAdapter(repository.NewComposerRepository(db), cfg.Platform, m),
	}
	if cfg.MongoURI != "" {
		mc, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			fatal("Failed to connect to campaigns store", err)
		}
		defer func() {
			if err := mc.Disconnect(context.Background()); err != nil {
				slog.Error("Failed to disconnect campaigns store", "error", err)
			}
		}()
		adapters = append(adapters, crosspost.NewCampaignAdapter(repository.NewCampaignRepository(mc.Database(cfg.MongoDatabase)), cfg.Platform, m))
	}

	storage, err := service.NewR2Storage(ctx, cfg.R2)
	if err != nil {
		fatal("Failed to configure object storage", err)
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	publisher := service.NewPublisher(cfg.PublisherBaseURL, httpClient)
	generator := service.NewGenerator(cfg.GeneratorURL, httpClient)
	dispatcher := queue.NewDispatcher(client)

	scopeService := service.NewScopeService(teamRepo, cfg.ScopeCacheTTL, cfg.ScopeCacheSize, nil)
	itemService := service.NewItemService(itemRepo, uow, scopeService, socialAccountRepo, publisher, dispatcher, service.ItemServiceConfig{
		Platform:       cfg.Platform,
		ScheduleWindow: cfg.ScheduleWindow(),
		TokenKey:       tokenKey,
	}, nil)
	timelineService := service.NewTimelineService(itemRepo, scopeService, adapters, cfg.ExternalRowBudget, m)
	creditService := service.NewCreditService(creditRepo, generator, cfg.CreditUnitPrice, m)
	mediaService := service.NewMediaService(storage, mediaAssetRepo, uow, scopeService)
	platformService := service.NewPlatformService(socialAccountRepo, scopeService, cfg.Platform, tokenKey, nil)

	publishJob := job.NewPublishJob(itemRepo, socialAccountRepo, publisher, dispatcher,
		job.NewRedisLease(rdb),
		rate.NewLimiter(rate.Limit(cfg.Worker.PublishRate), 1),
		m,
		job.PublishConfig{
			Platform:     cfg.Platform,
			Schedule:     cfg.Worker.Schedule,
			BatchSize:    cfg.Worker.BatchSize,
			MaxRetries:   cfg.Worker.MaxRetries,
			RetryBackoff: cfg.Worker.RetryBackoff,
			MaxBackoff:   cfg.Worker.MaxBackoff,
			ClaimLease:   cfg.Worker.ClaimLease,
			TickLeaseTTL: cfg.Worker.TickLeaseTTL,
			LeaseKey:     cfg.Worker.LeaseKey,
			TokenKey:     tokenKey,
		}, nil)
	refreshTokenJob := job.NewTokenRefreshJob(socialAccountRepo, publisher, cfg.Platform, tokenKey, nil)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Minute,
		WriteTimeout: time.Minute,
		BodyLimit:    100 * 1024 * 1024, // 100 MB
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			slog.Error("unhandled request error", "path", c.Path(), "error", err)
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.FrontendURL,
		AllowMethods:     "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: true,
		MaxAge:           3600,
	}))

	app.Get("/healthz", handlers.Healthz(db))
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	authMiddleware := middleware.NewAuthMiddleware(*cfg)
	api := app.Group("/api")
	api.Use(authMiddleware.AuthMiddleware())

	handlers.NewItemHandler(itemService, timelineService).Register(api)
	handlers.NewCreditHandler(creditService, cfg.Platform).Register(api)
	handlers.NewMediaHandler(mediaService).Register(api)
	handlers.NewPlatformHandler(platformService).Register(api)

	// cron jobs
	c := cron.New()
	if _, err := publishJob.Register(c); err != nil {
		fatal("Invalid worker schedule", err)
	}
	if _, err := c.AddFunc("@every 10m", refreshTokenJob.RefreshTokens); err != nil {
		fatal("Failed to schedule token refresh", err)
	}
	c.Start()

	//queue
	server := asynq.NewServer(asynqRedis, asynq.Config{
		Concurrency: 10,
		Queues:      map[string]int{"default": 1},
	})
	go func() {
		slog.Info("Starting the Asynq server...")
		if err := server.Run(queue.NewServeMux(publishJob)); err != nil {
			fatal("Could not start Asynq server", err)
		}
	}()

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			fatal("Failed to start server", err)
		}
	}()
	slog.Info("Server is running", "port", cfg.Port)

	<-ctx.Done()
	slog.Info("Shutting down server...")

	<-c.Stop().Done()
	server.Shutdown()
	if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
		slog.Error("Failed to shut down server", "error", err)
	}
	slog.Info("Server shutdown complete.")
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}

func closeDB(db *sql.DB) {
	slog.Info("Closing database connection...")
	if err := db.Close(); err != nil {
		slog.Error("Failed to close database", "error", err)
	}
}
