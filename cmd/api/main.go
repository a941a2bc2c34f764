package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/product-discovery/backend/internal/api/handlers"
	"github.com/product-discovery/backend/internal/cache"
	cacheredis "github.com/product-discovery/backend/internal/cache/redis"
	"github.com/product-discovery/backend/internal/catalog"
	"github.com/product-discovery/backend/internal/events"
	"github.com/product-discovery/backend/internal/graph/neo4j"
	"github.com/product-discovery/backend/internal/metrics"
	"github.com/product-discovery/backend/internal/middleware/ratelimit"
	"github.com/product-discovery/backend/internal/middleware/security"
	"github.com/product-discovery/backend/internal/middleware/validation"
	"github.com/product-discovery/backend/internal/recommend"
	"github.com/product-discovery/backend/internal/scheduler"
	"github.com/product-discovery/backend/internal/search"
	"github.com/product-discovery/backend/internal/similarity"
	"github.com/product-discovery/backend/internal/storage/sqlite"
	"github.com/product-discovery/backend/pkg/config"
	appLogger "github.com/product-discovery/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting Product Discovery API Server")

	metrics.Init()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	err = sqliteClient.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	if cfg.Catalog.SeedFile != "" {
		if err := sqliteClient.LoadSeedFile(context.Background(), cfg.Catalog.SeedFile); err != nil {
			appLogger.Fatal("Failed to load catalog seed", zap.String("file", cfg.Catalog.SeedFile), zap.Error(err))
		}
		appLogger.Info("Catalog seed loaded", zap.String("file", cfg.Catalog.SeedFile))
	}

	var store cache.Store
	if cfg.Redis.Enabled {
		redisStore := cacheredis.NewStore(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		defer redisStore.Close()

		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := redisStore.Ping(pingCtx); err != nil {
			appLogger.Warn("Redis unreachable at startup, cache reads will miss until it recovers", zap.Error(err))
		}
		cancel()
		store = redisStore
	} else {
		appLogger.Info("Redis disabled, using in-process cache")
		store = cache.NewMemoryStore()
	}

	facade := cache.New(store, cache.Options{
		OpTimeout:    cfg.Cache.OpTimeout(),
		TTLOverrides: cfg.Cache.TTLOverrides(),
		Logger:       appLogger.Named("cache"),
	})

	recorder := events.NewRecorder(sqliteClient, events.Config{
		BufferSize:    cfg.Events.BufferSize,
		BatchSize:     cfg.Events.BatchSize,
		FlushInterval: cfg.Events.FlushInterval,
		Logger:        appLogger.Named("events"),
	})

	catalogService := catalog.NewService(sqliteClient, facade, recorder)

	var edgeStore similarity.EdgeStore = sqliteClient
	if cfg.Similarity.Store == "memory" {
		edgeStore = similarity.NewMemoryStore()
	}

	recommendService := recommend.NewService(sqliteClient, edgeStore, facade, recorder, recommend.Config{
		DefaultLimit: cfg.Recommend.DefaultLimit,
		MaxLimit:     cfg.Recommend.MaxLimit,
	}, appLogger.Named("recommend"))

	publishers := []similarity.Publisher{recommendService}

	var graphReader handlers.GraphReader
	if cfg.Neo4j.Enabled {
		mirror, err := neo4j.NewMirror(cfg.Neo4j.URI, cfg.Neo4j.Username, cfg.Neo4j.Password, cfg.Neo4j.Database)
		if err != nil {
			appLogger.Warn("Neo4j mirror unavailable, continuing without it", zap.Error(err))
		} else {
			defer mirror.Close(context.Background())
			publishers = append(publishers, mirror)
			graphReader = mirror
		}
	}

	similarityJob := similarity.NewJob(sqliteClient, edgeStore, similarity.Config{
		TopK:        cfg.Similarity.TopK,
		MinScore:    cfg.Similarity.MinScore,
		MaxFeatures: cfg.Similarity.MaxFeatures,
		Workers:     cfg.Similarity.Workers,
	}, appLogger.Named("similarity"), publishers...)

	searchOpts := []search.Option{
		search.WithPopularity(sqliteClient),
		search.WithQueryLogger(recorder),
		search.WithLogger(appLogger.Named("search")),
	}
	if cfg.Search.FullTextEnabled {
		index, err := search.NewFullTextIndex(cfg.Search.NameBoost, cfg.Search.DescriptionBoost, appLogger.Named("fulltext"))
		if err != nil {
			appLogger.Warn("Full-text index unavailable, text queries use substring matching", zap.Error(err))
		} else {
			defer index.Close()
			searchOpts = append(searchOpts, search.WithRanker(index))
		}
	}
	searchEngine := search.NewEngine(sqliteClient, facade, search.Config{
		DefaultLimit:   cfg.Search.DefaultLimit,
		MaxLimit:       cfg.Search.MaxLimit,
		MaxQueryLength: cfg.Search.MaxQueryLength,
	}, searchOpts...)

	analytics := events.NewAnalytics(sqliteClient)

	sched := scheduler.New(appLogger.Named("scheduler"))
	sched.Every(similarityJob, cfg.Similarity.Interval, cfg.Similarity.RunOnStartup)
	if sweeper, ok := store.(cache.Sweeper); ok {
		sched.Every(cache.NewSweepTask(sweeper, appLogger.Named("cache")), cfg.Cache.SweepInterval, false)
	}
	sched.Every(events.NewRetention(sqliteClient, cfg.Events.RetentionDays, appLogger.Named("retention")), cfg.Events.PurgeInterval, false)
	sched.Start(context.Background())

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
		JSONEncoder:  json.Marshal,
		JSONDecoder:  json.Unmarshal,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:  joinOrigins(cfg.Server.AllowedOrigins),
		AllowHeaders:  "Origin, Content-Type, Accept, Authorization, X-User-ID, X-Session-ID",
		AllowMethods:  "GET, POST, OPTIONS",
		ExposeHeaders: handlers.HeaderRecommendationSource,
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		IsDevelopment:  cfg.Server.Development,
	}))

	var limiter *ratelimit.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.New(ratelimit.Config{
			MaxRequestsPerMinute: cfg.RateLimit.MaxRequestsPerMinute,
			Burst:                cfg.RateLimit.Burst,
			Logger:               appLogger.Named("ratelimit"),
		})
	}

	app.Get("/metrics", metrics.MetricsHandler())

	searchHandler := handlers.NewSearchHandler(searchEngine)
	recommendHandler := handlers.NewRecommendHandler(recommendService)
	catalogHandler := handlers.NewCatalogHandler(catalogService)
	adminHandler := handlers.NewAdminHandler(similarityJob, edgeStore, graphReader)
	analyticsHandler := handlers.NewAnalyticsHandler(analytics)
	wsHandler := handlers.NewWebSocketHandler(searchEngine)

	api := app.Group("/api/v1")

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		if err := sqliteClient.Ping(c.UserContext()); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "unavailable",
				"error":  err.Error(),
			})
		}
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	if limiter != nil {
		api.Use(limiter.Middleware())
	}
	api.Use(validation.Middleware(validation.Config{
		MaxQueryLength: cfg.Search.MaxQueryLength,
		SearchPath:     "/api/v1/search",
		Logger:         appLogger.Named("validation"),
	}))

	api.Post("/search", searchHandler.HandleSearch)
	api.Get("/ws/search", wsHandler.Upgrade, websocket.New(wsHandler.HandleConnection))

	api.Post("/recommendations", recommendHandler.HandleRecommend)
	api.Post("/recommendations/events", recommendHandler.HandleEvent)

	api.Get("/products", catalogHandler.ListProducts)
	api.Get("/products/:id", catalogHandler.GetProduct)
	api.Get("/categories/:id/products", catalogHandler.CategoryProducts)
	api.Post("/internal/catalog-events", catalogHandler.HandleChange)

	api.Post("/admin/similarity/run", adminHandler.RunSimilarity)
	api.Get("/admin/similarity/neighbors/:id", adminHandler.SimilarityNeighbors)
	api.Get("/admin/graph/neighbors/:id", adminHandler.GraphNeighbors)

	api.Get("/analytics/recommendations", analyticsHandler.Recommendations)
	api.Get("/analytics/queries", analyticsHandler.TopQueries)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		appLogger.Warn("HTTP shutdown incomplete", zap.Error(err))
	}
	sched.Stop()
	if limiter != nil {
		limiter.Stop()
	}
	recorder.Close()
	appLogger.Info("Server stopped")
}

func joinOrigins(origins []string) string {
	if len(origins) == 0 {
		return "*"
	}
	out := origins[0]
	for _, o := range origins[1:] {
		out += ", " + o
	}
	return out
}
