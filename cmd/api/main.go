package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gocomet/ride-dispatch/internal/api/handlers"
	"github.com/gocomet/ride-dispatch/internal/api/routes"
	"github.com/gocomet/ride-dispatch/internal/config"
	"github.com/gocomet/ride-dispatch/internal/domain/geo"
	"github.com/gocomet/ride-dispatch/internal/domain/ride"
	"github.com/gocomet/ride-dispatch/internal/maps"
	"github.com/gocomet/ride-dispatch/internal/messaging"
	"github.com/gocomet/ride-dispatch/internal/repository/postgres"
	rediscache "github.com/gocomet/ride-dispatch/internal/repository/redis"
	"github.com/gocomet/ride-dispatch/internal/service/dispatch"
	"github.com/gocomet/ride-dispatch/internal/service/geoindex"
	"github.com/gocomet/ride-dispatch/internal/service/ledger"
	"github.com/gocomet/ride-dispatch/internal/service/location"
	"github.com/gocomet/ride-dispatch/internal/service/pricing"
	"github.com/gocomet/ride-dispatch/pkg/cache"
	"github.com/gocomet/ride-dispatch/pkg/database"
	"github.com/gocomet/ride-dispatch/pkg/logger"
	"github.com/gocomet/ride-dispatch/pkg/monitoring"
	"github.com/gocomet/ride-dispatch/pkg/websocket"
	"github.com/redis/go-redis/v9"
)

// eventPublisher is satisfied by both the Kafka and the no-op publisher.
type eventPublisher interface {
	PublishRide(ctx context.Context, r *ride.Ride, eventType string) error
	PublishLocation(ctx context.Context, driverID, rideID string, p geo.Point, at time.Time) error
	Close() error
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	appLogger, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting ride dispatch service",
		logger.String("env", cfg.Server.Env),
		logger.String("port", cfg.Server.Port),
	)

	// Initialize New Relic
	nrApp, err := monitoring.New(monitoring.Config{
		LicenseKey: cfg.NewRelic.LicenseKey,
		AppName:    cfg.NewRelic.AppName,
		Enabled:    cfg.NewRelic.Enabled,
		LogLevel:   cfg.NewRelic.LogLevel,
	})
	if err != nil {
		appLogger.Warn("Failed to initialize New Relic", logger.Err(err))
		nrApp, _ = monitoring.New(monitoring.Config{})
	} else if nrApp.IsEnabled() {
		appLogger.Info("New Relic APM initialized successfully",
			logger.String("app_name", cfg.NewRelic.AppName),
			logger.Bool("enabled", true))
	} else {
		appLogger.Info("New Relic APM disabled")
	}
	defer nrApp.Shutdown(10 * time.Second)

	// Initialize Redis
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = cache.NewRedisClient(context.Background(), cache.Config{
			Host:        cfg.Redis.Host,
			Port:        cfg.Redis.Port,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			MaxRetries:  cfg.Redis.MaxRetries,
			PoolSize:    cfg.Redis.PoolSize,
			MinIdleConn: cfg.Redis.MinIdleConn,
			DialTimeout: cfg.Redis.DialTimeout,
			ReadTimeout: cfg.Redis.ReadTimeout,
		})
		if err != nil {
			appLogger.Fatal("Failed to connect to Redis", logger.Err(err))
		}
		defer cache.Close(redisClient)
		appLogger.Info("Connected to Redis successfully")
	}

	// Initialize PostgreSQL
	var postgresDB *sql.DB
	if cfg.Database.Enabled && cfg.Features.EnablePersistence {
		postgresDB, err = database.NewPostgresDB(context.Background(), database.Config{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.Name,
			SSLMode:  cfg.Database.SSLMode,
			MaxConns: cfg.Database.MaxConnections,
			MaxIdle:  cfg.Database.MaxIdleConns,
		})
		if err != nil {
			appLogger.Fatal("Failed to connect to PostgreSQL", logger.Err(err))
		}
		defer postgresDB.Close()
		appLogger.Info("Connected to PostgreSQL successfully")
	}

	// Ride ledger with optional write-through store and cache
	var ledgerOpts []ledger.Option
	if postgresDB != nil {
		repo := postgres.NewRideRepository(postgresDB)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := repo.EnsureSchema(ctx)
		cancel()
		if err != nil {
			appLogger.Fatal("Failed to prepare rides schema", logger.Err(err))
		}
		ledgerOpts = append(ledgerOpts, ledger.WithStore(repo))
	}
	if redisClient != nil {
		ledgerOpts = append(ledgerOpts, ledger.WithCache(rediscache.NewRideCache(redisClient, cfg.Cache.TTLActiveRides)))
	}
	rideLedger := ledger.New(appLogger.Named("ledger"), ledgerOpts...)

	// Driver geo index
	var geoOpts []geoindex.Option
	if redisClient != nil && cfg.Features.EnableLocationMirror {
		geoOpts = append(geoOpts, geoindex.WithMirror(geoindex.NewRedisMirror(redisClient)))
	}
	geoIndex, err := geoindex.New(geoindex.Config{
		Backend:          cfg.GeoIndex.Backend,
		GeohashPrecision: cfg.GeoIndex.GeohashPrecision,
	}, appLogger.Named("geoindex"), geoOpts...)
	if err != nil {
		appLogger.Fatal("Failed to create geo index", logger.Err(err))
	}

	// Trip estimation and places lookup
	var estimator maps.Estimator = maps.NewStraightLineEstimator(cfg.Maps.RoadFactor, cfg.Maps.SpeedKPH)
	if cfg.RoutesEnabled() {
		routesClient, err := maps.NewGoogleRoutes(cfg.Maps.APIKey, cfg.Maps.Language, cfg.Maps.Region)
		if err != nil {
			appLogger.Fatal("Failed to create Google Maps client", logger.Err(err))
		}
		estimator = maps.NewCachedEstimator(
			maps.NewFallbackEstimator(routesClient, estimator, appLogger.Named("estimator")),
			cfg.Cache.TTLRouteEstimates,
			cfg.Cache.RouteEstimatesSize,
		)
	}

	var places maps.Places
	if cfg.Maps.APIKey != "" {
		googlePlaces, err := maps.NewGooglePlaces(cfg.Maps.APIKey, cfg.Maps.Language, cfg.Maps.Countries)
		if err != nil {
			appLogger.Fatal("Failed to create Google Places client", logger.Err(err))
		}
		places = googlePlaces
	}

	// Event publishing
	var publisher eventPublisher = messaging.NoopPublisher{}
	if cfg.PublishingEnabled() {
		kafkaPublisher, err := messaging.NewKafkaPublisher(messaging.Config{
			Brokers:       cfg.Kafka.Brokers,
			RideTopic:     cfg.Kafka.RideTopic,
			LocationTopic: cfg.Kafka.LocationTopic,
			BatchTimeout:  cfg.Kafka.BatchTimeout,
			RequiredAcks:  cfg.Kafka.RequiredAcks,
		}, appLogger)
		if err != nil {
			appLogger.Fatal("Failed to create Kafka publisher", logger.Err(err))
		}
		publisher = kafkaPublisher
		appLogger.Info("Publishing ride events to Kafka", logger.Strings("brokers", cfg.Kafka.Brokers))
	}
	defer publisher.Close()

	// Initialize WebSocket hub
	wsHub := websocket.NewHub(websocket.Config{
		SendBufferSize: cfg.WebSocket.SendBufferSize,
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
		PongWait:       cfg.WebSocket.PongWait,
	}, appLogger)

	stream := location.NewStream(geoIndex, rideLedger, wsHub, publisher, nrApp, appLogger.Named("location"))

	engine, err := dispatch.New(dispatch.Config{
		SearchRadiusMeters: cfg.Dispatch.SearchRadiusMeters,
		MaxCandidates:      cfg.Dispatch.MaxCandidates,
		Timeout:            cfg.Dispatch.Timeout,
	}, dispatch.Deps{
		Ledger: rideLedger,
		Geo:    geoIndex,
		Pricing: pricing.NewCalculator(pricing.Rates{
			BaseFare:      cfg.Pricing.BaseFare,
			PerKMRate:     cfg.Pricing.PerKMRate,
			PerMinuteRate: cfg.Pricing.PerMinuteRate,
			MinimumFare:   cfg.Pricing.MinimumFare,
		}),
		Estimator: estimator,
		Notifier:  wsHub,
		Locations: stream,
		Publisher: publisher,
		Recorder:  nrApp,
		Logger:    appLogger,
	})
	if err != nil {
		appLogger.Fatal("Failed to create dispatch engine", logger.Err(err))
	}

	frames := dispatch.NewRouter(engine, appLogger.Named("ws-router"))
	wsHub.OnConnect(engine.HandleConnect)
	wsHub.OnDisconnect(engine.HandleDisconnect)
	wsHub.HandleFrames(frames.HandleFrame)
	wsHub.GuardSubscriptions(engine.CanObserve)
	go wsHub.Run()

	janitorCtx, stopJanitor := context.WithCancel(context.Background())
	defer stopJanitor()
	go runJanitor(janitorCtx, cfg.Cache, rideLedger, postgresDB, redisClient, nrApp, appLogger.Named("janitor"))

	// Initialize handlers with dependencies
	h := handlers.NewHandlers(engine, places, wsHub, cfg.WebSocket.ReadBufferSize, cfg.WebSocket.WriteBufferSize, appLogger.Named("http"))
	h.Checks = make(map[string]handlers.ReadinessCheck)
	if postgresDB != nil {
		h.Checks["postgres"] = func(ctx context.Context) error {
			return database.Ping(ctx, postgresDB, 2*time.Second)
		}
	}
	if redisClient != nil {
		h.Checks["redis"] = func(ctx context.Context) error {
			return cache.Ping(ctx, redisClient)
		}
	}

	// Initialize Gin router
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()

	// Setup all routes
	routes.SetupRoutes(router, h, nrApp.Application)

	appLogger.Info("Routes configured successfully")

	// Create HTTP server
	srv := &http.Server{
		Addr:           fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   15 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	// Start server in a goroutine
	go func() {
		appLogger.Info("Server starting", logger.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal("Failed to start server", logger.Err(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown", logger.Err(err))
	}
	wsHub.Stop()
	geoIndex.Close()

	appLogger.Info("Server stopped gracefully")
}

// runJanitor prunes settled rides from memory and reports pool statistics.
func runJanitor(ctx context.Context, cfg config.CacheConfig, l *ledger.Ledger, db *sql.DB, rdb *redis.Client, nrApp *monitoring.NewRelicApp, log *logger.Logger) {
	ticker := time.NewTicker(cfg.JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if pruned := l.PruneTerminal(now.Add(-cfg.TerminalRideMaxAge)); pruned > 0 {
				log.Info("Pruned settled rides", logger.Int("count", pruned), logger.Int("remaining", l.Len()))
			}
			if db != nil {
				nrApp.RecordDatabasePoolStats(db.Stats())
			}
			if rdb != nil {
				nrApp.RecordRedisPoolStats(cache.GetClientStats(rdb))
			}
		}
	}
}
