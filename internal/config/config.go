package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	NewRelic  NewRelicConfig
	Pricing   PricingConfig
	Dispatch  DispatchConfig
	GeoIndex  GeoIndexConfig
	WebSocket WebSocketConfig
	Cache     CacheConfig
	Maps      MapsConfig
	Kafka     KafkaConfig
	Log       LogConfig
	Features  FeatureFlags
}

type ServerConfig struct {
	Port            string
	Env             string
	Host            string
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	Enabled        bool
	Host           string
	Port           int
	Name           string
	User           string
	Password       string
	SSLMode        string
	MaxConnections int
	MaxIdleConns   int
}

type RedisConfig struct {
	Enabled     bool
	Host        string
	Port        string
	Password    string
	DB          int
	MaxRetries  int
	PoolSize    int
	MinIdleConn int
	DialTimeout time.Duration
	ReadTimeout time.Duration
}

type NewRelicConfig struct {
	LicenseKey string
	AppName    string
	Enabled    bool
	LogLevel   string
}

type PricingConfig struct {
	BaseFare      float64
	PerKMRate     float64
	PerMinuteRate float64
	MinimumFare   float64
}

type DispatchConfig struct {
	SearchRadiusMeters float64
	MaxCandidates      int
	Timeout            time.Duration
}

type GeoIndexConfig struct {
	Backend          string
	GeohashPrecision uint
}

type WebSocketConfig struct {
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	MaxMessageSize  int64
	PongWait        time.Duration
}

type CacheConfig struct {
	TTLActiveRides     time.Duration
	TTLRouteEstimates  time.Duration
	RouteEstimatesSize int
	TerminalRideMaxAge time.Duration
	JanitorInterval    time.Duration
}

type MapsConfig struct {
	APIKey     string
	Language   string
	Region     string
	Countries  []string
	RoadFactor float64
	SpeedKPH   float64
}

type KafkaConfig struct {
	Brokers       []string
	RideTopic     string
	LocationTopic string
	BatchTimeout  time.Duration
	RequiredAcks  int
}

type LogConfig struct {
	Level  string
	Format string
	Output string
}

type FeatureFlags struct {
	EnablePersistence     bool
	EnableEventPublishing bool
	EnableLocationMirror  bool
	EnableRouteEstimation bool
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("SERVER_PORT", "8080"),
			Env:             getEnv("SERVER_ENV", "development"),
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			ShutdownTimeout: parseDuration(getEnv("SERVER_SHUTDOWN_TIMEOUT", "15s"), 15*time.Second),
		},
		Database: DatabaseConfig{
			Enabled:        getEnvAsBool("DB_ENABLED", true),
			Host:           getEnv("DB_HOST", "localhost"),
			Port:           getEnvAsInt("DB_PORT", 5432),
			Name:           getEnv("DB_NAME", "ride_dispatch"),
			User:           getEnv("DB_USER", "postgres"),
			Password:       getEnv("DB_PASSWORD", "postgres"),
			SSLMode:        getEnv("DB_SSLMODE", "disable"),
			MaxConnections: getEnvAsInt("DB_MAX_CONNECTIONS", 25),
			MaxIdleConns:   getEnvAsInt("DB_MAX_IDLE_CONNECTIONS", 5),
		},
		Redis: RedisConfig{
			Enabled:     getEnvAsBool("REDIS_ENABLED", true),
			Host:        getEnv("REDIS_HOST", "localhost"),
			Port:        getEnv("REDIS_PORT", "6379"),
			Password:    getEnv("REDIS_PASSWORD", ""),
			DB:          getEnvAsInt("REDIS_DB", 0),
			MaxRetries:  getEnvAsInt("REDIS_MAX_RETRIES", 3),
			PoolSize:    getEnvAsInt("REDIS_POOL_SIZE", 100),
			MinIdleConn: 10,
			DialTimeout: 5 * time.Second,
			ReadTimeout: 3 * time.Second,
		},
		NewRelic: NewRelicConfig{
			LicenseKey: getEnv("NEW_RELIC_LICENSE_KEY", ""),
			AppName:    getEnv("NEW_RELIC_APP_NAME", "ride-dispatch"),
			Enabled:    getEnvAsBool("NEW_RELIC_ENABLED", true),
			LogLevel:   getEnv("NEW_RELIC_LOG_LEVEL", "info"),
		},
		Pricing: PricingConfig{
			BaseFare:      getEnvAsFloat64("PRICING_BASE_FARE", 50),
			PerKMRate:     getEnvAsFloat64("PRICING_PER_KM_RATE", 15),
			PerMinuteRate: getEnvAsFloat64("PRICING_PER_MINUTE_RATE", 2),
			MinimumFare:   getEnvAsFloat64("PRICING_MINIMUM_FARE", 0),
		},
		Dispatch: DispatchConfig{
			SearchRadiusMeters: getEnvAsFloat64("DISPATCH_SEARCH_RADIUS_METERS", 5000),
			MaxCandidates:      getEnvAsInt("DISPATCH_MAX_CANDIDATES", 10),
			Timeout:            time.Duration(getEnvAsInt("DISPATCH_TIMEOUT_SECONDS", 30)) * time.Second,
		},
		GeoIndex: GeoIndexConfig{
			Backend:          getEnv("GEO_INDEX_BACKEND", "geohash"),
			GeohashPrecision: uint(getEnvAsInt("GEO_INDEX_GEOHASH_PRECISION", 6)),
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:  getEnvAsInt("WS_READ_BUFFER_SIZE", 1024),
			WriteBufferSize: getEnvAsInt("WS_WRITE_BUFFER_SIZE", 1024),
			SendBufferSize:  getEnvAsInt("WS_SEND_BUFFER_SIZE", 256),
			MaxMessageSize:  int64(getEnvAsInt("WS_MAX_MESSAGE_SIZE", 4096)),
			PongWait:        time.Duration(getEnvAsInt("WS_PONG_WAIT_SECONDS", 60)) * time.Second,
		},
		Cache: CacheConfig{
			TTLActiveRides:     time.Duration(getEnvAsInt("CACHE_TTL_ACTIVE_RIDES", 7200)) * time.Second,
			TTLRouteEstimates:  time.Duration(getEnvAsInt("CACHE_TTL_ROUTE_ESTIMATES", 600)) * time.Second,
			RouteEstimatesSize: getEnvAsInt("CACHE_ROUTE_ESTIMATES_SIZE", 10000),
			TerminalRideMaxAge: parseDuration(getEnv("LEDGER_TERMINAL_MAX_AGE", "30m"), 30*time.Minute),
			JanitorInterval:    parseDuration(getEnv("LEDGER_JANITOR_INTERVAL", "1m"), time.Minute),
		},
		Maps: MapsConfig{
			APIKey:     getEnv("GOOGLE_MAPS_API_KEY", ""),
			Language:   getEnv("MAPS_LANGUAGE", "en"),
			Region:     getEnv("MAPS_REGION", "np"),
			Countries:  getEnvAsSlice("MAPS_COUNTRIES", []string{"np"}),
			RoadFactor: getEnvAsFloat64("MAPS_ROAD_FACTOR", 1.3),
			SpeedKPH:   getEnvAsFloat64("MAPS_AVERAGE_SPEED_KPH", 25),
		},
		Kafka: KafkaConfig{
			Brokers:       getEnvAsSlice("KAFKA_BROKERS", nil),
			RideTopic:     getEnv("KAFKA_RIDE_TOPIC", "ride-events"),
			LocationTopic: getEnv("KAFKA_LOCATION_TOPIC", "driver-locations"),
			BatchTimeout:  time.Duration(getEnvAsInt("KAFKA_BATCH_TIMEOUT_MS", 10)) * time.Millisecond,
			RequiredAcks:  getEnvAsInt("KAFKA_REQUIRED_ACKS", 1),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
			Output: getEnv("LOG_OUTPUT", "stdout"),
		},
		Features: FeatureFlags{
			EnablePersistence:     getEnvAsBool("ENABLE_PERSISTENCE", true),
			EnableEventPublishing: getEnvAsBool("ENABLE_EVENT_PUBLISHING", true),
			EnableLocationMirror:  getEnvAsBool("ENABLE_LOCATION_MIRROR", true),
			EnableRouteEstimation: getEnvAsBool("ENABLE_ROUTE_ESTIMATION", true),
		},
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("SERVER_PORT is required")
	}
	if c.Database.Enabled && c.Database.Host == "" {
		return fmt.Errorf("DB_HOST is required")
	}
	if c.Database.Enabled && c.Database.Name == "" {
		return fmt.Errorf("DB_NAME is required")
	}
	if c.Redis.Enabled && c.Redis.Host == "" {
		return fmt.Errorf("REDIS_HOST is required")
	}
	if c.Dispatch.SearchRadiusMeters <= 0 {
		return fmt.Errorf("DISPATCH_SEARCH_RADIUS_METERS must be positive")
	}
	if c.Dispatch.MaxCandidates <= 0 {
		return fmt.Errorf("DISPATCH_MAX_CANDIDATES must be positive")
	}
	if c.Dispatch.Timeout <= 0 {
		return fmt.Errorf("DISPATCH_TIMEOUT_SECONDS must be positive")
	}
	if c.Pricing.BaseFare < 0 || c.Pricing.PerKMRate < 0 || c.Pricing.PerMinuteRate < 0 || c.Pricing.MinimumFare < 0 {
		return fmt.Errorf("pricing rates must be non-negative")
	}
	if c.Cache.JanitorInterval <= 0 {
		return fmt.Errorf("LEDGER_JANITOR_INTERVAL must be positive")
	}
	switch c.GeoIndex.Backend {
	case "geohash", "rtree":
	default:
		return fmt.Errorf("GEO_INDEX_BACKEND must be geohash or rtree, got %q", c.GeoIndex.Backend)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.Log.Format)
	}
	return nil
}

// PublishingEnabled reports whether events go to Kafka.
func (c *Config) PublishingEnabled() bool {
	return c.Features.EnableEventPublishing && len(c.Kafka.Brokers) > 0
}

// RoutesEnabled reports whether trips are estimated with the Directions API.
func (c *Config) RoutesEnabled() bool {
	return c.Features.EnableRouteEstimation && c.Maps.APIKey != ""
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var values []string
	for _, v := range strings.Split(valueStr, ",") {
		if v = strings.TrimSpace(v); v != "" {
			values = append(values, v)
		}
	}
	return values
}

func parseDuration(value string, defaultValue time.Duration) time.Duration {
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}
	return defaultValue
}
