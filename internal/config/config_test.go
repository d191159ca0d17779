package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 5000.0, cfg.Dispatch.SearchRadiusMeters)
	assert.Equal(t, 10, cfg.Dispatch.MaxCandidates)
	assert.Equal(t, 30*time.Second, cfg.Dispatch.Timeout)
	assert.Equal(t, "geohash", cfg.GeoIndex.Backend)
	assert.Equal(t, 50.0, cfg.Pricing.BaseFare)
	assert.Equal(t, 0.0, cfg.Pricing.MinimumFare)
	assert.False(t, cfg.PublishingEnabled(), "no brokers configured")
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("DISPATCH_SEARCH_RADIUS_METERS", "2500")
	t.Setenv("DISPATCH_TIMEOUT_SECONDS", "12")
	t.Setenv("GEO_INDEX_BACKEND", "rtree")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("GOOGLE_MAPS_API_KEY", "key")
	t.Setenv("ENABLE_ROUTE_ESTIMATION", "false")
	t.Setenv("LEDGER_TERMINAL_MAX_AGE", "10m")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 2500.0, cfg.Dispatch.SearchRadiusMeters)
	assert.Equal(t, 12*time.Second, cfg.Dispatch.Timeout)
	assert.Equal(t, "rtree", cfg.GeoIndex.Backend)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.PublishingEnabled())
	assert.False(t, cfg.RoutesEnabled(), "feature flag wins over the key")
	assert.Equal(t, 10*time.Minute, cfg.Cache.TerminalRideMaxAge)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"zero radius", func(c *Config) { c.Dispatch.SearchRadiusMeters = 0 }, "DISPATCH_SEARCH_RADIUS_METERS"},
		{"zero candidates", func(c *Config) { c.Dispatch.MaxCandidates = 0 }, "DISPATCH_MAX_CANDIDATES"},
		{"zero timeout", func(c *Config) { c.Dispatch.Timeout = 0 }, "DISPATCH_TIMEOUT_SECONDS"},
		{"negative rate", func(c *Config) { c.Pricing.PerKMRate = -1 }, "pricing"},
		{"unknown backend", func(c *Config) { c.GeoIndex.Backend = "quadtree" }, "GEO_INDEX_BACKEND"},
		{"unknown log format", func(c *Config) { c.Log.Format = "xml" }, "LOG_FORMAT"},
		{"zero janitor interval", func(c *Config) { c.Cache.JanitorInterval = 0 }, "LEDGER_JANITOR_INTERVAL"},
		{"db host required when enabled", func(c *Config) { c.Database.Host = "" }, "DB_HOST"},
		{"db host optional when disabled", func(c *Config) { c.Database.Enabled = false; c.Database.Host = "" }, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)
			tt.mutate(cfg)

			err = cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("CFG_TEST_INT", "not-a-number")
	t.Setenv("CFG_TEST_BOOL", "true")
	t.Setenv("CFG_TEST_DURATION", "bogus")

	assert.Equal(t, 7, getEnvAsInt("CFG_TEST_INT", 7))
	assert.True(t, getEnvAsBool("CFG_TEST_BOOL", false))
	assert.Equal(t, time.Second, parseDuration(getEnv("CFG_TEST_DURATION", ""), time.Second))
	assert.Equal(t, []string{"a"}, getEnvAsSlice("CFG_TEST_UNSET", []string{"a"}))
}
