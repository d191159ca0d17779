package monitoring

import (
	"database/sql"
	"testing"
	"time"

	"github.com/gocomet/ride-dispatch/pkg/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DisabledWithoutLicense(t *testing.T) {
	app, err := New(Config{Enabled: true, AppName: "ride-dispatch"})
	require.NoError(t, err)
	assert.False(t, app.IsEnabled())
	assert.Nil(t, app.StartTransaction("dispatch"))
}

func TestDisabledApp_AcceptsAllCalls(t *testing.T) {
	apps := []*NewRelicApp{nil, {}}
	for _, app := range apps {
		assert.NotPanics(t, func() {
			app.RecordRideRequested("ride-1", 3, 155)
			app.RecordMatchingLatency(1500 * time.Millisecond)
			app.RecordRideCompleted("ride-1", 155, 5000, 900)
			app.RecordRideCancelled("ride-1", "NO_DRIVERS_FOUND", "system")
			app.RecordLocationUpdate()
			app.RecordDatabasePoolStats(sql.DBStats{OpenConnections: 2})
			app.RecordRedisPoolStats(cache.PoolStats{Hits: 1})
			app.Shutdown(time.Second)
		})
	}
}
