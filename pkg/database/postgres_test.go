package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_WithDefaults(t *testing.T) {
	tests := []struct {
		name string
		in   Config
		want Config
	}{
		{
			name: "zero values",
			in:   Config{},
			want: Config{
				SSLMode:         "disable",
				MaxConns:        defaultMaxConns,
				MaxIdle:         defaultMaxIdle,
				ConnMaxLifetime: defaultConnMaxLifetime,
				ConnMaxIdleTime: defaultConnMaxIdleTime,
				ConnectTimeout:  defaultConnectTimeout,
			},
		},
		{
			name: "idle capped at max",
			in:   Config{MaxConns: 3, MaxIdle: 10, SSLMode: "require"},
			want: Config{
				SSLMode:         "require",
				MaxConns:        3,
				MaxIdle:         3,
				ConnMaxLifetime: defaultConnMaxLifetime,
				ConnMaxIdleTime: defaultConnMaxIdleTime,
				ConnectTimeout:  defaultConnectTimeout,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.withDefaults())
		})
	}
}

func TestConfig_DSN(t *testing.T) {
	cfg := Config{Host: "db", Port: 5432, User: "app", Password: "secret", DBName: "rides", ConnectTimeout: 3 * time.Second}
	assert.Equal(t, "host=db port=5432 user=app dbname=rides sslmode=disable connect_timeout=3 password=secret", cfg.DSN())
}

func TestNewPostgresDB_Unreachable(t *testing.T) {
	_, err := NewPostgresDB(context.Background(), Config{
		Host:           "127.0.0.1",
		Port:           1,
		User:           "app",
		DBName:         "rides",
		ConnectTimeout: time.Second,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to ping database")
}
