package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate keeps the host environment out of the decoded config
func isolate(t *testing.T) {
	t.Helper()
	for _, key := range keys {
		t.Setenv(key, "")
	}
}

func TestFromViperDefaults(t *testing.T) {
	isolate(t)
	v := newViper()
	v.Set("DB_DSN", "postgres://localhost/tutor")
	v.Set("JWT_SECRET", "secret")

	cfg, err := FromViper(v)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, StorePostgres, cfg.StoreBackend)
	assert.Equal(t, NotifyMemory, cfg.NotifyBackend)
	assert.Equal(t, 2*time.Minute, cfg.RequestTTL)
	assert.Equal(t, 15*time.Second, cfg.SweepInterval)
	assert.False(t, cfg.TelegramEnabled())
	assert.False(t, cfg.IsProduction())
}

func TestFromViperOverrides(t *testing.T) {
	isolate(t)
	v := newViper()
	v.Set("STORE_BACKEND", "MEMORY")
	v.Set("NOTIFY_BACKEND", "redis")
	v.Set("REDIS_ADDR", "localhost:6379")
	v.Set("JWT_SECRET", "secret")
	v.Set("REQUEST_TTL", "90s")
	v.Set("TELEGRAM_TOKEN", "123:abc")
	v.Set("ENV", "production")

	cfg, err := FromViper(v)
	require.NoError(t, err)

	assert.Equal(t, StoreMemory, cfg.StoreBackend)
	assert.Equal(t, NotifyRedis, cfg.NotifyBackend)
	assert.Equal(t, 90*time.Second, cfg.RequestTTL)
	assert.True(t, cfg.TelegramEnabled())
	assert.True(t, cfg.IsProduction())
}

func TestFromViperValidation(t *testing.T) {
	tests := []struct {
		name string
		set  map[string]interface{}
		want string
	}{
		{
			name: "postgres without dsn",
			set:  map[string]interface{}{"JWT_SECRET": "s"},
			want: "DB_DSN",
		},
		{
			name: "unknown store",
			set:  map[string]interface{}{"STORE_BACKEND": "mysql", "JWT_SECRET": "s"},
			want: "STORE_BACKEND",
		},
		{
			name: "pg notify needs pg store",
			set:  map[string]interface{}{"STORE_BACKEND": "memory", "NOTIFY_BACKEND": "postgres", "JWT_SECRET": "s"},
			want: "NOTIFY_BACKEND",
		},
		{
			name: "redis without addr",
			set:  map[string]interface{}{"STORE_BACKEND": "memory", "NOTIFY_BACKEND": "redis", "JWT_SECRET": "s"},
			want: "REDIS_ADDR",
		},
		{
			name: "missing secret",
			set:  map[string]interface{}{"STORE_BACKEND": "memory"},
			want: "JWT_SECRET",
		},
		{
			name: "non-positive ttl",
			set:  map[string]interface{}{"STORE_BACKEND": "memory", "JWT_SECRET": "s", "REQUEST_TTL": "0s"},
			want: "REQUEST_TTL",
		},
		{
			name: "unknown log level",
			set:  map[string]interface{}{"STORE_BACKEND": "memory", "JWT_SECRET": "s", "LOG_LEVEL": "verbose"},
			want: "LOG_LEVEL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			v := newViper()
			for k, val := range tt.set {
				v.Set(k, val)
			}

			_, err := FromViper(v)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
