package config

import (
	"os"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetViper() {
	viper.Reset()
}

func TestLoadDefaults(t *testing.T) {
	resetViper()
	defer resetViper()

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "chargepoint-simulator", cfg.App.Name)
	assert.Equal(t, 30*time.Second, cfg.Transport.ConnectTimeout)
	assert.Equal(t, "/tmp/chargepoint-simulator/sockets", cfg.Supervisor.SocketDir)
	assert.Equal(t, ":9464", cfg.Monitoring.MetricsAddr)
	assert.False(t, cfg.Redis.Enabled())
	assert.False(t, cfg.Kafka.Enabled())
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	resetViper()
	defer resetViper()

	os.Setenv("CSMS_BASE_URL", "ws://csms.example.com")
	os.Setenv("REDIS_ADDR", "redis:6379")
	os.Setenv("KAFKA_BROKERS", "broker1:9092, broker2:9092")
	os.Setenv("APP_PROFILE", "")
	defer func() {
		os.Unsetenv("CSMS_BASE_URL")
		os.Unsetenv("REDIS_ADDR")
		os.Unsetenv("KAFKA_BROKERS")
	}()

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "ws://csms.example.com", cfg.Transport.BaseURL)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.True(t, cfg.Redis.Enabled())
	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.Kafka.Brokers)
	assert.True(t, cfg.Kafka.Enabled())
}

func TestLoadRejectsInvalidFleetEntry(t *testing.T) {
	resetViper()
	defer resetViper()

	viper.Set("fleet", []map[string]interface{}{
		{"vendor": "Acme", "model": "X1", "connector_count": 1},
	})

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadAcceptsValidFleetEntry(t *testing.T) {
	resetViper()
	defer resetViper()

	viper.Set("fleet", []map[string]interface{}{
		{"id": "CP1", "vendor": "Acme", "model": "X1", "connector_count": 2},
	})

	cfg, err := Load()
	require.NoError(t, err)
	require.Len(t, cfg.Fleet, 1)
	assert.Equal(t, "CP1", cfg.Fleet[0].ID)
	assert.Equal(t, 2, cfg.Fleet[0].ConnectorCount)
}

func TestRedisConfigEnabled(t *testing.T) {
	assert.False(t, RedisConfig{}.Enabled())
	assert.True(t, RedisConfig{Addr: "localhost:6379"}.Enabled())
}

func TestKafkaConfigEnabled(t *testing.T) {
	assert.False(t, KafkaConfig{}.Enabled())
	assert.True(t, KafkaConfig{Brokers: []string{"localhost:9092"}}.Enabled())
}
