// Package config loads the simulator's layered configuration: built-in
// defaults, an application.yaml / application-<profile>.yaml pair, and
// finally environment variables, in that priority order.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ocpp-sim/chargepoint-simulator/internal/validation"
	"github.com/spf13/viper"
)

// Config is the root configuration object.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Fleet      []ChargePointCfg `mapstructure:"fleet"`
	Transport  TransportConfig  `mapstructure:"transport"`
	Supervisor SupervisorConfig `mapstructure:"supervisor"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Log        LogConfig        `mapstructure:"log"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
}

// AppConfig carries basic process identity.
type AppConfig struct {
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
	Profile string `mapstructure:"profile"`
}

// ChargePointCfg describes one simulated charge point's identity and
// credentials, as loaded from the fleet section of the config file.
type ChargePointCfg struct {
	ID              string `mapstructure:"id" validate:"required"`
	Vendor          string `mapstructure:"vendor" validate:"required"`
	Model           string `mapstructure:"model" validate:"required"`
	FirmwareVersion string `mapstructure:"firmware_version"`
	ConnectorCount  int    `mapstructure:"connector_count" validate:"required,min=1"`
	Username        string `mapstructure:"username"`
	Password        string `mapstructure:"password"`
}

// TransportConfig controls the outbound websocket dial.
type TransportConfig struct {
	BaseURL          string        `mapstructure:"base_url"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	PingInterval     time.Duration `mapstructure:"ping_interval"`
	MinCallSpacing   time.Duration `mapstructure:"min_call_spacing"`
	PendingCallLimit int           `mapstructure:"pending_call_limit"`
}

// SupervisorConfig controls the control-plane daemon.
type SupervisorConfig struct {
	SocketDir       string        `mapstructure:"socket_dir"`
	EventLogDir     string        `mapstructure:"event_log_dir"`
	PIDDir          string        `mapstructure:"pid_dir"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	SubscriberQueue int           `mapstructure:"subscriber_queue"`
}

// RedisConfig, when Addr is non-empty, backs the optional Redis config
// store. Left unset, the simulator falls back to an in-memory store.
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Enabled reports whether a Redis config store was configured.
func (r RedisConfig) Enabled() bool { return r.Addr != "" }

// KafkaConfig, when Brokers is non-empty, enables the optional event
// sink that mirrors the supervisor's local event log onto a topic.
type KafkaConfig struct {
	Brokers        []string      `mapstructure:"brokers"`
	Topic          string        `mapstructure:"topic"`
	FlushFrequency time.Duration `mapstructure:"flush_frequency"`
}

// Enabled reports whether a Kafka event sink was configured.
func (k KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 }

// LogConfig mirrors logging.Config so it can be unmarshaled by viper
// without importing the logging package here.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	TimeFormat string `mapstructure:"time_format"`
	Caller     bool   `mapstructure:"caller"`
	Async      bool   `mapstructure:"async"`
}

// MonitoringConfig exposes the prometheus metrics bind address.
type MonitoringConfig struct {
	MetricsAddr string `mapstructure:"metrics_addr"`
}

func setDefaults() {
	viper.SetDefault("app.name", "chargepoint-simulator")
	viper.SetDefault("app.version", "dev")

	viper.SetDefault("transport.connect_timeout", 30*time.Second)
	viper.SetDefault("transport.write_timeout", 10*time.Second)
	viper.SetDefault("transport.ping_interval", 30*time.Second)
	viper.SetDefault("transport.min_call_spacing", 50*time.Millisecond)
	viper.SetDefault("transport.pending_call_limit", 100)

	viper.SetDefault("supervisor.socket_dir", "/tmp/chargepoint-simulator/sockets")
	viper.SetDefault("supervisor.event_log_dir", "/tmp/chargepoint-simulator/events")
	viper.SetDefault("supervisor.pid_dir", "/tmp/chargepoint-simulator/run")
	viper.SetDefault("supervisor.request_timeout", 10*time.Second)
	viper.SetDefault("supervisor.subscriber_queue", 256)

	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.dial_timeout", 5*time.Second)
	viper.SetDefault("redis.read_timeout", 3*time.Second)
	viper.SetDefault("redis.write_timeout", 3*time.Second)

	viper.SetDefault("kafka.topic", "chargepoint-simulator.events")
	viper.SetDefault("kafka.flush_frequency", 500*time.Millisecond)

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "console")
	viper.SetDefault("log.output", "stdout")
	viper.SetDefault("log.time_format", time.RFC3339)

	viper.SetDefault("monitoring.metrics_addr", ":9464")
}

// Load builds a Config from defaults, application.yaml /
// application-<profile>.yaml, and environment variables, in that
// increasing priority order.
func Load() (*Config, error) {
	setDefaults()

	profile := getProfile()

	if err := loadConfigFile("application"); err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not load default config file: %v\n", err)
	}
	if profile != "" {
		name := fmt.Sprintf("application-%s", profile)
		if err := loadConfigFile(name); err != nil {
			fmt.Fprintf(os.Stderr, "warning: could not load profile config file %s: %v\n", name, err)
		}
	}

	setupEnvironmentVariables()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.App.Profile = profile

	validate := validation.New()
	for i, cp := range cfg.Fleet {
		if err := validate.Struct("config.Load", cp); err != nil {
			return nil, fmt.Errorf("fleet[%d]: %w", i, err)
		}
	}

	return &cfg, nil
}

func getProfile() string {
	if p := os.Getenv("APP_PROFILE"); p != "" {
		return p
	}
	if p := viper.GetString("app.profile"); p != "" {
		return p
	}
	return "local"
}

func loadConfigFile(name string) error {
	viper.SetConfigName(name)
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")
	return viper.MergeInConfig()
}

func setupEnvironmentVariables() {
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	viper.BindEnv("transport.base_url", "CSMS_BASE_URL")
	viper.BindEnv("redis.addr", "REDIS_ADDR")
	viper.BindEnv("log.level", "LOG_LEVEL")
	viper.BindEnv("monitoring.metrics_addr", "METRICS_ADDR")
	viper.BindEnv("app.profile", "APP_PROFILE")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		parts := strings.Split(brokers, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		viper.Set("kafka.brokers", parts)
	}
}
