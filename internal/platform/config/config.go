package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Guard    GuardConfig    `mapstructure:"guard"`
	Events   EventsConfig   `mapstructure:"events"`
	Publish  PublishConfig  `mapstructure:"publish"`
	Actor    ActorConfig    `mapstructure:"actor"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

type DatabaseConfig struct {
	Path           string `mapstructure:"path"`
	MaxConnections int    `mapstructure:"max_connections"`
}

// GuardConfig holds defaults for provisioned webhook channels. The replay
// tolerance window is a protocol constant and deliberately absent here.
type GuardConfig struct {
	DefaultRateLimitMax    int           `mapstructure:"default_rate_limit_max"`
	DefaultRateLimitWindow time.Duration `mapstructure:"default_rate_limit_window"`
	SweepInterval          time.Duration `mapstructure:"sweep_interval"`
}

type EventsConfig struct {
	BufferSize    int           `mapstructure:"buffer_size"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	RetentionDays int           `mapstructure:"retention_days"`
}

type PublishConfig struct {
	MaxAttempts    int                 `mapstructure:"max_attempts"`
	AdapterTimeout time.Duration       `mapstructure:"adapter_timeout"`
	InterItemDelay time.Duration       `mapstructure:"inter_item_delay"`
	RetryBackoff   time.Duration       `mapstructure:"retry_backoff"`
	PublishingTTL  time.Duration       `mapstructure:"publishing_ttl"`
	EngineURL      string              `mapstructure:"engine_url"` // delegated mode when set
	EngineSecret   string              `mapstructure:"engine_secret"`
	EngineSalt     string              `mapstructure:"engine_salt"` // hex, shared at provisioning
	Platforms      map[string]Platform `mapstructure:"platforms"`
}

// Platform is one outbound social platform API target. Platforms without a
// base URL stay unregistered and publishing to them fails as unsupported.
type Platform struct {
	BaseURL string `mapstructure:"base_url"`
	Token   string `mapstructure:"token"`
}

// ActorConfig configures optional bearer-token parsing used purely for audit
// attribution. Requests without a token are never rejected.
type ActorConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Format   string `mapstructure:"format"`
	Output   string `mapstructure:"output"`
	FilePath string `mapstructure:"file_path"`
}

func Load(path string) (*Config, error) {
	viper.SetConfigFile(path)
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("database.path", "data/pulse.db")
	viper.SetDefault("database.max_connections", 10)
	viper.SetDefault("guard.default_rate_limit_max", 60)
	viper.SetDefault("guard.default_rate_limit_window", time.Minute)
	viper.SetDefault("guard.sweep_interval", 5*time.Minute)
	viper.SetDefault("events.buffer_size", 1000)
	viper.SetDefault("events.batch_size", 100)
	viper.SetDefault("events.flush_interval", 5*time.Second)
	viper.SetDefault("events.retention_days", 90)
	viper.SetDefault("publish.max_attempts", 3)
	viper.SetDefault("publish.adapter_timeout", 30*time.Second)
	viper.SetDefault("publish.inter_item_delay", time.Second)
	viper.SetDefault("publish.retry_backoff", 5*time.Minute)
	viper.SetDefault("publish.publishing_ttl", 10*time.Minute)
	viper.SetDefault("logging.level", "info")
}
