package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "SMARTPLANT"

// Config is the root configuration structure for SmartPlant Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Database  DatabaseConfig  `yaml:"database" envconfig:"DATABASE"`
	MQTT      MQTTConfig      `yaml:"mqtt" envconfig:"MQTT"`
	API       APIConfig       `yaml:"api" envconfig:"API"`
	WebSocket WebSocketConfig `yaml:"websocket" envconfig:"WEBSOCKET"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb" envconfig:"INFLUXDB"`
	Logging   LoggingConfig   `yaml:"logging" envconfig:"LOGGING"`
	Schemas   SchemasConfig   `yaml:"schemas" envconfig:"SCHEMAS"`
	Weather   WeatherConfig   `yaml:"weather" envconfig:"WEATHER"`
	Telegram  TelegramConfig  `yaml:"telegram" envconfig:"TELEGRAM"`
	PlantCare PlantCareConfig `yaml:"plantcare" envconfig:"PLANTCARE"`
	Sessions  SessionsConfig  `yaml:"sessions" envconfig:"SESSIONS"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode" split_words:"true"`
	BusyTimeout int    `yaml:"busy_timeout" split_words:"true"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker" envconfig:"BROKER"`
	Auth      MQTTAuthConfig      `yaml:"auth" envconfig:"AUTH"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect" envconfig:"RECONNECT"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id" split_words:"true"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay" split_words:"true"`
	MaxDelay     int `yaml:"max_delay" split_words:"true"`
	MaxAttempts  int `yaml:"max_attempts" split_words:"true"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts" envconfig:"TIMEOUTS"`
	CORS     CORSConfig       `yaml:"cors" envconfig:"CORS"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" split_words:"true"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size" split_words:"true"`
	PingInterval   int `yaml:"ping_interval" split_words:"true"`
	PongTimeout    int `yaml:"pong_timeout" split_words:"true"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size" split_words:"true"`
	FlushInterval int    `yaml:"flush_interval" split_words:"true"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SchemasConfig points at an optional directory of entity descriptors.
// Files named <type>.yaml replace the built-in descriptor for that type.
type SchemasConfig struct {
	Dir string `yaml:"dir"`
}

// WeatherConfig contains weatherapi.com client settings.
type WeatherConfig struct {
	BaseURL string        `yaml:"base_url" split_words:"true"`
	APIKey  string        `yaml:"api_key" split_words:"true"`
	Timeout time.Duration `yaml:"timeout"`
}

// TelegramConfig contains Telegram Bot API settings used for owner notifications.
type TelegramConfig struct {
	Enabled  bool          `yaml:"enabled"`
	BaseURL  string        `yaml:"base_url" split_words:"true"`
	BotToken string        `yaml:"bot_token" split_words:"true"`
	Timeout  time.Duration `yaml:"timeout"`
}

// PlantCareConfig tunes the decision engine.
type PlantCareConfig struct {
	// LightWindow is the trailing window averaged by the light branch.
	LightWindow time.Duration `yaml:"light_window" split_words:"true"`

	// ForecastTimeout bounds a single forecast fetch. On expiry the
	// engine keeps using the cached sun/rain facts.
	ForecastTimeout time.Duration `yaml:"forecast_timeout" split_words:"true"`

	// ManualWaterDuration is used by manual watering requests that do not
	// specify a duration, in milliseconds.
	ManualWaterDuration int `yaml:"manual_water_duration" split_words:"true"`
}

// SessionsConfig controls chat session lifetime.
type SessionsConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: SMARTPLANT_SECTION_KEY
// For example: SMARTPLANT_DATABASE_PATH, SMARTPLANT_WEATHER_API_KEY
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration with environment overrides
// applied. Used when no config file exists.
func Default() (*Config, error) {
	cfg := defaultConfig()
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:        "./data/smartplant.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "SmartPlant_Backend",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Weather: WeatherConfig{
			BaseURL: "http://api.weatherapi.com",
			Timeout: 5 * time.Second,
		},
		Telegram: TelegramConfig{
			BaseURL: "https://api.telegram.org",
			Timeout: 10 * time.Second,
		},
		PlantCare: PlantCareConfig{
			LightWindow:         10 * time.Minute,
			ForecastTimeout:     5 * time.Second,
			ManualWaterDuration: 10000,
		},
		Sessions: SessionsConfig{
			TTL: 30 * 24 * time.Hour,
		},
	}
}

// applyEnvOverrides applies SMARTPLANT_* environment variables on top of
// the values already in cfg. Unset variables leave fields untouched.
//
// Only section fields carry envconfig names. Leaf fields must not: envconfig
// falls back to a bare alt name, so `envconfig:"PORT"` would read $PORT.
func applyEnvOverrides(cfg *Config) error {
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return fmt.Errorf("applying environment overrides: %w", err)
	}
	return nil
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Telegram.Enabled && c.Telegram.BotToken == "" {
		errs = append(errs, "telegram.bot_token is required when telegram is enabled (set SMARTPLANT_TELEGRAM_BOT_TOKEN)")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if c.PlantCare.LightWindow <= 0 {
		errs = append(errs, "plantcare.light_window must be positive")
	}
	if c.PlantCare.ForecastTimeout <= 0 {
		errs = append(errs, "plantcare.forecast_timeout must be positive")
	}
	if c.PlantCare.ManualWaterDuration <= 0 {
		errs = append(errs, "plantcare.manual_water_duration must be positive")
	}

	if c.Sessions.TTL <= 0 {
		errs = append(errs, "sessions.ttl must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
