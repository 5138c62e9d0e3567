package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"bastion/notify"
)

// Config holds all configuration for the Bastion service.
type Config struct {
	Log struct {
		// Level is one of debug, info, warn, error
		Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
		// Format is json for production or console for development
		Format string `mapstructure:"format" validate:"oneof=json console"`
	} `mapstructure:"log"`

	Data struct {
		// SQLitePath is the database file path, ":memory:" for ephemeral runs
		SQLitePath string `mapstructure:"sqlite_path" validate:"required"`
	} `mapstructure:"data"`

	Detection struct {
		BruteForceWindow    time.Duration `mapstructure:"brute_force_window" validate:"gt=0"`
		BruteForceThreshold int           `mapstructure:"brute_force_threshold" validate:"gt=0"`
		// WindowHorizon bounds how long window entries are retained; it must
		// cover every consumer's window
		WindowHorizon time.Duration `mapstructure:"window_horizon" validate:"gt=0"`
		// SignatureFile points at a YAML signature table; empty uses the
		// built-in rule set
		SignatureFile string `mapstructure:"signature_file"`
	} `mapstructure:"detection"`

	Ingest struct {
		Host string `mapstructure:"host"`
		Port int    `mapstructure:"port" validate:"gte=0,lte=65535"`
		// RateLimit caps accepted events per second at the intake
		RateLimit  int `mapstructure:"rate_limit" validate:"gt=0"`
		BufferSize int `mapstructure:"buffer_size" validate:"gt=0"`
		Workers    int `mapstructure:"workers" validate:"gt=0"`
	} `mapstructure:"ingest"`

	Redis struct {
		// Enabled switches the window store from in-process memory to Redis
		// for multi-instance deployments
		Enabled  bool   `mapstructure:"enabled"`
		Addr     string `mapstructure:"addr" validate:"required_if=Enabled true"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db" validate:"gte=0"`
	} `mapstructure:"redis"`

	Notify struct {
		SendsPerSecond float64 `mapstructure:"sends_per_second" validate:"gt=0"`
		// AdminRecipients receive automatic notifications for high and
		// critical threats; empty disables auto-notification
		AdminRecipients []string `mapstructure:"admin_recipients"`
		// Channels lists the senders to wire at startup
		Channels []string `mapstructure:"channels" validate:"dive,oneof=email slack webhook in_app sms"`

		Email   notify.EmailConfig   `mapstructure:"email"`
		Webhook notify.WebhookConfig `mapstructure:"webhook"`
		Slack   notify.SlackConfig   `mapstructure:"slack"`
		SMS     notify.SMSConfig     `mapstructure:"sms"`
	} `mapstructure:"notify"`
}

// LoadConfig reads configuration from config.yaml (searched in the working
// directory and ./config), environment variables with the BASTION_ prefix,
// and built-in defaults, in descending precedence. The loaded config is
// validated before it is returned.
func LoadConfig() (*Config, error) {
	return loadConfig("")
}

// LoadConfigFile loads configuration from an explicit file path.
func LoadConfigFile(path string) (*Config, error) {
	return loadConfig(path)
}

func loadConfig(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	setDefaults(v)

	v.SetEnvPrefix("BASTION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if path != "" {
			return nil, fmt.Errorf("unable to read config file %s: %w", path, err)
		}
		// No config file found, defaults and env vars apply
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("data.sqlite_path", "./data/bastion.db")

	v.SetDefault("detection.brute_force_window", "5m")
	v.SetDefault("detection.brute_force_threshold", 5)
	v.SetDefault("detection.window_horizon", "10m")
	v.SetDefault("detection.signature_file", "")

	v.SetDefault("ingest.host", "0.0.0.0")
	v.SetDefault("ingest.port", 8080)
	v.SetDefault("ingest.rate_limit", 1000)
	v.SetDefault("ingest.buffer_size", 1024)
	v.SetDefault("ingest.workers", 4)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("notify.sends_per_second", 10.0)
	v.SetDefault("notify.channels", []string{"in_app"})
}

func validateConfig(config *Config) error {
	if err := validator.New().Struct(config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if config.Detection.WindowHorizon < config.Detection.BruteForceWindow {
		return fmt.Errorf("invalid configuration: window_horizon (%s) must cover brute_force_window (%s)",
			config.Detection.WindowHorizon, config.Detection.BruteForceWindow)
	}
	return nil
}
