package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// ErrValidation is wrapped by every configuration validation failure.
var ErrValidation = errors.New("invalid configuration")

// Delivery policies.
const (
	PolicyFire     = "fire"
	PolicySchedule = "schedule"
)

// Conversation filter modes.
const (
	FilterTagged = "tagged"
	FilterLegacy = "legacy"
)

// Storage drivers.
const (
	DriverSQLite = "sqlite"
	DriverBadger = "badger"
	DriverMemory = "memory"
)

// Config holds the application configuration
type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	Presence  PresenceConfig  `mapstructure:"presence"`
	Delivery  DeliveryConfig  `mapstructure:"delivery"`
	History   HistoryConfig   `mapstructure:"history"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Assistant AssistantConfig `mapstructure:"assistant"`
}

// LogConfig holds the logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json text"`
}

// PresenceConfig controls the periodic presence refresh.
type PresenceConfig struct {
	RefreshInterval   time.Duration `mapstructure:"refresh_interval" validate:"gt=0"`
	OnlineProbability float64       `mapstructure:"online_probability" validate:"gte=0,lte=1"`
}

// DeliveryConfig controls the simulated reply delay and when recipient
// presence is checked.
type DeliveryConfig struct {
	MinDelay time.Duration `mapstructure:"min_delay" validate:"gte=0"`
	MaxDelay time.Duration `mapstructure:"max_delay" validate:"gtfield=MinDelay"`
	Policy   string        `mapstructure:"policy" validate:"oneof=fire schedule"`
}

// HistoryConfig controls the message log.
type HistoryConfig struct {
	MaxMessages int    `mapstructure:"max_messages" validate:"gte=0"`
	Filter      string `mapstructure:"filter" validate:"oneof=tagged legacy"`
}

// StorageConfig selects the local key-value store.
type StorageConfig struct {
	Driver string `mapstructure:"driver" validate:"oneof=sqlite badger memory"`
	Path   string `mapstructure:"path" validate:"required_unless=Driver memory"`
}

// AssistantConfig holds the AI assistant configuration
type AssistantConfig struct {
	BaseURL      string  `mapstructure:"base_url" validate:"url"`
	APIKey       string  `mapstructure:"api_key"`
	Model        string  `mapstructure:"model" validate:"required"`
	MaxTokens    int     `mapstructure:"max_tokens" validate:"gt=0"`
	Temperature  float32 `mapstructure:"temperature" validate:"gte=0,lte=2"`
	SystemPrompt string  `mapstructure:"system_prompt"`
}

const defaultSystemPrompt = "You are a helpful AI assistant in a local network messaging app. Be concise, friendly, and helpful. You can help with questions, provide information, and assist with various tasks."

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		Log: LogConfig{Level: "info", Format: "json"},
		Presence: PresenceConfig{
			RefreshInterval:   10 * time.Second,
			OnlineProbability: 0.7,
		},
		Delivery: DeliveryConfig{
			MinDelay: time.Second,
			MaxDelay: 3 * time.Second,
			Policy:   PolicyFire,
		},
		History: HistoryConfig{Filter: FilterTagged},
		Storage: StorageConfig{Driver: DriverSQLite, Path: "localnet.db"},
		Assistant: AssistantConfig{
			BaseURL:      "https://api.openai.com/v1",
			Model:        "gpt-3.5-turbo",
			MaxTokens:    500,
			Temperature:  0.7,
			SystemPrompt: defaultSystemPrompt,
		},
	}
}

// Load loads the configuration from defaults, an optional config.yaml
// (or the file named by CONFIG_PATH) and LOCALNET_* environment variables.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("LOCALNET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the configuration against its struct tags.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	v.SetDefault("presence.refresh_interval", d.Presence.RefreshInterval)
	v.SetDefault("presence.online_probability", d.Presence.OnlineProbability)

	v.SetDefault("delivery.min_delay", d.Delivery.MinDelay)
	v.SetDefault("delivery.max_delay", d.Delivery.MaxDelay)
	v.SetDefault("delivery.policy", d.Delivery.Policy)

	v.SetDefault("history.max_messages", d.History.MaxMessages)
	v.SetDefault("history.filter", d.History.Filter)

	v.SetDefault("storage.driver", d.Storage.Driver)
	v.SetDefault("storage.path", d.Storage.Path)

	v.SetDefault("assistant.base_url", d.Assistant.BaseURL)
	v.SetDefault("assistant.api_key", d.Assistant.APIKey)
	v.SetDefault("assistant.model", d.Assistant.Model)
	v.SetDefault("assistant.max_tokens", d.Assistant.MaxTokens)
	v.SetDefault("assistant.temperature", d.Assistant.Temperature)
	v.SetDefault("assistant.system_prompt", d.Assistant.SystemPrompt)
}
