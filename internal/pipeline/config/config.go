package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the processing pipeline
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Intent    IntentConfig    `mapstructure:"intent"`
	Batching  BatchingConfig  `mapstructure:"batching"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// LLMConfig contains LLM provider configurations
type LLMConfig struct {
	Providers map[string]LLMProvider `mapstructure:"providers"`
	Routing   LLMRoutingConfig       `mapstructure:"routing"`
}

// LLMProvider represents a single LLM provider configuration
type LLMProvider struct {
	Type       string              `mapstructure:"type"` // openai, anthropic, local, etc.
	APIKey     string              `mapstructure:"api_key"`
	BaseURL    string              `mapstructure:"base_url"`
	Models     map[string]LLMModel `mapstructure:"models"`
	MaxRetries int                 `mapstructure:"max_retries"`
	Timeout    time.Duration       `mapstructure:"timeout"`
}

// LLMModel represents a specific model configuration
type LLMModel struct {
	Name            string  `mapstructure:"name"`
	APIName         string  `mapstructure:"api_name"`
	MaxTokens       int     `mapstructure:"max_tokens"`
	Temperature     float64 `mapstructure:"temperature"`
	CostPer1K       float64 `mapstructure:"cost_per_1k_input"`
	CostPer1KOutput float64 `mapstructure:"cost_per_1k_output"`
}

// LLMRoutingConfig defines which model to use for different pipeline stages
type LLMRoutingConfig struct {
	Classification string `mapstructure:"classification"` // intent detection
	Batching       string `mapstructure:"batching"`       // tabular batch calls
	Analysis       string `mapstructure:"analysis"`       // single-shot strategies
	Fallback       string `mapstructure:"fallback"`
}

// IntentConfig controls intent classification behaviour
type IntentConfig struct {
	FallbackIntent     string `mapstructure:"fallback_intent"`
	EnableHeavyIntents bool   `mapstructure:"enable_heavy_intents"`
	UseRemote          bool   `mapstructure:"use_remote"`
}

// BatchingConfig controls how tabular documents are split and dispatched
type BatchingConfig struct {
	BatchSize            int           `mapstructure:"batch_size"`
	MaxRowsPerDocument   int           `mapstructure:"max_rows_per_document"`
	MaxConcurrentBatches int           `mapstructure:"max_concurrent_batches"`
	ContinueOnFailure    bool          `mapstructure:"continue_on_failure"`
	BatchDelay           time.Duration `mapstructure:"batch_delay"`
	BatchTimeout         time.Duration `mapstructure:"batch_timeout"`
}

// CacheConfig controls the batch result cache
type CacheConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	AbsoluteExpiration time.Duration `mapstructure:"absolute_expiration"`
	SlidingExpiration  time.Duration `mapstructure:"sliding_expiration"`
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	CostTracking bool `mapstructure:"cost_tracking"`
}

// ServerConfig contains HTTP API settings
type ServerConfig struct {
	Listen    string `mapstructure:"listen"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

// StorageConfig contains storage settings
type StorageConfig struct {
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(path string) (*Config, error) {
	viper.SetConfigName("tabflow")
	viper.SetConfigType("yaml")
	if path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("TABFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	// Config file is optional; defaults plus env cover a bare setup
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	overrideFromEnv()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	viper.SetDefault("general.debug", false)
	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("general.default_timeout", "30s")

	viper.SetDefault("llm.routing.classification", "gpt-4o-mini")
	viper.SetDefault("llm.routing.batching", "gpt-4o")
	viper.SetDefault("llm.routing.analysis", "gpt-4o")
	viper.SetDefault("llm.routing.fallback", "gpt-4o-mini")

	viper.SetDefault("intent.fallback_intent", "chat")
	viper.SetDefault("intent.enable_heavy_intents", true)
	viper.SetDefault("intent.use_remote", true)

	viper.SetDefault("batching.batch_size", 25)
	viper.SetDefault("batching.max_rows_per_document", 500)
	viper.SetDefault("batching.max_concurrent_batches", 3)
	viper.SetDefault("batching.continue_on_failure", false)
	viper.SetDefault("batching.batch_delay", "0ms")
	viper.SetDefault("batching.batch_timeout", "90s")

	viper.SetDefault("cache.enabled", true)
	viper.SetDefault("cache.absolute_expiration", "30m")
	viper.SetDefault("cache.sliding_expiration", "10m")

	viper.SetDefault("telemetry.enabled", true)
	viper.SetDefault("telemetry.cost_tracking", true)

	viper.SetDefault("server.listen", ":10011")

	viper.SetDefault("storage.redis.host", "localhost")
	viper.SetDefault("storage.redis.port", 6379)
	viper.SetDefault("storage.redis.db", 0)
	viper.SetDefault("storage.redis.timeout", "5s")
}

// overrideFromEnv overrides configuration with environment variables
func overrideFromEnv() {
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		viper.Set("llm.providers.openai.api_key", apiKey)
		viper.Set("llm.providers.openai.type", "openai")
	}
	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		viper.Set("llm.providers.anthropic.api_key", apiKey)
	}

	if host := os.Getenv("REDIS_HOST"); host != "" {
		viper.Set("storage.redis.host", host)
	}
	if port := os.Getenv("REDIS_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			viper.Set("storage.redis.port", p)
		}
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		viper.Set("storage.redis.password", password)
	}
	if secret := os.Getenv("TABFLOW_JWT_SECRET"); secret != "" {
		viper.Set("server.jwt_secret", secret)
	}
}

// validateConfig validates the configuration
func validateConfig(config *Config) error {
	if config.Batching.MaxConcurrentBatches < 1 {
		config.Batching.MaxConcurrentBatches = 1
	}
	if config.Batching.BatchSize <= 0 {
		config.Batching.BatchSize = 25
	}

	// Routing models must exist in a configured provider when providers are set.
	// A providerless config is allowed: the keyword classifier still works and
	// remote calls fail over to it.
	anyModels := false
	for _, provider := range config.LLM.Providers {
		if len(provider.Models) > 0 {
			anyModels = true
			break
		}
	}
	if !anyModels {
		return nil
	}
	routingModels := []string{
		config.LLM.Routing.Classification,
		config.LLM.Routing.Batching,
		config.LLM.Routing.Analysis,
		config.LLM.Routing.Fallback,
	}
	for _, model := range routingModels {
		if model == "" {
			continue
		}
		found := false
		for _, provider := range config.LLM.Providers {
			for _, providerModel := range provider.Models {
				if providerModel.Name == model {
					found = true
					break
				}
			}
			if found {
				break
			}
		}
		if !found {
			return fmt.Errorf("routing model '%s' not found in any provider", model)
		}
	}

	return nil
}
