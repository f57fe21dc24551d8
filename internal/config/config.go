// Package config loads application configuration from config files and
// the environment. All values have defaults; unknown keys are ignored.
package config

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	App       App       `mapstructure:"app"`
	Database  Database  `mapstructure:"database"`
	Server    Server    `mapstructure:"server"`
	LLM       LLM       `mapstructure:"llm"`
	Search    Search    `mapstructure:"search"`
	Crawler   Crawler   `mapstructure:"crawler"`
	Scheduler Scheduler `mapstructure:"scheduler"`
	Report    Report    `mapstructure:"report"`
}

// App holds general application configuration.
type App struct {
	LogLevel string `mapstructure:"log_level"`
	LogPath  string `mapstructure:"log_path"`
}

// Database holds the relational store configuration.
type Database struct {
	DSN             string `mapstructure:"dsn"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime string `mapstructure:"conn_max_lifetime"`
}

// Server holds HTTP server configuration.
type Server struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// LLM holds the language-model backend configuration. Any
// OpenAI-compatible endpoint works.
type LLM struct {
	BaseURL     string  `mapstructure:"base_url"`
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	Timeout     string  `mapstructure:"timeout"`
	MaxRetries  int     `mapstructure:"max_retries"`
	RetryDelay  string  `mapstructure:"retry_delay"`
	Temperature float32 `mapstructure:"temperature"`
}

// Search holds external search backend configuration.
type Search struct {
	Provider   string `mapstructure:"provider"`
	RateLimit  string `mapstructure:"rate_limit"`
	Timeout    string `mapstructure:"timeout"`
	MaxResults int    `mapstructure:"max_results"`
	Region     string `mapstructure:"region"`
	APIKey     string `mapstructure:"api_key"`
	SearchID   string `mapstructure:"search_id"`
}

// Crawler holds scraping and discovery configuration.
type Crawler struct {
	Concurrency    int    `mapstructure:"concurrency"`
	RequestTimeout string `mapstructure:"request_timeout"`
	MaxRetries     int    `mapstructure:"max_retries"`
	DefaultDelay   string `mapstructure:"default_delay"`
	MaxSitemapURLs int    `mapstructure:"max_sitemap_urls"`
	MaxDepth       int    `mapstructure:"max_depth"`
}

// Scheduler holds the periodic dispatcher configuration.
type Scheduler struct {
	CheckInterval string `mapstructure:"check_interval"`
}

// Report holds report-agent tuning knobs.
type Report struct {
	SimilarityThreshold float64 `mapstructure:"similarity_threshold"`
	ScoreThreshold      float64 `mapstructure:"score_threshold"`
	MaxArticles         int     `mapstructure:"max_articles"`
	MaxEvents           int     `mapstructure:"max_events"`
	MaxKeywords         int     `mapstructure:"max_keywords"`
}

var (
	cfg     *Config
	cfgOnce sync.Once
)

// Load reads configuration from the optional config file, .env and the
// environment. Environment variables use the NEWSRADAR_ prefix with
// underscores (NEWSRADAR_DATABASE_DSN), plus a few conventional aliases.
func Load(configFile string) (*Config, error) {
	// Load .env if present; environment wins over file values either way.
	_ = godotenv.Load()

	setDefaults()

	viper.SetEnvPrefix("NEWSRADAR")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	bindEnvironmentVariables()

	if configFile != "" {
		viper.SetConfigFile(configFile)
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	} else {
		viper.SetConfigName("newsradar")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.config/newsradar")
		if err := viper.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var c Config
	if err := viper.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := validate(&c); err != nil {
		return nil, err
	}

	cfg = &c
	return cfg, nil
}

// Get returns the loaded configuration, loading defaults on first use.
func Get() *Config {
	cfgOnce.Do(func() {
		if cfg == nil {
			loaded, err := Load("")
			if err != nil {
				// Fall back to pure defaults when no config is readable.
				setDefaults()
				var c Config
				_ = viper.Unmarshal(&c)
				cfg = &c
				return
			}
			cfg = loaded
		}
	})
	return cfg
}

func setDefaults() {
	viper.SetDefault("app.log_level", "info")
	viper.SetDefault("app.log_path", "")

	viper.SetDefault("database.dsn", "postgres://localhost:5432/newsradar?sslmode=disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "0") // SSE endpoints stream indefinitely

	viper.SetDefault("llm.base_url", "https://api.openai.com/v1")
	viper.SetDefault("llm.model", "gpt-4o-mini")
	viper.SetDefault("llm.timeout", "120s")
	viper.SetDefault("llm.max_retries", 3)
	viper.SetDefault("llm.retry_delay", "2s")
	viper.SetDefault("llm.temperature", 0.7)

	viper.SetDefault("search.provider", "duckduckgo")
	viper.SetDefault("search.rate_limit", "2s")
	viper.SetDefault("search.timeout", "30s")
	viper.SetDefault("search.max_results", 20)
	viper.SetDefault("search.region", "")

	viper.SetDefault("crawler.concurrency", 4)
	viper.SetDefault("crawler.request_timeout", "30s")
	viper.SetDefault("crawler.max_retries", 3)
	viper.SetDefault("crawler.default_delay", "1s")
	viper.SetDefault("crawler.max_sitemap_urls", 100000)
	viper.SetDefault("crawler.max_depth", 5)

	viper.SetDefault("scheduler.check_interval", "60s")

	viper.SetDefault("report.similarity_threshold", 0.85)
	viper.SetDefault("report.score_threshold", 20.0)
	viper.SetDefault("report.max_articles", 1000)
	viper.SetDefault("report.max_events", 15)
	viper.SetDefault("report.max_keywords", 10)
}

// bindEnvironmentVariables wires conventional variable names on top of
// the NEWSRADAR_ prefixed ones.
func bindEnvironmentVariables() {
	bindEnvKeys("database.dsn", []string{"DATABASE_URL", "DATABASE_DSN"})
	bindEnvKeys("llm.api_key", []string{"LLM_API_KEY", "OPENAI_API_KEY"})
	bindEnvKeys("llm.base_url", []string{"LLM_BASE_URL", "OPENAI_BASE_URL"})
	bindEnvKeys("llm.model", []string{"LLM_MODEL"})
	bindEnvKeys("app.log_level", []string{"LOG_LEVEL"})
}

func bindEnvKeys(viperKey string, envKeys []string) {
	for _, envKey := range envKeys {
		if value := os.Getenv(envKey); value != "" {
			viper.Set(viperKey, value)
			return
		}
	}
}

func validate(c *Config) error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Crawler.Concurrency < 1 {
		return fmt.Errorf("crawler concurrency must be at least 1")
	}
	if _, err := time.ParseDuration(c.Scheduler.CheckInterval); err != nil {
		return fmt.Errorf("invalid scheduler check_interval: %w", err)
	}
	return nil
}

// Duration parses a duration string from config, returning fallback on
// empty or malformed input.
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
