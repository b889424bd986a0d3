// Package config loads crawler settings from environment variables (TRAWL_
// prefix), trawl.yaml, and built-in defaults, in that precedence.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config carries every tunable of the crawler and coordinator.
type Config struct {
	// Storage.
	Driver      string `mapstructure:"driver"`       // "postgres" or "sqlite"
	DatabaseURL string `mapstructure:"database_url"` // DSN or sqlite path

	// Crawl engine.
	SeedFile     string        `mapstructure:"seed_file"`
	UserAgent    string        `mapstructure:"user_agent"`
	Threads      int           `mapstructure:"threads"`
	MaxDepth     int           `mapstructure:"max_depth"`
	DomainDelay  time.Duration `mapstructure:"domain_delay"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
	MaxBodyBytes int64         `mapstructure:"max_body_bytes"`

	// Optional process-wide fetch rate cap (0 = unlimited).
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Jitter            float64 `mapstructure:"jitter"`

	// Policy.
	RespectRobots bool     `mapstructure:"respect_robots"`
	IgnoreTOS     bool     `mapstructure:"ignore_tos"`
	TOSKeywords   []string `mapstructure:"tos_keywords"`

	// Tagging. The embedded and coordinator minimums deliberately differ;
	// they are separate knobs and are never converged.
	MinTags            int `mapstructure:"min_tags"`
	MaxTags            int `mapstructure:"max_tags"`
	CoordinatorMinTags int `mapstructure:"coordinator_min_tags"`

	// Writer.
	WriteQueueSize int           `mapstructure:"write_queue_size"`
	DrainTimeout   time.Duration `mapstructure:"drain_timeout"`

	// Coordinator.
	Listen           string        `mapstructure:"listen"`
	JWTSecret        string        `mapstructure:"jwt_secret"`
	SubmitSecret     string        `mapstructure:"submit_secret"` // optional; empty leaves /submit open
	BatchLimit       int           `mapstructure:"batch_limit"`
	MaxURLsPerSubmit int           `mapstructure:"max_urls_per_submit"`
	DedupeEnabled    bool          `mapstructure:"dedupe_enabled"`
	DedupeInterval   time.Duration `mapstructure:"dedupe_interval"`

	// Metrics.
	MetricsPort int `mapstructure:"metrics_port"` // 0 disables the /metrics server
}

// DefaultTOSKeywords flags terms-of-service pages that forbid automated
// access. Substring match, lowercased.
var DefaultTOSKeywords = []string{
	"automated", "robot", "scrap", "crawl", "not allowed", "disallow", "unauthorized",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("driver", "postgres")
	v.SetDefault("database_url", "")
	v.SetDefault("seed_file", "seeds.txt")
	v.SetDefault("user_agent", "trawl/1.0 (+https://github.com/FranksOps/trawl)")
	v.SetDefault("threads", 2)
	v.SetDefault("max_depth", 5)
	v.SetDefault("domain_delay", time.Second)
	v.SetDefault("fetch_timeout", 10*time.Second)
	v.SetDefault("max_body_bytes", int64(2<<20))
	v.SetDefault("requests_per_second", 0.0)
	v.SetDefault("jitter", 0.0)
	v.SetDefault("respect_robots", true)
	v.SetDefault("ignore_tos", false)
	v.SetDefault("tos_keywords", DefaultTOSKeywords)
	v.SetDefault("min_tags", 40)
	v.SetDefault("max_tags", 100)
	v.SetDefault("coordinator_min_tags", 20)
	v.SetDefault("write_queue_size", 1024)
	v.SetDefault("drain_timeout", 30*time.Second)
	v.SetDefault("listen", "127.0.0.1:5001")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("submit_secret", "")
	v.SetDefault("batch_limit", 100)
	v.SetDefault("max_urls_per_submit", 50)
	v.SetDefault("dedupe_enabled", true)
	v.SetDefault("dedupe_interval", 10*time.Minute)
	v.SetDefault("metrics_port", 0)
}

// Load reads trawl.yaml from path (or the working directory when path is
// empty) and applies environment overrides. A missing config file is not an
// error; defaults and the environment carry the run.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("TRAWL")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else {
		v.SetConfigName("trawl")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}
