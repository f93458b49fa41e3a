package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

// DefaultFile is the config path looked up under the XDG config dirs.
const DefaultFile = "goban-arena/config.yaml"

type AppConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	WSAddr   string `yaml:"ws_addr"`

	RedisURL    string `yaml:"redis_url"`
	DatabaseURL string `yaml:"database_url"`

	GTPEnginePath  string   `yaml:"gtp_engine_path"`
	GTPEngineArgs  []string `yaml:"gtp_engine_args"`
	GTPPoolSize    int      `yaml:"gtp_pool_size"`
	KataGoURL      string   `yaml:"katago_url"`
	RandomEngine   bool     `yaml:"random_engine"`
	AITimeoutMS    int      `yaml:"ai_timeout_ms"`
	AIAttempts     int      `yaml:"ai_attempts"`
	MatchThreshold int      `yaml:"match_threshold"`
	MatchRetrySec  int      `yaml:"match_retry_sec"`

	NegotiationTimeoutSec int `yaml:"negotiation_timeout_sec"`
	DisconnectGraceSec    int `yaml:"disconnect_grace_sec"`
	ReclaimAfterSec       int `yaml:"reclaim_after_sec"`
	ArchiveSize           int `yaml:"archive_size"`

	RatingK       int    `yaml:"rating_k"`
	RatingInitial int    `yaml:"rating_initial"`
	Season        string `yaml:"season"`

	VariantDir      string `yaml:"variant_dir"`
	TicketsRequired bool   `yaml:"tickets_required"`

	AdminToken string   `yaml:"admin_token"`
	RateLimit  int      `yaml:"rate_limit"`
	WSOrigins  []string `yaml:"ws_origins"`
}

func defaults() *AppConfig {
	return &AppConfig{
		HTTPAddr:              ":8080",
		WSAddr:                ":8081",
		GTPPoolSize:           2,
		RandomEngine:          true,
		AITimeoutMS:           10000,
		AIAttempts:            3,
		MatchThreshold:        200,
		MatchRetrySec:         5,
		NegotiationTimeoutSec: 30,
		DisconnectGraceSec:    60,
		ReclaimAfterSec:       600,
		ArchiveSize:           1024,
		RatingK:               32,
		RatingInitial:         1500,
		Season:                "default",
	}
}

// Load reads the optional YAML file, then applies environment overrides.
// ARENA_CONFIG names the file explicitly; otherwise the XDG config dirs are
// searched and a missing file is not an error.
func Load() (*AppConfig, error) {
	cfg := defaults()

	path := strings.TrimSpace(os.Getenv("ARENA_CONFIG"))
	if path == "" {
		if found, err := xdg.SearchConfigFile(DefaultFile); err == nil {
			path = found
		}
	}
	if path != "" {
		if err := readFile(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readFile(path string, cfg *AppConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *AppConfig) {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	positive := func(key string, dst *int) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				*dst = n
			}
		}
	}
	boolean := func(key string, dst *bool) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}

	str("HTTP_ADDR", &cfg.HTTPAddr)
	str("WS_ADDR", &cfg.WSAddr)
	str("REDIS_URL", &cfg.RedisURL)
	str("DATABASE_URL", &cfg.DatabaseURL)

	str("GTP_ENGINE_PATH", &cfg.GTPEnginePath)
	if v := strings.TrimSpace(os.Getenv("GTP_ENGINE_ARGS")); v != "" {
		cfg.GTPEngineArgs = strings.Fields(v)
	}
	positive("GTP_POOL_SIZE", &cfg.GTPPoolSize)
	str("KATAGO_URL", &cfg.KataGoURL)
	boolean("RANDOM_ENGINE", &cfg.RandomEngine)
	positive("AI_TIMEOUT_MS", &cfg.AITimeoutMS)
	positive("AI_ATTEMPTS", &cfg.AIAttempts)

	positive("MATCH_THRESHOLD", &cfg.MatchThreshold)
	positive("MATCH_RETRY_SEC", &cfg.MatchRetrySec)
	positive("NEGOTIATION_TIMEOUT_SEC", &cfg.NegotiationTimeoutSec)
	positive("DISCONNECT_GRACE_SEC", &cfg.DisconnectGraceSec)
	positive("RECLAIM_AFTER_SEC", &cfg.ReclaimAfterSec)
	positive("ARCHIVE_SIZE", &cfg.ArchiveSize)

	positive("RATING_K", &cfg.RatingK)
	positive("RATING_INITIAL", &cfg.RatingInitial)
	str("SEASON", &cfg.Season)

	str("VARIANT_DIR", &cfg.VariantDir)
	boolean("TICKETS_REQUIRED", &cfg.TicketsRequired)

	str("ADMIN_TOKEN", &cfg.AdminToken)
	positive("RATE_LIMIT", &cfg.RateLimit)
	if v := strings.TrimSpace(os.Getenv("WS_ORIGINS")); v != "" {
		cfg.WSOrigins = cfg.WSOrigins[:0]
		for _, p := range strings.Split(v, ",") {
			if s := strings.TrimSpace(p); s != "" {
				cfg.WSOrigins = append(cfg.WSOrigins, s)
			}
		}
	}
}

func (c *AppConfig) validate() error {
	if c.RedisURL == "" {
		return errors.New("REDIS_URL is required")
	}
	if c.HTTPAddr == "" || c.WSAddr == "" {
		return errors.New("HTTP_ADDR and WS_ADDR must not be empty")
	}
	if c.HTTPAddr == c.WSAddr {
		return fmt.Errorf("HTTP_ADDR and WS_ADDR must differ (both %s)", c.HTTPAddr)
	}
	if c.Season == "" {
		return errors.New("SEASON must not be empty")
	}
	if !c.RandomEngine && c.GTPEnginePath == "" && c.KataGoURL == "" {
		return errors.New("no AI engine configured: set GTP_ENGINE_PATH, KATAGO_URL or RANDOM_ENGINE")
	}
	return nil
}

func (c *AppConfig) AITimeout() time.Duration {
	return time.Duration(c.AITimeoutMS) * time.Millisecond
}

func (c *AppConfig) MatchRetry() time.Duration {
	return time.Duration(c.MatchRetrySec) * time.Second
}

func (c *AppConfig) NegotiationTimeout() time.Duration {
	return time.Duration(c.NegotiationTimeoutSec) * time.Second
}

func (c *AppConfig) DisconnectGrace() time.Duration {
	return time.Duration(c.DisconnectGraceSec) * time.Second
}

func (c *AppConfig) ReclaimAfter() time.Duration {
	return time.Duration(c.ReclaimAfterSec) * time.Second
}
