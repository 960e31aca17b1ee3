// Package config loads service settings from the environment (and an optional
// .env file).
package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"match-state-service/engine"
)

type Config struct {
	DatabaseURL    string `env:"DATABASE_URL"`
	AllowedOrigins string `env:"ALLOWED_ORIGINS" envDefault:"http://localhost:3000"`
	Port           string `env:"PORT" envDefault:"3002"`
	AppEnv         string `env:"APP_ENV" envDefault:"development"`

	AbandonPolicy  string        `env:"ABANDON_POLICY"`
	AbandonMinAge  time.Duration `env:"ABANDON_MIN_AGE" envDefault:"2h"`
	AbandonReasons []string      `env:"ABANDON_REASONS" envSeparator:"," envDefault:"player_request,timeout,inactivity"`

	AdminKey string `env:"ADMIN_KEY"`
	DataDir  string `env:"DATA_DIR" envDefault:"./data"`

	RetentionMaxAge  time.Duration `env:"RETENTION_MAX_AGE" envDefault:"24h"`
	CleanupInterval  time.Duration `env:"CLEANUP_INTERVAL" envDefault:"1h"`
	ProbeTimeout     time.Duration `env:"PROBE_TIMEOUT" envDefault:"5s"`
	StoreCallTimeout time.Duration `env:"STORE_CALL_TIMEOUT" envDefault:"5s"`

	R2 R2Config

	SettlementNamespace string `env:"SETTLEMENT_NAMESPACE" envDefault:"matches"`
}

// R2Config holds the Cloudflare R2 credentials for settlement export.
type R2Config struct {
	AccountID       string `env:"R2_ACCOUNT_ID"`
	AccessKeyID     string `env:"R2_ACCESS_KEY_ID"`
	AccessKeySecret string `env:"R2_ACCESS_KEY_SECRET"`
	BucketName      string `env:"R2_BUCKET_NAME"`
}

// Enabled reports whether every credential is present.
func (r R2Config) Enabled() bool {
	return r.AccountID != "" && r.AccessKeyID != "" && r.AccessKeySecret != "" && r.BucketName != ""
}

// Load reads .env when present, then parses the environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading environment variables directly")
	}
	return Parse()
}

// Parse reads the process environment only.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if _, err := cfg.Policy(); err != nil {
		return Config{}, err
	}
	if cfg.RetentionMaxAge <= 0 {
		return Config{}, fmt.Errorf("RETENTION_MAX_AGE must be positive")
	}
	if cfg.CleanupInterval <= 0 {
		return Config{}, fmt.Errorf("CLEANUP_INTERVAL must be positive")
	}
	return cfg, nil
}

func (c Config) Production() bool {
	return strings.EqualFold(strings.TrimSpace(c.AppEnv), "production")
}

// Policy builds the abandon policy. Without ABANDON_POLICY production runs strict.
func (c Config) Policy() (engine.AbandonPolicy, error) {
	mode, err := engine.ParsePolicyMode(c.AbandonPolicy, c.Production())
	if err != nil {
		return engine.AbandonPolicy{}, err
	}
	if mode == engine.PolicyPermissive {
		return engine.PermissivePolicy(), nil
	}
	policy := engine.StrictPolicy()
	if reasons := trimAll(c.AbandonReasons); len(reasons) > 0 {
		policy.Reasons = reasons
	}
	if c.AbandonMinAge > 0 {
		policy.MinAge = c.AbandonMinAge
	}
	return policy, nil
}

// Origins returns the CORS origin list, trimmed and comma-joined for fiber.
func (c Config) Origins() string {
	return strings.Join(trimAll(strings.Split(c.AllowedOrigins, ",")), ",")
}

func (c Config) ListenAddr() string {
	return ":" + strings.TrimPrefix(c.Port, ":")
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
