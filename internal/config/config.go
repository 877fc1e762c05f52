// Package config loads process configuration from an optional YAML file with
// SNAGLIST_* environment variables layered on top.
package config

import (
	"fmt"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	DB        DBConfig        `yaml:"db"`
	Log       LogConfig       `yaml:"log"`
	Auth      AuthConfig      `yaml:"auth"`
	Links     LinksConfig     `yaml:"links"`
	PIN       PINConfig       `yaml:"pin"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Audit     AuditConfig     `yaml:"audit"`
	Email     EmailConfig     `yaml:"email"`
	Backup    BackupConfig    `yaml:"backup"`
	Push      PushConfig      `yaml:"push"`
}

type HTTPConfig struct {
	Addr           string        `yaml:"addr" env:"SNAGLIST_ADDR" env-default:":8080"`
	ReadTimeout    time.Duration `yaml:"read_timeout" env:"SNAGLIST_READ_TIMEOUT" env-default:"5s"`
	WriteTimeout   time.Duration `yaml:"write_timeout" env:"SNAGLIST_WRITE_TIMEOUT" env-default:"10s"`
	IdleTimeout    time.Duration `yaml:"idle_timeout" env:"SNAGLIST_IDLE_TIMEOUT" env-default:"120s"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"SNAGLIST_REQUEST_TIMEOUT" env-default:"8s"`
	// OriginPatterns are the hosts allowed to open the owner websocket.
	OriginPatterns []string `yaml:"origin_patterns" env:"SNAGLIST_ORIGIN_PATTERNS" env-separator:","`
	// TrustedProxies are the CIDRs or addresses whose CF-Connecting-IP and
	// X-Forwarded-For headers are believed. Empty trusts nobody.
	TrustedProxies []string `yaml:"trusted_proxies" env:"SNAGLIST_TRUSTED_PROXIES" env-separator:","`
}

type DBConfig struct {
	Path string `yaml:"path" env:"SNAGLIST_DB_PATH" env-default:"snaglist.db"`
}

type LogConfig struct {
	Level  string `yaml:"level" env:"SNAGLIST_LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"SNAGLIST_LOG_FORMAT" env-default:"text"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" env:"SNAGLIST_JWT_SECRET" env-required:"true"`
	Issuer    string `yaml:"issuer" env:"SNAGLIST_JWT_ISSUER" env-default:"snaglist"`
}

type LinksConfig struct {
	BaseURL    string        `yaml:"base_url" env:"SNAGLIST_BASE_URL" env-default:"http://localhost:8080"`
	DefaultTTL time.Duration `yaml:"default_ttl" env:"SNAGLIST_LINK_DEFAULT_TTL" env-default:"168h"`
	MaxTTL     time.Duration `yaml:"max_ttl" env:"SNAGLIST_LINK_MAX_TTL" env-default:"2160h"`
}

type PINConfig struct {
	MaxAttempts int           `yaml:"max_attempts" env:"SNAGLIST_PIN_MAX_ATTEMPTS" env-default:"5"`
	Lockout     time.Duration `yaml:"lockout" env:"SNAGLIST_PIN_LOCKOUT" env-default:"300s"`
	// Hasher is sha256 or argon2id.
	Hasher string `yaml:"hasher" env:"SNAGLIST_PIN_HASHER" env-default:"sha256"`
}

type RateLimitConfig struct {
	// Backend is sqlite or redis.
	Backend       string        `yaml:"backend" env:"SNAGLIST_RATE_LIMIT_BACKEND" env-default:"sqlite"`
	RedisURL      string        `yaml:"redis_url" env:"SNAGLIST_REDIS_URL"`
	SweepInterval time.Duration `yaml:"sweep_interval" env:"SNAGLIST_RATE_LIMIT_SWEEP" env-default:"5m"`
	TokenLookup   LimitConfig   `yaml:"token_lookup" env-prefix:"SNAGLIST_RL_TOKEN_LOOKUP_"`
	PINAttempt    LimitConfig   `yaml:"pin_attempt" env-prefix:"SNAGLIST_RL_PIN_ATTEMPT_"`
	APICall       LimitConfig   `yaml:"api_call" env-prefix:"SNAGLIST_RL_API_CALL_"`
}

// LimitConfig overrides one action's budget. Zero values keep the default.
type LimitConfig struct {
	Limit  int           `yaml:"limit" env:"LIMIT"`
	Window time.Duration `yaml:"window" env:"WINDOW"`
}

type AuditConfig struct {
	QueueSize int `yaml:"queue_size" env:"SNAGLIST_AUDIT_QUEUE_SIZE" env-default:"1024"`
	Workers   int `yaml:"workers" env:"SNAGLIST_AUDIT_WORKERS" env-default:"2"`
}

type EmailConfig struct {
	PostmarkToken string `yaml:"postmark_token" env:"SNAGLIST_POSTMARK_TOKEN"`
	From          string `yaml:"from" env:"SNAGLIST_EMAIL_FROM" env-default:"noreply@snaglist.local"`
}

// BackupConfig enables encrypted database snapshots when bucket, keys and
// passphrase are all set. Setting only some of them is a config error.
type BackupConfig struct {
	Endpoint   string        `yaml:"endpoint" env:"SNAGLIST_BACKUP_S3_ENDPOINT"`
	Bucket     string        `yaml:"bucket" env:"SNAGLIST_BACKUP_S3_BUCKET"`
	Region     string        `yaml:"region" env:"SNAGLIST_BACKUP_S3_REGION" env-default:"us-east-1"`
	AccessKey  string        `yaml:"access_key" env:"SNAGLIST_BACKUP_S3_ACCESS_KEY"`
	SecretKey  string        `yaml:"secret_key" env:"SNAGLIST_BACKUP_S3_SECRET_KEY"`
	Passphrase string        `yaml:"passphrase" env:"SNAGLIST_BACKUP_PASSPHRASE"`
	Interval   time.Duration `yaml:"interval" env:"SNAGLIST_BACKUP_INTERVAL" env-default:"24h"`
	Retention  time.Duration `yaml:"retention" env:"SNAGLIST_BACKUP_RETENTION" env-default:"720h"`
}

// PushConfig enables lockout alerts to owners' browsers when both VAPID
// keys are set.
type PushConfig struct {
	VAPIDPublicKey  string `yaml:"vapid_public_key" env:"SNAGLIST_VAPID_PUBLIC_KEY"`
	VAPIDPrivateKey string `yaml:"vapid_private_key" env:"SNAGLIST_VAPID_PRIVATE_KEY"`
	Subscriber      string `yaml:"subscriber" env:"SNAGLIST_VAPID_SUBSCRIBER" env-default:"mailto:noreply@snaglist.local"`
}

// MustLoad is Load that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads path, or SNAGLIST_CONFIG when path is empty, then overlays the
// environment. With neither set only the environment is read.
func Load(path string) (*Config, error) {
	var cfg Config

	if path == "" {
		path = os.Getenv("SNAGLIST_CONFIG")
	}

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config file %q: %w", path, err)
		}
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.RateLimit.Backend {
	case "sqlite":
	case "redis":
		if c.RateLimit.RedisURL == "" {
			return fmt.Errorf("rate_limit.redis_url is required for the redis backend")
		}
	default:
		return fmt.Errorf("unknown rate limit backend %q", c.RateLimit.Backend)
	}
	switch c.PIN.Hasher {
	case "sha256", "argon2id":
	default:
		return fmt.Errorf("unknown pin hasher %q", c.PIN.Hasher)
	}
	if b := c.Backup; b.Bucket != "" || b.AccessKey != "" || b.SecretKey != "" {
		switch {
		case b.Bucket == "":
			return fmt.Errorf("backup.bucket is required when backup keys are set")
		case b.AccessKey == "" || b.SecretKey == "":
			return fmt.Errorf("backup.access_key and backup.secret_key are required when backup.bucket is set")
		case b.Passphrase == "":
			return fmt.Errorf("backup.passphrase is required when backup.bucket is set")
		}
	}
	for _, p := range c.HTTP.TrustedProxies {
		if !validProxy(strings.TrimSpace(p)) {
			return fmt.Errorf("http.trusted_proxies: invalid address or CIDR %q", p)
		}
	}
	if (c.Push.VAPIDPublicKey == "") != (c.Push.VAPIDPrivateKey == "") {
		return fmt.Errorf("push.vapid_public_key and push.vapid_private_key must be set together")
	}
	if c.Links.DefaultTTL > c.Links.MaxTTL {
		return fmt.Errorf("links.default_ttl %s exceeds links.max_ttl %s", c.Links.DefaultTTL, c.Links.MaxTTL)
	}
	return nil
}

func validProxy(s string) bool {
	if s == "" {
		return true
	}
	if strings.Contains(s, "/") {
		_, err := netip.ParsePrefix(s)
		return err == nil
	}
	_, err := netip.ParseAddr(s)
	return err == nil
}
