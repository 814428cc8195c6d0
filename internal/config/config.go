package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

const EnvironmentProduction = "production"

const (
	StorageBackendDisk = "disk"
	StorageBackendS3   = "s3"
)

const (
	SMSProviderLog    = "log"
	SMSProviderTwilio = "twilio"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Redis     RedisConfig     `yaml:"redis"`
	Email     EmailConfig     `yaml:"email"`
	SMS       SMSConfig       `yaml:"sms"`
	Storage   StorageConfig   `yaml:"storage"`
}

type ServerConfig struct {
	Name           string   `yaml:"name"`
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port" env:"SAMADHAN_PORT"`
	BaseURL        string   `yaml:"base_url" env:"SAMADHAN_BASE_URL"`
	FrontendURL    string   `yaml:"frontend_url" env:"SAMADHAN_FRONTEND_URL"`
	Environment    string   `yaml:"environment" env:"SAMADHAN_ENV"`
	TrustedProxies []string `yaml:"trusted_proxies" env:"SAMADHAN_TRUSTED_PROXIES"`
	CORSOrigins    []string `yaml:"cors_origins" env:"SAMADHAN_CORS_ORIGINS"`
}

type DatabaseConfig struct {
	Path string `yaml:"path" env:"SAMADHAN_DATABASE_PATH"`
}

type AuthConfig struct {
	AccessTokenSecret  string        `yaml:"access_token_secret" env:"SAMADHAN_ACCESS_TOKEN_SECRET"`
	RefreshTokenSecret string        `yaml:"refresh_token_secret" env:"SAMADHAN_REFRESH_TOKEN_SECRET"`
	AccessTokenTTL     time.Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL    time.Duration `yaml:"refresh_token_ttl"`
	EmailTokenTTL      time.Duration `yaml:"email_token_ttl"`
	PhoneCodeTTL       time.Duration `yaml:"phone_code_ttl"`
	PasswordResetTTL   time.Duration `yaml:"password_reset_ttl"`
	BcryptCost         int           `yaml:"bcrypt_cost"`
	MaxCodeAttempts    int           `yaml:"max_code_attempts"`
	AutoVerify         bool          `yaml:"auto_verify" env:"SAMADHAN_AUTO_VERIFY"`
}

type RateLimitConfig struct {
	Auth         LimitConfig `yaml:"auth"`
	Verification LimitConfig `yaml:"verification"`
	Refresh      LimitConfig `yaml:"refresh"`
}

type LimitConfig struct {
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// RedisConfig is optional. When Addr is empty rate-limit counters stay in
// process memory.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"SAMADHAN_REDIS_ADDR"`
	Password string `yaml:"password" env:"SAMADHAN_REDIS_PASSWORD"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type EmailConfig struct {
	SMTP SMTPConfig `yaml:"smtp"`
}

type SMTPConfig struct {
	Host     string `yaml:"host" env:"SAMADHAN_SMTP_HOST"`
	Port     int    `yaml:"port" env:"SAMADHAN_SMTP_PORT"`
	Username string `yaml:"username" env:"SAMADHAN_SMTP_USERNAME"`
	Password string `yaml:"password" env:"SAMADHAN_SMTP_PASSWORD"`
	From     string `yaml:"from" env:"SAMADHAN_SMTP_FROM"`
}

type SMSConfig struct {
	Provider   string        `yaml:"provider" env:"SAMADHAN_SMS_PROVIDER"`
	AccountSID string        `yaml:"account_sid" env:"SAMADHAN_TWILIO_ACCOUNT_SID"`
	AuthToken  string        `yaml:"auth_token" env:"SAMADHAN_TWILIO_AUTH_TOKEN"`
	From       string        `yaml:"from" env:"SAMADHAN_TWILIO_PHONE_NUMBER"`
	Region     string        `yaml:"region" env:"SAMADHAN_TWILIO_REGION"`
	Edge       string        `yaml:"edge" env:"SAMADHAN_TWILIO_EDGE"`
	Timeout    time.Duration `yaml:"timeout"`
}

type StorageConfig struct {
	Backend        string   `yaml:"backend" env:"SAMADHAN_STORAGE_BACKEND"`
	ImageRoot      string   `yaml:"image_root"`
	UploadMaxBytes int64    `yaml:"upload_max_bytes"`
	ImageMaxEdge   int      `yaml:"image_max_edge"`
	PublicBaseURL  string   `yaml:"public_base_url"`
	S3             S3Config `yaml:"s3"`
}

type S3Config struct {
	Bucket    string `yaml:"bucket" env:"SAMADHAN_S3_BUCKET"`
	Region    string `yaml:"region" env:"SAMADHAN_S3_REGION"`
	Endpoint  string `yaml:"endpoint" env:"SAMADHAN_S3_ENDPOINT"`
	AccessKey string `yaml:"access_key" env:"SAMADHAN_S3_ACCESS_KEY"`
	SecretKey string `yaml:"secret_key" env:"SAMADHAN_S3_SECRET_KEY"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return Parse(data)
}

// Parse builds a Config from YAML bytes, then applies environment overrides,
// validation and defaults in that order.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	cfg.setDefaults()

	return &cfg, nil
}

// applyEnvOverrides only replaces fields whose variables are set, so values
// from the YAML file survive when the environment is silent.
func (c *Config) applyEnvOverrides() error {
	return env.Parse(c)
}

func (c *Config) validate() error {
	if c.Auth.AccessTokenSecret == "" {
		return fmt.Errorf("auth.access_token_secret is required")
	}
	if len(c.Auth.AccessTokenSecret) < 32 {
		return fmt.Errorf("auth.access_token_secret must be at least 32 characters")
	}
	if c.Auth.RefreshTokenSecret == "" {
		return fmt.Errorf("auth.refresh_token_secret is required")
	}
	if len(c.Auth.RefreshTokenSecret) < 32 {
		return fmt.Errorf("auth.refresh_token_secret must be at least 32 characters")
	}
	if c.Auth.AccessTokenSecret == c.Auth.RefreshTokenSecret {
		return fmt.Errorf("auth.access_token_secret and auth.refresh_token_secret must differ")
	}
	if c.Auth.BcryptCost != 0 && (c.Auth.BcryptCost < bcrypt.MinCost || c.Auth.BcryptCost > bcrypt.MaxCost) {
		return fmt.Errorf("auth.bcrypt_cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}
	if c.Email.SMTP.Host == "" {
		return fmt.Errorf("email.smtp.host is required")
	}
	if c.Email.SMTP.Port == 0 {
		return fmt.Errorf("email.smtp.port is required")
	}
	if c.Email.SMTP.From == "" {
		return fmt.Errorf("email.smtp.from is required")
	}
	switch strings.ToLower(c.SMS.Provider) {
	case "", SMSProviderLog:
	case SMSProviderTwilio:
		if c.SMS.AccountSID == "" || c.SMS.AuthToken == "" || c.SMS.From == "" {
			return fmt.Errorf("sms.account_sid, sms.auth_token and sms.from are required for twilio")
		}
	default:
		return fmt.Errorf("sms.provider must be log or twilio, got %q", c.SMS.Provider)
	}
	switch strings.ToLower(c.Storage.Backend) {
	case "", StorageBackendDisk:
	case StorageBackendS3:
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("storage.backend must be disk or s3, got %q", c.Storage.Backend)
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Name == "" {
		c.Server.Name = "Samadhan"
	}
	if c.Server.BaseURL == "" {
		c.Server.BaseURL = fmt.Sprintf("http://%s:%d", c.Server.Host, c.Server.Port)
	}
	if c.Server.FrontendURL == "" {
		c.Server.FrontendURL = c.Server.BaseURL
	}
	if c.Server.Environment == "" {
		c.Server.Environment = "development"
	}
	if c.Database.Path == "" {
		c.Database.Path = "./data/samadhan.db"
	}
	if c.Auth.AccessTokenTTL == 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL == 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.EmailTokenTTL == 0 {
		c.Auth.EmailTokenTTL = 24 * time.Hour
	}
	if c.Auth.PhoneCodeTTL == 0 {
		c.Auth.PhoneCodeTTL = 10 * time.Minute
	}
	if c.Auth.PasswordResetTTL == 0 {
		c.Auth.PasswordResetTTL = time.Hour
	}
	if c.Auth.BcryptCost == 0 {
		c.Auth.BcryptCost = 12
	}
	if c.Auth.MaxCodeAttempts == 0 {
		c.Auth.MaxCodeAttempts = 5
	}
	c.RateLimit.Auth.setDefaults(10, 15*time.Minute)
	c.RateLimit.Verification.setDefaults(3, 5*time.Minute)
	c.RateLimit.Refresh.setDefaults(30, time.Minute)
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "samadhan:rl:"
	}
	if c.SMS.Provider == "" {
		c.SMS.Provider = SMSProviderLog
	}
	c.SMS.Provider = strings.ToLower(c.SMS.Provider)
	if c.SMS.Timeout == 0 {
		c.SMS.Timeout = 10 * time.Second
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = StorageBackendDisk
	}
	c.Storage.Backend = strings.ToLower(c.Storage.Backend)
	if c.Storage.ImageRoot == "" {
		c.Storage.ImageRoot = "./data/media"
	}
	if c.Storage.UploadMaxBytes == 0 {
		c.Storage.UploadMaxBytes = 5 << 20
	}
	if c.Storage.ImageMaxEdge == 0 {
		c.Storage.ImageMaxEdge = 1024
	}
	if c.Storage.PublicBaseURL == "" && c.Storage.Backend == StorageBackendDisk {
		c.Storage.PublicBaseURL = c.Server.BaseURL
	}
	if c.Storage.S3.Region == "" {
		c.Storage.S3.Region = "us-east-1"
	}
}

func (l *LimitConfig) setDefaults(requests int, window time.Duration) {
	if l.Requests == 0 {
		l.Requests = requests
	}
	if l.Window == 0 {
		l.Window = window
	}
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Server.Environment, EnvironmentProduction)
}
