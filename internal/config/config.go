package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application. It is loaded once at
// startup and handed to each component; nothing mutates it afterwards.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Mail      MailConfig      `yaml:"mail"`
	Transport TransportConfig `yaml:"transport"`
	Tracking  TrackingConfig  `yaml:"tracking"`
	Quota     QuotaConfig     `yaml:"quota"`
	Worker    WorkerConfig    `yaml:"worker"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port               int      `yaml:"port"`
	Host               string   `yaml:"host"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	ReadTimeoutSeconds int      `yaml:"read_timeout_seconds"`
}

// Addr returns host:port for http.Server.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds the Postgres connection settings.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds the broker connection settings.
type RedisConfig struct {
	URL       string `yaml:"url"`
	KeyPrefix string `yaml:"key_prefix"`
}

// MailConfig is the process-wide sender identity and SMTP endpoint.
type MailConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	SMTPHost string `yaml:"smtp_host"`
	SMTPPort int    `yaml:"smtp_port"`
	SMTPSSL  bool   `yaml:"smtp_ssl"`
}

// TransportConfig selects how messages leave the process.
type TransportConfig struct {
	Provider       string    `yaml:"provider"` // "smtp" or "ses"
	MaxRetries     int       `yaml:"max_retries"`
	BaseDelayMs    int       `yaml:"base_delay_ms"`
	MaxDelayMs     int       `yaml:"max_delay_ms"`
	TimeoutSeconds int       `yaml:"timeout_seconds"`
	SES            SESConfig `yaml:"ses"`
}

// BaseDelay returns the first retry backoff.
func (c TransportConfig) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelayMs) * time.Millisecond
}

// MaxDelay returns the backoff cap.
func (c TransportConfig) MaxDelay() time.Duration {
	return time.Duration(c.MaxDelayMs) * time.Millisecond
}

// Timeout returns the per-send network timeout.
func (c TransportConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// SESConfig holds AWS SES v2 credentials.
type SESConfig struct {
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// TrackingConfig controls token signing and the public callback URLs.
type TrackingConfig struct {
	BaseURL         string `yaml:"base_url"`
	SecretKey       string `yaml:"secret_key"`
	UnsubscribeSalt string `yaml:"unsubscribe_salt"`
	PixelSalt       string `yaml:"pixel_salt"`
	// TokenTTLHours of 0 means tokens never expire.
	TokenTTLHours int `yaml:"token_ttl_hours"`
}

// TokenTTL returns the token lifetime, zero for no expiry.
func (c TrackingConfig) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLHours) * time.Hour
}

// UnsubscribeURL is the base that unsubscribe tokens are appended to.
func (c TrackingConfig) UnsubscribeURL() string {
	return strings.TrimRight(c.BaseURL, "/") + "/api/webhooks/unsubscribe"
}

// PixelURL is the base that pixel tokens are appended to.
func (c TrackingConfig) PixelURL() string {
	return strings.TrimRight(c.BaseURL, "/") + "/api/webhooks/pixel"
}

// QuotaConfig configures the rolling daily send limit.
type QuotaConfig struct {
	// DailyLimit overrides the derived threshold when non-zero.
	DailyLimit     int `yaml:"daily_limit"`
	ProviderQuota  int `yaml:"provider_quota"`
	SafetyMargin   int `yaml:"safety_margin"`
	BackoffSeconds int `yaml:"backoff_seconds"`
	// Strict switches from the ledger count to an atomic Redis counter.
	Strict bool `yaml:"strict"`
}

// Threshold is the number of sends in the trailing 24h at which new
// attempts are deferred.
func (c QuotaConfig) Threshold() int {
	if c.DailyLimit > 0 {
		return c.DailyLimit
	}
	return c.ProviderQuota - c.SafetyMargin
}

// Backoff is how long a deferred attempt waits before it runs again.
func (c QuotaConfig) Backoff() time.Duration {
	return time.Duration(c.BackoffSeconds) * time.Second
}

// WorkerConfig controls the dispatch worker pool and queue maintenance.
type WorkerConfig struct {
	Concurrency       int     `yaml:"concurrency"`
	PollIntervalMs    int     `yaml:"poll_interval_ms"`
	LeaseSeconds      int     `yaml:"lease_seconds"`
	MaxDeliveries     int     `yaml:"max_deliveries"`
	MaxPerSecond      float64 `yaml:"max_per_second"`
	ErrorRetrySeconds int     `yaml:"error_retry_seconds"`
	RecoverySchedule  string  `yaml:"recovery_schedule"`
	StatsSchedule     string  `yaml:"stats_schedule"`
	FanoutParallelism int     `yaml:"fanout_parallelism"`
	SkipUnsubscribed  *bool   `yaml:"skip_unsubscribed"`
}

// PollInterval is how long an idle worker sleeps between claims.
func (c WorkerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// Lease is how long a claimed task may run before it is redelivered.
func (c WorkerConfig) Lease() time.Duration {
	return time.Duration(c.LeaseSeconds) * time.Second
}

// ErrorRetry is the delay before a task that hit an infrastructure error
// is attempted again.
func (c WorkerConfig) ErrorRetry() time.Duration {
	return time.Duration(c.ErrorRetrySeconds) * time.Second
}

// SuppressUnsubscribed reports whether unsubscribed contacts are skipped.
func (c WorkerConfig) SuppressUnsubscribed() bool {
	return c.SkipUnsubscribed == nil || *c.SkipUnsubscribed
}

// LogConfig controls the structured logger.
type LogConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// Redact reports whether email addresses are masked in logs.
func (c LogConfig) Redact() bool {
	return c.RedactPII == nil || *c.RedactPII
}

// Load reads and parses the configuration file. An empty path yields a
// config built from defaults only.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.ReadTimeoutSeconds == 0 {
		cfg.Server.ReadTimeoutSeconds = 15
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 20
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Redis.URL == "" {
		cfg.Redis.URL = "redis://localhost:6379/0"
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "tinymail"
	}
	if cfg.Mail.SMTPHost == "" {
		cfg.Mail.SMTPHost = "smtp.gmail.com"
	}
	if cfg.Mail.SMTPPort == 0 {
		cfg.Mail.SMTPPort = 587
	}
	if cfg.Transport.Provider == "" {
		cfg.Transport.Provider = "smtp"
	}
	if cfg.Transport.MaxRetries == 0 {
		cfg.Transport.MaxRetries = 2
	}
	if cfg.Transport.BaseDelayMs == 0 {
		cfg.Transport.BaseDelayMs = 1000
	}
	if cfg.Transport.MaxDelayMs == 0 {
		cfg.Transport.MaxDelayMs = 30000
	}
	if cfg.Transport.TimeoutSeconds == 0 {
		cfg.Transport.TimeoutSeconds = 30
	}
	if cfg.Transport.SES.Region == "" {
		cfg.Transport.SES.Region = "us-east-1"
	}
	if cfg.Tracking.BaseURL == "" {
		cfg.Tracking.BaseURL = "http://localhost:8080"
	}
	if cfg.Tracking.UnsubscribeSalt == "" {
		cfg.Tracking.UnsubscribeSalt = "unsubscribe"
	}
	if cfg.Tracking.PixelSalt == "" {
		cfg.Tracking.PixelSalt = "pixel"
	}
	if cfg.Quota.ProviderQuota == 0 {
		cfg.Quota.ProviderQuota = providerQuota(cfg.Mail.Address)
	}
	if cfg.Quota.SafetyMargin == 0 {
		cfg.Quota.SafetyMargin = 100
	}
	if cfg.Quota.BackoffSeconds == 0 {
		cfg.Quota.BackoffSeconds = 3600
	}
	if cfg.Worker.Concurrency == 0 {
		cfg.Worker.Concurrency = 4
	}
	if cfg.Worker.PollIntervalMs == 0 {
		cfg.Worker.PollIntervalMs = 500
	}
	if cfg.Worker.LeaseSeconds == 0 {
		cfg.Worker.LeaseSeconds = 300
	}
	if cfg.Worker.MaxDeliveries == 0 {
		cfg.Worker.MaxDeliveries = 5
	}
	if cfg.Worker.ErrorRetrySeconds == 0 {
		cfg.Worker.ErrorRetrySeconds = 60
	}
	if cfg.Worker.RecoverySchedule == "" {
		cfg.Worker.RecoverySchedule = "@every 2m"
	}
	if cfg.Worker.StatsSchedule == "" {
		cfg.Worker.StatsSchedule = "@every 15m"
	}
	if cfg.Worker.FanoutParallelism == 0 {
		cfg.Worker.FanoutParallelism = 16
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// providerQuota returns the provider's documented daily cap for the sender
// account: consumer Gmail allows 500, Workspace accounts 2000.
func providerQuota(address string) int {
	if strings.HasSuffix(strings.ToLower(address), "@gmail.com") {
		return 500
	}
	return 2000
}

// Validate reports configuration that would make the service unusable.
func (cfg *Config) Validate() error {
	var errs []error
	if cfg.Tracking.SecretKey == "" {
		errs = append(errs, errors.New("tracking.secret_key is required"))
	}
	if cfg.Tracking.UnsubscribeSalt == cfg.Tracking.PixelSalt {
		errs = append(errs, errors.New("tracking salts must differ"))
	}
	if cfg.Mail.Address == "" {
		errs = append(errs, errors.New("mail.address is required"))
	}
	if cfg.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required"))
	}
	if cfg.Quota.Threshold() <= 0 {
		errs = append(errs, fmt.Errorf("quota threshold must be positive, got %d", cfg.Quota.Threshold()))
	}
	switch cfg.Transport.Provider {
	case "smtp", "ses":
	default:
		errs = append(errs, fmt.Errorf("unknown transport provider %q", cfg.Transport.Provider))
	}
	return errors.Join(errs...)
}

// LoadFromEnv loads configuration with environment variable overrides.
// A .env file in the working directory is loaded first when present.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}
	if v := os.Getenv("MAIL_ADDRESS"); v != "" {
		cfg.Mail.Address = v
		if os.Getenv("PROVIDER_QUOTA") == "" {
			cfg.Quota.ProviderQuota = providerQuota(v)
		}
	}
	if v := os.Getenv("MAIL_PWD"); v != "" {
		cfg.Mail.Password = v
	}
	if v := os.Getenv("SMTP_HOST"); v != "" {
		cfg.Mail.SMTPHost = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Mail.SMTPPort = n
		}
	}
	if v := os.Getenv("SMTP_SSL"); v != "" {
		cfg.Mail.SMTPSSL, _ = strconv.ParseBool(v)
	}
	if v := os.Getenv("TRANSPORT_PROVIDER"); v != "" {
		cfg.Transport.Provider = v
	}
	if v := os.Getenv("AWS_SES_ACCESS_KEY"); v != "" {
		cfg.Transport.SES.AccessKey = v
	}
	if v := os.Getenv("AWS_SES_SECRET_KEY"); v != "" {
		cfg.Transport.SES.SecretKey = v
	}
	if v := os.Getenv("AWS_SES_REGION"); v != "" {
		cfg.Transport.SES.Region = v
	}
	if v := os.Getenv("BASE_URL"); v != "" {
		cfg.Tracking.BaseURL = v
	}
	if v := os.Getenv("CONF_TOKEN_SECRET_KEY"); v != "" {
		cfg.Tracking.SecretKey = v
	}
	if v := os.Getenv("CONF_TOKEN_UNSUBSCRIBE_SALT"); v != "" {
		cfg.Tracking.UnsubscribeSalt = v
	}
	if v := os.Getenv("CONF_TOKEN_PIXEL_SALT"); v != "" {
		cfg.Tracking.PixelSalt = v
	}
	if v := os.Getenv("DAILY_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Quota.DailyLimit = n
		}
	}
	if v := os.Getenv("PROVIDER_QUOTA"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Quota.ProviderQuota = n
		}
	}
	if v := os.Getenv("QUOTA_STRICT"); v != "" {
		cfg.Quota.Strict, _ = strconv.ParseBool(v)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}

	return cfg, nil
}
