package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shiftleft/compliance/internal/models"
)

type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Dedup         DedupConfig         `yaml:"dedup"`
	Queue         QueueConfig         `yaml:"queue"`
	Scheduler     SchedulerConfig     `yaml:"scheduler"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Integrations  IntegrationsConfig  `yaml:"integrations"`
	FixSuggest    FixSuggestConfig    `yaml:"fixsuggest"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	CORSAllowOrigin string        `yaml:"cors_allow_origin"`
	LogLevel        string        `yaml:"log_level"`
}

func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SlogLevel maps LogLevel onto slog, defaulting to info.
func (c ServerConfig) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

type DatabaseConfig struct {
	URL          string `yaml:"url"`
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	User         string `yaml:"user"`
	Password     string `yaml:"password"`
	Database     string `yaml:"database"`
	SSLMode      string `yaml:"ssl_mode"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// DSN returns URL when set, otherwise a key/value DSN built from the parts.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type DedupConfig struct {
	// Strategy is "control" (control id, falling back to summary) or
	// "summary" (summary and risk level).
	Strategy string `yaml:"strategy"`
}

type QueueConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Prefix       string        `yaml:"prefix"`
	PollInterval time.Duration `yaml:"poll_interval"`
	StaleAfter   time.Duration `yaml:"stale_after"`
	MaxAttempts  int           `yaml:"max_attempts"`
}

type SchedulerConfig struct {
	Enabled           bool   `yaml:"enabled"`
	ReconcileSchedule string `yaml:"reconcile_schedule"`
	DigestSchedule    string `yaml:"digest_schedule"`
}

type NotificationsConfig struct {
	MinRisk      models.RiskLevel  `yaml:"min_risk"`
	DashboardURL string            `yaml:"dashboard_url"`
	Slack        SlackNotifyConfig `yaml:"slack"`
	Email        EmailNotifyConfig `yaml:"email"`
}

type SlackNotifyConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
}

type EmailNotifyConfig struct {
	Enabled  bool     `yaml:"enabled"`
	SMTPHost string   `yaml:"smtp_host"`
	SMTPPort int      `yaml:"smtp_port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	To       []string `yaml:"to"`
}

type IntegrationsConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
}

type FixSuggestConfig struct {
	Enabled bool          `yaml:"enabled"`
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	data = []byte(os.ExpandEnv(string(data)))

	cfg := baseConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// baseConfig holds the defaults a zero value cannot express. The YAML is
// decoded on top of it, so keys that are absent keep these values.
func baseConfig() *Config {
	return &Config{
		Scheduler: SchedulerConfig{Enabled: true},
	}
}

func defaultConfig() *Config {
	cfg := baseConfig()
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}

	if c.Database.Host == "" {
		c.Database.Host = "localhost"
	}
	if c.Database.Port == 0 {
		c.Database.Port = 5432
	}
	if c.Database.User == "" {
		c.Database.User = "compliance"
	}
	if c.Database.Database == "" {
		c.Database.Database = "compliance"
	}
	if c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 25
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}

	if c.Redis.Host == "" {
		c.Redis.Host = "localhost"
	}
	if c.Redis.Port == 0 {
		c.Redis.Port = 6379
	}

	if c.Dedup.Strategy == "" {
		c.Dedup.Strategy = "control"
	}

	if c.Queue.Prefix == "" {
		c.Queue.Prefix = "compliance"
	}
	if c.Queue.PollInterval == 0 {
		c.Queue.PollInterval = time.Second
	}
	if c.Queue.StaleAfter == 0 {
		c.Queue.StaleAfter = 5 * time.Minute
	}
	if c.Queue.MaxAttempts == 0 {
		c.Queue.MaxAttempts = 3
	}

	if c.Scheduler.ReconcileSchedule == "" {
		c.Scheduler.ReconcileSchedule = "@every 5m"
	}
	if c.Scheduler.DigestSchedule == "" {
		c.Scheduler.DigestSchedule = "0 0 8 * * *"
	}

	if c.Notifications.MinRisk == "" {
		c.Notifications.MinRisk = models.RiskHigh
	}
	if c.Notifications.Email.SMTPPort == 0 {
		c.Notifications.Email.SMTPPort = 587
	}

	if c.FixSuggest.Model == "" {
		c.FixSuggest.Model = "gemini-1.5-flash"
	}
	if c.FixSuggest.Timeout == 0 {
		c.FixSuggest.Timeout = 60 * time.Second
	}
}

func (c *Config) Validate() error {
	switch strings.ToLower(c.Dedup.Strategy) {
	case "control", "summary":
	default:
		return fmt.Errorf("dedup.strategy: unknown strategy %q", c.Dedup.Strategy)
	}
	if !c.Notifications.MinRisk.Valid() {
		return fmt.Errorf("notifications.min_risk: unknown risk level %q", c.Notifications.MinRisk)
	}
	if c.FixSuggest.Enabled && c.FixSuggest.APIKey == "" {
		return fmt.Errorf("fixsuggest.api_key is required when fixsuggest is enabled")
	}
	return nil
}
