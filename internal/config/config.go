// Package config loads settings from an optional YAML file, a .env file and
// the environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/sheikh-saqib/personal-finance-ledger/internal/errs"
)

// FileEnv names the variable pointing at the YAML config file.
const FileEnv = "FINLEDGER_CONFIG"

type Config struct {
	HTTPAddr string `yaml:"http_addr"`
	// Currency is the ISO 4217 code amounts are displayed in.
	Currency string `yaml:"currency"`

	Log        LogConfig        `yaml:"log"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
	Dispatch   DispatchConfig   `yaml:"dispatch"`
	Schedule   ScheduleConfig   `yaml:"schedule"`
	SMTP       SMTPConfig       `yaml:"smtp"`
	Discord    DiscordConfig    `yaml:"discord"`
	Classifier ClassifierConfig `yaml:"classifier"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// PostgresConfig selects the durable ledger store; an empty DSN keeps the
// ledger in memory.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// KafkaConfig selects the work-item queue; no brokers means an in-process bus.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	GroupID string   `yaml:"group_id"`
}

// RateLimitConfig bounds interactive transaction creation per user.
type RateLimitConfig struct {
	// DBPath is the sqlite file holding the counters; empty keeps them in memory.
	DBPath string        `yaml:"db_path"`
	Limit  int           `yaml:"limit"`
	Window time.Duration `yaml:"window"`
}

// DispatchConfig bounds recurring work items per user.
type DispatchConfig struct {
	PerMinute   int           `yaml:"per_minute"`
	MaxAttempts int           `yaml:"max_attempts"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
}

type ScheduleConfig struct {
	RecurringScan string        `yaml:"recurring_scan"`
	BudgetAlerts  string        `yaml:"budget_alerts"`
	JobTimeout    time.Duration `yaml:"job_timeout"`
}

type SMTPConfig struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	From     string        `yaml:"from"`
	Timeout  time.Duration `yaml:"timeout"`
}

type DiscordConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

type ClassifierConfig struct {
	GeminiAPIKey string `yaml:"gemini_api_key"`
	Model        string `yaml:"model"`
}

func Default() Config {
	return Config{
		HTTPAddr: ":8080",
		Currency: "INR",
		Log:      LogConfig{Level: "info"},
		Kafka:    KafkaConfig{GroupID: "recurring-processor"},
		RateLimit: RateLimitConfig{
			Limit:  10,
			Window: 24 * time.Hour,
		},
		Dispatch: DispatchConfig{
			PerMinute:   10,
			MaxAttempts: 3,
			RetryDelay:  time.Second,
		},
		Schedule: ScheduleConfig{
			RecurringScan: "0 0 * * *",
			BudgetAlerts:  "0 */6 * * *",
			JobTimeout:    10 * time.Minute,
		},
		SMTP: SMTPConfig{Port: 587, Timeout: 30 * time.Second},
	}
}

// Load builds the configuration. A missing .env is not an error; a missing
// file named by FINLEDGER_CONFIG is.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path := os.Getenv(FileEnv); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return errs.Invalid("parse config file %s: %v", path, err)
	}
	return nil
}

type lookupFunc func(key string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	var failures []error
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				failures = append(failures, errs.Invalid("%s=%q is not a number", key, v))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				failures = append(failures, errs.Invalid("%s=%q is not a duration", key, v))
				return
			}
			*dst = d
		}
	}

	str("HTTP_ADDR", &c.HTTPAddr)
	str("CURRENCY", &c.Currency)
	str("LOG_LEVEL", &c.Log.Level)
	if v, ok := lookup("LOG_DEVELOPMENT"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			failures = append(failures, errs.Invalid("LOG_DEVELOPMENT=%q is not a boolean", v))
		}
		c.Log.Development = b
	}

	str("DATABASE_URL", &c.Postgres.DSN)
	if v, ok := lookup("KAFKA_BROKERS"); ok {
		c.Kafka.Brokers = splitList(v)
	}
	str("KAFKA_GROUP_ID", &c.Kafka.GroupID)

	str("RATE_LIMIT_DB", &c.RateLimit.DBPath)
	num("RATE_LIMIT_MAX", &c.RateLimit.Limit)
	dur("RATE_LIMIT_WINDOW", &c.RateLimit.Window)

	num("DISPATCH_PER_MINUTE", &c.Dispatch.PerMinute)
	num("DISPATCH_MAX_ATTEMPTS", &c.Dispatch.MaxAttempts)
	dur("DISPATCH_RETRY_DELAY", &c.Dispatch.RetryDelay)

	str("CRON_RECURRING_SCAN", &c.Schedule.RecurringScan)
	str("CRON_BUDGET_ALERTS", &c.Schedule.BudgetAlerts)
	dur("JOB_TIMEOUT", &c.Schedule.JobTimeout)

	str("SMTP_HOST", &c.SMTP.Host)
	num("SMTP_PORT", &c.SMTP.Port)
	str("SMTP_USERNAME", &c.SMTP.Username)
	str("SMTP_PASSWORD", &c.SMTP.Password)
	str("SMTP_FROM", &c.SMTP.From)
	dur("SMTP_TIMEOUT", &c.SMTP.Timeout)

	str("DISCORD_BOT_TOKEN", &c.Discord.BotToken)
	str("DISCORD_CHANNEL_ID", &c.Discord.ChannelID)

	str("GEMINI_API_KEY", &c.Classifier.GeminiAPIKey)
	str("GEMINI_MODEL", &c.Classifier.Model)

	c.Currency = strings.ToUpper(c.Currency)
	return errors.Join(failures...)
}

// Validate rejects values the services cannot start with.
func (c Config) Validate() error {
	var problems []string
	if c.HTTPAddr == "" {
		problems = append(problems, "http address is empty")
	}
	if len(c.Currency) != 3 {
		problems = append(problems, fmt.Sprintf("currency %q is not an ISO 4217 code", c.Currency))
	}
	if c.RateLimit.Limit <= 0 || c.RateLimit.Window <= 0 {
		problems = append(problems, "rate limit and window must be positive")
	}
	if c.Dispatch.PerMinute <= 0 || c.Dispatch.MaxAttempts <= 0 {
		problems = append(problems, "dispatch rate and attempts must be positive")
	}
	if c.Schedule.RecurringScan == "" || c.Schedule.BudgetAlerts == "" {
		problems = append(problems, "job schedules must be set")
	}
	if c.SMTP.Host != "" && c.SMTP.From == "" {
		problems = append(problems, "smtp from address is required with a host")
	}
	if (c.Discord.BotToken == "") != (c.Discord.ChannelID == "") {
		problems = append(problems, "discord needs both a bot token and a channel id")
	}
	if len(problems) > 0 {
		return errs.Invalid("config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
