package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for dnswatch.
type Config struct {
	NextDNS  NextDNSConfig
	Analysis AnalysisConfig
	Mail     MailConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Status   StatusConfig
	Log      LogConfig
}

type NextDNSConfig struct {
	BaseURL          string
	APIKey           string
	ProfileID        string
	PageSize         int
	MaxPages         int
	RateLimitDelay   time.Duration
	PageDelay        time.Duration
	StreamRetryDelay time.Duration
	Timeout          time.Duration
}

type AnalysisConfig struct {
	CriticalCategories []string
	WarningDomains     []string
	TimezoneName       string
	Location           *time.Location
	GapThreshold       int // minutes
	TopSites           int
}

type MailConfig struct {
	From     string
	To       string
	Password string
	SMTPHost string
	SMTPPort int
}

// DatabaseConfig sizes the run-history pool. The report writes one row a day
// and the status server reads a handful, so the pool stays small and lets idle
// connections go rather than holding them between runs.
type DatabaseConfig struct {
	URL            string
	MaxConns       int
	IdleTimeout    time.Duration
	ConnectTimeout time.Duration
}

type RedisConfig struct {
	URL string
}

type StatusConfig struct {
	Port           int
	APIKeyHash     string
	RequestsPerMin int
}

type LogConfig struct {
	Level  string
	Format string
}

// Load reads configuration from the environment and returns a validated Config.
// A .env file in the working directory is read first; variables already set in
// the environment take precedence over it.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading .env: %w", err)
	}

	cfg := &Config{
		NextDNS: NextDNSConfig{
			BaseURL:          strings.TrimRight(envString("NEXTDNS_BASE_URL", "https://api.nextdns.io"), "/"),
			APIKey:           os.Getenv("API_KEY"),
			ProfileID:        os.Getenv("PROFILE_ID"),
			PageSize:         envInt("PAGE_SIZE", 500),
			MaxPages:         envInt("MAX_PAGES", 0),
			RateLimitDelay:   envDuration("RATE_LIMIT_DELAY", 5*time.Second),
			PageDelay:        envDuration("PAGE_DELAY", 100*time.Millisecond),
			StreamRetryDelay: envDuration("STREAM_RETRY_DELAY", 5*time.Second),
			Timeout:          envDuration("HTTP_TIMEOUT", 60*time.Second),
		},
		Analysis: AnalysisConfig{
			CriticalCategories: envList("CRITICAL_CATEGORIES"),
			WarningDomains:     envList("WARNING_DOMAINS"),
			TimezoneName:       envString("TIMEZONE", "America/New_York"),
			GapThreshold:       envInt("GAP_MINUTE_THRESHOLD", 60),
			TopSites:           envInt("TOP_SITES", 5),
		},
		Mail: MailConfig{
			From:     os.Getenv("FROM_EMAIL"),
			To:       os.Getenv("TO_EMAIL"),
			Password: os.Getenv("APP_PASSWORD"),
			SMTPHost: envString("SMTP_HOST", "smtp.gmail.com"),
			SMTPPort: envInt("SMTP_PORT", 465),
		},
		Database: DatabaseConfig{
			URL:            os.Getenv("DATABASE_URL"),
			MaxConns:       envInt("DATABASE_MAX_CONNS", 2),
			IdleTimeout:    envDuration("DATABASE_IDLE_TIMEOUT", time.Minute),
			ConnectTimeout: envDuration("DATABASE_CONNECT_TIMEOUT", 10*time.Second),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Status: StatusConfig{
			Port:           envInt("STATUS_PORT", 8080),
			APIKeyHash:     os.Getenv("STATUS_API_KEY_HASH"),
			RequestsPerMin: envInt("STATUS_REQUESTS_PER_MIN", 60),
		},
		Log: LogConfig{
			Level:  envString("LOG_LEVEL", "INFO"),
			Format: envString("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.NextDNS.APIKey == "" {
		return fmt.Errorf("API_KEY is required")
	}
	if c.NextDNS.ProfileID == "" {
		return fmt.Errorf("PROFILE_ID is required")
	}
	if !strings.HasPrefix(c.NextDNS.BaseURL, "http://") && !strings.HasPrefix(c.NextDNS.BaseURL, "https://") {
		return fmt.Errorf("NEXTDNS_BASE_URL must start with http:// or https://, got %q", c.NextDNS.BaseURL)
	}
	if c.NextDNS.PageSize <= 0 {
		return fmt.Errorf("PAGE_SIZE must be positive, got %d", c.NextDNS.PageSize)
	}
	if c.NextDNS.MaxPages < 0 {
		return fmt.Errorf("MAX_PAGES must not be negative, got %d", c.NextDNS.MaxPages)
	}

	loc, err := time.LoadLocation(c.Analysis.TimezoneName)
	if err != nil {
		return fmt.Errorf("TIMEZONE %q is not a known time zone: %w", c.Analysis.TimezoneName, err)
	}
	c.Analysis.Location = loc

	if c.Analysis.GapThreshold <= 0 {
		return fmt.Errorf("GAP_MINUTE_THRESHOLD must be positive, got %d", c.Analysis.GapThreshold)
	}
	if c.Analysis.TopSites <= 0 {
		return fmt.Errorf("TOP_SITES must be positive, got %d", c.Analysis.TopSites)
	}
	if c.Database.MaxConns <= 0 {
		return fmt.Errorf("DATABASE_MAX_CONNS must be positive, got %d", c.Database.MaxConns)
	}

	return nil
}

// ValidateMail checks the settings needed to send the report e-mail.
// It is separate from Load because stream mode and dry runs never send mail.
func (c *Config) ValidateMail() error {
	if c.Mail.From == "" {
		return fmt.Errorf("FROM_EMAIL is required")
	}
	if c.Mail.To == "" {
		return fmt.Errorf("TO_EMAIL is required")
	}
	if c.Mail.Password == "" {
		return fmt.Errorf("APP_PASSWORD is required")
	}
	if c.Mail.SMTPHost == "" {
		return fmt.Errorf("SMTP_HOST is required")
	}
	if c.Mail.SMTPPort <= 0 || c.Mail.SMTPPort > 65535 {
		return fmt.Errorf("SMTP_PORT must be 1..65535, got %d", c.Mail.SMTPPort)
	}
	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// envList splits a comma-separated variable, dropping blank entries.
func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
