// Package config provides application configuration loading.
// This is part of the platform layer and contains no business logic.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// =============================================================================
// Module-Specific Config Interfaces (Principle of Least Privilege)
// =============================================================================

// DatabaseConfig provides database connection settings.
type DatabaseConfig interface {
	GetDatabaseURL() string
}

// JWTConfig provides bearer-token validation settings for middleware.
type JWTConfig interface {
	GetJWTSecret() string
	GetJWTAudience() string
}

// HTTPConfig provides settings for the HTTP server.
type HTTPConfig interface {
	GetHTTPAddr() string
	GetCORSAllowAll() bool
	GetCORSOrigins() []string
	GetCORSAllowCreds() bool
	GetRateLimitPerSecond() float64
	GetRateLimitBurst() int
}

// SchedulerConfig provides settings for the asynq client, worker and periodic jobs.
type SchedulerConfig interface {
	GetRedisURL() string
	GetRedisTLSInsecure() bool
	GetAsynqQueueName() string
	GetAsynqConcurrency() int
	GetDispatchCron() string
}

// FollowupConfig provides settings for the follow-up orchestrator and dispatcher.
type FollowupConfig interface {
	GetFollowupDispatcherSecret() string
	GetFollowupDefaultTimezone() string
	GetFollowupBrandName() string
	GetDispatchBatchLimit() int
	GetDispatchLeaseTTL() time.Duration
	GetProviderTimeout() time.Duration
}

// SMSConfig provides settings for the Twilio SMS provider.
type SMSConfig interface {
	GetTwilioAccountSID() string
	GetTwilioAuthToken() string
	GetTwilioFromNumber() string
	GetTwilioBaseURL() string
	GetSMSRatePerSecond() float64
	IsSMSEnabled() bool
}

// EmailConfig provides settings for the email provider (Resend or SMTP).
type EmailConfig interface {
	GetEmailProvider() string
	GetResendAPIKey() string
	GetResendBaseURL() string
	GetEmailFromName() string
	GetEmailFromAddress() string
	GetSMTPHost() string
	GetSMTPPort() int
	GetSMTPUsername() string
	GetSMTPPassword() string
}

// PhoneConfig provides the default region used to parse national phone numbers.
type PhoneConfig interface {
	GetPhoneDefaultRegion() string
}

// MonitoringConfig provides error tracking settings.
type MonitoringConfig interface {
	GetSentryDSN() string
	GetEnv() string
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig interface {
	IsMetricsEnabled() bool
	// GetSchedulerMetricsAddr is the listen address of the scheduler's
	// /metrics endpoint.
	GetSchedulerMetricsAddr() string
}

// =============================================================================
// Main Config Struct
// =============================================================================

// Config holds all application configuration values.
type Config struct {
	Env                      string
	HTTPAddr                 string
	DatabaseURL              string
	JWTSecret                string
	JWTAudience              string
	CORSAllowAll             bool
	CORSOrigins              []string
	CORSAllowCreds           bool
	RateLimitPerSecond       float64
	RateLimitBurst           int
	RedisURL                 string
	RedisTLSInsecure         bool
	AsynqQueueName           string
	AsynqConcurrency         int
	DispatchCron             string
	FollowupDispatcherSecret string
	FollowupDefaultTimezone  string
	FollowupBrandName        string
	DispatchBatchLimit       int
	DispatchLeaseTTL         time.Duration
	ProviderTimeout          time.Duration
	TwilioAccountSID         string
	TwilioAuthToken          string
	TwilioFromNumber         string
	TwilioBaseURL            string
	SMSRatePerSecond         float64
	EmailProvider            string
	ResendAPIKey             string
	ResendBaseURL            string
	EmailFromName            string
	EmailFromAddress         string
	SMTPHost                 string
	SMTPPort                 int
	SMTPUsername             string
	SMTPPassword             string
	PhoneDefaultRegion       string
	SentryDSN                string
	MetricsEnabled           bool
	SchedulerMetricsAddr     string
}

// =============================================================================
// Interface Implementations
// =============================================================================

// DatabaseConfig implementation
func (c *Config) GetDatabaseURL() string { return c.DatabaseURL }

// JWTConfig implementation
func (c *Config) GetJWTSecret() string   { return c.JWTSecret }
func (c *Config) GetJWTAudience() string { return c.JWTAudience }

// HTTPConfig implementation
func (c *Config) GetHTTPAddr() string             { return c.HTTPAddr }
func (c *Config) GetCORSAllowAll() bool           { return c.CORSAllowAll }
func (c *Config) GetCORSOrigins() []string        { return c.CORSOrigins }
func (c *Config) GetCORSAllowCreds() bool         { return c.CORSAllowCreds }
func (c *Config) GetRateLimitPerSecond() float64 { return c.RateLimitPerSecond }
func (c *Config) GetRateLimitBurst() int          { return c.RateLimitBurst }

// SchedulerConfig implementation
func (c *Config) GetRedisURL() string        { return c.RedisURL }
func (c *Config) GetRedisTLSInsecure() bool  { return c.RedisTLSInsecure }
func (c *Config) GetAsynqQueueName() string  { return c.AsynqQueueName }
func (c *Config) GetAsynqConcurrency() int   { return c.AsynqConcurrency }
func (c *Config) GetDispatchCron() string    { return c.DispatchCron }

// FollowupConfig implementation
func (c *Config) GetFollowupDispatcherSecret() string { return c.FollowupDispatcherSecret }
func (c *Config) GetFollowupDefaultTimezone() string  { return c.FollowupDefaultTimezone }
func (c *Config) GetFollowupBrandName() string        { return c.FollowupBrandName }
func (c *Config) GetDispatchBatchLimit() int          { return c.DispatchBatchLimit }
func (c *Config) GetDispatchLeaseTTL() time.Duration  { return c.DispatchLeaseTTL }
func (c *Config) GetProviderTimeout() time.Duration   { return c.ProviderTimeout }

// SMSConfig implementation
func (c *Config) GetTwilioAccountSID() string  { return c.TwilioAccountSID }
func (c *Config) GetTwilioAuthToken() string   { return c.TwilioAuthToken }
func (c *Config) GetTwilioFromNumber() string  { return c.TwilioFromNumber }
func (c *Config) GetTwilioBaseURL() string     { return c.TwilioBaseURL }
func (c *Config) GetSMSRatePerSecond() float64 { return c.SMSRatePerSecond }
func (c *Config) IsSMSEnabled() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != "" && c.TwilioFromNumber != ""
}

// EmailConfig implementation
func (c *Config) GetEmailProvider() string    { return c.EmailProvider }
func (c *Config) GetResendAPIKey() string     { return c.ResendAPIKey }
func (c *Config) GetResendBaseURL() string    { return c.ResendBaseURL }
func (c *Config) GetEmailFromName() string    { return c.EmailFromName }
func (c *Config) GetEmailFromAddress() string { return c.EmailFromAddress }
func (c *Config) GetSMTPHost() string         { return c.SMTPHost }
func (c *Config) GetSMTPPort() int            { return c.SMTPPort }
func (c *Config) GetSMTPUsername() string     { return c.SMTPUsername }
func (c *Config) GetSMTPPassword() string     { return c.SMTPPassword }

// PhoneConfig implementation
func (c *Config) GetPhoneDefaultRegion() string { return c.PhoneDefaultRegion }

// MonitoringConfig implementation
func (c *Config) GetSentryDSN() string { return c.SentryDSN }
func (c *Config) GetEnv() string       { return c.Env }

// MetricsConfig implementation
func (c *Config) IsMetricsEnabled() bool          { return c.MetricsEnabled }
func (c *Config) GetSchedulerMetricsAddr() string { return c.SchedulerMetricsAddr }

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	corsOrigins := splitCSV(getEnv("CORS_ORIGINS", "http://localhost:5173"))
	corsAllowAll := strings.EqualFold(getEnv("CORS_ALLOW_ALL", "false"), "true")
	if containsWildcard(corsOrigins) {
		corsAllowAll = true
	}

	cfg := &Config{
		Env:                      getEnv("APP_ENV", "development"),
		HTTPAddr:                 getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:              getEnv("DATABASE_URL", ""),
		JWTSecret:                getEnv("JWT_SECRET", ""),
		JWTAudience:              getEnv("JWT_AUDIENCE", "authenticated"),
		CORSAllowAll:             corsAllowAll,
		CORSOrigins:              corsOrigins,
		CORSAllowCreds:           strings.EqualFold(getEnv("CORS_ALLOW_CREDENTIALS", "false"), "true"),
		RateLimitPerSecond:       mustFloat(getEnv("RATE_LIMIT_PER_SECOND", "10")),
		RateLimitBurst:           mustInt(getEnv("RATE_LIMIT_BURST", "40")),
		RedisURL:                 getEnv("REDIS_URL", ""),
		RedisTLSInsecure:         strings.EqualFold(getEnv("REDIS_TLS_INSECURE", "false"), "true"),
		AsynqQueueName:           getEnv("ASYNQ_QUEUE", "followups"),
		AsynqConcurrency:         mustInt(getEnv("ASYNQ_CONCURRENCY", "4")),
		DispatchCron:             getEnv("FOLLOWUP_DISPATCH_CRON", "@every 1m"),
		FollowupDispatcherSecret: strings.TrimSpace(getEnv("FOLLOWUP_DISPATCHER_SECRET", "")),
		FollowupDefaultTimezone:  getEnv("FOLLOWUP_DEFAULT_TIMEZONE", "America/New_York"),
		FollowupBrandName:        getEnv("FOLLOWUP_BRAND_NAME", "CrewCommand"),
		DispatchBatchLimit:       mustInt(getEnv("FOLLOWUP_DISPATCH_BATCH_LIMIT", "200")),
		DispatchLeaseTTL:         mustDuration(getEnv("FOLLOWUP_DISPATCH_LEASE_TTL", "10m")),
		ProviderTimeout:          mustDuration(getEnv("MESSAGING_PROVIDER_TIMEOUT", "15s")),
		TwilioAccountSID:         getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:          getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioFromNumber:         getEnv("TWILIO_FROM_NUMBER", ""),
		TwilioBaseURL:            getEnv("TWILIO_BASE_URL", "https://api.twilio.com"),
		SMSRatePerSecond:         mustFloat(getEnv("SMS_RATE_PER_SECOND", "1")),
		EmailProvider:            strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "resend"))),
		ResendAPIKey:             getEnv("RESEND_API_KEY", ""),
		ResendBaseURL:            getEnv("RESEND_BASE_URL", "https://api.resend.com"),
		EmailFromName:            getEnv("EMAIL_FROM_NAME", "CrewCommand"),
		EmailFromAddress:         getEnv("EMAIL_FROM_ADDRESS", ""),
		SMTPHost:                 getEnv("SMTP_HOST", ""),
		SMTPPort:                 mustInt(getEnv("SMTP_PORT", "587")),
		SMTPUsername:             getEnv("SMTP_USERNAME", ""),
		SMTPPassword:             getEnv("SMTP_PASSWORD", ""),
		PhoneDefaultRegion:       strings.ToUpper(getEnv("PHONE_DEFAULT_REGION", "US")),
		SentryDSN:                getEnv("SENTRY_DSN", ""),
		MetricsEnabled:           strings.EqualFold(getEnv("METRICS_ENABLED", "true"), "true"),
		SchedulerMetricsAddr:     getEnv("SCHEDULER_METRICS_ADDR", ":9091"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if !c.CORSAllowAll && len(c.CORSOrigins) == 0 {
		return fmt.Errorf("CORS_ORIGINS must list at least one origin unless CORS_ALLOW_ALL is true")
	}
	if c.CORSAllowAll && c.CORSAllowCreds {
		return fmt.Errorf("CORS_ALLOW_CREDENTIALS cannot be true when CORS_ALLOW_ALL is true")
	}
	switch c.EmailProvider {
	case "resend", "smtp", "none":
	default:
		return fmt.Errorf("EMAIL_PROVIDER must be one of resend, smtp, none (got %q)", c.EmailProvider)
	}
	if c.EmailProvider == "smtp" && c.SMTPHost == "" {
		return fmt.Errorf("SMTP_HOST is required when EMAIL_PROVIDER is smtp")
	}
	if c.DispatchBatchLimit < 1 || c.DispatchBatchLimit > 1000 {
		return fmt.Errorf("FOLLOWUP_DISPATCH_BATCH_LIMIT must be between 1 and 1000")
	}
	if c.DispatchLeaseTTL <= 0 {
		return fmt.Errorf("FOLLOWUP_DISPATCH_LEASE_TTL must be a positive duration")
	}
	if c.ProviderTimeout <= 0 {
		return fmt.Errorf("MESSAGING_PROVIDER_TIMEOUT must be a positive duration")
	}
	if _, err := time.LoadLocation(c.FollowupDefaultTimezone); err != nil {
		return fmt.Errorf("FOLLOWUP_DEFAULT_TIMEZONE is not a valid IANA zone: %w", err)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}

func mustDuration(value string) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0
	}
	return d
}

func mustInt(value string) int {
	result, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return result
}

func mustFloat(value string) float64 {
	result, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0
	}
	return result
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	results := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			results = append(results, trimmed)
		}
	}
	return results
}

func containsWildcard(values []string) bool {
	for _, value := range values {
		if value == "*" {
			return true
		}
	}
	return false
}
