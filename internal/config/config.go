package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	Port                     string        `mapstructure:"PORT" validate:"required,numeric"`
	Env                      string        `mapstructure:"ENV" validate:"oneof=development staging production test"`
	LogLevel                 string        `mapstructure:"LOG_LEVEL"`
	DatabaseURL              string        `mapstructure:"DATABASE_URL" validate:"required"`
	DBMaxConns               int32         `mapstructure:"DB_MAX_CONNS" validate:"gte=1"`
	DBMinConns               int32         `mapstructure:"DB_MIN_CONNS" validate:"gte=0,ltefield=DBMaxConns"`
	DBSchema                 string        `mapstructure:"DB_SCHEMA"`
	RedisURL                 string        `mapstructure:"REDIS_URL"`
	CORSOrigins              []string      `mapstructure:"CORS_ORIGINS"`
	Timezone                 string        `mapstructure:"TIMEZONE" validate:"required"`
	SMSPrefix                string        `mapstructure:"SMS_PREFIX" validate:"required,alphanum"`
	SiteLocationType         string        `mapstructure:"SITE_LOCATION_TYPE" validate:"required"`
	AlertLocationTypes       []string      `mapstructure:"ALERT_LOCATION_TYPES"`
	ExcludedReportGroups     []string      `mapstructure:"EXCLUDED_REPORT_GROUPS"`
	LowStockItem             string        `mapstructure:"LOW_STOCK_ITEM" validate:"required"`
	LowStockMultiplier       string        `mapstructure:"LOW_STOCK_MULTIPLIER" validate:"required,numeric"`
	LowStockHistory          int           `mapstructure:"LOW_STOCK_HISTORY" validate:"gte=1"`
	LowStockExcludedGroups   []string      `mapstructure:"LOW_STOCK_EXCLUDED_GROUPS"`
	LowStockExcludedPrograms []string      `mapstructure:"LOW_STOCK_EXCLUDED_PROGRAMS"`
	NotifyWindowStart        int           `mapstructure:"NOTIFY_WINDOW_START" validate:"gte=0,lte=23"`
	NotifyWindowEnd          int           `mapstructure:"NOTIFY_WINDOW_END" validate:"gte=0,lte=23"`
	SMSGatewayURL            string        `mapstructure:"SMS_GATEWAY_URL" validate:"omitempty,url"`
	SMSGatewayToken          string        `mapstructure:"SMS_GATEWAY_TOKEN"`
	ReferenceRefresh         time.Duration `mapstructure:"REFERENCE_REFRESH_INTERVAL"`
	QueuePollInterval        time.Duration `mapstructure:"QUEUE_POLL_INTERVAL"`
	RemindersSchedule        string        `mapstructure:"REMINDERS_SCHEDULE"`
	StatesSchedule           string        `mapstructure:"STATES_SCHEDULE"`
	RequestTimeout           time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	BodyLimit                string        `mapstructure:"BODY_LIMIT"`
	InboundRateLimit         float64       `mapstructure:"INBOUND_RATE_LIMIT" validate:"gte=0"`
	InboundRateBurst         int           `mapstructure:"INBOUND_RATE_BURST" validate:"gte=0"`
	HSTSMaxAge               time.Duration `mapstructure:"HSTS_MAX_AGE" validate:"gte=0"`
	ReferenceCacheTTL        time.Duration `mapstructure:"REFERENCE_CACHE_TTL" validate:"gte=0"`
}

// listKeys are comma separated in the environment.
var listKeys = []string{
	"CORS_ORIGINS",
	"ALERT_LOCATION_TYPES",
	"EXCLUDED_REPORT_GROUPS",
	"LOW_STOCK_EXCLUDED_GROUPS",
	"LOW_STOCK_EXCLUDED_PROGRAMS",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("DB_SCHEMA", "public")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("TIMEZONE", "Africa/Lagos")
	v.SetDefault("SMS_PREFIX", "SAM")
	v.SetDefault("SITE_LOCATION_TYPE", "adm6")
	v.SetDefault("ALERT_LOCATION_TYPES", "adm1,adm2")
	v.SetDefault("EXCLUDED_REPORT_GROUPS", "05")
	v.SetDefault("LOW_STOCK_ITEM", "RUTF")
	v.SetDefault("LOW_STOCK_MULTIPLIER", "1.5")
	v.SetDefault("LOW_STOCK_HISTORY", 4)
	v.SetDefault("LOW_STOCK_EXCLUDED_GROUPS", "05")
	v.SetDefault("LOW_STOCK_EXCLUDED_PROGRAMS", "SFP")
	v.SetDefault("NOTIFY_WINDOW_START", 8)
	v.SetDefault("NOTIFY_WINDOW_END", 20)
	v.SetDefault("REFERENCE_REFRESH_INTERVAL", "10m")
	v.SetDefault("QUEUE_POLL_INTERVAL", "5s")
	v.SetDefault("REMINDERS_SCHEDULE", "0 0 8 * * 1")
	v.SetDefault("STATES_SCHEDULE", "0 30 1 * * *")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("BODY_LIMIT", "64K")
	v.SetDefault("INBOUND_RATE_LIMIT", 20)
	v.SetDefault("INBOUND_RATE_BURST", 40)
	v.SetDefault("HSTS_MAX_AGE", "0s")
	v.SetDefault("REFERENCE_CACHE_TTL", "5m")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range []string{
		"PORT", "ENV", "LOG_LEVEL", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
		"DB_SCHEMA", "REDIS_URL", "CORS_ORIGINS", "TIMEZONE", "SMS_PREFIX",
		"SITE_LOCATION_TYPE", "ALERT_LOCATION_TYPES", "EXCLUDED_REPORT_GROUPS",
		"LOW_STOCK_ITEM", "LOW_STOCK_MULTIPLIER", "LOW_STOCK_HISTORY",
		"LOW_STOCK_EXCLUDED_GROUPS", "LOW_STOCK_EXCLUDED_PROGRAMS",
		"NOTIFY_WINDOW_START", "NOTIFY_WINDOW_END", "SMS_GATEWAY_URL",
		"SMS_GATEWAY_TOKEN", "REFERENCE_REFRESH_INTERVAL", "QUEUE_POLL_INTERVAL",
		"REMINDERS_SCHEDULE", "STATES_SCHEDULE", "REQUEST_TIMEOUT", "BODY_LIMIT",
		"INBOUND_RATE_LIMIT", "INBOUND_RATE_BURST", "HSTS_MAX_AGE", "REFERENCE_CACHE_TTL",
	} {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// viper only splits lists that arrive as slices; env values are strings.
	for _, key := range listKeys {
		list := splitList(v.GetString(key))
		switch key {
		case "CORS_ORIGINS":
			cfg.CORSOrigins = list
		case "ALERT_LOCATION_TYPES":
			cfg.AlertLocationTypes = list
		case "EXCLUDED_REPORT_GROUPS":
			cfg.ExcludedReportGroups = list
		case "LOW_STOCK_EXCLUDED_GROUPS":
			cfg.LowStockExcludedGroups = list
		case "LOW_STOCK_EXCLUDED_PROGRAMS":
			cfg.LowStockExcludedPrograms = list
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Location resolves TIMEZONE. Notification windows are evaluated in it.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Multiplier parses LOW_STOCK_MULTIPLIER.
func (c *Config) Multiplier() decimal.Decimal {
	d, err := decimal.NewFromString(c.LowStockMultiplier)
	if err != nil {
		return decimal.NewFromFloat(1.5)
	}
	return d
}

// Validate checks that the configuration is safe to run.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.NotifyWindowStart >= c.NotifyWindowEnd {
		return fmt.Errorf("NOTIFY_WINDOW_START (%d) must be before NOTIFY_WINDOW_END (%d)",
			c.NotifyWindowStart, c.NotifyWindowEnd)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if c.IsProduction() && c.SMSGatewayURL == "" {
		return fmt.Errorf("SMS_GATEWAY_URL is required in production")
	}
	if len(c.AlertLocationTypes) == 0 {
		return fmt.Errorf("ALERT_LOCATION_TYPES must name at least one location type")
	}
	return nil
}
