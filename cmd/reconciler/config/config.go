// Package config loads the reconciler's settings from flags, environment,
// an optional .env file and an optional config file.
//
// Keys are grouped by section (database, payments, matching, parsing,
// logging, http) and every key can be overridden with a RECONCILER_ variable
// where dots become underscores, e.g. RECONCILER_DATABASE_DSN.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"settlement-reconciliation-service/internal/matcher"
	"settlement-reconciliation-service/internal/parsers"
	"settlement-reconciliation-service/internal/reconciler"
	"settlement-reconciliation-service/internal/store"
	"settlement-reconciliation-service/pkg/logger"
)

// EnvPrefix is the prefix of every environment override
const EnvPrefix = "RECONCILER"

// DatabaseConfig selects the reconciliation database
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"`
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	LogSQL       bool   `mapstructure:"log_sql"`
	// MigratePayments creates a local payments table; used when payments live in the same database
	MigratePayments bool `mapstructure:"migrate_payments"`
}

// PaymentsConfig points at the sales database holding received payments.
// An empty DSN reads payments from the reconciliation database.
type PaymentsConfig struct {
	DSN string `mapstructure:"dsn"`
}

// MatchingConfig is the file form of matcher.MatchingConfig
type MatchingConfig struct {
	matcher.MatchingConfig `mapstructure:",squash"`
	Timezone               string `mapstructure:"timezone"`
	ExcludeBookedPayments  bool   `mapstructure:"exclude_booked_payments"`
}

// HTTPConfig configures the serve command
type HTTPConfig struct {
	Addr          string   `mapstructure:"addr"`
	AllowOrigins  []string `mapstructure:"allow_origins"`
	MaxUploadMB   int64    `mapstructure:"max_upload_mb"`
	DefaultTenant string   `mapstructure:"default_tenant"`
}

// AppConfig is the complete application configuration
type AppConfig struct {
	Tenant   string              `mapstructure:"tenant"`
	User     string              `mapstructure:"user"`
	Verbose  bool                `mapstructure:"verbose"`
	Database DatabaseConfig      `mapstructure:"database"`
	Payments PaymentsConfig      `mapstructure:"payments"`
	Matching MatchingConfig      `mapstructure:"matching"`
	Parsing  parsers.ParseConfig `mapstructure:"parsing"`
	Logging  logger.Config       `mapstructure:"logging"`
	HTTP     HTTPConfig          `mapstructure:"http"`
}

// SetDefaults registers the default value of every key on v
func SetDefaults(v *viper.Viper) {
	m := matcher.DefaultMatchingConfig()
	p := parsers.DefaultParseConfig()
	l := logger.DefaultConfig()

	v.SetDefault("tenant", "")
	v.SetDefault("user", "")
	v.SetDefault("verbose", false)

	v.SetDefault("database.driver", store.DriverSQLite)
	v.SetDefault("database.dsn", "reconciler.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.log_sql", false)
	v.SetDefault("database.migrate_payments", false)

	v.SetDefault("payments.dsn", "")

	v.SetDefault("matching.amount_tolerance_percent", m.AmountTolerancePercent)
	v.SetDefault("matching.brand_date_window_days", m.BrandDateWindowDays)
	v.SetDefault("matching.amount_date_window_days", m.AmountDateWindowDays)
	v.SetDefault("matching.candidate_padding_days", m.CandidatePaddingDays)
	v.SetDefault("matching.fallback_window_days", m.FallbackWindowDays)
	v.SetDefault("matching.auto_accept_threshold", m.AutoAcceptThreshold)
	v.SetDefault("matching.business_timezone", m.BusinessTimezone)
	v.SetDefault("matching.progress_log_interval", m.ProgressLogInterval)
	v.SetDefault("matching.timezone", "ignore")
	v.SetDefault("matching.exclude_booked_payments", true)

	v.SetDefault("parsing.max_errors", p.MaxErrors)
	v.SetDefault("parsing.skip_blank_rows", p.SkipBlankRows)

	v.SetDefault("logging.level", string(l.Level))
	v.SetDefault("logging.format", string(l.Format))
	v.SetDefault("logging.output", string(l.Output))

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.allow_origins", []string{"http://localhost:3000"})
	v.SetDefault("http.max_upload_mb", 32)
	v.SetDefault("http.default_tenant", "")
}

// ConfigureEnv makes v read RECONCILER_SECTION_KEY variables
func ConfigureEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
}

// Load decodes and validates the configuration held by v
func Load(v *viper.Viper) (*AppConfig, error) {
	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	mode, err := matcher.ParseTimezoneMode(cfg.Matching.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid matching configuration: %w", err)
	}
	cfg.Matching.TimezoneHandling = mode

	if cfg.Verbose {
		cfg.Logging.Level = logger.DebugLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every section
func (c *AppConfig) Validate() error {
	switch strings.ToLower(c.Database.Driver) {
	case store.DriverSQLite, "sqlite3", store.DriverPostgres, "postgresql":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("database dsn is required")
	}
	if c.Database.MaxOpenConns < 0 {
		return fmt.Errorf("database max open conns cannot be negative, got %d", c.Database.MaxOpenConns)
	}
	if err := c.Matching.MatchingConfig.Validate(); err != nil {
		return fmt.Errorf("invalid matching configuration: %w", err)
	}
	if err := c.Parsing.Validate(); err != nil {
		return fmt.Errorf("invalid parsing configuration: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("invalid logging configuration: %w", err)
	}
	if c.HTTP.MaxUploadMB < 0 {
		return fmt.Errorf("http max upload cannot be negative, got %d", c.HTTP.MaxUploadMB)
	}
	return nil
}

// StoreOptions converts the database section for store.Open
func (c *AppConfig) StoreOptions(log logger.Logger) store.Options {
	return store.Options{
		Driver:          c.Database.Driver,
		DSN:             c.Database.DSN,
		MaxOpenConns:    c.Database.MaxOpenConns,
		MigratePayments: c.Database.MigratePayments,
		LogSQL:          c.Database.LogSQL,
		Logger:          log,
	}
}

// ReconcilerConfig builds the service configuration
func (c *AppConfig) ReconcilerConfig() *reconciler.Config {
	matching := c.Matching.MatchingConfig
	parsing := c.Parsing
	return &reconciler.Config{
		Matching:              &matching,
		Parsing:               &parsing,
		ExcludeBookedPayments: c.Matching.ExcludeBookedPayments,
	}
}
