// Package config loads service configuration from an optional YAML file and
// the environment.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"libraledger/internal/circulation"
)

const (
	DriverBolt     = "bolt"
	DriverPostgres = "postgres"
)

// Config holds all libraledger configuration.
type Config struct {
	HTTP        HTTPConfig        `yaml:"http"`
	Store       StoreConfig       `yaml:"store"`
	Catalog     CatalogConfig     `yaml:"catalog"`
	Circulation CirculationConfig `yaml:"circulation"`
	Audit       AuditConfig       `yaml:"audit"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Logging     LoggingConfig     `yaml:"logging"`
}

type HTTPConfig struct {
	Addr            string `yaml:"addr"`
	ShutdownTimeout string `yaml:"shutdown_timeout"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver      string `yaml:"driver"` // bolt, postgres
	BoltPath    string `yaml:"bolt_path"`
	DatabaseURL string `yaml:"database_url"`
}

type CatalogConfig struct {
	// AccessionWidth is the zero-padding of counter-allocated accession numbers.
	AccessionWidth int `yaml:"accession_width"`
}

// CirculationConfig configures loan policy. DailyFineRate is a decimal
// string so that rates such as "0.50" stay exact.
type CirculationConfig struct {
	LoanDays        int    `yaml:"loan_days"`
	FacultyLoanDays int    `yaml:"faculty_loan_days"`
	DailyFineRate   string `yaml:"daily_fine_rate"`
	PageSize        int    `yaml:"page_size"`
}

type AuditConfig struct {
	Interval   string `yaml:"interval"`
	SampleSize int    `yaml:"sample_size"`
	ReportPath string `yaml:"report_path"`

	// OnDemandPerMinute bounds GET /audit/report.
	OnDemandPerMinute int `yaml:"on_demand_per_minute"`
}

type TelemetryConfig struct {
	ServiceName  string `yaml:"service_name"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ShutdownTimeout: "10s",
		},
		Store: StoreConfig{
			Driver:   DriverBolt,
			BoltPath: "data/libraledger.db",
		},
		Catalog: CatalogConfig{
			AccessionWidth: 6,
		},
		Circulation: CirculationConfig{
			LoanDays:        circulation.DefaultLoanDays,
			FacultyLoanDays: circulation.DefaultLoanDays,
			DailyFineRate:   "1",
			PageSize:        100,
		},
		Audit: AuditConfig{
			Interval:          "1h",
			SampleSize:        20,
			ReportPath:        "data/audit-report.json",
			OnDemandPerMinute: 5,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "libraledger",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from a YAML file over the defaults and applies
// environment overrides. An empty or missing path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if port := os.Getenv("PORT"); port != "" {
		c.HTTP.Addr = ":" + port
	}
	if url := os.Getenv("DATABASE_URL"); url != "" {
		c.Store.DatabaseURL = url
		if os.Getenv("STORE_DRIVER") == "" {
			c.Store.Driver = DriverPostgres
		}
	}
	if driver := os.Getenv("STORE_DRIVER"); driver != "" {
		c.Store.Driver = driver
	}
	if path := os.Getenv("BOLT_PATH"); path != "" {
		c.Store.BoltPath = path
	}
	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		c.Telemetry.OTLPEndpoint = endpoint
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if path := os.Getenv("AUDIT_REPORT_PATH"); path != "" {
		c.Audit.ReportPath = path
	}
}

// Validate checks the values that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverBolt:
		if c.Store.BoltPath == "" {
			return fmt.Errorf("store.bolt_path is required for the bolt driver")
		}
	case DriverPostgres:
		if c.Store.DatabaseURL == "" {
			return fmt.Errorf("store.database_url is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	if _, err := c.Policy(); err != nil {
		return err
	}
	if _, err := time.ParseDuration(c.Audit.Interval); err != nil {
		return fmt.Errorf("invalid audit.interval %q: %w", c.Audit.Interval, err)
	}
	return nil
}

// Policy returns the loan policy described by the circulation section.
func (c *Config) Policy() (circulation.Policy, error) {
	rate, err := decimal.NewFromString(c.Circulation.DailyFineRate)
	if err != nil {
		return circulation.Policy{}, fmt.Errorf("invalid circulation.daily_fine_rate %q: %w", c.Circulation.DailyFineRate, err)
	}
	if rate.IsNegative() {
		return circulation.Policy{}, fmt.Errorf("circulation.daily_fine_rate must not be negative, got %s", rate)
	}
	return circulation.Policy{
		LoanDays:        c.Circulation.LoanDays,
		FacultyLoanDays: c.Circulation.FacultyLoanDays,
		DailyRate:       rate,
	}, nil
}

// AuditInterval returns the audit interval as a duration.
func (c *Config) AuditInterval() time.Duration {
	d, err := time.ParseDuration(c.Audit.Interval)
	if err != nil || d <= 0 {
		return time.Hour
	}
	return d
}

// ShutdownTimeout returns the HTTP shutdown grace period.
func (c *Config) ShutdownTimeout() time.Duration {
	d, err := time.ParseDuration(c.HTTP.ShutdownTimeout)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
}
