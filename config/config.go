// Package config loads service configuration from defaults, an optional
// YAML file, a .env file and DAYSERVICE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/kizuna/dayservice/attendance"
	"github.com/kizuna/dayservice/billing"
	"github.com/kizuna/dayservice/generic"
)

// EnvPrefix is prepended to every environment override, e.g.
// DAYSERVICE_SERVER_PORT for server.port.
const EnvPrefix = "DAYSERVICE"

type Config struct {
	Server    ServerConfig               `mapstructure:"server"`
	Database  DatabaseConfig             `mapstructure:"db"`
	Log       LogConfig                  `mapstructure:"log"`
	Facility  FacilityConfig             `mapstructure:"facility"`
	Billing   BillingConfig              `mapstructure:"billing"`
	Extension attendance.ExtensionPolicy `mapstructure:"extension"`
	Scheduler SchedulerConfig            `mapstructure:"scheduler"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	AllowOrigins    []string      `mapstructure:"allow_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig points at the SQLite file. An empty path selects the
// in-memory store.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// FacilityConfig holds the facility's calendar settings.
type FacilityConfig struct {
	Timezone         string `mapstructure:"timezone"`
	FiscalStartMonth int    `mapstructure:"fiscal_start_month"`
}

// BillingConfig carries rates as strings so they reach decimal without
// passing through float64.
type BillingConfig struct {
	UnitsPerVisit string `mapstructure:"units_per_visit"`
	YenPerUnit    string `mapstructure:"yen_per_unit"`
	CopayRate     string `mapstructure:"copay_rate"`
	Workers       int    `mapstructure:"workers"`
}

type SchedulerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Interval     time.Duration `mapstructure:"interval"`
	LookbackDays int           `mapstructure:"lookback_days"`
}

// LoadDotEnv loads .env style files into the process environment. Missing
// files are not an error. Variables already set are left untouched.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads configuration. Precedence: environment > file > defaults.
// An empty path searches ./config.yaml and ./config/config.yaml.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allow_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("db.path", "./data/dayservice.db")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("facility.timezone", "Asia/Tokyo")
	v.SetDefault("facility.fiscal_start_month", 4)

	v.SetDefault("billing.units_per_visit", "600")
	v.SetDefault("billing.yen_per_unit", "10")
	v.SetDefault("billing.copay_rate", "0.1")
	v.SetDefault("billing.workers", 4)

	ext := attendance.DefaultExtensionPolicy()
	v.SetDefault("extension.after_school_baseline", ext.AfterSchoolBaseline)
	v.SetDefault("extension.holiday_school_baseline", ext.HolidaySchoolBaseline)
	v.SetDefault("extension.class1_from", ext.Class1From)
	v.SetDefault("extension.class2_from", ext.Class2From)
	v.SetDefault("extension.class3_from", ext.Class3From)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", "1h")
	v.SetDefault("scheduler.lookback_days", 31)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings the service cannot run without.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port must be within 1-65535")
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("config: log.format must be json or console, got %q", c.Log.Format)
	}
	if c.Facility.FiscalStartMonth < 1 || c.Facility.FiscalStartMonth > 12 {
		return fmt.Errorf("config: facility.fiscal_start_month must be within 1-12")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	rates, err := c.Rates()
	if err != nil {
		return err
	}
	if err := rates.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := c.Extension.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Scheduler.Enabled && c.Scheduler.Interval <= 0 {
		return fmt.Errorf("config: scheduler.interval must be positive")
	}
	if c.Scheduler.LookbackDays < 0 {
		return fmt.Errorf("config: scheduler.lookback_days must not be negative")
	}
	return nil
}

// Rates converts the billing section into a RateConfig.
func (c *Config) Rates() (billing.RateConfig, error) {
	units, err := decimal.NewFromString(c.Billing.UnitsPerVisit)
	if err != nil {
		return billing.RateConfig{}, fmt.Errorf("config: billing.units_per_visit: %w", err)
	}
	yen, err := decimal.NewFromString(c.Billing.YenPerUnit)
	if err != nil {
		return billing.RateConfig{}, fmt.Errorf("config: billing.yen_per_unit: %w", err)
	}
	copay, err := decimal.NewFromString(c.Billing.CopayRate)
	if err != nil {
		return billing.RateConfig{}, fmt.Errorf("config: billing.copay_rate: %w", err)
	}
	return billing.RateConfig{UnitsPerVisit: units, YenPerUnit: yen, CopayRate: copay}, nil
}

// Location resolves the facility time zone. Asia/Tokyo falls back to a
// fixed +09:00 zone on hosts without tzdata.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Facility.Timezone)
	if err == nil {
		return loc, nil
	}
	if c.Facility.Timezone == "Asia/Tokyo" {
		return time.FixedZone("JST", 9*60*60), nil
	}
	return nil, fmt.Errorf("config: facility.timezone: %w", err)
}

func (c *Config) Calendar() generic.FiscalCalendar {
	return generic.FiscalCalendar{StartMonth: time.Month(c.Facility.FiscalStartMonth)}
}
