// Package config loads the run configuration from file, environment and defaults.
package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"tariff-cost/db/clickhouse"
	"tariff-cost/decision/comparison"
	"tariff-cost/decision/tariff"
	"tariff-cost/notify"
)

// EnvPrefix prefixes every environment override, e.g. TARIFFCOST_HISTORY_PATH.
const EnvPrefix = "TARIFFCOST"

// Config is the complete run configuration
type Config struct {
	PlansFile   string `mapstructure:"plans_file"`
	ReportsDir  string `mapstructure:"reports_dir"`
	MetricsFile string `mapstructure:"metrics_file"`

	History    HistoryConfig    `mapstructure:"history"`
	ClickHouse ClickHouseConfig `mapstructure:"clickhouse"`
	Filter     FilterConfig     `mapstructure:"filter"`
	Tracking   TrackingConfig   `mapstructure:"tracking"`
	Pricing    PricingConfig    `mapstructure:"pricing"`
	Notify     NotifyConfig     `mapstructure:"notify"`
	HTTP       HTTPConfig       `mapstructure:"http"`

	// Profiles are keyed by name. Names are lower-cased on load.
	Profiles map[string]ProfileConfig `mapstructure:"profiles"`
}

type HistoryConfig struct {
	Backend         string `mapstructure:"backend"`
	Path            string `mapstructure:"path"`
	RetentionMonths int    `mapstructure:"retention_months"`
}

type ClickHouseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

type FilterConfig struct {
	// EffectiveFrom is a YYYY-MM-DD cutoff; empty disables it
	EffectiveFrom string   `mapstructure:"effective_from"`
	ExcludedPlans []string `mapstructure:"excluded_plans"`
	DisabledRules []string `mapstructure:"disabled_rules"`
}

type TrackingConfig struct {
	Retailers        []string `mapstructure:"retailers"`
	Baselines        []string `mapstructure:"baselines"`
	AbsoluteCheapest bool     `mapstructure:"absolute_cheapest"`
}

type PricingConfig struct {
	Workers int `mapstructure:"workers"`
}

type NotifyConfig struct {
	Channel  string         `mapstructure:"channel"`
	WhatsApp WhatsAppConfig `mapstructure:"whatsapp"`
	NATS     NATSConfig     `mapstructure:"nats"`
}

type WhatsAppConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Session string        `mapstructure:"session"`
	ChatID  string        `mapstructure:"chat_id"`
	Timeout time.Duration `mapstructure:"timeout"`
	Retries int           `mapstructure:"retries"`
}

type NATSConfig struct {
	URL     string `mapstructure:"url"`
	Subject string `mapstructure:"subject"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

// ProfileConfig holds one usage profile. Values are decoded as strings so
// they convert to decimals without passing through float64.
type ProfileConfig struct {
	ConsumptionKWh  string `mapstructure:"consumption_kwh"`
	PeakPercent     string `mapstructure:"peak_percent"`
	ShoulderPercent string `mapstructure:"shoulder_percent"`
	OffPeakPercent  string `mapstructure:"off_peak_percent"`
	SolarExportKWh  string `mapstructure:"solar_export_kwh"`
}

// Load reads path (or tariffcost.{yaml,json} from . and ./configs when path is
// empty), applies TARIFFCOST_* environment overrides and fills defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("tariffcost")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("notify.whatsapp.api_key", "WAHA_API_KEY", EnvPrefix+"_NOTIFY_WHATSAPP_API_KEY")
	_ = v.BindEnv("notify.nats.url", "NATS_URL", EnvPrefix+"_NOTIFY_NATS_URL")
	_ = v.BindEnv("clickhouse.password", "CLICKHOUSE_PASSWORD", EnvPrefix+"_CLICKHOUSE_PASSWORD")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("plans_file", "all_energy_plans.json")
	v.SetDefault("reports_dir", "reports")
	v.SetDefault("metrics_file", "")

	v.SetDefault("history.backend", "file")
	v.SetDefault("history.path", "data/monthly_history.json")
	v.SetDefault("history.retention_months", 24)

	v.SetDefault("clickhouse.host", "localhost")
	v.SetDefault("clickhouse.port", 9000)
	v.SetDefault("clickhouse.database", "tariffcost")
	v.SetDefault("clickhouse.username", "default")
	v.SetDefault("clickhouse.password", "")

	v.SetDefault("filter.effective_from", "")
	v.SetDefault("filter.excluded_plans", []string{})
	v.SetDefault("filter.disabled_rules", []string{})

	v.SetDefault("tracking.retailers", []string{"AGL", "Origin Energy"})
	v.SetDefault("tracking.baselines", []string{"AGL", "Origin Energy"})
	v.SetDefault("tracking.absolute_cheapest", false)

	v.SetDefault("pricing.workers", 8)

	v.SetDefault("notify.channel", "none")
	v.SetDefault("notify.whatsapp.base_url", "http://localhost:3000")
	v.SetDefault("notify.whatsapp.api_key", "")
	v.SetDefault("notify.whatsapp.session", "default")
	v.SetDefault("notify.whatsapp.chat_id", "")
	v.SetDefault("notify.whatsapp.timeout", "15s")
	v.SetDefault("notify.whatsapp.retries", 2)
	v.SetDefault("notify.nats.url", "nats://127.0.0.1:4222")
	v.SetDefault("notify.nats.subject", "tariffcost.opportunities")

	v.SetDefault("http.addr", ":8080")
}

// EffectiveFrom parses the filter cutoff. An empty value yields the zero time.
func (c *Config) EffectiveFrom() (time.Time, error) {
	s := strings.TrimSpace(c.Filter.EffectiveFrom)
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("filter.effective_from: %w", err)
	}
	return t, nil
}

// UsageProfiles converts the configured profiles, sorted by name. Profiles are
// not validated here; the calculator rejects invalid ones per run.
func (c *Config) UsageProfiles() ([]tariff.UsageProfile, error) {
	names := make([]string, 0, len(c.Profiles))
	for name := range c.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)

	profiles := make([]tariff.UsageProfile, 0, len(names))
	for _, name := range names {
		p, err := c.Profiles[name].toUsageProfile(name)
		if err != nil {
			return nil, err
		}
		profiles = append(profiles, p)
	}
	return profiles, nil
}

// Profile returns the named profile
func (c *Config) Profile(name string) (tariff.UsageProfile, error) {
	key := strings.ToLower(name)
	pc, ok := c.Profiles[key]
	if !ok {
		return tariff.UsageProfile{}, fmt.Errorf("unknown profile %q", name)
	}
	return pc.toUsageProfile(key)
}

func (p ProfileConfig) toUsageProfile(name string) (tariff.UsageProfile, error) {
	out := tariff.UsageProfile{Name: name}
	var err error
	if out.QuarterlyConsumptionKWh, err = parseDecimal(name, "consumption_kwh", p.ConsumptionKWh); err != nil {
		return out, err
	}
	if out.PeakPercent, err = parseDecimal(name, "peak_percent", p.PeakPercent); err != nil {
		return out, err
	}
	if out.ShoulderPercent, err = parseDecimal(name, "shoulder_percent", p.ShoulderPercent); err != nil {
		return out, err
	}
	if out.OffPeakPercent, err = parseDecimal(name, "off_peak_percent", p.OffPeakPercent); err != nil {
		return out, err
	}
	if out.SolarExportKWh, err = parseDecimal(name, "solar_export_kwh", p.SolarExportKWh); err != nil {
		return out, err
	}
	return out, nil
}

// parseDecimal treats an empty value as zero
func parseDecimal(profile, key, raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("profiles.%s.%s: %w", profile, key, err)
	}
	return d, nil
}

// =============================================================================
// CONVERSIONS
// =============================================================================

// Comparison builds the comparison engine configuration
func (c *Config) Comparison() (comparison.Config, error) {
	from, err := c.EffectiveFrom()
	if err != nil {
		return comparison.Config{}, err
	}
	return comparison.Config{
		EffectiveFrom:         from,
		Excluded:              c.Filter.ExcludedPlans,
		TrackedRetailers:      c.Tracking.Retailers,
		BaselineRetailers:     c.Tracking.Baselines,
		TrackAbsoluteCheapest: c.Tracking.AbsoluteCheapest,
		Workers:               c.Pricing.Workers,
	}, nil
}

// NotifyOptions builds the notifier options
func (c *Config) NotifyOptions() notify.Options {
	return notify.Options{
		Channel: c.Notify.Channel,
		WhatsApp: notify.WhatsAppConfig{
			BaseURL: c.Notify.WhatsApp.BaseURL,
			APIKey:  c.Notify.WhatsApp.APIKey,
			Session: c.Notify.WhatsApp.Session,
			ChatID:  c.Notify.WhatsApp.ChatID,
			Timeout: c.Notify.WhatsApp.Timeout,
			Retries: c.Notify.WhatsApp.Retries,
		},
		NATS: notify.NATSConfig{
			URL:     c.Notify.NATS.URL,
			Subject: c.Notify.NATS.Subject,
		},
	}
}

// ClickHouseStore builds the ClickHouse connection configuration
func (c *Config) ClickHouseStore() *clickhouse.Config {
	return &clickhouse.Config{
		Host:     c.ClickHouse.Host,
		Port:     c.ClickHouse.Port,
		Database: c.ClickHouse.Database,
		Username: c.ClickHouse.Username,
		Password: c.ClickHouse.Password,
	}
}
