// Package config provides configuration management for the position advisor.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata" // schedule timezones on hosts without zoneinfo

	"github.com/joho/godotenv"
	yaml "gopkg.in/yaml.v3"

	"github.com/eddiefleurent/strike_advisor/internal/models"
)

// Decision policy defaults
const (
	defaultProfitCapturePct   = 0.60
	defaultPullBackMaxNetCost = 0.10
	defaultWeeklyMaxITMPct    = 0.05
	defaultWeeklyMaxDebit     = 1.00
	defaultReversionMaxITMPct = 0.08
	defaultReversionMinDays   = 5
	defaultFarDatedDays       = 60
	defaultCompressMinDays    = 45
	defaultCompressMaxDays    = 90
	defaultSameStrikeMaxDebit = 1.00
	defaultEscapeHorizonDays  = 180
	defaultPremiumCapPct      = 0.20
	defaultNearITMMaxOTMPct   = 0.02
	defaultNearITMHighOTMPct  = 0.01
	defaultNearITMMaxDays     = 7
	defaultWeeklyRollMaxDays  = 14
	defaultWeeklyMinProbOTM   = 0.70
)

// Lifecycle, reconciliation and runtime defaults
const (
	defaultCooldown             = "4h"
	defaultMinScore             = 50.0
	defaultStrikeModifyPct      = 3.0
	defaultExpirationModifyDays = 2
	defaultPatternMinCount      = 3
	defaultLowPremiumThreshold  = 0.50
	defaultMarketDataTimeout    = "10s"
	defaultMaxIndicatorAge      = "30m"
	defaultParallelism          = 8
	defaultTimezone             = "America/New_York"
	defaultCheckInterval        = "1m"
)

// Config represents the complete application configuration.
type Config struct {
	Environment    EnvironmentConfig    `yaml:"environment"`
	Schedule       ScheduleConfig       `yaml:"schedule"`
	Decision       DecisionConfig       `yaml:"decision"`
	Lifecycle      LifecycleConfig      `yaml:"lifecycle"`
	Reconciliation ReconciliationConfig `yaml:"reconciliation"`
	MarketData     MarketDataConfig     `yaml:"market_data"`
	Scan           ScanConfig           `yaml:"scan"`
	Storage        StorageConfig        `yaml:"storage"`
	Holdings       HoldingsConfig       `yaml:"holdings"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	LogLevel  string `yaml:"log_level"`  // debug | info | warn | error
	LogFormat string `yaml:"log_format"` // text | json
}

// ScheduleConfig defines when each of the five daily passes runs ("HH:MM" local time).
type ScheduleConfig struct {
	Timezone      string `yaml:"timezone"`
	CheckInterval string `yaml:"check_interval"`
	FullScan      string `yaml:"full_scan"`
	PostOpen      string `yaml:"post_open"`
	Midday        string `yaml:"midday"`
	PreClose      string `yaml:"pre_close"`
	Evening       string `yaml:"evening"`
}

// DecisionConfig holds the decision engine thresholds. Percentages are fractions.
type DecisionConfig struct {
	ProfitCapturePct float64         `yaml:"profit_capture_pct"`
	PullBack         PullBackConfig  `yaml:"pull_back"`
	WeeklyIncome     WeeklyConfig    `yaml:"weekly_income"`
	Reversion        ReversionConfig `yaml:"reversion"`
	ITM              ITMConfig       `yaml:"itm"`
	NearITM          NearITMConfig   `yaml:"near_itm"`
	WeeklyRoll       WeeklyRollCfg   `yaml:"weekly_roll"`
}

// PullBackConfig bounds pull-back re-entries.
type PullBackConfig struct {
	MaxNetCost float64 `yaml:"max_net_cost"`
}

// WeeklyConfig bounds the weekly-income compress.
type WeeklyConfig struct {
	MaxITMPct float64 `yaml:"max_itm_pct"`
	MaxDebit  float64 `yaml:"max_debit"`
}

// ReversionConfig defines the technical-reversion monitor.
type ReversionConfig struct {
	MaxITMPct   float64 `yaml:"max_itm_pct"`
	MinDays     int     `yaml:"min_days"`
	PutBandMax  float64 `yaml:"put_band_max"`
	PutRSIMax   float64 `yaml:"put_rsi_max"`
	CallBandMin float64 `yaml:"call_band_min"`
	CallRSIMin  float64 `yaml:"call_rsi_min"`
}

// ITMConfig defines ITM handling.
type ITMConfig struct {
	FarDatedDays       int     `yaml:"far_dated_days"`
	CompressMinDays    int     `yaml:"compress_min_days"`
	CompressMaxDays    int     `yaml:"compress_max_days"`
	SameStrikeMaxDebit float64 `yaml:"same_strike_max_debit"`
	EscapeHorizonDays  int     `yaml:"escape_horizon_days"`
	PremiumCapPct      float64 `yaml:"premium_cap_pct"`
}

// NearITMConfig defines the near-strike warning.
type NearITMConfig struct {
	MaxOTMPct  float64 `yaml:"max_otm_pct"`
	HighOTMPct float64 `yaml:"high_otm_pct"`
	MaxDays    int     `yaml:"max_days"`
}

// WeeklyRollCfg defines the profit-capture roll.
type WeeklyRollCfg struct {
	MaxDays    int     `yaml:"max_days"`
	MinProbOTM float64 `yaml:"min_prob_otm"`
}

// LifecycleConfig defines notify/suppress behavior.
type LifecycleConfig struct {
	Cooldown      string   `yaml:"cooldown"`
	SilentActions []string `yaml:"silent_actions"`
}

// ReconciliationConfig defines matching and pattern-mining thresholds.
type ReconciliationConfig struct {
	MinScore             float64 `yaml:"min_score"`
	StrikeModifyPct      float64 `yaml:"strike_modify_pct"`
	ExpirationModifyDays int     `yaml:"expiration_modify_days"`
	PatternMinCount      int     `yaml:"pattern_min_count"`
	LowPremiumThreshold  float64 `yaml:"low_premium_threshold"`
}

// MarketDataConfig defines collaborator call behavior.
type MarketDataConfig struct {
	Provider        string               `yaml:"provider"` // mock
	Timeout         string               `yaml:"timeout"`
	MaxIndicatorAge string               `yaml:"max_indicator_age"`
	Retries         int                  `yaml:"retries"`
	CircuitBreaker  CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig configures the breakers around market-data collaborators.
type CircuitBreakerConfig struct {
	MaxRequests  uint32  `yaml:"max_requests"`
	Interval     string  `yaml:"interval"`
	Timeout      string  `yaml:"timeout"`
	MinRequests  uint32  `yaml:"min_requests"`
	FailureRatio float64 `yaml:"failure_ratio"`
}

// ScanConfig defines evaluation fan-out.
type ScanConfig struct {
	Parallelism int `yaml:"parallelism"`
}

// StorageConfig defines the SQLite database location.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// HoldingsConfig defines where open positions and realized trades are read from.
type HoldingsConfig struct {
	Path       string `yaml:"path"`
	LedgerPath string `yaml:"ledger_path"`
}

// Load reads and parses the configuration file from the specified path.
// A .env file next to the config is loaded first so ${VARS} can reference it.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	envPath := filepath.Join(filepath.Dir(configPath), ".env")
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("loading %s: %w", envPath, err)
		}
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes, normalizes and validates raw YAML.
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	config.normalize()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Default returns a configuration with every default applied.
func Default() *Config {
	var c Config
	c.normalize()
	return &c
}

// normalize fills unset values with defaults
func (c *Config) normalize() {
	if c.Environment.LogLevel == "" {
		c.Environment.LogLevel = "info"
	}
	if c.Environment.LogFormat == "" {
		c.Environment.LogFormat = "text"
	}

	s := &c.Schedule
	setString(&s.Timezone, defaultTimezone)
	setString(&s.CheckInterval, defaultCheckInterval)
	setString(&s.FullScan, "08:45")
	setString(&s.PostOpen, "09:45")
	setString(&s.Midday, "12:30")
	setString(&s.PreClose, "15:30")
	setString(&s.Evening, "19:00")

	d := &c.Decision
	setFloat(&d.ProfitCapturePct, defaultProfitCapturePct)
	setFloat(&d.PullBack.MaxNetCost, defaultPullBackMaxNetCost)
	setFloat(&d.WeeklyIncome.MaxITMPct, defaultWeeklyMaxITMPct)
	setFloat(&d.WeeklyIncome.MaxDebit, defaultWeeklyMaxDebit)
	setFloat(&d.Reversion.MaxITMPct, defaultReversionMaxITMPct)
	setInt(&d.Reversion.MinDays, defaultReversionMinDays)
	setFloat(&d.Reversion.PutBandMax, 0.35)
	setFloat(&d.Reversion.PutRSIMax, 40)
	setFloat(&d.Reversion.CallBandMin, 0.65)
	setFloat(&d.Reversion.CallRSIMin, 60)
	setInt(&d.ITM.FarDatedDays, defaultFarDatedDays)
	setInt(&d.ITM.CompressMinDays, defaultCompressMinDays)
	setInt(&d.ITM.CompressMaxDays, defaultCompressMaxDays)
	setFloat(&d.ITM.SameStrikeMaxDebit, defaultSameStrikeMaxDebit)
	setInt(&d.ITM.EscapeHorizonDays, defaultEscapeHorizonDays)
	setFloat(&d.ITM.PremiumCapPct, defaultPremiumCapPct)
	setFloat(&d.NearITM.MaxOTMPct, defaultNearITMMaxOTMPct)
	setFloat(&d.NearITM.HighOTMPct, defaultNearITMHighOTMPct)
	setInt(&d.NearITM.MaxDays, defaultNearITMMaxDays)
	setInt(&d.WeeklyRoll.MaxDays, defaultWeeklyRollMaxDays)
	setFloat(&d.WeeklyRoll.MinProbOTM, defaultWeeklyMinProbOTM)

	setString(&c.Lifecycle.Cooldown, defaultCooldown)
	if c.Lifecycle.SilentActions == nil {
		c.Lifecycle.SilentActions = []string{string(models.ActionMonitor)}
	}

	r := &c.Reconciliation
	setFloat(&r.MinScore, defaultMinScore)
	setFloat(&r.StrikeModifyPct, defaultStrikeModifyPct)
	setInt(&r.ExpirationModifyDays, defaultExpirationModifyDays)
	setInt(&r.PatternMinCount, defaultPatternMinCount)
	setFloat(&r.LowPremiumThreshold, defaultLowPremiumThreshold)

	m := &c.MarketData
	setString(&m.Provider, "mock")
	setString(&m.Timeout, defaultMarketDataTimeout)
	setString(&m.MaxIndicatorAge, defaultMaxIndicatorAge)
	if m.CircuitBreaker.MaxRequests == 0 {
		m.CircuitBreaker.MaxRequests = 3
	}
	setString(&m.CircuitBreaker.Interval, "60s")
	setString(&m.CircuitBreaker.Timeout, "30s")
	if m.CircuitBreaker.MinRequests == 0 {
		m.CircuitBreaker.MinRequests = 5
	}
	setFloat(&m.CircuitBreaker.FailureRatio, 0.6)

	setInt(&c.Scan.Parallelism, defaultParallelism)
	setString(&c.Storage.Path, "advisor.db")
	setString(&c.Holdings.Path, "positions.yaml")
	setString(&c.Holdings.LedgerPath, "executions.yaml")
}

// Validate checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	switch c.Environment.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("environment.log_level must be one of debug|info|warn|error")
	}
	if c.Environment.LogFormat != "text" && c.Environment.LogFormat != "json" {
		return fmt.Errorf("environment.log_format must be 'text' or 'json'")
	}

	// Schedule validation
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("schedule.timezone invalid: %w", err)
	}
	if _, err := time.ParseDuration(c.Schedule.CheckInterval); err != nil {
		return fmt.Errorf("schedule.check_interval invalid: %w", err)
	}
	for name, clock := range c.PassTimes() {
		if _, err := time.Parse("15:04", clock); err != nil {
			return fmt.Errorf("schedule.%s must be HH:MM (got %q)", name, clock)
		}
	}

	// Decision validation
	d := c.Decision
	if d.ProfitCapturePct <= 0 || d.ProfitCapturePct >= 1 {
		return fmt.Errorf("decision.profit_capture_pct must be in (0,1)")
	}
	if d.WeeklyIncome.MaxITMPct <= 0 || d.WeeklyIncome.MaxITMPct > d.Reversion.MaxITMPct {
		return fmt.Errorf("decision.weekly_income.max_itm_pct (%.3f) must be in (0, reversion.max_itm_pct]",
			d.WeeklyIncome.MaxITMPct)
	}
	if d.ITM.CompressMinDays <= 0 || d.ITM.CompressMinDays > d.ITM.CompressMaxDays {
		return fmt.Errorf("decision.itm compress window [%d,%d] invalid",
			d.ITM.CompressMinDays, d.ITM.CompressMaxDays)
	}
	if d.ITM.EscapeHorizonDays <= 0 {
		return fmt.Errorf("decision.itm.escape_horizon_days must be > 0")
	}
	if d.ITM.PremiumCapPct < 0 || d.ITM.PremiumCapPct > 1 {
		return fmt.Errorf("decision.itm.premium_cap_pct must be in [0,1]")
	}
	if d.NearITM.HighOTMPct > d.NearITM.MaxOTMPct {
		return fmt.Errorf("decision.near_itm.high_otm_pct (%.3f) must be <= max_otm_pct (%.3f)",
			d.NearITM.HighOTMPct, d.NearITM.MaxOTMPct)
	}
	if d.WeeklyRoll.MinProbOTM <= 0 || d.WeeklyRoll.MinProbOTM >= 1 {
		return fmt.Errorf("decision.weekly_roll.min_prob_otm must be in (0,1)")
	}

	// Lifecycle validation
	if cd, err := time.ParseDuration(c.Lifecycle.Cooldown); err != nil || cd <= 0 {
		return fmt.Errorf("lifecycle.cooldown must be a positive duration (got %q)", c.Lifecycle.Cooldown)
	}
	for _, a := range c.Lifecycle.SilentActions {
		if !models.Action(a).Valid() {
			return fmt.Errorf("lifecycle.silent_actions: unknown action %q", a)
		}
	}

	// Reconciliation validation
	r := c.Reconciliation
	if r.MinScore <= 0 || r.MinScore > 100 {
		return fmt.Errorf("reconciliation.min_score must be in (0,100]")
	}
	if r.PatternMinCount < 2 {
		return fmt.Errorf("reconciliation.pattern_min_count must be >= 2")
	}

	// Market data validation
	if c.MarketData.Provider != "mock" {
		return fmt.Errorf("market_data.provider %q is not bundled; only 'mock' is available", c.MarketData.Provider)
	}
	if _, err := time.ParseDuration(c.MarketData.Timeout); err != nil {
		return fmt.Errorf("market_data.timeout invalid: %w", err)
	}
	if _, err := time.ParseDuration(c.MarketData.MaxIndicatorAge); err != nil {
		return fmt.Errorf("market_data.max_indicator_age invalid: %w", err)
	}
	if c.MarketData.Retries < 0 {
		return errors.New("market_data.retries must be >= 0")
	}
	cb := c.MarketData.CircuitBreaker
	if cb.FailureRatio <= 0 || cb.FailureRatio > 1 {
		return fmt.Errorf("market_data.circuit_breaker.failure_ratio must be in (0,1]")
	}
	if _, err := time.ParseDuration(cb.Interval); err != nil {
		return fmt.Errorf("market_data.circuit_breaker.interval invalid: %w", err)
	}
	if _, err := time.ParseDuration(cb.Timeout); err != nil {
		return fmt.Errorf("market_data.circuit_breaker.timeout invalid: %w", err)
	}

	if c.Scan.Parallelism <= 0 {
		return fmt.Errorf("scan.parallelism must be > 0")
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		return fmt.Errorf("storage.path is required")
	}

	return nil
}

// Location returns the configured schedule timezone.
func (c *Config) Location() (*time.Location, error) {
	tz := c.Schedule.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	return time.LoadLocation(tz)
}

// LocationOrDefault returns the schedule timezone, falling back to a fixed ET offset
// on minimal containers without tzdata.
func (c *Config) LocationOrDefault() *time.Location {
	loc, err := c.Location()
	if err != nil {
		return time.FixedZone("ET", -5*60*60)
	}
	return loc
}

// PassTimes maps pass names to their configured HH:MM clock times.
func (c *Config) PassTimes() map[string]string {
	return map[string]string{
		"full_scan": c.Schedule.FullScan,
		"post_open": c.Schedule.PostOpen,
		"midday":    c.Schedule.Midday,
		"pre_close": c.Schedule.PreClose,
		"evening":   c.Schedule.Evening,
	}
}

// GetCheckInterval returns the configured scheduler tick interval.
func (c *Config) GetCheckInterval() time.Duration {
	return parseDurationOr(c.Schedule.CheckInterval, time.Minute)
}

// GetCooldown returns the renotification cooldown.
func (c *Config) GetCooldown() time.Duration {
	return parseDurationOr(c.Lifecycle.Cooldown, 4*time.Hour)
}

// GetMarketDataTimeout returns the per-call collaborator timeout.
func (c *Config) GetMarketDataTimeout() time.Duration {
	return parseDurationOr(c.MarketData.Timeout, 10*time.Second)
}

// GetMaxIndicatorAge returns the staleness bound for indicator data.
func (c *Config) GetMaxIndicatorAge() time.Duration {
	return parseDurationOr(c.MarketData.MaxIndicatorAge, 30*time.Minute)
}

// SilentActionSet returns the silent actions as a set.
func (c *Config) SilentActionSet() map[models.Action]bool {
	set := make(map[models.Action]bool, len(c.Lifecycle.SilentActions))
	for _, a := range c.Lifecycle.SilentActions {
		set[models.Action(a)] = true
	}
	return set
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func setString(v *string, def string) {
	if *v == "" {
		*v = def
	}
}

func setFloat(v *float64, def float64) {
	if *v == 0 {
		*v = def
	}
}

func setInt(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}
