package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"ledger-reconciliation-service/internal/enrichment"
	"ledger-reconciliation-service/internal/matcher"
	"ledger-reconciliation-service/internal/parsers"
	"ledger-reconciliation-service/internal/reconciler"
	"ledger-reconciliation-service/internal/reporter"
	"ledger-reconciliation-service/pkg/logger"
)

// EnvPrefix is the prefix of environment overrides, e.g.
// RECONCILER_MATCHING_AMOUNT_TOLERANCE
const EnvPrefix = "RECONCILER"

// Config is the full configuration of the reconciler binary
type Config struct {
	Matching   MatchingSettings     `mapstructure:"matching" yaml:"matching"`
	Fees       FeeSettings          `mapstructure:"fees" yaml:"fees"`
	Parsing    parsers.ParserConfig `mapstructure:"parsing" yaml:"parsing"`
	Enrichment EnrichmentSettings   `mapstructure:"enrichment" yaml:"enrichment"`
	Output     OutputSettings       `mapstructure:"output" yaml:"output"`
	Storage    StorageSettings      `mapstructure:"storage" yaml:"storage"`
	Server     ServerSettings       `mapstructure:"server" yaml:"server"`
	Log        logger.Config        `mapstructure:"log" yaml:"log"`
}

// MatchingSettings mirrors matcher.MatchingConfig with plain numbers
type MatchingSettings struct {
	AmountTolerance          float64 `mapstructure:"amount_tolerance" yaml:"amount_tolerance"`
	DateWindowDays           int     `mapstructure:"date_window_days" yaml:"date_window_days"`
	AlertWindowDays          int     `mapstructure:"alert_window_days" yaml:"alert_window_days"`
	MaxCombinationCandidates int     `mapstructure:"max_combination_candidates" yaml:"max_combination_candidates"`
	MaxCombinationSize       int     `mapstructure:"max_combination_size" yaml:"max_combination_size"`
}

// FeeSettings mirrors enrichment.FeeSchedule
type FeeSettings struct {
	AccountMarker   string  `mapstructure:"account_marker" yaml:"account_marker"`
	CommissionRate  float64 `mapstructure:"commission_rate" yaml:"commission_rate"`
	TaxRate         float64 `mapstructure:"tax_rate" yaml:"tax_rate"`
	TaxMarker       string  `mapstructure:"tax_marker" yaml:"tax_marker"`
	TaxMarkerWindow int     `mapstructure:"tax_marker_window" yaml:"tax_marker_window"`
}

type EnrichmentSettings struct {
	// Workers of 0 uses GOMAXPROCS
	Workers int `mapstructure:"workers" yaml:"workers"`
}

type OutputSettings struct {
	Dir    string `mapstructure:"dir" yaml:"dir"`
	Format string `mapstructure:"format" yaml:"format"`
	XLSX   bool   `mapstructure:"xlsx" yaml:"xlsx"`
}

type StorageSettings struct {
	Bucket          string           `mapstructure:"bucket" yaml:"bucket"`
	Prefix          string           `mapstructure:"prefix" yaml:"prefix"`
	CredentialsFile string           `mapstructure:"credentials_file" yaml:"credentials_file"`
	RunsDB          string           `mapstructure:"runs_db" yaml:"runs_db"`
	BigQuery        BigQuerySettings `mapstructure:"bigquery" yaml:"bigquery"`
}

type BigQuerySettings struct {
	Project string `mapstructure:"project" yaml:"project"`
	Dataset string `mapstructure:"dataset" yaml:"dataset"`
	Table   string `mapstructure:"table" yaml:"table"`
}

// Enabled reports whether a statistics table is configured
func (b BigQuerySettings) Enabled() bool {
	return b.Project != "" && b.Dataset != "" && b.Table != ""
}

type ServerSettings struct {
	Port        int           `mapstructure:"port" yaml:"port"`
	WatchConfig bool          `mapstructure:"watch_config" yaml:"watch_config"`
	RunTimeout  time.Duration `mapstructure:"run_timeout" yaml:"run_timeout"`
}

// Defaults returns the built-in configuration
func Defaults() *Config {
	m := matcher.DefaultMatchingConfig()
	f := enrichment.DefaultFeeSchedule()

	return &Config{
		Matching: matchingSettings(m),
		Fees: FeeSettings{
			AccountMarker:   f.AccountMarker,
			CommissionRate:  f.CommissionRate.InexactFloat64(),
			TaxRate:         f.TaxRate.InexactFloat64(),
			TaxMarker:       f.TaxMarker,
			TaxMarkerWindow: f.TaxMarkerWindow,
		},
		Parsing: *parsers.DefaultParserConfig(),
		Output: OutputSettings{
			Dir:    "output",
			Format: string(reporter.FormatConsole),
		},
		Server: ServerSettings{
			Port:       8080,
			RunTimeout: 5 * time.Minute,
		},
		Log: *logger.DefaultConfig(),
	}
}

func matchingSettings(m *matcher.MatchingConfig) MatchingSettings {
	return MatchingSettings{
		AmountTolerance:          m.AmountTolerance.InexactFloat64(),
		DateWindowDays:           m.DateWindowDays,
		AlertWindowDays:          m.AlertWindowDays,
		MaxCombinationCandidates: m.MaxCombinationCandidates,
		MaxCombinationSize:       m.MaxCombinationSize,
	}
}

// SetDefaults registers every key of Defaults on v, so environment variables
// can override keys that appear in no config file
func SetDefaults(v *viper.Viper) {
	d := Defaults()

	v.SetDefault("matching.amount_tolerance", d.Matching.AmountTolerance)
	v.SetDefault("matching.date_window_days", d.Matching.DateWindowDays)
	v.SetDefault("matching.alert_window_days", d.Matching.AlertWindowDays)
	v.SetDefault("matching.max_combination_candidates", d.Matching.MaxCombinationCandidates)
	v.SetDefault("matching.max_combination_size", d.Matching.MaxCombinationSize)

	v.SetDefault("fees.account_marker", d.Fees.AccountMarker)
	v.SetDefault("fees.commission_rate", d.Fees.CommissionRate)
	v.SetDefault("fees.tax_rate", d.Fees.TaxRate)
	v.SetDefault("fees.tax_marker", d.Fees.TaxMarker)
	v.SetDefault("fees.tax_marker_window", d.Fees.TaxMarkerWindow)

	v.SetDefault("parsing.book_header_anchor", d.Parsing.BookHeaderAnchor)
	v.SetDefault("parsing.bank_description_filter", d.Parsing.BankDescriptionFilter)
	v.SetDefault("parsing.debit_pattern", d.Parsing.DebitPattern)
	v.SetDefault("parsing.date_formats", d.Parsing.DateFormats)
	v.SetDefault("parsing.delimiter", d.Parsing.Delimiter)
	v.SetDefault("parsing.encoding", d.Parsing.Encoding)
	v.SetDefault("parsing.sheet", d.Parsing.Sheet)

	v.SetDefault("enrichment.workers", d.Enrichment.Workers)

	v.SetDefault("output.dir", d.Output.Dir)
	v.SetDefault("output.format", d.Output.Format)
	v.SetDefault("output.xlsx", d.Output.XLSX)

	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.prefix", "")
	v.SetDefault("storage.credentials_file", "")
	v.SetDefault("storage.runs_db", "")
	v.SetDefault("storage.bigquery.project", "")
	v.SetDefault("storage.bigquery.dataset", "")
	v.SetDefault("storage.bigquery.table", "")

	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.watch_config", d.Server.WatchConfig)
	v.SetDefault("server.run_timeout", d.Server.RunTimeout)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.output", d.Log.Output)
}

// ConfigureViper sets defaults and environment handling on v
func ConfigureViper(v *viper.Viper) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

// Load decodes and validates the configuration held by v
func Load(v *viper.Viper) (*Config, error) {
	cfg := Defaults()
	// slices decode into existing elements; start empty so shorter lists win
	cfg.Parsing.DateFormats = nil
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyPreset replaces the matching settings with a named preset: default,
// strict or relaxed
func (c *Config) ApplyPreset(name string) error {
	var m *matcher.MatchingConfig
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "default":
		m = matcher.DefaultMatchingConfig()
	case "strict":
		m = matcher.StrictMatchingConfig()
	case "relaxed":
		m = matcher.RelaxedMatchingConfig()
	default:
		return fmt.Errorf("unknown matching preset: %s", name)
	}
	c.Matching = matchingSettings(m)
	return nil
}

// MatchingConfig converts the matching settings
func (c *Config) MatchingConfig() *matcher.MatchingConfig {
	m := matcher.DefaultMatchingConfig()
	m.AmountTolerance = decimal.NewFromFloat(c.Matching.AmountTolerance)
	m.DateWindowDays = c.Matching.DateWindowDays
	m.AlertWindowDays = c.Matching.AlertWindowDays
	m.MaxCombinationCandidates = c.Matching.MaxCombinationCandidates
	m.MaxCombinationSize = c.Matching.MaxCombinationSize
	return m
}

// FeeSchedule converts the fee settings
func (c *Config) FeeSchedule() enrichment.FeeSchedule {
	return enrichment.FeeSchedule{
		AccountMarker:   c.Fees.AccountMarker,
		CommissionRate:  decimal.NewFromFloat(c.Fees.CommissionRate),
		TaxRate:         decimal.NewFromFloat(c.Fees.TaxRate),
		TaxMarker:       c.Fees.TaxMarker,
		TaxMarkerWindow: c.Fees.TaxMarkerWindow,
	}
}

// ReconcilerConfig builds the service configuration
func (c *Config) ReconcilerConfig(showProgress bool) *reconciler.Config {
	parsing := c.Parsing
	parsing.DateFormats = append([]string(nil), c.Parsing.DateFormats...)

	return &reconciler.Config{
		Parsing:           &parsing,
		Fees:              c.FeeSchedule(),
		Matching:          c.MatchingConfig(),
		Workers:           c.Enrichment.Workers,
		ProgressReporting: showProgress,
	}
}

// ReportConfig creates a report configuration for the output format
func (c *Config) ReportConfig() *reporter.ReportConfig {
	rc := reporter.DefaultReportConfig()
	rc.Format = reporter.OutputFormat(strings.ToLower(c.Output.Format))

	switch rc.Format {
	case reporter.FormatJSON:
		rc.IncludeTrace = true
	case reporter.FormatCSV:
		rc.IncludeMatchRecords = true
		rc.IncludeAlerts = false
	}
	return rc
}

// Validate checks every section and reports all problems together
func (c *Config) Validate() error {
	var errs error

	if err := c.ReconcilerConfig(false).Validate(); err != nil {
		errs = multierr.Append(errs, err)
	}
	if err := c.ReportConfig().Validate(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("output: %w", err))
	}
	if c.Output.XLSX && strings.TrimSpace(c.Output.Dir) == "" {
		errs = multierr.Append(errs, fmt.Errorf("output: dir is required when xlsx export is enabled"))
	}
	if c.Storage.Bucket != "" && !c.Output.XLSX {
		errs = multierr.Append(errs, fmt.Errorf("storage: bucket upload requires output.xlsx"))
	}
	bq := c.Storage.BigQuery
	if (bq.Project != "" || bq.Dataset != "" || bq.Table != "") && !bq.Enabled() {
		errs = multierr.Append(errs, fmt.Errorf("storage.bigquery: project, dataset and table must be set together"))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = multierr.Append(errs, fmt.Errorf("server: invalid port %d", c.Server.Port))
	}
	if err := c.Log.Validate(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("log: %w", err))
	}

	return errs
}

// YAML renders the configuration as YAML
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}
