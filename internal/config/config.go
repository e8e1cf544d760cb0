package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/titan-sync/pkg/servicetitan"
)

// Config holds the full application configuration.
type Config struct {
	ServiceTitan ServiceTitanConfig `yaml:"servicetitan" mapstructure:"servicetitan"`
	Sink         SinkConfig         `yaml:"sink" mapstructure:"sink"`
	Store        StoreConfig        `yaml:"store" mapstructure:"store"`
	Pipeline     PipelineConfig     `yaml:"pipeline" mapstructure:"pipeline"`
	Export       ExportConfig       `yaml:"export" mapstructure:"export"`
	Metrics      MetricsConfig      `yaml:"metrics" mapstructure:"metrics"`
	Monitoring   MonitoringConfig   `yaml:"monitoring" mapstructure:"monitoring"`
	Log          LogConfig          `yaml:"log" mapstructure:"log"`
}

// ServiceTitanConfig holds API credentials and collection limits.
type ServiceTitanConfig struct {
	TenantID     string  `yaml:"tenant_id" mapstructure:"tenant_id"`
	ClientID     string  `yaml:"client_id" mapstructure:"client_id"`
	ClientSecret string  `yaml:"client_secret" mapstructure:"client_secret"`
	AppKey       string  `yaml:"app_key" mapstructure:"app_key"`
	Scope        string  `yaml:"scope" mapstructure:"scope"`
	AuthURL      string  `yaml:"auth_url" mapstructure:"auth_url"`
	APIURL       string  `yaml:"api_url" mapstructure:"api_url"`
	PageSize     int     `yaml:"page_size" mapstructure:"page_size"`
	MaxPages     int     `yaml:"max_pages" mapstructure:"max_pages"`
	MaxRetries   int     `yaml:"max_retries" mapstructure:"max_retries"`
	RetryDelayMs int     `yaml:"retry_delay_ms" mapstructure:"retry_delay_ms"`
	TimeoutSecs  int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RateLimitRPS float64 `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
}

// Credentials returns the client credentials for the token manager.
func (c ServiceTitanConfig) Credentials() servicetitan.Credentials {
	return servicetitan.Credentials{
		TenantID:     c.TenantID,
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		AppKey:       c.AppKey,
		Scope:        c.Scope,
	}
}

// SinkConfig configures where exported records are written.
type SinkConfig struct {
	Driver           string `yaml:"driver" mapstructure:"driver"`
	URL              string `yaml:"url" mapstructure:"url"`
	Key              string `yaml:"key" mapstructure:"key"`
	Schema           string `yaml:"schema" mapstructure:"schema"`
	Table            string `yaml:"table" mapstructure:"table"`
	DatabaseURL      string `yaml:"database_url" mapstructure:"database_url"`
	MaxAttempts      int    `yaml:"max_attempts" mapstructure:"max_attempts"`
	RetryDelayMs     int    `yaml:"retry_delay_ms" mapstructure:"retry_delay_ms"`
	CircuitThreshold int    `yaml:"circuit_threshold" mapstructure:"circuit_threshold"`
	CircuitResetSecs int    `yaml:"circuit_reset_secs" mapstructure:"circuit_reset_secs"`
}

// StoreConfig configures the run history database.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// PipelineConfig configures enrichment and run limits.
type PipelineConfig struct {
	BatchSize            int  `yaml:"batch_size" mapstructure:"batch_size"`
	PassBudgetSecs       int  `yaml:"pass_budget_secs" mapstructure:"pass_budget_secs"`
	RunTimeoutSecs       int  `yaml:"run_timeout_secs" mapstructure:"run_timeout_secs"`
	ContinueOnFetchError bool `yaml:"continue_on_fetch_error" mapstructure:"continue_on_fetch_error"`
}

// ExportConfig configures the local file exports.
type ExportConfig struct {
	CSVPath  string `yaml:"csv_path" mapstructure:"csv_path"`
	XLSXPath string `yaml:"xlsx_path" mapstructure:"xlsx_path"`
}

// MetricsConfig configures the Prometheus textfile output.
type MetricsConfig struct {
	TextfilePath string `yaml:"textfile_path" mapstructure:"textfile_path"`
}

// MonitoringConfig configures post-run alert thresholds.
type MonitoringConfig struct {
	WebhookURL             string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	LookbackHours          int     `yaml:"lookback_hours" mapstructure:"lookback_hours"`
	FailureRateThreshold   float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	MaxConsecutiveFailures int     `yaml:"max_consecutive_failures" mapstructure:"max_consecutive_failures"`
	ErrorRateThreshold     float64 `yaml:"error_rate_threshold" mapstructure:"error_rate_threshold"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("TITAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Keys without a default must still be known to viper for env lookup.
	for _, key := range []string{
		"servicetitan.tenant_id",
		"servicetitan.client_id",
		"servicetitan.client_secret",
		"servicetitan.app_key",
		"servicetitan.scope",
		"sink.url",
		"sink.key",
		"sink.schema",
		"sink.database_url",
		"store.database_url",
		"export.csv_path",
		"export.xlsx_path",
		"metrics.textfile_path",
		"monitoring.webhook_url",
	} {
		v.SetDefault(key, "")
	}

	// Defaults
	v.SetDefault("servicetitan.auth_url", servicetitan.DefaultAuthURL)
	v.SetDefault("servicetitan.api_url", servicetitan.DefaultAPIURL)
	v.SetDefault("servicetitan.page_size", servicetitan.DefaultPageSize)
	v.SetDefault("servicetitan.max_pages", servicetitan.DefaultMaxPages)
	v.SetDefault("servicetitan.max_retries", servicetitan.DefaultMaxRetries)
	v.SetDefault("servicetitan.retry_delay_ms", 500)
	v.SetDefault("servicetitan.timeout_secs", 30)
	v.SetDefault("servicetitan.rate_limit_rps", 0)
	v.SetDefault("sink.driver", "rest")
	v.SetDefault("sink.table", "customers")
	v.SetDefault("sink.max_attempts", 3)
	v.SetDefault("sink.retry_delay_ms", 1000)
	v.SetDefault("sink.circuit_threshold", 10)
	v.SetDefault("sink.circuit_reset_secs", 30)
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "titan-sync.db")
	v.SetDefault("pipeline.batch_size", 100)
	v.SetDefault("pipeline.pass_budget_secs", 1800)
	v.SetDefault("pipeline.run_timeout_secs", 7200)
	v.SetDefault("pipeline.continue_on_fetch_error", false)
	v.SetDefault("monitoring.lookback_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.5)
	v.SetDefault("monitoring.max_consecutive_failures", 3)
	v.SetDefault("monitoring.error_rate_threshold", 0.1)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validation modes.
const (
	ModeAuth   = "auth"
	ModeDryRun = "dry-run"
	ModeSync   = "sync"
)

// placeholderPrefix marks values copied unedited from an example file.
const placeholderPrefix = "your_"

func unset(s string) bool {
	s = strings.TrimSpace(s)
	return s == "" || strings.HasPrefix(strings.ToLower(s), placeholderPrefix)
}

// Validate checks that the settings a command needs are present. Values
// still holding a "your_" placeholder count as missing.
func (c *Config) Validate(mode string) error {
	var errs []string
	require := func(key, val string) {
		if unset(val) {
			errs = append(errs, key+" is required")
		}
	}

	switch mode {
	case ModeAuth, ModeDryRun, ModeSync:
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	require("servicetitan.tenant_id", c.ServiceTitan.TenantID)
	require("servicetitan.client_id", c.ServiceTitan.ClientID)
	require("servicetitan.client_secret", c.ServiceTitan.ClientSecret)
	require("servicetitan.app_key", c.ServiceTitan.AppKey)

	if mode != ModeAuth {
		if c.ServiceTitan.PageSize <= 0 {
			errs = append(errs, "servicetitan.page_size must be > 0")
		}
		if c.ServiceTitan.MaxPages <= 0 {
			errs = append(errs, "servicetitan.max_pages must be > 0")
		}
		if c.Pipeline.BatchSize <= 0 {
			errs = append(errs, "pipeline.batch_size must be > 0")
		}
	}

	if mode == ModeSync {
		switch c.Sink.Driver {
		case "rest":
			require("sink.url", c.Sink.URL)
			require("sink.key", c.Sink.Key)
		case "postgres":
			require("sink.database_url", c.Sink.DatabaseURL)
		default:
			errs = append(errs, fmt.Sprintf("sink.driver %q is not rest or postgres", c.Sink.Driver))
		}
		require("sink.table", c.Sink.Table)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Masked returns a copy with secrets shortened for display.
func (c *Config) Masked() *Config {
	out := *c
	out.ServiceTitan.ClientID = servicetitan.MaskSecret(c.ServiceTitan.ClientID)
	out.ServiceTitan.ClientSecret = servicetitan.MaskSecret(c.ServiceTitan.ClientSecret)
	out.ServiceTitan.AppKey = servicetitan.MaskSecret(c.ServiceTitan.AppKey)
	out.Sink.Key = servicetitan.MaskSecret(c.Sink.Key)
	out.Sink.DatabaseURL = maskIfSet(c.Sink.DatabaseURL)
	out.Store.DatabaseURL = maskIfSet(c.Store.DatabaseURL)
	out.Monitoring.WebhookURL = maskIfSet(c.Monitoring.WebhookURL)
	return &out
}

// maskIfSet masks URLs that may embed credentials. Plain file paths are
// left alone.
func maskIfSet(s string) string {
	if s == "" || !strings.Contains(s, "://") {
		return s
	}
	return servicetitan.MaskSecret(s)
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
