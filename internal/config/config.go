package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Redis      RedisConfig      `yaml:"redis" mapstructure:"redis"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Jina       JinaConfig       `yaml:"jina" mapstructure:"jina"`
	Perplexity PerplexityConfig `yaml:"perplexity" mapstructure:"perplexity"`
	PDF        PDFConfig        `yaml:"pdf" mapstructure:"pdf"`
	Mail       MailConfig       `yaml:"mail" mapstructure:"mail"`
	Notion     NotionConfig     `yaml:"notion" mapstructure:"notion"`
	Salesforce SalesforceConfig `yaml:"salesforce" mapstructure:"salesforce"`
	Workflow   WorkflowConfig   `yaml:"workflow" mapstructure:"workflow"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// RedisConfig configures the lease backend. An empty Addr keeps leases in memory.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key       string  `yaml:"key" mapstructure:"key"`
	Model     string  `yaml:"model" mapstructure:"model"`
	MaxTokens int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	RPS       float64 `yaml:"rps" mapstructure:"rps"`
}

// JinaConfig holds Jina AI Reader settings.
type JinaConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// PerplexityConfig holds Perplexity API settings.
type PerplexityConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// PDFConfig holds PDF rendering service settings.
type PDFConfig struct {
	Key              string `yaml:"key" mapstructure:"key"`
	BaseURL          string `yaml:"base_url" mapstructure:"base_url"`
	PollIntervalSecs int    `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs"`
	TimeoutSecs      int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// MailConfig selects and configures report delivery.
type MailConfig struct {
	Provider string `yaml:"provider" mapstructure:"provider"` // ses | log
	Region   string `yaml:"region" mapstructure:"region"`
	From     string `yaml:"from" mapstructure:"from"`
}

// NotionConfig holds Notion API credentials.
type NotionConfig struct {
	Token          string `yaml:"token" mapstructure:"token"`
	DatabaseID     string `yaml:"database_id" mapstructure:"database_id"`
	StatusProperty string `yaml:"status_property" mapstructure:"status_property"`
	ReportProperty string `yaml:"report_property" mapstructure:"report_property"`
}

// SalesforceConfig holds Salesforce JWT auth settings.
type SalesforceConfig struct {
	ClientID       string `yaml:"client_id" mapstructure:"client_id"`
	Username       string `yaml:"username" mapstructure:"username"`
	KeyPath        string `yaml:"key_path" mapstructure:"key_path"`
	LoginURL       string `yaml:"login_url" mapstructure:"login_url"`
	ReportURLField string `yaml:"report_url_field" mapstructure:"report_url_field"`
}

// WorkflowConfig tunes the review workflow.
type WorkflowConfig struct {
	AutosaveWindowSecs    int    `yaml:"autosave_window_secs" mapstructure:"autosave_window_secs"`
	PollIntervalSecs      int    `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs"`
	LeaseTTLSecs          int    `yaml:"lease_ttl_secs" mapstructure:"lease_ttl_secs"`
	GenerationTimeoutSecs int    `yaml:"generation_timeout_secs" mapstructure:"generation_timeout_secs"`
	MaxConcurrentJobs     int    `yaml:"max_concurrent_jobs" mapstructure:"max_concurrent_jobs"`
	FrameworksPath        string `yaml:"frameworks_path" mapstructure:"frameworks_path"`
}

// AutosaveWindow returns the debounce window as a duration.
func (w WorkflowConfig) AutosaveWindow() time.Duration {
	return time.Duration(w.AutosaveWindowSecs) * time.Second
}

// PollInterval returns the client refetch interval.
func (w WorkflowConfig) PollInterval() time.Duration {
	return time.Duration(w.PollIntervalSecs) * time.Second
}

// LeaseTTL returns how long an edit lease lives without renewal.
func (w WorkflowConfig) LeaseTTL() time.Duration {
	return time.Duration(w.LeaseTTLSecs) * time.Second
}

// GenerationTimeout returns the per-job timeout for background generation.
func (w WorkflowConfig) GenerationTimeout() time.Duration {
	return time.Duration(w.GenerationTimeoutSecs) * time.Second
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
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
	v.SetEnvPrefix("STRATEGY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("anthropic.rps", 2.0)
	v.SetDefault("jina.base_url", "https://r.jina.ai")
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar-pro")
	v.SetDefault("pdf.poll_interval_secs", 2)
	v.SetDefault("pdf.timeout_secs", 120)
	v.SetDefault("mail.provider", "log")
	v.SetDefault("mail.region", "us-east-1")
	v.SetDefault("notion.status_property", "Status")
	v.SetDefault("notion.report_property", "Report")
	v.SetDefault("salesforce.login_url", "https://login.salesforce.com")
	v.SetDefault("salesforce.report_url_field", "Strategy_Report_URL__c")
	v.SetDefault("workflow.autosave_window_secs", 30)
	v.SetDefault("workflow.poll_interval_secs", 5)
	v.SetDefault("workflow.lease_ttl_secs", 900)
	v.SetDefault("workflow.generation_timeout_secs", 600)
	v.SetDefault("workflow.max_concurrent_jobs", 4)

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

// Validate checks that the settings a command needs are present.
// Mode is one of "serve", "migrate" or "status".
func (c *Config) Validate(mode string) error {
	var problems []string

	switch c.Store.Driver {
	case "memory":
	case "sqlite", "postgres":
		if c.Store.DatabaseURL == "" {
			problems = append(problems, "store.database_url is required")
		}
	default:
		problems = append(problems, fmt.Sprintf("store.driver %q is not supported", c.Store.Driver))
	}

	if mode == "serve" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			problems = append(problems, fmt.Sprintf("server.port %d is out of range", c.Server.Port))
		}
		if c.Anthropic.Key == "" {
			problems = append(problems, "anthropic.key is required")
		}
		if c.PDF.BaseURL == "" {
			problems = append(problems, "pdf.base_url is required")
		}
		switch c.Mail.Provider {
		case "log":
		case "ses":
			if c.Mail.From == "" {
				problems = append(problems, "mail.from is required for ses")
			}
		default:
			problems = append(problems, fmt.Sprintf("mail.provider %q is not supported", c.Mail.Provider))
		}
		if c.Workflow.AutosaveWindowSecs <= 0 {
			problems = append(problems, "workflow.autosave_window_secs must be positive")
		}
		if c.Workflow.MaxConcurrentJobs <= 0 {
			problems = append(problems, "workflow.max_concurrent_jobs must be positive")
		}
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
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
