package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Drift     DriftConfig     `yaml:"drift" mapstructure:"drift"`
	Catalog   CatalogConfig   `yaml:"catalog" mapstructure:"catalog"`
	Jina      JinaConfig      `yaml:"jina" mapstructure:"jina"`
	Kibana    KibanaConfig    `yaml:"kibana" mapstructure:"kibana"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Slack     SlackConfig     `yaml:"slack" mapstructure:"slack"`
	Jira      JiraConfig      `yaml:"jira" mapstructure:"jira"`
	Notion    NotionConfig    `yaml:"notion" mapstructure:"notion"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// DriftConfig configures the drift detection engine.
type DriftConfig struct {
	KLThreshold        float64 `yaml:"kl_threshold" mapstructure:"kl_threshold"`
	CheckIntervalSecs  int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	BaselineDays       int     `yaml:"baseline_days" mapstructure:"baseline_days"`
	CurrentWindowMins  int     `yaml:"current_window_mins" mapstructure:"current_window_mins"`
	MinSamples         int     `yaml:"min_samples" mapstructure:"min_samples"`
	AutoFixConfidence  float64 `yaml:"auto_fix_confidence" mapstructure:"auto_fix_confidence"`
	HandoffMaxRetries  int     `yaml:"handoff_max_retries" mapstructure:"handoff_max_retries"`
	DiagnosticianAgent string  `yaml:"diagnostician_agent" mapstructure:"diagnostician_agent"`
	ResolverAgent      string  `yaml:"resolver_agent" mapstructure:"resolver_agent"`
}

// CatalogConfig configures the catalog intelligence engine.
type CatalogConfig struct {
	FindabilityThreshold float64 `yaml:"findability_threshold" mapstructure:"findability_threshold"`
	TicketThreshold      float64 `yaml:"ticket_threshold" mapstructure:"ticket_threshold"`
	MinSupport           float64 `yaml:"min_support" mapstructure:"min_support"`
	AutoMapConfidence    float64 `yaml:"auto_map_confidence" mapstructure:"auto_map_confidence"`
	SimilarK             int     `yaml:"similar_k" mapstructure:"similar_k"`
	CandidatePool        int     `yaml:"candidate_pool" mapstructure:"candidate_pool"`
}

// JinaConfig holds Jina AI embeddings settings.
type JinaConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
	Dims    int    `yaml:"dims" mapstructure:"dims"`
}

// KibanaConfig holds Kibana Agent Builder settings.
type KibanaConfig struct {
	URL                 string   `yaml:"url" mapstructure:"url"`
	APIKey              string   `yaml:"api_key" mapstructure:"api_key"`
	AgentIDs            []string `yaml:"agent_ids" mapstructure:"agent_ids"`
	TimeoutSecs         int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	CacheValiditySecs   int      `yaml:"cache_validity_secs" mapstructure:"cache_validity_secs"`
	BreakerThreshold    int      `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerCooldownSecs int      `yaml:"breaker_cooldown_secs" mapstructure:"breaker_cooldown_secs"`
}

// AnthropicConfig holds Anthropic API settings for the direct-LLM responder.
type AnthropicConfig struct {
	Key       string `yaml:"key" mapstructure:"key"`
	Model     string `yaml:"model" mapstructure:"model"`
	MaxTokens int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
}

// SlackConfig maps alert channels to incoming webhook URLs.
type SlackConfig struct {
	Webhooks map[string]string `yaml:"webhooks" mapstructure:"webhooks"`
}

// JiraConfig holds Jira API credentials and the target project.
type JiraConfig struct {
	URL        string `yaml:"url" mapstructure:"url"`
	Email      string `yaml:"email" mapstructure:"email"`
	APIToken   string `yaml:"api_token" mapstructure:"api_token"`
	ProjectKey string `yaml:"project_key" mapstructure:"project_key"`
}

// NotionConfig holds the optional Notion incident-log database.
type NotionConfig struct {
	Token      string `yaml:"token" mapstructure:"token"`
	IncidentDB string `yaml:"incident_db" mapstructure:"incident_db"`
}

// ServerConfig configures the API server.
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
	v.SetEnvPrefix("SENTINEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"http://localhost:5173", "http://localhost:3000"})
	v.SetDefault("drift.kl_threshold", 0.3)
	v.SetDefault("drift.check_interval_secs", 60)
	v.SetDefault("drift.baseline_days", 7)
	v.SetDefault("drift.current_window_mins", 30)
	v.SetDefault("drift.min_samples", 5)
	v.SetDefault("drift.auto_fix_confidence", 0.85)
	v.SetDefault("drift.handoff_max_retries", 3)
	v.SetDefault("drift.diagnostician_agent", "drift-diagnostician")
	v.SetDefault("drift.resolver_agent", "drift-resolver")
	v.SetDefault("catalog.findability_threshold", 50)
	v.SetDefault("catalog.ticket_threshold", 30)
	v.SetDefault("catalog.min_support", 0.3)
	v.SetDefault("catalog.auto_map_confidence", 0.75)
	v.SetDefault("catalog.similar_k", 30)
	v.SetDefault("catalog.candidate_pool", 100)
	v.SetDefault("jina.base_url", "https://api.jina.ai/v1")
	v.SetDefault("jina.model", "jina-embeddings-v3")
	v.SetDefault("jina.dims", 1024)
	v.SetDefault("kibana.url", "http://localhost:5601")
	v.SetDefault("kibana.timeout_secs", 300)
	v.SetDefault("kibana.cache_validity_secs", 30)
	v.SetDefault("kibana.breaker_threshold", 5)
	v.SetDefault("kibana.breaker_cooldown_secs", 30)
	v.SetDefault("kibana.agent_ids", []string{
		"drift-monitor", "drift-diagnostician", "drift-resolver",
		"catalog-analyst", "schema-mapper", "findability-scorer", "sentinel-overseer",
	})
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 2048)
	v.SetDefault("jira.project_key", "CS")

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

// Validate checks that required settings are present.
func (c *Config) Validate() error {
	if c.Store.DatabaseURL == "" {
		return eris.New("config: store.database_url is required (SENTINEL_STORE_DATABASE_URL)")
	}
	if c.Drift.KLThreshold <= 0 {
		return eris.New("config: drift.kl_threshold must be positive")
	}
	if c.Catalog.AutoMapConfidence <= 0 || c.Catalog.AutoMapConfidence > 1 {
		return eris.New("config: catalog.auto_map_confidence must be in (0, 1]")
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
