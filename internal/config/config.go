package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	API        APIConfig        `yaml:"api" mapstructure:"api"`
	Fanout     FanoutConfig     `yaml:"fanout" mapstructure:"fanout"`
	Cache      CacheConfig      `yaml:"cache" mapstructure:"cache"`
	Agents     AgentsConfig     `yaml:"agents" mapstructure:"agents"`
	Map        MapConfig        `yaml:"map" mapstructure:"map"`
	Circuit    CircuitConfig    `yaml:"circuit" mapstructure:"circuit"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// APIConfig configures the map backend client.
type APIConfig struct {
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRetries  int     `yaml:"max_retries" mapstructure:"max_retries"`
	RateLimit   float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	RateBurst   int     `yaml:"rate_burst" mapstructure:"rate_burst"`
	UserAgent   string  `yaml:"user_agent" mapstructure:"user_agent"`
}

// Timeout returns the request timeout as a duration.
func (c APIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// FanoutConfig configures bounded-concurrency sales detail fetching.
type FanoutConfig struct {
	Concurrency   int `yaml:"concurrency" mapstructure:"concurrency"`
	Retries       int `yaml:"retries" mapstructure:"retries"`
	BackoffStepMs int `yaml:"backoff_step_ms" mapstructure:"backoff_step_ms"`
	TopN          int `yaml:"top_n" mapstructure:"top_n"`
}

// BackoffStep returns the linear backoff step as a duration.
func (c FanoutConfig) BackoffStep() time.Duration {
	return time.Duration(c.BackoffStepMs) * time.Millisecond
}

// CacheConfig configures the session cache of sales documents.
type CacheConfig struct {
	TTLSecs    int `yaml:"ttl_secs" mapstructure:"ttl_secs"`
	MaxEntries int `yaml:"max_entries" mapstructure:"max_entries"`
}

// TTL returns the cache entry lifetime.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSecs) * time.Second
}

// AgentsConfig configures the agent position layer.
type AgentsConfig struct {
	WindowHours int    `yaml:"window_hours" mapstructure:"window_hours"`
	IconURL     string `yaml:"icon_url" mapstructure:"icon_url"`
	Timezone    string `yaml:"timezone" mapstructure:"timezone"`
}

// Window returns how far back agent positions are retained.
func (c AgentsConfig) Window() time.Duration {
	return time.Duration(c.WindowHours) * time.Hour
}

// Location resolves the configured timezone, falling back to local time.
func (c AgentsConfig) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		zap.L().Warn("config: unknown agents timezone, using local",
			zap.String("timezone", c.Timezone),
			zap.Error(err),
		)
		return time.Local
	}
	return loc
}

// MapConfig holds the initial layer visibility and camera settings.
type MapConfig struct {
	Visible      VisibilityConfig `yaml:"visible" mapstructure:"visible"`
	FitPadding   int              `yaml:"fit_padding" mapstructure:"fit_padding"`
	FocusPadding int              `yaml:"focus_padding" mapstructure:"focus_padding"`
	MaxZoom      float64          `yaml:"max_zoom" mapstructure:"max_zoom"`
	StopZoom     float64          `yaml:"stop_zoom" mapstructure:"stop_zoom"`
}

// VisibilityConfig toggles each layer category.
type VisibilityConfig struct {
	Zones   bool `json:"zonas" yaml:"zonas" mapstructure:"zonas"`
	Routes  bool `json:"rutas" yaml:"rutas" mapstructure:"rutas"`
	Labels  bool `json:"labels" yaml:"labels" mapstructure:"labels"`
	Agents  bool `json:"vendedores" yaml:"vendedores" mapstructure:"vendedores"`
	Clients bool `json:"clientes" yaml:"clientes" mapstructure:"clientes"`
}

// CircuitConfig guards the sales detail endpoint.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// MonitoringConfig configures the session health checker started by serve.
type MonitoringConfig struct {
	Enabled                   bool    `yaml:"enabled" mapstructure:"enabled"`
	WebhookURL                string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs         int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	FetchFailureRateThreshold float64 `yaml:"fetch_failure_rate_threshold" mapstructure:"fetch_failure_rate_threshold"`
	SurfaceFailureThreshold   int     `yaml:"surface_failure_threshold" mapstructure:"surface_failure_threshold"`
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
	v.SetEnvPrefix("FIELDMAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("api.base_url", "http://localhost:8000")
	v.SetDefault("api.timeout_secs", 30)
	v.SetDefault("api.max_retries", 3)
	v.SetDefault("api.rate_limit", 20.0)
	v.SetDefault("api.rate_burst", 20)
	v.SetDefault("api.user_agent", "fieldmap/1.0")
	v.SetDefault("fanout.concurrency", 8)
	v.SetDefault("fanout.retries", 2)
	v.SetDefault("fanout.backoff_step_ms", 200)
	v.SetDefault("fanout.top_n", 30)
	v.SetDefault("cache.ttl_secs", 300)
	v.SetDefault("cache.max_entries", 5000)
	v.SetDefault("agents.window_hours", 48)
	v.SetDefault("agents.icon_url", "/car.png")
	v.SetDefault("agents.timezone", "")
	v.SetDefault("map.visible.zonas", true)
	v.SetDefault("map.visible.rutas", true)
	v.SetDefault("map.visible.labels", true)
	v.SetDefault("map.visible.vendedores", true)
	v.SetDefault("map.visible.clientes", true)
	v.SetDefault("map.fit_padding", 50)
	v.SetDefault("map.focus_padding", 80)
	v.SetDefault("map.max_zoom", 15.0)
	v.SetDefault("map.stop_zoom", 14.0)
	v.SetDefault("circuit.failure_threshold", 10)
	v.SetDefault("circuit.reset_timeout_secs", 30)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("monitoring.enabled", true)
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.fetch_failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.surface_failure_threshold", 1)
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

// Validate checks the settings a command needs. mode is "serve" or "" for
// the offline commands.
func (c *Config) Validate(mode string) error {
	var problems []string
	if c.API.BaseURL == "" {
		problems = append(problems, "api.base_url is required")
	}
	if c.Fanout.Concurrency <= 0 {
		problems = append(problems, "fanout.concurrency must be positive")
	}
	if c.Fanout.Retries < 0 {
		problems = append(problems, "fanout.retries must not be negative")
	}
	if c.Cache.TTLSecs <= 0 {
		problems = append(problems, "cache.ttl_secs must be positive")
	}
	if mode == "serve" && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		problems = append(problems, "server.port must be between 1 and 65535")
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
