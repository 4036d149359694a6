package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Agent     AgentConfig     `mapstructure:"agent"`
	Backend   BackendConfig   `mapstructure:"backend"`
	History   HistoryConfig   `mapstructure:"history"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Settings  SettingsConfig  `mapstructure:"settings"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Offline   OfflineConfig   `mapstructure:"offline"`
	Redis     RedisConfig     `mapstructure:"redis"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Narrative NarrativeConfig `mapstructure:"narrative"`
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Cron      CronConfig      `mapstructure:"cron"`
	Prepare   PrepareConfig   `mapstructure:"prepare"`
}

type ServerConfig struct {
	HTTPAddr        string        `mapstructure:"http_addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type AgentConfig struct {
	DockerBinary      string        `mapstructure:"docker_binary"`
	Container         string        `mapstructure:"container"`
	ScriptDir         string        `mapstructure:"script_dir"`
	StatePath         string        `mapstructure:"state_path"`
	Python            string        `mapstructure:"python"`
	CommandTimeout    time.Duration `mapstructure:"command_timeout"`
	AnalysisTimeout   time.Duration `mapstructure:"analysis_timeout"`
	ReportTimeout     time.Duration `mapstructure:"report_timeout"`
	AllowedContainers []string      `mapstructure:"allowed_containers"`
}

type BackendConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type HistoryConfig struct {
	// Driver is one of file, memory or postgres.
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type SettingsConfig struct {
	Path string `mapstructure:"path"`
}

type RateLimitConfig struct {
	Window    time.Duration `mapstructure:"window"`
	Analysis  int           `mapstructure:"analysis"`
	Control   int           `mapstructure:"control"`
	Narrative int           `mapstructure:"narrative"`
}

type OfflineConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	UIUpstream string        `mapstructure:"ui_upstream"`
	CacheName  string        `mapstructure:"cache_name"`
	Cache      string        `mapstructure:"cache"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

type OpenAIConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	Model       string  `mapstructure:"model"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

type NarrativeConfig struct {
	Provider string `mapstructure:"provider"`
}

type TelegramConfig struct {
	APIEndpoint string        `mapstructure:"api_endpoint"`
	Timeout     time.Duration `mapstructure:"timeout"`
	// Token is used for alerts when the settings document has none.
	Token string `mapstructure:"token"`
}

type CronConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	RateLimitGC string `mapstructure:"ratelimit_gc"`
	AlertsScan  string `mapstructure:"alerts_scan"`
}

type PrepareConfig struct {
	ResultsPath  string        `mapstructure:"results_path"`
	ProgressPath string        `mapstructure:"progress_path"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

func parseDatabaseURL(dbURL string) (DatabaseConfig, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return DatabaseConfig{}, err
	}
	if u.Scheme != "postgres" && u.Scheme != "postgresql" {
		return DatabaseConfig{}, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	password, _ := u.User.Password()
	port := 5432
	if u.Port() != "" {
		if _, err := fmt.Sscanf(u.Port(), "%d", &port); err != nil {
			return DatabaseConfig{}, fmt.Errorf("invalid port %q", u.Port())
		}
	}

	sslmode := u.Query().Get("sslmode")
	if sslmode == "" {
		sslmode = "disable"
	}

	return DatabaseConfig{
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		DBName:   strings.TrimPrefix(u.Path, "/"),
		SSLMode:  sslmode,
	}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_addr", ":3000")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "json")
	v.SetDefault("log.development", false)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)

	v.SetDefault("agent.docker_binary", "docker")
	v.SetDefault("agent.container", "tradingbot-agent")
	v.SetDefault("agent.script_dir", "/app")
	v.SetDefault("agent.state_path", "/app/data/agent_state.json")
	v.SetDefault("agent.python", "python")
	v.SetDefault("agent.command_timeout", "10s")
	v.SetDefault("agent.analysis_timeout", "120s")
	v.SetDefault("agent.report_timeout", "180s")
	v.SetDefault("agent.allowed_containers", []string{"tradingbot", "tradingbot-agent", "tradingbot-api", "tradingbot-dashboard"})

	v.SetDefault("backend.base_url", "http://localhost:8000")
	v.SetDefault("backend.api_key", "")
	v.SetDefault("backend.timeout", "15s")

	v.SetDefault("history.driver", "file")
	v.SetDefault("history.path", "data/analysis-history.json")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "midas")
	v.SetDefault("database.sslmode", "disable")

	v.SetDefault("settings.path", "data/settings.json")

	v.SetDefault("ratelimit.window", "1m")
	v.SetDefault("ratelimit.analysis", 20)
	v.SetDefault("ratelimit.control", 30)
	v.SetDefault("ratelimit.narrative", 10)

	v.SetDefault("offline.enabled", false)
	v.SetDefault("offline.ui_upstream", "")
	v.SetDefault("offline.cache_name", "midas-v1")
	v.SetDefault("offline.cache", "memory")
	v.SetDefault("offline.timeout", "15s")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "midas:offline")

	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.max_tokens", 1200)
	v.SetDefault("openai.temperature", 0.4)

	v.SetDefault("narrative.provider", "agent")

	v.SetDefault("telegram.api_endpoint", "")
	v.SetDefault("telegram.timeout", "10s")
	v.SetDefault("telegram.token", "")

	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.ratelimit_gc", "@every 5m")
	v.SetDefault("cron.alerts_scan", "@every 1m")

	v.SetDefault("prepare.results_path", "/tmp/midas-prepare-results.json")
	v.SetDefault("prepare.progress_path", "/tmp/midas-prepare-progress.json")
	v.SetDefault("prepare.timeout", "30m")
}

// Load reads path (YAML) over the defaults. Every key can be overridden by
// MIDAS_<SECTION>_<KEY>; with envOnly the file is not read at all.
func Load(path string, envOnly bool) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MIDAS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	setDefaults(v)

	if !envOnly {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// Unprefixed variables used by the existing deployment.
	env := viper.New()
	env.AutomaticEnv()

	if dbURL := env.GetString("DATABASE_URL"); dbURL != "" {
		dbConfig, err := parseDatabaseURL(dbURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
		}
		config.Database = dbConfig
	}
	if backendURL := env.GetString("BACKEND_URL"); backendURL != "" {
		config.Backend.BaseURL = backendURL
	}
	for _, key := range []string{"BACKEND_API_KEY", "API_KEY"} {
		if apiKey := env.GetString(key); apiKey != "" {
			config.Backend.APIKey = apiKey
			break
		}
	}
	if token := env.GetString("TELEGRAM_TOKEN"); token != "" {
		config.Telegram.Token = token
	}
	if apiKey := env.GetString("OPENAI_API_KEY"); apiKey != "" {
		config.OpenAI.APIKey = apiKey
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) validate() error {
	switch c.History.Driver {
	case "file", "memory", "postgres":
	default:
		return fmt.Errorf("history.driver: unknown driver %q", c.History.Driver)
	}
	switch c.Offline.Cache {
	case "memory", "redis":
	default:
		return fmt.Errorf("offline.cache: unknown cache %q", c.Offline.Cache)
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("ratelimit.window must be positive")
	}
	return nil
}
