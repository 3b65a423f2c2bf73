// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

// Duration accepts humane strings like "90s" or "5m" in YAML; bare
// integers are taken as nanoseconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, perr := time.ParseDuration(s)
		if perr != nil {
			return fmt.Errorf("invalid duration %q: %w", s, perr)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return err
	}
	*d = Duration(n)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type ServerConfig struct {
	Port int `yaml:"port"`
}

type AdminConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type AIConfig struct {
	Provider        string   `yaml:"provider"` // ollama | openai
	BaseURL         string   `yaml:"base_url"`
	Model           string   `yaml:"model"`
	Temperature     float64  `yaml:"temperature"`
	TopP            float64  `yaml:"top_p"`
	TopK            int      `yaml:"top_k"`
	NumPredict      int      `yaml:"num_predict"`
	Stop            []string `yaml:"stop"`
	RequestTimeout  Duration `yaml:"request_timeout"`
	ConcurrentLimit int      `yaml:"concurrent_limit"` // max concurrent generations
	HealthInterval  Duration `yaml:"health_interval"`
	OpenAIKey       string   `yaml:"openai_key"`
	OpenAIBaseURL   string   `yaml:"openai_base_url"`
}

type ChatConfig struct {
	HistoryLimit        int      `yaml:"history_limit"`         // messages of context per request
	HistoryMessageChars int      `yaml:"history_message_chars"` // per-message cap in the context window
	HistoryTokenBudget  int      `yaml:"history_token_budget"`
	MaxMessageChars     int      `yaml:"max_message_chars"`
	MaxSessionsPerUser  int      `yaml:"max_sessions_per_user"`
	MaxActiveStreams    int      `yaml:"max_active_streams"`
	RateWindow          Duration `yaml:"rate_window"`
	RateMax             int      `yaml:"rate_max"`
	CacheTTL            Duration `yaml:"cache_ttl"`
}

type Config struct {
	Server ServerConfig `yaml:"server"`
	Admin  AdminConfig  `yaml:"admin"`
	Log    LogConfig    `yaml:"log"`
	Auth   AuthConfig   `yaml:"auth"`
	Redis  RedisConfig  `yaml:"redis"`
	AI     AIConfig     `yaml:"ai"`
	Chat   ChatConfig   `yaml:"chat"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()

	// Minimal validation
	if cfg.Redis.URL == "" {
		return nil, errors.New("redis.url is required")
	}
	if cfg.Auth.JWTSecret == "" {
		return nil, errors.New("auth.jwt_secret is required")
	}
	if cfg.AI.Provider == "openai" && cfg.AI.OpenAIKey == "" {
		return nil, errors.New("ai.openai_key is required when ai.provider is openai")
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Admin.Port <= 0 {
		cfg.Admin.Port = 9090
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.AI.Provider == "" {
		cfg.AI.Provider = "ollama"
	}
	if cfg.AI.BaseURL == "" {
		cfg.AI.BaseURL = "http://localhost:11434"
	}
	if cfg.AI.Model == "" {
		cfg.AI.Model = "deepseek-coder-v2:16b"
	}
	if cfg.AI.Temperature <= 0 {
		cfg.AI.Temperature = 0.7
	}
	if cfg.AI.TopP <= 0 {
		cfg.AI.TopP = 0.9
	}
	if cfg.AI.NumPredict <= 0 {
		cfg.AI.NumPredict = 2048
	}
	if cfg.AI.RequestTimeout <= 0 {
		cfg.AI.RequestTimeout = Duration(5 * time.Minute)
	}
	if cfg.AI.ConcurrentLimit <= 0 {
		cfg.AI.ConcurrentLimit = 16
	}
	if cfg.AI.HealthInterval <= 0 {
		cfg.AI.HealthInterval = Duration(30 * time.Second)
	}
	if cfg.Redis.PoolSize <= 0 {
		cfg.Redis.PoolSize = 50
	}
	if cfg.Chat.HistoryLimit <= 0 {
		cfg.Chat.HistoryLimit = 10
	}
	if cfg.Chat.HistoryMessageChars <= 0 {
		cfg.Chat.HistoryMessageChars = 2000
	}
	if cfg.Chat.HistoryTokenBudget <= 0 {
		cfg.Chat.HistoryTokenBudget = 3072
	}
	if cfg.Chat.MaxMessageChars <= 0 {
		cfg.Chat.MaxMessageChars = 8000
	}
	if cfg.Chat.MaxSessionsPerUser <= 0 {
		cfg.Chat.MaxSessionsPerUser = 5
	}
	if cfg.Chat.MaxActiveStreams <= 0 {
		cfg.Chat.MaxActiveStreams = 256
	}
	if cfg.Chat.RateWindow <= 0 {
		cfg.Chat.RateWindow = Duration(time.Minute)
	}
	if cfg.Chat.RateMax <= 0 {
		cfg.Chat.RateMax = 10
	}
	if cfg.Chat.CacheTTL <= 0 {
		cfg.Chat.CacheTTL = Duration(time.Hour)
	}
}
