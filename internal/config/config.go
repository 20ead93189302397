package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Log       LogConfig
	Scheduler SchedulerConfig
	Rotation  RotationConfig
	Pipeline  PipelineConfig
	LLM       LLMConfig
	Enhance   EnhanceConfig
	LinkedIn  LinkedInConfig
	Gather    GatherConfig
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type SchedulerConfig struct {
	TickInterval  time.Duration
	DefaultCron   string
	IntervalHours int
	JitterMinutes int
}

type RotationConfig struct {
	Topics                  []string
	ContentTypes            []string
	TopicAdvanceProbability float64
}

type PipelineConfig struct {
	MaxSources           int
	AuthFailureThreshold int
	RateLimitBackoff     time.Duration
}

type LLMConfig struct {
	Provider        string
	OllamaBaseURL   string
	Model           string
	OpenRouterModel string
	OpenRouterKey   string
}

type EnhanceConfig struct {
	BaseURL string
	Enabled bool
	APIKey  string
}

type LinkedInConfig struct {
	BaseURL     string
	AuthorURN   string
	AccessToken string
}

type GatherConfig struct {
	CatalogPath       string
	Concurrency       int
	RequestsPerSecond float64
}

func defaults() Config {
	return Config{
		Server:  ServerConfig{Port: 4100},
		Storage: StorageConfig{DataDir: defaultDataDir()},
		Log:     LogConfig{Level: "info"},
		Scheduler: SchedulerConfig{
			TickInterval:  30 * time.Second,
			DefaultCron:   "0 9 * * 1-5",
			IntervalHours: 4,
			JitterMinutes: 30,
		},
		Rotation: RotationConfig{
			Topics:                  []string{"artificial intelligence", "ai ethics", "future of work"},
			ContentTypes:            []string{"article", "slide_deck", "chart", "infographic"},
			TopicAdvanceProbability: 0.3,
		},
		Pipeline: PipelineConfig{
			MaxSources:           5,
			AuthFailureThreshold: 3,
			RateLimitBackoff:     30 * time.Minute,
		},
		LLM: LLMConfig{
			Provider:        "ollama",
			OllamaBaseURL:   "http://localhost:11434",
			Model:           "llama3.1:8b",
			OpenRouterModel: "anthropic/claude-3.5-haiku",
		},
		Enhance: EnhanceConfig{
			BaseURL: "http://localhost:8000",
		},
		LinkedIn: LinkedInConfig{
			BaseURL: "https://api.linkedin.com",
		},
		Gather: GatherConfig{
			Concurrency:       4,
			RequestsPerSecond: 2,
		},
	}
}

// IntervalSpec returns the every:<N>h~<M>m trigger built from the scheduler
// interval settings.
func (c Config) IntervalSpec() string {
	if c.Scheduler.JitterMinutes > 0 {
		return fmt.Sprintf("every:%dh~%dm", c.Scheduler.IntervalHours, c.Scheduler.JitterMinutes)
	}
	return fmt.Sprintf("every:%dh", c.Scheduler.IntervalHours)
}

// Load reads configuration from the JSON file at
// $XDG_CONFIG_HOME/autopost/config.json, then applies AUTOPOST_* environment
// overrides. Secrets come from the environment or the secrets file at
// $XDG_DATA_HOME/autopost/secrets.json.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()), secretsFile{path: secretsFilePath()})
}

// secretStore abstracts secret lookup for testing.
type secretStore interface {
	Get(account string) (string, error)
}

func loadWith(b ConfigBackend, secrets secretStore) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)
	applySecrets(&cfg, secrets)

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.LLM.Provider {
	case "ollama", "openrouter":
	default:
		return fmt.Errorf("invalid llm.provider %q: want ollama or openrouter", c.LLM.Provider)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", c.Server.Port)
	}
	if c.Rotation.TopicAdvanceProbability < 0 || c.Rotation.TopicAdvanceProbability > 1 {
		return fmt.Errorf("rotation.topic_advance_probability must be within [0,1], got %v", c.Rotation.TopicAdvanceProbability)
	}
	if c.Scheduler.TickInterval <= 0 {
		return fmt.Errorf("scheduler.tick_interval must be positive")
	}
	return nil
}

func xdgDir(env string, fallback ...string) string {
	dir := os.Getenv(env)
	if dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(append([]string{home}, fallback...)...)
}

func defaultDataDir() string {
	return filepath.Join(xdgDir("XDG_DATA_HOME", ".local", "share"), "autopost")
}

func configFilePath() string {
	return filepath.Join(xdgDir("XDG_CONFIG_HOME", ".config"), "autopost", "config.json")
}

func secretsFilePath() string {
	return filepath.Join(xdgDir("XDG_DATA_HOME", ".local", "share"), "autopost", "secrets.json")
}
