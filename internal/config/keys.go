package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
	kList
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "AUTOPOST_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.api_token", typ: kString, env: "AUTOPOST_API_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.APIToken },
	},
	{
		key: "storage.data_dir", typ: kString, env: "AUTOPOST_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "AUTOPOST_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "scheduler.tick_interval", typ: kDuration, env: "AUTOPOST_SCHEDULER_TICK_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Scheduler.TickInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Scheduler.TickInterval },
	},
	{
		key: "scheduler.default_cron", typ: kString, env: "AUTOPOST_SCHEDULER_DEFAULT_CRON",
		apply:   func(cfg *Config, v any) { cfg.Scheduler.DefaultCron = v.(string) },
		extract: func(cfg Config) any { return cfg.Scheduler.DefaultCron },
	},
	{
		key: "scheduler.interval_hours", typ: kInt, env: "AUTOPOST_SCHEDULER_INTERVAL_HOURS",
		apply:   func(cfg *Config, v any) { cfg.Scheduler.IntervalHours = v.(int) },
		extract: func(cfg Config) any { return cfg.Scheduler.IntervalHours },
	},
	{
		key: "scheduler.jitter_minutes", typ: kInt, env: "AUTOPOST_SCHEDULER_JITTER_MINUTES",
		apply:   func(cfg *Config, v any) { cfg.Scheduler.JitterMinutes = v.(int) },
		extract: func(cfg Config) any { return cfg.Scheduler.JitterMinutes },
	},
	{
		key: "rotation.topics", typ: kList, env: "AUTOPOST_ROTATION_TOPICS",
		apply:   func(cfg *Config, v any) { cfg.Rotation.Topics = v.([]string) },
		extract: func(cfg Config) any { return cfg.Rotation.Topics },
	},
	{
		key: "rotation.content_types", typ: kList, env: "AUTOPOST_ROTATION_CONTENT_TYPES",
		apply:   func(cfg *Config, v any) { cfg.Rotation.ContentTypes = v.([]string) },
		extract: func(cfg Config) any { return cfg.Rotation.ContentTypes },
	},
	{
		key: "rotation.topic_advance_probability", typ: kFloat, env: "AUTOPOST_ROTATION_TOPIC_ADVANCE_PROBABILITY",
		apply:   func(cfg *Config, v any) { cfg.Rotation.TopicAdvanceProbability = v.(float64) },
		extract: func(cfg Config) any { return cfg.Rotation.TopicAdvanceProbability },
	},
	{
		key: "pipeline.max_sources", typ: kInt, env: "AUTOPOST_PIPELINE_MAX_SOURCES",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.MaxSources = v.(int) },
		extract: func(cfg Config) any { return cfg.Pipeline.MaxSources },
	},
	{
		key: "pipeline.auth_failure_threshold", typ: kInt, env: "AUTOPOST_PIPELINE_AUTH_FAILURE_THRESHOLD",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.AuthFailureThreshold = v.(int) },
		extract: func(cfg Config) any { return cfg.Pipeline.AuthFailureThreshold },
	},
	{
		key: "pipeline.rate_limit_backoff", typ: kDuration, env: "AUTOPOST_PIPELINE_RATE_LIMIT_BACKOFF",
		apply:   func(cfg *Config, v any) { cfg.Pipeline.RateLimitBackoff = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Pipeline.RateLimitBackoff },
	},
	{
		key: "llm.provider", typ: kString, env: "AUTOPOST_LLM_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.LLM.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Provider },
	},
	{
		key: "llm.ollama_base_url", typ: kString, env: "AUTOPOST_LLM_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.LLM.OllamaBaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.OllamaBaseURL },
	},
	{
		key: "llm.model", typ: kString, env: "AUTOPOST_LLM_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Model },
	},
	{
		key: "llm.openrouter_model", typ: kString, env: "AUTOPOST_LLM_OPENROUTER_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.OpenRouterModel = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.OpenRouterModel },
	},
	{
		key: "llm.openrouter_api_key", typ: kString, env: "AUTOPOST_OPENROUTER_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.LLM.OpenRouterKey = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.OpenRouterKey },
	},
	{
		key: "enhance.base_url", typ: kString, env: "AUTOPOST_ENHANCE_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Enhance.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Enhance.BaseURL },
	},
	{
		key: "enhance.enabled", typ: kBool, env: "AUTOPOST_ENHANCE_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Enhance.Enabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Enhance.Enabled },
	},
	{
		key: "enhance.api_key", typ: kString, env: "AUTOPOST_ENHANCE_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Enhance.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Enhance.APIKey },
	},
	{
		key: "linkedin.base_url", typ: kString, env: "AUTOPOST_LINKEDIN_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.LinkedIn.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.LinkedIn.BaseURL },
	},
	{
		key: "linkedin.author_urn", typ: kString, env: "AUTOPOST_LINKEDIN_AUTHOR_URN",
		apply:   func(cfg *Config, v any) { cfg.LinkedIn.AuthorURN = v.(string) },
		extract: func(cfg Config) any { return cfg.LinkedIn.AuthorURN },
	},
	{
		key: "linkedin.access_token", typ: kString, env: "AUTOPOST_LINKEDIN_ACCESS_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.LinkedIn.AccessToken = v.(string) },
		extract: func(cfg Config) any { return cfg.LinkedIn.AccessToken },
	},
	{
		key: "gather.catalog_path", typ: kString, env: "AUTOPOST_GATHER_CATALOG_PATH",
		apply:   func(cfg *Config, v any) { cfg.Gather.CatalogPath = v.(string) },
		extract: func(cfg Config) any { return cfg.Gather.CatalogPath },
	},
	{
		key: "gather.concurrency", typ: kInt, env: "AUTOPOST_GATHER_CONCURRENCY",
		apply:   func(cfg *Config, v any) { cfg.Gather.Concurrency = v.(int) },
		extract: func(cfg Config) any { return cfg.Gather.Concurrency },
	},
	{
		key: "gather.requests_per_second", typ: kFloat, env: "AUTOPOST_GATHER_REQUESTS_PER_SECOND",
		apply:   func(cfg *Config, v any) { cfg.Gather.RequestsPerSecond = v.(float64) },
		extract: func(cfg Config) any { return cfg.Gather.RequestsPerSecond },
	},
}

// secretAccount is the secrets-file account name for a secret key.
func (s keySpec) secretAccount() string {
	return strings.ReplaceAll(s.key, ".", "_")
}

// parse converts raw text into the key's typed value.
func (s keySpec) parse(raw string) (any, error) {
	switch s.typ {
	case kString:
		return raw, nil
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kFloat:
		return strconv.ParseFloat(raw, 64)
	case kDuration:
		return time.ParseDuration(raw)
	case kList:
		return splitList(raw), nil
	}
	return nil, fmt.Errorf("unsupported key type for %s", s.key)
}

func (s keySpec) format(cfg Config) string {
	switch v := s.extract(cfg).(type) {
	case []string:
		return strings.Join(v, ";")
	case time.Duration:
		return v.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ";") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}
		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			slog.Warn("could not parse config key, using default value", "key", s.key, "value", raw, "error", err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			slog.Warn("could not parse env var, using default value", "env", s.env, "value", raw, "error", err)
			continue
		}
		s.apply(cfg, v)
	}
}

// applySecrets fills secrets still empty after env overrides from the
// secret store.
func applySecrets(cfg *Config, store secretStore) {
	if store == nil {
		return
	}
	for _, s := range specs {
		if !s.secret || s.extract(*cfg) != "" {
			continue
		}
		if v, err := store.Get(s.secretAccount()); err == nil && v != "" {
			s.apply(cfg, v)
		}
	}
}
