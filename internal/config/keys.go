package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "OLLAMA_CHAT_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "ollama.base_url", typ: kString, env: "OLLAMA_CHAT_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.default_model", typ: kString, env: "OLLAMA_CHAT_OLLAMA_DEFAULT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.DefaultModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.DefaultModel },
	},
	{
		key: "ollama.connect_timeout", typ: kInt, env: "OLLAMA_CHAT_OLLAMA_CONNECT_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Ollama.ConnectTimeout = v.(int) },
		extract: func(cfg Config) any { return cfg.Ollama.ConnectTimeout },
	},
	{
		key: "ollama.read_timeout", typ: kInt, env: "OLLAMA_CHAT_OLLAMA_READ_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Ollama.ReadTimeout = v.(int) },
		extract: func(cfg Config) any { return cfg.Ollama.ReadTimeout },
	},
	{
		key: "ollama.max_retries", typ: kInt, env: "OLLAMA_CHAT_OLLAMA_MAX_RETRIES",
		apply:   func(cfg *Config, v any) { cfg.Ollama.MaxRetries = v.(int) },
		extract: func(cfg Config) any { return cfg.Ollama.MaxRetries },
	},
	{
		key: "ollama.check_interval", typ: kInt, env: "OLLAMA_CHAT_OLLAMA_CHECK_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.CheckInterval = v.(int) },
		extract: func(cfg Config) any { return cfg.Ollama.CheckInterval },
	},
	{
		key: "chat.max_messages", typ: kInt, env: "OLLAMA_CHAT_CHAT_MAX_MESSAGES",
		apply:   func(cfg *Config, v any) { cfg.Chat.MaxMessages = v.(int) },
		extract: func(cfg Config) any { return cfg.Chat.MaxMessages },
	},
	{
		key: "chat.system_prompt", typ: kString, env: "OLLAMA_CHAT_CHAT_SYSTEM_PROMPT",
		apply:   func(cfg *Config, v any) { cfg.Chat.SystemPrompt = v.(string) },
		extract: func(cfg Config) any { return cfg.Chat.SystemPrompt },
	},
	{
		key: "knowledge.context_length", typ: kInt, env: "OLLAMA_CHAT_KNOWLEDGE_CONTEXT_LENGTH",
		apply:   func(cfg *Config, v any) { cfg.Knowledge.ContextLength = v.(int) },
		extract: func(cfg Config) any { return cfg.Knowledge.ContextLength },
	},
	{
		key: "knowledge.max_search_results", typ: kInt, env: "OLLAMA_CHAT_KNOWLEDGE_MAX_SEARCH_RESULTS",
		apply:   func(cfg *Config, v any) { cfg.Knowledge.MaxSearchResults = v.(int) },
		extract: func(cfg Config) any { return cfg.Knowledge.MaxSearchResults },
	},
	{
		key: "storage.data_dir", typ: kString, env: "OLLAMA_CHAT_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "storage.max_file_size_mb", typ: kInt, env: "OLLAMA_CHAT_STORAGE_MAX_FILE_SIZE_MB",
		apply:   func(cfg *Config, v any) { cfg.Storage.MaxFileSizeMB = v.(int) },
		extract: func(cfg Config) any { return cfg.Storage.MaxFileSizeMB },
	},
	{
		key: "log.level", typ: kString, env: "OLLAMA_CHAT_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		}
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
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
