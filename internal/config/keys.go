package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kDuration
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
		key: "backend.base_url", typ: kString, env: "PDFQA_BACKEND_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Backend.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Backend.BaseURL },
	},
	{
		key: "backend.upload_url", typ: kString, env: "PDFQA_BACKEND_UPLOAD_URL",
		apply:   func(cfg *Config, v any) { cfg.Backend.UploadURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Backend.UploadURL },
	},
	{
		key: "backend.timeout", typ: kDuration, env: "PDFQA_BACKEND_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Backend.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Backend.Timeout },
	},
	{
		key: "chat.model", typ: kString, env: "PDFQA_CHAT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Chat.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Chat.Model },
	},
	{
		key: "scholar.num_pdfs", typ: kInt, env: "PDFQA_SCHOLAR_NUM_PDFS",
		apply:   func(cfg *Config, v any) { cfg.Scholar.NumPDFs = v.(int) },
		extract: func(cfg Config) any { return cfg.Scholar.NumPDFs },
	},
	{
		key: "scholar.source", typ: kString, env: "PDFQA_SCHOLAR_SOURCE",
		apply:   func(cfg *Config, v any) { cfg.Scholar.Source = v.(string) },
		extract: func(cfg Config) any { return cfg.Scholar.Source },
	},
	{
		key: "status.result_ttl", typ: kDuration, env: "PDFQA_STATUS_RESULT_TTL",
		apply:   func(cfg *Config, v any) { cfg.Status.ResultTTL = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Status.ResultTTL },
	},
	{
		key: "inventory.cache_ttl", typ: kDuration, env: "PDFQA_INVENTORY_CACHE_TTL",
		apply:   func(cfg *Config, v any) { cfg.Inventory.CacheTTL = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Inventory.CacheTTL },
	},
	{
		key: "answer.link_rewrites", typ: kString, env: "PDFQA_ANSWER_LINK_REWRITES",
		apply:   func(cfg *Config, v any) { cfg.Answer.LinkRewrites = v.(string) },
		extract: func(cfg Config) any { return cfg.Answer.LinkRewrites },
	},
	{
		key: "storage.data_dir", typ: kString, env: "PDFQA_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "PDFQA_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "log.file", typ: kString, env: "PDFQA_LOG_FILE",
		apply:   func(cfg *Config, v any) { cfg.Log.File = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.File },
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
		case kDuration:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if d, err := time.ParseDuration(v); err == nil {
					s.apply(cfg, d)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config, getenv func(string) string) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := getenv(s.env)
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
		case kDuration:
			if d, err := time.ParseDuration(raw); err == nil {
				s.apply(cfg, d)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
