package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"github.com/kalambet/pdfqa/internal/flow"
)

type Config struct {
	Backend   BackendConfig
	Chat      ChatConfig
	Scholar   ScholarConfig
	Status    StatusConfig
	Inventory InventoryConfig
	Answer    AnswerConfig
	Storage   StorageConfig
	Log       LogConfig
}

type BackendConfig struct {
	BaseURL   string
	UploadURL string
	Timeout   time.Duration
}

type ChatConfig struct {
	Model string
}

type ScholarConfig struct {
	NumPDFs int
	Source  string
}

type StatusConfig struct {
	ResultTTL time.Duration
}

type InventoryConfig struct {
	CacheTTL time.Duration
}

type AnswerConfig struct {
	// LinkRewrites is a comma-separated list of from=to replacements applied
	// to answer text.
	LinkRewrites string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
	// File is where the chat UI logs. Empty means <data_dir>/pdfqa.log.
	File string
}

// LogFile resolves the chat UI log path.
func (c Config) LogFile() string {
	if c.Log.File != "" {
		return c.Log.File
	}
	return filepath.Join(c.Storage.DataDir, "pdfqa.log")
}

// UploadURL returns the upload service URL, which defaults to the backend.
func (c Config) UploadURL() string {
	if c.Backend.UploadURL != "" {
		return c.Backend.UploadURL
	}
	return c.Backend.BaseURL
}

// FlowSettings converts the chat and scholar keys to controller settings.
func (c Config) FlowSettings() (flow.Settings, error) {
	src, err := flow.ParseSource(c.Scholar.Source)
	if err != nil {
		return flow.Settings{}, err
	}
	rewrites, err := flow.ParseRewrites(c.Answer.LinkRewrites)
	if err != nil {
		return flow.Settings{}, fmt.Errorf("answer.link_rewrites: %w", err)
	}
	s := flow.Settings{
		Model:        c.Chat.Model,
		NumPDFs:      c.Scholar.NumPDFs,
		Source:       src,
		LinkRewrites: rewrites,
	}
	return s, s.Validate()
}

func defaults() Config {
	return Config{
		Backend: BackendConfig{
			BaseURL: "http://localhost:8000",
			Timeout: 5 * time.Minute,
		},
		Chat: ChatConfig{
			Model: flow.DefaultModel,
		},
		Scholar: ScholarConfig{
			NumPDFs: 3,
			Source:  string(flow.SourceAll),
		},
		Status: StatusConfig{
			ResultTTL: 5 * time.Second,
		},
		Inventory: InventoryConfig{
			CacheTTL: time.Minute,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the platform-native backend, a .env file in
// the working directory, and environment variables, in that order of
// increasing precedence.
//
// On macOS the backend is UserDefaults (domain: com.pdfqa.app).
// Elsewhere it is a JSON file at $XDG_CONFIG_HOME/pdfqa/config.json.
func Load() (Config, error) {
	return loadWith(newPlatformBackend(), os.Getenv, ".env")
}

// loadWith applies backend values, then dotenv values, then getenv values.
// Missing dotenv files are skipped.
func loadWith(b ConfigBackend, getenv func(string) string, dotenvPaths ...string) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	dotenv := map[string]string{}
	for _, p := range dotenvPaths {
		vals, err := godotenv.Read(p)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			fmt.Fprintf(os.Stderr, "[WARN] could not read %s: %v. Ignoring it.\n", p, err)
			continue
		}
		for k, v := range vals {
			dotenv[k] = v
		}
	}

	applyEnvOverrides(&cfg, func(name string) string {
		if v := getenv(name); v != "" {
			return v
		}
		return dotenv[name]
	})

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	if cfg.Backend.BaseURL == "" {
		return errors.New("backend.base_url must not be empty")
	}
	if cfg.Backend.Timeout <= 0 {
		return fmt.Errorf("backend.timeout must be positive, got %s", cfg.Backend.Timeout)
	}
	if cfg.Status.ResultTTL <= 0 {
		return fmt.Errorf("status.result_ttl must be positive, got %s", cfg.Status.ResultTTL)
	}
	if _, err := cfg.FlowSettings(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
