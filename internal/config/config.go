package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/user/turnloop/internal/types"
)

var validate = validator.New()

type Config struct {
	DataDir       string `json:"data_dir" validate:"required"`
	LogLevel      string `json:"log_level" validate:"omitempty,oneof=debug info warn error"`
	MaxConcurrent int    `json:"max_concurrent" validate:"gte=0"`
	MaxToolRounds int    `json:"max_tool_rounds" validate:"gte=0"`
	SystemPrompt  string `json:"system_prompt"`

	// RepairHistory makes the engine repair malformed context instead of
	// only reporting violations.
	RepairHistory bool `json:"repair_history"`

	LLM struct {
		BaseURL     string  `json:"base_url" validate:"omitempty,url"`
		APIKey      string  `json:"api_key"`
		Model       string  `json:"model" validate:"required"`
		MaxTokens   int     `json:"max_tokens" validate:"gte=0"`
		Temperature float32 `json:"temperature" validate:"gte=0,lte=2"`
	} `json:"llm"`

	Summarization types.SummarizationConfig    `json:"summarization" validate:"-"`
	ToolResults   types.ToolResultFilterConfig `json:"tool_results"`

	Storage struct {
		Backend string `json:"backend" validate:"omitempty,oneof=jsonl badger"`
	} `json:"storage"`

	Tools struct {
		ReadURLMaxChars int `json:"read_url_max_chars" validate:"gte=0"`
	} `json:"tools"`
}

// Default returns the configuration written on first run.
func Default() *Config {
	cfg := &Config{
		DataDir:       filepath.Join(os.Getenv("HOME"), ".turnloop"),
		LogLevel:      "info",
		MaxConcurrent: 2,
		MaxToolRounds: 10,
		Summarization: types.DefaultSummarizationConfig(),
		ToolResults:   types.ToolResultFilterConfig{KeepRecentCount: 3},
	}
	cfg.LLM.BaseURL = "https://api.openai.com/v1"
	cfg.LLM.Model = "gpt-4o-mini"
	cfg.LLM.MaxTokens = 2000
	cfg.LLM.Temperature = 0.7
	cfg.Storage.Backend = "jsonl"
	cfg.Tools.ReadURLMaxChars = 50000
	return cfg
}

// Load reads the config file at path over the defaults, writing the defaults
// when the file does not exist yet. Environment variables (and a .env file in
// the working directory) take precedence over the file.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	// Load from file if exists, otherwise write defaults
	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
		slog.Info("wrote default config", "path", path)
	}

	// Override from env (highest precedence)
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		cfg.LLM.APIKey = apiKey
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		cfg.LLM.BaseURL = baseURL
	}
	if dataDir := os.Getenv("TURNLOOP_DATA_DIR"); dataDir != "" {
		cfg.DataDir = dataDir
	}

	return cfg, nil
}

// Validate checks field ranges and the summarization thresholds.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return c.Summarization.Validate()
}

// Save writes cfg to path atomically, creating the parent directory.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeFile(path, append(data, '\n'))
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// ToMap converts cfg to its generic JSON form.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// ListValues returns cfg as dot-separated keys, optionally masking secrets.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := Flatten(m)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

// readRaw returns the file's contents as a flat map, keeping keys the Config
// struct does not know about.
func readRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return Flatten(m), nil
}

// GetValue returns the value stored under a dot-separated key. The file is
// created with defaults when missing.
func GetValue(path, key string) (any, error) {
	if _, err := Load(path); err != nil {
		return nil, err
	}
	flat, err := readRaw(path)
	if err != nil {
		return nil, err
	}
	v, ok := flat[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return v, nil
}

// SetValue stores value under a dot-separated key. Values that parse as JSON
// (numbers, booleans) are stored typed; anything else is stored as a string.
func SetValue(path, key, value string) error {
	flat, err := readRaw(path)
	if err != nil {
		return err
	}

	var parsed any
	if err := json.Unmarshal([]byte(value), &parsed); err != nil || isComposite(parsed) {
		parsed = value
	}
	flat[key] = parsed

	data, err := json.MarshalIndent(Unflatten(flat), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeFile(path, append(data, '\n'))
}

func isComposite(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return true
	}
	return false
}

// ParseLevel maps a config log level to slog. Unknown levels fall back to
// info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
