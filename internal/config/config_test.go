package config

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func configPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "config.json")
}

// clearEnv keeps the caller's environment from leaking into Load.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"OPENAI_API_KEY", "OPENAI_BASE_URL", "TURNLOOP_DATA_DIR"} {
		t.Setenv(k, "")
	}
}

func save(t *testing.T, path string, cfg *Config) {
	t.Helper()
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
}

func TestLoadWritesDefaults(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "nested", "config.json")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LogLevel != "info" || cfg.MaxToolRounds != 10 || cfg.Storage.Backend != "jsonl" {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if cfg.Summarization.Enabled || cfg.Summarization.TriggerAt != 50 || cfg.Summarization.KeepRecent != 10 {
		t.Errorf("unexpected summarization defaults %+v", cfg.Summarization)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("defaults not written: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	clearEnv(t)
	path := configPath(t)

	original := Default()
	original.DataDir = "/tmp/turnloop-test"
	original.LogLevel = "debug"
	original.SystemPrompt = "Be brief."
	original.RepairHistory = true
	original.LLM.APIKey = "sk-round-trip"
	original.LLM.Model = "gpt-4"
	original.LLM.Temperature = 0.5
	original.Summarization.Enabled = true
	original.Summarization.TriggerAt = 30
	original.Summarization.ToolResults.KeepRecentCount = 1
	original.Storage.Backend = "badger"
	save(t, path, original)

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.DataDir != original.DataDir || loaded.LogLevel != original.LogLevel {
		t.Errorf("top-level mismatch: %+v", loaded)
	}
	if loaded.SystemPrompt != "Be brief." || !loaded.RepairHistory {
		t.Errorf("engine settings mismatch: %+v", loaded)
	}
	if loaded.LLM != original.LLM {
		t.Errorf("llm mismatch: %+v != %+v", loaded.LLM, original.LLM)
	}
	if loaded.Summarization != original.Summarization {
		t.Errorf("summarization mismatch: %+v != %+v", loaded.Summarization, original.Summarization)
	}
	if loaded.Storage.Backend != "badger" {
		t.Errorf("backend mismatch: %q", loaded.Storage.Backend)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Errorf("saved file is not valid JSON: %v", err)
	}
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	clearEnv(t)
	path := configPath(t)
	if err := os.WriteFile(path, []byte(`{"llm": {"model": "local"}}`), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LLM.Model != "local" {
		t.Errorf("expected model from file, got %q", cfg.LLM.Model)
	}
	if cfg.LLM.BaseURL != "https://api.openai.com/v1" || cfg.MaxConcurrent != 2 {
		t.Errorf("expected defaults for missing keys, got %+v", cfg)
	}
}

func TestLoadMalformedFile(t *testing.T) {
	path := configPath(t)
	if err := os.WriteFile(path, []byte(`{not json`), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := configPath(t)
	cfg := Default()
	cfg.LLM.APIKey = "from-file"
	save(t, path, cfg)

	t.Setenv("OPENAI_API_KEY", "from-env")
	t.Setenv("OPENAI_BASE_URL", "http://localhost:8080/v1")
	t.Setenv("TURNLOOP_DATA_DIR", "/tmp/turnloop-env")

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.LLM.APIKey != "from-env" {
		t.Errorf("expected env api key, got %q", loaded.LLM.APIKey)
	}
	if loaded.LLM.BaseURL != "http://localhost:8080/v1" {
		t.Errorf("expected env base url, got %q", loaded.LLM.BaseURL)
	}
	if loaded.DataDir != "/tmp/turnloop-env" {
		t.Errorf("expected env data dir, got %q", loaded.DataDir)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "sqlite" }, true},
		{"unknown log level", func(c *Config) { c.LogLevel = "verbose" }, true},
		{"missing model", func(c *Config) { c.LLM.Model = "" }, true},
		{"bad base url", func(c *Config) { c.LLM.BaseURL = "not a url" }, true},
		{"negative keep recent results", func(c *Config) { c.ToolResults.KeepRecentCount = -1 }, true},
		{"trigger not above keep recent", func(c *Config) {
			c.Summarization.Enabled = true
			c.Summarization.TriggerAt = 5
			c.Summarization.KeepRecent = 5
		}, true},
		{"disabled summarization unchecked", func(c *Config) {
			c.Summarization.TriggerAt = 0
		}, false},
		{"enabled summarization", func(c *Config) {
			c.Summarization.Enabled = true
			c.Summarization.TriggerAt = 20
			c.Summarization.KeepRecent = 4
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestListValues(t *testing.T) {
	cfg := Default()
	cfg.LLM.APIKey = "sk-secret-key-1234"

	masked, err := ListValues(cfg, true)
	if err != nil {
		t.Fatalf("ListValues failed: %v", err)
	}
	if masked["llm.api_key"] != "***1234" {
		t.Errorf("expected masked api key, got %v", masked["llm.api_key"])
	}
	if masked["summarization.trigger_at"] != float64(50) {
		t.Errorf("expected summarization.trigger_at=50, got %v", masked["summarization.trigger_at"])
	}
	if masked["summarization.tool_results.keep_recent_count"] != float64(3) {
		t.Errorf("expected nested tool result key, got %v", masked["summarization.tool_results.keep_recent_count"])
	}

	plain, err := ListValues(cfg, false)
	if err != nil {
		t.Fatalf("ListValues failed: %v", err)
	}
	if plain["llm.api_key"] != "sk-secret-key-1234" {
		t.Errorf("expected unmasked api key, got %v", plain["llm.api_key"])
	}
}

func TestGetValue(t *testing.T) {
	clearEnv(t)
	path := configPath(t)
	cfg := Default()
	cfg.MaxConcurrent = 8
	cfg.LLM.Model = "gpt-4"
	save(t, path, cfg)

	tests := map[string]any{
		"log_level":                "info",
		"llm.model":                "gpt-4",
		"max_concurrent":           float64(8),
		"summarization.enabled":    false,
		"storage.backend":          "jsonl",
		"tools.read_url_max_chars": float64(50000),
	}
	for key, want := range tests {
		got, err := GetValue(path, key)
		if err != nil {
			t.Errorf("GetValue(%q) failed: %v", key, err)
			continue
		}
		if got != want {
			t.Errorf("GetValue(%q) = %v (%T), want %v", key, got, got, want)
		}
	}

	_, err := GetValue(path, "nonexistent.key")
	if err == nil || err.Error() != "unknown config key: nonexistent.key" {
		t.Errorf("expected unknown key error, got %v", err)
	}
}

func TestGetValueCreatesFile(t *testing.T) {
	clearEnv(t)
	path := configPath(t)
	v, err := GetValue(path, "log_level")
	if err != nil {
		t.Fatalf("GetValue on new config failed: %v", err)
	}
	if v != "info" {
		t.Errorf("expected default log_level=info, got %v", v)
	}
}

func TestSetValue(t *testing.T) {
	clearEnv(t)
	tests := []struct {
		key   string
		value string
		want  any
	}{
		{"log_level", "debug", "debug"},
		{"max_concurrent", "16", float64(16)},
		{"summarization.enabled", "true", true},
		{"llm.temperature", "0.3", 0.3},
		{"llm.model", "gpt-4", "gpt-4"},
		{"custom.setting", "value", "value"},
		{"system_prompt", `["not","a","list"]`, `["not","a","list"]`},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			path := configPath(t)
			save(t, path, Default())

			if err := SetValue(path, tt.key, tt.value); err != nil {
				t.Fatalf("SetValue failed: %v", err)
			}
			got, err := GetValue(path, tt.key)
			if err != nil {
				t.Fatalf("GetValue failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %v (%T), want %v", got, got, tt.want)
			}

			// Other keys survive the rewrite.
			if v, _ := GetValue(path, "storage.backend"); v != "jsonl" {
				t.Errorf("expected storage.backend preserved, got %v", v)
			}
		})
	}
}

func TestSetValueNonexistentFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "config.json")
	if err := SetValue(path, "log_level", "debug"); err == nil {
		t.Fatal("expected error for nonexistent file")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
