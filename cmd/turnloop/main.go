package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/user/turnloop/internal/config"
	ctxsel "github.com/user/turnloop/internal/context"
	"github.com/user/turnloop/internal/runtime"
	"github.com/user/turnloop/internal/runtime/tools"
	"github.com/user/turnloop/internal/state"
	"github.com/user/turnloop/internal/types"
	"github.com/user/turnloop/pkg/llm"
	"github.com/user/turnloop/pkg/llm/openai"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:           "turnloop",
	Short:         "Run tool-using LLM conversations with checkpointed history",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config",
		filepath.Join(os.Getenv("HOME"), ".turnloop", "config.json"), "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig loads and validates the config, exiting on failure.
func loadConfig() *config.Config {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config %s: %v\n", cfgPath, err)
		os.Exit(1)
	}
	return cfg
}

func setupLogging(cfg *config.Config, w io.Writer) {
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: config.ParseLevel(cfg.LogLevel)})))
}

// stores bundles the conversation index and the durable log chosen by
// storage.backend.
type stores struct {
	conversations *state.ConversationIndex
	durable       types.DurableStore
	close         func() error
}

func openStores(cfg *config.Config) (*stores, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	s := &stores{
		conversations: state.NewConversationIndex(cfg.DataDir),
		close:         func() error { return nil },
	}
	switch cfg.Storage.Backend {
	case "badger":
		db, err := state.OpenBadgerStore(state.BadgerConfig{
			Path:   filepath.Join(cfg.DataDir, "badger"),
			Logger: slog.Default(),
		})
		if err != nil {
			return nil, fmt.Errorf("open badger store: %w", err)
		}
		s.durable = db
		s.close = db.Close
	default:
		s.durable = state.NewJSONLStore(cfg.DataDir)
	}
	return s, nil
}

func newProvider(cfg *config.Config) llm.Provider {
	return openai.New(&llm.Config{
		BaseURL:     cfg.LLM.BaseURL,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
	})
}

func newRegistry(cfg *config.Config) *runtime.Registry {
	nb := tools.NewNotebook(filepath.Join(cfg.DataDir, "memory.md"))
	registry := runtime.NewRegistry()
	registry.Register(
		tools.NewMemorySave(nb),
		tools.NewMemoryDelete(nb),
		tools.NewMemoryList(nb),
		tools.NewReadURL(cfg.Tools.ReadURLMaxChars),
		tools.NewCompleteTask(),
		tools.NewAskUser(),
	)
	return registry
}

func engineOptions(cfg *config.Config) runtime.Options {
	return runtime.Options{
		MaxToolRounds: cfg.MaxToolRounds,
		ToolResults:   cfg.ToolResults,
		SystemPrompt:  cfg.SystemPrompt,
		RepairHistory: cfg.RepairHistory,
		Estimator:     ctxsel.NewEstimator(cfg.LLM.Model),
	}
}
