package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/user/turnloop/internal/gateway"
	"github.com/user/turnloop/internal/runtime/tools"
	"github.com/user/turnloop/internal/types"
)

var chatKey string

func init() {
	chatCmd.Flags().StringVar(&chatKey, "key", "cli:default", "conversation key")
	rootCmd.AddCommand(chatCmd)
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the model in the terminal",
	Args:  cobra.NoArgs,
	RunE:  runChat,
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	setupLogging(cfg, os.Stderr)

	st, err := openStores(cfg)
	if err != nil {
		return err
	}
	defer st.close()

	gw, err := gateway.New(gateway.Config{
		Provider:      newProvider(cfg),
		Registry:      newRegistry(cfg),
		Conversations: st.conversations,
		Durable:       st.durable,
		Summarization: cfg.Summarization,
		Engine:        engineOptions(cfg),
		MaxConcurrent: int64(cfg.MaxConcurrent),
	})
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	gw.Start(ctx)
	defer gw.Stop()

	key := types.ConversationKey(chatKey)
	agent, err := gw.Agent(ctx, key)
	if err != nil {
		return err
	}
	slog.Info("chat started",
		"conversation_id", string(agent.ID),
		"model", cfg.LLM.Model,
		"backend", cfg.Storage.Backend,
	)

	in := bufio.NewScanner(os.Stdin)
	var resumeID string
	for {
		prompt := "> "
		if resumeID != "" {
			prompt = "answer> "
		}
		fmt.Print(prompt)
		if !in.Scan() {
			fmt.Println()
			return in.Err()
		}
		line := strings.TrimSpace(in.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			return nil
		}

		opts := []gateway.RunOption{}
		if resumeID != "" {
			opts = append(opts, gateway.WithResume(resumeID))
		}
		done := make(chan types.TurnResult, 1)
		opts = append(opts, gateway.WithOnComplete(func(r types.TurnResult) { done <- r }))
		if _, err := gw.HandleInbound(ctx, key, line, opts...); err != nil {
			return err
		}

		var res types.TurnResult
		select {
		case res = <-done:
		case <-ctx.Done():
			return nil
		}

		resumeID = ""
		switch {
		case !res.Success:
			fmt.Printf("error: %s\n", res.Error)
		default:
			if pending := agent.Engine.PendingCalls(); len(pending) > 0 {
				resumeID = pending[0].ID
				fmt.Printf("? %s\n", tools.NewAskUser().Question(pending[0].Arguments))
				continue
			}
			fmt.Println(res.Response)
			if res.CompletionSignal != nil {
				fmt.Printf("[task complete: %s]\n", *res.CompletionSignal)
			}
		}
	}
}
