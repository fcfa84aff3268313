package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/user/turnloop/internal/types"
)

func init() {
	rootCmd.AddCommand(historyCmd, checkpointsCmd, conversationsCmd)
}

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "List all conversations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		st, err := openStores(cfg)
		if err != nil {
			return err
		}
		defer st.close()

		ctx := context.Background()
		list, err := st.conversations.List(ctx)
		if err != nil {
			return fmt.Errorf("list conversations: %w", err)
		}
		if len(list) == 0 {
			fmt.Println("No conversations found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "KEY\tID\tMESSAGES\tUPDATED")
		for _, c := range list {
			count, err := st.durable.Count(ctx, c.ConversationID)
			if err != nil {
				count = 0
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
				c.ConversationKey,
				c.ConversationID,
				count,
				c.UpdatedAt.Format("2006-01-02 15:04:05"),
			)
		}
		return w.Flush()
	},
}

var historyCmd = &cobra.Command{
	Use:   "history <key>",
	Short: "Print the full message log of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		st, err := openStores(cfg)
		if err != nil {
			return err
		}
		defer st.close()

		ctx := context.Background()
		conv, err := st.conversations.Lookup(ctx, types.ConversationKey(args[0]))
		if err != nil {
			return err
		}
		msgs, err := st.durable.Messages(ctx, conv.ConversationID, 0)
		if err != nil {
			return fmt.Errorf("load messages: %w", err)
		}
		for i, m := range msgs {
			fmt.Printf("%4d %-9s %s\n", i, m.Role, describe(m))
		}
		return nil
	},
}

var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints <key>",
	Short: "List the checkpoints of a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		st, err := openStores(cfg)
		if err != nil {
			return err
		}
		defer st.close()

		ctx := context.Background()
		conv, err := st.conversations.Lookup(ctx, types.ConversationKey(args[0]))
		if err != nil {
			return err
		}
		cps, err := st.durable.Checkpoints(ctx, conv.ConversationID)
		if err != nil {
			return fmt.Errorf("load checkpoints: %w", err)
		}
		if len(cps) == 0 {
			fmt.Println("No checkpoints.")
			return nil
		}
		for _, cp := range cps {
			fmt.Printf("up to %d (%s)\n  %s\n", cp.UpToIndex, cp.CreatedAt.Format("2006-01-02 15:04:05"), cp.Summary)
		}
		return nil
	},
}

// describe renders one message on a single line.
func describe(m types.Message) string {
	text := strings.ReplaceAll(m.Text, "\n", " ")
	if len(text) > 120 {
		text = text[:117] + "..."
	}
	var extra []string
	for _, tc := range m.ToolCalls {
		extra = append(extra, fmt.Sprintf("%s(%s)", tc.Name, tc.ID))
	}
	if m.ToolCallID != "" {
		extra = append(extra, "for "+m.ToolCallID)
	}
	if len(m.Content) > 0 {
		extra = append(extra, fmt.Sprintf("+%d items", len(m.Content)))
	}
	if len(extra) > 0 {
		return fmt.Sprintf("%s [%s]", text, strings.Join(extra, ", "))
	}
	return text
}
