package cli

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history [session-id]",
	Short: "Show the messages of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		msgs, err := api.History(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("history failed: %w", err)
		}
		if outputJSON {
			return printJSON(cmd, msgs)
		}
		if len(msgs) == 0 {
			cmd.Println("No messages yet.")
			return nil
		}
		for _, m := range msgs {
			cmd.Printf("[%s] %s: %s\n", m.Timestamp.Format("15:04:05"), m.Role, m.Text)
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show vector index statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		stats, err := api.Stats(context.Background())
		if err != nil {
			return fmt.Errorf("stats failed: %w", err)
		}
		if outputJSON {
			return printJSON(cmd, stats)
		}
		keys := make([]string, 0, len(stats))
		for k := range stats {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			cmd.Printf("%-22s %v\n", k+":", stats[k])
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(historyCmd, statsCmd)
}
