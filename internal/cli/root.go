// Package cli implements ragctl, an admin client for the course RAG service.
package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL  string
	reqTimeout time.Duration
	outputJSON bool

	api *Client
)

var rootCmd = &cobra.Command{
	Use:   "ragctl",
	Short: "Manage and query the course RAG service",
	Long: `ragctl drives a running course RAG server over its REST API.
It indexes chapters, asks questions, inspects sessions and reports index statistics.`,
	SilenceUsage: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		api = NewClient(serverURL, reqTimeout)
		return nil
	},
}

func init() {
	defaultServer := os.Getenv("RAGCTL_SERVER")
	if defaultServer == "" {
		defaultServer = "http://127.0.0.1:8081"
	}
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", defaultServer, "base URL of the RAG server")
	rootCmd.PersistentFlags().DurationVar(&reqTimeout, "timeout", 60*time.Second, "request timeout")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output raw JSON")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	cmd.Println(string(data))
	return nil
}
