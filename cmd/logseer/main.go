package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/seerstack/logseer/internal/cli"
	"github.com/seerstack/logseer/internal/cli/client"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "logseer",
		Short: "Logseer CLI - Ask questions about your logs",
		Long: `Logseer CLI uploads log files into issues, builds a searchable knowledge
base over them, and answers questions grounded in the retrieved log lines.

Environment variables:
  LOGSEER_API_URL   API base URL (default: http://localhost:8080)`,
		Version: version,
	}

	rootCmd.PersistentFlags().Bool("output", false, "Output as JSON")
	rootCmd.PersistentFlags().String("api-url", "", "API base URL (overrides env and config)")
	cli.AddHelpJSONFlag(rootCmd)

	rootCmd.AddCommand(client.InitCmd())
	rootCmd.AddCommand(client.IssuesCmd())
	rootCmd.AddCommand(client.UploadCmd())
	rootCmd.AddCommand(client.LogsCmd())
	rootCmd.AddCommand(client.BuildCmd())
	rootCmd.AddCommand(client.SearchCmd())
	rootCmd.AddCommand(client.AskCmd())
	rootCmd.AddCommand(client.HistoryCmd())
	rootCmd.AddCommand(client.ModelsCmd())

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
