package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/seerstack/logseer/internal/cli"
	"github.com/seerstack/logseer/internal/cli/admin"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "logseerd",
		Short: "Logseer daemon and admin CLI",
		Long:  "Logseer daemon for running the API server, applying migrations, and maintaining the embedding cache",
	}

	cli.AddHelpJSONFlag(rootCmd)
	rootCmd.AddCommand(admin.ServeCmd())
	rootCmd.AddCommand(admin.MigrateCmd())
	rootCmd.AddCommand(admin.CacheCmd())

	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	cli.CheckHelpJSON(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
