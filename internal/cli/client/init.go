package client

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// InitCmd wires `logseer init`, which probes the server's health endpoint
// and writes the global config file every other command reads its URL from.
func InitCmd() *cobra.Command {
	var (
		apiURL string
		force  bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Configure the logseer client",
		Long:  "Verifies the server is reachable and saves its URL to the global config file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runInit(apiURL, force, outputJSON)
		},
	}

	cmd.Flags().StringVar(&apiURL, "api-url", "", "API base URL (default: http://localhost:8080)")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")

	return cmd
}

// resolveInitURL picks the URL to probe: explicit flag, then environment
// (a .env file counts), then the compiled-in default. The stored config is
// deliberately not consulted here since init is what writes it.
func resolveInitURL(flag string) string {
	if flag != "" {
		return flag
	}
	_ = godotenv.Load()
	if url := os.Getenv(envAPIURL); url != "" {
		return url
	}
	return defaultAPIURL
}

func runInit(apiURL string, force, outputJSON bool) error {
	path, err := GetConfigPath()
	if err != nil {
		return err
	}
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists at %s (use --force to overwrite)", path)
		}
	}

	apiURL = resolveInitURL(apiURL)

	api, err := NewAPIClientWithConfig(apiURL)
	if err != nil {
		return fmt.Errorf("failed to create API client: %w", err)
	}
	resp, err := api.Get("/health")
	if err != nil {
		return fmt.Errorf("server at %s is not reachable: %w", apiURL, err)
	}

	var health struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(resp.Data, &health); err != nil {
		return fmt.Errorf("unexpected health response from %s: %w", apiURL, err)
	}

	if err := SaveGlobalConfig(GlobalConfig{APIURL: apiURL}); err != nil {
		return err
	}

	if outputJSON {
		output, _ := json.MarshalIndent(struct {
			APIURL string `json:"api_url"`
			Status string `json:"status"`
			Config string `json:"config"`
		}{apiURL, health.Status, path}, "", "  ")
		fmt.Println(string(output))
	} else {
		fmt.Printf("Server at %s is %s\n", apiURL, health.Status)
		fmt.Printf("Config saved to %s\n", path)
	}

	return nil
}
