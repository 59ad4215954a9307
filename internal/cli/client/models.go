package client

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// EmbeddingModel represents a registered embedding model from the API.
type EmbeddingModel struct {
	ID          string `json:"id"`
	Dimension   int    `json:"dimension"`
	RequiresKey bool   `json:"requires_key"`
}

// LLMModel represents a registered LLM from the API.
type LLMModel struct {
	ID          string `json:"id"`
	RequiresKey bool   `json:"requires_key"`
}

// ModelCatalog represents the models API response.
type ModelCatalog struct {
	Embedding        []EmbeddingModel `json:"embedding"`
	LLM              []LLMModel       `json:"llm"`
	DefaultEmbedding string           `json:"default_embedding"`
	DefaultLLM       string           `json:"default_llm"`
}

// ModelsCmd creates the models command.
func ModelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List available models",
		Long:  "Lists the embedding and LLM models the server knows about, with the configured defaults.",
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runModels(cmd, outputJSON)
		},
	}

	return cmd
}

func runModels(cmd *cobra.Command, outputJSON bool) error {
	api, err := NewAPIClientWithCmd(cmd)
	if err != nil {
		return err
	}

	resp, err := api.Get("/v1/models")
	if err != nil {
		return fmt.Errorf("failed to list models: %w", err)
	}

	var catalog ModelCatalog
	if err := json.Unmarshal(resp.Data, &catalog); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(catalog, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	fmt.Println("Embedding models:")
	for _, m := range catalog.Embedding {
		marker := " "
		if m.ID == catalog.DefaultEmbedding {
			marker = "*"
		}
		key := ""
		if m.RequiresKey {
			key = ", requires API key"
		}
		fmt.Printf(" %s %s (dimension %d%s)\n", marker, m.ID, m.Dimension, key)
	}

	fmt.Println("\nLLM models:")
	for _, m := range catalog.LLM {
		marker := " "
		if m.ID == catalog.DefaultLLM {
			marker = "*"
		}
		key := ""
		if m.RequiresKey {
			key = " (requires API key)"
		}
		fmt.Printf(" %s %s%s\n", marker, m.ID, key)
	}

	fmt.Println("\n* = server default")

	return nil
}
