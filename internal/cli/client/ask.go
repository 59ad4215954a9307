package client

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
)

// AskCmd creates the ask command.
func AskCmd() *cobra.Command {
	var (
		topK       int
		model      string
		showChunks bool
	)

	cmd := &cobra.Command{
		Use:   "ask <issue> <question>",
		Short: "Ask a question about an issue's logs",
		Long:  "Retrieves the most relevant log chunks and asks the configured LLM to answer from them.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runAsk(cmd, args[0], args[1], topK, model, showChunks, outputJSON)
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of chunks to retrieve (default: server-configured)")
	cmd.Flags().StringVar(&model, "model", "", "LLM model id (default: server-configured model)")
	cmd.Flags().BoolVar(&showChunks, "chunks", false, "Also print the retrieved chunks")

	return cmd
}

func runAsk(cmd *cobra.Command, issueID, question string, topK int, model string, showChunks, outputJSON bool) error {
	api, err := NewAPIClientWithCmd(cmd)
	if err != nil {
		return err
	}

	req := QueryRequest{
		Question: question,
		TopK:     topK,
		LLMModel: model,
	}

	resp, err := api.Post(fmt.Sprintf("/v1/issues/%s/queries", url.PathEscape(issueID)), req)
	if err != nil {
		return fmt.Errorf("ask failed: %w", err)
	}

	var queryResp QueryResponse
	if err := json.Unmarshal(resp.Data, &queryResp); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(queryResp, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	if queryResp.Fallback {
		fmt.Println("(LLM unavailable; showing retrieved context instead of an answer)")
		fmt.Println()
	}

	if queryResp.Answer != "" {
		fmt.Println(queryResp.Answer)
	}

	if len(queryResp.References) > 0 {
		fmt.Println()
		fmt.Println("References:")
		for _, ref := range queryResp.References {
			fmt.Printf("  %s:%d-%d (%.3f)\n", ref.SourceFile, ref.LineStart, ref.LineEnd, ref.Score)
		}
	}

	if queryResp.Model != "" {
		fmt.Printf("\nModel: %s\n", queryResp.Model)
	}

	if showChunks || queryResp.Fallback {
		fmt.Println()
		fmt.Println(strings.Repeat("-", 40))
		printChunks(queryResp.Chunks)
	}

	return nil
}
