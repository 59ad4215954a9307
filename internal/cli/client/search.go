package client

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/spf13/cobra"
)

// QueryRequest represents the query API request.
type QueryRequest struct {
	Question     string `json:"question"`
	TopK         int    `json:"top_k,omitempty"`
	RetrieveOnly bool   `json:"retrieve_only,omitempty"`
	LLMModel     string `json:"llm_model,omitempty"`
}

// RetrievedChunk represents one retrieved chunk in a query response.
type RetrievedChunk struct {
	ChunkID    string  `json:"chunk_id"`
	SourceFile string  `json:"source_file"`
	LineStart  int     `json:"line_start"`
	LineEnd    int     `json:"line_end"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
}

// Reference represents a chunk cited by an answer.
type Reference struct {
	ChunkID    string  `json:"chunk_id"`
	SourceFile string  `json:"source_file"`
	LineStart  int     `json:"line_start"`
	LineEnd    int     `json:"line_end"`
	Snippet    string  `json:"snippet"`
	Score      float64 `json:"score"`
}

// QueryResponse represents the query API response.
type QueryResponse struct {
	Answer     string           `json:"answer,omitempty"`
	Model      string           `json:"model,omitempty"`
	Fallback   bool             `json:"fallback,omitempty"`
	References []Reference      `json:"references,omitempty"`
	Chunks     []RetrievedChunk `json:"chunks"`
}

// SearchCmd creates the search command.
func SearchCmd() *cobra.Command {
	var topK int

	cmd := &cobra.Command{
		Use:   "search <issue> <query>",
		Short: "Search an issue's logs",
		Long:  "Retrieves the log chunks most similar to the query, without LLM generation.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runSearch(cmd, args[0], args[1], topK, outputJSON)
		},
	}

	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Number of chunks to retrieve (default: server-configured)")

	return cmd
}

func runSearch(cmd *cobra.Command, issueID, query string, topK int, outputJSON bool) error {
	api, err := NewAPIClientWithCmd(cmd)
	if err != nil {
		return err
	}

	req := QueryRequest{
		Question:     query,
		TopK:         topK,
		RetrieveOnly: true,
	}

	resp, err := api.Post(fmt.Sprintf("/v1/issues/%s/queries", url.PathEscape(issueID)), req)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	var queryResp QueryResponse
	if err := json.Unmarshal(resp.Data, &queryResp); err != nil {
		return fmt.Errorf("failed to parse search results: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(queryResp, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	printChunks(queryResp.Chunks)
	return nil
}

func printChunks(chunks []RetrievedChunk) {
	if len(chunks) == 0 {
		fmt.Println("No matching chunks found.")
		return
	}

	fmt.Printf("Found %d chunks:\n\n", len(chunks))
	for i, chunk := range chunks {
		fmt.Printf("%d. %s:%d-%d (%.3f)\n", i+1, chunk.SourceFile, chunk.LineStart, chunk.LineEnd, chunk.Score)
		text := chunk.Text
		if len(text) > 300 {
			text = text[:297] + "..."
		}
		for _, line := range strings.Split(strings.TrimRight(text, "\n"), "\n") {
			fmt.Printf("   %s\n", line)
		}
		if i < len(chunks)-1 {
			fmt.Println(strings.Repeat("-", 40))
		}
	}
}
