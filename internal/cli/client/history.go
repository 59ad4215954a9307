package client

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

// ChatMessage represents one chat transcript entry from the API.
type ChatMessage struct {
	Role       string   `json:"role"`
	Text       string   `json:"text"`
	References []string `json:"references,omitempty"`
	CreatedAt  string   `json:"created_at"`
}

// ChatHistory represents the chat history API response.
type ChatHistory struct {
	Items   []ChatMessage `json:"items"`
	Cursor  string        `json:"cursor,omitempty"`
	HasMore bool          `json:"has_more"`
}

// HistoryCmd creates the history command.
func HistoryCmd() *cobra.Command {
	var (
		limit  int
		cursor string
		clear  bool
	)

	cmd := &cobra.Command{
		Use:   "history <issue>",
		Short: "Show an issue's chat history",
		Long:  "Shows the question and answer transcript for an issue, oldest first.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			if clear {
				return runHistoryClear(cmd, args[0], outputJSON)
			}
			return runHistory(cmd, args[0], limit, cursor, outputJSON)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of messages")
	cmd.Flags().StringVar(&cursor, "cursor", "", "Pagination cursor from previous response")
	cmd.Flags().BoolVar(&clear, "clear", false, "Delete the issue's chat history")

	return cmd
}

func runHistory(cmd *cobra.Command, issueID string, limit int, cursor string, outputJSON bool) error {
	api, err := NewAPIClientWithCmd(cmd)
	if err != nil {
		return err
	}

	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	path := fmt.Sprintf("/v1/issues/%s/chat", url.PathEscape(issueID))
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	resp, err := api.Get(path)
	if err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}

	var history ChatHistory
	if err := json.Unmarshal(resp.Data, &history); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(history, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	if len(history.Items) == 0 {
		fmt.Println("No chat history.")
		return nil
	}

	for _, msg := range history.Items {
		fmt.Printf("[%s] %s\n", msg.Role, msg.CreatedAt)
		fmt.Println(msg.Text)
		if len(msg.References) > 0 {
			fmt.Printf("(references: %d chunks)\n", len(msg.References))
		}
		fmt.Println()
	}

	if history.HasMore && history.Cursor != "" {
		fmt.Printf("More messages available. Use --cursor %s\n", history.Cursor)
	}

	return nil
}

func runHistoryClear(cmd *cobra.Command, issueID string, outputJSON bool) error {
	api, err := NewAPIClientWithCmd(cmd)
	if err != nil {
		return err
	}

	if _, err := api.Delete(fmt.Sprintf("/v1/issues/%s/chat", url.PathEscape(issueID))); err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(map[string]interface{}{
			"issue_id": issueID,
			"cleared":  true,
		}, "", "  ")
		fmt.Println(string(output))
	} else {
		fmt.Printf("Chat history cleared for issue %s\n", issueID)
	}

	return nil
}
