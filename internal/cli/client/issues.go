package client

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

// Issue represents an issue from the API.
type Issue struct {
	ID        string `json:"id"`
	CreatedAt string `json:"created_at"`
}

// IssueDetail represents an issue with its stats.
type IssueDetail struct {
	ID         string       `json:"id"`
	CreatedAt  string       `json:"created_at"`
	FileCount  int          `json:"file_count"`
	TotalBytes int64        `json:"total_bytes"`
	ChunkCount int          `json:"chunk_count"`
	ModelID    string       `json:"model_id,omitempty"`
	KBBuiltAt  string       `json:"kb_built_at,omitempty"`
	LastBuild  *BuildReport `json:"last_build,omitempty"`
}

// IssueList represents the issue list API response.
type IssueList struct {
	Items   []Issue `json:"items"`
	Cursor  string  `json:"cursor,omitempty"`
	HasMore bool    `json:"has_more"`
}

// IssuesCmd creates the issues command with subcommands.
func IssuesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "issues",
		Short: "Manage issues",
		Long:  "Create, list, inspect, and delete issues. An issue is a named workspace of uploaded logs.",
	}

	cmd.AddCommand(IssuesCreateCmd())
	cmd.AddCommand(IssuesListCmd())
	cmd.AddCommand(IssuesStatsCmd())
	cmd.AddCommand(IssuesDeleteCmd())

	return cmd
}

func IssuesCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a new issue",
		Long:  "Creates a new issue with the given name. Names may contain letters, digits, dots, dashes, and underscores.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runIssuesCreate(cmd, args[0], outputJSON)
		},
	}

	return cmd
}

func runIssuesCreate(cmd *cobra.Command, name string, outputJSON bool) error {
	api, err := NewAPIClientWithCmd(cmd)
	if err != nil {
		return err
	}

	resp, err := api.Post("/v1/issues", map[string]string{"name": name})
	if err != nil {
		return fmt.Errorf("failed to create issue: %w", err)
	}

	var issue Issue
	if err := json.Unmarshal(resp.Data, &issue); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(issue, "", "  ")
		fmt.Println(string(output))
	} else {
		fmt.Printf("Issue created: %s\n", issue.ID)
	}

	return nil
}

func IssuesListCmd() *cobra.Command {
	var (
		limit  int
		cursor string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List issues",
		Long:  "Lists issues ordered by name.",
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runIssuesList(cmd, limit, cursor, outputJSON)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of results")
	cmd.Flags().StringVar(&cursor, "cursor", "", "Pagination cursor from previous response")

	return cmd
}

func runIssuesList(cmd *cobra.Command, limit int, cursor string, outputJSON bool) error {
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
	path := "/v1/issues"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}

	resp, err := api.Get(path)
	if err != nil {
		return fmt.Errorf("failed to list issues: %w", err)
	}

	var list IssueList
	if err := json.Unmarshal(resp.Data, &list); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(list, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	if len(list.Items) == 0 {
		fmt.Println("No issues found.")
		return nil
	}

	fmt.Printf("Found %d issues:\n", len(list.Items))
	for _, issue := range list.Items {
		fmt.Printf("  %s (created: %s)\n", issue.ID, issue.CreatedAt)
	}
	if list.HasMore && list.Cursor != "" {
		fmt.Printf("\nMore results available. Use --cursor %s\n", list.Cursor)
	}

	return nil
}

func IssuesStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats <issue>",
		Short: "Show issue statistics",
		Long:  "Shows file counts, sizes, and knowledge base status for an issue.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runIssuesStats(cmd, args[0], outputJSON)
		},
	}

	return cmd
}

func runIssuesStats(cmd *cobra.Command, issueID string, outputJSON bool) error {
	api, err := NewAPIClientWithCmd(cmd)
	if err != nil {
		return err
	}

	resp, err := api.Get(fmt.Sprintf("/v1/issues/%s", url.PathEscape(issueID)))
	if err != nil {
		return fmt.Errorf("failed to get issue: %w", err)
	}

	var detail IssueDetail
	if err := json.Unmarshal(resp.Data, &detail); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(detail, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	fmt.Printf("Issue: %s\n", detail.ID)
	fmt.Printf("Created: %s\n", detail.CreatedAt)
	fmt.Printf("Raw logs: %d files, %d bytes\n", detail.FileCount, detail.TotalBytes)
	if detail.KBBuiltAt == "" {
		fmt.Println("Knowledge base: not built")
		return nil
	}
	fmt.Printf("Knowledge base: %d chunks, model %s, built %s\n",
		detail.ChunkCount, detail.ModelID, detail.KBBuiltAt)
	if detail.LastBuild != nil {
		printBuildReport(detail.LastBuild, "  ")
	}

	return nil
}

func IssuesDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <issue>",
		Short: "Delete an issue",
		Long:  "Deletes an issue along with its raw logs, knowledge base, and chat history.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runIssuesDelete(cmd, args[0], outputJSON)
		},
	}

	return cmd
}

func runIssuesDelete(cmd *cobra.Command, issueID string, outputJSON bool) error {
	api, err := NewAPIClientWithCmd(cmd)
	if err != nil {
		return err
	}

	if _, err := api.Delete(fmt.Sprintf("/v1/issues/%s", url.PathEscape(issueID))); err != nil {
		return fmt.Errorf("failed to delete issue: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(map[string]interface{}{
			"id":      issueID,
			"deleted": true,
		}, "", "  ")
		fmt.Println(string(output))
	} else {
		fmt.Printf("Issue %s deleted\n", issueID)
	}

	return nil
}
