package client

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"

	"github.com/spf13/cobra"
)

// RawLog represents an uploaded log file from the API.
type RawLog struct {
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	UploadedAt string `json:"uploaded_at"`
}

// RawLogList represents the log list API response.
type RawLogList struct {
	Items []RawLog `json:"items"`
}

// UploadCmd creates the upload command.
func UploadCmd() *cobra.Command {
	var quiet bool

	cmd := &cobra.Command{
		Use:   "upload <issue> <file> [file...]",
		Short: "Upload log files to an issue",
		Long: `Uploads one or more log files to an issue's raw store.

File names must be unique within an issue; re-uploading an existing
name is rejected. Run 'logseer build' afterwards to index new files.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runUpload(cmd, args[0], args[1:], quiet, outputJSON)
		},
	}

	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress per-file progress output")

	return cmd
}

func runUpload(cmd *cobra.Command, issueID string, files []string, quiet, outputJSON bool) error {
	api, err := NewAPIClientWithCmd(cmd)
	if err != nil {
		return err
	}

	path := fmt.Sprintf("/v1/issues/%s/logs", url.PathEscape(issueID))

	var uploaded []RawLog
	for _, filePath := range files {
		var onProgress ProgressFunc
		if !quiet && !outputJSON {
			onProgress = func(current, total int64) {
				if total > 0 {
					fmt.Fprintf(os.Stderr, "\r%s: %d/%d bytes", filePath, current, total)
				}
			}
		}

		resp, err := api.PostFileWithProgress(path, filePath, onProgress)
		if onProgress != nil {
			fmt.Fprintln(os.Stderr)
		}
		if err != nil {
			return fmt.Errorf("failed to upload %s: %w", filePath, err)
		}

		var log RawLog
		if err := json.Unmarshal(resp.Data, &log); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
		uploaded = append(uploaded, log)

		if !outputJSON {
			fmt.Printf("Uploaded %s (%d bytes)\n", log.Name, log.Size)
		}
	}

	if outputJSON {
		output, _ := json.MarshalIndent(uploaded, "", "  ")
		fmt.Println(string(output))
	}

	return nil
}

// LogsCmd creates the logs command.
func LogsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs <issue>",
		Short: "List an issue's uploaded log files",
		Long:  "Lists the raw log files uploaded to an issue, ordered by name.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runLogs(cmd, args[0], outputJSON)
		},
	}

	return cmd
}

func runLogs(cmd *cobra.Command, issueID string, outputJSON bool) error {
	api, err := NewAPIClientWithCmd(cmd)
	if err != nil {
		return err
	}

	resp, err := api.Get(fmt.Sprintf("/v1/issues/%s/logs", url.PathEscape(issueID)))
	if err != nil {
		return fmt.Errorf("failed to list logs: %w", err)
	}

	var list RawLogList
	if err := json.Unmarshal(resp.Data, &list); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(list, "", "  ")
		fmt.Println(string(output))
		return nil
	}

	if len(list.Items) == 0 {
		fmt.Println("No log files uploaded.")
		return nil
	}

	fmt.Printf("Found %d log files:\n", len(list.Items))
	for _, log := range list.Items {
		fmt.Printf("  %s (%d bytes, uploaded %s)\n", log.Name, log.Size, log.UploadedAt)
	}

	return nil
}
