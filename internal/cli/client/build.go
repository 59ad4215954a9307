package client

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/cobra"
)

// BuildRequest represents the build API request.
type BuildRequest struct {
	ModelID string `json:"model_id,omitempty"`
	Force   bool   `json:"force,omitempty"`
}

// BuildJob represents a build job from the API.
type BuildJob struct {
	JobID      string       `json:"job_id,omitempty"`
	IssueID    string       `json:"issue_id"`
	ModelID    string       `json:"model_id,omitempty"`
	Force      bool         `json:"force,omitempty"`
	Status     string       `json:"status"`
	Stage      string       `json:"stage,omitempty"`
	StageDone  int          `json:"stage_done,omitempty"`
	StageTotal int          `json:"stage_total,omitempty"`
	EnqueuedAt string       `json:"enqueued_at,omitempty"`
	StartedAt  string       `json:"started_at,omitempty"`
	FinishedAt string       `json:"finished_at,omitempty"`
	Error      string       `json:"error,omitempty"`
	Report     *BuildReport `json:"report,omitempty"`
}

// BuildReport represents a finished build's summary.
type BuildReport struct {
	IssueID        string         `json:"issue_id"`
	ModelID        string         `json:"model_id"`
	Status         string         `json:"status"`
	ChunksTotal    int            `json:"chunks_total"`
	ChunksEmbedded int            `json:"chunks_embedded"`
	CacheHits      int            `json:"cache_hits"`
	CacheMisses    int            `json:"cache_misses"`
	EmbedFailures  int            `json:"embed_failures"`
	FailedBatches  []BatchFailure `json:"failed_batches,omitempty"`
	NewFiles       []string       `json:"new_files,omitempty"`
	StartedAt      string         `json:"started_at"`
	DurationMS     int64          `json:"duration_ms"`
	Error          string         `json:"error,omitempty"`
}

// BatchFailure describes one failed embedding batch.
type BatchFailure struct {
	Start  int    `json:"start"`
	End    int    `json:"end"`
	Reason string `json:"reason"`
}

const buildPollInterval = time.Second

// BuildCmd creates the build command.
func BuildCmd() *cobra.Command {
	var (
		force bool
		model string
		wait  bool
	)

	cmd := &cobra.Command{
		Use:   "build <issue>",
		Short: "Build an issue's knowledge base",
		Long: `Queues a knowledge base build for an issue.

Incremental builds pick up files added since the last build; edits to
already-indexed files are not re-detected. Use --force to rebuild the
knowledge base from scratch.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runBuild(cmd, args[0], model, force, wait, outputJSON)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Rebuild from scratch, ignoring the existing knowledge base")
	cmd.Flags().StringVar(&model, "model", "", "Embedding model id (default: server-configured model)")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Block until the build finishes")

	cmd.AddCommand(BuildStatusCmd())

	return cmd
}

func runBuild(cmd *cobra.Command, issueID, model string, force, wait, outputJSON bool) error {
	api, err := NewAPIClientWithCmd(cmd)
	if err != nil {
		return err
	}

	resp, err := api.Post(fmt.Sprintf("/v1/issues/%s/builds", url.PathEscape(issueID)),
		BuildRequest{ModelID: model, Force: force})
	if err != nil {
		return fmt.Errorf("failed to queue build: %w", err)
	}

	var job BuildJob
	if err := json.Unmarshal(resp.Data, &job); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if !wait {
		if outputJSON {
			output, _ := json.MarshalIndent(job, "", "  ")
			fmt.Println(string(output))
		} else {
			fmt.Printf("Build %s queued for issue %s\n", job.JobID, job.IssueID)
			fmt.Printf("Check progress with: logseer build status %s\n", issueID)
		}
		return nil
	}

	final, err := waitForBuild(api, issueID, outputJSON)
	if err != nil {
		return err
	}

	if outputJSON {
		output, _ := json.MarshalIndent(final, "", "  ")
		fmt.Println(string(output))
	} else {
		printBuildJob(final)
	}

	if final.Status == "failed" {
		return fmt.Errorf("build failed: %s", final.Error)
	}
	return nil
}

// waitForBuild polls the latest-build endpoint until the job leaves the
// queue, printing stage transitions along the way.
func waitForBuild(api *APIClient, issueID string, outputJSON bool) (*BuildJob, error) {
	path := fmt.Sprintf("/v1/issues/%s/builds/latest", url.PathEscape(issueID))

	var lastStage string
	for {
		resp, err := api.Get(path)
		if err != nil {
			return nil, fmt.Errorf("failed to poll build status: %w", err)
		}

		var job BuildJob
		if err := json.Unmarshal(resp.Data, &job); err != nil {
			return nil, fmt.Errorf("failed to parse build status: %w", err)
		}

		if !outputJSON && job.Stage != "" && job.Stage != lastStage {
			fmt.Printf("  %s...\n", job.Stage)
			lastStage = job.Stage
		}

		if job.Status == "succeeded" || job.Status == "failed" {
			return &job, nil
		}

		time.Sleep(buildPollInterval)
	}
}

// BuildStatusCmd creates the build status command.
func BuildStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <issue>",
		Short: "Show the latest build for an issue",
		Long:  "Shows the most recent build job for an issue, running or finished.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outputJSON, _ := cmd.Flags().GetBool("output")
			return runBuildStatus(cmd, args[0], outputJSON)
		},
	}

	return cmd
}

func runBuildStatus(cmd *cobra.Command, issueID string, outputJSON bool) error {
	api, err := NewAPIClientWithCmd(cmd)
	if err != nil {
		return err
	}

	resp, err := api.Get(fmt.Sprintf("/v1/issues/%s/builds/latest", url.PathEscape(issueID)))
	if err != nil {
		return fmt.Errorf("failed to get build status: %w", err)
	}

	var job BuildJob
	if err := json.Unmarshal(resp.Data, &job); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}

	if outputJSON {
		output, _ := json.MarshalIndent(job, "", "  ")
		fmt.Println(string(output))
	} else {
		printBuildJob(&job)
	}

	return nil
}

func printBuildJob(job *BuildJob) {
	fmt.Printf("Build: %s\n", job.Status)
	if job.ModelID != "" {
		fmt.Printf("Model: %s\n", job.ModelID)
	}
	if job.Status == "running" && job.Stage != "" {
		if job.StageTotal > 0 {
			fmt.Printf("Stage: %s (%d/%d)\n", job.Stage, job.StageDone, job.StageTotal)
		} else {
			fmt.Printf("Stage: %s\n", job.Stage)
		}
	}
	if job.Error != "" {
		fmt.Printf("Error: %s\n", job.Error)
	}
	if job.Report != nil {
		printBuildReport(job.Report, "")
	}
}

func printBuildReport(r *BuildReport, indent string) {
	fmt.Printf("%sLast build: %s (model %s, %dms)\n", indent, r.Status, r.ModelID, r.DurationMS)
	fmt.Printf("%s  Chunks: %d total, %d embedded\n", indent, r.ChunksTotal, r.ChunksEmbedded)
	fmt.Printf("%s  Cache: %d hits, %d misses\n", indent, r.CacheHits, r.CacheMisses)
	if r.EmbedFailures > 0 {
		fmt.Printf("%s  Failures: %d chunks in %d batches\n", indent, r.EmbedFailures, len(r.FailedBatches))
	}
	if len(r.NewFiles) > 0 {
		fmt.Printf("%s  New files: %d\n", indent, len(r.NewFiles))
	}
	if r.Error != "" {
		fmt.Printf("%s  Error: %s\n", indent, r.Error)
	}
}
