package domain

import (
	"fmt"
	"time"
)

// BuildStatus represents the status of a knowledge-base build
type BuildStatus string

const (
	BuildStatusQueued    BuildStatus = "queued"
	BuildStatusRunning   BuildStatus = "running"
	BuildStatusSucceeded BuildStatus = "succeeded"
	BuildStatusFailed    BuildStatus = "failed"
)

// BatchFailure records one embedding batch that exhausted its retry budget.
// Start and End are chunk indices into the build's miss queue (End exclusive);
// no text inside the range was embedded.
type BatchFailure struct {
	Start  int
	End    int
	Reason string
}

// BuildReport summarizes one knowledge-base build attempt.
type BuildReport struct {
	IssueID        string
	ModelID        string
	Status         BuildStatus
	ChunksTotal    int
	ChunksEmbedded int
	CacheHits      int
	CacheMisses    int
	EmbedFailures  int
	FailedBatches  []BatchFailure
	NewFiles       []string
	StartedAt      time.Time
	Duration       time.Duration
	Error          string
}

// NewBuildReport creates a report in the running state for a build attempt.
func NewBuildReport(issueID, modelID string, startedAt time.Time) *BuildReport {
	return &BuildReport{
		IssueID:   issueID,
		ModelID:   modelID,
		Status:    BuildStatusRunning,
		StartedAt: startedAt,
	}
}

// ValidateBuildReport validates a BuildReport instance
func ValidateBuildReport(r *BuildReport) error {
	if r == nil {
		return fmt.Errorf("build report cannot be nil")
	}

	if r.IssueID == "" {
		return fmt.Errorf("build report IssueID is required")
	}

	if r.ModelID == "" {
		return fmt.Errorf("build report ModelID is required")
	}

	if !isValidBuildStatus(r.Status) {
		return fmt.Errorf("build report Status is invalid: %s", r.Status)
	}

	if r.ChunksTotal < 0 || r.CacheHits < 0 || r.CacheMisses < 0 || r.EmbedFailures < 0 {
		return fmt.Errorf("build report counts cannot be negative")
	}

	return nil
}

// isValidBuildStatus checks if a BuildStatus is valid
func isValidBuildStatus(s BuildStatus) bool {
	switch s {
	case BuildStatusQueued, BuildStatusRunning, BuildStatusSucceeded, BuildStatusFailed:
		return true
	}
	return false
}
