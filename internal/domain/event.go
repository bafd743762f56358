package domain

import "time"

// JobStatus is the terminal state of a job.
type JobStatus string

const (
	JobSucceeded    JobStatus = "succeeded"
	JobFailed       JobStatus = "failed"
	JobNotPublished JobStatus = "not_published"
	JobCancelled    JobStatus = "cancelled"
)

// JobEvent describes a job starting (Status empty) or reaching a terminal state.
type JobEvent struct {
	PassID   string        `json:"pass_id"`
	RunTime  time.Time     `json:"run_time"`
	Offset   int           `json:"offset"`
	Status   JobStatus     `json:"status,omitempty"`
	Attempts int           `json:"attempts"`
	Records  int           `json:"records"`
	Bytes    int64         `json:"bytes"`
	Duration time.Duration `json:"duration_ns"`
	Error    string        `json:"error,omitempty"`
}

// PassSummary aggregates one worker pool pass over a run.
type PassSummary struct {
	PassID       string        `json:"pass_id"`
	RunTime      time.Time     `json:"run_time"`
	Jobs         int           `json:"jobs"`
	Succeeded    int           `json:"succeeded"`
	Failed       int           `json:"failed"`
	NotPublished int           `json:"not_published"`
	Records      int64         `json:"records"`
	Bytes        int64         `json:"bytes"`
	Duration     time.Duration `json:"duration_ns"`
}

// RunLocated is emitted when the locator picks a run to work on.
type RunLocated struct {
	RunTime      time.Time `json:"run_time"`
	Missing      int       `json:"missing"`
	ProbedOffset int       `json:"probed_offset"`
}

// PruneSummary describes one retention pass.
type PruneSummary struct {
	Cutoff      time.Time   `json:"cutoff"`
	Kept        []time.Time `json:"kept"`
	DeletedRows int64       `json:"deleted_rows"`
}

// RunStatus is the completeness of one stored run.
type RunStatus struct {
	RunTime  time.Time `json:"run_time"`
	Existing int       `json:"existing"`
	Missing  int       `json:"missing"`
	Complete bool      `json:"complete"`
}
