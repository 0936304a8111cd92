package domain

import (
	"math"
	"time"
)

type JobKind string

const (
	JobKindRender   JobKind = "render"
	JobKindDownload JobKind = "download"
)

type JobStatus string

const (
	JobStatusProcessing JobStatus = "processing"
	JobStatusPaused     JobStatus = "paused"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Terminal reports whether a status ends the job's lifecycle.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Control is a request against a running job.
type Control string

const (
	ControlPause  Control = "pause"
	ControlResume Control = "resume"
	ControlCancel Control = "cancel"
)

// ItemRef identifies one photo inside a batch. For locally executed jobs it
// doubles as the resource locator of the source bytes.
type ItemRef string

type FailedItem struct {
	Item  ItemRef `json:"item"`
	Error string  `json:"error"`
}

// Job is the snapshot of one batch operation. It is owned by the controller
// for its lifetime; readers only ever see copies.
type Job struct {
	Handle      string         `json:"handle"`
	Kind        JobKind        `json:"kind"`
	Status      JobStatus      `json:"status"`
	Target      DispatchTarget `json:"target"`
	Total       int            `json:"total"`
	Completed   int            `json:"completed"`
	Failed      int            `json:"failed"`
	Current     ItemRef        `json:"current,omitempty"`
	FailedItems []FailedItem   `json:"failed_items,omitempty"`
	Reason      string         `json:"reason,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Percent is the displayable completion percentage, rounded.
func (j Job) Percent() int {
	if j.Total <= 0 {
		return 0
	}
	return int(math.Round(float64(j.Completed+j.Failed) / float64(j.Total) * 100))
}

// Pending is the number of items not yet attempted.
func (j Job) Pending() int {
	p := j.Total - j.Completed - j.Failed
	if p < 0 {
		return 0
	}
	return p
}

// Progress is the uniform progress record reported by an execution target,
// remote or local, and folded into the Job snapshot by the controller.
type Progress struct {
	Status      JobStatus    `json:"status"`
	Total       int          `json:"total"`
	Completed   int          `json:"completed"`
	Failed      int          `json:"failed"`
	Current     ItemRef      `json:"current,omitempty"`
	FailedItems []FailedItem `json:"failed_items,omitempty"`
	Reason      string       `json:"reason,omitempty"`
}

// BatchScope selects which photos a batch covers.
type BatchScope string

const (
	ScopeRoll      BatchScope = "roll"
	ScopeSelection BatchScope = "selection"
)

// ExecutionPreference lets the caller pin a target instead of negotiating.
type ExecutionPreference string

const (
	ExecutionAuto   ExecutionPreference = "auto"
	ExecutionRemote ExecutionPreference = "remote"
	ExecutionLocal  ExecutionPreference = "local"
)

// JobSpec is a batch submission.
type JobSpec struct {
	Kind         JobKind             `json:"kind"`
	Scope        BatchScope          `json:"scope"`
	Items        []ItemRef           `json:"items"`
	ParamsSource string              `json:"params_source,omitempty"`
	OutputConfig []byte              `json:"output_config,omitempty"`
	Execution    ExecutionPreference `json:"execution,omitempty"`
}
