package core

import (
	"time"

	"github.com/google/uuid"
)

// ProcessStatus is the lifecycle state of a multi-pass workflow.
type ProcessStatus string

// Process status values.
const (
	ProcessStatusInit    ProcessStatus = "init"
	ProcessStatusPrep    ProcessStatus = "prep"
	ProcessStatusRunning ProcessStatus = "running"
	ProcessStatusDone    ProcessStatus = "done"
	ProcessStatusFailed  ProcessStatus = "failed"
)

// Process is a multi-pass workflow over a document or prompt: a named
// sequence of passes with shared memory between them. A failing pass records
// FailedMessage so the user sees a plain-language reason rather than a stack
// trace.
type Process struct {
	ID                string         `json:"id"`
	ProcessName       string         `json:"process_name"`
	PassArray         []string       `json:"pass_array"`
	CurrentPass       int            `json:"current_pass"`
	PercentComplete   float64        `json:"percent_complete"`
	Status            ProcessStatus  `json:"status"`
	Memory            map[string]any `json:"memory,omitempty"`
	FailedMessage     string         `json:"failed_message,omitempty"`
	CurrentTrackingID string         `json:"current_tracking_id,omitempty"`
	StartTime         time.Time      `json:"start_time"`
}

// NewProcess constructs a Process in the init state.
func NewProcess(name string, passes []string) *Process {
	return &Process{
		ID:          uuid.NewString(),
		ProcessName: name,
		PassArray:   passes,
		Status:      ProcessStatusInit,
		Memory:      make(map[string]any),
		StartTime:   time.Now().UTC(),
	}
}

// Fail marks the process failed with a user-facing explanation.
func (p *Process) Fail(message string) {
	p.Status = ProcessStatusFailed
	p.FailedMessage = message
}

// Advance moves to the next pass, updating percent complete; the process is
// done when every pass has run.
func (p *Process) Advance() {
	if p.Status == ProcessStatusFailed {
		return
	}
	p.CurrentPass++
	if len(p.PassArray) > 0 {
		p.PercentComplete = float64(p.CurrentPass) / float64(len(p.PassArray))
	}
	if p.CurrentPass >= len(p.PassArray) {
		p.Status = ProcessStatusDone
		p.PercentComplete = 1.0
	} else {
		p.Status = ProcessStatusRunning
	}
}
