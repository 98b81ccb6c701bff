package models

import "time"

// RunStatus is the lifecycle state of a workflow run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// IsTerminal reports whether the run can no longer change.
func (s RunStatus) IsTerminal() bool {
	return s == RunSucceeded || s == RunFailed || s == RunCancelled
}

// Failure describes the step that ended a failed run.
type Failure struct {
	StepIndex  int        `json:"stepIndex"`
	ActionKind ActionKind `json:"actionKind"`
	Attempt    int        `json:"attempt"`
	Code       ErrorCode  `json:"code"`
	Message    string     `json:"message"`
}

// WorkflowRun is one execution of a workflow. Actions and Constants are
// snapshots taken at admission so later edits to the workflow do not leak
// into a run already in flight.
type WorkflowRun struct {
	ID              string         `json:"id"`
	WorkflowID      string         `json:"workflowId"`
	TenantID        string         `json:"tenantId"`
	WorkflowName    string         `json:"workflowName"`
	Status          RunStatus      `json:"status"`
	TriggerKind     TriggerKind    `json:"triggerKind"`
	TriggerPayload  map[string]any `json:"triggerPayload"`
	Actions         []Action       `json:"actions"`
	Constants       map[string]any `json:"constants,omitempty"`
	DedupeKey       string         `json:"dedupeKey,omitempty"`
	CancelRequested bool           `json:"cancelRequested"`
	CreatedAt       time.Time      `json:"createdAt"`
	StartedAt       *time.Time     `json:"startedAt,omitempty"`
	CompletedAt     *time.Time     `json:"completedAt,omitempty"`
	ErrorMessage    string         `json:"errorMessage,omitempty"`
	Failure         *Failure       `json:"failure,omitempty"`
	// Output is the output of the last step of a succeeded run.
	Output map[string]any `json:"output,omitempty"`
}

// RunChange is applied by a conditional status transition.
type RunChange struct {
	Status       RunStatus
	StartedAt    *time.Time
	CompletedAt  *time.Time
	ErrorMessage string
	Failure      *Failure
	Output       map[string]any
}

// Apply copies the change onto run.
func (c RunChange) Apply(run *WorkflowRun) {
	run.Status = c.Status

	if c.StartedAt != nil {
		run.StartedAt = c.StartedAt
	}

	if c.CompletedAt != nil {
		run.CompletedAt = c.CompletedAt
	}

	if c.ErrorMessage != "" {
		run.ErrorMessage = c.ErrorMessage
	}

	if c.Failure != nil {
		run.Failure = c.Failure
	}

	if c.Output != nil {
		run.Output = c.Output
	}
}

// StepStatus is the state of one attempt of an action.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepSucceeded StepStatus = "succeeded"
	StepFailed    StepStatus = "failed"
	StepRetrying  StepStatus = "retrying"
)

// RunStep records one attempt of one action within a run.
type RunStep struct {
	ID           string         `json:"id"`
	RunID        string         `json:"runId"`
	StepIndex    int            `json:"stepIndex"`
	ActionKind   ActionKind     `json:"actionKind"`
	Status       StepStatus     `json:"status"`
	Attempt      int            `json:"attempt"`
	Input        map[string]any `json:"input,omitempty"`
	Output       map[string]any `json:"output,omitempty"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	StartedAt    time.Time      `json:"startedAt"`
	CompletedAt  *time.Time     `json:"completedAt,omitempty"`
}

// FireIntent is the normalized signal a trigger evaluator hands to the scheduler.
type FireIntent struct {
	WorkflowID  string         `json:"workflowId"`
	TriggerKind TriggerKind    `json:"triggerKind"`
	Payload     map[string]any `json:"payload"`
	FiredAt     time.Time      `json:"firedAt"`
	DedupeKey   string         `json:"dedupeKey,omitempty"`
	Source      string         `json:"source,omitempty"`
}

// AdmissionOutcome is the scheduler's decision for a fire intent.
type AdmissionOutcome string

const (
	AdmissionAdmitted AdmissionOutcome = "admitted"
	AdmissionIgnored  AdmissionOutcome = "ignored"
)

// Admission is returned for every fire intent that was not rejected.
type Admission struct {
	Outcome AdmissionOutcome `json:"outcome"`
	RunID   string           `json:"runId,omitempty"`
}
