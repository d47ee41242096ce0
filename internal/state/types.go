package state

import (
	"time"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

// Task statuses.
const (
	TaskPending    TaskStatus = "pending"
	TaskRunning    TaskStatus = "running"
	TaskDone       TaskStatus = "done"
	TaskFailed     TaskStatus = "failed"
	TaskBlocked    TaskStatus = "blocked"
	TaskSkipped    TaskStatus = "skipped"
	TaskMergeError TaskStatus = "merge_error"
)

// IsTerminal reports whether no further work is expected for the task.
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskDone, TaskFailed, TaskSkipped:
		return true
	}
	return false
}

// AcceptanceCriterion is a verifiable condition for a task.
type AcceptanceCriterion struct {
	Description  string `json:"description" validate:"required"`
	CheckCommand string `json:"check_command,omitempty"`
	Verified     bool   `json:"verified"`
}

// Task is a unit of work derived from an issue (or added ad hoc).
type Task struct {
	ID            string                `json:"id" validate:"required,nonblank"`
	IssueID       string                `json:"issue_id,omitempty"`
	Title         string                `json:"title" validate:"required,nonblank"`
	Description   string                `json:"description,omitempty"`
	Files         []string              `json:"files"`
	DependsOn     []string              `json:"depends_on" validate:"dive,required"`
	Checks        []string              `json:"checks"`
	Acceptance    []AcceptanceCriterion `json:"acceptance" validate:"dive"`
	ParallelGroup int                   `json:"parallel_group" validate:"gte=0"`
	Status        TaskStatus            `json:"status" validate:"required,oneof=pending running done failed blocked skipped merge_error"`
	CreatedAt     time.Time             `json:"created_at"`
	UpdatedAt     time.Time             `json:"updated_at"`
	CompletedAt   *time.Time            `json:"completed_at,omitempty"`
	Error         string                `json:"error,omitempty"`
	Branch        string                `json:"branch,omitempty"`
	Worktree      string                `json:"worktree,omitempty"`
}

// IssueStatus is the validation state of an issue.
type IssueStatus string

// Issue statuses.
const (
	IssueUnvalidated  IssueStatus = "UNVALIDATED"
	IssueConfirmed    IssueStatus = "CONFIRMED"
	IssueFalse        IssueStatus = "FALSE"
	IssuePartial      IssueStatus = "PARTIAL"
	IssueMisdiagnosed IssueStatus = "MISDIAGNOSED"
)

// Severity ranks issues.
type Severity string

// Issue severities, most severe first.
const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

// Rank orders severities: 0 for CRITICAL up to 3 for LOW, 4 for unknown.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 3
	}
	return 4
}

// Evidence supports or refutes an issue's hypothesis.
type Evidence struct {
	Type      string    `json:"type" validate:"required"`
	File      string    `json:"file,omitempty"`
	LineStart *int      `json:"line_start,omitempty" validate:"omitempty,gte=1"`
	LineEnd   *int      `json:"line_end,omitempty" validate:"omitempty,gte=1"`
	Command   string    `json:"command,omitempty"`
	Output    string    `json:"output,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Issue is a suspected problem found while scanning.
type Issue struct {
	ID             string      `json:"id" validate:"required,nonblank"`
	Symptom        string      `json:"symptom" validate:"required"`
	Hypothesis     string      `json:"hypothesis"`
	Evidence       []Evidence  `json:"evidence" validate:"dive"`
	Status         IssueStatus `json:"status" validate:"required,oneof=UNVALIDATED CONFIRMED FALSE PARTIAL MISDIAGNOSED"`
	Severity       Severity    `json:"severity" validate:"required,oneof=CRITICAL HIGH MEDIUM LOW"`
	Strategy       string      `json:"strategy,omitempty"`
	RelatedTaskIDs []string    `json:"related_task_ids"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
	ValidatedBy    string      `json:"validated_by,omitempty"`
}

// ExecutionStatus is derived from an execution record's completion fields.
type ExecutionStatus string

// Execution statuses.
const (
	ExecutionPending   ExecutionStatus = "pending"
	ExecutionSucceeded ExecutionStatus = "succeeded"
	ExecutionFailed    ExecutionStatus = "failed"
)

// Execution records one attempt by an agent to carry out a task.
type Execution struct {
	ID              string     `json:"id" validate:"required,nonblank"`
	TaskID          string     `json:"task_id" validate:"required"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	Success         *bool      `json:"success,omitempty"`
	InputTokens     int        `json:"input_tokens" validate:"gte=0"`
	OutputTokens    int        `json:"output_tokens" validate:"gte=0"`
	AgentRole       string     `json:"agent_role"`
	CommitSHA       string     `json:"commit_sha,omitempty"`
	Branch          string     `json:"branch,omitempty"`
	PRURL           string     `json:"pr_url,omitempty"`
	FollowUpTaskIDs []string   `json:"follow_up_task_ids"`
	Error           string     `json:"error,omitempty"`
}

// Status derives the execution's status. Success is only consulted once the
// execution has completed.
func (e *Execution) Status() ExecutionStatus {
	if e.CompletedAt == nil {
		return ExecutionPending
	}
	if e.Success != nil && *e.Success {
		return ExecutionSucceeded
	}
	return ExecutionFailed
}
