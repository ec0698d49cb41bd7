package task

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"

	"github.com/skoll/groundcontrol/internal/agent"
	"github.com/skoll/groundcontrol/internal/supervisor"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending         Status = "pending"
	StatusRunning         Status = "running"
	StatusWaitingApproval Status = "waiting_approval"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
	StatusCancelled       Status = "cancelled"
)

// ParseStatus validates a status filter from the wire.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusRunning, StatusWaitingApproval,
		StatusCompleted, StatusFailed, StatusCancelled:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

const (
	defaultMaxIterations = 10
	maxIterationsLimit   = 50
	defaultMaxRetries    = 3
	maxRetriesLimit      = 10
)

// StartRequest is the payload to create a task.
type StartRequest struct {
	Objective      string         `json:"objective"`
	Context        map[string]any `json:"context,omitempty"`
	MaxIterations  int            `json:"max_iterations,omitempty"`
	MaxRetries     int            `json:"max_retries,omitempty"`
	Strategy       string         `json:"strategy,omitempty"`
	EnableApproval *bool          `json:"enable_approval,omitempty"`
}

// Validate checks the request and fills defaults. It must reject bad
// input before any task state exists.
func (r *StartRequest) Validate() error {
	if strings.TrimSpace(r.Objective) == "" {
		return fmt.Errorf("objective is required")
	}
	if r.MaxIterations == 0 {
		r.MaxIterations = defaultMaxIterations
	}
	if r.MaxIterations < 1 || r.MaxIterations > maxIterationsLimit {
		return fmt.Errorf("max_iterations must be between 1 and %d", maxIterationsLimit)
	}
	if r.MaxRetries == 0 {
		r.MaxRetries = defaultMaxRetries
	}
	if r.MaxRetries < 1 || r.MaxRetries > maxRetriesLimit {
		return fmt.Errorf("max_retries must be between 1 and %d", maxRetriesLimit)
	}
	if _, err := supervisor.ParseStrategy(r.Strategy); err != nil {
		return err
	}
	return nil
}

func (r *StartRequest) approvalEnabled() bool {
	return r.EnableApproval == nil || *r.EnableApproval
}

// ResearchResult is the decoded output of the research agent.
type ResearchResult struct {
	Topic       string   `json:"topic"`
	Summary     string   `json:"summary,omitempty"`
	Content     string   `json:"content,omitempty"`
	URLs        []string `json:"urls,omitempty"`
	KeyFindings []string `json:"key_findings,omitempty"`
}

// ContextResult is the decoded output of the context agent.
type ContextResult struct {
	Query        string           `json:"query"`
	RelevantDocs []map[string]any `json:"relevant_docs,omitempty"`
	Summary      string           `json:"summary,omitempty"`
	HasPriorWork bool             `json:"has_prior_work"`
	Confidence   float64          `json:"confidence"`
}

// PRResult is the decoded output of the pr agent.
type PRResult struct {
	Title        string   `json:"title"`
	PRURL        string   `json:"pr_url,omitempty"`
	BranchName   string   `json:"branch_name,omitempty"`
	FilesChanged []string `json:"files_changed,omitempty"`
	Success      bool     `json:"success"`
	Error        string   `json:"error,omitempty"`
}

// Task is the full record of one orchestration run.
type Task struct {
	ID              string              `json:"task_id"`
	Objective       string              `json:"objective"`
	Context         map[string]any      `json:"context,omitempty"`
	Status          Status              `json:"status"`
	Strategy        supervisor.Strategy `json:"strategy"`
	CurrentStep     agent.Kind          `json:"current_step,omitempty"`
	Iteration       int                 `json:"iteration"`
	MaxIterations   int                 `json:"max_iterations"`
	MaxRetries      int                 `json:"max_retries"`
	ApprovalEnabled bool                `json:"approval_enabled"`
	StepHistory     []agent.Kind        `json:"step_history,omitempty"`
	Research        *ResearchResult     `json:"research,omitempty"`
	ContextSearch   *ContextResult      `json:"context_search,omitempty"`
	PR              *PRResult           `json:"pr,omitempty"`
	Errors          []string            `json:"errors,omitempty"`
	Summary         string              `json:"summary,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
	CompletedAt     *time.Time          `json:"completed_at,omitempty"`
	DurationMS      int64               `json:"duration_ms,omitempty"`

	// lastSummary holds the most recent step's one-line outcome for the
	// supervisor's next-step prompt. Not part of the wire record.
	lastSummary string
}

// Info is the compact view used by task listings.
type Info struct {
	ID              string              `json:"task_id"`
	Objective       string              `json:"objective"`
	Status          Status              `json:"status"`
	Strategy        supervisor.Strategy `json:"strategy"`
	CurrentStep     agent.Kind          `json:"current_step,omitempty"`
	Iteration       int                 `json:"iteration"`
	MaxIterations   int                 `json:"max_iterations"`
	ApprovalEnabled bool                `json:"approval_enabled"`
	CreatedAt       time.Time           `json:"created_at"`
	UpdatedAt       time.Time           `json:"updated_at"`
	DurationMS      int64               `json:"duration_ms,omitempty"`
}

// Info derives the listing view from the full record.
func (t *Task) Info() Info {
	return Info{
		ID:              t.ID,
		Objective:       t.Objective,
		Status:          t.Status,
		Strategy:        t.Strategy,
		CurrentStep:     t.CurrentStep,
		Iteration:       t.Iteration,
		MaxIterations:   t.MaxIterations,
		ApprovalEnabled: t.ApprovalEnabled,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
		DurationMS:      t.DurationMS,
	}
}

// hasRun reports whether a step kind appears in the step history.
func (t *Task) hasRun(kind agent.Kind) bool {
	for _, k := range t.StepHistory {
		if k == kind {
			return true
		}
	}
	return false
}

// stepsRun returns the distinct step kinds executed so far, in first-run
// order.
func (t *Task) stepsRun() []agent.Kind {
	var out []agent.Kind
	for _, k := range t.StepHistory {
		seen := false
		for _, o := range out {
			if o == k {
				seen = true
				break
			}
		}
		if !seen {
			out = append(out, k)
		}
	}
	return out
}

// clone copies the record so callers can't mutate manager state.
func (t *Task) clone() *Task {
	cp := *t
	if t.Context != nil {
		cp.Context = make(map[string]any, len(t.Context))
		for k, v := range t.Context {
			cp.Context[k] = v
		}
	}
	cp.StepHistory = append([]agent.Kind(nil), t.StepHistory...)
	cp.Errors = append([]string(nil), t.Errors...)
	if t.Research != nil {
		r := *t.Research
		cp.Research = &r
	}
	if t.ContextSearch != nil {
		c := *t.ContextSearch
		cp.ContextSearch = &c
	}
	if t.PR != nil {
		p := *t.PR
		cp.PR = &p
	}
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		cp.CompletedAt = &at
	}
	return &cp
}

// decodeResult maps a loosely typed agent output onto a result struct.
// Agents are external services, so numbers may arrive as floats and
// booleans as strings; weak typing absorbs that.
func decodeResult(out map[string]any, target any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		WeaklyTypedInput: true,
		TagName:          "json",
	})
	if err != nil {
		return fmt.Errorf("build decoder: %w", err)
	}
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}
