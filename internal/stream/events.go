package stream

import "time"

// Kind identifies what a progress event describes.
type Kind string

const (
	EventTaskStart        Kind = "task_start"
	EventStepStart        Kind = "step_start"
	EventStepComplete     Kind = "step_complete"
	EventApprovalRequired Kind = "approval_required"
	EventApprovalDecided  Kind = "approval_decided"
	EventIteration        Kind = "iteration"
	EventRoutingDecision  Kind = "routing_decision"
	EventComplete         Kind = "complete"
	EventError            Kind = "error"
	// EventKeepalive is emitted by the transport on idle connections only.
	// It is never sequenced or stored.
	EventKeepalive Kind = "keepalive"
)

// Event is one immutable, ordered fact about a task. Seq is assigned at
// append time, strictly increasing from 0 with no gaps within a task.
type Event struct {
	TaskID    string    `json:"task_id"`
	Seq       int64     `json:"sequence_id"`
	Kind      Kind      `json:"kind"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Terminal reports whether the event ends a task's stream.
func (e Event) Terminal() bool {
	return e.Kind == EventComplete || e.Kind == EventError
}

// Typed payloads, one per event kind. Free-form metadata goes in an
// explicit Details map; everything the invariants rely on is a fixed field.

type TaskStartPayload struct {
	Objective     string `json:"objective"`
	Strategy      string `json:"strategy,omitempty"`
	MaxIterations int    `json:"max_iterations"`
}

type StepStartPayload struct {
	Step      string `json:"step"`
	Iteration int    `json:"iteration"`
}

type StepCompletePayload struct {
	Step      string `json:"step"`
	Iteration int    `json:"iteration"`
	Summary   string `json:"summary,omitempty"`
}

type ApprovalRequiredPayload struct {
	RequestID      string         `json:"request_id"`
	OperationKind  string         `json:"operation_kind"`
	RiskLevel      string         `json:"risk_level"`
	Description    string         `json:"description"`
	TimeoutSeconds int            `json:"timeout_seconds"`
	Details        map[string]any `json:"details,omitempty"`
}

type ApprovalDecidedPayload struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
	Approved  bool   `json:"approved"`
	Note      string `json:"note,omitempty"`
}

type IterationPayload struct {
	Iteration     int `json:"iteration"`
	MaxIterations int `json:"max_iterations"`
}

type RoutingDecisionPayload struct {
	// Step is empty when the supervisor decided the task is done.
	Step         string   `json:"step,omitempty"`
	Strategy     string   `json:"strategy"`
	Reasoning    string   `json:"reasoning"`
	Confidence   float64  `json:"confidence"`
	Alternatives []string `json:"alternatives,omitempty"`
}

type CompletePayload struct {
	Status     string `json:"status"`
	Iterations int    `json:"iterations"`
	Summary    string `json:"summary,omitempty"`
	DurationMS int64  `json:"duration_ms"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}
