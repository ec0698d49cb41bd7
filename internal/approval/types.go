package approval

import "time"

// Status of an approval request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusTimedOut Status = "timed_out"
)

// Request is one permission check, pending or resolved. A request lives in
// the gate's pending set until exactly one of decision, timeout, or
// cancellation resolves it, then moves to history.
type Request struct {
	ID             string         `json:"id"`
	TaskID         string         `json:"task_id,omitempty"`
	OperationKind  string         `json:"operation_kind"`
	RiskLevel      RiskLevel      `json:"risk_level"`
	Description    string         `json:"description"`
	Details        map[string]any `json:"details,omitempty"`
	TimeoutSeconds int            `json:"timeout_seconds"`
	Status         Status         `json:"status"`
	Note           string         `json:"note,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	DecidedAt      *time.Time     `json:"decided_at,omitempty"`
}

func (r *Request) clone() *Request {
	cp := *r
	if r.Details != nil {
		cp.Details = make(map[string]any, len(r.Details))
		for k, v := range r.Details {
			cp.Details[k] = v
		}
	}
	if r.DecidedAt != nil {
		t := *r.DecidedAt
		cp.DecidedAt = &t
	}
	return &cp
}

// Decision is the outcome handed back to the suspended caller.
type Decision struct {
	RequestID string    `json:"request_id"`
	Approved  bool      `json:"approved"`
	Note      string    `json:"note,omitempty"`
	DecidedAt time.Time `json:"decided_at"`
}

// Spec describes the operation for which approval is requested.
type Spec struct {
	OperationKind string
	Description   string
	Details       map[string]any
	TaskID        string
	// Timeout bounds the decision wait. Zero picks the risk level's
	// default window.
	Timeout time.Duration
}

// Observer receives request lifecycle notifications. Implementations must
// tolerate being called from arbitrary goroutines; the gate isolates their
// failures and hands them defensive copies.
type Observer interface {
	RequestCreated(req *Request)
	RequestDecided(req *Request)
}

// Stats summarizes gate activity. ByStatus and ByRiskLevel count decided
// requests only; ApprovalRate is the approved share of explicit decisions,
// as a percentage.
type Stats struct {
	Pending      int               `json:"pending"`
	TotalHistory int               `json:"total_history"`
	ByStatus     map[Status]int    `json:"by_status"`
	ByRiskLevel  map[RiskLevel]int `json:"by_risk_level"`
	ApprovalRate float64           `json:"approval_rate"`
}
