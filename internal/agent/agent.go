package agent

import (
	"context"
	"errors"
	"fmt"
)

// Kind identifies which specialist an executor fronts.
type Kind string

const (
	KindResearch Kind = "research"
	KindContext  Kind = "context"
	KindPR       Kind = "pr"
)

// Kinds lists every agent kind.
func Kinds() []Kind {
	return []Kind{KindResearch, KindContext, KindPR}
}

// ParseKind validates a step name from the wire or the supervisor.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindResearch, KindContext, KindPR:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown agent kind %q", s)
}

// Executor runs one step of work for a task. Implementations must honor
// ctx cancellation; HealthCheck must be cheap and never panic.
type Executor interface {
	Name() string
	Execute(ctx context.Context, input map[string]any) (map[string]any, error)
	HealthCheck(ctx context.Context) bool
}

// Sentinel causes for transport failures. They are wrapped into the
// Cause of an *Error so callers can branch with errors.Is.
var (
	ErrTimeout    = errors.New("agent request timed out")
	ErrConnection = errors.New("agent connection failed")
)

// Error describes a failed agent call.
type Error struct {
	Agent   Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("agent %s: %s: %v", e.Agent, e.Message, e.Cause)
	}
	return fmt.Sprintf("agent %s: %s", e.Agent, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// IsRetryable reports whether the failure is a transient transport
// problem worth retrying. Everything else is fatal for the step.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrConnection)
}
