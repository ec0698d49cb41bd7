package agent

import "context"

// Unavailable stands in for an agent with no configured endpoint. Calls
// fail with a connection-flavored error so callers see the same shape as
// an unreachable service, and health checks report it down.
type Unavailable struct {
	kind Kind
}

// NewUnavailable creates the stub executor for the given kind.
func NewUnavailable(kind Kind) *Unavailable {
	return &Unavailable{kind: kind}
}

func (u *Unavailable) Name() string { return string(u.kind) }

func (u *Unavailable) Execute(_ context.Context, _ map[string]any) (map[string]any, error) {
	return nil, &Error{Agent: u.kind, Message: "no endpoint configured", Cause: ErrConnection}
}

func (u *Unavailable) HealthCheck(_ context.Context) bool { return false }
