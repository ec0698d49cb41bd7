// Package notify posts approval activity to chat channels so operators
// hear about pending decisions without watching the dashboard. Notifiers
// are gate observers; sends run asynchronously and failures are logged,
// never propagated into gate resolution.
package notify

import (
	"fmt"
	"strings"

	"github.com/skoll/groundcontrol/internal/approval"
)

// formatCreated renders the approval-required announcement.
func formatCreated(req *approval.Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[APPROVAL REQUIRED] %s (%s risk)\n", req.OperationKind, req.RiskLevel)
	if req.Description != "" {
		fmt.Fprintf(&b, "%s\n", req.Description)
	}
	if req.TaskID != "" {
		fmt.Fprintf(&b, "Task: %s\n", req.TaskID)
	}
	fmt.Fprintf(&b, "Request: %s (decide within %ds)", req.ID, req.TimeoutSeconds)
	return b.String()
}

// formatDecided renders the decision outcome.
func formatDecided(req *approval.Request) string {
	verdict := "DECIDED"
	switch req.Status {
	case approval.StatusApproved:
		verdict = "APPROVED"
	case approval.StatusRejected:
		verdict = "REJECTED"
	case approval.StatusTimedOut:
		verdict = "TIMED OUT"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", verdict, req.OperationKind)
	if req.TaskID != "" {
		fmt.Fprintf(&b, " for task %s", req.TaskID)
	}
	if req.Note != "" {
		fmt.Fprintf(&b, "\nNote: %s", req.Note)
	}
	fmt.Fprintf(&b, "\nRequest: %s", req.ID)
	return b.String()
}
