package notify

import (
	"strings"
	"testing"
	"time"

	"github.com/skoll/groundcontrol/internal/approval"
)

func TestFormatCreated(t *testing.T) {
	req := &approval.Request{
		ID:             "req-1",
		TaskID:         "task-9",
		OperationKind:  approval.OpPRCreate,
		RiskLevel:      approval.RiskMedium,
		Description:    "Run pr step for: fix typo",
		TimeoutSeconds: 300,
	}

	got := formatCreated(req)
	for _, want := range []string{
		"[APPROVAL REQUIRED] pr_create (medium risk)",
		"Run pr step for: fix typo",
		"Task: task-9",
		"Request: req-1 (decide within 300s)",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("message missing %q:\n%s", want, got)
		}
	}
}

func TestFormatDecided(t *testing.T) {
	now := time.Now()
	cases := []struct {
		status approval.Status
		want   string
	}{
		{approval.StatusApproved, "[APPROVED]"},
		{approval.StatusRejected, "[REJECTED]"},
		{approval.StatusTimedOut, "[TIMED OUT]"},
	}
	for _, tc := range cases {
		req := &approval.Request{
			ID:            "req-2",
			TaskID:        "task-9",
			OperationKind: approval.OpGitPush,
			Status:        tc.status,
			Note:          "because",
			DecidedAt:     &now,
		}
		got := formatDecided(req)
		if !strings.Contains(got, tc.want) {
			t.Errorf("status %s: message missing %q:\n%s", tc.status, tc.want, got)
		}
		if !strings.Contains(got, "Note: because") || !strings.Contains(got, "for task task-9") {
			t.Errorf("status %s: message incomplete:\n%s", tc.status, got)
		}
	}
}
