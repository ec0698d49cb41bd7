package task

import (
	"fmt"
	"strings"

	"github.com/skoll/groundcontrol/internal/supervisor"
)

// composeSummary renders the terminal markdown report for a task from
// its accumulated step results, errors, and routing decision log. It is
// deterministic: the same record always yields the same text.
func composeSummary(t *Task, decisions []supervisor.Decision) string {
	var b strings.Builder

	switch t.Status {
	case StatusCompleted:
		fmt.Fprintf(&b, "# Task Completed: %s\n", t.Objective)
	case StatusCancelled:
		fmt.Fprintf(&b, "# Task Cancelled: %s\n", t.Objective)
	default:
		fmt.Fprintf(&b, "# Task Failed: %s\n", t.Objective)
	}

	if t.Research != nil {
		b.WriteString("\n## Answer\n\n")
		switch {
		case t.Research.Content != "":
			b.WriteString(truncate(t.Research.Content, 1000))
		case t.Research.Summary != "":
			b.WriteString(t.Research.Summary)
		default:
			b.WriteString("Research completed with no content")
		}
		b.WriteString("\n")
		if len(t.Research.URLs) > 0 {
			b.WriteString("\n### Sources:\n")
			for i, u := range t.Research.URLs {
				if i == 5 {
					break
				}
				fmt.Fprintf(&b, "- %s\n", u)
			}
		}
	}

	if t.ContextSearch != nil {
		b.WriteString("\n## Context\n")
		if t.ContextSearch.HasPriorWork {
			b.WriteString("Found relevant prior work in codebase\n")
		} else {
			b.WriteString("No prior work found\n")
		}
	}

	if t.PR != nil {
		b.WriteString("\n## Pull Request\n")
		if t.PR.Success && t.PR.PRURL != "" {
			fmt.Fprintf(&b, "✓ PR created: %s\n", t.PR.PRURL)
		} else {
			b.WriteString("✗ PR creation failed\n")
		}
	}

	if len(t.Errors) > 0 {
		fmt.Fprintf(&b, "\n## Errors (%d)\n", len(t.Errors))
		for i, e := range t.Errors {
			if i == 3 {
				break
			}
			fmt.Fprintf(&b, "- %s\n", e)
		}
	}

	if len(decisions) > 0 {
		b.WriteString("\n## Routing Decisions\n\n")
		for _, d := range decisions {
			step := "DONE"
			if d.Step != "" {
				step = string(d.Step)
			}
			fmt.Fprintf(&b, "- %s: %s\n", step, d.Reasoning)
		}
	}

	return strings.TrimRight(b.String(), "\n")
}
