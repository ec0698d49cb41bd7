package supervisor

import (
	"fmt"
	"strings"
)

// Keyword tables for the adaptive heuristics. Matched against the
// lowercased objective, first hit wins.

var projectKeywords = []string{
	"this project", "our project", "the project",
	"current state", "project status", "what are we",
	"what have we", "what has been", "current implementation",
	"existing code", "our code", "this codebase", "the codebase",
	"our codebase", "status of", "progress on", "progress of",
}

var researchKeywords = []string{
	"tell me", "what is", "how does", "explain", "who is", "why is",
	"describe", "information about", "details about", "learn about",
}

var contextKeywords = []string{
	"my code", "working on", "current project", "existing",
	"already have", "previous", "past work", "history",
}

var quickFixKeywords = []string{
	"fix typo", "change text", "update label",
}

var informationalKeywords = []string{
	"tell me", "what is", "how does", "explain", "who is", "why is",
	"describe", "information about", "details about", "learn about",
	"what are", "how do", "what does", "can you explain",
}

func initialPrompt(objective string) string {
	return fmt.Sprintf(`Analyze this software development task and determine the BEST first step.

Task: %s

Available steps:
1. RESEARCH - Find best practices, design patterns, and implementation approaches
   - Best for: new features, unfamiliar technologies, need for external knowledge
2. CONTEXT - Search codebase history and prior work
   - Best for: similar past features, refactoring, existing patterns
3. PR - Directly write code and open a pull request
   - Best for: simple changes, bug fixes, well-defined small tasks

Consider:
- Is this new functionality or modifying existing code?
- Does it require external knowledge or pattern examples?
- Is it simple enough to implement directly?

Respond with ONLY the step name: RESEARCH, CONTEXT, or PR

Step:`, objective)
}

func nextPrompt(view View) string {
	return fmt.Sprintf(`Given the current task progress, decide the next step or whether the task is complete.

%s

Decision logic:
1. Informational queries (tell me about, what is, explain): if research is complete, respond DONE - no code needed.
2. Implementation queries (add, implement, build, create): research first if not done, CONTEXT to check existing code, PR when ready to write code, DONE once the pull request succeeds.
3. Safety: if stuck or the iteration budget is nearly spent, respond DONE.

Respond with ONLY: RESEARCH, CONTEXT, PR, or DONE

Next:`, stateSummary(view))
}

// stateSummary renders the snapshot the decider routes on.
func stateSummary(view View) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Objective: %s\n", view.Objective)
	fmt.Fprintf(&b, "Iteration: %d of %d\n", view.Iteration, view.MaxIterations)
	if len(view.StepsRun) == 0 {
		b.WriteString("Steps run: none\n")
	} else {
		names := make([]string, len(view.StepsRun))
		for i, k := range view.StepsRun {
			names[i] = string(k)
		}
		fmt.Fprintf(&b, "Steps run: %s\n", strings.Join(names, ", "))
	}
	if view.ChangeDone {
		b.WriteString("Pull request: created successfully\n")
	}
	if view.LastSummary != "" {
		fmt.Fprintf(&b, "Last result: %s\n", view.LastSummary)
	}
	if len(view.Errors) > 0 {
		fmt.Fprintf(&b, "Errors so far: %d (budget %d)\n", len(view.Errors), view.MaxRetries)
	}
	return strings.TrimRight(b.String(), "\n")
}
