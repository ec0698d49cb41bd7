package supervisor

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/skoll/groundcontrol/internal/agent"
)

// Strategy selects how the first step of a task is chosen.
type Strategy string

const (
	StrategyResearchFirst Strategy = "research_first"
	StrategyContextFirst  Strategy = "context_first"
	StrategyAdaptive      Strategy = "adaptive"
)

// ParseStrategy validates a strategy name. Empty means adaptive.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case "":
		return StrategyAdaptive, nil
	case StrategyResearchFirst, StrategyContextFirst, StrategyAdaptive:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("unknown strategy %q", s)
}

// Decision is the supervisor's routing output. An empty Step means the
// task should finalize.
type Decision struct {
	Step         agent.Kind
	Strategy     Strategy
	Reasoning    string
	Confidence   float64
	Alternatives []agent.Kind
}

// Decider is the external decision hook, usually an LLM router.
type Decider interface {
	Decide(ctx context.Context, prompt string) (string, error)
}

// View is the task snapshot the supervisor routes on.
type View struct {
	TaskID        string
	Objective     string
	Iteration     int
	MaxIterations int
	Errors        []string
	MaxRetries    int
	StepsRun      []agent.Kind
	ChangeDone    bool
	LastSummary   string
}

func (v View) hasRun(kind agent.Kind) bool {
	for _, k := range v.StepsRun {
		if k == kind {
			return true
		}
	}
	return false
}

// Supervisor decides which step a task runs next. Cheap deterministic
// heuristics run first; the Decider is consulted only for ambiguous
// cases, and its failures always degrade to a safe answer instead of
// propagating. Decisions are logged per task for the final summary.
type Supervisor struct {
	decider Decider
	mu      sync.Mutex
	log     map[string][]Decision
	logger  *zap.Logger
}

// New creates a supervisor around the given decider.
func New(decider Decider, logger *zap.Logger) *Supervisor {
	return &Supervisor{
		decider: decider,
		log:     make(map[string][]Decision),
		logger:  logger,
	}
}

// DecideInitial picks the first step for a fresh task.
func (s *Supervisor) DecideInitial(ctx context.Context, taskID, objective string, strategy Strategy) Decision {
	var d Decision
	switch strategy {
	case StrategyResearchFirst:
		d = researchFirst()
	case StrategyContextFirst:
		d = contextFirst()
	default:
		d = s.adaptiveInitial(ctx, objective)
	}
	s.record(taskID, d)
	return d
}

func researchFirst() Decision {
	return Decision{
		Step:         agent.KindResearch,
		Strategy:     StrategyResearchFirst,
		Reasoning:    "start with research to find best practices",
		Confidence:   1.0,
		Alternatives: []agent.Kind{agent.KindContext, agent.KindPR},
	}
}

func contextFirst() Decision {
	return Decision{
		Step:         agent.KindContext,
		Strategy:     StrategyContextFirst,
		Reasoning:    "check for similar prior work before researching",
		Confidence:   1.0,
		Alternatives: []agent.Kind{agent.KindResearch, agent.KindPR},
	}
}

// adaptiveInitial routes on keyword heuristics first and only asks the
// decider for ambiguous objectives. A failed decider call falls back to
// research rather than blocking the task.
func (s *Supervisor) adaptiveInitial(ctx context.Context, objective string) Decision {
	lower := strings.ToLower(objective)

	// Current-project questions are checked first so they beat the
	// generic knowledge patterns.
	if containsAny(lower, projectKeywords) {
		return Decision{
			Step:         agent.KindContext,
			Strategy:     StrategyAdaptive,
			Reasoning:    "current-project question, checking codebase state first",
			Confidence:   0.95,
			Alternatives: []agent.Kind{agent.KindResearch, agent.KindPR},
		}
	}
	if containsAny(lower, researchKeywords) {
		return Decision{
			Step:         agent.KindResearch,
			Strategy:     StrategyAdaptive,
			Reasoning:    "knowledge question, gathering external information",
			Confidence:   0.95,
			Alternatives: []agent.Kind{agent.KindContext, agent.KindPR},
		}
	}
	if containsAny(lower, contextKeywords) {
		return Decision{
			Step:         agent.KindContext,
			Strategy:     StrategyAdaptive,
			Reasoning:    "codebase or history question, checking context first",
			Confidence:   0.95,
			Alternatives: []agent.Kind{agent.KindResearch, agent.KindPR},
		}
	}
	if containsAny(lower, quickFixKeywords) {
		return Decision{
			Step:         agent.KindPR,
			Strategy:     StrategyAdaptive,
			Reasoning:    "simple change, going straight to a pull request",
			Confidence:   0.9,
			Alternatives: []agent.Kind{agent.KindResearch, agent.KindContext},
		}
	}

	answer, err := s.decider.Decide(ctx, initialPrompt(objective))
	if err != nil {
		s.logger.Warn("initial routing decision failed, falling back to research", zap.Error(err))
		d := researchFirst()
		d.Strategy = StrategyAdaptive
		return d
	}

	step, ok := parseStep(answer)
	if !ok {
		step = agent.KindResearch
	}
	alternatives := make([]agent.Kind, 0, 2)
	for _, k := range agent.Kinds() {
		if k != step {
			alternatives = append(alternatives, k)
		}
	}
	return Decision{
		Step:         step,
		Strategy:     StrategyAdaptive,
		Reasoning:    initialReasoning(step, objective),
		Confidence:   0.8,
		Alternatives: alternatives,
	}
}

// DecideNext picks the next step, or ends the task with an empty Step.
// The budget checks run before anything else so an exhausted task never
// costs an external call.
func (s *Supervisor) DecideNext(ctx context.Context, view View) Decision {
	d := s.decideNext(ctx, view)
	s.record(view.TaskID, d)
	return d
}

func (s *Supervisor) decideNext(ctx context.Context, view View) Decision {
	if view.Iteration >= view.MaxIterations {
		return Decision{
			Strategy:   StrategyAdaptive,
			Reasoning:  fmt.Sprintf("max iterations (%d) reached", view.MaxIterations),
			Confidence: 1.0,
		}
	}
	if len(view.Errors) >= view.MaxRetries {
		return Decision{
			Strategy:   StrategyAdaptive,
			Reasoning:  fmt.Sprintf("max errors (%d) reached", view.MaxRetries),
			Confidence: 1.0,
		}
	}

	lower := strings.ToLower(view.Objective)

	if view.ChangeDone {
		return Decision{
			Strategy:   StrategyAdaptive,
			Reasoning:  "pull request completed successfully",
			Confidence: 1.0,
		}
	}
	if view.hasRun(agent.KindResearch) && !view.hasRun(agent.KindPR) &&
		containsAny(lower, informationalKeywords) {
		return Decision{
			Strategy:   StrategyAdaptive,
			Reasoning:  "informational query answered by research",
			Confidence: 0.95,
		}
	}
	if view.hasRun(agent.KindResearch) && view.hasRun(agent.KindContext) && view.hasRun(agent.KindPR) {
		return Decision{
			Strategy:   StrategyAdaptive,
			Reasoning:  "all steps have run",
			Confidence: 1.0,
		}
	}

	answer, err := s.decider.Decide(ctx, nextPrompt(view))
	if err != nil {
		s.logger.Warn("next-step routing decision failed, finalizing task",
			zap.String("task_id", view.TaskID), zap.Error(err))
		return Decision{
			Strategy:   StrategyAdaptive,
			Reasoning:  fmt.Sprintf("decision error: %v", err),
			Confidence: 0.0,
		}
	}

	if normalizeAnswer(answer) == "DONE" {
		return Decision{
			Strategy:   StrategyAdaptive,
			Reasoning:  "task complete or should finalize",
			Confidence: 0.75,
		}
	}
	step, ok := parseStep(answer)
	if !ok {
		return Decision{
			Strategy:   StrategyAdaptive,
			Reasoning:  "unable to determine next step, finalizing with current state",
			Confidence: 0.75,
		}
	}
	return Decision{
		Step:       step,
		Strategy:   StrategyAdaptive,
		Reasoning:  nextReasoning(view, step),
		Confidence: 0.75,
	}
}

// Log returns the recorded decisions for a task, oldest first.
func (s *Supervisor) Log(taskID string) []Decision {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Decision, len(s.log[taskID]))
	copy(out, s.log[taskID])
	return out
}

// Forget drops a task's decision log once the summary is composed.
func (s *Supervisor) Forget(taskID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.log, taskID)
}

func (s *Supervisor) record(taskID string, d Decision) {
	if taskID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log[taskID] = append(s.log[taskID], d)
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

func normalizeAnswer(answer string) string {
	answer = strings.ToUpper(strings.TrimSpace(answer))
	return strings.Trim(answer, ".!: ")
}

func parseStep(answer string) (agent.Kind, bool) {
	switch normalizeAnswer(answer) {
	case "RESEARCH":
		return agent.KindResearch, true
	case "CONTEXT":
		return agent.KindContext, true
	case "PR":
		return agent.KindPR, true
	}
	return "", false
}

func initialReasoning(step agent.Kind, objective string) string {
	switch step {
	case agent.KindResearch:
		return "research best practices for: " + objective
	case agent.KindContext:
		return "check codebase for similar implementations"
	case agent.KindPR:
		return "simple task, implement directly"
	}
	return "routing decision"
}

func nextReasoning(view View, step agent.Kind) string {
	switch step {
	case agent.KindResearch:
		if !view.hasRun(agent.KindResearch) {
			return "need research findings before proceeding"
		}
	case agent.KindContext:
		if !view.hasRun(agent.KindContext) {
			return "check for prior work and patterns"
		}
	case agent.KindPR:
		return "ready to implement with available context"
	}
	return "routing to " + string(step)
}
