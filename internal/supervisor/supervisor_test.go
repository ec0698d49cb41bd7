package supervisor

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/skoll/groundcontrol/internal/agent"
)

// fakeDecider scripts the external decision call.
type fakeDecider struct {
	answer  string
	err     error
	calls   int
	prompts []string
}

func (f *fakeDecider) Decide(_ context.Context, prompt string) (string, error) {
	f.calls++
	f.prompts = append(f.prompts, prompt)
	return f.answer, f.err
}

func newTestSupervisor(d Decider) *Supervisor {
	return New(d, zap.NewNop())
}

func TestParseStrategy(t *testing.T) {
	cases := []struct {
		in      string
		want    Strategy
		wantErr bool
	}{
		{"", StrategyAdaptive, false},
		{"adaptive", StrategyAdaptive, false},
		{"research_first", StrategyResearchFirst, false},
		{"context_first", StrategyContextFirst, false},
		{"parallel", "", true},
		{"bogus", "", true},
	}
	for _, tc := range cases {
		got, err := ParseStrategy(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseStrategy(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseStrategy(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseStrategy(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestDecideInitial_FixedStrategies(t *testing.T) {
	d := &fakeDecider{}
	s := newTestSupervisor(d)

	got := s.DecideInitial(context.Background(), "t1", "add feature", StrategyResearchFirst)
	if got.Step != agent.KindResearch {
		t.Errorf("research_first routed to %q", got.Step)
	}
	got = s.DecideInitial(context.Background(), "t1", "add feature", StrategyContextFirst)
	if got.Step != agent.KindContext {
		t.Errorf("context_first routed to %q", got.Step)
	}
	if d.calls != 0 {
		t.Errorf("fixed strategies must not call the decider, got %d calls", d.calls)
	}
}

func TestDecideInitial_AdaptiveHeuristics(t *testing.T) {
	cases := []struct {
		objective string
		want      agent.Kind
	}{
		{"Tell me about Go generics", agent.KindResearch},
		{"explain how OAuth works", agent.KindResearch},
		{"what's the status of the project", agent.KindContext},
		{"review our existing retry logic", agent.KindContext},
		{"fix typo in the readme", agent.KindPR},
	}
	for _, tc := range cases {
		d := &fakeDecider{}
		s := newTestSupervisor(d)
		got := s.DecideInitial(context.Background(), "t1", tc.objective, StrategyAdaptive)
		if got.Step != tc.want {
			t.Errorf("%q routed to %q, want %q", tc.objective, got.Step, tc.want)
		}
		if d.calls != 0 {
			t.Errorf("%q should route on heuristics alone", tc.objective)
		}
		if got.Confidence < 0.9 {
			t.Errorf("%q heuristic confidence %v too low", tc.objective, got.Confidence)
		}
	}
}

func TestDecideInitial_AdaptiveUsesDecider(t *testing.T) {
	d := &fakeDecider{answer: " CONTEXT\n"}
	s := newTestSupervisor(d)

	got := s.DecideInitial(context.Background(), "t1", "add oauth authentication", StrategyAdaptive)
	if d.calls != 1 {
		t.Fatalf("decider called %d times, want 1", d.calls)
	}
	if got.Step != agent.KindContext {
		t.Errorf("routed to %q, want context", got.Step)
	}
	if got.Confidence != 0.8 {
		t.Errorf("got confidence %v, want 0.8", got.Confidence)
	}
	if len(got.Alternatives) != 2 {
		t.Errorf("got %d alternatives, want 2", len(got.Alternatives))
	}
	if !strings.Contains(d.prompts[0], "add oauth authentication") {
		t.Error("prompt should embed the objective")
	}
}

func TestDecideInitial_DeciderFailureFallsBackToResearch(t *testing.T) {
	d := &fakeDecider{err: errors.New("provider down")}
	s := newTestSupervisor(d)

	got := s.DecideInitial(context.Background(), "t1", "add oauth authentication", StrategyAdaptive)
	if got.Step != agent.KindResearch {
		t.Errorf("fallback routed to %q, want research", got.Step)
	}
	if got.Strategy != StrategyAdaptive {
		t.Errorf("got strategy %q, want adaptive", got.Strategy)
	}
}

func TestDecideInitial_UnparseableAnswerFallsBackToResearch(t *testing.T) {
	d := &fakeDecider{answer: "maybe try something"}
	s := newTestSupervisor(d)

	got := s.DecideInitial(context.Background(), "t1", "add oauth authentication", StrategyAdaptive)
	if got.Step != agent.KindResearch {
		t.Errorf("routed to %q, want research", got.Step)
	}
}

func TestDecideNext_BudgetChecksSkipDecider(t *testing.T) {
	cases := []struct {
		name string
		view View
	}{
		{
			"iterations exhausted",
			View{TaskID: "t1", Objective: "add feature", Iteration: 10, MaxIterations: 10, MaxRetries: 3},
		},
		{
			"errors exhausted",
			View{TaskID: "t1", Objective: "add feature", Iteration: 1, MaxIterations: 10,
				Errors: []string{"a", "b", "c"}, MaxRetries: 3},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := &fakeDecider{answer: "PR"}
			s := newTestSupervisor(d)
			got := s.DecideNext(context.Background(), tc.view)
			if got.Step != "" {
				t.Errorf("expected terminal decision, got step %q", got.Step)
			}
			if got.Confidence != 1.0 {
				t.Errorf("got confidence %v, want 1.0", got.Confidence)
			}
			if d.calls != 0 {
				t.Error("budget check must run before any decider call")
			}
		})
	}
}

func TestDecideNext_Heuristics(t *testing.T) {
	cases := []struct {
		name string
		view View
	}{
		{
			"change done",
			View{TaskID: "t1", Objective: "add feature", Iteration: 2, MaxIterations: 10, MaxRetries: 3,
				StepsRun: []agent.Kind{agent.KindResearch, agent.KindPR}, ChangeDone: true},
		},
		{
			"informational answered",
			View{TaskID: "t1", Objective: "tell me about go modules", Iteration: 1, MaxIterations: 10,
				MaxRetries: 3, StepsRun: []agent.Kind{agent.KindResearch}},
		},
		{
			"all steps run",
			View{TaskID: "t1", Objective: "add feature", Iteration: 3, MaxIterations: 10, MaxRetries: 3,
				StepsRun: []agent.Kind{agent.KindResearch, agent.KindContext, agent.KindPR}},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := &fakeDecider{answer: "PR"}
			s := newTestSupervisor(d)
			got := s.DecideNext(context.Background(), tc.view)
			if got.Step != "" {
				t.Errorf("expected terminal decision, got step %q", got.Step)
			}
			if d.calls != 0 {
				t.Error("heuristic cases must not call the decider")
			}
		})
	}
}

func TestDecideNext_DeciderRoutes(t *testing.T) {
	d := &fakeDecider{answer: "PR"}
	s := newTestSupervisor(d)

	view := View{
		TaskID: "t1", Objective: "add oauth support", Iteration: 1,
		MaxIterations: 10, MaxRetries: 3,
		StepsRun:    []agent.Kind{agent.KindResearch},
		LastSummary: "found three approaches",
	}
	got := s.DecideNext(context.Background(), view)
	if d.calls != 1 {
		t.Fatalf("decider called %d times, want 1", d.calls)
	}
	if got.Step != agent.KindPR {
		t.Errorf("routed to %q, want pr", got.Step)
	}
	if !strings.Contains(d.prompts[0], "found three approaches") {
		t.Error("prompt should include the last result summary")
	}
}

func TestDecideNext_DeciderSaysDone(t *testing.T) {
	d := &fakeDecider{answer: "done."}
	s := newTestSupervisor(d)

	view := View{TaskID: "t1", Objective: "add oauth support", Iteration: 1,
		MaxIterations: 10, MaxRetries: 3, StepsRun: []agent.Kind{agent.KindResearch}}
	got := s.DecideNext(context.Background(), view)
	if got.Step != "" {
		t.Errorf("expected terminal decision, got %q", got.Step)
	}
}

func TestDecideNext_DeciderFailureEndsTask(t *testing.T) {
	d := &fakeDecider{err: errors.New("provider down")}
	s := newTestSupervisor(d)

	view := View{TaskID: "t1", Objective: "add oauth support", Iteration: 1,
		MaxIterations: 10, MaxRetries: 3}
	got := s.DecideNext(context.Background(), view)
	if got.Step != "" {
		t.Errorf("decider failure must end the task, got step %q", got.Step)
	}
	if got.Confidence != 0 {
		t.Errorf("got confidence %v, want 0", got.Confidence)
	}
	if !strings.Contains(got.Reasoning, "decision error") {
		t.Errorf("got reasoning %q", got.Reasoning)
	}
}

func TestDecisionLogPerTask(t *testing.T) {
	d := &fakeDecider{answer: "PR"}
	s := newTestSupervisor(d)

	s.DecideInitial(context.Background(), "t1", "add feature", StrategyResearchFirst)
	s.DecideNext(context.Background(), View{TaskID: "t1", Objective: "add feature",
		Iteration: 1, MaxIterations: 10, MaxRetries: 3, StepsRun: []agent.Kind{agent.KindResearch}})
	s.DecideInitial(context.Background(), "t2", "other", StrategyContextFirst)

	log := s.Log("t1")
	if len(log) != 2 {
		t.Fatalf("got %d decisions for t1, want 2", len(log))
	}
	if log[0].Step != agent.KindResearch || log[1].Step != agent.KindPR {
		t.Errorf("unexpected log order: %q then %q", log[0].Step, log[1].Step)
	}
	if len(s.Log("t2")) != 1 {
		t.Errorf("got %d decisions for t2, want 1", len(s.Log("t2")))
	}

	s.Forget("t1")
	if len(s.Log("t1")) != 0 {
		t.Error("Forget should drop the task's log")
	}
	if len(s.Log("t2")) != 1 {
		t.Error("Forget must not touch other tasks")
	}
}
