package task

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/skoll/groundcontrol/internal/agent"
	"github.com/skoll/groundcontrol/internal/approval"
	"github.com/skoll/groundcontrol/internal/stream"
	"github.com/skoll/groundcontrol/internal/supervisor"
)

// ErrNotFound is returned for unknown task ids.
var ErrNotFound = errors.New("task not found")

// Archive persists terminal task snapshots across restarts.
type Archive interface {
	SaveTask(ctx context.Context, t *Task) error
	LoadTasks(ctx context.Context) ([]*Task, error)
	DeleteTask(ctx context.Context, id string) error
}

// Config tunes the manager.
type Config struct {
	Retention       time.Duration // how long terminal tasks stay queryable
	QueueSize       int           // per-subscriber live event buffer
	ApprovalTimeout time.Duration // decision window; 0 uses the gate's per-risk defaults
	// Operations maps each step kind to the operation the gate classifies.
	// Review requirements are deployment policy, not task data. Missing
	// entries fall back to the defaults below.
	Operations map[agent.Kind]string
}

// defaultOperations: only the pr step performs a reviewable operation;
// the read-only agents are plain agent calls.
var defaultOperations = map[agent.Kind]string{
	agent.KindResearch: approval.OpAgentCall,
	agent.KindContext:  approval.OpAgentCall,
	agent.KindPR:       approval.OpPRCreate,
}

// Manager owns the set of tasks and drives each through its steps in a
// dedicated goroutine. Risky steps go through the approval gate, every
// state change lands on the task's event stream, and terminal snapshots
// go to the archive. It is also a gate observer, turning approval
// activity into stream events for the owning task.
type Manager struct {
	mu      sync.Mutex
	tasks   map[string]*Task
	streams map[string]*stream.Stream
	cancels map[string]context.CancelFunc
	gate    *approval.Gate
	sup     *supervisor.Supervisor
	agents  map[agent.Kind]agent.Executor
	archive Archive
	cfg     Config
	logger  *zap.Logger
	wg      sync.WaitGroup
	closed  bool
}

// NewManager creates a manager and registers it as a gate observer.
// archive may be nil when no store is configured.
func NewManager(
	gate *approval.Gate,
	sup *supervisor.Supervisor,
	agents map[agent.Kind]agent.Executor,
	archive Archive,
	cfg Config,
	logger *zap.Logger,
) *Manager {
	if cfg.Retention <= 0 {
		cfg.Retention = 24 * time.Hour
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	m := &Manager{
		tasks:   make(map[string]*Task),
		streams: make(map[string]*stream.Stream),
		cancels: make(map[string]context.CancelFunc),
		gate:    gate,
		sup:     sup,
		agents:  agents,
		archive: archive,
		cfg:     cfg,
		logger:  logger,
	}
	gate.AddObserver(m)
	return m
}

// Start validates the request, creates the task record and its event
// stream, and launches the background run. The returned snapshot is
// taken before the run begins.
func (m *Manager) Start(req StartRequest) (*Task, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	strategy, _ := supervisor.ParseStrategy(req.Strategy)

	now := time.Now().UTC()
	t := &Task{
		ID:              uuid.New().String(),
		Objective:       req.Objective,
		Context:         req.Context,
		Status:          StatusPending,
		Strategy:        strategy,
		MaxIterations:   req.MaxIterations,
		MaxRetries:      req.MaxRetries,
		ApprovalEnabled: req.approvalEnabled(),
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	st := stream.NewSized(t.ID, m.cfg.QueueSize)
	ctx, cancel := context.WithCancel(context.Background())

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		return nil, fmt.Errorf("manager is shutting down")
	}
	m.tasks[t.ID] = t
	m.streams[t.ID] = st
	m.cancels[t.ID] = cancel
	m.mu.Unlock()

	st.Append(stream.EventTaskStart, stream.TaskStartPayload{
		Objective:     t.Objective,
		Strategy:      string(t.Strategy),
		MaxIterations: t.MaxIterations,
	})

	out := t.clone()

	m.wg.Add(1)
	go m.run(ctx, t.ID)

	m.logger.Info("started task",
		zap.String("task_id", t.ID),
		zap.String("objective", t.Objective),
		zap.String("strategy", string(t.Strategy)))

	return out, nil
}

// run drives one task from first routing decision to terminal event.
func (m *Manager) run(ctx context.Context, id string) {
	defer m.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("task run panicked",
				zap.String("task_id", id), zap.Any("panic", r))
			m.finalize(id, fmt.Sprintf("internal error: %v", r), true, false)
		}
	}()

	if ctx.Err() != nil {
		m.finalize(id, "task cancelled by user", false, true)
		return
	}

	m.update(id, func(t *Task) { t.Status = StatusRunning })

	t := m.snapshot(id)
	if t == nil {
		return
	}
	decision := m.sup.DecideInitial(ctx, id, t.Objective, t.Strategy)
	m.emitRouting(id, decision)

	aborted := false
	reason := ""

	for decision.Step != "" {
		if ctx.Err() != nil {
			m.finalize(id, "task cancelled by user", false, true)
			return
		}

		step := decision.Step
		iter := 0
		m.update(id, func(t *Task) {
			t.Status = StatusRunning
			t.CurrentStep = step
			t.StepHistory = append(t.StepHistory, step)
			iter = t.Iteration + 1
		})
		m.append(id, stream.EventStepStart, stream.StepStartPayload{
			Step:      string(step),
			Iteration: iter,
		})

		if ok, why := m.clearStep(ctx, id, step, iter); !ok {
			if ctx.Err() != nil {
				m.finalize(id, "task cancelled by user", false, true)
				return
			}
			aborted, reason = true, why
			break
		}

		summary, err := m.executeStep(ctx, id, step)
		if err != nil {
			if ctx.Err() != nil {
				m.finalize(id, "task cancelled by user", false, true)
				return
			}
			errMsg := fmt.Sprintf("%s: %v", step, err)
			m.update(id, func(t *Task) { t.Errors = append(t.Errors, errMsg) })
			m.append(id, stream.EventStepComplete, stream.StepCompletePayload{
				Step:      string(step),
				Iteration: iter,
				Summary:   "failed: " + err.Error(),
			})
			if !agent.IsRetryable(err) {
				m.bumpIteration(id, iter)
				aborted, reason = true, errMsg
				break
			}
			m.logger.Warn("step failed with retryable error",
				zap.String("task_id", id),
				zap.String("step", string(step)),
				zap.Error(err))
		} else {
			m.append(id, stream.EventStepComplete, stream.StepCompletePayload{
				Step:      string(step),
				Iteration: iter,
				Summary:   summary,
			})
		}

		m.bumpIteration(id, iter)

		decision = m.sup.DecideNext(ctx, m.view(id))
		m.emitRouting(id, decision)
	}

	if ctx.Err() != nil {
		m.finalize(id, "task cancelled by user", false, true)
		return
	}
	m.finalize(id, reason, aborted, false)
}

// clearStep asks the approval gate for permission to run a risky step.
// Low-risk steps pass without touching the gate. Returns false with a
// reason when the task must abort instead of running the step.
func (m *Manager) clearStep(ctx context.Context, id string, step agent.Kind, iter int) (bool, string) {
	t := m.snapshot(id)
	if t == nil || !t.ApprovalEnabled {
		return true, ""
	}
	op := m.operationForStep(step)
	if !approval.RequiresApproval(approval.Classify(op)) {
		return true, ""
	}

	m.update(id, func(t *Task) { t.Status = StatusWaitingApproval })

	decision, err := m.gate.Request(ctx, approval.Spec{
		OperationKind: op,
		Description:   fmt.Sprintf("Run %s step for: %s", step, t.Objective),
		Details: map[string]any{
			"task_id":   id,
			"step":      string(step),
			"iteration": iter,
		},
		TaskID:  id,
		Timeout: m.cfg.ApprovalTimeout,
	})
	if err != nil {
		if errors.Is(err, approval.ErrTimedOut) {
			return false, fmt.Sprintf("%s step not approved: no decision within the window", step)
		}
		return false, err.Error()
	}
	if !decision.Approved {
		why := fmt.Sprintf("%s step rejected", step)
		if decision.Note != "" {
			why += ": " + decision.Note
		}
		return false, why
	}

	m.update(id, func(t *Task) { t.Status = StatusRunning })
	return true, ""
}

// executeStep calls the step's executor and folds the output into the
// task record, returning a short human summary for the event log.
func (m *Manager) executeStep(ctx context.Context, id string, step agent.Kind) (string, error) {
	exec, ok := m.agents[step]
	if !ok {
		return "", &agent.Error{Agent: step, Message: "no executor registered"}
	}
	t := m.snapshot(id)
	if t == nil {
		return "", ErrNotFound
	}
	out, err := exec.Execute(ctx, stepInput(t, step))
	if err != nil {
		return "", err
	}
	return m.applyResult(id, step, out)
}

// stepInput builds the execute payload for each agent kind.
func stepInput(t *Task, step agent.Kind) map[string]any {
	switch step {
	case agent.KindResearch:
		return map[string]any{"topic": t.Objective}
	case agent.KindContext:
		return map[string]any{
			"query":          t.Objective,
			"n_results":      10,
			"min_similarity": 0.5,
		}
	case agent.KindPR:
		repoPath := "."
		if v, ok := t.Context["repo_path"].(string); ok && v != "" {
			repoPath = v
		}
		return map[string]any{
			"title":     t.Objective,
			"body":      prBody(t),
			"repo_path": repoPath,
		}
	}
	return map[string]any{"objective": t.Objective}
}

// prBody builds a pull request description from earlier step results.
func prBody(t *Task) string {
	var parts []string
	if t.Research != nil {
		parts = append(parts, "## Research Findings")
		if t.Research.Summary != "" {
			parts = append(parts, t.Research.Summary)
		}
		if len(t.Research.KeyFindings) > 0 {
			findings := "### Key Findings:"
			for i, f := range t.Research.KeyFindings {
				if i == 3 {
					break
				}
				findings += "\n- " + f
			}
			parts = append(parts, findings)
		}
	}
	if t.ContextSearch != nil && t.ContextSearch.HasPriorWork {
		parts = append(parts, "## Prior Work\nSimilar implementations found in codebase")
	}
	return joinParts(parts)
}

func joinParts(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "\n\n"
		}
		out += p
	}
	return out
}

// applyResult decodes and stores the step output.
func (m *Manager) applyResult(id string, step agent.Kind, out map[string]any) (string, error) {
	switch step {
	case agent.KindResearch:
		var r ResearchResult
		if err := decodeResult(out, &r); err != nil {
			return "", err
		}
		summary := r.Summary
		if summary == "" && r.Content != "" {
			summary = truncate(r.Content, 200)
		}
		if summary == "" {
			summary = "research completed"
		}
		m.update(id, func(t *Task) {
			if r.Topic == "" {
				r.Topic = t.Objective
			}
			t.Research = &r
			t.lastSummary = summary
		})
		return summary, nil

	case agent.KindContext:
		var c ContextResult
		if err := decodeResult(out, &c); err != nil {
			return "", err
		}
		summary := fmt.Sprintf("found %d relevant docs", len(c.RelevantDocs))
		if c.HasPriorWork {
			summary += ", prior work exists"
		}
		m.update(id, func(t *Task) {
			if c.Query == "" {
				c.Query = t.Objective
			}
			t.ContextSearch = &c
			t.lastSummary = summary
		})
		return summary, nil

	case agent.KindPR:
		var p PRResult
		if err := decodeResult(out, &p); err != nil {
			return "", err
		}
		summary := "pull request failed"
		if p.Success {
			summary = "pull request created"
			if p.PRURL != "" {
				summary += ": " + p.PRURL
			}
		} else if p.Error != "" {
			summary += ": " + p.Error
		}
		m.update(id, func(t *Task) {
			if p.Title == "" {
				p.Title = t.Objective
			}
			t.PR = &p
			t.lastSummary = summary
		})
		return summary, nil
	}
	return "", fmt.Errorf("unknown step %q", step)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// operationForStep maps a step to the operation kind the gate classifies.
func (m *Manager) operationForStep(step agent.Kind) string {
	if op, ok := m.cfg.Operations[step]; ok {
		return op
	}
	if op, ok := defaultOperations[step]; ok {
		return op
	}
	return approval.OpAgentCall
}

func (m *Manager) bumpIteration(id string, iter int) {
	max := 0
	m.update(id, func(t *Task) {
		t.Iteration = iter
		max = t.MaxIterations
	})
	m.append(id, stream.EventIteration, stream.IterationPayload{
		Iteration:     iter,
		MaxIterations: max,
	})
}

// view assembles the supervisor's snapshot of the task.
func (m *Manager) view(id string) supervisor.View {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return supervisor.View{TaskID: id}
	}
	return supervisor.View{
		TaskID:        t.ID,
		Objective:     t.Objective,
		Iteration:     t.Iteration,
		MaxIterations: t.MaxIterations,
		Errors:        append([]string(nil), t.Errors...),
		MaxRetries:    t.MaxRetries,
		StepsRun:      t.stepsRun(),
		ChangeDone:    t.PR != nil && t.PR.Success,
		LastSummary:   t.lastSummary,
	}
}

func (m *Manager) emitRouting(id string, d supervisor.Decision) {
	alts := make([]string, len(d.Alternatives))
	for i, a := range d.Alternatives {
		alts[i] = string(a)
	}
	m.append(id, stream.EventRoutingDecision, stream.RoutingDecisionPayload{
		Step:         string(d.Step),
		Strategy:     string(d.Strategy),
		Reasoning:    d.Reasoning,
		Confidence:   d.Confidence,
		Alternatives: alts,
	})
}

// finalize records the terminal state, emits the terminal event, closes
// the stream, and archives the snapshot. Safe to call once per task;
// later calls are no-ops.
func (m *Manager) finalize(id, reason string, aborted, cancelled bool) {
	decisions := m.sup.Log(id)

	m.mu.Lock()
	t, ok := m.tasks[id]
	if !ok || t.Status.Terminal() {
		m.mu.Unlock()
		return
	}
	if reason != "" && (len(t.Errors) == 0 || t.Errors[len(t.Errors)-1] != reason) {
		t.Errors = append(t.Errors, reason)
	}
	now := time.Now().UTC()
	failed := aborted || len(t.Errors) >= t.MaxRetries
	switch {
	case cancelled:
		t.Status = StatusCancelled
	case failed:
		t.Status = StatusFailed
	default:
		t.Status = StatusCompleted
	}
	t.CurrentStep = ""
	t.CompletedAt = &now
	t.UpdatedAt = now
	t.DurationMS = now.Sub(t.CreatedAt).Milliseconds()
	t.Summary = composeSummary(t, decisions)
	snapshot := t.clone()
	st := m.streams[id]
	delete(m.cancels, id)
	m.mu.Unlock()

	if st != nil {
		switch snapshot.Status {
		case StatusCompleted:
			st.Append(stream.EventComplete, stream.CompletePayload{
				Status:     string(snapshot.Status),
				Iterations: snapshot.Iteration,
				Summary:    snapshot.Summary,
				DurationMS: snapshot.DurationMS,
			})
		default:
			msg := reason
			if msg == "" && len(snapshot.Errors) > 0 {
				msg = snapshot.Errors[len(snapshot.Errors)-1]
			}
			if msg == "" {
				msg = "task failed"
			}
			st.Append(stream.EventError, stream.ErrorPayload{Error: msg})
		}
		st.Close()
	}

	m.sup.Forget(id)

	if m.archive != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.archive.SaveTask(ctx, snapshot); err != nil {
			m.logger.Warn("failed to archive task",
				zap.String("task_id", id), zap.Error(err))
		}
	}

	m.logger.Info("task finished",
		zap.String("task_id", id),
		zap.String("status", string(snapshot.Status)),
		zap.Int("iterations", snapshot.Iteration),
		zap.Int64("duration_ms", snapshot.DurationMS))
}

// Get returns a snapshot of the task.
func (m *Manager) Get(id string) (*Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t.clone(), nil
}

// List returns task summaries, newest first, optionally filtered by
// status and capped at limit.
func (m *Manager) List(status Status, limit int) []Info {
	m.mu.Lock()
	infos := make([]Info, 0, len(m.tasks))
	for _, t := range m.tasks {
		if status != "" && t.Status != status {
			continue
		}
		infos = append(infos, t.Info())
	}
	m.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].CreatedAt.After(infos[j].CreatedAt)
	})
	if limit > 0 && len(infos) > limit {
		infos = infos[:limit]
	}
	return infos
}

// Cancel stops a running task. Returns false when the task exists but
// is already terminal.
func (m *Manager) Cancel(id string) (bool, error) {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return false, ErrNotFound
	}
	terminal := t.Status.Terminal()
	cancel, running := m.cancels[id]
	m.mu.Unlock()

	if terminal || !running {
		return false, nil
	}
	cancel()
	m.logger.Info("cancelling task", zap.String("task_id", id))
	return true, nil
}

// Events returns the full recorded event log for a task.
func (m *Manager) Events(id string) ([]stream.Event, error) {
	m.mu.Lock()
	st, ok := m.streams[id]
	m.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return st.Events(), nil
}

// Subscribe attaches a live listener to the task's stream, replaying
// everything after the given sequence id first. Pass -1 for the full
// log.
func (m *Manager) Subscribe(id string, after int64) (<-chan stream.Event, func(), error) {
	m.mu.Lock()
	st, ok := m.streams[id]
	m.mu.Unlock()
	if !ok {
		return nil, nil, ErrNotFound
	}
	ch, cancel := st.Subscribe(after)
	return ch, cancel, nil
}

// RequestCreated implements approval.Observer: approval requests owned
// by a task land on that task's event stream.
func (m *Manager) RequestCreated(req *approval.Request) {
	if req.TaskID == "" {
		return
	}
	m.append(req.TaskID, stream.EventApprovalRequired, stream.ApprovalRequiredPayload{
		RequestID:      req.ID,
		OperationKind:  req.OperationKind,
		RiskLevel:      string(req.RiskLevel),
		Description:    req.Description,
		TimeoutSeconds: req.TimeoutSeconds,
		Details:        req.Details,
	})
}

// RequestDecided implements approval.Observer.
func (m *Manager) RequestDecided(req *approval.Request) {
	if req.TaskID == "" {
		return
	}
	m.append(req.TaskID, stream.EventApprovalDecided, stream.ApprovalDecidedPayload{
		RequestID: req.ID,
		Status:    string(req.Status),
		Approved:  req.Status == approval.StatusApproved,
		Note:      req.Note,
	})
}

// RestoreFromArchive loads archived terminal tasks back into memory
// with a condensed closed stream so replay endpoints keep working
// across restarts. Returns how many tasks were restored.
func (m *Manager) RestoreFromArchive(ctx context.Context) (int, error) {
	if m.archive == nil {
		return 0, nil
	}
	tasks, err := m.archive.LoadTasks(ctx)
	if err != nil {
		return 0, fmt.Errorf("load archived tasks: %w", err)
	}

	restored := 0
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range tasks {
		if t == nil || t.ID == "" || !t.Status.Terminal() {
			continue
		}
		if _, exists := m.tasks[t.ID]; exists {
			continue
		}
		m.tasks[t.ID] = t
		m.streams[t.ID] = stream.Restore(t.ID, condensedEvents(t))
		restored++
	}
	return restored, nil
}

// condensedEvents rebuilds the minimal event log for an archived task:
// the start event and the terminal event.
func condensedEvents(t *Task) []stream.Event {
	at := t.UpdatedAt
	if t.CompletedAt != nil {
		at = *t.CompletedAt
	}
	events := []stream.Event{{
		TaskID: t.ID,
		Seq:    0,
		Kind:   stream.EventTaskStart,
		Payload: stream.TaskStartPayload{
			Objective:     t.Objective,
			Strategy:      string(t.Strategy),
			MaxIterations: t.MaxIterations,
		},
		Timestamp: t.CreatedAt,
	}}
	if t.Status == StatusCompleted {
		events = append(events, stream.Event{
			TaskID: t.ID,
			Seq:    1,
			Kind:   stream.EventComplete,
			Payload: stream.CompletePayload{
				Status:     string(t.Status),
				Iterations: t.Iteration,
				Summary:    t.Summary,
				DurationMS: t.DurationMS,
			},
			Timestamp: at,
		})
		return events
	}
	msg := "task failed"
	if t.Status == StatusCancelled {
		msg = "task cancelled by user"
	} else if len(t.Errors) > 0 {
		msg = t.Errors[len(t.Errors)-1]
	}
	events = append(events, stream.Event{
		TaskID:    t.ID,
		Seq:       1,
		Kind:      stream.EventError,
		Payload:   stream.ErrorPayload{Error: msg},
		Timestamp: at,
	})
	return events
}

// CleanupTerminal evicts terminal tasks older than the retention window
// from memory and the archive. Returns how many were removed.
func (m *Manager) CleanupTerminal(ctx context.Context) int {
	cutoff := time.Now().UTC().Add(-m.cfg.Retention)

	m.mu.Lock()
	var evict []string
	for id, t := range m.tasks {
		if t.Status.Terminal() && t.UpdatedAt.Before(cutoff) {
			evict = append(evict, id)
		}
	}
	for _, id := range evict {
		delete(m.tasks, id)
		if st := m.streams[id]; st != nil {
			st.Close()
		}
		delete(m.streams, id)
	}
	m.mu.Unlock()

	for _, id := range evict {
		if m.archive == nil {
			continue
		}
		if err := m.archive.DeleteTask(ctx, id); err != nil {
			m.logger.Warn("failed to delete archived task",
				zap.String("task_id", id), zap.Error(err))
		}
	}
	if len(evict) > 0 {
		m.logger.Info("cleaned up terminal tasks", zap.Int("count", len(evict)))
	}
	return len(evict)
}

// Shutdown stops accepting tasks, cancels the running ones, and waits
// for their goroutines to finish or the context to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	cancels := make([]context.CancelFunc, 0, len(m.cancels))
	for _, c := range m.cancels {
		cancels = append(cancels, c)
	}
	m.mu.Unlock()

	for _, c := range cancels {
		c()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) snapshot(id string) *Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil
	}
	return t.clone()
}

func (m *Manager) update(id string, fn func(*Task)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return
	}
	fn(t)
	t.UpdatedAt = time.Now().UTC()
}

func (m *Manager) append(id string, kind stream.Kind, payload any) {
	m.mu.Lock()
	st := m.streams[id]
	m.mu.Unlock()
	if st != nil {
		st.Append(kind, payload)
	}
}
