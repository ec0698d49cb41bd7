// Package approval implements the gate that intercepts risk-classified
// operations and suspends them until a human decision, a timeout, or a
// cancellation resolves the request.
package approval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrTimedOut is returned by Request when no decision arrives within the
// decision window.
var ErrTimedOut = errors.New("approval timed out")

// TimeoutError is the concrete timeout failure. It matches ErrTimedOut
// under errors.Is and carries enough of the expired request for
// transports to reference it.
type TimeoutError struct {
	RequestID string
	Note      string
	DecidedAt time.Time
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("approval request %s timed out", e.RequestID)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimedOut }

const defaultMaxHistory = 500

// Config tunes a Gate.
type Config struct {
	// DefaultTimeout applies when a request does not carry its own
	// timeout. Zero falls back to the per-risk windows.
	DefaultTimeout time.Duration
	// MaxHistory bounds the decided-request history.
	MaxHistory int
}

// Gate owns the pending approval requests, one waiter per request, and a
// bounded history of decided requests.
type Gate struct {
	mu        sync.Mutex
	pending   map[string]*waiter
	history   []*Request
	observers []Observer
	cfg       Config
	logger    *zap.Logger
}

// waiter pairs a pending request with its one-shot resolution signal. The
// done channel is closed exactly once, by whichever of decision, timeout,
// or cancellation wins the resolve race.
type waiter struct {
	req  *Request
	done chan struct{}
}

// NewGate creates an approval gate.
func NewGate(cfg Config, logger *zap.Logger) *Gate {
	if cfg.MaxHistory <= 0 {
		cfg.MaxHistory = defaultMaxHistory
	}
	return &Gate{
		pending: make(map[string]*waiter),
		cfg:     cfg,
		logger:  logger,
	}
}

// AddObserver registers an observer for request lifecycle notifications.
func (g *Gate) AddObserver(o Observer) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.observers = append(g.observers, o)
}

// Request classifies the operation and, when approval is required,
// registers a pending request and suspends the caller until a decision,
// the timeout, or ctx cancellation resolves it. Low-risk operations are
// approved synchronously without registering anything. Timeout returns
// ErrTimedOut; cancellation force-resolves the request as rejected and
// returns the context error.
func (g *Gate) Request(ctx context.Context, spec Spec) (*Decision, error) {
	if spec.OperationKind == "" {
		return nil, fmt.Errorf("operation kind is required")
	}

	level := Classify(spec.OperationKind)
	if !RequiresApproval(level) {
		return &Decision{
			RequestID: uuid.New().String(),
			Approved:  true,
			Note:      "auto-approved (low risk)",
			DecidedAt: time.Now(),
		}, nil
	}

	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = g.cfg.DefaultTimeout
	}
	if timeout <= 0 {
		timeout = DefaultTimeout(level)
	}

	req := &Request{
		ID:             uuid.New().String(),
		TaskID:         spec.TaskID,
		OperationKind:  spec.OperationKind,
		RiskLevel:      level,
		Description:    spec.Description,
		Details:        spec.Details,
		TimeoutSeconds: int(timeout / time.Second),
		Status:         StatusPending,
		CreatedAt:      time.Now(),
	}
	w := &waiter{req: req, done: make(chan struct{})}

	g.mu.Lock()
	g.pending[req.ID] = w
	g.mu.Unlock()

	g.notify(req, func(o Observer, r *Request) { o.RequestCreated(r) })
	g.logger.Info("approval requested",
		zap.String("request_id", req.ID),
		zap.String("task_id", req.TaskID),
		zap.String("operation", req.OperationKind),
		zap.String("risk", string(level)),
		zap.Duration("timeout", timeout))

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-w.done:
	case <-timer.C:
		if g.resolve(req.ID, StatusTimedOut, "no decision within the window") {
			return nil, &TimeoutError{RequestID: req.ID, Note: req.Note, DecidedAt: *req.DecidedAt}
		}
		// A decision won the race; wait for it to finish publishing.
		<-w.done
	case <-ctx.Done():
		if g.resolve(req.ID, StatusRejected, "task cancelled") {
			return nil, ctx.Err()
		}
		<-w.done
	}

	// The resolver wrote the final fields before closing done.
	return &Decision{
		RequestID: req.ID,
		Approved:  req.Status == StatusApproved,
		Note:      req.Note,
		DecidedAt: *req.DecidedAt,
	}, nil
}

// Approve resolves a pending request as approved. It returns false when
// the request is unknown or already decided, which callers treat as "too
// late" rather than an error.
func (g *Gate) Approve(requestID, note string) bool {
	if !g.resolve(requestID, StatusApproved, note) {
		return false
	}
	g.logger.Info("approval granted", zap.String("request_id", requestID))
	return true
}

// Reject resolves a pending request as rejected. Same "too late" contract
// as Approve.
func (g *Gate) Reject(requestID, note string) bool {
	if !g.resolve(requestID, StatusRejected, note) {
		return false
	}
	g.logger.Info("approval rejected", zap.String("request_id", requestID))
	return true
}

// resolve records the final status for a pending request and returns
// whether this caller won the race. Decided observers are notified before
// the waiter wakes, so an ApprovalDecided event always precedes whatever
// the resumed task emits next.
func (g *Gate) resolve(requestID string, status Status, note string) bool {
	g.mu.Lock()
	w, ok := g.pending[requestID]
	if !ok {
		g.mu.Unlock()
		return false
	}
	delete(g.pending, requestID)

	now := time.Now()
	w.req.Status = status
	w.req.Note = note
	w.req.DecidedAt = &now

	g.history = append(g.history, w.req)
	if len(g.history) > g.cfg.MaxHistory {
		g.history = g.history[len(g.history)-g.cfg.MaxHistory:]
	}
	g.mu.Unlock()

	g.notify(w.req, func(o Observer, r *Request) { o.RequestDecided(r) })
	close(w.done)
	return true
}

// notify fans a request snapshot out to every observer, isolating panics
// so a broken observer can never block or fail a resolution. The snapshot
// is taken under the lock; a created notification can otherwise race a
// concurrent resolve writing the decision fields.
func (g *Gate) notify(req *Request, call func(Observer, *Request)) {
	g.mu.Lock()
	observers := make([]Observer, len(g.observers))
	copy(observers, g.observers)
	snap := req.clone()
	g.mu.Unlock()

	for _, o := range observers {
		r := snap.clone()
		func() {
			defer func() {
				if p := recover(); p != nil {
					g.logger.Error("approval observer panicked",
						zap.String("request_id", snap.ID), zap.Any("panic", p))
				}
			}()
			call(o, r)
		}()
	}
}

// Pending returns a snapshot of undecided requests, oldest first.
func (g *Gate) Pending() []*Request {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]*Request, 0, len(g.pending))
	for _, w := range g.pending {
		out = append(out, w.req.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// History returns decided requests, newest first. Zero limit means all;
// a non-empty status filters.
func (g *Gate) History(limit int, status Status) []*Request {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]*Request, 0, len(g.history))
	for i := len(g.history) - 1; i >= 0; i-- {
		r := g.history[i]
		if status != "" && r.Status != status {
			continue
		}
		out = append(out, r.clone())
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// Stats summarizes gate activity.
func (g *Gate) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()

	s := Stats{
		Pending:      len(g.pending),
		TotalHistory: len(g.history),
		ByStatus:     make(map[Status]int),
		ByRiskLevel:  make(map[RiskLevel]int),
	}
	for _, r := range g.history {
		s.ByStatus[r.Status]++
		s.ByRiskLevel[r.RiskLevel]++
	}
	approved := s.ByStatus[StatusApproved]
	rejected := s.ByStatus[StatusRejected]
	if approved+rejected > 0 {
		s.ApprovalRate = 100 * float64(approved) / float64(approved+rejected)
	}
	return s
}

// ClearHistory drops all decided requests and returns how many were
// removed. Pending requests are untouched.
func (g *Gate) ClearHistory() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := len(g.history)
	g.history = nil
	return n
}
