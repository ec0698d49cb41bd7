// Package audit appends decided approval requests to PostgreSQL so
// operators can review the decision history after the in-memory gate
// has rotated it out.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/skoll/groundcontrol/internal/approval"
)

// Trail wraps a PostgreSQL connection pool holding the approval audit
// table. It doubles as a gate observer.
type Trail struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// New creates a Trail with a pgx connection pool.
func New(dsn string, logger *zap.Logger) (*Trail, error) {
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	logger.Info("PostgreSQL connected")
	return &Trail{db: pool, logger: logger}, nil
}

// Migrate reads and executes all .up.sql files from the migrations
// directory in filename order.
func (t *Trail) Migrate(ctx context.Context, migrationsDir string) error {
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, f := range files {
		data, err := os.ReadFile(filepath.Join(migrationsDir, f))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		if _, err := t.db.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
		t.logger.Info("Migration applied", zap.String("file", f))
	}
	return nil
}

// Entry is one audited approval decision.
type Entry struct {
	ID            int64          `json:"id"`
	RequestID     string         `json:"request_id"`
	TaskID        string         `json:"task_id,omitempty"`
	OperationKind string         `json:"operation_kind"`
	RiskLevel     string         `json:"risk_level"`
	Description   string         `json:"description,omitempty"`
	Status        string         `json:"status"`
	Note          string         `json:"note,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
	RequestedAt   time.Time      `json:"requested_at"`
	DecidedAt     time.Time      `json:"decided_at"`
}

// RequestCreated implements approval.Observer. Only decisions are
// audited.
func (t *Trail) RequestCreated(*approval.Request) {}

// RequestDecided implements approval.Observer. The insert runs in its
// own goroutine with a bounded context so a slow database never delays
// the waiter wake-up, and a failed write is logged, not propagated.
func (t *Trail) RequestDecided(req *approval.Request) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := t.Insert(ctx, req); err != nil {
			t.logger.Warn("approval audit write failed",
				zap.String("request_id", req.ID), zap.Error(err))
		}
	}()
}

// Insert appends one decided request to the audit table.
func (t *Trail) Insert(ctx context.Context, req *approval.Request) error {
	var detailsJSON []byte
	if len(req.Details) > 0 {
		var err error
		detailsJSON, err = json.Marshal(req.Details)
		if err != nil {
			return fmt.Errorf("marshal details: %w", err)
		}
	}

	decidedAt := time.Now().UTC()
	if req.DecidedAt != nil {
		decidedAt = *req.DecidedAt
	}

	_, err := t.db.Exec(ctx, `
		INSERT INTO approval_audit
			(request_id, task_id, operation_kind, risk_level,
			 description, status, note, details, requested_at, decided_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		req.ID, req.TaskID, req.OperationKind, string(req.RiskLevel),
		req.Description, string(req.Status), req.Note, detailsJSON,
		req.CreatedAt, decidedAt,
	)
	if err != nil {
		return fmt.Errorf("insert approval audit: %w", err)
	}
	return nil
}

// Recent returns the latest audited decisions, newest first.
func (t *Trail) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := t.db.Query(ctx, `
		SELECT id, request_id, task_id, operation_kind, risk_level,
		       description, status, note, details, requested_at, decided_at
		FROM approval_audit
		ORDER BY decided_at DESC, id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query approval audit: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var detailsJSON []byte
		if err := rows.Scan(&e.ID, &e.RequestID, &e.TaskID, &e.OperationKind,
			&e.RiskLevel, &e.Description, &e.Status, &e.Note, &detailsJSON,
			&e.RequestedAt, &e.DecidedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if len(detailsJSON) > 0 {
			_ = json.Unmarshal(detailsJSON, &e.Details)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close shuts down the connection pool.
func (t *Trail) Close() {
	t.db.Close()
}
