package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL string

	apiClient    = &http.Client{Timeout: 30 * time.Second}
	streamClient = &http.Client{}
)

var rootCmd = &cobra.Command{
	Use:   "gcctl",
	Short: "Ground Control CLI",
	Long: `gcctl talks to a running Ground Control server.

Submit objectives, follow their event streams, and decide pending
approval requests from the terminal.`,
	SilenceUsage: true,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("GROUNDCONTROL_SERVER", "http://localhost:8080"), "server base URL")
	registerCommands()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func registerCommands() {
	rootCmd.AddCommand(submitCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(getCmd())
	rootCmd.AddCommand(cancelCmd())
	rootCmd.AddCommand(pendingCmd())
	rootCmd.AddCommand(approveCmd())
	rootCmd.AddCommand(rejectCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(healthCmd())
}

// --- HTTP helpers ---

func doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, serverURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := apiClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s", apiErr.Error)
		}
		return fmt.Errorf("server returned %s", resp.Status)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func printIndented(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	return nil
}

// --- Task commands ---

func submitCmd() *cobra.Command {
	var (
		strategy   string
		maxIter    int
		maxRetries int
		noApproval bool
		follow     bool
		ctxPairs   []string
	)
	cmd := &cobra.Command{
		Use:   "submit <objective>",
		Short: "Submit a new task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{
				"objective": strings.Join(args, " "),
			}
			if strategy != "" {
				body["strategy"] = strategy
			}
			if maxIter > 0 {
				body["max_iterations"] = maxIter
			}
			if maxRetries > 0 {
				body["max_retries"] = maxRetries
			}
			if noApproval {
				body["enable_approval"] = false
			}
			if len(ctxPairs) > 0 {
				taskCtx := make(map[string]any, len(ctxPairs))
				for _, pair := range ctxPairs {
					k, v, ok := strings.Cut(pair, "=")
					if !ok {
						return fmt.Errorf("context entry %q is not key=value", pair)
					}
					taskCtx[k] = v
				}
				body["context"] = taskCtx
			}

			var created struct {
				TaskID    string `json:"task_id"`
				Status    string `json:"status"`
				Strategy  string `json:"strategy"`
				StreamURL string `json:"stream_url"`
			}
			if err := doJSON(cmd.Context(), http.MethodPost, "/api/tasks", body, &created); err != nil {
				return err
			}
			fmt.Printf("task %s submitted (%s, strategy %s)\n", created.TaskID, created.Status, created.Strategy)
			if !follow {
				fmt.Printf("follow with: gcctl watch %s\n", created.TaskID)
				return nil
			}
			return followStream(cmd.Context(), created.TaskID, -1)
		},
	}
	cmd.Flags().StringVar(&strategy, "strategy", "", "routing strategy (adaptive, research_first, context_first)")
	cmd.Flags().IntVar(&maxIter, "max-iterations", 0, "iteration budget (default 10)")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 0, "retry budget (default 3)")
	cmd.Flags().BoolVar(&noApproval, "no-approval", false, "skip approval gates for this task")
	cmd.Flags().BoolVarP(&follow, "watch", "f", false, "follow the event stream after submitting")
	cmd.Flags().StringArrayVar(&ctxPairs, "context", nil, "extra context as key=value (repeatable)")
	return cmd
}

func watchCmd() *cobra.Command {
	var from int64
	cmd := &cobra.Command{
		Use:   "watch <task-id>",
		Short: "Follow a task's event stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return followStream(cmd.Context(), args[0], from)
		},
	}
	cmd.Flags().Int64Var(&from, "from", -1, "resume after this sequence id (-1 replays everything)")
	return cmd
}

func listCmd() *cobra.Command {
	var (
		status string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/tasks?limit=" + strconv.Itoa(limit)
			if status != "" {
				path += "&status=" + status
			}
			var infos []struct {
				TaskID        string    `json:"task_id"`
				Objective     string    `json:"objective"`
				Status        string    `json:"status"`
				Iteration     int       `json:"iteration"`
				MaxIterations int       `json:"max_iterations"`
				CreatedAt     time.Time `json:"created_at"`
			}
			if err := doJSON(cmd.Context(), http.MethodGet, path, nil, &infos); err != nil {
				return err
			}
			if len(infos) == 0 {
				fmt.Println("no tasks")
				return nil
			}
			for _, info := range infos {
				fmt.Printf("%s  %-16s  %d/%d  %s  %s\n",
					info.TaskID, info.Status, info.Iteration, info.MaxIterations,
					info.CreatedAt.Local().Format("15:04:05"), truncate(info.Objective, 60))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum rows")
	return cmd
}

func getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <task-id>",
		Short: "Show the full task record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var t map[string]any
			if err := doJSON(cmd.Context(), http.MethodGet, "/api/tasks/"+args[0], nil, &t); err != nil {
				return err
			}
			return printIndented(t)
		},
	}
}

func cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <task-id>",
		Short: "Cancel a running task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				TaskID    string `json:"task_id"`
				Cancelled bool   `json:"cancelled"`
			}
			if err := doJSON(cmd.Context(), http.MethodDelete, "/api/tasks/"+args[0], nil, &out); err != nil {
				return err
			}
			if out.Cancelled {
				fmt.Printf("task %s cancelling\n", out.TaskID)
			} else {
				fmt.Printf("task %s is already finished\n", out.TaskID)
			}
			return nil
		},
	}
}

// --- Approval commands ---

func pendingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List approval requests waiting for a decision",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var reqs []struct {
				ID            string    `json:"id"`
				TaskID        string    `json:"task_id"`
				OperationKind string    `json:"operation_kind"`
				RiskLevel     string    `json:"risk_level"`
				Description   string    `json:"description"`
				CreatedAt     time.Time `json:"created_at"`
			}
			if err := doJSON(cmd.Context(), http.MethodGet, "/api/approvals/pending", nil, &reqs); err != nil {
				return err
			}
			if len(reqs) == 0 {
				fmt.Println("nothing pending")
				return nil
			}
			for _, req := range reqs {
				task := req.TaskID
				if task == "" {
					task = "-"
				}
				fmt.Printf("%s  %-8s  %-16s  task %s  %s\n",
					req.ID, req.RiskLevel, req.OperationKind, task, truncate(req.Description, 50))
			}
			return nil
		},
	}
}

func approveCmd() *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "approve <request-id>",
		Short: "Approve a pending request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return decide(cmd.Context(), args[0], "approve", note)
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "decision note")
	return cmd
}

func rejectCmd() *cobra.Command {
	var note string
	cmd := &cobra.Command{
		Use:   "reject <request-id>",
		Short: "Reject a pending request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return decide(cmd.Context(), args[0], "reject", note)
		},
	}
	cmd.Flags().StringVar(&note, "note", "", "decision note")
	return cmd
}

func decide(ctx context.Context, requestID, verb, note string) error {
	body := map[string]any{}
	if note != "" {
		body["note"] = note
	}
	var out struct {
		RequestID string `json:"request_id"`
		Approved  bool   `json:"approved"`
	}
	if err := doJSON(ctx, http.MethodPost, "/api/approvals/"+requestID+"/"+verb, body, &out); err != nil {
		return err
	}
	if out.Approved {
		fmt.Printf("request %s approved\n", out.RequestID)
	} else {
		fmt.Printf("request %s rejected\n", out.RequestID)
	}
	return nil
}

func historyCmd() *cobra.Command {
	var (
		limit  int
		status string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show decided approval requests, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/approvals/history?limit=" + strconv.Itoa(limit)
			if status != "" {
				path += "&status=" + status
			}
			var reqs []struct {
				ID            string     `json:"id"`
				OperationKind string     `json:"operation_kind"`
				RiskLevel     string     `json:"risk_level"`
				Status        string     `json:"status"`
				Note          string     `json:"note"`
				DecidedAt     *time.Time `json:"decided_at"`
			}
			if err := doJSON(cmd.Context(), http.MethodGet, path, nil, &reqs); err != nil {
				return err
			}
			if len(reqs) == 0 {
				fmt.Println("no decisions yet")
				return nil
			}
			for _, req := range reqs {
				when := "-"
				if req.DecidedAt != nil {
					when = req.DecidedAt.Local().Format("Jan 02 15:04:05")
				}
				line := fmt.Sprintf("%s  %-9s  %-8s  %-16s  %s",
					req.ID, req.Status, req.RiskLevel, req.OperationKind, when)
				if req.Note != "" {
					line += "  (" + truncate(req.Note, 40) + ")"
				}
				fmt.Println(line)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum rows")
	cmd.Flags().StringVar(&status, "status", "", "filter by status (approved, rejected, timed_out)")
	return cmd
}

// --- Operations commands ---

func statsCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show the analytics overview",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var overview map[string]any
			path := "/api/stats?days=" + strconv.Itoa(days)
			if err := doJSON(cmd.Context(), http.MethodGet, path, nil, &overview); err != nil {
				return err
			}
			return printIndented(overview)
		},
	}
	cmd.Flags().IntVar(&days, "days", 7, "time window in days")
	return cmd
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check server and backend health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var report struct {
				Status   string          `json:"status"`
				Services map[string]bool `json:"services"`
			}
			if err := doJSON(cmd.Context(), http.MethodGet, "/api/health", nil, &report); err != nil {
				return err
			}
			fmt.Println("status:", report.Status)
			for name, up := range report.Services {
				state := "up"
				if !up {
					state = "down"
				}
				fmt.Printf("  %-10s %s\n", name, state)
			}
			return nil
		},
	}
}

// --- SSE ---

func followStream(ctx context.Context, taskID string, from int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, serverURL+"/api/tasks/"+taskID+"/stream", nil)
	if err != nil {
		return err
	}
	if from >= 0 {
		req.Header.Set("Last-Event-ID", strconv.FormatInt(from, 10))
	}
	resp, err := streamClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s", apiErr.Error)
		}
		return fmt.Errorf("server returned %s", resp.Status)
	}

	reader := bufio.NewReader(resp.Body)
	for {
		seq, event, data, err := readFrame(reader)
		if err == io.EOF || ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return err
		}
		if event == "keepalive" {
			continue
		}
		printEvent(seq, event, data)
	}
}

// readFrame reads one SSE frame: optional id line, event line, data line,
// blank terminator.
func readFrame(r *bufio.Reader) (seq, event, data string, err error) {
	seen := false
	for {
		line, rerr := r.ReadString('\n')
		if rerr != nil {
			return "", "", "", rerr
		}
		line = strings.TrimRight(line, "\n")
		if line == "" {
			if seen {
				return seq, event, data, nil
			}
			continue
		}
		seen = true
		switch {
		case strings.HasPrefix(line, "id: "):
			seq = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func printEvent(seq, event, data string) {
	var payload map[string]any
	_ = json.Unmarshal([]byte(data), &payload)

	detail := ""
	switch event {
	case "task_start":
		detail = str(payload, "objective")
	case "step_start", "step_complete":
		detail = str(payload, "step")
		if s := str(payload, "summary"); s != "" {
			detail += ": " + s
		}
	case "approval_required":
		detail = fmt.Sprintf("%s (%s risk) request %s",
			str(payload, "operation_kind"), str(payload, "risk_level"), str(payload, "request_id"))
	case "approval_decided":
		verdict := "rejected"
		if b, ok := payload["approved"].(bool); ok && b {
			verdict = "approved"
		}
		detail = verdict
		if n := str(payload, "note"); n != "" {
			detail += ": " + n
		}
	case "iteration":
		if n, ok := payload["iteration"].(float64); ok {
			detail = fmt.Sprintf("#%d", int(n))
		}
	case "routing_decision":
		detail = str(payload, "step")
		if detail == "" {
			detail = "done"
		}
		if reason := str(payload, "reasoning"); reason != "" {
			detail += " (" + truncate(reason, 60) + ")"
		}
	case "complete":
		detail = str(payload, "status")
		if n, ok := payload["iterations"].(float64); ok {
			detail += fmt.Sprintf(" after %d iterations", int(n))
		}
	case "error":
		detail = str(payload, "error")
	}
	fmt.Printf("[%3s] %-18s %s\n", seq, event, detail)
}

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
