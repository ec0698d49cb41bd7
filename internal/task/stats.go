package task

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// TaskStats summarizes task outcomes inside the stats window.
type TaskStats struct {
	TotalTasks        int            `json:"total_tasks"`
	StatusBreakdown   map[string]int `json:"status_breakdown"`
	SuccessRate       float64        `json:"success_rate"`
	AverageIterations float64        `json:"average_iterations"`
	Completed         int            `json:"completed"`
	Failed            int            `json:"failed"`
	Pending           int            `json:"pending"`
	Running           int            `json:"running"`
}

// RoutingStats summarizes strategy usage and observed step transitions.
type RoutingStats struct {
	StrategyUsage    map[string]int `json:"strategy_usage"`
	TopTransitions   map[string]int `json:"top_transitions"`
	TotalTransitions int            `json:"total_transitions"`
}

// PerformanceStats summarizes completion latency for finished tasks.
type PerformanceStats struct {
	AverageCompletionMS int64 `json:"average_completion_ms"`
	MinCompletionMS     int64 `json:"min_completion_ms"`
	MaxCompletionMS     int64 `json:"max_completion_ms"`
	TotalCompleted      int   `json:"total_completed"`
}

// Stats is the manager's analytics overview.
type Stats struct {
	Tasks       TaskStats        `json:"tasks"`
	Routing     RoutingStats     `json:"routing"`
	Performance PerformanceStats `json:"performance"`
}

// Stats computes analytics over tasks created in the last days days.
// Zero or negative means the default 7-day window.
func (m *Manager) Stats(days int) Stats {
	if days <= 0 {
		days = 7
	}
	cutoff := time.Now().UTC().Add(-time.Duration(days) * 24 * time.Hour)

	m.mu.Lock()
	recent := make([]*Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		if t.CreatedAt.After(cutoff) {
			recent = append(recent, t.clone())
		}
	}
	m.mu.Unlock()

	return Stats{
		Tasks:       taskStats(recent),
		Routing:     routingStats(recent),
		Performance: performanceStats(recent),
	}
}

func taskStats(tasks []*Task) TaskStats {
	breakdown := make(map[string]int)
	var iterSum, iterCount int
	for _, t := range tasks {
		breakdown[string(t.Status)]++
		if t.Status == StatusCompleted {
			iterSum += t.Iteration
			iterCount++
		}
	}

	completed := breakdown[string(StatusCompleted)]
	failed := breakdown[string(StatusFailed)]
	rate := 0.0
	if completed+failed > 0 {
		rate = float64(completed) / float64(completed+failed) * 100
	}
	avgIter := 0.0
	if iterCount > 0 {
		avgIter = float64(iterSum) / float64(iterCount)
	}

	return TaskStats{
		TotalTasks:        len(tasks),
		StatusBreakdown:   breakdown,
		SuccessRate:       round1(rate),
		AverageIterations: round1(avgIter),
		Completed:         completed,
		Failed:            failed,
		Pending:           breakdown[string(StatusPending)],
		Running:           breakdown[string(StatusRunning)],
	}
}

func routingStats(tasks []*Task) RoutingStats {
	strategies := make(map[string]int)
	transitions := make(map[string]int)
	total := 0
	for _, t := range tasks {
		strategies[string(t.Strategy)]++
		for i := 0; i+1 < len(t.StepHistory); i++ {
			key := fmt.Sprintf("%s -> %s", t.StepHistory[i], t.StepHistory[i+1])
			transitions[key]++
			total++
		}
	}

	// Keep the ten most frequent transitions; ties break on the key so
	// the result is stable.
	type kv struct {
		key string
		n   int
	}
	ranked := make([]kv, 0, len(transitions))
	for k, n := range transitions {
		ranked = append(ranked, kv{k, n})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].n == ranked[j].n {
			return ranked[i].key < ranked[j].key
		}
		return ranked[i].n > ranked[j].n
	})
	top := make(map[string]int, 10)
	for i, r := range ranked {
		if i == 10 {
			break
		}
		top[r.key] = r.n
	}

	return RoutingStats{
		StrategyUsage:    strategies,
		TopTransitions:   top,
		TotalTransitions: total,
	}
}

func performanceStats(tasks []*Task) PerformanceStats {
	var durations []int64
	for _, t := range tasks {
		if t.Status == StatusCompleted && t.CompletedAt != nil {
			durations = append(durations, t.DurationMS)
		}
	}
	if len(durations) == 0 {
		return PerformanceStats{}
	}

	var sum, min, max int64
	min = durations[0]
	max = durations[0]
	for _, d := range durations {
		sum += d
		if d < min {
			min = d
		}
		if d > max {
			max = d
		}
	}
	return PerformanceStats{
		AverageCompletionMS: sum / int64(len(durations)),
		MinCompletionMS:     min,
		MaxCompletionMS:     max,
		TotalCompleted:      len(durations),
	}
}

func round1(x float64) float64 {
	return math.Round(x*10) / 10
}
