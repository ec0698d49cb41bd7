package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/skoll/groundcontrol/internal/stream"
	"go.uber.org/zap"
)

// streamTask serves a task's event log as server-sent events. The
// recorded log is replayed first (from the position in Last-Event-ID,
// if any), then live events follow until the terminal one. Keepalive
// frames carry no id so they never disturb the client's resume cursor.
func (h *Handler) streamTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	after := parseLastEventID(r.Header.Get("Last-Event-ID"))

	events, cancel, err := h.tasks.Subscribe(id, after)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	defer cancel()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	h.logger.Debug("stream attached",
		zap.String("task_id", id),
		zap.Int64("after", after))

	keepalive := time.NewTicker(h.keepalive)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			fmt.Fprintf(w, "event: %s\ndata: {}\n\n", stream.EventKeepalive)
			flusher.Flush()
		case ev, open := <-events:
			if !open {
				return
			}
			if err := writeFrame(w, ev); err != nil {
				return
			}
			flusher.Flush()
			if ev.Terminal() {
				return
			}
		}
	}
}

// writeFrame emits one SSE frame. The id line carries the sequence id
// so EventSource reconnects resume exactly where they left off.
func writeFrame(w io.Writer, ev stream.Event) error {
	data, err := json.Marshal(ev.Payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Kind, data)
	return err
}

// parseLastEventID maps the reconnect header to a stream position.
// Absent or unparseable values fall back to -1, a full replay.
func parseLastEventID(raw string) int64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return -1
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return -1
	}
	return n
}
