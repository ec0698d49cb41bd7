package stream

import (
	"testing"
	"time"
)

func recvEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed while waiting for event")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
	return Event{}
}

func recvClosed(t *testing.T, ch <-chan Event) {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if ok {
			t.Fatalf("expected closed channel, got event seq=%d kind=%s", ev.Seq, ev.Kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for channel close")
	}
}

func collectUntilClosed(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var out []Event
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-deadline:
			t.Fatalf("timed out draining channel, got %d events", len(out))
		}
	}
}

func TestAppendAssignsContiguousSequence(t *testing.T) {
	s := New("task-1")
	s.Append(EventTaskStart, TaskStartPayload{Objective: "demo"})
	s.Append(EventStepStart, StepStartPayload{Step: "research", Iteration: 1})
	s.Append(EventStepComplete, StepCompletePayload{Step: "research", Iteration: 1})

	events := s.Events()
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	for i, ev := range events {
		if ev.Seq != int64(i) {
			t.Errorf("event %d has seq %d", i, ev.Seq)
		}
		if ev.TaskID != "task-1" {
			t.Errorf("event %d has task id %q", i, ev.TaskID)
		}
		if ev.Timestamp.IsZero() {
			t.Errorf("event %d has zero timestamp", i)
		}
	}
	if s.Len() != 3 {
		t.Fatalf("expected len 3, got %d", s.Len())
	}
}

func TestSubscribeReplaysBacklog(t *testing.T) {
	s := New("task-1")
	s.Append(EventTaskStart, nil)
	s.Append(EventStepStart, nil)
	s.Append(EventStepComplete, nil)

	ch, cancel := s.Subscribe(-1)
	defer cancel()

	for want := int64(0); want < 3; want++ {
		ev := recvEvent(t, ch)
		if ev.Seq != want {
			t.Fatalf("expected seq %d, got %d", want, ev.Seq)
		}
	}
}

func TestSubscribeResumesAfterLastSeen(t *testing.T) {
	s := New("task-1")
	for i := 0; i < 5; i++ {
		s.Append(EventIteration, IterationPayload{Iteration: i})
	}

	// A client that saw up to seq 2 reconnects and must get 3 and 4
	// exactly once, then live events.
	ch, cancel := s.Subscribe(2)
	defer cancel()

	if ev := recvEvent(t, ch); ev.Seq != 3 {
		t.Fatalf("expected seq 3, got %d", ev.Seq)
	}
	if ev := recvEvent(t, ch); ev.Seq != 4 {
		t.Fatalf("expected seq 4, got %d", ev.Seq)
	}

	s.Append(EventComplete, CompletePayload{Status: "completed"})
	if ev := recvEvent(t, ch); ev.Seq != 5 {
		t.Fatalf("expected seq 5, got %d", ev.Seq)
	}
}

func TestLiveDelivery(t *testing.T) {
	s := New("task-1")
	ch, cancel := s.Subscribe(-1)
	defer cancel()

	s.Append(EventTaskStart, nil)
	ev := recvEvent(t, ch)
	if ev.Seq != 0 || ev.Kind != EventTaskStart {
		t.Fatalf("unexpected event seq=%d kind=%s", ev.Seq, ev.Kind)
	}
}

func TestCloseEndsSubscribers(t *testing.T) {
	s := New("task-1")
	ch, cancel := s.Subscribe(-1)
	defer cancel()

	s.Append(EventComplete, nil)
	s.Close()

	if ev := recvEvent(t, ch); ev.Kind != EventComplete {
		t.Fatalf("expected complete event, got %s", ev.Kind)
	}
	recvClosed(t, ch)

	if !s.Closed() {
		t.Fatal("expected stream to report closed")
	}
	// Close is idempotent.
	s.Close()
}

func TestSubscribeAfterClose(t *testing.T) {
	s := New("task-1")
	s.Append(EventTaskStart, nil)
	s.Append(EventComplete, nil)
	s.Close()

	ch, cancel := s.Subscribe(-1)
	defer cancel()

	events := collectUntilClosed(t, ch)
	if len(events) != 2 {
		t.Fatalf("expected 2 replayed events, got %d", len(events))
	}
	if events[0].Seq != 0 || events[1].Seq != 1 {
		t.Fatalf("unexpected replay order: %d, %d", events[0].Seq, events[1].Seq)
	}
}

func TestAppendAfterCloseIgnored(t *testing.T) {
	s := New("task-1")
	s.Close()
	s.Append(EventTaskStart, nil)
	if s.Len() != 0 {
		t.Fatalf("expected no events after close, got %d", s.Len())
	}
}

func TestSlowSubscriberDisconnected(t *testing.T) {
	s := NewSized("task-1", 1)
	ch, cancel := s.Subscribe(-1)
	defer cancel()

	// Queue holds one event; the second append finds it full and drops
	// the subscriber instead of blocking.
	s.Append(EventIteration, nil)
	s.Append(EventIteration, nil)
	s.Append(EventIteration, nil)

	got := collectUntilClosed(t, ch)
	if len(got) != 1 {
		t.Fatalf("expected 1 buffered event before disconnect, got %d", len(got))
	}

	// Reconnecting from the last seen id recovers the rest.
	ch2, cancel2 := s.Subscribe(got[0].Seq)
	defer cancel2()
	if ev := recvEvent(t, ch2); ev.Seq != 1 {
		t.Fatalf("expected seq 1 on reconnect, got %d", ev.Seq)
	}
	if ev := recvEvent(t, ch2); ev.Seq != 2 {
		t.Fatalf("expected seq 2 on reconnect, got %d", ev.Seq)
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	s := New("task-1")
	ch, cancel := s.Subscribe(-1)
	cancel()
	cancel()
	recvClosed(t, ch)

	// A cancelled subscriber no longer receives appends.
	s.Append(EventTaskStart, nil)
	if s.Len() != 1 {
		t.Fatalf("append should still record, got len %d", s.Len())
	}
}

func TestRestoreReplaysArchivedEvents(t *testing.T) {
	original := New("task-1")
	original.Append(EventTaskStart, nil)
	original.Append(EventComplete, CompletePayload{Status: "completed"})
	original.Close()

	restored := Restore("task-1", original.Events())
	if !restored.Closed() {
		t.Fatal("restored stream should be closed")
	}

	ch, cancel := restored.Subscribe(-1)
	defer cancel()
	events := collectUntilClosed(t, ch)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[1].Kind != EventComplete {
		t.Fatalf("expected complete, got %s", events[1].Kind)
	}

	restored.Append(EventError, nil)
	if restored.Len() != 2 {
		t.Fatalf("append on restored stream should be ignored, got %d", restored.Len())
	}
}

func TestConcurrentAppendsStayGapless(t *testing.T) {
	s := NewSized("task-1", 256)

	const total = 200
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < total; i++ {
			s.Append(EventIteration, IterationPayload{Iteration: i})
		}
		s.Close()
	}()

	// Join mid-flight and verify the combined replay plus live feed is a
	// contiguous run ending at the final sequence id.
	ch, cancel := s.Subscribe(-1)
	defer cancel()
	events := collectUntilClosed(t, ch)
	<-done

	if len(events) == 0 {
		t.Fatal("expected events")
	}
	for i := 1; i < len(events); i++ {
		if events[i].Seq != events[i-1].Seq+1 {
			t.Fatalf("gap between seq %d and %d", events[i-1].Seq, events[i].Seq)
		}
	}
	if last := events[len(events)-1].Seq; last != total-1 {
		t.Fatalf("expected last seq %d, got %d", total-1, last)
	}
	if events[0].Seq != 0 {
		t.Fatalf("expected replay from 0, got %d", events[0].Seq)
	}
}

func TestTerminalKinds(t *testing.T) {
	cases := []struct {
		kind Kind
		want bool
	}{
		{EventComplete, true},
		{EventError, true},
		{EventTaskStart, false},
		{EventApprovalRequired, false},
		{EventKeepalive, false},
	}
	for _, tc := range cases {
		if got := (Event{Kind: tc.kind}).Terminal(); got != tc.want {
			t.Errorf("Terminal(%s) = %v, want %v", tc.kind, got, tc.want)
		}
	}
}
