package stream

import (
	"sync"
	"time"
)

const defaultQueueSize = 64

// Stream is the append-only event log for a single task plus its live
// subscribers. Appends assign contiguous sequence ids starting at 0, so a
// client that remembers the last id it saw can reconnect and resume without
// gaps or duplicates.
type Stream struct {
	mu        sync.Mutex
	taskID    string
	events    []Event
	subs      map[int]chan Event
	nextSub   int
	queueSize int
	closed    bool
}

// New creates an empty stream for the given task.
func New(taskID string) *Stream {
	return NewSized(taskID, defaultQueueSize)
}

// NewSized creates a stream whose subscriber channels buffer up to queueSize
// live events beyond the replayed backlog. A subscriber that falls further
// behind than that is dropped and must reconnect.
func NewSized(taskID string, queueSize int) *Stream {
	if queueSize < 1 {
		queueSize = 1
	}
	return &Stream{
		taskID:    taskID,
		subs:      make(map[int]chan Event),
		queueSize: queueSize,
	}
}

// Restore rebuilds a closed stream from previously recorded events, keeping
// their original sequence ids. Used when a task is loaded back out of the
// archive; subscribers get the full replay followed by end of stream.
func Restore(taskID string, events []Event) *Stream {
	s := NewSized(taskID, defaultQueueSize)
	s.events = append(s.events, events...)
	s.closed = true
	return s
}

// Append records an event and fans it out to live subscribers. The sequence
// id is the event's index in the log. Subscribers whose queues are full are
// disconnected rather than blocking the writer; the reconnect protocol lets
// them recover anything they missed. Appending to a closed stream is a no-op.
func (s *Stream) Append(kind Kind, payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	ev := Event{
		TaskID:    s.taskID,
		Seq:       int64(len(s.events)),
		Kind:      kind,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
	s.events = append(s.events, ev)
	for id, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			close(ch)
			delete(s.subs, id)
		}
	}
}

// Subscribe returns a channel that first replays every recorded event with
// sequence id greater than after, then carries live events as they are
// appended. Pass -1 to replay from the beginning. The channel is closed when
// the stream closes, the subscriber falls too far behind, or the returned
// cancel function is called. Replay and registration happen atomically with
// respect to Append, so no event is ever missed or delivered twice.
func (s *Stream) Subscribe(after int64) (<-chan Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := after + 1
	if start < 0 {
		start = 0
	}
	var backlog []Event
	if start < int64(len(s.events)) {
		backlog = s.events[start:]
	}

	ch := make(chan Event, len(backlog)+s.queueSize)
	for _, ev := range backlog {
		ch <- ev
	}
	if s.closed {
		close(ch)
		return ch, func() {}
	}

	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
	return ch, cancel
}

// Close ends the stream and closes every subscriber channel. Idempotent.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
}

// Closed reports whether the stream has ended.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Events returns a copy of the recorded log.
func (s *Stream) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// Len returns the number of recorded events.
func (s *Stream) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}
