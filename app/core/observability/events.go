package observability

import (
	"sync"
	"time"

	"lastagent/app/pkg/logger"
)

const (
	KindStart = "start"
	KindEnd   = "end"
	KindError = "error"
)

// Event is one pipeline observation keyed by task id. Phase names follow the
// task lifecycle (select, approve, execute, log_decision) plus component
// internals (voter, sweep, stats).
type Event struct {
	TaskID  string
	Phase   string
	Kind    string
	Detail  string
	Err     string
	Elapsed time.Duration
	At      time.Time
}

// Sink consumes events. Implementations must be safe for concurrent use.
type Sink interface {
	Emit(e Event)
}

func Start(s Sink, taskID, phase string) {
	emit(s, Event{TaskID: taskID, Phase: phase, Kind: KindStart})
}

func End(s Sink, taskID, phase string, elapsed time.Duration, detail string) {
	emit(s, Event{TaskID: taskID, Phase: phase, Kind: KindEnd, Elapsed: elapsed, Detail: detail})
}

func Error(s Sink, taskID, phase string, err error) {
	e := Event{TaskID: taskID, Phase: phase, Kind: KindError}
	if err != nil {
		e.Err = err.Error()
	}
	emit(s, e)
}

func emit(s Sink, e Event) {
	if s == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.Emit(e)
}

// LogSink renders events through the process logger.
type LogSink struct{}

func (LogSink) Emit(e Event) {
	switch e.Kind {
	case KindError:
		logger.Error("task=%s phase=%s %s", e.TaskID, e.Phase, e.Err)
	case KindEnd:
		if e.Detail != "" {
			logger.Info("task=%s phase=%s done in %s: %s", e.TaskID, e.Phase, e.Elapsed.Round(time.Millisecond), e.Detail)
			return
		}
		logger.Info("task=%s phase=%s done in %s", e.TaskID, e.Phase, e.Elapsed.Round(time.Millisecond))
	default:
		logger.Info("task=%s phase=%s %s", e.TaskID, e.Phase, e.Kind)
	}
}

// MemorySink records events for tests.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func (m *MemorySink) Emit(e Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
}

func (m *MemorySink) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

func (m *MemorySink) ByPhase(phase string) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, e := range m.events {
		if e.Phase == phase {
			out = append(out, e)
		}
	}
	return out
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) Emit(Event) {}

// MultiSink fans one event out to several sinks.
type MultiSink []Sink

func (m MultiSink) Emit(e Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(e)
		}
	}
}
