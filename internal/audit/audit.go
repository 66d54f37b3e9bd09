// Package audit records who did what to which resource. Mutating API calls
// and market-state changes emit one event each; the default sink writes them
// as structured zap entries so they land in the same stream as the service
// logs.
package audit

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Event is one audit record. ID is assigned by the sink when empty.
type Event struct {
	ID       string    `json:"id"`
	Time     time.Time `json:"time"`
	Actor    string    `json:"actor"`
	Action   string    `json:"action"`
	Resource string    `json:"resource"`
	Outcome  string    `json:"outcome"`
	Detail   string    `json:"detail,omitempty"`
}

func (e *Event) ensureID() {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
}

// Outcomes.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// Sink receives audit events.
type Sink interface {
	Record(Event)
}

// ZapSink writes events to a zap logger at Info level.
type ZapSink struct {
	logger *zap.Logger
}

// NewZapSink builds a sink over the given logger.
func NewZapSink(logger *zap.Logger) *ZapSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapSink{logger: logger}
}

// Record implements Sink.
func (s *ZapSink) Record(e Event) {
	e.ensureID()
	s.logger.Info("audit",
		zap.String("id", e.ID),
		zap.Time("time", e.Time),
		zap.String("actor", e.Actor),
		zap.String("action", e.Action),
		zap.String("resource", e.Resource),
		zap.String("outcome", e.Outcome),
		zap.String("detail", e.Detail))
}

// MemorySink buffers events in memory. Used in tests and available for
// read-back over the admin API.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// NewMemorySink builds an empty in-memory sink.
func NewMemorySink() *MemorySink { return &MemorySink{} }

// Record implements Sink.
func (s *MemorySink) Record(e Event) {
	e.ensureID()
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

// Events returns a copy of everything recorded so far.
func (s *MemorySink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// Tee fans one event out to several sinks.
type Tee []Sink

// Record implements Sink.
func (t Tee) Record(e Event) {
	for _, s := range t {
		s.Record(e)
	}
}
