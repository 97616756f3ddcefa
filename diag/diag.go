// Package diag records bridge failures in a structured form.
//
// Every error the bridge surfaces carries a Kind and a Path; a Record keeps
// both alongside the bridge that produced it, so a sink can aggregate
// failures without parsing messages.
package diag

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/js-bridge/errors"
)

// Source names the bridge activity that produced a record.
type Source string

const (
	SourceCall     Source = "call"
	SourceRejected Source = "rejected"
	SourceLoad     Source = "load"
	SourceCallback Source = "callback"
)

// Record is one reported failure.
type Record struct {
	Time   time.Time
	Err    error
	Bridge string
	Source Source
	Target string
	Phase  errors.Phase
	Kind   errors.Kind
	Detail string
	Path   []string
}

// FromError builds a record for err. Errors outside the bridge taxonomy keep
// an empty Kind.
func FromError(bridge string, src Source, target string, err error) Record {
	r := Record{
		Time:   time.Now(),
		Err:    err,
		Bridge: bridge,
		Source: src,
		Target: target,
		Kind:   errors.KindOf(err),
	}
	if e, ok := errors.Extract(err); ok {
		r.Phase = e.Phase
		r.Detail = e.Detail
		r.Path = e.Path
	} else if err != nil {
		r.Detail = err.Error()
	}
	return r
}

// Sink receives records. Report must be safe for concurrent use.
type Sink interface {
	Report(Record)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Record)

func (f SinkFunc) Report(r Record) { f(r) }

// ZapSink logs records at warn level, or error level for foreign failures.
type ZapSink struct {
	log *zap.Logger
}

// NewZapSink creates a sink writing to log.
func NewZapSink(log *zap.Logger) *ZapSink {
	if log == nil {
		log = zap.NewNop()
	}
	return &ZapSink{log: log.Named("diag")}
}

func (s *ZapSink) Report(r Record) {
	fields := []zap.Field{
		zap.String("bridge", r.Bridge),
		zap.String("source", string(r.Source)),
		zap.String("target", r.Target),
		zap.String("kind", string(r.Kind)),
		zap.String("phase", string(r.Phase)),
		zap.Strings("path", r.Path),
		zap.Error(r.Err),
	}
	if errors.IsForeignFailure(r.Err) {
		s.log.Error("bridge failure", fields...)
		return
	}
	s.log.Warn("bridge failure", fields...)
}

// Memory keeps records in memory, mostly for tests and the CLI.
type Memory struct {
	records []Record
	limit   int
	mu      sync.Mutex
}

// NewMemory keeps at most limit records, dropping the oldest. Zero keeps all.
func NewMemory(limit int) *Memory {
	return &Memory{limit: limit}
}

func (m *Memory) Report(r Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, r)
	if m.limit > 0 && len(m.records) > m.limit {
		m.records = append(m.records[:0:0], m.records[len(m.records)-m.limit:]...)
	}
}

// Records returns a copy of the kept records, oldest first.
func (m *Memory) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.records...)
}

// Count returns how many kept records have the given kind.
func (m *Memory) Count(kind errors.Kind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, r := range m.records {
		if r.Kind == kind {
			n++
		}
	}
	return n
}

func (m *Memory) Reset() {
	m.mu.Lock()
	m.records = nil
	m.mu.Unlock()
}

// Multi fans records out to several sinks.
type Multi []Sink

func (ms Multi) Report(r Record) {
	for _, s := range ms {
		if s != nil {
			s.Report(r)
		}
	}
}
