package output

import (
	"context"

	"github.com/yairfalse/auditstream/pkg/domain"
)

// FanoutSink delivers each event to every sink in order. The first
// write error stops the fan-out and is returned, so downstream sinks
// may not see the failing event.
type FanoutSink struct {
	sinks []Sink
}

func NewFanoutSink(sinks ...Sink) *FanoutSink {
	return &FanoutSink{sinks: sinks}
}

func (s *FanoutSink) Write(ctx context.Context, ev *domain.AuditEvent) error {
	for _, sink := range s.sinks {
		if err := sink.Write(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// Close closes every sink and returns the first error encountered.
func (s *FanoutSink) Close() error {
	var firstErr error
	for _, sink := range s.sinks {
		if err := sink.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
