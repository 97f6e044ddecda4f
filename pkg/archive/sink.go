package archive

import (
	"context"

	"github.com/yairfalse/auditstream/pkg/domain"
)

// Sink adapts a Store to the pipeline's sink interface.
type Sink struct {
	store *Store
}

func NewSink(store *Store) *Sink {
	return &Sink{store: store}
}

func (s *Sink) Write(ctx context.Context, ev *domain.AuditEvent) error {
	return s.store.SaveEvent(ctx, ev)
}

// Close closes the underlying store.
func (s *Sink) Close() error {
	return s.store.Close()
}
