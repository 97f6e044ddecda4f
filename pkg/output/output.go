// Package output renders finished audit events and delivers them to
// their destinations. Renderers turn events into bytes, sinks own the
// destination. The pipeline treats sink failures as fatal; nothing here
// retries.
package output

import (
	"context"

	"github.com/yairfalse/auditstream/pkg/domain"
)

// Renderer serializes one finished event.
type Renderer interface {
	RenderEvent(ev *domain.AuditEvent) ([]byte, error)
}

// Sink delivers rendered events somewhere durable.
type Sink interface {
	Write(ctx context.Context, ev *domain.AuditEvent) error
	Close() error
}
