package output

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/yairfalse/auditstream/pkg/domain"
)

// FileSink writes newline-delimited rendered events to a file, or to
// stdout when the path is empty or "-". Output is buffered; Close
// flushes.
type FileSink struct {
	renderer Renderer
	f        *os.File
	w        *bufio.Writer
}

// NewFileSink opens path for writing. It truncates an existing file.
func NewFileSink(path string, renderer Renderer) (*FileSink, error) {
	if path == "" || path == "-" {
		return NewWriterSink(os.Stdout, renderer), nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open output file: %w", err)
	}
	return &FileSink{renderer: renderer, f: f, w: bufio.NewWriter(f)}, nil
}

// NewWriterSink wraps a caller-owned writer. Close flushes but does not
// close the writer.
func NewWriterSink(w io.Writer, renderer Renderer) *FileSink {
	return &FileSink{renderer: renderer, w: bufio.NewWriter(w)}
}

func (s *FileSink) Write(ctx context.Context, ev *domain.AuditEvent) error {
	data, err := s.renderer.RenderEvent(ev)
	if err != nil {
		return fmt.Errorf("failed to render event: %w", err)
	}
	if _, err := s.w.Write(data); err != nil {
		return fmt.Errorf("sink write failed: %w", err)
	}
	if len(data) == 0 || data[len(data)-1] != '\n' {
		if err := s.w.WriteByte('\n'); err != nil {
			return fmt.Errorf("sink write failed: %w", err)
		}
	}
	return nil
}

func (s *FileSink) Close() error {
	flushErr := s.w.Flush()
	if s.f != nil {
		if err := s.f.Close(); err != nil {
			return err
		}
	}
	return flushErr
}
