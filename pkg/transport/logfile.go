package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/yairfalse/auditstream/pkg/domain"
)

// LogSource replays records from an audit log text file, one record per
// line. Each line is delivered whole, including the type and msg
// prefixes, for the text parser to consume.
type LogSource struct {
	f       *os.File
	scanner *bufio.Scanner
	arrival uint64
}

// NewLogSource opens the log file at path.
func NewLogSource(path string) (*LogSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log: %w", err)
	}

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &LogSource{f: f, scanner: scanner}, nil
}

// Receive returns the next non-empty line. It returns io.EOF when the
// file is exhausted.
func (s *LogSource) Receive(ctx context.Context) (*domain.RawRecord, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return nil, fmt.Errorf("log read failed: %w", err)
			}
			return nil, io.EOF
		}
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" {
			continue
		}
		s.arrival++
		return &domain.RawRecord{
			Type: typeFromLine(line),
			Data: line,
			Seq:  s.arrival,
		}, nil
	}
}

// Close closes the underlying file.
func (s *LogSource) Close() error {
	return s.f.Close()
}

// typeFromLine extracts the record type from a log line. The text
// parser re-derives it authoritatively; this is a best-effort hint so
// raw records carry a type even before parsing.
func typeFromLine(line string) domain.RecordType {
	rest, ok := strings.CutPrefix(line, "type=")
	if !ok {
		return 0
	}
	name, _, _ := strings.Cut(rest, " ")
	t, ok := domain.RecordTypeFromName(name)
	if !ok {
		return 0
	}
	return t
}
