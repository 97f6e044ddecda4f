// Package auparse turns raw audit record text into structured records.
// It understands both the payload form delivered over netlink, which
// starts at the "audit(...)" preamble, and full audit.log lines that
// carry a leading type= token.
package auparse

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/yairfalse/auditstream/pkg/domain"
)

// ErrInvalidPreamble reports a missing or malformed
// "audit(<sec>.<msec>:<serial>)" header.
var ErrInvalidPreamble = errors.New("auparse: invalid audit preamble")

// InvalidLineError reports a token that does not form a key=value pair.
type InvalidLineError struct {
	Line string
}

func (e *InvalidLineError) Error() string {
	return fmt.Sprintf("auparse: invalid line %q", e.Line)
}

// DuplicateFieldError reports a key that appeared twice in one record.
type DuplicateFieldError struct {
	Key string
}

func (e *DuplicateFieldError) Error() string {
	return fmt.Sprintf("auparse: duplicate field %q", e.Key)
}

// Parse builds an AuditRecord from a netlink payload. The payload begins
// with the kernel's "audit(<sec>.<msec>:<serial>):" preamble followed by
// whitespace separated key=value pairs.
func Parse(t domain.RecordType, payload string) (*domain.AuditRecord, error) {
	if !strings.HasPrefix(payload, "audit(") {
		return nil, ErrInvalidPreamble
	}
	ts, serial, rest, err := parsePreamble(payload)
	if err != nil {
		return nil, err
	}
	fields, err := parseFields(tokenize(payload[rest:]), payload)
	if err != nil {
		return nil, err
	}
	return &domain.AuditRecord{
		Type:      t,
		Timestamp: ts,
		Serial:    serial,
		Fields:    fields,
	}, nil
}

// ParseLine parses one audit.log text line of the form
// "type=<symbol> msg=audit(<sec>.<msec>:<serial>): key=value ...".
func ParseLine(line string) (*domain.AuditRecord, error) {
	tokens := tokenize(line)
	if len(tokens) == 0 {
		return nil, ErrInvalidPreamble
	}

	// Token shape is checked before the preamble so that a stray word
	// anywhere on the line reports the line, not a header problem.
	for _, tok := range tokens {
		if tok != ":" && strings.IndexByte(tok, '=') == -1 {
			return nil, &InvalidLineError{Line: line}
		}
	}

	if !strings.HasPrefix(tokens[0], "type=") {
		return nil, ErrInvalidPreamble
	}
	typ, ok := domain.RecordTypeFromName(tokens[0][len("type="):])
	if !ok {
		return nil, ErrInvalidPreamble
	}

	if len(tokens) < 2 || !strings.HasPrefix(tokens[1], "msg=audit(") {
		return nil, ErrInvalidPreamble
	}
	ts, serial, _, err := parsePreamble(tokens[1])
	if err != nil {
		return nil, err
	}

	fields, err := parseFields(tokens[2:], line)
	if err != nil {
		return nil, err
	}
	return &domain.AuditRecord{
		Type:      typ,
		Timestamp: ts,
		Serial:    serial,
		Fields:    fields,
	}, nil
}

// parsePreamble extracts the timestamp and serial from the
// "audit(<sec>.<msec>:<serial>)" header and returns the offset just past
// the closing parenthesis.
func parsePreamble(s string) (time.Time, uint64, int, error) {
	start := strings.IndexByte(s, '(')
	if start == -1 {
		return time.Time{}, 0, 0, ErrInvalidPreamble
	}
	dot := strings.IndexByte(s[start:], '.')
	if dot == -1 {
		return time.Time{}, 0, 0, ErrInvalidPreamble
	}
	dot += start
	sep := strings.IndexByte(s[dot:], ':')
	if sep == -1 {
		return time.Time{}, 0, 0, ErrInvalidPreamble
	}
	sep += dot
	end := strings.IndexByte(s[sep:], ')')
	if end == -1 {
		return time.Time{}, 0, 0, ErrInvalidPreamble
	}
	end += sep

	sec, err := strconv.ParseInt(s[start+1:dot], 10, 64)
	if err != nil {
		return time.Time{}, 0, 0, ErrInvalidPreamble
	}
	msec, err := strconv.ParseInt(s[dot+1:sep], 10, 64)
	if err != nil {
		return time.Time{}, 0, 0, ErrInvalidPreamble
	}
	serial, err := strconv.ParseUint(s[sep+1:end], 10, 64)
	if err != nil {
		return time.Time{}, 0, 0, ErrInvalidPreamble
	}

	return time.Unix(sec, msec*int64(time.Millisecond)), serial, end + 1, nil
}

// parseFields converts tokens into an ordered field list. A lone ":" is a
// leftover preamble separator and is skipped. Any other token without "="
// fails the whole record.
func parseFields(tokens []string, line string) (domain.FieldList, error) {
	fields := make(domain.FieldList, 0, len(tokens))
	seen := make(map[string]struct{}, len(tokens))
	for _, tok := range tokens {
		if tok == ":" {
			continue
		}
		eq := strings.IndexByte(tok, '=')
		if eq == -1 {
			return nil, &InvalidLineError{Line: line}
		}
		key := tok[:eq]
		if _, dup := seen[key]; dup {
			return nil, &DuplicateFieldError{Key: key}
		}
		seen[key] = struct{}{}
		fields = append(fields, domain.Field{Key: key, Value: tok[eq+1:]})
	}
	return fields, nil
}

// tokenize splits audit payload text on whitespace while keeping two
// composite value forms intact: double-quoted strings, and brace groups
// of the form KEY={ ... } whose internal whitespace collapses to single
// spaces.
func tokenize(s string) []string {
	var tokens []string
	i, n := 0, len(s)
	for i < n {
		for i < n && isSpace(s[i]) {
			i++
		}
		if i >= n {
			break
		}
		var b strings.Builder
		inQuote := false
		depth := 0
	scan:
		for i < n {
			c := s[i]
			switch {
			case c == '"':
				inQuote = !inQuote
				b.WriteByte(c)
				i++
			case isSpace(c) && !inQuote && depth == 0:
				break scan
			case isSpace(c) && !inQuote:
				// Inside a brace group: collapse the whitespace run.
				for i < n && isSpace(s[i]) {
					i++
				}
				if i < n {
					b.WriteByte(' ')
				}
			default:
				if !inQuote {
					if c == '{' {
						depth++
					} else if c == '}' && depth > 0 {
						depth--
					}
				}
				b.WriteByte(c)
				i++
			}
		}
		tokens = append(tokens, b.String())
	}
	return tokens
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t'
}
