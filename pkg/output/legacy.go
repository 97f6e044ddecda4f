package output

import (
	"bytes"

	"github.com/yairfalse/auditstream/pkg/domain"
)

// LegacyRenderer formats events the way auditd writes audit.log: one
// line per record, "type=<symbol> msg=audit(<sec>.<msec>:<serial>):"
// followed by the fields in their original order with values verbatim.
// Parsing a rendered line yields the record back unchanged.
type LegacyRenderer struct{}

func (LegacyRenderer) RenderEvent(ev *domain.AuditEvent) ([]byte, error) {
	var buf bytes.Buffer
	for _, rec := range ev.Records {
		buf.WriteString("type=")
		buf.WriteString(rec.Type.String())
		buf.WriteString(" msg=")
		buf.WriteString(rec.Preamble())
		buf.WriteByte(':')
		for _, f := range rec.Fields {
			buf.WriteByte(' ')
			buf.WriteString(f.Key)
			buf.WriteByte('=')
			buf.WriteString(f.Value)
		}
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}
