package output

import (
	"encoding/json"

	"github.com/yairfalse/auditstream/pkg/domain"
)

// JSONRenderer encodes one event as a single JSON object: id, key,
// close reason, and the records in arrival order with their fields as
// an order-preserving object.
type JSONRenderer struct {
	// Pretty indents the output for human reading instead of emitting
	// one compact object per event.
	Pretty bool
}

func (r JSONRenderer) RenderEvent(ev *domain.AuditEvent) ([]byte, error) {
	if r.Pretty {
		return json.MarshalIndent(ev, "", "  ")
	}
	return json.Marshal(ev)
}
