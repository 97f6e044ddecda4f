package domain

import (
	"time"

	"github.com/google/uuid"
)

// CloseReason records which completion rule finished an event.
type CloseReason string

// Completion rules, in the order the correlator evaluates them.
const (
	// ReasonEndOfEvent closes on the kernel's explicit end-of-event marker.
	ReasonEndOfEvent CloseReason = "end_of_event"

	// ReasonProctitleTerminal closes on the process-title record, which by
	// kernel convention is the last record of its event.
	ReasonProctitleTerminal CloseReason = "proctitle_terminal"

	// ReasonKernelSingleRecord closes asynchronous kernel records that
	// never have satellites.
	ReasonKernelSingleRecord CloseReason = "kernel_single_record"

	// ReasonBelowFirstEvent closes record types numbered below the range
	// where multi-record events begin.
	ReasonBelowFirstEvent CloseReason = "below_first_event"

	// ReasonFirstAnomaly closes record types numbered at or above the
	// first anomaly message.
	ReasonFirstAnomaly CloseReason = "above_first_anomaly"

	// ReasonMacSingleRecord closes records in the single-record MAC and
	// labeled networking range.
	ReasonMacSingleRecord CloseReason = "mac_single_record"

	// ReasonTimeout closes an event whose key stayed idle past the
	// configured end-of-event timeout.
	ReasonTimeout CloseReason = "timeout"

	// ReasonShutdown closes events flushed when the stream ends.
	ReasonShutdown CloseReason = "shutdown"
)

// AuditEvent is a completed group of records sharing one correlation key.
// It is immutable once emitted.
type AuditEvent struct {
	ID      string         `json:"id"`
	Key     CorrelationKey `json:"key"`
	Records []*AuditRecord `json:"records"`
	Reason  CloseReason    `json:"reason"`
}

// NewAuditEvent builds an event from the accumulated records of one key.
// Records must already be in arrival order.
func NewAuditEvent(key CorrelationKey, records []*AuditRecord, reason CloseReason) *AuditEvent {
	return &AuditEvent{
		ID:      uuid.New().String(),
		Key:     key,
		Records: records,
		Reason:  reason,
	}
}

// Timestamp returns the kernel timestamp shared by the event's records.
func (e *AuditEvent) Timestamp() time.Time {
	return e.Key.Timestamp()
}

// Serial returns the kernel serial shared by the event's records.
func (e *AuditEvent) Serial() uint64 {
	return e.Key.Serial
}
