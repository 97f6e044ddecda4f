// Package transport supplies raw audit records from the kernel's netlink
// socket, from binary captures of that socket, or from audit.log text
// files. Every source hides behind the same Source interface so the rest
// of the pipeline never knows where records come from.
package transport

import (
	"context"
	"errors"

	"github.com/yairfalse/auditstream/pkg/domain"
)

// ErrUnsupportedPlatform is returned when the live kernel source is used
// on anything but Linux.
var ErrUnsupportedPlatform = errors.New("transport: audit netlink requires linux")

const (
	// Maximum audit payload the kernel will send. Mirrors
	// MAX_AUDIT_MESSAGE_LENGTH from libaudit.
	auditMessageMaxLength = 8970

	// Netlink message header size: length, type, flags, sequence, pid.
	nlmsgHdrLen = 16

	// First type code the audit subsystem assigns. Everything below is
	// netlink plumbing.
	firstAuditType = 1000
)

// Source yields raw audit records one at a time. Receive blocks until a
// record arrives, the stream ends cleanly (io.EOF), or ctx is canceled.
// Any other error is fatal to the stream.
type Source interface {
	Receive(ctx context.Context) (*domain.RawRecord, error)
	Close() error
}

// NetlinkConfig controls the live kernel source.
type NetlinkConfig struct {
	// Enable turns kernel auditing on during startup.
	Enable bool `yaml:"enable"`

	// ReceiveBuffer sizes the socket receive buffer in bytes. Zero keeps
	// the system default.
	ReceiveBuffer int `yaml:"receive_buffer"`
}
