//go:build !linux

package transport

import (
	"context"

	"go.uber.org/zap"

	"github.com/yairfalse/auditstream/pkg/domain"
)

// NetlinkSource is only functional on Linux. This stub keeps the package
// compiling elsewhere so replay tooling still works.
type NetlinkSource struct{}

// NewNetlinkSource always fails off Linux.
func NewNetlinkSource(_ *zap.Logger, _ NetlinkConfig) (*NetlinkSource, error) {
	return nil, ErrUnsupportedPlatform
}

func (s *NetlinkSource) Receive(context.Context) (*domain.RawRecord, error) {
	return nil, ErrUnsupportedPlatform
}

func (s *NetlinkSource) ReceiveRaw(context.Context) ([]byte, error) {
	return nil, ErrUnsupportedPlatform
}

func (s *NetlinkSource) Close() error {
	return nil
}
