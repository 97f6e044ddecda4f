package transport

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuditStatusWireRoundTrip(t *testing.T) {
	status := auditStatus{
		Mask:         statusEnabled | statusPID,
		Enabled:      1,
		PID:          4242,
		RateLimit:    100,
		BacklogLimit: 8192,
		Lost:         7,
		Backlog:      3,
	}

	wire := status.toWire()
	require.Len(t, wire, 40)

	// Field order follows the kernel struct, little-endian throughout.
	assert.Equal(t, uint32(statusEnabled|statusPID), binary.LittleEndian.Uint32(wire[0:4]))
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(wire[4:8]))
	assert.Equal(t, uint32(4242), binary.LittleEndian.Uint32(wire[12:16]))

	var decoded auditStatus
	require.NoError(t, decoded.fromWire(wire))
	assert.Equal(t, status, decoded)
}

func TestAuditStatusMaskBits(t *testing.T) {
	assert.Equal(t, uint32(0x01), statusEnabled)
	assert.Equal(t, uint32(0x02), statusFailure)
	assert.Equal(t, uint32(0x04), statusPID)
	assert.Equal(t, uint32(0x08), statusRateLimit)
	assert.Equal(t, uint32(0x10), statusBacklogLimit)
}
