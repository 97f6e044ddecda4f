package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"

	"github.com/yairfalse/auditstream/pkg/domain"
)

// zstdMagic is the frame magic every zstd stream starts with.
var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// Upper bound for one captured message. Anything larger means the length
// prefix is garbage.
const maxCaptureMessage = 1 << 20

// ReplaySource reads a binary capture file: for each message a 4-byte
// little-endian length prefix followed by the raw netlink bytes.
// Compressed captures are recognized by the zstd magic and decompressed
// transparently.
type ReplaySource struct {
	f       *os.File
	dec     *zstd.Decoder
	r       io.Reader
	arrival uint64
}

// NewReplaySource opens a capture file for replay.
func NewReplaySource(path string) (*ReplaySource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture: %w", err)
	}

	s := &ReplaySource{f: f}
	br := bufio.NewReader(f)
	magic, err := br.Peek(len(zstdMagic))
	if err == nil && bytes.Equal(magic, zstdMagic) {
		dec, err := zstd.NewReader(br)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to open compressed capture: %w", err)
		}
		s.dec = dec
		s.r = dec
	} else {
		s.r = br
	}
	return s, nil
}

// Receive returns the next audit record from the capture. A clean end of
// file yields io.EOF; a partial message means the capture is corrupt.
func (s *ReplaySource) Receive(ctx context.Context) (*domain.RawRecord, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var lenBuf [4]byte
		if _, err := io.ReadFull(s.r, lenBuf[:]); err != nil {
			if err == io.EOF {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("capture truncated: %w", err)
		}
		size := binary.LittleEndian.Uint32(lenBuf[:])
		if size < nlmsgHdrLen || size > maxCaptureMessage {
			return nil, fmt.Errorf("capture corrupt: message length %d", size)
		}

		msg := make([]byte, size)
		if _, err := io.ReadFull(s.r, msg); err != nil {
			return nil, fmt.Errorf("capture truncated: %w", err)
		}

		// The payload is everything after the netlink header. The
		// header's own length field is as unreliable here as it is on
		// the live socket.
		typ := binary.LittleEndian.Uint16(msg[4:6])
		if typ < firstAuditType {
			continue
		}

		s.arrival++
		return &domain.RawRecord{
			Type: domain.RecordTypeFromCode(typ),
			Data: string(bytes.TrimRight(msg[nlmsgHdrLen:], "\x00")),
			Seq:  s.arrival,
		}, nil
	}
}

// Close releases the capture file.
func (s *ReplaySource) Close() error {
	if s.dec != nil {
		s.dec.Close()
	}
	return s.f.Close()
}
