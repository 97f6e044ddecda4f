package transport

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"

	"github.com/yairfalse/auditstream/pkg/domain"
)

// CaptureWriter persists raw netlink messages in the replay format: a
// 4-byte little-endian length prefix per message, optionally inside a
// zstd stream.
type CaptureWriter struct {
	f     *os.File
	enc   *zstd.Encoder
	w     io.Writer
	count uint64
}

// NewCaptureWriter creates or truncates the capture file at path.
func NewCaptureWriter(path string, compress bool) (*CaptureWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create capture: %w", err)
	}

	w := &CaptureWriter{f: f, w: f}
	if compress {
		enc, err := zstd.NewWriter(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to create zstd writer: %w", err)
		}
		w.enc = enc
		w.w = enc
	}
	return w, nil
}

// WriteMessage appends one raw netlink message to the capture.
func (w *CaptureWriter) WriteMessage(msg []byte) error {
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(msg)))
	if _, err := w.w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("capture write failed: %w", err)
	}
	if _, err := w.w.Write(msg); err != nil {
		return fmt.Errorf("capture write failed: %w", err)
	}
	w.count++
	return nil
}

// Count returns how many messages have been written.
func (w *CaptureWriter) Count() uint64 {
	return w.count
}

// Flush pushes buffered compressor output to the file. A no-op for
// uncompressed captures, which write through directly.
func (w *CaptureWriter) Flush() error {
	if w.enc == nil {
		return nil
	}
	if err := w.enc.Flush(); err != nil {
		return fmt.Errorf("failed to flush zstd stream: %w", err)
	}
	return nil
}

// Close flushes the compressor, if any, and closes the file.
func (w *CaptureWriter) Close() error {
	if w.enc != nil {
		if err := w.enc.Close(); err != nil {
			w.f.Close()
			return fmt.Errorf("failed to finish zstd stream: %w", err)
		}
	}
	return w.f.Close()
}

// EncodeMessage builds a raw netlink message carrying an audit payload.
// Useful for writing synthetic capture files.
func EncodeMessage(typ domain.RecordType, payload string) []byte {
	msg := make([]byte, nlmsgHdrLen+len(payload))
	binary.LittleEndian.PutUint32(msg[0:4], uint32(len(msg)))
	binary.LittleEndian.PutUint16(msg[4:6], typ.Code())
	copy(msg[nlmsgHdrLen:], payload)
	return msg
}
