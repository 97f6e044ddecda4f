//go:build linux

package transport

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/yairfalse/auditstream/pkg/domain"
)

const (
	pollTimeoutMillis = 250
	ackTimeout        = 2 * time.Second
)

// audit_status mask bits.
const (
	statusEnabled uint32 = 1 << iota
	statusFailure
	statusPID
	statusRateLimit
	statusBacklogLimit
)

// auditStatus mirrors the kernel's audit_status structure, exchanged in
// little-endian wire order on AUDIT_GET and AUDIT_SET messages.
type auditStatus struct {
	Mask            uint32
	Enabled         uint32
	Failure         uint32
	PID             uint32
	RateLimit       uint32
	BacklogLimit    uint32
	Lost            uint32
	Backlog         uint32
	FeatureBitmap   uint32
	BacklogWaitTime uint32
}

func (s auditStatus) toWire() []byte {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, s); err != nil {
		// Fixed-size struct of uint32s, cannot fail.
		panic(err)
	}
	return buf.Bytes()
}

func (s *auditStatus) fromWire(data []byte) error {
	return binary.Read(bytes.NewReader(data), binary.LittleEndian, s)
}

// NetlinkSource streams audit records from the kernel. Opening the source
// claims the audit daemon slot by registering our PID, so at most one
// consumer per host sees the stream.
type NetlinkSource struct {
	logger  *zap.Logger
	fd      int
	buf     []byte
	seq     uint32
	arrival uint64
	closed  atomic.Bool
}

// NewNetlinkSource opens the NETLINK_AUDIT socket, registers this process
// as the audit daemon, and optionally enables auditing in the kernel.
// Requires CAP_AUDIT_CONTROL.
func NewNetlinkSource(logger *zap.Logger, cfg NetlinkConfig) (*NetlinkSource, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_RAW, unix.NETLINK_AUDIT)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit netlink socket: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrNetlink{Family: unix.AF_NETLINK}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to bind audit netlink socket: %w", err)
	}
	if cfg.ReceiveBuffer > 0 {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, cfg.ReceiveBuffer); err != nil {
			logger.Warn("Failed to set receive buffer size",
				zap.Int("bytes", cfg.ReceiveBuffer), zap.Error(err))
		}
	}

	s := &NetlinkSource{
		logger: logger.Named("netlink"),
		fd:     fd,
		buf:    make([]byte, auditMessageMaxLength),
	}

	if cfg.Enable {
		if err := s.request(auditStatus{Mask: statusEnabled, Enabled: 1}); err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to enable auditing: %w", err)
		}
	}
	if err := s.request(auditStatus{Mask: statusPID, PID: uint32(os.Getpid())}); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to register audit pid: %w", err)
	}

	s.logStatus()

	return s, nil
}

// Receive returns the next audit record from the kernel.
func (s *NetlinkSource) Receive(ctx context.Context) (*domain.RawRecord, error) {
	typ, payload, err := s.readAudit(ctx)
	if err != nil {
		return nil, err
	}
	s.arrival++
	return &domain.RawRecord{
		Type: domain.RecordTypeFromCode(typ),
		Data: string(bytes.TrimRight(payload, "\x00")),
		Seq:  s.arrival,
	}, nil
}

// ReceiveRaw returns the next audit message as raw netlink bytes, header
// included, for capture files.
func (s *NetlinkSource) ReceiveRaw(ctx context.Context) ([]byte, error) {
	_, payload, err := s.readAudit(ctx)
	if err != nil {
		return nil, err
	}
	msg := make([]byte, nlmsgHdrLen+len(payload))
	copy(msg, s.buf[:nlmsgHdrLen])
	copy(msg[nlmsgHdrLen:], payload)
	return msg, nil
}

// Close releases the socket. The kernel drops the daemon registration
// when the socket goes away.
func (s *NetlinkSource) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return unix.Close(s.fd)
}

// readAudit blocks until the next audit-typed message, consuming netlink
// control messages along the way. The returned payload slice aliases the
// receive buffer.
func (s *NetlinkSource) readAudit(ctx context.Context) (uint16, []byte, error) {
	for {
		if err := ctx.Err(); err != nil {
			return 0, nil, err
		}
		if s.closed.Load() {
			return 0, nil, io.EOF
		}

		fds := []unix.PollFd{{Fd: int32(s.fd), Events: unix.POLLIN}}
		n, err := unix.Poll(fds, pollTimeoutMillis)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			if s.closed.Load() {
				return 0, nil, io.EOF
			}
			return 0, nil, fmt.Errorf("audit socket poll failed: %w", err)
		}
		if n == 0 {
			continue
		}

		nr, _, err := unix.Recvfrom(s.fd, s.buf, 0)
		if err != nil {
			if err == unix.EINTR || err == unix.EAGAIN {
				continue
			}
			if s.closed.Load() {
				return 0, nil, io.EOF
			}
			return 0, nil, fmt.Errorf("audit socket receive failed: %w", err)
		}
		if nr < nlmsgHdrLen {
			continue
		}

		// Audit messages come one per datagram and the header length
		// field is unreliable, so the payload is simply the rest of the
		// datagram.
		typ := binary.LittleEndian.Uint16(s.buf[4:6])
		payload := s.buf[nlmsgHdrLen:nr]

		switch {
		case typ == uint16(unix.NLMSG_ERROR):
			if len(payload) < 4 {
				continue
			}
			code := int32(binary.LittleEndian.Uint32(payload[:4]))
			if code == 0 {
				continue
			}
			return 0, nil, fmt.Errorf("audit socket error: %w", unix.Errno(-code))
		case typ == uint16(unix.NLMSG_OVERRUN):
			return 0, nil, fmt.Errorf("audit socket overrun")
		case typ < firstAuditType:
			continue
		}
		return typ, payload, nil
	}
}

// request sends one AUDIT_SET control message and waits for its ack.
func (s *NetlinkSource) request(status auditStatus) error {
	seq, err := s.send(domain.TypeSetStatus.Code(), unix.NLM_F_REQUEST|unix.NLM_F_ACK, status.toWire())
	if err != nil {
		return err
	}
	return s.awaitAck(seq)
}

func (s *NetlinkSource) send(typ uint16, flags int, payload []byte) (uint32, error) {
	s.seq++
	msg := make([]byte, nlmsgHdrLen+len(payload))
	binary.LittleEndian.PutUint32(msg[0:4], uint32(len(msg)))
	binary.LittleEndian.PutUint16(msg[4:6], typ)
	binary.LittleEndian.PutUint16(msg[6:8], uint16(flags))
	binary.LittleEndian.PutUint32(msg[8:12], s.seq)
	binary.LittleEndian.PutUint32(msg[12:16], 0)
	copy(msg[nlmsgHdrLen:], payload)

	err := unix.Sendto(s.fd, msg, 0, &unix.SockaddrNetlink{Family: unix.AF_NETLINK})
	if err != nil {
		return 0, fmt.Errorf("audit socket send failed: %w", err)
	}
	return s.seq, nil
}

// awaitAck reads until the NLMSG_ERROR ack for seq arrives. A non-zero
// code carries a negated errno from the kernel.
func (s *NetlinkSource) awaitAck(seq uint32) error {
	deadline := time.Now().Add(ackTimeout)
	for time.Now().Before(deadline) {
		fds := []unix.PollFd{{Fd: int32(s.fd), Events: unix.POLLIN}}
		n, err := unix.Poll(fds, pollTimeoutMillis)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return fmt.Errorf("audit socket poll failed: %w", err)
		}
		if n == 0 {
			continue
		}

		nr, _, err := unix.Recvfrom(s.fd, s.buf, 0)
		if err != nil {
			if err == unix.EINTR || err == unix.EAGAIN {
				continue
			}
			return fmt.Errorf("audit socket receive failed: %w", err)
		}
		if nr < nlmsgHdrLen {
			continue
		}

		typ := binary.LittleEndian.Uint16(s.buf[4:6])
		msgSeq := binary.LittleEndian.Uint32(s.buf[8:12])
		if typ != uint16(unix.NLMSG_ERROR) || msgSeq != seq {
			continue
		}
		if nr < nlmsgHdrLen+4 {
			return fmt.Errorf("audit ack truncated")
		}
		code := int32(binary.LittleEndian.Uint32(s.buf[nlmsgHdrLen : nlmsgHdrLen+4]))
		if code != 0 {
			return unix.Errno(-code)
		}
		return nil
	}
	return fmt.Errorf("timed out waiting for audit ack")
}

// logStatus asks the kernel for its audit status and logs it. Failures
// only cost the log line.
func (s *NetlinkSource) logStatus() {
	seq, err := s.send(domain.TypeGetStatus.Code(), unix.NLM_F_REQUEST, nil)
	if err != nil {
		s.logger.Warn("Failed to query audit status", zap.Error(err))
		return
	}

	deadline := time.Now().Add(ackTimeout)
	for time.Now().Before(deadline) {
		fds := []unix.PollFd{{Fd: int32(s.fd), Events: unix.POLLIN}}
		n, err := unix.Poll(fds, pollTimeoutMillis)
		if err != nil || n == 0 {
			continue
		}
		nr, _, err := unix.Recvfrom(s.fd, s.buf, 0)
		if err != nil || nr < nlmsgHdrLen {
			continue
		}
		typ := binary.LittleEndian.Uint16(s.buf[4:6])
		msgSeq := binary.LittleEndian.Uint32(s.buf[8:12])
		if typ != domain.TypeGetStatus.Code() || msgSeq != seq {
			continue
		}

		var status auditStatus
		if err := status.fromWire(s.buf[nlmsgHdrLen:nr]); err != nil {
			s.logger.Warn("Failed to decode audit status", zap.Error(err))
			return
		}
		s.logger.Info("Kernel audit status",
			zap.Uint32("enabled", status.Enabled),
			zap.Uint32("pid", status.PID),
			zap.Uint32("rate_limit", status.RateLimit),
			zap.Uint32("backlog_limit", status.BacklogLimit),
			zap.Uint32("backlog", status.Backlog),
			zap.Uint32("lost", status.Lost),
		)
		return
	}
	s.logger.Warn("Timed out waiting for audit status reply")
}
