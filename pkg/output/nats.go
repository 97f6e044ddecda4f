package output

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/yairfalse/auditstream/pkg/domain"
)

// NATSConfig configures the JetStream event sink.
type NATSConfig struct {
	URL            string        `yaml:"url"`
	Name           string        `yaml:"name"`
	StreamName     string        `yaml:"stream_name"`
	SubjectPrefix  string        `yaml:"subject_prefix"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReconnectWait  time.Duration `yaml:"reconnect_wait"`
	MaxReconnects  int           `yaml:"max_reconnects"`
}

// DefaultNATSConfig returns the sink defaults. The URL is left empty so
// config loading can tell "unset" from "localhost".
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		Name:           "auditstream",
		StreamName:     "AUDIT_EVENTS",
		SubjectPrefix:  "audit.events",
		ConnectTimeout: 10 * time.Second,
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  60,
	}
}

// NATSSink publishes finished events to a JetStream stream, one JSON
// message per event, routed by close reason.
type NATSSink struct {
	logger   *zap.Logger
	nc       *natsgo.Conn
	js       natsgo.JetStreamContext
	config   NATSConfig
	renderer Renderer

	mu     sync.RWMutex
	closed bool
}

// NewNATSSink connects to NATS and ensures the event stream exists.
func NewNATSSink(cfg NATSConfig, logger *zap.Logger) (*NATSSink, error) {
	if cfg.URL == "" {
		cfg.URL = natsgo.DefaultURL
	}
	if cfg.StreamName == "" {
		cfg.StreamName = "AUDIT_EVENTS"
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "audit.events"
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = 60
	}

	opts := []natsgo.Option{
		natsgo.Timeout(cfg.ConnectTimeout),
		natsgo.ReconnectWait(cfg.ReconnectWait),
		natsgo.MaxReconnects(cfg.MaxReconnects),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			logger.Warn("NATS connection lost", zap.Error(err))
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS connection restored", zap.String("url", nc.ConnectedUrl()))
		}),
	}
	if cfg.Name != "" {
		opts = append(opts, natsgo.Name(cfg.Name))
	}

	nc, err := natsgo.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to get JetStream context: %w", err)
	}

	sink := &NATSSink{
		logger:   logger.Named("nats"),
		nc:       nc,
		js:       js,
		config:   cfg,
		renderer: JSONRenderer{},
	}

	if err := sink.ensureStream(); err != nil {
		nc.Close()
		return nil, err
	}

	return sink, nil
}

// ensureStream creates the stream on first use and realigns its
// subjects if an existing stream diverged.
func (s *NATSSink) ensureStream() error {
	cfg := &natsgo.StreamConfig{
		Name:      s.config.StreamName,
		Subjects:  []string{s.config.SubjectPrefix + ".>"},
		Retention: natsgo.LimitsPolicy,
		Storage:   natsgo.FileStorage,
		MaxAge:    7 * 24 * time.Hour,
		Replicas:  1,
	}

	info, err := s.js.StreamInfo(s.config.StreamName)
	if errors.Is(err, natsgo.ErrStreamNotFound) {
		if _, err := s.js.AddStream(cfg); err != nil {
			return fmt.Errorf("failed to create stream: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get stream info: %w", err)
	}

	if !slices.Equal(info.Config.Subjects, cfg.Subjects) {
		if _, err := s.js.UpdateStream(cfg); err != nil {
			return fmt.Errorf("failed to update stream: %w", err)
		}
	}
	return nil
}

func (s *NATSSink) Write(ctx context.Context, ev *domain.AuditEvent) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return fmt.Errorf("sink is closed")
	}
	s.mu.RUnlock()

	data, err := s.renderer.RenderEvent(ev)
	if err != nil {
		return fmt.Errorf("failed to render event: %w", err)
	}

	msg := &natsgo.Msg{
		Subject: s.subjectFor(ev),
		Data:    data,
		Header:  natsgo.Header{},
	}
	msg.Header.Set("Event-ID", ev.ID)
	msg.Header.Set("Close-Reason", string(ev.Reason))
	msg.Header.Set("Record-Count", strconv.Itoa(len(ev.Records)))
	msg.Header.Set("Timestamp", ev.Timestamp().Format(time.RFC3339Nano))

	if _, err := s.js.PublishMsg(msg, natsgo.Context(ctx)); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// subjectFor routes events by close reason, e.g. audit.events.timeout.
func (s *NATSSink) subjectFor(ev *domain.AuditEvent) string {
	return s.config.SubjectPrefix + "." + string(ev.Reason)
}

// Close flushes pending publishes and closes the connection.
func (s *NATSSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if err := s.nc.FlushTimeout(5 * time.Second); err != nil {
		s.logger.Warn("NATS flush on close failed", zap.Error(err))
	}
	s.nc.Close()
	return nil
}

// HealthCheck verifies the connection and the stream.
func (s *NATSSink) HealthCheck() error {
	if !s.nc.IsConnected() {
		return fmt.Errorf("not connected to NATS")
	}
	if _, err := s.js.StreamInfo(s.config.StreamName); err != nil {
		return fmt.Errorf("stream health check failed: %w", err)
	}
	return nil
}
