// Package pipeline wires a transport source, the record parser, the
// correlator, and an event sink into one run loop. Stages are connected
// by bounded channels and every send blocks, so a slow sink backs
// pressure all the way to the transport instead of dropping records.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/yairfalse/auditstream/pkg/auparse"
	"github.com/yairfalse/auditstream/pkg/correlator"
	"github.com/yairfalse/auditstream/pkg/domain"
	"github.com/yairfalse/auditstream/pkg/output"
	"github.com/yairfalse/auditstream/pkg/transport"
)

// InputFormat selects how raw record payloads are parsed.
type InputFormat string

const (
	// FormatNetlink parses bare payloads whose record type came from
	// the netlink header.
	FormatNetlink InputFormat = "netlink"

	// FormatText parses whole audit.log lines carrying their own type=
	// and msg= prefixes.
	FormatText InputFormat = "text"
)

// Config sizes the pipeline's queues and sets its parsing policy.
type Config struct {
	Format          InputFormat `yaml:"format"`
	RawQueueSize    int         `yaml:"raw_queue_size"`
	RecordQueueSize int         `yaml:"record_queue_size"`
	EventQueueSize  int         `yaml:"event_queue_size"`

	// StrictParsing turns an unparseable record from a logged skip into
	// a pipeline-fatal error.
	StrictParsing bool `yaml:"strict_parsing"`

	Correlator correlator.Config `yaml:"correlator"`
}

func DefaultConfig() Config {
	return Config{
		Format:          FormatNetlink,
		RawQueueSize:    1024,
		RecordQueueSize: 1024,
		EventQueueSize:  256,
		Correlator:      correlator.DefaultConfig(),
	}
}

func (c Config) Validate() error {
	switch c.Format {
	case FormatNetlink, FormatText:
	default:
		return fmt.Errorf("unknown input format %q", c.Format)
	}
	if c.RawQueueSize <= 0 || c.RecordQueueSize <= 0 || c.EventQueueSize <= 0 {
		return errors.New("queue sizes must be positive")
	}
	return c.Correlator.Validate()
}

// Stats is a point-in-time snapshot of pipeline counters.
type Stats struct {
	RecordsReceived int64
	ParseErrors     int64
	EventsDelivered int64
	Correlator      correlator.Stats
}

// Pipeline runs Source -> parser -> correlator -> Sink.
type Pipeline struct {
	logger *zap.Logger
	tracer trace.Tracer
	config Config
	source transport.Source
	sink   output.Sink
	corr   *correlator.Correlator

	// warnLimiter throttles unparseable-record warnings so a burst of
	// binary control replies cannot flood the log.
	warnLimiter *rate.Limiter

	recordsReceived atomic.Int64
	parseErrors     atomic.Int64
	eventsDelivered atomic.Int64

	parseErrorsTotal metric.Int64Counter
	deliveredTotal   metric.Int64Counter
}

// New creates a pipeline around source and sink. The pipeline does not
// own either; the caller closes them after Run returns.
func New(logger *zap.Logger, cfg Config, source transport.Source, sink output.Sink) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline config: %w", err)
	}
	if logger == nil {
		var err error
		logger, err = zap.NewProduction()
		if err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}
	}

	corr, err := correlator.New(cfg.Correlator, logger)
	if err != nil {
		return nil, err
	}

	meter := otel.Meter("audit-pipeline")

	parseErrorsTotal, err := meter.Int64Counter(
		"pipeline_parse_errors_total",
		metric.WithDescription("Total raw records that failed to parse"),
	)
	if err != nil {
		logger.Warn("Failed to create parse errors counter", zap.Error(err))
	}

	deliveredTotal, err := meter.Int64Counter(
		"pipeline_events_delivered_total",
		metric.WithDescription("Total events delivered to the sink, labeled by close reason"),
	)
	if err != nil {
		logger.Warn("Failed to create delivered events counter", zap.Error(err))
	}

	return &Pipeline{
		logger:           logger.Named("pipeline"),
		tracer:           otel.Tracer("audit-pipeline"),
		config:           cfg,
		source:           source,
		sink:             sink,
		corr:             corr,
		warnLimiter:      rate.NewLimiter(1, 5),
		parseErrorsTotal: parseErrorsTotal,
		deliveredTotal:   deliveredTotal,
	}, nil
}

// Run blocks until the source is exhausted, a stage fails, or ctx is
// canceled. A transport failure still lets downstream stages drain, so
// buffered records become events before the error is returned. Sink
// failures abort immediately.
func (p *Pipeline) Run(ctx context.Context) error {
	ctx, span := p.tracer.Start(ctx, "pipeline.run")
	defer span.End()

	p.logger.Info("Pipeline started",
		zap.String("format", string(p.config.Format)),
		zap.Int("raw_queue", p.config.RawQueueSize),
		zap.Int("record_queue", p.config.RecordQueueSize),
		zap.Int("event_queue", p.config.EventQueueSize),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rawCh := make(chan *domain.RawRecord, p.config.RawQueueSize)
	recordCh := make(chan *domain.AuditRecord, p.config.RecordQueueSize)
	eventCh := make(chan *domain.AuditEvent, p.config.EventQueueSize)

	var (
		once   sync.Once
		runErr error
	)
	fail := func(err error, abort bool) {
		if err == nil {
			return
		}
		once.Do(func() { runErr = err })
		if abort {
			cancel()
		}
	}

	var wg sync.WaitGroup
	wg.Add(4)

	go func() {
		defer wg.Done()
		defer close(rawCh)
		fail(p.receive(ctx, rawCh), false)
	}()

	go func() {
		defer wg.Done()
		defer close(recordCh)
		fail(p.parse(ctx, rawCh, recordCh), true)
	}()

	go func() {
		defer wg.Done()
		defer close(eventCh)
		fail(p.corr.Run(ctx, recordCh, eventCh), true)
	}()

	go func() {
		defer wg.Done()
		fail(p.deliver(ctx, eventCh), true)
	}()

	wg.Wait()

	if runErr != nil {
		span.RecordError(runErr)
		p.logger.Error("Pipeline stopped", zap.Error(runErr))
		return runErr
	}

	p.logger.Info("Pipeline finished",
		zap.Int64("records", p.recordsReceived.Load()),
		zap.Int64("parse_errors", p.parseErrors.Load()),
		zap.Int64("events", p.eventsDelivered.Load()),
	)
	return nil
}

// Stats returns a snapshot of the pipeline's counters. Safe to call
// while Run is active.
func (p *Pipeline) Stats() Stats {
	return Stats{
		RecordsReceived: p.recordsReceived.Load(),
		ParseErrors:     p.parseErrors.Load(),
		EventsDelivered: p.eventsDelivered.Load(),
		Correlator:      p.corr.Stats(),
	}
}

func (p *Pipeline) receive(ctx context.Context, out chan<- *domain.RawRecord) error {
	for {
		raw, err := p.source.Receive(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				p.logger.Info("Transport drained", zap.Int64("records", p.recordsReceived.Load()))
				return nil
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			return fmt.Errorf("transport receive failed: %w", err)
		}

		p.recordsReceived.Add(1)
		select {
		case out <- raw:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *Pipeline) parse(ctx context.Context, in <-chan *domain.RawRecord, out chan<- *domain.AuditRecord) error {
	for raw := range in {
		rec, err := p.parseRecord(raw)
		if err != nil {
			p.parseErrors.Add(1)
			if p.parseErrorsTotal != nil {
				p.parseErrorsTotal.Add(ctx, 1)
			}
			if p.config.StrictParsing {
				return fmt.Errorf("record %d unparseable: %w", raw.Seq, err)
			}
			if p.warnLimiter.Allow() {
				p.logger.Warn("Dropping unparseable record",
					zap.Uint64("seq", raw.Seq),
					zap.String("type", raw.Type.String()),
					zap.Error(err),
				)
			}
			continue
		}

		select {
		case out <- rec:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (p *Pipeline) parseRecord(raw *domain.RawRecord) (*domain.AuditRecord, error) {
	if p.config.Format == FormatText {
		return auparse.ParseLine(raw.Data)
	}
	return auparse.Parse(raw.Type, raw.Data)
}

func (p *Pipeline) deliver(ctx context.Context, in <-chan *domain.AuditEvent) error {
	for ev := range in {
		if err := p.sink.Write(ctx, ev); err != nil {
			return fmt.Errorf("event delivery failed: %w", err)
		}

		p.eventsDelivered.Add(1)
		if p.deliveredTotal != nil {
			p.deliveredTotal.Add(ctx, 1, metric.WithAttributes(
				attribute.String("reason", string(ev.Reason)),
			))
		}
	}
	return nil
}
