// Package correlator groups the kernel's interleaved audit record stream
// back into complete events. Records are keyed by their (timestamp,
// serial) pair; an event closes either when the just-arrived record type
// marks completion or when the key stays idle past the event timeout.
package correlator

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/yairfalse/auditstream/pkg/domain"
)

// pending accumulates the records of one still-open correlation key.
type pending struct {
	key      domain.CorrelationKey
	records  []*domain.AuditRecord
	lastSeen time.Time
}

// Stats is a snapshot of correlator counters.
type Stats struct {
	RecordsProcessed int64
	EventsEmitted    int64
	EventsTimedOut   int64
	LateRecords      int64
	OpenEvents       int64
}

// Correlator owns the open set of in-progress events. All mutation
// happens inside Run's select loop, so the open set needs no lock: record
// arrival, the timeout sweep, and shutdown flushing are serialized by
// construction.
type Correlator struct {
	logger *zap.Logger
	tracer trace.Tracer
	config Config

	open    map[domain.CorrelationKey]*pending
	retired map[domain.CorrelationKey]time.Time

	now func() time.Time

	recordsProcessed atomic.Int64
	eventsEmitted    atomic.Int64
	eventsTimedOut   atomic.Int64
	lateRecords      atomic.Int64
	openCount        atomic.Int64

	recordsTotal  metric.Int64Counter
	eventsTotal   metric.Int64Counter
	timeoutsTotal metric.Int64Counter
	lateTotal     metric.Int64Counter
	openGauge     metric.Int64Gauge
}

// New creates a correlator. A nil logger falls back to the production
// logger.
func New(cfg Config, logger *zap.Logger) (*Correlator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid correlator config: %w", err)
	}
	if logger == nil {
		var err error
		logger, err = zap.NewProduction()
		if err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}
	}

	tracer := otel.Tracer("audit-correlator")
	meter := otel.Meter("audit-correlator")

	recordsTotal, err := meter.Int64Counter(
		"correlator_records_total",
		metric.WithDescription("Total records accepted by the correlator"),
	)
	if err != nil {
		logger.Warn("Failed to create records counter", zap.Error(err))
	}

	eventsTotal, err := meter.Int64Counter(
		"correlator_events_total",
		metric.WithDescription("Total events emitted, labeled by close reason"),
	)
	if err != nil {
		logger.Warn("Failed to create events counter", zap.Error(err))
	}

	timeoutsTotal, err := meter.Int64Counter(
		"correlator_timeouts_total",
		metric.WithDescription("Total events force-closed by the sweep"),
	)
	if err != nil {
		logger.Warn("Failed to create timeouts counter", zap.Error(err))
	}

	lateTotal, err := meter.Int64Counter(
		"correlator_late_records_total",
		metric.WithDescription("Total records that arrived after their event closed"),
	)
	if err != nil {
		logger.Warn("Failed to create late records counter", zap.Error(err))
	}

	openGauge, err := meter.Int64Gauge(
		"correlator_open_events",
		metric.WithDescription("Currently open in-progress events"),
	)
	if err != nil {
		logger.Warn("Failed to create open events gauge", zap.Error(err))
	}

	return &Correlator{
		logger:        logger.Named("correlator"),
		tracer:        tracer,
		config:        cfg,
		open:          make(map[domain.CorrelationKey]*pending),
		retired:       make(map[domain.CorrelationKey]time.Time),
		now:           time.Now,
		recordsTotal:  recordsTotal,
		eventsTotal:   eventsTotal,
		timeoutsTotal: timeoutsTotal,
		lateTotal:     lateTotal,
		openGauge:     openGauge,
	}, nil
}

// Run consumes records from in and emits completed events on out until in
// closes or ctx is canceled. When in closes, every still-open event is
// flushed with the shutdown reason before Run returns. The caller owns
// out and closes it after Run returns.
func (c *Correlator) Run(ctx context.Context, in <-chan *domain.AuditRecord, out chan<- *domain.AuditEvent) error {
	ctx, span := c.tracer.Start(ctx, "correlator.run")
	defer span.End()

	c.logger.Info("Correlator started",
		zap.Duration("event_timeout", c.config.EventTimeout),
		zap.Duration("sweep_interval", c.config.SweepInterval),
	)

	ticker := time.NewTicker(c.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case rec, ok := <-in:
			if !ok {
				err := c.flush(ctx, out)
				c.logger.Info("Correlator drained",
					zap.Int64("records", c.recordsProcessed.Load()),
					zap.Int64("events", c.eventsEmitted.Load()),
				)
				return err
			}
			if err := c.handleRecord(ctx, rec, out); err != nil {
				span.RecordError(err)
				return err
			}
		case now := <-ticker.C:
			if err := c.sweep(ctx, now, out); err != nil {
				span.RecordError(err)
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Stats returns a snapshot of the correlator's counters. Safe to call
// from other goroutines while Run is active.
func (c *Correlator) Stats() Stats {
	return Stats{
		RecordsProcessed: c.recordsProcessed.Load(),
		EventsEmitted:    c.eventsEmitted.Load(),
		EventsTimedOut:   c.eventsTimedOut.Load(),
		LateRecords:      c.lateRecords.Load(),
		OpenEvents:       c.openCount.Load(),
	}
}

// handleRecord appends one record to its key's accumulation and closes
// the event if the record's type marks completion.
func (c *Correlator) handleRecord(ctx context.Context, rec *domain.AuditRecord, out chan<- *domain.AuditEvent) error {
	key := rec.Key()

	if _, late := c.retired[key]; late {
		// The key already produced an event. Kernel traces are not
		// expected to do this, so surface it and start a fresh
		// accumulation rather than resurrecting the emitted event.
		c.logger.Warn("Record arrived for an already closed event",
			zap.Stringer("key", key),
			zap.Stringer("record_type", rec.Type),
		)
		c.lateRecords.Add(1)
		if c.lateTotal != nil {
			c.lateTotal.Add(ctx, 1)
		}
		delete(c.retired, key)
	}

	p, ok := c.open[key]
	if !ok {
		p = &pending{key: key}
		c.open[key] = p
		c.setOpenCount(ctx)
	}
	p.records = append(p.records, rec)
	p.lastSeen = c.now()

	c.recordsProcessed.Add(1)
	if c.recordsTotal != nil {
		c.recordsTotal.Add(ctx, 1)
	}

	reason, done := closeReason(rec.Type)
	if !done {
		return nil
	}
	delete(c.open, key)
	c.setOpenCount(ctx)
	return c.emit(ctx, out, p, reason)
}

// closeReason applies the completion rules to the record type that was
// just appended, in fixed precedence order.
func closeReason(t domain.RecordType) (domain.CloseReason, bool) {
	switch {
	case t.IsEndOfEvent():
		return domain.ReasonEndOfEvent, true
	case t.IsProctitle():
		return domain.ReasonProctitleTerminal, true
	case t.IsSingleRecordKernel():
		return domain.ReasonKernelSingleRecord, true
	case t.IsBelowFirstEvent():
		return domain.ReasonBelowFirstEvent, true
	case t.IsAnomalyOrAbove():
		return domain.ReasonFirstAnomaly, true
	case t.IsSingleRecordMAC():
		return domain.ReasonMacSingleRecord, true
	}
	return "", false
}

// sweep force-closes every event idle past the timeout and prunes retired
// keys old enough that a late record can no longer be matched to them.
func (c *Correlator) sweep(ctx context.Context, now time.Time, out chan<- *domain.AuditEvent) error {
	var expired []*pending
	for _, p := range c.open {
		if now.Sub(p.lastSeen) > c.config.EventTimeout {
			expired = append(expired, p)
		}
	}
	if len(expired) > 0 {
		sortPendings(expired)
		for _, p := range expired {
			delete(c.open, p.key)
			c.setOpenCount(ctx)
			c.eventsTimedOut.Add(1)
			if c.timeoutsTotal != nil {
				c.timeoutsTotal.Add(ctx, 1)
			}
			c.logger.Debug("Event timed out",
				zap.Stringer("key", p.key),
				zap.Int("records", len(p.records)),
			)
			if err := c.emit(ctx, out, p, domain.ReasonTimeout); err != nil {
				return err
			}
		}
	}

	for key, closedAt := range c.retired {
		if now.Sub(closedAt) > c.config.EventTimeout {
			delete(c.retired, key)
		}
	}
	return nil
}

// flush closes every still-open event in deterministic key order. Called
// once when the input stream ends.
func (c *Correlator) flush(ctx context.Context, out chan<- *domain.AuditEvent) error {
	remaining := make([]*pending, 0, len(c.open))
	for _, p := range c.open {
		remaining = append(remaining, p)
	}
	sortPendings(remaining)
	for _, p := range remaining {
		delete(c.open, p.key)
		c.setOpenCount(ctx)
		if err := c.emit(ctx, out, p, domain.ReasonShutdown); err != nil {
			return err
		}
	}
	return nil
}

// emit converts the accumulation into an immutable event and hands it
// downstream. The send blocks when the sink is behind; cancellation is
// the only way out of a full channel.
func (c *Correlator) emit(ctx context.Context, out chan<- *domain.AuditEvent, p *pending, reason domain.CloseReason) error {
	ev := domain.NewAuditEvent(p.key, p.records, reason)
	select {
	case out <- ev:
	case <-ctx.Done():
		return ctx.Err()
	}

	c.retired[p.key] = c.now()
	c.eventsEmitted.Add(1)
	if c.eventsTotal != nil {
		c.eventsTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("reason", string(reason)),
		))
	}
	return nil
}

func (c *Correlator) setOpenCount(ctx context.Context) {
	n := int64(len(c.open))
	c.openCount.Store(n)
	if c.openGauge != nil {
		c.openGauge.Record(ctx, n)
	}
}

func sortPendings(ps []*pending) {
	sort.Slice(ps, func(i, j int) bool {
		return ps[i].key.Before(ps[j].key)
	})
}
