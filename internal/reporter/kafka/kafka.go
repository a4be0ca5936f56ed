// Package kafka exports engine events to a Kafka topic as JSON records keyed
// by linkset and circuit.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"firestige.xyz/isup/internal/config"
	"firestige.xyz/isup/internal/eventbus"
	"firestige.xyz/isup/internal/metrics"
	"firestige.xyz/isup/internal/reporter"
)

const (
	name = "kafka"

	defaultBatchSize    = 100
	defaultBatchTimeout = time.Second
	defaultMaxAttempts  = 3
	writeTimeout        = 10 * time.Second
)

// messageWriter is the subset of *kafka.Writer the reporter uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Reporter publishes events through an asynchronous kafka.Writer so that
// listeners never wait on the broker.
type Reporter struct {
	cfg    config.KafkaReporterConfig
	writer messageWriter

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc

	reportedCount atomic.Uint64
	errorCount    atomic.Uint64
}

var _ reporter.Reporter = (*Reporter)(nil)

// New builds a reporter and its writer. Nothing is dialed until the first
// batch is flushed.
func New(cfg config.KafkaReporterConfig) (*Reporter, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic is required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = defaultBatchTimeout
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	codec, err := compression(cfg.Compression)
	if err != nil {
		return nil, err
	}

	r := &Reporter{cfg: cfg}
	r.writer = &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		MaxAttempts:  cfg.MaxAttempts,
		Compression:  codec,
		Async:        true,
		Completion:   r.completed,
	}
	return r, nil
}

// newWithWriter is used by tests to substitute the broker connection.
func newWithWriter(cfg config.KafkaReporterConfig, w messageWriter) *Reporter {
	return &Reporter{cfg: cfg, writer: w}
}

func compression(s string) (kafka.Compression, error) {
	switch s {
	case "none", "":
		return 0, nil
	case "gzip":
		return kafka.Gzip, nil
	case "snappy":
		return kafka.Snappy, nil
	case "lz4":
		return kafka.Lz4, nil
	case "zstd":
		return kafka.Zstd, nil
	default:
		return 0, fmt.Errorf("invalid compression type: %s", s)
	}
}

func (r *Reporter) Name() string { return name }

func (r *Reporter) Start(ctx context.Context) error {
	r.mu.Lock()
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.mu.Unlock()

	slog.Info("kafka reporter started",
		"brokers", r.cfg.Brokers,
		"topic", r.cfg.Topic,
		"batch_size", r.cfg.BatchSize,
		"batch_timeout", r.cfg.BatchTimeout,
		"compression", r.cfg.Compression,
	)
	return nil
}

// Stop flushes pending batches and closes the writer. If ctx ends first
// Stop returns its error and the writer keeps closing in the background.
func (r *Reporter) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.cancel != nil {
		r.cancel()
	}
	r.mu.Unlock()

	closed := make(chan error, 1)
	go func() { closed <- r.writer.Close() }()

	select {
	case err := <-closed:
		if err != nil {
			slog.Error("error closing kafka writer", "error", err)
			return err
		}
	case <-ctx.Done():
		slog.Warn("kafka writer did not close in time", "error", ctx.Err())
		return ctx.Err()
	}
	slog.Info("kafka reporter stopped",
		"total_reported", r.reportedCount.Load(),
		"total_errors", r.errorCount.Load(),
	)
	return nil
}

func (r *Reporter) OnMessage(e *eventbus.MessageEvent) error {
	rec, err := reporter.FromMessage(e)
	if err != nil {
		r.fail("invalid_event")
		return err
	}
	return r.publish(rec, e.ReceivedAt)
}

func (r *Reporter) OnTimeout(e *eventbus.TimeoutEvent) error {
	rec, err := reporter.FromTimeout(e)
	if err != nil {
		r.fail("invalid_event")
		return err
	}
	return r.publish(rec, e.FiredAt)
}

func (r *Reporter) publish(rec reporter.Record, at time.Time) error {
	value, err := json.Marshal(rec)
	if err != nil {
		r.fail("serialize")
		return fmt.Errorf("serialize record failed: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(rec.Key()),
		Value: value,
		Time:  at,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(rec.Kind)},
			{Key: "type", Value: []byte(rec.Type)},
		},
	}

	ctx, cancel := context.WithTimeout(r.baseContext(), writeTimeout)
	defer cancel()
	if err := r.writer.WriteMessages(ctx, msg); err != nil {
		r.fail("write")
		return fmt.Errorf("kafka write failed: %w", err)
	}
	if !r.async() {
		r.succeeded(1)
	}
	return nil
}

func (r *Reporter) baseContext() context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ctx == nil {
		return context.Background()
	}
	return r.ctx
}

func (r *Reporter) async() bool {
	w, ok := r.writer.(*kafka.Writer)
	return ok && w.Async
}

// completed is the writer's batch callback in async mode.
func (r *Reporter) completed(msgs []kafka.Message, err error) {
	if err != nil {
		r.errorCount.Add(uint64(len(msgs)))
		metrics.ReporterErrorsTotal.WithLabelValues(name, "write").Add(float64(len(msgs)))
		slog.Warn("kafka batch failed", "messages", len(msgs), "error", err)
		return
	}
	r.succeeded(len(msgs))
}

func (r *Reporter) succeeded(n int) {
	r.reportedCount.Add(uint64(n))
	metrics.ReporterRecordsTotal.WithLabelValues(name).Add(float64(n))
}

func (r *Reporter) fail(kind string) {
	r.errorCount.Add(1)
	metrics.ReporterErrorsTotal.WithLabelValues(name, kind).Inc()
}
