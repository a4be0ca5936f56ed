// Package console implements a debugging reporter that prints every event
// to stdout.
package console

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"firestige.xyz/isup/internal/config"
	"firestige.xyz/isup/internal/eventbus"
	"firestige.xyz/isup/internal/metrics"
	"firestige.xyz/isup/internal/reporter"
)

const name = "console"

// Reporter writes events to an io.Writer, one line per event.
type Reporter struct {
	format string // "json" or "text"
	mu     sync.Mutex
	out    io.Writer

	reportedCount atomic.Uint64
}

// New creates a console reporter writing to stdout.
func New(cfg config.ConsoleReporterConfig) (*Reporter, error) {
	return NewWriter(cfg, os.Stdout)
}

// NewWriter creates a console reporter writing to w.
func NewWriter(cfg config.ConsoleReporterConfig, w io.Writer) (*Reporter, error) {
	format := cfg.Format
	if format == "" {
		format = "text"
	}
	if format != "json" && format != "text" {
		return nil, fmt.Errorf("invalid format %q, must be json or text", format)
	}
	return &Reporter{format: format, out: w}, nil
}

var _ reporter.Reporter = (*Reporter)(nil)

func (r *Reporter) Name() string { return name }

func (r *Reporter) Start(ctx context.Context) error {
	slog.Info("console reporter started", "format", r.format)
	return nil
}

func (r *Reporter) Stop(ctx context.Context) error {
	slog.Info("console reporter stopped", "total_reported", r.reportedCount.Load())
	return nil
}

// Reported returns the number of events written so far.
func (r *Reporter) Reported() uint64 { return r.reportedCount.Load() }

func (r *Reporter) OnMessage(e *eventbus.MessageEvent) error {
	rec, err := reporter.FromMessage(e)
	if err != nil {
		metrics.ReporterErrorsTotal.WithLabelValues(name, "invalid_event").Inc()
		return err
	}
	return r.report(rec)
}

func (r *Reporter) OnTimeout(e *eventbus.TimeoutEvent) error {
	rec, err := reporter.FromTimeout(e)
	if err != nil {
		metrics.ReporterErrorsTotal.WithLabelValues(name, "invalid_event").Inc()
		return err
	}
	return r.report(rec)
}

func (r *Reporter) report(rec reporter.Record) error {
	var line []byte
	if r.format == "json" {
		data, err := json.Marshal(rec)
		if err != nil {
			metrics.ReporterErrorsTotal.WithLabelValues(name, "serialize").Inc()
			return fmt.Errorf("json marshal failed: %w", err)
		}
		line = append(data, '\n')
	} else {
		line = []byte(formatText(rec))
	}

	r.mu.Lock()
	_, err := r.out.Write(line)
	r.mu.Unlock()
	if err != nil {
		metrics.ReporterErrorsTotal.WithLabelValues(name, "write").Inc()
		return err
	}

	r.reportedCount.Add(1)
	metrics.ReporterRecordsTotal.WithLabelValues(name).Inc()
	return nil
}

func formatText(rec reporter.Record) string {
	ts := time.UnixMilli(rec.Timestamp).Format("15:04:05.000")
	if rec.Kind == eventbus.KindTimeout {
		return fmt.Sprintf("[%s] %s timeout %s dpc=%d cic=%d msg=%s\n",
			ts, rec.Linkset, rec.Timer, rec.DPC, rec.CIC, rec.Type)
	}
	return fmt.Sprintf("[%s] %s %s %d->%d cic=%d type=%s params=%d\n",
		ts, rec.Linkset, rec.Direction, rec.OPC, rec.DPC, rec.CIC, rec.Type, rec.Params)
}
