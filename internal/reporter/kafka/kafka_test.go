package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/isup/internal/config"
	"firestige.xyz/isup/internal/eventbus"
	"firestige.xyz/isup/internal/isup"
	"firestige.xyz/isup/internal/mtp3"
	"firestige.xyz/isup/internal/reporter"
	"firestige.xyz/isup/internal/timer"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	return nil
}

func validConfig() config.KafkaReporterConfig {
	return config.KafkaReporterConfig{
		Enabled: true,
		Brokers: []string{"localhost:9092"},
		Topic:   "isup-events",
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.KafkaReporterConfig)
		wantErr bool
	}{
		{"minimal", func(*config.KafkaReporterConfig) {}, false},
		{"gzip", func(c *config.KafkaReporterConfig) { c.Compression = "gzip" }, false},
		{"snappy", func(c *config.KafkaReporterConfig) { c.Compression = "snappy" }, false},
		{"lz4", func(c *config.KafkaReporterConfig) { c.Compression = "lz4" }, false},
		{"zstd", func(c *config.KafkaReporterConfig) { c.Compression = "zstd" }, false},
		{"invalid compression", func(c *config.KafkaReporterConfig) { c.Compression = "brotli" }, true},
		{"missing brokers", func(c *config.KafkaReporterConfig) { c.Brokers = nil }, true},
		{"missing topic", func(c *config.KafkaReporterConfig) { c.Topic = "" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			r, err := New(cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, defaultBatchSize, r.cfg.BatchSize)
			assert.Equal(t, defaultBatchTimeout, r.cfg.BatchTimeout)
			assert.Equal(t, defaultMaxAttempts, r.cfg.MaxAttempts)

			w, ok := r.writer.(*kafka.Writer)
			require.True(t, ok)
			assert.Equal(t, "isup-events", w.Topic)
			assert.True(t, w.Async)
		})
	}
}

func TestCompressionMapping(t *testing.T) {
	c, err := compression("gzip")
	require.NoError(t, err)
	assert.Equal(t, kafka.Gzip, c)

	c, err = compression("none")
	require.NoError(t, err)
	assert.Equal(t, kafka.Compression(0), c)
}

func TestPublishMessage(t *testing.T) {
	w := &fakeWriter{}
	r := newWithWriter(validConfig(), w)
	require.NoError(t, r.Start(context.Background()))

	at := time.UnixMilli(1700000000000)
	require.NoError(t, r.OnMessage(&eventbus.MessageEvent{
		Message:    isup.NewMessage(isup.REL, 9).Set(isup.CauseIndicators, []byte{0x80, 0x90}),
		Label:      mtp3.RoutingLabel{OPC: 2, DPC: 1, SI: mtp3.SIISUP},
		Linkset:    "ls0",
		Direction:  eventbus.Inbound,
		ReceivedAt: at,
	}))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "ls0/9", string(msg.Key))
	assert.Equal(t, at, msg.Time)

	var rec reporter.Record
	require.NoError(t, json.Unmarshal(msg.Value, &rec))
	assert.Equal(t, "message", rec.Kind)
	assert.Equal(t, uint16(9), rec.CIC)
	assert.Equal(t, 1, rec.Params)
	assert.Equal(t, uint64(1), r.reportedCount.Load())

	require.NoError(t, r.Stop(context.Background()))
	assert.True(t, w.closed)
}

func TestPublishTimeout(t *testing.T) {
	w := &fakeWriter{}
	r := newWithWriter(validConfig(), w)

	require.NoError(t, r.OnTimeout(&eventbus.TimeoutEvent{
		Timer:   timer.ID{Name: "T7", DPC: 2, CIC: 1},
		Message: isup.NewMessage(isup.IAM, 1),
		Linkset: "ls0",
		FiredAt: time.Now(),
	}))

	require.Len(t, w.msgs, 1)
	var rec reporter.Record
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &rec))
	assert.Equal(t, "timeout", rec.Kind)
	assert.Equal(t, "T7", rec.Timer)
}

func TestPublishErrors(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	r := newWithWriter(validConfig(), w)

	err := r.OnMessage(&eventbus.MessageEvent{Message: isup.NewMessage(isup.ACM, 1)})
	require.ErrorContains(t, err, "broker down")
	assert.Error(t, r.OnMessage(&eventbus.MessageEvent{}))
	assert.Equal(t, uint64(2), r.errorCount.Load())
	assert.Zero(t, r.reportedCount.Load())
}

func TestStopCancelsWrites(t *testing.T) {
	w := &fakeWriter{}
	r := newWithWriter(validConfig(), w)
	require.NoError(t, r.Start(context.Background()))
	require.NoError(t, r.Stop(context.Background()))

	err := r.OnMessage(&eventbus.MessageEvent{Message: isup.NewMessage(isup.ACM, 1)})
	assert.ErrorIs(t, err, context.Canceled)
}

// stuckWriter blocks in Close until release is closed.
type stuckWriter struct {
	fakeWriter
	release chan struct{}
}

func (w *stuckWriter) Close() error {
	<-w.release
	return w.fakeWriter.Close()
}

func TestStopHonoursDeadline(t *testing.T) {
	w := &stuckWriter{release: make(chan struct{})}
	defer close(w.release)
	r := newWithWriter(validConfig(), w)
	require.NoError(t, r.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := r.Stop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestStopWaitsForClose(t *testing.T) {
	w := &stuckWriter{release: make(chan struct{})}
	close(w.release)
	r := newWithWriter(validConfig(), w)
	require.NoError(t, r.Stop(context.Background()))
	assert.True(t, w.closed)
}

func TestCompleted(t *testing.T) {
	r := newWithWriter(validConfig(), &fakeWriter{})
	r.completed(make([]kafka.Message, 3), nil)
	r.completed(make([]kafka.Message, 2), errors.New("timeout"))
	assert.Equal(t, uint64(3), r.reportedCount.Load())
	assert.Equal(t, uint64(2), r.errorCount.Load())
}
