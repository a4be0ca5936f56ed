package linkset

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"firestige.xyz/isup/internal/core"
	"firestige.xyz/isup/internal/eventbus"
	"firestige.xyz/isup/internal/isup"
	"firestige.xyz/isup/internal/metrics"
	"firestige.xyz/isup/internal/mtp3"
)

// Memory is an in-process linkset. Frames injected on behalf of the remote
// peer are queued for Read; frames written by the engine are decoded and
// published as Outbound events on the peer provider, so tests and simulators
// observe what the remote side would receive.
//
// Memory has no dynamic link management.
type Memory struct {
	*lifecycle
	cfg   Config
	rx    *frameQueue
	codec *isup.Codec
	peer  *eventbus.Provider

	mu      sync.Mutex
	written [][]byte
}

var _ Linkset = (*Memory)(nil)

// NewMemory returns a configured in-memory linkset. peer may be nil.
func NewMemory(cfg Config, codec *isup.Codec, peer *eventbus.Provider) (*Memory, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if codec == nil {
		return nil, fmt.Errorf("%w: linkset %s codec", core.ErrMissingOption, cfg.Name)
	}
	m := &Memory{
		lifecycle: newLifecycle(cfg.Name),
		cfg:       cfg,
		rx:        newFrameQueue(cfg.QueueCapacity),
		codec:     codec,
		peer:      peer,
	}
	if err := m.transition(evConfigure); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Memory) OPC() mtp3.PointCode       { return m.cfg.OPC }
func (m *Memory) APC() mtp3.PointCode       { return m.cfg.APC }
func (m *Memory) NI() mtp3.NetworkIndicator { return m.cfg.NI }

// Peer returns the provider receiving Outbound events.
func (m *Memory) Peer() *eventbus.Provider { return m.peer }

// Open moves the linkset to Active.
func (m *Memory) Open(context.Context) error {
	return m.transition(evActivate)
}

// Read implements Stream.
func (m *Memory) Read(buf []byte) (int, error) {
	n, err := m.rx.pop(buf)
	metrics.RxQueueDepth.WithLabelValues(m.name).Set(float64(m.rx.len()))
	return n, err
}

// Write decodes frame and publishes it on the peer provider. A frame that
// does not decode is rejected and not recorded.
func (m *Memory) Write(frame []byte) (int, error) {
	if !m.is(StateActive) {
		if m.is(StateDestroyed) {
			return 0, core.ErrClosed
		}
		return 0, fmt.Errorf("%w: linkset %s is %s", core.ErrNotStarted, m.name, m.State())
	}

	label, payload, err := mtp3.Split(frame)
	if err != nil {
		return 0, err
	}
	msg, err := m.codec.Decode(payload)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	m.written = append(m.written, append([]byte(nil), frame...))
	m.mu.Unlock()
	metrics.FramesSentTotal.WithLabelValues(m.name).Inc()

	if m.peer != nil {
		ev := &eventbus.MessageEvent{
			Message:    msg,
			Label:      label,
			Linkset:    m.name,
			Direction:  eventbus.Outbound,
			ReceivedAt: time.Now(),
		}
		if err := m.peer.Publish(ev); err != nil {
			slog.Warn("peer publish failed", "linkset", m.name, "error", err)
		}
	}
	return len(frame), nil
}

// Poll implements Stream. Writes are ready whenever the linkset is active.
func (m *Memory) Poll(op Op, timeout time.Duration) (bool, error) {
	if op == OpWrite {
		return m.is(StateActive), nil
	}
	return m.rx.waitReadable(timeout)
}

// Close destroys the linkset. Queued frames are discarded.
func (m *Memory) Close() error {
	if m.is(StateDestroyed) {
		return nil
	}
	if n := m.rx.discard(); n > 0 {
		slog.Debug("queued frames discarded", "linkset", m.name, "frames", n)
	}
	metrics.RxQueueDepth.WithLabelValues(m.name).Set(0)
	return m.transition(evDestroy)
}

// Inject queues a raw frame as if the peer had sent it. It returns
// core.ErrQueueFull when the receive queue is at capacity.
func (m *Memory) Inject(frame []byte) error {
	if len(frame) > MaxFrameSize {
		return fmt.Errorf("%w: frame of %d octets", core.ErrMalformedParameter, len(frame))
	}
	if err := m.rx.push(frame); err != nil {
		return err
	}
	metrics.RxQueueDepth.WithLabelValues(m.name).Set(float64(m.rx.len()))
	return nil
}

// InjectWait is Inject that waits for room instead of failing.
func (m *Memory) InjectWait(ctx context.Context, frame []byte) error {
	if len(frame) > MaxFrameSize {
		return fmt.Errorf("%w: frame of %d octets", core.ErrMalformedParameter, len(frame))
	}
	return m.rx.pushWait(ctx, frame)
}

// InjectMessage encodes msg as sent by the adjacent point code towards this
// linkset and queues it.
func (m *Memory) InjectMessage(msg *isup.Message) error {
	payload, err := m.codec.Encode(msg)
	if err != nil {
		return err
	}
	frame, err := mtp3.Frame(m.PeerLabel(msg.CIC), payload)
	if err != nil {
		return err
	}
	return m.Inject(frame)
}

// PeerLabel is the routing label the adjacent node uses towards us.
func (m *Memory) PeerLabel(cic uint16) mtp3.RoutingLabel {
	return mtp3.RoutingLabel{
		OPC: m.cfg.APC,
		DPC: m.cfg.OPC,
		SI:  mtp3.SIISUP,
		NI:  m.cfg.NI,
		SLS: uint8(cic & 0x0F),
	}
}

// Written returns copies of every frame accepted by Write.
func (m *Memory) Written() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.written))
	for i, f := range m.written {
		out[i] = append([]byte(nil), f...)
	}
	return out
}

// Pending returns the number of queued inbound frames.
func (m *Memory) Pending() int { return m.rx.len() }
