package linkset

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/isup/internal/core"
	"firestige.xyz/isup/internal/eventbus"
	"firestige.xyz/isup/internal/isup"
	"firestige.xyz/isup/internal/mtp3"
)

func newTestMemory(t *testing.T, capacity int) (*Memory, *eventbus.Provider) {
	t.Helper()
	peer := eventbus.NewProvider()
	m, err := NewMemory(Config{Name: "ls0", OPC: 1, APC: 2, NI: mtp3.NINationalSpare, QueueCapacity: capacity},
		isup.NewCodec(isup.StandardFactory()), peer)
	require.NoError(t, err)
	return m, peer
}

func rlcFrame(t *testing.T, label mtp3.RoutingLabel, cic uint16) []byte {
	t.Helper()
	payload, err := isup.Encode(isup.NewMessage(isup.RLC, cic), isup.StandardFactory())
	require.NoError(t, err)
	frame, err := mtp3.Frame(label, payload)
	require.NoError(t, err)
	return frame
}

func TestMemoryLifecycle(t *testing.T) {
	m, _ := newTestMemory(t, 4)
	assert.Equal(t, StateConfigured, m.State())

	_, err := m.Write(rlcFrame(t, mtp3.RoutingLabel{OPC: 1, DPC: 2, SI: mtp3.SIISUP}, 1))
	assert.ErrorIs(t, err, core.ErrNotStarted)

	require.NoError(t, m.Open(context.Background()))
	assert.Equal(t, StateActive, m.State())
	require.NoError(t, m.Open(context.Background()), "opening twice is harmless")

	require.NoError(t, m.Close())
	assert.Equal(t, StateDestroyed, m.State())
	require.NoError(t, m.Close())

	_, err = m.Write(rlcFrame(t, mtp3.RoutingLabel{OPC: 1, DPC: 2, SI: mtp3.SIISUP}, 1))
	assert.ErrorIs(t, err, core.ErrClosed)
	assert.ErrorIs(t, m.Open(context.Background()), core.ErrClosed)
}

func TestMemoryHasNoLinkManagement(t *testing.T) {
	m, _ := newTestMemory(t, 4)
	ctx := context.Background()

	assert.ErrorIs(t, Activate(ctx, m), core.ErrUnsupportedOperation)
	assert.ErrorIs(t, Deactivate(m), core.ErrUnsupportedOperation)
	assert.ErrorIs(t, ActivateLink(m, "l0"), core.ErrUnsupportedOperation)
	assert.ErrorIs(t, DeactivateLink(m, "l0"), core.ErrUnsupportedOperation)
	assert.ErrorIs(t, CreateLink(m, LinkConfig{Name: "l0", Address: "x"}), core.ErrUnsupportedOperation)
	assert.ErrorIs(t, DeleteLink(m, "l0"), core.ErrUnsupportedOperation)
	_, err := Links(m)
	assert.ErrorIs(t, err, core.ErrUnsupportedOperation)
}

func TestMemoryWritePublishesOutbound(t *testing.T) {
	m, peer := newTestMemory(t, 4)
	require.NoError(t, m.Open(context.Background()))

	var got []*eventbus.MessageEvent
	require.NoError(t, peer.AddListener(&eventbus.Funcs{Message: func(e *eventbus.MessageEvent) error {
		got = append(got, e)
		return nil
	}}))

	label := mtp3.RoutingLabel{OPC: 1, DPC: 2, SI: mtp3.SIISUP, NI: mtp3.NINationalSpare, SLS: 7}
	frame := rlcFrame(t, label, 7)
	n, err := m.Write(frame)
	require.NoError(t, err)
	assert.Equal(t, len(frame), n)

	require.Len(t, got, 1)
	assert.Equal(t, eventbus.Outbound, got[0].Direction)
	assert.Equal(t, label, got[0].Label)
	assert.Equal(t, isup.RLC, got[0].Message.Type)
	assert.Equal(t, uint16(7), got[0].Message.CIC)
	assert.Equal(t, [][]byte{frame}, m.Written())
}

func TestMemoryWriteRejectsUndecodable(t *testing.T) {
	m, _ := newTestMemory(t, 4)
	require.NoError(t, m.Open(context.Background()))

	_, err := m.Write([]byte{0x85, 0x02})
	assert.ErrorIs(t, err, core.ErrFrameTooShort)

	frame, err := mtp3.Frame(mtp3.RoutingLabel{OPC: 1, DPC: 2, SI: mtp3.SIISUP}, []byte{0x01, 0x00, 0xEE})
	require.NoError(t, err)
	_, err = m.Write(frame)
	assert.ErrorIs(t, err, core.ErrUnknownMessageType)
	assert.Empty(t, m.Written())
}

func TestMemoryReadPollInject(t *testing.T) {
	m, _ := newTestMemory(t, 2)
	require.NoError(t, m.Open(context.Background()))

	ok, err := m.Poll(OpRead, 10*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)

	buf := make([]byte, MaxFrameSize)
	n, err := m.Read(buf)
	require.NoError(t, err)
	assert.Zero(t, n, "nothing queued is not an error")

	require.NoError(t, m.InjectMessage(isup.NewMessage(isup.RLC, 0x21)))
	require.NoError(t, m.Inject([]byte{1, 2, 3, 4, 5, 6}))
	assert.ErrorIs(t, m.Inject([]byte{9}), core.ErrQueueFull)
	assert.Equal(t, 2, m.Pending())

	ok, err = m.Poll(OpRead, time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	n, err = m.Read(buf)
	require.NoError(t, err)
	label, payload, err := mtp3.Split(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, mtp3.PointCode(2), label.OPC, "injected on behalf of the adjacent node")
	assert.Equal(t, mtp3.PointCode(1), label.DPC)
	assert.Equal(t, uint8(1), label.SLS)
	assert.Equal(t, byte(isup.RLC), payload[2])

	n, err = m.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6}, buf[:n])

	ok, err = m.Poll(OpWrite, 0)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryInjectWait(t *testing.T) {
	m, _ := newTestMemory(t, 1)
	require.NoError(t, m.Inject([]byte{1}))

	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = m.Read(make([]byte, 8))
	}()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, m.InjectWait(ctx, []byte{2}))

	assert.ErrorIs(t, m.Inject(make([]byte, MaxFrameSize+1)), core.ErrMalformedParameter)
}

func TestConfigValidation(t *testing.T) {
	codec := isup.NewCodec(isup.StandardFactory())
	_, err := NewMemory(Config{OPC: 1, APC: 2}, codec, nil)
	assert.ErrorIs(t, err, core.ErrMissingOption)
	_, err = NewMemory(Config{Name: "x", APC: 2}, codec, nil)
	assert.ErrorIs(t, err, core.ErrMissingOption)
	_, err = NewMemory(Config{Name: "x", OPC: 1}, codec, nil)
	assert.ErrorIs(t, err, core.ErrMissingOption)
	_, err = NewMemory(Config{Name: "x", OPC: 1, APC: 2, NI: 4}, codec, nil)
	assert.ErrorIs(t, err, core.ErrConfigInvalid)
	_, err = NewMemory(Config{Name: "x", OPC: 1, APC: 2}, nil, nil)
	assert.ErrorIs(t, err, core.ErrMissingOption)
}

func TestMemoryCloseDiscardsQueuedFrames(t *testing.T) {
	m, _ := newTestMemory(t, 4)
	require.NoError(t, m.Open(context.Background()))
	require.NoError(t, m.InjectMessage(isup.NewMessage(isup.RLC, 3)))
	require.Equal(t, 1, m.Pending())

	require.NoError(t, m.Close())
	assert.Zero(t, m.Pending())

	n, err := m.Read(make([]byte, MaxFrameSize))
	assert.Zero(t, n)
	assert.ErrorIs(t, err, core.ErrClosed)
	ok, err := m.Poll(OpRead, 0)
	assert.False(t, ok)
	assert.ErrorIs(t, err, core.ErrClosed)
}
