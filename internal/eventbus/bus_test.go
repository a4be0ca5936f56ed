package eventbus

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"firestige.xyz/isup/internal/core"
	"firestige.xyz/isup/internal/isup"
	"firestige.xyz/isup/internal/timer"
)

type mockListener struct {
	mock.Mock
}

func (m *mockListener) OnMessage(e *MessageEvent) error {
	return m.Called(e).Error(0)
}

func (m *mockListener) OnTimeout(e *TimeoutEvent) error {
	return m.Called(e).Error(0)
}

func messageEvent(cic uint16) *MessageEvent {
	return &MessageEvent{Message: isup.NewMessage(isup.IAM, cic), Linkset: "ls", ReceivedAt: time.Now()}
}

func TestListenersRunInSubscriptionOrder(t *testing.T) {
	p := NewProvider()

	var counter int32
	var seenA, seenB int32
	a := &Funcs{Name: "a", Message: func(*MessageEvent) error {
		seenA = atomic.AddInt32(&counter, 1)
		return nil
	}}
	b := &Funcs{Name: "b", Message: func(*MessageEvent) error {
		seenB = atomic.AddInt32(&counter, 1)
		return nil
	}}
	require.NoError(t, p.AddListener(a))
	require.NoError(t, p.AddListener(b))

	require.NoError(t, p.Publish(messageEvent(1)))
	assert.Equal(t, int32(1), seenA, "A runs first")
	assert.Equal(t, int32(2), seenB, "B starts after A finished")
}

func TestEventsObservedInPublishOrder(t *testing.T) {
	for _, mode := range []Mode{Sync, Async} {
		t.Run(mode.String(), func(t *testing.T) {
			p := NewProviderWithMode(mode, 4)
			var mu sync.Mutex
			var got []uint16
			l := &Funcs{Message: func(e *MessageEvent) error {
				mu.Lock()
				got = append(got, e.Message.CIC)
				mu.Unlock()
				return nil
			}}
			require.NoError(t, p.AddListener(l))

			for i := uint16(0); i < 50; i++ {
				require.NoError(t, p.Publish(messageEvent(i)))
			}
			require.NoError(t, p.Close())

			require.Len(t, got, 50)
			for i, cic := range got {
				assert.Equal(t, uint16(i), cic)
			}
		})
	}
}

func TestListenerFailureIsolated(t *testing.T) {
	p := NewProvider()

	failing := &Funcs{Name: "failing", Message: func(*MessageEvent) error { return errors.New("boom") }}
	panicking := &Funcs{Name: "panicking", Message: func(*MessageEvent) error { panic("bug") }}
	last := new(mockListener)
	ev := messageEvent(3)
	last.On("OnMessage", ev).Return(nil).Once()

	require.NoError(t, p.AddListener(failing))
	require.NoError(t, p.AddListener(panicking))
	require.NoError(t, p.AddListener(last))

	require.NoError(t, p.Publish(ev))
	last.AssertExpectations(t)

	stats := p.GetStats()
	assert.Equal(t, int64(1), stats.PublishedCount)
	assert.Equal(t, int64(2), stats.FailedCount)
	assert.Equal(t, int64(1), stats.DeliveredCount)
}

func TestTimeoutEventRouting(t *testing.T) {
	p := NewProvider()
	l := new(mockListener)
	ev := &TimeoutEvent{Timer: timer.ID{Name: "T7", CIC: 7}, Duration: time.Second, FiredAt: time.Now()}
	l.On("OnTimeout", ev).Return(nil).Once()

	require.NoError(t, p.AddListener(l))
	require.NoError(t, p.Publish(ev))
	l.AssertExpectations(t)
	l.AssertNotCalled(t, "OnMessage", mock.Anything)
}

func TestAddRemoveListener(t *testing.T) {
	p := NewProvider()
	l := new(mockListener)

	require.NoError(t, p.AddListener(l))
	assert.ErrorIs(t, p.AddListener(l), core.ErrListenerExists)
	assert.Len(t, p.Listeners(), 1)

	require.NoError(t, p.RemoveListener(l))
	assert.ErrorIs(t, p.RemoveListener(l), core.ErrListenerNotFound)

	require.NoError(t, p.Publish(messageEvent(1)))
	l.AssertNotCalled(t, "OnMessage", mock.Anything)
}

func TestRemovePreservesOrderOfOthers(t *testing.T) {
	p := NewProvider()
	var order []string
	mk := func(name string) *Funcs {
		return &Funcs{Name: name, Message: func(*MessageEvent) error {
			order = append(order, name)
			return nil
		}}
	}
	a, b, c := mk("a"), mk("b"), mk("c")
	for _, l := range []Listener{a, b, c} {
		require.NoError(t, p.AddListener(l))
	}
	require.NoError(t, p.RemoveListener(b))
	require.NoError(t, p.Publish(messageEvent(1)))
	assert.Equal(t, []string{"a", "c"}, order)
}

func TestAsyncSlowListenerDoesNotBlockOthers(t *testing.T) {
	p := NewProviderWithMode(Async, 16)
	defer p.Close()

	release := make(chan struct{})
	slow := &Funcs{Name: "slow", Message: func(*MessageEvent) error {
		<-release
		return nil
	}}
	fast := make(chan struct{}, 1)
	quick := &Funcs{Name: "quick", Message: func(*MessageEvent) error {
		fast <- struct{}{}
		return nil
	}}
	require.NoError(t, p.AddListener(slow))
	require.NoError(t, p.AddListener(quick))

	require.NoError(t, p.Publish(messageEvent(1)))
	select {
	case <-fast:
	case <-time.After(time.Second):
		t.Fatal("quick listener starved by slow listener")
	}
	close(release)
}

func TestClosedProvider(t *testing.T) {
	p := NewProviderWithMode(Async, 1)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
	assert.ErrorIs(t, p.Publish(messageEvent(1)), core.ErrClosed)
	assert.ErrorIs(t, p.AddListener(new(mockListener)), core.ErrClosed)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("async")
	require.NoError(t, err)
	assert.Equal(t, Async, m)

	m, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, Sync, m)

	_, err = ParseMode("fanout")
	assert.ErrorIs(t, err, core.ErrConfigInvalid)
}

func TestAsyncListenerRemovesItself(t *testing.T) {
	p := NewProviderWithMode(Async, 4)
	defer p.Close()

	var got atomic.Int32
	removed := make(chan error, 1)
	var self *Funcs
	self = &Funcs{Name: "self", Message: func(*MessageEvent) error {
		if got.Add(1) == 1 {
			removed <- p.RemoveListener(self)
		}
		return nil
	}}
	require.NoError(t, p.AddListener(self))
	require.NoError(t, p.Publish(messageEvent(1)))

	select {
	case err := <-removed:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("RemoveListener from the listener's own callback did not return")
	}
	assert.Empty(t, p.Listeners())
	require.NoError(t, p.Publish(messageEvent(2)))
	assert.Equal(t, int32(1), got.Load())
}

func TestCloseFromAsyncCallback(t *testing.T) {
	p := NewProviderWithMode(Async, 4)

	closed := make(chan error, 1)
	require.NoError(t, p.AddListener(&Funcs{Name: "closer", Message: func(*MessageEvent) error {
		closed <- p.Close()
		return nil
	}}))
	require.NoError(t, p.AddListener(&Funcs{Name: "other"}))
	require.NoError(t, p.Publish(messageEvent(1)))

	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Close from an async callback did not return")
	}
	assert.ErrorIs(t, p.Publish(messageEvent(2)), core.ErrClosed)
}

func TestInDelivery(t *testing.T) {
	for _, mode := range []Mode{Sync, Async} {
		t.Run(mode.String(), func(t *testing.T) {
			p := NewProviderWithMode(mode, 4)
			defer p.Close()

			inside := make(chan bool, 1)
			require.NoError(t, p.AddListener(&Funcs{Name: "inside", Message: func(*MessageEvent) error {
				inside <- p.InDelivery()
				return nil
			}}))
			assert.False(t, p.InDelivery())
			require.NoError(t, p.Publish(messageEvent(1)))
			select {
			case v := <-inside:
				assert.True(t, v)
			case <-time.After(time.Second):
				t.Fatal("listener not called")
			}
			assert.False(t, p.InDelivery())
		})
	}
}
