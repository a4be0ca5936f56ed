// Package eventbus delivers message and timeout events to registered listeners.
package eventbus

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"firestige.xyz/isup/internal/core"
	"firestige.xyz/isup/internal/metrics"
)

// Mode selects how Publish reaches listeners.
type Mode int

const (
	// Sync delivers to every listener, in subscription order, before Publish returns.
	Sync Mode = iota
	// Async queues the event in each listener's mailbox in subscription order.
	// Each listener drains its own mailbox, so per-listener order is kept.
	Async
)

// ParseMode maps "sync" and "async" to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "sync":
		return Sync, nil
	case "async":
		return Async, nil
	default:
		return Sync, fmt.Errorf("%w: unknown delivery mode %q", core.ErrConfigInvalid, s)
	}
}

func (m Mode) String() string {
	if m == Async {
		return "async"
	}
	return "sync"
}

const defaultQueueSize = 256

// Provider fans events out to listeners. It is safe for concurrent use.
type Provider struct {
	mode      Mode
	queueSize int

	mu     sync.RWMutex
	subs   []*subscription
	closed int32

	publishedCount int64
	deliveredCount int64
	failedCount    int64

	// delivering counts, per goroutine id, callbacks of this provider in
	// progress. Async mailbox goroutines stay registered while they run.
	dmu        sync.Mutex
	delivering map[uint64]int
}

type subscription struct {
	listener Listener
	mailbox  chan Event
	quit     chan struct{}
	done     chan struct{}
	gid      atomic.Uint64 // mailbox goroutine
}

// NewProvider returns a synchronous provider.
func NewProvider() *Provider {
	return NewProviderWithMode(Sync, 0)
}

// NewProviderWithMode returns a provider using mode. queueSize bounds each
// listener mailbox in Async mode.
func NewProviderWithMode(mode Mode, queueSize int) *Provider {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Provider{mode: mode, queueSize: queueSize, delivering: make(map[uint64]int)}
}

// InDelivery reports whether the calling goroutine is running a listener
// callback of p. Code that would wait for delivery to finish must not wait
// when this is true.
func (p *Provider) InDelivery() bool {
	gid := core.GoroutineID()
	p.dmu.Lock()
	defer p.dmu.Unlock()
	return p.delivering[gid] > 0
}

func (p *Provider) enter(gid uint64) {
	p.dmu.Lock()
	p.delivering[gid]++
	p.dmu.Unlock()
}

func (p *Provider) leave(gid uint64) {
	p.dmu.Lock()
	if p.delivering[gid]--; p.delivering[gid] <= 0 {
		delete(p.delivering, gid)
	}
	p.dmu.Unlock()
}

// Mode returns the delivery mode.
func (p *Provider) Mode() Mode { return p.mode }

// AddListener registers l after all current listeners.
func (p *Provider) AddListener(l Listener) error {
	if l == nil {
		return fmt.Errorf("%w: nil listener", core.ErrConfigInvalid)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if atomic.LoadInt32(&p.closed) == 1 {
		return core.ErrClosed
	}
	for _, s := range p.subs {
		if s.listener == l {
			return core.ErrListenerExists
		}
	}

	s := &subscription{listener: l}
	if p.mode == Async {
		s.mailbox = make(chan Event, p.queueSize)
		s.quit = make(chan struct{})
		s.done = make(chan struct{})
		go p.runMailbox(s)
	}
	p.subs = append(p.subs, s)

	slog.Debug("listener registered", "listener", listenerName(l), "mode", p.mode.String())
	return nil
}

// RemoveListener unregisters l. In Async mode events already queued for l are
// still delivered before this returns, except when l removes itself from its
// own callback: the rest of its mailbox is then drained after the callback
// returns.
func (p *Provider) RemoveListener(l Listener) error {
	p.mu.Lock()
	var removed *subscription
	for i, s := range p.subs {
		if s.listener == l {
			removed = s
			p.subs = append(p.subs[:i:i], p.subs[i+1:]...)
			break
		}
	}
	p.mu.Unlock()

	if removed == nil {
		return core.ErrListenerNotFound
	}
	removed.stop()
	return nil
}

// Listeners returns the registered listeners in subscription order.
func (p *Provider) Listeners() []Listener {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Listener, len(p.subs))
	for i, s := range p.subs {
		out[i] = s.listener
	}
	return out
}

// Publish delivers ev to every registered listener in subscription order.
func (p *Provider) Publish(ev Event) error {
	if atomic.LoadInt32(&p.closed) == 1 {
		return core.ErrClosed
	}

	p.mu.RLock()
	subs := make([]*subscription, len(p.subs))
	copy(subs, p.subs)
	p.mu.RUnlock()

	atomic.AddInt64(&p.publishedCount, 1)
	metrics.EventsPublishedTotal.WithLabelValues(ev.Kind()).Inc()

	if p.mode == Sync {
		gid := core.GoroutineID()
		p.enter(gid)
		defer p.leave(gid)
	}
	for _, s := range subs {
		if p.mode == Sync {
			p.deliver(s.listener, ev)
			continue
		}
		select {
		case s.mailbox <- ev:
		case <-s.quit:
		}
	}
	return nil
}

// Close stops all mailboxes after draining them. Later Publish calls fail
// with core.ErrClosed.
func (p *Provider) Close() error {
	if !atomic.CompareAndSwapInt32(&p.closed, 0, 1) {
		return nil
	}

	p.mu.Lock()
	subs := p.subs
	p.subs = nil
	p.mu.Unlock()

	for _, s := range subs {
		s.stop()
	}
	return nil
}

// GetStats returns a snapshot of the provider counters.
func (p *Provider) GetStats() *Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := &Stats{
		PublishedCount: atomic.LoadInt64(&p.publishedCount),
		DeliveredCount: atomic.LoadInt64(&p.deliveredCount),
		FailedCount:    atomic.LoadInt64(&p.failedCount),
		ListenerCount:  len(p.subs),
		QueuedCount:    make([]int, len(p.subs)),
	}
	for i, s := range p.subs {
		stats.QueuedCount[i] = len(s.mailbox)
	}
	return stats
}

func (p *Provider) runMailbox(s *subscription) {
	gid := core.GoroutineID()
	s.gid.Store(gid)
	p.enter(gid)
	defer close(s.done)
	defer p.leave(gid)
	for {
		select {
		case ev := <-s.mailbox:
			p.deliver(s.listener, ev)
		case <-s.quit:
			for {
				select {
				case ev := <-s.mailbox:
					p.deliver(s.listener, ev)
				default:
					return
				}
			}
		}
	}
}

func (s *subscription) stop() {
	if s.quit == nil {
		return
	}
	close(s.quit)
	if gid := s.gid.Load(); gid != 0 && gid == core.GoroutineID() {
		// Called from this mailbox's own callback.
		return
	}
	<-s.done
}

// deliver runs one listener callback, isolating errors and panics.
func (p *Provider) deliver(l Listener, ev Event) {
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("listener panic: %v", r)
			}
		}()
		switch e := ev.(type) {
		case *MessageEvent:
			err = l.OnMessage(e)
		case *TimeoutEvent:
			err = l.OnTimeout(e)
		default:
			err = fmt.Errorf("unsupported event type %T", ev)
		}
	}()

	if err != nil {
		atomic.AddInt64(&p.failedCount, 1)
		metrics.ListenerFailuresTotal.WithLabelValues(ev.Kind()).Inc()
		slog.Warn("listener failed", "listener", listenerName(l), "kind", ev.Kind(), "error", err)
		return
	}
	atomic.AddInt64(&p.deliveredCount, 1)
}

func listenerName(l Listener) string {
	if s, ok := l.(fmt.Stringer); ok && s.String() != "" {
		return s.String()
	}
	return fmt.Sprintf("%T", l)
}
