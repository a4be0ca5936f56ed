// Package timer implements fire-once supervision timers.
//
// Expiry callbacks run on a single dispatcher goroutine owned by the Manager,
// never on the goroutine that started or cancelled the timer.
package timer

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"firestige.xyz/isup/internal/core"
	"firestige.xyz/isup/internal/metrics"
)

// ID correlates a supervision timer to its transaction.
type ID struct {
	Name string // e.g. "T7"
	DPC  uint32
	CIC  uint16
}

func (id ID) String() string {
	return fmt.Sprintf("%s/dpc=%d/cic=%d", id.Name, id.DPC, id.CIC)
}

// State of a timer. Fired and Cancelled are terminal.
type State int32

const (
	Scheduled State = iota
	Fired
	Cancelled
)

func (s State) String() string {
	switch s {
	case Scheduled:
		return "scheduled"
	case Fired:
		return "fired"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Timer is a handle to a scheduled timer.
type Timer struct {
	id       ID
	duration time.Duration
	payload  any
	started  time.Time

	mgr   *Manager
	t     *time.Timer
	state State // guarded by mgr.mu
}

func (t *Timer) ID() ID                  { return t.id }
func (t *Timer) Duration() time.Duration { return t.duration }
func (t *Timer) Payload() any            { return t.payload }
func (t *Timer) StartedAt() time.Time    { return t.started }

// State returns the current state.
func (t *Timer) State() State {
	t.mgr.mu.Lock()
	defer t.mgr.mu.Unlock()
	return t.state
}

// Expiry is handed to the expiry callback once a timer fires.
type Expiry struct {
	Timer   *Timer
	FiredAt time.Time
}

// Manager owns a set of live timers keyed by ID.
type Manager struct {
	mu     sync.Mutex
	live   map[ID]*Timer
	closed bool

	onExpire func(Expiry)
	fired    chan Expiry
	done     chan struct{}
	wg       sync.WaitGroup
	dispGID  atomic.Uint64
}

// NewManager starts a manager whose dispatcher calls onExpire for every fired
// timer, in firing order.
func NewManager(onExpire func(Expiry)) *Manager {
	m := &Manager{
		live:     make(map[ID]*Timer),
		onExpire: onExpire,
		fired:    make(chan Expiry, 64),
		done:     make(chan struct{}),
	}
	m.wg.Add(1)
	go m.dispatch()
	return m
}

// Start schedules a timer. It fails with core.ErrDuplicateTimer while another
// timer with the same id is still scheduled.
func (m *Manager) Start(id ID, d time.Duration, payload any) (*Timer, error) {
	if d <= 0 {
		return nil, fmt.Errorf("timer %s: non-positive duration %s", id, d)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, core.ErrClosed
	}
	if _, ok := m.live[id]; ok {
		return nil, fmt.Errorf("%w: %s", core.ErrDuplicateTimer, id)
	}

	t := &Timer{
		id:       id,
		duration: d,
		payload:  payload,
		started:  time.Now(),
		mgr:      m,
		state:    Scheduled,
	}
	t.t = time.AfterFunc(d, func() { m.fire(t) })
	m.live[id] = t

	metrics.TimersStarted.WithLabelValues(id.Name).Inc()
	metrics.TimersActive.Inc()
	return t, nil
}

// fire moves t to Fired unless a cancel got there first. The transition and
// the map removal happen under mu, so exactly one of fire and cancel wins.
func (m *Manager) fire(t *Timer) {
	now := time.Now()

	m.mu.Lock()
	if t.state != Scheduled {
		m.mu.Unlock()
		return
	}
	t.state = Fired
	if m.live[t.id] == t {
		delete(m.live, t.id)
	}
	m.mu.Unlock()

	metrics.TimersFired.WithLabelValues(t.id.Name).Inc()
	metrics.TimersActive.Dec()

	select {
	case m.fired <- Expiry{Timer: t, FiredAt: now}:
	case <-m.done:
	}
}

func (m *Manager) dispatch() {
	defer m.wg.Done()
	m.dispGID.Store(core.GoroutineID())
	for {
		select {
		case e := <-m.fired:
			m.deliver(e)
		case <-m.done:
			return
		}
	}
}

func (m *Manager) deliver(e Expiry) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("timer expiry handler panicked", "timer", e.Timer.id.String(), "panic", r)
		}
	}()
	if m.onExpire != nil {
		m.onExpire(e)
	}
}

// InDispatcher reports whether the caller runs on the dispatcher goroutine,
// i.e. inside an expiry callback.
func (m *Manager) InDispatcher() bool {
	gid := m.dispGID.Load()
	return gid != 0 && gid == core.GoroutineID()
}

// Cancel stops t. It reports whether the call moved t to Cancelled; a timer
// that already fired or was cancelled is left untouched.
func (m *Manager) Cancel(t *Timer) bool {
	if t == nil {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancelLocked(t)
}

func (m *Manager) cancelLocked(t *Timer) bool {
	if t.state != Scheduled {
		return false
	}
	t.state = Cancelled
	t.t.Stop()
	if m.live[t.id] == t {
		delete(m.live, t.id)
	}
	metrics.TimersCancelled.WithLabelValues(t.id.Name).Inc()
	metrics.TimersActive.Dec()
	return true
}

// CancelID cancels the live timer registered under id, if any.
func (m *Manager) CancelID(id ID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.live[id]
	if !ok {
		return false
	}
	return m.cancelLocked(t)
}

// Lookup returns the live timer registered under id.
func (m *Manager) Lookup(id ID) (*Timer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.live[id]
	return t, ok
}

// Len returns the number of scheduled timers.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

// CancelAll cancels every scheduled timer and returns how many were cancelled.
func (m *Manager) CancelAll() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, t := range m.live {
		if m.cancelLocked(t) {
			n++
		}
	}
	return n
}

// Close cancels all timers and stops the dispatcher. Expiries queued but not
// yet delivered are dropped. Called from an expiry callback it does not wait
// for the dispatcher, which exits once the callback returns.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	for _, t := range m.live {
		m.cancelLocked(t)
	}
	m.mu.Unlock()

	close(m.done)
	if m.InDispatcher() {
		return
	}
	m.wg.Wait()
}
