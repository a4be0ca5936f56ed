package eventbus

import (
	"fmt"
	"time"

	"firestige.xyz/isup/internal/isup"
	"firestige.xyz/isup/internal/mtp3"
	"firestige.xyz/isup/internal/timer"
)

// Event kinds.
const (
	KindMessage = "message"
	KindTimeout = "timeout"
)

// Event is either a *MessageEvent or a *TimeoutEvent. Events are immutable
// once published.
type Event interface {
	Kind() string
	Timestamp() time.Time
}

// Direction tells which side of a transport produced a message event.
type Direction int

const (
	// Inbound messages were decoded from frames read off a linkset.
	Inbound Direction = iota
	// Outbound messages were decoded from frames written into a transport.
	Outbound
)

func (d Direction) String() string {
	if d == Outbound {
		return "outbound"
	}
	return "inbound"
}

// MessageEvent carries a decoded ISUP message.
type MessageEvent struct {
	Message    *isup.Message
	Label      mtp3.RoutingLabel
	Linkset    string
	Direction  Direction
	ReceivedAt time.Time
}

func (e *MessageEvent) Kind() string         { return KindMessage }
func (e *MessageEvent) Timestamp() time.Time { return e.ReceivedAt }

func (e *MessageEvent) String() string {
	return fmt.Sprintf("%s %s on %s %s->%s", e.Direction, e.Message, e.Linkset, e.Label.OPC, e.Label.DPC)
}

// TimeoutEvent reports an expired supervision timer together with the
// message whose transmission started it.
type TimeoutEvent struct {
	Timer    timer.ID
	Message  *isup.Message
	Linkset  string
	Duration time.Duration
	FiredAt  time.Time
}

func (e *TimeoutEvent) Kind() string         { return KindTimeout }
func (e *TimeoutEvent) Timestamp() time.Time { return e.FiredAt }

func (e *TimeoutEvent) String() string {
	return fmt.Sprintf("timeout %s after %s", e.Timer, e.Duration)
}

// Listener receives events. Implementations must be comparable (pointer
// types); identity is used for registration. Returned errors are logged and
// never stop delivery to other listeners.
type Listener interface {
	OnMessage(*MessageEvent) error
	OnTimeout(*TimeoutEvent) error
}

// Funcs adapts plain functions to Listener. Nil fields ignore the event.
type Funcs struct {
	Name    string
	Message func(*MessageEvent) error
	Timeout func(*TimeoutEvent) error
}

func (f *Funcs) OnMessage(e *MessageEvent) error {
	if f.Message == nil {
		return nil
	}
	return f.Message(e)
}

func (f *Funcs) OnTimeout(e *TimeoutEvent) error {
	if f.Timeout == nil {
		return nil
	}
	return f.Timeout(e)
}

func (f *Funcs) String() string { return f.Name }

// Stats is a snapshot of provider counters.
type Stats struct {
	PublishedCount int64
	DeliveredCount int64
	FailedCount    int64
	ListenerCount  int
	QueuedCount    []int
}
