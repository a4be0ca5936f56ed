// Package reporter defines the export records produced from engine events
// and the lifecycle shared by every reporter.
package reporter

import (
	"context"
	"fmt"

	"firestige.xyz/isup/internal/eventbus"
)

// Reporter is an event listener with a start/stop lifecycle.
type Reporter interface {
	eventbus.Listener
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Record is the flat, serializable form of an event.
type Record struct {
	Kind      string `json:"kind"`
	Linkset   string `json:"linkset"`
	Direction string `json:"direction,omitempty"`
	CIC       uint16 `json:"cic"`
	Type      string `json:"type"`
	OPC       uint32 `json:"opc,omitempty"`
	DPC       uint32 `json:"dpc,omitempty"`
	Params    int    `json:"params"`
	Timer     string `json:"timer,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// FromMessage flattens a message event.
func FromMessage(e *eventbus.MessageEvent) (Record, error) {
	if e == nil || e.Message == nil {
		return Record{}, fmt.Errorf("empty message event")
	}
	return Record{
		Kind:      eventbus.KindMessage,
		Linkset:   e.Linkset,
		Direction: e.Direction.String(),
		CIC:       e.Message.CIC,
		Type:      e.Message.Type.String(),
		OPC:       uint32(e.Label.OPC),
		DPC:       uint32(e.Label.DPC),
		Params:    e.Message.Len(),
		Timestamp: e.ReceivedAt.UnixMilli(),
	}, nil
}

// FromTimeout flattens a timeout event. DPC is the remote point code the
// timer was correlated with.
func FromTimeout(e *eventbus.TimeoutEvent) (Record, error) {
	if e == nil {
		return Record{}, fmt.Errorf("empty timeout event")
	}
	r := Record{
		Kind:      eventbus.KindTimeout,
		Linkset:   e.Linkset,
		CIC:       e.Timer.CIC,
		DPC:       e.Timer.DPC,
		Timer:     e.Timer.Name,
		Timestamp: e.FiredAt.UnixMilli(),
	}
	if e.Message != nil {
		r.Type = e.Message.Type.String()
		r.Params = e.Message.Len()
	}
	return r, nil
}

// Key groups records of one circuit on one linkset.
func (r Record) Key() string {
	return fmt.Sprintf("%s/%d", r.Linkset, r.CIC)
}
