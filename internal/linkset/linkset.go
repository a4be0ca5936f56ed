// Package linkset provides the transports that carry MTP3 frames between the
// engine and a signaling peer.
//
// Every transport implements Linkset. Transports that can add, remove and
// toggle individual links at runtime additionally implement LinkManager; the
// package-level helpers return core.ErrUnsupportedOperation for the others.
package linkset

import (
	"context"
	"fmt"
	"time"

	"firestige.xyz/isup/internal/core"
	"firestige.xyz/isup/internal/mtp3"
)

// MaxFrameSize bounds a single MTP3 frame (label plus ISUP payload).
const MaxFrameSize = 4096

// Op selects the readiness Poll waits for.
type Op int

const (
	OpRead Op = iota
	OpWrite
)

func (o Op) String() string {
	if o == OpWrite {
		return "write"
	}
	return "read"
}

// Stream moves whole MTP3 frames.
type Stream interface {
	// Read copies the next received frame into buf. It never blocks and
	// returns 0, nil when nothing is queued.
	Read(buf []byte) (int, error)
	// Write sends one complete frame (routing label plus payload).
	Write(frame []byte) (int, error)
	// Poll blocks up to timeout until op can proceed without waiting.
	Poll(op Op, timeout time.Duration) (bool, error)
	Close() error
}

// Linkset is a group of signaling links between the local point code (OPC)
// and an adjacent point code (APC).
type Linkset interface {
	Stream
	Name() string
	OPC() mtp3.PointCode
	APC() mtp3.PointCode
	NI() mtp3.NetworkIndicator
	State() State
	// Open brings a configured linkset into service.
	Open(ctx context.Context) error
}

// LinkManager is implemented by transports with dynamic link management.
type LinkManager interface {
	Activate(ctx context.Context) error
	Deactivate() error
	ActivateLink(name string) error
	DeactivateLink(name string) error
	CreateLink(cfg LinkConfig) error
	DeleteLink(name string) error
	Links() []LinkInfo
}

// Config describes a linkset.
type Config struct {
	Name string
	OPC  mtp3.PointCode
	APC  mtp3.PointCode
	NI   mtp3.NetworkIndicator
	// QueueCapacity bounds the receive queue.
	QueueCapacity int
	Links         []LinkConfig
}

const defaultQueueCapacity = 1024

func (c *Config) validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: linkset name", core.ErrMissingOption)
	}
	if c.OPC == 0 {
		return fmt.Errorf("%w: linkset %s opc", core.ErrMissingOption, c.Name)
	}
	if c.APC == 0 {
		return fmt.Errorf("%w: linkset %s apc", core.ErrMissingOption, c.Name)
	}
	if c.NI > mtp3.NINationalSpare {
		return fmt.Errorf("%w: linkset %s network indicator %d", core.ErrConfigInvalid, c.Name, c.NI)
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = defaultQueueCapacity
	}
	return nil
}

// LinkMode says whether a link dials its peer or waits for it.
type LinkMode string

const (
	ModeConnect LinkMode = "connect"
	ModeListen  LinkMode = "listen"
)

// LinkConfig describes one link of a linkset.
type LinkConfig struct {
	Name    string
	Address string
	Mode    LinkMode
}

// LinkInfo is a snapshot of a link.
type LinkInfo struct {
	Name      string
	Address   string
	Mode      LinkMode
	Active    bool
	InService bool
}

func manager(ls Linkset) (LinkManager, error) {
	lm, ok := ls.(LinkManager)
	if !ok {
		return nil, fmt.Errorf("%w: linkset %s has no link management", core.ErrUnsupportedOperation, ls.Name())
	}
	return lm, nil
}

// Activate starts every link of ls.
func Activate(ctx context.Context, ls Linkset) error {
	lm, err := manager(ls)
	if err != nil {
		return err
	}
	return lm.Activate(ctx)
}

// Deactivate stops every link of ls.
func Deactivate(ls Linkset) error {
	lm, err := manager(ls)
	if err != nil {
		return err
	}
	return lm.Deactivate()
}

// ActivateLink starts a single link.
func ActivateLink(ls Linkset, name string) error {
	lm, err := manager(ls)
	if err != nil {
		return err
	}
	return lm.ActivateLink(name)
}

// DeactivateLink stops a single link.
func DeactivateLink(ls Linkset, name string) error {
	lm, err := manager(ls)
	if err != nil {
		return err
	}
	return lm.DeactivateLink(name)
}

// CreateLink adds a link to ls.
func CreateLink(ls Linkset, cfg LinkConfig) error {
	lm, err := manager(ls)
	if err != nil {
		return err
	}
	return lm.CreateLink(cfg)
}

// DeleteLink removes a link from ls.
func DeleteLink(ls Linkset, name string) error {
	lm, err := manager(ls)
	if err != nil {
		return err
	}
	return lm.DeleteLink(name)
}

// Links lists the links of ls.
func Links(ls Linkset) ([]LinkInfo, error) {
	lm, err := manager(ls)
	if err != nil {
		return nil, err
	}
	return lm.Links(), nil
}
