package engine

import (
	"fmt"
	"time"

	"firestige.xyz/isup/internal/core"
	"firestige.xyz/isup/internal/eventbus"
	"firestige.xyz/isup/internal/isup"
	"firestige.xyz/isup/internal/mtp3"
)

// Options is the engine configuration.
type Options struct {
	// OPC is the local point code.
	OPC mtp3.PointCode
	// DPC is the default destination used by Send.
	DPC mtp3.PointCode
	NI  mtp3.NetworkIndicator
	// Timers maps supervision timer names ("T7") to durations. Every timer
	// the engine may start must be present.
	Timers map[string]time.Duration

	// PollInterval bounds each linkset Poll.
	PollInterval time.Duration
	Delivery     eventbus.Mode
	// ListenerQueue bounds each listener mailbox in async delivery.
	ListenerQueue int
	// Factory defaults to the standard message catalog.
	Factory isup.Factory
}

const defaultPollInterval = 50 * time.Millisecond

// DefaultOptions returns options with default timers and no point codes.
func DefaultOptions() Options {
	return Options{
		NI:           mtp3.NINational,
		Timers:       DefaultTimers(),
		PollInterval: defaultPollInterval,
	}
}

// Validate reports the first missing or invalid option.
func (o *Options) Validate() error {
	if o.OPC == 0 {
		return fmt.Errorf("%w: opc", core.ErrMissingOption)
	}
	if o.DPC == 0 {
		return fmt.Errorf("%w: dpc", core.ErrMissingOption)
	}
	if o.NI > mtp3.NINationalSpare {
		return fmt.Errorf("%w: network indicator %d", core.ErrConfigInvalid, o.NI)
	}
	for _, name := range TimerNames() {
		d, ok := o.Timers[name]
		if !ok {
			return fmt.Errorf("%w: timer %s", core.ErrMissingOption, name)
		}
		if d <= 0 {
			return fmt.Errorf("%w: timer %s duration %s", core.ErrConfigInvalid, name, d)
		}
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	if o.Factory == nil {
		o.Factory = isup.StandardFactory()
	}
	return nil
}
