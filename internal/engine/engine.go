// Package engine wires linksets, the ISUP codec, supervision timers and the
// event provider into a running protocol stack.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"firestige.xyz/isup/internal/core"
	"firestige.xyz/isup/internal/eventbus"
	"firestige.xyz/isup/internal/isup"
	"firestige.xyz/isup/internal/linkset"
	"firestige.xyz/isup/internal/metrics"
	"firestige.xyz/isup/internal/mtp3"
	"firestige.xyz/isup/internal/timer"
)

type runState int

const (
	stateNew runState = iota
	stateConfigured
	stateRunning
	stateStopped
)

// Engine is the stack lifecycle owner.
type Engine struct {
	mu    sync.RWMutex
	state runState
	opts  Options

	codec    *isup.Codec
	provider *eventbus.Provider
	timers   *timer.Manager

	linksets []linkset.Linkset
	byName   map[string]linkset.Linkset

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{} // closed once Stop has released everything
}

// New returns an unconfigured engine.
func New() *Engine {
	return &Engine{byName: make(map[string]linkset.Linkset), done: make(chan struct{})}
}

// Configure validates and applies opts. It may be repeated before Start; the
// delivery mode of the first call is kept.
func (e *Engine) Configure(opts Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	timers := make(map[string]time.Duration, len(opts.Timers))
	for k, v := range opts.Timers {
		timers[k] = v
	}
	opts.Timers = timers

	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case stateRunning:
		return core.ErrAlreadyStarted
	case stateStopped:
		return core.ErrClosed
	}

	e.opts = opts
	e.codec = isup.NewCodec(opts.Factory)
	if e.provider == nil {
		e.provider = eventbus.NewProviderWithMode(opts.Delivery, opts.ListenerQueue)
		e.timers = timer.NewManager(e.onExpire)
	}
	e.state = stateConfigured

	slog.Info("engine configured", "opc", opts.OPC.String(), "dpc", opts.DPC.String(),
		"ni", int(opts.NI), "delivery", opts.Delivery.String())
	return nil
}

// Options returns the applied options.
func (e *Engine) Options() Options {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.opts
}

// Codec returns the message codec. Nil before Configure.
func (e *Engine) Codec() *isup.Codec {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.codec
}

// Provider returns the provider carrying inbound and timeout events.
func (e *Engine) Provider() *eventbus.Provider {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.provider
}

// Timers returns the supervision timer manager.
func (e *Engine) Timers() *timer.Manager {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.timers
}

// AddListener registers l on the engine provider.
func (e *Engine) AddListener(l eventbus.Listener) error {
	p := e.Provider()
	if p == nil {
		return core.ErrNotConfigured
	}
	return p.AddListener(l)
}

// RemoveListener unregisters l.
func (e *Engine) RemoveListener(l eventbus.Listener) error {
	p := e.Provider()
	if p == nil {
		return core.ErrNotConfigured
	}
	return p.RemoveListener(l)
}

// AddLinkset registers ls. Linksets added to a running engine are opened
// and polled immediately.
func (e *Engine) AddLinkset(ls linkset.Linkset) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case stateNew:
		return core.ErrNotConfigured
	case stateStopped:
		return core.ErrClosed
	}
	if _, ok := e.byName[ls.Name()]; ok {
		return fmt.Errorf("%w: linkset %s", core.ErrLinkExists, ls.Name())
	}
	if ls.OPC() != e.opts.OPC {
		slog.Warn("linkset opc differs from engine opc", "linkset", ls.Name(),
			"linkset_opc", ls.OPC().String(), "opc", e.opts.OPC.String())
	}

	if e.state == stateRunning {
		if err := ls.Open(e.ctx); err != nil {
			return err
		}
		e.spawn(e.ctx, ls)
	}
	e.linksets = append(e.linksets, ls)
	e.byName[ls.Name()] = ls
	return nil
}

// Linkset returns the linkset registered as name.
func (e *Engine) Linkset(name string) (linkset.Linkset, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ls, ok := e.byName[name]
	return ls, ok
}

// Start opens every linkset and begins polling them.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case stateNew:
		return core.ErrNotConfigured
	case stateRunning:
		return core.ErrAlreadyStarted
	case stateStopped:
		return core.ErrClosed
	}

	ctx, cancel := context.WithCancel(ctx)
	for _, ls := range e.linksets {
		if err := ls.Open(ctx); err != nil {
			cancel()
			return fmt.Errorf("open linkset %s: %w", ls.Name(), err)
		}
	}
	e.ctx, e.cancel = ctx, cancel
	for _, ls := range e.linksets {
		e.spawn(ctx, ls)
	}
	e.state = stateRunning

	slog.Info("engine started", "linksets", len(e.linksets))
	return nil
}

func (e *Engine) spawn(ctx context.Context, ls linkset.Linkset) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.serve(ctx, ls)
	}()
}

// Stop halts polling, cancels every live timer and closes all linksets,
// the timer manager and the provider. The engine cannot be restarted.
//
// Called from a listener or expiry callback, Stop only begins the shutdown
// and returns nil; the remaining work runs on its own goroutine once the
// callback returns. Done is closed when everything has been released.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if e.state == stateNew || e.state == stateStopped {
		e.mu.Unlock()
		return core.ErrNotStarted
	}
	e.state = stateStopped
	cancel := e.cancel
	linksets := e.linksets
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if e.provider.InDelivery() || e.timers.InDispatcher() {
		go func() {
			if err := e.shutdown(linksets); err != nil {
				slog.Warn("engine shutdown failed", "error", err)
			}
		}()
		return nil
	}
	return e.shutdown(linksets)
}

// Done is closed once a Stop has completed.
func (e *Engine) Done() <-chan struct{} { return e.done }

func (e *Engine) shutdown(linksets []linkset.Linkset) error {
	defer close(e.done)

	var errs []error
	for _, ls := range linksets {
		if err := ls.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close linkset %s: %w", ls.Name(), err))
		}
	}
	e.wg.Wait()

	cancelled := e.timers.CancelAll()
	e.timers.Close()
	if err := e.provider.Close(); err != nil {
		errs = append(errs, err)
	}

	slog.Info("engine stopped", "timers_cancelled", cancelled)
	return errors.Join(errs...)
}

// Send encodes msg and writes it towards the configured DPC. Supervision
// timers for msg are started before the write and cancelled if it fails.
func (e *Engine) Send(msg *isup.Message) error {
	e.mu.RLock()
	ls := e.routeLocked(e.opts.DPC)
	e.mu.RUnlock()
	if ls == nil {
		return fmt.Errorf("%w: dpc %s", core.ErrNoRoute, e.Options().DPC)
	}
	return e.send(ls, e.Options().DPC, msg)
}

// SendTo writes msg on the named linkset towards its adjacent point code.
func (e *Engine) SendTo(name string, msg *isup.Message) error {
	ls, ok := e.Linkset(name)
	if !ok {
		return fmt.Errorf("%w: linkset %s", core.ErrLinkNotFound, name)
	}
	return e.send(ls, ls.APC(), msg)
}

// routeLocked prefers the linkset adjacent to dpc and falls back to the
// first registered linkset.
func (e *Engine) routeLocked(dpc mtp3.PointCode) linkset.Linkset {
	for _, ls := range e.linksets {
		if ls.APC() == dpc {
			return ls
		}
	}
	if len(e.linksets) > 0 {
		return e.linksets[0]
	}
	return nil
}

func (e *Engine) send(ls linkset.Linkset, dpc mtp3.PointCode, msg *isup.Message) error {
	e.mu.RLock()
	state, opts, codec := e.state, e.opts, e.codec
	e.mu.RUnlock()
	if state != stateRunning {
		return core.ErrNotStarted
	}

	payload, err := codec.Encode(msg)
	if err != nil {
		return err
	}
	label := mtp3.RoutingLabel{
		OPC: opts.OPC,
		DPC: dpc,
		SI:  mtp3.SIISUP,
		NI:  opts.NI,
		SLS: uint8(msg.CIC & 0x0F),
	}
	frame, err := mtp3.Frame(label, payload)
	if err != nil {
		return err
	}

	started, err := e.startSupervision(ls.Name(), label.Masked().DPC, msg, opts.Timers)
	if err != nil {
		return err
	}
	if _, err := ls.Write(frame); err != nil {
		for _, t := range started {
			e.timers.Cancel(t)
		}
		slog.Warn("linkset write failed", "linkset", ls.Name(), "cic", msg.CIC, "type", msg.Type.String(), "error", err)
		return err
	}
	return nil
}

func (e *Engine) startSupervision(ls string, dpc mtp3.PointCode, msg *isup.Message, durations map[string]time.Duration) ([]*timer.Timer, error) {
	names := supervisionStarts[msg.Type]
	started := make([]*timer.Timer, 0, len(names))
	for _, name := range names {
		id := timer.ID{Name: name, DPC: uint32(dpc), CIC: msg.CIC & 0x3FFF}
		t, err := e.timers.Start(id, durations[name], &supervised{message: msg, linkset: ls})
		if err != nil {
			for _, s := range started {
				e.timers.Cancel(s)
			}
			return nil, err
		}
		started = append(started, t)
	}
	return started, nil
}

func (e *Engine) stopSupervision(remote mtp3.PointCode, msg *isup.Message) {
	for _, name := range supervisionStops[msg.Type] {
		e.timers.CancelID(timer.ID{Name: name, DPC: uint32(remote), CIC: msg.CIC})
	}
}

func (e *Engine) onExpire(x timer.Expiry) {
	ev := &eventbus.TimeoutEvent{
		Timer:    x.Timer.ID(),
		Duration: x.Timer.Duration(),
		FiredAt:  x.FiredAt,
	}
	if s, ok := x.Timer.Payload().(*supervised); ok {
		ev.Message = s.message
		ev.Linkset = s.linkset
	}
	slog.Info("supervision timer expired", "timer", ev.Timer.Name, "dpc", ev.Timer.DPC, "cic", ev.Timer.CIC)

	if p := e.Provider(); p != nil {
		if err := p.Publish(ev); err != nil {
			slog.Debug("timeout event dropped", "timer", ev.Timer.String(), "error", err)
		}
	}
}

// serve polls ls until ctx is done, decoding and publishing every frame.
func (e *Engine) serve(ctx context.Context, ls linkset.Linkset) {
	log := slog.With("linkset", ls.Name())
	log.Debug("linkset loop started")
	defer log.Debug("linkset loop stopped")

	interval := e.Options().PollInterval
	buf := make([]byte, linkset.MaxFrameSize)
	for ctx.Err() == nil {
		ready, err := ls.Poll(linkset.OpRead, interval)
		if err != nil {
			if errors.Is(err, core.ErrClosed) {
				return
			}
			log.Warn("linkset poll failed", "error", err)
			select {
			case <-time.After(interval):
			case <-ctx.Done():
				return
			}
			continue
		}
		if !ready {
			continue
		}

		for ctx.Err() == nil {
			n, err := ls.Read(buf)
			if err != nil {
				if !errors.Is(err, core.ErrClosed) {
					log.Warn("linkset read failed", "error", err)
				}
				if errors.Is(err, io.ErrShortBuffer) {
					metrics.FramesDroppedTotal.WithLabelValues(ls.Name(), "oversize").Inc()
				}
				break
			}
			if n == 0 {
				break
			}
			// Failures are counted and logged by handleFrame.
			_ = e.handleFrame(ls, buf[:n])
		}
	}
}

// handleFrame decodes one inbound frame. Frames failing the routing checks or
// decoding are counted and logged; they never produce events.
func (e *Engine) handleFrame(ls linkset.Linkset, frame []byte) error {
	name := ls.Name()
	metrics.FramesReceivedTotal.WithLabelValues(name).Inc()

	label, payload, err := mtp3.Split(frame)
	if err != nil {
		metrics.DecodeErrorsTotal.WithLabelValues(name, "label").Inc()
		slog.Warn("bad routing label", "linkset", name, "error", err)
		return err
	}
	if label.SI != mtp3.SIISUP {
		metrics.FramesDroppedTotal.WithLabelValues(name, "service_indicator").Inc()
		slog.Debug("frame dropped", "linkset", name, "si", label.SI)
		return fmt.Errorf("%w: service indicator %d", core.ErrNoRoute, label.SI)
	}
	if label.DPC != ls.OPC() {
		metrics.FramesDroppedTotal.WithLabelValues(name, "dpc").Inc()
		slog.Debug("frame dropped", "linkset", name, "dpc", label.DPC.String())
		return fmt.Errorf("%w: dpc %s is not local %s", core.ErrNoRoute, label.DPC, ls.OPC())
	}

	msg, err := e.Codec().Decode(payload)
	if err != nil {
		reason := "malformed"
		if errors.Is(err, core.ErrUnknownMessageType) {
			reason = "unknown_type"
		}
		metrics.DecodeErrorsTotal.WithLabelValues(name, reason).Inc()
		slog.Warn("isup decode failed", "linkset", name, "opc", label.OPC.String(), "error", err)
		return err
	}

	e.stopSupervision(label.OPC, msg)

	err = e.Provider().Publish(&eventbus.MessageEvent{
		Message:    msg,
		Label:      label,
		Linkset:    name,
		Direction:  eventbus.Inbound,
		ReceivedAt: time.Now(),
	})
	if err != nil {
		slog.Debug("inbound event not published", "linkset", name, "cic", msg.CIC, "type", msg.Type.String(), "error", err)
	}
	return err
}
