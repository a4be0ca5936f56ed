package linkset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/serialx/hashring"

	"firestige.xyz/isup/internal/core"
	"firestige.xyz/isup/internal/m2pa"
	"firestige.xyz/isup/internal/metrics"
	"firestige.xyz/isup/internal/mtp3"
)

const (
	dialTimeout    = 5 * time.Second
	reconnectDelay = time.Second
	writeTimeout   = 5 * time.Second
)

// M2PA is a linkset whose links are TCP connections carrying M2PA. Outbound
// frames are load-shared over in-service links by SLS.
type M2PA struct {
	*lifecycle
	cfg Config
	rx  *frameQueue

	mu    sync.RWMutex
	links map[string]*m2paLink
	ring  *hashring.HashRing
	ctx   context.Context
	stop  context.CancelFunc
}

var (
	_ Linkset     = (*M2PA)(nil)
	_ LinkManager = (*M2PA)(nil)
)

// NewM2PA returns a configured M2PA linkset. Links are created but not
// started until Open or Activate.
func NewM2PA(cfg Config) (*M2PA, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	ls := &M2PA{
		lifecycle: newLifecycle(cfg.Name),
		cfg:       cfg,
		rx:        newFrameQueue(cfg.QueueCapacity),
		links:     make(map[string]*m2paLink),
		ring:      hashring.New(nil),
	}
	for _, lc := range cfg.Links {
		if err := ls.CreateLink(lc); err != nil {
			return nil, err
		}
	}
	if err := ls.transition(evConfigure); err != nil {
		return nil, err
	}
	return ls, nil
}

func (s *M2PA) OPC() mtp3.PointCode       { return s.cfg.OPC }
func (s *M2PA) APC() mtp3.PointCode       { return s.cfg.APC }
func (s *M2PA) NI() mtp3.NetworkIndicator { return s.cfg.NI }

// Open activates every link.
func (s *M2PA) Open(ctx context.Context) error { return s.Activate(ctx) }

// Activate starts all links. ctx bounds the lifetime of the link goroutines.
func (s *M2PA) Activate(ctx context.Context) error {
	if err := s.transition(evActivate); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx, s.stop = context.WithCancel(ctx)
	for _, l := range s.links {
		l.start(s.ctx)
	}
	return nil
}

// Deactivate stops all links and keeps their configuration.
func (s *M2PA) Deactivate() error {
	if err := s.transition(evDeactivate); err != nil {
		return err
	}
	s.stopLinks()
	return nil
}

func (s *M2PA) stopLinks() {
	s.mu.Lock()
	links := make([]*m2paLink, 0, len(s.links))
	for _, l := range s.links {
		links = append(links, l)
	}
	if s.stop != nil {
		s.stop()
	}
	s.mu.Unlock()

	for _, l := range links {
		l.halt()
	}
}

// ActivateLink starts one link. The linkset must be active.
func (s *M2PA) ActivateLink(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.links[name]
	if !ok {
		return fmt.Errorf("%w: %s/%s", core.ErrLinkNotFound, s.name, name)
	}
	if !s.is(StateActive) {
		return fmt.Errorf("%w: linkset %s is %s", core.ErrNotStarted, s.name, s.State())
	}
	l.start(s.ctx)
	return nil
}

// DeactivateLink stops one link.
func (s *M2PA) DeactivateLink(name string) error {
	s.mu.RLock()
	l, ok := s.links[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s/%s", core.ErrLinkNotFound, s.name, name)
	}
	l.halt()
	return nil
}

// CreateLink adds a link. On an active linkset the link starts immediately.
func (s *M2PA) CreateLink(cfg LinkConfig) error {
	if cfg.Name == "" || cfg.Address == "" {
		return fmt.Errorf("%w: link name and address", core.ErrMissingOption)
	}
	switch cfg.Mode {
	case "":
		cfg.Mode = ModeConnect
	case ModeConnect, ModeListen:
	default:
		return fmt.Errorf("%w: link %s mode %q", core.ErrConfigInvalid, cfg.Name, cfg.Mode)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.links[cfg.Name]; ok {
		return fmt.Errorf("%w: %s/%s", core.ErrLinkExists, s.name, cfg.Name)
	}
	l := &m2paLink{cfg: cfg, owner: s}
	s.links[cfg.Name] = l
	if s.is(StateActive) {
		l.start(s.ctx)
	}
	return nil
}

// DeleteLink stops and removes a link.
func (s *M2PA) DeleteLink(name string) error {
	s.mu.Lock()
	l, ok := s.links[name]
	delete(s.links, name)
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s/%s", core.ErrLinkNotFound, s.name, name)
	}
	l.halt()
	return nil
}

// Links implements LinkManager.
func (s *M2PA) Links() []LinkInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]LinkInfo, 0, len(s.links))
	for _, l := range s.links {
		out = append(out, l.info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Read implements Stream.
func (s *M2PA) Read(buf []byte) (int, error) {
	n, err := s.rx.pop(buf)
	metrics.RxQueueDepth.WithLabelValues(s.name).Set(float64(s.rx.len()))
	return n, err
}

// Write sends frame on the link selected by its SLS.
func (s *M2PA) Write(frame []byte) (int, error) {
	if s.is(StateDestroyed) {
		return 0, core.ErrClosed
	}
	label, err := mtp3.DecodeLabel(frame)
	if err != nil {
		return 0, err
	}
	l, err := s.route(label.SLS)
	if err != nil {
		return 0, err
	}
	if err := l.sendUserData(frame); err != nil {
		return 0, err
	}
	metrics.FramesSentTotal.WithLabelValues(s.name).Inc()
	return len(frame), nil
}

func (s *M2PA) route(sls uint8) (*m2paLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	name, ok := s.ring.GetNode(strconv.Itoa(int(sls)))
	if !ok {
		return nil, fmt.Errorf("%w: linkset %s has no link in service", core.ErrNoRoute, s.name)
	}
	l, ok := s.links[name]
	if !ok {
		return nil, fmt.Errorf("%w: linkset %s link %s gone", core.ErrNoRoute, s.name, name)
	}
	return l, nil
}

// Poll implements Stream. Writes are ready while any link is in service.
func (s *M2PA) Poll(op Op, timeout time.Duration) (bool, error) {
	if op == OpRead {
		return s.rx.waitReadable(timeout)
	}
	deadline := time.Now().Add(timeout)
	for {
		s.mu.RLock()
		ready := s.ring.Size() > 0
		s.mu.RUnlock()
		if ready || !time.Now().Before(deadline) {
			return ready, nil
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// Close stops every link and destroys the linkset.
func (s *M2PA) Close() error {
	if s.is(StateDestroyed) {
		return nil
	}
	s.stopLinks()
	s.rx.close()
	return s.transition(evDestroy)
}

func (s *M2PA) setInService(name string, up bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if up {
		s.ring = s.ring.AddNode(name)
	} else {
		s.ring = s.ring.RemoveNode(name)
	}
	metrics.LinksInService.WithLabelValues(s.name).Set(float64(s.ring.Size()))
}

func (s *M2PA) deliver(ctx context.Context, link string, frame []byte) {
	if len(frame) > MaxFrameSize {
		metrics.FramesDroppedTotal.WithLabelValues(s.name, "oversize").Inc()
		slog.Warn("dropping oversize frame", "linkset", s.name, "link", link, "size", len(frame))
		return
	}
	if err := s.rx.pushWait(ctx, frame); err != nil {
		metrics.FramesDroppedTotal.WithLabelValues(s.name, "closed").Inc()
		return
	}
	metrics.RxQueueDepth.WithLabelValues(s.name).Set(float64(s.rx.len()))
}

// m2paLink is one TCP association. Its goroutine reconnects (connect mode)
// or accepts again (listen mode) until halted.
type m2paLink struct {
	cfg   LinkConfig
	owner *M2PA

	mu        sync.Mutex
	conn      net.Conn
	bsn, fsn  uint32
	inService bool
	cancel    context.CancelFunc
	done      chan struct{}
}

func (l *m2paLink) info() LinkInfo {
	l.mu.Lock()
	defer l.mu.Unlock()
	return LinkInfo{
		Name:      l.cfg.Name,
		Address:   l.cfg.Address,
		Mode:      l.cfg.Mode,
		Active:    l.cancel != nil,
		InService: l.inService,
	}
}

func (l *m2paLink) start(parent context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil || parent == nil {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	l.cancel = cancel
	l.done = make(chan struct{})
	go l.run(ctx, l.done)
}

func (l *m2paLink) halt() {
	l.mu.Lock()
	cancel, done, conn := l.cancel, l.done, l.conn
	l.cancel = nil
	l.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	if conn != nil {
		conn.Close()
	}
	<-done
}

func (l *m2paLink) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	log := slog.With("linkset", l.owner.name, "link", l.cfg.Name, "address", l.cfg.Address)

	var ln net.Listener
	if l.cfg.Mode == ModeListen {
		var lc net.ListenConfig
		var err error
		ln, err = lc.Listen(ctx, "tcp", l.cfg.Address)
		if err != nil {
			log.Error("link listen failed", "error", err)
			return
		}
		defer ln.Close()
		go func() {
			<-ctx.Done()
			ln.Close()
		}()
	}

	for ctx.Err() == nil {
		conn, err := l.connect(ctx, ln)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("link connect failed", "error", err)
			select {
			case <-time.After(reconnectDelay):
				continue
			case <-ctx.Done():
				return
			}
		}

		log.Info("link up", "peer", conn.RemoteAddr().String())
		l.serve(ctx, conn, log)
		log.Info("link down")
	}
}

func (l *m2paLink) connect(ctx context.Context, ln net.Listener) (net.Conn, error) {
	if ln != nil {
		return ln.Accept()
	}
	d := net.Dialer{Timeout: dialTimeout}
	return d.DialContext(ctx, "tcp", l.cfg.Address)
}

func (l *m2paLink) serve(ctx context.Context, conn net.Conn, log *slog.Logger) {
	l.mu.Lock()
	l.conn = conn
	l.bsn, l.fsn = m2paSeqInit, m2paSeqInit
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.conn = nil
		wasUp := l.inService
		l.inService = false
		l.mu.Unlock()
		conn.Close()
		if wasUp {
			l.owner.setInService(l.cfg.Name, false)
		}
	}()

	if err := l.sendStatus(m2pa.StateReady); err != nil {
		log.Warn("link status send failed", "error", err)
		return
	}

	for ctx.Err() == nil {
		raw, err := m2pa.ReadMessage(conn)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				log.Warn("link read failed", "error", err)
			}
			return
		}
		msg, err := m2pa.Parse(raw)
		if err != nil {
			metrics.DecodeErrorsTotal.WithLabelValues(l.owner.name, "m2pa").Inc()
			log.Warn("discarding m2pa message", "error", err)
			continue
		}

		switch msg.Type {
		case m2pa.TypeLinkStatus:
			l.onStatus(msg.State, log)
		case m2pa.TypeUserData:
			l.mu.Lock()
			l.bsn = msg.FSN
			l.mu.Unlock()
			if len(msg.LayerPayload()) > 0 {
				l.owner.deliver(ctx, l.cfg.Name, append([]byte(nil), msg.LayerPayload()...))
			}
		}
	}
}

// m2paSeqInit is the initial FSN/BSN value after alignment (RFC 4165 4.2.1).
const m2paSeqInit = 0xFFFFFF

func (l *m2paLink) onStatus(state m2pa.LinkState, log *slog.Logger) {
	l.mu.Lock()
	was := l.inService
	switch state {
	case m2pa.StateReady, m2pa.StateProcessorRecovered, m2pa.StateBusyEnded:
		l.inService = true
	case m2pa.StateOutOfService, m2pa.StateProcessorOutage, m2pa.StateAlignment:
		l.inService = false
	}
	now := l.inService
	l.mu.Unlock()

	log.Debug("peer link status", "state", state.String())
	if was != now {
		l.owner.setInService(l.cfg.Name, now)
	}
}

func (l *m2paLink) sendStatus(state m2pa.LinkState) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	msg, err := m2pa.LinkStatus(l.bsn, l.fsn, state)
	if err != nil {
		return err
	}
	return l.writeLocked(msg)
}

func (l *m2paLink) sendUserData(frame []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.inService || l.conn == nil {
		return fmt.Errorf("%w: link %s not in service", core.ErrNoRoute, l.cfg.Name)
	}
	fsn := (l.fsn + 1) & 0xFFFFFF
	msg, err := m2pa.UserData(l.bsn, fsn, frame)
	if err != nil {
		return err
	}
	if err := l.writeLocked(msg); err != nil {
		return err
	}
	l.fsn = fsn
	return nil
}

func (l *m2paLink) writeLocked(msg []byte) error {
	if l.conn == nil {
		return core.ErrClosed
	}
	if err := l.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	_, err := l.conn.Write(msg)
	return err
}
