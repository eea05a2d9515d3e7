package session

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openstarscape/starsync/component"
	"github.com/openstarscape/starsync/encodable"
	"github.com/openstarscape/starsync/errors"
	"github.com/openstarscape/starsync/pkg/retry"
)

const (
	// maxDatagramPayload is the hard single-datagram ceiling: 65535 minus
	// IP and UDP headers. Callers must fragment or reject above this.
	maxDatagramPayload = 65507

	// datagramReadBuffer sizes the OS socket buffer for bursty traffic.
	datagramReadBuffer = 2 * 1024 * 1024

	// peerIdleTimeout evicts a peer that has gone silent; unreliable
	// transports have no close handshake to observe.
	peerIdleTimeout = 90 * time.Second
)

// DatagramEndpoint binds one UDP socket and demultiplexes inbound traffic
// into per-peer Sessions. The first packet from an unknown remote address
// is a connection attempt: the endpoint hands a single-use Builder to the
// accept callback, which decides whether to build the Session.
type DatagramEndpoint struct {
	addr    string
	accept  func(remote string, b Builder)
	logger  *slog.Logger
	metrics *Metrics

	conn    *net.UDPConn
	peers   map[string]*datagramSession
	peersMu sync.Mutex

	running  atomic.Bool
	shutdown chan struct{}
	wg       sync.WaitGroup
	errCount atomic.Int64

	startTime time.Time
}

// DatagramEndpointDeps holds construction dependencies.
type DatagramEndpointDeps struct {
	Addr    string // host:port bind address
	Accept  func(remote string, b Builder)
	Logger  *slog.Logger
	Metrics *Metrics
}

// NewDatagramEndpoint creates an unbound endpoint; Start binds the socket.
func NewDatagramEndpoint(deps DatagramEndpointDeps) *DatagramEndpoint {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "datagram-endpoint", "addr", deps.Addr)
	}
	return &DatagramEndpoint{
		addr:    deps.Addr,
		accept:  deps.Accept,
		logger:  logger,
		metrics: deps.Metrics,
		peers:   make(map[string]*datagramSession),
	}
}

var _ component.Lifecycle = (*DatagramEndpoint)(nil)

// Start binds the UDP socket (with retry for transient bind failures) and
// begins the demultiplexing read loop.
func (e *DatagramEndpoint) Start(ctx context.Context) error {
	if e.running.Load() {
		return errors.WrapFatal(errors.ErrAlreadyStarted,
			"DatagramEndpoint", "Start", "state check")
	}
	if e.accept == nil {
		return errors.WrapInvalid(errors.ErrMissingConfig,
			"DatagramEndpoint", "Start", "accept callback check")
	}

	bind := func() error {
		udpAddr, err := net.ResolveUDPAddr("udp", e.addr)
		if err != nil {
			return retry.NonRetryable(fmt.Errorf("resolve %s: %w", e.addr, err))
		}
		conn, err := net.ListenUDP("udp", udpAddr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", e.addr, err)
		}
		if err := conn.SetReadBuffer(datagramReadBuffer); err != nil {
			// Some systems cap the buffer; serve with the default.
			e.logger.Warn("could not set UDP read buffer", "size", datagramReadBuffer, "error", err)
		}
		e.conn = conn
		return nil
	}

	if err := retry.Do(ctx, errors.RetryPolicy(3), bind); err != nil {
		return errors.WrapFatal(errors.ErrBindFailed,
			"DatagramEndpoint", "Start", fmt.Sprintf("bind %s: %v", e.addr, err))
	}

	e.shutdown = make(chan struct{})
	e.running.Store(true)
	e.startTime = time.Now()

	e.wg.Add(2)
	go e.readLoop()
	go e.reapIdlePeers()

	e.logger.Info("datagram endpoint listening", "addr", e.conn.LocalAddr().String())
	return nil
}

// Stop closes the socket, tears down all peer sessions, and waits at most
// timeout for the loops to finish.
func (e *DatagramEndpoint) Stop(timeout time.Duration) error {
	if !e.running.Swap(false) {
		return nil
	}

	close(e.shutdown)
	_ = e.conn.Close()

	e.peersMu.Lock()
	peers := make([]*datagramSession, 0, len(e.peers))
	for _, p := range e.peers {
		peers = append(peers, p)
	}
	e.peers = make(map[string]*datagramSession)
	e.peersMu.Unlock()

	for _, p := range peers {
		p.shutdown(nil)
	}

	finished := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(errors.ErrShutdownTimeout,
			"DatagramEndpoint", "Stop", "wait for read loop")
	}
}

// LocalAddr returns the bound address, or empty before Start.
func (e *DatagramEndpoint) LocalAddr() string {
	if e.conn == nil {
		return ""
	}
	return e.conn.LocalAddr().String()
}

// Health implements component.Healther.
func (e *DatagramEndpoint) Health() component.HealthStatus {
	running := e.running.Load()
	uptime := time.Duration(0)
	if running {
		uptime = time.Since(e.startTime)
	}
	return component.HealthStatus{
		Healthy:    running,
		LastCheck:  time.Now(),
		ErrorCount: int(e.errCount.Load()),
		Uptime:     uptime,
	}
}

// readLoop demultiplexes inbound datagrams to peer sessions, creating a
// builder for unknown remote addresses.
func (e *DatagramEndpoint) readLoop() {
	defer e.wg.Done()

	buf := make([]byte, maxDatagramPayload)
	for {
		n, raddr, err := e.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-e.shutdown:
				return
			default:
			}
			e.errCount.Add(1)
			e.metrics.recordSendError(KindDatagram)
			e.logger.Warn("datagram read error", "error", err)
			continue
		}

		remote := raddr.String()
		e.peersMu.Lock()
		peer := e.peers[remote]
		e.peersMu.Unlock()

		if peer == nil {
			e.acceptPeer(raddr, remote, buf[:n])
			continue
		}

		peer.touch()
		e.metrics.recordReceived(KindDatagram)
		peer.deliver(buf[:n])
	}
}

// acceptPeer offers a builder for a first-seen remote address. The first
// datagram is replayed into the new session's handler so it is not lost.
func (e *DatagramEndpoint) acceptPeer(raddr *net.UDPAddr, remote string, first []byte) {
	firstCopy := make([]byte, len(first))
	copy(firstCopy, first)

	builder := &DatagramBuilder{
		endpoint: e,
		raddr:    raddr,
		remote:   remote,
		first:    firstCopy,
	}
	e.accept(remote, builder)
}

// reapIdlePeers evicts peers that have gone silent past the idle timeout.
func (e *DatagramEndpoint) reapIdlePeers() {
	defer e.wg.Done()

	ticker := time.NewTicker(peerIdleTimeout / 4)
	defer ticker.Stop()

	for {
		select {
		case <-e.shutdown:
			return
		case <-ticker.C:
		}

		cutoff := time.Now().Add(-peerIdleTimeout)
		e.peersMu.Lock()
		var idle []*datagramSession
		for remote, p := range e.peers {
			if p.lastSeen().Before(cutoff) {
				idle = append(idle, p)
				delete(e.peers, remote)
			}
		}
		e.peersMu.Unlock()

		for _, p := range idle {
			e.logger.Debug("evicting idle datagram peer", "remote", p.remote)
			p.shutdown(errors.ErrConnectionTimeout)
		}
	}
}

func (e *DatagramEndpoint) registerPeer(s *datagramSession) {
	e.peersMu.Lock()
	e.peers[s.remote] = s
	e.peersMu.Unlock()
}

func (e *DatagramEndpoint) dropPeer(remote string) {
	e.peersMu.Lock()
	delete(e.peers, remote)
	e.peersMu.Unlock()
}

// DatagramBuilder negotiates a first-seen remote address into a Session.
type DatagramBuilder struct {
	endpoint *DatagramEndpoint
	raddr    *net.UDPAddr
	remote   string
	first    []byte
	consumed atomic.Bool
}

var _ Builder = (*DatagramBuilder)(nil)

// Build implements Builder. There is no handshake on raw UDP; building
// registers the peer and replays the datagram that announced it.
func (b *DatagramBuilder) Build(handler InboundHandler) (Session, error) {
	if b.consumed.Swap(true) {
		return nil, errors.WrapInvalid(errors.ErrBuilderConsumed,
			"DatagramBuilder", "Build", "single-use check")
	}

	s := &datagramSession{
		endpoint: b.endpoint,
		raddr:    b.raddr,
		remote:   b.remote,
		handler:  handler,
	}
	s.seen.Store(time.Now().UnixNano())

	b.endpoint.registerPeer(s)
	b.endpoint.metrics.sessionOpened(KindDatagram)

	if len(b.first) > 0 {
		b.endpoint.metrics.recordReceived(KindDatagram)
		handler.HandlePacket(b.first)
	}
	return s, nil
}

// datagramSession is the unreliable transport: no delivery or ordering
// guarantee, hard payload ceiling, no close handshake.
type datagramSession struct {
	endpoint *DatagramEndpoint
	raddr    *net.UDPAddr
	remote   string
	handler  InboundHandler
	seen     atomic.Int64 // UnixNano of last inbound datagram
	closed   atomic.Bool
	once     sync.Once
}

func (s *datagramSession) Kind() Kind {
	return KindDatagram
}

func (s *datagramSession) Encoding() encodable.Encoding {
	return encodable.EncodingCBOR
}

func (s *datagramSession) MaxPacketLen() int {
	return maxDatagramPayload
}

func (s *datagramSession) SendPacket(data []byte) error {
	if s.closed.Load() {
		return errors.WrapTransient(errors.ErrSessionClosed,
			"datagramSession", "SendPacket", "session state check")
	}
	if len(data) > maxDatagramPayload {
		return errors.WrapInvalid(errors.ErrPayloadTooLarge,
			"datagramSession", "SendPacket", "payload size check")
	}

	if _, err := s.endpoint.conn.WriteToUDP(data, s.raddr); err != nil {
		s.endpoint.metrics.recordSendError(KindDatagram)
		return errors.WrapTransient(err, "datagramSession", "SendPacket", "socket write")
	}
	s.endpoint.metrics.recordSent(KindDatagram, len(data))
	return nil
}

func (s *datagramSession) Close() error {
	s.endpoint.dropPeer(s.remote)
	s.shutdown(nil)
	return nil
}

func (s *datagramSession) shutdown(err error) {
	s.once.Do(func() {
		s.closed.Store(true)
		s.endpoint.metrics.sessionClosed(KindDatagram)
		s.handler.HandleClose(err)
	})
}

func (s *datagramSession) deliver(data []byte) {
	if !s.closed.Load() {
		s.handler.HandlePacket(data)
	}
}

func (s *datagramSession) touch() {
	s.seen.Store(time.Now().UnixNano())
}

func (s *datagramSession) lastSeen() time.Time {
	return time.Unix(0, s.seen.Load())
}
