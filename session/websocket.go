package session

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/openstarscape/starsync/encodable"
	"github.com/openstarscape/starsync/errors"
	"github.com/openstarscape/starsync/pkg/buffer"
)

const (
	// wsMaxPacketLen is the single-message ceiling for the stream
	// transport. Streams have no hard framing limit; this bounds memory
	// per inbound message.
	wsMaxPacketLen = 1 << 20

	// wsSendQueueLen bounds the outbound queue so one stalled client
	// cannot grow server memory without bound.
	wsSendQueueLen = 256

	// wsWriteBatch is the number of queued packets flushed per wakeup.
	wsWriteBatch = 32
)

// WebSocketBuilder negotiates an upgraded WebSocket connection into a
// Session. The listener's upgrade handler constructs one per connection.
type WebSocketBuilder struct {
	conn     *websocket.Conn
	logger   *slog.Logger
	metrics  *Metrics
	consumed atomic.Bool
}

// NewWebSocketBuilder wraps an already-upgraded connection.
func NewWebSocketBuilder(conn *websocket.Conn, logger *slog.Logger, metrics *Metrics) *WebSocketBuilder {
	if logger == nil {
		logger = slog.Default().With("component", "websocket-session")
	}
	return &WebSocketBuilder{conn: conn, logger: logger, metrics: metrics}
}

// Build implements Builder. The handshake already happened during the HTTP
// upgrade, so building only wires the pumps.
func (b *WebSocketBuilder) Build(handler InboundHandler) (Session, error) {
	if b.consumed.Swap(true) {
		return nil, errors.WrapInvalid(errors.ErrBuilderConsumed,
			"WebSocketBuilder", "Build", "single-use check")
	}
	if b.conn == nil {
		return nil, errors.WrapFatal(errors.ErrNoConnection,
			"WebSocketBuilder", "Build", "connection check")
	}

	s := &webSocketSession{
		conn:    b.conn,
		logger:  b.logger,
		metrics: b.metrics,
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	s.outbound = buffer.NewRing(wsSendQueueLen,
		buffer.WithOverflowPolicy[[]byte](buffer.DropOldest),
		buffer.WithDropCallback(func([]byte) { b.metrics.recordDropped(KindWebSocket) }),
	)

	b.metrics.sessionOpened(KindWebSocket)
	go s.readPump(handler)
	go s.writePump()

	return s, nil
}

// webSocketSession is the reliable stream transport. Outbound writes are
// serialized through a bounded ring drained by a single writer goroutine,
// since gorilla connections permit at most one concurrent writer.
type webSocketSession struct {
	conn     *websocket.Conn
	logger   *slog.Logger
	metrics  *Metrics
	outbound buffer.Queue[[]byte]
	notify   chan struct{}
	done     chan struct{}
	closed   atomic.Bool
	once     sync.Once
}

func (s *webSocketSession) Kind() Kind {
	return KindWebSocket
}

func (s *webSocketSession) Encoding() encodable.Encoding {
	return encodable.EncodingJSON
}

func (s *webSocketSession) MaxPacketLen() int {
	return wsMaxPacketLen
}

func (s *webSocketSession) SendPacket(data []byte) error {
	if s.closed.Load() {
		return errors.WrapTransient(errors.ErrSessionClosed,
			"webSocketSession", "SendPacket", "session state check")
	}
	if len(data) > wsMaxPacketLen {
		return errors.WrapInvalid(errors.ErrPayloadTooLarge,
			"webSocketSession", "SendPacket", "payload size check")
	}

	// The queue retains the slice, so copy out of the caller's buffer.
	queued := make([]byte, len(data))
	copy(queued, data)
	if err := s.outbound.Write(queued); err != nil {
		return errors.WrapTransient(errors.ErrSessionClosed,
			"webSocketSession", "SendPacket", "enqueue")
	}

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return nil
}

func (s *webSocketSession) Close() error {
	s.shutdown(nil)
	return nil
}

// shutdown tears the session down exactly once. err is the transport error
// that ended it, nil for a deliberate close.
func (s *webSocketSession) shutdown(err error) {
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.done)
		_ = s.outbound.Close()
		_ = s.conn.Close()
		s.metrics.sessionClosed(KindWebSocket)
		if err != nil {
			s.logger.Debug("websocket session ended", "error", err)
		}
	})
}

// readPump delivers inbound messages to the handler until the connection
// dies, then reports the close exactly once.
func (s *webSocketSession) readPump(handler InboundHandler) {
	s.conn.SetReadLimit(wsMaxPacketLen)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			closeErr := err
			if s.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				closeErr = nil
			}
			s.shutdown(closeErr)
			handler.HandleClose(closeErr)
			return
		}
		s.metrics.recordReceived(KindWebSocket)
		handler.HandlePacket(data)
	}
}

// writePump drains the outbound queue into the connection. It owns all
// writes to the underlying conn.
func (s *webSocketSession) writePump() {
	for {
		select {
		case <-s.done:
			return
		case <-s.notify:
		}

		for {
			batch := s.outbound.ReadBatch(wsWriteBatch)
			if len(batch) == 0 {
				break
			}
			for _, packet := range batch {
				if err := s.conn.WriteMessage(websocket.TextMessage, packet); err != nil {
					s.metrics.recordSendError(KindWebSocket)
					s.shutdown(err)
					return
				}
				s.metrics.recordSent(KindWebSocket, len(packet))
			}
		}
	}
}
