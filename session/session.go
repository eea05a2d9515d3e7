// Package session provides the transport-agnostic duplex channel to one
// remote endpoint. A Session abstracts over a reliable stream transport
// (WebSocket) and an unreliable datagram transport (UDP), each with its own
// framing and payload ceiling; a SessionBuilder negotiates an inbound
// connection attempt into a live Session exactly once.
package session

import (
	"github.com/openstarscape/starsync/encodable"
)

// Kind identifies the transport behind a Session. The set is closed so
// callers can match exhaustively.
type Kind int

const (
	// KindWebSocket is the reliable, ordered stream transport.
	KindWebSocket Kind = iota
	// KindDatagram is the unreliable, unordered UDP transport.
	KindDatagram
	// KindWebRTC is the unreliable browser transport; negotiation is not
	// implemented yet and its builder fails deterministically.
	KindWebRTC
)

// String returns the transport name.
func (k Kind) String() string {
	switch k {
	case KindWebSocket:
		return "websocket"
	case KindDatagram:
		return "datagram"
	case KindWebRTC:
		return "webrtc"
	default:
		return "unknown"
	}
}

// Session is a live duplex channel to one remote endpoint.
//
// SendPacket queues one outbound message. It fails with ErrSessionClosed
// once the transport is down and with ErrPayloadTooLarge when the payload
// exceeds MaxPacketLen; callers must fragment or reject oversized payloads
// themselves. Inbound data is pushed to the InboundHandler supplied at
// build time; ordering within one Session follows the transport's own
// guarantee.
type Session interface {
	SendPacket(data []byte) error
	MaxPacketLen() int
	Kind() Kind
	Encoding() encodable.Encoding
	Close() error
}

// InboundHandler receives a Session's inbound traffic and close event.
type InboundHandler interface {
	// HandlePacket is called with each inbound payload. The slice is only
	// valid for the duration of the call.
	HandlePacket(data []byte)

	// HandleClose is called exactly once when the session goes away, with
	// the transport error that ended it (nil on clean close).
	HandleClose(err error)
}

// HandlerFuncs adapts plain functions to InboundHandler. Nil fields are
// no-ops.
type HandlerFuncs struct {
	OnPacket func(data []byte)
	OnClose  func(err error)
}

// HandlePacket implements InboundHandler.
func (h HandlerFuncs) HandlePacket(data []byte) {
	if h.OnPacket != nil {
		h.OnPacket(data)
	}
}

// HandleClose implements InboundHandler.
func (h HandlerFuncs) HandleClose(err error) {
	if h.OnClose != nil {
		h.OnClose(err)
	}
}

// Builder negotiates one inbound connection attempt into a Session.
//
// Build consumes the builder: the first call either produces a working
// Session wired to the handler or fails, and every later call fails with
// ErrBuilderConsumed. A transport without working negotiation logic still
// satisfies this interface and fails with ErrNotImplemented, which callers
// treat as a hard capability-missing error rather than a transient one.
type Builder interface {
	Build(handler InboundHandler) (Session, error)
}
