package session

import (
	"log/slog"
	"sync/atomic"

	"github.com/openstarscape/starsync/encodable"
	"github.com/openstarscape/starsync/errors"
)

// webRTCMaxMessageLen is the advertised WebRTC data-channel message
// ceiling. In practice the usable limit is likely lower and depends on the
// negotiated SCTP parameters.
const webRTCMaxMessageLen = 16384

// WebRTCBuilder is the Session Builder for the browser-facing unreliable
// transport. Negotiation (ICE/SDP) is not implemented yet: Build satisfies
// the Builder contract and fails deterministically with ErrNotImplemented
// so callers treat the transport as capability-missing rather than getting
// a silently non-functional Session.
type WebRTCBuilder struct {
	logger   *slog.Logger
	consumed atomic.Bool
}

// NewWebRTCBuilder creates the stub builder.
func NewWebRTCBuilder(logger *slog.Logger) *WebRTCBuilder {
	if logger == nil {
		logger = slog.Default().With("component", "webrtc-session")
	}
	return &WebRTCBuilder{logger: logger}
}

var _ Builder = (*WebRTCBuilder)(nil)

// Build implements Builder.
func (b *WebRTCBuilder) Build(_ InboundHandler) (Session, error) {
	if b.consumed.Swap(true) {
		return nil, errors.WrapInvalid(errors.ErrBuilderConsumed,
			"WebRTCBuilder", "Build", "single-use check")
	}
	return nil, errors.WrapFatal(errors.ErrNotImplemented,
		"WebRTCBuilder", "Build", "negotiate WebRTC session")
}

// webRTCSession documents the capability contract the working transport
// will satisfy. Nothing constructs it today; send fails explicitly rather
// than omitting the method.
type webRTCSession struct {
	logger *slog.Logger
}

var _ Session = (*webRTCSession)(nil)

func (s *webRTCSession) Kind() Kind {
	return KindWebRTC
}

func (s *webRTCSession) Encoding() encodable.Encoding {
	return encodable.EncodingCBOR
}

func (s *webRTCSession) MaxPacketLen() int {
	s.logger.Warn("returning max WebRTC message length, but in practice it's likely lower",
		"max", webRTCMaxMessageLen)
	return webRTCMaxMessageLen
}

func (s *webRTCSession) SendPacket(_ []byte) error {
	return errors.WrapFatal(errors.ErrNotImplemented,
		"webRTCSession", "SendPacket", "send over WebRTC")
}

func (s *webRTCSession) Close() error {
	return nil
}
