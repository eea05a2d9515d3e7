package main

import (
	"sync"
	"sync/atomic"

	"github.com/openstarscape/starsync/encodable"
	"github.com/openstarscape/starsync/registry"
	"github.com/openstarscape/starsync/session"
)

// Request is the inbound client envelope. Value is only meaningful for
// set requests.
type Request struct {
	Type     string          `json:"type"`
	Entity   string          `json:"entity"`
	Property string          `json:"property"`
	Value    encodable.Value `json:"value"`
}

// Request types.
const (
	RequestGet         = "get"
	RequestSet         = "set"
	RequestSubscribe   = "subscribe"
	RequestUnsubscribe = "unsubscribe"
)

// ErrorReply is sent back when a request cannot be served.
type ErrorReply struct {
	Type     string `json:"type"`
	Entity   string `json:"entity"`
	Property string `json:"property"`
	Message  string `json:"message"`
}

// clientHandler drives one client session: it parses request envelopes,
// dispatches them against the property table, and deregisters the
// connection when the session ends.
type clientHandler struct {
	server *server
	remote string

	sess atomic.Pointer[sessionRef]

	pendingMu sync.Mutex
	pending   [][]byte

	closedEarly atomic.Bool
}

type sessionRef struct {
	sess session.Session
	key  registry.ConnectionKey
}

var _ session.InboundHandler = (*clientHandler)(nil)

// attach wires the built session and its registry key, then replays any
// packets that arrived before registration (the datagram first-packet
// replay happens inside Build, ahead of attach).
func (c *clientHandler) attach(sess session.Session, key registry.ConnectionKey) {
	ref := &sessionRef{sess: sess, key: key}
	c.sess.Store(ref)

	c.pendingMu.Lock()
	pending := c.pending
	c.pending = nil
	c.pendingMu.Unlock()
	for _, data := range pending {
		c.dispatch(ref, data)
	}

	// The session may have died between Build and attach.
	if c.closedEarly.Load() {
		c.server.conns.Deregister(key)
	}
}

// HandlePacket implements session.InboundHandler.
func (c *clientHandler) HandlePacket(data []byte) {
	ref := c.sess.Load()
	if ref == nil {
		queued := make([]byte, len(data))
		copy(queued, data)
		c.pendingMu.Lock()
		c.pending = append(c.pending, queued)
		c.pendingMu.Unlock()
		return
	}
	c.dispatch(ref, data)
}

func (c *clientHandler) dispatch(ref *sessionRef, data []byte) {

	var req Request
	if err := ref.sess.Encoding().Unmarshal(data, &req); err != nil {
		c.server.logger.Warn("malformed client request", "remote", c.remote, "error", err)
		c.reply(ref, ErrorReply{Type: "error", Message: "malformed request"})
		return
	}

	ident := registry.PropertyIdent{Entity: req.Entity, Name: req.Property}
	prop, ok := c.server.lookupProperty(ident)
	if !ok {
		c.replyError(ref, ident, "unknown property")
		return
	}

	switch req.Type {
	case RequestGet:
		value, err := prop.Value()
		if err != nil {
			c.replyError(ref, ident, "property gone")
			return
		}
		c.deliver(ref, registry.ChangeUpdate(ident, value))

	case RequestSet:
		if err := prop.SetValue(req.Value); err != nil {
			c.replyError(ref, ident, "invalid value")
		}

	case RequestSubscribe:
		if err := prop.Subscribe(ref.key); err != nil {
			c.replyError(ref, ident, "subscribe failed")
			return
		}
		// Subscribers get the current value up front so they never render
		// stale state while waiting for the first change.
		if value, err := prop.Value(); err == nil {
			c.deliver(ref, registry.ChangeUpdate(ident, value))
		}

	case RequestUnsubscribe:
		if err := prop.Unsubscribe(ref.key); err != nil {
			c.replyError(ref, ident, "unsubscribe failed")
		}

	default:
		c.replyError(ref, ident, "unknown request type "+req.Type)
	}
}

// HandleClose implements session.InboundHandler. Deregistration drops
// every subscription the client held.
func (c *clientHandler) HandleClose(err error) {
	ref := c.sess.Load()
	if ref == nil {
		c.closedEarly.Store(true)
		return
	}
	c.server.conns.Deregister(ref.key)
	if err != nil {
		c.server.logger.Info("client disconnected", "remote", c.remote, "error", err)
	} else {
		c.server.logger.Info("client disconnected", "remote", c.remote)
	}
}

func (c *clientHandler) deliver(ref *sessionRef, update registry.Update) {
	if err := c.server.conns.Deliver(ref.key, update); err != nil {
		c.server.logger.Warn("reply delivery failed", "remote", c.remote, "error", err)
	}
}

func (c *clientHandler) replyError(ref *sessionRef, ident registry.PropertyIdent, message string) {
	c.reply(ref, ErrorReply{
		Type:     "error",
		Entity:   ident.Entity,
		Property: ident.Name,
		Message:  message,
	})
}

func (c *clientHandler) reply(ref *sessionRef, e ErrorReply) {
	data, err := ref.sess.Encoding().Marshal(e)
	if err != nil {
		return
	}
	if err := ref.sess.SendPacket(data); err != nil {
		c.server.logger.Debug("error reply failed", "remote", c.remote, "error", err)
	}
}
