package registry

import (
	stderrors "errors"
	"log/slog"
	"sync"
	"time"

	"github.com/openstarscape/starsync/errors"
	"github.com/openstarscape/starsync/metric"
	"github.com/openstarscape/starsync/session"
)

// connSlot is one entry in the generational connection table. gen is
// bumped when the slot is vacated so keys issued for earlier occupants go
// permanently stale.
type connSlot struct {
	gen  uint32
	sess session.Session
}

// ConnectionRegistry owns the ConnectionKey to Session mapping. Keys are
// generational: after Deregister, every operation with the old key is a
// silent no-op even if the slot has been reissued to a new connection.
type ConnectionRegistry struct {
	mu    sync.RWMutex
	slots []connSlot
	free  []uint32

	subs   *SubscriptionRegistry
	core   *metric.Core
	logger *slog.Logger
}

// ConnectionRegistryDeps holds construction dependencies. Subs is
// required; Core and Logger may be nil.
type ConnectionRegistryDeps struct {
	Subs   *SubscriptionRegistry
	Core   *metric.Core
	Logger *slog.Logger
}

// NewConnectionRegistry creates an empty registry.
func NewConnectionRegistry(deps ConnectionRegistryDeps) *ConnectionRegistry {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "connection-registry")
	}
	return &ConnectionRegistry{
		subs:   deps.Subs,
		core:   deps.Core,
		logger: logger,
	}
}

// Register adds a live session and issues its key. Slots are reused
// free-list first; generation starts at 1 so the zero key is never valid.
func (r *ConnectionRegistry) Register(sess session.Session) ConnectionKey {
	r.mu.Lock()
	defer r.mu.Unlock()

	var slot uint32
	if n := len(r.free); n > 0 {
		slot = r.free[n-1]
		r.free = r.free[:n-1]
	} else {
		slot = uint32(len(r.slots))
		r.slots = append(r.slots, connSlot{})
	}

	r.slots[slot].gen++
	r.slots[slot].sess = sess

	key := ConnectionKey{slot: slot, gen: r.slots[slot].gen}
	if r.core != nil {
		r.core.ConnectionsActive.Inc()
		r.core.ConnectionsTotal.Inc()
	}
	r.logger.Debug("connection registered", "key", key, "transport", sess.Kind())
	return key
}

// Deregister removes a connection and tears down its subscriptions. The
// slot is only freed after the subscription sweep so the key cannot be
// reissued while stale subscription entries still reference it.
// Idempotent: a stale or unknown key is a no-op, and concurrent calls
// with the same key elect exactly one winner, so the active gauge moves
// once per occupancy.
func (r *ConnectionRegistry) Deregister(key ConnectionKey) {
	r.mu.Lock()
	if int(key.slot) >= len(r.slots) || r.slots[key.slot].gen != key.gen ||
		r.slots[key.slot].sess == nil {
		r.mu.Unlock()
		return
	}
	r.slots[key.slot].sess = nil
	r.mu.Unlock()

	if r.subs != nil {
		dropped := r.subs.DropConnection(key)
		if len(dropped) > 0 {
			r.logger.Debug("subscriptions dropped on disconnect",
				"key", key, "count", len(dropped))
		}
	}

	r.mu.Lock()
	// Only the winner reaches this point; bump the generation and recycle
	// the slot.
	r.slots[key.slot].gen++
	r.free = append(r.free, key.slot)
	r.mu.Unlock()

	if r.core != nil {
		r.core.ConnectionsActive.Dec()
	}
	r.logger.Debug("connection deregistered", "key", key)
}

// Session resolves a key to its live session. A stale key reports false.
func (r *ConnectionRegistry) Session(key ConnectionKey) (session.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if int(key.slot) >= len(r.slots) || r.slots[key.slot].gen != key.gen {
		return nil, false
	}
	sess := r.slots[key.slot].sess
	return sess, sess != nil
}

// ActiveCount returns the number of live registered connections.
func (r *ConnectionRegistry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, s := range r.slots {
		if s.sess != nil {
			count++
		}
	}
	return count
}

// Deliver encodes an update in the target session's encoding and sends it.
//
// A stale key is a silent nil no-op: the subscriber disconnected between
// fan-out snapshot and delivery, which is normal churn, not an error. An
// oversized envelope is dropped with ErrPayloadTooLarge. A send failure on
// a closed session deregisters the connection so later fan-outs stop
// selecting it.
func (r *ConnectionRegistry) Deliver(key ConnectionKey, update Update) error {
	sess, ok := r.Session(key)
	if !ok {
		if r.core != nil {
			r.core.RecordDrop("stale_key")
		}
		return nil
	}

	data, err := update.Encode(sess.Encoding())
	if err != nil {
		if r.core != nil {
			r.core.RecordDrop("encode_error")
		}
		return err
	}
	if len(data) > sess.MaxPacketLen() {
		if r.core != nil {
			r.core.RecordDrop("oversized")
		}
		return errors.WrapInvalid(errors.ErrPayloadTooLarge,
			"ConnectionRegistry", "Deliver", "payload size check")
	}

	start := time.Now()
	if err := sess.SendPacket(data); err != nil {
		if stderrors.Is(err, errors.ErrSessionClosed) {
			r.Deregister(key)
			if r.core != nil {
				r.core.RecordDrop("session_closed")
			}
			return nil
		}
		if r.core != nil {
			r.core.RecordError("connection-registry", "send")
		}
		return errors.WrapTransient(err, "ConnectionRegistry", "Deliver", "send packet")
	}

	if r.core != nil {
		r.core.RecordDelivery(sess.Kind().String(), time.Since(start))
	}
	return nil
}

// CloseAll closes every live session and clears the table. Used during
// server shutdown after the listeners have stopped accepting.
func (r *ConnectionRegistry) CloseAll() {
	r.mu.Lock()
	sessions := make([]session.Session, 0, len(r.slots))
	keys := make([]ConnectionKey, 0, len(r.slots))
	for slot := range r.slots {
		if r.slots[slot].sess != nil {
			sessions = append(sessions, r.slots[slot].sess)
			keys = append(keys, ConnectionKey{slot: uint32(slot), gen: r.slots[slot].gen})
		}
	}
	r.mu.Unlock()

	for i, sess := range sessions {
		if err := sess.Close(); err != nil {
			r.logger.Warn("session close failed during shutdown",
				"key", keys[i], "error", err)
		}
		r.Deregister(keys[i])
	}
}
