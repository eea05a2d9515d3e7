package registry

import (
	"hash/fnv"
	"sync"

	"github.com/openstarscape/starsync/metric"
)

// subShards is the lock shard count for both subscription indices.
// Operations on disjoint connections and properties should not serialize
// against each other.
const subShards = 16

type connShard struct {
	mu   sync.Mutex
	byKey map[ConnectionKey]map[PropertyIdent]struct{}
}

type propShard struct {
	mu      sync.Mutex
	byIdent map[PropertyIdent]map[ConnectionKey]struct{}
}

// SubscriptionRegistry is the central two-way subscription index:
// ConnectionKey to subscribed property identities (for bulk teardown on
// disconnect) and property identity to subscribed keys (for fan-out). The
// two directions are kept consistent under a fixed lock order: a
// connection shard is always taken before a property shard.
type SubscriptionRegistry struct {
	conns [subShards]connShard
	props [subShards]propShard
	core  *metric.Core
}

// NewSubscriptionRegistry creates an empty registry. core may be nil.
func NewSubscriptionRegistry(core *metric.Core) *SubscriptionRegistry {
	r := &SubscriptionRegistry{core: core}
	for i := range r.conns {
		r.conns[i].byKey = make(map[ConnectionKey]map[PropertyIdent]struct{})
	}
	for i := range r.props {
		r.props[i].byIdent = make(map[PropertyIdent]map[ConnectionKey]struct{})
	}
	return r
}

func (r *SubscriptionRegistry) connShardOf(key ConnectionKey) *connShard {
	return &r.conns[key.slot%subShards]
}

func (r *SubscriptionRegistry) propShardOf(ident PropertyIdent) *propShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(ident.Entity))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(ident.Name))
	return &r.props[h.Sum32()%subShards]
}

// Subscribe records a (property, connection) pair in both directions.
// Idempotent: re-subscribing an existing pair reports false and changes
// nothing.
func (r *SubscriptionRegistry) Subscribe(key ConnectionKey, ident PropertyIdent) bool {
	cs := r.connShardOf(key)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	idents := cs.byKey[key]
	if idents == nil {
		idents = make(map[PropertyIdent]struct{})
		cs.byKey[key] = idents
	}
	if _, exists := idents[ident]; exists {
		return false
	}
	idents[ident] = struct{}{}

	ps := r.propShardOf(ident)
	ps.mu.Lock()
	keys := ps.byIdent[ident]
	if keys == nil {
		keys = make(map[ConnectionKey]struct{})
		ps.byIdent[ident] = keys
	}
	keys[key] = struct{}{}
	ps.mu.Unlock()

	if r.core != nil {
		r.core.SubscriptionsActive.Inc()
	}
	return true
}

// Unsubscribe removes a pair from both directions. Idempotent: removing an
// absent pair reports false and is a no-op.
func (r *SubscriptionRegistry) Unsubscribe(key ConnectionKey, ident PropertyIdent) bool {
	cs := r.connShardOf(key)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	idents := cs.byKey[key]
	if _, exists := idents[ident]; !exists {
		return false
	}
	delete(idents, ident)
	if len(idents) == 0 {
		delete(cs.byKey, key)
	}

	ps := r.propShardOf(ident)
	ps.mu.Lock()
	if keys := ps.byIdent[ident]; keys != nil {
		delete(keys, key)
		if len(keys) == 0 {
			delete(ps.byIdent, ident)
		}
	}
	ps.mu.Unlock()

	if r.core != nil {
		r.core.SubscriptionsActive.Dec()
	}
	return true
}

// Subscribers returns a snapshot of the keys subscribed to a property, in
// no particular order.
func (r *SubscriptionRegistry) Subscribers(ident PropertyIdent) []ConnectionKey {
	ps := r.propShardOf(ident)
	ps.mu.Lock()
	defer ps.mu.Unlock()

	keys := ps.byIdent[ident]
	if len(keys) == 0 {
		return nil
	}
	out := make([]ConnectionKey, 0, len(keys))
	for key := range keys {
		out = append(out, key)
	}
	return out
}

// SubscriptionsOf returns a snapshot of the property identities one
// connection is subscribed to.
func (r *SubscriptionRegistry) SubscriptionsOf(key ConnectionKey) []PropertyIdent {
	cs := r.connShardOf(key)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	idents := cs.byKey[key]
	if len(idents) == 0 {
		return nil
	}
	out := make([]PropertyIdent, 0, len(idents))
	for ident := range idents {
		out = append(out, ident)
	}
	return out
}

// DropConnection removes every subscription held by one connection, in
// time proportional to that connection's subscription count. Returns the
// identities that were dropped.
func (r *SubscriptionRegistry) DropConnection(key ConnectionKey) []PropertyIdent {
	cs := r.connShardOf(key)
	cs.mu.Lock()
	defer cs.mu.Unlock()

	idents := cs.byKey[key]
	if len(idents) == 0 {
		return nil
	}
	delete(cs.byKey, key)

	dropped := make([]PropertyIdent, 0, len(idents))
	for ident := range idents {
		dropped = append(dropped, ident)

		ps := r.propShardOf(ident)
		ps.mu.Lock()
		if keys := ps.byIdent[ident]; keys != nil {
			delete(keys, key)
			if len(keys) == 0 {
				delete(ps.byIdent, ident)
			}
		}
		ps.mu.Unlock()
	}

	if r.core != nil {
		r.core.SubscriptionsActive.Sub(float64(len(dropped)))
	}
	return dropped
}

// DropProperty removes every subscription to one property, returning the
// keys that were subscribed. Called on property finalization; the property
// rejects new subscribers from that point, so no entries reappear.
func (r *SubscriptionRegistry) DropProperty(ident PropertyIdent) []ConnectionKey {
	// Snapshot first, then remove pair by pair under the normal lock
	// order (connection shard before property shard).
	keys := r.Subscribers(ident)
	for _, key := range keys {
		r.Unsubscribe(key, ident)
	}
	return keys
}
