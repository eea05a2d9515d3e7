// Package property implements the named, typed, observable attributes that
// make up the externally visible simulation state. A Property validates
// writes against its declared kind and optional numeric range, and fans
// each committed write out to every subscribed connection through the
// registries.
package property

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/openstarscape/starsync/encodable"
	"github.com/openstarscape/starsync/errors"
	"github.com/openstarscape/starsync/registry"
)

// FeedPublisher mirrors committed changes to an external event feed.
// Implementations must be non-blocking; a nil publisher disables mirroring.
type FeedPublisher interface {
	PublishChange(ident registry.PropertyIdent, value encodable.Value)
	PublishRemoval(ident registry.PropertyIdent)
}

// Config declares a property. Kind is the only accepted value kind, with
// two coercions: KindScalar accepts Int, KindVector accepts a coercible
// numeric list. Min/Max bound Int and Scalar values when set.
type Config struct {
	Entity  string
	Name    string
	Kind    encodable.Kind
	Initial encodable.Value
	Min     *float64
	Max     *float64
}

// Deps holds the shared registries a property fans out through. Subs and
// Conns are required; Feed and Logger may be nil.
type Deps struct {
	Subs   *registry.SubscriptionRegistry
	Conns  *registry.ConnectionRegistry
	Feed   FeedPublisher
	Logger *slog.Logger
}

// Property is one observable attribute of one entity. All operations on a
// single Property serialize on its mutex; distinct Properties never
// contend. After Finalize every operation fails with ErrPropertyGone.
type Property struct {
	ident registry.PropertyIdent
	kind  encodable.Kind
	min   *float64
	max   *float64

	deps   Deps
	logger *slog.Logger

	mu        sync.Mutex
	value     encodable.Value
	finalized bool
}

// New creates a live property after validating the initial value against
// the declared constraints.
func New(cfg Config, deps Deps) (*Property, error) {
	if cfg.Entity == "" || cfg.Name == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig,
			"Property", "New", "identity check")
	}
	if deps.Subs == nil || deps.Conns == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig,
			"Property", "New", "registry dependency check")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "property")
	}

	p := &Property{
		ident:  registry.PropertyIdent{Entity: cfg.Entity, Name: cfg.Name},
		kind:   cfg.Kind,
		min:    cfg.Min,
		max:    cfg.Max,
		deps:   deps,
		logger: logger.With("property", cfg.Entity+"."+cfg.Name),
	}
	if err := p.validate(cfg.Initial); err != nil {
		return nil, err
	}
	p.value = cfg.Initial
	return p, nil
}

// Ident returns the property's identity.
func (p *Property) Ident() registry.PropertyIdent {
	return p.ident
}

// Value returns the current value. Fails with ErrPropertyGone after
// Finalize; never fails while the property is live.
func (p *Property) Value() (encodable.Value, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.finalized {
		return encodable.Value{}, errors.WrapInvalid(errors.ErrPropertyGone,
			"Property", "Value", "liveness check")
	}
	return p.value, nil
}

// SetValue validates and commits a new value, then delivers exactly one
// change notification to each subscribed connection. A validation failure
// leaves the stored value untouched. Notifications are delivered under the
// property mutex so each subscriber observes values in commit order.
func (p *Property) SetValue(v encodable.Value) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.finalized {
		return errors.WrapInvalid(errors.ErrPropertyGone,
			"Property", "SetValue", "liveness check")
	}
	if err := p.validate(v); err != nil {
		return err
	}
	p.value = v

	update := registry.ChangeUpdate(p.ident, v)
	for _, key := range p.deps.Subs.Subscribers(p.ident) {
		if err := p.deps.Conns.Deliver(key, update); err != nil {
			p.logger.Warn("change notification failed", "key", key, "error", err)
		}
	}
	if p.deps.Feed != nil {
		p.deps.Feed.PublishChange(p.ident, v)
	}
	return nil
}

// Subscribe registers a connection for change notifications. Idempotent:
// re-subscribing an already subscribed key is a successful no-op.
func (p *Property) Subscribe(key registry.ConnectionKey) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.finalized {
		return errors.WrapInvalid(errors.ErrPropertyGone,
			"Property", "Subscribe", "liveness check")
	}
	if !key.Valid() {
		return errors.WrapInvalid(errors.ErrStaleConnection,
			"Property", "Subscribe", "key check")
	}
	p.deps.Subs.Subscribe(key, p.ident)
	return nil
}

// Unsubscribe removes a connection from the subscriber set. Idempotent:
// removing an absent key is a successful no-op.
func (p *Property) Unsubscribe(key registry.ConnectionKey) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.finalized {
		return errors.WrapInvalid(errors.ErrPropertyGone,
			"Property", "Unsubscribe", "liveness check")
	}
	p.deps.Subs.Unsubscribe(key, p.ident)
	return nil
}

// Finalize irreversibly retires the property: current subscribers receive
// one removal notification, the subscription entries are dropped, and all
// later operations fail with ErrPropertyGone. Safe to call more than once.
func (p *Property) Finalize() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.finalized {
		return
	}
	p.finalized = true
	p.value = encodable.Value{}

	removal := registry.RemovalUpdate(p.ident)
	for _, key := range p.deps.Subs.DropProperty(p.ident) {
		if err := p.deps.Conns.Deliver(key, removal); err != nil {
			p.logger.Warn("removal notification failed", "key", key, "error", err)
		}
	}
	if p.deps.Feed != nil {
		p.deps.Feed.PublishRemoval(p.ident)
	}
	p.logger.Debug("property finalized")
}

// validate checks a candidate value against the declared kind and range.
func (p *Property) validate(v encodable.Value) error {
	ok := v.Kind() == p.kind
	if !ok {
		switch p.kind {
		case encodable.KindScalar:
			ok = v.Kind() == encodable.KindInt
		case encodable.KindVector:
			if _, err := v.AsVector(); err == nil {
				ok = true
			}
		}
	}
	if !ok {
		return errors.WrapInvalid(errors.ErrInvalidValue, "Property", "SetValue",
			fmt.Sprintf("kind check: want %s, got %s", p.kind, v.Kind()))
	}

	if p.min != nil || p.max != nil {
		if f, err := v.AsScalar(); err == nil {
			if p.min != nil && f < *p.min {
				return errors.WrapInvalid(errors.ErrInvalidValue, "Property", "SetValue",
					fmt.Sprintf("range check: %g below minimum %g", f, *p.min))
			}
			if p.max != nil && f > *p.max {
				return errors.WrapInvalid(errors.ErrInvalidValue, "Property", "SetValue",
					fmt.Sprintf("range check: %g above maximum %g", f, *p.max))
			}
		}
	}
	return nil
}
