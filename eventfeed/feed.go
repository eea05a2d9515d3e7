// Package eventfeed mirrors committed property changes onto a NATS subject
// tree for external observers: dashboards, recorders, anything that wants
// the state stream without holding a client session. The feed is strictly
// best-effort; it never blocks or fails a property mutation.
package eventfeed

import (
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/openstarscape/starsync/component"
	"github.com/openstarscape/starsync/encodable"
	"github.com/openstarscape/starsync/errors"
	"github.com/openstarscape/starsync/metric"
	"github.com/openstarscape/starsync/registry"
)

// SubjectPrefix roots every feed subject; the full form is
// starsync.props.<entity>.<name>.
const SubjectPrefix = "starsync.props"

// Event is the JSON envelope published for each change or removal.
type Event struct {
	ID       string          `json:"id"`
	TS       time.Time       `json:"ts"`
	Entity   string          `json:"entity"`
	Property string          `json:"property"`
	Kind     string          `json:"kind"`
	Value    encodable.Value `json:"value"`
}

// Feed publishes property events to NATS. A nil *Feed is valid and
// disables mirroring, so callers never need to branch on configuration.
type Feed struct {
	conn   *nats.Conn
	logger *slog.Logger
	core   *metric.Core
}

// Deps holds construction dependencies. Logger and Core may be nil.
type Deps struct {
	URL    string
	Name   string // client name advertised to the broker
	Logger *slog.Logger
	Core   *metric.Core
}

// Connect dials the broker. Reconnection is delegated to the NATS client;
// connection state transitions only move the gauge and log.
func Connect(deps Deps) (*Feed, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "eventfeed")
	}

	f := &Feed{logger: logger, core: deps.Core}
	conn, err := nats.Connect(deps.URL,
		nats.Name(deps.Name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			f.setConnected(false)
			logger.Warn("event feed disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			f.setConnected(true)
			logger.Info("event feed reconnected", "url", nc.ConnectedUrl())
		}),
		nats.ClosedHandler(func(*nats.Conn) {
			f.setConnected(false)
		}),
	)
	if err != nil {
		return nil, errors.WrapTransient(err, "Feed", "Connect", "dial "+deps.URL)
	}

	f.conn = conn
	f.setConnected(true)
	logger.Info("event feed connected", "url", conn.ConnectedUrl())
	return f, nil
}

// PublishChange mirrors one committed value change. Publish failures are
// logged, never escalated: the feed must not interfere with delivery to
// live sessions.
func (f *Feed) PublishChange(ident registry.PropertyIdent, value encodable.Value) {
	f.publish("update", ident, value)
}

// PublishRemoval mirrors a property finalization.
func (f *Feed) PublishRemoval(ident registry.PropertyIdent) {
	f.publish("removed", ident, encodable.Null())
}

func (f *Feed) publish(kind string, ident registry.PropertyIdent, value encodable.Value) {
	if f == nil || f.conn == nil {
		return
	}

	event := Event{
		ID:       uuid.NewString(),
		TS:       time.Now().UTC(),
		Entity:   ident.Entity,
		Property: ident.Name,
		Kind:     kind,
		Value:    value,
	}
	data, err := json.Marshal(event)
	if err != nil {
		f.logger.Warn("event feed marshal failed", "property", ident, "error", err)
		return
	}

	if err := f.conn.Publish(SubjectFor(ident), data); err != nil {
		f.logger.Warn("event feed publish failed", "property", ident, "error", err)
		if f.core != nil {
			f.core.RecordError("eventfeed", "publish")
		}
		return
	}
	if f.core != nil {
		f.core.FeedPublished.Inc()
	}
}

// Close drains the connection so queued events flush before the process
// exits. Nil-safe.
func (f *Feed) Close() error {
	if f == nil || f.conn == nil {
		return nil
	}
	f.setConnected(false)
	if err := f.conn.Drain(); err != nil {
		f.conn.Close()
		return errors.WrapTransient(err, "Feed", "Close", "drain connection")
	}
	return nil
}

// Health implements component.Healther. Nil-safe: a disabled feed reports
// healthy so it never fails a readiness check.
func (f *Feed) Health() component.HealthStatus {
	status := component.HealthStatus{Healthy: true, LastCheck: time.Now()}
	if f == nil || f.conn == nil {
		return status
	}
	status.Healthy = f.conn.IsConnected()
	if !status.Healthy {
		status.LastError = "broker connection down"
	}
	return status
}

func (f *Feed) setConnected(connected bool) {
	if f.core != nil {
		f.core.RecordFeedStatus(connected)
	}
}

// SubjectFor maps a property identity to its feed subject. NATS token
// separators and wildcards inside entity or name are replaced so one
// property can never publish across another's subject.
func SubjectFor(ident registry.PropertyIdent) string {
	return SubjectPrefix + "." + subjectToken(ident.Entity) + "." + subjectToken(ident.Name)
}

var tokenSanitizer = strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_")

func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return tokenSanitizer.Replace(s)
}
