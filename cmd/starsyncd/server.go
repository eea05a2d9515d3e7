package main

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/openstarscape/starsync/config"
	"github.com/openstarscape/starsync/encodable"
	"github.com/openstarscape/starsync/eventfeed"
	"github.com/openstarscape/starsync/health"
	"github.com/openstarscape/starsync/listener"
	"github.com/openstarscape/starsync/metric"
	"github.com/openstarscape/starsync/pkg/tlsutil"
	"github.com/openstarscape/starsync/property"
	"github.com/openstarscape/starsync/registry"
	"github.com/openstarscape/starsync/session"
)

// server owns every long-lived component and tears them down in reverse
// start order.
type server struct {
	cfg    *config.Config
	logger *slog.Logger

	metrics     *metric.Registry
	sessMetrics *session.Metrics
	subs        *registry.SubscriptionRegistry
	conns       *registry.ConnectionRegistry
	feed        *eventfeed.Feed

	propsMu sync.RWMutex
	props   map[registry.PropertyIdent]*property.Property

	listeners []*listener.Listener
	datagram  *session.DatagramEndpoint
	monitor   *health.Monitor
	upgrader  websocket.Upgrader

	startTime time.Time
}

func newServer(cfg *config.Config, logger *slog.Logger) (*server, error) {
	metrics := metric.NewRegistry()
	subs := registry.NewSubscriptionRegistry(metrics.Core)

	sessMetrics, err := session.NewMetrics(metrics)
	if err != nil {
		return nil, err
	}

	s := &server{
		cfg:         cfg,
		logger:      logger,
		metrics:     metrics,
		sessMetrics: sessMetrics,
		subs:        subs,
		conns: registry.NewConnectionRegistry(registry.ConnectionRegistryDeps{
			Subs:   subs,
			Core:   metrics.Core,
			Logger: logger.With("component", "connection-registry"),
		}),
		props:   make(map[registry.PropertyIdent]*property.Property),
		monitor: health.NewMonitor(),
	}

	if cfg.Nats.URL != "" {
		feed, err := eventfeed.Connect(eventfeed.Deps{
			URL:    cfg.Nats.URL,
			Name:   cfg.Nats.Name,
			Logger: logger.With("component", "eventfeed"),
			Core:   metrics.Core,
		})
		if err != nil {
			return nil, err
		}
		s.feed = feed
		s.monitor.Register("eventfeed", feed)
	}

	if err := s.buildListeners(); err != nil {
		s.Shutdown()
		return nil, err
	}
	if cfg.Datagram.Addr != "" {
		s.datagram = session.NewDatagramEndpoint(session.DatagramEndpointDeps{
			Addr:    cfg.Datagram.Addr,
			Accept:  s.acceptDatagramPeer,
			Logger:  logger.With("component", "datagram-endpoint"),
			Metrics: s.sessMetrics,
		})
		s.monitor.Register("datagram", s.datagram)
	}

	s.registerStatusProperties()
	return s, nil
}

func (s *server) buildListeners() error {
	for _, lc := range s.cfg.Listeners {
		cfg := listener.Config{
			Name:            lc.Name,
			Addr:            lc.Addr,
			ShutdownTimeout: s.cfg.Shutdown.Timeout,
		}
		switch lc.Mode {
		case config.ModePlain:
			cfg.Mode = listener.ModePlain
			cfg.Handler = s.routes()
		case config.ModeTLS:
			cfg.Mode = listener.ModeTLS
			cfg.Handler = s.routes()
			cfg.TLS = &tlsutil.ServerConfig{CertFile: lc.CertFile, KeyFile: lc.KeyFile}
		case config.ModeRedirect:
			cfg.Mode = listener.ModeRedirect
		}

		l, err := listener.New(cfg, listener.Deps{
			Logger: s.logger,
			Core:   s.metrics.Core,
		})
		if err != nil {
			return err
		}
		s.listeners = append(s.listeners, l)
	}

	if s.cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		mux.Handle(s.cfg.Metrics.Path, s.metrics.Handler())
		l, err := listener.New(listener.Config{
			Name:    "metrics",
			Addr:    s.cfg.Metrics.Addr,
			Mode:    listener.ModePlain,
			Handler: mux,
		}, listener.Deps{Logger: s.logger, Core: s.metrics.Core})
		if err != nil {
			return err
		}
		s.listeners = append(s.listeners, l)
	}
	return nil
}

// routes serves the WebSocket upgrade endpoint and the health check.
func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleUpgrade)
	mux.Handle("/healthz", s.monitor.Handler())
	return mux
}

// handleUpgrade negotiates an inbound HTTP request into a registered
// WebSocket session driven by a client request dispatcher.
func (s *server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	builder := session.NewWebSocketBuilder(conn,
		s.logger.With("component", "websocket-session", "remote", r.RemoteAddr),
		s.sessMetrics)
	s.attachClient(r.RemoteAddr, builder)
}

// acceptDatagramPeer is the datagram endpoint's accept callback.
func (s *server) acceptDatagramPeer(remote string, builder session.Builder) {
	s.attachClient(remote, builder)
}

// attachClient builds the session, registers it, and wires its inbound
// traffic to the request dispatcher. The session's close event deregisters
// it, which also drops all of its subscriptions.
func (s *server) attachClient(remote string, builder session.Builder) {
	client := &clientHandler{server: s, remote: remote}
	sess, err := builder.Build(client)
	if err != nil {
		s.logger.Warn("session build failed", "remote", remote, "error", err)
		return
	}
	client.attach(sess, s.conns.Register(sess))
	s.logger.Info("client connected", "remote", remote, "transport", sess.Kind().String())
}

// Start brings up the datagram endpoint and every listener.
func (s *server) Start() error {
	ctx := context.Background()
	s.startTime = time.Now()

	if s.datagram != nil {
		if err := s.datagram.Start(ctx); err != nil {
			return err
		}
	}
	for _, l := range s.listeners {
		if err := l.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Shutdown stops everything in reverse start order: listeners first so no
// new sessions arrive, then live sessions, then the feed. Safe on every
// exit path, including partial construction.
func (s *server) Shutdown() {
	timeout := s.cfg.Shutdown.Timeout
	if timeout <= 0 {
		timeout = listener.DefaultShutdownTimeout
	}

	for i := len(s.listeners) - 1; i >= 0; i-- {
		_ = s.listeners[i].Stop(timeout)
	}
	if s.datagram != nil {
		if err := s.datagram.Stop(timeout); err != nil {
			s.logger.Warn("datagram endpoint shutdown timed out", "error", err)
		}
	}

	s.conns.CloseAll()

	s.propsMu.Lock()
	props := make([]*property.Property, 0, len(s.props))
	for _, p := range s.props {
		props = append(props, p)
	}
	s.props = make(map[registry.PropertyIdent]*property.Property)
	s.propsMu.Unlock()
	for _, p := range props {
		p.Finalize()
	}

	if err := s.feed.Close(); err != nil {
		s.logger.Warn("event feed close failed", "error", err)
	}
	s.logger.Info("server stopped")
}

// registerStatusProperties publishes the server's own observable state so
// a fresh deployment has something to synchronize before a simulation
// attaches.
func (s *server) registerStatusProperties() {
	deps := property.Deps{
		Subs:   s.subs,
		Conns:  s.conns,
		Feed:   s.feed,
		Logger: s.logger,
	}

	uptime, err := property.New(property.Config{
		Entity: "server", Name: "uptime",
		Kind:    encodable.KindScalar,
		Initial: encodable.Scalar(0),
	}, deps)
	if err != nil {
		return
	}
	s.addProperty(uptime)

	clients, err := property.New(property.Config{
		Entity: "server", Name: "clients",
		Kind:    encodable.KindScalar,
		Initial: encodable.Int(0),
	}, deps)
	if err != nil {
		return
	}
	s.addProperty(clients)
	go s.publishStatus(uptime, clients)
}

// publishStatus refreshes the status properties once a second.
func (s *server) publishStatus(uptime, clients *property.Property) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		if err := uptime.SetValue(encodable.Scalar(time.Since(s.startTime).Seconds())); err != nil {
			return // finalized on shutdown
		}
		_ = clients.SetValue(encodable.Int(int64(s.conns.ActiveCount())))
	}
}

func (s *server) addProperty(p *property.Property) {
	s.propsMu.Lock()
	s.props[p.Ident()] = p
	s.propsMu.Unlock()
}

func (s *server) lookupProperty(ident registry.PropertyIdent) (*property.Property, bool) {
	s.propsMu.RLock()
	defer s.propsMu.RUnlock()
	p, ok := s.props[ident]
	return p, ok
}
