// Package listener binds network addresses and serves HTTP traffic for the
// synchronization server: plain HTTP (serving the WebSocket upgrade
// endpoint), TLS, and an HTTP-to-HTTPS redirect mode for deployments that
// expose both ports. Binding happens at construction so a bad address or
// certificate fails fast instead of surfacing on the first request.
package listener

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openstarscape/starsync/component"
	"github.com/openstarscape/starsync/errors"
	"github.com/openstarscape/starsync/metric"
	"github.com/openstarscape/starsync/pkg/tlsutil"
)

// DefaultShutdownTimeout bounds how long Stop waits for the serve
// goroutine after the accept loop is signalled. Past it the goroutine is
// detached with a warning rather than blocking teardown.
const DefaultShutdownTimeout = 200 * time.Millisecond

// Mode selects what a listener does with accepted connections.
type Mode int

const (
	// ModePlain serves the supplied handler over unencrypted HTTP.
	ModePlain Mode = iota
	// ModeTLS serves the supplied handler over HTTPS.
	ModeTLS
	// ModeRedirect answers every request with a redirect to the HTTPS
	// equivalent of its URL.
	ModeRedirect
)

// String returns the mode name used in config files and logs.
func (m Mode) String() string {
	switch m {
	case ModePlain:
		return "plain"
	case ModeTLS:
		return "tls"
	case ModeRedirect:
		return "redirect"
	default:
		return "unknown"
	}
}

// Config describes one listener. Handler is required for plain and TLS
// modes and ignored for redirect mode. TLS is required for ModeTLS.
type Config struct {
	Name            string
	Addr            string
	Mode            Mode
	Handler         http.Handler
	TLS             *tlsutil.ServerConfig
	ShutdownTimeout time.Duration
}

// Deps holds construction dependencies; both may be nil.
type Deps struct {
	Logger *slog.Logger
	Core   *metric.Core
}

// Listener serves one bound address until stopped. The lifecycle is
// Starting, Running, ShuttingDown, Stopped; Stop is safe to call from any
// state and any number of times.
type Listener struct {
	name    string
	mode    Mode
	ln      net.Listener
	srv     *http.Server
	timeout time.Duration

	logger *slog.Logger
	core   *metric.Core

	state    atomic.Int32
	stopOnce sync.Once
	serveErr chan error
}

var _ component.Lifecycle = (*Listener)(nil)

// New binds the address and prepares the server. Bind or certificate
// failures surface here as ErrBindFailed; nothing degrades silently.
func New(cfg Config, deps Deps) (*Listener, error) {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "listener", "listener", cfg.Name, "mode", cfg.Mode.String())

	handler := cfg.Handler
	fallback := "request handling failed"
	switch cfg.Mode {
	case ModePlain, ModeTLS:
		if handler == nil {
			return nil, errors.WrapInvalid(errors.ErrMissingConfig,
				"Listener", "New", "handler check")
		}
	case ModeRedirect:
		handler = http.HandlerFunc(redirectToHTTPS(logger))
		fallback = "Please use HTTPS instead of HTTP, automatic redirection failed"
	default:
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig,
			"Listener", "New", "mode check")
	}

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, errors.WrapFatal(errors.ErrBindFailed,
			"Listener", "New", "bind "+cfg.Addr+": "+err.Error())
	}

	if cfg.Mode == ModeTLS {
		if cfg.TLS == nil {
			_ = ln.Close()
			return nil, errors.WrapInvalid(errors.ErrMissingConfig,
				"Listener", "New", "TLS config check")
		}
		tlsConf, err := tlsutil.Load(*cfg.TLS)
		if err != nil {
			_ = ln.Close()
			return nil, errors.WrapFatal(errors.ErrBindFailed,
				"Listener", "New", "load TLS config: "+err.Error())
		}
		ln = tls.NewListener(ln, tlsConf)
	}

	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}

	l := &Listener{
		name:     cfg.Name,
		mode:     cfg.Mode,
		ln:       ln,
		timeout:  timeout,
		logger:   logger,
		core:     deps.Core,
		serveErr: make(chan error, 1),
	}
	l.srv = &http.Server{
		Handler:           recoverMiddleware(handler, logger, fallback),
		ReadHeaderTimeout: 10 * time.Second,
	}
	l.setState(component.StateStarting)
	return l, nil
}

// Start begins serving on the bound address.
func (l *Listener) Start(_ context.Context) error {
	if component.State(l.state.Load()) != component.StateStarting {
		return errors.WrapFatal(errors.ErrAlreadyStarted,
			"Listener", "Start", "state check")
	}
	l.setState(component.StateRunning)

	go func() {
		err := l.srv.Serve(l.ln)
		if err == http.ErrServerClosed {
			err = nil
		}
		l.serveErr <- err
	}()

	l.logger.Info("listener serving", "addr", l.ln.Addr().String())
	return nil
}

// Stop shuts the listener down in two phases: signal the accept loop,
// then wait at most timeout for the serve goroutine. A timeout is logged
// and absorbed so teardown of the rest of the process is never blocked by
// one stuck connection. Runs exactly once; later calls are no-ops.
func (l *Listener) Stop(timeout time.Duration) error {
	if timeout <= 0 {
		timeout = l.timeout
	}

	l.stopOnce.Do(func() {
		started := component.State(l.state.Load()) != component.StateStarting
		l.setState(component.StateShuttingDown)

		// One deadline covers both phases so Stop never blocks for more
		// than the requested timeout in total.
		deadline := time.Now().Add(timeout)
		ctx, cancel := context.WithDeadline(context.Background(), deadline)
		defer cancel()
		if err := l.srv.Shutdown(ctx); err != nil {
			// Deadline hit with connections still open; close them hard.
			_ = l.srv.Close()
		}
		// The server only knows the socket once Serve ran; close it
		// directly so a never-started listener does not leak it.
		_ = l.ln.Close()

		if started {
			// A non-positive remainder fires the timer immediately.
			select {
			case err := <-l.serveErr:
				if err != nil {
					l.logger.Error("listener serve failed", "error", err)
				} else {
					l.logger.Debug("listener shut down")
				}
			case <-time.After(time.Until(deadline)):
				l.logger.Warn("listener shutdown timed out", "timeout", timeout)
			}
		}

		l.setState(component.StateStopped)
	})
	return nil
}

// Close stops the listener with its configured timeout. Safe on every
// exit path.
func (l *Listener) Close() error {
	return l.Stop(l.timeout)
}

// Addr returns the bound address, including the resolved port when the
// config used port 0.
func (l *Listener) Addr() string {
	return l.ln.Addr().String()
}

// State returns the current lifecycle state.
func (l *Listener) State() component.State {
	return component.State(l.state.Load())
}

func (l *Listener) setState(s component.State) {
	l.state.Store(int32(s))
	if l.core != nil {
		l.core.RecordListenerState(l.name, int(s))
	}
}
