// Package main implements starsyncd, the state-synchronization server: it
// exposes observable simulation properties to remote clients over
// WebSocket and UDP sessions, with optional TLS, HTTP-to-HTTPS
// redirection, Prometheus metrics, and a NATS event feed.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/openstarscape/starsync/config"
)

const appName = "starsyncd"

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, buf[:n])
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "path to YAML configuration (defaults apply when empty)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	validate := flag.Bool("validate", false, "validate the configuration and exit")
	flag.Parse()

	logger, err := buildLogger(*logLevel)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	cfg := config.Default()
	if *configPath != "" {
		cfg, err = config.Load(*configPath)
		if err != nil {
			return err
		}
	}
	if *validate {
		logger.Info("configuration is valid")
		return nil
	}

	srv, err := newServer(cfg, logger)
	if err != nil {
		return err
	}
	defer srv.Shutdown()

	if err := srv.Start(); err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig
	logger.Info("shutting down", "signal", received.String())
	return nil
}

func buildLogger(level string) (*slog.Logger, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("unknown log level %q: %w", level, err)
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})
	return slog.New(handler).With("app", appName), nil
}
