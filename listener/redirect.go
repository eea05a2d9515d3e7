package listener

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// redirectToHTTPS answers every request with a permanent redirect to the
// HTTPS equivalent of its URL: same authority, path, and query. A request
// with no resolvable host cannot be redirected and gets 404; a URL that
// cannot be rebuilt gets 500.
func redirectToHTTPS(logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if host == "" {
			logger.Warn("could not redirect to HTTPS: no host in request")
			w.WriteHeader(http.StatusNotFound)
			return
		}
		// Strip any explicit plain-HTTP port; the target uses the HTTPS
		// default.
		if h, _, err := splitHostPort(host); err == nil {
			host = h
		}

		target := url.URL{
			Scheme:   "https",
			Host:     host,
			Path:     r.URL.Path,
			RawQuery: r.URL.RawQuery,
		}
		targetStr := target.String()
		if !strings.HasPrefix(targetStr, "https://") {
			logger.Error("could not redirect to HTTPS: failed to build URI",
				"host", host, "path", r.URL.Path)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		logger.Debug("redirecting to HTTPS", "path", r.URL.Path)
		http.Redirect(w, r, targetStr, http.StatusMovedPermanently)
	}
}

// splitHostPort is net.SplitHostPort tolerant of a bare host.
func splitHostPort(hostport string) (host, port string, err error) {
	i := strings.LastIndexByte(hostport, ':')
	if i < 0 || strings.HasSuffix(hostport, "]") {
		return hostport, "", fmt.Errorf("no port in %q", hostport)
	}
	return hostport[:i], hostport[i+1:], nil
}

// recoverMiddleware turns a handler panic into a 500 response so one bad
// request never takes the serve goroutine down. fallback leads the
// response body; the panic value follows for the client's benefit.
func recoverMiddleware(next http.Handler, logger *slog.Logger, fallback string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Warn("request handler panicked", "path", r.URL.Path, "panic", rec)
				w.WriteHeader(http.StatusInternalServerError)
				fmt.Fprintf(w, "%s: %v", fallback, rec)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
