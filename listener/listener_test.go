package listener

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"io"
	"math/big"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openstarscape/starsync/component"
	"github.com/openstarscape/starsync/errors"
	"github.com/openstarscape/starsync/pkg/tlsutil"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok")
	})
}

func startListener(t *testing.T, cfg Config) *Listener {
	t.Helper()
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:0"
	}
	l, err := New(cfg, Deps{})
	require.NoError(t, err)
	require.NoError(t, l.Start(t.Context()))
	t.Cleanup(func() { _ = l.Close() })
	return l
}

// noRedirectClient reports redirects instead of following them.
func noRedirectClient() *http.Client {
	return &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
		Timeout: 2 * time.Second,
	}
}

func TestListener_PlainServesHandler(t *testing.T) {
	l := startListener(t, Config{Name: "plain", Mode: ModePlain, Handler: okHandler()})
	assert.Equal(t, component.StateRunning, l.State())

	resp, err := http.Get("http://" + l.Addr() + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))
}

func TestListener_RedirectPreservesAuthorityPathAndQuery(t *testing.T) {
	l := startListener(t, Config{Name: "redirect", Mode: ModeRedirect})
	client := noRedirectClient()

	cases := []struct {
		path string
		want string
	}{
		{"/a/b?x=1", "https://example.com/a/b?x=1"},
		{"/", "https://example.com/"},
		{"/deep/path", "https://example.com/deep/path"},
	}
	for _, tc := range cases {
		req, err := http.NewRequest(http.MethodGet, "http://"+l.Addr()+tc.path, nil)
		require.NoError(t, err)
		req.Host = "example.com"

		resp, err := client.Do(req)
		require.NoError(t, err, tc.path)
		resp.Body.Close()

		assert.Equal(t, http.StatusMovedPermanently, resp.StatusCode, tc.path)
		assert.Equal(t, tc.want, resp.Header.Get("Location"), tc.path)
	}
}

func TestListener_RedirectStripsPlainPort(t *testing.T) {
	l := startListener(t, Config{Name: "redirect", Mode: ModeRedirect})

	req, err := http.NewRequest(http.MethodGet, "http://"+l.Addr()+"/x", nil)
	require.NoError(t, err)
	req.Host = "example.com:8080"

	resp, err := noRedirectClient().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "https://example.com/x", resp.Header.Get("Location"))
}

func TestListener_RedirectWithoutHostIs404(t *testing.T) {
	l := startListener(t, Config{Name: "redirect", Mode: ModeRedirect})

	// HTTP/1.0 is the only way to reach the handler with no Host at all;
	// the HTTP/1.1 grammar requires the header.
	conn, err := net.Dial("tcp", l.Addr())
	require.NoError(t, err)
	defer conn.Close()

	_, err = fmt.Fprint(conn, "GET /a HTTP/1.0\r\n\r\n")
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	status, err := io.ReadAll(conn)
	require.NoError(t, err)
	assert.Contains(t, string(status), "404")
}

func TestListener_PanickingHandlerGets500WithBody(t *testing.T) {
	panicky := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})
	l := startListener(t, Config{Name: "plain", Mode: ModePlain, Handler: panicky})

	resp, err := http.Get("http://" + l.Addr() + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, string(body), "boom")
}

func TestListener_BindConflictFailsFast(t *testing.T) {
	first, err := New(Config{Name: "a", Mode: ModePlain, Handler: okHandler(), Addr: "127.0.0.1:0"}, Deps{})
	require.NoError(t, err)
	defer first.Close()

	_, err = New(Config{Name: "b", Mode: ModePlain, Handler: okHandler(), Addr: first.Addr()}, Deps{})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrBindFailed)
}

func TestListener_StopWithOpenConnectionCompletesWithinBound(t *testing.T) {
	l := startListener(t, Config{Name: "plain", Mode: ModePlain, Handler: okHandler()})

	// An idle connection holds the server open past the graceful drain.
	conn, err := net.Dial("tcp", l.Addr())
	require.NoError(t, err)
	defer conn.Close()

	start := time.Now()
	require.NoError(t, l.Stop(DefaultShutdownTimeout))
	elapsed := time.Since(start)

	assert.Less(t, elapsed, time.Second)
	assert.Equal(t, component.StateStopped, l.State())
}

func TestListener_StopWithHungHandlerNeverExceedsTimeoutTwice(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	hung := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		close(entered)
		<-release
	})
	l := startListener(t, Config{Name: "plain", Mode: ModePlain, Handler: hung})
	t.Cleanup(func() { close(release) })

	// Park a request inside the handler so the graceful drain runs its
	// deadline all the way down before the hard close.
	go func() {
		resp, err := http.Get("http://" + l.Addr() + "/")
		if err == nil {
			resp.Body.Close()
		}
	}()
	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("request never reached the handler")
	}

	start := time.Now()
	require.NoError(t, l.Stop(DefaultShutdownTimeout))
	elapsed := time.Since(start)

	// Both phases share one deadline, so the drain and the serve-goroutine
	// wait together stay inside a single timeout plus scheduling slack.
	assert.Less(t, elapsed, DefaultShutdownTimeout+150*time.Millisecond)
	assert.Equal(t, component.StateStopped, l.State())
}

func TestListener_DoubleStopIsSafe(t *testing.T) {
	l := startListener(t, Config{Name: "plain", Mode: ModePlain, Handler: okHandler()})

	require.NoError(t, l.Stop(DefaultShutdownTimeout))
	require.NoError(t, l.Stop(DefaultShutdownTimeout))
	assert.Equal(t, component.StateStopped, l.State())
}

func TestListener_TLSServesHandler(t *testing.T) {
	certFile, keyFile := writeTestCertificate(t)
	l := startListener(t, Config{
		Name:    "tls",
		Mode:    ModeTLS,
		Handler: okHandler(),
		TLS:     &tlsutil.ServerConfig{CertFile: certFile, KeyFile: keyFile},
	})

	client := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
		Timeout: 2 * time.Second,
	}
	resp, err := client.Get("https://" + l.Addr() + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestListener_TLSWithoutCertFails(t *testing.T) {
	_, err := New(Config{
		Name: "tls", Mode: ModeTLS, Handler: okHandler(), Addr: "127.0.0.1:0",
		TLS: &tlsutil.ServerConfig{CertFile: "/nonexistent/cert.pem", KeyFile: "/nonexistent/key.pem"},
	}, Deps{})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrBindFailed)
}

// writeTestCertificate generates a self-signed localhost certificate.
func writeTestCertificate(t *testing.T) (certFile, keyFile string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
		DNSNames:     []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	require.NoError(t, err)

	dir := t.TempDir()
	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")

	certOut, err := os.Create(certFile)
	require.NoError(t, err)
	require.NoError(t, pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: der}))
	require.NoError(t, certOut.Close())

	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)
	keyOut, err := os.Create(keyFile)
	require.NoError(t, err)
	require.NoError(t, pem.Encode(keyOut, &pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}))
	require.NoError(t, keyOut.Close())
	return certFile, keyFile
}
