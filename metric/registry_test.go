package metric

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openstarscape/starsync/errors"
)

func TestRegistry_RegisterAndUnregister(t *testing.T) {
	r := NewRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_packets_total",
		Help: "test counter",
	})
	require.NoError(t, r.RegisterCounter("session", "packets", counter))

	assert.True(t, r.Unregister("session", "packets"))
	assert.False(t, r.Unregister("session", "packets"), "second unregister is a no-op")
}

func TestRegistry_DuplicateRegistrationFails(t *testing.T) {
	r := NewRegistry()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "test_queue_depth",
		Help: "test gauge",
	})
	require.NoError(t, r.RegisterGauge("session", "queue_depth", gauge))

	err := r.RegisterGauge("session", "queue_depth", gauge)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestRegistry_CoreMetricsExposed(t *testing.T) {
	r := NewRegistry()
	r.Core.ConnectionsActive.Set(3)
	r.Core.RecordDrop("stale_key")

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "starsync_connections_active")
}
