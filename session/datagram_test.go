package session

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openstarscape/starsync/encodable"
	"github.com/openstarscape/starsync/errors"
)

// startEndpoint runs a datagram endpoint that builds a session for every
// new peer and reports it on the returned channel.
func startEndpoint(t *testing.T, handler InboundHandler) (*DatagramEndpoint, chan Session) {
	t.Helper()

	sessions := make(chan Session, 4)
	endpoint := NewDatagramEndpoint(DatagramEndpointDeps{
		Addr: "127.0.0.1:0",
		Accept: func(_ string, b Builder) {
			sess, err := b.Build(handler)
			require.NoError(t, err)
			sessions <- sess
		},
	})
	require.NoError(t, endpoint.Start(t.Context()))
	t.Cleanup(func() { _ = endpoint.Stop(time.Second) })
	return endpoint, sessions
}

func dialEndpoint(t *testing.T, endpoint *DatagramEndpoint) *net.UDPConn {
	t.Helper()
	raddr, err := net.ResolveUDPAddr("udp", endpoint.LocalAddr())
	require.NoError(t, err)
	conn, err := net.DialUDP("udp", nil, raddr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestDatagramEndpoint_FirstPacketBuildsSessionAndIsReplayed(t *testing.T) {
	handler := newCaptureHandler()
	endpoint, sessions := startEndpoint(t, handler)

	client := dialEndpoint(t, endpoint)
	_, err := client.Write([]byte("first"))
	require.NoError(t, err)

	select {
	case <-sessions:
	case <-time.After(2 * time.Second):
		t.Fatal("peer was not accepted")
	}

	require.Eventually(t, func() bool {
		return len(handler.received()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "first", string(handler.received()[0]))
}

func TestDatagramSession_SendReachesClient(t *testing.T) {
	endpoint, sessions := startEndpoint(t, newCaptureHandler())

	client := dialEndpoint(t, endpoint)
	_, err := client.Write([]byte("hi"))
	require.NoError(t, err)

	var sess Session
	select {
	case sess = <-sessions:
	case <-time.After(2 * time.Second):
		t.Fatal("peer was not accepted")
	}

	require.NoError(t, sess.SendPacket([]byte("pong")))

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 64)
	n, err := client.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(buf[:n]))
}

func TestDatagramSession_Capabilities(t *testing.T) {
	endpoint, sessions := startEndpoint(t, newCaptureHandler())

	client := dialEndpoint(t, endpoint)
	_, err := client.Write([]byte("x"))
	require.NoError(t, err)
	sess := <-sessions

	assert.Equal(t, KindDatagram, sess.Kind())
	assert.Equal(t, encodable.EncodingCBOR, sess.Encoding())
	assert.Equal(t, maxDatagramPayload, sess.MaxPacketLen())
}

func TestDatagramSession_OversizePayloadRejectedBeforeIO(t *testing.T) {
	endpoint, sessions := startEndpoint(t, newCaptureHandler())

	client := dialEndpoint(t, endpoint)
	_, err := client.Write([]byte("x"))
	require.NoError(t, err)
	sess := <-sessions

	err = sess.SendPacket(make([]byte, maxDatagramPayload+1))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrPayloadTooLarge)
}

func TestDatagramSession_SendAfterCloseFails(t *testing.T) {
	endpoint, sessions := startEndpoint(t, newCaptureHandler())

	client := dialEndpoint(t, endpoint)
	_, err := client.Write([]byte("x"))
	require.NoError(t, err)
	sess := <-sessions

	require.NoError(t, sess.Close())
	err = sess.SendPacket([]byte("late"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrSessionClosed)
}

func TestDatagramEndpoint_StopIsBoundedAndRepeatable(t *testing.T) {
	handler := newCaptureHandler()
	endpoint, _ := startEndpoint(t, handler)

	start := time.Now()
	require.NoError(t, endpoint.Stop(time.Second))
	assert.Less(t, time.Since(start), time.Second)

	// Second stop is a no-op.
	require.NoError(t, endpoint.Stop(time.Second))
	assert.False(t, endpoint.Health().Healthy)
}

func TestDatagramEndpoint_StopClosesPeerSessions(t *testing.T) {
	handler := newCaptureHandler()
	endpoint, sessions := startEndpoint(t, handler)

	client := dialEndpoint(t, endpoint)
	_, err := client.Write([]byte("x"))
	require.NoError(t, err)
	<-sessions

	require.NoError(t, endpoint.Stop(time.Second))

	select {
	case err := <-handler.closed:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("peer close was not reported")
	}
}

func TestDatagramEndpoint_StartWithoutAcceptFails(t *testing.T) {
	endpoint := NewDatagramEndpoint(DatagramEndpointDeps{Addr: "127.0.0.1:0"})
	err := endpoint.Start(t.Context())
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrMissingConfig)
}

func TestDatagramBuilder_SingleUse(t *testing.T) {
	handler := newCaptureHandler()

	builders := make(chan Builder, 1)
	endpoint := NewDatagramEndpoint(DatagramEndpointDeps{
		Addr:   "127.0.0.1:0",
		Accept: func(_ string, b Builder) { builders <- b },
	})
	require.NoError(t, endpoint.Start(t.Context()))
	t.Cleanup(func() { _ = endpoint.Stop(time.Second) })

	client := dialEndpoint(t, endpoint)
	_, err := client.Write([]byte("x"))
	require.NoError(t, err)

	var builder Builder
	select {
	case builder = <-builders:
	case <-time.After(2 * time.Second):
		t.Fatal("builder was not offered")
	}

	sess, err := builder.Build(handler)
	require.NoError(t, err)
	defer sess.Close()

	_, err = builder.Build(handler)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrBuilderConsumed)
}
