package server

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Leaseback/commsProject/pkg/session"
	"github.com/Leaseback/commsProject/pkg/wire"
)

func startTestServer(t *testing.T, mutate func(*Config)) *Server {
	t.Helper()

	config := DefaultConfig()
	config.ControlAddr = "127.0.0.1:0"
	config.MediaAddr = "127.0.0.1:0"
	config.Logger = zerolog.Nop()
	if mutate != nil {
		mutate(&config)
	}

	srv := New(config)
	require.NoError(t, srv.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})
	return srv
}

func controlURL(srv *Server) string {
	return fmt.Sprintf("ws://%s/ws", srv.ControlAddr())
}

func dialTestClient(t *testing.T, srv *Server, mediaPort int, mutate func(*session.ClientConfig)) *session.Client {
	t.Helper()

	config := session.ClientConfig{
		ServerURL:         controlURL(srv),
		MediaPort:         mediaPort,
		HeartbeatInterval: 100 * time.Millisecond,
		HandshakeTimeout:  2 * time.Second,
	}
	if mutate != nil {
		mutate(&config)
	}

	client, err := session.NewClient(config)
	require.NoError(t, err)
	t.Cleanup(client.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, client.Dial(ctx))
	return client
}

func TestServerHandshakeAndPairing(t *testing.T) {
	srv := startTestServer(t, nil)

	var joinedA atomic.Value
	clientA := dialTestClient(t, srv, 40100, func(c *session.ClientConfig) {
		c.OnPeerJoined = func(peer wire.PeerInfo) { joinedA.Store(peer) }
	})
	assert.NotEmpty(t, clientA.SessionID())
	assert.NotZero(t, clientA.MediaSSRC())
	assert.Nil(t, clientA.Peer(), "первый клиент ждет пару")

	clientB := dialTestClient(t, srv, 40101, nil)

	// Второй клиент узнает о паре из handshake_ack
	peerOfB := clientB.Peer()
	require.NotNil(t, peerOfB)
	assert.Equal(t, 40100, peerOfB.MediaPort)
	assert.Equal(t, clientA.MediaSSRC(), peerOfB.SSRC)

	// Первый - из peer_joined
	assert.Eventually(t, func() bool {
		peer, ok := joinedA.Load().(wire.PeerInfo)
		return ok && peer.MediaPort == 40101
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, session.StateActive, clientA.State())
	assert.Equal(t, session.StateActive, clientB.State())
	assert.Equal(t, 2, srv.Registry().Len())
}

func TestServerRejectsMalformedFirstMessage(t *testing.T) {
	srv := startTestServer(t, nil)

	conn, _, err := websocket.DefaultDialer.Dial(controlURL(srv), nil)
	require.NoError(t, err)
	defer conn.Close()

	// Первым сообщением обязан быть handshake_request
	data, err := wire.EncodeMessage(wire.MsgHeartbeat, wire.Heartbeat{SessionID: "x"})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	envelope, err := wire.DecodeMessage(raw)
	require.NoError(t, err)
	require.Equal(t, wire.MsgHandshakeRejected, envelope.Type)

	var rejected wire.HandshakeRejected
	require.NoError(t, envelope.DecodePayload(&rejected))
	assert.Equal(t, wire.RejectMalformed, rejected.Reason)
	assert.Zero(t, srv.Registry().Len())
}

func TestServerCapacityRejection(t *testing.T) {
	srv := startTestServer(t, func(c *Config) { c.Capacity = 1 })

	dialTestClient(t, srv, 40100, nil)

	client, err := session.NewClient(session.ClientConfig{
		ServerURL: controlURL(srv),
		MediaPort: 40101,
	})
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err = client.Dial(ctx)
	require.Error(t, err)

	var rejected *session.HandshakeRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, wire.RejectCapacity, rejected.Reason)
	assert.Equal(t, 1, srv.Registry().Len())
}

func TestServerExplicitDisconnect(t *testing.T) {
	srv := startTestServer(t, nil)

	var peerLeft atomic.Int32
	clientA := dialTestClient(t, srv, 40100, nil)
	dialTestClient(t, srv, 40101, func(c *session.ClientConfig) {
		c.OnPeerLeft = func() { peerLeft.Add(1) }
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, clientA.Leave(ctx))
	assert.Equal(t, session.StateClosed, clientA.State())

	// Партнер получает ровно одно peer_left
	assert.Eventually(t, func() bool {
		return peerLeft.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, srv.Registry().Len())

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(1), peerLeft.Load())
}

func TestServerEvictsSilentSession(t *testing.T) {
	srv := startTestServer(t, func(c *Config) {
		c.HeartbeatTimeout = 300 * time.Millisecond
		c.SweepInterval = 50 * time.Millisecond
	})

	// Молчащий клиент: рукопожатие без heartbeat
	conn, _, err := websocket.DefaultDialer.Dial(controlURL(srv), nil)
	require.NoError(t, err)
	defer conn.Close()

	data, err := wire.EncodeMessage(wire.MsgHandshakeRequest, wire.HandshakeRequest{MediaPort: 40100})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	envelope, err := wire.DecodeMessage(raw)
	require.NoError(t, err)
	require.Equal(t, wire.MsgHandshakeAck, envelope.Type)

	// Активный партнер с исправным heartbeat
	var peerLeft atomic.Int32
	clientB := dialTestClient(t, srv, 40101, func(c *session.ClientConfig) {
		c.HeartbeatInterval = 50 * time.Millisecond
		c.OnPeerLeft = func() { peerLeft.Add(1) }
	})

	// Молчащий вытесняется и получает session_terminated{timeout}
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	terminated := readUntilType(t, conn, wire.MsgSessionTerminated)
	var term wire.SessionTerminated
	require.NoError(t, terminated.DecodePayload(&term))
	assert.Equal(t, wire.ReasonTimeout, term.Reason)

	// Партнер уведомлен и остается жив
	assert.Eventually(t, func() bool {
		return peerLeft.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, session.StateActive, clientB.State())
	_, ok := srv.Registry().Lookup(clientB.SessionID())
	assert.True(t, ok, "активная сессия не должна вытесняться")
}

func TestServerHeartbeatKeepsSessionAlive(t *testing.T) {
	srv := startTestServer(t, func(c *Config) {
		c.HeartbeatTimeout = 300 * time.Millisecond
		c.SweepInterval = 50 * time.Millisecond
	})

	client := dialTestClient(t, srv, 40100, func(c *session.ClientConfig) {
		c.HeartbeatInterval = 100 * time.Millisecond
	})

	// Несколько таймаутов спустя сессия жива благодаря heartbeat
	time.Sleep(time.Second)
	_, ok := srv.Registry().Lookup(client.SessionID())
	assert.True(t, ok)
	assert.Equal(t, session.StateActive, client.State())
}

func TestServerBrokenConnectionActsAsDisconnect(t *testing.T) {
	srv := startTestServer(t, nil)

	conn, _, err := websocket.DefaultDialer.Dial(controlURL(srv), nil)
	require.NoError(t, err)

	data, err := wire.EncodeMessage(wire.MsgHandshakeRequest, wire.HandshakeRequest{MediaPort: 40100})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	require.NoError(t, err)

	var peerLeft atomic.Int32
	dialTestClient(t, srv, 40101, func(c *session.ClientConfig) {
		c.OnPeerLeft = func() { peerLeft.Add(1) }
	})

	// Обрыв соединения без disconnect
	conn.Close()

	assert.Eventually(t, func() bool {
		return peerLeft.Load() == 1
	}, 3*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool {
		return srv.Registry().Len() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServerShutdownTerminatesClients(t *testing.T) {
	srv := startTestServer(t, nil)

	var reason atomic.Value
	client := dialTestClient(t, srv, 40100, func(c *session.ClientConfig) {
		c.OnTerminated = func(r string) { reason.Store(r) }
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	assert.Eventually(t, func() bool {
		r, ok := reason.Load().(string)
		return ok && r == wire.ReasonServerShutdown
	}, 2*time.Second, 10*time.Millisecond)

	select {
	case <-client.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("клиент не завершился после остановки сервера")
	}
}

func TestServerMetricsEndpoint(t *testing.T) {
	srv := startTestServer(t, nil)
	dialTestClient(t, srv, 40100, nil)

	resp, err := http.Get(fmt.Sprintf("http://%s/metrics", srv.ControlAddr()))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "comms_sessions_active 1"))
	assert.True(t, strings.Contains(string(body), "comms_sessions_total 1"))
}

// readUntilType пропускает сообщения других типов (например peer_joined)
// до появления искомого
func readUntilType(t *testing.T, conn *websocket.Conn, want wire.MessageType) *wire.Envelope {
	t.Helper()
	for {
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err)
		envelope, err := wire.DecodeMessage(raw)
		require.NoError(t, err)
		if envelope.Type == want {
			return envelope
		}
	}
}
