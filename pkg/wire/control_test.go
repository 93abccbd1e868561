package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// === ТЕСТЫ КОДИРОВАНИЯ КОНТРОЛЬНЫХ СООБЩЕНИЙ ===

// TestEncodeDecodeHandshake проверяет полный цикл кодирования рукопожатия
func TestEncodeDecodeHandshake(t *testing.T) {
	data, err := EncodeMessage(MsgHandshakeRequest, HandshakeRequest{MediaPort: 9999})
	require.NoError(t, err)

	env, err := DecodeMessage(data)
	require.NoError(t, err)
	assert.Equal(t, MsgHandshakeRequest, env.Type)

	var req HandshakeRequest
	require.NoError(t, env.DecodePayload(&req))
	assert.Equal(t, 9999, req.MediaPort)
}

// TestEncodeDecodeHandshakeAckWithPeer проверяет ack с информацией о пире
// и без нее (пара еще не подобрана)
func TestEncodeDecodeHandshakeAckWithPeer(t *testing.T) {
	tests := []struct {
		name string
		ack  HandshakeAck
	}{
		{
			name: "без пира",
			ack:  HandshakeAck{SessionID: "sess-1", MediaSSRC: 0xDEADBEEF},
		},
		{
			name: "с пиром",
			ack: HandshakeAck{
				SessionID: "sess-2",
				MediaSSRC: 42,
				Peer:      &PeerInfo{Host: "10.0.0.5", MediaPort: 7777, SSRC: 7},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := EncodeMessage(MsgHandshakeAck, tt.ack)
			require.NoError(t, err)

			env, err := DecodeMessage(data)
			require.NoError(t, err)

			var got HandshakeAck
			require.NoError(t, env.DecodePayload(&got))
			assert.Equal(t, tt.ack, got)
		})
	}
}

// TestEncodeMessageWithoutPayload проверяет сообщения без payload
// (heartbeat_ack, peer_left, disconnect_ack)
func TestEncodeMessageWithoutPayload(t *testing.T) {
	for _, msgType := range []MessageType{MsgHeartbeatAck, MsgPeerLeft, MsgDisconnectAck} {
		data, err := EncodeMessage(msgType, nil)
		require.NoError(t, err)

		env, err := DecodeMessage(data)
		require.NoError(t, err)
		assert.Equal(t, msgType, env.Type)
		assert.Empty(t, env.Payload)
	}
}

// TestDecodeMessageErrors проверяет обработку некорректных данных
func TestDecodeMessageErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "не JSON", data: []byte("HELLO\x00\x00\x23\x28")},
		{name: "пустой объект", data: []byte("{}")},
		{name: "пустые данные", data: []byte("")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeMessage(tt.data)
			assert.Error(t, err)
		})
	}
}

// TestDecodePayloadMissing проверяет ошибку при разборе отсутствующего payload
func TestDecodePayloadMissing(t *testing.T) {
	env := &Envelope{Type: MsgHeartbeat}

	var hb Heartbeat
	assert.Error(t, env.DecodePayload(&hb))
}

// TestSessionTerminatedReasons проверяет передачу кодов причин завершения
func TestSessionTerminatedReasons(t *testing.T) {
	for _, reason := range []string{ReasonTimeout, ReasonExplicit, ReasonServerShutdown} {
		data, err := EncodeMessage(MsgSessionTerminated, SessionTerminated{Reason: reason})
		require.NoError(t, err)

		env, err := DecodeMessage(data)
		require.NoError(t, err)

		var st SessionTerminated
		require.NoError(t, env.DecodePayload(&st))
		assert.Equal(t, reason, st.Reason)
	}
}
