package wire

import (
	"encoding/json"
	"fmt"
)

// MessageType определяет тип контрольного сообщения
type MessageType string

// Типы сообщений контрольного канала.
// Клиент отправляет: handshake_request, heartbeat, disconnect.
// Сервер отправляет: handshake_ack, handshake_rejected, heartbeat_ack,
// disconnect_ack, peer_joined, peer_left, session_terminated.
const (
	MsgHandshakeRequest  MessageType = "handshake_request"
	MsgHandshakeAck      MessageType = "handshake_ack"
	MsgHandshakeRejected MessageType = "handshake_rejected"
	MsgHeartbeat         MessageType = "heartbeat"
	MsgHeartbeatAck      MessageType = "heartbeat_ack"
	MsgDisconnect        MessageType = "disconnect"
	MsgDisconnectAck     MessageType = "disconnect_ack"
	MsgPeerJoined        MessageType = "peer_joined"
	MsgPeerLeft          MessageType = "peer_left"
	MsgSessionTerminated MessageType = "session_terminated"
)

// Коды причин завершения сессии для session_terminated
const (
	ReasonTimeout        = "timeout"         // эвикция по heartbeat таймауту
	ReasonExplicit       = "explicit"        // явный disconnect (или supersede новым рукопожатием)
	ReasonServerShutdown = "server_shutdown" // остановка сервера
)

// Коды причин отказа в рукопожатии для handshake_rejected
const (
	RejectCapacity  = "capacity"  // сервер достиг лимита сессий
	RejectMalformed = "malformed" // некорректный запрос рукопожатия
)

// Envelope представляет одно сообщение контрольного канала.
// Каждое сообщение передается отдельным текстовым WebSocket фреймом.
type Envelope struct {
	Type    MessageType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// PeerInfo описывает медиа адрес парного клиента
type PeerInfo struct {
	Host      string `json:"host"`       // хост парного клиента
	MediaPort int    `json:"media_port"` // UDP порт для медиа датаграмм
	SSRC      uint32 `json:"ssrc"`       // идентификатор медиа сессии пира
}

// HandshakeRequest — первое сообщение клиента после установки соединения
type HandshakeRequest struct {
	MediaPort int `json:"media_port"` // UDP порт, на котором клиент принимает медиа
}

// HandshakeAck — ответ сервера на успешное рукопожатие.
// Peer равен nil, пока сервер не подобрал пару (уведомление придет
// отдельным peer_joined).
type HandshakeAck struct {
	SessionID string    `json:"session_id"` // назначенный сервером идентификатор сессии
	MediaSSRC uint32    `json:"media_ssrc"` // SSRC для исходящих медиа пакетов клиента
	Peer      *PeerInfo `json:"peer,omitempty"`
}

// HandshakeRejected — отказ сервера в регистрации
type HandshakeRejected struct {
	Reason string `json:"reason"` // RejectCapacity или RejectMalformed
}

// Heartbeat — периодическое подтверждение живости клиента
type Heartbeat struct {
	SessionID string `json:"session_id"`
}

// HeartbeatAck — подтверждение heartbeat сервером.
// Отправляется и для неизвестной сессии: устаревший heartbeat после
// эвикции не является ошибкой.
type HeartbeatAck struct{}

// Disconnect — явный запрос клиента на завершение сессии
type Disconnect struct {
	SessionID string `json:"session_id"`
}

// DisconnectAck — подтверждение завершения сервером
type DisconnectAck struct{}

// PeerJoined — уведомление о подключении парного клиента
type PeerJoined struct {
	Peer PeerInfo `json:"peer"`
}

// PeerLeft — уведомление об уходе парного клиента.
// Отправляется ровно один раз на сессию пира.
type PeerLeft struct{}

// SessionTerminated — серверное завершение сессии получателя
type SessionTerminated struct {
	Reason string `json:"reason"`
}

// EncodeMessage сериализует контрольное сообщение в Envelope
func EncodeMessage(msgType MessageType, payload interface{}) ([]byte, error) {
	env := Envelope{Type: msgType}

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("ошибка сериализации payload %s: %w", msgType, err)
		}
		env.Payload = data
	}

	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("ошибка сериализации сообщения %s: %w", msgType, err)
	}

	return data, nil
}

// DecodeMessage разбирает сырые данные контрольного канала в Envelope
func DecodeMessage(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("ошибка разбора контрольного сообщения: %w", err)
	}

	if env.Type == "" {
		return nil, fmt.Errorf("контрольное сообщение без типа")
	}

	return &env, nil
}

// DecodePayload разбирает payload сообщения в целевую структуру
func (e *Envelope) DecodePayload(v interface{}) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("сообщение %s без payload", e.Type)
	}

	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("ошибка разбора payload %s: %w", e.Type, err)
	}

	return nil
}
