package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/looplab/fsm"
	"github.com/rs/zerolog"

	"github.com/Leaseback/commsProject/pkg/wire"
)

// Значения по умолчанию контрольного канала
const (
	// DefaultHeartbeatInterval период отправки heartbeat
	DefaultHeartbeatInterval = 30 * time.Second

	// DefaultHandshakeTimeout максимальное ожидание ответа на рукопожатие
	DefaultHandshakeTimeout = 5 * time.Second

	// defaultWriteTimeout предел записи одного контрольного сообщения
	defaultWriteTimeout = 5 * time.Second
)

// ClientConfig конфигурация клиентской сессии
type ClientConfig struct {
	// ServerURL адрес контрольного канала сервера (ws://host:port/ws)
	ServerURL string

	// MediaPort локальный UDP порт, на котором клиент принимает медиа
	MediaPort int

	// HeartbeatInterval период heartbeat (0 — по умолчанию 30s)
	HeartbeatInterval time.Duration

	// HandshakeTimeout ожидание ответа сервера на рукопожатие
	HandshakeTimeout time.Duration

	Logger zerolog.Logger

	// OnPeerJoined вызывается при подключении парного клиента
	OnPeerJoined func(peer wire.PeerInfo)

	// OnPeerLeft вызывается при уходе парного клиента: один раз на
	// каждую пару, дубликаты подавляются
	OnPeerLeft func()

	// OnTerminated вызывается при серверном завершении сессии
	OnTerminated func(reason string)

	// OnStateChange уведомление о переходах машины состояний
	OnStateChange func(from, to State)
}

// Client клиентская сессия контрольного канала.
//
// Все сетевые операции идут по одному WebSocket соединению: запись
// сериализуется мьютексом, чтение — единственным readLoop. Heartbeat
// отправляет независимый цикл; ни один цикл не блокирует другой.
type Client struct {
	config ClientConfig
	log    zerolog.Logger

	conn    *websocket.Conn
	machine *fsm.FSM

	sessionID    string
	mediaSSRC    uint32
	peer         *wire.PeerInfo
	peerLeftSeen bool
	mu           sync.RWMutex

	writeMu sync.Mutex

	leaveAckOnce sync.Once
	leaveAck     chan struct{}

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	done      chan struct{}
}

// NewClient создает клиентскую сессию в состоянии CONNECTING
func NewClient(config ClientConfig) (*Client, error) {
	if config.ServerURL == "" {
		return nil, fmt.Errorf("адрес сервера обязателен")
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = DefaultHandshakeTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())

	c := &Client{
		config:   config,
		log:      config.Logger,
		leaveAck: make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	c.machine = newSessionFSM(config.OnStateChange)

	return c, nil
}

// Dial устанавливает контрольное соединение и выполняет рукопожатие.
// При успехе сессия переходит в ACTIVE и начинает heartbeat.
func (c *Client) Dial(ctx context.Context) error {
	if c.State() != StateConnecting {
		return ErrClosed
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.config.ServerURL, nil)
	if err != nil {
		c.transitionClosed()
		return fmt.Errorf("ошибка подключения к %s: %w", c.config.ServerURL, err)
	}
	c.conn = conn

	if err := c.handshake(); err != nil {
		conn.Close()
		c.transitionClosed()
		return err
	}

	if err := c.machine.Event(context.Background(), eventActivate); err != nil {
		conn.Close()
		c.transitionClosed()
		return fmt.Errorf("ошибка перехода в ACTIVE: %w", err)
	}

	c.log.Info().Str("module", "session.client").
		Str("session_id", c.SessionID()).
		Msg("сессия установлена")

	c.wg.Add(1)
	go c.heartbeatLoop()
	c.wg.Add(1)
	go c.readLoop()

	go func() {
		c.wg.Wait()
		close(c.done)
	}()

	return nil
}

// handshake отправляет запрос регистрации и разбирает ответ сервера
func (c *Client) handshake() error {
	if err := c.writeMessage(wire.MsgHandshakeRequest,
		wire.HandshakeRequest{MediaPort: c.config.MediaPort}); err != nil {
		return fmt.Errorf("%w: %v", ErrControlChannelBroken, err)
	}

	c.conn.SetReadDeadline(time.Now().Add(c.config.HandshakeTimeout))
	defer c.conn.SetReadDeadline(time.Time{})

	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("%w: нет ответа на рукопожатие: %v", ErrControlChannelBroken, err)
	}

	env, err := wire.DecodeMessage(data)
	if err != nil {
		return fmt.Errorf("невалидный ответ на рукопожатие: %w", err)
	}

	switch env.Type {
	case wire.MsgHandshakeAck:
		var ack wire.HandshakeAck
		if err := env.DecodePayload(&ack); err != nil {
			return fmt.Errorf("невалидный handshake_ack: %w", err)
		}
		c.mu.Lock()
		c.sessionID = ack.SessionID
		c.mediaSSRC = ack.MediaSSRC
		c.peer = ack.Peer
		c.mu.Unlock()
		return nil

	case wire.MsgHandshakeRejected:
		var rej wire.HandshakeRejected
		if err := env.DecodePayload(&rej); err != nil {
			return fmt.Errorf("невалидный handshake_rejected: %w", err)
		}
		return &HandshakeRejectedError{Reason: rej.Reason}

	default:
		return fmt.Errorf("неожиданный ответ на рукопожатие: %s", env.Type)
	}
}

// heartbeatLoop периодически подтверждает живость сессии
func (c *Client) heartbeatLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if c.State() != StateActive {
				continue
			}
			err := c.writeMessage(wire.MsgHeartbeat, wire.Heartbeat{SessionID: c.SessionID()})
			if err != nil {
				c.handleBroken("heartbeat write", err)
				return
			}
		}
	}
}

// readLoop принимает и диспетчеризует сообщения сервера
func (c *Client) readLoop() {
	defer c.wg.Done()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() == nil {
				c.handleBroken("control read", err)
			}
			return
		}

		env, err := wire.DecodeMessage(data)
		if err != nil {
			c.log.Warn().Str("module", "session.client").Err(err).
				Msg("невалидное контрольное сообщение проигнорировано")
			continue
		}

		c.dispatch(env)
	}
}

// dispatch обрабатывает одно контрольное сообщение сервера
func (c *Client) dispatch(env *wire.Envelope) {
	switch env.Type {
	case wire.MsgHeartbeatAck:
		// Подтверждение живости, действий не требует

	case wire.MsgDisconnectAck:
		c.leaveAckOnce.Do(func() { close(c.leaveAck) })

	case wire.MsgPeerJoined:
		var pj wire.PeerJoined
		if err := env.DecodePayload(&pj); err != nil {
			return
		}
		c.mu.Lock()
		c.peer = &pj.Peer
		c.peerLeftSeen = false
		c.mu.Unlock()
		if c.config.OnPeerJoined != nil {
			c.config.OnPeerJoined(pj.Peer)
		}

	case wire.MsgPeerLeft:
		// Уход пира — одно уведомление на каждую пару, дубликаты
		// подавляются до следующего peer_joined
		c.mu.Lock()
		c.peer = nil
		duplicate := c.peerLeftSeen
		c.peerLeftSeen = true
		c.mu.Unlock()
		if !duplicate && c.config.OnPeerLeft != nil {
			c.config.OnPeerLeft()
		}

	case wire.MsgSessionTerminated:
		var st wire.SessionTerminated
		if err := env.DecodePayload(&st); err != nil {
			return
		}
		c.log.Info().Str("module", "session.client").
			Str("reason", st.Reason).
			Msg("сессия завершена сервером")
		if c.config.OnTerminated != nil {
			c.config.OnTerminated(st.Reason)
		}
		c.Close()

	default:
		c.log.Debug().Str("module", "session.client").
			Str("type", string(env.Type)).
			Msg("неизвестный тип сообщения проигнорирован")
	}
}

// handleBroken обрабатывает разрыв контрольного канала:
// немедленный локальный teardown без повторных попыток
func (c *Client) handleBroken(operation string, err error) {
	c.log.Warn().Str("module", "session.client").
		Str("operation", operation).Err(err).
		Msg("контрольный канал разорван, локальный teardown")
	c.Close()
}

// Leave выполняет явный выход: DISCONNECTING, запрос серверу,
// ожидание подтверждения, затем CLOSED
func (c *Client) Leave(ctx context.Context) error {
	if err := c.machine.Event(context.Background(), eventLeave); err != nil {
		return ErrNotActive
	}

	if err := c.writeMessage(wire.MsgDisconnect, wire.Disconnect{SessionID: c.SessionID()}); err != nil {
		c.Close()
		return fmt.Errorf("%w: %v", ErrControlChannelBroken, err)
	}

	select {
	case <-c.leaveAck:
	case <-ctx.Done():
	case <-c.ctx.Done():
	}

	c.Close()
	return nil
}

// Close немедленно переводит сессию в CLOSED и освобождает ресурсы.
// Повторный вызов безопасен. Не блокируется на ожидании циклов
// (может вызываться из readLoop); для ожидания используйте Done.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.transitionClosed()
		c.cancel()
		if c.conn != nil {
			c.conn.Close()
		}
		c.log.Info().Str("module", "session.client").
			Str("session_id", c.SessionID()).
			Msg("сессия закрыта")
	})
}

// transitionClosed переводит машину состояний в CLOSED, если она еще не там
func (c *Client) transitionClosed() {
	if c.machine.Current() != StateClosed.String() {
		_ = c.machine.Event(context.Background(), eventClose)
	}
}

// Done закрывается после завершения всех циклов сессии
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// State возвращает текущее состояние сессии
func (c *Client) State() State {
	return stateFromString(c.machine.Current())
}

// SessionID возвращает назначенный сервером идентификатор сессии
func (c *Client) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// MediaSSRC возвращает SSRC для исходящих медиа пакетов
func (c *Client) MediaSSRC() uint32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mediaSSRC
}

// Peer возвращает медиа адрес парного клиента (nil — пара не подобрана)
func (c *Client) Peer() *wire.PeerInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.peer
}

// writeMessage сериализует и отправляет одно контрольное сообщение
func (c *Client) writeMessage(msgType wire.MessageType, payload interface{}) error {
	data, err := wire.EncodeMessage(msgType, payload)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(defaultWriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}
