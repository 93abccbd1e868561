package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Leaseback/commsProject/pkg/wire"
)

// Параметры сервера по умолчанию.
const (
	// DefaultCapacity - максимум одновременных сессий.
	DefaultCapacity = 10

	// DefaultHeartbeatTimeout - тишина, после которой сессия вытесняется.
	DefaultHeartbeatTimeout = 120 * time.Second

	// DefaultSweepInterval - период проверки таймаутов.
	DefaultSweepInterval = 10 * time.Second

	// handshakeReadTimeout - сколько сервер ждет первое сообщение
	// после апгрейда соединения.
	handshakeReadTimeout = 10 * time.Second

	// controlWriteTimeout - deadline записи контрольных сообщений.
	controlWriteTimeout = 5 * time.Second
)

// Config - параметры сервера.
type Config struct {
	// ControlAddr - адрес HTTP листенера (WebSocket + метрики).
	ControlAddr string

	// MediaAddr - адрес UDP сокета релея.
	MediaAddr string

	Capacity         int
	HeartbeatTimeout time.Duration
	SweepInterval    time.Duration

	Logger zerolog.Logger

	// Now - источник времени реестра, подменяется в тестах.
	Now func() time.Time
}

// DefaultConfig возвращает конфигурацию по умолчанию.
func DefaultConfig() Config {
	return Config{
		ControlAddr:      ":8888",
		MediaAddr:        ":9999",
		Capacity:         DefaultCapacity,
		HeartbeatTimeout: DefaultHeartbeatTimeout,
		SweepInterval:    DefaultSweepInterval,
		Logger:           zerolog.Nop(),
	}
}

// Server объединяет контрольный эндпоинт, реестр сессий, sweep и релей.
type Server struct {
	config   Config
	logger   zerolog.Logger
	metrics  *Metrics
	registry *Registry
	relay    *Relay

	httpServer *http.Server
	listener   net.Listener
	upgrader   websocket.Upgrader

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New создает сервер. Сокеты открываются в Start.
func New(config Config) *Server {
	if config.Capacity <= 0 {
		config.Capacity = DefaultCapacity
	}
	if config.HeartbeatTimeout <= 0 {
		config.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = DefaultSweepInterval
	}

	metrics := NewMetrics()
	registry := NewRegistry(RegistryConfig{
		Capacity:         config.Capacity,
		HeartbeatTimeout: config.HeartbeatTimeout,
		Logger:           config.Logger,
		Metrics:          metrics,
		Now:              config.Now,
	})

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		config:   config,
		logger:   config.Logger,
		metrics:  metrics,
		registry: registry,
		ctx:      ctx,
		cancel:   cancel,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// Registry возвращает реестр сессий (для тестов и инспекции).
func (s *Server) Registry() *Registry {
	return s.registry
}

// Start открывает сокеты и запускает все циклы сервера.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.config.ControlAddr)
	if err != nil {
		return fmt.Errorf("server: контрольный листенер: %w", err)
	}
	s.listener = listener

	relay, err := NewRelay(s.config.MediaAddr, s.registry, s.metrics, s.logger)
	if err != nil {
		listener.Close()
		return err
	}
	s.relay = relay
	s.relay.Start()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleControl)
	mux.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))
	s.httpServer = &http.Server{Handler: mux}

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		if err := s.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error().
				Str("module", "server").
				Err(err).
				Msg("HTTP сервер завершился с ошибкой")
		}
	}()
	go s.sweepLoop()

	s.logger.Info().
		Str("module", "server").
		Str("control_addr", listener.Addr().String()).
		Str("media_addr", s.relay.LocalAddr().String()).
		Int("capacity", s.config.Capacity).
		Msg("Сервер запущен")
	return nil
}

// ControlAddr возвращает фактический адрес контрольного листенера.
func (s *Server) ControlAddr() net.Addr {
	return s.listener.Addr()
}

// MediaAddr возвращает фактический адрес релея.
func (s *Server) MediaAddr() *net.UDPAddr {
	return s.relay.LocalAddr()
}

// Shutdown останавливает сервер: все живые сессии получают
// session_terminated с причиной server_shutdown. Идемпотентен.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		s.cancel()
		s.registry.Shutdown()
		if s.relay != nil {
			s.relay.Close()
		}
		if s.httpServer != nil {
			err = s.httpServer.Shutdown(ctx)
		}
		s.wg.Wait()
		s.logger.Info().
			Str("module", "server").
			Msg("Сервер остановлен")
	})
	return err
}

func (s *Server) sweepLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.registry.Sweep()
		}
	}
}

// handleControl обслуживает одно контрольное соединение от апгрейда
// до разрыва. Первое сообщение обязано быть handshake_request; все
// последующие - heartbeat или disconnect.
func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug().
			Str("module", "server").
			Err(err).
			Msg("Апгрейд соединения не удался")
		return
	}
	defer conn.Close()

	notifier := newConnNotifier(conn)

	conn.SetReadDeadline(time.Now().Add(handshakeReadTimeout))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return
	}
	envelope, err := wire.DecodeMessage(raw)
	if err != nil || envelope.Type != wire.MsgHandshakeRequest {
		s.rejectHandshake(notifier, wire.RejectMalformed)
		return
	}
	var request wire.HandshakeRequest
	if err := envelope.DecodePayload(&request); err != nil {
		s.rejectHandshake(notifier, wire.RejectMalformed)
		return
	}

	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		host = conn.RemoteAddr().String()
	}

	sess, peer, err := s.registry.Register(host, request.MediaPort, notifier)
	if err != nil {
		reason := wire.RejectMalformed
		if err == ErrCapacity {
			reason = wire.RejectCapacity
		} else if s.metrics != nil {
			s.metrics.HandshakeRejected.WithLabelValues(wire.RejectMalformed).Inc()
		}
		s.rejectHandshake(notifier, reason)
		return
	}

	ack := wire.HandshakeAck{
		SessionID: sess.ID,
		MediaSSRC: sess.SSRC,
	}
	if peer != nil {
		info := peer.PeerInfo()
		ack.Peer = &info
	}
	if err := notifier.write(wire.MsgHandshakeAck, ack); err != nil {
		s.registry.Disconnect(sess.ID)
		return
	}

	s.readControlLoop(conn, notifier, sess.ID)
}

// readControlLoop читает сообщения сессии до разрыва соединения.
// Разрыв без предшествующего disconnect трактуется как неявное
// отключение: партнер уведомляется так же, как при явном.
func (s *Server) readControlLoop(conn *websocket.Conn, notifier *connNotifier, sessionID string) {
	// Read deadline с запасом относительно таймаута heartbeat:
	// вытеснением занимается sweep, deadline лишь защищает от
	// зависших соединений
	idleTimeout := 2 * s.config.HeartbeatTimeout

	for {
		conn.SetReadDeadline(time.Now().Add(idleTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			s.registry.Disconnect(sessionID)
			return
		}

		envelope, err := wire.DecodeMessage(raw)
		if err != nil {
			s.logger.Debug().
				Str("module", "server").
				Str("session_id", sessionID).
				Err(err).
				Msg("Невалидное контрольное сообщение проигнорировано")
			continue
		}

		switch envelope.Type {
		case wire.MsgHeartbeat:
			// Heartbeat неизвестной сессии все равно подтверждается:
			// клиент узнает о вытеснении из session_terminated
			s.registry.Heartbeat(sessionID)
			notifier.write(wire.MsgHeartbeatAck, wire.HeartbeatAck{})

		case wire.MsgDisconnect:
			s.registry.Disconnect(sessionID)
			notifier.write(wire.MsgDisconnectAck, wire.DisconnectAck{})
			return

		default:
			s.logger.Debug().
				Str("module", "server").
				Str("session_id", sessionID).
				Str("type", string(envelope.Type)).
				Msg("Неожиданный тип сообщения проигнорирован")
		}
	}
}

func (s *Server) rejectHandshake(notifier *connNotifier, reason string) {
	notifier.write(wire.MsgHandshakeRejected, wire.HandshakeRejected{Reason: reason})
}

// connNotifier сериализует записи в WebSocket соединение: горутина
// обработчика и уведомления реестра пишут конкурентно.
type connNotifier struct {
	conn  *websocket.Conn
	mutex sync.Mutex
}

func newConnNotifier(conn *websocket.Conn) *connNotifier {
	return &connNotifier{conn: conn}
}

func (n *connNotifier) write(msgType wire.MessageType, payload interface{}) error {
	data, err := wire.EncodeMessage(msgType, payload)
	if err != nil {
		return err
	}

	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.conn.SetWriteDeadline(time.Now().Add(controlWriteTimeout))
	return n.conn.WriteMessage(websocket.TextMessage, data)
}

func (n *connNotifier) NotifyPeerJoined(peer wire.PeerInfo) error {
	return n.write(wire.MsgPeerJoined, wire.PeerJoined{Peer: peer})
}

func (n *connNotifier) NotifyPeerLeft() error {
	return n.write(wire.MsgPeerLeft, wire.PeerLeft{})
}

func (n *connNotifier) NotifyTerminated(reason string) error {
	return n.write(wire.MsgSessionTerminated, wire.SessionTerminated{Reason: reason})
}
