package server

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Leaseback/commsProject/pkg/wire"
)

// Ошибки реестра.
var (
	// ErrCapacity - достигнут предел одновременных сессий.
	ErrCapacity = errors.New("server: достигнут предел количества сессий")

	// ErrUnknownSession - идентификатор не зарегистрирован (сессия могла
	// быть вытеснена sweep или закрыта явно).
	ErrUnknownSession = errors.New("server: неизвестная сессия")
)

// Notifier доставляет контрольные уведомления клиенту сессии.
// Реализация не должна блокироваться дольше write deadline соединения;
// ошибки доставки не фатальны для реестра.
type Notifier interface {
	NotifyPeerJoined(peer wire.PeerInfo) error
	NotifyPeerLeft() error
	NotifyTerminated(reason string) error
}

// Session - серверная запись о подключенном клиенте.
// Все поля кроме PeerID, LastHeartbeat и closed неизменяемы после создания.
type Session struct {
	ID            string
	Host          string
	MediaAddr     *net.UDPAddr
	SSRC          uint32
	PeerID        string
	Created       time.Time
	LastHeartbeat time.Time

	notifier Notifier
	closed   bool
}

// PeerInfo собирает описание сессии для передачи партнеру при подборе пары.
func (s *Session) PeerInfo() wire.PeerInfo {
	return wire.PeerInfo{
		Host:      s.Host,
		MediaPort: s.MediaAddr.Port,
		SSRC:      s.SSRC,
	}
}

// RegistryConfig - параметры реестра.
type RegistryConfig struct {
	// Capacity - максимум одновременных сессий.
	Capacity int

	// HeartbeatTimeout - тишина, после которой sweep закрывает сессию.
	HeartbeatTimeout time.Duration

	Logger  zerolog.Logger
	Metrics *Metrics

	// Now - источник времени, подменяется в тестах.
	Now func() time.Time
}

// DefaultRegistryConfig возвращает параметры по умолчанию.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		Capacity:         DefaultCapacity,
		HeartbeatTimeout: DefaultHeartbeatTimeout,
		Logger:           zerolog.Nop(),
	}
}

// Registry - реестр активных сессий с FIFO подбором пар.
//
// Все публичные методы потокобезопасны. Уведомления клиентам выполняются
// после освобождения мьютекса, поэтому медленный Notifier не задерживает
// другие операции реестра.
type Registry struct {
	config RegistryConfig
	now    func() time.Time

	mutex    sync.Mutex
	sessions map[string]*Session
	byMedia  map[string]string // медиа адрес -> session ID
	waiting  []string          // FIFO очередь непарных сессий
}

// NewRegistry создает пустой реестр.
func NewRegistry(config RegistryConfig) *Registry {
	if config.Capacity <= 0 {
		config.Capacity = DefaultCapacity
	}
	if config.HeartbeatTimeout <= 0 {
		config.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}

	return &Registry{
		config:   config,
		now:      now,
		sessions: make(map[string]*Session),
		byMedia:  make(map[string]string),
	}
}

// Register создает сессию для клиента и пытается подобрать ей пару.
// Возвращает новую сессию и партнера (nil если пары пока нет).
//
// Повторное рукопожатие с тем же медиа адресом (хост и порт) вытесняет
// предыдущую сессию этого адреса: старая запись закрывается, как при
// явном отключении.
func (r *Registry) Register(host string, mediaPort int, notifier Notifier) (*Session, *Session, error) {
	if mediaPort <= 0 || mediaPort > 65535 {
		return nil, nil, fmt.Errorf("server: невалидный медиа порт %d", mediaPort)
	}
	mediaAddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, fmt.Sprintf("%d", mediaPort)))
	if err != nil {
		return nil, nil, fmt.Errorf("server: медиа адрес: %w", err)
	}

	var notify []func()
	r.mutex.Lock()

	// Вытеснение предыдущей сессии с тем же медиа адресом
	if oldID, ok := r.byMedia[mediaAddr.String()]; ok {
		notify = append(notify, r.closeLocked(r.sessions[oldID], wire.ReasonExplicit, true)...)
		r.config.Logger.Info().
			Str("module", "registry").
			Str("session_id", oldID).
			Str("media_addr", mediaAddr.String()).
			Msg("Сессия вытеснена повторным рукопожатием")
	}

	if len(r.sessions) >= r.config.Capacity {
		r.mutex.Unlock()
		runAll(notify)
		if r.config.Metrics != nil {
			r.config.Metrics.HandshakeRejected.WithLabelValues(wire.RejectCapacity).Inc()
		}
		return nil, nil, ErrCapacity
	}

	now := r.now()
	sess := &Session{
		ID:            uuid.NewString(),
		Host:          host,
		MediaAddr:     mediaAddr,
		SSRC:          generateSSRC(),
		Created:       now,
		LastHeartbeat: now,
		notifier:      notifier,
	}
	r.sessions[sess.ID] = sess
	r.byMedia[mediaAddr.String()] = sess.ID

	peer := r.dequeueWaitingLocked()
	if peer != nil {
		sess.PeerID = peer.ID
		peer.PeerID = sess.ID
		peerNotifier := peer.notifier
		info := sess.PeerInfo()
		notify = append(notify, func() {
			if err := peerNotifier.NotifyPeerJoined(info); err != nil {
				r.config.Logger.Warn().
					Str("module", "registry").
					Err(err).
					Msg("Не удалось уведомить партнера о подборе пары")
			}
		})
		if r.config.Metrics != nil {
			r.config.Metrics.PairsTotal.Inc()
		}
	} else {
		r.waiting = append(r.waiting, sess.ID)
	}

	if r.config.Metrics != nil {
		r.config.Metrics.SessionsTotal.Inc()
		r.config.Metrics.SessionsActive.Set(float64(len(r.sessions)))
	}
	r.mutex.Unlock()
	runAll(notify)

	event := r.config.Logger.Info().
		Str("module", "registry").
		Str("session_id", sess.ID).
		Str("host", host).
		Int("media_port", mediaPort)
	if peer != nil {
		event = event.Str("peer_id", peer.ID)
	}
	event.Msg("Сессия зарегистрирована")

	return sess, peer, nil
}

// Heartbeat обновляет отметку активности сессии.
// Для неизвестного ID возвращает ErrUnknownSession: вызывающий все равно
// отвечает подтверждением, heartbeat мертвой сессии - no-op.
func (r *Registry) Heartbeat(sessionID string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	sess, ok := r.sessions[sessionID]
	if !ok {
		return ErrUnknownSession
	}
	sess.LastHeartbeat = r.now()
	return nil
}

// Disconnect закрывает сессию по явному запросу клиента.
// Партнер (если был) получает ровно одно уведомление peer_left и
// возвращается в начало очереди ожидания. Повторный вызов - no-op
// с ErrUnknownSession.
func (r *Registry) Disconnect(sessionID string) error {
	r.mutex.Lock()
	sess, ok := r.sessions[sessionID]
	if !ok {
		r.mutex.Unlock()
		return ErrUnknownSession
	}
	notify := r.closeLocked(sess, wire.ReasonExplicit, false)
	r.mutex.Unlock()
	runAll(notify)

	r.config.Logger.Info().
		Str("module", "registry").
		Str("session_id", sessionID).
		Msg("Сессия закрыта по запросу клиента")
	return nil
}

// Sweep закрывает все сессии, чей heartbeat старше таймаута.
// Возвращает идентификаторы вытесненных сессий.
func (r *Registry) Sweep() []string {
	now := r.now()
	var evicted []string
	var notify []func()

	r.mutex.Lock()
	for _, sess := range r.sessions {
		if now.Sub(sess.LastHeartbeat) > r.config.HeartbeatTimeout {
			evicted = append(evicted, sess.ID)
		}
	}
	for _, id := range evicted {
		notify = append(notify, r.closeLocked(r.sessions[id], wire.ReasonTimeout, true)...)
	}
	r.mutex.Unlock()
	runAll(notify)

	for _, id := range evicted {
		if r.config.Metrics != nil {
			r.config.Metrics.EvictionsTotal.Inc()
		}
		r.config.Logger.Warn().
			Str("module", "registry").
			Str("session_id", id).
			Msg("Сессия вытеснена по таймауту heartbeat")
	}
	return evicted
}

// Shutdown закрывает все сессии с причиной server_shutdown.
func (r *Registry) Shutdown() {
	var notify []func()

	r.mutex.Lock()
	for _, sess := range r.sessions {
		notify = append(notify, r.closeLocked(sess, wire.ReasonServerShutdown, true)...)
	}
	r.mutex.Unlock()
	runAll(notify)
}

// RouteMedia возвращает медиа адрес партнера для датаграммы,
// пришедшей с адреса src. false - отправитель неизвестен или без пары.
func (r *Registry) RouteMedia(src *net.UDPAddr) (*net.UDPAddr, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	id, ok := r.byMedia[src.String()]
	if !ok {
		return nil, false
	}
	sess := r.sessions[id]
	if sess == nil || sess.PeerID == "" {
		return nil, false
	}
	peer := r.sessions[sess.PeerID]
	if peer == nil {
		return nil, false
	}
	return peer.MediaAddr, true
}

// Lookup возвращает снимок сессии по идентификатору.
func (r *Registry) Lookup(sessionID string) (Session, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	sess, ok := r.sessions[sessionID]
	if !ok {
		return Session{}, false
	}
	return *sess, true
}

// Len возвращает текущее количество сессий.
func (r *Registry) Len() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.sessions)
}

// closeLocked удаляет сессию из всех индексов и готовит уведомления.
// Вызывается под мьютексом; возвращенные функции исполняются после
// его освобождения. Повторный вызов для той же сессии - no-op.
func (r *Registry) closeLocked(sess *Session, reason string, notifySelf bool) []func() {
	if sess == nil || sess.closed {
		return nil
	}
	sess.closed = true

	delete(r.sessions, sess.ID)
	if r.byMedia[sess.MediaAddr.String()] == sess.ID {
		delete(r.byMedia, sess.MediaAddr.String())
	}
	r.removeWaitingLocked(sess.ID)

	var notify []func()

	// Партнер переживает разрыв: уведомляем и возвращаем в начало
	// очереди ожидания (он самый ранний из непарных)
	if sess.PeerID != "" {
		if peer, ok := r.sessions[sess.PeerID]; ok && !peer.closed {
			peer.PeerID = ""
			r.waiting = append([]string{peer.ID}, r.waiting...)
			peerNotifier := peer.notifier
			notify = append(notify, func() {
				if err := peerNotifier.NotifyPeerLeft(); err != nil {
					r.config.Logger.Warn().
						Str("module", "registry").
						Err(err).
						Msg("Не удалось уведомить партнера об уходе сессии")
				}
			})
		}
		sess.PeerID = ""
	}

	if notifySelf {
		notifier := sess.notifier
		notify = append(notify, func() {
			if err := notifier.NotifyTerminated(reason); err != nil {
				r.config.Logger.Debug().
					Str("module", "registry").
					Err(err).
					Msg("Не удалось доставить session_terminated")
			}
		})
	}

	if r.config.Metrics != nil {
		r.config.Metrics.SessionsActive.Set(float64(len(r.sessions)))
	}
	return notify
}

// dequeueWaitingLocked извлекает самую раннюю живую непарную сессию.
func (r *Registry) dequeueWaitingLocked() *Session {
	for len(r.waiting) > 0 {
		id := r.waiting[0]
		r.waiting = r.waiting[1:]
		if sess, ok := r.sessions[id]; ok && !sess.closed && sess.PeerID == "" {
			return sess
		}
	}
	return nil
}

func (r *Registry) removeWaitingLocked(sessionID string) {
	for i, id := range r.waiting {
		if id == sessionID {
			r.waiting = append(r.waiting[:i], r.waiting[i+1:]...)
			return
		}
	}
}

func runAll(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}

// generateSSRC возвращает криптографически случайный идентификатор
// медиа потока.
func generateSSRC() uint32 {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return uint32(time.Now().UnixNano())
	}
	return binary.BigEndian.Uint32(buf[:])
}
