package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"

	"github.com/Leaseback/commsProject/pkg/wire"
)

// UDPTransport реализует Transport интерфейс для UDP.
// Отправка идет через ограниченную очередь и отдельный worker:
// вызывающая сторона (цикл захвата аудио) никогда не блокируется
// на сокете. При переполнении очереди вытесняется самый старый пакет.
type UDPTransport struct {
	conn       *net.UDPConn
	remoteAddr *net.UDPAddr
	config     Config

	// Исходящая очередь с политикой drop-oldest
	sendQueue chan *rtp.Packet

	// Статистика (atomic)
	packetsSent     uint64
	packetsReceived uint64
	bytesSent       uint64
	bytesReceived   uint64
	sendDropped     uint64
	sendErrors      uint64
	receiveInvalid  uint64

	active bool
	mutex  sync.RWMutex

	// Управление жизненным циклом
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewUDPTransport создает новый UDP транспорт для медиа пакетов
func NewUDPTransport(config Config) (*UDPTransport, error) {
	if config.BufferSize == 0 {
		config.BufferSize = DefaultBufferSize
	}
	if config.QueueSize == 0 {
		config.QueueSize = DefaultQueueSize
	}

	localAddr, err := net.ResolveUDPAddr("udp", config.LocalAddr)
	if err != nil {
		return nil, fmt.Errorf("ошибка разрешения локального адреса: %w", err)
	}

	conn, err := net.ListenUDP("udp", localAddr)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания UDP соединения: %w", err)
	}

	// Настраиваем сокет для голосового трафика
	if err := setSockOptForVoice(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ошибка настройки сокета: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	transport := &UDPTransport{
		conn:      conn,
		config:    config,
		sendQueue: make(chan *rtp.Packet, config.QueueSize),
		active:    true,
		ctx:       ctx,
		cancel:    cancel,
	}

	if config.RemoteAddr != "" {
		remoteAddr, err := net.ResolveUDPAddr("udp", config.RemoteAddr)
		if err != nil {
			cancel()
			conn.Close()
			return nil, fmt.Errorf("ошибка разрешения удаленного адреса: %w", err)
		}
		transport.remoteAddr = remoteAddr
	}

	transport.wg.Add(1)
	go transport.sendWorker()

	return transport, nil
}

// Send ставит медиа пакет в исходящую очередь.
// Если очередь заполнена, самый старый пакет вытесняется и учитывается
// в SendDropped: очередь никогда не растет и вызов никогда не блокируется.
func (t *UDPTransport) Send(packet *rtp.Packet) error {
	t.mutex.RLock()
	active := t.active
	t.mutex.RUnlock()

	if !active {
		return fmt.Errorf("транспорт не активен")
	}

	if err := wire.ValidateMediaPacket(packet); err != nil {
		return fmt.Errorf("невалидный медиа пакет для отправки: %w", err)
	}

	for {
		select {
		case t.sendQueue <- packet:
			return nil
		default:
			// Очередь переполнена: вытесняем самый старый пакет
			select {
			case <-t.sendQueue:
				atomic.AddUint64(&t.sendDropped, 1)
			default:
			}
		}
	}
}

// sendWorker последовательно отправляет пакеты из очереди в сокет
func (t *UDPTransport) sendWorker() {
	defer t.wg.Done()

	for {
		select {
		case <-t.ctx.Done():
			return
		case packet := <-t.sendQueue:
			if err := t.writePacket(packet); err != nil {
				atomic.AddUint64(&t.sendErrors, 1)
			}
		}
	}
}

// writePacket сериализует и отправляет один пакет
func (t *UDPTransport) writePacket(packet *rtp.Packet) error {
	t.mutex.RLock()
	conn := t.conn
	remoteAddr := t.remoteAddr
	t.mutex.RUnlock()

	if remoteAddr == nil {
		return fmt.Errorf("удаленный адрес не установлен")
	}

	data, err := wire.MarshalMediaPacket(packet)
	if err != nil {
		return err
	}

	n, err := conn.WriteToUDP(data, remoteAddr)
	if err != nil {
		return classifyNetworkError("UDP write", err)
	}

	atomic.AddUint64(&t.packetsSent, 1)
	atomic.AddUint64(&t.bytesSent, uint64(n))
	return nil
}

// Receive получает медиа пакет по UDP.
// Читает с коротким deadline, чтобы отмена контекста не зависала
// на блокирующем чтении.
func (t *UDPTransport) Receive(ctx context.Context) (*rtp.Packet, net.Addr, error) {
	t.mutex.RLock()
	active := t.active
	conn := t.conn
	bufferSize := t.config.BufferSize
	t.mutex.RUnlock()

	if !active {
		return nil, nil, fmt.Errorf("транспорт не активен")
	}

	select {
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	default:
	}

	buffer := make([]byte, bufferSize)

	conn.SetReadDeadline(time.Now().Add(DefaultReceiveTimeout))

	n, addr, err := conn.ReadFromUDP(buffer)
	if err != nil {
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		default:
		}
		return nil, nil, classifyNetworkError("UDP read", err)
	}

	packet, err := wire.UnmarshalMediaPacket(buffer[:n])
	if err != nil {
		atomic.AddUint64(&t.receiveInvalid, 1)
		return nil, nil, fmt.Errorf("невалидная датаграмма от %s: %w", addr, err)
	}

	atomic.AddUint64(&t.packetsReceived, 1)
	atomic.AddUint64(&t.bytesReceived, uint64(n))

	// Если адрес назначения не задан, запоминаем первого отправителя:
	// позволяет отвечать пиру, известному только по входящему трафику
	t.mutex.Lock()
	if t.remoteAddr == nil {
		t.remoteAddr = addr
	}
	t.mutex.Unlock()

	return packet, addr, nil
}

// LocalAddr возвращает локальный адрес
func (t *UDPTransport) LocalAddr() net.Addr {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	if t.conn == nil {
		return nil
	}
	return t.conn.LocalAddr()
}

// RemoteAddr возвращает удаленный адрес
func (t *UDPTransport) RemoteAddr() net.Addr {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	if t.remoteAddr == nil {
		return nil
	}
	return t.remoteAddr
}

// SetRemoteAddr переключает адрес назначения.
// Используется при переходе между прямой доставкой и релеем.
func (t *UDPTransport) SetRemoteAddr(addr string) error {
	remoteAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("ошибка разрешения удаленного адреса: %w", err)
	}

	t.mutex.Lock()
	t.remoteAddr = remoteAddr
	t.mutex.Unlock()
	return nil
}

// Stats возвращает снимок статистики транспорта
func (t *UDPTransport) Stats() Statistics {
	return Statistics{
		PacketsSent:     atomic.LoadUint64(&t.packetsSent),
		PacketsReceived: atomic.LoadUint64(&t.packetsReceived),
		BytesSent:       atomic.LoadUint64(&t.bytesSent),
		BytesReceived:   atomic.LoadUint64(&t.bytesReceived),
		SendDropped:     atomic.LoadUint64(&t.sendDropped),
		SendErrors:      atomic.LoadUint64(&t.sendErrors),
		ReceiveInvalid:  atomic.LoadUint64(&t.receiveInvalid),
	}
}

// Close закрывает транспорт. Повторный вызов безопасен.
func (t *UDPTransport) Close() error {
	var closeErr error

	t.closeOnce.Do(func() {
		t.mutex.Lock()
		t.active = false
		conn := t.conn
		t.mutex.Unlock()

		t.cancel()

		if conn != nil {
			closeErr = conn.Close()
		}

		t.wg.Wait()
	})

	return closeErr
}

// IsActive проверяет активность транспорта
func (t *UDPTransport) IsActive() bool {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return t.active
}
