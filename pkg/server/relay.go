package server

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/Leaseback/commsProject/pkg/wire"
)

// Relay пересылает медиа датаграммы между парными сессиями.
//
// Пакеты передаются байт-в-байт без модификации: заголовок и полезная
// нагрузка доходят до партнера в том виде, в каком их отправил источник.
// Датаграммы от неизвестных адресов и датаграммы невалидного размера
// молча отбрасываются со счетчиком.
type Relay struct {
	conn     *net.UDPConn
	registry *Registry
	metrics  *Metrics
	logger   zerolog.Logger

	forwarded uint64
	dropped   uint64
	bytes     uint64

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// RelayStatistics - счетчики работы релея.
type RelayStatistics struct {
	Forwarded uint64
	Dropped   uint64
	Bytes     uint64
}

// NewRelay открывает UDP сокет релея на addr.
func NewRelay(addr string, registry *Registry, metrics *Metrics, logger zerolog.Logger) (*Relay, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("server: адрес релея: %w", err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("server: сокет релея: %w", err)
	}

	return &Relay{
		conn:     conn,
		registry: registry,
		metrics:  metrics,
		logger:   logger,
	}, nil
}

// Start запускает цикл пересылки.
func (r *Relay) Start() {
	r.wg.Add(1)
	go r.forwardLoop()

	r.logger.Info().
		Str("module", "relay").
		Str("addr", r.conn.LocalAddr().String()).
		Msg("Медиа релей запущен")
}

// LocalAddr возвращает фактический адрес сокета релея.
func (r *Relay) LocalAddr() *net.UDPAddr {
	return r.conn.LocalAddr().(*net.UDPAddr)
}

// Statistics возвращает снимок счетчиков.
func (r *Relay) Statistics() RelayStatistics {
	return RelayStatistics{
		Forwarded: atomic.LoadUint64(&r.forwarded),
		Dropped:   atomic.LoadUint64(&r.dropped),
		Bytes:     atomic.LoadUint64(&r.bytes),
	}
}

// Close останавливает релей. Идемпотентен.
func (r *Relay) Close() error {
	r.closeOnce.Do(func() {
		r.conn.Close()
		r.wg.Wait()
	})
	return nil
}

func (r *Relay) forwardLoop() {
	defer r.wg.Done()

	buffer := make([]byte, wire.MaxMediaPacketSize)
	for {
		n, src, err := r.conn.ReadFromUDP(buffer)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			r.logger.Debug().
				Str("module", "relay").
				Err(err).
				Msg("Ошибка чтения датаграммы")
			continue
		}

		if err := wire.ValidatePacketSize(n); err != nil {
			atomic.AddUint64(&r.dropped, 1)
			if r.metrics != nil {
				r.metrics.RelayDropped.Inc()
			}
			continue
		}

		dst, ok := r.registry.RouteMedia(src)
		if !ok {
			atomic.AddUint64(&r.dropped, 1)
			if r.metrics != nil {
				r.metrics.RelayDropped.Inc()
			}
			continue
		}

		if _, err := r.conn.WriteToUDP(buffer[:n], dst); err != nil {
			atomic.AddUint64(&r.dropped, 1)
			if r.metrics != nil {
				r.metrics.RelayDropped.Inc()
			}
			continue
		}

		atomic.AddUint64(&r.forwarded, 1)
		atomic.AddUint64(&r.bytes, uint64(n))
		if r.metrics != nil {
			r.metrics.RelayPackets.Inc()
			r.metrics.RelayBytes.Add(float64(n))
		}
	}
}
