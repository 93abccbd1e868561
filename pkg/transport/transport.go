// Package transport реализует датаграммный транспорт медиа пакетов.
//
// Медиа канал ненадежен и работает в реальном времени: датаграммы
// отправляются без повторной передачи (опоздавшие данные бесполезны),
// а исходящая очередь ограничена с политикой вытеснения самого старого
// пакета — актуальный кадр всегда важнее залежавшегося.
//
// Основные возможности:
//   - UDP транспорт, оптимизированный для голоса (низкая латентность)
//   - Ограниченная исходящая очередь с явной политикой drop-oldest
//   - Валидация входящих и исходящих пакетов
//   - Классификация сетевых ошибок для принятия решений выше по стеку
//   - Thread-safe операции
package transport

import (
	"context"
	"net"
	"time"

	"github.com/pion/rtp"
)

// Transport определяет интерфейс для транспортировки медиа пакетов.
// Используется медиа сессиями для отправки и получения пакетов.
type Transport interface {
	// Send ставит медиа пакет в исходящую очередь.
	// Не блокируется: при переполненной очереди вытесняется самый старый пакет.
	Send(packet *rtp.Packet) error

	// Receive получает медиа пакет с указанием источника
	Receive(ctx context.Context) (*rtp.Packet, net.Addr, error)

	// LocalAddr возвращает локальный адрес транспорта
	LocalAddr() net.Addr

	// RemoteAddr возвращает удаленный адрес транспорта (если применимо)
	RemoteAddr() net.Addr

	// SetRemoteAddr переключает адрес назначения (прямая доставка <-> релей)
	SetRemoteAddr(addr string) error

	// Stats возвращает статистику транспорта
	Stats() Statistics

	// Close закрывает транспорт. Безопасен при повторном вызове.
	Close() error

	// IsActive проверяет активность транспорта
	IsActive() bool
}

// Config конфигурация транспорта
type Config struct {
	LocalAddr  string // Локальный адрес для привязки
	RemoteAddr string // Удаленный адрес для отправки (опционально, релей или пир)
	BufferSize int    // Размер буфера для чтения
	QueueSize  int    // Емкость исходящей очереди в пакетах
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		BufferSize: DefaultBufferSize,
		QueueSize:  DefaultQueueSize,
	}
}

// Statistics статистика работы транспорта.
// SendDropped считает пакеты, вытесненные из исходящей очереди —
// первоклассный показатель перегрузки отправляющей стороны.
type Statistics struct {
	PacketsSent     uint64
	PacketsReceived uint64
	BytesSent       uint64
	BytesReceived   uint64
	SendDropped     uint64
	SendErrors      uint64
	ReceiveInvalid  uint64
}

// Общие константы транспортного слоя
const (
	// DefaultBufferSize размер буфера чтения (достаточен для максимальной датаграммы)
	DefaultBufferSize = 2200

	// DefaultQueueSize емкость исходящей очереди.
	// 8 пакетов = 160ms аудио: больше держать бессмысленно, кадры устаревают.
	DefaultQueueSize = 8

	// DefaultReceiveTimeout таймаут одной итерации чтения.
	// 100ms — баланс между отзывчивостью на отмену и нагрузкой на CPU.
	DefaultReceiveTimeout = 100 * time.Millisecond

	// VoiceSocketBuffer размер системных буферов сокета.
	// 64KB достаточно для буферизации нескольких секунд аудио.
	VoiceSocketBuffer = 65535
)
