package wire

import (
	"fmt"
	"time"

	"github.com/pion/rtp"
)

// Параметры аудио потока и медиа пакетов.
// Один кадр = 20ms моно PCM 16 бит при 44100 Hz.
const (
	// SampleRate частота дискретизации аудио потока
	SampleRate = 44100

	// FrameSamples количество сэмплов в одном аудио кадре (20ms)
	FrameSamples = 882

	// PayloadSize размер payload медиа пакета в байтах (16 бит на сэмпл, моно)
	PayloadSize = FrameSamples * 2

	// FrameInterval длительность одного кадра — кадэнс захвата и воспроизведения
	FrameInterval = 20 * time.Millisecond

	// MediaPayloadType L16 моно 44100 Hz согласно RFC 3551 (статический тип 11)
	MediaPayloadType = 11

	// ExpectedRTPVersion версия RTP согласно RFC 3550
	ExpectedRTPVersion = 2

	// MinMediaPacketSize минимальный размер датаграммы (RTP заголовок)
	MinMediaPacketSize = 12

	// MaxMediaPacketSize максимальный размер датаграммы (заголовок + payload
	// с запасом на расширения заголовка)
	MaxMediaPacketSize = 2200
)

// NewMediaPacket собирает медиа пакет для отправки.
// SSRC — идентификатор медиа сессии отправителя, seq — монотонный номер
// пакета (оборачивается по модулю 2^16), timestamp — позиция первого
// сэмпла кадра в единицах сэмплов монотонных часов отправителя.
func NewMediaPacket(ssrc uint32, seq uint16, timestamp uint32, payload []byte) *rtp.Packet {
	return &rtp.Packet{
		Header: rtp.Header{
			Version:        ExpectedRTPVersion,
			PayloadType:    MediaPayloadType,
			SequenceNumber: seq,
			Timestamp:      timestamp,
			SSRC:           ssrc,
		},
		Payload: payload,
	}
}

// MarshalMediaPacket сериализует медиа пакет в датаграмму
func MarshalMediaPacket(packet *rtp.Packet) ([]byte, error) {
	if err := ValidateMediaPacket(packet); err != nil {
		return nil, fmt.Errorf("невалидный исходящий медиа пакет: %w", err)
	}

	data, err := packet.Marshal()
	if err != nil {
		return nil, fmt.Errorf("ошибка маршалинга медиа пакета: %w", err)
	}

	return data, nil
}

// UnmarshalMediaPacket разбирает входящую датаграмму в медиа пакет.
// Датаграммы неверного размера или версии отбрасываются с ошибкой —
// приемник считает их потерей, никогда не воспроизводит.
func UnmarshalMediaPacket(data []byte) (*rtp.Packet, error) {
	if err := ValidatePacketSize(len(data)); err != nil {
		return nil, err
	}

	packet := &rtp.Packet{}
	if err := packet.Unmarshal(data); err != nil {
		return nil, fmt.Errorf("ошибка демаршалинга медиа пакета: %w", err)
	}

	if err := ValidateMediaPacket(packet); err != nil {
		return nil, fmt.Errorf("невалидный входящий медиа пакет: %w", err)
	}

	return packet, nil
}

// ValidateMediaPacket проверяет заголовок и размер payload медиа пакета
func ValidateMediaPacket(packet *rtp.Packet) error {
	if packet == nil {
		return fmt.Errorf("медиа пакет не может быть nil")
	}

	if packet.Version != ExpectedRTPVersion {
		return fmt.Errorf("неподдерживаемая версия RTP: %d (ожидается %d)",
			packet.Version, ExpectedRTPVersion)
	}

	if len(packet.Payload) != PayloadSize {
		return fmt.Errorf("неверный размер payload: %d байт (ожидается %d)",
			len(packet.Payload), PayloadSize)
	}

	return nil
}

// ValidatePacketSize проверяет размер сырой датаграммы до разбора
func ValidatePacketSize(size int) error {
	if size < MinMediaPacketSize {
		return fmt.Errorf("датаграмма слишком мала: %d байт (минимум %d)",
			size, MinMediaPacketSize)
	}
	if size > MaxMediaPacketSize {
		return fmt.Errorf("датаграмма слишком велика: %d байт (максимум %d)",
			size, MaxMediaPacketSize)
	}
	return nil
}

// SamplesElapsed переводит монотонное время в единицы timestamp медиа пакетов
func SamplesElapsed(elapsed time.Duration) uint32 {
	return uint32(elapsed * SampleRate / time.Second)
}
