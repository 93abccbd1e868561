package media

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/Leaseback/commsProject/pkg/transport"
	"github.com/Leaseback/commsProject/pkg/wire"
)

// SessionConfig конфигурация дуплексной медиа сессии
type SessionConfig struct {
	// SSRC идентификатор медиа сессии для исходящих пакетов (выдается сервером)
	SSRC uint32

	// PeerSSRC ожидаемый идентификатор входящих пакетов.
	// Пакеты с чужим SSRC отбрасываются и учитываются как потеря.
	PeerSSRC uint32

	// Transport датаграммный транспорт медиа пакетов
	Transport transport.Transport

	// Source источник захваченных кадров (nil — сессия только принимает)
	Source AudioSource

	// Sink приемник кадров воспроизведения (nil — сессия только отправляет)
	Sink AudioSink

	// Clock монотонные часы для штамповки пакетов (nil — системные)
	Clock Clock

	// JitterBuffer конфигурация буфера приемной стороны
	JitterBuffer JitterBufferConfig

	// FrameInterval кадэнс захвата и воспроизведения
	FrameInterval time.Duration

	// InitialSequence начальный sequence number (0 — начать с нуля)
	InitialSequence uint16

	Logger zerolog.Logger
}

// SessionStatistics агрегированная статистика медиа сессии
type SessionStatistics struct {
	FramesSent   uint64
	FramesPlayed uint64
	SSRCRejected uint64
	Transport    transport.Statistics
	JitterBuffer JitterBufferStatistics
}

// Session дуплексная медиа сессия: три независимых цикла (отправка, прием,
// воспроизведение), общающихся только через транспорт и jitter buffer.
// Ни один цикл не блокирует другой.
type Session struct {
	config SessionConfig

	transport    transport.Transport
	jitterBuffer *JitterBuffer
	clock        Clock
	log          zerolog.Logger

	// Счетчик исходящих пакетов, оборачивается по модулю 2^16
	sequence uint32 // atomic, младшие 16 бит значимы

	framesSent   uint64 // atomic
	framesPlayed uint64 // atomic
	ssrcRejected uint64 // atomic

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	started  bool
	stopOnce sync.Once
	stopped  atomic.Bool
	mutex    sync.Mutex
}

// NewSession создает медиа сессию. Сессия не активна до вызова Start.
func NewSession(config SessionConfig) (*Session, error) {
	if config.Transport == nil {
		return nil, fmt.Errorf("transport обязателен")
	}
	if config.Source == nil && config.Sink == nil {
		return nil, fmt.Errorf("нужен хотя бы один из Source и Sink")
	}
	if config.FrameInterval <= 0 {
		config.FrameInterval = wire.FrameInterval
	}
	if config.Clock == nil {
		config.Clock = NewSystemClock()
	}
	if config.JitterBuffer.FrameInterval <= 0 {
		config.JitterBuffer = DefaultJitterBufferConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Session{
		config:       config,
		transport:    config.Transport,
		jitterBuffer: NewJitterBuffer(config.JitterBuffer),
		clock:        config.Clock,
		log:          config.Logger,
		sequence:     uint32(config.InitialSequence),
		ctx:          ctx,
		cancel:       cancel,
	}, nil
}

// Start запускает циклы сессии
func (s *Session) Start() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.stopped.Load() {
		return ErrSessionClosed
	}
	if s.started {
		return ErrSessionAlreadyStarted
	}
	s.started = true

	if s.config.Source != nil {
		s.wg.Add(1)
		go s.sendLoop()
	}
	if s.config.Sink != nil {
		s.wg.Add(1)
		go s.receiveLoop()
		s.wg.Add(1)
		go s.playbackLoop()
	}

	s.log.Info().Str("module", "media.session").
		Uint32("ssrc", s.config.SSRC).
		Uint32("peer_ssrc", s.config.PeerSSRC).
		Msg("медиа сессия запущена")

	return nil
}

// sendLoop захватывает кадры, пакетизирует и отправляет.
// Кадэнс задается источником (ReadFrame блокируется до готовности кадра).
func (s *Session) sendLoop() {
	defer s.wg.Done()

	for {
		frame, err := s.config.Source.ReadFrame(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.log.Warn().Str("module", "media.session").Err(err).
				Msg("ошибка чтения кадра из источника")
			return
		}

		if len(frame) != wire.PayloadSize {
			s.log.Warn().Str("module", "media.session").
				Int("size", len(frame)).
				Msg("кадр неверного размера пропущен")
			continue
		}

		seq := uint16(atomic.AddUint32(&s.sequence, 1) - 1)
		timestamp := wire.SamplesElapsed(s.clock.Elapsed())

		packet := wire.NewMediaPacket(s.config.SSRC, seq, timestamp, frame)
		if err := s.transport.Send(packet); err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.log.Debug().Str("module", "media.session").Err(err).
				Msg("ошибка отправки медиа пакета")
			continue
		}

		atomic.AddUint64(&s.framesSent, 1)
	}
}

// receiveLoop принимает датаграммы и скармливает их jitter buffer
func (s *Session) receiveLoop() {
	defer s.wg.Done()

	for {
		packet, _, err := s.transport.Receive(s.ctx)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			if transport.IsTimeoutError(err) {
				continue
			}
			// Невалидные датаграммы — потеря, цикл продолжается
			continue
		}

		if s.config.PeerSSRC != 0 && packet.SSRC != s.config.PeerSSRC {
			atomic.AddUint64(&s.ssrcRejected, 1)
			continue
		}

		if err := s.jitterBuffer.Put(packet.SequenceNumber, packet.Payload); err != nil {
			if err == ErrBufferStopped {
				return
			}
		}
	}
}

// playbackLoop тикает по настенным часам с периодом кадра и выдает
// кадры в sink. Кадэнс не зависит от состояния jitter buffer.
func (s *Session) playbackLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.FrameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			frame, played := s.jitterBuffer.Tick()
			if played {
				atomic.AddUint64(&s.framesPlayed, 1)
			}
			if err := s.config.Sink.WriteFrame(frame); err != nil {
				s.log.Warn().Str("module", "media.session").Err(err).
					Msg("ошибка записи кадра в приемник")
			}
		}
	}
}

// Statistics возвращает агрегированную статистику сессии
func (s *Session) Statistics() SessionStatistics {
	return SessionStatistics{
		FramesSent:   atomic.LoadUint64(&s.framesSent),
		FramesPlayed: atomic.LoadUint64(&s.framesPlayed),
		SSRCRejected: atomic.LoadUint64(&s.ssrcRejected),
		Transport:    s.transport.Stats(),
		JitterBuffer: s.jitterBuffer.Statistics(),
	}
}

// Stop останавливает все циклы и освобождает ресурсы.
// Повторный вызов безопасен.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.stopped.Store(true)
		s.cancel()
		s.transport.Close()
		s.wg.Wait()
		s.jitterBuffer.Stop()

		s.log.Info().Str("module", "media.session").
			Uint32("ssrc", s.config.SSRC).
			Msg("медиа сессия остановлена")
	})
}
