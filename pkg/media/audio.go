package media

import (
	"context"
	"encoding/binary"
	"math"
	"sync"
	"time"

	"github.com/Leaseback/commsProject/pkg/wire"
)

// ToneSource генерирует синусоидальный тон в формате L16 big-endian.
// Заменяет живой захват в демонстрационных звонках и тестах тракта:
// ReadFrame блокируется до наступления интервала кадра, как это делал
// бы микрофон, и возвращает кадр с непрерывной фазой.
type ToneSource struct {
	step      float64
	amplitude float64
	ticker    *time.Ticker

	mutex sync.Mutex
	phase float64
}

// NewToneSource создает источник тона частотой freq герц с амплитудой
// amplitude в диапазоне [0, 1].
func NewToneSource(freq, amplitude float64) *ToneSource {
	return &ToneSource{
		step:      2 * math.Pi * freq / float64(wire.SampleRate),
		amplitude: amplitude,
		ticker:    time.NewTicker(wire.FrameInterval),
	}
}

// ReadFrame возвращает следующий кадр тона по наступлении интервала кадра
func (t *ToneSource) ReadFrame(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-t.ticker.C:
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()

	frame := make([]byte, wire.PayloadSize)
	for i := 0; i < wire.FrameSamples; i++ {
		sample := int16(t.amplitude * math.MaxInt16 * math.Sin(t.phase))
		binary.BigEndian.PutUint16(frame[i*2:], uint16(sample))
		t.phase += t.step
		if t.phase > 2*math.Pi {
			t.phase -= 2 * math.Pi
		}
	}
	return frame, nil
}

// SilenceSource возвращает кадры тишины с кадэнсом кадра: заглушка для
// клиентов без захвата звука.
type SilenceSource struct {
	ticker *time.Ticker
}

// NewSilenceSource создает источник тишины
func NewSilenceSource() *SilenceSource {
	return &SilenceSource{ticker: time.NewTicker(wire.FrameInterval)}
}

// ReadFrame возвращает кадр тишины по наступлении интервала кадра
func (s *SilenceSource) ReadFrame(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.ticker.C:
	}
	return make([]byte, wire.PayloadSize), nil
}

// LevelSink измеряет уровень принимаемого звука: RMS последнего кадра
// и количество принятых кадров. Воспроизведением не занимается.
type LevelSink struct {
	mutex  sync.Mutex
	rms    float64
	frames uint64
}

// NewLevelSink создает измеритель уровня
func NewLevelSink() *LevelSink {
	return &LevelSink{}
}

// WriteFrame принимает кадр и обновляет измерения
func (l *LevelSink) WriteFrame(frame []byte) error {
	if len(frame) != wire.PayloadSize {
		return &FrameSizeError{Got: len(frame), Want: wire.PayloadSize}
	}

	var sum float64
	for i := 0; i < len(frame); i += 2 {
		sample := float64(int16(binary.BigEndian.Uint16(frame[i:])))
		sum += sample * sample
	}
	rms := math.Sqrt(sum/float64(wire.FrameSamples)) / math.MaxInt16

	l.mutex.Lock()
	l.rms = rms
	l.frames++
	l.mutex.Unlock()
	return nil
}

// Level возвращает RMS последнего кадра в диапазоне [0, 1]
func (l *LevelSink) Level() float64 {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.rms
}

// Frames возвращает количество принятых кадров
func (l *LevelSink) Frames() uint64 {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.frames
}
