package media

import (
	"context"
	"time"
)

// AudioSource предоставляет захваченные аудио кадры фиксированного размера.
// Внешний коллаборатор: устройство захвата, генератор тона, файл.
type AudioSource interface {
	// ReadFrame возвращает очередной PCM кадр ровно PayloadSize байт.
	// Блокируется до готовности кадра или отмены контекста.
	ReadFrame(ctx context.Context) ([]byte, error)
}

// AudioSink потребляет декодированные аудио кадры на воспроизведение.
// Внешний коллаборатор: устройство вывода, файл, заглушка.
type AudioSink interface {
	// WriteFrame принимает PCM кадр на воспроизведение.
	// Не должен блокироваться дольше периода кадра.
	WriteFrame(frame []byte) error
}

// Clock монотонные часы отправителя для штамповки пакетов
type Clock interface {
	// Elapsed возвращает время с момента создания часов
	Elapsed() time.Duration
}

// systemClock монотонные часы на базе time.Since
type systemClock struct {
	start time.Time
}

// NewSystemClock создает монотонные часы с отсчетом от текущего момента
func NewSystemClock() Clock {
	return &systemClock{start: time.Now()}
}

func (c *systemClock) Elapsed() time.Duration {
	return time.Since(c.start)
}
