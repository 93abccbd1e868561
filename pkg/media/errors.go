package media

import (
	"errors"
	"fmt"
)

// Сентинельные ошибки медиа слоя
var (
	// ErrBufferStopped операция над остановленным jitter buffer
	ErrBufferStopped = errors.New("jitter buffer остановлен")

	// ErrSessionClosed операция над закрытой медиа сессией
	ErrSessionClosed = errors.New("медиа сессия закрыта")

	// ErrSessionAlreadyStarted повторный запуск сессии
	ErrSessionAlreadyStarted = errors.New("медиа сессия уже запущена")
)

// FrameSizeError неверный размер аудио кадра или payload
type FrameSizeError struct {
	Got  int
	Want int
}

func (e *FrameSizeError) Error() string {
	return fmt.Sprintf("неверный размер кадра: %d байт (ожидается %d)", e.Got, e.Want)
}

// SSRCMismatchError пакет с чужим идентификатором медиа сессии.
// Такие пакеты отбрасываются и учитываются как потеря.
type SSRCMismatchError struct {
	Got  uint32
	Want uint32
}

func (e *SSRCMismatchError) Error() string {
	return fmt.Sprintf("чужой SSRC: %08x (ожидается %08x)", e.Got, e.Want)
}
