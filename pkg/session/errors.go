package session

import (
	"errors"
	"fmt"
)

// Сентинельные ошибки клиентской сессии
var (
	// ErrControlChannelBroken разрыв надежного канала: немедленный
	// локальный teardown, повторные попытки не предпринимаются
	ErrControlChannelBroken = errors.New("контрольный канал разорван")

	// ErrNotActive операция допустима только в состоянии ACTIVE
	ErrNotActive = errors.New("сессия не активна")

	// ErrClosed сессия в терминальном состоянии
	ErrClosed = errors.New("сессия закрыта")
)

// HandshakeRejectedError отказ сервера в регистрации.
// Сессия не создана; клиент может повторить рукопожатие позже.
type HandshakeRejectedError struct {
	Reason string // wire.RejectCapacity или wire.RejectMalformed
}

func (e *HandshakeRejectedError) Error() string {
	return fmt.Sprintf("рукопожатие отвергнуто сервером: %s", e.Reason)
}
