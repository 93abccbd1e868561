package transport

import (
	"fmt"
	"net"
	"strings"
)

// NetworkErrorType определяет типы сетевых ошибок для улучшенной обработки
type NetworkErrorType int

const (
	ErrorTypeTemporary  NetworkErrorType = iota // Временная ошибка (retry возможен)
	ErrorTypePermanent                          // Постоянная ошибка (retry бессмыслен)
	ErrorTypeTimeout                            // Таймаут (нормальное поведение цикла чтения)
	ErrorTypeConnection                         // Проблемы доставки до адресата
	ErrorTypeUnknown                            // Неклассифицированная ошибка
)

// ClassifiedError обертка для сетевых ошибок с дополнительной информацией.
// Тип ErrorTypeConnection на пути отправки сигнализирует о недостижимости
// пира и используется для переключения на релей.
type ClassifiedError struct {
	Type      NetworkErrorType
	Operation string
	Err       error
	Retryable bool
}

func (e *ClassifiedError) Error() string {
	return fmt.Sprintf("%s: %s (type: %s, retryable: %t)",
		e.Operation, e.Err.Error(), e.typeString(), e.Retryable)
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

func (e *ClassifiedError) typeString() string {
	switch e.Type {
	case ErrorTypeTemporary:
		return "temporary"
	case ErrorTypePermanent:
		return "permanent"
	case ErrorTypeTimeout:
		return "timeout"
	case ErrorTypeConnection:
		return "connection"
	default:
		return "unknown"
	}
}

// IsTimeoutError проверяет является ли ошибка таймаутом чтения.
// Таймаут — штатное событие цикла Receive, не повод для тревоги.
func IsTimeoutError(err error) bool {
	if classified, ok := err.(*ClassifiedError); ok {
		return classified.Type == ErrorTypeTimeout
	}
	if netErr, ok := err.(net.Error); ok {
		return netErr.Timeout()
	}
	return false
}

// IsUnreachableError проверяет указывает ли ошибка на недостижимость пира
func IsUnreachableError(err error) bool {
	if classified, ok := err.(*ClassifiedError); ok {
		return classified.Type == ErrorTypeConnection
	}
	return false
}

// classifyNetworkError анализирует сетевую ошибку и возвращает классифицированную версию
func classifyNetworkError(operation string, err error) error {
	if err == nil {
		return nil
	}

	classified := &ClassifiedError{
		Operation: operation,
		Err:       err,
		Type:      ErrorTypeUnknown,
		Retryable: false,
	}

	if netErr, ok := err.(net.Error); ok {
		if netErr.Timeout() {
			classified.Type = ErrorTypeTimeout
			classified.Retryable = true
			return classified
		}
	}

	switch {
	case isConnectionError(err):
		classified.Type = ErrorTypeConnection
		classified.Retryable = true

	case isPermanentError(err):
		classified.Type = ErrorTypePermanent
		classified.Retryable = false
	}

	return classified
}

// isConnectionError проверяет является ли ошибка связанной с доставкой
func isConnectionError(err error) bool {
	return containsAny(err.Error(), []string{
		"connection refused",
		"connection reset",
		"network is unreachable",
		"host is unreachable",
		"no route to host",
	})
}

// isPermanentError проверяет является ли ошибка постоянной
func isPermanentError(err error) bool {
	return containsAny(err.Error(), []string{
		"invalid argument",
		"address family not supported",
		"permission denied",
		"operation not supported",
		"use of closed network connection",
	})
}

func containsAny(s string, substrs []string) bool {
	for _, substr := range substrs {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}

// setSockOptForVoice настраивает UDP сокет для голосового трафика:
// увеличенные буферы и, где поддерживается, приоритет и DSCP маркировка
func setSockOptForVoice(conn *net.UDPConn) error {
	if conn == nil {
		return fmt.Errorf("соединение не может быть nil")
	}

	if err := conn.SetReadBuffer(VoiceSocketBuffer); err != nil {
		return fmt.Errorf("ошибка установки буфера чтения: %w", err)
	}
	if err := conn.SetWriteBuffer(VoiceSocketBuffer); err != nil {
		return fmt.Errorf("ошибка установки буфера записи: %w", err)
	}

	rawConn, err := conn.SyscallConn()
	if err != nil {
		return fmt.Errorf("не удалось получить системный сокет: %w", err)
	}

	// Платформенные настройки не критичны: в контейнерах и на чужих ОС
	// их отсутствие не мешает работе
	_ = rawConn.Control(func(fd uintptr) {
		applyVoiceSockOpts(int(fd))
	})

	return nil
}
