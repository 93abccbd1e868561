//go:build linux

package transport

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// applyVoiceSockOpts применяет Linux-специфичные оптимизации для голоса.
// Ошибки игнорируются: в контейнерах часть опций может быть запрещена.
func applyVoiceSockOpts(fd int) {
	// Высокий приоритет сокета для интерактивного аудио
	syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, unix.SO_PRIORITY, 6)

	// DSCP EF (Expedited Forwarding) для QoS классификации согласно RFC 4594.
	// DSCP находится в старших 6 битах TOS поля.
	tos := 46 << 2
	syscall.SetsockoptInt(fd, syscall.IPPROTO_IP, syscall.IP_TOS, tos)
	syscall.SetsockoptInt(fd, syscall.IPPROTO_IPV6, unix.IPV6_TCLASS, tos)

	// SO_REUSEADDR для быстрого перезапуска на том же порту
	syscall.SetsockoptInt(fd, syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
}
