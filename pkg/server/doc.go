// Package server реализует серверную сторону: реестр сессий, контрольный
// WebSocket эндпоинт, heartbeat sweep и UDP релей медиа пакетов.
//
// # Реестр сессий
//
// Registry монопольно владеет всеми серверными записями сессий. Мутации
// сериализуются одним мьютексом (количество сессий мало), но все сетевые
// уведомления выполняются после освобождения блокировки: медленный клиент
// не задерживает sweep и обработку других соединений.
//
// Подбор пары - FIFO: самая ранняя непарная сессия соединяется со
// следующим пришедшим клиентом.
//
// # Sweep
//
// Периодическая задача на собственном таймере, независимая от клиентских
// соединений: закрывает сессии, чей heartbeat старше таймаута, уведомляя
// затронутых клиентов (session_terminated и peer_left).
//
// # Релей
//
// Медиа датаграммы пересылаются между парными сессиями байт-в-байт:
// sequence numbers и timestamps не модифицируются, jitter buffer
// приемника не замечает промежуточного хопа.
package server
