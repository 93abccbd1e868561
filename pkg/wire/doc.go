// Package wire определяет форматы сообщений двух каналов системы:
//
//   - Контрольный канал: надежный, упорядоченный (WebSocket поверх TCP).
//     Переносит JSON сообщения рукопожатия, heartbeat и уведомлений
//     жизненного цикла сессии. Формат: Envelope{type, payload}.
//
//   - Медиа канал: ненадежный датаграммный (UDP). Переносит аудио пакеты
//     фиксированного размера в формате RTP (RFC 3550) через pion/rtp:
//     SSRC = идентификатор медиа сессии, sequence number для восстановления
//     порядка на приемнике, timestamp в единицах сэмплов.
//
// Пакет не содержит сетевого кода — только кодирование, декодирование
// и валидацию. Используется клиентом, сервером и медиа транспортом.
package wire
