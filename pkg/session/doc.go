// Package session реализует клиентскую сторону контрольного канала:
// машину состояний жизненного цикла сессии и ее протокол.
//
// Жизненный цикл: CONNECTING -> ACTIVE -> DISCONNECTING -> CLOSED,
// с прямым переходом в CLOSED из любого состояния при ошибке или таймауте.
// Переходы управляются машиной состояний (looplab/fsm); невалидные
// переходы отвергаются.
//
//   - CONNECTING: рукопожатие по надежному каналу, получение session id
//   - ACTIVE: периодический heartbeat, прием уведомлений о пире
//   - DISCONNECTING: явный выход, ожидание подтверждения сервера
//   - CLOSED: терминальное состояние, ресурсы освобождены
//
// Разрыв контрольного канала (ошибка чтения или записи) означает
// немедленный локальный teardown без повторных попыток: переподключение
// с тем же session id не поддерживается, клиент проходит рукопожатие
// заново и получает новый идентификатор.
package session
