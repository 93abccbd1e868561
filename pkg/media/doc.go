// Package media реализует медиа слой движка голосовой связи.
//
// Пакет превращает ненадежный поток датаграмм в ровную последовательность
// аудио кадров и обратно: захваченные кадры — в нумерованные пакеты.
//
// # Основные компоненты
//
//   - JitterBuffer — адаптивная буферизация входящих пакетов: восстановление
//     порядка по sequence number, отбрасывание опоздавших, gap-fill на месте
//     потерянных кадров, динамическая подстройка глубины под наблюдаемый джиттер
//   - Session — дуплексная медиа сессия: цикл отправки (захват -> пакетизация ->
//     транспорт), цикл приема (транспорт -> jitter buffer) и цикл воспроизведения
//     (фиксированный кадэнс, никогда не задерживается отсутствием данных)
//   - AudioSource / AudioSink — интерфейсы внешних коллабораторов аудио I/O
//
// # Модель времени
//
// Воспроизведение тикает по настенным часам с периодом кадра (20ms) независимо
// от состояния буфера: слышимый пропуск всегда предпочтительнее остановки
// потока. Timestamp пакетов измеряется в сэмплах монотонных часов отправителя.
//
// Все компоненты thread-safe; остановка идемпотентна.
package media
