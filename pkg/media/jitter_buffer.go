package media

import (
	"sync"
	"time"

	"github.com/Leaseback/commsProject/pkg/wire"
)

// GapFillMode определяет чем заполняется пропущенный кадр при воспроизведении
type GapFillMode int

const (
	// GapFillSilence синтезирует тишину на месте потерянного кадра
	GapFillSilence GapFillMode = iota
	// GapFillRepeat повторяет последний воспроизведенный кадр
	GapFillRepeat
)

// JitterBufferConfig содержит параметры конфигурации для создания JitterBuffer.
// Глубина измеряется в кадрах: на сколько кадровых интервалов воспроизведение
// отстает от приема для компенсации джиттера.
type JitterBufferConfig struct {
	InitialDepth  int           // Начальная целевая глубина в кадрах
	MinDepth      int           // Нижняя граница адаптации
	MaxDepth      int           // Верхняя граница адаптации
	AdaptEvery    int           // Период пересчета джиттера в тиках
	FrameInterval time.Duration // Длительность одного кадра
	PayloadSize   int           // Размер payload в байтах
	GapFill       GapFillMode   // Режим заполнения пропусков
}

// DefaultJitterBufferConfig возвращает конфигурацию по умолчанию:
// глубина 3 кадра (60ms) в границах от 1 до 8 кадров
func DefaultJitterBufferConfig() JitterBufferConfig {
	return JitterBufferConfig{
		InitialDepth:  3,
		MinDepth:      1,
		MaxDepth:      8,
		AdaptEvery:    50,
		FrameInterval: wire.FrameInterval,
		PayloadSize:   wire.PayloadSize,
		GapFill:       GapFillSilence,
	}
}

// Внутренние константы jitter buffer
const (
	// resyncWindow максимальный скачок sequence number вперед, после
	// которого буфер считает что поток перезапустился и ресинхронизируется
	resyncWindow = 256

	// maxSlots жесткий предел хранимых пакетов (защита от переполнения)
	maxSlots = 64

	// jitterSampleMin минимум измерений для пересчета глубины
	jitterSampleMin = 8

	// jitterSampleMax размер окна измерений отклонений
	jitterSampleMax = 128
)

// JitterBuffer преобразует неупорядоченный поток пакетов с переменной
// задержкой в ровную последовательность кадров воспроизведения.
//
// Инварианты:
//   - кадр с sequence number позади курсора никогда не воспроизводится
//     (опоздавшие и дубликаты отбрасываются и учитываются)
//   - каждый тик выдает ровно один кадр и продвигает курсор ровно на один,
//     подставляя gap-fill на месте отсутствующих данных
//   - кадэнс воспроизведения не зависит от состояния буфера
type JitterBuffer struct {
	config JitterBufferConfig

	// Слоты принятых, но еще не воспроизведенных пакетов
	slots map[uint16][]byte

	// Курсор воспроизведения: следующий ожидаемый sequence number
	cursor uint16

	started   bool // Получен первый пакет
	buffering bool // Идет набор целевой глубины перед воспроизведением

	depth       int    // Текущая целевая глубина в кадрах
	lastPayload []byte // Последний воспроизведенный кадр (для GapFillRepeat)
	silence     []byte

	// Измерение джиттера: отклонение фактического времени прихода
	// от ожидаемого по sequence number
	baseArrival time.Time
	baseSeq     uint16
	deviations  []time.Duration
	ticks       int
	gapStreak   int

	// Статистика
	received   uint64
	played     uint64
	late       uint64
	duplicates uint64
	gapsFilled uint64
	overflow   uint64
	resets     uint64
	underruns  uint64

	mutex   sync.Mutex
	stopped bool

	// Переопределяемый источник времени для тестов
	now func() time.Time
}

// JitterBufferStatistics снимок статистики jitter buffer
type JitterBufferStatistics struct {
	Received     uint64 // Принято пакетов
	Played       uint64 // Воспроизведено кадров из данных
	Late         uint64 // Отброшено опоздавших (позади курсора)
	Duplicates   uint64 // Отброшено дубликатов
	GapsFilled   uint64 // Синтезировано gap-fill кадров
	Overflow     uint64 // Отброшено по переполнению
	Resets       uint64 // Ресинхронизаций потока
	Underruns    uint64 // Полных опустошений буфера
	CurrentDepth int    // Текущая целевая глубина в кадрах
	Buffered     int    // Пакетов в буфере сейчас
}

// NewJitterBuffer создает новый адаптивный jitter buffer
func NewJitterBuffer(config JitterBufferConfig) *JitterBuffer {
	if config.InitialDepth <= 0 {
		config.InitialDepth = 3
	}
	if config.MinDepth <= 0 {
		config.MinDepth = 1
	}
	if config.MaxDepth < config.MinDepth {
		config.MaxDepth = config.MinDepth
	}
	if config.InitialDepth < config.MinDepth {
		config.InitialDepth = config.MinDepth
	}
	if config.InitialDepth > config.MaxDepth {
		config.InitialDepth = config.MaxDepth
	}
	if config.AdaptEvery <= 0 {
		config.AdaptEvery = 50
	}
	if config.FrameInterval <= 0 {
		config.FrameInterval = wire.FrameInterval
	}
	if config.PayloadSize <= 0 {
		config.PayloadSize = wire.PayloadSize
	}

	return &JitterBuffer{
		config:  config,
		slots:   make(map[uint16][]byte),
		depth:   config.InitialDepth,
		silence: make([]byte, config.PayloadSize),
		now:     time.Now,
	}
}

// Put добавляет принятый пакет в буфер.
// Опоздавшие пакеты (позади курсора) и дубликаты отбрасываются молча —
// это потеря, а не ошибка. Ошибка возвращается только для остановленного
// буфера и payload неверного размера.
func (jb *JitterBuffer) Put(seq uint16, payload []byte) error {
	jb.mutex.Lock()
	defer jb.mutex.Unlock()

	if jb.stopped {
		return ErrBufferStopped
	}

	if len(payload) != jb.config.PayloadSize {
		return &FrameSizeError{Got: len(payload), Want: jb.config.PayloadSize}
	}

	now := jb.now()
	jb.received++

	if !jb.started {
		jb.started = true
		jb.buffering = true
		jb.cursor = seq
		jb.baseSeq = seq
		jb.baseArrival = now
		jb.slots[seq] = payload
		return nil
	}

	// Позади курсора: кадр уже должен был прозвучать, воспроизводить поздно.
	// Исключение — фаза набора глубины: воспроизведение еще не началось,
	// курсор безопасно откатывается на более ранний пакет.
	if seq != jb.cursor && !isSeqNewer(seq, jb.cursor) {
		if jb.buffering && seqDiff(jb.cursor, seq) < resyncWindow {
			jb.cursor = seq
		} else {
			jb.late++
			return nil
		}
	}

	if _, exists := jb.slots[seq]; exists {
		jb.duplicates++
		return nil
	}

	// Слишком большой скачок вперед — поток перезапустился
	if seqDiff(seq, jb.cursor) >= resyncWindow {
		jb.resetLocked(seq, now)
		jb.slots[seq] = payload
		return nil
	}

	if len(jb.slots) >= maxSlots {
		jb.overflow++
		return nil
	}

	jb.slots[seq] = payload
	jb.recordDeviation(seq, now)

	return nil
}

// resetLocked ресинхронизирует буфер на новый поток
func (jb *JitterBuffer) resetLocked(seq uint16, now time.Time) {
	jb.slots = make(map[uint16][]byte)
	jb.cursor = seq
	jb.baseSeq = seq
	jb.baseArrival = now
	jb.buffering = true
	jb.deviations = jb.deviations[:0]
	jb.gapStreak = 0
	jb.resets++
}

// recordDeviation накапливает отклонение времени прихода пакета от
// ожидаемого по его sequence number — сырье для адаптации глубины
func (jb *JitterBuffer) recordDeviation(seq uint16, now time.Time) {
	offset := signedSeqDiff(seq, jb.baseSeq)
	expected := jb.baseArrival.Add(time.Duration(offset) * jb.config.FrameInterval)

	dev := now.Sub(expected)
	if dev < 0 {
		dev = -dev
	}

	if len(jb.deviations) >= jitterSampleMax {
		jb.deviations = jb.deviations[1:]
	}
	jb.deviations = append(jb.deviations, dev)
}

// Tick выдает очередной кадр воспроизведения. Вызывается на каждом тике
// кадэнса. Возвращает кадр и признак того, что кадр воспроизведен из
// принятых данных (false — gap-fill или набор глубины).
//
// Каждый тик после набора глубины продвигает курсор ровно на один,
// независимо от наличия данных.
func (jb *JitterBuffer) Tick() ([]byte, bool) {
	jb.mutex.Lock()
	defer jb.mutex.Unlock()

	if jb.stopped {
		return jb.silence, false
	}

	jb.ticks++
	if jb.ticks%jb.config.AdaptEvery == 0 {
		jb.adaptDepth()
	}

	// До первого пакета воспроизводить нечего: тишина без продвижения курсора
	if !jb.started {
		return jb.silence, false
	}

	// Набор целевой глубины: ждем пока буфер заполнится до depth кадров
	if jb.buffering {
		if len(jb.slots) < jb.depth {
			return jb.silence, false
		}
		jb.buffering = false
		jb.alignCursorLocked()
	}

	payload, ok := jb.slots[jb.cursor]
	if ok {
		delete(jb.slots, jb.cursor)
		jb.cursor++
		jb.played++
		jb.gapStreak = 0
		jb.lastPayload = payload
		return payload, true
	}

	// Кадр отсутствует: синтезируем заполнитель и все равно продвигаем курсор
	jb.cursor++
	jb.gapsFilled++
	jb.gapStreak++

	// Буфер полностью иссяк — возвращаемся к набору глубины
	if len(jb.slots) == 0 && jb.gapStreak > jb.depth {
		jb.buffering = true
		jb.gapStreak = 0
		jb.underruns++
	}

	return jb.gapFillLocked(), false
}

// alignCursorLocked ставит курсор на самый ранний буферизованный пакет,
// если его текущая позиция пуста (после ресинхронизации или underrun)
func (jb *JitterBuffer) alignCursorLocked() {
	if _, ok := jb.slots[jb.cursor]; ok {
		return
	}

	best := jb.cursor
	bestDiff := uint16(0)
	found := false
	for seq := range jb.slots {
		d := seqDiff(seq, jb.cursor)
		if !found || d < bestDiff {
			best = seq
			bestDiff = d
			found = true
		}
	}
	if found {
		jb.cursor = best
	}
}

// gapFillLocked возвращает заполнитель пропущенного кадра
func (jb *JitterBuffer) gapFillLocked() []byte {
	if jb.config.GapFill == GapFillRepeat && jb.lastPayload != nil {
		return jb.lastPayload
	}
	return jb.silence
}

// adaptDepth пересчитывает целевую глубину по наблюдаемому джиттеру.
// Рост джиттера немедленно расширяет буфер (меньше слышимых пропусков),
// стабильно низкий джиттер сужает его по шагу (меньше задержки).
func (jb *JitterBuffer) adaptDepth() {
	if len(jb.deviations) < jitterSampleMin {
		return
	}

	var total time.Duration
	for _, dev := range jb.deviations {
		total += dev
	}
	jitter := total / time.Duration(len(jb.deviations))

	target := int(jitter/jb.config.FrameInterval) + 1
	if target < jb.config.MinDepth {
		target = jb.config.MinDepth
	}
	if target > jb.config.MaxDepth {
		target = jb.config.MaxDepth
	}

	switch {
	case target > jb.depth:
		jb.depth = target
	case target < jb.depth:
		jb.depth--
	}

	jb.deviations = jb.deviations[:0]
}

// Statistics возвращает снимок статистики буфера
func (jb *JitterBuffer) Statistics() JitterBufferStatistics {
	jb.mutex.Lock()
	defer jb.mutex.Unlock()

	return JitterBufferStatistics{
		Received:     jb.received,
		Played:       jb.played,
		Late:         jb.late,
		Duplicates:   jb.duplicates,
		GapsFilled:   jb.gapsFilled,
		Overflow:     jb.overflow,
		Resets:       jb.resets,
		Underruns:    jb.underruns,
		CurrentDepth: jb.depth,
		Buffered:     len(jb.slots),
	}
}

// Stop останавливает буфер и освобождает слоты. Повторный вызов безопасен.
func (jb *JitterBuffer) Stop() {
	jb.mutex.Lock()
	defer jb.mutex.Unlock()

	if jb.stopped {
		return
	}
	jb.stopped = true
	jb.slots = make(map[uint16][]byte)
	jb.deviations = nil
}

// isSeqNewer проверяет, является ли seq1 новее seq2 (с учетом wrap-around)
func isSeqNewer(seq1, seq2 uint16) bool {
	return ((seq1 > seq2) && (seq1-seq2 < 32768)) ||
		((seq1 < seq2) && (seq2-seq1 > 32768))
}

// seqDiff вычисляет разность между sequence numbers (с учетом wrap-around)
func seqDiff(newer, older uint16) uint16 {
	return newer - older
}

// signedSeqDiff знаковая разность sequence numbers (с учетом wrap-around)
func signedSeqDiff(a, b uint16) int {
	return int(int16(a - b))
}
