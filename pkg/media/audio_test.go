package media

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Leaseback/commsProject/pkg/wire"
)

func TestToneSourceFrameFormat(t *testing.T) {
	source := NewToneSource(440, 0.5)

	frame, err := source.ReadFrame(context.Background())
	require.NoError(t, err)
	require.Len(t, frame, wire.PayloadSize)

	// Синус 440 Гц не может быть тишиной
	var nonZero int
	for i := 0; i < len(frame); i += 2 {
		if int16(binary.BigEndian.Uint16(frame[i:])) != 0 {
			nonZero++
		}
	}
	assert.Greater(t, nonZero, wire.FrameSamples/2)
}

func TestToneSourcePhaseContinuity(t *testing.T) {
	source := NewToneSource(440, 0.5)

	first, err := source.ReadFrame(context.Background())
	require.NoError(t, err)
	second, err := source.ReadFrame(context.Background())
	require.NoError(t, err)

	// Фаза непрерывна: стык кадров без скачка больше шага синусоиды
	lastOfFirst := int16(binary.BigEndian.Uint16(first[len(first)-2:]))
	firstOfSecond := int16(binary.BigEndian.Uint16(second[:2]))
	maxStep := int16(float64(math16(source.amplitude)) * 0.1)
	assert.LessOrEqual(t, absInt16(firstOfSecond-lastOfFirst), maxStep)
}

func math16(amplitude float64) int16 {
	return int16(amplitude * 32767)
}

func absInt16(v int16) int16 {
	if v < 0 {
		return -v
	}
	return v
}

func TestToneSourceCanceledContext(t *testing.T) {
	source := NewToneSource(440, 0.5)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := source.ReadFrame(ctx)
	assert.Error(t, err)
}

func TestSilenceSource(t *testing.T) {
	source := NewSilenceSource()

	frame, err := source.ReadFrame(context.Background())
	require.NoError(t, err)
	require.Len(t, frame, wire.PayloadSize)
	for _, b := range frame {
		require.Zero(t, b)
	}
}

func TestLevelSink(t *testing.T) {
	sink := NewLevelSink()

	// Тишина дает нулевой уровень
	require.NoError(t, sink.WriteFrame(make([]byte, wire.PayloadSize)))
	assert.Zero(t, sink.Level())
	assert.Equal(t, uint64(1), sink.Frames())

	// Тон дает уровень около amplitude/sqrt(2)
	tone, err := NewToneSource(440, 0.5).ReadFrame(context.Background())
	require.NoError(t, err)
	require.NoError(t, sink.WriteFrame(tone))
	assert.InDelta(t, 0.35, sink.Level(), 0.05)
	assert.Equal(t, uint64(2), sink.Frames())
}

func TestLevelSinkRejectsWrongSize(t *testing.T) {
	sink := NewLevelSink()

	err := sink.WriteFrame(make([]byte, 100))
	var sizeErr *FrameSizeError
	require.ErrorAs(t, err, &sizeErr)
	assert.Equal(t, 100, sizeErr.Got)
}
