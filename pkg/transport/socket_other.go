//go:build !linux

package transport

// applyVoiceSockOpts на платформах без поддержки приоритизации — no-op.
// Размеры буферов устанавливаются переносимым путем в setSockOptForVoice.
func applyVoiceSockOpts(fd int) {}
